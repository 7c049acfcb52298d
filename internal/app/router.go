package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/stockengine/internal/adjustments"
	"github.com/odyssey-erp/stockengine/internal/allocation"
	"github.com/odyssey-erp/stockengine/internal/checkout"
	"github.com/odyssey-erp/stockengine/internal/costing"
	"github.com/odyssey-erp/stockengine/internal/inventory"
	"github.com/odyssey-erp/stockengine/internal/observability"
	"github.com/odyssey-erp/stockengine/internal/platform/httpx"
	"github.com/odyssey-erp/stockengine/internal/procurement"
	"github.com/odyssey-erp/stockengine/internal/reconcile"
	"github.com/odyssey-erp/stockengine/jobs"
)

// HealthCheck reports whether a backing service is reachable.
type HealthCheck func(r *http.Request) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	InventoryHandler   *inventory.Handler
	CheckoutHandler    *checkout.Handler
	AllocationHandler  *allocation.Handler
	CostingHandler     *costing.Handler
	AdjustmentsHandler *adjustments.Handler
	ReconcileHandler   *reconcile.Handler
	ProcurementHandler *procurement.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
	Health             map[string]HealthCheck
}

// NewRouter constructs the chi.Router with stockengine defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "ok"}
		code := http.StatusOK
		for name, check := range params.Health {
			if err := check(r); err != nil {
				status[name] = err.Error()
				status["status"] = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			status[name] = "ok"
		}
		httpx.JSON(w, code, status)
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if params.InventoryHandler != nil {
			r.Route("/inventory", params.InventoryHandler.MountRoutes)
		}
		if params.CheckoutHandler != nil {
			r.Route("/checkout", params.CheckoutHandler.MountRoutes)
		}
		if params.AllocationHandler != nil {
			r.Route("/allocation", params.AllocationHandler.MountRoutes)
		}
		if params.CostingHandler != nil {
			r.Route("/costing", params.CostingHandler.MountRoutes)
		}
		if params.AdjustmentsHandler != nil {
			r.Route("/adjustments", params.AdjustmentsHandler.MountRoutes)
		}
		if params.ReconcileHandler != nil {
			r.Route("/reconcile", params.ReconcileHandler.MountRoutes)
		}
		if params.ProcurementHandler != nil {
			r.Route("/purchase-orders", params.ProcurementHandler.MountRoutes)
		}
	})
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
