package app

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/stockengine/internal/adjustments"
	"github.com/odyssey-erp/stockengine/internal/allocation"
	"github.com/odyssey-erp/stockengine/internal/checkout"
	"github.com/odyssey-erp/stockengine/internal/costing"
	"github.com/odyssey-erp/stockengine/internal/inventory"
	"github.com/odyssey-erp/stockengine/internal/observability"
	"github.com/odyssey-erp/stockengine/internal/procurement"
	"github.com/odyssey-erp/stockengine/internal/reconcile"
)

// ServiceDeps are the infrastructure pieces the engine services share.
type ServiceDeps struct {
	Store    inventory.Store
	Claims   procurement.KeyClaimer
	Notifier allocation.Notifier
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// Services is the wired engine, shared by the HTTP server and the worker.
type Services struct {
	Store       inventory.Store
	Inventory   *inventory.Service
	Checkout    *checkout.Service
	Engine      *allocation.Engine
	Preorders   *allocation.PreorderAllocator
	Costing     *costing.Service
	Adjustments *adjustments.Service
	Reconcile   *reconcile.Service
	Procurement *procurement.Service
}

// NewServices builds every engine service on top of one store.
func NewServices(cfg *Config, deps ServiceDeps) *Services {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = allocation.NopNotifier{}
	}
	engineMetrics := deps.Metrics.Engine()

	costingCfg := costing.DefaultConfig()
	shipping := checkout.ShippingConfig{}
	if cfg != nil {
		costingCfg = cfg.Costing()
		shipping = cfg.Shipping()
	}

	return &Services{
		Store:     deps.Store,
		Inventory: inventory.NewService(deps.Store),
		Checkout: checkout.NewService(deps.Store, checkout.NewRegistry(shipping),
			logger.With(slog.String("component", "checkout")),
			checkout.WithMetrics(engineMetrics)),
		Engine: allocation.NewEngine(deps.Store, logger.With(slog.String("component", "allocation")),
			allocation.WithNotifier(notifier), allocation.WithMetrics(engineMetrics)),
		Preorders: allocation.NewPreorderAllocator(deps.Store, logger.With(slog.String("component", "preorder")),
			allocation.WithNotifier(notifier), allocation.WithMetrics(engineMetrics)),
		Costing: costing.NewService(deps.Store, logger.With(slog.String("component", "costing")), costingCfg,
			costing.WithMetrics(engineMetrics)),
		Adjustments: adjustments.NewService(deps.Store, logger.With(slog.String("component", "adjustments"))),
		Reconcile:   reconcile.NewService(deps.Store, logger.With(slog.String("component", "reconcile")), engineMetrics),
		Procurement: procurement.NewService(deps.Store, deps.Claims, logger.With(slog.String("component", "procurement"))),
	}
}

// RouterParams returns router parameters with every engine handler mounted.
// onReceive may be nil.
func (s *Services) RouterParams(cfg *Config, logger *slog.Logger, metrics *observability.Metrics, onReceive func(r *http.Request, productIDs []int64)) RouterParams {
	return RouterParams{
		Logger:             logger,
		Config:             cfg,
		InventoryHandler:   inventory.NewHandler(logger, s.Inventory),
		CheckoutHandler:    checkout.NewHandler(logger, s.Checkout),
		AllocationHandler:  allocation.NewHandler(logger, s.Engine, s.Preorders),
		CostingHandler:     costing.NewHandler(logger, s.Costing),
		AdjustmentsHandler: adjustments.NewHandler(logger, s.Adjustments),
		ReconcileHandler:   reconcile.NewHandler(logger, s.Reconcile),
		ProcurementHandler: procurement.NewHandler(logger, s.Procurement, onReceive),
		Metrics:            metrics,
	}
}
