package jobs

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInspector map[string]*asynq.QueueInfo

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if info, ok := f[queue]; ok {
		return info, nil
	}
	return nil, asynq.ErrQueueNotFound
}

type brokenInspector struct{}

func (brokenInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func serveHealth(t *testing.T, inspector QueueInspector) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(inspector, nil).MountRoutes)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	return rr
}

func TestInspectQueuesTreatsMissingQueueAsEmpty(t *testing.T) {
	stats, err := InspectQueues(fakeInspector{
		QueueDefault: {Queue: QueueDefault, Size: 4, Pending: 3, Retry: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, []QueueStats{
		{Queue: QueueDefault, Size: 4, Pending: 3, Retry: 1},
		{Queue: QueueNotify},
	}, stats)
}

func TestHealthReportsQueues(t *testing.T) {
	rr := serveHealth(t, fakeInspector{QueueNotify: {Queue: QueueNotify, Active: 2}})
	require.Equal(t, http.StatusOK, rr.Code)

	var stats []QueueStats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	require.Len(t, stats, 2)
	assert.Equal(t, 2, stats[1].Active)
}

func TestHealthWithoutInspector(t *testing.T) {
	rr := serveHealth(t, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[{"queue":"default","size":0,"pending":0,"active":0,"scheduled":0,"retry":0,"archived":0},
		{"queue":"notify","size":0,"pending":0,"active":0,"scheduled":0,"retry":0,"archived":0}]`, rr.Body.String())
}

func TestHealthUnavailable(t *testing.T) {
	rr := serveHealth(t, brokenInspector{})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
