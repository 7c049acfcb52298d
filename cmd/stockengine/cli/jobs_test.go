package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockengine/jobs"
)

type stubQueue struct {
	tasks []*asynq.Task
}

func (q *stubQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: "t-1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

type stubInspector struct {
	infos map[string]*asynq.QueueInfo
	err   error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.infos[queue], nil
}

func TestTriggerBuildsScopedPayload(t *testing.T) {
	q := &stubQueue{}
	c := newJobsCLI(q, nil)

	_, err := c.Trigger(context.Background(), TriggerOptions{Task: jobs.TaskCostingRecompute, ProductID: 12})
	require.NoError(t, err)
	require.Len(t, q.tasks, 1)
	var payload jobs.CostingRecomputePayload
	require.NoError(t, json.Unmarshal(q.tasks[0].Payload(), &payload))
	assert.Equal(t, int64(12), payload.ProductID)
}

func TestTriggerRejectsMissingScope(t *testing.T) {
	c := newJobsCLI(&stubQueue{}, nil)
	for _, task := range []string{jobs.TaskPreorderDistribute, jobs.TaskCostingRecompute, "report:nightly"} {
		_, err := c.Trigger(context.Background(), TriggerOptions{Task: task})
		assert.Error(t, err, task)
	}
}

func TestCommandTriggerJSON(t *testing.T) {
	var stdout, stderr bytes.Buffer
	c := newJobsCLI(&stubQueue{}, nil)
	code := c.Command(context.Background(), CommandOptions{
		Action:     "trigger",
		Trigger:    TriggerOptions{Task: jobs.TaskReconcileSweep},
		JSONOutput: true,
		Stdout:     &stdout,
		Stderr:     &stderr,
	})
	require.Equal(t, 0, code, stderr.String())
	var out map[string]string
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	assert.Equal(t, jobs.TaskReconcileSweep, out["type"])
	assert.Equal(t, "t-1", out["id"])
}

func TestCommandStatsHuman(t *testing.T) {
	var stdout bytes.Buffer
	c := newJobsCLI(nil, stubInspector{infos: map[string]*asynq.QueueInfo{
		jobs.QueueDefault: {Queue: jobs.QueueDefault, Size: 3, Pending: 2, Retry: 1},
	}})
	code := c.Command(context.Background(), CommandOptions{Action: "stats", Stdout: &stdout})
	require.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "size=3 pending=2 active=0 scheduled=0 retry=1")
	assert.Contains(t, stdout.String(), jobs.QueueNotify)
}

func TestCommandReportsFailures(t *testing.T) {
	var stderr bytes.Buffer
	c := newJobsCLI(nil, stubInspector{err: errors.New("redis down")})
	assert.Equal(t, 1, c.Command(context.Background(), CommandOptions{Action: "stats", Stderr: &stderr}))
	assert.Contains(t, stderr.String(), "redis down")

	assert.Equal(t, 2, c.Command(context.Background(), CommandOptions{Action: "purge", Stderr: &stderr}))
	assert.Equal(t, 1, c.Command(context.Background(), CommandOptions{Action: "trigger", Stderr: &stderr}))
}
