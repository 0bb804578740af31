package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-monitor/internal/cache"
	"github.com/nerrad567/gray-logic-monitor/internal/tag"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingSender struct {
	mu    sync.Mutex
	sent  []Execution
	fails error
}

func (r *recordingSender) SendCommand(_ context.Context, e Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fails != nil {
		return r.fails
	}
	r.sent = append(r.sent, e)
	return nil
}

func newService(t *testing.T, sender Sender, now *time.Time) *Service {
	t.Helper()
	store := cache.New[*Tag]("command")
	t.Cleanup(store.Close)
	maxV := 100.0
	require.NoError(t, store.Put(1, &Tag{
		ID: 1, Name: "setpoint", ProcessID: 1, EquipmentID: 10,
		DataType: tag.TypeFloat, MaxValue: &maxV, ExecTimeout: 5 * time.Second,
	}))
	return NewService(store, WithSender(sender), WithClock(func() time.Time { return *now }))
}

func TestService_ExecuteAndReport(t *testing.T) {
	now := t0
	sender := &recordingSender{}
	svc := newService(t, sender, &now)

	exec, err := svc.Execute(context.Background(), 1, 42)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, exec.ExecutionID)
	assert.Equal(t, 42.0, exec.Value)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, int64(10), sender.sent[0].EquipmentID)

	c, err := svc.Store().Get(1)
	require.NoError(t, err)
	require.NotNil(t, c.LastReport)
	assert.Equal(t, StatusPending, c.LastReport.Status)

	now = t0.Add(time.Second)
	require.NoError(t, svc.Report(context.Background(), 1, Report{
		ExecutionID: exec.ExecutionID, Status: StatusOK, Description: "applied",
	}))
	c, err = svc.Store().Get(1)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, c.LastReport.Status)
	assert.Equal(t, 42.0, c.LastReport.Value)
	assert.Equal(t, t0.Add(time.Second), c.LastReport.Timestamp)
}

func TestService_ExecuteRejectsBadValues(t *testing.T) {
	now := t0
	svc := newService(t, &recordingSender{}, &now)

	_, err := svc.Execute(context.Background(), 1, "open")
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = svc.Execute(context.Background(), 1, 150.0)
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = svc.Execute(context.Background(), 9, 1.0)
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestService_SendFailureRecorded(t *testing.T) {
	now := t0
	svc := newService(t, &recordingSender{fails: errors.New("broker down")}, &now)

	_, err := svc.Execute(context.Background(), 1, 1.0)
	require.Error(t, err)

	c, err := svc.Store().Get(1)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, c.LastReport.Status)
	assert.Equal(t, "broker down", c.LastReport.Description)
}

func TestService_ReportValidation(t *testing.T) {
	now := t0.Add(10 * time.Second)
	svc := newService(t, &recordingSender{}, &now)
	exec, err := svc.Execute(context.Background(), 1, 1.0)
	require.NoError(t, err)

	err = svc.Report(context.Background(), 1, Report{ExecutionID: uuid.New(), Status: StatusOK})
	assert.ErrorIs(t, err, ErrUnknownExecution)

	err = svc.Report(context.Background(), 1, Report{ExecutionID: exec.ExecutionID, Status: StatusOK, Timestamp: t0})
	assert.ErrorIs(t, err, ErrStaleReport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, svc.Report(ctx, 1, Report{ExecutionID: exec.ExecutionID}), context.Canceled)
}

func TestService_ExpirePending(t *testing.T) {
	now := t0
	svc := newService(t, &recordingSender{}, &now)
	_, err := svc.Execute(context.Background(), 1, 1.0)
	require.NoError(t, err)

	now = t0.Add(5 * time.Second)
	assert.Zero(t, svc.ExpirePending())

	now = t0.Add(6 * time.Second)
	assert.Equal(t, 1, svc.ExpirePending())

	c, err := svc.Store().Get(1)
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, c.LastReport.Status)
	assert.Zero(t, svc.ExpirePending(), "already timed out")
}

func TestValidate(t *testing.T) {
	ok := &Tag{ID: 1, Name: "c", EquipmentID: 2, DataType: tag.TypeBoolean}
	assert.NoError(t, Validate(ok))

	bad := ok.Clone()
	bad.DataType = "Blob"
	assert.ErrorIs(t, Validate(bad), ErrInvalidCommand)

	bad = ok.Clone()
	bad.EquipmentID = 0
	assert.ErrorIs(t, Validate(bad), ErrInvalidCommand)
}
