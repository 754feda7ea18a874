package retry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/webhook-relay/internal/logging"
	"github.com/telhawk-systems/webhook-relay/internal/models"
)

type statusChange struct {
	id     int64
	status models.EventStatus
	detail string
}

// mockStore records status transitions in order.
type mockStore struct {
	changes        []statusChange
	markFailedFunc func(ctx context.Context, id int64, lastError string) error
}

func (m *mockStore) UpdateStatus(ctx context.Context, id int64, status models.EventStatus) error {
	m.changes = append(m.changes, statusChange{id: id, status: status})
	return nil
}

func (m *mockStore) MarkTransformed(ctx context.Context, id int64, transformed json.RawMessage) error {
	m.changes = append(m.changes, statusChange{id: id, status: models.StatusTransformed, detail: string(transformed)})
	return nil
}

func (m *mockStore) MarkFailed(ctx context.Context, id int64, lastError string) error {
	m.changes = append(m.changes, statusChange{id: id, status: models.StatusFailed, detail: lastError})
	if m.markFailedFunc != nil {
		return m.markFailedFunc(ctx, id, lastError)
	}
	return nil
}

type scheduled struct {
	job   *models.Job
	delay time.Duration
}

type mockScheduler struct {
	scheduled []scheduled
	err       error
}

func (m *mockScheduler) Schedule(ctx context.Context, job *models.Job, delay time.Duration) error {
	if m.err != nil {
		return m.err
	}
	m.scheduled = append(m.scheduled, scheduled{job: job, delay: delay})
	return nil
}

type mockDeadLetter struct {
	jobs []*models.Job
	err  error
}

func (m *mockDeadLetter) Publish(ctx context.Context, job *models.Job, cause error) error {
	m.jobs = append(m.jobs, job)
	return m.err
}

func TestPolicy_Delay(t *testing.T) {
	p := DefaultPolicy()
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for attempt, d := range want {
		assert.Equal(t, d, p.Delay(attempt), "attempt %d", attempt)
		assert.False(t, p.Exhausted(attempt))
	}
	assert.True(t, p.Exhausted(5))
	assert.Equal(t, time.Second, p.Delay(-1))
}

func TestController_RetrySequence(t *testing.T) {
	id := int64(9)
	store := &mockStore{}
	sched := &mockScheduler{}
	dead := &mockDeadLetter{}
	c := NewController(store, sched, DefaultPolicy(), logging.Discard()).WithDeadLetter(dead)

	job := models.NewJob(&id, "clientA", "s", json.RawMessage(`{}`))
	cause := errors.New("HTTP delivery failed with 500")

	var delays []time.Duration
	for i := 0; i < 5; i++ {
		d, err := c.Fail(context.Background(), job, cause)
		require.NoError(t, err)
		require.True(t, d.Retry)
		assert.Equal(t, job.Attempt+1, d.Next.Attempt)
		assert.Equal(t, job.ID, d.Next.ID)
		delays = append(delays, d.Delay)
		job = d.Next
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}, delays)
	require.Len(t, sched.scheduled, 5)
	assert.Empty(t, dead.jobs)

	// Attempt 5 fails for good.
	d, err := c.Fail(context.Background(), job, cause)
	require.NoError(t, err)
	assert.False(t, d.Retry)
	assert.Len(t, sched.scheduled, 5)
	require.Len(t, dead.jobs, 1)
	assert.Equal(t, 5, dead.jobs[0].Attempt)

	// Six FAILED writes, then the terminal status.
	require.Len(t, store.changes, 7)
	for _, ch := range store.changes[:6] {
		assert.Equal(t, models.StatusFailed, ch.status)
		assert.Equal(t, cause.Error(), ch.detail)
	}
	assert.Equal(t, models.StatusPermanentlyFailed, store.changes[6].status)
}

func TestController_FailWithoutEvent(t *testing.T) {
	store := &mockStore{}
	sched := &mockScheduler{}
	c := NewController(store, sched, DefaultPolicy(), logging.Discard())

	job := models.NewJob(nil, "clientA", "s", json.RawMessage(`{}`))
	d, err := c.Fail(context.Background(), job, errors.New("boom"))
	require.NoError(t, err)
	assert.True(t, d.Retry)
	assert.Empty(t, store.changes)
	assert.Len(t, sched.scheduled, 1)
}

func TestController_ScheduleError(t *testing.T) {
	id := int64(1)
	c := NewController(&mockStore{}, &mockScheduler{err: errors.New("redis down")}, DefaultPolicy(), logging.Discard())

	_, err := c.Fail(context.Background(), models.NewJob(&id, "c", "s", nil), errors.New("x"))
	assert.ErrorContains(t, err, "redis down")
}

func TestController_StoreErrorStillRetries(t *testing.T) {
	id := int64(1)
	store := &mockStore{markFailedFunc: func(ctx context.Context, id int64, lastError string) error {
		return errors.New("db down")
	}}
	sched := &mockScheduler{}
	c := NewController(store, sched, DefaultPolicy(), logging.Discard())

	d, err := c.Fail(context.Background(), models.NewJob(&id, "c", "s", nil), errors.New("x"))
	require.NoError(t, err)
	assert.True(t, d.Retry)
	assert.Len(t, sched.scheduled, 1)
}

func TestController_DeadLetterErrorIsLogged(t *testing.T) {
	id := int64(1)
	dead := &mockDeadLetter{err: errors.New("nats down")}
	c := NewController(&mockStore{}, &mockScheduler{}, Policy{MaxAttempts: 0, BaseDelay: time.Second}, logging.Discard()).
		WithDeadLetter(dead)

	d, err := c.Fail(context.Background(), models.NewJob(&id, "c", "s", nil), errors.New("x"))
	require.NoError(t, err)
	assert.False(t, d.Retry)
	assert.Len(t, dead.jobs, 1)
}

func TestController_HappyPathTransitions(t *testing.T) {
	id := int64(4)
	store := &mockStore{}
	c := NewController(store, &mockScheduler{}, DefaultPolicy(), logging.Discard())
	job := models.NewJob(&id, "c", "s", nil)
	ctx := context.Background()

	require.NoError(t, c.Processing(ctx, job))
	require.NoError(t, c.Transformed(ctx, job, json.RawMessage(`{"x":1}`)))
	require.NoError(t, c.Succeeded(ctx, job))

	require.Len(t, store.changes, 3)
	assert.Equal(t, models.StatusProcessing, store.changes[0].status)
	assert.Equal(t, models.StatusTransformed, store.changes[1].status)
	assert.Equal(t, `{"x":1}`, store.changes[1].detail)
	assert.Equal(t, models.StatusSuccess, store.changes[2].status)

	noEvent := models.NewJob(nil, "c", "s", nil)
	require.NoError(t, c.Processing(ctx, noEvent))
	require.NoError(t, c.Succeeded(ctx, noEvent))
	assert.Len(t, store.changes, 3)
}
