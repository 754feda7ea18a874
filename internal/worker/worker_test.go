package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/webhook-relay/internal/logging"
	"github.com/telhawk-systems/webhook-relay/internal/models"
	"github.com/telhawk-systems/webhook-relay/internal/queue"
	"github.com/telhawk-systems/webhook-relay/internal/retry"
	"github.com/telhawk-systems/webhook-relay/internal/transform"
)

// memoryStore keeps the latest status per event.
type memoryStore struct {
	mu          sync.Mutex
	status      map[int64]models.EventStatus
	transformed map[int64]json.RawMessage
	attempts    map[int64]int
	lastError   map[int64]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		status:      map[int64]models.EventStatus{},
		transformed: map[int64]json.RawMessage{},
		attempts:    map[int64]int{},
		lastError:   map[int64]string{},
	}
}

func (m *memoryStore) UpdateStatus(ctx context.Context, id int64, status models.EventStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[id] = status
	return nil
}

func (m *memoryStore) MarkTransformed(ctx context.Context, id int64, transformed json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[id] = models.StatusTransformed
	m.transformed[id] = transformed
	return nil
}

func (m *memoryStore) MarkFailed(ctx context.Context, id int64, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[id] = models.StatusFailed
	m.attempts[id]++
	m.lastError[id] = lastError
	return nil
}

func (m *memoryStore) get(id int64) models.EventStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status[id]
}

type recordingDeliverer struct {
	mu       sync.Mutex
	payloads []json.RawMessage
	err      error
}

func (r *recordingDeliverer) Deliver(ctx context.Context, job *models.Job, payload json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
	return r.err
}

func (r *recordingDeliverer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

type fixture struct {
	mr        *miniredis.Miniredis
	queue     *queue.RedisQueue
	store     *memoryStore
	deliverer *recordingDeliverer
	worker    *Worker
}

func setup(t *testing.T, deliverErr error) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := queue.NewRedisQueue(client, "webhook_queue", time.Second)
	store := newMemoryStore()
	deliverer := &recordingDeliverer{err: deliverErr}
	controller := retry.NewController(store, q, retry.DefaultPolicy(), logging.Discard())
	resolver := transform.NewResolver(nil)

	w := New(q, resolver, deliverer, controller, Options{ErrorBackoff: 10 * time.Millisecond}, logging.Discard())
	return &fixture{mr: mr, queue: q, store: store, deliverer: deliverer, worker: w}
}

func runWorker(t *testing.T, w *Worker) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	return func() {
		stop()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("worker did not stop after cancellation")
		}
	}
}

func TestWorker_DeliversAndTransforms(t *testing.T) {
	f := setup(t, nil)
	id := int64(1)
	payload := json.RawMessage(`{"unit_id":"bldg-12-unit-305","tenant_name":"Ada Lovelace","monthly_rent":"1234.567"}`)
	require.NoError(t, f.queue.Push(context.Background(), models.NewJob(&id, "clientA", transform.PropertySystemA, payload)))

	stop := runWorker(t, f.worker)
	defer stop()

	require.Eventually(t, func() bool { return f.store.get(id) == models.StatusSuccess }, 3*time.Second, 10*time.Millisecond)

	require.Equal(t, 1, f.deliverer.count())
	assert.JSONEq(t,
		`{"unitNumber":"305","buildingId":"12","resident":{"fullName":"Ada Lovelace","rentAmount":1234.57}}`,
		string(f.deliverer.payloads[0]))
	assert.JSONEq(t, string(f.deliverer.payloads[0]), string(f.store.transformed[id]))
}

func TestWorker_PassthroughWithoutRules(t *testing.T) {
	f := setup(t, nil)
	payload := json.RawMessage(`{"anything":true}`)
	require.NoError(t, f.queue.Push(context.Background(), models.NewJob(nil, "clientZ", "unknownSystem", payload)))

	stop := runWorker(t, f.worker)
	defer stop()

	require.Eventually(t, func() bool { return f.deliverer.count() == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.JSONEq(t, `{"anything":true}`, string(f.deliverer.payloads[0]))
}

func TestWorker_FailureSchedulesRetry(t *testing.T) {
	f := setup(t, errors.New("HTTP delivery failed with 500"))
	id := int64(2)
	require.NoError(t, f.queue.Push(context.Background(), models.NewJob(&id, "clientA", "s", json.RawMessage(`{}`))))

	stop := runWorker(t, f.worker)
	require.Eventually(t, func() bool {
		n, err := f.queue.Delayed(context.Background())
		return err == nil && n == 1
	}, 3*time.Second, 10*time.Millisecond)
	stop()

	assert.Equal(t, models.StatusFailed, f.store.get(id))
	assert.Equal(t, 1, f.store.attempts[id])
	assert.Equal(t, "HTTP delivery failed with 500", f.store.lastError[id])

	// The parked job is the next attempt of the same job.
	n, err := f.queue.PromoteDue(context.Background(), time.Now().Add(2*time.Second), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	next, err := f.queue.Pop(context.Background())
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, 1, next.Attempt)
}

func TestWorker_MalformedEntryIsDiscarded(t *testing.T) {
	f := setup(t, nil)
	_, err := f.mr.Lpush("webhook_queue", "{broken")
	require.NoError(t, err)
	require.NoError(t, f.queue.Push(context.Background(), models.NewJob(nil, "clientA", "s", json.RawMessage(`{}`))))

	stop := runWorker(t, f.worker)
	defer stop()

	require.Eventually(t, func() bool { return f.deliverer.count() == 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestWorker_FIFOWithSingleConsumer(t *testing.T) {
	f := setup(t, nil)
	for _, body := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		require.NoError(t, f.queue.Push(context.Background(), models.NewJob(nil, "c", "s", json.RawMessage(body))))
	}

	stop := runWorker(t, f.worker)
	defer stop()

	require.Eventually(t, func() bool { return f.deliverer.count() == 3 }, 3*time.Second, 10*time.Millisecond)
	for i, want := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		assert.JSONEq(t, want, string(f.deliverer.payloads[i]))
	}
}

// failingQueue errors on every read.
type failingQueue struct {
	pops atomic.Int32
}

func (q *failingQueue) Push(ctx context.Context, job *models.Job) error { return nil }
func (q *failingQueue) Len(ctx context.Context) (int64, error)          { return 0, nil }
func (q *failingQueue) Pop(ctx context.Context) (*models.Job, error) {
	q.pops.Add(1)
	return nil, errors.New("connection reset")
}

func TestWorker_QueueErrorsBackOffAndContinue(t *testing.T) {
	q := &failingQueue{}
	controller := retry.NewController(newMemoryStore(), nil, retry.DefaultPolicy(), logging.Discard())
	w := New(q, transform.NewResolver(nil), &recordingDeliverer{}, controller,
		Options{ErrorBackoff: 20 * time.Millisecond}, logging.Discard())

	stop := runWorker(t, w)
	time.Sleep(150 * time.Millisecond)
	stop()

	pops := q.pops.Load()
	assert.GreaterOrEqual(t, pops, int32(2))
	// Bounded by the backoff.
	assert.LessOrEqual(t, pops, int32(10))
}

func TestWorker_StopsOnCancel(t *testing.T) {
	f := setup(t, nil)
	stop := runWorker(t, f.worker)
	stop()
}
