package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"LicensePlatform/pkg/connection"
	"LicensePlatform/pkg/logger"
	"LicensePlatform/pkg/mocks"
	"LicensePlatform/services/license-service/internal/domain"
	"LicensePlatform/services/license-service/internal/repository/memory"
)

// blockingBackend сигналит о начале каждой доставки и ждет release
type blockingBackend struct {
	mu       sync.Mutex
	received []string
	started  chan struct{}
	release  chan struct{}
	err      error
}

func newBlockingBackend() *blockingBackend {
	return &blockingBackend{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (b *blockingBackend) Write(ctx context.Context, event domain.AuditEvent) error {
	b.started <- struct{}{}
	<-b.release
	b.mu.Lock()
	defer b.mu.Unlock()
	b.received = append(b.received, event.ID)
	return b.err
}

func (b *blockingBackend) ids() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.received...)
}

type countingObserver struct {
	mu      sync.Mutex
	dropped int
}

func (o *countingObserver) ObserveAuditDropped() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped++
}

func (o *countingObserver) SetAuditQueue(int) {}

func (o *countingObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}

func TestAsyncSink_DeliversInOrder(t *testing.T) {
	backend := newBlockingBackend()
	close(backend.release)
	sink := NewAsyncSink(backend, 8, logger.NewNop())

	for _, id := range []string{"e1", "e2", "e3"} {
		sink.Record(context.Background(), domain.AuditEvent{ID: id})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sink.Close(ctx))
	assert.Equal(t, []string{"e1", "e2", "e3"}, backend.ids())
}

func TestAsyncSink_DropsWhenFull(t *testing.T) {
	backend := newBlockingBackend()
	observer := &countingObserver{}
	sink := NewAsyncSink(backend, 1, logger.NewNop(), WithQueueObserver(observer))

	sink.Record(context.Background(), domain.AuditEvent{ID: "in-flight"})
	<-backend.started

	sink.Record(context.Background(), domain.AuditEvent{ID: "queued"})
	sink.Record(context.Background(), domain.AuditEvent{ID: "dropped"})
	assert.Equal(t, 1, observer.count())

	close(backend.release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sink.Close(ctx))
	assert.Equal(t, []string{"in-flight", "queued"}, backend.ids())
}

func TestAsyncSink_BackendErrorIsSwallowed(t *testing.T) {
	backend := newBlockingBackend()
	backend.err = errors.New("broker down")
	close(backend.release)
	sink := NewAsyncSink(backend, 4, logger.NewNop())

	sink.Record(context.Background(), domain.AuditEvent{ID: "e1"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sink.Close(ctx))
	assert.Equal(t, []string{"e1"}, backend.ids())
}

func TestAsyncSink_RecordAfterClose(t *testing.T) {
	backend := newBlockingBackend()
	close(backend.release)
	observer := &countingObserver{}
	sink := NewAsyncSink(backend, 4, logger.NewNop(), WithQueueObserver(observer))

	require.NoError(t, sink.Close(context.Background()))
	sink.Record(context.Background(), domain.AuditEvent{ID: "late"})

	assert.Equal(t, 1, observer.count())
	require.NoError(t, sink.Close(context.Background()), "close is idempotent")
}

func TestAsyncSink_CloseHonorsContext(t *testing.T) {
	backend := newBlockingBackend()
	sink := NewAsyncSink(backend, 4, logger.NewNop())
	sink.Record(context.Background(), domain.AuditEvent{ID: "stuck"})
	<-backend.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sink.Close(ctx), context.DeadlineExceeded)

	close(backend.release)
}

type backendFunc func(ctx context.Context, event domain.AuditEvent) error

func (f backendFunc) Write(ctx context.Context, event domain.AuditEvent) error { return f(ctx, event) }

func TestMultiBackend(t *testing.T) {
	var calls int
	ok := backendFunc(func(context.Context, domain.AuditEvent) error { calls++; return nil })
	failing := backendFunc(func(context.Context, domain.AuditEvent) error { calls++; return errors.New("db down") })

	err := MultiBackend{failing, ok}.Write(context.Background(), domain.AuditEvent{ID: "e"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Equal(t, 2, calls, "failure in one backend does not stop the others")

	assert.NoError(t, MultiBackend{ok}.Write(context.Background(), domain.AuditEvent{}))
}

func TestRepositoryBackend(t *testing.T) {
	store := memory.NewStore()
	backend := NewRepositoryBackend(store.Audit())

	require.NoError(t, backend.Write(context.Background(), domain.AuditEvent{ID: "e1", Outcome: domain.OutcomeRejected}))
	events := store.AuditEvents()
	require.Len(t, events, 1)
	assert.Equal(t, domain.OutcomeRejected, events[0].Outcome)
}

func TestRabbitMQBackend(t *testing.T) {
	publisher := &mocks.MockPublisher{}
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(body []byte) bool {
		return len(body) > 0 && body[0] == '{'
	})).Return(errors.New("channel closed")).Once()
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()

	backend := NewRabbitMQBackend(publisher, connection.RetryConfig{
		MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1,
	})

	err := backend.Write(context.Background(), domain.AuditEvent{ID: "e1", Outcome: domain.OutcomeSuccess})
	require.NoError(t, err)
	publisher.AssertNumberOfCalls(t, "Publish", 2)
}

func TestLogBackend(t *testing.T) {
	assert.NoError(t, NewLogBackend(logger.NewNop()).Write(context.Background(), domain.AuditEvent{ID: "e1"}))
	NopSink{}.Record(context.Background(), domain.AuditEvent{})
}
