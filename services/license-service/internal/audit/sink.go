// Package audit журнал исходов аутентификации. Запись best-effort: ошибки
// журнала логируются и никогда не возвращаются вызывающему.
package audit

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"LicensePlatform/pkg/logger"
	"LicensePlatform/services/license-service/internal/domain"
)

// Sink принимает события журнала без ожидания доставки
type Sink interface {
	Record(ctx context.Context, event domain.AuditEvent)
}

// Backend доставляет одно событие в хранилище или брокер
type Backend interface {
	Write(ctx context.Context, event domain.AuditEvent) error
}

// QueueObserver учитывает состояние очереди
type QueueObserver interface {
	ObserveAuditDropped()
	SetAuditQueue(size int)
}

// NopSink отбрасывает события
type NopSink struct{}

func (NopSink) Record(context.Context, domain.AuditEvent) {}

// AsyncSink ставит события в ограниченную очередь, которую разбирает одна горутина.
// При переполнении событие отбрасывается.
type AsyncSink struct {
	backend      Backend
	events       chan domain.AuditEvent
	writeTimeout time.Duration
	observer     QueueObserver
	logger       logger.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// AsyncOption настраивает AsyncSink
type AsyncOption func(*AsyncSink)

// WithWriteTimeout ограничивает одну доставку
func WithWriteTimeout(timeout time.Duration) AsyncOption {
	return func(s *AsyncSink) { s.writeTimeout = timeout }
}

// WithQueueObserver подключает метрики очереди
func WithQueueObserver(observer QueueObserver) AsyncOption {
	return func(s *AsyncSink) { s.observer = observer }
}

// NewAsyncSink создает очередь размера bufferSize и запускает обработчик
func NewAsyncSink(backend Backend, bufferSize int, log logger.Logger, opts ...AsyncOption) *AsyncSink {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	s := &AsyncSink{
		backend:      backend,
		events:       make(chan domain.AuditEvent, bufferSize),
		writeTimeout: 5 * time.Second,
		logger:       log.Named("audit"),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.run()
	return s
}

// Record ставит событие в очередь. Не блокируется.
func (s *AsyncSink) Record(ctx context.Context, event domain.AuditEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.drop(ctx, event, "sink closed")
		return
	}

	select {
	case s.events <- event:
		if s.observer != nil {
			s.observer.SetAuditQueue(len(s.events))
		}
	default:
		s.drop(ctx, event, "queue full")
	}
}

func (s *AsyncSink) drop(ctx context.Context, event domain.AuditEvent, cause string) {
	if s.observer != nil {
		s.observer.ObserveAuditDropped()
	}
	s.logger.Warn("Audit event dropped",
		logger.CtxField(ctx),
		logger.String("event_id", event.ID),
		logger.String("cause", cause))
}

func (s *AsyncSink) run() {
	defer close(s.done)

	for event := range s.events {
		// Доставка не зависит от контекста запроса: клиент мог уже отключиться
		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		if err := s.backend.Write(ctx, event); err != nil {
			s.logger.Error("Audit event delivery failed",
				logger.String("event_id", event.ID),
				logger.String("outcome", event.Outcome),
				logger.Error(err))
		}
		cancel()

		if s.observer != nil {
			s.observer.SetAuditQueue(len(s.events))
		}
	}
}

// Close прекращает прием событий и ждет доставки очереди или отмены ctx
func (s *AsyncSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MultiBackend доставляет событие во все бэкенды и собирает их ошибки
type MultiBackend []Backend

func (m MultiBackend) Write(ctx context.Context, event domain.AuditEvent) error {
	var errs []error
	for _, backend := range m {
		if err := backend.Write(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
