package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

// Metrics представляет систему метрик сервиса
type Metrics struct {
	registry *prometheus.Registry

	// HTTP
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ErrorsCount     *prometheus.CounterVec

	// Лицензии
	AuthOutcomes *prometheus.CounterVec
	CASConflicts *prometheus.CounterVec
	KeysIssued   prometheus.Counter
	Expiring     prometheus.Gauge

	// Журнал аутентификаций
	AuditDropped prometheus.Counter
	AuditQueue   prometheus.Gauge

	// OpenTelemetry Tracer
	Tracer trace.Tracer `json:"-"`
}

// NewMetrics создает метрики в собственном реестре
func NewMetrics(serviceName string) *Metrics {
	namespace := strings.ReplaceAll(serviceName, "-", "_")
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		ErrorsCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "errors_total",
			Help:      "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
		AuthOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "license",
			Name:      "auth_outcomes_total",
			Help:      "Authentication outcomes by path and reason",
		}, []string{"path", "reason"}),
		CASConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "license",
			Name:      "cas_conflicts_total",
			Help:      "Optimistic update conflicts by operation",
		}, []string{"operation"}),
		KeysIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "license",
			Name:      "keys_issued_total",
			Help:      "License keys issued",
		}),
		Expiring: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "license",
			Name:      "expiring",
			Help:      "Active licenses expiring within the report window",
		}),
		AuditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "dropped_total",
			Help:      "Audit events dropped because the queue was full",
		}),
		AuditQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "queue_size",
			Help:      "Audit events waiting for delivery",
		}),
		Tracer: otel.Tracer(serviceName),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestCount,
		m.RequestDuration,
		m.ErrorsCount,
		m.AuthOutcomes,
		m.CASConflicts,
		m.KeysIssued,
		m.Expiring,
		m.AuditDropped,
		m.AuditQueue,
	)

	return m
}

// Registry возвращает реестр метрик
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// GetHandler возвращает HTTP обработчик для эндпоинта /metrics
func (m *Metrics) GetHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveAuth учитывает результат аутентификации. Пустая причина означает успех.
func (m *Metrics) ObserveAuth(path, reason string) {
	if reason == "" {
		reason = "OK"
	}
	m.AuthOutcomes.WithLabelValues(path, reason).Inc()
}

// ObserveKeysIssued учитывает выпущенные ключи
func (m *Metrics) ObserveKeysIssued(count int) {
	m.KeysIssued.Add(float64(count))
}

// SetExpiringLicenses выставляет число ключей, истекающих в окне отчета
func (m *Metrics) SetExpiringLicenses(count int) {
	m.Expiring.Set(float64(count))
}

// ObserveAuditDropped учитывает событие журнала, не поместившееся в очередь
func (m *Metrics) ObserveAuditDropped() {
	m.AuditDropped.Inc()
}

// SetAuditQueue выставляет текущий размер очереди журнала
func (m *Metrics) SetAuditQueue(size int) {
	m.AuditQueue.Set(float64(size))
}

// ObserveCASConflict учитывает промах оптимистичного обновления
func (m *Metrics) ObserveCASConflict(operation string) {
	m.CASConflicts.WithLabelValues(operation).Inc()
}

// Middleware создает middleware для сбора метрик
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := m.Tracer.Start(r.Context(), r.Method+" "+r.URL.Path)
		defer span.End()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(wrapped, r.WithContext(ctx))

		duration := time.Since(start).Seconds()
		endpoint := routePattern(r)

		m.RequestCount.WithLabelValues(r.Method, endpoint, strconv.Itoa(wrapped.statusCode)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, endpoint).Observe(duration)

		if wrapped.statusCode >= 400 {
			errorType := "client_error"
			if wrapped.statusCode >= 500 {
				errorType = "server_error"
			}
			m.ErrorsCount.WithLabelValues(r.Method, endpoint, errorType).Inc()
		}

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", endpoint),
			attribute.Int("http.status_code", wrapped.statusCode),
		)
	})
}

// routePattern возвращает шаблон маршрута chi, чтобы ключи лицензий не попадали в метки
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

// responseWriter обертка для перехвата статуса ответа
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader перехватывает установку статуса
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// InitializeOpenTelemetry устанавливает глобальный провайдер трассировки.
// Вызывающий отвечает за Shutdown провайдера.
func InitializeOpenTelemetry(serviceName, version string) *tracesdk.TracerProvider {
	tp := tracesdk.NewTracerProvider(
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(0.1))),
		tracesdk.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		)),
	)

	otel.SetTracerProvider(tp)
	return tp
}

// ShutdownTracer останавливает провайдер с ограничением по времени
func ShutdownTracer(tp *tracesdk.TracerProvider, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return tp.Shutdown(ctx)
}
