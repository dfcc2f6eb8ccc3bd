package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"LicensePlatform/pkg/errors"
	"LicensePlatform/pkg/health"
	"LicensePlatform/pkg/logger"
	"LicensePlatform/pkg/metrics"
	"LicensePlatform/pkg/ratelimit"
	"LicensePlatform/services/license-service/internal/middleware"
	"LicensePlatform/services/license-service/internal/pkg/jwt"
	"LicensePlatform/services/license-service/internal/service"
)

// ServiceInfo данные для информационного ответа GET /connect
type ServiceInfo struct {
	Name    string
	Version string
}

// Handler обрабатывает HTTP запросы License Service
type Handler struct {
	info       ServiceInfo
	dispatcher *service.Dispatcher
	engine     *service.Engine
	issuer     *service.Issuer
	logger     logger.Logger
	clock      func() time.Time
}

// NewHandler создает HTTP обработчик
func NewHandler(info ServiceInfo, dispatcher *service.Dispatcher, engine *service.Engine, issuer *service.Issuer, log logger.Logger) *Handler {
	return &Handler{
		info:       info,
		dispatcher: dispatcher,
		engine:     engine,
		issuer:     issuer,
		logger:     log.Named("http"),
		clock:      time.Now,
	}
}

// RouterOptions внешние компоненты роутера. Nil поля отключают соответствующую часть.
type RouterOptions struct {
	Admin         middleware.TokenValidator
	Limiter       ratelimit.RateLimiter
	ConnectLimit  int
	ConnectWindow time.Duration
	Metrics       *metrics.Metrics
	Health        health.HealthChecker
}

// Routes собирает chi роутер со всеми маршрутами сервиса
func (h *Handler) Routes(opts RouterOptions) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(h.logger))
	r.Use(errors.Middleware)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", opts.Metrics.GetHandler())
	}

	if opts.Health != nil {
		r.Get("/health", health.Handler(opts.Health))
		r.Get("/ready", health.ReadyHandler(opts.Health))
	}
	r.Get("/live", health.LiveHandler())

	r.Route("/connect", func(r chi.Router) {
		r.Get("/", h.ConnectInfo)
		r.Get("/health", h.ConnectHealth)
		r.Group(func(r chi.Router) {
			if opts.Limiter != nil && opts.ConnectLimit > 0 {
				r.Use(middleware.RateLimit(opts.Limiter, opts.ConnectLimit, opts.ConnectWindow, h.logger))
			}
			r.Post("/", h.Connect)
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/validate-license", h.ValidateLicense)
		r.Post("/activate-license", h.ActivateLicense)
		r.Get("/app-info/{id}", h.AppInfo)
		r.Get("/check-maintenance/{id}", h.CheckMaintenance)

		if opts.Admin == nil {
			return
		}
		r.Route("/licenses", func(r chi.Router) {
			r.With(middleware.AdminAuth(opts.Admin, h.logger, jwt.RoleAdmin, jwt.RoleDeveloper, jwt.RoleReseller)).
				Post("/", h.GenerateKeys)

			r.Group(func(r chi.Router) {
				r.Use(middleware.AdminAuth(opts.Admin, h.logger, jwt.RoleAdmin))
				r.Get("/expiring", h.ListExpiring)
				r.Post("/{key}/suspend", h.SuspendLicense)
				r.Post("/{key}/reset-devices", h.ResetDevices)
			})
		})
	})

	return r
}
