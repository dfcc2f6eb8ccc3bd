package http

import (
	"net/http"

	"github.com/go-chi/render"

	"LicensePlatform/pkg/logger"
	"LicensePlatform/services/license-service/internal/domain"
	"LicensePlatform/services/license-service/internal/middleware"
	"LicensePlatform/services/license-service/internal/service"
)

// Connect обрабатывает POST /connect: форма или JSON, обе схемы ключей.
// Отказы отдаются со статусом 200, сбой хранилища со статусом 503.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	p, err := readParams(r)
	if err != nil {
		// битое тело разбирается как пустой запрос и получает Bad Parameter
		h.logger.Debug("Failed to parse connect request", logger.CtxField(ctx), logger.Error(err))
		p = params{}
	}

	result, err := h.dispatcher.Connect(ctx, service.ConnectRequest{
		AppID:    p["app_id"],
		Game:     p["game"],
		UserKey:  p["user_key"],
		Serial:   p["serial"],
		HWID:     p["hwid"],
		ClientIP: middleware.ClientIP(r),
	})
	if err != nil {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, &service.ConnectResult{Status: false, Reason: domain.ReasonServiceUnavailable})
		return
	}
	render.JSON(w, r, result)
}

// ConnectInfo обрабатывает GET /connect
func (h *Handler) ConnectInfo(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]interface{}{
		"web_info": map[string]string{
			"_client": h.info.Name,
			"version": h.info.Version,
		},
	})
}

// ConnectHealth обрабатывает GET /connect/health
func (h *Handler) ConnectHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{
		"status":    "ok",
		"version":   h.info.Version,
		"endpoint":  "connect",
		"timestamp": h.clock().UTC().Format("2006-01-02 15:04:05"),
	})
}
