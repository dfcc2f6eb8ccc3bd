package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"LicensePlatform/pkg/errors"
	"LicensePlatform/pkg/logger"
	"LicensePlatform/services/license-service/internal/domain"
)

const (
	msgMissingParameters = "Missing required parameters"
	msgAppNotFound       = "App not found"
	msgUnavailable       = "Service unavailable"
)

// apiResponse ответ клиентского API /api/v1
type apiResponse struct {
	Status      bool        `json:"status"`
	Message     string      `json:"message,omitempty"`
	Data        interface{} `json:"data,omitempty"`
	Maintenance *bool       `json:"maintenance,omitempty"`
}

type licenseData struct {
	LicenseKey  string     `json:"license_key"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at"`
	MaxDevices  int        `json:"max_devices"`
	DeviceCount int        `json:"device_count"`
}

type appData struct {
	Name        string `json:"app_name"`
	Description string `json:"description"`
	Version     string `json:"version"`
	Status      string `json:"status"`
}

// rejectionMessages тексты отказов для /api/v1
var rejectionMessages = map[domain.RejectionCode]string{
	domain.NotFound:            "License not found",
	domain.NotActive:           "License is not active",
	domain.Expired:             "License has expired",
	domain.LimitReached:        "Device limit reached",
	domain.DeviceNotAuthorized: "Device not authorized",
	domain.AlreadyBoundToOther: "License is bound to another user",
}

// ValidateLicense обрабатывает POST /api/v1/validate-license
func (h *Handler) ValidateLicense(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(r)
	appID, ok := p.int64("app_id")
	if err != nil || !ok || p["license_key"] == "" || p["hwid"] == "" {
		render.JSON(w, r, apiResponse{Status: false, Message: msgMissingParameters})
		return
	}

	license, err := h.engine.Validate(r.Context(), p["license_key"], &appID, p["hwid"])
	if err != nil {
		h.apiError(w, r, err)
		return
	}

	render.JSON(w, r, apiResponse{
		Status:  true,
		Message: "License is valid",
		Data:    toLicenseData(license),
	})
}

// ActivateLicense обрабатывает POST /api/v1/activate-license
func (h *Handler) ActivateLicense(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(r)
	appID, appOK := p.int64("app_id")
	userID, userOK := p.int64("user_id")
	if err != nil || !appOK || !userOK || p["license_key"] == "" || p["hwid"] == "" {
		render.JSON(w, r, apiResponse{Status: false, Message: msgMissingParameters})
		return
	}

	license, err := h.engine.Activate(r.Context(), p["license_key"], &appID, userID, p["hwid"])
	if err != nil {
		h.apiError(w, r, err)
		return
	}

	render.JSON(w, r, apiResponse{
		Status:  true,
		Message: "License activated successfully",
		Data:    toLicenseData(license),
	})
}

// AppInfo обрабатывает GET /api/v1/app-info/{id}
func (h *Handler) AppInfo(w http.ResponseWriter, r *http.Request) {
	appID, ok := parseID(chi.URLParam(r, "id"))
	if !ok {
		render.JSON(w, r, apiResponse{Status: false, Message: msgAppNotFound})
		return
	}

	app, err := h.dispatcher.App(r.Context(), appID)
	if err != nil {
		h.apiError(w, r, err)
		return
	}

	render.JSON(w, r, apiResponse{
		Status: true,
		Data: appData{
			Name:        app.Name,
			Description: app.Description,
			Version:     app.DisplayVersion(),
			Status:      app.Status,
		},
	})
}

// CheckMaintenance обрабатывает GET /api/v1/check-maintenance/{id}
func (h *Handler) CheckMaintenance(w http.ResponseWriter, r *http.Request) {
	appID, ok := parseID(chi.URLParam(r, "id"))
	if !ok {
		render.JSON(w, r, apiResponse{Status: false, Message: msgAppNotFound})
		return
	}

	state, err := h.dispatcher.Maintenance(r.Context(), appID)
	if err != nil {
		h.apiError(w, r, err)
		return
	}

	render.JSON(w, r, apiResponse{
		Status:      true,
		Maintenance: &state.Maintenance,
		Message:     state.Message,
	})
}

// apiError переводит отказ или ошибку в ответ /api/v1. Отказы и отсутствие
// приложения отдаются со статусом 200, сбои хранилища со статусом 503.
func (h *Handler) apiError(w http.ResponseWriter, r *http.Request, err error) {
	if rejection, ok := domain.AsRejection(err); ok {
		message, known := rejectionMessages[rejection.Code]
		if !known {
			message = rejection.Reason
		}
		render.JSON(w, r, apiResponse{Status: false, Message: message})
		return
	}
	if errors.IsCode(err, errors.ErrNotFound) {
		render.JSON(w, r, apiResponse{Status: false, Message: msgAppNotFound})
		return
	}

	h.logger.Error("API request failed", logger.CtxField(r.Context()),
		logger.String("path", r.URL.Path), logger.Error(err))
	render.Status(r, http.StatusServiceUnavailable)
	render.JSON(w, r, apiResponse{Status: false, Message: msgUnavailable})
}

func toLicenseData(license *domain.LicenseKey) licenseData {
	return licenseData{
		LicenseKey:  license.Key,
		ActivatedAt: license.ActivatedAt,
		ExpiresAt:   license.ExpiresAt,
		MaxDevices:  license.MaxDevices,
		DeviceCount: license.DeviceCount,
	}
}
