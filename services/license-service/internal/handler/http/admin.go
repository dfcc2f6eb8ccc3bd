package http

import (
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"LicensePlatform/pkg/errors"
	"LicensePlatform/pkg/logger"
	"LicensePlatform/services/license-service/internal/domain"
	"LicensePlatform/services/license-service/internal/middleware"
	"LicensePlatform/services/license-service/internal/service"
)

// adminResponse ответ административного API
type adminResponse struct {
	Success     bool                 `json:"success"`
	Message     string               `json:"message,omitempty"`
	LicenseKey  string               `json:"license_key,omitempty"`
	LicenseKeys []string             `json:"license_keys,omitempty"`
	License     *domain.LicenseKey   `json:"license,omitempty"`
	Licenses    []*domain.LicenseKey `json:"licenses,omitempty"`
	Count       *int                 `json:"count,omitempty"`
}

// generateKeysRequest тело POST /api/v1/licenses
type generateKeysRequest struct {
	service.GenerateRequest
}

// Bind реализует render.Binder
func (g *generateKeysRequest) Bind(r *http.Request) error {
	return nil
}

// GenerateKeys обрабатывает POST /api/v1/licenses
func (h *Handler) GenerateKeys(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		h.adminError(w, r, errors.New(errors.ErrUnauthorized, "missing operator claims"))
		return
	}

	var req generateKeysRequest
	if err := render.Bind(r, &req); err != nil {
		h.adminError(w, r, errors.Wrap(err, errors.ErrValidation, "invalid request body").
			WithDetails("request body must be a JSON object"))
		return
	}

	issued, err := h.issuer.GenerateAs(r.Context(), claims, req.GenerateRequest)
	if err != nil && len(issued) == 0 {
		h.adminError(w, r, err)
		return
	}
	if err != nil {
		// пачка прервана: ключи, выпущенные до сбоя, уже действуют
		status, message := h.failure(r, err)
		count := len(issued)
		h.logger.Warn("License batch partially issued via API",
			logger.CtxField(r.Context()),
			logger.String("subject", claims.Subject),
			logger.Int("issued", count),
			logger.Error(err))
		render.Status(r, status)
		render.JSON(w, r, adminResponse{Success: false, Message: message, LicenseKeys: keysOf(issued), Count: &count})
		return
	}

	resp := adminResponse{Success: true, LicenseKey: issued[0].Key}
	if len(issued) > 1 {
		resp.LicenseKeys = keysOf(issued)
	}

	h.logger.Info("License keys generated via API",
		logger.CtxField(r.Context()),
		logger.String("subject", claims.Subject),
		logger.String("role", claims.Role),
		logger.Int("quantity", len(issued)))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, resp)
}

// SuspendLicense обрабатывает POST /api/v1/licenses/{key}/suspend
func (h *Handler) SuspendLicense(w http.ResponseWriter, r *http.Request) {
	license, err := h.engine.Suspend(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.adminError(w, r, err)
		return
	}
	render.JSON(w, r, adminResponse{Success: true, License: license})
}

// ResetDevices обрабатывает POST /api/v1/licenses/{key}/reset-devices
func (h *Handler) ResetDevices(w http.ResponseWriter, r *http.Request) {
	license, err := h.engine.ResetDevices(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.adminError(w, r, err)
		return
	}
	render.JSON(w, r, adminResponse{Success: true, License: license})
}

// ListExpiring обрабатывает GET /api/v1/licenses/expiring?app_id=&days=
func (h *Handler) ListExpiring(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var appID *int64
	if raw := query.Get("app_id"); raw != "" {
		id, ok := parseID(raw)
		if !ok {
			h.adminError(w, r, errors.New(errors.ErrValidation, "validation failed").
				WithDetails("app_id must be a positive integer"))
			return
		}
		appID = &id
	}

	days := service.DefaultExpiringDays
	if raw := query.Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 365 {
			h.adminError(w, r, errors.New(errors.ErrValidation, "validation failed").
				WithDetails("days must be between 1 and 365"))
			return
		}
		days = parsed
	}

	licenses, err := h.engine.ListExpiring(r.Context(), appID, days)
	if err != nil {
		h.adminError(w, r, err)
		return
	}
	if licenses == nil {
		licenses = []*domain.LicenseKey{}
	}
	count := len(licenses)
	render.JSON(w, r, adminResponse{Success: true, Licenses: licenses, Count: &count})
}

// adminError отвечает {success:false, message}
func (h *Handler) adminError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := h.failure(r, err)
	render.Status(r, status)
	render.JSON(w, r, adminResponse{Success: false, Message: message})
}

// failure статус и текст ответа для ошибки. Для ошибок валидации в текст
// попадают детали, для сбоев только безопасный текст.
func (h *Handler) failure(r *http.Request, err error) (int, string) {
	if rejection, ok := domain.AsRejection(err); ok {
		status := http.StatusConflict
		if rejection.Code == domain.NotFound {
			status = http.StatusNotFound
		}
		return status, rejection.Reason
	}

	var appErr *errors.Error
	if !stderrors.As(err, &appErr) {
		appErr = errors.Wrap(err, errors.ErrInternal, "internal error")
	}

	message := appErr.GetUserMessage()
	switch appErr.Code {
	case errors.ErrValidation:
		if appErr.Details != "" {
			message = appErr.Details
		}
	case errors.ErrForbidden, errors.ErrConflict:
		message = appErr.Message
	case errors.ErrUnavailable, errors.ErrInternal:
		h.logger.Error("Admin request failed", logger.CtxField(r.Context()),
			logger.String("path", r.URL.Path), logger.Error(err))
	}

	return appErr.HTTPStatus(), message
}

func keysOf(licenses []*domain.LicenseKey) []string {
	keys := make([]string, len(licenses))
	for i, license := range licenses {
		keys[i] = license.Key
	}
	return keys
}
