package grpc

import (
	"context"
	stderrors "errors"
	"strconv"
	"time"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/protobuf/types/known/structpb"

	"LicensePlatform/pkg/errors"
	grpcBase "LicensePlatform/pkg/grpc"
	"LicensePlatform/pkg/logger"
	"LicensePlatform/services/license-service/internal/domain"
	"LicensePlatform/services/license-service/internal/middleware"
	"LicensePlatform/services/license-service/internal/pkg/jwt"
	"LicensePlatform/services/license-service/internal/service"
)

// Handler реализует LicenseServiceServer
type Handler struct {
	grpcBase.BaseHandler
	dispatcher *service.Dispatcher
	engine     *service.Engine
	issuer     *service.Issuer
	admin      middleware.TokenValidator
}

var _ LicenseServiceServer = (*Handler)(nil)

// NewHandler создает gRPC обработчик. admin проверяет токены операторов для GenerateKey.
func NewHandler(dispatcher *service.Dispatcher, engine *service.Engine, issuer *service.Issuer, admin middleware.TokenValidator, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler: *grpcBase.NewBaseHandler(log.Named("grpc")),
		dispatcher:  dispatcher,
		engine:      engine,
		issuer:      issuer,
		admin:       admin,
	}
}

// Connect аутентификация клиента, ответ совпадает с POST /connect
func (h *Handler) Connect(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := stringFields(req)
	result, err := h.dispatcher.Connect(ctx, service.ConnectRequest{
		AppID:    fields["app_id"],
		Game:     fields["game"],
		UserKey:  fields["user_key"],
		Serial:   fields["serial"],
		HWID:     fields["hwid"],
		ClientIP: peerAddr(ctx),
	})
	if err != nil {
		return nil, h.LogError(ctx, err, "Connect")
	}

	out := map[string]interface{}{"status": result.Status}
	if result.Reason != "" {
		out["reason"] = result.Reason
	}
	if result.Data != nil {
		data := map[string]interface{}{
			"token": result.Data.Token,
			"rng":   result.Data.RNG,
		}
		if info := result.Data.AppInfo; info != nil {
			data["app_info"] = map[string]interface{}{"name": info.Name, "version": info.Version}
		}
		out["data"] = data
	}
	return structpb.NewStruct(out)
}

// ValidateLicense строгая проверка ключа и устройства
func (h *Handler) ValidateLicense(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := stringFields(req)
	if err := h.ValidateRequiredFields(ctx, "ValidateLicense", []string{"license_key", "hwid"}, fields); err != nil {
		return nil, err
	}

	var appID *int64
	if raw := fields["app_id"]; raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return nil, errors.New(errors.ErrValidation, "validation failed").
				WithDetails("app_id must be a positive integer").ToGRPCErr()
		}
		appID = &id
	}

	license, err := h.engine.Validate(ctx, fields["license_key"], appID, fields["hwid"])
	if rejection, ok := domain.AsRejection(err); ok {
		return structpb.NewStruct(map[string]interface{}{"status": false, "reason": rejection.Reason})
	}
	if err != nil {
		return nil, h.LogError(ctx, err, "ValidateLicense")
	}

	data := map[string]interface{}{
		"license_key":  license.Key,
		"max_devices":  license.MaxDevices,
		"device_count": license.DeviceCount,
	}
	if license.ExpiresAt != nil {
		data["expires_at"] = license.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return structpb.NewStruct(map[string]interface{}{"status": true, "data": data})
}

// GenerateKey выпуск ключей. Требует Bearer токен оператора в метаданных authorization.
func (h *Handler) GenerateKey(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	h.LogOperationStart(ctx, "GenerateKey", nil)

	claims, err := h.authorize(ctx)
	if err != nil {
		return nil, err
	}

	fields := req.AsMap()
	request := service.GenerateRequest{
		AppID:        int64Field(fields, "app_id"),
		DeveloperID:  int64Field(fields, "developer_id"),
		KeyType:      stringField(fields, "key_type"),
		MaxDevices:   int(int64Field(fields, "max_devices")),
		DurationDays: int(int64Field(fields, "duration_days")),
		Price:        floatField(fields, "price"),
		Quantity:     int(int64Field(fields, "quantity")),
	}
	if _, ok := fields["reseller_id"]; ok {
		resellerID := int64Field(fields, "reseller_id")
		request.ResellerID = &resellerID
	}

	issued, err := h.issuer.GenerateAs(ctx, claims, request)
	if err != nil && len(issued) == 0 {
		return nil, h.clientError(ctx, err, "GenerateKey")
	}

	keys := make([]interface{}, len(issued))
	for i, license := range issued {
		keys[i] = license.Key
	}
	if err != nil {
		// ключи, выпущенные до сбоя, уже действуют и отдаются клиенту
		h.Logger().Warn("License batch partially issued", logger.CtxField(ctx),
			logger.Int("issued", len(issued)), logger.Error(err))
		message := "internal server error"
		var appErr *errors.Error
		if stderrors.As(err, &appErr) {
			message = appErr.GetUserMessage()
		}
		return structpb.NewStruct(map[string]interface{}{
			"success":      false,
			"message":      message,
			"license_keys": keys,
			"count":        len(issued),
		})
	}
	out := map[string]interface{}{"success": true, "license_key": issued[0].Key}
	if len(issued) > 1 {
		out["license_keys"] = keys
	}

	h.LogOperationSuccess(ctx, "GenerateKey", map[string]interface{}{
		"role":     claims.Role,
		"app_id":   request.AppID,
		"quantity": len(issued),
	})
	return structpb.NewStruct(out)
}

func (h *Handler) authorize(ctx context.Context) (*jwt.Claims, error) {
	if h.admin == nil {
		return nil, errors.New(errors.ErrUnauthorized, "admin api is disabled").ToGRPCErr()
	}
	md, _ := metadata.FromIncomingContext(ctx)
	var raw string
	if values := md.Get("authorization"); len(values) > 0 {
		raw = middleware.BearerToken(values[0])
	}
	if raw == "" {
		return nil, errors.New(errors.ErrUnauthorized, "missing bearer token").ToGRPCErr()
	}

	claims, err := h.admin.Validate(raw)
	if err != nil {
		h.Logger().Warn("Admin token rejected", logger.CtxField(ctx), logger.Error(err))
		return nil, errors.New(errors.ErrUnauthorized, "invalid token").ToGRPCErr()
	}
	return claims, nil
}

// clientError передает клиенту детали ошибок валидации и доступа, прочие
// ошибки логируются и скрываются
func (h *Handler) clientError(ctx context.Context, err error, operation string) error {
	var appErr *errors.Error
	if stderrors.As(err, &appErr) {
		switch appErr.Code {
		case errors.ErrValidation, errors.ErrForbidden, errors.ErrConflict:
			return errors.New(appErr.Code, appErr.Message).WithDetails(appErr.Details).ToGRPCErr()
		}
	}
	return h.LogError(ctx, err, operation)
}

func peerAddr(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	return p.Addr.String()
}

// stringFields приводит поля верхнего уровня к строкам, как значения формы
func stringFields(req *structpb.Struct) map[string]string {
	out := make(map[string]string, len(req.GetFields()))
	for key, value := range req.GetFields() {
		switch kind := value.GetKind().(type) {
		case *structpb.Value_StringValue:
			out[key] = kind.StringValue
		case *structpb.Value_NumberValue:
			out[key] = strconv.FormatFloat(kind.NumberValue, 'f', -1, 64)
		case *structpb.Value_BoolValue:
			out[key] = strconv.FormatBool(kind.BoolValue)
		}
	}
	return out
}

func stringField(fields map[string]interface{}, key string) string {
	v, _ := fields[key].(string)
	return v
}

func int64Field(fields map[string]interface{}, key string) int64 {
	switch v := fields[key].(type) {
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

func floatField(fields map[string]interface{}, key string) float64 {
	switch v := fields[key].(type) {
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}
