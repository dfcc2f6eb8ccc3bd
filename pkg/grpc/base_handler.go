package grpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"LicensePlatform/pkg/errors"
	"LicensePlatform/pkg/logger"
)

// BaseHandler предоставляет общую функциональность для gRPC обработчиков
type BaseHandler struct {
	logger logger.Logger
}

// NewBaseHandler создает новый BaseHandler
func NewBaseHandler(log logger.Logger) *BaseHandler {
	return &BaseHandler{logger: log}
}

// Logger возвращает логгер обработчика
func (h *BaseHandler) Logger() logger.Logger {
	return h.logger
}

// ValidateRequiredFields проверяет обязательные поля. Порядок задается срезом имен.
func (h *BaseHandler) ValidateRequiredFields(ctx context.Context, operation string, names []string, fields map[string]string) error {
	for _, field := range names {
		if fields[field] == "" {
			h.logger.Warn("Validation failed",
				logger.CtxField(ctx),
				logger.String("operation", operation),
				logger.String("field", field),
			)
			return status.Errorf(codes.InvalidArgument, "%s is required", field)
		}
	}
	return nil
}

// LogOperationStart логирует начало операции
func (h *BaseHandler) LogOperationStart(ctx context.Context, operation string, details map[string]interface{}) {
	h.logger.Debug("Operation started", h.fields(ctx, operation, details)...)
}

// LogOperationSuccess логирует успешное завершение операции
func (h *BaseHandler) LogOperationSuccess(ctx context.Context, operation string, details map[string]interface{}) {
	h.logger.Info("Operation completed successfully", h.fields(ctx, operation, details)...)
}

func (h *BaseHandler) fields(ctx context.Context, operation string, details map[string]interface{}) []logger.Field {
	fields := []logger.Field{
		logger.String("operation", operation),
		logger.CtxField(ctx),
	}

	for key, value := range details {
		switch v := value.(type) {
		case string:
			fields = append(fields, logger.String(key, v))
		case int:
			fields = append(fields, logger.Int(key, v))
		case int64:
			fields = append(fields, logger.Int64(key, v))
		case bool:
			fields = append(fields, logger.Bool(key, v))
		default:
			fields = append(fields, logger.String(key, fmt.Sprint(v)))
		}
	}
	return fields
}

// LogError логирует ошибку и переводит ее в gRPC статус по коду pkg/errors.
// Клиент получает только безопасное сообщение.
func (h *BaseHandler) LogError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	h.logger.Error("Operation failed",
		logger.CtxField(ctx),
		logger.String("operation", operation),
		logger.Error(err),
	)

	appErr := errors.New(errors.CodeOf(err), "")
	appErr.Message = appErr.GetUserMessage()
	return appErr.ToGRPCErr()
}
