package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Error представляет кастомную ошибку с дополнительной информацией
type Error struct {
	Code    ErrorCode       `json:"code"`
	Message string          `json:"message"`
	Details string          `json:"details,omitempty"`
	Cause   error           `json:"-"`
	Context context.Context `json:"-"`
}

// ErrorCode представляет код ошибки
type ErrorCode string

// Определение кодов ошибок
const (
	ErrNotFound     ErrorCode = "NOT_FOUND"
	ErrValidation   ErrorCode = "VALIDATION_ERROR"
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrForbidden    ErrorCode = "FORBIDDEN"
	ErrInternal     ErrorCode = "INTERNAL_ERROR"
	ErrConflict     ErrorCode = "CONFLICT"
	// ErrUnavailable хранилище недоступно или не ответило за отведенное время
	ErrUnavailable ErrorCode = "UNAVAILABLE"
)

// Error возвращает сообщение об ошибке
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap возвращает причину ошибки
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is сравнивает ошибки по коду
func (e *Error) Is(target error) bool {
	if targetError, ok := target.(*Error); ok {
		return e.Code == targetError.Code
	}
	return false
}

// New создает новую кастомную ошибку
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap оборачивает существующую ошибку в кастомную
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WithDetails возвращает копию ошибки с деталями
func (e *Error) WithDetails(details string) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Details = details
	return &cp
}

// WithContext возвращает копию ошибки с контекстом
func (e *Error) WithContext(ctx context.Context) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Context = ctx
	return &cp
}

// CodeOf возвращает код первой *Error в цепочке или ErrInternal
func CodeOf(err error) ErrorCode {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// IsCode проверяет, что в цепочке есть *Error с указанным кодом
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	var appErr *Error
	return stderrors.As(err, &appErr) && appErr.Code == code
}

func (c ErrorCode) grpcCode() codes.Code {
	switch c {
	case ErrNotFound:
		return codes.NotFound
	case ErrValidation:
		return codes.InvalidArgument
	case ErrUnauthorized:
		return codes.Unauthenticated
	case ErrForbidden:
		return codes.PermissionDenied
	case ErrConflict:
		return codes.AlreadyExists
	case ErrUnavailable:
		return codes.Unavailable
	case ErrInternal:
		return codes.Internal
	default:
		return codes.Unknown
	}
}

// ToGRPCErr переводит кастомную ошибку в gRPC статус. Детали передаются как StringValue.
func (e *Error) ToGRPCErr() error {
	if e == nil {
		return nil
	}

	st := status.New(e.Code.grpcCode(), e.Message)
	if e.Details != "" {
		if withDetails, err := st.WithDetails(wrapperspb.String(e.Details)); err == nil {
			st = withDetails
		}
	}
	return st.Err()
}

// FromGRPCErr преобразует gRPC ошибку в кастомную ошибку
func FromGRPCErr(err error) *Error {
	if err == nil {
		return nil
	}

	grpcStatus, ok := status.FromError(err)
	if !ok {
		return Wrap(err, ErrInternal, "internal error")
	}

	var code ErrorCode
	switch grpcStatus.Code() {
	case codes.NotFound:
		code = ErrNotFound
	case codes.InvalidArgument:
		code = ErrValidation
	case codes.Unauthenticated:
		code = ErrUnauthorized
	case codes.PermissionDenied:
		code = ErrForbidden
	case codes.AlreadyExists:
		code = ErrConflict
	case codes.Unavailable, codes.DeadlineExceeded:
		code = ErrUnavailable
	default:
		code = ErrInternal
	}

	return &Error{
		Code:    code,
		Message: grpcStatus.Message(),
		Details: ExtractErrorDetails(err),
	}
}

// ExtractErrorDetails извлекает детали из gRPC ошибки
func ExtractErrorDetails(err error) string {
	grpcStatus, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, detail := range grpcStatus.Details() {
		if s, ok := detail.(*wrapperspb.StringValue); ok {
			return s.GetValue()
		}
	}
	return ""
}

// HTTPStatus возвращает соответствующий HTTP статус для ошибки
func (e *Error) HTTPStatus() int {
	if e == nil {
		return http.StatusOK
	}

	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrValidation:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrConflict:
		return http.StatusConflict
	case ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GetUserMessage возвращает безопасное для клиента сообщение.
// Внутренние причины (драйвер, таблицы) наружу не попадают.
func (e *Error) GetUserMessage() string {
	if e == nil {
		return ""
	}

	switch e.Code {
	case ErrNotFound:
		return "resource not found"
	case ErrValidation:
		return "validation failed"
	case ErrUnauthorized:
		return "unauthorized"
	case ErrForbidden:
		return "forbidden"
	case ErrConflict:
		return "conflict"
	case ErrUnavailable:
		return "service unavailable"
	default:
		return "internal server error"
	}
}

// WriteJSON отправляет JSON ответ с ошибкой
func WriteJSON(w http.ResponseWriter, err error) {
	appErr, ok := err.(*Error)
	if !ok && !stderrors.As(err, &appErr) {
		appErr = Wrap(err, ErrInternal, "internal error")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPStatus())

	body := map[string]interface{}{
		"error": map[string]interface{}{
			"code":    appErr.Code,
			"message": appErr.GetUserMessage(),
		},
	}
	if appErr.Code == ErrValidation && appErr.Details != "" {
		body["error"].(map[string]interface{})["details"] = appErr.Details
	}
	_ = json.NewEncoder(w).Encode(body)
}

// Middleware восстанавливается после паники и отвечает INTERNAL_ERROR
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				WriteJSON(w, New(ErrInternal, "internal server error").
					WithDetails(fmt.Sprintf("panic: %v", recovered)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
