package domain

import (
	stderrors "errors"
	"fmt"

	"LicensePlatform/pkg/errors"
)

// Коды отказов, которые разбирают клиенты. Строки менять нельзя.
const (
	ReasonBadParameter        = "Bad Parameter"
	ReasonMaintenance         = "MAINTENANCE"
	ReasonInvalidParameter    = "INVALID PARAMETER - Missing app_id or game"
	ReasonAppNotFound         = "APP NOT FOUND OR INACTIVE"
	ReasonAppMaintenance      = "APP MAINTENANCE"
	ReasonLicenseNotFound     = "LICENSE NOT FOUND"
	ReasonLicenseExpired      = "LICENSE EXPIRED"
	ReasonLicenseSuspended    = "LICENSE SUSPENDED"
	ReasonLicenseInactive     = "LICENSE INACTIVE"
	ReasonMaxDeviceLimit      = "MAX DEVICE LIMIT REACHED"
	ReasonDeviceNotAuthorized = "DEVICE NOT AUTHORIZED"
	ReasonAlreadyBound        = "LICENSE BOUND TO ANOTHER USER"

	ReasonLegacyNotRegistered = "USER OR GAME NOT REGISTERED"
	ReasonLegacyBlocked       = "USER BLOCKED"
	ReasonLegacyExpired       = "EXPIRED KEY"
	ReasonLegacyMaxDevice     = "MAX DEVICE REACHED"

	// ReasonServiceUnavailable отдается при недоступности хранилища
	ReasonServiceUnavailable = "SERVICE UNAVAILABLE"
)

// RejectionCode класс отказа, не зависящий от пути аутентификации
type RejectionCode string

const (
	NotFound              RejectionCode = "not_found"
	NotActive             RejectionCode = "not_active"
	Expired               RejectionCode = "expired"
	LimitReached          RejectionCode = "limit_reached"
	DeviceNotAuthorized   RejectionCode = "device_not_authorized"
	AlreadyBoundToOther   RejectionCode = "already_bound_to_other"
	Blocked               RejectionCode = "blocked"
	AppNotFoundOrInactive RejectionCode = "app_not_found_or_inactive"
	AppMaintenance        RejectionCode = "app_maintenance"
	Maintenance           RejectionCode = "maintenance"
	InvalidParameters     RejectionCode = "invalid_parameters"
	BadParameter          RejectionCode = "bad_parameter"
)

// Rejection штатный отказ домена. Не является сбоем: клиент получает Reason
// как есть, HTTP статус остается 200.
type Rejection struct {
	Code   RejectionCode
	Reason string
}

// Reject создает отказ
func Reject(code RejectionCode, reason string) *Rejection {
	return &Rejection{Code: code, Reason: reason}
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("rejected (%s): %s", r.Code, r.Reason)
}

// Is сравнивает отказы по коду и причине
func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	if !ok {
		return false
	}
	return r.Code == t.Code && (t.Reason == "" || r.Reason == t.Reason)
}

// AsRejection извлекает отказ из цепочки ошибок
func AsRejection(err error) (*Rejection, bool) {
	var rejection *Rejection
	if stderrors.As(err, &rejection) {
		return rejection, true
	}
	return nil, false
}

// StatusRejection отказ для ключа новой схемы в неактивном статусе
func StatusRejection(status string) *Rejection {
	switch status {
	case StatusExpired:
		return Reject(Expired, ReasonLicenseExpired)
	case StatusSuspended:
		return Reject(NotActive, ReasonLicenseSuspended)
	default:
		return Reject(NotActive, ReasonLicenseInactive)
	}
}

// ErrGenerationExhausted все попытки выпустить уникальный ключ закончились конфликтом
var ErrGenerationExhausted = errors.New(errors.ErrConflict, "license key generation exhausted")
