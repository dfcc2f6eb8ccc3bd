package domain

import (
	"time"
)

// Статусы ключа новой схемы
const (
	StatusActive    = "active"
	StatusExpired   = "expired"
	StatusSuspended = "suspended"
	StatusInactive  = "inactive"
)

// Типы ключей
const (
	KeyTypeSingle = "single"
	KeyTypeMulti  = "multi"
)

// Статусы ключа legacy схемы
const (
	LegacyStatusBlocked = 0
	LegacyStatusEnabled = 1
)

// Статусы приложения
const (
	AppStatusActive      = "active"
	AppStatusDeprecated  = "deprecated"
	AppStatusMaintenance = "maintenance"
)

// Статусы назначения приложения реселлеру
const (
	AssignmentActive    = "active"
	AssignmentSuspended = "suspended"
	AssignmentRevoked   = "revoked"
)

// DefaultAppVersion отдается клиенту, если у приложения не указана версия
const DefaultAppVersion = "1.0.0"

// DefaultMaintenanceMessage используется, когда сообщение о работах не задано
const DefaultMaintenanceMessage = "Please try again later"

// DeviceSet упорядоченный набор идентификаторов устройств (HWID)
type DeviceSet []string

// Contains проверяет наличие идентификатора
func (d DeviceSet) Contains(hwid string) bool {
	for _, id := range d {
		if id == hwid {
			return true
		}
	}
	return false
}

// Len возвращает количество записей
func (d DeviceSet) Len() int {
	return len(d)
}

// Clone возвращает независимую копию
func (d DeviceSet) Clone() DeviceSet {
	if d == nil {
		return nil
	}
	cp := make(DeviceSet, len(d))
	copy(cp, d)
	return cp
}

// LicenseKey представляет ключ новой схемы (таблица license_keys)
// DeviceCount всегда равен len(Devices), len(Devices) <= MaxDevices.
// Version растет на каждой записи и используется для оптимистичной блокировки.
type LicenseKey struct {
	ID           int64      `json:"id"`
	Key          string     `json:"license_key"`
	AppID        int64      `json:"app_id"`
	DeveloperID  *int64     `json:"developer_id,omitempty"`
	ResellerID   *int64     `json:"reseller_id,omitempty"`
	UserID       *int64     `json:"user_id,omitempty"`
	KeyType      string     `json:"key_type"`
	MaxDevices   int        `json:"max_devices"`
	DurationDays int        `json:"duration_days"`
	Price        float64    `json:"price"`
	Status       string     `json:"status"`
	ActivatedAt  *time.Time `json:"activated_at,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Devices      DeviceSet  `json:"devices"`
	DeviceCount  int        `json:"device_count"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	UsageCount   int64      `json:"usage_count"`
	Version      int64      `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Clone возвращает глубокую копию ключа
func (l *LicenseKey) Clone() *LicenseKey {
	if l == nil {
		return nil
	}
	cp := *l
	cp.DeveloperID = cloneInt64(l.DeveloperID)
	cp.ResellerID = cloneInt64(l.ResellerID)
	cp.UserID = cloneInt64(l.UserID)
	cp.ActivatedAt = cloneTime(l.ActivatedAt)
	cp.ExpiresAt = cloneTime(l.ExpiresAt)
	cp.LastUsedAt = cloneTime(l.LastUsedAt)
	cp.Devices = l.Devices.Clone()
	return &cp
}

// IsExpiredAt истек ли срок действия на момент now
func (l *LicenseKey) IsExpiredAt(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// LegacyKey представляет ключ старой схемы (таблица keys_code)
// Идентифицируется парой (UserKey, Game). ExpiredDate пуст до первой успешной аутентификации.
type LegacyKey struct {
	ID          int64      `json:"id_keys"`
	UserKey     string     `json:"user_key"`
	Game        string     `json:"game"`
	Status      int        `json:"status"`
	Duration    int        `json:"duration"`
	ExpiredDate *time.Time `json:"expired_date,omitempty"`
	MaxDevices  int        `json:"max_devices"`
	Devices     DeviceSet  `json:"devices"`
}

// Clone возвращает глубокую копию legacy ключа
func (l *LegacyKey) Clone() *LegacyKey {
	if l == nil {
		return nil
	}
	cp := *l
	cp.ExpiredDate = cloneTime(l.ExpiredDate)
	cp.Devices = l.Devices.Clone()
	return &cp
}

// App приложение разработчика. GlobalMaintenance задается на уровне разработчика
// и перекрывает MaintenanceMode приложения.
type App struct {
	ID                       int64  `json:"id"`
	Name                     string `json:"app_name"`
	Description              string `json:"app_description"`
	Version                  string `json:"current_version"`
	Status                   string `json:"status"`
	MaintenanceMode          bool   `json:"maintenance_mode"`
	MaintenanceMessage       string `json:"maintenance_message"`
	DeveloperID              int64  `json:"developer_id"`
	GlobalMaintenance        bool   `json:"global_maintenance"`
	GlobalMaintenanceMessage string `json:"global_maintenance_message"`
}

// InMaintenance сообщает, закрыто ли приложение на работы, и текст для клиента
func (a *App) InMaintenance() (bool, string) {
	switch {
	case a.GlobalMaintenance:
		return true, messageOrDefault(a.GlobalMaintenanceMessage)
	case a.MaintenanceMode:
		return true, messageOrDefault(a.MaintenanceMessage)
	default:
		return false, ""
	}
}

// DisplayVersion версия приложения для ответа клиенту
func (a *App) DisplayVersion() string {
	if a.Version == "" {
		return DefaultAppVersion
	}
	return a.Version
}

// ResellerApp назначение приложения реселлеру. DeveloperID владелец приложения,
// под ним реселлер выпускает ключи.
type ResellerApp struct {
	ID          int64     `json:"id"`
	ResellerID  int64     `json:"reseller_id"`
	AppID       int64     `json:"app_id"`
	DeveloperID int64     `json:"developer_id"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Active назначение действует
func (a *ResellerApp) Active() bool {
	return a.Status == AssignmentActive
}

// AuditEvent запись журнала аутентификаций
type AuditEvent struct {
	ID          string    `json:"id"`
	Path        string    `json:"path"`
	Outcome     string    `json:"outcome"`
	Reason      string    `json:"reason,omitempty"`
	AppID       *int64    `json:"app_id,omitempty"`
	Game        string    `json:"game,omitempty"`
	LicenseID   *int64    `json:"license_id,omitempty"`
	KeyHint     string    `json:"key_hint,omitempty"`
	HWID        string    `json:"hwid,omitempty"`
	IPAddress   string    `json:"ip_address,omitempty"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Пути аутентификации
const (
	PathNew    = "new"
	PathLegacy = "legacy"
)

// Исходы аутентификации для журнала
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

func messageOrDefault(msg string) string {
	if msg == "" {
		return DefaultMaintenanceMessage
	}
	return msg
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}
