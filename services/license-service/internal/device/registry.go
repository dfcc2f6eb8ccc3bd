package device

import (
	"LicensePlatform/services/license-service/internal/domain"
)

// Outcome результат регистрации устройства
type Outcome int

const (
	// Accepted устройство добавлено в набор
	Accepted Outcome = iota
	// AlreadyRegistered устройство уже в наборе, набор не меняется
	AlreadyRegistered
	// LimitReached слотов не осталось, набор не меняется
	LimitReached
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case AlreadyRegistered:
		return "already_registered"
	case LimitReached:
		return "limit_reached"
	default:
		return "unknown"
	}
}

// OK сообщает, считается ли исход успехом для вызывающего
func (o Outcome) OK() bool {
	return o == Accepted || o == AlreadyRegistered
}

// Registry правила слотов устройств для одной схемы хранения.
// Register не меняет переданный набор: новый набор возвращается только при Accepted,
// сохранять его атомарно должен вызывающий.
type Registry interface {
	Register(devices domain.DeviceSet, max int, hwid string) (domain.DeviceSet, Outcome)
	Contains(devices domain.DeviceSet, hwid string) bool
	Count(devices domain.DeviceSet) int
}

// StrictRegistry правила новой схемы: набор уже нормализован хранилищем
type StrictRegistry struct{}

// NewStrictRegistry создает реестр новой схемы
func NewStrictRegistry() *StrictRegistry {
	return &StrictRegistry{}
}

func (StrictRegistry) Register(devices domain.DeviceSet, max int, hwid string) (domain.DeviceSet, Outcome) {
	if devices.Contains(hwid) {
		return devices, AlreadyRegistered
	}
	if devices.Len() >= max {
		return devices, LimitReached
	}
	next := make(domain.DeviceSet, 0, devices.Len()+1)
	next = append(next, devices...)
	return append(next, hwid), Accepted
}

func (StrictRegistry) Contains(devices domain.DeviceSet, hwid string) bool {
	return devices.Contains(hwid)
}

func (StrictRegistry) Count(devices domain.DeviceSet) int {
	return devices.Len()
}

// LegacyRegistry правила keys_code: в строке устройств встречаются пустые
// элементы и повторы от старых записей. Пустые не считаются, повторы считаются один раз.
type LegacyRegistry struct{}

// NewLegacyRegistry создает реестр legacy схемы
func NewLegacyRegistry() *LegacyRegistry {
	return &LegacyRegistry{}
}

func (LegacyRegistry) Register(devices domain.DeviceSet, max int, hwid string) (domain.DeviceSet, Outcome) {
	clean := normalize(devices)
	if hwid == "" {
		return devices, LimitReached
	}
	if clean.Contains(hwid) {
		return devices, AlreadyRegistered
	}
	if clean.Len() >= max {
		return devices, LimitReached
	}
	return append(clean, hwid), Accepted
}

func (LegacyRegistry) Contains(devices domain.DeviceSet, hwid string) bool {
	return hwid != "" && devices.Contains(hwid)
}

func (LegacyRegistry) Count(devices domain.DeviceSet) int {
	return normalize(devices).Len()
}

// normalize убирает пустые элементы и повторы, сохраняя порядок первых вхождений
func normalize(devices domain.DeviceSet) domain.DeviceSet {
	out := make(domain.DeviceSet, 0, devices.Len()+1)
	seen := make(map[string]struct{}, devices.Len())
	for _, id := range devices {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
