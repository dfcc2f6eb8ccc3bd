package postgres

import (
	"encoding/json"
	"fmt"
	"strings"

	"LicensePlatform/services/license-service/internal/domain"
)

// Все преобразования столбцов devices живут здесь:
// license_keys.devices хранит JSON массив, keys_code.devices строку через запятую.

const legacySeparator = ","

// encodeDevices кодирует набор в JSON массив. Пустой набор хранится как "[]".
func encodeDevices(devices domain.DeviceSet) (string, error) {
	if devices == nil {
		devices = domain.DeviceSet{}
	}
	raw, err := json.Marshal([]string(devices))
	if err != nil {
		return "", fmt.Errorf("failed to encode devices: %w", err)
	}
	return string(raw), nil
}

// decodeDevices читает JSON массив. NULL и пустая строка дают пустой набор.
func decodeDevices(raw *string) (domain.DeviceSet, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" || *raw == "null" {
		return nil, nil
	}
	var devices []string
	if err := json.Unmarshal([]byte(*raw), &devices); err != nil {
		return nil, fmt.Errorf("failed to decode devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, nil
	}
	return domain.DeviceSet(devices), nil
}

// encodeLegacyDevices склеивает набор через запятую без изменений элементов
func encodeLegacyDevices(devices domain.DeviceSet) string {
	return strings.Join(devices, legacySeparator)
}

// decodeLegacyDevices разбивает строку keys_code.devices. Пустые элементы
// сохраняются, их отбрасывает реестр устройств.
func decodeLegacyDevices(raw *string) domain.DeviceSet {
	if raw == nil || *raw == "" {
		return nil
	}
	return domain.DeviceSet(strings.Split(*raw, legacySeparator))
}
