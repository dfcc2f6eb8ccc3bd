package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LicensePlatform/services/license-service/internal/domain"
)

func strPtr(s string) *string { return &s }

func TestDecodeDevices(t *testing.T) {
	tests := []struct {
		name    string
		raw     *string
		want    domain.DeviceSet
		wantErr bool
	}{
		{"null column", nil, nil, false},
		{"empty string", strPtr(""), nil, false},
		{"json null", strPtr("null"), nil, false},
		{"empty array", strPtr("[]"), nil, false},
		{"two devices", strPtr(`["hw-1","hw-2"]`), domain.DeviceSet{"hw-1", "hw-2"}, false},
		{"garbage", strPtr("hw-1,hw-2"), nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeDevices(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeDevices_Empty(t *testing.T) {
	raw, err := encodeDevices(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", raw)
}

func TestLegacyDevices(t *testing.T) {
	assert.Nil(t, decodeLegacyDevices(nil))
	assert.Nil(t, decodeLegacyDevices(strPtr("")))

	// Историческая строка с пустыми элементами читается и пишется без потерь
	raw := ",serial-1,,serial-2,"
	devices := decodeLegacyDevices(&raw)
	assert.Equal(t, domain.DeviceSet{"", "serial-1", "", "serial-2", ""}, devices)
	assert.Equal(t, raw, encodeLegacyDevices(devices))

	assert.Equal(t, "", encodeLegacyDevices(nil))
}
