package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LicensePlatform/pkg/errors"
)

type connectForm struct {
	UserKey string `json:"user_key" validate:"required,max=100,licensekey"`
	Serial  string `json:"serial" validate:"required,alphadash"`
	Game    string `json:"game" validate:"omitempty,alphadash"`
	Type    string `json:"key_type" validate:"omitempty,oneof=single multi"`
}

func TestValidator_Struct(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		form    connectForm
		wantErr string
	}{
		{"valid", connectForm{UserKey: "KP-ABCDE-12345", Serial: "hw_01-a"}, ""},
		{"missing key", connectForm{Serial: "hw"}, "user_key is required"},
		{"bad key chars", connectForm{UserKey: "KP ABC", Serial: "hw"}, "user_key failed licensekey"},
		{"bad serial", connectForm{UserKey: "KP", Serial: "hw/01"}, "serial failed alphadash"},
		{"bad game", connectForm{UserKey: "KP", Serial: "hw", Game: "pubg mobile"}, "game failed alphadash"},
		{"bad type", connectForm{UserKey: "KP", Serial: "hw", Type: "team"}, "key_type must be one of [single multi]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Struct(tt.form)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrValidation))

			var appErr *errors.Error
			require.ErrorAs(t, err, &appErr)
			assert.Contains(t, appErr.Details, tt.wantErr)
		})
	}
}

func TestValidator_Var(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.Var("abc123", "alphanum,max=36"))
	assert.Error(t, v.Var("abc-123", "alphanum"))
	assert.Error(t, v.Var("", "required"))
}
