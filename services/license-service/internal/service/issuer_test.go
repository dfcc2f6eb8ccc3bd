package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LicensePlatform/pkg/errors"
	"LicensePlatform/pkg/logger"
	"LicensePlatform/services/license-service/internal/domain"
	"LicensePlatform/services/license-service/internal/keygen"
	"LicensePlatform/services/license-service/internal/pkg/jwt"
	"LicensePlatform/services/license-service/internal/repository"
)

// sequenceGenerator отдает ключи по списку, затем повторяет последний
type sequenceGenerator struct {
	keys []string
	next int
}

func (g *sequenceGenerator) Generate() (string, error) {
	if len(g.keys) == 0 {
		return "", fmt.Errorf("no keys")
	}
	key := g.keys[g.next]
	if g.next < len(g.keys)-1 {
		g.next++
	}
	return key, nil
}

type keysCounter struct{ total int }

func (c *keysCounter) ObserveKeysIssued(count int) { c.total += count }

func newIssuerFixture(t *testing.T, generator keygen.Generator) (*Issuer, *dispatcherFixture, *keysCounter) {
	t.Helper()
	f := newDispatcherFixture(t, DispatcherConfig{})
	counter := &keysCounter{}
	issuer := NewIssuer(f.store.Licenses(), f.store.Apps(), f.store.ResellerApps(), generator, 3, logger.NewNop()).
		WithObserver(counter)
	return issuer, f, counter
}

// failingInserts отказывает на failAt-й вставке, остальные передает в хранилище
type failingInserts struct {
	repository.LicenseRepository
	failAt int
	calls  int
}

func (r *failingInserts) Insert(ctx context.Context, license *domain.LicenseKey) error {
	r.calls++
	if r.calls == r.failAt {
		return errors.New(errors.ErrUnavailable, "db down")
	}
	return r.LicenseRepository.Insert(ctx, license)
}

func TestIssuer_GenerateDefaults(t *testing.T) {
	issuer, _, counter := newIssuerFixture(t, keygen.NewGenerator())

	keys, err := issuer.Generate(context.Background(), GenerateRequest{AppID: 1, DeveloperID: 10})
	require.NoError(t, err)
	require.Len(t, keys, 1)

	license := keys[0]
	assert.True(t, keygen.IsNewFormat(license.Key), license.Key)
	assert.Equal(t, domain.KeyTypeSingle, license.KeyType)
	assert.Equal(t, DefaultMaxDevices, license.MaxDevices)
	assert.Equal(t, DefaultDurationDays, license.DurationDays)
	assert.Equal(t, domain.StatusActive, license.Status)
	assert.Nil(t, license.ActivatedAt)
	assert.Nil(t, license.ExpiresAt)
	require.NotNil(t, license.DeveloperID)
	assert.Equal(t, int64(10), *license.DeveloperID)
	assert.Equal(t, 1, counter.total)
}

func TestIssuer_GenerateBatch(t *testing.T) {
	issuer, _, counter := newIssuerFixture(t, keygen.NewGenerator())
	reseller := int64(5)

	keys, err := issuer.Generate(context.Background(), GenerateRequest{
		AppID: 1, DeveloperID: 10, ResellerID: &reseller,
		KeyType: domain.KeyTypeMulti, MaxDevices: 5, DurationDays: 90, Price: 9.99, Quantity: 25,
	})
	require.NoError(t, err)
	require.Len(t, keys, 25)

	seen := make(map[string]struct{}, len(keys))
	for _, license := range keys {
		seen[license.Key] = struct{}{}
		assert.Equal(t, 5, license.MaxDevices)
		assert.Equal(t, int64(5), *license.ResellerID)
	}
	assert.Len(t, seen, 25)
	assert.Equal(t, 25, counter.total)
}

func TestIssuer_GenerateValidation(t *testing.T) {
	issuer, _, _ := newIssuerFixture(t, keygen.NewGenerator())

	tests := []struct {
		name string
		req  GenerateRequest
		code errors.ErrorCode
	}{
		{"missing app", GenerateRequest{DeveloperID: 10}, errors.ErrValidation},
		{"quantity over limit", GenerateRequest{AppID: 1, DeveloperID: 10, Quantity: MaxBatchQuantity + 1}, errors.ErrValidation},
		{"unknown key type", GenerateRequest{AppID: 1, DeveloperID: 10, KeyType: "trial"}, errors.ErrValidation},
		{"single with many devices", GenerateRequest{AppID: 1, DeveloperID: 10, MaxDevices: 3}, errors.ErrValidation},
		{"unknown app", GenerateRequest{AppID: 77, DeveloperID: 10}, errors.ErrValidation},
		{"foreign app", GenerateRequest{AppID: 1, DeveloperID: 11}, errors.ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys, err := issuer.Generate(context.Background(), tt.req)
			require.Error(t, err)
			assert.Empty(t, keys)
			assert.Equal(t, tt.code, errors.CodeOf(err))
		})
	}
}

func TestIssuer_RegeneratesOnCollision(t *testing.T) {
	generator := &sequenceGenerator{keys: []string{"KP-TAKEN-AAAAA-AAAAA-AAAAA", "KP-TAKEN-AAAAA-AAAAA-AAAAA", "KP-FRESH-AAAAA-AAAAA-AAAAA"}}
	issuer, f, _ := newIssuerFixture(t, generator)
	f.seedLicense(t, "KP-TAKEN-AAAAA-AAAAA-AAAAA", nil)

	keys, err := issuer.Generate(context.Background(), GenerateRequest{AppID: 1, DeveloperID: 10})
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "KP-FRESH-AAAAA-AAAAA-AAAAA", keys[0].Key)
}

func TestIssuer_RejectsKeyInLegacyFormat(t *testing.T) {
	generator := &sequenceGenerator{keys: []string{"abc123def456"}}
	issuer, f, counter := newIssuerFixture(t, generator)

	keys, err := issuer.Generate(context.Background(), GenerateRequest{AppID: 1, DeveloperID: 10})
	require.Error(t, err)
	assert.Empty(t, keys)
	assert.True(t, errors.IsCode(err, errors.ErrInternal))
	assert.Equal(t, 0, counter.total)

	_, err = f.store.Licenses().FindByKey(context.Background(), "abc123def456")
	assert.True(t, errors.IsCode(err, errors.ErrNotFound))
}

func TestIssuer_GenerationExhausted(t *testing.T) {
	generator := &sequenceGenerator{keys: []string{"KP-TAKEN-AAAAA-AAAAA-AAAAA"}}
	issuer, f, counter := newIssuerFixture(t, generator)
	f.seedLicense(t, "KP-TAKEN-AAAAA-AAAAA-AAAAA", nil)

	_, err := issuer.Generate(context.Background(), GenerateRequest{AppID: 1, DeveloperID: 10})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGenerationExhausted)
	assert.Equal(t, 0, counter.total)
}

// TestIssuer_RoundTrip выпущенный ключ проходит Connect, а затем Validate с тем же устройством
func TestIssuer_RoundTrip(t *testing.T) {
	issuer, f, _ := newIssuerFixture(t, keygen.NewGenerator())

	keys, err := issuer.Generate(context.Background(), GenerateRequest{AppID: 1, DeveloperID: 10})
	require.NoError(t, err)
	key := keys[0].Key

	result, err := f.dispatcher.Connect(context.Background(), ConnectRequest{AppID: "1", UserKey: key, Serial: "hw-1"})
	require.NoError(t, err)
	require.True(t, result.Status, result.Reason)

	license, err := f.engine.Validate(context.Background(), key, int64Ptr(1), "hw-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), license.UsageCount)
	require.NotNil(t, license.ExpiresAt)
	assert.True(t, license.ExpiresAt.Equal(baseTime.AddDate(0, 0, DefaultDurationDays)))

	_, err = f.engine.Validate(context.Background(), key, nil, "hw-2")
	requireRejection(t, err, domain.DeviceNotAuthorized, domain.ReasonDeviceNotAuthorized)
}

func TestIssuer_GenerateAs(t *testing.T) {
	issuer, _, _ := newIssuerFixture(t, keygen.NewGenerator())
	ctx := context.Background()

	developer := &jwt.Claims{Role: jwt.RoleDeveloper, DeveloperID: 10}
	keys, err := issuer.GenerateAs(ctx, developer, GenerateRequest{AppID: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(10), *keys[0].DeveloperID)

	_, err = issuer.GenerateAs(ctx, developer, GenerateRequest{AppID: 1, DeveloperID: 11})
	assert.Equal(t, errors.ErrForbidden, errors.CodeOf(err))

	_, err = issuer.GenerateAs(ctx, &jwt.Claims{Role: "guest"}, GenerateRequest{AppID: 1, DeveloperID: 10})
	assert.Equal(t, errors.ErrForbidden, errors.CodeOf(err))
}

func TestIssuer_GenerateAsReseller(t *testing.T) {
	issuer, f, _ := newIssuerFixture(t, keygen.NewGenerator())
	ctx := context.Background()
	f.store.PutApp(&domain.App{ID: 2, Name: "Farm", Status: domain.AppStatusActive, DeveloperID: 77})
	f.store.PutApp(&domain.App{ID: 3, Name: "Chess", Status: domain.AppStatusActive, DeveloperID: 10})
	f.store.PutResellerApp(&domain.ResellerApp{ResellerID: 5, AppID: 1, DeveloperID: 10, Status: domain.AssignmentActive})
	f.store.PutResellerApp(&domain.ResellerApp{ResellerID: 5, AppID: 3, DeveloperID: 10, Status: domain.AssignmentRevoked})

	reseller := &jwt.Claims{Role: jwt.RoleReseller, ResellerID: 5}

	// developer_id берется из назначения, reseller_id из токена
	keys, err := issuer.GenerateAs(ctx, reseller, GenerateRequest{AppID: 1, DeveloperID: 99, ResellerID: int64Ptr(99)})
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, int64(5), *keys[0].ResellerID)
	assert.Equal(t, int64(10), *keys[0].DeveloperID)

	tests := []struct {
		name     string
		operator *jwt.Claims
		req      GenerateRequest
		code     errors.ErrorCode
	}{
		{"app of another developer, no assignment", reseller, GenerateRequest{AppID: 2}, errors.ErrForbidden},
		{"revoked assignment", reseller, GenerateRequest{AppID: 3}, errors.ErrForbidden},
		{"assignment of another reseller", &jwt.Claims{Role: jwt.RoleReseller, ResellerID: 6}, GenerateRequest{AppID: 1}, errors.ErrForbidden},
		{"token without reseller id", &jwt.Claims{Role: jwt.RoleReseller}, GenerateRequest{AppID: 1}, errors.ErrForbidden},
		{"missing app", reseller, GenerateRequest{}, errors.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys, err := issuer.GenerateAs(ctx, tt.operator, tt.req)
			require.Error(t, err)
			assert.Empty(t, keys)
			assert.Equal(t, tt.code, errors.CodeOf(err))
		})
	}
}

func TestIssuer_PartialBatchReturnsIssuedKeys(t *testing.T) {
	f := newDispatcherFixture(t, DispatcherConfig{})
	counter := &keysCounter{}
	licenses := &failingInserts{LicenseRepository: f.store.Licenses(), failAt: 2}
	issuer := NewIssuer(licenses, f.store.Apps(), f.store.ResellerApps(), keygen.NewGenerator(), 3, logger.NewNop()).
		WithObserver(counter)

	keys, err := issuer.Generate(context.Background(), GenerateRequest{AppID: 1, DeveloperID: 10, Quantity: 3})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrUnavailable))
	require.Len(t, keys, 1)
	assert.Equal(t, 1, counter.total)

	// выпущенный до сбоя ключ сохранен и работает
	stored := f.license(t, keys[0].Key)
	assert.Equal(t, domain.StatusActive, stored.Status)
}
