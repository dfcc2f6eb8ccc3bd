package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"LicensePlatform/services/license-service/internal/domain"
)

// MockLicenseRepository имитирует repository.LicenseRepository
type MockLicenseRepository struct {
	mock.Mock
}

func (m *MockLicenseRepository) FindByKey(ctx context.Context, key string) (*domain.LicenseKey, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LicenseKey), args.Error(1)
}

func (m *MockLicenseRepository) FindByID(ctx context.Context, id int64) (*domain.LicenseKey, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LicenseKey), args.Error(1)
}

func (m *MockLicenseRepository) Insert(ctx context.Context, license *domain.LicenseKey) error {
	args := m.Called(ctx, license)
	return args.Error(0)
}

func (m *MockLicenseRepository) Update(ctx context.Context, id int64, expectedVersion int64, next *domain.LicenseKey) (*domain.LicenseKey, error) {
	args := m.Called(ctx, id, expectedVersion, next)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LicenseKey), args.Error(1)
}

func (m *MockLicenseRepository) ListExpiring(ctx context.Context, appID *int64, from, to time.Time) ([]*domain.LicenseKey, error) {
	args := m.Called(ctx, appID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.LicenseKey), args.Error(1)
}

// MockLegacyKeyRepository имитирует repository.LegacyKeyRepository
type MockLegacyKeyRepository struct {
	mock.Mock
}

func (m *MockLegacyKeyRepository) FindByUserKeyAndGame(ctx context.Context, userKey, game string) (*domain.LegacyKey, error) {
	args := m.Called(ctx, userKey, game)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LegacyKey), args.Error(1)
}

func (m *MockLegacyKeyRepository) CompareAndSwap(ctx context.Context, prev, next *domain.LegacyKey) error {
	args := m.Called(ctx, prev, next)
	return args.Error(0)
}

// MockAppRepository имитирует repository.AppRepository
type MockAppRepository struct {
	mock.Mock
}

func (m *MockAppRepository) FindByID(ctx context.Context, id int64) (*domain.App, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.App), args.Error(1)
}

// MockSink имитирует audit.Sink
type MockSink struct {
	mock.Mock
}

func (m *MockSink) Record(ctx context.Context, event domain.AuditEvent) {
	m.Called(ctx, event)
}
