package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"LicensePlatform/pkg/logger"
	"LicensePlatform/services/license-service/internal/domain"
	"LicensePlatform/services/license-service/internal/repository/memory"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// testClock управляемое время для тестов
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: baseTime}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// conflictCounter считает промахи условных обновлений
type conflictCounter struct {
	mu    sync.Mutex
	count map[string]int
}

func (c *conflictCounter) ObserveCASConflict(operation string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count == nil {
		c.count = make(map[string]int)
	}
	c.count[operation]++
}

func (c *conflictCounter) Get(operation string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count[operation]
}

type engineFixture struct {
	engine *Engine
	store  *memory.Store
	clock  *testClock
}

func newEngineFixture(t *testing.T, policy ExpiryPolicy) *engineFixture {
	t.Helper()
	store := memory.NewStore()
	clock := newTestClock()
	engine := NewEngine(store.Licenses(), store.Legacy(),
		EngineConfig{ExpiryPolicy: policy, MaxCASRetries: 8},
		logger.NewNop(), WithClock(clock.Now))
	return &engineFixture{engine: engine, store: store, clock: clock}
}

// seedLicense добавляет активный ключ приложения 1 на одно устройство
func (f *engineFixture) seedLicense(t *testing.T, key string, mutate func(l *domain.LicenseKey)) *domain.LicenseKey {
	t.Helper()
	license := &domain.LicenseKey{
		Key:          key,
		AppID:        1,
		KeyType:      domain.KeyTypeSingle,
		MaxDevices:   1,
		DurationDays: 30,
		Status:       domain.StatusActive,
	}
	if mutate != nil {
		mutate(license)
	}
	require.NoError(t, f.store.Licenses().Insert(context.Background(), license))
	return license
}

func (f *engineFixture) seedLegacy(t *testing.T, userKey, game string, mutate func(k *domain.LegacyKey)) int64 {
	t.Helper()
	key := &domain.LegacyKey{
		UserKey:    userKey,
		Game:       game,
		Status:     domain.LegacyStatusEnabled,
		Duration:   30,
		MaxDevices: 1,
	}
	if mutate != nil {
		mutate(key)
	}
	return f.store.PutLegacy(key)
}

func (f *engineFixture) license(t *testing.T, key string) *domain.LicenseKey {
	t.Helper()
	license, err := f.store.Licenses().FindByKey(context.Background(), key)
	require.NoError(t, err)
	return license
}

func (f *engineFixture) legacyKey(t *testing.T, userKey, game string) *domain.LegacyKey {
	t.Helper()
	key, err := f.store.Legacy().FindByUserKeyAndGame(context.Background(), userKey, game)
	require.NoError(t, err)
	return key
}

func timePtr(t time.Time) *time.Time { return &t }

func int64Ptr(v int64) *int64 { return &v }
