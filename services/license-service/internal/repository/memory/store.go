// Package memory хранилище в памяти процесса с той же семантикой условных
// обновлений, что и у PostgreSQL. Используется в тестах и при storage.driver=memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"LicensePlatform/pkg/errors"
	"LicensePlatform/services/license-service/internal/domain"
	"LicensePlatform/services/license-service/internal/repository"
)

// Store общее состояние всех репозиториев
type Store struct {
	mu sync.RWMutex

	licenses map[int64]*domain.LicenseKey
	byKey    map[string]int64
	legacy   map[int64]*domain.LegacyKey
	apps     map[int64]*domain.App
	assigned map[resellerAppKey]*domain.ResellerApp
	audit    []*domain.AuditEvent

	nextLicenseID    int64
	nextLegacyID     int64
	nextAssignmentID int64
	now           func() time.Time
}

// NewStore создает пустое хранилище
func NewStore() *Store {
	return &Store{
		licenses: make(map[int64]*domain.LicenseKey),
		byKey:    make(map[string]int64),
		legacy:   make(map[int64]*domain.LegacyKey),
		apps:     make(map[int64]*domain.App),
		assigned: make(map[resellerAppKey]*domain.ResellerApp),
		now:      time.Now,
	}
}

// Licenses репозиторий ключей новой схемы
func (s *Store) Licenses() *LicenseRepository { return &LicenseRepository{s: s} }

// Legacy репозиторий keys_code
func (s *Store) Legacy() *LegacyKeyRepository { return &LegacyKeyRepository{s: s} }

// Apps репозиторий приложений
func (s *Store) Apps() *AppRepository { return &AppRepository{s: s} }

// ResellerApps назначения приложений реселлерам
func (s *Store) ResellerApps() *ResellerAppRepository { return &ResellerAppRepository{s: s} }

// Audit журнал аутентификаций
func (s *Store) Audit() *AuditRepository { return &AuditRepository{s: s} }

// PutApp добавляет или заменяет приложение
func (s *Store) PutApp(app *domain.App) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *app
	s.apps[app.ID] = &cp
}

// PutResellerApp добавляет или заменяет назначение пары реселлер и приложение
func (s *Store) PutResellerApp(assignment *domain.ResellerApp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *assignment
	if cp.ID == 0 {
		s.nextAssignmentID++
		cp.ID = s.nextAssignmentID
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	s.assigned[resellerAppKey{reseller: cp.ResellerID, app: cp.AppID}] = &cp
}

// PutLegacy добавляет legacy ключ и возвращает его ID
func (s *Store) PutLegacy(key *domain.LegacyKey) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLegacyID++
	cp := key.Clone()
	cp.ID = s.nextLegacyID
	s.legacy[cp.ID] = cp
	return cp.ID
}

// AuditEvents возвращает копию журнала
func (s *Store) AuditEvents() []domain.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AuditEvent, len(s.audit))
	for i, event := range s.audit {
		out[i] = *event
	}
	return out
}

// LicenseRepository реализует repository.LicenseRepository
type LicenseRepository struct{ s *Store }

var _ repository.LicenseRepository = (*LicenseRepository)(nil)

func (r *LicenseRepository) FindByKey(ctx context.Context, key string) (*domain.LicenseKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrUnavailable, "failed to find license")
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	id, ok := r.s.byKey[key]
	if !ok {
		return nil, errors.New(errors.ErrNotFound, "license not found")
	}
	return r.s.licenses[id].Clone(), nil
}

func (r *LicenseRepository) FindByID(ctx context.Context, id int64) (*domain.LicenseKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrUnavailable, "failed to find license")
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	license, ok := r.s.licenses[id]
	if !ok {
		return nil, errors.New(errors.ErrNotFound, "license not found")
	}
	return license.Clone(), nil
}

func (r *LicenseRepository) Insert(ctx context.Context, license *domain.LicenseKey) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrUnavailable, "failed to insert license")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.byKey[license.Key]; exists {
		return errors.New(errors.ErrConflict, "license key already exists").
			WithDetails(fmt.Sprintf("key: %s", license.Key))
	}

	now := r.s.now()
	r.s.nextLicenseID++
	license.ID = r.s.nextLicenseID
	license.Version = 1
	license.DeviceCount = license.Devices.Len()
	license.CreatedAt = now
	license.UpdatedAt = now

	r.s.licenses[license.ID] = license.Clone()
	r.s.byKey[license.Key] = license.ID
	return nil
}

func (r *LicenseRepository) Update(ctx context.Context, id int64, expectedVersion int64, next *domain.LicenseKey) (*domain.LicenseKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrUnavailable, "failed to update license")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.licenses[id]
	if !ok {
		return nil, errors.New(errors.ErrNotFound, "license not found")
	}
	if current.Version != expectedVersion {
		return nil, repository.ErrStale
	}

	stored := next.Clone()
	stored.ID = current.ID
	stored.Key = current.Key
	stored.CreatedAt = current.CreatedAt
	stored.DeviceCount = stored.Devices.Len()
	stored.Version = current.Version + 1
	stored.UpdatedAt = r.s.now()

	r.s.licenses[id] = stored
	return stored.Clone(), nil
}

func (r *LicenseRepository) ListExpiring(ctx context.Context, appID *int64, from, to time.Time) ([]*domain.LicenseKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrUnavailable, "failed to list expiring licenses")
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*domain.LicenseKey
	for _, license := range r.s.licenses {
		if license.Status != domain.StatusActive || license.ExpiresAt == nil {
			continue
		}
		if appID != nil && license.AppID != *appID {
			continue
		}
		if license.ExpiresAt.After(from) && !license.ExpiresAt.After(to) {
			out = append(out, license.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	return out, nil
}

// LegacyKeyRepository реализует repository.LegacyKeyRepository
type LegacyKeyRepository struct{ s *Store }

var _ repository.LegacyKeyRepository = (*LegacyKeyRepository)(nil)

func (r *LegacyKeyRepository) FindByUserKeyAndGame(ctx context.Context, userKey, game string) (*domain.LegacyKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrUnavailable, "failed to find legacy key")
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, key := range r.s.legacy {
		if key.UserKey == userKey && key.Game == game {
			return key.Clone(), nil
		}
	}
	return nil, errors.New(errors.ErrNotFound, "legacy key not found")
}

func (r *LegacyKeyRepository) CompareAndSwap(ctx context.Context, prev, next *domain.LegacyKey) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrUnavailable, "failed to update legacy key")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.legacy[prev.ID]
	if !ok {
		return errors.New(errors.ErrNotFound, "legacy key not found")
	}
	if !sameDevices(current.Devices, prev.Devices) || !sameTime(current.ExpiredDate, prev.ExpiredDate) {
		return repository.ErrStale
	}

	current.Devices = next.Devices.Clone()
	if next.ExpiredDate != nil {
		t := *next.ExpiredDate
		current.ExpiredDate = &t
	} else {
		current.ExpiredDate = nil
	}
	return nil
}

// AppRepository реализует repository.AppRepository
type AppRepository struct{ s *Store }

var _ repository.AppRepository = (*AppRepository)(nil)

func (r *AppRepository) FindByID(ctx context.Context, id int64) (*domain.App, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrUnavailable, "failed to find app")
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	app, ok := r.s.apps[id]
	if !ok {
		return nil, errors.New(errors.ErrNotFound, "app not found")
	}
	cp := *app
	return &cp, nil
}

type resellerAppKey struct {
	reseller int64
	app      int64
}

// ResellerAppRepository реализует repository.ResellerAppRepository
type ResellerAppRepository struct{ s *Store }

var _ repository.ResellerAppRepository = (*ResellerAppRepository)(nil)

func (r *ResellerAppRepository) FindAssignment(ctx context.Context, resellerID, appID int64) (*domain.ResellerApp, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrUnavailable, "failed to find reseller assignment")
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	assignment, ok := r.s.assigned[resellerAppKey{reseller: resellerID, app: appID}]
	if !ok {
		return nil, errors.New(errors.ErrNotFound, "reseller assignment not found")
	}
	cp := *assignment
	return &cp, nil
}

// AuditRepository реализует repository.AuditRepository
type AuditRepository struct{ s *Store }

var _ repository.AuditRepository = (*AuditRepository)(nil)

func (r *AuditRepository) Insert(ctx context.Context, event *domain.AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrUnavailable, "failed to insert audit event")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *event
	r.s.audit = append(r.s.audit, &cp)
	return nil
}

// sameDevices сравнивает наборы так же, как столбец devices после кодирования в строку
func sameDevices(a, b domain.DeviceSet) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
