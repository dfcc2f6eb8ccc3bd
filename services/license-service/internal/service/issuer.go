package service

import (
	"context"
	"fmt"

	"LicensePlatform/pkg/errors"
	"LicensePlatform/pkg/logger"
	"LicensePlatform/pkg/validation"
	"LicensePlatform/services/license-service/internal/domain"
	"LicensePlatform/services/license-service/internal/keygen"
	"LicensePlatform/services/license-service/internal/pkg/jwt"
	"LicensePlatform/services/license-service/internal/repository"
)

// Значения по умолчанию для выпуска ключей
const (
	DefaultKeyType      = domain.KeyTypeSingle
	DefaultMaxDevices   = 1
	DefaultDurationDays = 30
	MaxBatchQuantity    = 100
)

// GenerateRequest параметры выпуска ключей
type GenerateRequest struct {
	AppID        int64   `json:"app_id" validate:"required,gt=0"`
	DeveloperID  int64   `json:"developer_id" validate:"required,gt=0"`
	ResellerID   *int64  `json:"reseller_id,omitempty" validate:"omitempty,gt=0"`
	KeyType      string  `json:"key_type" validate:"omitempty,oneof=single multi"`
	MaxDevices   int     `json:"max_devices" validate:"gte=0"`
	DurationDays int     `json:"duration_days" validate:"gte=0"`
	Price        float64 `json:"price" validate:"gte=0"`
	Quantity     int     `json:"quantity" validate:"gte=0,lte=100"`
}

// KeysObserver учитывает выпущенные ключи
type KeysObserver interface {
	ObserveKeysIssued(count int)
}

// Issuer выпускает ключи для приложений разработчика
type Issuer struct {
	licenses  repository.LicenseRepository
	apps      repository.AppRepository
	resellers repository.ResellerAppRepository
	generator keygen.Generator
	attempts  int
	validator *validation.Validator
	observer  KeysObserver
	logger    logger.Logger
}

// NewIssuer создает выпускающий сервис. attempts ограничивает повторы при коллизии ключа,
// resellers проверяет доступ реселлера к приложению.
func NewIssuer(
	licenses repository.LicenseRepository,
	apps repository.AppRepository,
	resellers repository.ResellerAppRepository,
	generator keygen.Generator,
	attempts int,
	log logger.Logger,
) *Issuer {
	if attempts <= 0 {
		attempts = 5
	}
	return &Issuer{
		licenses:  licenses,
		apps:      apps,
		resellers: resellers,
		generator: generator,
		attempts:  attempts,
		validator: validation.NewValidator(),
		logger:    log.Named("issuer"),
	}
}

// WithObserver подключает учет выпущенных ключей
func (i *Issuer) WithObserver(observer KeysObserver) *Issuer {
	i.observer = observer
	return i
}

// Generate выпускает Quantity ключей (по умолчанию один). Приложение должно
// принадлежать DeveloperID. Ключи пачки пишутся по одному: при ошибке посередине
// уже выпущенные ключи остаются действующими и возвращаются вместе с ошибкой.
func (i *Issuer) Generate(ctx context.Context, req GenerateRequest) ([]*domain.LicenseKey, error) {
	if err := i.validator.Struct(req); err != nil {
		return nil, err
	}
	applyDefaults(&req)

	if req.KeyType == domain.KeyTypeSingle && req.MaxDevices != 1 {
		return nil, errors.New(errors.ErrValidation, "validation failed").
			WithDetails("single keys must have max_devices = 1")
	}

	app, err := i.apps.FindByID(ctx, req.AppID)
	if err != nil {
		if errors.IsCode(err, errors.ErrNotFound) {
			return nil, errors.New(errors.ErrValidation, "app not found").
				WithDetails(fmt.Sprintf("app_id: %d", req.AppID))
		}
		return nil, err
	}
	if app.DeveloperID != req.DeveloperID {
		return nil, errors.New(errors.ErrForbidden, "app belongs to another developer").
			WithDetails(fmt.Sprintf("app_id: %d", req.AppID))
	}

	issued := make([]*domain.LicenseKey, 0, req.Quantity)
	for n := 0; n < req.Quantity; n++ {
		license, err := i.issueOne(ctx, req)
		if err != nil {
			if len(issued) > 0 {
				i.observeIssued(len(issued))
				i.logger.Warn("License batch interrupted",
					logger.CtxField(ctx),
					logger.Int64("app_id", req.AppID),
					logger.Int("issued", len(issued)),
					logger.Int("requested", req.Quantity),
					logger.Error(err))
			}
			return issued, err
		}
		issued = append(issued, license)
	}

	i.observeIssued(len(issued))
	i.logger.Info("License keys issued",
		logger.CtxField(ctx),
		logger.Int64("app_id", req.AppID),
		logger.Int("quantity", len(issued)),
		logger.String("key_type", req.KeyType))
	return issued, nil
}

// GenerateAs выпускает ключи от имени оператора. Разработчик выпускает только
// для себя. Реселлер выпускает только для назначенных ему приложений, под своим
// reseller_id и от имени разработчика из назначения.
func (i *Issuer) GenerateAs(ctx context.Context, operator *jwt.Claims, req GenerateRequest) ([]*domain.LicenseKey, error) {
	switch operator.Role {
	case jwt.RoleAdmin:
	case jwt.RoleDeveloper:
		if req.DeveloperID == 0 {
			req.DeveloperID = operator.DeveloperID
		}
		if req.DeveloperID != operator.DeveloperID {
			return nil, errors.New(errors.ErrForbidden, "developer_id does not match the token")
		}
	case jwt.RoleReseller:
		if req.AppID <= 0 {
			// запрос без приложения отклонит валидация
			break
		}
		assignment, err := i.assignment(ctx, operator.ResellerID, req.AppID)
		if err != nil {
			return nil, err
		}
		resellerID := operator.ResellerID
		req.ResellerID = &resellerID
		req.DeveloperID = assignment.DeveloperID
	default:
		return nil, errors.New(errors.ErrForbidden, "role is not allowed")
	}
	return i.Generate(ctx, req)
}

// assignment действующее назначение приложения реселлеру
func (i *Issuer) assignment(ctx context.Context, resellerID, appID int64) (*domain.ResellerApp, error) {
	denied := errors.New(errors.ErrForbidden, "app is not assigned to the reseller").
		WithDetails(fmt.Sprintf("app_id: %d", appID))
	if resellerID <= 0 || i.resellers == nil {
		return nil, denied
	}

	assignment, err := i.resellers.FindAssignment(ctx, resellerID, appID)
	if err != nil {
		if errors.IsCode(err, errors.ErrNotFound) {
			return nil, denied
		}
		return nil, err
	}
	if !assignment.Active() {
		return nil, denied
	}
	return assignment, nil
}

func (i *Issuer) observeIssued(count int) {
	if i.observer != nil {
		i.observer.ObserveKeysIssued(count)
	}
}

// issueOne повторяет выпуск при коллизии строки ключа
func (i *Issuer) issueOne(ctx context.Context, req GenerateRequest) (*domain.LicenseKey, error) {
	developerID := req.DeveloperID
	for attempt := 1; attempt <= i.attempts; attempt++ {
		key, err := i.generator.Generate()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrInternal, "failed to generate license key")
		}
		// ключ новой схемы не должен совпадать по виду с legacy ключом
		if !keygen.IsNewFormat(key) {
			return nil, errors.New(errors.ErrInternal, "generated license key has unexpected format")
		}

		license := &domain.LicenseKey{
			Key:          key,
			AppID:        req.AppID,
			DeveloperID:  &developerID,
			ResellerID:   req.ResellerID,
			KeyType:      req.KeyType,
			MaxDevices:   req.MaxDevices,
			DurationDays: req.DurationDays,
			Price:        req.Price,
			Status:       domain.StatusActive,
		}

		err = i.licenses.Insert(ctx, license)
		if err == nil {
			return license, nil
		}
		if !errors.IsCode(err, errors.ErrConflict) {
			return nil, err
		}
		i.logger.Warn("License key collision, regenerating",
			logger.Int("attempt", attempt),
			logger.Int64("app_id", req.AppID))
	}
	return nil, domain.ErrGenerationExhausted
}

func applyDefaults(req *GenerateRequest) {
	if req.KeyType == "" {
		req.KeyType = DefaultKeyType
	}
	if req.MaxDevices == 0 {
		req.MaxDevices = DefaultMaxDevices
	}
	if req.DurationDays == 0 {
		req.DurationDays = DefaultDurationDays
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
}
