package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"LicensePlatform/pkg/errors"
	"LicensePlatform/pkg/logger"
	"LicensePlatform/pkg/validation"
	"LicensePlatform/services/license-service/internal/audit"
	"LicensePlatform/services/license-service/internal/domain"
	"LicensePlatform/services/license-service/internal/repository"
	"LicensePlatform/services/license-service/internal/token"
)

// DispatcherConfig системные флаги, передаваемые при создании
type DispatcherConfig struct {
	Maintenance        bool
	MaintenanceMessage string
}

// AuthObserver учитывает исходы аутентификации
type AuthObserver interface {
	ObserveAuth(path, reason string)
}

// ConnectRequest параметры Connect. Serial это HWID клиента, для новой схемы
// допускается поле hwid.
type ConnectRequest struct {
	AppID    string `json:"app_id"`
	Game     string `json:"game"`
	UserKey  string `json:"user_key"`
	Serial   string `json:"serial"`
	HWID     string `json:"hwid"`
	ClientIP string `json:"-"`
}

// AppInfo сведения о приложении в успешном ответе новой схемы
type AppInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ConnectData данные успешной аутентификации
type ConnectData struct {
	Token   string   `json:"token"`
	RNG     int64    `json:"rng"`
	AppInfo *AppInfo `json:"app_info,omitempty"`
}

// ConnectResult ответ Connect
type ConnectResult struct {
	Status bool         `json:"status"`
	Reason string       `json:"reason,omitempty"`
	Data   *ConnectData `json:"data,omitempty"`
}

// MaintenanceStatus состояние работ для приложения
type MaintenanceStatus struct {
	Maintenance bool   `json:"maintenance"`
	Message     string `json:"message"`
}

type newPathParams struct {
	AppID   string `json:"app_id" validate:"required,numeric,max=20"`
	UserKey string `json:"user_key" validate:"required,max=100,licensekey"`
	Serial  string `json:"serial" validate:"required,alphadash"`
}

type legacyPathParams struct {
	Game    string `json:"game" validate:"omitempty,alphadash"`
	UserKey string `json:"user_key" validate:"required,alphanum,max=36"`
	Serial  string `json:"serial" validate:"required,alphadash"`
}

// Dispatcher выбирает путь аутентификации и выпускает токен
type Dispatcher struct {
	config    DispatcherConfig
	engine    *Engine
	apps      repository.AppRepository
	signer    *token.Signer
	sink      audit.Sink
	validator *validation.Validator
	observer  AuthObserver
	clock     func() time.Time
	logger    logger.Logger
}

// DispatcherOption настраивает Dispatcher
type DispatcherOption func(*Dispatcher)

// WithDispatcherClock подменяет источник времени для rng
func WithDispatcherClock(clock func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.clock = clock }
}

// WithAuthObserver подключает учет исходов
func WithAuthObserver(observer AuthObserver) DispatcherOption {
	return func(d *Dispatcher) { d.observer = observer }
}

// NewDispatcher создает диспетчер
func NewDispatcher(
	config DispatcherConfig,
	engine *Engine,
	apps repository.AppRepository,
	signer *token.Signer,
	sink audit.Sink,
	log logger.Logger,
	opts ...DispatcherOption,
) *Dispatcher {
	if config.MaintenanceMessage == "" {
		config.MaintenanceMessage = domain.DefaultMaintenanceMessage
	}
	d := &Dispatcher{
		config:    config,
		engine:    engine,
		apps:      apps,
		signer:    signer,
		sink:      sink,
		validator: validation.NewValidator(),
		clock:     time.Now,
		logger:    log.Named("dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Connect обрабатывает один запрос аутентификации.
// Порядок: формат параметров, системные работы, выбор пути, проверка по схеме.
// Отказы возвращаются в ConnectResult, ошибка означает сбой хранилища.
func (d *Dispatcher) Connect(ctx context.Context, req ConnectRequest) (*ConnectResult, error) {
	if req.Serial == "" {
		req.Serial = req.HWID
	}

	path := domain.PathLegacy
	var params interface{} = legacyPathParams{Game: req.Game, UserKey: req.UserKey, Serial: req.Serial}
	if req.AppID != "" {
		path = domain.PathNew
		params = newPathParams{AppID: req.AppID, UserKey: req.UserKey, Serial: req.Serial}
	}

	if err := d.validator.Struct(params); err != nil {
		d.logger.Debug("Bad connect parameters", logger.CtxField(ctx), logger.Error(err))
		return d.finish(ctx, req, path, nil, nil, domain.Reject(domain.BadParameter, domain.ReasonBadParameter))
	}

	if d.config.Maintenance {
		return d.finish(ctx, req, path, nil, nil, domain.Reject(domain.Maintenance, domain.ReasonMaintenance))
	}

	switch {
	case req.AppID != "":
		return d.connectNew(ctx, req)
	case req.Game != "":
		return d.connectLegacy(ctx, req)
	default:
		return d.finish(ctx, req, path, nil, nil, domain.Reject(domain.InvalidParameters, domain.ReasonInvalidParameter))
	}
}

func (d *Dispatcher) connectNew(ctx context.Context, req ConnectRequest) (*ConnectResult, error) {
	appID, err := strconv.ParseInt(req.AppID, 10, 64)
	if err != nil || appID <= 0 {
		return d.finish(ctx, req, domain.PathNew, nil, nil, domain.Reject(domain.BadParameter, domain.ReasonBadParameter))
	}

	app, err := d.resolveApp(ctx, appID)
	if err != nil {
		return d.finish(ctx, req, domain.PathNew, nil, nil, err)
	}

	license, err := d.engine.Authenticate(ctx, appID, req.UserKey, req.Serial)
	if err != nil {
		return d.finish(ctx, req, domain.PathNew, nil, nil, err)
	}

	data := &ConnectData{
		Token: d.signer.Sign(token.ScopeApp, req.AppID, license.Key, req.Serial),
		RNG:   d.clock().Unix(),
		AppInfo: &AppInfo{
			Name:    app.Name,
			Version: app.DisplayVersion(),
		},
	}
	return d.finish(ctx, req, domain.PathNew, &license.ID, data, nil)
}

func (d *Dispatcher) connectLegacy(ctx context.Context, req ConnectRequest) (*ConnectResult, error) {
	key, err := d.engine.AuthenticateLegacy(ctx, req.Game, req.UserKey, req.Serial)
	if err != nil {
		return d.finish(ctx, req, domain.PathLegacy, nil, nil, err)
	}

	data := &ConnectData{
		Token: d.signer.Sign(token.ScopeGame, req.Game, key.UserKey, req.Serial),
		RNG:   d.clock().Unix(),
	}
	return d.finish(ctx, req, domain.PathLegacy, &key.ID, data, nil)
}

// resolveApp находит активное приложение. Работы разработчика перекрывают работы приложения.
func (d *Dispatcher) resolveApp(ctx context.Context, appID int64) (*domain.App, error) {
	app, err := d.apps.FindByID(ctx, appID)
	if err != nil {
		if errors.IsCode(err, errors.ErrNotFound) {
			return nil, domain.Reject(domain.AppNotFoundOrInactive, domain.ReasonAppNotFound)
		}
		return nil, err
	}
	if app.Status != domain.AppStatusActive {
		return nil, domain.Reject(domain.AppNotFoundOrInactive, domain.ReasonAppNotFound)
	}
	if inMaintenance, message := app.InMaintenance(); inMaintenance {
		return nil, domain.Reject(domain.AppMaintenance, domain.ReasonAppMaintenance+" - "+message)
	}
	return app, nil
}

// Maintenance состояние работ для приложения с учетом системного флага
func (d *Dispatcher) Maintenance(ctx context.Context, appID int64) (*MaintenanceStatus, error) {
	app, err := d.apps.FindByID(ctx, appID)
	if err != nil {
		return nil, err
	}
	if d.config.Maintenance {
		return &MaintenanceStatus{Maintenance: true, Message: d.config.MaintenanceMessage}, nil
	}
	inMaintenance, message := app.InMaintenance()
	return &MaintenanceStatus{Maintenance: inMaintenance, Message: message}, nil
}

// App возвращает приложение по ID
func (d *Dispatcher) App(ctx context.Context, appID int64) (*domain.App, error) {
	return d.apps.FindByID(ctx, appID)
}

// finish превращает итог в ответ и пишет журнал. Отказ становится ответом
// со status=false, прочие ошибки возвращаются как сбой.
func (d *Dispatcher) finish(ctx context.Context, req ConnectRequest, path string, recordID *int64, data *ConnectData, err error) (*ConnectResult, error) {
	event := domain.AuditEvent{
		ID:        uuid.NewString(),
		Path:      path,
		Game:      req.Game,
		LicenseID: recordID,
		KeyHint:   keyHint(req.UserKey),
		HWID:      req.Serial,
		IPAddress: req.ClientIP,
		CreatedAt: d.clock().UTC(),
	}
	if appID, parseErr := strconv.ParseInt(req.AppID, 10, 64); parseErr == nil {
		event.AppID = &appID
	}

	var result *ConnectResult
	switch rejection, ok := domain.AsRejection(err); {
	case err == nil:
		event.Outcome = domain.OutcomeSuccess
		event.Description = fmt.Sprintf("License auth success (%s path)", path)
		result = &ConnectResult{Status: true, Data: data}
	case ok:
		event.Outcome = domain.OutcomeRejected
		event.Reason = rejection.Reason
		event.Description = fmt.Sprintf("License auth rejected (%s path): %s", path, rejection.Reason)
		result = &ConnectResult{Status: false, Reason: rejection.Reason}
	default:
		event.Outcome = domain.OutcomeError
		event.Reason = domain.ReasonServiceUnavailable
		event.Description = fmt.Sprintf("License auth failed (%s path)", path)
		d.logger.Error("Connect failed", logger.CtxField(ctx), logger.String("path", path), logger.Error(err))
	}

	if d.observer != nil {
		d.observer.ObserveAuth(path, event.Reason)
	}
	d.sink.Record(ctx, event)

	if result == nil {
		return nil, err
	}
	return result, nil
}

// keyHint первые символы ключа для журнала, ключ целиком не пишется
func keyHint(key string) string {
	const visible = 6
	if len(key) <= visible {
		return key
	}
	return key[:visible] + "..."
}
