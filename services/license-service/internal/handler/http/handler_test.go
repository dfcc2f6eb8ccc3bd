package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"LicensePlatform/pkg/errors"
	"LicensePlatform/pkg/health"
	"LicensePlatform/pkg/logger"
	"LicensePlatform/pkg/ratelimit"
	"LicensePlatform/services/license-service/internal/audit"
	"LicensePlatform/services/license-service/internal/domain"
	"LicensePlatform/services/license-service/internal/keygen"
	"LicensePlatform/services/license-service/internal/mocks"
	"LicensePlatform/services/license-service/internal/pkg/jwt"
	"LicensePlatform/services/license-service/internal/repository"
	"LicensePlatform/services/license-service/internal/repository/memory"
	"LicensePlatform/services/license-service/internal/service"
	"LicensePlatform/services/license-service/internal/token"
)

type fixture struct {
	t      *testing.T
	store  *memory.Store
	router http.Handler
	tokens *jwt.Manager
}

func newFixture(t *testing.T, apps repository.AppRepository, opts RouterOptions) *fixture {
	t.Helper()
	return newIssuingFixture(t, apps, nil, opts)
}

// newIssuingFixture позволяет подменить хранилище ключей выпускающего сервиса
func newIssuingFixture(t *testing.T, apps repository.AppRepository, issuerLicenses func(repository.LicenseRepository) repository.LicenseRepository, opts RouterOptions) *fixture {
	t.Helper()
	store := memory.NewStore()
	store.PutApp(&domain.App{ID: 1, Name: "Space Racer", Description: "racing", Version: "2.1.0",
		Status: domain.AppStatusActive, DeveloperID: 10})
	store.PutApp(&domain.App{ID: 2, Name: "Farm", Status: domain.AppStatusActive, DeveloperID: 20,
		MaintenanceMode: true, MaintenanceMessage: "patching"})
	if apps == nil {
		apps = store.Apps()
	}

	log := logger.NewNop()
	signer, err := token.NewSigner(map[string]string{"k1": "test-secret-0123456789"}, "k1")
	require.NoError(t, err)

	engine := service.NewEngine(store.Licenses(), store.Legacy(), service.EngineConfig{}, log)
	dispatcher := service.NewDispatcher(service.DispatcherConfig{}, engine, apps, signer, audit.NopSink{}, log)
	var licenses repository.LicenseRepository = store.Licenses()
	if issuerLicenses != nil {
		licenses = issuerLicenses(licenses)
	}
	issuer := service.NewIssuer(licenses, apps, store.ResellerApps(), keygen.NewGenerator(), 3, log)

	tokens := jwt.NewManager("admin-secret", "license-service", time.Hour)
	opts.Admin = tokens

	handler := NewHandler(ServiceInfo{Name: "license-service", Version: "2.0.0"}, dispatcher, engine, issuer, log)
	return &fixture{t: t, store: store, router: handler.Routes(opts), tokens: tokens}
}

func (f *fixture) seedLicense(key string, mutate func(l *domain.LicenseKey)) {
	f.t.Helper()
	license := &domain.LicenseKey{Key: key, AppID: 1, KeyType: domain.KeyTypeSingle, MaxDevices: 1,
		DurationDays: 30, Status: domain.StatusActive}
	if mutate != nil {
		mutate(license)
	}
	require.NoError(f.t, f.store.Licenses().Insert(context.Background(), license))
}

func (f *fixture) token(role string, developerID, resellerID int64) string {
	f.t.Helper()
	raw, err := f.tokens.Generate("operator-1", role, developerID, resellerID)
	require.NoError(f.t, err)
	return raw
}

func (f *fixture) do(req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	f.t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	body := map[string]interface{}{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	}
	return rec, body
}

func formRequest(method, target string, values url.Values) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func withBearer(req *http.Request, raw string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+raw)
	return req
}

func TestConnect_Form(t *testing.T) {
	f := newFixture(t, nil, RouterOptions{})
	f.seedLicense("KP-AAAAA", nil)

	rec, body := f.do(formRequest(http.MethodPost, "/connect", url.Values{
		"app_id": {"1"}, "user_key": {"KP-AAAAA"}, "serial": {"hw-1"},
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["status"])
	data, ok := body["data"].(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, data["token"])
	assert.NotZero(t, data["rng"])
	assert.Equal(t, map[string]interface{}{"name": "Space Racer", "version": "2.1.0"}, data["app_info"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestConnect_JSONWithNumericAppID(t *testing.T) {
	f := newFixture(t, nil, RouterOptions{})
	f.seedLicense("KP-AAAAA", nil)

	rec, body := f.do(jsonRequest(http.MethodPost, "/connect",
		`{"app_id": 1, "user_key": "KP-AAAAA", "hwid": "hw-1"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["status"])
}

func TestConnect_Rejections(t *testing.T) {
	f := newFixture(t, nil, RouterOptions{})
	f.seedLicense("KP-AAAAA", nil)

	tests := []struct {
		name   string
		req    *http.Request
		reason string
	}{
		{"empty form", formRequest(http.MethodPost, "/connect", url.Values{}), domain.ReasonBadParameter},
		{"broken json", jsonRequest(http.MethodPost, "/connect", `{"app_id":`), domain.ReasonBadParameter},
		{"no app or game", formRequest(http.MethodPost, "/connect", url.Values{"user_key": {"abc"}, "serial": {"hw"}}),
			domain.ReasonInvalidParameter},
		{"app maintenance", formRequest(http.MethodPost, "/connect", url.Values{
			"app_id": {"2"}, "user_key": {"KP-AAAAA"}, "serial": {"hw"}}), "APP MAINTENANCE - patching"},
		{"legacy unknown", formRequest(http.MethodPost, "/connect", url.Values{
			"game": {"pubg"}, "user_key": {"abc"}, "serial": {"hw"}}), domain.ReasonLegacyNotRegistered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := f.do(tt.req)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, false, body["status"])
			assert.Equal(t, tt.reason, body["reason"])
			assert.NotContains(t, body, "data")
		})
	}
}

func TestConnect_StorageFault(t *testing.T) {
	apps := new(mocks.MockAppRepository)
	apps.On("FindByID", mock.Anything, int64(1)).
		Return(nil, errors.New(errors.ErrUnavailable, "failed to find app"))
	f := newFixture(t, apps, RouterOptions{})

	rec, body := f.do(formRequest(http.MethodPost, "/connect", url.Values{
		"app_id": {"1"}, "user_key": {"KP-AAAAA"}, "serial": {"hw-1"},
	}))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, map[string]interface{}{"status": false, "reason": domain.ReasonServiceUnavailable}, body)
}

func TestConnect_RateLimited(t *testing.T) {
	f := newFixture(t, nil, RouterOptions{
		Limiter:       ratelimit.NewLocalRateLimiter(time.Minute),
		ConnectLimit:  1,
		ConnectWindow: time.Minute,
	})

	rec, _ := f.do(formRequest(http.MethodPost, "/connect", url.Values{}))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(formRequest(http.MethodPost, "/connect", url.Values{}))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// информационные маршруты лимитом не ограничены
	rec, _ = f.do(httptest.NewRequest(http.MethodGet, "/connect/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConnect_InfoAndHealth(t *testing.T) {
	f := newFixture(t, nil, RouterOptions{})

	rec, body := f.do(httptest.NewRequest(http.MethodGet, "/connect", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"_client": "license-service", "version": "2.0.0"}, body["web_info"])

	rec, body = f.do(httptest.NewRequest(http.MethodGet, "/connect/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "connect", body["endpoint"])
}

func TestValidateLicense(t *testing.T) {
	f := newFixture(t, nil, RouterOptions{})
	f.seedLicense("KP-BOUND", func(l *domain.LicenseKey) { l.Devices = domain.DeviceSet{"hw-1"} })

	tests := []struct {
		name    string
		values  url.Values
		status  bool
		message string
	}{
		{"missing hwid", url.Values{"license_key": {"KP-BOUND"}, "app_id": {"1"}}, false, msgMissingParameters},
		{"bad app id", url.Values{"license_key": {"KP-BOUND"}, "app_id": {"x"}, "hwid": {"hw-1"}}, false, msgMissingParameters},
		{"unknown", url.Values{"license_key": {"KP-NONE"}, "app_id": {"1"}, "hwid": {"hw-1"}}, false, "License not found"},
		{"other device", url.Values{"license_key": {"KP-BOUND"}, "app_id": {"1"}, "hwid": {"hw-2"}}, false, "Device not authorized"},
		{"valid", url.Values{"license_key": {"KP-BOUND"}, "app_id": {"1"}, "hwid": {"hw-1"}}, true, "License is valid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := f.do(formRequest(http.MethodPost, "/api/v1/validate-license", tt.values))
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.status, body["status"])
			assert.Equal(t, tt.message, body["message"])
		})
	}
}

func TestActivateLicense(t *testing.T) {
	f := newFixture(t, nil, RouterOptions{})
	f.seedLicense("KP-AAAAA", nil)

	rec, body := f.do(jsonRequest(http.MethodPost, "/api/v1/activate-license",
		`{"license_key":"KP-AAAAA","app_id":1,"user_id":7,"hwid":"hw-1"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["status"])
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["device_count"])
	assert.NotNil(t, data["expires_at"])

	_, body = f.do(jsonRequest(http.MethodPost, "/api/v1/activate-license",
		`{"license_key":"KP-AAAAA","app_id":1,"user_id":8,"hwid":"hw-1"}`))
	assert.Equal(t, false, body["status"])
	assert.Equal(t, "License is bound to another user", body["message"])

	_, body = f.do(jsonRequest(http.MethodPost, "/api/v1/activate-license",
		`{"license_key":"KP-AAAAA","app_id":1,"hwid":"hw-1"}`))
	assert.Equal(t, msgMissingParameters, body["message"])
}

func TestAppInfoAndMaintenance(t *testing.T) {
	f := newFixture(t, nil, RouterOptions{})

	_, body := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/app-info/1", nil))
	assert.Equal(t, true, body["status"])
	assert.Equal(t, map[string]interface{}{
		"app_name": "Space Racer", "description": "racing", "version": "2.1.0", "status": "active",
	}, body["data"])

	_, body = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/app-info/99", nil))
	assert.Equal(t, false, body["status"])
	assert.Equal(t, msgAppNotFound, body["message"])

	_, body = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/app-info/abc", nil))
	assert.Equal(t, msgAppNotFound, body["message"])

	_, body = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/check-maintenance/2", nil))
	assert.Equal(t, true, body["status"])
	assert.Equal(t, true, body["maintenance"])
	assert.Equal(t, "patching", body["message"])

	_, body = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/check-maintenance/1", nil))
	assert.Equal(t, false, body["maintenance"])
}

func TestGenerateKeys(t *testing.T) {
	f := newFixture(t, nil, RouterOptions{})

	rec, _ := f.do(jsonRequest(http.MethodPost, "/api/v1/licenses", `{"app_id":1}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	developer := f.token(jwt.RoleDeveloper, 10, 0)
	rec, body := f.do(withBearer(jsonRequest(http.MethodPost, "/api/v1/licenses", `{"app_id":1}`), developer))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["success"])
	key, _ := body["license_key"].(string)
	assert.True(t, keygen.IsNewFormat(key), key)
	assert.NotContains(t, body, "license_keys")

	rec, body = f.do(withBearer(jsonRequest(http.MethodPost, "/api/v1/licenses",
		`{"app_id":1,"developer_id":20}`), developer))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, false, body["success"])

	rec, body = f.do(withBearer(jsonRequest(http.MethodPost, "/api/v1/licenses", `{"app_id":2}`), developer))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "app belongs to another developer", body["message"])

	rec, body = f.do(withBearer(jsonRequest(http.MethodPost, "/api/v1/licenses",
		`{"app_id":1,"key_type":"single","max_devices":3}`), developer))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "single keys must have max_devices = 1", body["message"])

	rec, _ = f.do(withBearer(jsonRequest(http.MethodPost, "/api/v1/licenses", `not json`), developer))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateKeys_ResellerBatch(t *testing.T) {
	f := newFixture(t, nil, RouterOptions{})
	f.store.PutResellerApp(&domain.ResellerApp{ResellerID: 5, AppID: 1, DeveloperID: 10, Status: domain.AssignmentActive})
	reseller := f.token(jwt.RoleReseller, 0, 5)

	rec, body := f.do(withBearer(jsonRequest(http.MethodPost, "/api/v1/licenses", `{"app_id":2,"developer_id":20}`), reseller))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "app is not assigned to the reseller", body["message"])

	rec, body = f.do(withBearer(jsonRequest(http.MethodPost, "/api/v1/licenses",
		`{"app_id":1,"reseller_id":99,"key_type":"multi","max_devices":3,"quantity":4}`), reseller))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	keys, ok := body["license_keys"].([]interface{})
	require.True(t, ok)
	require.Len(t, keys, 4)

	license, err := f.store.Licenses().FindByKey(context.Background(), keys[0].(string))
	require.NoError(t, err)
	require.NotNil(t, license.ResellerID)
	assert.Equal(t, int64(5), *license.ResellerID, "reseller id must come from the token")
	require.NotNil(t, license.DeveloperID)
	assert.Equal(t, int64(10), *license.DeveloperID, "developer id must come from the assignment")
	assert.Equal(t, 3, license.MaxDevices)
}

// failingInserts отказывает на failAt-й вставке
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

func TestGenerateKeys_PartialBatchReportsIssuedKeys(t *testing.T) {
	f := newIssuingFixture(t, nil, func(licenses repository.LicenseRepository) repository.LicenseRepository {
		return &failingInserts{LicenseRepository: licenses, failAt: 2}
	}, RouterOptions{})
	developer := f.token(jwt.RoleDeveloper, 10, 0)

	rec, body := f.do(withBearer(jsonRequest(http.MethodPost, "/api/v1/licenses", `{"app_id":1,"quantity":3}`), developer))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	assert.Equal(t, false, body["success"])
	assert.NotEmpty(t, body["message"])
	assert.Equal(t, float64(1), body["count"])

	keys, ok := body["license_keys"].([]interface{})
	require.True(t, ok)
	require.Len(t, keys, 1)
	_, err := f.store.Licenses().FindByKey(context.Background(), keys[0].(string))
	assert.NoError(t, err, "key issued before the failure is persisted")
}

func TestAdminLicenseOperations(t *testing.T) {
	f := newFixture(t, nil, RouterOptions{})
	f.seedLicense("KP-AAAAA", func(l *domain.LicenseKey) {
		l.Devices = domain.DeviceSet{"hw-1"}
		l.UserID = func() *int64 { v := int64(7); return &v }()
		l.ExpiresAt = func() *time.Time { v := time.Now().Add(48 * time.Hour); return &v }()
	})
	admin := f.token(jwt.RoleAdmin, 0, 0)
	developer := f.token(jwt.RoleDeveloper, 10, 0)

	rec, _ := f.do(withBearer(httptest.NewRequest(http.MethodPost, "/api/v1/licenses/KP-AAAAA/suspend", nil), developer))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body := f.do(withBearer(httptest.NewRequest(http.MethodGet, "/api/v1/licenses/expiring?days=3", nil), admin))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])

	rec, _ = f.do(withBearer(httptest.NewRequest(http.MethodGet, "/api/v1/licenses/expiring?days=0", nil), admin))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = f.do(withBearer(httptest.NewRequest(http.MethodPost, "/api/v1/licenses/KP-AAAAA/reset-devices", nil), admin))
	require.Equal(t, http.StatusOK, rec.Code)
	license := body["license"].(map[string]interface{})
	assert.Equal(t, float64(0), license["device_count"])
	assert.NotContains(t, license, "user_id")

	rec, body = f.do(withBearer(httptest.NewRequest(http.MethodPost, "/api/v1/licenses/KP-AAAAA/suspend", nil), admin))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StatusSuspended, body["license"].(map[string]interface{})["status"])

	rec, body = f.do(withBearer(httptest.NewRequest(http.MethodPost, "/api/v1/licenses/KP-NONE/suspend", nil), admin))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, domain.ReasonLicenseNotFound, body["message"])
}

func TestHealthRoutes(t *testing.T) {
	checker := health.NewDependencyChecker("2.0.0", time.Second)
	checker.Register("storage", func(ctx context.Context) error { return nil })
	f := newFixture(t, nil, RouterOptions{Health: checker})

	for _, path := range []string{"/health", "/ready", "/live"} {
		rec, _ := f.do(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
