package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthChecker интерфейс для проверки здоровья сервиса
type HealthChecker interface {
	Check(ctx context.Context) *HealthStatus
}

// CheckFunc проверка одной зависимости
type CheckFunc func(ctx context.Context) error

// HealthStatus представляет статус здоровья сервиса
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]Status `json:"services,omitempty"`
	Version   string            `json:"version,omitempty"`
}

// Status представляет статус зависимости
type Status struct {
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
}

// Healthy сервис и все зависимости доступны
func (h *HealthStatus) Healthy() bool {
	return h.Status == "healthy"
}

// DependencyChecker опрашивает зарегистрированные зависимости параллельно
type DependencyChecker struct {
	version string
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewDependencyChecker создает проверку с ограничением времени на каждую зависимость
func NewDependencyChecker(version string, timeout time.Duration) *DependencyChecker {
	return &DependencyChecker{
		version: version,
		timeout: timeout,
		checks:  make(map[string]CheckFunc),
	}
}

// Register добавляет зависимость (postgres, redis, rabbitmq)
func (c *DependencyChecker) Register(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Check проверяет здоровье сервиса
func (c *DependencyChecker) Check(ctx context.Context) *HealthStatus {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	result := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   c.version,
		Services:  make(map[string]Status, len(checks)),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check CheckFunc) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			status := Status{Status: "healthy"}
			if err := check(checkCtx); err != nil {
				status = Status{Status: "unhealthy", Details: err.Error()}
			}

			mu.Lock()
			result.Services[name] = status
			if status.Status != "healthy" {
				result.Status = "unhealthy"
			}
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	return result
}

// Handler создает HTTP обработчик для health check эндпоинта.
// Ответ всегда 200: /health описывает состояние, решение о трафике принимает /ready.
func Handler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, checker.Check(r.Context()))
	}
}

// ReadyHandler возвращает 200 только если все зависимости доступны
func ReadyHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := checker.Check(r.Context())
		if !status.Healthy() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status":   "not_ready",
				"services": status.Services,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// LiveHandler создает HTTP обработчик для live check эндпоинта
func LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
