package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"LicensePlatform/pkg/rabbitmq"
)

// MockPublisher имитирует rabbitmq.Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, body []byte, options ...rabbitmq.PublishOption) error {
	args := m.Called(ctx, body)
	return args.Error(0)
}

// PublishedOptions применяет опции к пустому PublishOptions, чтобы проверить их в тесте
func PublishedOptions(options ...rabbitmq.PublishOption) *rabbitmq.PublishOptions {
	opts := &rabbitmq.PublishOptions{}
	for _, option := range options {
		option(opts)
	}
	return opts
}

// MockRateLimiter имитирует ratelimit.RateLimiter
type MockRateLimiter struct {
	mock.Mock
}

func (m *MockRateLimiter) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

// MockHealthCheck имитирует проверку зависимости для health.DependencyChecker
type MockHealthCheck struct {
	mock.Mock
}

func (m *MockHealthCheck) Check(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
