package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rabbitmq/amqp091-go"

	"LicensePlatform/pkg/connection"
	"LicensePlatform/pkg/logger"
	"LicensePlatform/pkg/rabbitmq"
	"LicensePlatform/services/license-service/internal/domain"
	"LicensePlatform/services/license-service/internal/repository"
)

// LogBackend пишет события в лог сервиса
type LogBackend struct {
	logger logger.Logger
}

// NewLogBackend создает бэкенд логирования
func NewLogBackend(log logger.Logger) *LogBackend {
	return &LogBackend{logger: log.Named("audit")}
}

func (b *LogBackend) Write(ctx context.Context, event domain.AuditEvent) error {
	b.logger.Info("License auth",
		logger.String("event_id", event.ID),
		logger.String("path", event.Path),
		logger.String("outcome", event.Outcome),
		logger.String("reason", event.Reason),
		logger.String("key_hint", event.KeyHint),
		logger.String("ip_address", event.IPAddress))
	return nil
}

// RepositoryBackend пишет события в activity_logs
type RepositoryBackend struct {
	repo repository.AuditRepository
}

// NewRepositoryBackend создает бэкенд поверх репозитория журнала
func NewRepositoryBackend(repo repository.AuditRepository) *RepositoryBackend {
	return &RepositoryBackend{repo: repo}
}

func (b *RepositoryBackend) Write(ctx context.Context, event domain.AuditEvent) error {
	return b.repo.Insert(ctx, &event)
}

// RabbitMQBackend публикует события в exchange журнала.
// Повторы ограничены контекстом доставки.
type RabbitMQBackend struct {
	publisher rabbitmq.Publisher
	retry     connection.RetryConfig
}

// NewRabbitMQBackend создает бэкенд публикации
func NewRabbitMQBackend(publisher rabbitmq.Publisher, retry connection.RetryConfig) *RabbitMQBackend {
	return &RabbitMQBackend{publisher: publisher, retry: retry}
}

func (b *RabbitMQBackend) Write(ctx context.Context, event domain.AuditEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	return connection.WithRetry(ctx, b.retry, func(ctx context.Context) error {
		return b.publisher.Publish(ctx, body,
			rabbitmq.WithMessageID(event.ID),
			rabbitmq.WithHeaders(amqp091.Table{
				"path":    event.Path,
				"outcome": event.Outcome,
			}),
		)
	})
}
