package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Publisher публикует сообщения в брокер
type Publisher interface {
	Publish(ctx context.Context, body []byte, options ...PublishOption) error
}

// Producer представляет продюсера сообщений с подтверждениями брокера
type Producer struct {
	conn   *Connection
	config *Config

	// Публикации сериализуются: подтверждения приходят в порядке отправки
	mu       sync.Mutex
	confirms chan amqp091.Confirmation
}

// NewProducer создает нового продюсера
func NewProducer(conn *Connection, config *Config) *Producer {
	return &Producer{conn: conn, config: config}
}

// enableConfirms включает confirm mode один раз на канал. Вызывается под p.mu.
func (p *Producer) enableConfirms() error {
	if p.confirms != nil {
		return nil
	}
	if err := p.conn.Channel().Confirm(false); err != nil {
		return fmt.Errorf("failed to enable confirm mode: %w", err)
	}
	p.confirms = p.conn.Channel().NotifyPublish(make(chan amqp091.Confirmation, 1))
	return nil
}

// Publish публикует сообщение и ждет подтверждения брокера
func (p *Producer) Publish(ctx context.Context, body []byte, options ...PublishOption) error {
	opts := &PublishOptions{
		Exchange:   p.config.Exchange,
		RoutingKey: p.config.RoutingKey,
	}
	for _, option := range options {
		option(opts)
	}

	if p.conn == nil || p.conn.Channel() == nil {
		return fmt.Errorf("rabbitmq channel is not initialized")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.enableConfirms(); err != nil {
		return err
	}

	msg := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		MessageId:    opts.MessageID,
	}
	if len(opts.Headers) > 0 {
		msg.Headers = opts.Headers
	}

	if err := p.conn.Channel().PublishWithContext(ctx,
		opts.Exchange,
		opts.RoutingKey,
		false,
		false,
		msg,
	); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	select {
	case confirm, ok := <-p.confirms:
		if !ok {
			p.confirms = nil
			return fmt.Errorf("rabbitmq channel closed while waiting for confirmation")
		}
		if !confirm.Ack {
			return fmt.Errorf("message rejected by broker")
		}
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while waiting for confirmation: %w", ctx.Err())
	case <-time.After(p.config.ConfirmTimeout):
		return fmt.Errorf("timeout waiting for confirmation")
	}

	return nil
}

// PublishOptions параметры одной публикации. Exchange и RoutingKey берутся из конфигурации.
type PublishOptions struct {
	Exchange   string
	RoutingKey string
	MessageID  string
	Headers    amqp091.Table
}

// PublishOption функция для настройки опций публикации
type PublishOption func(*PublishOptions)

// WithMessageID идентификатор сообщения для дедупликации у потребителя
func WithMessageID(id string) PublishOption {
	return func(opts *PublishOptions) {
		opts.MessageID = id
	}
}

// WithHeaders устанавливает заголовки
func WithHeaders(headers amqp091.Table) PublishOption {
	return func(opts *PublishOptions) {
		opts.Headers = headers
	}
}
