// Package rabbitmq publishes settlement events to a durable topic exchange
// with publisher confirms.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/multierr"

	"github.com/angelmondragon/shiftpay-backend/pkg/config"
	"github.com/angelmondragon/shiftpay-backend/pkg/logger"
)

// TransportName identifies RabbitMQ deliveries in logs and dedupe keys.
const TransportName = config.TransportRabbitMQ

const (
	dialTimeout  = 10 * time.Second
	exchangeKind = "topic"
)

var errNotConnected = errors.New("rabbitmq publisher not connected")

// Publisher owns one connection and a confirm-mode channel. Channels are not
// safe for concurrent use so every publish holds mu.
type Publisher struct {
	logg     *logger.Logger
	exchange string

	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	declared map[string]bool
}

// NewPublisher dials the broker and declares the configured exchange.
func NewPublisher(ctx context.Context, cfg config.RabbitMQConfig, logg *logger.Logger) (*Publisher, error) {
	cleanURL, err := sanitizeAMQPURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Exchange) == "" {
		return nil, errors.New("rabbitmq exchange is required")
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	p := &Publisher{
		logg:     logg,
		exchange: cfg.Exchange,
		conn:     conn,
		declared: make(map[string]bool),
	}
	if err := p.openChannel(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := p.declare(cfg.Exchange); err != nil {
		_ = p.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "exchange", cfg.Exchange), "rabbitmq publisher initialized")
	}
	return p, nil
}

func (p *Publisher) openChannel() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("enable confirms: %w", err)
	}
	p.channel = ch
	p.declared = make(map[string]bool)
	return nil
}

func (p *Publisher) declare(exchange string) error {
	if p.declared[exchange] {
		return nil
	}
	if err := p.channel.ExchangeDeclare(exchange, exchangeKind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	p.declared[exchange] = true
	return nil
}

// Publish sends a persistent message and waits for the broker confirm. A
// failed attempt reopens the channel once before giving up.
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, data []byte, attrs map[string]string) error {
	if p == nil {
		return errNotConnected
	}
	if exchange == "" {
		exchange = p.exchange
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		return errNotConnected
	}

	msg := buildPublishing(data, attrs)
	err := p.publishLocked(ctx, exchange, routingKey, msg)
	if err == nil {
		return nil
	}

	if p.logg != nil {
		logCtx := p.logg.WithFields(ctx, map[string]any{
			"exchange":    exchange,
			"routing_key": routingKey,
			"error":       err.Error(),
		})
		p.logg.Warn(logCtx, "rabbitmq publish failed; reopening channel")
	}
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if chErr := p.openChannel(); chErr != nil {
		return multierr.Append(err, chErr)
	}
	return p.publishLocked(ctx, exchange, routingKey, msg)
}

func (p *Publisher) publishLocked(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	if err := p.declare(exchange); err != nil {
		return err
	}
	confirm, err := p.channel.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, true, false, msg)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", exchange, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker nacked message for %s", routingKey)
	}
	return nil
}

func buildPublishing(data []byte, attrs map[string]string) amqp.Publishing {
	headers := amqp.Table{}
	for k, v := range attrs {
		headers[k] = v
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         data,
	}
	if id, ok := attrs["event_id"]; ok {
		msg.MessageId = id
	}
	if eventType, ok := attrs["event_type"]; ok {
		msg.Type = eventType
	}
	return msg
}

// Ping reports whether the connection is still open.
func (p *Publisher) Ping(context.Context) error {
	if p == nil {
		return errNotConnected
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		return errNotConnected
	}
	return nil
}

// Close shuts the channel and connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = multierr.Append(errs, err)
		}
		p.channel = nil
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = multierr.Append(errs, err)
		}
		p.conn = nil
	}
	return errs
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if clean == "" {
		return "", errors.New("rabbitmq url is required")
	}
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("parse rabbitmq url: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("rabbitmq url scheme must be amqp:// or amqps://")
	}
	return clean, nil
}
