package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"leadwire/internal/constants"
	"leadwire/internal/retry"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

type AMQPConfig struct {
	URL      string
	Exchange string
	AppID    string
	// ConfirmTimeout bounds the wait for the broker's publisher confirm.
	ConfirmTimeout time.Duration
	Retry          retry.Config
}

// AMQPPublisher publishes events as persistent JSON messages on a durable
// topic exchange, routed by event type, and waits for broker confirms.
// A dropped connection is re-dialed on the next publish.
type AMQPPublisher struct {
	cfg     AMQPConfig
	backoff *retry.Backoff
	logger  *logrus.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

// NewAMQPPublisher dials the broker with backoff and declares the exchange.
func NewAMQPPublisher(ctx context.Context, cfg AMQPConfig, logger *logrus.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Exchange == "" {
		cfg.Exchange = constants.DefaultEventsExchange
	}
	if cfg.AppID == "" {
		cfg.AppID = "leadwire"
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 5 * time.Second
	}
	if _, err := amqp.ParseURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid amqp url: %w", err)
	}

	p := &AMQPPublisher{cfg: cfg, backoff: retry.NewBackoff(cfg.Retry), logger: logger}
	p.backoff.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Warn("AMQP dial failed, retrying")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) connectLocked(ctx context.Context) error {
	var conn *amqp.Connection
	err := p.backoff.Do(ctx, func(int) error {
		c, err := amqp.Dial(p.cfg.URL)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", p.cfg.Exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	p.conn, p.ch = conn, ch
	p.logger.WithField("exchange", p.cfg.Exchange).Info("Connected to event broker")
	return nil
}

func (p *AMQPPublisher) channel(ctx context.Context) (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("publisher closed")
	}
	if p.conn == nil || p.conn.IsClosed() || p.ch == nil || p.ch.IsClosed() {
		if p.conn != nil {
			_ = p.conn.Close()
		}
		if err := p.connectLocked(ctx); err != nil {
			return nil, err
		}
	}
	return p.ch, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ch, err := p.channel(ctx)
	if err != nil {
		return err
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, p.cfg.Exchange, event.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         event.Type,
		Timestamp:    event.Time,
		AppId:        p.cfg.AppID,
		Headers:      amqp.Table{"tenant": event.Tenant},
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}

	cctx, cancel := context.WithTimeout(ctx, p.cfg.ConfirmTimeout)
	defer cancel()
	acked, err := confirm.WaitContext(cctx)
	if err != nil {
		return fmt.Errorf("await confirm for %s: %w", event.Type, err)
	}
	if !acked {
		return fmt.Errorf("broker nacked %s", event.Type)
	}
	return nil
}

// Close shuts the connection down; later publishes fail.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
