// Package events fans domain events out to the CRM: a durable AMQP
// exchange for backend consumers and a websocket feed for agents.
package events

import (
	"context"
	"encoding/json"
	"time"

	"leadwire/internal/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Event types.
const (
	TypeMessageReceived    = "message.received"
	TypeMessageSent        = "message.sent"
	TypeMessageDeleted     = "message.deleted"
	TypeConversationOpened = "conversation.created"
	TypeInstanceStatus     = "instance.status"
)

// Event is the envelope every sink receives.
type Event struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Time   time.Time       `json:"time"`
	Tenant string          `json:"tenant"`
	Data   json.RawMessage `json:"data"`
}

// New builds an event with a fresh id. data must marshal to JSON.
func New(eventType, tenant string, data interface{}) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:     uuid.NewString(),
		Type:   eventType,
		Time:   time.Now().UTC(),
		Tenant: tenant,
		Data:   raw,
	}, nil
}

// Publisher delivers events to one sink.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

type namedPublisher struct {
	name string
	pub  Publisher
}

// Multi publishes to every sink and logs the ones that fail. It never
// returns an error: a sink outage must not fail message processing.
type Multi struct {
	sinks  []namedPublisher
	logger *logrus.Logger
}

func NewMulti(logger *logrus.Logger) *Multi {
	if logger == nil {
		logger = logrus.New()
	}
	return &Multi{logger: logger}
}

// Add registers a sink under name, used for logs and metrics.
func (m *Multi) Add(name string, pub Publisher) *Multi {
	if pub != nil {
		m.sinks = append(m.sinks, namedPublisher{name: name, pub: pub})
	}
	return m
}

func (m *Multi) Publish(ctx context.Context, event Event) error {
	for _, s := range m.sinks {
		err := s.pub.Publish(ctx, event)
		metrics.RecordEvent(s.name, err)
		if err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"sink":       s.name,
				"event_type": event.Type,
				"event_id":   event.ID,
			}).Warn("Failed to publish event")
		}
	}
	return nil
}

// Emit builds and publishes an event, logging instead of returning
// errors.
func Emit(ctx context.Context, pub Publisher, logger *logrus.Logger, eventType, tenant string, data interface{}) {
	if pub == nil {
		return
	}
	event, err := New(eventType, tenant, data)
	if err != nil {
		if logger != nil {
			logger.WithError(err).WithField("event_type", eventType).Error("Failed to encode event")
		}
		return
	}
	if err := pub.Publish(ctx, event); err != nil && logger != nil {
		logger.WithError(err).WithField("event_type", eventType).Warn("Failed to publish event")
	}
}
