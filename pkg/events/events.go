package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/diagnosis/afyaplus/pkg/logger"
	"github.com/nats-io/nats.go"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) error
	QueueSubscribe(subject, queue string, handler func(msg *Message)) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	ID        string
}

// Decode unmarshals the JSON payload into v.
func (m *Message) Decode(v interface{}) error {
	return json.Unmarshal(m.Data, v)
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url, name string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", logger.Err(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "bytes", len(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	_, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(wrap(msg))
	})
	return err
}

func (n *NATSEventBus) QueueSubscribe(subject, queue string, handler func(msg *Message)) error {
	_, err := n.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(wrap(msg))
	})
	return err
}

func (n *NATSEventBus) Close() error {
	return n.conn.Drain()
}

func wrap(msg *nats.Msg) *Message {
	now := time.Now()
	return &Message{
		Subject:   msg.Subject,
		Data:      msg.Data,
		Timestamp: now,
		ID:        fmt.Sprintf("%d", now.UnixNano()),
	}
}

// NopPublisher drops events. Used when no NATS server is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, subject string, _ interface{}) error {
	logger.DebugContext(ctx, "Event bus disabled, dropping event", "subject", subject)
	return nil
}

func (NopPublisher) Close() error { return nil }

// Subjects
const (
	RequestCreated = "request.created"

	OfferCreated  = "offer.created"
	OfferAccepted = "offer.accepted"

	SubscriptionActivated = "subscription.activated"
	SubscriptionChanged   = "subscription.changed"

	NotifySend = "notify.send"
)

type RequestCreatedEvent struct {
	RequestID int64     `json:"request_id"`
	PatientID int64     `json:"patient_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	CreatedAt time.Time `json:"created_at"`
}

type OfferCreatedEvent struct {
	OfferID    int64     `json:"offer_id"`
	RequestID  int64     `json:"request_id"`
	DoctorID   int64     `json:"doctor_id"`
	Price      int64     `json:"price"`
	ETAMinutes int       `json:"eta_minutes"`
	CreatedAt  time.Time `json:"created_at"`
}

type OfferAcceptedEvent struct {
	OfferID          int64     `json:"offer_id"`
	RequestID        int64     `json:"request_id"`
	PatientID        int64     `json:"patient_id"`
	DoctorID         int64     `json:"doctor_id"`
	RejectedOfferIDs []int64   `json:"rejected_offer_ids"`
	AcceptedAt       time.Time `json:"accepted_at"`
}

type SubscriptionChangedEvent struct {
	UserID     int64      `json:"user_id"`
	Status     string     `json:"status"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
	Source     string     `json:"source"`
	ChangedAt  time.Time  `json:"changed_at"`
}

// NotificationEvent is one push (or email fallback) delivery request.
type NotificationEvent struct {
	Type      string            `json:"type"`
	Recipient int64             `json:"recipient"`
	Token     string            `json:"token,omitempty"`
	Email     string            `json:"email,omitempty"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data"`
}
