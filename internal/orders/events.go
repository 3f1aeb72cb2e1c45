package orders

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

const (
	TopicOrderCreated       = "orders.lifecycle.created"
	TopicOrderPaid          = "orders.lifecycle.paid"
	TopicOrderPaymentFailed = "orders.lifecycle.payment_failed"
	TopicOrderRefunded      = "orders.lifecycle.refunded"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderPaid          = "OrderPaid"
	EventOrderPaymentFailed = "OrderPaymentFailed"
	EventOrderRefunded      = "OrderRefunded"
)

// Partition key = order id so every event for one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }

// Envelope wraps every lifecycle event on the bus.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type OrderCreatedPayload struct {
	OrderID       string `json:"order_id"`
	CustomerEmail string `json:"customer_email"`
	TotalCents    int64  `json:"total_cents"`
	Currency      string `json:"currency"`
	ItemCount     int    `json:"item_count"`
}

type OrderPaidPayload struct {
	OrderID         string `json:"order_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	CustomerEmail   string `json:"customer_email"`
	TotalCents      int64  `json:"total_cents"`
	Currency        string `json:"currency"`
}

type OrderPaymentFailedPayload struct {
	OrderID         string `json:"order_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	Reason          string `json:"reason,omitempty"`
}

type OrderRefundedPayload struct {
	OrderID         string `json:"order_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	AmountCents     int64  `json:"amount_cents"`
}

// Publisher is the sink for lifecycle events. Publishing is fire-and-forget:
// implementations must not block request handling on broker I/O.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// NewEnvelope stamps the common envelope fields around a payload.
func NewEnvelope(eventType, producer, traceID, orderID string, payload any) Envelope {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(err) // payload types are our own structs; marshal cannot fail
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: orderID,
		Payload:       raw,
	}
}

// PublishEnvelope serializes env and hands it to p keyed by order id, with
// the standard routing headers.
func PublishEnvelope(p Publisher, env Envelope) {
	if p == nil {
		return
	}
	value, err := json.Marshal(env)
	if err != nil {
		panic(err)
	}
	p.Publish(PartitionKey(env.CorrelationID), value,
		kafkago.Header{Key: "x-event-type", Value: []byte(env.EventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

// LogPublisher stands in for the bus when no brokers are configured: events
// are logged and dropped. Useful for single-node deployments and tests.
type LogPublisher struct {
	Logger *slog.Logger
}

func (l *LogPublisher) Publish(key, value []byte, headers ...kafkago.Header) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("lifecycle event (no broker configured)", "key", string(key), "event", string(value))
}
