package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mostproteins/order-service/internal/orders"
	"github.com/mostproteins/order-service/internal/redisx"
)

// Event is the processor's webhook envelope, trimmed to what dispatch needs.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// eventObject covers both payment_intent.* and charge.* objects; unused
// fields stay zero.
type eventObject struct {
	ID               string            `json:"id"`
	Object           string            `json:"object"`
	Amount           int64             `json:"amount"`
	AmountRefunded   int64             `json:"amount_refunded"`
	Currency         string            `json:"currency"`
	Status           string            `json:"status"`
	PaymentIntent    string            `json:"payment_intent"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

// Dispatcher applies verified processor events to orders, exactly once per
// event id. Publishing to the bus is fire-and-forget; a broker problem never
// fails a webhook.
type Dispatcher struct {
	Store            orders.Store
	Redis            *redis.Client // optional dedup/cache fast path
	ProducerPaid     orders.Publisher
	ProducerFailed   orders.Publisher
	ProducerRefunded orders.Publisher
	ServiceName      string
}

// Dispatch processes one verified event. A nil return means the processor
// should be told 200 (including replays and orders we could not correlate);
// an error means the store failed and the processor should retry.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	log := slog.With("event_id", ev.ID, "event_type", ev.Type)

	// Fast-path dedup. Best effort: Redis being down or absent only costs
	// the extra ledger read below.
	dkey := fmt.Sprintf(redisx.KeyDedup, "webhook", ev.ID)
	if seen, _ := redisx.Exists(ctx, d.Redis, dkey); seen {
		log.Info("duplicate event, already handled")
		return nil
	}

	// Authoritative dedup: the processed-event ledger. Redeliveries of an
	// applied event must change nothing, including notifications.
	first, err := d.Store.MarkEventProcessed(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	if !first {
		log.Info("replayed event, already applied")
		return nil
	}
	if d.Redis != nil {
		_ = d.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	}

	var obj eventObject
	if err := json.Unmarshal(ev.Data.Object, &obj); err != nil {
		log.Warn("undecodable event object, ignoring", "err", err)
		return nil
	}

	o, err := d.correlate(ctx, ev.Type, obj, log)
	if err != nil {
		return err
	}
	if o == nil {
		// Deliberate fail-open: returning an error would make the
		// processor retry an event we can never act on.
		log.Warn("no order matches event, acknowledging without action",
			"payment_intent_id", intentIDFor(ev.Type, obj))
		return nil
	}
	log = log.With("order_id", o.ID)

	if err := d.Store.AppendPaymentAudit(ctx, orders.PaymentAuditEntry{
		OrderID:         o.ID,
		PaymentIntentID: intentIDFor(ev.Type, obj),
		EventType:       NormalizeEventType(ev.Type),
		Amount:          auditAmount(ev.Type, obj),
		Currency:        obj.Currency,
		Status:          obj.Status,
		Metadata:        metadataJSON(obj.Metadata),
		Timestamp:       nowUTC(),
	}); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}

	switch ev.Type {
	case "payment_intent.succeeded":
		return d.transition(ctx, o, orders.StatusPaid, "webhook: payment_intent.succeeded", ev, obj, log)
	case "payment_intent.payment_failed":
		note := "webhook: payment_intent.payment_failed"
		if obj.LastPaymentError != nil && obj.LastPaymentError.Message != "" {
			note += ": " + obj.LastPaymentError.Message
		}
		return d.transition(ctx, o, orders.StatusPaymentFailed, note, ev, obj, log)
	case "charge.refunded":
		if !orders.Refundable(o.Status) {
			// Refund for an order that was never successfully paid.
			// Upstream should make this impossible; record it, flag it,
			// leave the order alone.
			log.Error("refund event for non-refundable order, not transitioning",
				"current_status", string(o.Status))
			return nil
		}
		return d.transition(ctx, o, orders.StatusRefunded, "webhook: charge.refunded", ev, obj, log)
	default:
		// created, requires_action, and anything unrecognized: audit only.
		log.Info("event recorded, no status change")
		return nil
	}
}

// correlate resolves the order for an event: primary key is the payment
// intent id; metadata order_id is the documented fallback, and a hit there
// re-attaches the intent id so the primary path works next time.
func (d *Dispatcher) correlate(ctx context.Context, eventType string, obj eventObject, log *slog.Logger) (*orders.Order, error) {
	intentID := intentIDFor(eventType, obj)
	if intentID != "" {
		o, err := d.Store.FindOrderByPaymentIntent(ctx, intentID)
		if err == nil {
			return o, nil
		}
		if err != orders.ErrNotFound {
			return nil, fmt.Errorf("find order by intent: %w", err)
		}
	}

	orderID := obj.Metadata["order_id"]
	if orderID == "" {
		return nil, nil
	}
	o, err := d.Store.GetOrder(ctx, orderID)
	if err == orders.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order from metadata: %w", err)
	}
	log.Warn("order recovered via metadata fallback", "order_id", o.ID)
	if intentID != "" && o.PaymentIntentID != intentID {
		if err := d.Store.AttachPaymentIntent(ctx, o.ID, intentID); err != nil {
			return nil, fmt.Errorf("re-attach intent: %w", err)
		}
		o.PaymentIntentID = intentID
	}
	return o, nil
}

// transition applies next to the order. Delivery order is not guaranteed, so
// off-table moves are applied anyway (last write wins) but logged; a repeat
// of the current status is a silent no-op and publishes nothing.
func (d *Dispatcher) transition(ctx context.Context, o *orders.Order, next orders.Status, note string, ev Event, obj eventObject, log *slog.Logger) error {
	if o.Status != next && !orders.CanTransition(o.Status, next) {
		log.Warn("anomalous transition, applying last-write-wins",
			"from", string(o.Status), "to", string(next))
	}

	changed, err := d.Store.UpdateStatus(ctx, o.ID, next, note)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if !changed {
		log.Info("order already in target status", "status", string(next))
		return nil
	}
	log.Info("order status updated", "from", string(o.Status), "to", string(next))

	if d.Redis != nil {
		key := fmt.Sprintf(redisx.KeyOrderStatus, o.ID)
		_ = d.Redis.Set(ctx, key, string(next), redisx.TTLStatusCache).Err()
	}

	intentID := intentIDFor(ev.Type, obj)
	switch next {
	case orders.StatusPaid:
		env := orders.NewEnvelope(orders.EventOrderPaid, d.ServiceName, ev.ID, o.ID, orders.OrderPaidPayload{
			OrderID:         o.ID,
			PaymentIntentID: intentID,
			CustomerEmail:   o.CustomerEmail,
			TotalCents:      o.Pricing.Total,
			Currency:        o.Currency,
		})
		orders.PublishEnvelope(d.ProducerPaid, env)
	case orders.StatusPaymentFailed:
		reason := ""
		if obj.LastPaymentError != nil {
			reason = obj.LastPaymentError.Message
		}
		env := orders.NewEnvelope(orders.EventOrderPaymentFailed, d.ServiceName, ev.ID, o.ID, orders.OrderPaymentFailedPayload{
			OrderID:         o.ID,
			PaymentIntentID: intentID,
			Reason:          reason,
		})
		orders.PublishEnvelope(d.ProducerFailed, env)
	case orders.StatusRefunded:
		env := orders.NewEnvelope(orders.EventOrderRefunded, d.ServiceName, ev.ID, o.ID, orders.OrderRefundedPayload{
			OrderID:         o.ID,
			PaymentIntentID: intentID,
			AmountCents:     auditAmount(ev.Type, obj),
		})
		orders.PublishEnvelope(d.ProducerRefunded, env)
	}
	return nil
}

// intentIDFor extracts the payment intent id: the object itself for
// payment_intent.* events, the charge's reference for charge.* events.
func intentIDFor(eventType string, obj eventObject) string {
	if strings.HasPrefix(eventType, "charge.") {
		return obj.PaymentIntent
	}
	return obj.ID
}

// auditAmount prefers the refunded amount on charge.refunded events.
func auditAmount(eventType string, obj eventObject) int64 {
	if eventType == "charge.refunded" && obj.AmountRefunded > 0 {
		return obj.AmountRefunded
	}
	return obj.Amount
}

// NormalizeEventType maps processor event names to the audit log's stable
// vocabulary.
func NormalizeEventType(t string) string {
	switch t {
	case "payment_intent.succeeded":
		return "payment_succeeded"
	case "payment_intent.payment_failed":
		return "payment_failed"
	case "charge.refunded":
		return "charge_refunded"
	case "payment_intent.created":
		return "payment_intent_created"
	case "payment_intent.requires_action":
		return "payment_requires_action"
	default:
		return strings.ReplaceAll(t, ".", "_")
	}
}

func metadataJSON(m map[string]string) json.RawMessage {
	if len(m) == 0 {
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return raw
}

func nowUTC() time.Time { return time.Now().UTC() }
