package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/mostproteins/order-service/internal/kafka"
	"github.com/mostproteins/order-service/internal/orders"
	"github.com/mostproteins/order-service/internal/redisx"
)

// Service consumes paid-order envelopes and sends exactly one confirmation
// per order. Two layers keep it that way: event-id dedup against bus
// redelivery, and an order-level suppression key against distinct events
// announcing the same paid order.
type Service struct {
	Redis       *redis.Client
	Sender      Sender
	ServiceName string
}

// HandleOrderPaid is the consumer handler. Returning an error leaves the
// offset uncommitted so the event is redelivered and the send retried.
func (s *Service) HandleOrderPaid(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != orders.EventOrderPaid {
		return nil
	}
	log := slog.With("event_id", env.EventID, "order_id", env.CorrelationID)

	dkey := fmt.Sprintf(redisx.KeyDedup, "notifier", env.EventID)
	if seen, _ := redisx.Exists(ctx, s.Redis, dkey); seen {
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.OrderPaidPayload](env.Payload)
	if err != nil {
		return err
	}

	skey := fmt.Sprintf(redisx.KeyPaidNotify, p.OrderID)
	claimed, err := redisx.SetNX(ctx, s.Redis, skey, redisx.TTLPaidNotify)
	if err != nil {
		// Redis trouble must not strand paid orders without a confirmation;
		// err on the side of sending.
		log.Warn("suppression check failed, sending anyway", "err", err)
		claimed = true
	}
	if !claimed {
		log.Info("confirmation already sent for order")
		return nil
	}

	if err := s.Sender.SendOrderConfirmation(ctx, Confirmation{
		OrderID:    p.OrderID,
		Email:      p.CustomerEmail,
		TotalCents: p.TotalCents,
		Currency:   p.Currency,
	}); err != nil {
		// Release the claim so the redelivery can try again.
		if s.Redis != nil {
			_ = s.Redis.Del(ctx, skey).Err()
		}
		return fmt.Errorf("send confirmation for %s: %w", p.OrderID, err)
	}
	log.Info("order confirmation sent", "email", p.CustomerEmail)

	if s.Redis != nil {
		_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	}
	return nil
}
