package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mostproteins/order-service/internal/orders"
)

type fakeSender struct {
	sent []Confirmation
	err  error
}

func (f *fakeSender) SendOrderConfirmation(ctx context.Context, c Confirmation) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, c)
	return nil
}

func paidMessage(t *testing.T, orderID string) kafkago.Message {
	t.Helper()
	env := orders.NewEnvelope(orders.EventOrderPaid, "order-api-test", "evt_1", orderID, orders.OrderPaidPayload{
		OrderID:         orderID,
		PaymentIntentID: "pi_1",
		CustomerEmail:   "lab@example.com",
		TotalCents:      3160,
		Currency:        "usd",
	})
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return kafkago.Message{Key: []byte(orderID), Value: raw}
}

func TestHandleOrderPaidSendsConfirmation(t *testing.T) {
	sender := &fakeSender{}
	svc := &Service{Sender: sender, ServiceName: "notifier-test"}

	require.NoError(t, svc.HandleOrderPaid(context.Background(), paidMessage(t, "ord_1")))

	require.Len(t, sender.sent, 1)
	c := sender.sent[0]
	assert.Equal(t, "ord_1", c.OrderID)
	assert.Equal(t, "lab@example.com", c.Email)
	assert.Equal(t, int64(3160), c.TotalCents)
	assert.Equal(t, "usd", c.Currency)
}

func TestHandleOrderPaidIgnoresOtherEventTypes(t *testing.T) {
	sender := &fakeSender{}
	svc := &Service{Sender: sender, ServiceName: "notifier-test"}

	env := orders.NewEnvelope(orders.EventOrderCreated, "order-api-test", "evt_2", "ord_1", orders.OrderCreatedPayload{
		OrderID: "ord_1", CustomerEmail: "lab@example.com", TotalCents: 3160, Currency: "usd", ItemCount: 1,
	})
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	require.NoError(t, svc.HandleOrderPaid(context.Background(), kafkago.Message{Value: raw}))
	assert.Empty(t, sender.sent)
}

func TestHandleOrderPaidSenderFailurePropagates(t *testing.T) {
	sender := &fakeSender{err: errors.New("mail api down")}
	svc := &Service{Sender: sender, ServiceName: "notifier-test"}

	// The error reaches the consumer so the offset stays uncommitted and the
	// bus redelivers.
	err := svc.HandleOrderPaid(context.Background(), paidMessage(t, "ord_1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ord_1")
}

func TestHandleOrderPaidRejectsGarbage(t *testing.T) {
	svc := &Service{Sender: &fakeSender{}, ServiceName: "notifier-test"}
	err := svc.HandleOrderPaid(context.Background(), kafkago.Message{Value: []byte("not an envelope")})
	assert.Error(t, err)
}

func TestHTTPSenderPostsConfirmation(t *testing.T) {
	var got Confirmation
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL)
	err := s.SendOrderConfirmation(context.Background(), Confirmation{
		OrderID: "ord_1", Email: "lab@example.com", TotalCents: 3160, Currency: "usd",
	})
	require.NoError(t, err)
	assert.Equal(t, "ord_1", got.OrderID)
	assert.Equal(t, "lab@example.com", got.Email)
}

func TestHTTPSenderReportsAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "mailbox full", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL)
	err := s.SendOrderConfirmation(context.Background(), Confirmation{OrderID: "ord_1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "mailbox full")
}
