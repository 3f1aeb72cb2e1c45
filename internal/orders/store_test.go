package orders

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withStores runs fn against every store engine that needs no external
// service. Postgres is covered by the same interface; it is exercised in
// integration environments, not here.
func withStores(t *testing.T, fn func(t *testing.T, st Store)) {
	t.Run("memory", func(t *testing.T) {
		st, err := NewMemoryStore("")
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })
		fn(t, st)
	})
	t.Run("sqlite", func(t *testing.T) {
		st, err := NewSQLiteStore(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })
		fn(t, st)
	})
}

type auditReader interface {
	AuditEntries(ctx context.Context, orderID string) ([]PaymentAuditEntry, error)
}

// testOrder builds a persistable order. Timestamps are whole seconds so the
// text-encoded engines sort them the same way time.Time does.
func testOrder(email string, created time.Time) (*Order, []OrderItem) {
	id := NewOrderID()
	o := &Order{
		ID:            id,
		Status:        StatusPendingPayment,
		CustomerEmail: email,
		CustomerPhone: "+1-512-555-0100",
		ShippingAddress: Address{
			Name: "R. Chen", Line1: "1 Bench Rd", Line2: "Suite 4",
			City: "Austin", State: "TX", PostalCode: "73301", Country: "US",
		},
		Notes:    "leave at reception",
		Pricing:  Pricing{Subtotal: 2000, Shipping: 995, Tax: 165, Total: 3160},
		Currency: "usd",
		Compliance: Compliance{
			AgeVerified: true, AgeVerifiedAt: created,
			TermsAccepted: true, TermsAcceptedAt: created,
			ResearchUseOnly: true, ResearchUseOnlyAt: created,
			IPAddress: "203.0.113.9", UserAgent: "curl/8.0",
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
	items := []OrderItem{
		{OrderID: id, ProductID: "bpc-157-5mg", Name: "BPC-157 5mg", Quantity: 2, PriceCents: 1000, ComplianceNote: "peptide"},
	}
	return o, items
}

func TestStoreCreateAndGet(t *testing.T) {
	withStores(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		created := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
		o, items := testOrder("lab@example.com", created)
		require.NoError(t, st.CreateOrder(ctx, o, items))

		got, err := st.GetOrder(ctx, o.ID)
		require.NoError(t, err)

		assert.Equal(t, o.ID, got.ID)
		assert.Equal(t, StatusPendingPayment, got.Status)
		assert.Equal(t, "lab@example.com", got.CustomerEmail)
		assert.Equal(t, o.ShippingAddress, got.ShippingAddress)
		assert.Equal(t, o.Pricing, got.Pricing)
		assert.Equal(t, "usd", got.Currency)
		assert.Empty(t, got.PaymentIntentID)
		assert.True(t, got.CreatedAt.Equal(created))

		assert.True(t, got.Compliance.AgeVerified)
		assert.True(t, got.Compliance.TermsAccepted)
		assert.True(t, got.Compliance.ResearchUseOnly)
		assert.True(t, got.Compliance.AgeVerifiedAt.Equal(created))
		assert.Equal(t, "203.0.113.9", got.Compliance.IPAddress)
		assert.Equal(t, "curl/8.0", got.Compliance.UserAgent)

		require.Len(t, got.Items, 1)
		assert.Equal(t, items[0], got.Items[0])

		require.Len(t, got.History, 1, "creation writes the initial history row")
		assert.Equal(t, StatusPendingPayment, got.History[0].Status)
		assert.Equal(t, "order created", got.History[0].Notes)
	})
}

func TestStoreCreateOrderConflict(t *testing.T) {
	withStores(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		o, items := testOrder("lab@example.com", time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
		require.NoError(t, st.CreateOrder(ctx, o, items))
		assert.ErrorIs(t, st.CreateOrder(ctx, o, items), ErrConflict)
	})
}

func TestStoreNotFound(t *testing.T) {
	withStores(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		_, err := st.GetOrder(ctx, "ord_missing")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = st.FindOrderByPaymentIntent(ctx, "pi_missing")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = st.UpdateStatus(ctx, "ord_missing", StatusPaid, "")
		assert.ErrorIs(t, err, ErrNotFound)

		assert.ErrorIs(t, st.AttachPaymentIntent(ctx, "ord_missing", "pi_1"), ErrNotFound)
	})
}

func TestStoreAttachPaymentIntent(t *testing.T) {
	withStores(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		o, items := testOrder("lab@example.com", time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
		require.NoError(t, st.CreateOrder(ctx, o, items))

		require.NoError(t, st.AttachPaymentIntent(ctx, o.ID, "pi_1"))
		got, err := st.FindOrderByPaymentIntent(ctx, "pi_1")
		require.NoError(t, err)
		assert.Equal(t, o.ID, got.ID)
		assert.Equal(t, "pi_1", got.PaymentIntentID)

		// Re-attaching moves the index: the old intent no longer resolves.
		require.NoError(t, st.AttachPaymentIntent(ctx, o.ID, "pi_2"))
		_, err = st.FindOrderByPaymentIntent(ctx, "pi_1")
		assert.ErrorIs(t, err, ErrNotFound)
		got, err = st.FindOrderByPaymentIntent(ctx, "pi_2")
		require.NoError(t, err)
		assert.Equal(t, o.ID, got.ID)
	})
}

func TestStoreUpdateStatus(t *testing.T) {
	withStores(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		o, items := testOrder("lab@example.com", time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
		require.NoError(t, st.CreateOrder(ctx, o, items))

		changed, err := st.UpdateStatus(ctx, o.ID, StatusPaid, "webhook: payment_intent.succeeded")
		require.NoError(t, err)
		assert.True(t, changed)

		got, err := st.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPaid, got.Status)
		assert.True(t, got.UpdatedAt.After(o.UpdatedAt))
		require.Len(t, got.History, 2)
		assert.Equal(t, StatusPaid, got.History[1].Status)
		assert.Equal(t, "webhook: payment_intent.succeeded", got.History[1].Notes)

		// Same status again: no-op, no history row.
		changed, err = st.UpdateStatus(ctx, o.ID, StatusPaid, "duplicate delivery")
		require.NoError(t, err)
		assert.False(t, changed)
		got, err = st.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Len(t, got.History, 2)
	})
}

func TestStoreMarkEventProcessed(t *testing.T) {
	withStores(t, func(t *testing.T, st Store) {
		ctx := context.Background()

		first, err := st.MarkEventProcessed(ctx, "evt_1")
		require.NoError(t, err)
		assert.True(t, first)

		first, err = st.MarkEventProcessed(ctx, "evt_1")
		require.NoError(t, err)
		assert.False(t, first, "replays must report already processed")

		first, err = st.MarkEventProcessed(ctx, "evt_2")
		require.NoError(t, err)
		assert.True(t, first)
	})
}

func TestStoreAppendPaymentAuditAcceptsDuplicates(t *testing.T) {
	withStores(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		o, items := testOrder("lab@example.com", time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
		require.NoError(t, st.CreateOrder(ctx, o, items))

		entry := PaymentAuditEntry{
			OrderID:         o.ID,
			PaymentIntentID: "pi_1",
			EventType:       "payment_succeeded",
			Amount:          3160,
			Currency:        "usd",
			Status:          "succeeded",
			Metadata:        []byte(`{"order_id":"` + o.ID + `"}`),
			Timestamp:       time.Date(2025, 6, 1, 10, 5, 0, 0, time.UTC),
		}
		require.NoError(t, st.AppendPaymentAudit(ctx, entry))
		require.NoError(t, st.AppendPaymentAudit(ctx, entry))

		entries, err := st.(auditReader).AuditEntries(ctx, o.ID)
		require.NoError(t, err)
		require.Len(t, entries, 2, "the audit log is append-only, duplicates included")
		assert.Equal(t, "payment_succeeded", entries[0].EventType)
		assert.Equal(t, int64(3160), entries[0].Amount)
		assert.JSONEq(t, string(entry.Metadata), string(entries[0].Metadata))
	})
}

func TestStoreListOrders(t *testing.T) {
	withStores(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

		oldest, items := testOrder("a@example.com", base)
		require.NoError(t, st.CreateOrder(ctx, oldest, items))
		middle, items := testOrder("b@example.com", base.Add(1*time.Hour))
		require.NoError(t, st.CreateOrder(ctx, middle, items))
		newest, items := testOrder("A@Example.com", base.Add(2*time.Hour))
		require.NoError(t, st.CreateOrder(ctx, newest, items))

		_, err := st.UpdateStatus(ctx, middle.ID, StatusPaid, "")
		require.NoError(t, err)

		all, err := st.ListOrders(ctx, ListFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, newest.ID, all[0].ID, "newest first")
		assert.Equal(t, middle.ID, all[1].ID)
		assert.Equal(t, oldest.ID, all[2].ID)

		paid, err := st.ListOrders(ctx, ListFilter{Status: StatusPaid})
		require.NoError(t, err)
		require.Len(t, paid, 1)
		assert.Equal(t, middle.ID, paid[0].ID)

		// Email matching ignores case in both directions.
		byEmail, err := st.ListOrders(ctx, ListFilter{Email: "a@example.com"})
		require.NoError(t, err)
		require.Len(t, byEmail, 2)

		page, err := st.ListOrders(ctx, ListFilter{Limit: 2})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, newest.ID, page[0].ID)

		page, err = st.ListOrders(ctx, ListFilter{Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, oldest.ID, page[0].ID)

		page, err = st.ListOrders(ctx, ListFilter{Offset: 50})
		require.NoError(t, err)
		assert.Empty(t, page)
	})
}

func TestStoreProducts(t *testing.T) {
	withStores(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		seed := []Product{
			{ID: "bpc-157-5mg", Name: "BPC-157 5mg", PriceCents: 4999, ComplianceNote: "peptide", Active: true},
			{ID: "retired-compound", Name: "Retired", PriceCents: 100, Active: false},
			{ID: "bac-water-10ml", Name: "Bacteriostatic Water 10ml", PriceCents: 999, Active: true},
		}
		require.NoError(t, st.SeedProducts(ctx, seed))

		active, err := st.ListProducts(ctx)
		require.NoError(t, err)
		require.Len(t, active, 2, "inactive products stay out of the public catalog")
		assert.Equal(t, "bac-water-10ml", active[0].ID)
		assert.Equal(t, "bpc-157-5mg", active[1].ID)

		// Re-seeding is an upsert, not a duplicate.
		seed[0].PriceCents = 5999
		require.NoError(t, st.SeedProducts(ctx, seed))
		byID, err := st.ProductsByID(ctx, []string{"bpc-157-5mg", "no-such-id"})
		require.NoError(t, err)
		require.Len(t, byID, 1)
		assert.Equal(t, int64(5999), byID["bpc-157-5mg"].PriceCents)
	})
}

func TestMemoryStoreSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "orders.json")

	st, err := NewMemoryStore(path)
	require.NoError(t, err)
	o, items := testOrder("lab@example.com", time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, st.CreateOrder(ctx, o, items))
	require.NoError(t, st.AttachPaymentIntent(ctx, o.ID, "pi_1"))
	_, err = st.UpdateStatus(ctx, o.ID, StatusPaid, "webhook: payment_intent.succeeded")
	require.NoError(t, err)
	_, err = st.MarkEventProcessed(ctx, "evt_1")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	reopened, err := NewMemoryStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, got.Status)
	require.Len(t, got.Items, 1)
	require.Len(t, got.History, 2)

	// The intent index is rebuilt from the snapshot.
	byIntent, err := reopened.FindOrderByPaymentIntent(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, o.ID, byIntent.ID)

	// The processed-event ledger survives restarts.
	first, err := reopened.MarkEventProcessed(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, first)
}
