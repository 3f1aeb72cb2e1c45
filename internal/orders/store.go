package orders

import "context"

// ListFilter narrows and pages ListOrders. Zero values mean "no filter";
// a zero Limit falls back to 50.
type ListFilter struct {
	Status Status
	Email  string
	Limit  int
	Offset int
}

const defaultListLimit = 50

func (f ListFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

// Store is the single gateway to order state. Every component mutates orders
// through it, never around it, so the append-only history and audit
// invariants are enforced in one place. Implementations: memory (optional
// JSON snapshot), SQLite, Postgres.
type Store interface {
	// CreateOrder persists the order, its items, and the initial
	// pending_payment history row as one unit. ErrConflict if the id exists.
	CreateOrder(ctx context.Context, o *Order, items []OrderItem) error

	// GetOrder returns the order with Items and History populated,
	// or ErrNotFound.
	GetOrder(ctx context.Context, id string) (*Order, error)

	// FindOrderByPaymentIntent resolves the order that owns a payment
	// intent, or ErrNotFound. Used by the webhook dispatcher.
	FindOrderByPaymentIntent(ctx context.Context, intentID string) (*Order, error)

	// UpdateStatus atomically moves the order to next, bumps UpdatedAt, and
	// appends a history row. Calling it with the order's current status
	// is an idempotent no-op: changed=false and no history row is written.
	UpdateStatus(ctx context.Context, id string, next Status, note string) (changed bool, err error)

	// AttachPaymentIntent records the processor's intent id on the order
	// without touching its status.
	AttachPaymentIntent(ctx context.Context, id, intentID string) error

	// AppendPaymentAudit inserts a raw processor-event record. Append-only;
	// duplicate content is expected and accepted.
	AppendPaymentAudit(ctx context.Context, entry PaymentAuditEntry) error

	// MarkEventProcessed registers a processor event id. first is true only
	// for the call that registered it; replays get false. The check and the
	// insert are atomic.
	MarkEventProcessed(ctx context.Context, eventID string) (first bool, err error)

	// ListOrders returns orders newest-first.
	ListOrders(ctx context.Context, f ListFilter) ([]*Order, error)

	ListProducts(ctx context.Context) ([]Product, error)
	ProductsByID(ctx context.Context, ids []string) (map[string]Product, error)
	// SeedProducts upserts catalog rows; safe to call on every start.
	SeedProducts(ctx context.Context, products []Product) error

	Close() error
}
