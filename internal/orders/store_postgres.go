package orders

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the production Store backed by a pgx pool. Writes that
// must land together (order + items + history) run in one transaction.
type PostgresStore struct {
	DB *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore { return &PostgresStore{DB: db} }

// EnsureSchema creates the tables when they do not exist yet. Kept in code so
// a fresh environment boots without a separate migration step.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			price_cents     BIGINT NOT NULL,
			compliance_note TEXT NOT NULL DEFAULT '',
			active          BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id                TEXT PRIMARY KEY,
			status            TEXT NOT NULL,
			customer_email    TEXT NOT NULL,
			customer_phone    TEXT NOT NULL DEFAULT '',
			ship_name         TEXT NOT NULL,
			ship_line1        TEXT NOT NULL,
			ship_line2        TEXT NOT NULL DEFAULT '',
			ship_city         TEXT NOT NULL,
			ship_state        TEXT NOT NULL,
			ship_postal_code  TEXT NOT NULL,
			ship_country      TEXT NOT NULL,
			notes             TEXT NOT NULL DEFAULT '',
			subtotal_cents    BIGINT NOT NULL,
			shipping_cents    BIGINT NOT NULL,
			tax_cents         BIGINT NOT NULL,
			total_cents       BIGINT NOT NULL,
			currency          TEXT NOT NULL,
			payment_intent_id TEXT,
			age_verified         BOOLEAN NOT NULL,
			age_verified_at      TIMESTAMPTZ,
			terms_accepted       BOOLEAN NOT NULL,
			terms_accepted_at    TIMESTAMPTZ,
			research_use_only    BOOLEAN NOT NULL,
			research_use_only_at TIMESTAMPTZ,
			compliance_ip         TEXT NOT NULL DEFAULT '',
			compliance_user_agent TEXT NOT NULL DEFAULT '',
			created_at        TIMESTAMPTZ NOT NULL,
			updated_at        TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_payment_intent ON orders(payment_intent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_email ON orders(customer_email)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			order_id        TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			product_id      TEXT NOT NULL,
			name            TEXT NOT NULL,
			quantity        INT NOT NULL,
			price_cents     BIGINT NOT NULL,
			compliance_note TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS order_status_history (
			id         BIGSERIAL PRIMARY KEY,
			order_id   TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			status     TEXT NOT NULL,
			notes      TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS payment_audit_log (
			id                BIGSERIAL PRIMARY KEY,
			order_id          TEXT NOT NULL,
			payment_intent_id TEXT NOT NULL DEFAULT '',
			event_type        TEXT NOT NULL,
			amount_cents      BIGINT NOT NULL DEFAULT 0,
			currency          TEXT NOT NULL DEFAULT '',
			status            TEXT NOT NULL DEFAULT '',
			metadata          JSONB,
			created_at        TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS processed_events (
			event_id     TEXT PRIMARY KEY,
			processed_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) CreateOrder(ctx context.Context, o *Order, items []OrderItem) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (
			id, status, customer_email, customer_phone,
			ship_name, ship_line1, ship_line2, ship_city, ship_state, ship_postal_code, ship_country,
			notes, subtotal_cents, shipping_cents, tax_cents, total_cents, currency, payment_intent_id,
			age_verified, age_verified_at, terms_accepted, terms_accepted_at,
			research_use_only, research_use_only_at, compliance_ip, compliance_user_agent,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28)`,
		o.ID, string(o.Status), o.CustomerEmail, o.CustomerPhone,
		o.ShippingAddress.Name, o.ShippingAddress.Line1, o.ShippingAddress.Line2,
		o.ShippingAddress.City, o.ShippingAddress.State, o.ShippingAddress.PostalCode, o.ShippingAddress.Country,
		o.Notes, o.Pricing.Subtotal, o.Pricing.Shipping, o.Pricing.Tax, o.Pricing.Total, o.Currency,
		nullable(o.PaymentIntentID),
		o.Compliance.AgeVerified, nullTime(o.Compliance.AgeVerifiedAt),
		o.Compliance.TermsAccepted, nullTime(o.Compliance.TermsAcceptedAt),
		o.Compliance.ResearchUseOnly, nullTime(o.Compliance.ResearchUseOnlyAt),
		o.Compliance.IPAddress, o.Compliance.UserAgent,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isPgUnique(err) {
			return ErrConflict
		}
		return err
	}

	for _, it := range items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items (order_id, product_id, name, quantity, price_cents, compliance_note)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			o.ID, it.ProductID, it.Name, it.Quantity, it.PriceCents, it.ComplianceNote,
		); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO order_status_history (order_id, status, notes, created_at)
		VALUES ($1,$2,$3,$4)`,
		o.ID, string(o.Status), "order created", o.CreatedAt,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const pgOrderColumns = `
	id, status, customer_email, customer_phone,
	ship_name, ship_line1, ship_line2, ship_city, ship_state, ship_postal_code, ship_country,
	notes, subtotal_cents, shipping_cents, tax_cents, total_cents, currency, payment_intent_id,
	age_verified, age_verified_at, terms_accepted, terms_accepted_at,
	research_use_only, research_use_only_at, compliance_ip, compliance_user_agent,
	created_at, updated_at`

func (s *PostgresStore) scanOrder(row pgx.Row) (*Order, error) {
	var (
		o                          Order
		status                     string
		intentID                   *string
		ageAt, termsAt, researchAt *time.Time
	)
	err := row.Scan(
		&o.ID, &status, &o.CustomerEmail, &o.CustomerPhone,
		&o.ShippingAddress.Name, &o.ShippingAddress.Line1, &o.ShippingAddress.Line2,
		&o.ShippingAddress.City, &o.ShippingAddress.State, &o.ShippingAddress.PostalCode, &o.ShippingAddress.Country,
		&o.Notes, &o.Pricing.Subtotal, &o.Pricing.Shipping, &o.Pricing.Tax, &o.Pricing.Total, &o.Currency,
		&intentID,
		&o.Compliance.AgeVerified, &ageAt, &o.Compliance.TermsAccepted, &termsAt,
		&o.Compliance.ResearchUseOnly, &researchAt,
		&o.Compliance.IPAddress, &o.Compliance.UserAgent,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Status = Status(status)
	if intentID != nil {
		o.PaymentIntentID = *intentID
	}
	if ageAt != nil {
		o.Compliance.AgeVerifiedAt = *ageAt
	}
	if termsAt != nil {
		o.Compliance.TermsAcceptedAt = *termsAt
	}
	if researchAt != nil {
		o.Compliance.ResearchUseOnlyAt = *researchAt
	}
	return &o, nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	o, err := s.scanOrder(s.DB.QueryRow(ctx, `SELECT `+pgOrderColumns+` FROM orders WHERE id=$1`, id))
	if err != nil {
		return nil, err
	}
	if err := s.loadChildren(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *PostgresStore) FindOrderByPaymentIntent(ctx context.Context, intentID string) (*Order, error) {
	o, err := s.scanOrder(s.DB.QueryRow(ctx, `SELECT `+pgOrderColumns+` FROM orders WHERE payment_intent_id=$1`, intentID))
	if err != nil {
		return nil, err
	}
	if err := s.loadChildren(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *PostgresStore) loadChildren(ctx context.Context, o *Order) error {
	rows, err := s.DB.Query(ctx, `
		SELECT order_id, product_id, name, quantity, price_cents, compliance_note
		FROM order_items WHERE order_id=$1`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.OrderID, &it.ProductID, &it.Name, &it.Quantity, &it.PriceCents, &it.ComplianceNote); err != nil {
			return err
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	hrows, err := s.DB.Query(ctx, `
		SELECT order_id, status, notes, created_at
		FROM order_status_history WHERE order_id=$1 ORDER BY id ASC`, o.ID)
	if err != nil {
		return err
	}
	defer hrows.Close()
	for hrows.Next() {
		var (
			ch     StatusChange
			status string
		)
		if err := hrows.Scan(&ch.OrderID, &status, &ch.Notes, &ch.Timestamp); err != nil {
			return err
		}
		ch.Status = Status(status)
		o.History = append(o.History, ch)
	}
	return hrows.Err()
}

// UpdateStatus locks the row so concurrent webhook deliveries serialize on
// the same order. Same-status updates commit nothing and report changed=false.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, next Status, note string) (bool, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	if Status(current) == next {
		return false, tx.Commit(ctx)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `UPDATE orders SET status=$1, updated_at=$2 WHERE id=$3`,
		string(next), now, id); err != nil {
		return false, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO order_status_history (order_id, status, notes, created_at)
		VALUES ($1,$2,$3,$4)`, id, string(next), note, now); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (s *PostgresStore) AttachPaymentIntent(ctx context.Context, id, intentID string) error {
	tag, err := s.DB.Exec(ctx, `UPDATE orders SET payment_intent_id=$1, updated_at=$2 WHERE id=$3`,
		intentID, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendPaymentAudit(ctx context.Context, entry PaymentAuditEntry) error {
	var meta any
	if len(entry.Metadata) > 0 {
		meta = []byte(entry.Metadata)
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO payment_audit_log (order_id, payment_intent_id, event_type, amount_cents, currency, status, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		entry.OrderID, entry.PaymentIntentID, entry.EventType, entry.Amount, entry.Currency, entry.Status, meta, entry.Timestamp,
	)
	return err
}

// AuditEntries returns the processor events recorded for an order, oldest
// first.
func (s *PostgresStore) AuditEntries(ctx context.Context, orderID string) ([]PaymentAuditEntry, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT order_id, payment_intent_id, event_type, amount_cents, currency, status, metadata, created_at
		FROM payment_audit_log WHERE order_id=$1 ORDER BY id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PaymentAuditEntry
	for rows.Next() {
		var (
			e    PaymentAuditEntry
			meta []byte
		)
		if err := rows.Scan(&e.OrderID, &e.PaymentIntentID, &e.EventType, &e.Amount, &e.Currency, &e.Status, &meta, &e.Timestamp); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			e.Metadata = json.RawMessage(meta)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkEventProcessed(ctx context.Context, eventID string) (bool, error) {
	tag, err := s.DB.Exec(ctx, `
		INSERT INTO processed_events (event_id, processed_at)
		VALUES ($1,$2) ON CONFLICT (event_id) DO NOTHING`,
		eventID, time.Now().UTC(),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListOrders(ctx context.Context, f ListFilter) ([]*Order, error) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, `status=$1`)
	}
	if f.Email != "" {
		args = append(args, strings.ToLower(f.Email))
		conds = append(conds, `LOWER(customer_email)=$`+strconv.Itoa(len(args)))
	}
	q := `SELECT ` + pgOrderColumns + ` FROM orders`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	args = append(args, f.limit())
	q += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args))
	args = append(args, f.Offset)
	q += ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*Order{}
	for rows.Next() {
		o, err := s.scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, name, price_cents, compliance_note, active
		FROM products WHERE active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceCents, &p.ComplianceNote, &p.Active); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ProductsByID(ctx context.Context, ids []string) (map[string]Product, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, name, price_cents, compliance_note, active
		FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]Product, len(ids))
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceCents, &p.ComplianceNote, &p.Active); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (s *PostgresStore) SeedProducts(ctx context.Context, products []Product) error {
	for _, p := range products {
		if _, err := s.DB.Exec(ctx, `
			INSERT INTO products (id, name, price_cents, compliance_note, active)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				price_cents = EXCLUDED.price_cents,
				compliance_note = EXCLUDED.compliance_note,
				active = EXCLUDED.active`,
			p.ID, p.Name, p.PriceCents, p.ComplianceNote, p.Active,
		); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the pool. The pool is shared, so only the owner (main)
// should call this.
func (s *PostgresStore) Close() error {
	s.DB.Close()
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func isPgUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
