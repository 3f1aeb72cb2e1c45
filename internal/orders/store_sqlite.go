package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists orders in a local SQLite database. Timestamps are
// stored as RFC3339Nano text in UTC.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and runs migrations.
// Use ":memory:" for an ephemeral database in tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc's driver is not safe for concurrent writers on one connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			price_cents     INTEGER NOT NULL,
			compliance_note TEXT NOT NULL DEFAULT '',
			active          INTEGER NOT NULL DEFAULT 1
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
			subtotal_cents    INTEGER NOT NULL,
			shipping_cents    INTEGER NOT NULL,
			tax_cents         INTEGER NOT NULL,
			total_cents       INTEGER NOT NULL,
			currency          TEXT NOT NULL,
			payment_intent_id TEXT,
			age_verified         INTEGER NOT NULL,
			age_verified_at      TEXT NOT NULL,
			terms_accepted       INTEGER NOT NULL,
			terms_accepted_at    TEXT NOT NULL,
			research_use_only    INTEGER NOT NULL,
			research_use_only_at TEXT NOT NULL,
			compliance_ip         TEXT NOT NULL DEFAULT '',
			compliance_user_agent TEXT NOT NULL DEFAULT '',
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_payment_intent ON orders(payment_intent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_email ON orders(customer_email)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			order_id        TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			product_id      TEXT NOT NULL,
			name            TEXT NOT NULL,
			quantity        INTEGER NOT NULL,
			price_cents     INTEGER NOT NULL,
			compliance_note TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS order_status_history (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id   TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			status     TEXT NOT NULL,
			notes      TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS payment_audit_log (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id          TEXT NOT NULL,
			payment_intent_id TEXT NOT NULL DEFAULT '',
			event_type        TEXT NOT NULL,
			amount_cents      INTEGER NOT NULL DEFAULT 0,
			currency          TEXT NOT NULL DEFAULT '',
			status            TEXT NOT NULL DEFAULT '',
			metadata          TEXT,
			created_at        TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS processed_events (
			event_id     TEXT PRIMARY KEY,
			processed_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) CreateOrder(ctx context.Context, o *Order, items []OrderItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, status, customer_email, customer_phone,
			ship_name, ship_line1, ship_line2, ship_city, ship_state, ship_postal_code, ship_country,
			notes, subtotal_cents, shipping_cents, tax_cents, total_cents, currency, payment_intent_id,
			age_verified, age_verified_at, terms_accepted, terms_accepted_at,
			research_use_only, research_use_only_at, compliance_ip, compliance_user_agent,
			created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, string(o.Status), o.CustomerEmail, o.CustomerPhone,
		o.ShippingAddress.Name, o.ShippingAddress.Line1, o.ShippingAddress.Line2,
		o.ShippingAddress.City, o.ShippingAddress.State, o.ShippingAddress.PostalCode, o.ShippingAddress.Country,
		o.Notes, o.Pricing.Subtotal, o.Pricing.Shipping, o.Pricing.Tax, o.Pricing.Total, o.Currency,
		nullable(o.PaymentIntentID),
		boolInt(o.Compliance.AgeVerified), fmtTime(o.Compliance.AgeVerifiedAt),
		boolInt(o.Compliance.TermsAccepted), fmtTime(o.Compliance.TermsAcceptedAt),
		boolInt(o.Compliance.ResearchUseOnly), fmtTime(o.Compliance.ResearchUseOnlyAt),
		o.Compliance.IPAddress, o.Compliance.UserAgent,
		fmtTime(o.CreatedAt), fmtTime(o.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, it := range items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, name, quantity, price_cents, compliance_note)
			VALUES (?,?,?,?,?,?)`,
			o.ID, it.ProductID, it.Name, it.Quantity, it.PriceCents, it.ComplianceNote,
		)
		if err != nil {
			return fmt.Errorf("insert item %s: %w", it.ProductID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, status, notes, created_at)
		VALUES (?,?,?,?)`,
		o.ID, string(o.Status), "order created", fmtTime(o.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	o, err := s.scanOrder(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if err := s.loadChildren(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *SQLiteStore) FindOrderByPaymentIntent(ctx context.Context, intentID string) (*Order, error) {
	o, err := s.scanOrder(ctx, `WHERE payment_intent_id = ?`, intentID)
	if err != nil {
		return nil, err
	}
	if err := s.loadChildren(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

const orderColumns = `
	id, status, customer_email, customer_phone,
	ship_name, ship_line1, ship_line2, ship_city, ship_state, ship_postal_code, ship_country,
	notes, subtotal_cents, shipping_cents, tax_cents, total_cents, currency, payment_intent_id,
	age_verified, age_verified_at, terms_accepted, terms_accepted_at,
	research_use_only, research_use_only_at, compliance_ip, compliance_user_agent,
	created_at, updated_at`

func (s *SQLiteStore) scanOrder(ctx context.Context, where string, args ...any) (*Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders `+where, args...)
	return scanOrderRow(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrderRow(row rowScanner) (*Order, error) {
	var (
		o                                      Order
		status                                 string
		intentID                               sql.NullString
		ageOK, termsOK, researchOK             int
		ageAt, termsAt, researchAt, crAt, upAt string
	)
	err := row.Scan(
		&o.ID, &status, &o.CustomerEmail, &o.CustomerPhone,
		&o.ShippingAddress.Name, &o.ShippingAddress.Line1, &o.ShippingAddress.Line2,
		&o.ShippingAddress.City, &o.ShippingAddress.State, &o.ShippingAddress.PostalCode, &o.ShippingAddress.Country,
		&o.Notes, &o.Pricing.Subtotal, &o.Pricing.Shipping, &o.Pricing.Tax, &o.Pricing.Total, &o.Currency,
		&intentID,
		&ageOK, &ageAt, &termsOK, &termsAt, &researchOK, &researchAt,
		&o.Compliance.IPAddress, &o.Compliance.UserAgent,
		&crAt, &upAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.Status = Status(status)
	o.PaymentIntentID = intentID.String
	o.Compliance.AgeVerified = ageOK == 1
	o.Compliance.TermsAccepted = termsOK == 1
	o.Compliance.ResearchUseOnly = researchOK == 1
	o.Compliance.AgeVerifiedAt = parseTime(ageAt)
	o.Compliance.TermsAcceptedAt = parseTime(termsAt)
	o.Compliance.ResearchUseOnlyAt = parseTime(researchAt)
	o.CreatedAt = parseTime(crAt)
	o.UpdatedAt = parseTime(upAt)
	return &o, nil
}

func (s *SQLiteStore) loadChildren(ctx context.Context, o *Order) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, product_id, name, quantity, price_cents, compliance_note
		FROM order_items WHERE order_id = ?`, o.ID)
	if err != nil {
		return fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.OrderID, &it.ProductID, &it.Name, &it.Quantity, &it.PriceCents, &it.ComplianceNote); err != nil {
			return fmt.Errorf("scan item: %w", err)
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	hrows, err := s.db.QueryContext(ctx, `
		SELECT order_id, status, notes, created_at
		FROM order_status_history WHERE order_id = ? ORDER BY id ASC`, o.ID)
	if err != nil {
		return fmt.Errorf("query history: %w", err)
	}
	defer hrows.Close()
	for hrows.Next() {
		var (
			ch     StatusChange
			status string
			at     string
		)
		if err := hrows.Scan(&ch.OrderID, &status, &ch.Notes, &at); err != nil {
			return fmt.Errorf("scan history: %w", err)
		}
		ch.Status = Status(status)
		ch.Timestamp = parseTime(at)
		o.History = append(o.History, ch)
	}
	return hrows.Err()
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, next Status, note string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("select status: %w", err)
	}
	if Status(current) == next {
		return false, tx.Commit()
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`,
		string(next), fmtTime(now), id); err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, status, notes, created_at)
		VALUES (?,?,?,?)`, id, string(next), note, fmtTime(now)); err != nil {
		return false, fmt.Errorf("insert history: %w", err)
	}
	return true, tx.Commit()
}

func (s *SQLiteStore) AttachPaymentIntent(ctx context.Context, id, intentID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE orders SET payment_intent_id = ?, updated_at = ? WHERE id = ?`,
		intentID, fmtTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("attach intent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) AppendPaymentAudit(ctx context.Context, entry PaymentAuditEntry) error {
	var meta any
	if len(entry.Metadata) > 0 {
		meta = string(entry.Metadata)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_audit_log (order_id, payment_intent_id, event_type, amount_cents, currency, status, metadata, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		entry.OrderID, entry.PaymentIntentID, entry.EventType, entry.Amount, entry.Currency, entry.Status, meta, fmtTime(entry.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkEventProcessed(ctx context.Context, eventID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO processed_events (event_id, processed_at) VALUES (?,?)`,
		eventID, fmtTime(time.Now().UTC()),
	)
	if err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) ListOrders(ctx context.Context, f ListFilter) ([]*Order, error) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		conds = append(conds, `status = ?`)
		args = append(args, string(f.Status))
	}
	if f.Email != "" {
		conds = append(conds, `customer_email = ? COLLATE NOCASE`)
		args = append(args, f.Email)
	}
	q := `SELECT ` + orderColumns + ` FROM orders`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	q += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, f.limit(), f.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	out := []*Order{}
	for rows.Next() {
		o, err := scanOrderRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price_cents, compliance_note, active
		FROM products WHERE active = 1 ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()
	var out []Product
	for rows.Next() {
		var (
			p      Product
			active int
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceCents, &p.ComplianceNote, &active); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		p.Active = active == 1
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ProductsByID(ctx context.Context, ids []string) (map[string]Product, error) {
	out := make(map[string]Product, len(ids))
	for _, id := range ids {
		var (
			p      Product
			active int
		)
		err := s.db.QueryRowContext(ctx, `
			SELECT id, name, price_cents, compliance_note, active
			FROM products WHERE id = ?`, id).Scan(&p.ID, &p.Name, &p.PriceCents, &p.ComplianceNote, &active)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("query product %s: %w", id, err)
		}
		p.Active = active == 1
		out[id] = p
	}
	return out, nil
}

func (s *SQLiteStore) SeedProducts(ctx context.Context, products []Product) error {
	for _, p := range products {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO products (id, name, price_cents, compliance_note, active)
			VALUES (?,?,?,?,?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				price_cents = excluded.price_cents,
				compliance_note = excluded.compliance_note,
				active = excluded.active`,
			p.ID, p.Name, p.PriceCents, p.ComplianceNote, boolInt(p.Active),
		)
		if err != nil {
			return fmt.Errorf("seed product %s: %w", p.ID, err)
		}
	}
	return nil
}

// AuditEntries returns the processor events recorded for an order, oldest
// first.
func (s *SQLiteStore) AuditEntries(ctx context.Context, orderID string) ([]PaymentAuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, payment_intent_id, event_type, amount_cents, currency, status, metadata, created_at
		FROM payment_audit_log WHERE order_id = ? ORDER BY id ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()
	var out []PaymentAuditEntry
	for rows.Next() {
		var (
			e    PaymentAuditEntry
			meta sql.NullString
			at   string
		)
		if err := rows.Scan(&e.OrderID, &e.PaymentIntentID, &e.EventType, &e.Amount, &e.Currency, &e.Status, &meta, &at); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		if meta.Valid {
			e.Metadata = json.RawMessage(meta.String)
		}
		e.Timestamp = parseTime(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
