package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps everything in process memory, optionally snapshotting to
// a JSON file on Close and reloading it on open. It is the development and
// test engine; a restart without a snapshot path loses state.
type MemoryStore struct {
	mu        sync.RWMutex
	path      string
	orders    map[string]*Order
	items     map[string][]OrderItem
	history   map[string][]StatusChange
	audit     map[string][]PaymentAuditEntry
	processed map[string]time.Time
	products  map[string]Product
	byIntent  map[string]string // payment intent id -> order id
}

type memSnapshot struct {
	Orders    map[string]*Order              `json:"orders"`
	Items     map[string][]OrderItem         `json:"items"`
	History   map[string][]StatusChange      `json:"history"`
	Audit     map[string][]PaymentAuditEntry `json:"audit"`
	Processed map[string]time.Time           `json:"processedEvents"`
	Products  map[string]Product             `json:"products"`
}

// NewMemoryStore opens an in-memory store. A non-empty path makes it load an
// existing snapshot now and write one back on Close.
func NewMemoryStore(path string) (*MemoryStore, error) {
	s := &MemoryStore{
		path:      path,
		orders:    make(map[string]*Order),
		items:     make(map[string][]OrderItem),
		history:   make(map[string][]StatusChange),
		audit:     make(map[string][]PaymentAuditEntry),
		processed: make(map[string]time.Time),
		products:  make(map[string]Product),
		byIntent:  make(map[string]string),
	}
	if path == "" {
		return s, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	var snap memSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	if snap.Orders != nil {
		s.orders = snap.Orders
	}
	if snap.Items != nil {
		s.items = snap.Items
	}
	if snap.History != nil {
		s.history = snap.History
	}
	if snap.Audit != nil {
		s.audit = snap.Audit
	}
	if snap.Processed != nil {
		s.processed = snap.Processed
	}
	if snap.Products != nil {
		s.products = snap.Products
	}
	for id, o := range s.orders {
		if o.PaymentIntentID != "" {
			s.byIntent[o.PaymentIntentID] = id
		}
	}
	return s, nil
}

func (s *MemoryStore) CreateOrder(ctx context.Context, o *Order, items []OrderItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[o.ID]; exists {
		return ErrConflict
	}
	cp := *o
	s.orders[o.ID] = &cp
	s.items[o.ID] = append([]OrderItem(nil), items...)
	s.history[o.ID] = []StatusChange{{
		OrderID:   o.ID,
		Status:    o.Status,
		Timestamp: o.CreatedAt,
		Notes:     "order created",
	}}
	if o.PaymentIntentID != "" {
		s.byIntent[o.PaymentIntentID] = o.ID
	}
	return nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(id)
}

// getLocked assembles a defensive copy; callers hold at least the read lock.
func (s *MemoryStore) getLocked(id string) (*Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	cp.Items = append([]OrderItem(nil), s.items[id]...)
	cp.History = append([]StatusChange(nil), s.history[id]...)
	return &cp, nil
}

func (s *MemoryStore) FindOrderByPaymentIntent(ctx context.Context, intentID string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byIntent[intentID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.getLocked(id)
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, next Status, note string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return false, ErrNotFound
	}
	if o.Status == next {
		return false, nil
	}
	now := time.Now().UTC()
	o.Status = next
	o.UpdatedAt = now
	s.history[id] = append(s.history[id], StatusChange{
		OrderID:   id,
		Status:    next,
		Timestamp: now,
		Notes:     note,
	})
	return true, nil
}

func (s *MemoryStore) AttachPaymentIntent(ctx context.Context, id, intentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.PaymentIntentID != "" {
		delete(s.byIntent, o.PaymentIntentID)
	}
	o.PaymentIntentID = intentID
	o.UpdatedAt = time.Now().UTC()
	s.byIntent[intentID] = id
	return nil
}

func (s *MemoryStore) AppendPaymentAudit(ctx context.Context, entry PaymentAuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit[entry.OrderID] = append(s.audit[entry.OrderID], entry)
	return nil
}

func (s *MemoryStore) MarkEventProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.processed[eventID]; seen {
		return false, nil
	}
	s.processed[eventID] = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) ListOrders(ctx context.Context, f ListFilter) ([]*Order, error) {
	s.mu.RLock()
	matched := make([]*Order, 0, len(s.orders))
	for _, o := range s.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.Email != "" && !strings.EqualFold(o.CustomerEmail, f.Email) {
			continue
		}
		cp := *o
		matched = append(matched, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if f.Offset >= len(matched) {
		return []*Order{}, nil
	}
	matched = matched[f.Offset:]
	if lim := f.limit(); len(matched) > lim {
		matched = matched[:lim]
	}
	return matched, nil
}

func (s *MemoryStore) ListProducts(ctx context.Context) ([]Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Product, 0, len(s.products))
	for _, p := range s.products {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ProductsByID(ctx context.Context, ids []string) (map[string]Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *MemoryStore) SeedProducts(ctx context.Context, products []Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range products {
		s.products[p.ID] = p
	}
	return nil
}

// AuditEntries returns the recorded processor events for an order, oldest
// first.
func (s *MemoryStore) AuditEntries(ctx context.Context, orderID string) ([]PaymentAuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]PaymentAuditEntry(nil), s.audit[orderID]...), nil
}

// Close writes the snapshot when a path was configured. The marshal happens
// under the lock, the file write after it.
func (s *MemoryStore) Close() error {
	if s.path == "" {
		return nil
	}
	s.mu.RLock()
	snap := memSnapshot{
		Orders:    s.orders,
		Items:     s.items,
		History:   s.history,
		Audit:     s.audit,
		Processed: s.processed,
		Products:  s.products,
	}
	raw, err := json.MarshalIndent(snap, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return os.WriteFile(s.path, raw, 0o644)
}
