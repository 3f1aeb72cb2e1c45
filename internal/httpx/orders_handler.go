package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/mostproteins/order-service/internal/orders"
	"github.com/mostproteins/order-service/internal/redisx"
)

type OrdersHandler struct {
	Store       orders.Store
	Producer    orders.Publisher // order.created envelopes
	Redis       *redis.Client
	Limiter     *RateLimiter
	Service     string
	Currency    string
	Pricing     orders.PricingConfig
	AdminSecret string
}

type CreateOrderResp struct {
	OrderID   string    `json:"orderId"`
	Status    string    `json:"status"`
	Total     int64     `json:"total"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"createdAt"`
}

type UpdateStatusReq struct {
	Status          string `json:"status"`
	PaymentIntentID string `json:"paymentIntentId,omitempty"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Group(func(g chi.Router) {
		g.Use(h.Limiter.Limit)
		g.Post("/api/orders", h.createOrder)
	})
	r.Get("/api/orders/{id}", h.getOrder)
	r.Get("/api/orders/{id}/status", h.getOrderStatus)
	r.Get("/api/products", h.listProducts)

	r.Group(func(g chi.Router) {
		g.Use(RequireAdmin(h.AdminSecret))
		g.Get("/api/orders", h.listOrders)
		g.Patch("/api/orders/{id}/status", h.updateStatus)
	})
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var in orders.CreateOrderInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	// Everything is validated before anything is persisted; a 400 here
	// leaves no order, item, or history row behind.
	if err := orders.ValidateCreateOrder(in); err != nil {
		writeDomainError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ids := make([]string, 0, len(in.Items))
	for _, it := range in.Items {
		ids = append(ids, it.ProductID)
	}
	products, err := h.Store.ProductsByID(ctx, ids)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	o, items, err := orders.BuildOrder(in, products, h.Pricing, h.Currency, clientIP(r), r.UserAgent(), time.Now().UTC())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	if err := h.Store.CreateOrder(ctx, o, items); err != nil {
		writeDomainError(w, r, err)
		return
	}

	if h.Redis != nil {
		statusKey := fmt.Sprintf(redisx.KeyOrderStatus, o.ID)
		_ = h.Redis.Set(ctx, statusKey, string(o.Status), redisx.TTLStatusCache).Err()
	}

	env := orders.NewEnvelope(orders.EventOrderCreated, h.Service, middleware.GetReqID(r.Context()), o.ID, orders.OrderCreatedPayload{
		OrderID:       o.ID,
		CustomerEmail: o.CustomerEmail,
		TotalCents:    o.Pricing.Total,
		Currency:      o.Currency,
		ItemCount:     len(items),
	})
	orders.PublishEnvelope(h.Producer, env)

	writeJSON(w, http.StatusCreated, CreateOrderResp{
		OrderID:   o.ID,
		Status:    string(o.Status),
		Total:     o.Pricing.Total,
		Currency:  o.Currency,
		CreatedAt: o.CreatedAt,
	})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Store.GetOrder(ctx, orderID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	// Lightweight ownership check: the caller must know the email the order
	// was placed with. Admin tokens bypass it.
	if !isAdmin(r, h.AdminSecret) {
		email := r.URL.Query().Get("email")
		if email == "" || !strings.EqualFold(email, o.CustomerEmail) {
			writeError(w, http.StatusForbidden, "email does not match order")
			return
		}
	}

	writeJSON(w, http.StatusOK, sanitizeOrder(o))
}

// getOrderStatus is the storefront's polling endpoint while a payment is in
// flight. Read-through cached: webhook transitions refresh the key.
func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if h.Redis != nil {
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, map[string]string{"orderId": orderID, "status": s})
			return
		}
	}

	o, err := h.Store.GetOrder(ctx, orderID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if h.Redis != nil {
		_ = h.Redis.Set(ctx, key, string(o.Status), redisx.TTLStatusCache).Err()
	}
	writeJSON(w, http.StatusOK, map[string]string{"orderId": orderID, "status": string(o.Status)})
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := orders.ListFilter{Email: q.Get("email")}
	if s := q.Get("status"); s != "" {
		if !orders.ValidStatus(orders.Status(s)) {
			writeError(w, http.StatusBadRequest, "unknown status value")
			return
		}
		f.Status = orders.Status(s)
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	list, err := h.Store.ListOrders(ctx, f)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	out := make([]*orders.Order, 0, len(list))
	for _, o := range list {
		out = append(out, sanitizeOrder(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out, "count": len(out)})
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req UpdateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	next := orders.Status(req.Status)
	if !orders.ValidStatus(next) {
		writeError(w, http.StatusBadRequest, "unknown status value")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if req.PaymentIntentID != "" {
		if err := h.Store.AttachPaymentIntent(ctx, orderID, req.PaymentIntentID); err != nil {
			writeDomainError(w, r, err)
			return
		}
	}
	changed, err := h.Store.UpdateStatus(ctx, orderID, next, "manual update via api")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
		_ = h.Redis.Set(ctx, key, string(next), redisx.TTLStatusCache).Err()
	}
	writeJSON(w, http.StatusOK, map[string]any{"orderId": orderID, "status": next, "changed": changed})
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Store.ListProducts(ctx)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

// sanitizeOrder strips request-origin fields that belong in the audit trail,
// not in API responses.
func sanitizeOrder(o *orders.Order) *orders.Order {
	cp := *o
	cp.Compliance.IPAddress = ""
	cp.Compliance.UserAgent = ""
	return &cp
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
