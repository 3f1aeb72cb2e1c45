package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mostproteins/order-service/internal/payments"
)

type PaymentsHandler struct {
	Gateway     *payments.Gateway
	Limiter     *RateLimiter
	AdminSecret string
}

type CreateIntentReq struct {
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	OrderID       string `json:"orderId"`
	CustomerEmail string `json:"customerEmail,omitempty"`
}

type RefundReq struct {
	Amount int64  `json:"amount,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (h *PaymentsHandler) Register(r *chi.Mux) {
	r.Group(func(g chi.Router) {
		g.Use(h.Limiter.Limit)
		g.Post("/api/payments/create-intent", h.createIntent)
	})
	r.Get("/api/payments/{id}/status", h.intentStatus)

	r.Group(func(g chi.Router) {
		g.Use(RequireAdmin(h.AdminSecret))
		g.Post("/api/payments/{id}/refund", h.refund)
	})
}

func (h *PaymentsHandler) createIntent(w http.ResponseWriter, r *http.Request) {
	var req CreateIntentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	// Processor round trip; give it more headroom than store-only calls.
	ctx, cancel := context.WithTimeout(r.Context(), 12*time.Second)
	defer cancel()

	snap, err := h.Gateway.CreateIntent(ctx, req.OrderID, req.Amount, req.Currency, req.CustomerEmail)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *PaymentsHandler) intentStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 12*time.Second)
	defer cancel()

	snap, err := h.Gateway.RetrieveIntent(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *PaymentsHandler) refund(w http.ResponseWriter, r *http.Request) {
	var req RefundReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 12*time.Second)
	defer cancel()

	// The order flips to refunded when the charge.refunded webhook lands;
	// this endpoint only asks the processor to start that.
	ref, err := h.Gateway.Refund(ctx, chi.URLParam(r, "id"), req.Amount, req.Reason)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}
