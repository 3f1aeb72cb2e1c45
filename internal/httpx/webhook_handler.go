package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mostproteins/order-service/internal/webhook"
)

// maxWebhookBody caps event payloads; real processor events are a few KB.
const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	Dispatcher *webhook.Dispatcher
	Secret     string
}

func (h *WebhookHandler) Register(r *chi.Mux) {
	r.Post("/api/webhooks/stripe", h.handle)
}

// handle verifies and dispatches one processor event. The signature is
// computed over the raw body bytes, so the body must never be reserialized
// before verification.
func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request) {
	if h.Secret == "" {
		// An empty secret would make every signature forgeable.
		slog.Error("webhook rejected: no signing secret configured")
		writeError(w, http.StatusBadRequest, "signature verification failed")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	sig := r.Header.Get(webhook.SignatureHeader)
	if err := webhook.VerifySignature(payload, sig, h.Secret, time.Now()); err != nil {
		// Hard reject, logged with source for abuse monitoring. The body
		// is untrusted at this point and is not echoed anywhere.
		slog.Warn("webhook signature rejected", "remote_addr", r.RemoteAddr,
			"reason", err, "stale", errors.Is(err, webhook.ErrStaleEvent))
		writeError(w, http.StatusBadRequest, "signature verification failed")
		return
	}

	var ev webhook.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}

	if err := h.Dispatcher.Dispatch(r.Context(), ev); err != nil {
		// Store failure: let the processor redeliver.
		slog.Error("webhook dispatch failed", "event_id", ev.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "dispatch failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
