package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mostproteins/order-service/internal/orders"
	"github.com/mostproteins/order-service/internal/payments"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeDomainError translates domain failures to HTTP. Anything unexpected
// is logged in full and answered with a redacted 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *orders.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": ve.Fields,
		})
		return
	}
	if errors.Is(err, orders.ErrNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	var pe *payments.PaymentError
	if errors.As(err, &pe) {
		// The processor's own message is customer-facing for card errors.
		code := http.StatusBadGateway
		if pe.UserCorrectable() {
			code = http.StatusBadRequest
		}
		writeJSON(w, code, map[string]string{"error": pe.Message})
		return
	}
	slog.Error("internal error", "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
