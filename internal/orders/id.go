package orders

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// NewOrderID returns an id of the form ORD-<base36 millis>-<6 hex chars>.
// The format is part of the public contract (ids appear on receipts and in
// processor metadata) and must stay stable.
func NewOrderID() string {
	b := make([]byte, 3)
	_, _ = rand.Read(b)
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	return "ORD-" + ts + "-" + hex.EncodeToString(b)
}
