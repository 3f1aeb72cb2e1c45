package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidSignature covers a missing/malformed header and a digest
	// mismatch alike; callers must not distinguish the two.
	ErrInvalidSignature = errors.New("webhook: invalid signature")
	// ErrStaleEvent means the signed timestamp fell outside the replay window.
	ErrStaleEvent = errors.New("webhook: stale event")
)

// Tolerance bounds replay exposure: events signed more than this far from
// now, in either direction, are rejected. Contract constant, not config.
const Tolerance = 300 * time.Second

// SignatureHeader is the inbound header carrying "t=<unix>,v1=<hex>".
const SignatureHeader = "Stripe-Signature"

// VerifySignature authenticates payload against header using secret.
// The signed string is "<t>.<payload>" with t exactly as it appeared in the
// header; the digest is HMAC-SHA256, hex-encoded, compared in constant time.
// Nothing may act on the payload unless this returns nil.
func VerifySignature(payload []byte, header, secret string, now time.Time) error {
	ts, sig, ok := parseHeader(header)
	if !ok {
		return ErrInvalidSignature
	}

	t, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	age := now.Unix() - t
	if age < 0 {
		age = -age
	}
	if age > int64(Tolerance/time.Second) {
		return ErrStaleEvent
	}

	expected := ComputeSignature(payload, ts, secret)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrInvalidSignature
	}
	return nil
}

// parseHeader splits "t=...,v1=...[,v0=...]" into the timestamp and the v1
// digest. Unknown schemes are ignored; both t and v1 must be present.
func parseHeader(header string) (ts, sig string, ok bool) {
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.TrimSpace(kv[0]) {
		case "t":
			ts = kv[1]
		case "v1":
			sig = kv[1]
		}
	}
	return ts, sig, ts != "" && sig != ""
}

// ComputeSignature returns the hex HMAC-SHA256 of "<ts>.<payload>".
func ComputeSignature(payload []byte, ts, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign produces a header value that VerifySignature accepts at time t.
// Used by tests and by ops tooling that replays captured events.
func Sign(payload []byte, secret string, t time.Time) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	return "t=" + ts + ",v1=" + ComputeSignature(payload, ts, secret)
}
