package redisx

import "time"

const (
	// Webhook event dedup fast path: dedup:{service}:{event_id}. The
	// processed_events table is authoritative; this only saves a DB trip.
	KeyDedup = "dedup:%s:%s"

	// Cache of an order's current status: order_status:{order_id}.
	KeyOrderStatus = "order_status:%s"

	// Confirmation-email suppression: notify:paid:{order_id}. One paid
	// confirmation per order, ever.
	KeyPaidNotify = "notify:paid:%s"
)

var (
	TTLDedup       = 48 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLPaidNotify  = 30 * 24 * time.Hour
)
