package orders

type Status string

const (
	StatusPendingPayment    Status = "pending_payment"
	StatusPaymentProcessing Status = "payment_processing"
	StatusPaid              Status = "paid"
	StatusPaymentFailed     Status = "payment_failed"
	StatusShipped           Status = "shipped"
	StatusDelivered         Status = "delivered"
	StatusCancelled         Status = "cancelled"
	StatusRefunded          Status = "refunded"
)

var validNext = map[Status]map[Status]bool{
	StatusPendingPayment:    {StatusPaymentProcessing: true, StatusPaid: true, StatusPaymentFailed: true, StatusCancelled: true},
	StatusPaymentProcessing: {StatusPaid: true, StatusPaymentFailed: true, StatusCancelled: true},
	StatusPaid:              {StatusShipped: true, StatusRefunded: true},
	StatusShipped:           {StatusDelivered: true, StatusRefunded: true},
	StatusDelivered:         {StatusRefunded: true},
	StatusPaymentFailed:     {},
	StatusCancelled:         {},
	StatusRefunded:          {},
}

// CanTransition reports whether from -> to is on the normal lifecycle path.
// Webhook deliveries are not ordered, so the dispatcher may still apply
// off-path payment transitions (last write wins); this table is what decides
// whether such a write gets logged as an anomaly.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Refundable reports whether an order in status s may move to refunded.
// A refund notification for any other status is recorded in the audit log
// but never applied.
func Refundable(s Status) bool {
	return s == StatusPaid || s == StatusShipped || s == StatusDelivered
}

// ValidStatus reports whether s is one of the known order statuses.
func ValidStatus(s Status) bool {
	_, ok := validNext[s]
	return ok
}
