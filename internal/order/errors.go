package order

import "errors"

// Error taxonomy for the order lifecycle. Only ErrValidation and
// ErrPersistence surface to callers synchronously; the rest are absorbed
// into order state or retried by the sweep loops. Risk and assignment
// failures carry no sentinel: they persist as REJECTED with a reason code.
var (
	// ErrValidation marks a malformed request rejected before persistence.
	ErrValidation = errors.New("validation error")

	// ErrTransientData marks market data unavailable for a tick; the order
	// is skipped and retried next sweep.
	ErrTransientData = errors.New("transient market data error")

	// ErrConflict marks a lost commit race: the order was already terminal
	// when the mutation arrived. Callers no-op.
	ErrConflict = errors.New("concurrent state conflict")

	// ErrPersistence marks storage failures that abort the affected item.
	ErrPersistence = errors.New("persistence error")

	// ErrNotFound marks a lookup for an unknown order.
	ErrNotFound = errors.New("order not found")
)

// Well-known reason codes persisted on rejected or cancelled orders.
const (
	ReasonInsufficientCash   = "insufficient cash"
	ReasonInsufficientShares = "insufficient held quantity"
	ReasonMaxPosition        = "exceeds max position percent"
	ReasonRiskTolerance      = "risk level exceeds portfolio tolerance"
	ReasonDayTrading         = "day trading not enabled for portfolio"
	ReasonMarketClose        = "unfilled at market close"
	ReasonRolledOver         = "rolled over to next trading day"
	ReasonOCOSibling         = "sibling bracket order executed"
	ReasonUserCancel         = "cancelled by request"
	ReasonExpired            = "expired before execution"
)
