package domain

import "time"

// ProtectiveKind distinguishes the two protective order roles.
type ProtectiveKind string

const (
	KindStopLoss   ProtectiveKind = "stop_loss"
	KindTakeProfit ProtectiveKind = "take_profit"
)

// OrderForm is the tagged variant for how a protective order rests at the
// venue. Replaces the original's runtime attribute probing with a type
// checked at compile time.
type OrderForm string

const (
	FormLimit       OrderForm = "limit"       // maker-priced resting order
	FormConditional OrderForm = "conditional" // held by the venue until the trigger is touched
	FormMarket      OrderForm = "market"      // immediate execution against resting liquidity
)

// ProtectiveStatus tracks one protective order record. Records are
// append-mostly: created, optionally superseded, eventually terminal; never
// deleted, so reconciliation can detect late events referring to a replaced
// order without misapplying them.
type ProtectiveStatus string

const (
	ProtectiveActive     ProtectiveStatus = "active"
	ProtectiveSuperseded ProtectiveStatus = "superseded"
	ProtectiveCanceled   ProtectiveStatus = "canceled"
	ProtectiveTriggered  ProtectiveStatus = "triggered"
	ProtectiveFailed     ProtectiveStatus = "failed"
)

// ProtectiveOrder is one stop-loss or take-profit record attached to a
// position. At most one order per (position, kind) is active at any instant;
// replacement creates a new record linked via SupersededBy rather than
// mutating the old one.
type ProtectiveOrder struct {
	ID           string
	PositionID   string
	Symbol       string
	Kind         ProtectiveKind
	VenueOrderID string
	TriggerPrice float64
	OrderPrice   float64
	Form         OrderForm
	Status       ProtectiveStatus
	SupersededBy *string // ID of the record that replaced this one
	CreatedAt    time.Time
}

// IsAlgo reports whether the venue tracks this order on the conditional/algo
// query path rather than the regular order path.
func (o *ProtectiveOrder) IsAlgo() bool {
	return o.Form == FormConditional
}

// CanonicalStatus is the engine's venue-independent order status, derived by
// mapping each venue's native status vocabulary through a fixed table.
// Unmapped venue states become StatusUnknown and never cause a local state
// change.
type CanonicalStatus string

const (
	StatusOpen      CanonicalStatus = "open"
	StatusFilled    CanonicalStatus = "filled"
	StatusCanceled  CanonicalStatus = "canceled"
	StatusTriggered CanonicalStatus = "triggered"
	StatusUnknown   CanonicalStatus = "unknown"
)

// Terminal reports whether no further venue transitions are possible.
func (s CanonicalStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusTriggered:
		return true
	}
	return false
}
