package domain

import (
	"context"
	"errors"
	"fmt"
)

// OrderSide is the taker direction of a single order (distinct from the
// position side: closing a long means selling).
type OrderSide string

const (
	OrderBuy  OrderSide = "buy"
	OrderSell OrderSide = "sell"
)

// CloseSide returns the order side that reduces a position of the given side.
func CloseSide(s Side) OrderSide {
	if s == SideLong {
		return OrderSell
	}
	return OrderBuy
}

// RejectReason classifies a venue rejection from a maintained table of known
// venue error codes. Free-text error messages are never inspected.
type RejectReason string

const (
	// ReasonPosSideUnsupported: the venue is in one-way mode and rejected the
	// position-side tag.
	ReasonPosSideUnsupported RejectReason = "pos_side_unsupported"
	// ReasonOrderGone: the order no longer exists or has already filled. A
	// benign terminal state for cancels, not an error.
	ReasonOrderGone RejectReason = "order_gone"
	// ReasonInvalidParam: the venue rejected an order parameter.
	ReasonInvalidParam RejectReason = "invalid_param"
	// ReasonInsufficientMargin: not enough margin to place the order.
	ReasonInsufficientMargin RejectReason = "insufficient_margin"
	// ReasonRateLimited: too many requests.
	ReasonRateLimited RejectReason = "rate_limited"
	// ReasonUnknown: a code not present in the table. Treated as fatal for
	// the operation; never sniffed further.
	ReasonUnknown RejectReason = "unknown"
)

// VenueRejection is a structured order rejection produced by the gateway from
// its error-code table.
type VenueRejection struct {
	Code   string // venue-native numeric code
	Reason RejectReason
	Msg    string // venue message, for logs only
}

func (e *VenueRejection) Error() string {
	return fmt.Sprintf("venue rejection %s (%s): %s", e.Code, e.Reason, e.Msg)
}

// RejectedWith reports whether err is a VenueRejection with the given reason.
func RejectedWith(err error, reason RejectReason) bool {
	var vr *VenueRejection
	return errors.As(err, &vr) && vr.Reason == reason
}

// IsRejection reports whether err is any structured venue rejection, as
// opposed to a transport failure.
func IsRejection(err error) bool {
	var vr *VenueRejection
	return errors.As(err, &vr)
}

// LimitOrder is a request for a resting maker order.
type LimitOrder struct {
	Symbol     string
	Side       OrderSide
	Qty        float64
	Price      float64
	ReduceOnly bool
	PosSide    Side // empty in one-way mode
}

// ConditionalOrder is a request for an order held by the venue and released
// to the matching engine once TriggerPrice is touched, then executed at
// OrderPrice.
type ConditionalOrder struct {
	Symbol       string
	Side         OrderSide
	Qty          float64
	TriggerPrice float64
	OrderPrice   float64
	Kind         ProtectiveKind
	ReduceOnly   bool
	PosSide      Side
}

// MarketOrder is a request for immediate execution.
type MarketOrder struct {
	Symbol     string
	Side       OrderSide
	Qty        float64
	ReduceOnly bool
	PosSide    Side
}

// ExchangeGateway abstracts venue order placement, cancellation, and query.
// All calls may block on the network; callers supply timeouts via ctx.
// Placement failures are returned either as *VenueRejection (the venue
// answered and said no) or as a transport error (retryable per policy).
type ExchangeGateway interface {
	PlaceLimit(ctx context.Context, o LimitOrder) (orderID string, err error)
	PlaceConditional(ctx context.Context, o ConditionalOrder) (orderID string, err error)
	PlaceMarket(ctx context.Context, o MarketOrder) (orderID string, err error)

	// Cancel works for both regular and conditional orders. An order that is
	// already gone (filled or never existed) returns a ReasonOrderGone
	// rejection, which callers treat as success.
	Cancel(ctx context.Context, symbol, orderID string) error

	// OrderStatus queries the regular-order path; AlgoOrderStatus queries the
	// conditional/algo path. The venue keeps these separate, so both must be
	// polled for a complete picture.
	OrderStatus(ctx context.Context, symbol, orderID string) (CanonicalStatus, error)
	AlgoOrderStatus(ctx context.Context, symbol, algoID string) (CanonicalStatus, error)

	LastTradePrice(ctx context.Context, symbol string) (float64, error)

	// SetLeverage configures the account leverage for a symbol before any
	// entry is placed on it.
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}
