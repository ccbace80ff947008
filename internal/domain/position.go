package domain

import "time"

// Side is the direction of a position on the swap venue.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the other position side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// PositionStatus tracks the position lifecycle. Transitions fire only from
// confirmed venue events, never from optimistic local assumptions.
type PositionStatus string

const (
	PositionPending PositionStatus = "pending" // entry submitted, awaiting fill
	PositionOpen    PositionStatus = "open"    // entry filled, protective orders may attach
	PositionClosing PositionStatus = "closing" // exit order submitted
	PositionClosed  PositionStatus = "closed"  // exit confirmed
)

// Position is one open position on a symbol. Owned exclusively by the
// position state machine; mutated only through its transition methods.
type Position struct {
	ID           string
	Symbol       string
	Side         Side
	EntryOrderID string
	ExitOrderID  string
	EntryPrice   float64
	Quantity     float64
	Leverage     int
	Status       PositionStatus
	OpenedAt     time.Time
	ClosedAt     *time.Time
	ExitPrice    *float64

	// Initial protective levels carried from the trade decision so they can
	// be attached once the entry fill is confirmed.
	InitialStop       float64
	InitialTakeProfit float64
}

// IsOpen reports whether the position can still carry protective orders.
func (p *Position) IsOpen() bool {
	return p.Status == PositionOpen
}
