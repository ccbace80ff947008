package domain

import "time"

// PriceLevel is a single price+size entry in an order book.
type PriceLevel struct {
	Price float64
	Size  float64
}

// BookSnapshot is a full top-of-book snapshot for a symbol. Snapshots are
// replaced wholesale on each feed update, never partially patched.
type BookSnapshot struct {
	Symbol    string
	Bids      []PriceLevel // sorted high to low
	Asks      []PriceLevel // sorted low to high
	UpdatedAt time.Time
}

// BestBid returns the highest bid, or zero value if the book is empty.
func (s *BookSnapshot) BestBid() PriceLevel {
	if len(s.Bids) == 0 {
		return PriceLevel{}
	}
	return s.Bids[0]
}

// BestAsk returns the lowest ask, or zero value if the book is empty.
func (s *BookSnapshot) BestAsk() PriceLevel {
	if len(s.Asks) == 0 {
		return PriceLevel{}
	}
	return s.Asks[0]
}
