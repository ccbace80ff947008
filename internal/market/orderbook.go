package market

import (
	"sync"
	"time"

	"github.com/quantfold/swapbot/internal/domain"
)

// BookDepth is the number of bid/ask levels kept per symbol.
const BookDepth = 5

// OrderBookCache keeps the top-5 bid and ask levels per symbol, replaced
// wholesale on each streaming update. If no update has arrived within the
// staleness threshold the cache reports unavailable rather than returning
// stale prices, forcing callers to wait or fall back to a market order.
type OrderBookCache struct {
	staleAfter time.Duration
	now        func() time.Time

	mu    sync.RWMutex
	books map[string]domain.BookSnapshot
}

// NewOrderBookCache creates a cache that treats books older than staleAfter
// as unavailable.
func NewOrderBookCache(staleAfter time.Duration) *OrderBookCache {
	return &OrderBookCache{
		staleAfter: staleAfter,
		now:        time.Now,
		books:      make(map[string]domain.BookSnapshot),
	}
}

// Apply replaces the stored snapshot for snap.Symbol, truncating to BookDepth
// levels per side.
func (c *OrderBookCache) Apply(snap domain.BookSnapshot) {
	if len(snap.Bids) > BookDepth {
		snap.Bids = snap.Bids[:BookDepth]
	}
	if len(snap.Asks) > BookDepth {
		snap.Asks = snap.Asks[:BookDepth]
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = c.now()
	}

	c.mu.Lock()
	c.books[snap.Symbol] = snap
	c.mu.Unlock()
}

// Snapshot returns the current book for symbol, or domain.ErrStaleFeed when
// no fresh snapshot is available.
func (c *OrderBookCache) Snapshot(symbol string) (domain.BookSnapshot, error) {
	c.mu.RLock()
	snap, ok := c.books[symbol]
	c.mu.RUnlock()

	if !ok || c.now().Sub(snap.UpdatedAt) > c.staleAfter {
		return domain.BookSnapshot{}, domain.ErrStaleFeed
	}
	return snap, nil
}

// BestBid returns the bid at the given depth level (1 = best).
func (c *OrderBookCache) BestBid(symbol string, level int) (domain.PriceLevel, error) {
	snap, err := c.Snapshot(symbol)
	if err != nil {
		return domain.PriceLevel{}, err
	}
	if level < 1 || level > len(snap.Bids) {
		return domain.PriceLevel{}, domain.ErrNotFound
	}
	return snap.Bids[level-1], nil
}

// BestAsk returns the ask at the given depth level (1 = best).
func (c *OrderBookCache) BestAsk(symbol string, level int) (domain.PriceLevel, error) {
	snap, err := c.Snapshot(symbol)
	if err != nil {
		return domain.PriceLevel{}, err
	}
	if level < 1 || level > len(snap.Asks) {
		return domain.PriceLevel{}, domain.ErrNotFound
	}
	return snap.Asks[level-1], nil
}

// Spread returns best ask minus best bid.
func (c *OrderBookCache) Spread(symbol string) (float64, error) {
	snap, err := c.Snapshot(symbol)
	if err != nil {
		return 0, err
	}
	if len(snap.Bids) == 0 || len(snap.Asks) == 0 {
		return 0, domain.ErrNotFound
	}
	return snap.Asks[0].Price - snap.Bids[0].Price, nil
}
