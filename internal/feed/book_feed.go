// Package feed runs the supervised market-data and signal workers: order
// book and trade prices, kline bars, and strategy decisions.
package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/quantfold/swapbot/internal/domain"
	"github.com/quantfold/swapbot/internal/gateway/okx"
	"github.com/quantfold/swapbot/internal/market"
	"github.com/quantfold/swapbot/internal/metrics"
)

// reconnectDelay is the fixed wait before redialing a dropped feed. The
// venue's public endpoint recovers quickly; backoff here only delays price
// protection.
const reconnectDelay = 5 * time.Second

// BookFeed keeps the in-process order book cache and the shared price cache
// current from the venue's books5 and trades channels. It redials forever
// until ctx is cancelled.
type BookFeed struct {
	wsURL   string
	symbols []string
	books   *market.OrderBookCache
	prices  domain.PriceCache
	logger  *slog.Logger
}

func NewBookFeed(wsURL string, symbols []string, books *market.OrderBookCache, prices domain.PriceCache, logger *slog.Logger) *BookFeed {
	return &BookFeed{
		wsURL:   wsURL,
		symbols: symbols,
		books:   books,
		prices:  prices,
		logger:  logger.With(slog.String("component", "book_feed")),
	}
}

// Run blocks until ctx is cancelled. Each disconnect is logged, counted, and
// followed by a fixed-delay redial; on reconnect the venue sends a fresh
// books5 snapshot, so no state carries across connections.
func (f *BookFeed) Run(ctx context.Context) error {
	for {
		client := okx.NewWSClient(f.wsURL)
		client.OnBook(func(snap domain.BookSnapshot) {
			f.books.Apply(snap)
		})
		client.OnTrade(func(symbol string, price float64, ts time.Time) {
			if f.prices == nil {
				return
			}
			cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := f.prices.SetPrice(cctx, symbol, price, ts); err != nil {
				f.logger.Warn("price cache write failed", slog.String("symbol", symbol), slog.String("error", err.Error()))
			}
			cancel()
		})

		err := client.Run(ctx, f.symbols, []string{"books5", "trades"})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.FeedReconnects.WithLabelValues("book").Inc()
		f.logger.Warn("book feed disconnected, reconnecting",
			slog.Duration("delay", reconnectDelay),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}
