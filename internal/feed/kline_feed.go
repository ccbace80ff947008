package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/quantfold/swapbot/internal/domain"
	"github.com/quantfold/swapbot/internal/gateway/okx"
	"github.com/quantfold/swapbot/internal/market"
	"github.com/quantfold/swapbot/internal/metrics"
)

// PeriodHandler receives each completed period bar.
type PeriodHandler func(domain.PeriodKline)

// KlineFeed consumes confirmed 1-minute bars from the venue's candle channel,
// maintains one aggregator per symbol, and emits a period bar whenever a
// confirmed bar closes a period boundary. Gapped windows are dropped, not
// bridged.
type KlineFeed struct {
	wsURL    string
	symbols  []string
	period   int // minutes
	onPeriod PeriodHandler
	logger   *slog.Logger

	aggs map[string]*market.KlineAggregator
}

func NewKlineFeed(wsURL string, symbols []string, period, capacity int, onPeriod PeriodHandler, logger *slog.Logger) *KlineFeed {
	aggs := make(map[string]*market.KlineAggregator, len(symbols))
	for _, s := range symbols {
		aggs[s] = market.NewKlineAggregator(s, capacity)
	}
	return &KlineFeed{
		wsURL:    wsURL,
		symbols:  symbols,
		period:   period,
		onPeriod: onPeriod,
		logger:   logger.With(slog.String("component", "kline_feed")),
		aggs:     aggs,
	}
}

// Aggregator exposes the per-symbol aggregator for on-demand queries.
func (f *KlineFeed) Aggregator(symbol string) *market.KlineAggregator {
	return f.aggs[symbol]
}

// Run blocks until ctx is cancelled, redialing on a fixed delay.
func (f *KlineFeed) Run(ctx context.Context) error {
	for {
		client := okx.NewWSClient(f.wsURL)
		client.OnKline(f.handle)

		err := client.Run(ctx, f.symbols, []string{"candle1m"})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.FeedReconnects.WithLabelValues("kline").Inc()
		f.logger.Warn("kline feed disconnected, reconnecting",
			slog.Duration("delay", reconnectDelay),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (f *KlineFeed) handle(k domain.Kline) {
	agg, ok := f.aggs[k.Symbol]
	if !ok || !k.Confirmed {
		return
	}
	if !agg.Add(k) {
		return
	}
	if f.onPeriod == nil || f.period <= 1 {
		return
	}
	// A bar opening at minute m closes the [m-period+1, m] window when
	// m+1 is a period multiple.
	if (k.Timestamp.Minute()+1)%f.period != 0 {
		return
	}
	bar, err := agg.Aggregate(f.period)
	if err != nil {
		var gap *market.GapError
		if errors.As(err, &gap) {
			f.logger.Warn("period bar dropped, gap in source bars",
				slog.String("symbol", k.Symbol),
				slog.Int("missing", len(gap.Missing)))
		}
		return
	}
	f.onPeriod(bar)
}
