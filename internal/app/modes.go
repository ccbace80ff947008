package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfold/swapbot/internal/audit"
	"github.com/quantfold/swapbot/internal/domain"
	"github.com/quantfold/swapbot/internal/engine"
	"github.com/quantfold/swapbot/internal/feed"
	"github.com/quantfold/swapbot/internal/market"
	"github.com/quantfold/swapbot/internal/metrics"
)

// TradeMode runs the full execution stack: per-symbol run locks, the position
// engine, market-data feeds, the strategy signal feed, the reconciliation
// loop, and the metrics endpoint.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.Any("symbols", a.cfg.Engine.Symbols))

	// One distributed lock per symbol so a second instance can never trade
	// the same instrument.
	var unlocks []func()
	defer func() {
		for _, u := range unlocks {
			u()
		}
	}()
	for _, sym := range a.cfg.Engine.Symbols {
		unlock, err := deps.Locks.Acquire(ctx, "run:"+sym, a.cfg.Engine.RunLockTTL.Duration)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return fmt.Errorf("app: symbol %s is already being traded by another instance", sym)
			}
			return fmt.Errorf("app: acquire run lock for %s: %w", sym, err)
		}
		unlocks = append(unlocks, unlock)
	}

	// Configure account leverage up front so every entry trades at the
	// configured multiplier. A failure is not fatal: the venue keeps its
	// previous setting and the operator is told.
	for _, sym := range a.cfg.Engine.Symbols {
		if err := deps.Gateway.SetLeverage(ctx, sym, a.cfg.Engine.Leverage); err != nil {
			a.logger.Warn("set leverage failed",
				slog.String("symbol", sym),
				slog.Int("leverage", a.cfg.Engine.Leverage),
				slog.String("error", err.Error()))
		}
	}

	books := market.NewOrderBookCache(a.cfg.Engine.BookStaleAfter.Duration)

	opts := engine.DefaultOptions()
	opts.Leverage = a.cfg.Engine.Leverage
	opts.CancelRetries = a.cfg.Engine.CancelRetries
	opts.CancelRetryDelay = a.cfg.Engine.CancelRetryDelay.Duration
	opts.ConditionalGap = a.cfg.Engine.ConditionalGap

	eng := engine.New(
		deps.Gateway, books, deps.Prices,
		deps.Positions, deps.Protective,
		deps.Notifier, opts, a.logger,
	)
	eng.SetArchiver(audit.NewArchiver(deps.Blob, deps.Protective, a.logger))

	a.restorePositions(ctx, deps, eng)

	g, ctx := errgroup.WithContext(ctx)

	bookFeed := feed.NewBookFeed(a.cfg.OKX.WSHost, a.cfg.Engine.Symbols, books, deps.Prices, a.logger)
	g.Go(func() error { return bookFeed.Run(ctx) })

	klineFeed := feed.NewKlineFeed(
		a.cfg.OKX.WSHost, a.cfg.Engine.Symbols,
		a.cfg.Signals.KlinePeriod, a.cfg.Signals.KlineCapacity,
		a.publishPeriodBar(deps), a.logger,
	)
	g.Go(func() error { return klineFeed.Run(ctx) })

	decisionFeed := feed.NewDecisionFeed(deps.Bus, a.cfg.Signals.Channel, eng, a.logger)
	g.Go(func() error { return decisionFeed.Run(ctx) })

	reconciler := engine.NewReconciler(eng, a.cfg.Engine.ReconcileInterval.Duration, a.logger)
	g.Go(func() error { return reconciler.Run(ctx) })

	if a.cfg.Metrics.Enabled {
		g.Go(func() error { return a.serveMetrics(ctx) })
	}

	deps.Notifier.Alert(ctx, "startup", "swapbot started",
		fmt.Sprintf("trade mode, symbols: %v", a.cfg.Engine.Symbols))

	return g.Wait()
}

// MonitorMode runs the market-data feeds and metrics endpoint without any
// trading: no run locks, no venue writes, no persistence.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode",
		slog.Any("symbols", a.cfg.Engine.Symbols))

	books := market.NewOrderBookCache(a.cfg.Engine.BookStaleAfter.Duration)

	g, ctx := errgroup.WithContext(ctx)

	bookFeed := feed.NewBookFeed(a.cfg.OKX.WSHost, a.cfg.Engine.Symbols, books, deps.Prices, a.logger)
	g.Go(func() error { return bookFeed.Run(ctx) })

	klineFeed := feed.NewKlineFeed(
		a.cfg.OKX.WSHost, a.cfg.Engine.Symbols,
		a.cfg.Signals.KlinePeriod, a.cfg.Signals.KlineCapacity,
		a.publishPeriodBar(deps), a.logger,
	)
	g.Go(func() error { return klineFeed.Run(ctx) })

	if a.cfg.Metrics.Enabled {
		g.Go(func() error { return a.serveMetrics(ctx) })
	}

	// Periodic price summary, mostly for operators tailing the logs.
	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				prices, err := deps.Prices.GetPrices(ctx, a.cfg.Engine.Symbols)
				if err != nil {
					a.logger.Warn("price summary failed", slog.String("error", err.Error()))
					continue
				}
				for sym, px := range prices {
					a.logger.Info("last price", slog.String("symbol", sym), slog.Float64("price", px))
				}
			}
		}
	})

	return g.Wait()
}

// restorePositions seeds the engine with any non-closed position per symbol
// so a restart does not orphan live orders; the reconciler then verifies each
// restored order against the venue.
func (a *App) restorePositions(ctx context.Context, deps *Dependencies, eng *engine.Engine) {
	for _, sym := range a.cfg.Engine.Symbols {
		pos, err := deps.Positions.GetOpen(ctx, sym)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				a.logger.Warn("position restore lookup failed",
					slog.String("symbol", sym),
					slog.String("error", err.Error()))
			}
			continue
		}
		orders, err := deps.Protective.ListByPosition(ctx, pos.ID)
		if err != nil {
			a.logger.Warn("protective restore lookup failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()))
		}
		eng.Restore(pos, orders)
	}
}

// publishPeriodBar returns the kline feed callback that appends each
// completed period bar to the per-symbol Redis stream the strategy process
// reads.
func (a *App) publishPeriodBar(deps *Dependencies) feed.PeriodHandler {
	return func(bar domain.PeriodKline) {
		payload, err := json.Marshal(bar)
		if err != nil {
			a.logger.Error("marshal period bar", slog.String("error", err.Error()))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stream := a.cfg.Signals.KlineStream + ":" + bar.Symbol
		if err := deps.Bus.StreamAppend(ctx, stream, payload); err != nil {
			a.logger.Warn("period bar publish failed",
				slog.String("stream", stream),
				slog.String("error", err.Error()))
		}
	}
}

// serveMetrics exposes Prometheus metrics until ctx is cancelled.
func (a *App) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	a.logger.Info("metrics listening", slog.String("addr", a.cfg.Metrics.Addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: metrics server: %w", err)
	}
}
