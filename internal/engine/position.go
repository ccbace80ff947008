package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantfold/swapbot/internal/domain"
	"github.com/quantfold/swapbot/internal/metrics"
)

// Open submits a market entry order for the decision and creates the Position
// in pending state. The pending → open transition fires only once the venue
// confirms the fill: a few bounded inline polls here, then the reconciliation
// loop. An outright placement failure returns ErrEntryRejected and creates
// nothing.
func (e *Engine) Open(ctx context.Context, d domain.TradeDecision) (domain.Position, error) {
	st := e.state(d.Symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.pos != nil && st.pos.Status != domain.PositionClosed {
		return domain.Position{}, fmt.Errorf("open %s: %w", d.Symbol, domain.ErrPositionExists)
	}

	entryID, err := e.placeEntry(ctx, d)
	if err != nil {
		metrics.OrdersPlaced.WithLabelValues("market", "rejected").Inc()
		return domain.Position{}, fmt.Errorf("open %s: %w: %w", d.Symbol, domain.ErrEntryRejected, err)
	}
	metrics.OrdersPlaced.WithLabelValues("market", "accepted").Inc()

	pos := &domain.Position{
		ID:                uuid.New().String(),
		Symbol:            d.Symbol,
		Side:              d.Side,
		EntryOrderID:      entryID,
		Quantity:          d.Quantity,
		Leverage:          e.opts.Leverage,
		Status:            domain.PositionPending,
		OpenedAt:          time.Now().UTC(),
		InitialStop:       d.StopPrice,
		InitialTakeProfit: d.TakeProfit,
	}
	st.pos = pos
	st.active = make(map[domain.ProtectiveKind]*domain.ProtectiveOrder)
	st.history = nil

	if e.positions != nil {
		if err := e.positions.Create(ctx, *pos); err != nil {
			e.logger.Warn("persist position failed",
				slog.String("symbol", d.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}

	e.logger.Info("entry submitted",
		slog.String("symbol", d.Symbol),
		slog.String("side", string(d.Side)),
		slog.Float64("qty", d.Quantity),
		slog.String("entry_order_id", entryID),
	)

	// Inline confirmation: market entries usually fill within a poll or two.
	for i := 0; i < e.opts.EntryConfirmAttempts; i++ {
		status, serr := e.gw.OrderStatus(ctx, d.Symbol, entryID)
		if serr == nil && status == domain.StatusFilled {
			e.applyEntryFill(ctx, st)
			if aerr := e.attachLocked(ctx, st, d.StopPrice, d.TakeProfit); aerr != nil {
				e.logger.Error("initial protective attach failed",
					slog.String("symbol", d.Symbol),
					slog.String("error", aerr.Error()),
				)
			}
			break
		}
		if serr == nil && status == domain.StatusCanceled {
			e.failPending(ctx, st, "entry order canceled by venue")
			return *pos, fmt.Errorf("open %s: %w", d.Symbol, domain.ErrEntryRejected)
		}
		if i < e.opts.EntryConfirmAttempts-1 {
			wait(ctx, e.opts.EntryConfirmDelay)
		}
	}

	return *pos, nil
}

// placeEntry submits the market entry, probing for hedge mode: the first
// attempt carries the position-side tag; if the venue rejects the tag as
// unsupported, the same order is retried once without it and the one-way mode
// is cached for the symbol.
func (e *Engine) placeEntry(ctx context.Context, d domain.TradeDecision) (string, error) {
	side := domain.OrderBuy
	if d.Side == domain.SideShort {
		side = domain.OrderSell
	}

	order := domain.MarketOrder{
		Symbol: d.Symbol,
		Side:   side,
		Qty:    d.Quantity,
	}

	if e.useHedgeTag(d.Symbol) {
		order.PosSide = d.Side
		id, err := e.gw.PlaceMarket(ctx, order)
		if err == nil {
			e.setHedgeTag(d.Symbol, true)
			return id, nil
		}
		if !domain.RejectedWith(err, domain.ReasonPosSideUnsupported) {
			return "", err
		}
		e.logger.Info("position-side tag rejected, switching symbol to one-way mode",
			slog.String("symbol", d.Symbol),
		)
		e.setHedgeTag(d.Symbol, false)
	}

	order.PosSide = ""
	return e.gw.PlaceMarket(ctx, order)
}

// applyEntryFill drives pending → open. Caller holds st.mu. The entry price
// is taken from the latest trade; the venue's order query path reports status
// only.
func (e *Engine) applyEntryFill(ctx context.Context, st *positionState) {
	pos := st.pos
	if pos == nil || pos.Status != domain.PositionPending {
		return
	}
	if price, err := e.lastPrice(ctx, pos.Symbol); err == nil {
		pos.EntryPrice = price
	}
	pos.Status = domain.PositionOpen
	metrics.OpenPositions.Inc()
	metrics.ReconcileTransitions.WithLabelValues("entry_fill").Inc()

	if e.positions != nil {
		if err := e.positions.UpdateStatus(ctx, pos.ID, domain.PositionOpen); err != nil {
			e.logger.Warn("persist entry fill failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	e.logger.Info("position open",
		slog.String("symbol", pos.Symbol),
		slog.String("side", string(pos.Side)),
		slog.Float64("entry_price", pos.EntryPrice),
	)
}

// failPending clears a position whose entry never filled. Caller holds st.mu.
func (e *Engine) failPending(ctx context.Context, st *positionState, reason string) {
	pos := st.pos
	if pos == nil || pos.Status != domain.PositionPending {
		return
	}
	now := time.Now().UTC()
	pos.Status = domain.PositionClosed
	pos.ClosedAt = &now
	if e.positions != nil {
		if err := e.positions.UpdateStatus(ctx, pos.ID, domain.PositionClosed); err != nil {
			e.logger.Warn("persist failed entry failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	e.logger.Warn("entry not filled",
		slog.String("symbol", pos.Symbol),
		slog.String("reason", reason),
	)
}

// markClosing moves an open position to closing after an exit order was
// submitted. Caller holds st.mu.
func (e *Engine) markClosing(ctx context.Context, st *positionState, exitOrderID string) {
	pos := st.pos
	if pos == nil || pos.Status != domain.PositionOpen {
		return
	}
	pos.Status = domain.PositionClosing
	pos.ExitOrderID = exitOrderID
	if e.positions != nil {
		if err := e.positions.UpdateStatus(ctx, pos.ID, domain.PositionClosing); err != nil {
			e.logger.Warn("persist closing failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// markClosed is the single authoritative close path: it fires only from a
// reconciliation-confirmed exit fill (or protective trigger). Caller holds
// st.mu.
func (e *Engine) markClosed(ctx context.Context, st *positionState, exitPrice float64) {
	pos := st.pos
	if pos == nil || pos.Status == domain.PositionClosed {
		return
	}

	now := time.Now().UTC()
	pos.Status = domain.PositionClosed
	pos.ClosedAt = &now
	pos.ExitPrice = &exitPrice
	metrics.OpenPositions.Dec()
	metrics.ReconcileTransitions.WithLabelValues("exit_fill").Inc()

	if e.positions != nil {
		if err := e.positions.Close(ctx, pos.ID, exitPrice, now); err != nil {
			e.logger.Warn("persist close failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	// Leftover protective orders are now pointless; best-effort cleanup.
	// Deliberately under the lock: nothing may re-arm protection for a
	// position that is already closed.
	e.cancelAllLocked(ctx, st)

	e.logger.Info("position closed",
		slog.String("symbol", pos.Symbol),
		slog.String("side", string(pos.Side)),
		slog.Float64("exit_price", exitPrice),
	)
	e.alert(ctx, "position_closed", "Position closed",
		fmt.Sprintf("%s %s closed at %.4f", pos.Symbol, pos.Side, exitPrice))

	if e.arch != nil {
		snap := *pos
		trail := make([]domain.ProtectiveOrder, 0, len(st.history))
		for _, ord := range st.history {
			trail = append(trail, *ord)
		}
		go func() {
			actx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := e.arch.ArchivePosition(actx, snap, trail); err != nil {
				e.logger.Warn("audit archive failed",
					slog.String("position_id", snap.ID),
					slog.String("error", err.Error()),
				)
			}
		}()
	}
}

// lastPrice returns the latest trade price, preferring the venue and falling
// back to the shared price cache when the venue query fails.
func (e *Engine) lastPrice(ctx context.Context, symbol string) (float64, error) {
	price, err := e.gw.LastTradePrice(ctx, symbol)
	if err == nil {
		return price, nil
	}
	if e.prices != nil {
		if cached, _, cerr := e.prices.GetPrice(ctx, symbol); cerr == nil {
			return cached, nil
		}
	}
	return 0, err
}
