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

// Attach places the initial stop-loss and take-profit for an open position:
// two independent reduce-only conditional orders, each becoming the first
// active protective order of its kind. A failure on one kind does not undo
// the other; the error reports which kinds failed.
func (e *Engine) Attach(ctx context.Context, symbol string, stopPrice, takeProfitPrice float64) error {
	st := e.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	return e.attachLocked(ctx, st, stopPrice, takeProfitPrice)
}

func (e *Engine) attachLocked(ctx context.Context, st *positionState, stopPrice, takeProfitPrice float64) error {
	pos := st.pos
	if pos == nil || !pos.IsOpen() {
		return domain.ErrPositionNotOpen
	}

	var firstErr error
	attach := func(kind domain.ProtectiveKind, trigger float64) {
		if trigger <= 0 {
			return
		}
		if _, exists := st.active[kind]; exists {
			return
		}
		ord, err := e.placeConditional(ctx, pos, kind, trigger, trigger)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("attach %s %s: %w", pos.Symbol, kind, err)
			}
			e.logger.Error("attach protective order failed",
				slog.String("symbol", pos.Symbol),
				slog.String("kind", string(kind)),
				slog.String("error", err.Error()),
			)
			return
		}
		e.adopt(ctx, st, ord)
		e.logger.Info("protective order attached",
			slog.String("symbol", pos.Symbol),
			slog.String("kind", string(kind)),
			slog.Float64("trigger", trigger),
			slog.String("venue_order_id", ord.VenueOrderID),
		)
	}

	attach(domain.KindStopLoss, stopPrice)
	attach(domain.KindTakeProfit, takeProfitPrice)
	return firstErr
}

// UpdateStop replaces the active stop-loss with one at newTrigger. The whole
// protocol runs under the position's exclusive lock:
//
//  1. try a reduce-only limit order, maker-priced against the book;
//  2. on venue rejection, fall back to a conditional order whose trigger is
//     offset 0.1% in the direction that fires no later than the limit,
//     executing at newTrigger;
//  3. if the latest trade price has already crossed newTrigger, a resting
//     order is too slow: submit an immediate reduce-only market order;
//  4. only after the replacement is accepted, mark the previous order
//     superseded and cancel it at the venue (bounded retries);
//  5. cancel exhaustion still succeeds, with an alert about the possible
//     stale duplicate.
//
// Re-pricing to the current active trigger is a no-op. Place-then-cancel is
// deliberate: the position must never sit unprotected between the old order
// and the new one.
func (e *Engine) UpdateStop(ctx context.Context, symbol string, newTrigger float64) error {
	st := e.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	pos := st.pos
	if pos == nil || !pos.IsOpen() {
		return fmt.Errorf("update stop %s: %w", symbol, domain.ErrPositionNotOpen)
	}

	old := st.active[domain.KindStopLoss]
	if old != nil && stopLevel(old) == newTrigger {
		e.logger.Debug("stop already at target trigger",
			slog.String("symbol", symbol),
			slog.Float64("trigger", newTrigger),
		)
		return nil
	}

	// Step 1: resting limit at the stop level, priced to rest as a maker.
	var replacement *domain.ProtectiveOrder
	limitPrice := e.makerPrice(pos, newTrigger)
	venueID, err := e.placeLimit(ctx, pos, limitPrice)
	if err == nil {
		replacement = e.newProtective(pos, domain.KindStopLoss, domain.FormLimit, venueID, newTrigger, limitPrice)
		metrics.OrdersPlaced.WithLabelValues("limit", "accepted").Inc()
	} else {
		metrics.OrdersPlaced.WithLabelValues("limit", "rejected").Inc()
		e.logger.Warn("limit stop rejected, falling back to conditional",
			slog.String("symbol", symbol),
			slog.Float64("trigger", newTrigger),
			slog.String("error", err.Error()),
		)

		// Step 2: conditional with the trigger pulled toward the market so
		// it fires no later than the limit would have.
		trigger := offsetTrigger(pos.Side, newTrigger, e.opts.ConditionalGap)
		condVenueID, cerr := e.placeConditionalRaw(ctx, pos, domain.KindStopLoss, trigger, newTrigger)
		if cerr == nil {
			replacement = e.newProtective(pos, domain.KindStopLoss, domain.FormConditional, condVenueID, trigger, newTrigger)
			metrics.OrdersPlaced.WithLabelValues("conditional", "accepted").Inc()
		} else {
			metrics.OrdersPlaced.WithLabelValues("conditional", "rejected").Inc()
			e.logger.Error("conditional stop rejected",
				slog.String("symbol", symbol),
				slog.String("error", cerr.Error()),
			)
		}
	}

	// Step 3: a resting order is worthless if the market already went through
	// the level; close at market instead.
	if last, perr := e.lastPrice(ctx, symbol); perr == nil && crossed(pos.Side, last, newTrigger) {
		e.logger.Warn("stop level already breached, closing at market",
			slog.String("symbol", symbol),
			slog.Float64("last", last),
			slog.Float64("trigger", newTrigger),
		)
		mktID, merr := e.placeMarketClose(ctx, pos)
		if merr == nil {
			metrics.OrdersPlaced.WithLabelValues("market", "accepted").Inc()
			mkt := e.newProtective(pos, domain.KindStopLoss, domain.FormMarket, mktID, newTrigger, 0)
			if replacement != nil {
				// The just-placed resting order is instantly obsolete. It
				// must still enter the trail before it is retired: every
				// venue-resting order has a local record, always.
				e.adopt(ctx, st, replacement)
				e.supersede(ctx, st, replacement, mkt)
			}
			replacement = mkt
			e.markClosing(ctx, st, mktID)
		} else {
			metrics.OrdersPlaced.WithLabelValues("market", "rejected").Inc()
			e.logger.Error("protective market close rejected",
				slog.String("symbol", symbol),
				slog.String("error", merr.Error()),
			)
		}
	}

	if replacement == nil {
		e.alert(ctx, "stop_update_failed", "Stop replacement failed",
			fmt.Sprintf("%s: limit, conditional and market all failed at trigger %.4f; manual intervention required", symbol, newTrigger))
		return fmt.Errorf("update stop %s: %w", symbol, domain.ErrUnprotected)
	}

	// Step 4: the replacement is live; only now retire the old order.
	e.adopt(ctx, st, replacement)
	if old != nil {
		e.supersede(ctx, st, old, replacement)
	}
	metrics.StopReplacements.WithLabelValues(string(replacement.Form)).Inc()

	e.logger.Info("stop replaced",
		slog.String("symbol", symbol),
		slog.Float64("trigger", newTrigger),
		slog.String("form", string(replacement.Form)),
		slog.String("venue_order_id", replacement.VenueOrderID),
	)
	return nil
}

// CancelAll best-effort cancels every active protective order for a position,
// used before a manual close. Failures are logged once, not retried: a market
// exit is about to flatten the position regardless.
func (e *Engine) CancelAll(ctx context.Context, symbol string) {
	st := e.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	e.cancelAllLocked(ctx, st)
}

func (e *Engine) cancelAllLocked(ctx context.Context, st *positionState) {
	var exitID string
	if st.pos != nil {
		exitID = st.pos.ExitOrderID
	}
	for kind, ord := range st.active {
		if exitID != "" && ord.VenueOrderID == exitID {
			// The protective market close is the exit order itself: it
			// filled, nothing to cancel, and the record reads triggered.
			ord.Status = domain.ProtectiveTriggered
			e.persistStatus(ctx, ord)
			delete(st.active, kind)
			continue
		}
		err := e.gw.Cancel(ctx, ord.Symbol, ord.VenueOrderID)
		if err != nil && !domain.RejectedWith(err, domain.ReasonOrderGone) {
			e.logger.Warn("cancel protective order failed",
				slog.String("symbol", ord.Symbol),
				slog.String("kind", string(kind)),
				slog.String("venue_order_id", ord.VenueOrderID),
				slog.String("error", err.Error()),
			)
			continue
		}
		ord.Status = domain.ProtectiveCanceled
		e.persistStatus(ctx, ord)
		delete(st.active, kind)
	}
}

// adopt registers a freshly accepted protective order as the active one of
// its kind and persists the record. Caller holds st.mu.
func (e *Engine) adopt(ctx context.Context, st *positionState, ord *domain.ProtectiveOrder) {
	st.record(ord)
	if e.orders != nil {
		if err := e.orders.Create(ctx, *ord); err != nil {
			e.logger.Warn("persist protective order failed",
				slog.String("order_id", ord.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// supersede links old to its replacement, persists the link, and cancels the
// old order at the venue with bounded retries. The replacement is already
// live, so even exhausted cancels leave the operation successful; a stale
// duplicate may then rest at the venue and is escalated for manual cleanup.
func (e *Engine) supersede(ctx context.Context, st *positionState, old, replacement *domain.ProtectiveOrder) {
	old.Status = domain.ProtectiveSuperseded
	old.SupersededBy = &replacement.ID
	if st.active[old.Kind] == old {
		delete(st.active, old.Kind)
	}
	if e.orders != nil {
		if err := e.orders.MarkSuperseded(ctx, old.ID, replacement.ID); err != nil {
			e.logger.Warn("persist supersede failed",
				slog.String("order_id", old.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	for attempt := 1; attempt <= e.opts.CancelRetries; attempt++ {
		err := e.gw.Cancel(ctx, old.Symbol, old.VenueOrderID)
		if err == nil {
			metrics.CancelAttempts.WithLabelValues("ok").Inc()
			return
		}
		if domain.RejectedWith(err, domain.ReasonOrderGone) {
			// Already filled or expired: the goal is achieved.
			metrics.CancelAttempts.WithLabelValues("gone").Inc()
			return
		}
		metrics.CancelAttempts.WithLabelValues("failed").Inc()
		e.logger.Warn("cancel superseded order failed",
			slog.String("symbol", old.Symbol),
			slog.String("venue_order_id", old.VenueOrderID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if attempt < e.opts.CancelRetries {
			wait(ctx, e.opts.CancelRetryDelay)
		}
	}

	metrics.CancelAttempts.WithLabelValues("exhausted").Inc()
	e.alert(ctx, "cancel_failed", "Superseded stop cancel failed",
		fmt.Sprintf("%s: order %s could not be canceled after %d attempts; a stale duplicate may rest at the venue (replacement %s is active)",
			old.Symbol, old.VenueOrderID, e.opts.CancelRetries, replacement.VenueOrderID))
}

// placeLimit submits a reduce-only limit order with the hedge-mode probe.
func (e *Engine) placeLimit(ctx context.Context, pos *domain.Position, price float64) (string, error) {
	order := domain.LimitOrder{
		Symbol:     pos.Symbol,
		Side:       domain.CloseSide(pos.Side),
		Qty:        pos.Quantity,
		Price:      price,
		ReduceOnly: true,
		PosSide:    e.posSideTag(pos.Symbol, pos.Side),
	}
	id, err := e.gw.PlaceLimit(ctx, order)
	if err != nil && domain.RejectedWith(err, domain.ReasonPosSideUnsupported) && order.PosSide != "" {
		e.setHedgeTag(pos.Symbol, false)
		order.PosSide = ""
		return e.gw.PlaceLimit(ctx, order)
	}
	return id, err
}

// placeConditional submits a conditional order where trigger and order price
// coincide, returning the new record.
func (e *Engine) placeConditional(ctx context.Context, pos *domain.Position, kind domain.ProtectiveKind, trigger, orderPrice float64) (*domain.ProtectiveOrder, error) {
	venueID, err := e.placeConditionalRaw(ctx, pos, kind, trigger, orderPrice)
	if err != nil {
		metrics.OrdersPlaced.WithLabelValues("conditional", "rejected").Inc()
		return nil, err
	}
	metrics.OrdersPlaced.WithLabelValues("conditional", "accepted").Inc()
	return e.newProtective(pos, kind, domain.FormConditional, venueID, trigger, orderPrice), nil
}

func (e *Engine) placeConditionalRaw(ctx context.Context, pos *domain.Position, kind domain.ProtectiveKind, trigger, orderPrice float64) (string, error) {
	order := domain.ConditionalOrder{
		Symbol:       pos.Symbol,
		Side:         domain.CloseSide(pos.Side),
		Qty:          pos.Quantity,
		TriggerPrice: trigger,
		OrderPrice:   orderPrice,
		Kind:         kind,
		ReduceOnly:   true,
		PosSide:      e.posSideTag(pos.Symbol, pos.Side),
	}
	id, err := e.gw.PlaceConditional(ctx, order)
	if err != nil && domain.RejectedWith(err, domain.ReasonPosSideUnsupported) && order.PosSide != "" {
		e.setHedgeTag(pos.Symbol, false)
		order.PosSide = ""
		return e.gw.PlaceConditional(ctx, order)
	}
	return id, err
}

// placeMarketClose submits an immediate reduce-only market order against the
// position.
func (e *Engine) placeMarketClose(ctx context.Context, pos *domain.Position) (string, error) {
	order := domain.MarketOrder{
		Symbol:     pos.Symbol,
		Side:       domain.CloseSide(pos.Side),
		Qty:        pos.Quantity,
		ReduceOnly: true,
		PosSide:    e.posSideTag(pos.Symbol, pos.Side),
	}
	id, err := e.gw.PlaceMarket(ctx, order)
	if err != nil && domain.RejectedWith(err, domain.ReasonPosSideUnsupported) && order.PosSide != "" {
		e.setHedgeTag(pos.Symbol, false)
		order.PosSide = ""
		return e.gw.PlaceMarket(ctx, order)
	}
	return id, err
}

func (e *Engine) newProtective(pos *domain.Position, kind domain.ProtectiveKind, form domain.OrderForm, venueID string, trigger, orderPrice float64) *domain.ProtectiveOrder {
	return &domain.ProtectiveOrder{
		ID:           uuid.New().String(),
		PositionID:   pos.ID,
		Symbol:       pos.Symbol,
		Kind:         kind,
		VenueOrderID: venueID,
		TriggerPrice: trigger,
		OrderPrice:   orderPrice,
		Form:         form,
		Status:       domain.ProtectiveActive,
		CreatedAt:    time.Now().UTC(),
	}
}

func (e *Engine) persistStatus(ctx context.Context, ord *domain.ProtectiveOrder) {
	if e.orders == nil {
		return
	}
	if err := e.orders.UpdateStatus(ctx, ord.ID, ord.Status); err != nil {
		e.logger.Warn("persist protective status failed",
			slog.String("order_id", ord.ID),
			slog.String("error", err.Error()),
		)
	}
}

// makerPrice picks a limit price that rests on the book instead of crossing
// it. Closing a long sells: any price at or above the best ask rests. Closing
// a short buys: at or below the best bid. A stale or absent book falls back
// to the trigger price itself.
func (e *Engine) makerPrice(pos *domain.Position, trigger float64) float64 {
	if e.books == nil {
		return trigger
	}
	if pos.Side == domain.SideLong {
		if ask, err := e.books.BestAsk(pos.Symbol, 1); err == nil && ask.Price > trigger {
			return ask.Price
		}
	} else {
		if bid, err := e.books.BestBid(pos.Symbol, 1); err == nil && bid.Price < trigger {
			return bid.Price
		}
	}
	return trigger
}

// offsetTrigger pulls the conditional trigger toward the market by gap so the
// conditional fires no later than a limit resting at price would have: above
// the stop for a long, below it for a short.
func offsetTrigger(side domain.Side, price, gap float64) float64 {
	if side == domain.SideLong {
		return price * (1 + gap)
	}
	return price * (1 - gap)
}

// stopLevel recovers the requested stop level from a record: a conditional
// fallback carries the offset trigger, so the level lives in its order price.
func stopLevel(ord *domain.ProtectiveOrder) float64 {
	if ord.Form == domain.FormConditional && ord.OrderPrice > 0 {
		return ord.OrderPrice
	}
	return ord.TriggerPrice
}

// crossed reports whether the last trade price has already gone through the
// stop level for the given position side.
func crossed(side domain.Side, last, trigger float64) bool {
	if side == domain.SideLong {
		return last <= trigger
	}
	return last >= trigger
}
