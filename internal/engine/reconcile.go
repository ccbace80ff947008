package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantfold/swapbot/internal/domain"
	"github.com/quantfold/swapbot/internal/metrics"
)

// Reconciler periodically corrects local state against the venue's ground
// truth, closing any drift from missed events. It never takes a position lock
// across a network call: it snapshots what it expects under a brief lock,
// queries the venue unlocked, then applies each transition only if the local
// record still matches the expectation (compare-and-apply). A mismatch means
// the trading path moved first; the transition is skipped and re-checked next
// cycle.
type Reconciler struct {
	eng      *Engine
	interval time.Duration
	logger   *slog.Logger
}

// NewReconciler creates a Reconciler that runs a cycle every interval.
func NewReconciler(eng *Engine, interval time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		eng:      eng,
		interval: interval,
		logger:   logger.With(slog.String("component", "reconciler")),
	}
}

// Run blocks until ctx is done, executing one reconciliation cycle per tick.
// An error for one order never blocks examination of the others.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Cycle(ctx)
		}
	}
}

// expectation is one (order, last known status) pair captured before the
// venue queries.
type expectation struct {
	positionID string
	orderID    string
	algo       bool

	// exactly one of these describes what we expect locally
	posStatus  domain.PositionStatus
	protective *domain.ProtectiveOrder
	protStatus domain.ProtectiveStatus
}

// Cycle reconciles every symbol once.
func (r *Reconciler) Cycle(ctx context.Context) {
	for _, symbol := range r.eng.Symbols() {
		r.reconcileSymbol(ctx, symbol)
	}
}

func (r *Reconciler) reconcileSymbol(ctx context.Context, symbol string) {
	st := r.eng.state(symbol)

	// Snapshot expectations under a brief lock.
	st.mu.Lock()
	pos := st.pos
	if pos == nil || pos.Status == domain.PositionClosed {
		st.mu.Unlock()
		return
	}
	var exps []expectation
	switch pos.Status {
	case domain.PositionPending:
		exps = append(exps, expectation{
			positionID: pos.ID,
			orderID:    pos.EntryOrderID,
			posStatus:  domain.PositionPending,
		})
	case domain.PositionClosing:
		if pos.ExitOrderID != "" {
			exps = append(exps, expectation{
				positionID: pos.ID,
				orderID:    pos.ExitOrderID,
				posStatus:  domain.PositionClosing,
			})
		}
	}
	for _, ord := range st.active {
		exps = append(exps, expectation{
			positionID: pos.ID,
			orderID:    ord.VenueOrderID,
			algo:       ord.IsAlgo(),
			protective: ord,
			protStatus: ord.Status,
		})
	}
	st.mu.Unlock()

	for _, exp := range exps {
		if err := r.reconcileOne(ctx, symbol, st, exp); err != nil {
			r.logger.Warn("reconcile query failed",
				slog.String("symbol", symbol),
				slog.String("order_id", exp.orderID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reconcileOne queries one order and applies the resulting transition if the
// local state still matches the captured expectation.
func (r *Reconciler) reconcileOne(ctx context.Context, symbol string, st *positionState, exp expectation) error {
	var (
		status domain.CanonicalStatus
		err    error
	)
	if exp.algo {
		status, err = r.eng.gw.AlgoOrderStatus(ctx, symbol, exp.orderID)
	} else {
		status, err = r.eng.gw.OrderStatus(ctx, symbol, exp.orderID)
	}
	if err != nil {
		return err
	}
	if status == domain.StatusUnknown {
		// Never mutate local state from a venue state we cannot map.
		return nil
	}

	// Fill and trigger transitions close the position and need an exit
	// price. Fetch it now, before the lock: reconciliation must never hold
	// a position lock across a venue query.
	var price float64
	if status == domain.StatusFilled || status == domain.StatusTriggered {
		price, _ = r.eng.lastPrice(ctx, symbol)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if exp.protective != nil {
		return r.applyProtective(ctx, st, exp, status, price)
	}
	return r.applyPosition(ctx, st, exp, status, price)
}

// applyPosition handles entry/exit order transitions. Caller holds st.mu;
// price was read before the lock was taken.
func (r *Reconciler) applyPosition(ctx context.Context, st *positionState, exp expectation, status domain.CanonicalStatus, price float64) error {
	pos := st.pos
	if pos == nil || pos.ID != exp.positionID || pos.Status != exp.posStatus {
		// The trading path already moved this position; re-check next cycle.
		metrics.ReconcileTransitions.WithLabelValues("skipped").Inc()
		return nil
	}

	switch exp.posStatus {
	case domain.PositionPending:
		switch status {
		case domain.StatusFilled:
			r.eng.applyEntryFill(ctx, st)
			// The entry is confirmed late; the initial protective levels
			// still need to go on.
			if err := r.eng.attachLocked(ctx, st, pos.InitialStop, pos.InitialTakeProfit); err != nil {
				r.logger.Error("late attach failed",
					slog.String("symbol", pos.Symbol),
					slog.String("error", err.Error()),
				)
			}
		case domain.StatusCanceled:
			r.eng.failPending(ctx, st, "entry canceled, observed by reconciliation")
		}
	case domain.PositionClosing:
		if status == domain.StatusFilled {
			r.eng.markClosed(ctx, st, price)
		}
	}
	return nil
}

// applyProtective handles protective order transitions. Caller holds st.mu;
// price was read before the lock was taken. Local disagreement with the venue
// is resolved in the venue's favor, with the discrepancy logged for audit.
func (r *Reconciler) applyProtective(ctx context.Context, st *positionState, exp expectation, status domain.CanonicalStatus, price float64) error {
	ord := exp.protective
	if ord.Status != exp.protStatus {
		// An in-flight updateStop superseded this order between our snapshot
		// and now; its transition must not be clobbered.
		metrics.ReconcileTransitions.WithLabelValues("skipped").Inc()
		return nil
	}

	switch status {
	case domain.StatusOpen:
		return nil // resting as expected
	case domain.StatusTriggered, domain.StatusFilled:
		ord.Status = domain.ProtectiveTriggered
		r.eng.persistStatus(ctx, ord)
		if st.active[ord.Kind] == ord {
			delete(st.active, ord.Kind)
		}
		metrics.ReconcileTransitions.WithLabelValues("protective").Inc()
		r.logger.Info("protective order executed",
			slog.String("symbol", ord.Symbol),
			slog.String("kind", string(ord.Kind)),
			slog.Float64("trigger", ord.TriggerPrice),
		)
		// A filled protective order flattens the position.
		if price == 0 {
			price = ord.TriggerPrice
		}
		r.eng.markClosed(ctx, st, price)
	case domain.StatusCanceled:
		// We did not cancel this order; the venue did, or an operator. The
		// remote state wins, and the position may now be unprotected.
		ord.Status = domain.ProtectiveCanceled
		r.eng.persistStatus(ctx, ord)
		if st.active[ord.Kind] == ord {
			delete(st.active, ord.Kind)
		}
		metrics.ReconcileTransitions.WithLabelValues("protective").Inc()
		r.logger.Warn("protective order canceled remotely",
			slog.String("symbol", ord.Symbol),
			slog.String("kind", string(ord.Kind)),
			slog.String("venue_order_id", ord.VenueOrderID),
		)
		r.eng.alert(ctx, "reconcile_conflict", "Protective order canceled remotely",
			fmt.Sprintf("%s %s order %s was canceled at the venue; position may be unprotected",
				ord.Symbol, ord.Kind, ord.VenueOrderID))
	}
	return nil
}
