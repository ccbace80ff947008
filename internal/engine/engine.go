// Package engine owns the order/position lifecycle: the per-symbol position
// state machine, the protective-order replacement protocol, and the
// reconciliation loop that corrects local state against the venue.
package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/quantfold/swapbot/internal/domain"
)

// BookSource is the subset of the order book cache the engine needs to pick
// maker prices. A stale book returns domain.ErrStaleFeed.
type BookSource interface {
	BestBid(symbol string, level int) (domain.PriceLevel, error)
	BestAsk(symbol string, level int) (domain.PriceLevel, error)
}

// Archiver receives the full audit trail of a closed position. Calls are best
// effort and must not block trading.
type Archiver interface {
	ArchivePosition(ctx context.Context, pos domain.Position, orders []domain.ProtectiveOrder) error
}

// Options tunes the engine's retry and fallback behavior.
type Options struct {
	Leverage int

	// CancelRetries bounds cancel attempts against a superseded order;
	// CancelRetryDelay is the fixed wait between attempts.
	CancelRetries    int
	CancelRetryDelay time.Duration

	// ConditionalGap is the relative trigger offset applied when falling
	// back from a limit to a conditional order.
	ConditionalGap float64

	// EntryConfirmAttempts/Delay bound the inline fill-confirmation polls
	// after entry submission; an unconfirmed entry stays pending until the
	// reconciliation loop observes the fill.
	EntryConfirmAttempts int
	EntryConfirmDelay    time.Duration
}

// DefaultOptions mirror the production tuning.
func DefaultOptions() Options {
	return Options{
		Leverage:             1,
		CancelRetries:        3,
		CancelRetryDelay:     600 * time.Millisecond,
		ConditionalGap:       0.001, // 0.1%
		EntryConfirmAttempts: 3,
		EntryConfirmDelay:    500 * time.Millisecond,
	}
}

// positionState holds one symbol's position, its active protective orders,
// and the append-only record history. All fields are guarded by mu; the
// multi-step replacement protocol holds mu for its entire duration so two
// concurrent re-pricing requests cannot both submit replacement orders.
type positionState struct {
	mu      sync.Mutex
	pos     *domain.Position
	active  map[domain.ProtectiveKind]*domain.ProtectiveOrder
	history []*domain.ProtectiveOrder
}

func (st *positionState) record(ord *domain.ProtectiveOrder) {
	st.history = append(st.history, ord)
	if ord.Status == domain.ProtectiveActive {
		st.active[ord.Kind] = ord
	}
}

// Engine is the trading core. One Engine serves all symbols; each symbol's
// state carries its own lock so unrelated symbols never serialize.
type Engine struct {
	gw        domain.ExchangeGateway
	books     BookSource
	prices    domain.PriceCache
	positions domain.PositionStore
	orders    domain.ProtectiveOrderStore
	alerter   domain.Alerter
	arch      Archiver
	opts      Options
	logger    *slog.Logger

	regMu  sync.Mutex
	states map[string]*positionState

	// hedgeMode caches, per symbol, whether the venue accepted the
	// position-side tag. Symbols start optimistic (tag sent) and flip to
	// one-way on the first tag rejection, so the failed attempt is not
	// repeated on every call.
	hedgeMu   sync.Mutex
	hedgeMode map[string]bool
}

// New creates an Engine. books, prices, and arch may be nil; the engine then
// skips maker pricing, the cached-price fallback, and archiving respectively.
func New(
	gw domain.ExchangeGateway,
	books BookSource,
	prices domain.PriceCache,
	positions domain.PositionStore,
	orders domain.ProtectiveOrderStore,
	alerter domain.Alerter,
	opts Options,
	logger *slog.Logger,
) *Engine {
	if opts.CancelRetries < 1 {
		opts.CancelRetries = 1
	}
	return &Engine{
		gw:        gw,
		books:     books,
		prices:    prices,
		positions: positions,
		orders:    orders,
		alerter:   alerter,
		opts:      opts,
		logger:    logger.With(slog.String("component", "engine")),
		states:    make(map[string]*positionState),
		hedgeMode: make(map[string]bool),
	}
}

// SetArchiver installs the closed-position audit archiver.
func (e *Engine) SetArchiver(a Archiver) { e.arch = a }

// Restore seeds a symbol's state from persisted records after a restart.
// Only non-terminal positions should be restored; the next reconcile cycle
// re-checks every order against the venue, so stale records self-correct.
func (e *Engine) Restore(pos domain.Position, orders []domain.ProtectiveOrder) {
	st := e.state(pos.Symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	p := pos
	st.pos = &p
	st.active = make(map[domain.ProtectiveKind]*domain.ProtectiveOrder)
	st.history = nil
	for i := range orders {
		o := orders[i]
		st.record(&o)
	}
	e.logger.Info("position restored",
		slog.String("symbol", pos.Symbol),
		slog.String("position_id", pos.ID),
		slog.String("status", string(pos.Status)),
		slog.Int("protective_records", len(orders)))
}

// state returns the per-symbol state, creating it on first use.
func (e *Engine) state(symbol string) *positionState {
	e.regMu.Lock()
	defer e.regMu.Unlock()
	st, ok := e.states[symbol]
	if !ok {
		st = &positionState{active: make(map[domain.ProtectiveKind]*domain.ProtectiveOrder)}
		e.states[symbol] = st
	}
	return st
}

// Symbols returns all symbols with engine state, sorted for stable iteration.
func (e *Engine) Symbols() []string {
	e.regMu.Lock()
	defer e.regMu.Unlock()
	out := make([]string, 0, len(e.states))
	for s := range e.states {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Position returns a copy of the current position for symbol, or false.
func (e *Engine) Position(symbol string) (domain.Position, bool) {
	st := e.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.pos == nil {
		return domain.Position{}, false
	}
	return *st.pos, true
}

// ActiveProtective returns a copy of the active protective order of the given
// kind, or false.
func (e *Engine) ActiveProtective(symbol string, kind domain.ProtectiveKind) (domain.ProtectiveOrder, bool) {
	st := e.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	ord, ok := st.active[kind]
	if !ok {
		return domain.ProtectiveOrder{}, false
	}
	return *ord, true
}

// useHedgeTag reports whether entry/protective orders for symbol should carry
// the position-side tag.
func (e *Engine) useHedgeTag(symbol string) bool {
	e.hedgeMu.Lock()
	defer e.hedgeMu.Unlock()
	mode, ok := e.hedgeMode[symbol]
	if !ok {
		return true // optimistic first attempt
	}
	return mode
}

func (e *Engine) setHedgeTag(symbol string, hedge bool) {
	e.hedgeMu.Lock()
	e.hedgeMode[symbol] = hedge
	e.hedgeMu.Unlock()
}

// posSideTag returns the tag to attach for the given position side, or empty
// in one-way mode.
func (e *Engine) posSideTag(symbol string, side domain.Side) domain.Side {
	if e.useHedgeTag(symbol) {
		return side
	}
	return ""
}

// alert raises an operator alert; nil-safe and fire-and-forget.
func (e *Engine) alert(ctx context.Context, event, title, msg string) {
	if e.alerter == nil {
		return
	}
	e.alerter.Alert(ctx, event, title, msg)
}

// wait sleeps for d unless ctx is done first.
func wait(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
