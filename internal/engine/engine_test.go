package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/quantfold/swapbot/internal/domain"
)

// fakeGateway is a scriptable in-memory venue. Call slices record every
// placement so tests can assert on order parameters.
type fakeGateway struct {
	mu  sync.Mutex
	seq int

	// rejectPosSide makes every tagged placement fail the way a one-way
	// account does.
	rejectPosSide bool

	limitErr  error
	condErr   error
	marketErr error
	cancelErr error
	leverErr  error

	limitCalls  []domain.LimitOrder
	condCalls   []domain.ConditionalOrder
	marketCalls []domain.MarketOrder
	cancelCalls []string
	leverCalls  []int

	orderStatus domain.CanonicalStatus
	algoStatus  domain.CanonicalStatus
	last        float64
	lastErr     error
}

func (g *fakeGateway) nextID(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s-%d", prefix, g.seq)
}

func (g *fakeGateway) posSideRejection() error {
	return &domain.VenueRejection{Code: "51000", Reason: domain.ReasonPosSideUnsupported, Msg: "posSide error"}
}

func (g *fakeGateway) PlaceLimit(_ context.Context, o domain.LimitOrder) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limitCalls = append(g.limitCalls, o)
	if g.rejectPosSide && o.PosSide != "" {
		return "", g.posSideRejection()
	}
	if g.limitErr != nil {
		return "", g.limitErr
	}
	return g.nextID("ord"), nil
}

func (g *fakeGateway) PlaceConditional(_ context.Context, o domain.ConditionalOrder) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.condCalls = append(g.condCalls, o)
	if g.rejectPosSide && o.PosSide != "" {
		return "", g.posSideRejection()
	}
	if g.condErr != nil {
		return "", g.condErr
	}
	return g.nextID("algo"), nil
}

func (g *fakeGateway) PlaceMarket(_ context.Context, o domain.MarketOrder) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.marketCalls = append(g.marketCalls, o)
	if g.rejectPosSide && o.PosSide != "" {
		return "", g.posSideRejection()
	}
	if g.marketErr != nil {
		return "", g.marketErr
	}
	return g.nextID("ord"), nil
}

func (g *fakeGateway) Cancel(_ context.Context, _, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelCalls = append(g.cancelCalls, orderID)
	return g.cancelErr
}

func (g *fakeGateway) OrderStatus(_ context.Context, _, _ string) (domain.CanonicalStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.orderStatus == "" {
		return domain.StatusOpen, nil
	}
	return g.orderStatus, nil
}

func (g *fakeGateway) AlgoOrderStatus(_ context.Context, _, _ string) (domain.CanonicalStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.algoStatus == "" {
		return domain.StatusOpen, nil
	}
	return g.algoStatus, nil
}

func (g *fakeGateway) SetLeverage(_ context.Context, _ string, leverage int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leverCalls = append(g.leverCalls, leverage)
	return g.leverErr
}

func (g *fakeGateway) LastTradePrice(_ context.Context, _ string) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last, g.lastErr
}

func (g *fakeGateway) cancels() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.cancelCalls))
	copy(out, g.cancelCalls)
	return out
}

// fakeOrderStore records protective-order persistence calls so tests can
// assert every venue order has a stored record.
type fakeOrderStore struct {
	mu         sync.Mutex
	createdIDs []string
	superseded map[string]string
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{superseded: make(map[string]string)}
}

func (s *fakeOrderStore) Create(_ context.Context, o domain.ProtectiveOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createdIDs = append(s.createdIDs, o.ID)
	return nil
}

func (s *fakeOrderStore) UpdateStatus(_ context.Context, _ string, _ domain.ProtectiveStatus) error {
	return nil
}

func (s *fakeOrderStore) MarkSuperseded(_ context.Context, id, supersededBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.superseded[id] = supersededBy
	return nil
}

func (s *fakeOrderStore) ListByPosition(_ context.Context, _ string) ([]domain.ProtectiveOrder, error) {
	return nil, nil
}

func (s *fakeOrderStore) created(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.createdIDs {
		if c == id {
			return true
		}
	}
	return false
}

// fakeAlerter records alert events.
type fakeAlerter struct {
	mu     sync.Mutex
	events []string
}

func (a *fakeAlerter) Alert(_ context.Context, event, _, _ string) {
	a.mu.Lock()
	a.events = append(a.events, event)
	a.mu.Unlock()
}

func (a *fakeAlerter) has(event string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.events {
		if e == event {
			return true
		}
	}
	return false
}

func testOptions() Options {
	return Options{
		Leverage:             2,
		CancelRetries:        2,
		CancelRetryDelay:     time.Millisecond,
		ConditionalGap:       0.001,
		EntryConfirmAttempts: 1,
		EntryConfirmDelay:    time.Millisecond,
	}
}

func newTestEngine(gw *fakeGateway, al *fakeAlerter) *Engine {
	return newTestEngineWithStore(gw, al, nil)
}

func newTestEngineWithStore(gw *fakeGateway, al *fakeAlerter, store *fakeOrderStore) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var alerter domain.Alerter
	if al != nil {
		alerter = al
	}
	var orders domain.ProtectiveOrderStore
	if store != nil {
		orders = store
	}
	return New(gw, nil, nil, nil, orders, alerter, testOptions(), logger)
}

const sym = "BTC-USDT-SWAP"

// openFilled opens a long position whose entry fills on the first inline
// poll. Stop/take-profit of zero skips the initial attach.
func openFilled(t *testing.T, e *Engine, gw *fakeGateway, stop, tp float64) domain.Position {
	t.Helper()
	gw.orderStatus = domain.StatusFilled
	gw.last = 100

	if _, err := e.Open(context.Background(), domain.TradeDecision{
		Symbol:     sym,
		Side:       domain.SideLong,
		Quantity:   1,
		StopPrice:  stop,
		TakeProfit: tp,
	}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, ok := e.Position(sym)
	if !ok || got.Status != domain.PositionOpen {
		t.Fatalf("expected open position, got %+v (ok=%v)", got, ok)
	}
	return got
}

func TestOpenFillsInlineAndAttaches(t *testing.T) {
	gw := &fakeGateway{}
	e := newTestEngine(gw, nil)

	pos := openFilled(t, e, gw, 95, 110)

	if pos.EntryPrice != 100 {
		t.Errorf("expected entry price 100, got %g", pos.EntryPrice)
	}
	if pos.Leverage != 2 {
		t.Errorf("expected leverage 2, got %d", pos.Leverage)
	}
	if len(gw.marketCalls) != 1 {
		t.Fatalf("expected 1 market entry, got %d", len(gw.marketCalls))
	}
	if gw.marketCalls[0].PosSide != domain.SideLong {
		t.Errorf("first entry should carry the position-side tag, got %q", gw.marketCalls[0].PosSide)
	}

	sl, ok := e.ActiveProtective(sym, domain.KindStopLoss)
	if !ok || sl.TriggerPrice != 95 || sl.Form != domain.FormConditional {
		t.Fatalf("expected conditional stop at 95, got %+v (ok=%v)", sl, ok)
	}
	tp, ok := e.ActiveProtective(sym, domain.KindTakeProfit)
	if !ok || tp.TriggerPrice != 110 {
		t.Fatalf("expected take-profit at 110, got %+v (ok=%v)", tp, ok)
	}
	for _, c := range gw.condCalls {
		if c.Side != domain.OrderSell || !c.ReduceOnly {
			t.Errorf("protective order must be a reduce-only sell, got %+v", c)
		}
	}
}

func TestOpenSwitchesToOneWayOnTagRejection(t *testing.T) {
	gw := &fakeGateway{rejectPosSide: true}
	e := newTestEngine(gw, nil)

	openFilled(t, e, gw, 0, 0)

	if len(gw.marketCalls) != 2 {
		t.Fatalf("expected tagged attempt plus untagged retry, got %d calls", len(gw.marketCalls))
	}
	if gw.marketCalls[0].PosSide != domain.SideLong {
		t.Errorf("first attempt should be tagged, got %q", gw.marketCalls[0].PosSide)
	}
	if gw.marketCalls[1].PosSide != "" {
		t.Errorf("retry should be untagged, got %q", gw.marketCalls[1].PosSide)
	}
	if e.useHedgeTag(sym) {
		t.Error("one-way mode should be cached for the symbol")
	}
}

func TestOpenEntryRejected(t *testing.T) {
	gw := &fakeGateway{
		marketErr: &domain.VenueRejection{Code: "51008", Reason: domain.ReasonInsufficientMargin, Msg: "insufficient margin"},
	}
	e := newTestEngine(gw, nil)

	_, err := e.Open(context.Background(), domain.TradeDecision{
		Symbol: sym, Side: domain.SideLong, Quantity: 1,
	})
	if !errors.Is(err, domain.ErrEntryRejected) {
		t.Fatalf("expected ErrEntryRejected, got %v", err)
	}
	if _, ok := e.Position(sym); ok {
		t.Error("no position should exist after a rejected entry")
	}
}

func TestOpenRefusesSecondPosition(t *testing.T) {
	gw := &fakeGateway{}
	e := newTestEngine(gw, nil)

	openFilled(t, e, gw, 0, 0)

	_, err := e.Open(context.Background(), domain.TradeDecision{
		Symbol: sym, Side: domain.SideShort, Quantity: 1,
	})
	if !errors.Is(err, domain.ErrPositionExists) {
		t.Fatalf("expected ErrPositionExists, got %v", err)
	}
}

func TestOpenStaysPendingWithoutFill(t *testing.T) {
	gw := &fakeGateway{orderStatus: domain.StatusOpen}
	e := newTestEngine(gw, nil)

	pos, err := e.Open(context.Background(), domain.TradeDecision{
		Symbol: sym, Side: domain.SideLong, Quantity: 1, StopPrice: 95, TakeProfit: 110,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if pos.Status != domain.PositionPending {
		t.Fatalf("expected pending, got %s", pos.Status)
	}
	if len(gw.condCalls) != 0 {
		t.Errorf("protective orders must not attach before the fill, got %d", len(gw.condCalls))
	}
}

func TestRestoreSeedsState(t *testing.T) {
	gw := &fakeGateway{}
	e := newTestEngine(gw, nil)

	now := time.Now().UTC()
	pos := domain.Position{
		ID: "pos-1", Symbol: sym, Side: domain.SideLong,
		Quantity: 1, Status: domain.PositionOpen, OpenedAt: now,
	}
	orders := []domain.ProtectiveOrder{
		{ID: "a", PositionID: "pos-1", Symbol: sym, Kind: domain.KindStopLoss,
			VenueOrderID: "algo-old", TriggerPrice: 94, Form: domain.FormConditional,
			Status: domain.ProtectiveSuperseded},
		{ID: "b", PositionID: "pos-1", Symbol: sym, Kind: domain.KindStopLoss,
			VenueOrderID: "algo-new", TriggerPrice: 95, OrderPrice: 95,
			Form: domain.FormConditional, Status: domain.ProtectiveActive},
	}
	e.Restore(pos, orders)

	got, ok := e.Position(sym)
	if !ok || got.ID != "pos-1" || got.Status != domain.PositionOpen {
		t.Fatalf("expected restored open position, got %+v (ok=%v)", got, ok)
	}
	sl, ok := e.ActiveProtective(sym, domain.KindStopLoss)
	if !ok || sl.VenueOrderID != "algo-new" {
		t.Fatalf("only the active record should be live, got %+v (ok=%v)", sl, ok)
	}
}
