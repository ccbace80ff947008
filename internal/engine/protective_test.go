package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/quantfold/swapbot/internal/domain"
)

func TestUpdateStopRequiresOpenPosition(t *testing.T) {
	e := newTestEngine(&fakeGateway{}, nil)

	err := e.UpdateStop(context.Background(), sym, 96)
	if !errors.Is(err, domain.ErrPositionNotOpen) {
		t.Fatalf("expected ErrPositionNotOpen, got %v", err)
	}
}

func TestUpdateStopReplacesWithLimit(t *testing.T) {
	gw := &fakeGateway{}
	e := newTestEngine(gw, nil)
	openFilled(t, e, gw, 95, 0)

	old, _ := e.ActiveProtective(sym, domain.KindStopLoss)

	if err := e.UpdateStop(context.Background(), sym, 96); err != nil {
		t.Fatalf("UpdateStop: %v", err)
	}

	sl, ok := e.ActiveProtective(sym, domain.KindStopLoss)
	if !ok {
		t.Fatal("no active stop after replacement")
	}
	if sl.Form != domain.FormLimit || sl.TriggerPrice != 96 {
		t.Fatalf("expected limit stop at 96, got %+v", sl)
	}
	if sl.VenueOrderID == old.VenueOrderID {
		t.Error("replacement must be a new venue order")
	}

	// Place-then-cancel: the old order is retired only after the new one
	// was accepted.
	cancels := gw.cancels()
	if len(cancels) != 1 || cancels[0] != old.VenueOrderID {
		t.Fatalf("expected one cancel of %s, got %v", old.VenueOrderID, cancels)
	}
}

func TestUpdateStopSameTriggerIsNoOp(t *testing.T) {
	gw := &fakeGateway{}
	e := newTestEngine(gw, nil)
	openFilled(t, e, gw, 95, 0)

	placements := len(gw.limitCalls) + len(gw.condCalls) + len(gw.marketCalls)
	if err := e.UpdateStop(context.Background(), sym, 95); err != nil {
		t.Fatalf("UpdateStop: %v", err)
	}
	after := len(gw.limitCalls) + len(gw.condCalls) + len(gw.marketCalls)
	if after != placements {
		t.Fatalf("re-pricing to the current trigger placed %d new orders", after-placements)
	}
}

func TestUpdateStopSupersedeThenRepeat(t *testing.T) {
	gw := &fakeGateway{}
	e := newTestEngine(gw, nil)
	openFilled(t, e, gw, 95, 0)

	if err := e.UpdateStop(context.Background(), sym, 97); err != nil {
		t.Fatalf("UpdateStop: %v", err)
	}

	sl, ok := e.ActiveProtective(sym, domain.KindStopLoss)
	if !ok || sl.TriggerPrice != 97 {
		t.Fatalf("expected active stop at 97, got %+v (ok=%v)", sl, ok)
	}
	st := e.state(sym)
	st.mu.Lock()
	var superseded int
	for _, ord := range st.history {
		if ord.Kind == domain.KindStopLoss && ord.Status == domain.ProtectiveSuperseded {
			superseded++
		}
	}
	st.mu.Unlock()
	if superseded != 1 {
		t.Fatalf("expected exactly one superseded stop record, got %d", superseded)
	}

	// Re-pricing to the already-active level changes nothing at the venue.
	placements := len(gw.limitCalls) + len(gw.condCalls) + len(gw.marketCalls)
	if err := e.UpdateStop(context.Background(), sym, 97); err != nil {
		t.Fatalf("repeat UpdateStop: %v", err)
	}
	if after := len(gw.limitCalls) + len(gw.condCalls) + len(gw.marketCalls); after != placements {
		t.Fatalf("repeated re-pricing placed %d new orders", after-placements)
	}
	if n := len(gw.cancels()); n != 1 {
		t.Fatalf("expected the single original cancel, got %d", n)
	}
}

func TestUpdateStopFallsBackToConditional(t *testing.T) {
	gw := &fakeGateway{
		limitErr: &domain.VenueRejection{Code: "51006", Reason: domain.ReasonInvalidParam, Msg: "price out of range"},
	}
	e := newTestEngine(gw, nil)
	openFilled(t, e, gw, 95, 0)

	if err := e.UpdateStop(context.Background(), sym, 96); err != nil {
		t.Fatalf("UpdateStop: %v", err)
	}

	sl, ok := e.ActiveProtective(sym, domain.KindStopLoss)
	if !ok || sl.Form != domain.FormConditional {
		t.Fatalf("expected conditional fallback, got %+v (ok=%v)", sl, ok)
	}
	// For a long the trigger is offset upward so it fires no later than the
	// limit would have; the order still executes at the requested level.
	if want := offsetTrigger(domain.SideLong, 96, testOptions().ConditionalGap); sl.TriggerPrice != want {
		t.Errorf("expected offset trigger %g, got %g", want, sl.TriggerPrice)
	}
	if sl.OrderPrice != 96 {
		t.Errorf("expected order price 96, got %g", sl.OrderPrice)
	}
}

func TestUpdateStopClosesAtMarketWhenCrossed(t *testing.T) {
	gw := &fakeGateway{}
	e := newTestEngine(gw, nil)
	openFilled(t, e, gw, 0, 0)

	gw.last = 90 // already through the new stop level for a long

	if err := e.UpdateStop(context.Background(), sym, 96); err != nil {
		t.Fatalf("UpdateStop: %v", err)
	}

	sl, ok := e.ActiveProtective(sym, domain.KindStopLoss)
	if !ok || sl.Form != domain.FormMarket {
		t.Fatalf("expected market close, got %+v (ok=%v)", sl, ok)
	}
	pos, _ := e.Position(sym)
	if pos.Status != domain.PositionClosing {
		t.Fatalf("expected closing position, got %s", pos.Status)
	}
	last := gw.marketCalls[len(gw.marketCalls)-1]
	if last.Side != domain.OrderSell || !last.ReduceOnly {
		t.Errorf("market close must be a reduce-only sell, got %+v", last)
	}
}

func TestUpdateStopCrossedRecordsObsoleteLimit(t *testing.T) {
	gw := &fakeGateway{}
	store := newFakeOrderStore()
	e := newTestEngineWithStore(gw, nil, store)
	openFilled(t, e, gw, 0, 0)

	// The limit is accepted first; the crossed check then forces a market
	// close, making the fresh limit obsolete before it ever mattered.
	gw.last = 90
	if err := e.UpdateStop(context.Background(), sym, 96); err != nil {
		t.Fatalf("UpdateStop: %v", err)
	}
	if len(gw.limitCalls) != 1 {
		t.Fatalf("expected 1 limit placement, got %d", len(gw.limitCalls))
	}

	st := e.state(sym)
	st.mu.Lock()
	var limit *domain.ProtectiveOrder
	for _, ord := range st.history {
		if ord.Form == domain.FormLimit {
			limit = ord
		}
	}
	st.mu.Unlock()

	// Even an instantly obsolete order leaves a linked record: an order
	// resting at the venue with no local trace is drift that reconciliation
	// cannot catch.
	if limit == nil {
		t.Fatal("the obsolete limit never entered the trail")
	}
	if limit.Status != domain.ProtectiveSuperseded || limit.SupersededBy == nil {
		t.Fatalf("expected superseded with a replacement link, got %+v", limit)
	}
	if !store.created(limit.ID) {
		t.Error("the obsolete limit was never persisted")
	}
	for id := range store.superseded {
		if !store.created(id) {
			t.Errorf("supersede persisted for %s, which was never created", id)
		}
	}
}

func TestUpdateStopCancelExhaustionStillSucceeds(t *testing.T) {
	gw := &fakeGateway{}
	al := &fakeAlerter{}
	e := newTestEngine(gw, al)
	openFilled(t, e, gw, 95, 0)

	gw.cancelErr = errors.New("venue unreachable")

	if err := e.UpdateStop(context.Background(), sym, 96); err != nil {
		t.Fatalf("cancel exhaustion must not fail the replacement: %v", err)
	}
	if n := len(gw.cancels()); n != testOptions().CancelRetries {
		t.Errorf("expected %d cancel attempts, got %d", testOptions().CancelRetries, n)
	}
	if !al.has("cancel_failed") {
		t.Error("expected a cancel_failed alert about the stale duplicate")
	}
	if n := len(al.events); n != 1 {
		t.Errorf("expected exactly one alert, got %d", n)
	}
	if _, ok := e.ActiveProtective(sym, domain.KindStopLoss); !ok {
		t.Error("replacement should remain active")
	}
	// The old record stays superseded: the replacement is what protects the
	// position, not a successful cancel.
	st := e.state(sym)
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, ord := range st.history {
		if ord.Status == domain.ProtectiveCanceled {
			t.Error("a failed cancel must not be recorded as canceled")
		}
	}
}

func TestUpdateStopCancelGoneIsSuccess(t *testing.T) {
	gw := &fakeGateway{}
	al := &fakeAlerter{}
	e := newTestEngine(gw, al)
	openFilled(t, e, gw, 95, 0)

	gw.cancelErr = &domain.VenueRejection{Code: "51400", Reason: domain.ReasonOrderGone, Msg: "order does not exist"}

	if err := e.UpdateStop(context.Background(), sym, 96); err != nil {
		t.Fatalf("UpdateStop: %v", err)
	}
	if n := len(gw.cancels()); n != 1 {
		t.Errorf("a gone order needs no retries, got %d attempts", n)
	}
	if al.has("cancel_failed") {
		t.Error("gone is a benign terminal state, not a failure")
	}
}

func TestUpdateStopAllPathsFail(t *testing.T) {
	gw := &fakeGateway{
		limitErr: &domain.VenueRejection{Code: "51006", Reason: domain.ReasonInvalidParam, Msg: "bad price"},
		condErr:  &domain.VenueRejection{Code: "51020", Reason: domain.ReasonInvalidParam, Msg: "bad size"},
	}
	al := &fakeAlerter{}
	e := newTestEngine(gw, al)
	openFilled(t, e, gw, 0, 0)

	gw.lastErr = errors.New("ticker unavailable") // no market fallback either

	err := e.UpdateStop(context.Background(), sym, 96)
	if !errors.Is(err, domain.ErrUnprotected) {
		t.Fatalf("expected ErrUnprotected, got %v", err)
	}
	if !al.has("stop_update_failed") {
		t.Error("expected a stop_update_failed alert")
	}
}

func TestCancelAll(t *testing.T) {
	gw := &fakeGateway{}
	e := newTestEngine(gw, nil)
	openFilled(t, e, gw, 95, 110)

	e.CancelAll(context.Background(), sym)

	if n := len(gw.cancels()); n != 2 {
		t.Fatalf("expected 2 cancels, got %d", n)
	}
	if _, ok := e.ActiveProtective(sym, domain.KindStopLoss); ok {
		t.Error("stop should be cleared")
	}
	if _, ok := e.ActiveProtective(sym, domain.KindTakeProfit); ok {
		t.Error("take-profit should be cleared")
	}
}

func TestOffsetTrigger(t *testing.T) {
	if got := offsetTrigger(domain.SideLong, 100, 0.001); got != 100.1 {
		t.Errorf("long: expected 100.1, got %g", got)
	}
	if got := offsetTrigger(domain.SideShort, 100, 0.001); got != 99.9 {
		t.Errorf("short: expected 99.9, got %g", got)
	}
}

func TestCrossed(t *testing.T) {
	if !crossed(domain.SideLong, 95, 96) {
		t.Error("long stop at 96 is crossed at 95")
	}
	if crossed(domain.SideLong, 97, 96) {
		t.Error("long stop at 96 is not crossed at 97")
	}
	if !crossed(domain.SideShort, 105, 104) {
		t.Error("short stop at 104 is crossed at 105")
	}
	if crossed(domain.SideShort, 103, 104) {
		t.Error("short stop at 104 is not crossed at 103")
	}
}
