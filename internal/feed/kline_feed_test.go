package feed

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/quantfold/swapbot/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func minuteBar(min int, close float64) domain.Kline {
	return domain.Kline{
		Symbol:    "BTC-USDT-SWAP",
		Timestamp: time.Date(2026, 8, 30, 10, min, 0, 0, time.UTC),
		Open:      close - 1,
		High:      close + 1,
		Low:       close - 2,
		Close:     close,
		Volume:    1,
		Confirmed: true,
	}
}

func TestKlineFeedEmitsAtPeriodBoundary(t *testing.T) {
	var emitted []domain.PeriodKline
	f := NewKlineFeed("", []string{"BTC-USDT-SWAP"}, 3, 10,
		func(bar domain.PeriodKline) { emitted = append(emitted, bar) },
		discardLogger())

	f.handle(minuteBar(0, 100))
	f.handle(minuteBar(1, 101))
	if len(emitted) != 0 {
		t.Fatalf("emitted before the boundary: %d", len(emitted))
	}

	// Minute 2 closes the [0,2] window for a 3-minute period.
	f.handle(minuteBar(2, 102))
	if len(emitted) != 1 {
		t.Fatalf("expected 1 period bar, got %d", len(emitted))
	}
	bar := emitted[0]
	if bar.Period != 3 || bar.Close != 102 {
		t.Errorf("unexpected period bar: %+v", bar)
	}
	if bar.Timestamp.Minute() != 0 {
		t.Errorf("period bar should open at the window start, got minute %d", bar.Timestamp.Minute())
	}
}

func TestKlineFeedDropsGappedWindows(t *testing.T) {
	var emitted []domain.PeriodKline
	f := NewKlineFeed("", []string{"BTC-USDT-SWAP"}, 3, 10,
		func(bar domain.PeriodKline) { emitted = append(emitted, bar) },
		discardLogger())

	// Minutes 1, 3, 5: the boundary at minute 5 sees a gapped window.
	f.handle(minuteBar(1, 100))
	f.handle(minuteBar(3, 101))
	f.handle(minuteBar(5, 102))

	if len(emitted) != 0 {
		t.Fatalf("gapped window must be dropped, got %d bars", len(emitted))
	}
}

func TestKlineFeedIgnoresUnconfirmedAndUnknown(t *testing.T) {
	var emitted []domain.PeriodKline
	f := NewKlineFeed("", []string{"BTC-USDT-SWAP"}, 3, 10,
		func(bar domain.PeriodKline) { emitted = append(emitted, bar) },
		discardLogger())

	open := minuteBar(2, 102)
	open.Confirmed = false
	f.handle(open)

	other := minuteBar(2, 102)
	other.Symbol = "ETH-USDT-SWAP"
	f.handle(other)

	if n := f.Aggregator("BTC-USDT-SWAP").Len(); n != 0 {
		t.Errorf("nothing should be buffered, got %d bars", n)
	}
	if len(emitted) != 0 {
		t.Errorf("nothing should be emitted, got %d", len(emitted))
	}
}
