package market

import (
	"errors"
	"testing"
	"time"

	"github.com/quantfold/swapbot/internal/domain"
)

func bar(ts time.Time, o, h, l, c, v float64) domain.Kline {
	return domain.Kline{
		Symbol:    "BTC-USDT-SWAP",
		Timestamp: ts,
		Open:      o,
		High:      h,
		Low:       l,
		Close:     c,
		Volume:    v,
		Confirmed: true,
	}
}

func TestAddRejectsUnconfirmed(t *testing.T) {
	agg := NewKlineAggregator("BTC-USDT-SWAP", 10)
	k := bar(time.Now().Truncate(time.Minute), 100, 101, 99, 100.5, 1)
	k.Confirmed = false

	if agg.Add(k) {
		t.Fatal("unconfirmed bar was accepted")
	}
	if agg.Len() != 0 {
		t.Fatalf("expected empty window, got %d bars", agg.Len())
	}
}

func TestAddRejectsDuplicateAndOutOfOrder(t *testing.T) {
	agg := NewKlineAggregator("BTC-USDT-SWAP", 10)
	now := time.Now().UTC().Truncate(time.Minute)

	if !agg.Add(bar(now, 100, 101, 99, 100.5, 1)) {
		t.Fatal("first bar rejected")
	}
	if agg.Add(bar(now, 200, 201, 199, 200, 1)) {
		t.Fatal("duplicate timestamp accepted")
	}
	if agg.Add(bar(now.Add(-time.Minute), 50, 51, 49, 50, 1)) {
		t.Fatal("older bar accepted")
	}
	if agg.Len() != 1 {
		t.Fatalf("expected 1 bar, got %d", agg.Len())
	}
}

func TestWindowEviction(t *testing.T) {
	agg := NewKlineAggregator("BTC-USDT-SWAP", 3)
	now := time.Now().UTC().Truncate(time.Minute)

	for i := 0; i < 5; i++ {
		agg.Add(bar(now.Add(time.Duration(i)*time.Minute), 100, 101, 99, 100, 1))
	}
	if agg.Len() != 3 {
		t.Fatalf("expected capacity-bounded window of 3, got %d", agg.Len())
	}
}

func TestAggregatePeriodBar(t *testing.T) {
	agg := NewKlineAggregator("BTC-USDT-SWAP", 5)
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	agg.Add(bar(now, 100, 105, 98, 102, 10))
	agg.Add(bar(now.Add(time.Minute), 102, 110, 101, 108, 20))
	agg.Add(bar(now.Add(2*time.Minute), 108, 109, 95, 96, 5))

	pk, err := agg.Aggregate(3)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if pk.Symbol != "BTC-USDT-SWAP" || pk.Period != 3 {
		t.Fatalf("unexpected identity: %+v", pk)
	}
	if !pk.Timestamp.Equal(now) {
		t.Errorf("expected timestamp %v, got %v", now, pk.Timestamp)
	}
	if pk.Open != 100 {
		t.Errorf("expected open=100, got %g", pk.Open)
	}
	if pk.High != 110 {
		t.Errorf("expected high=110, got %g", pk.High)
	}
	if pk.Low != 95 {
		t.Errorf("expected low=95, got %g", pk.Low)
	}
	if pk.Close != 96 {
		t.Errorf("expected close=96, got %g", pk.Close)
	}
	if pk.Volume != 35 {
		t.Errorf("expected volume=35, got %g", pk.Volume)
	}
}

func TestAggregateInsufficientData(t *testing.T) {
	agg := NewKlineAggregator("BTC-USDT-SWAP", 5)
	now := time.Now().UTC().Truncate(time.Minute)
	agg.Add(bar(now, 100, 101, 99, 100, 1))

	if _, err := agg.Aggregate(3); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestAggregateGap(t *testing.T) {
	agg := NewKlineAggregator("BTC-USDT-SWAP", 5)
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	agg.Add(bar(now, 100, 101, 99, 100, 1))
	agg.Add(bar(now.Add(time.Minute), 100, 101, 99, 100, 1))
	// minute 10:02 never arrives
	agg.Add(bar(now.Add(3*time.Minute), 100, 101, 99, 100, 1))

	_, err := agg.Aggregate(3)
	var gap *GapError
	if !errors.As(err, &gap) {
		t.Fatalf("expected GapError, got %v", err)
	}
	if len(gap.Missing) != 1 || !gap.Missing[0].Equal(now.Add(2*time.Minute)) {
		t.Fatalf("expected missing minute 10:02, got %v", gap.Missing)
	}
}
