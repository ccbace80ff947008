// Package market holds the in-process market-data state the engine reads:
// a rolling 1-minute kline window per symbol and a top-of-book cache. Both
// are guarded by their own mutexes and expose only thread-safe accessors.
package market

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/quantfold/swapbot/internal/domain"
)

// ErrInsufficientData is returned when the window holds fewer bars than the
// requested aggregation period.
var ErrInsufficientData = errors.New("not enough bars for period")

// GapError reports a continuity failure: the window spans one or more missing
// minutes, so no period bar can be produced from it.
type GapError struct {
	Missing []time.Time
}

func (e *GapError) Error() string {
	parts := make([]string, len(e.Missing))
	for i, t := range e.Missing {
		parts[i] = t.Format("15:04")
	}
	return fmt.Sprintf("kline window has %d missing minute(s): %s",
		len(e.Missing), strings.Join(parts, ", "))
}

// continuityTolerance allows bar spacing to drift by up to 0.1 minute before
// it counts as a gap.
const continuityTolerance = 6 * time.Second

// KlineAggregator buffers the most recent confirmed 1-minute bars for one
// symbol and aggregates them into fixed-length period bars. The window is
// append-only and duplicate-free: bars whose timestamp is not strictly newer
// than the last stored bar are rejected.
type KlineAggregator struct {
	symbol   string
	capacity int

	mu   sync.Mutex
	bars []domain.Kline
}

// NewKlineAggregator creates an aggregator for symbol holding at most
// capacity bars. Capacity should equal the target aggregation period length.
func NewKlineAggregator(symbol string, capacity int) *KlineAggregator {
	if capacity < 1 {
		capacity = 1
	}
	return &KlineAggregator{
		symbol:   symbol,
		capacity: capacity,
		bars:     make([]domain.Kline, 0, capacity),
	}
}

// Add appends a confirmed bar to the window, evicting the oldest bar when the
// window is full. It returns false (a no-op) for unconfirmed bars and for
// bars whose timestamp is not newer than the last stored bar.
func (a *KlineAggregator) Add(k domain.Kline) bool {
	if !k.Confirmed {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.bars); n > 0 && !k.Timestamp.After(a.bars[n-1].Timestamp) {
		return false
	}

	a.bars = append(a.bars, k)
	if len(a.bars) > a.capacity {
		a.bars = a.bars[len(a.bars)-a.capacity:]
	}
	return true
}

// Len returns the number of buffered bars.
func (a *KlineAggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.bars)
}

// Aggregate combines the most recent period bars into one period bar. It
// fails closed: if the window holds fewer than period bars, or any
// consecutive pair is not exactly one minute apart, no bar is produced. A
// continuity failure is reported as a *GapError naming the missing minutes.
func (a *KlineAggregator) Aggregate(period int) (domain.PeriodKline, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if period < 1 || len(a.bars) < period {
		return domain.PeriodKline{}, ErrInsufficientData
	}

	window := a.bars[len(a.bars)-period:]
	if missing := missingMinutes(window); len(missing) > 0 {
		return domain.PeriodKline{}, &GapError{Missing: missing}
	}

	agg := domain.PeriodKline{
		Symbol:    a.symbol,
		Timestamp: window[0].Timestamp,
		Period:    period,
		Open:      window[0].Open,
		High:      window[0].High,
		Low:       window[0].Low,
		Close:     window[period-1].Close,
	}
	for _, bar := range window {
		if bar.High > agg.High {
			agg.High = bar.High
		}
		if bar.Low < agg.Low {
			agg.Low = bar.Low
		}
		agg.Volume += bar.Volume
	}
	return agg, nil
}

// missingMinutes scans consecutive bar pairs and collects every expected
// minute absent between them.
func missingMinutes(bars []domain.Kline) []time.Time {
	var missing []time.Time
	for i := 1; i < len(bars); i++ {
		prev, curr := bars[i-1].Timestamp, bars[i].Timestamp
		if curr.Sub(prev) <= time.Minute+continuityTolerance {
			continue
		}
		for t := prev.Add(time.Minute); t.Before(curr); t = t.Add(time.Minute) {
			missing = append(missing, t)
		}
	}
	return missing
}
