package domain

import "time"

// Kline is a single confirmed 1-minute bar. Unique per timestamp; bars must
// arrive in strictly increasing time order.
type Kline struct {
	Symbol    string
	Timestamp time.Time // minute-aligned bar open time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Confirmed bool
}

// PeriodKline is a fixed-length period bar aggregated from consecutive,
// gap-free 1-minute bars.
type PeriodKline struct {
	Symbol    string
	Timestamp time.Time // open time of the first source bar
	Period    int       // length in minutes
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}
