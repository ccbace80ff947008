package domain

// TradeDecision is what the external strategy emits when it wants a position
// opened. The engine never computes these itself.
type TradeDecision struct {
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Quantity   float64 `json:"quantity"`
	StopPrice  float64 `json:"stop_price"`
	TakeProfit float64 `json:"take_profit"`
}

// StopUpdate is what the strategy or a price monitor emits when it wants the
// stop re-priced on an open position.
type StopUpdate struct {
	Symbol       string  `json:"symbol"`
	NewStopPrice float64 `json:"new_stop_price"`
}
