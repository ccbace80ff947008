package okx

// Wire types for the OKX v5 trade and market endpoints. Numeric fields are
// strings on the wire; conversion happens at the gateway boundary.

type placeOrderReq struct {
	InstID     string `json:"instId"`
	TdMode     string `json:"tdMode"`
	Side       string `json:"side"`
	PosSide    string `json:"posSide,omitempty"`
	OrdType    string `json:"ordType"`
	Sz         string `json:"sz"`
	Px         string `json:"px,omitempty"`
	ReduceOnly bool   `json:"reduceOnly,omitempty"`
}

type placeOrderResp struct {
	OrdID string `json:"ordId"`
	SCode string `json:"sCode"`
	SMsg  string `json:"sMsg"`
}

type placeAlgoReq struct {
	InstID      string `json:"instId"`
	TdMode      string `json:"tdMode"`
	Side        string `json:"side"`
	PosSide     string `json:"posSide,omitempty"`
	OrdType     string `json:"ordType"`
	Sz          string `json:"sz"`
	ReduceOnly  bool   `json:"reduceOnly,omitempty"`
	SlTriggerPx string `json:"slTriggerPx,omitempty"`
	SlOrdPx     string `json:"slOrdPx,omitempty"`
	TpTriggerPx string `json:"tpTriggerPx,omitempty"`
	TpOrdPx     string `json:"tpOrdPx,omitempty"`
}

type placeAlgoResp struct {
	AlgoID string `json:"algoId"`
	SCode  string `json:"sCode"`
	SMsg   string `json:"sMsg"`
}

type cancelOrderReq struct {
	InstID string `json:"instId"`
	OrdID  string `json:"ordId"`
}

type cancelOrderResp struct {
	OrdID string `json:"ordId"`
	SCode string `json:"sCode"`
	SMsg  string `json:"sMsg"`
}

type cancelAlgoReq struct {
	InstID string `json:"instId"`
	AlgoID string `json:"algoId"`
}

type cancelAlgoResp struct {
	AlgoID string `json:"algoId"`
	SCode  string `json:"sCode"`
	SMsg   string `json:"sMsg"`
}

type orderDetail struct {
	OrdID string `json:"ordId"`
	State string `json:"state"`
}

type algoDetail struct {
	AlgoID string `json:"algoId"`
	State  string `json:"state"`
}

type setLeverageReq struct {
	InstID  string `json:"instId"`
	Lever   string `json:"lever"`
	MgnMode string `json:"mgnMode"`
}

type setLeverageResp struct {
	InstID string `json:"instId"`
	Lever  string `json:"lever"`
}

type tickerData struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
}
