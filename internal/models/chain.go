package models

import "time"

// ChainRow is one strike of an option chain, both sides. LotSize comes from
// the instrument metadata and is never assumed.
type ChainRow struct {
	Strike  float64 `json:"strike"`
	Expiry  string  `json:"expiry"`
	LotSize int     `json:"lot_size"`

	CallKey   string  `json:"call_key"`
	CallLTP   float64 `json:"call_ltp"`
	CallBid   float64 `json:"call_bid"`
	CallAsk   float64 `json:"call_ask"`
	CallOI    float64 `json:"call_oi"`
	CallIV    float64 `json:"call_iv"`
	CallDelta float64 `json:"call_delta"`
	CallGamma float64 `json:"call_gamma"`

	PutKey   string  `json:"put_key"`
	PutLTP   float64 `json:"put_ltp"`
	PutBid   float64 `json:"put_bid"`
	PutAsk   float64 `json:"put_ask"`
	PutOI    float64 `json:"put_oi"`
	PutIV    float64 `json:"put_iv"`
	PutDelta float64 `json:"put_delta"`
	PutGamma float64 `json:"put_gamma"`
}

// Candle is one OHLC bar from the historical feed.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}
