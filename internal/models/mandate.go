package models

// Structure is the strategy family chosen by the regime engine.
type Structure string

const (
	StructureIronFly        Structure = "IRON_FLY"
	StructureIronCondor     Structure = "IRON_CONDOR"
	StructureBullPutSpread  Structure = "BULL_PUT_SPREAD"
	StructureBearCallSpread Structure = "BEAR_CALL_SPREAD"
	StructureCreditSpread   Structure = "CREDIT_SPREAD"
	StructureNoTrade        Structure = "NO_TRADE"
)

// Bias is the directional lean embedded in a mandate.
type Bias string

const (
	BiasNeutral Bias = "NEUTRAL"
	BiasBullish Bias = "BULLISH"
	BiasBearish Bias = "BEARISH"
)

// TradingMandate is the regime engine's instruction to the rest of the
// pipeline: what to trade, how much, and why.
type TradingMandate struct {
	ExpiryType    ExpiryType `json:"expiry_type"`
	ExpiryDate    string     `json:"expiry_date"`
	DTE           int        `json:"dte"`
	RegimeName    string     `json:"regime_name"`
	Structure     Structure  `json:"structure"`
	Bias          Bias       `json:"bias"`
	AllocationPct float64    `json:"allocation_pct"`
	Deployment    float64    `json:"deployment_amount"`
	MaxLots       int        `json:"max_lots"`
	Score         Score      `json:"score"`
	Rationale     []string   `json:"rationale"`
	Warnings      []string   `json:"warnings"`
	VetoReasons   []string   `json:"veto_reasons"`
}

// Tradeable reports whether the mandate authorizes any position.
func (m *TradingMandate) Tradeable() bool {
	return m.Structure != StructureNoTrade && len(m.VetoReasons) == 0 && m.MaxLots > 0
}
