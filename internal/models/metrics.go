package models

// VolRegime classifies the realized/implied volatility environment.
type VolRegime string

const (
	VolRegimeLow       VolRegime = "LOW"
	VolRegimeNormal    VolRegime = "NORMAL"
	VolRegimeElevated  VolRegime = "ELEVATED"
	VolRegimeExplosive VolRegime = "EXPLOSIVE"
)

// VIXMomentum classifies the short-term VIX trajectory.
type VIXMomentum string

const (
	VIXExplosiveUp VIXMomentum = "EXPLOSIVE_UP"
	VIXRising      VIXMomentum = "RISING"
	VIXStable      VIXMomentum = "STABLE"
	VIXFalling     VIXMomentum = "FALLING"
	VIXCollapsing  VIXMomentum = "COLLAPSING"
)

// GexRegime classifies dealer gamma positioning.
type GexRegime string

const (
	GexSticky   GexRegime = "STICKY"
	GexSlippery GexRegime = "SLIPPERY"
)

// SkewRegime classifies the 25-delta put/call skew.
type SkewRegime string

const (
	SkewCrashFear SkewRegime = "CRASH_FEAR"
	SkewBalanced  SkewRegime = "BALANCED"
	SkewMeltUp    SkewRegime = "MELT_UP"
)

// VolMetrics carries realized, forecast and implied volatility measures.
// Fallback is set when a missing live value was substituted by the last
// history close.
type VolMetrics struct {
	RV7         float64     `json:"rv_7"`
	RV28        float64     `json:"rv_28"`
	RV90        float64     `json:"rv_90"`
	Garch7      float64     `json:"garch_7"`
	Garch28     float64     `json:"garch_28"`
	Parkinson7  float64     `json:"parkinson_7"`
	Parkinson28 float64     `json:"parkinson_28"`
	VIX         float64     `json:"vix"`
	VIX5DChange float64     `json:"vix_5d_change"`
	VoV         float64     `json:"vov"`
	VoVZ        float64     `json:"vov_z"`
	IVP30       float64     `json:"ivp_30"`
	IVP90       float64     `json:"ivp_90"`
	IVP1Yr      float64     `json:"ivp_1yr"`
	MA20        float64     `json:"ma_20"`
	ATR14       float64     `json:"atr_14"`
	Spot        float64     `json:"spot"`
	VolRegime   VolRegime   `json:"vol_regime"`
	VIXMomentum VIXMomentum `json:"vix_momentum"`
	Fallback    bool        `json:"fallback"`
}

// StructMetrics carries option-chain structure measures.
type StructMetrics struct {
	NetGEX        float64    `json:"net_gex"`
	MaxGEXStrike  float64    `json:"max_gex_strike"`
	GEXRatio      float64    `json:"gex_ratio"`
	PCRTotal      float64    `json:"pcr_total"`
	PCRATM        float64    `json:"pcr_atm"`
	Skew25Delta   float64    `json:"skew_25d"`
	MaxPainStrike float64    `json:"max_pain_strike"`
	ATMIV         float64    `json:"atm_iv"`
	GexRegime     GexRegime  `json:"gex_regime"`
	SkewRegime    SkewRegime `json:"skew_regime"`
}

// EdgeMetrics carries premium-selling edge measures.
type EdgeMetrics struct {
	VRP                 float64 `json:"vrp"`
	WeightedVRPWeekly   float64 `json:"weighted_vrp_weekly"`
	WeightedVRPMonthly  float64 `json:"weighted_vrp_monthly"`
	WeightedVRPNextWeek float64 `json:"weighted_vrp_next_weekly"`
	TermEdge            float64 `json:"term_edge"`
	// SmartExpiry is the bucket with the best DTE-weighted VRP.
	SmartExpiry ExpiryType `json:"smart_expiry,omitempty"`
}

// ExternalMetrics carries participant-flow and calendar context.
type ExternalMetrics struct {
	FIINetContracts  float64 `json:"fii_net_contracts"`
	FIIAvailable     bool    `json:"fii_available"`
	HighImpactEvents int     `json:"high_impact_events"`
	VetoEvents       int     `json:"veto_events"`
}

// Confidence is the regime engine's conviction tier.
type Confidence string

const (
	ConfidenceVeryHigh Confidence = "VERY_HIGH"
	ConfidenceHigh     Confidence = "HIGH"
	ConfidenceModerate Confidence = "MODERATE"
	ConfidenceLow      Confidence = "LOW"
)

// Weights is the dynamic weighting over the four sub-scores. Always sums to 1.
type Weights struct {
	Vol    float64 `json:"vol"`
	Struct float64 `json:"struct"`
	Edge   float64 `json:"edge"`
	Risk   float64 `json:"risk"`
}

// Score is the regime engine output: four sub-scores in [0,10], their
// weighted composite, and a stability measure across alternative weightings.
type Score struct {
	Vol        float64    `json:"vol_score"`
	Struct     float64    `json:"struct_score"`
	Edge       float64    `json:"edge_score"`
	Risk       float64    `json:"risk_score"`
	Composite  float64    `json:"composite"`
	Weights    Weights    `json:"weights"`
	Stability  float64    `json:"stability"`
	Confidence Confidence `json:"confidence"`
	Drivers    []string   `json:"drivers"`
}
