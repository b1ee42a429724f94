package dto

import "time"

type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
	DirectionNone  Direction = "NONE"
)

// Opposite returns the mirrored direction, or DirectionNone when undetermined.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionLong:
		return DirectionShort
	case DirectionShort:
		return DirectionLong
	default:
		return DirectionNone
	}
}

type Bias string

const (
	BiasBullish Bias = "BULLISH"
	BiasBearish Bias = "BEARISH"
	BiasNeutral Bias = "NEUTRAL"
)

// TowardDirection maps a structure bias to the trade direction it supports.
func (b Bias) TowardDirection() Direction {
	switch b {
	case BiasBullish:
		return DirectionLong
	case BiasBearish:
		return DirectionShort
	default:
		return DirectionNone
	}
}

type CyclePhase string

const (
	CyclePhaseDrive     CyclePhase = "DRIVE"
	CyclePhaseRange     CyclePhase = "RANGE"
	CyclePhaseLiquidity CyclePhase = "LIQUIDITY"
)

// PatternDetection is a candle pattern found on a single timeframe.
// Extreme is the pattern's outermost price (the low of a bullish pattern,
// the high of a bearish one); stops are anchored beyond it.
type PatternDetection struct {
	Type       string    `json:"type"`
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
	Location   float64   `json:"location"`
	Extreme    float64   `json:"extreme"`
}

type ZoneKind string

const (
	ZoneSupport    ZoneKind = "SUPPORT"
	ZoneResistance ZoneKind = "RESISTANCE"
)

type Zone struct {
	Kind    ZoneKind `json:"kind"`
	Price   float64  `json:"price"`
	Touches int      `json:"touches"`
}

type StructureBreak struct {
	Direction Direction `json:"direction"`
	Price     float64   `json:"price"`
	Confirmed bool      `json:"confirmed"`
	BrokeAt   time.Time `json:"broke_at"`
}

type StructureSummary struct {
	Bias              Bias            `json:"bias"`
	LastBreak         *StructureBreak `json:"last_break,omitempty"`
	NearestSupport    *Zone           `json:"nearest_support,omitempty"`
	NearestResistance *Zone           `json:"nearest_resistance,omitempty"`
}

type CycleInfo struct {
	Phase      CyclePhase `json:"phase"`
	Confidence float64    `json:"confidence"`
	// TransitionRisk in [0,1]: likelihood the current phase is about to flip.
	TransitionRisk float64 `json:"transition_risk"`
}

// TimeframeAnalysis is the externally produced snapshot for one
// (asset, timeframe, as-of) triple. It must never reference data later
// than AsOf. The scorer treats missing optional sections as neutral.
type TimeframeAnalysis struct {
	Asset     string             `json:"asset"`
	Timeframe Timeframe          `json:"timeframe"`
	AsOf      time.Time          `json:"as_of"`
	Patterns  []PatternDetection `json:"patterns,omitempty"`
	Structure *StructureSummary  `json:"structure,omitempty"`
	Cycle     *CycleInfo         `json:"cycle,omitempty"`
	// VolumeRatio is current volume relative to its recent average (1 = average).
	VolumeRatio float64 `json:"volume_ratio"`
	// Momentum in [-1,1], positive = upward.
	Momentum float64 `json:"momentum"`
}

// BestPattern returns the highest-confidence detected pattern, or nil.
func (a *TimeframeAnalysis) BestPattern() *PatternDetection {
	if a == nil || len(a.Patterns) == 0 {
		return nil
	}
	best := &a.Patterns[0]
	for i := 1; i < len(a.Patterns); i++ {
		if a.Patterns[i].Confidence > best.Confidence {
			best = &a.Patterns[i]
		}
	}
	return best
}
