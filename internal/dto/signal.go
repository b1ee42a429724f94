package dto

import "time"

type FactorName string

const (
	FactorDirectionMatch             FactorName = "direction_match"
	FactorCycleAlignment             FactorName = "cycle_alignment"
	FactorStructureAlignment         FactorName = "structure_alignment"
	FactorEntryPatternQuality        FactorName = "entry_pattern_quality"
	FactorPatternContextMatch        FactorName = "pattern_context_match"
	FactorZoneInteraction            FactorName = "zone_interaction"
	FactorStructureBreakConfirmation FactorName = "structure_break_confirmation"
	FactorCyclePhaseFavorable        FactorName = "cycle_phase_favorable"
	FactorVolumeConfirmation         FactorName = "volume_confirmation"
	FactorMomentumAlignment          FactorName = "momentum_alignment"
	FactorCycleTransitionRisk        FactorName = "cycle_transition_risk"
)

// FactorWeights are fixed model weights. The transition-risk weight is
// negative: a high risk value deducts from the confluence score.
var FactorWeights = map[FactorName]float64{
	FactorDirectionMatch:             0.20,
	FactorCycleAlignment:             0.15,
	FactorStructureAlignment:         0.15,
	FactorEntryPatternQuality:        0.15,
	FactorPatternContextMatch:        0.10,
	FactorZoneInteraction:            0.10,
	FactorStructureBreakConfirmation: 0.05,
	FactorCyclePhaseFavorable:        0.05,
	FactorVolumeConfirmation:         0.05,
	FactorMomentumAlignment:          0.05,
	FactorCycleTransitionRisk:        -0.05,
}

// FactorScores holds the raw per-factor contributions, each in [-1,1].
type FactorScores map[FactorName]float64

// WeightedSum combines the raw factors with the fixed weights and clamps
// the result to [0,1].
func (f FactorScores) WeightedSum() float64 {
	var sum float64
	for name, weight := range FactorWeights {
		sum += weight * f[name]
	}
	if sum < 0 {
		return 0
	}
	if sum > 1 {
		return 1
	}
	return sum
}

// TradeSignal is an immutable scoring outcome for one qualifying bar.
type TradeSignal struct {
	Asset           string       `json:"asset"`
	Direction       Direction    `json:"direction"`
	EntryTimeframe  Timeframe    `json:"entry_timeframe"`
	ConfluenceScore float64      `json:"confluence_score"`
	Factors         FactorScores `json:"factors"`
	MatchedRuleIDs  []string     `json:"matched_rule_ids"`
	EntryPrice      float64      `json:"entry_price"`
	StopPrice       float64      `json:"stop_price"`
	// TakeProfits are ordered monotonically away from the entry price.
	TakeProfits []float64 `json:"take_profits"`
	RiskReward  float64   `json:"risk_reward"`
	Warnings    []string  `json:"warnings,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// RiskPerUnit is the initial stop distance, the R of R-multiples.
func (s *TradeSignal) RiskPerUnit() float64 {
	if s.EntryPrice > s.StopPrice {
		return s.EntryPrice - s.StopPrice
	}
	return s.StopPrice - s.EntryPrice
}
