package dto

type ConditionType string

const (
	ConditionEntryTypeEquals  ConditionType = "entry_type_equals"
	ConditionTimeframeIn      ConditionType = "timeframe_in"
	ConditionMinConfluence    ConditionType = "min_confluence_at_least"
	ConditionCyclePhaseEquals ConditionType = "cycle_phase_equals"
)

// RuleCondition is one tagged condition variant. Only the field matching
// Type is meaningful; the matcher ignores the rest.
type RuleCondition struct {
	Type          ConditionType `json:"type"`
	EntryType     string        `json:"entry_type,omitempty"`
	Timeframes    []Timeframe   `json:"timeframes,omitempty"`
	MinConfluence float64       `json:"min_confluence,omitempty"`
	CyclePhase    CyclePhase    `json:"cycle_phase,omitempty"`
}

// StrategyRule is a versioned, read-only rule definition from the rule store.
type StrategyRule struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Version    int             `json:"version"`
	EntryType  string          `json:"entry_type"`
	Conditions []RuleCondition `json:"conditions"`
	MaxRiskPct float64         `json:"max_risk_pct"`
	MinRR      float64         `json:"min_rr"`
	Confidence float64         `json:"confidence"`
}

// RuleMatchContext carries the scoring facts a condition is evaluated against.
type RuleMatchContext struct {
	EntryPatternType string
	EntryTimeframe   Timeframe
	ConfluenceScore  float64
	CyclePhase       CyclePhase
}
