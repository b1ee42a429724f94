package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confluence-backtest/config"
	"confluence-backtest/internal/dto"
	"confluence-backtest/pkg/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		Backtest: config.Backtest{
			InitialEquity:          10000,
			RiskPerTradePct:        0.02,
			SlippagePct:            0,
			CommissionPct:          0,
			MaxConcurrentPositions: 3,
			DailyLossLimitPct:      0.03,
			PartialExitFraction:    0.5,
			MoveStopToBreakeven:    true,
			TakeProfitRMultiples:   []float64{2, 3, 5},
			ProgressEverySteps:     1000,
		},
		Scorer: config.Scorer{
			MinConfluenceScore:         0.65,
			MinSignalStrength:          0.50,
			RequireHigherTimeframeBias: true,
			VolatilityBufferFrac:       0,
			ATRWindow:                  14,
		},
		Sweep: config.Sweep{MaxConcurrency: 2},
	}
}

func flatCandles(asset string, tf dto.Timeframe, start time.Time, price float64, count int) []dto.Candle {
	candles := make([]dto.Candle, 0, count)
	for i := 0; i < count; i++ {
		candles = append(candles, dto.Candle{
			Asset:     asset,
			Timeframe: tf,
			Timestamp: start.Add(time.Duration(i) * tf.Duration()),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    1,
		})
	}
	return candles
}

func bullishHTFAnalysis() *dto.TimeframeAnalysis {
	return &dto.TimeframeAnalysis{
		Asset:     "BTCUSDT",
		Timeframe: dto.Timeframe4Hour,
		Structure: &dto.StructureSummary{Bias: dto.BiasBullish},
		Cycle:     &dto.CycleInfo{Phase: dto.CyclePhaseDrive, Confidence: 0.9, TransitionRisk: 0.1},
	}
}

func bullishEntryAnalysis() *dto.TimeframeAnalysis {
	return &dto.TimeframeAnalysis{
		Asset:     "BTCUSDT",
		Timeframe: dto.Timeframe1Hour,
		Patterns: []dto.PatternDetection{{
			Type:       "bullish_engulfing",
			Direction:  dto.DirectionLong,
			Confidence: 0.9,
			Location:   100,
			Extreme:    95,
		}},
		Structure: &dto.StructureSummary{
			Bias:              dto.BiasBullish,
			LastBreak:         &dto.StructureBreak{Direction: dto.DirectionLong, Price: 99, Confirmed: true},
			NearestSupport:    &dto.Zone{Kind: dto.ZoneSupport, Price: 99.5, Touches: 2},
			NearestResistance: &dto.Zone{Kind: dto.ZoneResistance, Price: 110, Touches: 1},
		},
		Cycle:       &dto.CycleInfo{Phase: dto.CyclePhaseDrive, Confidence: 0.8, TransitionRisk: 0.1},
		VolumeRatio: 1.5,
		Momentum:    0.8,
	}
}

func fullConfluenceInput() ScoreInput {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return ScoreInput{
		Asset: "BTCUSDT",
		Analyses: map[dto.Timeframe]*dto.TimeframeAnalysis{
			dto.Timeframe4Hour: bullishHTFAnalysis(),
			dto.Timeframe1Hour: bullishEntryAnalysis(),
		},
		HigherTimeframe: dto.Timeframe4Hour,
		EntryTimeframe:  dto.Timeframe1Hour,
		Rules:           []dto.StrategyRule{{ID: "r1", Name: "engulfing long", EntryType: "bullish_engulfing"}},
		EntryCandles:    flatCandles("BTCUSDT", dto.Timeframe1Hour, start, 100, 20),
		AsOf:            start.Add(20 * time.Hour),
	}
}

func TestConfluenceScorer_Score_FullConfluenceLong(t *testing.T) {
	scorer := NewConfluenceScorer(testConfig(), logger.NewNop())
	input := fullConfluenceInput()

	signal, err := scorer.Score(context.Background(), input)
	require.NoError(t, err)
	require.NotNil(t, signal)

	assert.Equal(t, dto.DirectionLong, signal.Direction)
	assert.Equal(t, 100.0, signal.EntryPrice)
	assert.Equal(t, 95.0, signal.StopPrice)
	assert.Equal(t, []float64{110, 115, 125}, signal.TakeProfits)
	assert.InDelta(t, 2.0, signal.RiskReward, 1e-9)
	assert.Equal(t, []string{"r1"}, signal.MatchedRuleIDs)
	assert.GreaterOrEqual(t, signal.ConfluenceScore, 0.65)
	assert.LessOrEqual(t, signal.ConfluenceScore, 1.0)
	assert.Equal(t, input.AsOf, signal.GeneratedAt)
}

func TestConfluenceScorer_Score_Deterministic(t *testing.T) {
	scorer := NewConfluenceScorer(testConfig(), logger.NewNop())
	input := fullConfluenceInput()

	first, err := scorer.Score(context.Background(), input)
	require.NoError(t, err)
	second, err := scorer.Score(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestConfluenceScorer_Score_NoSignalCases(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *config.Config, input *ScoreInput)
	}{
		{
			name: "missing higher timeframe analysis",
			mutate: func(cfg *config.Config, input *ScoreInput) {
				delete(input.Analyses, dto.Timeframe4Hour)
			},
		},
		{
			name: "missing entry timeframe analysis",
			mutate: func(cfg *config.Config, input *ScoreInput) {
				delete(input.Analyses, dto.Timeframe1Hour)
			},
		},
		{
			name: "neutral higher timeframe bias vetoes",
			mutate: func(cfg *config.Config, input *ScoreInput) {
				input.Analyses[dto.Timeframe4Hour].Structure.Bias = dto.BiasNeutral
			},
		},
		{
			name: "confluence below gate",
			mutate: func(cfg *config.Config, input *ScoreInput) {
				cfg.Scorer.MinConfluenceScore = 0.999
			},
		},
		{
			name: "entry pattern quality below gate",
			mutate: func(cfg *config.Config, input *ScoreInput) {
				cfg.Scorer.MinConfluenceScore = 0.01
				input.Analyses[dto.Timeframe1Hour].Patterns[0].Confidence = 0.4
			},
		},
		{
			name: "no matching rules",
			mutate: func(cfg *config.Config, input *ScoreInput) {
				input.Rules = []dto.StrategyRule{{ID: "r1", EntryType: "bearish_engulfing"}}
			},
		},
		{
			name: "no entry candles",
			mutate: func(cfg *config.Config, input *ScoreInput) {
				input.EntryCandles = nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			input := fullConfluenceInput()
			tt.mutate(cfg, &input)

			scorer := NewConfluenceScorer(cfg, logger.NewNop())
			signal, err := scorer.Score(context.Background(), input)
			require.NoError(t, err)
			assert.Nil(t, signal)
		})
	}
}

func TestConfluenceScorer_Score_TiedRulesKeepAllIDs(t *testing.T) {
	scorer := NewConfluenceScorer(testConfig(), logger.NewNop())
	input := fullConfluenceInput()
	input.Rules = []dto.StrategyRule{
		{ID: "r2", EntryType: "bullish_engulfing"},
		{ID: "r1", EntryType: "bullish_engulfing"},
		{ID: "r3"},
	}

	signal, err := scorer.Score(context.Background(), input)
	require.NoError(t, err)
	require.NotNil(t, signal)
	assert.Equal(t, []string{"r1", "r2"}, signal.MatchedRuleIDs)
}

func TestConfluenceScorer_Score_ShortSignal(t *testing.T) {
	scorer := NewConfluenceScorer(testConfig(), logger.NewNop())
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	htf := &dto.TimeframeAnalysis{
		Structure: &dto.StructureSummary{Bias: dto.BiasBearish},
		Cycle:     &dto.CycleInfo{Phase: dto.CyclePhaseDrive, Confidence: 0.9, TransitionRisk: 0.1},
	}
	etf := &dto.TimeframeAnalysis{
		Patterns: []dto.PatternDetection{{
			Type:       "bearish_engulfing",
			Direction:  dto.DirectionShort,
			Confidence: 0.9,
			Extreme:    105,
		}},
		Structure: &dto.StructureSummary{
			Bias:              dto.BiasBearish,
			LastBreak:         &dto.StructureBreak{Direction: dto.DirectionShort, Price: 101, Confirmed: true},
			NearestSupport:    &dto.Zone{Kind: dto.ZoneSupport, Price: 90},
			NearestResistance: &dto.Zone{Kind: dto.ZoneResistance, Price: 100.5},
		},
		Cycle:       &dto.CycleInfo{Phase: dto.CyclePhaseDrive, Confidence: 0.8, TransitionRisk: 0.1},
		VolumeRatio: 1.5,
		Momentum:    -0.8,
	}

	input := ScoreInput{
		Asset: "BTCUSDT",
		Analyses: map[dto.Timeframe]*dto.TimeframeAnalysis{
			dto.Timeframe4Hour: htf,
			dto.Timeframe1Hour: etf,
		},
		HigherTimeframe: dto.Timeframe4Hour,
		EntryTimeframe:  dto.Timeframe1Hour,
		Rules:           []dto.StrategyRule{{ID: "r1"}},
		EntryCandles:    flatCandles("BTCUSDT", dto.Timeframe1Hour, start, 100, 20),
		AsOf:            start.Add(20 * time.Hour),
	}

	signal, err := scorer.Score(context.Background(), input)
	require.NoError(t, err)
	require.NotNil(t, signal)

	assert.Equal(t, dto.DirectionShort, signal.Direction)
	assert.Equal(t, 105.0, signal.StopPrice)
	assert.Equal(t, []float64{90, 85, 75}, signal.TakeProfits)
}

func TestDeriveTargets_MonotonicAndDeduplicated(t *testing.T) {
	tests := []struct {
		name      string
		direction dto.Direction
		multiples []float64
		want      []float64
	}{
		{
			name:      "long targets sorted ascending",
			direction: dto.DirectionLong,
			multiples: []float64{5, 2, 3},
			want:      []float64{110, 115, 125},
		},
		{
			name:      "short targets sorted descending",
			direction: dto.DirectionShort,
			multiples: []float64{5, 2, 3},
			want:      []float64{90, 85, 75},
		},
		{
			name:      "duplicates collapse",
			direction: dto.DirectionLong,
			multiples: []float64{2, 2, 3},
			want:      []float64{110, 115},
		},
		{
			name:      "non positive multiples dropped",
			direction: dto.DirectionLong,
			multiples: []float64{-1, 0, 2},
			want:      []float64{110},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := deriveTargets(100, 5, tt.direction, tt.multiples)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchRules_ConditionVariants(t *testing.T) {
	matchCtx := dto.RuleMatchContext{
		EntryPatternType: "bullish_engulfing",
		EntryTimeframe:   dto.Timeframe1Hour,
		ConfluenceScore:  0.8,
		CyclePhase:       dto.CyclePhaseDrive,
	}

	tests := []struct {
		name    string
		rule    dto.StrategyRule
		matches bool
	}{
		{
			name:    "entry type condition holds",
			rule:    dto.StrategyRule{ID: "a", Conditions: []dto.RuleCondition{{Type: dto.ConditionEntryTypeEquals, EntryType: "bullish_engulfing"}}},
			matches: true,
		},
		{
			name:    "entry type condition fails",
			rule:    dto.StrategyRule{ID: "a", Conditions: []dto.RuleCondition{{Type: dto.ConditionEntryTypeEquals, EntryType: "pin_bar"}}},
			matches: false,
		},
		{
			name:    "timeframe in set",
			rule:    dto.StrategyRule{ID: "a", Conditions: []dto.RuleCondition{{Type: dto.ConditionTimeframeIn, Timeframes: []dto.Timeframe{dto.Timeframe1Hour, dto.Timeframe4Hour}}}},
			matches: true,
		},
		{
			name:    "timeframe not in set",
			rule:    dto.StrategyRule{ID: "a", Conditions: []dto.RuleCondition{{Type: dto.ConditionTimeframeIn, Timeframes: []dto.Timeframe{dto.Timeframe1Day}}}},
			matches: false,
		},
		{
			name:    "min confluence met",
			rule:    dto.StrategyRule{ID: "a", Conditions: []dto.RuleCondition{{Type: dto.ConditionMinConfluence, MinConfluence: 0.7}}},
			matches: true,
		},
		{
			name:    "min confluence not met",
			rule:    dto.StrategyRule{ID: "a", Conditions: []dto.RuleCondition{{Type: dto.ConditionMinConfluence, MinConfluence: 0.9}}},
			matches: false,
		},
		{
			name:    "cycle phase equals",
			rule:    dto.StrategyRule{ID: "a", Conditions: []dto.RuleCondition{{Type: dto.ConditionCyclePhaseEquals, CyclePhase: dto.CyclePhaseDrive}}},
			matches: true,
		},
		{
			name:    "cycle phase differs",
			rule:    dto.StrategyRule{ID: "a", Conditions: []dto.RuleCondition{{Type: dto.ConditionCyclePhaseEquals, CyclePhase: dto.CyclePhaseRange}}},
			matches: false,
		},
		{
			name:    "unknown condition type never matches",
			rule:    dto.StrategyRule{ID: "a", Conditions: []dto.RuleCondition{{Type: "bogus"}}},
			matches: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matched := matchRules([]dto.StrategyRule{tt.rule}, matchCtx)
			if tt.matches {
				assert.Len(t, matched, 1)
			} else {
				assert.Empty(t, matched)
			}
		})
	}
}

func TestMatchRules_SpecificityWins(t *testing.T) {
	matchCtx := dto.RuleMatchContext{
		EntryPatternType: "bullish_engulfing",
		EntryTimeframe:   dto.Timeframe1Hour,
		ConfluenceScore:  0.8,
	}

	rules := []dto.StrategyRule{
		{ID: "generic"},
		{ID: "specific", EntryType: "bullish_engulfing", Conditions: []dto.RuleCondition{
			{Type: dto.ConditionMinConfluence, MinConfluence: 0.7},
		}},
	}

	matched := matchRules(rules, matchCtx)
	require.Len(t, matched, 1)
	assert.Equal(t, "specific", matched[0].ID)
}
