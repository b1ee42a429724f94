package service

import (
	"context"
	"sort"
	"time"

	"confluence-backtest/config"
	"confluence-backtest/internal/dto"
	"confluence-backtest/pkg/logger"
	"confluence-backtest/pkg/utils"
)

// ScoreInput carries everything one scoring call needs. Analyses must be
// keyed by timeframe and computed strictly from data at or before AsOf.
type ScoreInput struct {
	Asset           string
	Analyses        map[dto.Timeframe]*dto.TimeframeAnalysis
	HigherTimeframe dto.Timeframe
	EntryTimeframe  dto.Timeframe
	Rules           []dto.StrategyRule
	// EntryCandles are recent entry-timeframe candles up to AsOf, used for
	// the entry price and the volatility buffer.
	EntryCandles []dto.Candle
	// RMultiples overrides the configured take-profit multiples when set.
	RMultiples []float64
	AsOf       time.Time
}

// ConfluenceScorer fuses per-timeframe analyses into a weighted trade
// signal. Score is a pure function of its input: same input, same signal.
type ConfluenceScorer interface {
	Score(ctx context.Context, input ScoreInput) (*dto.TradeSignal, error)
}

type confluenceScorer struct {
	cfg *config.Config
	log *logger.Logger
}

func NewConfluenceScorer(cfg *config.Config, log *logger.Logger) ConfluenceScorer {
	return &confluenceScorer{cfg: cfg, log: log}
}

func (s *confluenceScorer) Score(ctx context.Context, input ScoreInput) (*dto.TradeSignal, error) {
	htf := input.Analyses[input.HigherTimeframe]
	etf := input.Analyses[input.EntryTimeframe]
	if htf == nil || etf == nil {
		s.log.DebugContext(ctx, "Missing mandatory timeframe analysis, no signal",
			logger.StringField("asset", input.Asset),
			logger.StringField("higher_timeframe", string(input.HigherTimeframe)),
			logger.StringField("entry_timeframe", string(input.EntryTimeframe)),
		)
		return nil, nil
	}

	if s.cfg.Scorer.RequireHigherTimeframeBias {
		if htf.Structure == nil || htf.Structure.Bias == dto.BiasNeutral {
			return nil, nil
		}
	}

	if len(input.EntryCandles) == 0 {
		return nil, nil
	}
	entryPrice := input.EntryCandles[len(input.EntryCandles)-1].Close

	entryPattern := etf.BestPattern()
	direction := s.resolveDirection(htf, entryPattern)
	if direction == dto.DirectionNone {
		return nil, nil
	}

	atr := atrFromCandles(input.EntryCandles, s.cfg.Scorer.ATRWindow)

	var warnings []string
	factors := s.computeFactors(htf, etf, entryPattern, direction, entryPrice, atr, &warnings)
	score := factors.WeightedSum()

	if score < s.cfg.Scorer.MinConfluenceScore {
		return nil, nil
	}
	if factors[dto.FactorEntryPatternQuality] < s.cfg.Scorer.MinSignalStrength {
		return nil, nil
	}

	matchCtx := dto.RuleMatchContext{
		EntryTimeframe:  input.EntryTimeframe,
		ConfluenceScore: score,
	}
	if entryPattern != nil {
		matchCtx.EntryPatternType = entryPattern.Type
	}
	if etf.Cycle != nil {
		matchCtx.CyclePhase = etf.Cycle.Phase
	}

	matched := matchRules(input.Rules, matchCtx)
	if len(matched) == 0 {
		return nil, nil
	}

	stop := deriveStop(etf, entryPattern, direction, entryPrice, atr, s.cfg.Scorer.VolatilityBufferFrac)
	risk := entryPrice - stop
	if direction == dto.DirectionShort {
		risk = stop - entryPrice
	}
	if risk <= entryPrice*1e-9 {
		s.log.WarnContext(ctx, "Degenerate stop distance, discarding signal",
			logger.StringField("asset", input.Asset),
			logger.Float64Field("entry_price", entryPrice),
			logger.Float64Field("stop_price", stop),
		)
		return nil, nil
	}

	multiples := input.RMultiples
	if len(multiples) == 0 {
		multiples = s.cfg.Backtest.TakeProfitRMultiples
	}
	targets := deriveTargets(entryPrice, risk, direction, multiples)
	if len(targets) == 0 {
		return nil, nil
	}

	riskReward := targets[0] - entryPrice
	if direction == dto.DirectionShort {
		riskReward = entryPrice - targets[0]
	}
	riskReward /= risk

	ruleIDs := make([]string, 0, len(matched))
	for _, rule := range matched {
		ruleIDs = append(ruleIDs, rule.ID)
	}
	sort.Strings(ruleIDs)

	return &dto.TradeSignal{
		Asset:           input.Asset,
		Direction:       direction,
		EntryTimeframe:  input.EntryTimeframe,
		ConfluenceScore: score,
		Factors:         factors,
		MatchedRuleIDs:  ruleIDs,
		EntryPrice:      entryPrice,
		StopPrice:       stop,
		TakeProfits:     targets,
		RiskReward:      riskReward,
		Warnings:        warnings,
		GeneratedAt:     input.AsOf,
	}, nil
}

// resolveDirection prefers the entry pattern's direction and falls back to
// the higher-timeframe structure bias.
func (s *confluenceScorer) resolveDirection(htf *dto.TimeframeAnalysis, pattern *dto.PatternDetection) dto.Direction {
	if pattern != nil && pattern.Direction != dto.DirectionNone && pattern.Direction != "" {
		return pattern.Direction
	}
	if htf.Structure != nil {
		return htf.Structure.Bias.TowardDirection()
	}
	return dto.DirectionNone
}

// computeFactors evaluates the 11 weighted factors independently. A factor
// whose inputs are missing or contradictory degrades to 0 rather than
// erroring; degraded optional sections add a warning.
func (s *confluenceScorer) computeFactors(htf, etf *dto.TimeframeAnalysis, pattern *dto.PatternDetection, direction dto.Direction, entryPrice, atr float64, warnings *[]string) dto.FactorScores {
	factors := make(dto.FactorScores, len(dto.FactorWeights))

	factors[dto.FactorDirectionMatch] = directionMatchFactor(htf, pattern)
	factors[dto.FactorCycleAlignment] = cycleAlignmentFactor(htf, etf)
	factors[dto.FactorStructureAlignment] = structureAlignmentFactor(etf, direction)
	factors[dto.FactorEntryPatternQuality] = entryPatternQualityFactor(pattern)
	factors[dto.FactorPatternContextMatch] = patternContextFactor(etf, pattern)
	factors[dto.FactorZoneInteraction] = zoneInteractionFactor(etf, direction, entryPrice, atr)
	factors[dto.FactorStructureBreakConfirmation] = structureBreakFactor(etf, direction)
	factors[dto.FactorCyclePhaseFavorable] = cyclePhaseFactor(etf)
	factors[dto.FactorVolumeConfirmation] = utils.Clamp(etf.VolumeRatio-1, -1, 1)
	factors[dto.FactorMomentumAlignment] = momentumFactor(etf, direction)
	factors[dto.FactorCycleTransitionRisk] = transitionRiskFactor(etf)

	if etf.Cycle == nil {
		*warnings = append(*warnings, "entry timeframe cycle missing, cycle factors neutral")
	}
	if etf.Structure == nil {
		*warnings = append(*warnings, "entry timeframe structure missing, structure factors neutral")
	}

	return factors
}

func directionMatchFactor(htf *dto.TimeframeAnalysis, pattern *dto.PatternDetection) float64 {
	if htf.Structure == nil || pattern == nil {
		return 0
	}
	biasDir := htf.Structure.Bias.TowardDirection()
	if biasDir == dto.DirectionNone || pattern.Direction == dto.DirectionNone || pattern.Direction == "" {
		return 0
	}
	if biasDir == pattern.Direction {
		return 1
	}
	return -1
}

func cycleAlignmentFactor(htf, etf *dto.TimeframeAnalysis) float64 {
	if htf.Cycle == nil || etf.Cycle == nil {
		return 0
	}
	if htf.Cycle.Phase == etf.Cycle.Phase {
		return utils.Clamp((htf.Cycle.Confidence+etf.Cycle.Confidence)/2, 0, 1)
	}
	return -0.5
}

func structureAlignmentFactor(etf *dto.TimeframeAnalysis, direction dto.Direction) float64 {
	if etf.Structure == nil {
		return 0
	}
	biasDir := etf.Structure.Bias.TowardDirection()
	if biasDir == dto.DirectionNone {
		return 0
	}
	if biasDir == direction {
		return 1
	}
	return -1
}

func entryPatternQualityFactor(pattern *dto.PatternDetection) float64 {
	if pattern == nil {
		return 0
	}
	return utils.Clamp(pattern.Confidence, 0, 1)
}

func patternContextFactor(etf *dto.TimeframeAnalysis, pattern *dto.PatternDetection) float64 {
	if etf.Structure == nil || pattern == nil {
		return 0
	}
	biasDir := etf.Structure.Bias.TowardDirection()
	if biasDir == dto.DirectionNone || pattern.Direction == dto.DirectionNone || pattern.Direction == "" {
		return 0
	}
	confidence := utils.Clamp(pattern.Confidence, 0, 1)
	if biasDir == pattern.Direction {
		return confidence
	}
	return -confidence
}

// zoneInteractionFactor scores proximity of the entry price to the
// structural zone on the trade side: the closer the entry sits to support
// (long) or resistance (short), the higher the factor.
func zoneInteractionFactor(etf *dto.TimeframeAnalysis, direction dto.Direction, entryPrice, atr float64) float64 {
	if etf.Structure == nil {
		return 0
	}
	var zone *dto.Zone
	if direction == dto.DirectionLong {
		zone = etf.Structure.NearestSupport
	} else {
		zone = etf.Structure.NearestResistance
	}
	if zone == nil {
		return 0
	}

	scale := 2 * atr
	if scale <= 0 {
		scale = entryPrice * 0.01
	}
	if scale <= 0 {
		return 0
	}

	dist := entryPrice - zone.Price
	if dist < 0 {
		dist = -dist
	}
	return utils.Clamp(1-dist/scale, 0, 1)
}

func structureBreakFactor(etf *dto.TimeframeAnalysis, direction dto.Direction) float64 {
	if etf.Structure == nil || etf.Structure.LastBreak == nil {
		return 0
	}
	lastBreak := etf.Structure.LastBreak
	if lastBreak.Direction == dto.DirectionNone || lastBreak.Direction == "" {
		return 0
	}
	if lastBreak.Direction != direction {
		return -1
	}
	if lastBreak.Confirmed {
		return 1
	}
	return 0.5
}

func cyclePhaseFactor(etf *dto.TimeframeAnalysis) float64 {
	if etf.Cycle == nil {
		return 0
	}
	switch etf.Cycle.Phase {
	case dto.CyclePhaseDrive:
		return 1
	case dto.CyclePhaseLiquidity:
		return -0.5
	default:
		return 0
	}
}

func momentumFactor(etf *dto.TimeframeAnalysis, direction dto.Direction) float64 {
	momentum := utils.Clamp(etf.Momentum, -1, 1)
	if direction == dto.DirectionShort {
		return -momentum
	}
	return momentum
}

func transitionRiskFactor(etf *dto.TimeframeAnalysis) float64 {
	if etf.Cycle == nil {
		return 0
	}
	return utils.Clamp(etf.Cycle.TransitionRisk, 0, 1)
}

// deriveStop anchors the stop at the nearest structural level beyond the
// entry pattern's extreme, buffered by a fraction of recent volatility.
func deriveStop(etf *dto.TimeframeAnalysis, pattern *dto.PatternDetection, direction dto.Direction, entryPrice, atr, bufferFrac float64) float64 {
	buffer := bufferFrac * atr

	if direction == dto.DirectionShort {
		base := entryPrice
		if pattern != nil && pattern.Extreme > base {
			base = pattern.Extreme
		}
		if etf.Structure != nil && etf.Structure.NearestResistance != nil && etf.Structure.NearestResistance.Price > base {
			base = etf.Structure.NearestResistance.Price
		}
		return base + buffer
	}

	base := entryPrice
	if pattern != nil && pattern.Extreme > 0 && pattern.Extreme < base {
		base = pattern.Extreme
	}
	if etf.Structure != nil && etf.Structure.NearestSupport != nil && etf.Structure.NearestSupport.Price > 0 && etf.Structure.NearestSupport.Price < base {
		base = etf.Structure.NearestSupport.Price
	}
	return base - buffer
}

// deriveTargets builds take-profit levels at the given R multiples,
// strictly monotonic away from the entry and deduplicated.
func deriveTargets(entryPrice, risk float64, direction dto.Direction, multiples []float64) []float64 {
	sorted := make([]float64, len(multiples))
	copy(sorted, multiples)
	sort.Float64s(sorted)

	targets := make([]float64, 0, len(sorted))
	var last float64
	for _, m := range sorted {
		if m <= 0 {
			continue
		}
		target := entryPrice + m*risk
		if direction == dto.DirectionShort {
			target = entryPrice - m*risk
		}
		if len(targets) > 0 {
			if direction == dto.DirectionLong && target <= last {
				continue
			}
			if direction == dto.DirectionShort && target >= last {
				continue
			}
		}
		targets = append(targets, target)
		last = target
	}
	return targets
}

// matchRules returns the most specific rules whose declared conditions all
// hold. Specificity is the number of satisfied conditions; ties keep every
// rule at the top score instead of breaking them arbitrarily.
func matchRules(rules []dto.StrategyRule, matchCtx dto.RuleMatchContext) []dto.StrategyRule {
	best := -1
	var matched []dto.StrategyRule

	for _, rule := range rules {
		score, ok := ruleMatchScore(rule, matchCtx)
		if !ok {
			continue
		}
		if score > best {
			best = score
			matched = matched[:0]
		}
		if score == best {
			matched = append(matched, rule)
		}
	}
	return matched
}

func ruleMatchScore(rule dto.StrategyRule, matchCtx dto.RuleMatchContext) (int, bool) {
	score := 0

	// The rule's entry type acts as an implicit equality condition.
	if rule.EntryType != "" {
		if rule.EntryType != matchCtx.EntryPatternType {
			return 0, false
		}
		score++
	}

	for _, cond := range rule.Conditions {
		if !conditionSatisfied(cond, matchCtx) {
			return 0, false
		}
		score++
	}
	return score, true
}

func conditionSatisfied(cond dto.RuleCondition, matchCtx dto.RuleMatchContext) bool {
	switch cond.Type {
	case dto.ConditionEntryTypeEquals:
		return cond.EntryType == matchCtx.EntryPatternType
	case dto.ConditionTimeframeIn:
		for _, tf := range cond.Timeframes {
			if tf == matchCtx.EntryTimeframe {
				return true
			}
		}
		return false
	case dto.ConditionMinConfluence:
		return matchCtx.ConfluenceScore >= cond.MinConfluence
	case dto.ConditionCyclePhaseEquals:
		return matchCtx.CyclePhase == cond.CyclePhase
	default:
		return false
	}
}
