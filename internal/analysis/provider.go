package analysis

import (
	"context"
	"time"

	"github.com/sdcoffey/big"
	"github.com/sdcoffey/techan"

	"confluence-backtest/internal/contract"
	"confluence-backtest/internal/dto"
	"confluence-backtest/pkg/logger"
	"confluence-backtest/pkg/utils"
)

const (
	emaFastWindow   = 8
	emaSlowWindow   = 21
	rsiWindow       = 14
	volumeSMAWindow = 20
	swingLookback   = 2
	// zoneTolerance groups nearby swing prices into one level.
	zoneTolerance = 0.002
	// driveThreshold is the EMA separation (relative to price) above which
	// the market counts as trending.
	driveThreshold = 0.004
	// wickBodyTolerance absorbs float rounding when a wick and the candle
	// body are nominally equal.
	wickBodyTolerance = 1e-9
)

// heuristicProvider derives a TimeframeAnalysis snapshot from raw candles
// with indicator heuristics. It only ever reads the candles it is handed,
// so as long as callers slice at the as-of instant the snapshot is
// point-in-time correct.
type heuristicProvider struct {
	log *logger.Logger
}

func NewHeuristicProvider(log *logger.Logger) contract.AnalysisProvider {
	return &heuristicProvider{log: log}
}

func (p *heuristicProvider) Analyze(ctx context.Context, asset string, timeframe dto.Timeframe, candles []dto.Candle, asOf time.Time) (*dto.TimeframeAnalysis, error) {
	result := &dto.TimeframeAnalysis{
		Asset:       asset,
		Timeframe:   timeframe,
		AsOf:        asOf,
		VolumeRatio: 1,
	}
	if len(candles) < 2 {
		p.log.DebugContext(ctx, "Not enough candles for analysis, returning neutral snapshot",
			logger.StringField("asset", asset),
			logger.StringField("timeframe", string(timeframe)),
			logger.IntField("candles", len(candles)),
		)
		return result, nil
	}

	series := newTimeSeries(candles)
	last := series.LastIndex()
	closePrices := techan.NewClosePriceIndicator(series)
	lastClose := candles[len(candles)-1].Close

	rsi := techan.NewRelativeStrengthIndexIndicator(closePrices, rsiWindow).Calculate(last).Float()
	result.Momentum = utils.Clamp((rsi-50)/50, -1, 1)

	emaFast := techan.NewEMAIndicator(closePrices, emaFastWindow).Calculate(last).Float()
	emaSlow := techan.NewEMAIndicator(closePrices, emaSlowWindow).Calculate(last).Float()

	volumeSMA := techan.NewSimpleMovingAverage(techan.NewVolumeIndicator(series), volumeSMAWindow).Calculate(last).Float()
	if volumeSMA > 0 {
		result.VolumeRatio = candles[len(candles)-1].Volume / volumeSMA
	}

	swingHighs, swingLows := findSwings(candles)
	result.Structure = buildStructure(candles, swingHighs, swingLows, emaFast, emaSlow, lastClose)
	result.Cycle = buildCycle(emaFast, emaSlow, rsi, lastClose)
	result.Patterns = detectPatterns(candles)

	return result, nil
}

func newTimeSeries(candles []dto.Candle) *techan.TimeSeries {
	series := techan.NewTimeSeries()
	for _, c := range candles {
		period := techan.NewTimePeriod(c.Timestamp, c.Timeframe.Duration())
		candle := techan.NewCandle(period)
		candle.OpenPrice = big.NewDecimal(c.Open)
		candle.MaxPrice = big.NewDecimal(c.High)
		candle.MinPrice = big.NewDecimal(c.Low)
		candle.ClosePrice = big.NewDecimal(c.Close)
		candle.Volume = big.NewDecimal(c.Volume)
		series.AddCandle(candle)
	}
	return series
}

type swing struct {
	price float64
	at    time.Time
}

// findSwings picks fractal pivots: a high (low) flanked by strictly lower
// highs (higher lows) on both sides within the lookback.
func findSwings(candles []dto.Candle) (highs, lows []swing) {
	for i := swingLookback; i < len(candles)-swingLookback; i++ {
		isHigh, isLow := true, true
		for j := 1; j <= swingLookback; j++ {
			if candles[i].High <= candles[i-j].High || candles[i].High <= candles[i+j].High {
				isHigh = false
			}
			if candles[i].Low >= candles[i-j].Low || candles[i].Low >= candles[i+j].Low {
				isLow = false
			}
		}
		if isHigh {
			highs = append(highs, swing{price: candles[i].High, at: candles[i].Timestamp})
		}
		if isLow {
			lows = append(lows, swing{price: candles[i].Low, at: candles[i].Timestamp})
		}
	}
	return highs, lows
}

func buildStructure(candles []dto.Candle, swingHighs, swingLows []swing, emaFast, emaSlow, lastClose float64) *dto.StructureSummary {
	structure := &dto.StructureSummary{Bias: dto.BiasNeutral}

	if lastClose > 0 {
		separation := (emaFast - emaSlow) / lastClose
		switch {
		case separation > zoneTolerance/2:
			structure.Bias = dto.BiasBullish
		case separation < -zoneTolerance/2:
			structure.Bias = dto.BiasBearish
		}
	}

	if zone := nearestBelow(swingLows, lastClose); zone != nil {
		zone.Kind = dto.ZoneSupport
		structure.NearestSupport = zone
	}
	if zone := nearestAbove(swingHighs, lastClose); zone != nil {
		zone.Kind = dto.ZoneResistance
		structure.NearestResistance = zone
	}

	structure.LastBreak = detectBreak(candles, swingHighs, swingLows, lastClose)
	return structure
}

func nearestBelow(swings []swing, price float64) *dto.Zone {
	var best *swing
	for i := range swings {
		s := &swings[i]
		if s.price >= price {
			continue
		}
		if best == nil || s.price > best.price {
			best = s
		}
	}
	if best == nil {
		return nil
	}
	return &dto.Zone{Price: best.price, Touches: countTouches(swings, best.price)}
}

func nearestAbove(swings []swing, price float64) *dto.Zone {
	var best *swing
	for i := range swings {
		s := &swings[i]
		if s.price <= price {
			continue
		}
		if best == nil || s.price < best.price {
			best = s
		}
	}
	if best == nil {
		return nil
	}
	return &dto.Zone{Price: best.price, Touches: countTouches(swings, best.price)}
}

func countTouches(swings []swing, level float64) int {
	touches := 0
	for _, s := range swings {
		diff := s.price - level
		if diff < 0 {
			diff = -diff
		}
		if level > 0 && diff/level <= zoneTolerance {
			touches++
		}
	}
	return touches
}

// detectBreak reports the most recent close through a prior swing level.
// The break confirms once a full candle closes beyond the level.
func detectBreak(candles []dto.Candle, swingHighs, swingLows []swing, lastClose float64) *dto.StructureBreak {
	lastCandle := candles[len(candles)-1]

	var brokenHigh, brokenLow *swing
	for i := range swingHighs {
		s := &swingHighs[i]
		if lastClose > s.price && (brokenHigh == nil || s.at.After(brokenHigh.at)) {
			brokenHigh = s
		}
	}
	for i := range swingLows {
		s := &swingLows[i]
		if lastClose < s.price && (brokenLow == nil || s.at.After(brokenLow.at)) {
			brokenLow = s
		}
	}

	switch {
	case brokenHigh != nil && (brokenLow == nil || brokenHigh.at.After(brokenLow.at)):
		confirmed := len(candles) >= 2 && candles[len(candles)-2].Close > brokenHigh.price
		return &dto.StructureBreak{
			Direction: dto.DirectionLong,
			Price:     brokenHigh.price,
			Confirmed: confirmed,
			BrokeAt:   lastCandle.Timestamp,
		}
	case brokenLow != nil:
		confirmed := len(candles) >= 2 && candles[len(candles)-2].Close < brokenLow.price
		return &dto.StructureBreak{
			Direction: dto.DirectionShort,
			Price:     brokenLow.price,
			Confirmed: confirmed,
			BrokeAt:   lastCandle.Timestamp,
		}
	default:
		return nil
	}
}

func buildCycle(emaFast, emaSlow, rsi, lastClose float64) *dto.CycleInfo {
	cycle := &dto.CycleInfo{Phase: dto.CyclePhaseRange, Confidence: 0.5}
	if lastClose <= 0 {
		return cycle
	}

	separation := (emaFast - emaSlow) / lastClose
	if separation < 0 {
		separation = -separation
	}

	switch {
	case rsi >= 70 || rsi <= 30:
		cycle.Phase = dto.CyclePhaseLiquidity
		cycle.Confidence = utils.Clamp((absFloat(rsi-50)-20)/30+0.5, 0, 1)
	case separation >= driveThreshold:
		cycle.Phase = dto.CyclePhaseDrive
		cycle.Confidence = utils.Clamp(separation/(2*driveThreshold), 0, 1)
	}

	// The closer RSI sits to an extreme, the likelier the phase flips.
	cycle.TransitionRisk = utils.Clamp(absFloat(rsi-50)/50, 0, 1)
	return cycle
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// detectPatterns inspects the latest closed candle for engulfing and pin
// bar setups. Extreme carries the stop anchor: the pattern low for bullish
// setups, the pattern high for bearish ones.
func detectPatterns(candles []dto.Candle) []dto.PatternDetection {
	if len(candles) < 2 {
		return nil
	}
	last := candles[len(candles)-1]
	prev := candles[len(candles)-2]

	var patterns []dto.PatternDetection

	lastBody := absFloat(last.Close - last.Open)
	prevBody := absFloat(prev.Close - prev.Open)
	candleRange := last.High - last.Low

	if lastBody > 0 && prevBody > 0 {
		if last.Close > last.Open && prev.Close < prev.Open &&
			last.Close >= prev.Open && last.Open <= prev.Close {
			patterns = append(patterns, dto.PatternDetection{
				Type:       "bullish_engulfing",
				Direction:  dto.DirectionLong,
				Confidence: utils.Clamp(0.5+0.4*(lastBody/prevBody-1), 0.5, 0.95),
				Location:   last.Close,
				Extreme:    minFloat(last.Low, prev.Low),
			})
		}
		if last.Close < last.Open && prev.Close > prev.Open &&
			last.Close <= prev.Open && last.Open >= prev.Close {
			patterns = append(patterns, dto.PatternDetection{
				Type:       "bearish_engulfing",
				Direction:  dto.DirectionShort,
				Confidence: utils.Clamp(0.5+0.4*(lastBody/prevBody-1), 0.5, 0.95),
				Location:   last.Close,
				Extreme:    maxFloat(last.High, prev.High),
			})
		}
	}

	if candleRange > 0 && lastBody > 0 {
		lowerWick := minFloat(last.Open, last.Close) - last.Low
		upperWick := last.High - maxFloat(last.Open, last.Close)

		if lowerWick >= 2*lastBody && upperWick <= lastBody*(1+wickBodyTolerance) {
			patterns = append(patterns, dto.PatternDetection{
				Type:       "bullish_pin_bar",
				Direction:  dto.DirectionLong,
				Confidence: utils.Clamp(0.4+0.5*(lowerWick/candleRange), 0.4, 0.9),
				Location:   last.Close,
				Extreme:    last.Low,
			})
		}
		if upperWick >= 2*lastBody && lowerWick <= lastBody*(1+wickBodyTolerance) {
			patterns = append(patterns, dto.PatternDetection{
				Type:       "bearish_pin_bar",
				Direction:  dto.DirectionShort,
				Confidence: utils.Clamp(0.4+0.5*(upperWick/candleRange), 0.4, 0.9),
				Location:   last.Close,
				Extreme:    last.High,
			})
		}
	}

	return patterns
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
