package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	"confluence-backtest/config"
	"confluence-backtest/internal/contract"
	"confluence-backtest/internal/dto"
	"confluence-backtest/internal/repository"
	"confluence-backtest/pkg/logger"
	"confluence-backtest/pkg/utils"
)

// remainingQtyEpsilon absorbs float residue after partial exits so a
// position whose remaining quantity underflows is treated as fully closed.
const remainingQtyEpsilon = 1e-9

// BacktestService replays historical candles through the confluence
// scorer and a simulated portfolio. Runs are deterministic: the same
// request against the same candle data produces the same result.
type BacktestService interface {
	RunBacktest(ctx context.Context, req dto.BacktestRequest) (*dto.BacktestResult, error)
}

type backtestService struct {
	cfg        *config.Config
	log        *logger.Logger
	candleRepo repository.CandleRepository
	ruleRepo   repository.StrategyRuleRepository
	provider   contract.AnalysisProvider
	scorer     ConfluenceScorer
	stats      StatisticsCalculator
	narrator   contract.SignalNarrator
	validate   *validator.Validate
}

// NewBacktestService wires the simulator. The narrator may be nil; it is a
// fire-and-forget consumer and never gates the simulation.
func NewBacktestService(
	cfg *config.Config,
	log *logger.Logger,
	candleRepo repository.CandleRepository,
	ruleRepo repository.StrategyRuleRepository,
	provider contract.AnalysisProvider,
	scorer ConfluenceScorer,
	stats StatisticsCalculator,
	narrator contract.SignalNarrator,
) BacktestService {
	return &backtestService{
		cfg:        cfg,
		log:        log,
		candleRepo: candleRepo,
		ruleRepo:   ruleRepo,
		provider:   provider,
		scorer:     scorer,
		stats:      stats,
		narrator:   narrator,
		validate:   validator.New(),
	}
}

// runParams are the effective knobs for one run after request overrides
// have been applied on top of the configured defaults.
type runParams struct {
	initialEquity   float64
	riskPerTradePct float64
	rMultiples      []float64
}

func (s *backtestService) resolveParams(req dto.BacktestRequest) runParams {
	params := runParams{
		initialEquity:   s.cfg.Backtest.InitialEquity,
		riskPerTradePct: s.cfg.Backtest.RiskPerTradePct,
		rMultiples:      s.cfg.Backtest.TakeProfitRMultiples,
	}
	if req.InitialEquity > 0 {
		params.initialEquity = req.InitialEquity
	}
	if req.RiskPerTradePct > 0 {
		params.riskPerTradePct = req.RiskPerTradePct
	}
	if len(req.TakeProfitRMultiples) > 0 {
		params.rMultiples = req.TakeProfitRMultiples
	}
	return params
}

func (s *backtestService) validateRequest(req dto.BacktestRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("invalid backtest request: %w", err)
	}
	hasHigher, hasEntry := false, false
	for _, tf := range req.Timeframes {
		if !tf.IsValid() {
			return fmt.Errorf("unknown timeframe %q in the requested timeframe set", tf)
		}
		if tf == req.HigherTimeframe {
			hasHigher = true
		}
		if tf == req.EntryTimeframe {
			hasEntry = true
		}
	}
	if !hasHigher {
		return fmt.Errorf("higher timeframe %s is not in the requested timeframe set", req.HigherTimeframe)
	}
	if !hasEntry {
		return fmt.Errorf("entry timeframe %s is not in the requested timeframe set", req.EntryTimeframe)
	}
	return nil
}

func (s *backtestService) RunBacktest(ctx context.Context, req dto.BacktestRequest) (*dto.BacktestResult, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	params := s.resolveParams(req)

	s.log.InfoContext(ctx, "Starting backtest",
		logger.StringField("asset", req.Asset),
		logger.StringField("entry_timeframe", string(req.EntryTimeframe)),
		logger.StringField("higher_timeframe", string(req.HigherTimeframe)),
		logger.StringField("start_time", req.StartTime.Format(time.RFC3339)),
		logger.StringField("end_time", req.EndTime.Format(time.RFC3339)),
	)

	rules, err := s.ruleRepo.GetCandidates(ctx, req.Asset, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load strategy rules: %w", err)
	}

	lowest := dto.LowestTimeframe(req.Timeframes)
	step := lowest.Duration()

	candlesByTF := make(map[dto.Timeframe][]dto.Candle, len(req.Timeframes))
	for _, tf := range req.Timeframes {
		if tf == lowest {
			continue
		}
		candles, err := s.candleRepo.GetCandles(ctx, repository.GetCandlesParam{
			Asset:     req.Asset,
			Timeframe: tf,
			StartTime: req.StartTime,
			EndTime:   req.EndTime,
			Source:    req.CandleSource,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load %s candles: %w", tf, err)
		}
		candlesByTF[tf] = candles
	}

	iter, err := s.candleRepo.StreamCandles(ctx, repository.GetCandlesParam{
		Asset:     req.Asset,
		Timeframe: lowest,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Source:    req.CandleSource,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to stream %s candles: %w", lowest, err)
	}

	state := dto.NewBacktestState(params.initialEquity)
	closedIdx := make(map[dto.Timeframe]int, len(req.Timeframes))
	analyses := make(map[dto.Timeframe]*dto.TimeframeAnalysis, len(req.Timeframes))
	var pending []*dto.TradeSignal
	var lastCandle *dto.Candle
	cancelled := false
	stepCount := 0

	for {
		candle, ok := iter.Next()
		if !ok {
			break
		}
		if !utils.ShouldContinue(ctx, s.log) {
			s.log.WarnContext(ctx, "Backtest cancelled, returning partial result",
				logger.StringField("asset", req.Asset),
				logger.IntField("steps_completed", stepCount),
			)
			cancelled = true
			break
		}
		stepCount++
		now := candle.CloseTime()

		gapped := false
		if lastCandle != nil && candle.Timestamp.After(lastCandle.Timestamp.Add(step)) {
			gapped = true
			state.AddDiagnostic(candle.Timestamp, dto.DiagnosticDataGap,
				fmt.Sprintf("missing %s candles between %s and %s, position checks paused",
					lowest, lastCandle.CloseTime().Format(time.RFC3339), candle.Timestamp.Format(time.RFC3339)))
		}

		dayKey := utils.TradingDayKey(now)
		if _, ok := state.DayStartEquity[dayKey]; !ok {
			state.DayStartEquity[dayKey] = state.Equity(candle.Open)
		}

		if !gapped {
			s.checkOpenPositions(state, candle, now)
		}

		for _, signal := range pending {
			s.openPosition(state, signal, params, now)
		}
		pending = pending[:0]

		candlesByTF[lowest] = append(candlesByTF[lowest], *candle)
		entryClosed := s.refreshAnalyses(ctx, req, candlesByTF, closedIdx, analyses, state, now)

		if entryClosed {
			signal := s.generateSignal(ctx, req, params, rules, candlesByTF, closedIdx, analyses, now)
			if signal != nil {
				pending = append(pending, signal)
			}
		}

		state.AppendEquity(now, state.Equity(candle.Close))
		lastCandle = candle

		if s.cfg.Backtest.ProgressEverySteps > 0 && stepCount%s.cfg.Backtest.ProgressEverySteps == 0 {
			s.log.DebugContext(ctx, "Backtest progress",
				logger.StringField("asset", req.Asset),
				logger.IntField("steps", stepCount),
				logger.IntField("open_positions", len(state.OpenPositions)),
				logger.IntField("closed_positions", len(state.ClosedPositions)),
			)
		}
	}

	if lastCandle == nil {
		s.log.WarnContext(ctx, "No candles in the requested window, returning empty result",
			logger.StringField("asset", req.Asset),
			logger.StringField("timeframe", string(lowest)),
		)
		return s.buildResult(req, params, state, step, cancelled), nil
	}

	if !cancelled && len(state.OpenPositions) > 0 {
		s.forceTimeExit(state, lastCandle)
		// The final curve point must reflect the exit commissions just paid.
		state.EquityCurve[len(state.EquityCurve)-1].Equity = state.Equity(lastCandle.Close)
	}

	result := s.buildResult(req, params, state, step, cancelled)
	s.log.InfoContext(ctx, "Backtest finished",
		logger.StringField("asset", req.Asset),
		logger.IntField("steps", stepCount),
		logger.IntField("trades", len(state.ClosedPositions)),
		logger.Float64Field("final_equity", result.FinalEquity),
	)
	return result, nil
}

// refreshAnalyses recomputes the per-timeframe snapshots whose bar closed
// at or before now, feeding the provider only candles closed by that
// instant. Returns whether a new entry-timeframe bar closed this step.
func (s *backtestService) refreshAnalyses(
	ctx context.Context,
	req dto.BacktestRequest,
	candlesByTF map[dto.Timeframe][]dto.Candle,
	closedIdx map[dto.Timeframe]int,
	analyses map[dto.Timeframe]*dto.TimeframeAnalysis,
	state *dto.BacktestState,
	now time.Time,
) bool {
	entryClosed := false
	for _, tf := range req.Timeframes {
		series := candlesByTF[tf]
		n := closedIdx[tf]
		for n < len(series) && !series[n].CloseTime().After(now) {
			n++
		}
		if n == closedIdx[tf] {
			continue
		}
		closedIdx[tf] = n

		analysis, err := s.provider.Analyze(ctx, req.Asset, tf, series[:n], now)
		if err != nil {
			s.log.WarnContext(ctx, "Analysis failed, timeframe treated as missing",
				logger.StringField("asset", req.Asset),
				logger.StringField("timeframe", string(tf)),
				logger.ErrorField(err),
			)
			state.AddDiagnostic(now, dto.DiagnosticDataGap,
				fmt.Sprintf("analysis failed for %s: %v", tf, err))
			analyses[tf] = nil
			continue
		}
		analyses[tf] = analysis
		if tf == req.EntryTimeframe {
			entryClosed = true
		}
	}
	return entryClosed
}

func (s *backtestService) generateSignal(
	ctx context.Context,
	req dto.BacktestRequest,
	params runParams,
	rules []dto.StrategyRule,
	candlesByTF map[dto.Timeframe][]dto.Candle,
	closedIdx map[dto.Timeframe]int,
	analyses map[dto.Timeframe]*dto.TimeframeAnalysis,
	now time.Time,
) *dto.TradeSignal {
	input := ScoreInput{
		Asset:           req.Asset,
		Analyses:        analyses,
		HigherTimeframe: req.HigherTimeframe,
		EntryTimeframe:  req.EntryTimeframe,
		Rules:           rules,
		EntryCandles:    candlesByTF[req.EntryTimeframe][:closedIdx[req.EntryTimeframe]],
		RMultiples:      params.rMultiples,
		AsOf:            now,
	}
	signal, err := s.scorer.Score(ctx, input)
	if err != nil {
		s.log.WarnContext(ctx, "Scoring failed, step skipped",
			logger.StringField("asset", req.Asset),
			logger.ErrorField(err),
		)
		return nil
	}
	if signal == nil {
		return nil
	}

	if s.narrator != nil {
		narrated := signal
		utils.GoSafe(func() {
			text, err := s.narrator.Narrate(ctx, narrated)
			if err != nil {
				s.log.WarnContext(ctx, "Signal narration failed",
					logger.StringField("asset", narrated.Asset),
					logger.ErrorField(err),
				)
				return
			}
			s.log.InfoContext(ctx, "Signal narration",
				logger.StringField("asset", narrated.Asset),
				logger.StringField("narrative", text),
			)
		})
	}
	return signal
}

// openPosition applies the portfolio risk gates and fills the entry at the
// signal price adjusted for slippage. Discarded signals are never retried.
func (s *backtestService) openPosition(state *dto.BacktestState, signal *dto.TradeSignal, params runParams, now time.Time) {
	dayKey := utils.TradingDayKey(now)

	if len(state.OpenPositions) >= s.cfg.Backtest.MaxConcurrentPositions {
		state.AddDiagnostic(now, dto.DiagnosticRiskLimit,
			fmt.Sprintf("max concurrent positions (%d) reached, signal discarded", s.cfg.Backtest.MaxConcurrentPositions))
		return
	}
	if dayStart := state.DayStartEquity[dayKey]; dayStart > 0 {
		if state.DailyRealizedPnL[dayKey] <= -s.cfg.Backtest.DailyLossLimitPct*dayStart {
			state.AddDiagnostic(now, dto.DiagnosticRiskLimit,
				fmt.Sprintf("daily loss limit reached (%.2f), signal discarded", state.DailyRealizedPnL[dayKey]))
			return
		}
	}

	riskPerUnit := signal.RiskPerUnit()
	if riskPerUnit <= 0 {
		state.AddDiagnostic(now, dto.DiagnosticSizingError, "zero risk distance between entry and stop, signal discarded")
		return
	}

	fillPrice := signal.EntryPrice * (1 + s.cfg.Backtest.SlippagePct)
	if signal.Direction == dto.DirectionShort {
		fillPrice = signal.EntryPrice * (1 - s.cfg.Backtest.SlippagePct)
	}

	equity := state.Equity(fillPrice)
	quantity := equity * params.riskPerTradePct / riskPerUnit
	if cost := quantity * fillPrice; cost > state.Cash {
		quantity = state.Cash / fillPrice
	}
	if quantity <= 0 {
		state.AddDiagnostic(now, dto.DiagnosticSizingError, "insufficient cash to open position, signal discarded")
		return
	}

	commission := s.cfg.Backtest.CommissionPct * fillPrice * quantity
	state.Cash -= quantity*fillPrice + commission
	state.DailyRealizedPnL[dayKey] -= commission
	state.DailyTradeCount[dayKey]++

	takeProfits := make([]dto.TakeProfitLevel, 0, len(signal.TakeProfits))
	for _, price := range signal.TakeProfits {
		takeProfits = append(takeProfits, dto.TakeProfitLevel{Price: price})
	}

	pos := &dto.SimulatedPosition{
		ID:               state.NextPositionID(),
		Signal:           signal,
		Direction:        signal.Direction,
		Status:           dto.PositionOpen,
		EntryPrice:       fillPrice,
		EntryTime:        now,
		Quantity:         quantity,
		RemainingQty:     quantity,
		StopPrice:        signal.StopPrice,
		InitialStopPrice: signal.StopPrice,
		TakeProfits:      takeProfits,
		CommissionPaid:   commission,
	}
	state.OpenPositions[pos.ID] = pos
}

// checkOpenPositions walks the open book in id order so the replay stays
// deterministic. Within one candle the stop is evaluated before any take
// profit; when several take-profit levels sit inside the candle range the
// one nearest the entry fills first.
func (s *backtestService) checkOpenPositions(state *dto.BacktestState, candle *dto.Candle, now time.Time) {
	ids := make([]int, 0, len(state.OpenPositions))
	for id := range state.OpenPositions {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		pos := state.OpenPositions[id]
		if !pos.EntryTime.Before(now) {
			continue
		}

		s.updateExcursions(pos, candle)

		if s.stopHit(pos, candle) {
			s.closeQuantity(state, pos, pos.RemainingQty, pos.StopPrice, dto.ExitStopLoss, now, true)
			continue
		}

		for i := range pos.TakeProfits {
			level := &pos.TakeProfits[i]
			if level.Filled {
				continue
			}
			if !s.targetHit(pos, level.Price, candle) {
				break
			}

			qty := pos.RemainingQty * s.cfg.Backtest.PartialExitFraction
			if i == len(pos.TakeProfits)-1 {
				qty = pos.RemainingQty
			}
			s.closeQuantity(state, pos, qty, level.Price, dto.ExitTakeProfit, now, true)
			level.Filled = true

			if s.cfg.Backtest.MoveStopToBreakeven {
				s.moveStopToBreakeven(pos)
			}
			if pos.Status == dto.PositionClosed {
				break
			}
		}
	}
}

func (s *backtestService) updateExcursions(pos *dto.SimulatedPosition, candle *dto.Candle) {
	favorable := candle.High - pos.EntryPrice
	adverse := pos.EntryPrice - candle.Low
	if pos.Direction == dto.DirectionShort {
		favorable = pos.EntryPrice - candle.Low
		adverse = candle.High - pos.EntryPrice
	}
	if favorable > pos.MaxFavorable {
		pos.MaxFavorable = favorable
	}
	if adverse > pos.MaxAdverse {
		pos.MaxAdverse = adverse
	}
}

func (s *backtestService) stopHit(pos *dto.SimulatedPosition, candle *dto.Candle) bool {
	if pos.Direction == dto.DirectionShort {
		return candle.High >= pos.StopPrice
	}
	return candle.Low <= pos.StopPrice
}

func (s *backtestService) targetHit(pos *dto.SimulatedPosition, target float64, candle *dto.Candle) bool {
	if pos.Direction == dto.DirectionShort {
		return candle.Low <= target
	}
	return candle.High >= target
}

func (s *backtestService) moveStopToBreakeven(pos *dto.SimulatedPosition) {
	if pos.Direction == dto.DirectionShort {
		if pos.StopPrice > pos.EntryPrice {
			pos.StopPrice = pos.EntryPrice
		}
		return
	}
	if pos.StopPrice < pos.EntryPrice {
		pos.StopPrice = pos.EntryPrice
	}
}

// closeQuantity realizes P&L for part or all of a position. Cash receives
// the released reservation plus the gross P&L minus the exit commission;
// the daily realized counter tracks the net effect.
func (s *backtestService) closeQuantity(state *dto.BacktestState, pos *dto.SimulatedPosition, qty, price float64, reason dto.ExitReason, now time.Time, withSlippage bool) {
	if qty > pos.RemainingQty {
		qty = pos.RemainingQty
	}

	fill := price
	if withSlippage {
		if pos.Direction == dto.DirectionShort {
			fill = price * (1 + s.cfg.Backtest.SlippagePct)
		} else {
			fill = price * (1 - s.cfg.Backtest.SlippagePct)
		}
	}

	pnl := qty * (fill - pos.EntryPrice)
	if pos.Direction == dto.DirectionShort {
		pnl = qty * (pos.EntryPrice - fill)
	}
	commission := s.cfg.Backtest.CommissionPct * fill * qty

	state.Cash += qty*pos.EntryPrice + pnl - commission
	pos.RealizedPnL += pnl
	pos.CommissionPaid += commission
	pos.RemainingQty -= qty

	dayKey := utils.TradingDayKey(now)
	state.DailyRealizedPnL[dayKey] += pnl - commission

	if pos.RemainingQty <= pos.Quantity*remainingQtyEpsilon {
		pos.RemainingQty = 0
		pos.Status = dto.PositionClosed
		pos.ExitReason = reason
		pos.CloseTime = now
		state.ClosedPositions = append(state.ClosedPositions, pos)
		delete(state.OpenPositions, pos.ID)
		return
	}
	pos.Status = dto.PositionPartiallyClosed
}

// forceTimeExit flattens the remaining book at the last close. No slippage
// is applied since the close is the final observed print; commission still
// charges on the fill.
func (s *backtestService) forceTimeExit(state *dto.BacktestState, lastCandle *dto.Candle) {
	ids := make([]int, 0, len(state.OpenPositions))
	for id := range state.OpenPositions {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		pos := state.OpenPositions[id]
		s.closeQuantity(state, pos, pos.RemainingQty, lastCandle.Close, dto.ExitTime, lastCandle.CloseTime(), false)
	}
}

func (s *backtestService) buildResult(req dto.BacktestRequest, params runParams, state *dto.BacktestState, step time.Duration, cancelled bool) *dto.BacktestResult {
	finalEquity := params.initialEquity
	if len(state.EquityCurve) > 0 {
		finalEquity = state.EquityCurve[len(state.EquityCurve)-1].Equity
	}

	return &dto.BacktestResult{
		Asset:           req.Asset,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		InitialEquity:   params.initialEquity,
		FinalEquity:     finalEquity,
		TotalReturnPct:  (finalEquity - params.initialEquity) / params.initialEquity,
		EquityCurve:     state.EquityCurve,
		ClosedPositions: state.ClosedPositions,
		Stats:           s.stats.Calculate(state.ClosedPositions, state.EquityCurve, step),
		Diagnostics:     state.Diagnostics,
		Cancelled:       cancelled,
	}
}
