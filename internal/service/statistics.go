package service

import (
	"math"
	"sort"
	"time"

	"confluence-backtest/internal/dto"
	"confluence-backtest/pkg/utils"
)

// StatisticsCalculator reduces a closed-position ledger and equity curve
// into summary performance metrics. It is a pure reduction: no state, no
// side effects.
type StatisticsCalculator interface {
	Calculate(closed []*dto.SimulatedPosition, curve []dto.EquityPoint, stepDuration time.Duration) *dto.BacktestStats
}

type statisticsCalculator struct{}

func NewStatisticsCalculator() StatisticsCalculator {
	return &statisticsCalculator{}
}

func (c *statisticsCalculator) Calculate(closed []*dto.SimulatedPosition, curve []dto.EquityPoint, stepDuration time.Duration) *dto.BacktestStats {
	stats := &dto.BacktestStats{}

	ledger := make([]*dto.SimulatedPosition, len(closed))
	copy(ledger, closed)
	sort.Slice(ledger, func(i, j int) bool {
		return ledger[i].CloseTime.Before(ledger[j].CloseTime)
	})

	var sumR, bestR, worstR float64
	var currentWins, currentLosses int
	for i, pos := range ledger {
		stats.TotalTrades++
		stats.TotalCommission += pos.CommissionPaid

		if pos.RealizedPnL > 0 {
			stats.WinningTrades++
			stats.GrossProfit += pos.RealizedPnL
			currentWins++
			currentLosses = 0
		} else {
			stats.LosingTrades++
			stats.GrossLoss += -pos.RealizedPnL
			currentLosses++
			currentWins = 0
		}
		if currentWins > stats.MaxConsecutiveWins {
			stats.MaxConsecutiveWins = currentWins
		}
		if currentLosses > stats.MaxConsecutiveLosses {
			stats.MaxConsecutiveLosses = currentLosses
		}

		r := pos.RMultiple()
		sumR += r
		if i == 0 || r > bestR {
			bestR = r
		}
		if i == 0 || r < worstR {
			worstR = r
		}
	}

	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades)
		stats.AvgRMultiple = sumR / float64(stats.TotalTrades)
		stats.BestRMultiple = bestR
		stats.WorstRMultiple = worstR
		stats.Expectancy = (stats.GrossProfit - stats.GrossLoss) / float64(stats.TotalTrades)
	}

	// Profit factor is undefined with zero gross loss; report nil instead
	// of dividing by zero.
	if stats.GrossLoss > 0 {
		stats.ProfitFactor = utils.ToPointer(stats.GrossProfit / stats.GrossLoss)
	}

	stats.MaxDrawdown = maxDrawdown(curve)
	stats.SharpeRatio, stats.SortinoRatio = riskAdjustedReturns(curve, stepDuration)

	return stats
}

func maxDrawdown(curve []dto.EquityPoint) float64 {
	var peak, maxDD float64
	for _, point := range curve {
		if point.Equity > peak {
			peak = point.Equity
		}
		if peak > 0 {
			dd := (peak - point.Equity) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// riskAdjustedReturns annualizes Sharpe and Sortino from per-step returns;
// Sortino penalizes downside deviation only.
func riskAdjustedReturns(curve []dto.EquityPoint, stepDuration time.Duration) (sharpe, sortino float64) {
	if len(curve) < 2 || stepDuration <= 0 {
		return 0, 0
	}

	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			continue
		}
		returns = append(returns, (curve[i].Equity-prev)/prev)
	}
	if len(returns) == 0 {
		return 0, 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance, downsideVariance float64
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
		if r < 0 {
			downsideVariance += r * r
		}
	}
	variance /= float64(len(returns))
	downsideVariance /= float64(len(returns))

	periodsPerYear := float64(365*24*time.Hour) / float64(stepDuration)
	annualize := math.Sqrt(periodsPerYear)

	if stdev := math.Sqrt(variance); stdev > 0 {
		sharpe = mean / stdev * annualize
	}
	if downside := math.Sqrt(downsideVariance); downside > 0 {
		sortino = mean / downside * annualize
	}
	return sharpe, sortino
}
