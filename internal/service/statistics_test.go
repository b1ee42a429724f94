package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confluence-backtest/internal/dto"
)

func closedPosition(closeHour int, realizedPnL, commission float64) *dto.SimulatedPosition {
	return &dto.SimulatedPosition{
		Status:           dto.PositionClosed,
		EntryPrice:       100,
		InitialStopPrice: 95,
		Quantity:         40,
		RealizedPnL:      realizedPnL,
		CommissionPaid:   commission,
		CloseTime:        simStart.Add(time.Duration(closeHour) * time.Hour),
	}
}

func TestStatisticsCalculator_Calculate(t *testing.T) {
	calc := NewStatisticsCalculator()

	// Risk amount per trade is 5 * 40 = 200.
	closed := []*dto.SimulatedPosition{
		closedPosition(1, 600, 2),
		closedPosition(2, 100, 1),
		closedPosition(3, -200, 1),
	}
	curve := []dto.EquityPoint{
		{Timestamp: simStart, Equity: 10000},
		{Timestamp: simStart.Add(time.Hour), Equity: 10600},
		{Timestamp: simStart.Add(2 * time.Hour), Equity: 10700},
		{Timestamp: simStart.Add(3 * time.Hour), Equity: 10500},
	}

	stats := calc.Calculate(closed, curve, time.Hour)
	require.NotNil(t, stats)

	assert.Equal(t, 3, stats.TotalTrades)
	assert.Equal(t, 2, stats.WinningTrades)
	assert.Equal(t, 1, stats.LosingTrades)
	assert.InDelta(t, 2.0/3.0, stats.WinRate, 1e-9)
	assert.InDelta(t, 700.0, stats.GrossProfit, 1e-9)
	assert.InDelta(t, 200.0, stats.GrossLoss, 1e-9)
	require.NotNil(t, stats.ProfitFactor)
	assert.InDelta(t, 3.5, *stats.ProfitFactor, 1e-9)
	assert.InDelta(t, 4.0, stats.TotalCommission, 1e-9)

	assert.InDelta(t, 3.0, stats.BestRMultiple, 1e-9)
	assert.InDelta(t, -1.0, stats.WorstRMultiple, 1e-9)
	assert.InDelta(t, (3.0+0.5-1.0)/3.0, stats.AvgRMultiple, 1e-9)
	assert.InDelta(t, 500.0/3.0, stats.Expectancy, 1e-9)

	assert.Equal(t, 2, stats.MaxConsecutiveWins)
	assert.Equal(t, 1, stats.MaxConsecutiveLosses)

	// Peak 10700, trough 10500.
	assert.InDelta(t, 200.0/10700.0, stats.MaxDrawdown, 1e-9)
}

func TestStatisticsCalculator_ProfitFactorNilOnZeroLoss(t *testing.T) {
	calc := NewStatisticsCalculator()

	stats := calc.Calculate([]*dto.SimulatedPosition{closedPosition(1, 600, 0)}, nil, time.Hour)
	assert.Nil(t, stats.ProfitFactor)
	assert.InDelta(t, 1.0, stats.WinRate, 1e-9)
}

func TestStatisticsCalculator_EmptyLedger(t *testing.T) {
	calc := NewStatisticsCalculator()

	stats := calc.Calculate(nil, nil, time.Hour)
	require.NotNil(t, stats)
	assert.Equal(t, 0, stats.TotalTrades)
	assert.Nil(t, stats.ProfitFactor)
	assert.Zero(t, stats.WinRate)
	assert.Zero(t, stats.SharpeRatio)
	assert.Zero(t, stats.SortinoRatio)
}

func TestStatisticsCalculator_StreaksFollowCloseOrder(t *testing.T) {
	calc := NewStatisticsCalculator()

	// Handed out of order; the reduction sorts by close time: L W W W L.
	closed := []*dto.SimulatedPosition{
		closedPosition(4, 100, 0),
		closedPosition(1, -50, 0),
		closedPosition(3, 100, 0),
		closedPosition(5, -50, 0),
		closedPosition(2, 100, 0),
	}

	stats := calc.Calculate(closed, nil, time.Hour)
	assert.Equal(t, 3, stats.MaxConsecutiveWins)
	assert.Equal(t, 1, stats.MaxConsecutiveLosses)
}

func TestStatisticsCalculator_RiskAdjustedReturns(t *testing.T) {
	calc := NewStatisticsCalculator()

	t.Run("uneven gains produce positive sharpe and zero sortino", func(t *testing.T) {
		curve := []dto.EquityPoint{
			{Timestamp: simStart, Equity: 10000},
			{Timestamp: simStart.Add(time.Hour), Equity: 10100},
			{Timestamp: simStart.Add(2 * time.Hour), Equity: 10400},
			{Timestamp: simStart.Add(3 * time.Hour), Equity: 10450},
		}
		stats := calc.Calculate(nil, curve, time.Hour)
		assert.Greater(t, stats.SharpeRatio, 0.0)
		assert.Zero(t, stats.SortinoRatio)
	})

	t.Run("losses turn sortino negative", func(t *testing.T) {
		curve := []dto.EquityPoint{
			{Timestamp: simStart, Equity: 10000},
			{Timestamp: simStart.Add(time.Hour), Equity: 9800},
			{Timestamp: simStart.Add(2 * time.Hour), Equity: 9900},
			{Timestamp: simStart.Add(3 * time.Hour), Equity: 9500},
		}
		stats := calc.Calculate(nil, curve, time.Hour)
		assert.Less(t, stats.SharpeRatio, 0.0)
		assert.Less(t, stats.SortinoRatio, 0.0)
	})

	t.Run("constant equity has zero ratios", func(t *testing.T) {
		curve := []dto.EquityPoint{
			{Timestamp: simStart, Equity: 10000},
			{Timestamp: simStart.Add(time.Hour), Equity: 10000},
			{Timestamp: simStart.Add(2 * time.Hour), Equity: 10000},
		}
		stats := calc.Calculate(nil, curve, time.Hour)
		assert.Zero(t, stats.SharpeRatio)
		assert.Zero(t, stats.SortinoRatio)
	})
}
