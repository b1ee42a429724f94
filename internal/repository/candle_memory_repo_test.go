package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confluence-backtest/internal/dto"
)

func memCandle(hour int, closePrice float64) dto.Candle {
	return dto.Candle{
		Asset:     "BTCUSDT",
		Timeframe: dto.Timeframe1Hour,
		Timestamp: time.Date(2024, 1, 1, hour, 0, 0, 0, time.UTC),
		Open:      closePrice,
		High:      closePrice,
		Low:       closePrice,
		Close:     closePrice,
		Volume:    1,
	}
}

func TestInMemoryCandleRepository_SortsOnLoad(t *testing.T) {
	repo := NewInMemoryCandleRepository()
	repo.Load([]dto.Candle{memCandle(3, 103), memCandle(1, 101), memCandle(2, 102)})

	candles, err := repo.GetCandles(context.Background(), GetCandlesParam{
		Asset:     "BTCUSDT",
		Timeframe: dto.Timeframe1Hour,
	})
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.Equal(t, 101.0, candles[0].Close)
	assert.Equal(t, 102.0, candles[1].Close)
	assert.Equal(t, 103.0, candles[2].Close)
}

func TestInMemoryCandleRepository_WindowFilter(t *testing.T) {
	repo := NewInMemoryCandleRepository()
	repo.Load([]dto.Candle{memCandle(1, 101), memCandle(2, 102), memCandle(3, 103), memCandle(4, 104)})

	candles, err := repo.GetCandles(context.Background(), GetCandlesParam{
		Asset:     "BTCUSDT",
		Timeframe: dto.Timeframe1Hour,
		StartTime: time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 102.0, candles[0].Close)
	assert.Equal(t, 103.0, candles[1].Close)
}

func TestInMemoryCandleRepository_UnknownSeries(t *testing.T) {
	repo := NewInMemoryCandleRepository()

	candles, err := repo.GetCandles(context.Background(), GetCandlesParam{
		Asset:     "ETHUSDT",
		Timeframe: dto.Timeframe1Hour,
	})
	require.NoError(t, err)
	assert.Empty(t, candles)
}

func TestInMemoryCandleRepository_StreamIsForwardOnly(t *testing.T) {
	repo := NewInMemoryCandleRepository()
	repo.Load([]dto.Candle{memCandle(1, 101), memCandle(2, 102)})

	iter, err := repo.StreamCandles(context.Background(), GetCandlesParam{
		Asset:     "BTCUSDT",
		Timeframe: dto.Timeframe1Hour,
	})
	require.NoError(t, err)

	first, ok := iter.Next()
	require.True(t, ok)
	assert.Equal(t, 101.0, first.Close)

	second, ok := iter.Next()
	require.True(t, ok)
	assert.Equal(t, 102.0, second.Close)

	_, ok = iter.Next()
	assert.False(t, ok)
}

func TestCandleRepositoryRouter_FallsBackToMemory(t *testing.T) {
	memory := NewInMemoryCandleRepository()
	memory.Load([]dto.Candle{memCandle(1, 101)})
	router := NewCandleRepository(memory, nil, nil)

	candles, err := router.GetCandles(context.Background(), GetCandlesParam{
		Asset:     "BTCUSDT",
		Timeframe: dto.Timeframe1Hour,
		Source:    CandleSourceDatabase,
	})
	require.NoError(t, err)
	assert.Len(t, candles, 1)
}

func TestInMemoryStrategyRuleRepository_FiltersByEntryType(t *testing.T) {
	repo := NewInMemoryStrategyRuleRepository([]dto.StrategyRule{
		{ID: "a", EntryType: "bullish_engulfing"},
		{ID: "b", EntryType: "pin_bar"},
	})

	rules, err := repo.GetCandidates(context.Background(), "BTCUSDT", "pin_bar")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "b", rules[0].ID)

	all, err := repo.GetCandidates(context.Background(), "BTCUSDT", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
