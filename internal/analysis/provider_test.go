package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confluence-backtest/internal/dto"
	"confluence-backtest/pkg/logger"
)

func trendCandles(start time.Time, base, step float64, count int) []dto.Candle {
	candles := make([]dto.Candle, 0, count)
	price := base
	for i := 0; i < count; i++ {
		open := price
		price += step
		high := open
		low := price
		if price > open {
			high = price
			low = open
		}
		candles = append(candles, dto.Candle{
			Asset:     "BTCUSDT",
			Timeframe: dto.Timeframe1Hour,
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     price,
			Volume:    100,
		})
	}
	return candles
}

func TestHeuristicProvider_TooFewCandles(t *testing.T) {
	provider := NewHeuristicProvider(logger.NewNop())
	asOf := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	analysis, err := provider.Analyze(context.Background(), "BTCUSDT", dto.Timeframe1Hour, nil, asOf)
	require.NoError(t, err)
	require.NotNil(t, analysis)
	assert.Equal(t, "BTCUSDT", analysis.Asset)
	assert.Equal(t, 1.0, analysis.VolumeRatio)
	assert.Nil(t, analysis.Structure)
	assert.Nil(t, analysis.Cycle)
	assert.Empty(t, analysis.Patterns)
}

func TestHeuristicProvider_UptrendReadsBullish(t *testing.T) {
	provider := NewHeuristicProvider(logger.NewNop())
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := trendCandles(start, 100, 1, 40)
	asOf := candles[len(candles)-1].CloseTime()

	analysis, err := provider.Analyze(context.Background(), "BTCUSDT", dto.Timeframe1Hour, candles, asOf)
	require.NoError(t, err)
	require.NotNil(t, analysis.Structure)
	require.NotNil(t, analysis.Cycle)

	assert.Equal(t, dto.BiasBullish, analysis.Structure.Bias)
	assert.Greater(t, analysis.Momentum, 0.0)
	assert.Equal(t, asOf, analysis.AsOf)
}

func TestHeuristicProvider_DowntrendReadsBearish(t *testing.T) {
	provider := NewHeuristicProvider(logger.NewNop())
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := trendCandles(start, 200, -1, 40)
	asOf := candles[len(candles)-1].CloseTime()

	analysis, err := provider.Analyze(context.Background(), "BTCUSDT", dto.Timeframe1Hour, candles, asOf)
	require.NoError(t, err)
	require.NotNil(t, analysis.Structure)

	assert.Equal(t, dto.BiasBearish, analysis.Structure.Bias)
	assert.Less(t, analysis.Momentum, 0.0)
}

func TestDetectPatterns(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candle := func(open, high, low, closePrice float64, hour int) dto.Candle {
		return dto.Candle{
			Asset:     "BTCUSDT",
			Timeframe: dto.Timeframe1Hour,
			Timestamp: base.Add(time.Duration(hour) * time.Hour),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    1,
		}
	}

	tests := []struct {
		name          string
		candles       []dto.Candle
		wantType      string
		wantDirection dto.Direction
	}{
		{
			name: "bullish engulfing",
			candles: []dto.Candle{
				candle(102, 102.5, 99.5, 100, 0),
				candle(99.8, 103.2, 99.4, 103, 1),
			},
			wantType:      "bullish_engulfing",
			wantDirection: dto.DirectionLong,
		},
		{
			name: "bearish engulfing",
			candles: []dto.Candle{
				candle(100, 102.6, 99.8, 102, 0),
				candle(102.2, 102.8, 98.9, 99.5, 1),
			},
			wantType:      "bearish_engulfing",
			wantDirection: dto.DirectionShort,
		},
		{
			name: "bullish pin bar",
			candles: []dto.Candle{
				candle(100, 100.5, 99.5, 100, 0),
				candle(100, 100.6, 96, 100.5, 1),
			},
			wantType:      "bullish_pin_bar",
			wantDirection: dto.DirectionLong,
		},
		{
			name: "bearish pin bar",
			candles: []dto.Candle{
				candle(100, 100.5, 99.5, 100, 0),
				candle(100, 104.5, 99.8, 99.9, 1),
			},
			wantType:      "bearish_pin_bar",
			wantDirection: dto.DirectionShort,
		},
		{
			name: "flat candles yield nothing",
			candles: []dto.Candle{
				candle(100, 100, 100, 100, 0),
				candle(100, 100, 100, 100, 1),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patterns := detectPatterns(tt.candles)
			if tt.wantType == "" {
				assert.Empty(t, patterns)
				return
			}
			require.Len(t, patterns, 1)
			assert.Equal(t, tt.wantType, patterns[0].Type)
			assert.Equal(t, tt.wantDirection, patterns[0].Direction)
			assert.Greater(t, patterns[0].Confidence, 0.0)
		})
	}
}
