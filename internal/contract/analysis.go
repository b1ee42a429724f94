package contract

import (
	"context"
	"time"

	"confluence-backtest/internal/dto"
)

// AnalysisProvider computes a per-timeframe analysis snapshot from the
// candles supplied to it. Callers must never pass candles whose close time
// is later than asOf; the provider must be side-effect free.
type AnalysisProvider interface {
	Analyze(ctx context.Context, asset string, timeframe dto.Timeframe, candles []dto.Candle, asOf time.Time) (*dto.TimeframeAnalysis, error)
}

// AnalysisProviderFunc adapts a plain function to AnalysisProvider.
type AnalysisProviderFunc func(ctx context.Context, asset string, timeframe dto.Timeframe, candles []dto.Candle, asOf time.Time) (*dto.TimeframeAnalysis, error)

func (f AnalysisProviderFunc) Analyze(ctx context.Context, asset string, timeframe dto.Timeframe, candles []dto.Candle, asOf time.Time) (*dto.TimeframeAnalysis, error) {
	return f(ctx, asset, timeframe, candles, asOf)
}
