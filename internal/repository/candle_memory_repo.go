package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"confluence-backtest/internal/dto"
)

// InMemoryCandleRepository holds preloaded candle series keyed by asset and
// timeframe. After loading it is read-only and safe to share across
// concurrent backtest runs.
type InMemoryCandleRepository struct {
	mu     sync.RWMutex
	series map[string][]dto.Candle
}

func NewInMemoryCandleRepository() *InMemoryCandleRepository {
	return &InMemoryCandleRepository{
		series: make(map[string][]dto.Candle),
	}
}

func seriesKey(asset string, timeframe dto.Timeframe) string {
	return fmt.Sprintf("%s|%s", asset, timeframe)
}

// Load adds candles to the store, keeping each series sorted by timestamp.
func (r *InMemoryCandleRepository) Load(candles []dto.Candle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	touched := make(map[string]struct{})
	for _, c := range candles {
		key := seriesKey(c.Asset, c.Timeframe)
		r.series[key] = append(r.series[key], c)
		touched[key] = struct{}{}
	}
	for key := range touched {
		series := r.series[key]
		sort.Slice(series, func(i, j int) bool {
			return series[i].Timestamp.Before(series[j].Timestamp)
		})
	}
}

func (r *InMemoryCandleRepository) GetCandles(ctx context.Context, param GetCandlesParam) ([]dto.Candle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	series, ok := r.series[seriesKey(param.Asset, param.Timeframe)]
	if !ok {
		return nil, nil
	}

	result := make([]dto.Candle, 0, len(series))
	for _, c := range series {
		if !param.StartTime.IsZero() && c.Timestamp.Before(param.StartTime) {
			continue
		}
		if !param.EndTime.IsZero() && c.Timestamp.After(param.EndTime) {
			continue
		}
		result = append(result, c)
	}
	return result, nil
}

func (r *InMemoryCandleRepository) StreamCandles(ctx context.Context, param GetCandlesParam) (CandleIterator, error) {
	candles, err := r.GetCandles(ctx, param)
	if err != nil {
		return nil, err
	}
	return newSliceIterator(candles), nil
}
