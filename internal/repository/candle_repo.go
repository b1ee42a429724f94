package repository

import (
	"context"
	"time"

	"confluence-backtest/internal/dto"
)

const (
	CandleSourceMemory   = "memory"
	CandleSourceDatabase = "database"
	CandleSourceHTTP     = "http"
)

// GetCandlesParam selects one (asset, timeframe) series within a window.
type GetCandlesParam struct {
	Asset     string
	Timeframe dto.Timeframe
	StartTime time.Time
	EndTime   time.Time
	Source    string
}

// CandleIterator is a lazy, forward-only cursor over a candle series.
type CandleIterator interface {
	Next() (*dto.Candle, bool)
}

// CandleRepository supplies historical candles either fully loaded or as a
// forward-only iterator; the simulator tolerates both.
type CandleRepository interface {
	GetCandles(ctx context.Context, param GetCandlesParam) ([]dto.Candle, error)
	StreamCandles(ctx context.Context, param GetCandlesParam) (CandleIterator, error)
}

type candleRepository struct {
	memoryRepo *InMemoryCandleRepository
	dbRepo     CandleRepository
	httpRepo   CandleRepository
}

// NewCandleRepository routes candle lookups by the requested source. The db
// and http repositories may be nil when the corresponding backend is not
// configured; lookups then fall back to the in-memory store.
func NewCandleRepository(memoryRepo *InMemoryCandleRepository, dbRepo, httpRepo CandleRepository) CandleRepository {
	return &candleRepository{
		memoryRepo: memoryRepo,
		dbRepo:     dbRepo,
		httpRepo:   httpRepo,
	}
}

func (r *candleRepository) resolve(source string) CandleRepository {
	switch source {
	case CandleSourceDatabase:
		if r.dbRepo != nil {
			return r.dbRepo
		}
	case CandleSourceHTTP:
		if r.httpRepo != nil {
			return r.httpRepo
		}
	}
	return r.memoryRepo
}

func (r *candleRepository) GetCandles(ctx context.Context, param GetCandlesParam) ([]dto.Candle, error) {
	return r.resolve(param.Source).GetCandles(ctx, param)
}

func (r *candleRepository) StreamCandles(ctx context.Context, param GetCandlesParam) (CandleIterator, error) {
	return r.resolve(param.Source).StreamCandles(ctx, param)
}

// sliceIterator adapts a fully loaded series to the iterator contract.
type sliceIterator struct {
	candles []dto.Candle
	pos     int
}

func newSliceIterator(candles []dto.Candle) *sliceIterator {
	return &sliceIterator{candles: candles}
}

func (it *sliceIterator) Next() (*dto.Candle, bool) {
	if it.pos >= len(it.candles) {
		return nil, false
	}
	c := it.candles[it.pos]
	it.pos++
	return &c, true
}
