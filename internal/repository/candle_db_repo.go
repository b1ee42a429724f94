package repository

import (
	"context"
	"fmt"

	"confluence-backtest/internal/dto"
	"confluence-backtest/internal/model"

	"gorm.io/gorm"
)

type candleDBRepository struct {
	db *gorm.DB
}

// NewCandleDBRepository reads historical candles from the candles table.
func NewCandleDBRepository(db *gorm.DB) CandleRepository {
	return &candleDBRepository{db: db}
}

func (r *candleDBRepository) GetCandles(ctx context.Context, param GetCandlesParam) ([]dto.Candle, error) {
	query := r.db.WithContext(ctx).
		Where("asset = ? AND timeframe = ?", param.Asset, string(param.Timeframe))

	if !param.StartTime.IsZero() {
		query = query.Where("timestamp >= ?", param.StartTime)
	}
	if !param.EndTime.IsZero() {
		query = query.Where("timestamp <= ?", param.EndTime)
	}

	var rows []model.Candle
	if err := query.Order("timestamp ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}

	candles := make([]dto.Candle, 0, len(rows))
	for _, row := range rows {
		candles = append(candles, dto.Candle{
			Asset:     row.Asset,
			Timeframe: dto.Timeframe(row.Timeframe),
			Timestamp: row.Timestamp,
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			Close:     row.Close,
			Volume:    row.Volume,
		})
	}
	return candles, nil
}

func (r *candleDBRepository) StreamCandles(ctx context.Context, param GetCandlesParam) (CandleIterator, error) {
	candles, err := r.GetCandles(ctx, param)
	if err != nil {
		return nil, err
	}
	return newSliceIterator(candles), nil
}
