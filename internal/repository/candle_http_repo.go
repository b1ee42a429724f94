package repository

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"confluence-backtest/config"
	"confluence-backtest/internal/dto"
	"confluence-backtest/pkg/cache"
	"confluence-backtest/pkg/httpclient"
	"confluence-backtest/pkg/logger"
	"confluence-backtest/pkg/ratelimit"
)

type candleHTTPRepository struct {
	cfg        *config.Config
	log        *logger.Logger
	httpClient httpclient.HTTPClient
	limiters   *ratelimit.LimiterStore
	cache      cache.Cache
}

type candlePayload struct {
	Timestamp int64   `json:"t"`
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    float64 `json:"v"`
}

type candlesResponse struct {
	Candles []candlePayload `json:"candles"`
}

// NewCandleHTTPRepository fetches historical candles from the configured
// market-data API. Responses are cached and requests are rate limited per
// asset.
func NewCandleHTTPRepository(cfg *config.Config, log *logger.Logger, inmemoryCache cache.Cache, limiters *ratelimit.LimiterStore) CandleRepository {
	return &candleHTTPRepository{
		cfg:        cfg,
		log:        log,
		httpClient: httpclient.New(cfg.MarketData.BaseURL, cfg.MarketData.Timeout, cfg.MarketData.APIToken),
		limiters:   limiters,
		cache:      inmemoryCache,
	}
}

func (r *candleHTTPRepository) GetCandles(ctx context.Context, param GetCandlesParam) ([]dto.Candle, error) {
	cacheKey := fmt.Sprintf("candles:%s:%s:%d:%d",
		param.Asset, param.Timeframe, param.StartTime.Unix(), param.EndTime.Unix())
	if cached, found := r.cache.Get(cacheKey); found {
		if candles, ok := cached.([]dto.Candle); ok {
			return candles, nil
		}
	}

	if err := r.limiters.Wait(ctx, param.Asset); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	var payload candlesResponse
	resp, err := r.httpClient.Get(ctx, "/candles", map[string]string{
		"asset":     param.Asset,
		"timeframe": string(param.Timeframe),
		"start":     param.StartTime.UTC().Format(time.RFC3339),
		"end":       param.EndTime.UTC().Format(time.RFC3339),
	}, nil, &payload)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candles: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		r.log.ErrorContext(ctx, "Unexpected status from market data API",
			logger.IntField("status_code", resp.StatusCode),
			logger.StringField("asset", param.Asset),
		)
		return nil, fmt.Errorf("market data API returned status %d", resp.StatusCode)
	}

	candles := make([]dto.Candle, 0, len(payload.Candles))
	for _, p := range payload.Candles {
		candles = append(candles, dto.Candle{
			Asset:     param.Asset,
			Timeframe: param.Timeframe,
			Timestamp: time.Unix(p.Timestamp, 0).UTC(),
			Open:      p.Open,
			High:      p.High,
			Low:       p.Low,
			Close:     p.Close,
			Volume:    p.Volume,
		})
	}

	r.cache.Set(cacheKey, candles, r.cfg.MarketData.CacheDuration)
	return candles, nil
}

func (r *candleHTTPRepository) StreamCandles(ctx context.Context, param GetCandlesParam) (CandleIterator, error) {
	candles, err := r.GetCandles(ctx, param)
	if err != nil {
		return nil, err
	}
	return newSliceIterator(candles), nil
}
