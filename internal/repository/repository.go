package repository

import (
	"time"

	"confluence-backtest/config"
	"confluence-backtest/internal/contract"
	"confluence-backtest/pkg/cache"
	"confluence-backtest/pkg/logger"
	"confluence-backtest/pkg/ratelimit"

	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

type Repository struct {
	CandleRepo CandleRepository
	MemoryRepo *InMemoryCandleRepository
	RuleRepo   StrategyRuleRepository
	Narrator   contract.SignalNarrator
}

// NewRepository wires the candle sources and the rule store. db may be nil
// when running purely from in-memory or HTTP candle data; the narrator is
// only constructed when Gemini is enabled.
func NewRepository(cfg *config.Config, db *gorm.DB, inmemoryCache cache.Cache, log *logger.Logger) (*Repository, error) {
	memoryRepo := NewInMemoryCandleRepository()

	var dbRepo CandleRepository
	var ruleRepo StrategyRuleRepository
	if db != nil {
		dbRepo = NewCandleDBRepository(db)
		ruleRepo = NewStrategyRuleRepository(db)
	} else {
		ruleRepo = NewInMemoryStrategyRuleRepository(nil)
	}

	var httpRepo CandleRepository
	if cfg.MarketData.BaseURL != "" {
		perRequest := time.Minute / time.Duration(cfg.MarketData.MaxRequestPerMin)
		limiters := ratelimit.NewLimiterStore(rate.Every(perRequest), 1)
		httpRepo = NewCandleHTTPRepository(cfg, log, inmemoryCache, limiters)
	}

	var narrator contract.SignalNarrator
	if cfg.Gemini.Enabled {
		var err error
		narrator, err = NewGeminiNarratorRepository(cfg, log)
		if err != nil {
			return nil, err
		}
	}

	return &Repository{
		CandleRepo: NewCandleRepository(memoryRepo, dbRepo, httpRepo),
		MemoryRepo: memoryRepo,
		RuleRepo:   ruleRepo,
		Narrator:   narrator,
	}, nil
}
