package service

import (
	"confluence-backtest/config"
	"confluence-backtest/internal/contract"
	"confluence-backtest/internal/repository"
	"confluence-backtest/pkg/logger"
)

type Service struct {
	BacktestService  BacktestService
	SweepService     SweepService
	SchedulerService SchedulerService
	Scorer           ConfluenceScorer
	Statistics       StatisticsCalculator
}

func NewService(
	cfg *config.Config,
	log *logger.Logger,
	repo *repository.Repository,
	provider contract.AnalysisProvider,
) *Service {
	scorer := NewConfluenceScorer(cfg, log)
	stats := NewStatisticsCalculator()
	backtestService := NewBacktestService(cfg, log, repo.CandleRepo, repo.RuleRepo, provider, scorer, stats, repo.Narrator)
	sweepService := NewSweepService(cfg, log, backtestService)
	schedulerService := NewSchedulerService(cfg, log, backtestService)

	return &Service{
		BacktestService:  backtestService,
		SweepService:     sweepService,
		SchedulerService: schedulerService,
		Scorer:           scorer,
		Statistics:       stats,
	}
}
