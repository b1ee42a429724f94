package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"confluence-backtest/config"
	"confluence-backtest/internal/dto"
	"confluence-backtest/pkg/logger"
	"confluence-backtest/pkg/utils"
)

// SchedulerService re-runs configured backtests on cron schedules, each
// over a trailing window ending at the trigger time.
type SchedulerService interface {
	Start(ctx context.Context) error
	Stop()
}

type schedulerService struct {
	cfg      *config.Config
	log      *logger.Logger
	backtest BacktestService
	cron     *cron.Cron
}

func NewSchedulerService(cfg *config.Config, log *logger.Logger, backtest BacktestService) SchedulerService {
	return &schedulerService{
		cfg:      cfg,
		log:      log,
		backtest: backtest,
		cron:     cron.New(),
	}
}

func (s *schedulerService) Start(ctx context.Context) error {
	if len(s.cfg.Scheduler.Jobs) == 0 {
		return fmt.Errorf("scheduler has no jobs configured")
	}

	for _, job := range s.cfg.Scheduler.Jobs {
		if _, err := s.cron.AddFunc(job.Cron, func() {
			s.runJob(ctx, job)
		}); err != nil {
			return fmt.Errorf("failed to register job %s: %w", job.Name, err)
		}
		s.log.Info("Registered scheduled backtest",
			logger.StringField("job", job.Name),
			logger.StringField("cron", job.Cron),
			logger.StringField("asset", job.Asset),
		)
	}

	s.cron.Start()
	return nil
}

func (s *schedulerService) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

func (s *schedulerService) runJob(ctx context.Context, job config.ScheduledJob) {
	end := time.Now().UTC()
	start := utils.StartOfTradingDay(end.AddDate(0, 0, -job.LookbackDays))

	timeframes := make([]dto.Timeframe, 0, len(job.Timeframes))
	for _, tf := range job.Timeframes {
		timeframes = append(timeframes, dto.Timeframe(tf))
	}

	req := dto.BacktestRequest{
		Asset:           job.Asset,
		Timeframes:      timeframes,
		HigherTimeframe: dto.Timeframe(job.HigherTimeframe),
		EntryTimeframe:  dto.Timeframe(job.EntryTimeframe),
		StartTime:       start,
		EndTime:         end,
		CandleSource:    job.CandleSource,
	}

	result, err := s.backtest.RunBacktest(ctx, req)
	if err != nil {
		s.log.ErrorContext(ctx, "Scheduled backtest failed",
			logger.StringField("job", job.Name),
			logger.ErrorField(err),
		)
		return
	}

	s.log.InfoContext(ctx, "Scheduled backtest finished",
		logger.StringField("job", job.Name),
		logger.StringField("asset", result.Asset),
		logger.IntField("trades", len(result.ClosedPositions)),
		logger.Float64Field("final_equity", result.FinalEquity),
		logger.Float64Field("total_return_pct", result.TotalReturnPct),
	)
}
