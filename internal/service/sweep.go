package service

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"confluence-backtest/config"
	"confluence-backtest/internal/dto"
	"confluence-backtest/pkg/logger"
)

// SweepResult pairs one request of a sweep with its outcome. A failed run
// carries its error without cancelling the sibling runs.
type SweepResult struct {
	Request dto.BacktestRequest `json:"request"`
	Result  *dto.BacktestResult `json:"result,omitempty"`
	Err     error               `json:"-"`
	ErrMsg  string              `json:"error,omitempty"`
}

// SweepService runs a batch of backtest requests concurrently with a
// bounded worker count. Results come back in request order.
type SweepService interface {
	RunSweep(ctx context.Context, requests []dto.BacktestRequest) ([]SweepResult, error)
}

type sweepService struct {
	cfg      *config.Config
	log      *logger.Logger
	backtest BacktestService
}

func NewSweepService(cfg *config.Config, log *logger.Logger, backtest BacktestService) SweepService {
	return &sweepService{cfg: cfg, log: log, backtest: backtest}
}

func (s *sweepService) RunSweep(ctx context.Context, requests []dto.BacktestRequest) ([]SweepResult, error) {
	if len(requests) == 0 {
		return nil, fmt.Errorf("sweep requires at least one request")
	}

	results := make([]SweepResult, len(requests))
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.Sweep.MaxConcurrency)

	for i, req := range requests {
		group.Go(func() error {
			result, err := s.backtest.RunBacktest(groupCtx, req)
			if err != nil {
				s.log.WarnContext(groupCtx, "Sweep run failed",
					logger.StringField("asset", req.Asset),
					logger.StringField("entry_timeframe", string(req.EntryTimeframe)),
					logger.ErrorField(err),
				)
			}

			mu.Lock()
			results[i] = SweepResult{Request: req, Result: result, Err: err}
			if err != nil {
				results[i].ErrMsg = err.Error()
			}
			mu.Unlock()

			// Run failures are collected per slot, not propagated, so one
			// bad request cannot cancel the rest of the sweep.
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return results, err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	s.log.InfoContext(ctx, "Sweep finished",
		logger.IntField("total_runs", len(requests)),
		logger.IntField("failed_runs", failed),
	)
	return results, nil
}
