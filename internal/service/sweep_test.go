package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confluence-backtest/internal/dto"
	"confluence-backtest/pkg/logger"
)

func TestSweepService_RunSweep(t *testing.T) {
	cfg := testConfig()
	backtest := newTestBacktestService(cfg, trendScenarioCandles(), signalingProvider(simStart.Add(10*time.Hour)))
	sweep := NewSweepService(cfg, logger.NewNop(), backtest)

	valid := simRequest(15)
	invalid := simRequest(15)
	invalid.Asset = ""

	results, err := sweep.RunSweep(context.Background(), []dto.BacktestRequest{valid, invalid})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, valid, results[0].Request)
	require.NotNil(t, results[0].Result)
	assert.NoError(t, results[0].Err)
	assert.InDelta(t, 10600.0, results[0].Result.FinalEquity, 1e-9)

	// The invalid request fails without cancelling its sibling.
	assert.Error(t, results[1].Err)
	assert.NotEmpty(t, results[1].ErrMsg)
	assert.Nil(t, results[1].Result)
}

func TestSweepService_EmptyBatch(t *testing.T) {
	cfg := testConfig()
	backtest := newTestBacktestService(cfg, nil, signalingProvider())
	sweep := NewSweepService(cfg, logger.NewNop(), backtest)

	results, err := sweep.RunSweep(context.Background(), nil)
	assert.Error(t, err)
	assert.Nil(t, results)
}
