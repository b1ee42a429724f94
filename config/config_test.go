package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Backtest: Backtest{
			InitialEquity:          10000,
			RiskPerTradePct:        0.02,
			SlippagePct:            0.001,
			CommissionPct:          0.0004,
			MaxConcurrentPositions: 3,
			DailyLossLimitPct:      0.03,
			PartialExitFraction:    0.5,
			TakeProfitRMultiples:   []float64{2, 3, 5},
			ProgressEverySteps:     1000,
		},
		Scorer: Scorer{
			MinConfluenceScore: 0.65,
			MinSignalStrength:  0.50,
			ATRWindow:          14,
		},
		MarketData: MarketData{
			Timeout:          30 * time.Second,
			MaxRequestPerMin: 60,
		},
		Gemini: Gemini{
			MaxRequestPerMinute: 10,
			MaxTokenPerMinute:   250000,
		},
		Sweep: Sweep{MaxConcurrency: 4},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr bool
	}{
		{
			name:    "valid config passes",
			mutate:  func(cfg *Config) {},
			wantErr: false,
		},
		{
			name:    "zero initial equity fails",
			mutate:  func(cfg *Config) { cfg.Backtest.InitialEquity = 0 },
			wantErr: true,
		},
		{
			name:    "risk above one fails",
			mutate:  func(cfg *Config) { cfg.Backtest.RiskPerTradePct = 1.5 },
			wantErr: true,
		},
		{
			name:    "negative slippage fails",
			mutate:  func(cfg *Config) { cfg.Backtest.SlippagePct = -0.1 },
			wantErr: true,
		},
		{
			name:    "zero max concurrent positions fails",
			mutate:  func(cfg *Config) { cfg.Backtest.MaxConcurrentPositions = 0 },
			wantErr: true,
		},
		{
			name:    "empty take profit multiples fail",
			mutate:  func(cfg *Config) { cfg.Backtest.TakeProfitRMultiples = nil },
			wantErr: true,
		},
		{
			name:    "non positive take profit multiple fails",
			mutate:  func(cfg *Config) { cfg.Backtest.TakeProfitRMultiples = []float64{2, 0} },
			wantErr: true,
		},
		{
			name:    "confluence gate above one fails",
			mutate:  func(cfg *Config) { cfg.Scorer.MinConfluenceScore = 1.2 },
			wantErr: true,
		},
		{
			name:    "zero atr window fails",
			mutate:  func(cfg *Config) { cfg.Scorer.ATRWindow = 0 },
			wantErr: true,
		},
		{
			name:    "zero sweep concurrency fails",
			mutate:  func(cfg *Config) { cfg.Sweep.MaxConcurrency = 0 },
			wantErr: true,
		},
		{
			name: "scheduler job without cron fails",
			mutate: func(cfg *Config) {
				cfg.Scheduler.Jobs = []ScheduledJob{{
					Name:            "job",
					Asset:           "BTCUSDT",
					Timeframes:      []string{"1h"},
					HigherTimeframe: "4h",
					EntryTimeframe:  "1h",
					LookbackDays:    30,
				}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
