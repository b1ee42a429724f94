package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"confluence-backtest/internal/analysis"
	"confluence-backtest/internal/dto"
	"confluence-backtest/internal/repository"
	"confluence-backtest/internal/service"
	"confluence-backtest/pkg/utils"
)

var backtestFlags struct {
	asset           string
	timeframes      []string
	higherTimeframe string
	entryTimeframe  string
	start           string
	end             string
	source          string
	candlesFile     string
	rulesFile       string
	output          string
}

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run a single backtest and write the result as JSON",
	Run:   runBacktest,
}

func init() {
	flags := backtestCmd.Flags()
	flags.StringVar(&backtestFlags.asset, "asset", "", "asset symbol to backtest")
	flags.StringSliceVar(&backtestFlags.timeframes, "timeframes", []string{"1h", "4h", "1d"}, "timeframes to analyze")
	flags.StringVar(&backtestFlags.higherTimeframe, "higher-tf", "1d", "higher timeframe providing the bias")
	flags.StringVar(&backtestFlags.entryTimeframe, "entry-tf", "1h", "timeframe signals are generated on")
	flags.StringVar(&backtestFlags.start, "start", "", "window start (RFC3339 or YYYY-MM-DD)")
	flags.StringVar(&backtestFlags.end, "end", "", "window end (RFC3339 or YYYY-MM-DD)")
	flags.StringVar(&backtestFlags.source, "source", repository.CandleSourceMemory, "candle source: memory, database or http")
	flags.StringVar(&backtestFlags.candlesFile, "candles-file", "", "JSON file with candles to preload into the in-memory store")
	flags.StringVar(&backtestFlags.rulesFile, "rules-file", "", "JSON file with strategy rules replacing the database rule store")
	flags.StringVar(&backtestFlags.output, "output", "", "result file path, stdout when empty")

	_ = backtestCmd.MarkFlagRequired("asset")
	_ = backtestCmd.MarkFlagRequired("start")
	_ = backtestCmd.MarkFlagRequired("end")
}

func runBacktest(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appDep, err := NewAppDependency(ctx)
	if err != nil {
		log.Fatalf("Failed to create app dependency: %v", err)
	}
	defer appDep.Close()

	services, err := buildServices(appDep)
	if err != nil {
		log.Fatalf("Failed to build services: %v", err)
	}

	req, err := buildRequest()
	if err != nil {
		log.Fatalf("Invalid backtest request: %v", err)
	}

	result, err := services.BacktestService.RunBacktest(ctx, req)
	if err != nil {
		log.Fatalf("Backtest failed: %v", err)
	}

	if err := writeJSON(backtestFlags.output, result); err != nil {
		log.Fatalf("Failed to write result: %v", err)
	}
}

func buildServices(appDep *AppDependency) (*service.Service, error) {
	var gormDB *gorm.DB
	if appDep.db != nil {
		gormDB = appDep.db.DB
	}

	repo, err := repository.NewRepository(appDep.cfg, gormDB, appDep.cache, appDep.log)
	if err != nil {
		return nil, err
	}

	if backtestFlags.candlesFile != "" {
		var candles []dto.Candle
		if err := readJSON(backtestFlags.candlesFile, &candles); err != nil {
			return nil, fmt.Errorf("failed to load candles file: %w", err)
		}
		repo.MemoryRepo.Load(candles)
	}
	if backtestFlags.rulesFile != "" {
		var rules []dto.StrategyRule
		if err := readJSON(backtestFlags.rulesFile, &rules); err != nil {
			return nil, fmt.Errorf("failed to load rules file: %w", err)
		}
		repo.RuleRepo = repository.NewInMemoryStrategyRuleRepository(rules)
	}

	provider := analysis.NewHeuristicProvider(appDep.log)
	return service.NewService(appDep.cfg, appDep.log, repo, provider), nil
}

func buildRequest() (dto.BacktestRequest, error) {
	validSources := []string{repository.CandleSourceMemory, repository.CandleSourceDatabase, repository.CandleSourceHTTP}
	if !utils.ContainsString(validSources, backtestFlags.source) {
		return dto.BacktestRequest{}, fmt.Errorf("invalid --source %q", backtestFlags.source)
	}

	start, err := parseTime(backtestFlags.start)
	if err != nil {
		return dto.BacktestRequest{}, fmt.Errorf("invalid --start: %w", err)
	}
	end, err := parseTime(backtestFlags.end)
	if err != nil {
		return dto.BacktestRequest{}, fmt.Errorf("invalid --end: %w", err)
	}

	timeframes := make([]dto.Timeframe, 0, len(backtestFlags.timeframes))
	for _, tf := range backtestFlags.timeframes {
		timeframes = append(timeframes, dto.Timeframe(tf))
	}

	return dto.BacktestRequest{
		Asset:           backtestFlags.asset,
		Timeframes:      timeframes,
		HigherTimeframe: dto.Timeframe(backtestFlags.higherTimeframe),
		EntryTimeframe:  dto.Timeframe(backtestFlags.entryTimeframe),
		StartTime:       start,
		EndTime:         end,
		CandleSource:    backtestFlags.source,
	}, nil
}

func parseTime(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Println(string(data))
		return nil
	}
	return os.WriteFile(path, data, 0o644)
}
