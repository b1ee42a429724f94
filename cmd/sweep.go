package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"confluence-backtest/internal/dto"
)

var sweepFlags struct {
	requestsFile string
	candlesFile  string
	rulesFile    string
	output       string
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a batch of backtest requests concurrently",
	Run:   runSweep,
}

func init() {
	flags := sweepCmd.Flags()
	flags.StringVar(&sweepFlags.requestsFile, "requests-file", "", "JSON file with the backtest requests to run")
	flags.StringVar(&sweepFlags.candlesFile, "candles-file", "", "JSON file with candles to preload into the in-memory store")
	flags.StringVar(&sweepFlags.rulesFile, "rules-file", "", "JSON file with strategy rules replacing the database rule store")
	flags.StringVar(&sweepFlags.output, "output", "", "result file path, stdout when empty")

	_ = sweepCmd.MarkFlagRequired("requests-file")
}

func runSweep(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The sweep shares the single-run loading flags through the same paths.
	backtestFlags.candlesFile = sweepFlags.candlesFile
	backtestFlags.rulesFile = sweepFlags.rulesFile

	appDep, err := NewAppDependency(ctx)
	if err != nil {
		log.Fatalf("Failed to create app dependency: %v", err)
	}
	defer appDep.Close()

	services, err := buildServices(appDep)
	if err != nil {
		log.Fatalf("Failed to build services: %v", err)
	}

	var requests []dto.BacktestRequest
	if err := readJSON(sweepFlags.requestsFile, &requests); err != nil {
		log.Fatalf("Failed to load requests file: %v", err)
	}

	results, err := services.SweepService.RunSweep(ctx, requests)
	if err != nil {
		log.Fatalf("Sweep failed: %v", err)
	}

	if err := writeJSON(sweepFlags.output, results); err != nil {
		log.Fatalf("Failed to write results: %v", err)
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		fmt.Printf("%d of %d runs failed\n", failed, len(results))
	}
}
