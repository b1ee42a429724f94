package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var scheduleFlags struct {
	candlesFile string
	rulesFile   string
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the configured backtest jobs on their cron schedules",
	Run:   runSchedule,
}

func init() {
	flags := scheduleCmd.Flags()
	flags.StringVar(&scheduleFlags.candlesFile, "candles-file", "", "JSON file with candles to preload into the in-memory store")
	flags.StringVar(&scheduleFlags.rulesFile, "rules-file", "", "JSON file with strategy rules replacing the database rule store")
}

func runSchedule(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backtestFlags.candlesFile = scheduleFlags.candlesFile
	backtestFlags.rulesFile = scheduleFlags.rulesFile

	appDep, err := NewAppDependency(ctx)
	if err != nil {
		log.Fatalf("Failed to create app dependency: %v", err)
	}
	defer appDep.Close()

	services, err := buildServices(appDep)
	if err != nil {
		log.Fatalf("Failed to build services: %v", err)
	}

	if err := services.SchedulerService.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	<-ctx.Done()
	log.Println("Shutting down gracefully...")
	services.SchedulerService.Stop()
}
