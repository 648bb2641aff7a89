package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start and manage background workers such as the payout reconciliation sweep.`,
}

var reconcileWorkerCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Start the reconciliation worker pool",
	Long:  `Periodically pull gateway status for submitted batches and settle or reverse their items`,
	Run: func(cmd *cobra.Command, args []string) {
		startReconcileWorker()
	},
}

var (
	maxWorkers     int
	jobQueueSize   int
	sweepInterval  time.Duration
	sweepBatchSize int
)

func startReconcileWorker() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer deps.Close()

	rc := &deps.Config.Reconcile
	rc.Workers = getIntFlag(maxWorkers, rc.Workers)
	rc.QueueSize = getIntFlag(jobQueueSize, rc.QueueSize)
	rc.BatchLimit = getIntFlag(sweepBatchSize, rc.BatchLimit)
	if sweepInterval > 0 {
		rc.Interval = sweepInterval
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := deps.NewScheduler()
	scheduler.Start(ctx)

	deps.Logger.Info("reconciliation worker started",
		"workers", rc.Workers,
		"queue_size", rc.QueueSize,
		"interval", rc.Interval,
		"redis_lease", deps.Redis != nil)

	<-ctx.Done()
	deps.Logger.Info("Shutting down reconciliation worker...")
	scheduler.Stop()
	deps.Logger.Info("reconciliation worker stopped")
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	reconcileWorkerCmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "Maximum number of workers (overrides config)")
	reconcileWorkerCmd.Flags().IntVar(&jobQueueSize, "job-queue-size", 0, "Job queue buffer size (overrides config)")
	reconcileWorkerCmd.Flags().IntVar(&sweepBatchSize, "batch-limit", 0, "Batches enqueued per sweep (overrides config)")
	reconcileWorkerCmd.Flags().DurationVar(&sweepInterval, "interval", 0, "Time between sweeps (overrides config)")

	workerCmd.AddCommand(reconcileWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
