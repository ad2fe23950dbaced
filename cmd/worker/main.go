package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"maxprint.app/orderflow/common/id"
	"maxprint.app/orderflow/common/logger"
	"maxprint.app/orderflow/common/otel"
	"maxprint.app/orderflow/core/bq"
	"maxprint.app/orderflow/core/config"
	"maxprint.app/orderflow/internal/store"
)

// The worker owns the retry-queue drain: every tick it replays deferred
// writes that have aged out of the streaming buffer.
func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "orderflow worker starting",
		"env", cfg.Env,
		"drain_interval", cfg.Drain.Interval.String(),
		"drain_max_items", cfg.Drain.MaxItems)

	// Different node id than the server so ids never collide.
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	bqClient, err := bq.New(ctx, cfg.BigQuery)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create bigquery client", "error", err)
		os.Exit(1)
	}
	defer bqClient.Close()
	slog.InfoContext(ctx, "bigquery connected",
		"project", cfg.BigQuery.ProjectID,
		"dataset", cfg.BigQuery.DatasetID)

	st := store.New(bqClient,
		store.RetryPolicy{MaxAttempts: cfg.Retry.MaxAttempts, InitialDelay: cfg.Retry.InitialDelay},
		cfg.Drain.MaxRetries)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		runDrainLoop(runCtx, st, cfg.Drain)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		slog.WarnContext(shutdownCtx, "drain loop did not stop in time")
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func runDrainLoop(ctx context.Context, st *store.Store, cfg config.DrainConfig) {
	// Drain once on startup so a restart never delays overdue items by a
	// full interval.
	drainOnce(ctx, st, cfg.MaxItems)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			drainOnce(ctx, st, cfg.MaxItems)
		}
	}
}

func drainOnce(ctx context.Context, st *store.Store, maxItems int) {
	start := time.Now()
	stats, err := st.ProcessRetryQueue(ctx, maxItems)
	if err != nil {
		slog.ErrorContext(ctx, "queue drain failed", "error", err)
		return
	}
	if stats.Processed == 0 {
		return
	}
	slog.InfoContext(ctx, "queue drained",
		"processed", stats.Processed,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"took", time.Since(start).String())
}

const banner = `
orderflow worker :: pending queue drain
`
