package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"maxprint.app/orderflow/common/id"
	"maxprint.app/orderflow/common/llm"
	"maxprint.app/orderflow/common/logger"
	"maxprint.app/orderflow/common/otel"
	"maxprint.app/orderflow/core/bq"
	"maxprint.app/orderflow/core/config"
	"maxprint.app/orderflow/internal/extract"
	"maxprint.app/orderflow/internal/http/handler"
	"maxprint.app/orderflow/internal/http/handler/webhook"
	"maxprint.app/orderflow/internal/http/middleware"
	httprouter "maxprint.app/orderflow/internal/http/router"
	"maxprint.app/orderflow/internal/publisher"
	"maxprint.app/orderflow/internal/store"
	"maxprint.app/orderflow/internal/trello"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "orderflow server starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
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

	var llmClient llm.Client
	if cfg.LLM.Enabled() {
		llmClient, err = llm.New(llm.Config{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
		})
		if err != nil {
			slog.ErrorContext(ctx, "failed to create llm client", "error", err)
			os.Exit(1)
		}
		slog.InfoContext(ctx, "extraction llm configured", "model", cfg.LLM.Model)
	} else {
		slog.WarnContext(ctx, "no llm api key, extraction degrades to deterministic fields")
	}

	st := store.New(bqClient,
		store.RetryPolicy{MaxAttempts: cfg.Retry.MaxAttempts, InitialDelay: cfg.Retry.InitialDelay},
		cfg.Drain.MaxRetries)
	trelloClient := trello.NewClient(cfg.Trello.Key, cfg.Trello.Token)
	extractor := extract.NewService(llmClient, cfg.LLM.MaxTokens, true)
	pub := publisher.New(st, st, st, trelloClient, extractor)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, pub, st)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	// In-flight webhook processing keeps its own detached context; give it a
	// chance to land its writes before the bigquery client closes.
	if err := pub.Wait(shutdownCtx); err != nil {
		slog.WarnContext(shutdownCtx, "shutdown with event processing still in flight", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, pub *publisher.Publisher, st *store.Store) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	trelloHandler := webhook.NewTrelloHandler(pub)
	queueHandler := handler.NewQueueHandler(st, cfg.Drain.MaxItems)

	httprouter.SetupRoutes(router, trelloHandler, queueHandler, httprouter.RouterConfig{
		AdminAPIKey: cfg.AdminAPIKey,
	})

	return router
}

const banner = `
 ██████╗ ██████╗ ██████╗ ███████╗██████╗ ███████╗██╗      ██████╗ ██╗    ██╗
██╔═══██╗██╔══██╗██╔══██╗██╔════╝██╔══██╗██╔════╝██║     ██╔═══██╗██║    ██║
██║   ██║██████╔╝██║  ██║█████╗  ██████╔╝█████╗  ██║     ██║   ██║██║ █╗ ██║
██║   ██║██╔══██╗██║  ██║██╔══╝  ██╔══██╗██╔══╝  ██║     ██║   ██║██║███╗██║
╚██████╔╝██║  ██║██████╔╝███████╗██║  ██║██║     ███████╗╚██████╔╝╚███╔███╔╝
 ╚═════╝ ╚═╝  ╚═╝╚═════╝ ╚══════╝╚═╝  ╚═╝╚═╝     ╚══════╝ ╚═════╝  ╚══╝╚══╝
`
