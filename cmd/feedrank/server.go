package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/kalambet/feedrank/internal/api"
	"github.com/kalambet/feedrank/internal/config"
	"github.com/kalambet/feedrank/internal/embedding"
	"github.com/kalambet/feedrank/internal/feedback"
	"github.com/kalambet/feedrank/internal/ollama"
	"github.com/kalambet/feedrank/internal/profile"
	"github.com/kalambet/feedrank/internal/ranking"
	"github.com/kalambet/feedrank/internal/storage"
	"github.com/kalambet/feedrank/internal/worker"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the feedrank server (API, MCP, and worker, foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the background worker (no API server)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorkerOnly()
	},
}

func setupLogging(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// buildServices wires storage, the embedding client, the profile builder,
// the scoring engine, and the worker from config.
func buildServices(cfg *config.Config, registry *prometheus.Registry) (*storage.Store, *worker.Worker, *feedback.Service, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening storage: %w", err)
	}

	ollamaClient := ollama.New(cfg.Ollama.BaseURL)
	embedClient := embedding.NewClient(ollamaClient, cfg.Ollama.EmbedModel, cfg.Ollama.Timeout)
	builder := profile.NewBuilder(store, embedClient)
	engine := ranking.NewEngine(ranking.Weights{
		Similarity: cfg.Ranking.SimilarityWeight,
		Category:   cfg.Ranking.CategoryWeight,
		Domain:     cfg.Ranking.DomainWeight,
		Freshness:  cfg.Ranking.FreshnessWeight,
	})

	var metrics *worker.Metrics
	if registry != nil {
		metrics = worker.NewMetrics(registry)
	}
	w := worker.New(store, builder, engine, metrics, worker.Options{
		PollInterval:      cfg.Worker.PollInterval,
		DocumentWindow:    cfg.Worker.DocumentWindow,
		StaleRequeueAfter: cfg.Worker.StaleRequeueAfter,
	})

	return store, w, feedback.NewService(store), nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "feedrank version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	if cfg.Server.Token == "" {
		return fmt.Errorf("server.token is required (set FEEDRANK_SERVER_TOKEN or server.token in config)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ollamaClient := ollama.New(cfg.Ollama.BaseURL)
	if !ollamaClient.IsRunning(ctx) {
		printWarning("ollama is not reachable at %s; profile rebuilds will degrade until it is", cfg.Ollama.BaseURL)
	} else if !ollamaClient.HasModel(ctx, cfg.Ollama.EmbedModel) {
		printWarning("embed model %q not found in ollama", cfg.Ollama.EmbedModel)
	}

	registry := prometheus.NewRegistry()
	store, w, feedbackSvc, err := buildServices(cfg, registry)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	handler := api.NewAppHandler(api.AppDeps{
		Store:    store,
		Feedback: feedbackSvc,
		Token:    cfg.Server.Token,
		Registry: registry,
	})
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: handler,
	}

	go w.Run(ctx)

	// MCP over stdio so AI clients can browse and steer recommendations.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:    store,
		Feedback: feedbackSvc,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "feedrank listening on %s\n", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runWorkerOnly() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, w, _, err := buildServices(cfg, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	printStep("worker running (poll %s)", cfg.Worker.PollInterval)
	w.Run(ctx)
	return nil
}
