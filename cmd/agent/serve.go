package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/nexhearth/mimirgo/internal/agent"
	"github.com/nexhearth/mimirgo/internal/agent/providers"
	"github.com/nexhearth/mimirgo/internal/audit"
	"github.com/nexhearth/mimirgo/internal/channels/telegram"
	"github.com/nexhearth/mimirgo/internal/config"
	"github.com/nexhearth/mimirgo/internal/controller"
	"github.com/nexhearth/mimirgo/internal/controller/bridge"
	controllertools "github.com/nexhearth/mimirgo/internal/controller/tools"
	"github.com/nexhearth/mimirgo/internal/conversation"
	"github.com/nexhearth/mimirgo/internal/metrics"
	"github.com/nexhearth/mimirgo/internal/mode"
	"github.com/nexhearth/mimirgo/internal/models"
	"github.com/nexhearth/mimirgo/internal/ratelimit"
	"github.com/nexhearth/mimirgo/internal/shutdown"
	"github.com/nexhearth/mimirgo/internal/tracing"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent",
		Long: `Start the agent process: load configuration, connect to the configured
LLM provider and controller, register the tool set, and begin listening
for inbound messages on every enabled channel.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "agent.json5", "Path to JSON5 configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.JSON {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	logger.Info("starting agent", "version", version, "commit", commit, "config", configPath, "llm_provider", cfg.LLM.Provider)

	llmProvider, err := buildLLMProvider(cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to build LLM provider: %w", err)
	}

	controllerClient, err := controller.NewClient(controller.Config{
		BaseURL: cfg.Controller.BaseURL,
		Token:   cfg.Controller.Token,
		Timeout: cfg.Controller.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to build controller client: %w", err)
	}

	eventBridge := bridge.New(cfg.Controller.BaseURL, cfg.Controller.Token, logger)

	store, err := audit.Open(cfg.Audit.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open audit store: %w", err)
	}

	modeManager := mode.NewManager(cfg.Mode.YOLODuration)
	limiter := ratelimit.New(ratelimit.Config{
		DeletionsPerHour:     cfg.RateLimit.DeletionsPerHour,
		ModificationsPerHour: cfg.RateLimit.ModificationsPerHour,
		Window:               cfg.RateLimit.Window,
	})
	limiter.SetEnabled(cfg.RateLimit.Enabled)

	guard := conversation.NewGuard(modeManager, limiter)

	reg := prometheus.NewRegistry()
	mx := metrics.New(reg)
	guard.SetMetrics(mx)
	eventBridge.SetMetrics(mx)

	onExec := func(ctx context.Context, toolName string, params json.RawMessage, result *agent.ToolResult, duration time.Duration) {
		if result == nil {
			return
		}
		var parsedParams map[string]any
		_ = json.Unmarshal(params, &parsedParams)

		entry := models.ToolExecutionEntry{
			ToolName:   toolName,
			Parameters: parsedParams,
			Result:     result.Content,
			DurationMs: duration.Milliseconds(),
			Success:    !result.IsError,
			Timestamp:  time.Now(),
		}
		if result.IsError {
			entry.ErrorMessage = result.Content
		}
		if err := store.LogToolExecution(ctx, entry); err != nil {
			logger.Warn("failed to log tool execution", "tool", toolName, "error", err)
		}
	}

	registry := agent.NewToolRegistry(guard, onExec)
	for _, tool := range controllertools.All(controllerClient) {
		if err := registry.Register(tool); err != nil {
			return fmt.Errorf("failed to register controller tool %q: %w", tool.Name(), err)
		}
	}
	for _, tool := range audit.Tools(store) {
		if err := registry.Register(tool); err != nil {
			return fmt.Errorf("failed to register memory tool %q: %w", tool.Name(), err)
		}
	}

	tracer, tracerShutdown := tracing.New(tracing.Config{
		ServiceName:    "agent",
		ServiceVersion: version,
	})

	convoManager := conversation.NewManager(llmProvider, registry, modeManager, store, store, conversation.Config{
		MaxToolIterations: cfg.LLM.MaxToolIterations,
	}, logger)
	convoManager.SetMetrics(mx)
	convoManager.SetTracer(tracer)

	coordinator := shutdown.NewShutdownCoordinator(cfg.Server.ShutdownTimeout, logger)
	coordinator.RegisterStore("audit-store", func(context.Context) error {
		return store.Close()
	})

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go eventBridge.Run(ctx)
	coordinator.RegisterExternal("controller-bridge", func(context.Context) error {
		eventBridge.Stop()
		return nil
	})

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: promMux(reg),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	coordinator.RegisterExternal("metrics-server", metricsServer.Shutdown)

	errCh := make(chan error, 1)
	var telegramAdapter *telegram.Adapter
	if cfg.Telegram.Enabled {
		telegramAdapter, err = telegram.NewAdapter(telegram.Config{
			Token:          cfg.Telegram.Token,
			AllowedUserIDs: cfg.Telegram.AllowedUserIDs,
			Logger:         logger,
		}, convoManager.ProcessMessage)
		if err != nil {
			return fmt.Errorf("failed to build telegram adapter: %w", err)
		}
		go func() {
			errCh <- telegramAdapter.Start(ctx)
		}()
	}

	logger.Info("agent started", "metrics_port", cfg.Server.MetricsPort, "telegram_enabled", cfg.Telegram.Enabled)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("channel adapter failed", "error", err)
		}
	}

	logger.Info("shutdown signal received, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	results := coordinator.Shutdown(shutdownCtx)
	for _, r := range results {
		if r.Error != nil {
			logger.Error("shutdown handler failed", "name", r.Name, "error", r.Error)
		}
	}
	if err := tracerShutdown(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown failed", "error", err)
	}

	logger.Info("agent stopped")
	return nil
}

func promMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

func buildLLMProvider(cfg config.LLMConfig) (agent.LLMProvider, error) {
	switch cfg.Provider {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
		})
	case "openai":
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
		})
	case "google":
		return providers.NewGoogleProvider(providers.GoogleConfig{
			APIKey:       cfg.APIKey,
			DefaultModel: cfg.Model,
		})
	case "bedrock":
		return providers.NewBedrockProvider(providers.BedrockConfig{
			Region:       cfg.Region,
			DefaultModel: cfg.Model,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
