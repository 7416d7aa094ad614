package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexhearth/mimirgo/internal/config"
	"github.com/nexhearth/mimirgo/internal/controller"
)

func buildDoctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and controller connectivity",
		Long: `Load the configuration file, validate it, and attempt to reach the
configured controller. Useful before running serve for the first time or
after changing agent.json5.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd.Context(), cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "agent.json5", "Path to JSON5 configuration file")
	return cmd
}

func runDoctor(ctx context.Context, cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	fmt.Fprintf(out, "config: OK (%s)\n", configPath)
	fmt.Fprintf(out, "llm provider: %s (model %s)\n", cfg.LLM.Provider, cfg.LLM.Model)

	client, err := controller.NewClient(controller.Config{
		BaseURL: cfg.Controller.BaseURL,
		Token:   cfg.Controller.Token,
		Timeout: cfg.Controller.Timeout,
	})
	if err != nil {
		return fmt.Errorf("controller client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if client.Ping(pingCtx) {
		fmt.Fprintf(out, "controller: reachable at %s\n", cfg.Controller.BaseURL)
	} else {
		fmt.Fprintf(out, "controller: NOT reachable at %s\n", cfg.Controller.BaseURL)
	}

	fmt.Fprintf(out, "audit database: %s\n", cfg.Audit.DatabasePath)
	fmt.Fprintf(out, "telegram enabled: %v\n", cfg.Telegram.Enabled)
	return nil
}
