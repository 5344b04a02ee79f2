package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/sandbench/internal/config"
	"github.com/user/sandbench/internal/orchestrator"
	"github.com/user/sandbench/internal/pricing"
	"github.com/user/sandbench/internal/sandbox"
	"github.com/user/sandbench/internal/state"
	"github.com/user/sandbench/internal/types"
)

func init() {
	rootCmd.AddCommand(sandboxCmd)
	sandboxCmd.AddCommand(sandboxConnectCmd, sandboxReloadCmd, sandboxSweepCmd)
}

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Manage session sandboxes",
}

// buildOrchestrator wires stores and the provider client the same way the
// daemon does, for commands that act on sandboxes directly.
func buildOrchestrator(cfg *config.Config) (*orchestrator.Orchestrator, *state.SessionStore) {
	sessions := state.NewSessionStore(cfg.DataDir)
	events := state.NewEventStore(cfg.DataDir)
	provider := sandbox.NewClient(&sandbox.Config{
		BaseURL: cfg.Provider.BaseURL,
		APIKey:  cfg.Provider.APIKey,
		Timeout: time.Duration(cfg.Provider.TimeoutSeconds) * time.Second,
	})
	table := pricing.NewTable(cfg.Pricing.Models, cfg.Pricing.DefaultModel)
	return orchestrator.New(sessions, events, provider, table), sessions
}

var sandboxConnectCmd = &cobra.Command{
	Use:   "connect <session-id>",
	Short: "Connect a session's sandbox, provisioning one if needed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		orch, sessions := buildOrchestrator(cfg)

		ctx := context.Background()
		sess, err := sessions.Get(ctx, types.SessionID(args[0]))
		if err != nil {
			return fmt.Errorf("session not found: %s", args[0])
		}

		handle, err := orch.EnsureSandbox(ctx, sess.OwnerID, sess.ID)
		if err != nil {
			return fmt.Errorf("connect sandbox: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Sandbox %s is %s.\n", handle.SandboxID, handle.State)
		return nil
	},
}

var sandboxReloadCmd = &cobra.Command{
	Use:   "reload <session-id>",
	Short: "Signal the agent in a session's sandbox to reload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		orch, sessions := buildOrchestrator(cfg)

		ctx := context.Background()
		sess, err := sessions.Get(ctx, types.SessionID(args[0]))
		if err != nil {
			return fmt.Errorf("session not found: %s", args[0])
		}

		result, err := orch.TriggerReload(ctx, sess.OwnerID, sess.ID)
		if err != nil {
			return fmt.Errorf("trigger reload: %w", err)
		}
		if result.OK {
			fmt.Println("Reload signal delivered.")
			return nil
		}
		fmt.Fprintf(os.Stdout, "Reload not delivered: %s\n", result.Reason)
		return nil
	},
}

var sandboxSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Probe all bound sandboxes now and retire dead ones",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		orch, _ := buildOrchestrator(cfg)

		if err := orch.SweepSandboxes(context.Background(), int64(cfg.Reaper.MaxConcurrent)); err != nil {
			return fmt.Errorf("sweep sandboxes: %w", err)
		}
		fmt.Println("Sweep complete.")
		return nil
	},
}
