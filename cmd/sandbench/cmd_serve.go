package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/sandbench/internal/httpapi"
	"github.com/user/sandbench/internal/identity"
	"github.com/user/sandbench/internal/orchestrator"
	"github.com/user/sandbench/internal/pricing"
	"github.com/user/sandbench/internal/reaper"
	"github.com/user/sandbench/internal/sandbox"
	"github.com/user/sandbench/internal/state"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sandbench daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "sandbench.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Write PID file
	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	// Stores
	sessions := state.NewSessionStore(cfg.DataDir)
	events := state.NewEventStore(cfg.DataDir)
	users := state.NewUserStore(filepath.Join(cfg.DataDir, "users.json"))

	// Sandbox provider
	provider := sandbox.NewClient(&sandbox.Config{
		BaseURL: cfg.Provider.BaseURL,
		APIKey:  cfg.Provider.APIKey,
		Timeout: time.Duration(cfg.Provider.TimeoutSeconds) * time.Second,
	})

	// Pricing table
	table := pricing.NewTable(cfg.Pricing.Models, cfg.Pricing.DefaultModel)

	// Orchestrator
	orch := orchestrator.New(sessions, events, provider, table)

	// Identity
	auth := identity.NewService(identity.NewStaticResolver(cfg.Auth.Tokens), users)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("sandbench started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"provider_base_url", cfg.Provider.BaseURL,
		"default_model", cfg.Pricing.DefaultModel,
		"pid_file", pidPath,
	)

	// Sandbox reaper
	maxConcurrent := int64(cfg.Reaper.MaxConcurrent)
	rp := reaper.New(cfg.Reaper.Schedule, func() {
		if err := orch.SweepSandboxes(ctx, maxConcurrent); err != nil {
			slog.Error("sandbox sweep failed", "error", err)
		}
	})
	if err := rp.Start(); err != nil {
		return fmt.Errorf("start reaper: %w", err)
	}
	defer rp.Stop()
	slog.Info("reaper started", "schedule", cfg.Reaper.Schedule)

	// API HTTP server
	if cfg.HTTP.Enabled {
		apiSrv := httpapi.NewServer(auth, orch)
		httpServer := &http.Server{
			Addr:    cfg.HTTP.Listen,
			Handler: apiSrv,
		}
		go func() {
			slog.Info("api server started", "listen", cfg.HTTP.Listen)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("api server error", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			httpServer.Close()
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			// Clean up PID file before re-exec
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				// Re-write PID file since we failed to re-exec
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		// SIGINT or SIGTERM
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}
