package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/user/sandbench/internal/state"
	"github.com/user/sandbench/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionEventsCmd, sessionClearCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessions := state.NewSessionStore(cfg.DataDir)
		events := state.NewEventStore(cfg.DataDir)

		ctx := context.Background()
		list, err := sessions.List(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}

		if len(list) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSANDBOX\tEVENTS\tSPEND\tCREATED")
		for _, s := range list {
			count, err := events.Count(ctx, s.ID)
			if err != nil {
				count = 0
			}
			spend, _ := sessionSpend(ctx, events, s.ID)
			sandboxID := string(s.SandboxID)
			if sandboxID == "" {
				sandboxID = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t$%.4f\t%s\n",
				s.ID,
				sandboxID,
				count,
				spend,
				s.CreatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

// sessionSpend sums the priced cost of every model usage event in a session.
func sessionSpend(ctx context.Context, events *state.EventStore, id types.SessionID) (float64, error) {
	list, err := events.List(ctx, id)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, e := range list {
		if e.Kind != types.EventModelUsage {
			continue
		}
		var payload types.ModelUsagePayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			continue
		}
		total += payload.Cost
	}
	return total, nil
}

var sessionEventsCmd = &cobra.Command{
	Use:   "events <id>",
	Short: "Show the event log for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		events := state.NewEventStore(cfg.DataDir)

		ctx := context.Background()
		list, err := events.List(ctx, types.SessionID(args[0]))
		if err != nil {
			return fmt.Errorf("list events: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No events found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tKIND\tAT\tPAYLOAD")
		for _, e := range list {
			payload := strings.TrimSpace(string(e.Payload))
			if payload == "" || payload == "null" {
				payload = "-"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
				e.Seq,
				e.Kind,
				e.At.Format("2006-01-02 15:04:05"),
				payload,
			)
		}
		return w.Flush()
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear <id|all>",
	Short: "Clear a session or all sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()

		if args[0] == "all" {
			sessionsDir := filepath.Join(cfg.DataDir, "sessions")
			if err := os.RemoveAll(sessionsDir); err != nil {
				return fmt.Errorf("remove sessions directory: %w", err)
			}
			fmt.Println("All sessions cleared.")
			return nil
		}

		sessions := state.NewSessionStore(cfg.DataDir)
		if err := sessions.Delete(context.Background(), types.SessionID(args[0])); err != nil {
			if errors.Is(err, types.ErrNotFound) {
				return fmt.Errorf("session not found: %s", args[0])
			}
			return fmt.Errorf("delete session: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Session %s cleared.\n", args[0])
		return nil
	},
}
