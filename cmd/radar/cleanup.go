package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"radar-engine/internal/store"
)

var (
	cleanupOlderThan  time.Duration
	cleanupCheckpoint bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old terminal candidates",
	Long: `Delete POSTED, SKIPPED and FAILED candidates (with their history and
delivery records) last updated before the cutoff. Candidates still in
flight are never removed.

Examples:
  radar cleanup                     # older than 30 days
  radar cleanup --older-than 168h   # older than a week
  radar cleanup --checkpoint        # also fold the sqlite WAL afterwards`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cleanupOlderThan <= 0 {
			return fmt.Errorf("--older-than must be positive")
		}
		ctx := context.Background()
		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.Cleanup(ctx, cleanupOlderThan)
		if err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("Deleted %s candidate(s) older than %s\n", green(n), cleanupOlderThan)

		if cleanupCheckpoint && db.Dialect == store.DialectSQLite {
			if err := db.Checkpoint(ctx); err != nil {
				return fmt.Errorf("checkpoint: %w", err)
			}
			fmt.Println("WAL checkpointed")
		}
		return nil
	},
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 720*time.Hour, "age cutoff")
	cleanupCmd.Flags().BoolVar(&cleanupCheckpoint, "checkpoint", false, "run a sqlite WAL checkpoint afterwards")
	rootCmd.AddCommand(cleanupCmd)
}
