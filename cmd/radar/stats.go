package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"radar-engine/internal/domain"
	"radar-engine/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show candidate counts by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		counts, err := db.Stats(ctx)
		if err != nil {
			return err
		}
		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Printf("\n%s\n\n", cyan("Candidates"))
		total := 0
		for _, st := range domain.Statuses {
			n := counts[st]
			total += n
			fmt.Printf("  %-18s %s\n", st, statusColor(st).Sprint(n))
		}
		fmt.Printf("  %-18s %d\n\n", "TOTAL", total)
		return nil
	},
}

var (
	listStatus string
	listLimit  int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List candidates, newest first",
	Long: `List candidates, newest first.

Examples:
  radar list                              # last 20 candidates
  radar list --status PENDING_APPROVAL    # what is waiting on you
  radar list --status posted,failed -n 50`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := store.Filter{Limit: listLimit}
		for _, s := range strings.Split(listStatus, ",") {
			if strings.TrimSpace(s) == "" {
				continue
			}
			st, ok := domain.ParseStatus(s)
			if !ok {
				return fmt.Errorf("unknown status %q", s)
			}
			f.Statuses = append(f.Statuses, st)
		}

		ctx := context.Background()
		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		cs, err := db.List(ctx, f)
		if err != nil {
			return err
		}
		if len(cs) == 0 {
			fmt.Println("No candidates.")
			return nil
		}
		for _, c := range cs {
			fmt.Printf("%s  %-12s %-16s r/%s  %s\n",
				statusColor(c.Status).Sprintf("%-16s", c.Status),
				c.Intent, c.Fingerprint, c.Post.Subreddit, oneLine(c.Post.Title, 60))
		}
		return nil
	},
}

func statusColor(st domain.Status) *color.Color {
	switch st {
	case domain.StatusPosted:
		return color.New(color.FgGreen)
	case domain.StatusPendingApproval, domain.StatusApproved, domain.StatusEdited:
		return color.New(color.FgYellow)
	case domain.StatusFailed:
		return color.New(color.FgRed, color.Bold)
	case domain.StatusSkipped:
		return color.New(color.Faint)
	}
	return color.New(color.Reset)
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "comma-separated statuses")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "max rows")
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(listCmd)
}
