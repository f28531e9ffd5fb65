package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"radar-engine/internal/config"
	"radar-engine/internal/pipeline"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one scan cycle",
	Long: `Fetch every configured keyword/subreddit target, classify new posts,
draft replies for the top candidates and send approval notifications.

A cycle already running elsewhere (same data dir) makes this a no-op.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Require(cfg, config.PurposeScan); err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		e, err := newEngine(ctx, nil)
		if err != nil {
			return err
		}
		defer e.Close()

		rep, err := e.pipeline().RunCycle(ctx)
		if errors.Is(err, pipeline.ErrLocked) {
			fmt.Println(color.YellowString("Another scan is running; nothing to do."))
			return nil
		}
		printReport(rep)
		return err
	},
}

var runNow bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scan on the configured cron schedule",
	Long: `Run scan cycles on scan.schedule until interrupted.

Examples:
  radar run          # wait for the first tick
  radar run --now    # scan once immediately, then follow the schedule`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Require(cfg, config.PurposeScan); err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		e, err := newEngine(ctx, nil)
		if err != nil {
			return err
		}
		defer e.Close()

		p := e.pipeline()
		if runNow {
			if rep, err := p.RunCycle(ctx); err == nil {
				printReport(rep)
			} else if !errors.Is(err, pipeline.ErrLocked) {
				fmt.Println(color.RedString("initial scan failed: %v", err))
			}
		}
		fmt.Printf("Scanning on %q. Ctrl-C to stop.\n", cfg.Scan.Schedule)
		return p.Start(ctx, cfg.Scan.Schedule)
	},
}

func printReport(rep pipeline.CycleReport) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Printf("\n%s %s (%s)\n", cyan("Scan"), rep.ID, rep.Duration.Round(time.Millisecond))
	fmt.Printf("  fetched %d, filtered %d, duplicates %d, fetch errors %d\n",
		rep.Fetched, rep.Filtered, rep.Duplicates, rep.FetchErrors)
	fmt.Printf("  created %d, resumed %d, classified %d, noise %d\n",
		rep.Created, rep.Resumed, rep.Classified, rep.Noise)
	fmt.Printf("  %s notified, %s awaiting approval\n",
		green(rep.Notified), green(rep.PendingApproval))
	if rep.Deferred > 0 {
		fmt.Printf("  %s deferred to the next cycle\n", yellow(rep.Deferred))
	}
	if rep.RateLimited {
		fmt.Printf("  %s until %s\n", yellow("rate limited"), rep.ResumeAfter.Format("15:04:05"))
	}
	for status, n := range rep.Delivery.Counts() {
		fmt.Printf("  deliveries %s: %d\n", status, n)
	}
}

func init() {
	runCmd.Flags().BoolVar(&runNow, "now", false, "run one cycle immediately")
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(runCmd)
}
