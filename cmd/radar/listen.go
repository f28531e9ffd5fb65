package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"radar-engine/internal/config"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Handle approvals from Telegram buttons and email replies",
	Long: `Long-poll the Telegram bot for button presses and edit replies, and poll the
IMAP mailbox for APPROVE/EDIT/SKIP replies, until interrupted. Approved
drafts are posted immediately.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Require(cfg, config.PurposeListen); err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		e, err := newEngine(ctx, nil)
		if err != nil {
			return err
		}
		defer e.Close()

		runs := e.listeners(e.machine())
		if len(runs) == 0 {
			return errors.New("no approval source configured (telegram bot or imap with approval.token_secret)")
		}
		fmt.Printf("Listening on %d approval source(s). Ctrl-C to stop.\n", len(runs))
		return runAll(ctx, runs...)
	},
}

// runAll runs fns until ctx is done or one fails; cancellation is not an error.
func runAll(ctx context.Context, fns ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, fn := range fns {
		fn := fn
		g.Go(func() error { return fn(gctx) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func init() {
	rootCmd.AddCommand(listenCmd)
}
