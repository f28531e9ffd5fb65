package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"radar-engine/internal/config"
	"radar-engine/internal/events"
	"radar-engine/internal/httpapi"
	"radar-engine/internal/store"
)

var (
	serveAddr   string
	serveScan   bool
	serveListen bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API, optionally with the scanner and listeners",
	Long: `Serve the candidate API, signed approval links and the SSE event stream.

Approve/edit/skip endpoints are enabled only when forum credentials are
configured; /scan endpoints only with --scan.

Examples:
  radar serve                        # API on 127.0.0.1:<app.port>
  radar serve --scan --listen        # one process for everything
  radar serve --addr 0.0.0.0:8080    # expose signed links publicly`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Require(cfg, config.PurposeServe); err != nil {
			return err
		}
		if serveScan {
			if err := config.Require(cfg, config.PurposeScan); err != nil {
				return fmt.Errorf("--scan: %w", err)
			}
		}
		if serveListen {
			if err := config.Require(cfg, config.PurposeListen); err != nil {
				return fmt.Errorf("--listen: %w", err)
			}
		}
		ctx, stop := signalContext()
		defer stop()

		hub := events.NewHub()
		e, err := newEngine(ctx, hub)
		if err != nil {
			return err
		}
		defer e.Close()

		deps := httpapi.Deps{
			Store:       e.db,
			Hub:         hub,
			Config:      cfg,
			UserCfgPath: cfgPath,
			Ping:        e.db.Ping,
			Background:  ctx,
			Log:         logger,
		}
		if e.db.Dialect == store.DialectSQLite {
			deps.Checkpoint = e.db.Checkpoint
		}

		var runs []func(context.Context) error
		if err := config.Require(cfg, config.PurposePost); err == nil {
			m := e.machine()
			deps.Actions = m
			if e.signer != nil {
				deps.Tokens = e.signer
			}
			if serveListen {
				runs = append(runs, e.listeners(m)...)
			}
		} else {
			logger.Warn("approval endpoints disabled", zap.Error(err))
		}
		if serveScan {
			p := e.pipeline()
			deps.Scanner = p
			runs = append(runs, func(ctx context.Context) error { return p.Start(ctx, cfg.Scan.Schedule) })
		}

		addr := serveAddr
		if addr == "" {
			addr = net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.App.Port))
		}
		srv := &http.Server{
			Addr:              addr,
			Handler:           httpapi.Handler(deps),
			ReadHeaderTimeout: 10 * time.Second,
		}
		runs = append(runs, func(ctx context.Context) error {
			errc := make(chan error, 1)
			go func() { errc <- srv.ListenAndServe() }()
			logger.Info("http listening", zap.String("addr", addr))
			select {
			case err := <-errc:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		fmt.Printf("Serving on http://%s. Ctrl-C to stop.\n", addr)
		return runAll(ctx, runs...)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default 127.0.0.1:<app.port>)")
	serveCmd.Flags().BoolVar(&serveScan, "scan", false, "also scan on scan.schedule")
	serveCmd.Flags().BoolVar(&serveListen, "listen", false, "also run the Telegram/IMAP approval listeners")
	rootCmd.AddCommand(serveCmd)
}
