package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/orchestra-mcp/realtime/providers"
	"github.com/orchestra-mcp/realtime/src/identity"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	Long: `Serve accepts WebSocket connections on /ws/chat/<room>/ and /ws/realtime/ until
interrupted. Accounts are resolved from the Badger database at BADGER_PATH.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		db, err := identity.OpenBadger(cfg.BadgerPath)
		if err != nil {
			return err
		}
		defer db.Close()
		if cfg.BadgerPath == "" {
			logger.Warn().Msg("BADGER_PATH not set, using an empty in-memory account store")
		}

		srv := providers.NewServer(cfg, identity.NewBadgerStore(db, logger), logger)
		if err := srv.Activate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := srv.ListenAndServe(ctx); err != nil {
			return err
		}
		logger.Info().Msg("gateway stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
