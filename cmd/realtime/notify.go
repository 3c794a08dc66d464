package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/orchestra-mcp/realtime/src/bridge"
	"github.com/spf13/cobra"
)

var notifyCmd = &cobra.Command{
	Use:   "notify <account-id> <json>",
	Short: "Publish a realtime event to an account through Redis",
	Long: `Notify publishes a JSON payload on the Redis notify channel. Every gateway
instance connected to the same Redis delivers it to the account's
/ws/realtime/ connections.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.RedisEnabled {
			return errors.New("notify needs REDIS_ENABLED=true")
		}
		if !json.Valid([]byte(args[1])) {
			return fmt.Errorf("payload is not valid JSON: %s", args[1])
		}

		rb := bridge.NewRedisBridge(bridge.RedisConfigFrom(cfg), nil, newLogger(cfg))
		defer rb.Stop()
		if err := rb.Notify(cmd.Context(), args[0], json.RawMessage(args[1])); err != nil {
			return fmt.Errorf("notify %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "published to %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(notifyCmd)
}
