package main

import (
	"fmt"
	"time"

	"github.com/orchestra-mcp/realtime/src/auth"
	"github.com/spf13/cobra"
)

var tokenTTL time.Duration

var mintTokenCmd = &cobra.Command{
	Use:   "mint-token <user-id>",
	Short: "Print a signed connection token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		tok, err := auth.NewIssuer([]byte(cfg.JWTSecret)).Issue(args[0], tokenTTL)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mintTokenCmd)
	mintTokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")
}
