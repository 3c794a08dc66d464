// Command realtime runs the realtime messaging gateway and its operator
// tooling.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/orchestra-mcp/realtime/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	envFile string
	pretty  bool
)

var rootCmd = &cobra.Command{
	Use:   "realtime",
	Short: "Realtime messaging gateway",
	Long: `Realtime authenticates WebSocket connections with signed tokens and relays
events between the connections of a chat room or of one account.

Configuration is read from the environment, after loading an optional .env file.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before reading configuration")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", false, "Human readable log output")
}

// loadConfig loads the env file, if any, then the configuration.
func loadConfig() (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return config.Load()
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var logger zerolog.Logger
	if pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(cfg.Level()).With().Timestamp().Str("service", "realtime").Logger()
}
