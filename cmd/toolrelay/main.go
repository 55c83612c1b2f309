// Command toolrelay lists, calls and inspects tools across the backend
// servers named in a relay configuration file.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonwraymond/toolrelay/config"
	"github.com/spf13/cobra"
)

var (
	configPath string
	envFile    string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "toolrelay",
	Short: "toolrelay - resilient tool-call gateway",
	Long: `toolrelay routes tool calls across stdio and bus-delivered tool servers,
supervising each connection with reconnects, a circuit breaker and per-call timeouts.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadEnv(envFile); err != nil {
			return err
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if logLevel != "" {
			loaded.LogLevel = logLevel
		}
		level, err := loaded.SlogLevel()
		if err != nil {
			return err
		}

		cfg = loaded
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "toolrelay.yaml", "Relay configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log_level from the config")

	rootCmd.AddCommand(toolsCmd, callCmd, healthCmd, searchCmd, describeCmd)
}

// loadEnv loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
