package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/strefethen/agrisound-hub-go/internal/config"
	"github.com/strefethen/agrisound-hub-go/internal/system"
)

var rootCmd = &cobra.Command{
	Use:     "agrisound-hub",
	Short:   "Scheduled audio repeller controller",
	Long:    `Runs the schedule engine, playback executor and HTTP API for a field audio repeller unit.`,
	Version: system.Version,
	// Serving is the default action.
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd, seedCmd, tickCmd)
}

// loadConfig reads the environment and builds the process logger.
func loadConfig() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, zerolog.Nop(), fmt.Errorf("config error: %w", err)
	}
	return cfg, newLogger(cfg), nil
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if strings.EqualFold(cfg.LogFormat, "json") {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
	return logger.Level(level).With().Timestamp().Str("service", "agrisound-hub").Logger()
}
