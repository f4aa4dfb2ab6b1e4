package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/strefethen/agrisound-hub-go/internal/server"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, scheduling engine and sync jobs",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var seedCmd = &cobra.Command{
	Use:   "seed <file>",
	Short: "Load sounds and schedules from a YAML manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		app, err := server.New(cmd.Context(), cfg, server.Options{OneShot: true}, logger)
		if err != nil {
			return err
		}
		defer shutdown(app)

		report, err := app.ApplySeed(cmd.Context(), args[0])
		for _, warning := range report.Warnings {
			logger.Warn().Msg(warning)
		}
		return err
	},
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one scheduling evaluation and print the report as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		app, err := server.New(cmd.Context(), cfg, server.Options{OneShot: true}, logger)
		if err != nil {
			return err
		}
		defer shutdown(app)

		if _, err := app.Reconciler().Run(cmd.Context()); err != nil {
			logger.Warn().Err(err).Msg("reconcile incomplete, ticking against local cache")
		}
		report := app.Engine().Tick(cmd.Context())

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	},
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	addr := cfg.Host + ":" + cfg.Port

	handler, shutdownHandler, err := server.NewHandler(cmd.Context(), cfg, server.Options{}, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sig := <-shutdownCh
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("http shutdown error")
		}
		if err := shutdownHandler(ctx); err != nil {
			logger.Error().Err(err).Msg("shutdown error")
		}
	}()

	logger.Info().Str("addr", addr).Msg("agrisound-hub listening")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(err, shutdownHandler(ctx))
	}
	<-done
	return nil
}

func shutdown(app *server.App) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = app.Shutdown(ctx)
}
