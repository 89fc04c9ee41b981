// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command adpulse runs the creative-performance bandit engine.
//
// Usage:
//
//	adpulse serve --port 8080 --data-dir ~/.adpulse/data
//	adpulse serve --config config.yaml --debug
//	adpulse train --data-dir ~/.adpulse/data
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/bandit/health
//
//	# Register a creative under its pattern
//	curl -X POST http://localhost:8080/v1/bandit/creatives \
//	  -H "Content-Type: application/json" \
//	  -d '{"creative_id": "cr_001", "pattern_id": "hook_fast_cut"}'
//
//	# Report cumulative metrics
//	curl -X POST http://localhost:8080/v1/bandit/metrics \
//	  -H "Content-Type: application/json" \
//	  -d '{"creative_id": "cr_001", "impressions": 1200, "clicks": 40, "conversions": 6}'
//
//	# Thompson Sampling selection
//	curl -X POST http://localhost:8080/v1/bandit/patterns/select \
//	  -H "Content-Type: application/json" \
//	  -d '{"candidates": ["hook_fast_cut", "hook_meme"], "k": 1}'
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AdPulse/pkg/logging"
	"github.com/AleutianAI/AdPulse/services/bandit"
	"github.com/AleutianAI/AdPulse/services/bandit/storage/badgerdb"
	"github.com/AleutianAI/AdPulse/services/bandit/telemetry"
	"github.com/AleutianAI/AdPulse/services/bandit/trainer"
)

var (
	flagConfig   string
	flagDataDir  string
	flagInMemory bool
	flagPort     int
	flagDebug    bool
	flagLogDir   string

	rootCmd = &cobra.Command{
		Use:   "adpulse",
		Short: "Creative-performance bandit engine",
		Long: "AdPulse decides which advertising creative patterns deserve more budget,\n" +
			"based on online Bayesian learning over impression/click/conversion telemetry\n" +
			"and early post-launch signals.",
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}

	trainCmd = &cobra.Command{
		Use:   "train",
		Short: "Run one training pass and print the summary",
		RunE:  runTrain,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to yaml config (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "~/.adpulse/data", "BadgerDB data directory")
	rootCmd.PersistentFlags().BoolVar(&flagInMemory, "in-memory", false, "Run against an in-memory store (data is lost on exit)")
	rootCmd.PersistentFlags().StringVar(&flagLogDir, "log-dir", "", "Write JSON logs to this directory as well")

	serveCmd.Flags().IntVar(&flagPort, "port", 8080, "Port to listen on")
	serveCmd.Flags().BoolVar(&flagDebug, "debug", false, "Enable debug logging and gin debug mode")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(trainCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (bandit.Config, error) {
	if flagConfig == "" {
		return bandit.DefaultConfig(), nil
	}
	return bandit.LoadConfig(flagConfig)
}

func openDB(logger *logging.Logger) (*badgerdb.DB, error) {
	if flagInMemory {
		return badgerdb.OpenInMemory()
	}
	cfg := badgerdb.DefaultConfig()
	cfg.Path = expandPath(flagDataDir)
	cfg.Logger = logger.Slog()
	return badgerdb.Open(cfg)
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

func runServe(cmd *cobra.Command, args []string) error {
	level := logging.LevelInfo
	if flagDebug {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{Level: level, Service: "adpulse", LogDir: flagLogDir})
	defer logger.Close()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	shutdownTelemetry, err := telemetry.Init(cmd.Context(), telemetry.DefaultConfig())
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	db, err := openDB(logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	svc, err := bandit.NewService(db, cfg, logger)
	if err != nil {
		return err
	}

	// The service itself is the training pass, so scheduled runs follow
	// reconfiguration.
	var runner *trainer.Runner
	if cfg.Trainer.Interval > 0 {
		runner, err = trainer.NewRunner(svc, cfg.Trainer.Interval, cfg.Trainer.Timeout, logger.Slog())
		if err != nil {
			return err
		}
		runner.Start()
		defer runner.Stop()
	}

	if flagConfig != "" {
		watcher, err := newConfigWatcher(flagConfig, svc, logger)
		if err != nil {
			logger.Warn("config watch disabled", "path", flagConfig, "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	if flagDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("adpulse"))
	if flagDebug {
		router.Use(gin.Logger())
	}

	bandit.RegisterRoutes(router.Group("/v1"), bandit.NewHandlers(svc, logger))
	if mh := telemetry.MetricsHandler(); mh != nil {
		router.GET("/metrics", gin.WrapH(mh))
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", flagPort),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting adpulse server", "addr", srv.Addr, "objective", cfg.Objective)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func runTrain(cmd *cobra.Command, args []string) error {
	logger := logging.New(logging.Config{Level: logging.LevelInfo, Service: "adpulse", LogDir: flagLogDir})
	defer logger.Close()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openDB(logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	svc, err := bandit.NewService(db, cfg, logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if cfg.Trainer.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Trainer.Timeout)
		defer cancel()
	}

	summary, err := svc.Train(ctx)
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
