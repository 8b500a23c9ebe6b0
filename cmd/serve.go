package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/compresr/session-gateway/internal/auth"
	"github.com/compresr/session-gateway/internal/config"
	"github.com/compresr/session-gateway/internal/gateway"
	"github.com/compresr/session-gateway/internal/models"
	"github.com/compresr/session-gateway/internal/monitoring"
	"github.com/compresr/session-gateway/internal/pipes"
	"github.com/compresr/session-gateway/internal/pipes/artifacts"
	"github.com/compresr/session-gateway/internal/pipes/search"
	"github.com/compresr/session-gateway/internal/pool"
	"github.com/compresr/session-gateway/internal/quota"
	"github.com/compresr/session-gateway/internal/upstream"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway HTTP server",
	Long: `Run the gateway HTTP server until SIGINT or SIGTERM.

Examples:
  session-gateway serve
  session-gateway serve --config ./configs/prod.yaml --port 8080`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&portFlag, "port", "p", 0, "Override server.port")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, source, err := loadConfig()
	if err != nil {
		return err
	}
	if portFlag > 0 {
		cfg.Server.Port = portFlag
	}

	level := cfg.Monitoring.LogLevel
	if debugFlag {
		level = "debug"
	}
	logCloser, err := setupLogging(level, cfg.Monitoring.LogFormat, cfg.Monitoring.LogOutput)
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()
	log.Info().Str("config", source).Str("version", Version).Msg("starting session gateway")

	gw, err := buildGateway(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var serveErr error
	select {
	case serveErr = <-errCh:
		if serveErr != nil {
			log.Error().Err(serveErr).Msg("server stopped")
		}
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DefaultShutdownTimeout)
	defer cancel()
	if err := gw.Shutdown(ctx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("shutdown: %w", err)
	}
	return serveErr
}

// buildGateway wires every collaborator from config.
func buildGateway(ctx context.Context, cfg *config.Config) (*gateway.Gateway, error) {
	creds, hist, err := openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	art, err := artifacts.New(cfg.Pipes.Artifacts)
	if err != nil {
		_ = creds.Close()
		_ = hist.Close()
		return nil, err
	}

	tracker, err := monitoring.NewTracker(monitoring.TelemetryConfig{
		Enabled:     cfg.Monitoring.TelemetryEnabled,
		LogPath:     cfg.Monitoring.TelemetryPath,
		LogToStdout: cfg.Monitoring.LogToStdout,
	})
	if err != nil {
		log.Warn().Err(err).Msg("telemetry disabled")
		tracker = nil
	}

	return gateway.New(gateway.Deps{
		Config:  cfg,
		Ledger:  quota.NewLedger(creds),
		Pool:    pool.New(upstream.Bootstrap(cfg.Upstream)),
		Catalog: models.NewCatalog(cfg.Models.Basic, cfg.Models.Plus),
		Chain:   pipes.NewChain(search.New(cfg.Pipes.Search), art),
		History: hist,
		Tracker: tracker,
		Admin:   auth.NewAdmin(cfg.Admin.JWTSecret),
		Version: Version,
	}), nil
}
