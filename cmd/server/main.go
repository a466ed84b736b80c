// Package main is the entry point for the netio-mcp server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/jamesprial/netio-mcp/internal/auth"
	"github.com/jamesprial/netio-mcp/internal/config"
	"github.com/jamesprial/netio-mcp/internal/health"
	"github.com/jamesprial/netio-mcp/internal/logging"
	"github.com/jamesprial/netio-mcp/internal/metrics"
	"github.com/jamesprial/netio-mcp/internal/mqtt"
	"github.com/jamesprial/netio-mcp/internal/netio"
	"github.com/jamesprial/netio-mcp/internal/outlets"
	"github.com/jamesprial/netio-mcp/internal/poller"
	"github.com/jamesprial/netio-mcp/internal/safety"
	"github.com/jamesprial/netio-mcp/internal/tools"
)

const (
	defaultConfigPath = "/config/config.yaml"
	version           = "1.0.0"
)

func main() {
	cfg, loadErr := loadConfig()
	config.ApplyEnvOverrides(cfg)

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format).With().Str("service", "netio-mcp").Logger()
	if loadErr != nil {
		logger.Warn().Err(loadErr).Msg("Could not load config file, using defaults")
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}
	logger.Debug().Interface("config", cfg.Redacted()).Msg("Effective configuration")

	tokenBefore := cfg.Server.AuthToken
	token, err := config.EnsureAuthToken(cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("Could not generate auth token, running without authentication")
	} else if tokenBefore == "" {
		logger.Warn().Str("token", token).Msg("Generated auth token (set NETIO_MCP_AUTH_TOKEN to persist)")
	}

	// Open audit log writer if enabled.
	var auditLogger *safety.AuditLogger
	if cfg.Audit.Enabled {
		f, err := os.OpenFile(cfg.Audit.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			logger.Warn().Err(err).Str("path", cfg.Audit.LogPath).Msg("Could not open audit log, audit logging disabled")
		} else {
			auditLogger = safety.NewAuditLogger(f)
			defer f.Close()
		}
	}

	filter := safety.NewFilter(cfg.Safety.Outlets.Allowlist, cfg.Safety.Outlets.Denylist)
	confirm := safety.NewConfirmationTracker(safety.DefaultTokenTTL)

	client, err := netio.NewHTTPClient(cfg.Device)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create PDU client")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	probe(ctx, client, cfg.Device.Timeout, logger)

	var reg *metrics.Registry
	var commandObserver func(netio.OutletAction, error)
	pollerOpts := []poller.Option{poller.WithLogger(logger)}
	if cfg.Metrics.Enabled {
		reg = metrics.NewRegistry()
		commandObserver = reg.ObserveCommand
		pollerOpts = append(pollerOpts, poller.WithObserver(reg))
	}
	p := poller.New(client, cfg.Polling.Interval, pollerOpts...)

	var bridge *mqtt.Bridge
	if cfg.MQTT.Enabled {
		bridge = mqtt.New(cfg.MQTT, client,
			mqtt.WithLogger(logger),
			mqtt.WithFilter(filter),
			mqtt.WithCommandObserver(commandObserver),
			mqtt.WithRefresh(p.Refresh),
		)
		if err := bridge.Connect(ctx); err != nil {
			logger.Warn().Err(err).Msg("MQTT broker not reachable yet, retrying in background")
		}
		defer bridge.Close()
	}

	updates := []poller.UpdateFunc{logUpdate(logger)}
	if reg != nil {
		updates = append(updates, reg.ObserveSnapshot)
	}
	if bridge != nil {
		updates = append(updates, bridge.OnSnapshot)
	}
	if err := p.Start(ctx, poller.Fanout(updates...), nil); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start poller")
	}
	defer p.Stop()

	// Build MCP server.
	mcpServer := server.NewMCPServer(
		"netio-mcp",
		version,
		server.WithToolCapabilities(false),
	)

	registrations := outlets.OutletTools(client, p, filter, confirm, auditLogger, commandObserver)
	names := tools.RegisterAll(mcpServer, registrations)
	logger.Info().Strs("tools", names).Msg("Registered MCP tools")

	// Build Streamable HTTP server and wrap with auth middleware.
	mcpHandler := server.NewStreamableHTTPServer(mcpServer)
	authMiddleware := auth.NewAuthMiddleware(cfg.Server.AuthToken, logger)

	checker := health.NewChecker(p, 3*cfg.Polling.Interval+cfg.Device.Timeout, logger)
	if bridge != nil {
		checker.AddComponent("mqtt", bridge)
	}

	mux := http.NewServeMux()
	mux.Handle("/mcp", authMiddleware(mcpHandler))
	checker.Register(mux)
	if reg != nil {
		mux.Handle("/metrics", reg.Handler())
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", addr).
			Str("device", client.URL()).
			Dur("interval", p.Interval()).
			Msg("netio-mcp listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown error")
	}
	logger.Info().Msg("Server stopped")
}

// loadConfig attempts to read the config file from the path specified by
// NETIO_MCP_CONFIG_PATH or the default /config/config.yaml. If the file
// cannot be read, DefaultConfig is returned along with the load error.
func loadConfig() (*config.Config, error) {
	path := os.Getenv("NETIO_MCP_CONFIG_PATH")
	if path == "" {
		path = defaultConfigPath
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return config.DefaultConfig(), fmt.Errorf("load %q: %w", path, err)
	}
	return cfg, nil
}

// probe performs one read at startup so a wrong address or credentials show up
// in the log immediately. Failure is not fatal; the poller keeps trying.
func probe(ctx context.Context, client *netio.HTTPClient, timeout time.Duration, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 2*timeout)
	defer cancel()

	info, err := client.FetchAgentInfo(ctx)
	if err != nil {
		logger.Warn().Err(err).Str("device", client.URL()).Msg("PDU not reachable at startup")
		return
	}
	logger.Info().
		Str("model", info.Model).
		Str("name", info.DeviceName).
		Str("firmware", info.Version).
		Str("json_version", info.JSONVer).
		Int("outlets", client.OutletCount()).
		Msg("Connected to PDU")
}

func logUpdate(logger zerolog.Logger) poller.UpdateFunc {
	return func(s *netio.Snapshot) {
		on := 0
		for _, o := range s.Outputs {
			if o.IsOn() {
				on++
			}
		}
		logger.Debug().
			Float64("voltage", s.GlobalMeasure.Voltage).
			Int64("load_w", s.GlobalMeasure.TotalLoad).
			Int("outlets_on", on).
			Msg("Snapshot updated")
	}
}
