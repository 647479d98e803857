// Package main implements the entry point for the Parley gateway, the
// real-time messaging edge that holds client WebSocket connections,
// authenticates them, and fans domain events out to subscribed
// sessions.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/parleyhq/parley/config"
	"github.com/parleyhq/parley/directory"
	"github.com/parleyhq/parley/events"
	"github.com/parleyhq/parley/gateway"
	"github.com/parleyhq/parley/handshake"
	"github.com/parleyhq/parley/metric"
	"github.com/parleyhq/parley/registry"
	"github.com/parleyhq/parley/token"
	"github.com/parleyhq/parley/types"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "parley-gateway"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting Parley gateway",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if !cliCfg.LogOverridden && (cfg.Logging.Level != "" || cfg.Logging.Format != "") {
		logger = setupLogger(cfg.Logging.Level, cfg.Logging.Format)
		slog.SetDefault(logger)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	gw, opsServer, err := buildGateway(cfg)
	if err != nil {
		return err
	}

	return runWithSignalHandling(gw, opsServer, cliCfg.ShutdownTimeout)
}

// buildGateway wires the full gateway stack from configuration. The
// event router is handed to the gateway, which attaches itself on
// Start; domain services publishing through it live elsewhere.
func buildGateway(cfg *config.Config) (*gateway.Gateway, *opsHTTPServer, error) {
	metricsRegistry := metric.NewMetricsRegistry()

	reg := registry.New(metricsRegistry)
	users := directory.NewUsers()
	groups := directory.NewGroups()
	if err := seedDirectories(users, groups); err != nil {
		return nil, nil, fmt.Errorf("seed directories: %w", err)
	}

	verifier := token.NewVerifier([]byte(cfg.Auth.Secret))
	h := handshake.New(reg, verifier, users, groups, handshake.Config{
		BatchSize:  cfg.SyncBatchSizeValue(),
		BatchDelay: cfg.SyncBatchDelayDuration(),
	})

	router := events.NewRouter()

	gwCfg := gateway.ConstructorConfig{
		Name:            appName,
		Port:            cfg.Gateway.Port,
		Path:            cfg.Gateway.Path,
		LivenessWindow:  cfg.LivenessWindowDuration(),
		SweepInterval:   cfg.SweepIntervalDuration(),
		Registry:        reg,
		Handshake:       h,
		Router:          router,
		MetricsRegistry: metricsRegistry,
	}
	gw := gateway.New(gwCfg)

	if err := gw.Initialize(); err != nil {
		return nil, nil, fmt.Errorf("initialize gateway: %w", err)
	}

	ops := newOpsHTTPServer(cfg, metricsRegistry, gw, reg)

	return gw, ops, nil
}

// seedDirectories loads users and groups from the optional seed file
// named by PARLEY_SEED. With no seed file the directories start empty.
func seedDirectories(users *directory.Users, groups *directory.Groups) error {
	path := os.Getenv("PARLEY_SEED")
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}

	var seed struct {
		Users  []types.User  `json:"users"`
		Groups []types.Group `json:"groups"`
	}
	if err := json.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	for i := range seed.Users {
		users.Put(&seed.Users[i])
	}
	for i := range seed.Groups {
		groups.Put(&seed.Groups[i])
	}

	slog.Info("directories seeded", "users", len(seed.Users), "groups", len(seed.Groups))
	return nil
}

// opsHTTPServer serves the metrics and health endpoints
type opsHTTPServer struct {
	server *http.Server
}

func newOpsHTTPServer(cfg *config.Config, metricsRegistry *metric.MetricsRegistry, gw *gateway.Gateway, reg *registry.Registry) *opsHTTPServer {
	metricsServer := metric.NewServer(cfg.Ops.Port, cfg.Ops.MetricsPath, metricsRegistry)

	mux := http.NewServeMux()
	mux.Handle(cfg.Ops.MetricsPath, metricsServer.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		health := gw.Health()
		status := http.StatusOK
		if !health.Healthy {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"healthy": health.Healthy,
			"uptime":  health.Uptime.String(),
			"errors":  health.ErrorCount,
			"stats":   reg.GetStats(),
		})
	})

	return &opsHTTPServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Ops.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func (o *opsHTTPServer) Start() {
	go func() {
		if err := o.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("ops server failed", "error", err)
		}
	}()
}

func (o *opsHTTPServer) Stop(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := o.server.Shutdown(ctx); err != nil {
		slog.Warn("ops server shutdown error", "error", err)
	}
}

// runWithSignalHandling starts the gateway and blocks until a shutdown
// signal arrives, then stops everything within the timeout.
func runWithSignalHandling(gw *gateway.Gateway, ops *opsHTTPServer, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := gw.Start(signalCtx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}
	ops.Start()

	slog.Info("Parley gateway started")

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	ops.Stop(shutdownTimeout)
	if err := gw.Stop(shutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("Parley gateway shutdown complete")
	return nil
}
