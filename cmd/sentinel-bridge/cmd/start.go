package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/sentinel-bridge/internal/adapter/outbound/eventlog"
	mcpclient "github.com/Sentinel-Gate/sentinel-bridge/internal/adapter/outbound/mcp"
	"github.com/Sentinel-Gate/sentinel-bridge/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/sentinel-bridge/internal/adapter/outbound/policyfile"
	"github.com/Sentinel-Gate/sentinel-bridge/internal/adapter/outbound/telemetry"
	"github.com/Sentinel-Gate/sentinel-bridge/internal/adapter/outbound/webhook"
	"github.com/Sentinel-Gate/sentinel-bridge/internal/config"
	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/audit"
	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/policy"
	"github.com/Sentinel-Gate/sentinel-bridge/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start [-- command [args...]]",
	Short: "Run the bridge in front of an MCP server",
	Long: `Spawn an MCP server as a subprocess and relay its stdio through the
security bridge.

The server command comes from the arguments after "--", or from
upstream.command in the config file. The bridge exits with the server's
exit code, or 2 when the policy gateway cannot be built.

Examples:
  # Protect a filesystem server
  sentinel-bridge start -- npx @modelcontextprotocol/server-filesystem /tmp

  # Use a policy file
  SENTINEL_BRIDGE_POLICY_FILE=./policy.yaml sentinel-bridge start -- python server.py

  # Start with a specific config file
  sentinel-bridge --config /path/to/config.yaml start`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	if cfg.Upstream.Command == "" {
		return fmt.Errorf("no MCP server command: pass one after -- or set upstream.command")
	}

	logger, logCloser, err := newLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	code, err := run(ctx, cfg, logger, os.Stdin, os.Stdout)
	if err != nil || code != 0 {
		return &exitError{code: code, err: err}
	}
	return nil
}

// run wires every component and runs one bridge session. The returned code
// is the process exit code.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, stdin io.Reader, stdout io.Writer) (int, error) {
	// Initializing: a gateway failure is fatal before anything is spawned.
	gateway, err := buildGateway(ctx, cfg.Policy, logger)
	if err != nil {
		return service.ExitGatewayFailure, err
	}
	guarded := service.NewGuardedGateway(gateway, service.GuardConfig{
		Timeout:         config.Duration(cfg.Policy.Timeout, service.DefaultGatewayTimeout),
		Serialize:       cfg.Policy.Serialize,
		BreakerFailures: cfg.Policy.BreakerFailures,
		BreakerCooldown: config.Duration(cfg.Policy.BreakerCooldown, 30*time.Second),
	}, logger)

	tracing, err := newTracing(cfg.Tracing)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
		tracing = telemetry.Disabled()
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			logger.Debug("tracing shutdown", "error", err)
		}
	}()

	registry := http.NewRegistry()
	metrics := http.NewMetrics(registry)
	stats := service.NewStatsService()

	server := mcpclient.NewStdioClient(cfg.Upstream.Command, cfg.Upstream.Args,
		mcpclient.WithDir(cfg.Upstream.Dir),
		mcpclient.WithStderr(os.Stderr),
		mcpclient.WithStopTimeout(config.Duration(cfg.Upstream.StopTimeout, mcpclient.DefaultStopTimeout)),
	)

	bridgeCfg := service.BridgeConfig{
		Server:       server,
		Gateway:      guarded,
		Metrics:      service.MultiRelayMetrics{metrics, stats},
		Tracer:       tracing.Tracer(),
		Logger:       logger,
		AgentID:      cfg.Policy.AgentID,
		MaxFrameSize: cfg.Upstream.MaxFrameSize,
		DrainTimeout: config.Duration(cfg.Upstream.DrainTimeout, service.DefaultDrainTimeout),
	}

	// Observer failures are not fatal: the session runs without events.
	var (
		obs    *service.ObserverService
		recent *memory.EventStore
	)
	if cfg.Observer.Enabled {
		obs, recent, err = newObserver(cfg.Observer, logger)
		if err != nil {
			logger.Warn("observer unavailable, running without it", "error", err)
		}
	}
	if obs != nil {
		// The worker outlives ctx so events of the drain are still written.
		obs.Start(context.Background())
		defer func() {
			if err := obs.Stop(); err != nil {
				logger.Warn("observer stop", "error", err)
			}
		}()
		bridgeCfg.Observer = obs
	}
	bridge := service.NewBridgeService(bridgeCfg)

	if obs != nil {
		http.RegisterObserverMetrics(registry, obs)
		health := http.NewHealthChecker(obs, func() string { return bridge.State().String() }, guarded.BreakerState, Version).
			WithSessionStats(stats.GetStats)
		dashboard := http.NewDashboard(recent,
			http.WithAddr(cfg.Observer.Addr),
			http.WithAllowedOrigins(cfg.Observer.AllowedOrigins),
			http.WithTokenHash(cfg.Observer.TokenHash),
			http.WithLogger(logger),
			http.WithRegistry(registry),
			http.WithMetrics(metrics),
			http.WithHealthChecker(health),
		)
		// Degraded mode: the bridge runs without its dashboard.
		if err := dashboard.Listen(); err != nil {
			logger.Warn("observer dashboard unavailable", "error", err)
		} else {
			go func() {
				if err := dashboard.Serve(context.Background()); err != nil {
					logger.Warn("observer dashboard stopped", "error", err)
				}
			}()
			defer dashboard.Close()
			logger.Info("observer dashboard listening", "addr", dashboard.Addr())
		}
	}

	logger.Info("starting bridge",
		"session_id", bridge.SessionID(),
		"command", cfg.Upstream.Command,
		"args", cfg.Upstream.Args,
		"agent_id", cfg.Policy.AgentID,
		"stages", gateway.Stages(),
	)
	code, err := bridge.Run(ctx, stdin, stdout)
	session := stats.GetStats()
	logger.Info("sentinel-bridge stopped",
		"code", code,
		"allowed", session.Allowed,
		"blocked", session.Blocked,
		"redactions", session.Redactions,
		"gateway_errors", session.Errors,
	)
	return code, err
}

// buildGateway loads the policy file, when one is configured, and builds the
// gateway. Without a file the built-in rules apply.
func buildGateway(ctx context.Context, cfg config.PolicyConfig, logger *slog.Logger) (*service.GatewayService, error) {
	var p *policy.Policy
	if cfg.File != "" {
		loaded, err := policyfile.NewFileSource(cfg.File).Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load policy: %w", err)
		}
		p = loaded
	}
	gw, err := service.NewGatewayService(p, logger,
		service.WithSandboxRoot(cfg.SandboxRoot),
		service.WithDecisionCacheSize(cfg.CacheSize),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build policy gateway: %w", err)
	}
	return gw, nil
}

// newObserver builds the observer and its sinks. The returned store serves
// the dashboard's /events.
func newObserver(cfg config.ObserverConfig, logger *slog.Logger) (*service.ObserverService, *memory.EventStore, error) {
	var eventLog io.Writer
	if cfg.EventLog != "" {
		f, err := os.OpenFile(cfg.EventLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open event log: %w", err)
		}
		eventLog = f
	}
	recent := memory.NewEventStore(eventLog, cfg.RingSize)
	stores := []audit.EventStore{recent}

	if cfg.EventDir != "" {
		history, err := eventlog.History(cfg.EventDir, cfg.RingSize, logger)
		if err != nil {
			logger.Warn("event history unavailable", "dir", cfg.EventDir, "error", err)
		}
		recent.Seed(history...)

		files, err := eventlog.NewFileStore(eventlog.Config{
			Dir:           cfg.EventDir,
			RetentionDays: cfg.RetentionDays,
			MaxFileSizeMB: cfg.MaxFileMB,
		}, logger)
		if err != nil {
			_ = recent.Close()
			return nil, nil, err
		}
		stores = append(stores, files)
		logger.Info("persisting events", "file", files.CurrentFile(), "history", len(history))
	}

	if cfg.ForwardURL != "" {
		stores = append(stores, webhook.NewForwarder(cfg.ForwardURL, webhook.WithAttempts(cfg.ForwardAttempts)))
		logger.Info("forwarding events", "url", cfg.ForwardURL)
	}

	obs := service.NewObserverService(logger, stores,
		service.WithObserverBufferSize(cfg.BufferSize),
		service.WithObserverBatchSize(cfg.BatchSize),
		service.WithObserverFlushInterval(config.Duration(cfg.FlushInterval, time.Second)),
		service.WithObserverSendTimeout(config.Duration(cfg.SendTimeout, 10*time.Millisecond)),
	)
	return obs, recent, nil
}

func newTracing(cfg config.TracingConfig) (*telemetry.Tracing, error) {
	if !cfg.Enabled {
		return telemetry.Disabled(), nil
	}
	return telemetry.New(cfg.Output, Version)
}
