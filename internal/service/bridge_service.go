package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/ctxkey"
	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/audit"
	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/policy"
	"github.com/Sentinel-Gate/sentinel-bridge/internal/port/outbound"
)

// Exit codes reported by the bridge itself.
const (
	ExitFailure        = 1
	ExitGatewayFailure = 2
)

// DefaultDrainTimeout bounds how long the downstream relay may keep
// delivering responses after the server process has exited.
const DefaultDrainTimeout = 2 * time.Second

// StartupReason is the reason of the lifecycle event recorded at startup.
const StartupReason = "Security Bridge Started"

// BridgeState is the supervisor lifecycle state.
type BridgeState int32

const (
	StateInitializing BridgeState = iota
	StateRunning
	StateDraining
	StateTerminated
)

func (s BridgeState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("BridgeState(%d)", int32(s))
	}
}

// BridgeConfig holds the collaborators of one bridge session.
type BridgeConfig struct {
	Server       outbound.ToolServer
	Gateway      *GuardedGateway
	Observer     audit.Observer
	Metrics      RelayMetrics
	Tracer       trace.Tracer
	Logger       *slog.Logger
	AgentID      string
	SessionID    string
	MaxFrameSize int
	DrainTimeout time.Duration
}

// BridgeService supervises one session: it starts the tool server, runs
// both relays, and turns the server's exit into the bridge's exit code.
type BridgeService struct {
	server       outbound.ToolServer
	observer     audit.Observer
	relay        *Relay
	tracer       trace.Tracer
	logger       *slog.Logger
	sessionID    string
	drainTimeout time.Duration

	state atomic.Int32
}

// NewBridgeService creates a supervisor. A session id is generated when
// cfg.SessionID is empty.
func NewBridgeService(cfg BridgeConfig) *BridgeService {
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Observer == nil {
		cfg.Observer = audit.NopObserver{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	logger := cfg.Logger.With("session_id", cfg.SessionID)

	relay := NewRelay(RelayConfig{
		Gateway:      cfg.Gateway,
		Observer:     cfg.Observer,
		Metrics:      cfg.Metrics,
		Tracer:       cfg.Tracer,
		Logger:       logger,
		AgentID:      cfg.AgentID,
		SessionID:    cfg.SessionID,
		MaxFrameSize: cfg.MaxFrameSize,
	})

	return &BridgeService{
		server:       cfg.Server,
		observer:     cfg.Observer,
		relay:        relay,
		tracer:       cfg.Tracer,
		logger:       logger,
		sessionID:    cfg.SessionID,
		drainTimeout: cfg.DrainTimeout,
	}
}

// SessionID returns the id stamped on every event of this session.
func (b *BridgeService) SessionID() string { return b.sessionID }

// State returns the current lifecycle state.
func (b *BridgeService) State() BridgeState { return BridgeState(b.state.Load()) }

func (b *BridgeService) setState(s BridgeState) {
	if old := BridgeState(b.state.Swap(int32(s))); old != s {
		b.logger.Debug("bridge state changed", "from", old.String(), "to", s.String())
	}
}

// Run starts the server and relays between the client streams and the
// server until the server exits. Canceling ctx starts draining: the server
// is asked to stop and killed after its stop timeout.
//
// The returned code mirrors the server's exit status. err is non-nil only
// when the server could not be started.
func (b *BridgeService) Run(ctx context.Context, clientIn io.Reader, clientOut io.Writer) (int, error) {
	b.setState(StateInitializing)
	defer b.setState(StateTerminated)

	ctx = ctxkey.WithLogger(ctx, b.logger)
	ctx, span := b.tracer.Start(ctx, "bridge.session", trace.WithAttributes(attribute.String("bridge.session_id", b.sessionID)))
	defer span.End()

	b.observer.RecordEvent(audit.EventRecord{
		Action:    string(policy.ActionAllow),
		Tool:      audit.ToolSystem,
		Agent:     audit.AgentBridge,
		Reason:    StartupReason,
		Severity:  string(policy.SeverityLow),
		Stage:     policy.StageStartup,
		Timestamp: time.Now(),
		SessionID: b.sessionID,
	})

	serverIn, serverOut, err := b.server.Start(ctx)
	if err != nil {
		return ExitFailure, fmt.Errorf("failed to start tool server: %w", err)
	}
	defer func() {
		if err := b.server.Close(); err != nil {
			b.logger.Debug("tool server close", "error", err)
		}
	}()

	b.setState(StateRunning)
	b.logger.Info("bridge active and relaying")

	client := NewSyncWriter(clientOut)
	upDone := make(chan error, 1)
	downDone := make(chan error, 1)

	go func() {
		err := b.relay.Upstream(ctx, clientIn, serverIn, client)
		// EOF to the server once the client is gone.
		_ = serverIn.Close()
		upDone <- err
	}()
	go func() {
		downDone <- b.relay.Downstream(ctx, serverOut, client)
	}()

	exited := make(chan error, 1)
	go func() { exited <- b.server.Wait() }()

	waitErr, drained := b.supervise(ctx, upDone, downDone, exited)
	if !drained {
		b.setState(StateDraining)
		timer := time.NewTimer(b.drainTimeout)
		select {
		case err := <-downDone:
			b.logRelayExit("server->client", err)
		case <-timer.C:
			b.logger.Warn("abandoning response relay after server exit", "timeout", b.drainTimeout)
		}
		timer.Stop()
	}

	code := ExitCode(waitErr)
	span.SetAttributes(attribute.Int("bridge.exit_code", code))
	b.logger.Info("tool server exited", "code", code)
	return code, nil
}

// supervise waits for the server to exit, starting the drain on
// cancellation or on a client write failure. drained reports whether the
// downstream relay already returned.
func (b *BridgeService) supervise(ctx context.Context, upDone, downDone, exited <-chan error) (waitErr error, drained bool) {
	done := ctx.Done()
	for {
		select {
		case waitErr = <-exited:
			return waitErr, drained

		case err := <-upDone:
			upDone = nil
			b.logRelayExit("client->server", err)

		case err := <-downDone:
			downDone = nil
			drained = true
			b.logRelayExit("server->client", err)
			if err != nil {
				b.drain("client output failed")
			}

		case <-done:
			done = nil
			b.drain("shutdown requested")
		}
	}
}

func (b *BridgeService) drain(reason string) {
	b.setState(StateDraining)
	b.logger.Info("draining bridge", "reason", reason)
	go func() {
		if err := b.server.Terminate(); err != nil {
			b.logger.Error("failed to stop tool server", "error", err)
		}
	}()
}

func (b *BridgeService) logRelayExit(direction string, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Warn("relay stopped", "direction", direction, "error", err)
		return
	}
	b.logger.Debug("relay completed", "direction", direction)
}

// ExitCode maps a server Wait error to the bridge exit code: 0 for nil,
// the process exit status when there is one, and 1 otherwise (including a
// process killed by a signal).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		if code := coder.ExitCode(); code >= 0 {
			return code
		}
	}
	return ExitFailure
}
