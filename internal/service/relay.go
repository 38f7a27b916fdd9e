package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/audit"
	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/policy"
	"github.com/Sentinel-Gate/sentinel-bridge/pkg/mcp"
)

// Defaults for redaction events whose finding carries no detail.
const (
	defaultFindingReason   = "Sensitive data"
	defaultFindingSeverity = policy.SeverityMedium
)

// DefaultAgentID identifies the client when none is configured.
const DefaultAgentID = "claude-desktop"

// SyncWriter serializes frame writes from both relays onto one writer.
// Each frame is written with a single Write call.
type SyncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewSyncWriter wraps w.
func NewSyncWriter(w io.Writer) *SyncWriter {
	return &SyncWriter{w: w}
}

// WriteFrame writes frame, which must already end in a newline, and flushes
// w if it supports it.
func (s *SyncWriter) WriteFrame(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	if f, ok := s.w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// RelayMetrics receives per-frame counters from the relays.
type RelayMetrics interface {
	FrameRelayed(direction mcp.Direction)
	FrameParseFailed(direction mcp.Direction)
	CallEvaluated(decision policy.Decision, latency time.Duration)
	CallBlocked(stage string)
	GatewayFailed(op string)
	FindingRedacted(pattern string)
}

// NopRelayMetrics discards every counter.
type NopRelayMetrics struct{}

func (NopRelayMetrics) FrameRelayed(mcp.Direction) {}
func (NopRelayMetrics) FrameParseFailed(mcp.Direction) {}
func (NopRelayMetrics) CallEvaluated(policy.Decision, time.Duration) {}
func (NopRelayMetrics) CallBlocked(string) {}
func (NopRelayMetrics) GatewayFailed(string) {}
func (NopRelayMetrics) FindingRedacted(string) {}

// RelayConfig holds the collaborators shared by both relay directions.
type RelayConfig struct {
	Gateway      *GuardedGateway
	Observer     audit.Observer
	Metrics      RelayMetrics
	Tracer       trace.Tracer
	Logger       *slog.Logger
	AgentID      string
	SessionID    string
	MaxFrameSize int
}

// Relay moves frames between the client and the tool server in both
// directions, gating calls and scanning responses.
type Relay struct {
	gateway      *GuardedGateway
	observer     audit.Observer
	metrics      RelayMetrics
	tracer       trace.Tracer
	logger       *slog.Logger
	agentID      string
	sessionID    string
	maxFrameSize int
}

// NewRelay creates a Relay. Nil collaborators other than Gateway get no-op
// defaults.
func NewRelay(cfg RelayConfig) *Relay {
	r := &Relay{
		gateway:      cfg.Gateway,
		observer:     cfg.Observer,
		metrics:      cfg.Metrics,
		tracer:       cfg.Tracer,
		logger:       cfg.Logger,
		agentID:      cfg.AgentID,
		sessionID:    cfg.SessionID,
		maxFrameSize: cfg.MaxFrameSize,
	}
	if r.observer == nil {
		r.observer = audit.NopObserver{}
	}
	if r.metrics == nil {
		r.metrics = NopRelayMetrics{}
	}
	if r.tracer == nil {
		r.tracer = noop.NewTracerProvider().Tracer("")
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	if r.agentID == "" {
		r.agentID = DefaultAgentID
	}
	return r
}

func (r *Relay) record(rec audit.EventRecord) {
	rec.SessionID = r.sessionID
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	r.observer.RecordEvent(rec)
}

// Upstream relays client frames to the server. Tool calls are checked
// first: a blocked call gets a synthesized reply on client and never reaches
// server. It returns nil when src ends, ctx.Err() when ctx is canceled
// between frames, or the first read or write error.
//
// A frame already read when ctx is canceled is still handled in full, and
// its check runs on a context that cancellation does not reach, so a
// canceled check never lets a call through unenforced.
func (r *Relay) Upstream(ctx context.Context, src io.Reader, server io.Writer, client *SyncWriter) error {
	logger := r.logger.With("direction", mcp.ClientToServer.String())
	framer := mcp.NewFramer(src, r.maxFrameSize)
	checkCtx := context.WithoutCancel(ctx)

	for {
		if err := ctx.Err(); err != nil {
			logger.Debug("client relay stopping", "frames", framer.Frames())
			return err
		}
		frame, err := framer.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Debug("client input closed", "frames", framer.Frames(), "skipped", framer.Skipped())
				return nil
			}
			return fmt.Errorf("read client frame: %w", err)
		}
		if ctx.Err() != nil {
			logger.Debug("handling frame read during shutdown", "bytes", len(frame))
		}
		if err := r.upstreamFrame(checkCtx, logger, frame, server, client); err != nil {
			return err
		}
	}
}

func (r *Relay) upstreamFrame(ctx context.Context, logger *slog.Logger, frame []byte, server io.Writer, client *SyncWriter) error {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "relay.upstream", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	forward := func() error {
		if _, err := server.Write(mcp.AppendFrame(frame)); err != nil {
			span.SetStatus(codes.Error, "write failed")
			return fmt.Errorf("write server frame: %w", err)
		}
		r.metrics.FrameRelayed(mcp.ClientToServer)
		return nil
	}

	msg, err := mcp.ParseMessage(frame, mcp.ClientToServer)
	if err != nil {
		logger.Debug("unparseable frame, forwarding raw", "error", err)
		r.metrics.FrameParseFailed(mcp.ClientToServer)
		return forward()
	}
	span.SetAttributes(attribute.String("mcp.method", msg.Method()), attribute.String("mcp.kind", msg.Kind()))

	if !msg.IsToolCall() {
		if err := forward(); err != nil {
			return err
		}
		logger.Debug("forwarded message", "method", msg.Method(), "latency_us", time.Since(start).Microseconds())
		return nil
	}

	intent, err := msg.ToolCall()
	if err != nil {
		logger.Warn("tool call check failed, not enforced", "error", err)
		r.metrics.GatewayFailed("evaluate")
		return forward()
	}
	span.SetAttributes(attribute.String("mcp.tool", intent.DisplayName()))

	verdict := r.gateway.Evaluate(ctx, intent, r.agentID)
	if verdict.Err != nil {
		logger.Warn("tool call check failed, not enforced", "tool", intent.DisplayName(), "error", verdict.Err)
		r.metrics.GatewayFailed("evaluate")
		span.RecordError(verdict.Err)
		return forward()
	}

	d := verdict.Decision
	r.metrics.CallEvaluated(d, time.Since(start))
	span.SetAttributes(
		attribute.String("bridge.action", string(d.Action)),
		attribute.String("bridge.stage", d.Stage),
		attribute.Bool("bridge.blocked", d.Blocked),
	)

	if verdict.Blocked() {
		logger.Info("tool call blocked", "tool", intent.DisplayName(), "stage", d.Stage, "reason", d.Reason)
		if err := client.WriteFrame(mcp.BlockReply(msg.RawID(), d.Reason)); err != nil {
			return fmt.Errorf("write block reply: %w", err)
		}
		r.metrics.CallBlocked(d.Stage)
	} else if err := forward(); err != nil {
		return err
	}

	r.record(audit.EventRecord{
		Action:   string(d.Action),
		Tool:     intent.DisplayName(),
		Agent:    r.agentID,
		Reason:   d.Reason,
		Severity: string(d.Severity),
		Stage:    d.Stage,
	})
	logger.Debug("tool call relayed",
		"method", msg.Method(),
		"tool", intent.DisplayName(),
		"blocked", d.Blocked,
		"latency_us", time.Since(start).Microseconds(),
	)
	return nil
}

// Downstream relays server frames to the client, replacing any frame the
// gateway redacts. Scans keep running after ctx is canceled so responses
// still drain through the filter. It returns nil when src ends, or the
// first read or write error.
func (r *Relay) Downstream(ctx context.Context, src io.Reader, client *SyncWriter) error {
	logger := r.logger.With("direction", mcp.ServerToClient.String())
	framer := mcp.NewFramer(src, r.maxFrameSize)
	scanCtx := context.WithoutCancel(ctx)

	for {
		frame, err := framer.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Debug("server output closed", "frames", framer.Frames(), "skipped", framer.Skipped())
				return nil
			}
			return fmt.Errorf("read server frame: %w", err)
		}
		if err := r.downstreamFrame(scanCtx, logger, frame, client); err != nil {
			return err
		}
	}
}

func (r *Relay) downstreamFrame(ctx context.Context, logger *slog.Logger, frame []byte, client *SyncWriter) error {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "relay.downstream", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	out := mcp.AppendFrame(frame)

	outcome := r.gateway.Scan(ctx, string(frame))
	switch {
	case outcome.Err != nil:
		logger.Warn("response scan failed, forwarding unmodified", "error", outcome.Err)
		r.metrics.GatewayFailed("scan")
		span.RecordError(outcome.Err)
	case outcome.Modified():
		out = mcp.AppendFrame([]byte(outcome.Result.Content))
		logger.Info("response redacted", "findings", len(outcome.Result.Findings))
		span.SetAttributes(attribute.Int("bridge.findings", len(outcome.Result.Findings)))
		for _, f := range outcome.Result.Findings {
			reason := f.Reason
			if reason == "" {
				reason = defaultFindingReason
			}
			sev := f.Severity
			if sev == "" {
				sev = defaultFindingSeverity
			}
			r.metrics.FindingRedacted(f.Pattern)
			r.record(audit.EventRecord{
				Action:   string(policy.ActionRedact),
				Tool:     audit.ToolResponse,
				Agent:    r.agentID,
				Reason:   reason,
				Severity: string(sev),
				Stage:    policy.StageOutputFilter,
			})
		}
	}

	if err := client.WriteFrame(out); err != nil {
		span.SetStatus(codes.Error, "write failed")
		return fmt.Errorf("write client frame: %w", err)
	}
	r.metrics.FrameRelayed(mcp.ServerToClient)
	logger.Debug("forwarded message", "latency_us", time.Since(start).Microseconds())
	return nil
}
