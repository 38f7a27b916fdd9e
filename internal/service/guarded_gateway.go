package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/policy"
	"github.com/Sentinel-Gate/sentinel-bridge/pkg/mcp"
)

// DefaultGatewayTimeout bounds one gateway call.
const DefaultGatewayTimeout = 5 * time.Second

// ErrGatewayPanic wraps a panic recovered from a gateway call.
var ErrGatewayPanic = errors.New("gateway panicked")

// Verdict is the outcome of checking one tool call. When Err is set the
// check failed and the call is not enforced.
type Verdict struct {
	Decision policy.Decision
	Err      error
}

// Blocked reports whether the call must not be forwarded.
func (v Verdict) Blocked() bool { return v.Err == nil && v.Decision.Blocked }

// ScanOutcome is the outcome of scanning one response frame. When Err is set
// the frame is forwarded unmodified.
type ScanOutcome struct {
	Result policy.ScanResult
	Err    error
}

// Modified reports whether Result.Content replaces the frame.
func (s ScanOutcome) Modified() bool { return s.Err == nil && s.Result.Modified }

// GuardConfig configures GuardedGateway.
type GuardConfig struct {
	// Timeout bounds each call. Zero means DefaultGatewayTimeout.
	Timeout time.Duration
	// Serialize runs at most one gateway call at a time.
	Serialize bool
	// BreakerFailures opens the breaker after this many consecutive
	// failures. Zero disables the breaker.
	BreakerFailures uint32
	// BreakerCooldown is how long the breaker stays open before probing.
	BreakerCooldown time.Duration
}

// GuardedGateway wraps a policy.Gateway with a timeout, optional
// serialization and a circuit breaker. It never returns an error: failures
// are carried in the outcome and the relays fail open.
type GuardedGateway struct {
	gw        policy.Gateway
	timeout   time.Duration
	serialize bool
	mu        sync.Mutex
	breaker   *gobreaker.CircuitBreaker
	logger    *slog.Logger
}

// NewGuardedGateway creates a GuardedGateway around gw.
func NewGuardedGateway(gw policy.Gateway, cfg GuardConfig, logger *slog.Logger) *GuardedGateway {
	g := &GuardedGateway{
		gw:        gw,
		timeout:   cfg.Timeout,
		serialize: cfg.Serialize,
		logger:    logger,
	}
	if g.timeout <= 0 {
		g.timeout = DefaultGatewayTimeout
	}
	if cfg.BreakerFailures > 0 {
		cooldown := cfg.BreakerCooldown
		if cooldown <= 0 {
			cooldown = 30 * time.Second
		}
		threshold := cfg.BreakerFailures
		g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "policy-gateway",
			MaxRequests: 1,
			Timeout:     cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("gateway breaker state changed",
					"breaker", name,
					"from", from.String(),
					"to", to.String(),
				)
			},
		})
	}
	return g
}

// BreakerState returns the breaker state, or "disabled".
func (g *GuardedGateway) BreakerState() string {
	if g.breaker == nil {
		return "disabled"
	}
	return g.breaker.State().String()
}

// Evaluate checks one tool call.
func (g *GuardedGateway) Evaluate(ctx context.Context, intent mcp.ToolCallIntent, agentID string) Verdict {
	v, err := g.call(ctx, func(ctx context.Context) (any, error) {
		return g.gw.EvaluateCall(ctx, intent.ToolName, intent.Arguments, agentID)
	})
	if err != nil {
		return Verdict{Err: err}
	}
	return Verdict{Decision: v.(policy.Decision)}
}

// Scan scans one response frame.
func (g *GuardedGateway) Scan(ctx context.Context, raw string) ScanOutcome {
	v, err := g.call(ctx, func(ctx context.Context) (any, error) {
		return g.gw.ScanResponse(ctx, raw)
	})
	if err != nil {
		return ScanOutcome{Err: err}
	}
	return ScanOutcome{Result: v.(policy.ScanResult)}
}

func (g *GuardedGateway) call(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	exec := func() (any, error) { return g.run(ctx, fn) }
	if g.breaker == nil {
		return exec()
	}
	return g.breaker.Execute(exec)
}

// run executes fn on its own goroutine so a gateway that ignores ctx still
// cannot hold the relay past the deadline.
func (g *GuardedGateway) run(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	type result struct {
		v   any
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%w: %v", ErrGatewayPanic, r)}
			}
		}()
		if g.serialize {
			g.mu.Lock()
			defer g.mu.Unlock()
		}
		v, err := fn(ctx)
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("gateway call: %w", ctx.Err())
	}
}
