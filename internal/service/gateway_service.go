package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/policy"
	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/scan"
	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/shield"
	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/tool"
)

// GatewayService implements policy.Gateway as an ordered chain of stages
// followed by the CEL rule engine. The first blocking stage decides.
type GatewayService struct {
	stages  []policy.Stage
	engine  policy.PolicyEngine
	scanner policy.Scanner
	policy  *policy.Policy
	logger  *slog.Logger
	now     func() time.Time

	cacheSize int
}

// GatewayOption configures GatewayService.
type GatewayOption func(*GatewayService)

// WithSandboxRoot overrides the policy's sandbox root.
func WithSandboxRoot(root string) GatewayOption {
	return func(g *GatewayService) {
		if root != "" {
			g.policy.SandboxRoot = root
		}
	}
}

// WithDecisionCacheSize bounds the CEL decision cache. Zero keeps the
// engine default.
func WithDecisionCacheSize(size int) GatewayOption {
	return func(g *GatewayService) { g.cacheSize = size }
}

// WithClock sets the time source for RequestTime.
func WithClock(now func() time.Time) GatewayOption {
	return func(g *GatewayService) { g.now = now }
}

// NewGatewayService builds every stage from p. A nil p is an empty policy.
// When p declares no rules the built-in DefaultRules apply.
func NewGatewayService(p *policy.Policy, logger *slog.Logger, opts ...GatewayOption) (*GatewayService, error) {
	pc := policy.Policy{}
	if p != nil {
		pc = *p
	}
	g := &GatewayService{policy: &pc, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}

	if pc.RateLimit.PerSecond > 0 {
		g.stages = append(g.stages, shield.NewRateLimitStage(pc.RateLimit))
	}

	g.stages = append(g.stages, shield.NewContentSafetyStage(pc.ShellExemptTools))

	if pc.SandboxRoot != "" {
		pg, err := shield.NewPathGuardStage(pc.SandboxRoot, pc.PathKeys)
		if err != nil {
			return nil, fmt.Errorf("path guard: %w", err)
		}
		g.stages = append(g.stages, pg)
	}

	gated, err := tool.ParseRiskLevel(pc.RoleGatedRisk)
	if err != nil {
		return nil, fmt.Errorf("rbac: %w", err)
	}
	g.stages = append(g.stages, shield.NewRBACStage(pc.HighRiskTools, pc.RequiredRoles, gated))

	if len(pc.ToolSchemas) > 0 {
		ss, err := shield.NewSchemaStage(pc.ToolSchemas)
		if err != nil {
			return nil, err
		}
		g.stages = append(g.stages, ss)
	}

	rules := pc.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	var engineOpts []PolicyServiceOption
	if g.cacheSize > 0 {
		engineOpts = append(engineOpts, WithCacheSize(g.cacheSize))
	}
	engine, err := NewPolicyService(rules, logger, engineOpts...)
	if err != nil {
		return nil, err
	}
	g.engine = engine

	mode, err := scan.ParseInjectionMode(pc.InjectionMode)
	if err != nil {
		return nil, err
	}
	scanner, err := scan.NewResponseScanner(
		scan.WithInjectionMode(mode),
		scan.WithDisabledPatterns(pc.DisabledPatterns...),
		scan.WithInjectionHook(g.logInjection),
	)
	if err != nil {
		return nil, err
	}
	g.scanner = scanner

	logger.Info("gateway ready",
		"policy", pc.Name,
		"stages", g.Stages(),
		"rules", len(rules),
		"injection_mode", string(mode),
	)
	return g, nil
}

// Stages returns the names of the configured call stages, in order.
func (g *GatewayService) Stages() []string {
	names := make([]string, 0, len(g.stages)+1)
	for _, s := range g.stages {
		names = append(names, s.Name())
	}
	return append(names, policy.StagePolicy)
}

// EvaluateCall implements policy.Gateway.
func (g *GatewayService) EvaluateCall(ctx context.Context, toolName string, args map[string]any, agentID string) (policy.Decision, error) {
	if args == nil {
		args = map[string]any{}
	}
	evalCtx := policy.EvaluationContext{
		ToolName:      toolName,
		ToolArguments: args,
		AgentID:       agentID,
		AgentRoles:    g.policy.RolesFor(agentID),
		RequestTime:   g.now(),
	}

	for _, stage := range g.stages {
		if err := ctx.Err(); err != nil {
			return policy.Decision{}, err
		}
		d, err := stage.Evaluate(ctx, evalCtx)
		if err != nil {
			return policy.Decision{}, fmt.Errorf("stage %s: %w", stage.Name(), err)
		}
		if d.Blocked {
			return d, nil
		}
	}

	d, err := g.engine.Evaluate(ctx, evalCtx)
	if err != nil {
		return policy.Decision{}, fmt.Errorf("stage %s: %w", policy.StagePolicy, err)
	}
	return d, nil
}

// ScanResponse implements policy.Gateway.
func (g *GatewayService) ScanResponse(ctx context.Context, raw string) (policy.ScanResult, error) {
	if err := ctx.Err(); err != nil {
		return policy.ScanResult{}, err
	}
	return g.scanner.Scan(raw), nil
}

func (g *GatewayService) logInjection(findings []policy.Finding) {
	for _, f := range findings {
		g.logger.Warn("prompt injection in response",
			"pattern", f.Pattern,
			"reason", f.Reason,
			"position", f.Position,
		)
	}
}

var _ policy.Gateway = (*GatewayService)(nil)
