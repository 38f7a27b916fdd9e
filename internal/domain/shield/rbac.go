package shield

import (
	"context"
	"fmt"
	"strings"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/policy"
	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/tool"
)

// DefaultRequiredRoles grant access to high-risk tools when none are configured.
var DefaultRequiredRoles = []string{"admin"}

// RBACStage restricts high-risk tools to agents holding a required role.
// A tool is high-risk when it is listed explicitly, or when gatedRisk is set
// and the name-based classification reaches it.
type RBACStage struct {
	highRisk  map[string]struct{}
	required  []string
	gatedRisk tool.RiskLevel
}

// NewRBACStage creates the stage. gatedRisk may be empty to rely on the
// explicit list only.
func NewRBACStage(highRiskTools, requiredRoles []string, gatedRisk tool.RiskLevel) *RBACStage {
	hr := make(map[string]struct{}, len(highRiskTools))
	for _, name := range highRiskTools {
		hr[name] = struct{}{}
	}
	if len(requiredRoles) == 0 {
		requiredRoles = DefaultRequiredRoles
	}
	return &RBACStage{highRisk: hr, required: requiredRoles, gatedRisk: gatedRisk}
}

// Name implements policy.Stage.
func (s *RBACStage) Name() string { return policy.StageRBAC }

// IsHighRisk reports whether name requires one of the configured roles.
func (s *RBACStage) IsHighRisk(name string) bool {
	if _, ok := s.highRisk[name]; ok {
		return true
	}
	if s.gatedRisk == "" {
		return false
	}
	return tool.ClassifyName(name).AtLeast(s.gatedRisk)
}

// Evaluate implements policy.Stage.
func (s *RBACStage) Evaluate(_ context.Context, evalCtx policy.EvaluationContext) (policy.Decision, error) {
	if !s.IsHighRisk(evalCtx.ToolName) {
		return policy.Allow(s.Name(), "tool not role gated"), nil
	}
	if evalCtx.HasRole(s.required...) {
		return policy.Allow(s.Name(), "agent holds required role"), nil
	}
	return policy.Block(s.Name(),
		fmt.Sprintf("Access denied: tool '%s' requires role %s", evalCtx.ToolName, strings.Join(s.required, " or ")),
		policy.SeverityHigh), nil
}
