package shield

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/policy"
)

// DefaultPathKeys are the argument names treated as filesystem paths.
var DefaultPathKeys = []string{"path"}

// PathGuardStage confines path arguments to a sandbox root. Relative paths
// are resolved against the root; absolute paths must already be inside it.
type PathGuardStage struct {
	root string
	keys []string
}

// NewPathGuardStage creates the stage. root must be non-empty; it is made
// absolute and cleaned.
func NewPathGuardStage(root string, keys []string) (*PathGuardStage, error) {
	if root == "" {
		return nil, fmt.Errorf("sandbox root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	if len(keys) == 0 {
		keys = DefaultPathKeys
	}
	return &PathGuardStage{root: abs, keys: keys}, nil
}

// Root returns the absolute sandbox root.
func (s *PathGuardStage) Root() string { return s.root }

// Name implements policy.Stage.
func (s *PathGuardStage) Name() string { return policy.StagePathGuard }

// Evaluate implements policy.Stage.
func (s *PathGuardStage) Evaluate(_ context.Context, evalCtx policy.EvaluationContext) (policy.Decision, error) {
	for _, key := range s.keys {
		p, ok := evalCtx.ToolArguments[key].(string)
		if !ok || p == "" {
			continue
		}
		if !s.Contains(p) {
			return policy.Block(s.Name(),
				fmt.Sprintf("Path traversal detected: '%s' resolves outside the sandbox", p),
				policy.SeverityHigh), nil
		}
	}
	return policy.Allow(s.Name(), "paths inside sandbox"), nil
}

// Resolve returns the canonical absolute form of p relative to the root.
func (s *PathGuardStage) Resolve(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(s.root, p)
}

// Contains reports whether p resolves to the root or below it.
func (s *PathGuardStage) Contains(p string) bool {
	rel, err := filepath.Rel(s.root, s.Resolve(p))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
