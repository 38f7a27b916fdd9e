package policy

import "context"

// Gateway decides on tool calls and scans responses. Implementations must be
// safe for concurrent use from both relay directions.
type Gateway interface {
	// EvaluateCall decides whether a tool call may reach the server.
	EvaluateCall(ctx context.Context, toolName string, args map[string]any, agentID string) (Decision, error)
	// ScanResponse inspects one raw response frame and may rewrite it.
	ScanResponse(ctx context.Context, raw string) (ScanResult, error)
}

// PolicyEngine evaluates tool calls against the CEL rules.
type PolicyEngine interface {
	// Evaluate returns the decision of the first matching rule.
	Evaluate(ctx context.Context, evalCtx EvaluationContext) (Decision, error)
}

// Stage is one step of the call evaluation chain. A stage returns a blocking
// decision to stop the chain, or a non-blocking decision to pass.
type Stage interface {
	Name() string
	Evaluate(ctx context.Context, evalCtx EvaluationContext) (Decision, error)
}

// Scanner inspects response text.
type Scanner interface {
	Scan(raw string) ScanResult
}

// PolicySource loads a policy.
type PolicySource interface {
	Load(ctx context.Context) (*Policy, error)
}
