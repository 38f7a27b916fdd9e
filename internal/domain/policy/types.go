// Package policy contains domain types for tool call decisions and response
// scanning.
package policy

import (
	"fmt"
	"strings"
)

// Action represents the verdict of a policy stage.
type Action string

const (
	// ActionAllow permits the tool call to proceed.
	ActionAllow Action = "allow"
	// ActionBlock stops the tool call before it reaches the server.
	ActionBlock Action = "block"
	// ActionRedact marks a response that was rewritten before delivery.
	ActionRedact Action = "redact"
)

// Severity is an ordinal rating attached to decisions and findings.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// ParseSeverity accepts a severity name in any case.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if sev.Rank() == 0 {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// Stage names reported in decisions and events.
const (
	StageRateLimit     = "rate-limit"
	StageContentSafety = "content-safety"
	StagePathGuard     = "path-guard"
	StageRBAC          = "rbac"
	StageSchema        = "schema"
	StagePolicy        = "policy"
	StageOutputFilter  = "output-filter"
	StageStartup       = "startup"
)

// Rule defines a single CEL policy rule.
type Rule struct {
	// ID is the unique identifier for this rule.
	ID string
	// Name is a human-readable name for this rule.
	Name string
	// Priority determines evaluation order (higher first).
	Priority int
	// ToolMatch is a glob pattern to match tool names (e.g., "file_*").
	ToolMatch string
	// Condition is a CEL expression that must evaluate to true for the rule to apply.
	Condition string
	// Action is the result when this rule matches.
	Action Action
	// Reason is reported to the client when the rule blocks.
	Reason string
	// Severity is attached to the decision.
	Severity Severity
}

// Decision is the outcome of evaluating one tool call.
type Decision struct {
	// Action is the verdict name reported to the observer.
	Action Action
	// Blocked is authoritative: when true the call is never forwarded.
	Blocked bool
	// Reason explains the verdict.
	Reason string
	// Severity rates the verdict.
	Severity Severity
	// Stage names the stage that produced the verdict.
	Stage string
	// RuleID is set when a CEL rule produced the verdict.
	RuleID string
}

// Allow returns a non-blocking decision.
func Allow(stage, reason string) Decision {
	return Decision{Action: ActionAllow, Reason: reason, Severity: SeverityLow, Stage: stage}
}

// Block returns a blocking decision.
func Block(stage, reason string, sev Severity) Decision {
	return Decision{Action: ActionBlock, Blocked: true, Reason: reason, Severity: sev, Stage: stage}
}

// Finding is one sensitive match found while scanning a response.
type Finding struct {
	// Pattern names the detector that matched.
	Pattern string
	// Reason is a human-readable description.
	Reason string
	// Severity rates the finding.
	Severity Severity
	// Position is the byte offset of the match in the scanned text.
	Position int
}

// ScanResult is the outcome of scanning one response frame.
// When Modified is false, Content is irrelevant and the original is forwarded.
type ScanResult struct {
	Modified bool
	Content  string
	Findings []Finding
}

// RateLimit configures the per-agent token bucket.
type RateLimit struct {
	// PerSecond is the sustained call rate. Zero disables the stage.
	PerSecond float64
	// Burst is the bucket size.
	Burst int
}

// Policy is the complete, loaded set of call and response rules.
type Policy struct {
	// Name identifies the policy document.
	Name string
	// Rules are the CEL rules.
	Rules []Rule

	// HighRiskTools require one of RequiredRoles.
	HighRiskTools []string
	// RequiredRoles grant access to HighRiskTools.
	RequiredRoles []string
	// AgentRoles maps agent ids to their roles.
	AgentRoles map[string][]string
	// RoleGatedRisk, when set, also gates every tool whose name classifies
	// at this risk level or above ("LOW", "MEDIUM", "HIGH", "CRITICAL").
	RoleGatedRisk string

	// ShellExemptTools skip the shell metacharacter check.
	ShellExemptTools []string
	// SandboxRoot confines path arguments. Empty disables the check.
	SandboxRoot string
	// PathKeys are the argument names checked against SandboxRoot.
	PathKeys []string

	// ToolSchemas maps tool names to decoded JSON schemas for their arguments.
	ToolSchemas map[string]any

	RateLimit RateLimit

	// InjectionMode is "monitor" or "redact" for prompt injection in responses.
	InjectionMode string
	// DisabledPatterns lists response redaction patterns to skip.
	DisabledPatterns []string
}

// RolesFor returns the roles mapped to agentID.
func (p *Policy) RolesFor(agentID string) []string {
	if p == nil || p.AgentRoles == nil {
		return nil
	}
	return p.AgentRoles[agentID]
}
