// Package shield implements the call evaluation stages that run before the
// CEL rules: rate limiting, content safety, path confinement, role checks
// and argument schemas.
package shield

import (
	"bytes"
	"context"
	"encoding/json"
	"regexp"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/policy"
)

var (
	// shellPattern matches characters that chain or substitute shell commands.
	shellPattern = regexp.MustCompile("[;|&`$]")
	// jailbreakPattern matches common prompt injection phrases in arguments.
	jailbreakPattern = regexp.MustCompile(`(?i)(ignore previous|ignore all|system prompt)`)
)

// ContentSafetyStage rejects arguments that carry shell metacharacters or
// prompt injection phrases. The check runs over the JSON encoding of all
// arguments, so nested values are covered.
type ContentSafetyStage struct {
	shellExempt map[string]struct{}
}

// NewContentSafetyStage creates the stage. Tools in shellExempt skip the
// shell metacharacter check but not the injection check.
func NewContentSafetyStage(shellExempt []string) *ContentSafetyStage {
	exempt := make(map[string]struct{}, len(shellExempt))
	for _, name := range shellExempt {
		exempt[name] = struct{}{}
	}
	return &ContentSafetyStage{shellExempt: exempt}
}

// Name implements policy.Stage.
func (s *ContentSafetyStage) Name() string { return policy.StageContentSafety }

// Evaluate implements policy.Stage.
func (s *ContentSafetyStage) Evaluate(_ context.Context, evalCtx policy.EvaluationContext) (policy.Decision, error) {
	if len(evalCtx.ToolArguments) == 0 {
		return policy.Allow(s.Name(), "no arguments"), nil
	}

	encoded, err := encodeArgs(evalCtx.ToolArguments)
	if err != nil {
		return policy.Decision{}, err
	}

	if _, exempt := s.shellExempt[evalCtx.ToolName]; !exempt && shellPattern.Match(encoded) {
		return policy.Block(s.Name(), "Shell injection character detected", policy.SeverityHigh), nil
	}
	if jailbreakPattern.Match(encoded) {
		return policy.Block(s.Name(), "Prompt injection pattern detected", policy.SeverityHigh), nil
	}
	return policy.Allow(s.Name(), "content safe"), nil
}

// encodeArgs marshals without HTML escaping so "&" stays visible to the
// shell pattern.
func encodeArgs(args map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(args); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
