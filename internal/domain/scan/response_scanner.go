// Package scan rewrites tool responses before they reach the client.
//
// The ResponseScanner works on the raw response text and never needs a
// structured parse, so malformed or partial JSON is still inspected.
package scan

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/policy"
)

// Redacted replaces every sensitive match.
const Redacted = "[REDACTED]"

// InjectionMode controls what happens to prompt injection found in responses.
type InjectionMode string

const (
	// InjectionModeMonitor reports injection through the hook without
	// changing the response.
	InjectionModeMonitor InjectionMode = "monitor"
	// InjectionModeRedact redacts injection like any other sensitive match.
	InjectionModeRedact InjectionMode = "redact"
)

// ParseInjectionMode accepts "", "monitor" or "redact". Empty means monitor.
func ParseInjectionMode(s string) (InjectionMode, error) {
	switch InjectionMode(strings.ToLower(s)) {
	case "", InjectionModeMonitor:
		return InjectionModeMonitor, nil
	case InjectionModeRedact:
		return InjectionModeRedact, nil
	default:
		return "", fmt.Errorf("unknown injection mode %q", s)
	}
}

// compiledPattern holds a pre-compiled regex with its report metadata.
// template is expanded with regexp.Expand, so it may reference groups.
type compiledPattern struct {
	name     string
	reason   string
	severity policy.Severity
	re       *regexp.Regexp
	template string
}

func mustPattern(name, reason string, sev policy.Severity, expr, template string) compiledPattern {
	return compiledPattern{
		name:     name,
		reason:   reason,
		severity: sev,
		re:       regexp.MustCompile(expr),
		template: template,
	}
}

// redactionPatterns run in order; earlier patterns see the original text.
var redactionPatterns = []compiledPattern{
	mustPattern("private_key", "Private key", policy.SeverityCritical,
		`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`, Redacted),
	mustPattern("aws_access_key", "AWS access key", policy.SeverityHigh,
		`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`, Redacted),
	mustPattern("bearer_token", "Bearer token", policy.SeverityHigh,
		`(?i)\b(bearer\s+)[A-Za-z0-9\-._~+/]+=*`, "${1}"+Redacted),
	mustPattern("secret_assignment", "Credential assignment", policy.SeverityHigh,
		`(?i)\b((?:token|secret|password|passwd|api[_-]?key)\s*[=:]\s*)[^\s"',;&\\]+`, "${1}"+Redacted),
	mustPattern("ssn", "Social Security Number", policy.SeverityHigh,
		`\b\d{3}-\d{2}-\d{4}\b`, Redacted),
	mustPattern("card_visa", "Credit card (Visa)", policy.SeverityHigh,
		`\b4\d{3}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`, Redacted),
	mustPattern("card_mastercard", "Credit card (Mastercard)", policy.SeverityHigh,
		`\b5[1-5]\d{2}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`, Redacted),
	mustPattern("card_amex", "Credit card (Amex)", policy.SeverityHigh,
		`\b3[47]\d{2}[-\s]?\d{6}[-\s]?\d{5}\b`, Redacted),
	mustPattern("card_discover", "Credit card (Discover)", policy.SeverityHigh,
		`\b6011[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`, Redacted),
	mustPattern("email", "Email address", policy.SeverityMedium,
		`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`, Redacted),
}

var injectionPatterns = []compiledPattern{
	mustPattern("system_prompt_override", "Prompt injection: instruction override", policy.SeverityHigh,
		`(?i)(?:ignore|disregard|forget)\s+(?:all\s+)?(?:previous|prior|above|earlier)\s+(?:instructions|prompts|rules|context)`, Redacted),
	mustPattern("role_hijack", "Prompt injection: role hijack", policy.SeverityHigh,
		`(?i)you\s+are\s+(?:now|actually|really)\s+(?:a|an|my)\s+`, Redacted),
	mustPattern("instruction_injection", "Prompt injection: new instructions", policy.SeverityHigh,
		`(?i)(?:new\s+instructions?|updated?\s+(?:instructions?|rules?|prompt)):\s*`, Redacted),
	mustPattern("system_tag_injection", "Prompt injection: system tag", policy.SeverityHigh,
		`(?i)<\s*(?:system|assistant|user|human|ai)\s*>`, Redacted),
	mustPattern("delimiter_escape", "Prompt injection: delimiter escape", policy.SeverityMedium,
		"(?i)(?:```|---|\\.{3})\\s*(?:system|instructions?|rules?)\\s*(?:```|---|\\.{3})", Redacted),
	mustPattern("do_anything_now", "Prompt injection: jailbreak", policy.SeverityHigh,
		`(?i)(?:do\s+anything\s+now|jailbreak|ignore\s+safety)|\bDAN\b`, Redacted),
}

// PatternNames lists every redaction and injection pattern name.
func PatternNames() []string {
	names := make([]string, 0, len(redactionPatterns)+len(injectionPatterns))
	for _, p := range redactionPatterns {
		names = append(names, p.name)
	}
	for _, p := range injectionPatterns {
		names = append(names, p.name)
	}
	return names
}

// ResponseScanner redacts secrets, PII and (optionally) prompt injection
// from response text. It is safe for concurrent use.
type ResponseScanner struct {
	redactors  []compiledPattern
	injections []compiledPattern
	mode       InjectionMode
	onInject   func([]policy.Finding)
}

// Option configures a ResponseScanner.
type Option func(*ResponseScanner) error

// WithInjectionMode sets how injection findings are handled.
func WithInjectionMode(mode InjectionMode) Option {
	return func(s *ResponseScanner) error {
		if mode != InjectionModeMonitor && mode != InjectionModeRedact {
			return fmt.Errorf("unknown injection mode %q", mode)
		}
		s.mode = mode
		return nil
	}
}

// WithInjectionHook registers fn to receive injection findings in monitor
// mode. fn runs synchronously inside Scan.
func WithInjectionHook(fn func([]policy.Finding)) Option {
	return func(s *ResponseScanner) error {
		s.onInject = fn
		return nil
	}
}

// WithDisabledPatterns turns off patterns by name.
func WithDisabledPatterns(names ...string) Option {
	return func(s *ResponseScanner) error {
		off := make(map[string]struct{}, len(names))
		for _, n := range names {
			if !isKnownPattern(n) {
				return fmt.Errorf("unknown scan pattern %q", n)
			}
			off[n] = struct{}{}
		}
		s.redactors = without(s.redactors, off)
		s.injections = without(s.injections, off)
		return nil
	}
}

func without(patterns []compiledPattern, off map[string]struct{}) []compiledPattern {
	kept := make([]compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		if _, ok := off[p.name]; !ok {
			kept = append(kept, p)
		}
	}
	return kept
}

func isKnownPattern(name string) bool {
	for _, n := range PatternNames() {
		if n == name {
			return true
		}
	}
	return false
}

// NewResponseScanner creates a scanner with every built-in pattern enabled
// and injection in monitor mode, then applies opts.
func NewResponseScanner(opts ...Option) (*ResponseScanner, error) {
	s := &ResponseScanner{
		redactors:  redactionPatterns,
		injections: injectionPatterns,
		mode:       InjectionModeMonitor,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Mode returns the injection mode.
func (s *ResponseScanner) Mode() InjectionMode { return s.mode }

// Scan implements policy.Scanner. Findings are ordered by pattern, then by
// position; Position is the byte offset in the text the pattern ran on.
// Scanning already-redacted text reports nothing.
func (s *ResponseScanner) Scan(raw string) policy.ScanResult {
	if raw == "" {
		return policy.ScanResult{}
	}

	content := raw
	var findings []policy.Finding
	for _, p := range s.redactors {
		content = p.apply(content, &findings)
	}

	switch s.mode {
	case InjectionModeRedact:
		for _, p := range s.injections {
			content = p.apply(content, &findings)
		}
	default:
		if s.onInject != nil {
			if detected := s.DetectInjection(content); len(detected) > 0 {
				s.onInject(detected)
			}
		}
	}

	if len(findings) == 0 {
		return policy.ScanResult{}
	}
	return policy.ScanResult{Modified: true, Content: content, Findings: findings}
}

// DetectInjection reports injection matches in content without changing it.
func (s *ResponseScanner) DetectInjection(content string) []policy.Finding {
	var findings []policy.Finding
	for _, p := range s.injections {
		for _, loc := range p.re.FindAllStringIndex(content, -1) {
			findings = append(findings, p.finding(loc[0]))
		}
	}
	return findings
}

func (p compiledPattern) finding(pos int) policy.Finding {
	return policy.Finding{Pattern: p.name, Reason: p.reason, Severity: p.severity, Position: pos}
}

// apply replaces every match whose expansion differs from the matched text,
// appending one finding per replacement.
func (p compiledPattern) apply(s string, findings *[]policy.Finding) string {
	matches := p.re.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	var b strings.Builder
	last := 0
	changed := false
	for _, m := range matches {
		repl := string(p.re.ExpandString(nil, p.template, s, m))
		if repl == s[m[0]:m[1]] {
			continue
		}
		b.WriteString(s[last:m[0]])
		b.WriteString(repl)
		last = m[1]
		changed = true
		*findings = append(*findings, p.finding(m[0]))
	}
	if !changed {
		return s
	}
	b.WriteString(s[last:])
	return b.String()
}

var _ policy.Scanner = (*ResponseScanner)(nil)
