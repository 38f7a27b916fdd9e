// Package policyfile loads the bridge policy from a YAML document.
package policyfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/policy"
	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/scan"
	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/tool"
)

// DefaultShellExemptTools may use shell metacharacters in their arguments.
var DefaultShellExemptTools = []string{"execute_command"}

type document struct {
	Name             string              `yaml:"name"`
	Rules            []ruleDocument      `yaml:"rules"`
	HighRiskTools    []string            `yaml:"high_risk_tools"`
	RequiredRoles    []string            `yaml:"required_roles"`
	AgentRoles       map[string][]string `yaml:"agent_roles"`
	RoleGatedRisk    string              `yaml:"role_gated_risk"`
	ShellExemptTools []string            `yaml:"shell_exempt_tools"`
	SandboxRoot      string              `yaml:"sandbox_root"`
	PathKeys         []string            `yaml:"path_keys"`
	ToolSchemas      map[string]any      `yaml:"tool_schemas"`
	RateLimit        struct {
		PerSecond float64 `yaml:"per_second"`
		Burst     int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	InjectionMode    string   `yaml:"injection_mode"`
	DisabledPatterns []string `yaml:"disabled_patterns"`
}

type ruleDocument struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Priority  int    `yaml:"priority"`
	ToolMatch string `yaml:"tool_match"`
	Condition string `yaml:"condition"`
	Action    string `yaml:"action"`
	Reason    string `yaml:"reason"`
	Severity  string `yaml:"severity"`
}

// FileSource implements policy.PolicySource for a file on disk.
type FileSource struct {
	path string
}

// NewFileSource creates a source reading path on every Load.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Path returns the file path.
func (s *FileSource) Path() string { return s.path }

// Load reads and parses the policy file.
func (s *FileSource) Load(ctx context.Context) (*policy.Policy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("policy file %s: %w", s.path, err)
	}
	return p, nil
}

// Parse decodes a policy document. Unknown keys are errors. When the
// document has no rules key, Policy.Rules is nil; an explicit empty list
// yields an empty, non-nil slice.
func Parse(data []byte) (*policy.Policy, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	rules, err := convertRules(doc.Rules)
	if err != nil {
		return nil, err
	}

	if doc.RoleGatedRisk != "" {
		if _, err := tool.ParseRiskLevel(doc.RoleGatedRisk); err != nil {
			return nil, fmt.Errorf("role_gated_risk: %w", err)
		}
	}
	mode, err := scan.ParseInjectionMode(doc.InjectionMode)
	if err != nil {
		return nil, fmt.Errorf("injection_mode: %w", err)
	}
	if doc.RateLimit.PerSecond < 0 || doc.RateLimit.Burst < 0 {
		return nil, errors.New("rate_limit: per_second and burst must not be negative")
	}

	schemas, err := normalizeSchemas(doc.ToolSchemas)
	if err != nil {
		return nil, err
	}

	shellExempt := doc.ShellExemptTools
	if shellExempt == nil {
		shellExempt = DefaultShellExemptTools
	}

	return &policy.Policy{
		Name:             doc.Name,
		Rules:            rules,
		HighRiskTools:    doc.HighRiskTools,
		RequiredRoles:    doc.RequiredRoles,
		AgentRoles:       doc.AgentRoles,
		RoleGatedRisk:    strings.ToUpper(doc.RoleGatedRisk),
		ShellExemptTools: shellExempt,
		SandboxRoot:      doc.SandboxRoot,
		PathKeys:         doc.PathKeys,
		ToolSchemas:      schemas,
		RateLimit:        policy.RateLimit{PerSecond: doc.RateLimit.PerSecond, Burst: doc.RateLimit.Burst},
		InjectionMode:    string(mode),
		DisabledPatterns: doc.DisabledPatterns,
	}, nil
}

func convertRules(docs []ruleDocument) ([]policy.Rule, error) {
	if docs == nil {
		return nil, nil
	}
	rules := make([]policy.Rule, 0, len(docs))
	seen := make(map[string]struct{}, len(docs))
	for i, rd := range docs {
		label := rd.ID
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}
		if rd.ID != "" {
			if _, dup := seen[rd.ID]; dup {
				return nil, fmt.Errorf("rule %s: duplicate id", rd.ID)
			}
			seen[rd.ID] = struct{}{}
		}

		var action policy.Action
		switch strings.ToLower(rd.Action) {
		case "allow":
			action = policy.ActionAllow
		case "block", "deny":
			action = policy.ActionBlock
		default:
			return nil, fmt.Errorf("rule %s: action must be allow or block, got %q", label, rd.Action)
		}

		var sev policy.Severity
		if rd.Severity != "" {
			s, err := policy.ParseSeverity(rd.Severity)
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", label, err)
			}
			sev = s
		}

		rules = append(rules, policy.Rule{
			ID:        rd.ID,
			Name:      rd.Name,
			Priority:  rd.Priority,
			ToolMatch: rd.ToolMatch,
			Condition: rd.Condition,
			Action:    action,
			Reason:    rd.Reason,
			Severity:  sev,
		})
	}
	return rules, nil
}

// normalizeSchemas converts YAML-decoded schemas into the JSON value model
// the schema compiler expects.
func normalizeSchemas(in map[string]any) (map[string]any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(in))
	for name, doc := range in {
		b, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("tool_schemas.%s: %w", name, err)
		}
		v, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
		if err != nil {
			return nil, fmt.Errorf("tool_schemas.%s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

var _ policy.PolicySource = (*FileSource)(nil)
