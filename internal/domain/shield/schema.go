package shield

import (
	"context"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/policy"
)

// SchemaStage validates tool arguments against per-tool JSON schemas.
// Tools without a schema pass.
type SchemaStage struct {
	schemas map[string]*jsonschema.Schema
}

// NewSchemaStage compiles schemas, keyed by tool name. Each schema must be a
// JSON-compatible value (as produced by encoding/json).
func NewSchemaStage(schemas map[string]any) (*SchemaStage, error) {
	compiled := make(map[string]*jsonschema.Schema, len(schemas))
	for toolName, doc := range schemas {
		// One compiler per tool, so every schema can use the same resource name.
		c := jsonschema.NewCompiler()
		if err := c.AddResource("schema.json", doc); err != nil {
			return nil, fmt.Errorf("schema for %s: %w", toolName, err)
		}
		sch, err := c.Compile("schema.json")
		if err != nil {
			return nil, fmt.Errorf("schema for %s: %w", toolName, err)
		}
		compiled[toolName] = sch
	}
	return &SchemaStage{schemas: compiled}, nil
}

// Len returns the number of compiled schemas.
func (s *SchemaStage) Len() int { return len(s.schemas) }

// Name implements policy.Stage.
func (s *SchemaStage) Name() string { return policy.StageSchema }

// Evaluate implements policy.Stage.
func (s *SchemaStage) Evaluate(_ context.Context, evalCtx policy.EvaluationContext) (policy.Decision, error) {
	sch, ok := s.schemas[evalCtx.ToolName]
	if !ok {
		return policy.Allow(s.Name(), "no schema"), nil
	}

	args := make(map[string]any, len(evalCtx.ToolArguments))
	for k, v := range evalCtx.ToolArguments {
		args[k] = v
	}
	if err := sch.Validate(args); err != nil {
		return policy.Block(s.Name(),
			fmt.Sprintf("Arguments for '%s' do not match schema: %v", evalCtx.ToolName, err),
			policy.SeverityMedium), nil
	}
	return policy.Allow(s.Name(), "arguments match schema"), nil
}
