package cel

import (
	"path/filepath"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/policy"
)

// NewPolicyEnvironment creates the CEL environment for bridge rules. It
// declares:
//   - variables: tool_name, tool_args (alias arguments), agent_id, agent_roles, request_time
//   - functions: glob(pattern, name), arg(map, key), arg_contains(map, substr)
func NewPolicyEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("tool_name", cel.StringType),
		cel.Variable("tool_args", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("arguments", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("agent_id", cel.StringType),
		cel.Variable("agent_roles", cel.ListType(cel.StringType)),
		cel.Variable("request_time", cel.TimestampType),

		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p := pattern.Value().(string)
					n := name.Value().(string)
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),

		// arg returns one argument by key, or null.
		cel.Function("arg",
			cel.Overload("arg_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.DynType,
				cel.BinaryBinding(func(mapVal, keyVal ref.Val) ref.Val {
					key := keyVal.Value().(string)
					switch m := mapVal.Value().(type) {
					case map[string]any:
						if v, found := m[key]; found {
							return types.DefaultTypeAdapter.NativeToValue(v)
						}
					case map[ref.Val]ref.Val:
						if v, found := m[types.String(key)]; found {
							return v
						}
					}
					return types.NullValue
				}),
			),
		),

		// arg_contains reports whether any top-level string argument contains substr.
		cel.Function("arg_contains",
			cel.Overload("arg_contains_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(mapVal, substrVal ref.Val) ref.Val {
					substr := substrVal.Value().(string)
					switch m := mapVal.Value().(type) {
					case map[string]any:
						for _, v := range m {
							if s, ok := v.(string); ok && strings.Contains(s, substr) {
								return types.Bool(true)
							}
						}
					case map[ref.Val]ref.Val:
						for _, v := range m {
							if s, ok := v.Value().(string); ok && strings.Contains(s, substr) {
								return types.Bool(true)
							}
						}
					}
					return types.Bool(false)
				}),
			),
		),
	)
}

// BuildActivation creates a CEL activation map from an EvaluationContext.
func BuildActivation(evalCtx policy.EvaluationContext) map[string]any {
	// CEL needs non-nil maps and slices.
	toolArgs := evalCtx.ToolArguments
	if toolArgs == nil {
		toolArgs = map[string]interface{}{}
	}
	roles := evalCtx.AgentRoles
	if roles == nil {
		roles = []string{}
	}

	return map[string]any{
		"tool_name":    evalCtx.ToolName,
		"tool_args":    toolArgs,
		"arguments":    toolArgs,
		"agent_id":     evalCtx.AgentID,
		"agent_roles":  roles,
		"request_time": evalCtx.RequestTime,
	}
}
