package cel

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/policy"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}
	return eval
}

func TestCompile_InvalidExpression(t *testing.T) {
	eval := newTestEvaluator(t)

	if _, err := eval.Compile(`this is not valid CEL !!!`); err == nil {
		t.Fatal("Compile() expected error for invalid expression, got nil")
	}
	if _, err := eval.Compile(`unknown_var == 1`); err == nil {
		t.Fatal("Compile() expected error for undeclared variable, got nil")
	}
}

func TestCondition_Matches(t *testing.T) {
	eval := newTestEvaluator(t)

	evalCtx := policy.EvaluationContext{
		ToolName: "delete_file",
		ToolArguments: map[string]interface{}{
			"path":  "/etc/passwd",
			"force": true,
		},
		AgentID:     "claude-desktop",
		AgentRoles:  []string{"reader"},
		RequestTime: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{name: "tool name equality", expr: `tool_name == "delete_file"`, want: true},
		{name: "glob match", expr: `glob("delete_*", tool_name)`, want: true},
		{name: "glob miss", expr: `glob("read_*", tool_name)`, want: false},
		{name: "argument lookup", expr: `tool_args.path.startsWith("/etc")`, want: true},
		{name: "arguments alias", expr: `"force" in arguments && arguments.force == true`, want: true},
		{name: "arg function", expr: `arg(tool_args, "path") == "/etc/passwd"`, want: true},
		{name: "arg missing is null", expr: `arg(tool_args, "nope") == null`, want: true},
		{name: "arg_contains", expr: `arg_contains(tool_args, "passwd")`, want: true},
		{name: "agent id", expr: `agent_id == "claude-desktop"`, want: true},
		{name: "agent roles", expr: `"admin" in agent_roles`, want: false},
		{name: "sets extension", expr: `sets.intersects(agent_roles, ["reader", "writer"])`, want: true},
		{name: "strings extension", expr: `tool_name.upperAscii() == "DELETE_FILE"`, want: true},
		{name: "request time", expr: `request_time.getFullYear() == 2026`, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prg, err := eval.Compile(tt.expr)
			if err != nil {
				t.Fatalf("Compile(%q) error: %v", tt.expr, err)
			}
			got, err := prg.Matches(context.Background(), evalCtx)
			if err != nil {
				t.Fatalf("Matches() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Matches(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestCompile_NonBooleanResult(t *testing.T) {
	eval := newTestEvaluator(t)

	if _, err := eval.Compile(`tool_name`); err == nil || !strings.Contains(err.Error(), "must return bool") {
		t.Errorf("Compile() error = %v, want type error", err)
	}
}

func TestCondition_NonBooleanDynResult(t *testing.T) {
	eval := newTestEvaluator(t)

	prg, err := eval.Compile(`tool_args.mode`)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	_, err = prg.Matches(context.Background(), policy.EvaluationContext{
		ToolName:      "x",
		ToolArguments: map[string]interface{}{"mode": "w"},
	})
	if err == nil || !strings.Contains(err.Error(), "boolean") {
		t.Errorf("Matches() error = %v, want non-boolean error", err)
	}
}

func TestCondition_NilArgumentsAreEmpty(t *testing.T) {
	eval := newTestEvaluator(t)

	prg, err := eval.Compile(`size(tool_args) == 0 && size(agent_roles) == 0`)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	got, err := prg.Matches(context.Background(), policy.EvaluationContext{})
	if err != nil {
		t.Fatalf("Matches() error: %v", err)
	}
	if !got {
		t.Error("expected nil arguments and roles to be empty")
	}
}

func TestValidateExpression(t *testing.T) {
	eval := newTestEvaluator(t)

	tests := []struct {
		name    string
		expr    string
		wantErr string
	}{
		{name: "valid", expr: `tool_name == "x"`},
		{name: "empty", expr: ``, wantErr: ErrEmptyExpression.Error()},
		{name: "too long", expr: strings.Repeat("a", maxExpressionLength+1), wantErr: "too long"},
		{name: "too deep", expr: strings.Repeat("(", maxNestingDepth+1) + "true" + strings.Repeat(")", maxNestingDepth+1), wantErr: "nesting"},
		{name: "invalid", expr: `tool_name ==`, wantErr: "invalid CEL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eval.ValidateExpression(tt.expr)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("ValidateExpression() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ValidateExpression() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestCondition_StringAndCancel(t *testing.T) {
	eval := newTestEvaluator(t)

	expr := `tool_args.items.all(x, x > 0)`
	cond, err := eval.Compile(expr)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if cond.String() != expr {
		t.Errorf("String() = %q, want %q", cond.String(), expr)
	}

	items := make([]interface{}, 10_000)
	for i := range items {
		items[i] = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := cond.Matches(ctx, policy.EvaluationContext{ToolArguments: map[string]interface{}{"items": items}}); err == nil {
		t.Error("Matches() with cancelled context should fail")
	}
}
