package shield

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestPathGuardStage(t *testing.T) {
	root := t.TempDir()
	stage, err := NewPathGuardStage(root, nil)
	if err != nil {
		t.Fatalf("NewPathGuardStage() error = %v", err)
	}

	tests := []struct {
		name        string
		args        map[string]any
		wantBlocked bool
	}{
		{name: "relative inside", args: map[string]any{"path": "claude-desktop/log_export.csv"}},
		{name: "root itself", args: map[string]any{"path": "."}},
		{name: "absolute inside", args: map[string]any{"path": filepath.Join(root, "a", "b.txt")}},
		{name: "dotdot that stays inside", args: map[string]any{"path": "a/../b.txt"}},
		{name: "traversal", args: map[string]any{"path": "../../etc/passwd"}, wantBlocked: true},
		{name: "absolute outside", args: map[string]any{"path": "/etc/passwd"}, wantBlocked: true},
		{name: "sibling with shared prefix", args: map[string]any{"path": root + "-other/x"}, wantBlocked: true},
		{name: "file named with dots", args: map[string]any{"path": "..hidden"}},
		{name: "non-string path ignored", args: map[string]any{"path": 42}},
		{name: "no path", args: map[string]any{"other": "../../x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := stage.Evaluate(context.Background(), evalCtx("read_file", tt.args))
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if d.Blocked != tt.wantBlocked {
				t.Errorf("Blocked = %v, want %v (reason %q)", d.Blocked, tt.wantBlocked, d.Reason)
			}
			if d.Blocked && !strings.HasPrefix(d.Reason, "Path traversal detected") {
				t.Errorf("Reason = %q", d.Reason)
			}
		})
	}
}

func TestPathGuardStage_CustomKeys(t *testing.T) {
	stage, err := NewPathGuardStage(t.TempDir(), []string{"source", "destination"})
	if err != nil {
		t.Fatal(err)
	}
	d, _ := stage.Evaluate(context.Background(), evalCtx("move_file", map[string]any{
		"source":      "a.txt",
		"destination": "../../b.txt",
	}))
	if !d.Blocked {
		t.Error("destination outside the sandbox should block")
	}
}

func TestNewPathGuardStage_EmptyRoot(t *testing.T) {
	if _, err := NewPathGuardStage("", nil); err == nil {
		t.Error("expected error for empty root")
	}
}
