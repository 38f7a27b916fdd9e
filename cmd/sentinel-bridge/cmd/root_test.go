package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/auth"
)

// executeArgs runs the root command with args and returns the exit code and
// captured stdout.
func executeArgs(t *testing.T, args ...string) (int, string) {
	t.Helper()
	viper.Reset()
	t.Cleanup(func() {
		viper.Reset()
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		cfgFile = ""
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	code := execute()
	return code, out.String()
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCommands_Registered(t *testing.T) {
	want := map[string]bool{"start": false, "scan": false, "check": false, "hash-token": false, "version": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("%s command not registered with rootCmd", name)
		}
	}
}

func TestExitError(t *testing.T) {
	inner := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", &exitError{code: 2, err: inner})

	var ee *exitError
	if !errors.As(err, &ee) || ee.code != 2 {
		t.Fatalf("errors.As failed: %v", err)
	}
	if !errors.Is(err, inner) {
		t.Error("exitError should unwrap to its cause")
	}
	if got := (&exitError{code: 3}).Error(); got != "exit status 3" {
		t.Errorf("Error() = %q", got)
	}
}

func TestVersionCommand(t *testing.T) {
	code, out := executeArgs(t, "version")
	if code != 0 {
		t.Fatalf("code = %d", code)
	}
	if !strings.HasPrefix(out, "sentinel-bridge "+Version) {
		t.Errorf("output = %q", out)
	}
}

func TestHashTokenCommand_GivenToken(t *testing.T) {
	code, out := executeArgs(t, "hash-token", "s3cret")
	if code != 0 {
		t.Fatalf("code = %d", code)
	}
	hash := strings.TrimSpace(strings.TrimPrefix(out, "hash:"))
	ok, err := auth.VerifyToken("s3cret", hash)
	if err != nil || !ok {
		t.Errorf("VerifyToken(%q) = %v, %v", hash, ok, err)
	}
}

func TestHashTokenCommand_Generated(t *testing.T) {
	code, out := executeArgs(t, "hash-token")
	if code != 0 {
		t.Fatalf("code = %d", code)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("want token and hash lines, got %q", out)
	}
	token := strings.TrimSpace(strings.TrimPrefix(lines[0], "token:"))
	hash := strings.TrimSpace(strings.TrimPrefix(lines[1], "hash:"))
	if len(token) != 64 {
		t.Errorf("token length = %d, want 64", len(token))
	}
	ok, err := auth.VerifyToken(token, hash)
	if err != nil || !ok {
		t.Errorf("generated token does not verify: %v, %v", ok, err)
	}
}

func TestCheckCommand(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.yaml", "rules:\n  - id: r1\n    tool_match: \"delete_*\"\n    condition: \"true\"\n    action: block\n    reason: no deletes\n")
	bad := writeFile(t, dir, "bad.yaml", "rules:\n  - id: r1\n    tool_match: \"*\"\n    condition: \"tool_name ==\"\n    action: block\n")

	tests := []struct {
		name     string
		config   string
		wantCode int
		wantOut  string
	}{
		{name: "built-in rules", config: "logging:\n  level: info\n", wantCode: 0, wantOut: "policy: built-in rules"},
		{name: "valid policy", config: "policy:\n  file: " + good + "\n", wantCode: 0, wantOut: "ok"},
		{name: "broken policy", config: "policy:\n  file: " + bad + "\n", wantCode: 2},
		{name: "invalid config", config: "logging:\n  level: loud\n", wantCode: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeFile(t, t.TempDir(), "sentinel-bridge.yaml", tt.config)
			code, out := executeArgs(t, "--config", cfgPath, "check")
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d (output %q)", code, tt.wantCode, out)
			}
			if tt.wantOut != "" && !strings.Contains(out, tt.wantOut) {
				t.Errorf("output = %q, want containing %q", out, tt.wantOut)
			}
		})
	}
}

func TestStartCommand_RequiresServerCommand(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "sentinel-bridge.yaml", "logging:\n  level: error\n")
	code, _ := executeArgs(t, "--config", cfgPath, "start")
	if code != 1 {
		t.Errorf("code = %d, want 1", code)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]string{
		"debug":   "DEBUG",
		"WARN":    "WARN",
		"warning": "WARN",
		"error":   "ERROR",
		"":        "INFO",
		"other":   "INFO",
	}
	for in, want := range tests {
		if got := parseLogLevel(in).String(); got != want {
			t.Errorf("parseLogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
