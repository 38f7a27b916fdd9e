package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/audit"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// makeRecord creates a test EventRecord with the given timestamp and reason.
func makeRecord(ts time.Time, reason string) audit.EventRecord {
	return audit.EventRecord{
		Action:    "allow",
		Tool:      "read_file",
		Agent:     "claude-desktop",
		Reason:    reason,
		Severity:  "low",
		Stage:     "policy",
		Timestamp: ts,
		SessionID: "sess-1",
	}
}

func newTestStore(t *testing.T, dir string) *FileStore {
	t.Helper()
	store, err := NewFileStore(Config{Dir: dir}, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	return store
}

func TestNewFileStore_CreatesDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "subdir", "events")
	store := newTestStore(t, dir)
	defer func() { _ = store.Close() }()

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("Directory not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		t.Errorf("Directory permissions = %o, want 0700", perm)
	}

	today := time.Now().UTC().Format(dateLayout)
	if got, want := store.CurrentFile(), filepath.Join(dir, "events-"+today+".jsonl"); got != want {
		t.Errorf("CurrentFile() = %q, want %q", got, want)
	}
}

func TestFileStore_AppendWritesJSONLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := newTestStore(t, dir)

	ctx := context.Background()
	now := time.Now().UTC()
	for i := 1; i <= 3; i++ {
		if err := store.Append(ctx, makeRecord(now, fmt.Sprintf("r-%d", i))); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}
	if err := store.Flush(ctx); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, buildFilename(now.Format(dateLayout), 0)))
	if err != nil {
		t.Fatalf("Failed to read event file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected 3 lines, got %d", len(lines))
	}
	for i, line := range lines {
		if strings.Contains(line, "\n  ") {
			t.Errorf("Line %d is indented", i)
		}
		var decoded audit.EventRecord
		if err := json.Unmarshal([]byte(line), &decoded); err != nil {
			t.Errorf("Line %d is not valid JSON: %v", i, err)
			continue
		}
		if want := fmt.Sprintf("r-%d", i+1); decoded.Reason != want {
			t.Errorf("Line %d Reason = %q, want %q", i, decoded.Reason, want)
		}
	}
}

func TestFileStore_DateRotation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := newTestStore(t, dir)

	ctx := context.Background()
	day1 := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)

	if err := store.Append(ctx, makeRecord(day1, "day1")); err != nil {
		t.Fatalf("Append() day1 error: %v", err)
	}
	if err := store.Append(ctx, makeRecord(day2, "day2")); err != nil {
		t.Fatalf("Append() day2 error: %v", err)
	}
	_ = store.Close()

	data1, err := os.ReadFile(filepath.Join(dir, "events-2026-02-01.jsonl"))
	if err != nil {
		t.Fatalf("Day 1 file not found: %v", err)
	}
	data2, err := os.ReadFile(filepath.Join(dir, "events-2026-02-02.jsonl"))
	if err != nil {
		t.Fatalf("Day 2 file not found: %v", err)
	}
	if !strings.Contains(string(data1), "day1") || strings.Contains(string(data1), "day2") {
		t.Errorf("Day 1 file = %q", data1)
	}
	if !strings.Contains(string(data2), "day2") {
		t.Errorf("Day 2 file = %q", data2)
	}
}

func TestFileStore_SizeRotation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := newTestStore(t, dir)
	// Small cap so a few records force rotation.
	store.maxFileSize = 500

	ctx := context.Background()
	now := time.Now().UTC()
	for i := 0; i < 20; i++ {
		rec := makeRecord(now, strings.Repeat("x", 50))
		if err := store.Append(ctx, rec); err != nil {
			t.Fatalf("Append() error at record %d: %v", i, err)
		}
	}
	_ = store.Close()

	date := now.Format(dateLayout)
	for _, name := range []string{buildFilename(date, 0), buildFilename(date, 1)} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not found: %v", name, err)
		}
	}
}

func TestNewFileStore_ResumesHighestSuffix(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	today := time.Now().UTC().Format(dateLayout)
	for _, suffix := range []int{0, 1, 2} {
		path := filepath.Join(dir, buildFilename(today, suffix))
		if err := os.WriteFile(path, []byte("{}\n"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	store := newTestStore(t, dir)
	defer func() { _ = store.Close() }()

	if got, want := store.CurrentFile(), filepath.Join(dir, buildFilename(today, 2)); got != want {
		t.Errorf("CurrentFile() = %q, want %q", got, want)
	}
}

func TestFileStore_RetentionCleanup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	oldName := buildFilename(time.Now().UTC().AddDate(0, 0, -10).Format(dateLayout), 0)
	oldSuffixed := buildFilename(time.Now().UTC().AddDate(0, 0, -10).Format(dateLayout), 3)
	recentName := buildFilename(time.Now().UTC().AddDate(0, 0, -3).Format(dateLayout), 0)
	unrelated := "notes.txt"
	for _, name := range []string{oldName, oldSuffixed, recentName, unrelated} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}\n"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	store, err := NewFileStore(Config{Dir: dir, RetentionDays: 7}, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	defer func() { _ = store.Close() }()

	for _, name := range []string{oldName, oldSuffixed} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Errorf("%s should have been deleted by retention cleanup", name)
		}
	}
	for _, name := range []string{recentName, unrelated} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s should NOT have been deleted", name)
		}
	}
}

func TestFileStore_AppendAfterClose(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, t.TempDir())
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	if err := store.Append(context.Background(), makeRecord(time.Now(), "late")); err == nil {
		t.Error("Append() after Close should fail")
	}
	if err := store.Append(context.Background()); err != nil {
		t.Errorf("empty Append() should be a no-op, got %v", err)
	}
}

func TestFileStore_ConcurrentAppend(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := newTestStore(t, dir)

	const goroutines = 10
	const perGoroutine = 50
	now := time.Now().UTC()

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				_ = store.Append(context.Background(), makeRecord(now, fmt.Sprintf("g%d-%d", id, i)))
			}
		}(g)
	}
	wg.Wait()
	_ = store.Close()

	history, err := History(dir, goroutines*perGoroutine*2, testLogger())
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(history) != goroutines*perGoroutine {
		t.Errorf("History() returned %d records, want %d", len(history), goroutines*perGoroutine)
	}
}

func TestHistory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	older := filepath.Join(dir, "events-2026-01-01.jsonl")
	newer := filepath.Join(dir, "events-2026-01-02.jsonl")
	empty := filepath.Join(dir, "events-2026-01-02-1.jsonl")

	if err := os.WriteFile(older, []byte(`{"reason":"old"}`+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	content := `{"reason":"a"}` + "\n" + "not json\n" + "\n" + `{"reason":"b"}` + "\n" + `{"reason":"c"}` + "\n"
	if err := os.WriteFile(newer, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(empty, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := History(dir, 2, testLogger())
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(got) != 2 || got[0].Reason != "b" || got[1].Reason != "c" {
		t.Errorf("History() = %+v, want [b c]", got)
	}

	all, _ := History(dir, 100, testLogger())
	if len(all) != 3 {
		t.Errorf("History(100) returned %d records, want 3 (malformed skipped)", len(all))
	}
}

func TestHistory_EmptyDir(t *testing.T) {
	t.Parallel()

	got, err := History(t.TempDir(), 10, testLogger())
	if err != nil || got != nil {
		t.Errorf("History(empty) = %v, %v", got, err)
	}
	if got, _ := History(t.TempDir(), 0, testLogger()); got != nil {
		t.Errorf("History(n=0) = %v", got)
	}
}

func TestParseFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		ok     bool
		date   string
		suffix int
	}{
		{"events-2026-03-04.jsonl", true, "2026-03-04", 0},
		{"events-2026-03-04-12.jsonl", true, "2026-03-04", 12},
		{"events-2026-03-04.log", false, "", 0},
		{"audit-2026-03-04.jsonl", false, "", 0},
		{"events-26-03-04.jsonl", false, "", 0},
	}
	for _, tt := range tests {
		info, ok := parseFilename(tt.name)
		if ok != tt.ok || info.date != tt.date || info.suffix != tt.suffix {
			t.Errorf("parseFilename(%q) = %+v, %v", tt.name, info, ok)
		}
	}
}
