package mcp

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"
)

func readAll(t *testing.T, f *Framer) []string {
	t.Helper()
	var out []string
	for {
		frame, err := f.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		out = append(out, string(frame))
	}
}

func TestFramer_SplitsLines(t *testing.T) {
	input := "{\"a\":1}\n{\"b\":2}\n"
	f := NewFramer(strings.NewReader(input), 0)

	got := readAll(t, f)
	want := []string{`{"a":1}`, `{"b":2}`}
	if len(got) != len(want) {
		t.Fatalf("got %d frames, want %d: %q", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d = %q, want %q", i, got[i], want[i])
		}
	}
	if f.Frames() != 2 {
		t.Errorf("Frames() = %d, want 2", f.Frames())
	}
}

func TestFramer_SkipsBlankLines(t *testing.T) {
	input := "\n   \n\t\n{\"a\":1}\n\n\r\n{\"b\":2}\n \n"
	f := NewFramer(strings.NewReader(input), 0)

	got := readAll(t, f)
	if len(got) != 2 {
		t.Fatalf("got %d frames, want 2: %q", len(got), got)
	}
	if f.Skipped() != 6 {
		t.Errorf("Skipped() = %d, want 6", f.Skipped())
	}
}

func TestFramer_OnlyBlankLines(t *testing.T) {
	f := NewFramer(strings.NewReader("\n\n  \n"), 0)
	if got := readAll(t, f); len(got) != 0 {
		t.Errorf("got frames %q, want none", got)
	}
}

func TestFramer_KeepsCarriageReturn(t *testing.T) {
	f := NewFramer(strings.NewReader("{\"a\":1}\r\n"), 0)
	got := readAll(t, f)
	if len(got) != 1 || got[0] != "{\"a\":1}\r" {
		t.Errorf("got %q, want frame with trailing carriage return", got)
	}
}

func TestFramer_FinalLineWithoutNewline(t *testing.T) {
	f := NewFramer(strings.NewReader("{\"a\":1}\n{\"b\":2}"), 0)
	got := readAll(t, f)
	if len(got) != 2 || got[1] != `{"b":2}` {
		t.Errorf("got %q, want final unterminated frame", got)
	}
}

func TestFramer_FrameTooLarge(t *testing.T) {
	input := strings.Repeat("x", 128) + "\n"
	f := NewFramer(strings.NewReader(input), 64)

	_, err := f.Next()
	if !errors.Is(err, bufio.ErrTooLong) {
		t.Errorf("Next() error = %v, want bufio.ErrTooLong", err)
	}
}

func TestFramer_ReturnsCopies(t *testing.T) {
	f := NewFramer(strings.NewReader("first\nsecond\n"), 0)
	first, err := f.Next()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Next(); err != nil {
		t.Fatal(err)
	}
	if string(first) != "first" {
		t.Errorf("first frame mutated to %q", first)
	}
}

func TestFramer_ReadError(t *testing.T) {
	pr, pw := io.Pipe()
	wantErr := errors.New("broken pipe")
	go func() {
		_, _ = pw.Write([]byte("{\"a\":1}\n"))
		pw.CloseWithError(wantErr)
	}()

	f := NewFramer(pr, 0)
	if _, err := f.Next(); err != nil {
		t.Fatalf("first Next() error = %v", err)
	}
	if _, err := f.Next(); !errors.Is(err, wantErr) {
		t.Errorf("second Next() error = %v, want %v", err, wantErr)
	}
}

func TestAppendFrame(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "abc", want: "abc\n"},
		{in: "abc\n", want: "abc\n"},
		{in: "", want: "\n"},
	}
	for _, tt := range tests {
		if got := string(AppendFrame([]byte(tt.in))); got != tt.want {
			t.Errorf("AppendFrame(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
