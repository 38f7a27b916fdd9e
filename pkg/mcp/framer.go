package mcp

import (
	"bufio"
	"bytes"
	"io"
)

const (
	// DefaultInitialBufferSize is the scanner's starting buffer.
	DefaultInitialBufferSize = 256 * 1024
	// DefaultMaxFrameSize bounds a single line. MCP responses carrying file
	// contents can be large.
	DefaultMaxFrameSize = 16 * 1024 * 1024
)

// Framer splits a byte stream into newline-delimited frames.
//
// Each frame is returned without its terminating "\n". Lines that are empty
// or contain only whitespace are consumed and never returned. Framer is not
// safe for concurrent use; each relay owns its own.
type Framer struct {
	scanner *bufio.Scanner
	frames  int64
	skipped int64
}

// NewFramer creates a Framer reading from r. maxFrameSize <= 0 selects
// DefaultMaxFrameSize.
func NewFramer(r io.Reader, maxFrameSize int) *Framer {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	initial := DefaultInitialBufferSize
	if initial > maxFrameSize {
		initial = maxFrameSize
	}
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, initial), maxFrameSize)
	s.Split(splitFrames)
	return &Framer{scanner: s}
}

// splitFrames is bufio.ScanLines without carriage return stripping, so
// forwarded frames stay byte-identical.
func splitFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Next returns the next non-blank frame. The returned slice is a copy owned by
// the caller. At end of stream it returns io.EOF; any other error is the
// underlying read error (including bufio.ErrTooLong for oversized frames).
func (f *Framer) Next() ([]byte, error) {
	for f.scanner.Scan() {
		line := f.scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			f.skipped++
			continue
		}
		f.frames++

		// Scanner reuses its buffer on the next Scan.
		frame := make([]byte, len(line))
		copy(frame, line)
		return frame, nil
	}
	if err := f.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Frames returns how many frames have been returned so far.
func (f *Framer) Frames() int64 { return f.frames }

// Skipped returns how many blank lines were consumed.
func (f *Framer) Skipped() int64 { return f.skipped }

// AppendFrame returns frame terminated by exactly one "\n". A frame that
// already ends in "\n" is returned unchanged.
func AppendFrame(frame []byte) []byte {
	if len(frame) > 0 && frame[len(frame)-1] == '\n' {
		return frame
	}
	out := make([]byte, len(frame)+1)
	copy(out, frame)
	out[len(frame)] = '\n'
	return out
}
