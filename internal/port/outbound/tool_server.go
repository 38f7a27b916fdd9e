// Package outbound defines the outbound port for the downstream tool server.
package outbound

import (
	"context"
	"io"
)

// ToolServer is the outbound port for the single downstream tool server
// process the bridge fronts.
type ToolServer interface {
	// Start launches the server. It returns the server's stdin (for sending)
	// and stdout (for receiving).
	Start(ctx context.Context) (stdin io.WriteCloser, stdout io.ReadCloser, err error)

	// Wait blocks until the server process exits and returns its exit error.
	// It may be called from several goroutines.
	Wait() error

	// Terminate asks the server to stop and kills it if it has not exited
	// within the stop timeout.
	Terminate() error

	// Close terminates the server and releases all pipes.
	Close() error
}
