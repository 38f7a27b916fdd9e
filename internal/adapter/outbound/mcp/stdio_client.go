// Package mcp launches the downstream tool server as a subprocess.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/port/outbound"
)

// DefaultStopTimeout is how long Terminate waits before killing the server.
const DefaultStopTimeout = 5 * time.Second

// ErrNotStarted is returned by Wait before Start.
var ErrNotStarted = errors.New("server not started")

// StdioClient runs the tool server as a subprocess speaking on its
// stdin/stdout. Its stderr is passed through. It implements
// outbound.ToolServer.
type StdioClient struct {
	command     string
	args        []string
	dir         string
	env         []string
	stderr      io.Writer
	stopTimeout time.Duration

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	done   chan struct{}
	err    error
}

// StdioOption configures a StdioClient.
type StdioOption func(*StdioClient)

// WithDir sets the working directory of the server process.
func WithDir(dir string) StdioOption {
	return func(c *StdioClient) {
		c.dir = dir
	}
}

// WithEnv appends environment variables ("KEY=value") to the inherited
// environment.
func WithEnv(env ...string) StdioOption {
	return func(c *StdioClient) {
		c.env = append(c.env, env...)
	}
}

// WithStderr redirects the server's stderr. Default is os.Stderr.
func WithStderr(w io.Writer) StdioOption {
	return func(c *StdioClient) {
		c.stderr = w
	}
}

// WithStopTimeout sets the grace period between the stop signal and kill.
func WithStopTimeout(d time.Duration) StdioOption {
	return func(c *StdioClient) {
		if d > 0 {
			c.stopTimeout = d
		}
	}
}

// NewStdioClient creates a client for the given server command.
func NewStdioClient(command string, args []string, opts ...StdioOption) *StdioClient {
	c := &StdioClient{
		command:     command,
		args:        args,
		stderr:      os.Stderr,
		stopTimeout: DefaultStopTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the server subprocess. ctx is only used for the start
// itself; stopping is done with Terminate so the server gets its grace
// period.
//
// Stdout is a plain os.Pipe owned by the caller through the returned
// reader, so the exit of the process never closes it under a reader that
// has not drained it yet.
func (c *StdioClient) Start(ctx context.Context) (io.WriteCloser, io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd != nil {
		return nil, nil, errors.New("server already started")
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	cmd := exec.Command(c.command, c.args...)
	cmd.Dir = c.dir
	if len(c.env) > 0 {
		cmd.Env = append(os.Environ(), c.env...)
	}
	cmd.Stderr = c.stderr
	prepareCommand(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return nil, nil, fmt.Errorf("failed to start server: %w", err)
	}
	// The child holds its own copy of the write end.
	_ = stdoutW.Close()

	c.cmd = cmd
	c.stdin = stdin
	c.stdout = stdoutR
	c.done = make(chan struct{})
	go c.wait(cmd, c.done)

	return stdin, stdoutR, nil
}

func (c *StdioClient) wait(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	close(done)
}

// Pid returns the server process id, or 0 before Start.
func (c *StdioClient) Pid() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Done is closed when the server process has exited. It is nil before Start.
func (c *StdioClient) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Wait blocks until the server process exits. Returns nil on a zero exit
// status, *exec.ExitError otherwise.
func (c *StdioClient) Wait() error {
	done := c.Done()
	if done == nil {
		return ErrNotStarted
	}
	<-done

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Terminate sends the graceful stop and kills the process if it is still
// running after the stop timeout. It returns once the process has exited.
func (c *StdioClient) Terminate() error {
	c.mu.Lock()
	cmd, done := c.cmd, c.done
	c.mu.Unlock()
	if cmd == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	default:
	}

	if processIsAlive(cmd.Process) {
		if err := sendGracefulStop(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("stop server: %w", err)
		}
	}

	timer := time.NewTimer(c.stopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
	}

	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill server: %w", err)
	}
	<-done
	return nil
}

// Close closes stdin to signal EOF, terminates the process, and closes the
// stdout reader.
func (c *StdioClient) Close() error {
	c.mu.Lock()
	stdin, stdout := c.stdin, c.stdout
	c.stdin, c.stdout = nil, nil
	c.mu.Unlock()

	var errs []error
	if stdin != nil {
		if err := stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, fmt.Errorf("close stdin: %w", err))
		}
	}
	if err := c.Terminate(); err != nil {
		errs = append(errs, err)
	}
	if stdout != nil {
		if err := stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, fmt.Errorf("close stdout: %w", err))
		}
	}
	return errors.Join(errs...)
}

var _ outbound.ToolServer = (*StdioClient)(nil)
