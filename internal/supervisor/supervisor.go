// Package supervisor launches the inference server as a child process,
// mirrors its output into a log file and reports when it is ready to serve.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-toolkit/internal/core"
)

const (
	logFilePermissions = 0o600
	logDirPermissions  = 0o750

	// outputDrainTimeout bounds how long the pipes may stay open after the
	// server exited, which happens when a forked worker inherited them.
	outputDrainTimeout = 2 * time.Second

	// killGrace bounds the wait for the process group to go away after it
	// was killed.
	killGrace = outputDrainTimeout + 3*time.Second
)

// Options controls how the server subprocess is started.
type Options struct {
	ExecutablePath string
	Interpreter    string
	ExtraArgs      []string
	Endpoint       core.Endpoint

	// LogPath receives every line the server writes. Empty disables the file.
	LogPath string

	// Env is the child environment. Nil inherits the current environment.
	Env []string

	// LineBuffer is the capacity of the shared line channel.
	LineBuffer int
}

// Supervisor owns one running server subprocess.
type Supervisor struct {
	cmd      *exec.Cmd
	endpoint core.Endpoint
	monitor  *monitor
	pipes    [2]*os.File
	logFile  *os.File
	log      *logger.Logger
	exited   chan struct{}
	done     chan struct{}
	waitErr  error
}

// Start spawns the server process and attaches the line monitor.
func Start(opts Options, log *logger.Logger) (*Supervisor, error) {
	if opts.ExecutablePath == "" {
		return nil, ErrExecutableEmpty
	}

	argv := BuildCommand(opts.ExecutablePath, opts.Interpreter, opts.ExtraArgs, opts.Endpoint)

	// #nosec G204 -- the executable comes from the operator's configuration
	cmd := exec.Command(argv[0], argv[1:]...)

	cmd.Env = opts.Env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeQuietly(stdoutR, stdoutW)

		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	isolate(cmd)

	logFile, err := openServerLog(opts.LogPath)
	if err != nil {
		closeQuietly(stdoutR, stdoutW, stderrR, stderrW)

		return nil, err
	}

	err = cmd.Start()

	// The child holds its own copies of the write ends.
	closeQuietly(stdoutW, stderrW)

	if err != nil {
		closeQuietly(stdoutR, stderrR, logFile)

		if isNotFound(err) {
			return nil, &ExecutableNotFoundError{Executable: argv[0]}
		}

		return nil, fmt.Errorf("failed to start server process: %w", err)
	}

	var logWriter io.Writer
	if logFile != nil {
		logWriter = logFile
	}

	s := &Supervisor{
		cmd:      cmd,
		endpoint: opts.Endpoint,
		monitor:  newMonitor(stdoutR, stderrR, logWriter, opts.LineBuffer),
		pipes:    [2]*os.File{stdoutR, stderrR},
		logFile:  logFile,
		log:      log,
		exited:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	go s.reap()

	log.System("Started server (pid %d): %s", cmd.Process.Pid, strings.Join(argv, " "))

	return s, nil
}

func openServerLog(path string) (*os.File, error) {
	if path == "" {
		return nil, nil
	}

	err := os.MkdirAll(filepath.Dir(path), logDirPermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create server log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to open server log '%s': %w", path, err)
	}

	return file, nil
}

func closeQuietly(files ...*os.File) {
	for _, file := range files {
		if file != nil {
			_ = file.Close()
		}
	}
}

// reap waits for the process, then for its output to drain. Pipes still held
// open by a leftover child are closed once outputDrainTimeout has passed.
func (s *Supervisor) reap() {
	s.waitErr = s.cmd.Wait()
	close(s.exited)

	drain := time.NewTimer(outputDrainTimeout)
	defer drain.Stop()

	select {
	case <-s.monitor.done():
	case <-drain.C:
		s.log.Warn("Server (pid %d) exited but its output is still held open, closing it", s.cmd.Process.Pid)
		closeQuietly(s.pipes[0], s.pipes[1])
		<-s.monitor.done()
	}

	closeQuietly(s.pipes[0], s.pipes[1], s.logFile)

	if dropped := s.monitor.dropped.Load(); dropped > 0 {
		s.log.Warn("Server output: %d lines were not delivered to consumers", dropped)
	}

	s.log.Info("Server (pid %d) exited: %v", s.cmd.Process.Pid, s.waitErr)
	close(s.done)
}

// Lines returns the shared output line stream.
func (s *Supervisor) Lines() <-chan core.Line {
	return s.monitor.lines
}

// Endpoint returns the address the server was told to bind.
func (s *Supervisor) Endpoint() core.Endpoint {
	return s.endpoint
}

// Pid returns the process id of the server.
func (s *Supervisor) Pid() int {
	return s.cmd.Process.Pid
}

// Done is closed once the process has exited and its output is drained.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// WaitReady blocks until the server prints its readiness marker. Every
// observed line is reported to onProgress (false until the marker, then
// true once). A ctx deadline is reported as ErrStartupTimeout.
func (s *Supervisor) WaitReady(ctx context.Context, onProgress func(ready bool)) error {
	marker := s.endpoint.Marker()
	ready := false

	for flag := range Readiness(ctx, s.monitor.lines, marker) {
		if onProgress != nil {
			onProgress(flag)
		}

		ready = flag
	}

	if ready {
		s.log.Info("Server is ready on %s", marker)

		return nil
	}

	ctxErr := ctx.Err()
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return fmt.Errorf("%w: marker %q", ErrStartupTimeout, marker)
	}

	if ctxErr != nil {
		return fmt.Errorf("waiting for server readiness: %w", ctxErr)
	}

	<-s.done

	return fmt.Errorf("%w: %v", ErrProcessExited, s.waitErr)
}

// Wait blocks until the process exits or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.waitErr
	case <-ctx.Done():
		return fmt.Errorf("waiting for server exit: %w", ctx.Err())
	}
}

// Stop interrupts the server's process group and kills it if the server has
// not exited when ctx ends. Processes left in the group after the server
// exited are killed as well. Stopping an already exited server is a no-op.
func (s *Supervisor) Stop(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	default:
	}

	pid := s.cmd.Process.Pid

	err := interruptGroup(s.cmd.Process)
	if err != nil {
		s.log.Warn("Failed to interrupt server (pid %d): %v", pid, err)
	}

	select {
	case <-s.exited:
	case <-ctx.Done():
		s.log.Warn("Server (pid %d) did not exit in time, killing it", pid)
	}

	err = killGroup(s.cmd.Process)
	if err != nil {
		return fmt.Errorf("failed to kill server process group %d: %w", pid, err)
	}

	grace := time.NewTimer(killGrace)
	defer grace.Stop()

	select {
	case <-s.done:
		return nil
	case <-grace.C:
		return fmt.Errorf("%w: pid %d", ErrStopTimeout, pid)
	}
}
