// Package session ties one inference server process to the dispatcher and
// tool façades that talk to it. Every session owns its own endpoint, so
// several sessions can run side by side.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-toolkit/internal/config"
	"github.com/book-expert/voice-toolkit/internal/core"
	"github.com/book-expert/voice-toolkit/internal/dispatch"
	"github.com/book-expert/voice-toolkit/internal/observability"
	"github.com/book-expert/voice-toolkit/internal/supervisor"
	"github.com/book-expert/voice-toolkit/internal/tools"
)

// Session is a running, ready inference server together with its tools.
type Session struct {
	supervisor *supervisor.Supervisor
	dispatcher *dispatch.Dispatcher
	toolkit    *tools.Toolkit
	log        *logger.Logger
}

// Start launches the server on the first free port of the configured range,
// waits for it to report readiness and wires the tool façades to it.
// onProgress, when not nil, sees every readiness check.
func Start(
	ctx context.Context,
	cfg *config.Config,
	log *logger.Logger,
	metrics *observability.Metrics,
	onProgress func(ready bool),
) (*Session, error) {
	server := cfg.Server

	port, err := supervisor.FindAvailablePort(server.Host, server.PortRangeStart, server.PortRangeEnd)
	if err != nil {
		return nil, err
	}

	env, err := cfg.ServerEnv()
	if err != nil {
		return nil, err
	}

	endpoint := core.Endpoint{Host: server.Host, Port: port}

	sup, err := supervisor.Start(supervisor.Options{
		ExecutablePath: server.ExecutablePath,
		Interpreter:    server.Interpreter,
		ExtraArgs:      server.ExtraArgs,
		Endpoint:       endpoint,
		LogPath:        server.LogPath,
		Env:            env,
	}, log)
	if err != nil {
		return nil, err
	}

	started := time.Now()

	err = waitReady(ctx, sup, server.StartupTimeout(), onProgress)
	if err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout())
		defer cancel()

		stopErr := sup.Stop(stopCtx)
		if stopErr != nil {
			log.Warn("Failed to stop server after startup failure: %v", stopErr)
		}

		return nil, err
	}

	metrics.ObserveStartup(time.Since(started))

	dispatcher, err := dispatch.New(dispatch.Options{
		Endpoint:    endpoint,
		Lines:       sup,
		Timeout:     server.RequestTimeout(),
		OutputGrace: server.OutputGrace(),
		Metrics:     metrics,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	toolkit := tools.NewToolkit(dispatcher, tools.Options{
		Stopper:         sup,
		ShutdownTimeout: server.ShutdownTimeout(),
		Metrics:         metrics,
	}, log)

	log.System("Session ready on %s (pid %d)", endpoint.BaseURL(), sup.Pid())

	return &Session{
		supervisor: sup,
		dispatcher: dispatcher,
		toolkit:    toolkit,
		log:        log,
	}, nil
}

func waitReady(ctx context.Context, sup *supervisor.Supervisor, timeout time.Duration, onProgress func(bool)) error {
	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return sup.WaitReady(ctx, onProgress)
}

// Endpoint returns the address the server is bound to.
func (s *Session) Endpoint() core.Endpoint {
	return s.dispatcher.Endpoint()
}

// Tools returns the façades bound to this session's server.
func (s *Session) Tools() *tools.Toolkit {
	return s.toolkit
}

// Pid returns the server's process id.
func (s *Session) Pid() int {
	return s.supervisor.Pid()
}

// Done is closed once the server process has exited.
func (s *Session) Done() <-chan struct{} {
	return s.supervisor.Done()
}

// Run looks up the named operation and runs it with params decoded by
// decode on top of the operation's defaults.
func (s *Session) Run(ctx context.Context, name string, params []byte, decode tools.Decoder) error {
	op, err := tools.Lookup(name)
	if err != nil {
		return err
	}

	return op.Run(ctx, s.toolkit, params, decode)
}

// Close asks the server to terminate and waits, bounded by the shutdown
// timeout, for it to exit.
func (s *Session) Close(ctx context.Context) error {
	s.log.Info("Closing session on %s", s.Endpoint().BaseURL())

	return s.toolkit.Terminate(ctx)
}
