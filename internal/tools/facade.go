// Package tools exposes one façade per server tool. Each operation turns
// its options into request parameters, dispatches them and classifies the
// captured server output.
package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-toolkit/internal/core"
	"github.com/book-expert/voice-toolkit/internal/dispatch"
	"github.com/book-expert/voice-toolkit/internal/observability"
)

// Server paths.
const (
	PathProcessAudio         = "/processAudio"
	PathVPRInfer             = "/vpr_infer"
	PathASRInfer             = "/asr_infer"
	PathGPTSoVITSDataset     = "/gptsovits_createDataset"
	PathGPTSoVITSTrain       = "/gptsovits_train"
	PathGPTSoVITSInferWebUI  = "/gptsovits_infer_webui"
	PathGPTSoVITSInferInit   = "/gptsovits_infer_init"
	PathGPTSoVITSInferHandle = "/gptsovits_infer_handle"
	PathTerminate            = "/terminate"
)

const defaultShutdownTimeout = 10 * time.Second

// Static errors.
var (
	ErrMissingParameter = errors.New("missing required parameter")
	ErrInvalidParameter = errors.New("invalid parameter value")
)

func missing(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingParameter, name)
}

func invalid(name string, value any) error {
	return fmt.Errorf("%w: %s=%v", ErrInvalidParameter, name, value)
}

// Sender is the subset of the dispatcher the façades depend on.
type Sender interface {
	Send(ctx context.Context, method, path string, params *dispatch.Params) (*dispatch.Output, error)
	Post(ctx context.Context, path string) error
}

// Options are shared by every façade of one session.
type Options struct {
	// Stopper is asked to stop the server after a terminate request. Nil
	// leaves the process alone.
	Stopper core.ProcessStopper

	// ShutdownTimeout bounds the wait for the server to exit on Terminate.
	ShutdownTimeout time.Duration

	Metrics *observability.Metrics
}

// facade carries the plumbing every tool shares.
type facade struct {
	tool            string
	sender          Sender
	stopper         core.ProcessStopper
	shutdownTimeout time.Duration
	metrics         *observability.Metrics
	log             *logger.Logger
}

func newFacade(tool string, sender Sender, opts Options, log *logger.Logger) facade {
	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	return facade{
		tool:            tool,
		sender:          sender,
		stopper:         opts.Stopper,
		shutdownTimeout: timeout,
		metrics:         opts.Metrics,
		log:             log,
	}
}

// call dispatches params to path and turns the captured output into an
// error. A timeout takes precedence over the output heuristic, which takes
// precedence over transport and status errors.
func (f *facade) call(ctx context.Context, path string, params *dispatch.Params) error {
	out, err := f.sender.Send(ctx, http.MethodGet, path, params)

	if errors.Is(err, dispatch.ErrRequestTimeout) {
		f.metrics.IncToolFailure(f.tool, "timeout")
		f.log.Error("%s %s: %v", f.tool, path, err)

		return fmt.Errorf("%s: %w", f.tool, err)
	}

	classified := Classify(out)
	if classified != nil {
		var callErr *CallError
		if errors.As(classified, &callErr) {
			f.metrics.IncToolFailure(f.tool, string(callErr.Kind))
		}

		f.log.Error("%s %s failed (%v)", f.tool, path, classified)

		return classified
	}

	if err != nil {
		f.metrics.IncToolFailure(f.tool, "request")
		f.log.Error("%s %s: %v", f.tool, path, err)

		return fmt.Errorf("%s: %w", f.tool, err)
	}

	f.log.Info("%s %s succeeded", f.tool, path)

	return nil
}

// Terminate asks the server to shut down and waits, bounded by the
// shutdown timeout, for the process to exit. A failed terminate request is
// only logged; the process is stopped either way.
func (f *facade) Terminate(ctx context.Context) error {
	err := f.sender.Post(ctx, PathTerminate)
	if err != nil {
		f.log.Warn("%s: terminate request: %v", f.tool, err)
	}

	if f.stopper == nil {
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, f.shutdownTimeout)
	defer cancel()

	stopErr := f.stopper.Stop(stopCtx)
	if stopErr != nil {
		return fmt.Errorf("%s: failed to stop server: %w", f.tool, stopErr)
	}

	return nil
}
