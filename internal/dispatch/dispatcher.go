// Package dispatch sends parameterized requests to the inference server and
// captures the server's output while each request is in flight.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-toolkit/internal/core"
	"github.com/book-expert/voice-toolkit/internal/observability"
	"github.com/google/uuid"
)

const (
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json"

	maxResponseBody = 1 << 20

	// DefaultOutputGrace is how long the output must stay quiet after the
	// response before a request's capture is closed.
	DefaultOutputGrace = 200 * time.Millisecond

	// trailingLimit caps the trailing capture at this many grace periods.
	trailingLimit = 20

	outcomeOK        = "ok"
	outcomeStatus    = "status"
	outcomeTimeout   = "timeout"
	outcomeTransport = "transport"
)

// Static errors.
var (
	ErrRequestTimeout = errors.New("request timed out")
	ErrNoLineSource   = errors.New("dispatcher requires a line source")
)

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned status %d for %s %s: %s", e.StatusCode, e.Method, e.Path, e.Body)
}

// Output is everything captured during one dispatched request.
type Output struct {
	Stdout     []byte
	Stderr     []byte
	StatusCode int
	Body       []byte
}

func (o *Output) append(line core.Line) {
	if line.Stream == core.Stderr {
		o.Stderr = append(append(o.Stderr, line.Text...), '\n')

		return
	}

	o.Stdout = append(append(o.Stdout, line.Text...), '\n')
}

// Options configures a Dispatcher.
type Options struct {
	Endpoint core.Endpoint
	Lines    core.LineSource

	// Timeout bounds every Send call. Zero means no bound beyond ctx.
	Timeout time.Duration

	// OutputGrace is the quiet period awaited after the response so that
	// lines still in the pipes are credited to the request. Zero selects
	// DefaultOutputGrace and a negative value disables the wait.
	OutputGrace time.Duration

	HTTPClient *http.Client
	Metrics    *observability.Metrics
}

// Dispatcher issues requests against one server and drains that server's
// output. Only one Send runs at a time, so captured lines always belong to
// exactly one request.
type Dispatcher struct {
	mu       sync.Mutex
	endpoint core.Endpoint
	lines    core.LineSource
	timeout  time.Duration
	grace    time.Duration
	client   *http.Client
	metrics  *observability.Metrics
	log      *logger.Logger
}

// New creates a dispatcher bound to the given endpoint.
func New(opts Options, log *logger.Logger) (*Dispatcher, error) {
	if opts.Lines == nil {
		return nil, ErrNoLineSource
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	grace := opts.OutputGrace
	if grace == 0 {
		grace = DefaultOutputGrace
	}

	return &Dispatcher{
		endpoint: opts.Endpoint,
		lines:    opts.Lines,
		timeout:  opts.Timeout,
		grace:    grace,
		client:   client,
		metrics:  opts.Metrics,
		log:      log,
	}, nil
}

// Endpoint returns the server endpoint this dispatcher talks to.
func (d *Dispatcher) Endpoint() core.Endpoint {
	return d.endpoint
}

type callResult struct {
	statusCode int
	body       []byte
	err        error
}

// Send serializes params as the JSON body of a method request to path,
// runs the request in the background and accumulates every server output
// line until the request completes and the output has been quiet for the
// grace period. The returned Output is never nil, even when an error is
// returned.
func (d *Dispatcher) Send(ctx context.Context, method, path string, params *Params) (*Output, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := &Output{}

	body, err := json.Marshal(params)
	if err != nil {
		return out, fmt.Errorf("failed to marshal request parameters: %w", err)
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	lines := d.lines.Lines()
	stale := len(drainLines(lines))

	requestID := uuid.NewString()
	d.log.Info("[%s] %s %s (%d params, %d stale lines discarded)", requestID, method, path, params.Len(), stale)

	start := time.Now()
	results := make(chan callResult, 1)

	go func() {
		results <- d.do(ctx, method, path, body)
	}()

	var captured [2]int

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				// The server is gone; keep waiting for the request to fail.
				lines = nil

				continue
			}

			captured[line.Stream]++

			out.append(line)
		case res := <-results:
			for line := range d.trailing(lines) {
				captured[line.Stream]++

				out.append(line)
			}

			d.metrics.AddCapturedLines(core.Stdout.String(), captured[core.Stdout])
			d.metrics.AddCapturedLines(core.Stderr.String(), captured[core.Stderr])

			return out, d.finish(ctx, requestID, method, path, start, res, out)
		}
	}
}

func (d *Dispatcher) finish(
	ctx context.Context,
	requestID, method, path string,
	start time.Time,
	res callResult,
	out *Output,
) error {
	elapsed := time.Since(start)
	out.StatusCode = res.statusCode
	out.Body = res.body

	if res.err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			d.metrics.ObserveRequest(path, outcomeTimeout, elapsed)
			d.log.Error("[%s] %s %s timed out after %s", requestID, method, path, elapsed)

			return fmt.Errorf("%w: %s %s after %s", ErrRequestTimeout, method, path, elapsed.Round(time.Millisecond))
		}

		d.metrics.ObserveRequest(path, outcomeTransport, elapsed)
		d.log.Error("[%s] %s %s failed: %v", requestID, method, path, res.err)

		return fmt.Errorf("failed to send request to %s: %w", d.endpoint.BaseURL(), res.err)
	}

	if res.statusCode < http.StatusOK || res.statusCode >= http.StatusMultipleChoices {
		d.metrics.ObserveRequest(path, outcomeStatus, elapsed)
		d.log.Warn("[%s] %s %s returned status %d", requestID, method, path, res.statusCode)

		return &StatusError{Method: method, Path: path, StatusCode: res.statusCode, Body: string(res.body)}
	}

	d.metrics.ObserveRequest(path, outcomeOK, elapsed)
	d.log.Info("[%s] %s %s completed in %s (stdout %d bytes, stderr %d bytes)",
		requestID, method, path, elapsed.Round(time.Millisecond), len(out.Stdout), len(out.Stderr))

	return nil
}

func (d *Dispatcher) do(ctx context.Context, method, path string, body []byte) callResult {
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.endpoint.BaseURL()+path, reader)
	if err != nil {
		return callResult{err: fmt.Errorf("failed to create request: %w", err)}
	}

	if body != nil {
		req.Header.Set(headerContentType, contentTypeJSON)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return callResult{err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return callResult{statusCode: resp.StatusCode, err: fmt.Errorf("failed to read response: %w", err)}
	}

	return callResult{statusCode: resp.StatusCode, body: respBody}
}

// Post sends a bodiless POST to path without capturing server output and
// reports transport failures and non-2xx answers as errors.
func (d *Dispatcher) Post(ctx context.Context, path string) error {
	res := d.do(ctx, http.MethodPost, path, nil)
	if res.err != nil {
		return fmt.Errorf("failed to send request to %s: %w", d.endpoint.BaseURL(), res.err)
	}

	if res.statusCode < http.StatusOK || res.statusCode >= http.StatusMultipleChoices {
		return &StatusError{Method: http.MethodPost, Path: path, StatusCode: res.statusCode, Body: string(res.body)}
	}

	return nil
}

// trailing yields the lines written around the time the response arrived:
// it reads until the stream has been quiet for the grace period, the stream
// closes or the trailing limit is reached.
func (d *Dispatcher) trailing(lines <-chan core.Line) iter.Seq[core.Line] {
	return func(yield func(core.Line) bool) {
		if d.grace < 0 || lines == nil {
			for _, line := range drainLines(lines) {
				if !yield(line) {
					return
				}
			}

			return
		}

		quiet := time.NewTimer(d.grace)
		defer quiet.Stop()

		limit := time.NewTimer(trailingLimit * d.grace)
		defer limit.Stop()

		for {
			select {
			case line, ok := <-lines:
				if !ok || !yield(line) {
					return
				}

				quiet.Reset(d.grace)
			case <-quiet.C:
				return
			case <-limit.C:
				return
			}
		}
	}
}

// drainLines returns every line already queued without blocking.
func drainLines(lines <-chan core.Line) []core.Line {
	var drained []core.Line

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return drained
			}

			drained = append(drained, line)
		default:
			return drained
		}
	}
}
