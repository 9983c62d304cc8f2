// Package worker provides a NATS worker that runs toolkit operations as jobs.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-toolkit/internal/core"
	"github.com/book-expert/voice-toolkit/internal/dispatch"
	"github.com/book-expert/voice-toolkit/internal/observability"
	"github.com/book-expert/voice-toolkit/internal/tools"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	inputDirPermissions  = 0o750
	inputFilePermissions = 0o600
)

// Error kinds reported in JobResult.ErrorKind.
const (
	KindInvalid  = "invalid"
	KindTimeout  = "timeout"
	KindRequest  = "request"
	KindArtifact = "artifact"
)

// Static errors.
var (
	ErrAlreadyListening = errors.New("worker is already listening")
	ErrOutsideWorkDir   = errors.New("path is outside the work directory")
)

// Runner runs a registered operation with serialized parameters.
type Runner interface {
	Run(ctx context.Context, operation string, params []byte, decode tools.Decoder) error
}

// InputArtifact is fetched from the store to a local path before the
// operation runs. Path, like every artifact path, is resolved under the
// worker's work directory.
type InputArtifact struct {
	Key  string `json:"key"`
	Path string `json:"path"`
}

// JobRequest asks the worker to run one operation. Artifacts are local
// files or directories uploaded once the operation succeeds.
type JobRequest struct {
	JobID     string          `json:"job_id"`
	Operation string          `json:"operation"`
	Params    json.RawMessage `json:"params,omitempty"`
	Inputs    []InputArtifact `json:"inputs,omitempty"`
	Artifacts []string        `json:"artifacts,omitempty"`
}

// JobResult is the reply to a JobRequest.
type JobResult struct {
	JobID        string   `json:"job_id"`
	Operation    string   `json:"operation"`
	OK           bool     `json:"ok"`
	Error        string   `json:"error,omitempty"`
	ErrorKind    string   `json:"error_kind,omitempty"`
	ArtifactKeys []string `json:"artifact_keys,omitempty"`
}

// NatsWorker listens for jobs on a NATS subject and runs them one at a time.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	store          core.ArtifactStore
	runner         Runner
	workDir        string
	metrics        *observability.Metrics
	log            *logger.Logger

	mu           sync.Mutex
	subscription *nats.Subscription
	jobCtx       context.Context
}

// NewNatsWorker creates a new instance of a NATS worker. Job input and
// artifact paths are confined to workDir.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	store core.ArtifactStore,
	runner Runner,
	workDir string,
	metrics *observability.Metrics,
	log *logger.Logger,
) *NatsWorker {
	abs, err := filepath.Abs(workDir)
	if err == nil {
		workDir = abs
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		store:          store,
		runner:         runner,
		workDir:        filepath.Clean(workDir),
		metrics:        metrics,
		log:            log,
	}
}

// Listen subscribes to the jobs subject. Jobs run under ctx.
func (w *NatsWorker) Listen(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.subscription != nil {
		return ErrAlreadyListening
	}

	w.jobCtx = ctx

	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	err = w.natsConnection.Flush()
	if err != nil {
		_ = sub.Unsubscribe()

		return fmt.Errorf("failed to flush subscription to %s: %w", w.subject, err)
	}

	w.subscription = sub
	w.log.Info("Listening for jobs on %s", w.subject)

	return nil
}

// Run listens, unless Listen was already called, and blocks until ctx is
// done. The subscription is then drained.
func (w *NatsWorker) Run(ctx context.Context) error {
	w.mu.Lock()
	listening := w.subscription != nil
	w.mu.Unlock()

	if !listening {
		err := w.Listen(ctx)
		if err != nil {
			return err
		}
	}

	<-ctx.Done()

	w.mu.Lock()
	sub := w.subscription
	w.mu.Unlock()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) jobContext() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.jobCtx
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	var req JobRequest

	err := json.Unmarshal(msg.Data, &req)
	if err != nil {
		w.log.Error("Failed to unmarshal job request: %v", err)
		w.reply(msg, &JobResult{Error: err.Error(), ErrorKind: KindInvalid})

		return
	}

	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}

	result := w.process(w.jobContext(), &req)

	outcome := "ok"
	if !result.OK {
		outcome = result.ErrorKind
	}

	w.metrics.IncJob(req.Operation, outcome)
	w.reply(msg, result)
}

// process runs one job: inputs are fetched, the operation runs and the
// artifacts are uploaded under "<job id>/".
func (w *NatsWorker) process(ctx context.Context, req *JobRequest) *JobResult {
	result := &JobResult{JobID: req.JobID, Operation: req.Operation}

	fail := func(kind string, err error) *JobResult {
		w.log.Error("Job %s (%s) failed: %v", req.JobID, req.Operation, err)

		result.Error = err.Error()
		result.ErrorKind = kind

		return result
	}

	w.log.Info("Job %s: running %s", req.JobID, req.Operation)

	err := w.checkPaths(req)
	if err != nil {
		return fail(KindInvalid, err)
	}

	err = w.fetchInputs(ctx, req.Inputs)
	if err != nil {
		return fail(artifactKind(err), err)
	}

	err = w.runner.Run(ctx, req.Operation, req.Params, tools.JSONDecoder)
	if err != nil {
		return fail(errorKind(err), err)
	}

	keys, err := w.uploadArtifacts(ctx, req.JobID, req.Artifacts)
	if err != nil {
		return fail(artifactKind(err), err)
	}

	result.OK = true
	result.ArtifactKeys = keys

	w.log.Info("Job %s: %s succeeded (%d artifacts)", req.JobID, req.Operation, len(keys))

	return result
}

// local returns p relative to the work directory. Relative paths are taken
// relative to it and absolute paths must lie inside it.
func (w *NatsWorker) local(p string) (string, error) {
	rel := p

	if filepath.IsAbs(p) {
		var err error

		rel, err = filepath.Rel(w.workDir, p)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrOutsideWorkDir, p)
		}
	}

	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkDir, p)
	}

	return filepath.Clean(rel), nil
}

func (w *NatsWorker) checkPaths(req *JobRequest) error {
	for _, input := range req.Inputs {
		_, err := w.local(input.Path)
		if err != nil {
			return err
		}
	}

	for _, artifact := range req.Artifacts {
		_, err := w.local(artifact)
		if err != nil {
			return err
		}
	}

	return nil
}

// fetchInputs writes every input through an os.Root on the work directory,
// so symbolic links cannot redirect a write outside of it.
func (w *NatsWorker) fetchInputs(ctx context.Context, inputs []InputArtifact) error {
	if len(inputs) == 0 {
		return nil
	}

	err := os.MkdirAll(w.workDir, inputDirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create work directory '%s': %w", w.workDir, err)
	}

	root, err := os.OpenRoot(w.workDir)
	if err != nil {
		return fmt.Errorf("failed to open work directory '%s': %w", w.workDir, err)
	}
	defer root.Close()

	for _, input := range inputs {
		rel, err := w.local(input.Path)
		if err != nil {
			return err
		}

		data, err := w.store.Download(ctx, input.Key)
		if err != nil {
			return err
		}

		err = root.MkdirAll(filepath.Dir(rel), inputDirPermissions)
		if err != nil {
			return fmt.Errorf("failed to create input directory for '%s': %w", input.Path, err)
		}

		err = root.WriteFile(rel, data, inputFilePermissions)
		if err != nil {
			return fmt.Errorf("failed to write input '%s': %w", input.Path, err)
		}
	}

	return nil
}

// artifactRoot resolves an artifact to its real path and upload name and
// checks that it still lies inside the work directory once symbolic links
// are followed.
func (w *NatsWorker) artifactRoot(artifact string) (string, string, error) {
	rel, err := w.local(artifact)
	if err != nil {
		return "", "", err
	}

	resolvedWorkDir, err := filepath.EvalSymlinks(w.workDir)
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve work directory: %w", err)
	}

	lexical := filepath.Join(w.workDir, rel)

	resolved, err := filepath.EvalSymlinks(lexical)
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve artifact '%s': %w", artifact, err)
	}

	inside, err := filepath.Rel(resolvedWorkDir, resolved)
	if err != nil || !filepath.IsLocal(inside) {
		return "", "", fmt.Errorf("%w: %s", ErrOutsideWorkDir, artifact)
	}

	return resolved, filepath.Base(lexical), nil
}

// uploadArtifacts stores each file as "<job id>/<base name>". Directories
// are uploaded file by file below "<job id>/<directory name>/". Symbolic
// links inside a directory are skipped.
func (w *NatsWorker) uploadArtifacts(ctx context.Context, jobID string, artifacts []string) ([]string, error) {
	var keys []string

	for _, artifact := range artifacts {
		root, name, err := w.artifactRoot(artifact)
		if err != nil {
			return keys, err
		}

		prefix := path.Join(jobID, name)

		err = filepath.WalkDir(root, func(file string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}

			if entry.IsDir() {
				return nil
			}

			if entry.Type()&fs.ModeSymlink != 0 {
				w.log.Warn("Job %s: skipping symbolic link %s", jobID, file)

				return nil
			}

			rel, err := filepath.Rel(root, file)
			if err != nil {
				return fmt.Errorf("failed to resolve artifact '%s': %w", file, err)
			}

			key := prefix
			if rel != "." {
				key = path.Join(prefix, filepath.ToSlash(rel))
			}

			err = w.store.UploadFile(ctx, key, file)
			if err != nil {
				return err
			}

			keys = append(keys, key)

			return nil
		})
		if err != nil {
			return keys, fmt.Errorf("failed to upload artifact '%s': %w", artifact, err)
		}
	}

	return keys, nil
}

func artifactKind(err error) string {
	if errors.Is(err, ErrOutsideWorkDir) {
		return KindInvalid
	}

	return KindArtifact
}

func errorKind(err error) string {
	var callErr *tools.CallError

	switch {
	case errors.As(err, &callErr):
		return string(callErr.Kind)
	case errors.Is(err, dispatch.ErrRequestTimeout):
		return KindTimeout
	case errors.Is(err, ErrOutsideWorkDir),
		errors.Is(err, tools.ErrMissingParameter),
		errors.Is(err, tools.ErrInvalidParameter),
		errors.Is(err, tools.ErrUnknownOperation),
		errors.Is(err, tools.ErrDecodeParameters):
		return KindInvalid
	default:
		return KindRequest
	}
}

func (w *NatsWorker) reply(msg *nats.Msg, result *JobResult) {
	if msg.Reply == "" {
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		w.log.Error("Failed to marshal job result %s: %v", result.JobID, err)

		return
	}

	err = msg.Respond(data)
	if err != nil {
		w.log.Error("Failed to publish job result %s: %v", result.JobID, err)
	}
}
