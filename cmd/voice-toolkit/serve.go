package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-toolkit/internal/config"
	"github.com/book-expert/voice-toolkit/internal/httpapi"
	"github.com/book-expert/voice-toolkit/internal/objectstore"
	"github.com/book-expert/voice-toolkit/internal/observability"
	"github.com/book-expert/voice-toolkit/internal/session"
	"github.com/book-expert/voice-toolkit/internal/worker"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

const opsReadHeaderTimeout = 5 * time.Second

// ErrServerExited is returned by serve when the inference server stops on
// its own.
var ErrServerExited = errors.New("inference server exited unexpectedly")

// jobRunner blocks processing jobs until ctx is done.
type jobRunner interface {
	Run(ctx context.Context) error
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the server and run toolkit jobs received over NATS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := cmd.Flags().GetString(flagConfig)
			if err != nil {
				return err
			}

			cfg, log, err := loadConfig(path)
			if err != nil {
				return err
			}
			defer closeLogger(log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	metrics := observability.NewMetrics(cfg.Metrics.Namespace)

	natsURL := cfg.NATS.URL
	if natsURL == "" {
		natsURL = nats.DefaultURL
	}

	natsConnection, err := nats.Connect(natsURL, nats.Name("voice-toolkit"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", natsURL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.ArtifactBucket)
	if err != nil {
		return err
	}

	sess, err := session.Start(ctx, cfg, log, metrics, nil)
	if err != nil {
		return fmt.Errorf("failed to start server session: %w", err)
	}
	defer closeSession(sess, cfg.Server.ShutdownTimeout(), log)

	opsServer := startOpsServer(cfg.Metrics.Addr, httpapi.NewRouter(metrics, sessionStatus(sess)), log)
	defer stopOpsServer(opsServer, log)

	log.System("voice-toolkit serving on %s. Listening for jobs on subject: %s",
		sess.Endpoint().BaseURL(), cfg.NATS.JobsSubject)

	w := worker.NewNatsWorker(natsConnection, cfg.NATS.JobsSubject, store, sess, cfg.NATS.WorkDir, metrics, log)

	return superviseWorker(ctx, w, sess.Done(), log)
}

// superviseWorker runs w until ctx ends or the server exits. A server exit
// stops the worker and is reported as ErrServerExited.
func superviseWorker(ctx context.Context, w jobRunner, serverDone <-chan struct{}, log *logger.Logger) error {
	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var exited atomic.Bool

	go func() {
		select {
		case <-serverDone:
			log.Error("Server exited unexpectedly, stopping worker")
			exited.Store(true)
			cancel()
		case <-workerCtx.Done():
		}
	}()

	err := w.Run(workerCtx)
	if exited.Load() {
		return errors.Join(ErrServerExited, err)
	}

	return err
}

func closeSession(sess *session.Session, timeout time.Duration, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := sess.Close(ctx)
	if err != nil {
		log.Error("Failed to close session: %v", err)
	}
}

func sessionStatus(sess *session.Session) httpapi.StatusFunc {
	return func() httpapi.Status {
		status := httpapi.Status{Endpoint: sess.Endpoint().BaseURL(), Pid: sess.Pid()}

		select {
		case <-sess.Done():
		default:
			status.Ready = true
		}

		return status
	}
}

// startOpsServer serves health, readiness and metrics on addr. An empty
// addr disables it.
func startOpsServer(addr string, handler http.Handler, log *logger.Logger) *http.Server {
	if addr == "" {
		return nil
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: opsReadHeaderTimeout,
	}

	go func() {
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Operational HTTP server failed: %v", err)
		}
	}()

	log.Info("Serving health and metrics on %s", addr)

	return server
}

func stopOpsServer(server *http.Server, log *logger.Logger) {
	if server == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opsReadHeaderTimeout)
	defer cancel()

	err := server.Shutdown(ctx)
	if err != nil {
		log.Warn("Failed to stop operational HTTP server: %v", err)
	}
}
