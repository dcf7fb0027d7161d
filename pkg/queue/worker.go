package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/openpuc/scrapers/pkg/metrics"
	"github.com/openpuc/scrapers/pkg/models"
	"github.com/openpuc/scrapers/pkg/pipeline"
	"github.com/openpuc/scrapers/pkg/poster"
	"github.com/openpuc/scrapers/pkg/scrapers"
	"github.com/openpuc/scrapers/pkg/store"
)

// WorkerConfig wires a Worker
type WorkerConfig struct {
	Queue       *Queue
	Processor   *pipeline.Processor
	Registry    *scrapers.Registry
	Store       *store.Store
	Concurrency int
	PollTimeout time.Duration

	// ReapInterval is how often held tasks with an expired lease are
	// pushed back to the pending list
	ReapInterval time.Duration

	// PostEndpoint receives every processed generic case when set
	PostEndpoint string
	PostOptions  poster.Options
}

// Worker consumes tasks. A caselist task fans out into one process_case
// task per case; the last finished case finalizes the run.
type Worker struct {
	cfg    WorkerConfig
	logger zerolog.Logger
}

// NewWorker creates a worker
func NewWorker(cfg WorkerConfig, logger zerolog.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = time.Minute
	}
	return &Worker{cfg: cfg, logger: logger.With().Str("component", "worker").Logger()}
}

// settleTimeout bounds queue and store writes that must outlive a
// cancelled task context
const settleTimeout = time.Minute

// detached keeps the values of ctx but not its cancellation
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

// Run consumes tasks until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Int("concurrency", w.cfg.Concurrency).Msg("worker started")

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w.reap(gCtx)
		return nil
	})
	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error {
			for {
				if gCtx.Err() != nil {
					return nil
				}
				if _, err := w.RunOnce(gCtx); err != nil && gCtx.Err() == nil {
					w.logger.Error().Err(err).Int("consumer", i).Msg("task handling failed")
					select {
					case <-gCtx.Done():
					case <-time.After(time.Second):
					}
				}
			}
		})
	}

	err := g.Wait()
	w.logger.Info().Msg("worker stopped")
	return err
}

// reap requeues tasks whose worker stopped renewing their lease
func (w *Worker) reap(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		n, err := w.cfg.Queue.RequeueExpired(ctx, time.Now())
		if err != nil && ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("requeue of expired tasks failed")
		} else if n > 0 {
			w.logger.Warn().Int("tasks", n).Msg("requeued tasks with expired lease")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// heartbeat renews the lease of task until stop is closed
func (w *Worker) heartbeat(ctx context.Context, task *Task, stop <-chan struct{}, log zerolog.Logger) {
	ticker := time.NewTicker(w.cfg.Queue.Lease() / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.cfg.Queue.Touch(ctx, task); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("failed to renew task lease")
			}
		}
	}
}

// RunOnce handles at most one task. It reports whether a task was found.
// A task interrupted by ctx is released back to the queue without
// spending an attempt.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	task, err := w.cfg.Queue.Dequeue(ctx, w.cfg.PollTimeout)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	log := w.logger.With().
		Str("task_id", task.ID).
		Str("kind", string(task.Kind)).
		Str("scraper", task.Scraper).
		Str("run_id", task.RunID).
		Logger()

	stop := make(chan struct{})
	go w.heartbeat(ctx, task, stop, log)
	handleErr := w.handle(ctx, task, log)
	close(stop)

	settleCtx, cancel := detached(ctx)
	defer cancel()

	if handleErr == nil {
		return true, w.cfg.Queue.Ack(settleCtx, task)
	}

	if ctx.Err() != nil {
		log.Info().Err(handleErr).Msg("task interrupted, releasing")
		return true, w.cfg.Queue.Release(settleCtx, task)
	}

	dead, err := w.cfg.Queue.Nack(settleCtx, task, handleErr)
	if err != nil {
		return true, errors.Join(handleErr, err)
	}
	if dead {
		log.Error().Err(handleErr).Int("attempts", task.Attempts).Msg("task dead-lettered")
		if err := w.giveUp(settleCtx, task, handleErr); err != nil {
			return true, errors.Join(handleErr, err)
		}
	}
	return true, nil
}

func (w *Worker) handle(ctx context.Context, task *Task, log zerolog.Logger) error {
	runID, err := uuid.Parse(task.RunID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", task.RunID, err)
	}

	runner, err := w.cfg.Registry.LookupOrDummy(task.Scraper)
	if err != nil {
		return err
	}

	switch task.Kind {
	case KindCaseList:
		return w.handleCaseList(ctx, runID, runner, task, log)
	case KindProcessCase:
		return w.handleProcessCase(ctx, runID, runner, task, log)
	default:
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}
}

func (w *Worker) handleCaseList(ctx context.Context, runID uuid.UUID, runner scrapers.Runner, task *Task, log zerolog.Logger) error {
	if err := w.cfg.Store.MarkRunning(ctx, runID); err != nil {
		return err
	}

	var err error
	var cases []json.RawMessage
	if task.After != nil {
		cases, err = w.cfg.Processor.GetNewCaseListSinceDate(ctx, runner, *task.After, task.BasePath)
	} else {
		cases, err = w.cfg.Processor.GetAllCaseListRaw(ctx, runner, task.BasePath)
	}
	if err != nil {
		return err
	}

	// A redelivered caselist task would fan out again in full, so a
	// started fan-out finishes even when the worker is stopping
	ctx, cancel := detached(ctx)
	defer cancel()

	if err := w.cfg.Store.SetTotal(ctx, runID, len(cases)); err != nil {
		return err
	}

	if len(cases) == 0 {
		log.Info().Msg("empty case list")
		return w.finalize(ctx, runID, log)
	}

	for _, c := range cases {
		if err := w.cfg.Queue.Enqueue(ctx, &Task{
			Kind:     KindProcessCase,
			Scraper:  task.Scraper,
			RunID:    task.RunID,
			BasePath: task.BasePath,
			Case:     c,
		}); err != nil {
			return err
		}
	}

	log.Info().Int("cases", len(cases)).Msg("case tasks enqueued")
	return nil
}

func (w *Worker) handleProcessCase(ctx context.Context, runID uuid.UUID, runner scrapers.Runner, task *Task, log zerolog.Logger) error {
	generic, err := w.cfg.Processor.ProcessCase(ctx, runner, task.Case, task.BasePath)
	if err != nil {
		return err
	}

	if w.cfg.PostEndpoint != "" {
		if _, err := poster.PostListSplit(ctx, []models.GenericCase{generic}, w.cfg.PostEndpoint, w.cfg.PostOptions); err != nil {
			return fmt.Errorf("post case %s: %w", generic.CaseNumber, err)
		}
	}

	// Counters are not idempotent; once the case is done it gets recorded
	ctx, cancel := detached(ctx)
	defer cancel()

	complete, err := w.cfg.Store.RecordCase(ctx, store.CaseRecord{
		RunID:      runID,
		CaseNumber: generic.CaseNumber,
		ObjectKey:  pipeline.GenericKey(task.BasePath, generic.CaseNumber),
		Filings:    len(generic.Filings),
	})
	if err != nil {
		return err
	}

	log.Debug().Str("case", generic.CaseNumber).Int("filings", len(generic.Filings)).Msg("case recorded")
	if complete {
		return w.finalize(ctx, runID, log)
	}
	return nil
}

// giveUp records a dead task against its run
func (w *Worker) giveUp(ctx context.Context, task *Task, cause error) error {
	runID, err := uuid.Parse(task.RunID)
	if err != nil {
		return nil
	}
	log := w.logger.With().Str("run_id", task.RunID).Logger()

	switch task.Kind {
	case KindCaseList:
		finished, err := w.cfg.Store.FinishRun(ctx, runID, store.StatusFailed, cause.Error())
		if finished {
			metrics.RunsTotal.WithLabelValues(task.Scraper, string(store.StatusFailed)).Inc()
		}
		return err

	case KindProcessCase:
		caseNumber := "unknown"
		if runner, err := w.cfg.Registry.LookupOrDummy(task.Scraper); err == nil {
			if gc, err := runner.GenericCase(task.Case); err == nil {
				caseNumber = gc.CaseNumber
			}
		}
		complete, err := w.cfg.Store.RecordCase(ctx, store.CaseRecord{
			RunID:      runID,
			CaseNumber: caseNumber,
			Error:      cause.Error(),
		})
		if err != nil {
			return err
		}
		if complete {
			return w.finalize(ctx, runID, log)
		}
	}
	return nil
}

// finalize sets the run status from its counters and rotates old runs
// when it produced anything
func (w *Worker) finalize(ctx context.Context, runID uuid.UUID, log zerolog.Logger) error {
	run, err := w.cfg.Store.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	status := store.Status(pipeline.ComputeStatus(run.CasesTotal, run.CasesFailed))
	errMsg := ""
	if status == store.StatusFailed {
		errMsg = fmt.Sprintf("all %d cases failed", run.CasesTotal)
	}

	finished, err := w.cfg.Store.FinishRun(ctx, runID, status, errMsg)
	if err != nil || !finished {
		return err
	}
	metrics.RunsTotal.WithLabelValues(run.Scraper, string(status)).Inc()

	log.Info().
		Str("status", string(status)).
		Int("total", run.CasesTotal).
		Int("failed", run.CasesFailed).
		Msg("run finished")

	if status == store.StatusFailed {
		log.Warn().Msg("skipping rotation - run failed")
		return nil
	}
	if err := w.cfg.Processor.Rotate(ctx, run.Scraper, run.BasePath); err != nil {
		log.Error().Err(err).Msg("rotation failed")
	}
	return nil
}
