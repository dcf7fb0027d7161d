// Package schedule decides which scrapers are due and enqueues their runs.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/openpuc/scrapers/pkg/config"
	"github.com/openpuc/scrapers/pkg/pipeline"
	"github.com/openpuc/scrapers/pkg/queue"
	"github.com/openpuc/scrapers/pkg/rotation"
	"github.com/openpuc/scrapers/pkg/store"
)

const lockPrefix = "openpuc:schedule:"

// RunLookup finds the newest successful run of a scraper
type RunLookup interface {
	LastSuccessfulRun(ctx context.Context, scraper string) (*store.ScrapeRun, error)
}

// Due is a scraper that should run now
type Due struct {
	Scraper  string
	Mode     string
	Interval time.Duration
	After    *time.Time // set in since_last mode once a run succeeded
	Slot     time.Time  // start of the interval window now falls in
}

// DueScrapers checks every schedule against the last successful run. A
// scraper is due when it never succeeded or its interval has elapsed.
func DueScrapers(ctx context.Context, schedules []config.ScheduleConfig, runs RunLookup, now time.Time, logger zerolog.Logger) ([]Due, error) {
	var due []Due

	for _, sc := range schedules {
		interval, ok := rotation.TierInterval[rotation.TierName(sc.Interval)]
		if !ok {
			logger.Warn().
				Str("scraper", sc.Scraper).
				Str("interval", sc.Interval).
				Msg("unknown schedule interval, skipping")
			continue
		}

		last, err := runs.LastSuccessfulRun(ctx, sc.Scraper)
		if err != nil {
			return nil, fmt.Errorf("last run of %s: %w", sc.Scraper, err)
		}

		d := Due{
			Scraper:  sc.Scraper,
			Mode:     sc.GetMode(),
			Interval: interval,
			Slot:     now.UTC().Truncate(interval),
		}

		if last != nil {
			elapsed := now.Sub(last.StartedAt)
			if elapsed < interval {
				logger.Debug().
					Str("scraper", sc.Scraper).
					Time("last_run", last.StartedAt).
					Time("next_due", last.StartedAt.Add(interval)).
					Msg("scraper not due yet")
				continue
			}
			if d.Mode == store.ModeSinceLast {
				after := last.StartedAt
				d.After = &after
			}
		}

		logger.Debug().
			Str("scraper", sc.Scraper).
			Str("mode", d.Mode).
			Dur("interval", interval).
			Msg("scraper is due")
		due = append(due, d)
	}

	return due, nil
}

// Scheduler periodically enqueues caselist tasks for due scrapers
type Scheduler struct {
	schedules  []config.ScheduleConfig
	store      *store.Store
	queue      *queue.Queue
	client     *redis.Client
	instanceID string
	logger     zerolog.Logger
	now        func() time.Time
}

// New creates a scheduler; the queue's redis client also holds the locks
func New(schedules []config.ScheduleConfig, st *store.Store, q *queue.Queue, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		schedules:  schedules,
		store:      st,
		queue:      q,
		client:     q.Client(),
		instanceID: uuid.NewString(),
		logger:     logger.With().Str("component", "scheduler").Logger(),
		now:        time.Now,
	}
}

// LockKey names the lock guarding one scraper's interval slot
func LockKey(scraper string, slot time.Time) string {
	return fmt.Sprintf("%s%s:%d", lockPrefix, scraper, slot.Unix())
}

// Tick enqueues every due scraper whose slot lock it wins and returns the
// created runs
func (s *Scheduler) Tick(ctx context.Context) ([]*store.ScrapeRun, error) {
	now := s.now()

	due, err := DueScrapers(ctx, s.schedules, s.store, now, s.logger)
	if err != nil {
		return nil, err
	}

	var created []*store.ScrapeRun
	for _, d := range due {
		won, err := s.client.SetNX(ctx, LockKey(d.Scraper, d.Slot), s.instanceID, d.Interval).Result()
		if err != nil {
			return created, fmt.Errorf("lock %s: %w", d.Scraper, err)
		}
		if !won {
			s.logger.Debug().Str("scraper", d.Scraper).Msg("slot already taken by another scheduler")
			continue
		}

		run, err := Enqueue(ctx, s.store, s.queue, d.Scraper, d.Mode, d.After, now)
		if err != nil {
			return created, err
		}

		s.logger.Info().
			Str("scraper", d.Scraper).
			Str("run_id", run.ID.String()).
			Str("mode", d.Mode).
			Msg("scheduled run enqueued")
		created = append(created, run)
	}

	return created, nil
}

// Run ticks every interval until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context, every time.Duration) error {
	s.logger.Info().Dur("tick", every).Int("schedules", len(s.schedules)).Msg("scheduler started")

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil {
			s.logger.Error().Err(err).Msg("scheduler tick failed")
		}

		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Enqueue records a queued run and pushes its caselist task
func Enqueue(ctx context.Context, st *store.Store, q *queue.Queue, scraper, mode string, after *time.Time, now time.Time) (*store.ScrapeRun, error) {
	if after != nil {
		mode = store.ModeSinceLast
	}

	basePath := pipeline.IntermediateSavePath(scraper, now)
	run, err := st.CreateRun(ctx, scraper, mode, after, basePath)
	if err != nil {
		return nil, err
	}

	if err := q.Enqueue(ctx, &queue.Task{
		Kind:     queue.KindCaseList,
		Scraper:  scraper,
		RunID:    run.ID.String(),
		BasePath: basePath,
		After:    after,
	}); err != nil {
		if _, finishErr := st.FinishRun(ctx, run.ID, store.StatusFailed, err.Error()); finishErr != nil {
			return nil, fmt.Errorf("%w (and marking run failed: %v)", err, finishErr)
		}
		return nil, err
	}

	return run, nil
}
