package rotation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openpuc/scrapers/pkg/storage"
)

// Guard names run prefixes rotation must not delete
type Guard struct {
	// Active prefixes belong to runs still queued or running. They are left
	// out of retention entirely.
	Active map[string]bool

	// Current is the prefix of the run that triggered rotation. It counts
	// toward keep but is never deleted.
	Current string
}

func (g Guard) filter(runs []Run) []Run {
	out := make([]Run, 0, len(runs))
	for _, run := range runs {
		if !g.Active[run.Name.Prefix()] {
			out = append(out, run)
		}
	}
	return out
}

// RotateRuns deletes the runs of a scraper beyond the newest keep from
// every backend. Backends are rotated independently since each may hold a
// different set of runs.
func RotateRuns(ctx context.Context, backends []storage.Backend, scraper string, keep int, guard Guard, logger zerolog.Logger) error {
	if keep <= 0 {
		return nil
	}

	scraperLogger := logger.With().Str("scraper", scraper).Logger()
	pattern := GetRunPattern(scraper)

	var errs []error
	for _, backend := range backends {
		backendLogger := scraperLogger.With().Str("backend", backend.Name()).Logger()

		files, err := backend.List(ctx, pattern)
		if err != nil {
			errs = append(errs, fmt.Errorf("list %s: %w", backend.Name(), err))
			continue
		}

		keys := make([]string, 0, len(files))
		for _, f := range files {
			keys = append(keys, f.Path)
		}

		runs := GroupRuns(keys, backendLogger)
		// "ny--*" also matches "ny--extra--<ts>"; keep only exact scraper runs
		own := runs[:0]
		for _, run := range runs {
			if run.Name.Scraper == scraper {
				own = append(own, run)
			}
		}

		candidates := guard.filter(own)
		backendLogger.Debug().
			Int("runs", len(own)).
			Int("active", len(own)-len(candidates)).
			Str("pattern", pattern).
			Msg("found stored runs")

		var toDelete []Run
		for _, run := range ApplyRetention(candidates, keep, time.Now(), backendLogger) {
			if run.Name.Prefix() == guard.Current {
				backendLogger.Warn().Str("run", run.Name.String()).Msg("newer runs finished first, keeping current run")
				continue
			}
			toDelete = append(toDelete, run)
		}
		if err := DeleteRuns(ctx, backend, toDelete, backendLogger); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// DeleteRuns deletes every object of the given runs and logs the results
func DeleteRuns(ctx context.Context, backend storage.Backend, runs []Run, logger zerolog.Logger) error {
	deletedCount := 0
	errorCount := 0
	total := 0

	for _, run := range runs {
		for _, key := range run.Keys {
			total++
			if err := backend.Delete(ctx, key); err != nil {
				logger.Error().
					Err(err).
					Str("key", key).
					Msg("failed to delete run object")
				errorCount++
			} else {
				deletedCount++
			}
		}
		logger.Info().
			Str("run", run.Name.String()).
			Msg("deleted run")
	}

	if errorCount > 0 {
		return fmt.Errorf("backend %s: failed to delete %d out of %d objects", backend.Name(), errorCount, total)
	}

	if total > 0 {
		logger.Info().
			Int("deleted", deletedCount).
			Msg("run rotation completed")
	}

	return nil
}
