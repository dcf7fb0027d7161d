package rotation

import (
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// Run is one stored run of a scraper and the object keys it holds
type Run struct {
	Name RunName
	Keys []string
}

// GroupRuns groups object keys by the run they belong to. Keys that do not
// parse as run objects are skipped.
func GroupRuns(keys []string, logger zerolog.Logger) []Run {
	byPrefix := make(map[string]*Run)
	for _, key := range keys {
		name, err := ParseRunName(key)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("key", key).
				Msg("skipping object with invalid run name")
			continue
		}

		prefix := name.Prefix()
		run, ok := byPrefix[prefix]
		if !ok {
			run = &Run{Name: name}
			byPrefix[prefix] = run
		}
		run.Keys = append(run.Keys, key)
	}

	runs := make([]Run, 0, len(byPrefix))
	for _, run := range byPrefix {
		runs = append(runs, *run)
	}

	// Sort runs by timestamp (newest first)
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Name.Timestamp.After(runs[j].Name.Timestamp)
	})
	return runs
}

// ApplyRetention returns the runs beyond the newest keep. keep <= 0 means
// unlimited retention.
func ApplyRetention(runs []Run, keep int, now time.Time, logger zerolog.Logger) []Run {
	if keep <= 0 || len(runs) <= keep {
		logger.Debug().
			Int("count", len(runs)).
			Int("keep", keep).
			Msg("within retention limit")
		return nil
	}

	sorted := make([]Run, len(runs))
	copy(sorted, runs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name.Timestamp.After(sorted[j].Name.Timestamp)
	})

	toDelete := sorted[keep:]
	for _, run := range toDelete {
		logger.Info().
			Str("run", run.Name.String()).
			Str("age_tier", string(CategorizeTier(run.Name.Timestamp, now))).
			Int("objects", len(run.Keys)).
			Msg("marking run for deletion")
	}
	return toDelete
}
