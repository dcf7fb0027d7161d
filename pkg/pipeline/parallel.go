package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/openpuc/scrapers/pkg/metrics"
	"github.com/openpuc/scrapers/pkg/models"
	"github.com/openpuc/scrapers/pkg/scrapers"
)

// Status is the outcome of a run
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// CaseFailure records a case that could not be processed
type CaseFailure struct {
	Index      int
	CaseNumber string
	Error      error
}

// RunResult represents the outcome of a whole scrape run
type RunResult struct {
	Scraper  string
	BasePath string
	Status   Status
	Total    int
	Cases    []models.GenericCase // successfully processed, in case list order
	Failures []CaseFailure
	Error    error // case list failure
	Duration time.Duration
}

// ComputeStatus derives the run status from case counts. A run fails only
// when every case failed; an empty case list is a success.
func ComputeStatus(total, failed int) Status {
	switch {
	case failed == 0:
		return StatusSucceeded
	case failed >= total:
		return StatusFailed
	default:
		return StatusPartial
	}
}

// ProcessCases runs ProcessCase for every case with bounded concurrency.
// A failing case is recorded and does not stop its siblings.
func (p *Processor) ProcessCases(ctx context.Context, runner scrapers.Runner, cases []json.RawMessage, basePath string) ([]models.GenericCase, []CaseFailure, error) {
	p.logger.Info().
		Str("scraper", runner.Meta().Name).
		Int("total_cases", len(cases)).
		Int("max_concurrent", p.maxConcurrent).
		Msg("starting parallel case processing")

	sem := semaphore.NewWeighted(int64(p.maxConcurrent))
	g, gCtx := errgroup.WithContext(ctx)

	generic := make([]*models.GenericCase, len(cases))
	failures := make([]*CaseFailure, len(cases))

	for i, c := range cases {
		g.Go(func() error {
			if err := sem.Acquire(gCtx, 1); err != nil {
				return fmt.Errorf("failed to acquire semaphore: %w", err)
			}
			defer sem.Release(1)

			gc, err := p.ProcessCase(gCtx, runner, c, basePath)
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				number := fmt.Sprintf("#%d", i)
				if converted, convErr := runner.GenericCase(c); convErr == nil && converted.CaseNumber != "" {
					number = converted.CaseNumber
				}
				p.logger.Error().
					Err(err).
					Str("scraper", runner.Meta().Name).
					Str("case", number).
					Msg("case processing failed")
				failures[i] = &CaseFailure{Index: i, CaseNumber: number, Error: err}
				return nil
			}

			generic[i] = &gc
			return nil
		})
	}

	waitErr := g.Wait()

	var (
		out    []models.GenericCase
		failed []CaseFailure
	)
	for i := range cases {
		switch {
		case generic[i] != nil:
			out = append(out, *generic[i])
		case failures[i] != nil:
			failed = append(failed, *failures[i])
		}
	}

	p.logger.Info().
		Str("scraper", runner.Meta().Name).
		Int("successful", len(out)).
		Int("failed", len(failed)).
		Msg("parallel case processing completed")

	return out, failed, waitErr
}

// GetAllCases runs a full scrape into a fresh run prefix
func (p *Processor) GetAllCases(ctx context.Context, runner scrapers.Runner) RunResult {
	basePath := p.NewBasePath(runner.Meta().Name)
	return p.run(ctx, runner, basePath, func() ([]json.RawMessage, error) {
		return p.GetAllCaseListRaw(ctx, runner, basePath)
	})
}

// GetNewCasesSinceDate scrapes only cases updated after the given date
func (p *Processor) GetNewCasesSinceDate(ctx context.Context, runner scrapers.Runner, after time.Time) RunResult {
	basePath := p.NewBasePath(runner.Meta().Name)
	return p.run(ctx, runner, basePath, func() ([]json.RawMessage, error) {
		return p.GetNewCaseListSinceDate(ctx, runner, after, basePath)
	})
}

func (p *Processor) run(ctx context.Context, runner scrapers.Runner, basePath string, list func() ([]json.RawMessage, error)) RunResult {
	start := time.Now()
	name := runner.Meta().Name
	log := p.logger.With().Str("scraper", name).Str("base_path", basePath).Logger()

	result := RunResult{Scraper: name, BasePath: basePath}

	cases, err := list()
	if err != nil {
		result.Status = StatusFailed
		result.Error = err
		result.Duration = time.Since(start)
		metrics.RunsTotal.WithLabelValues(name, string(result.Status)).Inc()
		log.Error().Err(err).Msg("case list failed")
		return result
	}

	result.Total = len(cases)
	result.Cases, result.Failures, err = p.ProcessCases(ctx, runner, cases, basePath)
	result.Duration = time.Since(start)

	if err != nil {
		result.Status = StatusFailed
		result.Error = err
	} else {
		result.Status = ComputeStatus(result.Total, len(result.Failures))
	}
	metrics.RunsTotal.WithLabelValues(name, string(result.Status)).Inc()

	// Never rotate old runs away when this one produced nothing
	if result.Status == StatusFailed {
		log.Warn().Msg("skipping rotation - run failed")
	} else if err := p.Rotate(ctx, name, basePath); err != nil {
		log.Error().Err(err).Msg("rotation failed")
	}

	log.Info().
		Str("status", string(result.Status)).
		Int("total", result.Total).
		Int("failed", len(result.Failures)).
		Dur("duration", result.Duration).
		Msg("run completed")

	return result
}
