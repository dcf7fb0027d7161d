// Package pipeline runs a scraper end to end: case list, per-case filings,
// conversion to generic types. Every intermediate step is saved as an
// object below a per-run prefix on all configured storage backends.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/rs/zerolog"

	"github.com/openpuc/scrapers/pkg/metrics"
	"github.com/openpuc/scrapers/pkg/models"
	"github.com/openpuc/scrapers/pkg/rotation"
	"github.com/openpuc/scrapers/pkg/scrapers"
	"github.com/openpuc/scrapers/pkg/storage"
)

// ErrNotSaved is returned when no backend accepted an object
var ErrNotSaved = errors.New("object not saved to any backend")

// Options tune a Processor
type Options struct {
	Compress      bool
	MaxConcurrent int // cases processed at once (default: 4)
	KeepRuns      int // run prefixes kept per scraper, 0 keeps all
}

// Processor drives scrapers and persists their intermediates
type Processor struct {
	backends      []storage.Backend
	writer        *storage.MultiWriter
	codec         Codec
	maxConcurrent int
	keepRuns      int
	guard         RunGuard
	logger        zerolog.Logger
	now           func() time.Time
}

// New creates a processor writing to backends
func New(backends []storage.Backend, opts Options, logger zerolog.Logger) *Processor {
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	return &Processor{
		backends:      backends,
		writer:        storage.NewMultiWriter(logger).WithObserver(metrics.ObserveStorage),
		codec:         Codec{Compress: opts.Compress},
		maxConcurrent: maxConcurrent,
		keepRuns:      opts.KeepRuns,
		logger:        logger,
		now:           time.Now,
	}
}

// Backends returns the backends objects are written to
func (p *Processor) Backends() []storage.Backend {
	return p.backends
}

// Close closes every backend
func (p *Processor) Close() {
	storage.CloseAll(p.backends)
}

// NewBasePath returns a fresh run prefix for scraper
func (p *Processor) NewBasePath(scraper string) string {
	return IntermediateSavePath(scraper, p.now())
}

// SaveJSON encodes v and writes it to every backend. It succeeds when at
// least one backend stored the object and returns the key actually used.
func (p *Processor) SaveJSON(ctx context.Context, key string, v any) (string, error) {
	data, err := p.codec.Encode(v)
	if err != nil {
		return "", fmt.Errorf("save %s: %w", key, err)
	}

	key = p.codec.Key(key)
	results := p.writer.Write(ctx, p.backends, key, data)
	if storage.AnySucceeded(results) {
		return key, nil
	}

	errs := []error{ErrNotSaved}
	for _, r := range results {
		errs = append(errs, r.Error)
	}
	return "", fmt.Errorf("save %s: %w", key, errors.Join(errs...))
}

// LoadJSON reads an object saved by SaveJSON from the first backend holding it
func (p *Processor) LoadJSON(ctx context.Context, key string, v any) error {
	key = p.codec.Key(key)
	data, err := storage.ReadFirst(ctx, p.backends, key)
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	return p.codec.Decode(key, data, v)
}

// GetAllCaseListRaw fetches the full case list, saves the intermediate as
// caselist.json and returns the state cases
func (p *Processor) GetAllCaseListRaw(ctx context.Context, runner scrapers.Runner, basePath string) ([]json.RawMessage, error) {
	log := p.logger.With().Str("scraper", runner.Meta().Name).Str("base_path", basePath).Logger()

	in, err := runner.CaseListIntermediate(ctx)
	if err != nil {
		return nil, fmt.Errorf("case list intermediate: %w", err)
	}

	if _, err := p.SaveJSON(ctx, path.Join(basePath, CaseListObject), in); err != nil {
		return nil, err
	}

	in, err = scrapers.Normalize(in)
	if err != nil {
		return nil, err
	}

	cases, err := runner.CaseListFromIntermediate(in)
	if err != nil {
		return nil, fmt.Errorf("case list from intermediate: %w", err)
	}

	log.Info().Int("cases", len(cases)).Msg("case list saved")
	return cases, nil
}

// GetNewCaseListSinceDate fetches cases updated after the given date and
// saves the intermediate as updated_cases.json
func (p *Processor) GetNewCaseListSinceDate(ctx context.Context, runner scrapers.Runner, after time.Time, basePath string) ([]json.RawMessage, error) {
	log := p.logger.With().Str("scraper", runner.Meta().Name).Str("base_path", basePath).Logger()

	in, err := runner.UpdatedCasesIntermediate(ctx, after)
	if err != nil {
		return nil, fmt.Errorf("updated cases intermediate: %w", err)
	}

	if _, err := p.SaveJSON(ctx, path.Join(basePath, UpdatedCasesObject), in); err != nil {
		return nil, err
	}

	in, err = scrapers.Normalize(in)
	if err != nil {
		return nil, err
	}

	cases, err := runner.UpdatedCasesFromIntermediate(in, after)
	if err != nil {
		return nil, fmt.Errorf("updated cases from intermediate: %w", err)
	}

	log.Info().Time("after", after).Int("cases", len(cases)).Msg("updated case list saved")
	return cases, nil
}

// ProcessCase saves one state case, fetches and saves its filings, converts
// everything to a GenericCase and saves that too
func (p *Processor) ProcessCase(ctx context.Context, runner scrapers.Runner, stateCase json.RawMessage, basePath string) (models.GenericCase, error) {
	start := time.Now()
	name := runner.Meta().Name

	generic, err := p.processCase(ctx, runner, stateCase, basePath)

	metrics.CaseDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CasesTotal.WithLabelValues(name, "failed").Inc()
		return models.GenericCase{}, err
	}
	metrics.CasesTotal.WithLabelValues(name, "ok").Inc()
	return generic, nil
}

func (p *Processor) processCase(ctx context.Context, runner scrapers.Runner, stateCase json.RawMessage, basePath string) (models.GenericCase, error) {
	generic, err := runner.GenericCase(stateCase)
	if err != nil {
		return models.GenericCase{}, fmt.Errorf("convert case: %w", err)
	}
	caseNumber := generic.CaseNumber

	log := p.logger.With().
		Str("scraper", runner.Meta().Name).
		Str("case", caseNumber).
		Logger()

	if _, err := p.SaveJSON(ctx, CaseKey(basePath, caseNumber), stateCase); err != nil {
		return models.GenericCase{}, err
	}

	in, err := runner.FilingsIntermediate(ctx, stateCase)
	if err != nil {
		return models.GenericCase{}, fmt.Errorf("case %s: filings intermediate: %w", caseNumber, err)
	}
	if _, err := p.SaveJSON(ctx, FilingsKey(basePath, caseNumber), in); err != nil {
		return models.GenericCase{}, err
	}

	in, err = scrapers.Normalize(in)
	if err != nil {
		return models.GenericCase{}, fmt.Errorf("case %s: %w", caseNumber, err)
	}

	filings, err := runner.FilingsFromIntermediate(in)
	if err != nil {
		return models.GenericCase{}, fmt.Errorf("case %s: filings from intermediate: %w", caseNumber, err)
	}
	if _, err := p.SaveJSON(ctx, ParsedFilingsKey(basePath, caseNumber), filings); err != nil {
		return models.GenericCase{}, err
	}

	generic.Filings = make([]models.GenericFiling, 0, len(filings))
	for _, f := range filings {
		gf, err := runner.GenericFiling(f)
		if err != nil {
			return models.GenericCase{}, fmt.Errorf("case %s: convert filing: %w", caseNumber, err)
		}
		generic.Filings = append(generic.Filings, gf)
	}

	if _, err := p.SaveJSON(ctx, GenericKey(basePath, caseNumber), generic); err != nil {
		return models.GenericCase{}, err
	}

	log.Debug().Int("filings", len(generic.Filings)).Msg("case processed")
	return generic, nil
}

// RunGuard reports the run prefixes of a scraper that are still queued or
// running
type RunGuard interface {
	ActiveBasePaths(ctx context.Context, scraper string) ([]string, error)
}

// WithRunGuard makes rotation skip the prefixes of unfinished runs
func (p *Processor) WithRunGuard(g RunGuard) *Processor {
	p.guard = g
	return p
}

// Rotate applies the keep_runs retention for scraper on every backend.
// current is the prefix of the run that just finished; it is never deleted.
func (p *Processor) Rotate(ctx context.Context, scraper, current string) error {
	if p.keepRuns <= 0 {
		return nil
	}

	guard := rotation.Guard{Current: current}
	if p.guard != nil {
		active, err := p.guard.ActiveBasePaths(ctx, scraper)
		if err != nil {
			return fmt.Errorf("list active runs of %s: %w", scraper, err)
		}
		guard.Active = make(map[string]bool, len(active))
		for _, prefix := range active {
			guard.Active[prefix] = true
		}
	}
	return rotation.RotateRuns(ctx, p.backends, scraper, p.keepRuns, guard, p.logger)
}
