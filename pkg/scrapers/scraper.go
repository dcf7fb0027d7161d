package scrapers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/openpuc/scrapers/pkg/models"
)

// Intermediate is the JSON object a scraper emits between fetching and
// parsing. It is persisted as-is, so every FromIntermediate step must
// accept the decoded form of what its fetching step produced.
type Intermediate = map[string]any

// Scraper is implemented once per jurisdiction. C is the jurisdiction's
// case type, F its filing type.
type Scraper[C, F any] interface {
	UniversalCaseListIntermediate(ctx context.Context) (Intermediate, error)
	UniversalCaseListFromIntermediate(in Intermediate) ([]C, error)

	FilingDataIntermediate(ctx context.Context, c C) (Intermediate, error)
	FilingDataFromIntermediate(in Intermediate) ([]F, error)

	UpdatedCasesSinceDateIntermediate(ctx context.Context, after time.Time) (Intermediate, error)
	UpdatedCasesSinceDateFromIntermediate(in Intermediate, after time.Time) ([]C, error)

	IntoGenericCase(c C) (models.GenericCase, error)
	IntoGenericFiling(f F) (models.GenericFiling, error)
}

// Meta identifies a scraper
type Meta struct {
	Name         string `json:"name"`
	State        string `json:"state"`
	Jurisdiction string `json:"jurisdiction"`
}

// Runner is a Scraper with its case and filing types erased to JSON, so
// cases can travel through storage and the task queue
type Runner interface {
	Meta() Meta

	CaseListIntermediate(ctx context.Context) (Intermediate, error)
	CaseListFromIntermediate(in Intermediate) ([]json.RawMessage, error)

	UpdatedCasesIntermediate(ctx context.Context, after time.Time) (Intermediate, error)
	UpdatedCasesFromIntermediate(in Intermediate, after time.Time) ([]json.RawMessage, error)

	FilingsIntermediate(ctx context.Context, stateCase json.RawMessage) (Intermediate, error)
	FilingsFromIntermediate(in Intermediate) ([]json.RawMessage, error)

	GenericCase(stateCase json.RawMessage) (models.GenericCase, error)
	GenericFiling(stateFiling json.RawMessage) (models.GenericFiling, error)
}

// Erase wraps a typed Scraper as a Runner
func Erase[C, F any](meta Meta, s Scraper[C, F]) Runner {
	return &erased[C, F]{meta: meta, s: s}
}

type erased[C, F any] struct {
	meta Meta
	s    Scraper[C, F]
}

func (e *erased[C, F]) Meta() Meta { return e.meta }

// Close releases the scraper's resources when it holds any
func (e *erased[C, F]) Close() error {
	if c, ok := e.s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (e *erased[C, F]) CaseListIntermediate(ctx context.Context) (Intermediate, error) {
	return e.s.UniversalCaseListIntermediate(ctx)
}

func (e *erased[C, F]) CaseListFromIntermediate(in Intermediate) ([]json.RawMessage, error) {
	cases, err := e.s.UniversalCaseListFromIntermediate(in)
	if err != nil {
		return nil, err
	}
	return encodeAll(cases)
}

func (e *erased[C, F]) UpdatedCasesIntermediate(ctx context.Context, after time.Time) (Intermediate, error) {
	return e.s.UpdatedCasesSinceDateIntermediate(ctx, after)
}

func (e *erased[C, F]) UpdatedCasesFromIntermediate(in Intermediate, after time.Time) ([]json.RawMessage, error) {
	cases, err := e.s.UpdatedCasesSinceDateFromIntermediate(in, after)
	if err != nil {
		return nil, err
	}
	return encodeAll(cases)
}

func (e *erased[C, F]) FilingsIntermediate(ctx context.Context, stateCase json.RawMessage) (Intermediate, error) {
	var c C
	if err := json.Unmarshal(stateCase, &c); err != nil {
		return nil, fmt.Errorf("decode %s case: %w", e.meta.Name, err)
	}
	return e.s.FilingDataIntermediate(ctx, c)
}

func (e *erased[C, F]) FilingsFromIntermediate(in Intermediate) ([]json.RawMessage, error) {
	filings, err := e.s.FilingDataFromIntermediate(in)
	if err != nil {
		return nil, err
	}
	return encodeAll(filings)
}

func (e *erased[C, F]) GenericCase(stateCase json.RawMessage) (models.GenericCase, error) {
	var c C
	if err := json.Unmarshal(stateCase, &c); err != nil {
		return models.GenericCase{}, fmt.Errorf("decode %s case: %w", e.meta.Name, err)
	}
	return e.s.IntoGenericCase(c)
}

func (e *erased[C, F]) GenericFiling(stateFiling json.RawMessage) (models.GenericFiling, error) {
	var f F
	if err := json.Unmarshal(stateFiling, &f); err != nil {
		return models.GenericFiling{}, fmt.Errorf("decode %s filing: %w", e.meta.Name, err)
	}
	return e.s.IntoGenericFiling(f)
}

func encodeAll[T any](items []T) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// DecodeField decodes in[key] into out. It works both on freshly built
// intermediates holding Go values and on ones read back from JSON.
func DecodeField(in Intermediate, key string, out any) error {
	v, ok := in[key]
	if !ok {
		return fmt.Errorf("intermediate has no %q field", key)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("re-encode %q: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %q: %w", key, err)
	}
	return nil
}

// Normalize round-trips an intermediate through JSON so callers observe
// exactly what would be read back from storage
func Normalize(in Intermediate) (Intermediate, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	var out Intermediate
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
