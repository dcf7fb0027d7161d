// Package dummy provides a scraper that fabricates plausible cases. It is
// the fallback scraper and the fixture for pipeline tests.
package dummy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/openpuc/scrapers/pkg/models"
	"github.com/openpuc/scrapers/pkg/scrapers"
)

const caseCount = 10

func init() {
	scrapers.Register("dummy", func(opts scrapers.Options) (scrapers.Runner, error) {
		return scrapers.Erase[CaseData, FilingData](Meta, New(0)), nil
	})
}

// Meta identifies the dummy scraper
var Meta = scrapers.Meta{Name: "dummy", State: "dummy", Jurisdiction: "dummy_puc"}

type Attachment struct {
	DocumentTitle string `json:"document_title"`
	URL           string `json:"url"`
	FileFormat    string `json:"file_format"`
	DocumentType  string `json:"document_type"`
}

type FilingData struct {
	FilingID    string       `json:"filing_id"`
	CaseNumber  string       `json:"case_number"`
	DateFiled   time.Time    `json:"date_filed"`
	Description string       `json:"description"`
	Attachments []Attachment `json:"attachments"`
	FilingType  string       `json:"filing_type"`
}

type CaseData struct {
	CaseNumber  string    `json:"case_number"`
	Description string    `json:"description"`
	OpenedDate  time.Time `json:"opened_date"`
	Status      string    `json:"status"`
	Industry    string    `json:"industry"`
}

// Scraper generates fake data with gofakeit
type Scraper struct {
	mu    sync.Mutex
	faker *gofakeit.Faker
	now   func() time.Time
}

// New creates a dummy scraper. A zero seed gives random output.
func New(seed int64) *Scraper {
	return &Scraper{faker: gofakeit.New(seed), now: time.Now}
}

func (s *Scraper) day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *Scraper) newCase(seen map[string]bool) CaseData {
	now := s.now().UTC()
	decadeStart := time.Date(now.Year()-now.Year()%10, 1, 1, 0, 0, 0, 0, time.UTC)

	number := fmt.Sprintf("DUMMY-%d", s.faker.Number(1000, 9999))
	for seen[number] {
		number = fmt.Sprintf("DUMMY-%d", s.faker.Number(1000, 9999))
	}
	seen[number] = true

	return CaseData{
		CaseNumber:  number,
		Description: s.faker.Sentence(8),
		OpenedDate:  s.day(s.faker.DateRange(decadeStart, now)),
		Status:      "open",
		Industry:    "utilities",
	}
}

func (s *Scraper) newFiling(c CaseData) FilingData {
	now := s.now().UTC()
	yearStart := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)

	return FilingData{
		FilingID:    fmt.Sprintf("FILING-%d", s.faker.Number(10000, 99999)),
		CaseNumber:  c.CaseNumber,
		DateFiled:   s.day(s.faker.DateRange(yearStart, now)),
		Description: s.faker.Sentence(10),
		Attachments: []Attachment{{
			DocumentTitle: s.faker.BS(),
			URL:           fmt.Sprintf("https://dummy.com/docs/%d.pdf", s.faker.Number(1000, 9999)),
			FileFormat:    "pdf",
			DocumentType:  "filing",
		}},
		FilingType: "test_filing",
	}
}

func (s *Scraper) UniversalCaseListIntermediate(ctx context.Context) (scrapers.Intermediate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, caseCount)
	cases := make([]CaseData, 0, caseCount)
	for i := 0; i < caseCount; i++ {
		cases = append(cases, s.newCase(seen))
	}
	return scrapers.Intermediate{"cases": cases}, nil
}

func (s *Scraper) UniversalCaseListFromIntermediate(in scrapers.Intermediate) ([]CaseData, error) {
	var cases []CaseData
	if err := scrapers.DecodeField(in, "cases", &cases); err != nil {
		return nil, err
	}
	return cases, nil
}

func (s *Scraper) FilingDataIntermediate(ctx context.Context, c CaseData) (scrapers.Intermediate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.faker.Number(1, 5)
	filings := make([]FilingData, 0, n)
	for i := 0; i < n; i++ {
		filings = append(filings, s.newFiling(c))
	}
	return scrapers.Intermediate{"case": c, "filings": filings}, nil
}

func (s *Scraper) FilingDataFromIntermediate(in scrapers.Intermediate) ([]FilingData, error) {
	var filings []FilingData
	if err := scrapers.DecodeField(in, "filings", &filings); err != nil {
		return nil, err
	}
	return filings, nil
}

func (s *Scraper) UpdatedCasesSinceDateIntermediate(ctx context.Context, after time.Time) (scrapers.Intermediate, error) {
	return s.UniversalCaseListIntermediate(ctx)
}

func (s *Scraper) UpdatedCasesSinceDateFromIntermediate(in scrapers.Intermediate, after time.Time) ([]CaseData, error) {
	cases, err := s.UniversalCaseListFromIntermediate(in)
	if err != nil {
		return nil, err
	}

	updated := make([]CaseData, 0, len(cases))
	for _, c := range cases {
		if c.OpenedDate.After(after) {
			updated = append(updated, c)
		}
	}
	return updated, nil
}

func (s *Scraper) IntoGenericCase(c CaseData) (models.GenericCase, error) {
	opened := models.DateToRFCTime(c.OpenedDate)
	return models.GenericCase{
		CaseNumber:    c.CaseNumber,
		CaseType:      "dummy_case",
		Description:   c.Description,
		Industry:      c.Industry,
		OpenedDate:    &opened,
		Filings:       []models.GenericFiling{},
		ExtraMetadata: map[string]interface{}{"status": c.Status},
	}, nil
}

func (s *Scraper) IntoGenericFiling(f FilingData) (models.GenericFiling, error) {
	attachments := make([]models.GenericAttachment, 0, len(f.Attachments))
	for _, a := range f.Attachments {
		attachments = append(attachments, models.GenericAttachment{
			Name:          a.DocumentTitle,
			URL:           a.URL,
			DocumentType:  a.DocumentType,
			ExtraMetadata: map[string]interface{}{"file_format": a.FileFormat},
		})
	}

	return models.GenericFiling{
		PartyName:     "",
		FiledDate:     models.DateToRFCTime(f.DateFiled),
		FilingType:    f.FilingType,
		Description:   f.Description,
		Attachments:   attachments,
		ExtraMetadata: map[string]interface{}{"filing_id": f.FilingID},
	}, nil
}
