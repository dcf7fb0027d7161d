package dummy_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpuc/scrapers/pkg/scrapers"
	"github.com/openpuc/scrapers/pkg/scrapers/dummy"
)

var caseNumberRe = regexp.MustCompile(`^DUMMY-\d{4}$`)

func TestScraper_CaseList(t *testing.T) {
	s := dummy.New(42)
	ctx := context.Background()

	in, err := s.UniversalCaseListIntermediate(ctx)
	require.NoError(t, err)

	// parsing must work on the JSON form as well as the in-memory form
	normalized, err := scrapers.Normalize(in)
	require.NoError(t, err)

	direct, err := s.UniversalCaseListFromIntermediate(in)
	require.NoError(t, err)
	decoded, err := s.UniversalCaseListFromIntermediate(normalized)
	require.NoError(t, err)

	require.Len(t, decoded, 10)
	require.Len(t, direct, 10)
	for i := range decoded {
		assert.Equal(t, direct[i].CaseNumber, decoded[i].CaseNumber)
		assert.True(t, direct[i].OpenedDate.Equal(decoded[i].OpenedDate))
	}

	seen := map[string]bool{}
	for _, c := range decoded {
		assert.Regexp(t, caseNumberRe, c.CaseNumber)
		assert.False(t, seen[c.CaseNumber], "case numbers are unique")
		seen[c.CaseNumber] = true
		assert.Equal(t, "open", c.Status)
		assert.Equal(t, "utilities", c.Industry)
	}
}

func TestScraper_Filings(t *testing.T) {
	s := dummy.New(7)
	ctx := context.Background()

	c := dummy.CaseData{CaseNumber: "DUMMY-1234", OpenedDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	in, err := s.FilingDataIntermediate(ctx, c)
	require.NoError(t, err)

	normalized, err := scrapers.Normalize(in)
	require.NoError(t, err)

	filings, err := s.FilingDataFromIntermediate(normalized)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(filings), 1)
	require.LessOrEqual(t, len(filings), 5)

	for _, f := range filings {
		assert.Equal(t, "DUMMY-1234", f.CaseNumber)
		require.Len(t, f.Attachments, 1)

		generic, err := s.IntoGenericFiling(f)
		require.NoError(t, err)
		assert.NoError(t, generic.Validate())
		assert.Equal(t, f.FilingID, generic.ExtraMetadata["filing_id"])
	}
}

func TestScraper_UpdatedSince(t *testing.T) {
	s := dummy.New(1)
	after := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	in := scrapers.Intermediate{"cases": []dummy.CaseData{
		{CaseNumber: "DUMMY-1000", OpenedDate: after.AddDate(0, 0, -1)},
		{CaseNumber: "DUMMY-1001", OpenedDate: after},
		{CaseNumber: "DUMMY-1002", OpenedDate: after.AddDate(0, 0, 1)},
	}}

	updated, err := s.UpdatedCasesSinceDateFromIntermediate(in, after)
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, "DUMMY-1002", updated[0].CaseNumber)
}

func TestScraper_IntoGenericCase(t *testing.T) {
	s := dummy.New(1)
	opened := time.Date(2023, 3, 4, 0, 0, 0, 0, time.UTC)

	g, err := s.IntoGenericCase(dummy.CaseData{
		CaseNumber:  "DUMMY-2000",
		Description: "a case",
		OpenedDate:  opened,
		Status:      "open",
		Industry:    "utilities",
	})
	require.NoError(t, err)

	assert.Equal(t, "DUMMY-2000", g.CaseNumber)
	assert.Equal(t, "dummy_case", g.CaseType)
	require.NotNil(t, g.OpenedDate)
	assert.Equal(t, "2023-03-04T00:00:00Z", g.OpenedDate.String())
	assert.Equal(t, "open", g.ExtraMetadata["status"])
}

func TestRegistered(t *testing.T) {
	reg := scrapers.NewRegistry(scrapers.Options{Logger: zerolog.Nop()})

	r, err := reg.Lookup("dummy")
	require.NoError(t, err)
	assert.Equal(t, dummy.Meta, r.Meta())

	// erased runner round trip through JSON
	in, err := r.CaseListIntermediate(context.Background())
	require.NoError(t, err)
	raw, err := r.CaseListFromIntermediate(in)
	require.NoError(t, err)
	require.Len(t, raw, 10)

	g, err := r.GenericCase(raw[0])
	require.NoError(t, err)
	assert.Regexp(t, caseNumberRe, g.CaseNumber)

	for _, name := range []string{"", "{{ params.scraper }}", "nope"} {
		fallback, err := reg.LookupOrDummy(name)
		require.NoError(t, err)
		assert.Equal(t, "dummy", fallback.Meta().Name)
	}

	_, err = reg.Lookup("nope")
	assert.ErrorIs(t, err, scrapers.ErrUnknownScraper)
}
