package rotation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRunName(t *testing.T) {
	tests := []struct {
		name        string
		key         string
		wantScraper string
		want        time.Time
		wantErr     bool
	}{
		{
			name:        "bare run name",
			key:         "ny--2024-12-17T03-00-00",
			wantScraper: "ny",
			want:        time.Date(2024, 12, 17, 3, 0, 0, 0, time.UTC),
		},
		{
			name:        "run prefix",
			key:         "objects/dummy--2024-01-01T00-00-00",
			wantScraper: "dummy",
			want:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:        "nested object key",
			key:         "objects/ny--2024-12-17T14-30-45/filings/case_24-E-0100_parsed.json",
			wantScraper: "ny",
			want:        time.Date(2024, 12, 17, 14, 30, 45, 0, time.UTC),
		},
		{
			name:        "scraper name with underscores",
			key:         "objects/ny_puc_v2--2024-12-17T14-30-45/caselist.json",
			wantScraper: "ny_puc_v2",
			want:        time.Date(2024, 12, 17, 14, 30, 45, 0, time.UTC),
		},
		{
			name:    "missing separator",
			key:     "objects/ny_2024-12-17_14-30-45/caselist.json",
			wantErr: true,
		},
		{
			name:    "bad timestamp",
			key:     "objects/ny--yesterday/caselist.json",
			wantErr: true,
		},
		{
			name:    "empty scraper",
			key:     "objects/--2024-12-17T14-30-45",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRunName(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantScraper, got.Scraper)
			assert.True(t, tt.want.Equal(got.Timestamp), "got %s", got.Timestamp)
		})
	}
}

func TestGenerateRunPath(t *testing.T) {
	ts := time.Date(2024, 12, 17, 15, 4, 5, 0, time.FixedZone("EST", -5*3600))

	got := GenerateRunPath("ny", ts)
	assert.Equal(t, "objects/ny--2024-12-17T20-04-05", got, "timestamps are rendered in UTC")

	parsed, err := ParseRunName(got)
	require.NoError(t, err)
	assert.True(t, ts.Equal(parsed.Timestamp))
	assert.Equal(t, got, parsed.Prefix())
}

func TestGetRunPattern(t *testing.T) {
	assert.Equal(t, "objects/ny--*", GetRunPattern("ny"))
}

func TestCategorizeTier(t *testing.T) {
	now := time.Date(2024, 12, 17, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, TierHourly, CategorizeTier(now.Add(-time.Hour), now))
	assert.Equal(t, TierDaily, CategorizeTier(now.Add(-48*time.Hour), now))
	assert.Equal(t, TierWeekly, CategorizeTier(now.AddDate(0, 0, -10), now))
	assert.Equal(t, TierMonthly, CategorizeTier(now.AddDate(0, 0, -60), now))
	assert.Equal(t, TierQuarterly, CategorizeTier(now.AddDate(0, 0, -200), now))
	assert.Equal(t, TierYearly, CategorizeTier(now.AddDate(-2, 0, 0), now))
}
