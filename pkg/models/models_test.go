package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRFC3339Time(t *testing.T) {
	t.Run("marshal_utc", func(t *testing.T) {
		loc := time.FixedZone("EST", -5*3600)
		ts := NewRFC3339Time(time.Date(2024, 3, 1, 10, 0, 0, 0, loc))

		out, err := json.Marshal(ts)
		require.NoError(t, err)
		assert.Equal(t, `"2024-03-01T15:00:00Z"`, string(out))
	})

	t.Run("unmarshal_date_only", func(t *testing.T) {
		var ts RFC3339Time
		require.NoError(t, json.Unmarshal([]byte(`"2023-07-04"`), &ts))
		assert.Equal(t, time.Date(2023, 7, 4, 0, 0, 0, 0, time.UTC), ts.Time)
	})

	t.Run("unmarshal_invalid", func(t *testing.T) {
		var ts RFC3339Time
		assert.Error(t, json.Unmarshal([]byte(`"07/04/2023"`), &ts))
		assert.Error(t, json.Unmarshal([]byte(`12`), &ts))
	})

	t.Run("date_to_rfctime", func(t *testing.T) {
		d := time.Date(2022, 12, 31, 23, 59, 0, 0, time.Local)
		assert.Equal(t, "2022-12-31T00:00:00Z", DateToRFCTime(d).String())
	})
}

func TestBlake2bHash(t *testing.T) {
	h := HashBytes([]byte("tariff filing"))

	fromReader, err := HashReader(strings.NewReader("tariff filing"))
	require.NoError(t, err)
	assert.Equal(t, h, fromReader)

	parsed, err := ParseBlake2bHash(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	assert.NotEqual(t, h, HashBytes([]byte("other filing")))

	_, err = ParseBlake2bHash("c2hvcnQ")
	assert.Error(t, err)
	_, err = ParseBlake2bHash("***")
	assert.Error(t, err)
}

func TestGenericAttachment_Validate(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"https", "https://documents.dps.ny.gov/public/Common/ViewDoc.aspx?DocRefId=1", false},
		{"http", "http://dummy.com/docs/1234.pdf", false},
		{"relative", "/docs/1234.pdf", true},
		{"ftp", "ftp://dummy.com/1234.pdf", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := GenericAttachment{Name: "doc", URL: tt.url}.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGenericCase_Validate(t *testing.T) {
	assert.Error(t, GenericCase{}.Validate())

	c := GenericCase{
		CaseNumber: "24-E-0001",
		Filings: []GenericFiling{{
			Attachments: []GenericAttachment{{Name: "bad", URL: "not a url"}},
		}},
	}
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "24-E-0001")

	c.Filings[0].Attachments[0].URL = "https://example.com/a.pdf"
	assert.NoError(t, c.Validate())
}

func TestHighestQualityText(t *testing.T) {
	older := NewRFC3339Time(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	newer := NewRFC3339Time(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	tests := []struct {
		name  string
		texts []RawAttachmentText
		want  string
	}{
		{
			name: "quality beats recency",
			texts: []RawAttachmentText{
				{Quality: QualityLow, Text: "ocr", Timestamp: newer},
				{Quality: QualityHigh, Text: "native", Timestamp: older},
			},
			want: "native",
		},
		{
			name: "recency breaks ties",
			texts: []RawAttachmentText{
				{Quality: QualityHigh, Text: "first", Timestamp: older},
				{Quality: QualityHigh, Text: "second", Timestamp: newer},
			},
			want: "second",
		},
		{
			name:  "single",
			texts: []RawAttachmentText{{Quality: QualityLow, Text: "only", Timestamp: older}},
			want:  "only",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HighestQualityText(RawAttachment{Name: "a.pdf", TextObjects: tt.texts})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("no_text", func(t *testing.T) {
		_, err := HighestQualityText(RawAttachment{Name: "empty.pdf"})
		assert.ErrorIs(t, err, ErrNoText)
	})
}

func TestGenericCase_JSONShape(t *testing.T) {
	opened := DateToRFCTime(time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))
	hash := HashBytes([]byte("x"))
	c := GenericCase{
		CaseNumber: "DUMMY-1234",
		OpenedDate: &opened,
		Filings: []GenericFiling{{
			FilingType:  "test_filing",
			Attachments: []GenericAttachment{{Name: "a", URL: "https://dummy.com/a.pdf", Hash: &hash}},
		}},
	}

	out, err := json.Marshal(c)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "2024-05-02T00:00:00Z", decoded["opened_date"])
	assert.NotContains(t, decoded, "closed_date")

	var back GenericCase
	require.NoError(t, json.Unmarshal(out, &back))
	require.NotNil(t, back.Filings[0].Attachments[0].Hash)
	assert.Equal(t, hash, *back.Filings[0].Attachments[0].Hash)
}
