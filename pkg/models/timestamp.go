package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RFC3339Time is a UTC timestamp serialized as an RFC3339 string
type RFC3339Time struct {
	time.Time
}

// NewRFC3339Time normalizes t to UTC
func NewRFC3339Time(t time.Time) RFC3339Time {
	return RFC3339Time{Time: t.UTC()}
}

// DateToRFCTime returns midnight UTC of the given calendar date
func DateToRFCTime(d time.Time) RFC3339Time {
	return RFC3339Time{Time: time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)}
}

// String formats the time as RFC3339
func (t RFC3339Time) String() string {
	return t.UTC().Format(time.RFC3339)
}

// MarshalJSON implements json.Marshaler
func (t RFC3339Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts RFC3339 timestamps and plain 2006-01-02 dates
func (t *RFC3339Time) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}

	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed.UTC()
		return nil
	}

	parsed, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return fmt.Errorf("invalid RFC3339 timestamp %q: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}
