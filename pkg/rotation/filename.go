package rotation

import (
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	// DateFormat is the run timestamp layout (ISO-8601 like, no colons)
	DateFormat = "2006-01-02T15-04-05"

	// Separator splits scraper name and timestamp in a run name
	Separator = "--"

	// ObjectsRoot is the key prefix every run lives under
	ObjectsRoot = "objects"
)

// RunName represents the parsed components of a run directory name
type RunName struct {
	Scraper   string
	Timestamp time.Time
}

// String formats the run name as scraper--2006-01-02T15-04-05
func (r RunName) String() string {
	return r.Scraper + Separator + r.Timestamp.UTC().Format(DateFormat)
}

// Prefix returns the object key prefix of the run (objects/<name>)
func (r RunName) Prefix() string {
	return path.Join(ObjectsRoot, r.String())
}

// GenerateRunPath returns objects/<scraper>--<timestamp> for a run started at t
func GenerateRunPath(scraper string, t time.Time) string {
	return RunName{Scraper: scraper, Timestamp: t}.Prefix()
}

// ParseRunName parses a run name, a run prefix or any object key inside a
// run (objects/ny--2024-12-17T15-04-05/cases/case_1.json)
func ParseRunName(key string) (RunName, error) {
	name := strings.TrimPrefix(key, ObjectsRoot+"/")
	if idx := strings.Index(name, "/"); idx >= 0 {
		name = name[:idx]
	}

	idx := strings.LastIndex(name, Separator)
	if idx <= 0 {
		return RunName{}, fmt.Errorf("invalid run name %q: expected scraper%stimestamp", name, Separator)
	}

	scraper, timestampStr := name[:idx], name[idx+len(Separator):]
	timestamp, err := time.Parse(DateFormat, timestampStr)
	if err != nil {
		return RunName{}, fmt.Errorf("failed to parse timestamp '%s' from run %s: %w", timestampStr, name, err)
	}

	return RunName{Scraper: scraper, Timestamp: timestamp}, nil
}

// GetRunPattern returns the glob pattern matching every object of every
// run of a scraper
func GetRunPattern(scraper string) string {
	return path.Join(ObjectsRoot, scraper) + Separator + "*"
}
