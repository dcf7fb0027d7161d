package store

import (
	"time"

	"github.com/google/uuid"
)

// Status of a scrape run
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// Finished reports whether no more case results are expected
func (s Status) Finished() bool {
	return s == StatusSucceeded || s == StatusPartial || s == StatusFailed
}

// Run modes
const (
	ModeAll       = "all"
	ModeSinceLast = "since_last"
)

// ScrapeRun is one execution of a scraper
type ScrapeRun struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Scraper     string     `gorm:"index;not null" json:"scraper"`
	Mode        string     `gorm:"not null;default:all" json:"mode"`
	After       *time.Time `json:"after,omitempty"`
	BasePath    string     `json:"base_path"`
	Status      Status     `gorm:"index;not null" json:"status"`
	CasesTotal  int        `gorm:"not null" json:"cases_total"`             // -1 until the case list is known
	CasesDone   int        `gorm:"not null;default:0" json:"cases_done"`
	CasesFailed int        `gorm:"not null;default:0" json:"cases_failed"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `gorm:"index" json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Complete reports whether every case of the run has a result
func (r ScrapeRun) Complete() bool {
	return r.CasesTotal >= 0 && r.CasesDone+r.CasesFailed >= r.CasesTotal
}

// CaseRecord is the outcome of processing one case within a run
type CaseRecord struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	RunID      uuid.UUID `gorm:"type:uuid;index;not null" json:"run_id"`
	CaseNumber string    `gorm:"not null" json:"case_number"`
	ObjectKey  string    `json:"object_key,omitempty"`
	Filings    int       `json:"filings"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
