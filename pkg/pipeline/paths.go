package pipeline

import (
	"path"
	"strings"
	"time"

	"github.com/openpuc/scrapers/pkg/rotation"
)

// Object names inside a run prefix
const (
	CaseListObject     = "caselist.json"
	UpdatedCasesObject = "updated_cases.json"
	casesDir           = "cases"
	filingsDir         = "filings"
	genericDir         = "generic"
)

// IntermediateSavePath returns the run prefix objects of one scrape are
// written below, e.g. objects/ny--2024-12-19T10-00-00
func IntermediateSavePath(scraper string, now time.Time) string {
	return rotation.GenerateRunPath(scraper, now)
}

// SanitizeCaseNumber makes a case number safe to use as part of an object
// key. Separators and anything outside [A-Za-z0-9._-] become underscores.
func SanitizeCaseNumber(caseNumber string) string {
	caseNumber = strings.TrimSpace(caseNumber)
	if caseNumber == "" {
		return "unknown"
	}

	var sb strings.Builder
	for _, r := range caseNumber {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}

	s := sb.String()
	if strings.Trim(s, ".") == "" {
		return "unknown"
	}
	return s
}

// CaseKey is where the state-specific case is stored
func CaseKey(basePath, caseNumber string) string {
	return path.Join(basePath, casesDir, "case_"+SanitizeCaseNumber(caseNumber)+".json")
}

// FilingsKey is where the raw filings intermediate is stored
func FilingsKey(basePath, caseNumber string) string {
	return path.Join(basePath, filingsDir, "case_"+SanitizeCaseNumber(caseNumber)+".json")
}

// ParsedFilingsKey is where the parsed state filings are stored
func ParsedFilingsKey(basePath, caseNumber string) string {
	return path.Join(basePath, filingsDir, "case_"+SanitizeCaseNumber(caseNumber)+"_parsed.json")
}

// GenericKey is where the converted generic case is stored
func GenericKey(basePath, caseNumber string) string {
	return path.Join(basePath, genericDir, "case_"+SanitizeCaseNumber(caseNumber)+".json")
}
