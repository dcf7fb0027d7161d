// Package models holds the state-independent case, filing and attachment
// types every scraper converts into.
package models

import (
	"errors"
	"fmt"
	"net/url"
)

// GenericAttachment is a document attached to a filing
type GenericAttachment struct {
	Name          string                 `json:"name"`
	URL           string                 `json:"url"`
	DocumentType  string                 `json:"document_type,omitempty"`
	ExtraMetadata map[string]interface{} `json:"extra_metadata"`
	Hash          *Blake2bHash           `json:"hash,omitempty"`
}

// Validate checks that the attachment points at an absolute http(s) URL
func (a GenericAttachment) Validate() error {
	u, err := url.Parse(a.URL)
	if err != nil {
		return fmt.Errorf("attachment %q: invalid url: %w", a.Name, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("attachment %q: url %q is not an absolute http(s) url", a.Name, a.URL)
	}
	return nil
}

// GenericFiling is a single docket entry
type GenericFiling struct {
	PartyName     string                 `json:"party_name"`
	FiledDate     RFC3339Time            `json:"filed_date"`
	FilingType    string                 `json:"filing_type"`
	Description   string                 `json:"description"`
	Attachments   []GenericAttachment    `json:"attachments"`
	ExtraMetadata map[string]interface{} `json:"extra_metadata"`
}

// Validate checks every attachment
func (f GenericFiling) Validate() error {
	var errs []error
	for _, a := range f.Attachments {
		if err := a.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GenericCase is a docket with its filings
type GenericCase struct {
	CaseNumber     string                 `json:"case_number"`
	CaseType       string                 `json:"case_type,omitempty"`
	Description    string                 `json:"description,omitempty"`
	Industry       string                 `json:"industry,omitempty"`
	Petitioner     string                 `json:"petitioner,omitempty"`
	HearingOfficer string                 `json:"hearing_officer,omitempty"`
	OpenedDate     *RFC3339Time           `json:"opened_date,omitempty"`
	ClosedDate     *RFC3339Time           `json:"closed_date,omitempty"`
	Filings        []GenericFiling        `json:"filings"`
	ExtraMetadata  map[string]interface{} `json:"extra_metadata"`
}

// Validate requires a case number and valid filings
func (c GenericCase) Validate() error {
	if c.CaseNumber == "" {
		return errors.New("case number is required")
	}
	var errs []error
	for _, f := range c.Filings {
		if err := f.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("case %s: %w", c.CaseNumber, errors.Join(errs...))
	}
	return nil
}
