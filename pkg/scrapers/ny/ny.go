// Package ny scrapes the New York State Department of Public Service
// document and matter management (DMM) site.
package ny

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/openpuc/scrapers/pkg/config"
	"github.com/openpuc/scrapers/pkg/models"
	"github.com/openpuc/scrapers/pkg/scrapers"
)

func init() {
	scrapers.Register("ny", func(opts scrapers.Options) (scrapers.Runner, error) {
		cfg := opts.Config.NY

		var fetcher Fetcher = NewHTTPFetcher()
		if cfg.GetUseBrowser() {
			fetcher = NewRodFetcher(true, 5*time.Minute)
		}

		s, err := New(cfg, fetcher, opts.Logger)
		if err != nil {
			return nil, err
		}
		return scrapers.Erase[DocketInfo, FileData](Meta, s), nil
	})
}

// Meta identifies the NY scraper
var Meta = scrapers.Meta{Name: "ny", State: "ny", Jurisdiction: "ny_puc"}

// DocketInfo is one matter from the search results
type DocketInfo struct {
	DocketID         string `json:"docket_id"` // 24-C-0663
	MatterType       string `json:"matter_type"`
	MatterSubtype    string `json:"matter_subtype"`
	Title            string `json:"title"`
	Organization     string `json:"organization"`
	DateFiled        string `json:"date_filed"` // 01/02/2006
	IndustryAffected string `json:"industry_affected"`
}

// FileData is one public document in a docket
type FileData struct {
	Serial       string `json:"serial"`
	DateFiled    string `json:"date_filed"`
	DocType      string `json:"nypuc_doctype"`
	Name         string `json:"name"`
	URL          string `json:"url"`
	Organization string `json:"organization"`
	ItemNo       string `json:"item_no"`
	FileName     string `json:"file_name"`
	DocketID     string `json:"docket_id"`
}

// industryPage is the raw search result for one industry
type industryPage struct {
	Industry int    `json:"industry"`
	HTML     string `json:"html,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Scraper implements scrapers.Scraper for NY
type Scraper struct {
	base       *url.URL
	industries []int
	fetcher    Fetcher
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// New creates a NY scraper using fetcher for page retrieval
func New(cfg config.NYConfig, fetcher Fetcher, logger zerolog.Logger) (*Scraper, error) {
	base, err := url.Parse(cfg.GetBaseURL())
	if err != nil {
		return nil, fmt.Errorf("invalid ny base_url: %w", err)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Scraper{
		base:       base,
		industries: cfg.GetIndustries(),
		fetcher:    fetcher,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger.With().Str("scraper", "ny").Logger(),
	}, nil
}

func (s *Scraper) fetch(ctx context.Context, pageURL string, wait Wait) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return s.fetcher.Fetch(ctx, pageURL, wait)
}

// Close releases the fetcher, shutting down its browser if one was started
func (s *Scraper) Close() error {
	return s.fetcher.Close()
}

func (s *Scraper) searchURL(industry int) string {
	return s.base.JoinPath("public", "Common", "SearchResults.aspx").String() +
		fmt.Sprintf("?MC=1&IA=%d", industry)
}

func (s *Scraper) docketURL(docketID string) string {
	return s.base.JoinPath("public", "MatterManagement", "CaseMaster.aspx").String() +
		"?MatterCaseNo=" + url.QueryEscape(docketID)
}

// UniversalCaseListIntermediate fetches the search results of every
// configured industry. A failing industry is logged and recorded, not fatal.
func (s *Scraper) UniversalCaseListIntermediate(ctx context.Context) (scrapers.Intermediate, error) {
	pages := make([]industryPage, 0, len(s.industries))

	for _, industry := range s.industries {
		page := industryPage{Industry: industry}

		body, err := s.fetch(ctx, s.searchURL(industry), Wait{Selector: "#" + searchTableID + " > tbody"})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn().Err(err).Int("industry", industry).Msg("failed to fetch industry search results")
			page.Error = err.Error()
		} else {
			page.HTML = body
		}

		pages = append(pages, page)
	}

	return scrapers.Intermediate{"industries": pages}, nil
}

func (s *Scraper) UniversalCaseListFromIntermediate(in scrapers.Intermediate) ([]DocketInfo, error) {
	var pages []industryPage
	if err := scrapers.DecodeField(in, "industries", &pages); err != nil {
		return nil, err
	}

	var all []DocketInfo
	for _, page := range pages {
		if page.HTML == "" {
			continue
		}
		dockets, err := ParseDockets(page.HTML)
		if err != nil {
			s.logger.Warn().Err(err).Int("industry", page.Industry).Msg("failed to parse industry search results")
			continue
		}
		all = append(all, dockets...)
	}

	SortDockets(all)
	return all, nil
}

func (s *Scraper) FilingDataIntermediate(ctx context.Context, d DocketInfo) (scrapers.Intermediate, error) {
	// The document grid is filled by a postback; the table exists before
	// its rows do, so wait for the update panel overlay to go away too
	body, err := s.fetch(ctx, s.docketURL(d.DocketID), Wait{Selector: "#" + filingsTableID, HiddenID: filingsOverlay})
	if err != nil {
		return nil, fmt.Errorf("fetch docket %s: %w", d.DocketID, err)
	}
	return scrapers.Intermediate{"docket_id": d.DocketID, "html": body}, nil
}

func (s *Scraper) FilingDataFromIntermediate(in scrapers.Intermediate) ([]FileData, error) {
	var docketID, body string
	if err := scrapers.DecodeField(in, "docket_id", &docketID); err != nil {
		return nil, err
	}
	if err := scrapers.DecodeField(in, "html", &body); err != nil {
		return nil, err
	}

	base := s.base.JoinPath("public", "MatterManagement") // relative links are relative to CaseMaster.aspx
	base.Path += "/"
	return ParseFilings(body, docketID, base)
}

func (s *Scraper) UpdatedCasesSinceDateIntermediate(ctx context.Context, after time.Time) (scrapers.Intermediate, error) {
	return s.UniversalCaseListIntermediate(ctx)
}

func (s *Scraper) UpdatedCasesSinceDateFromIntermediate(in scrapers.Intermediate, after time.Time) ([]DocketInfo, error) {
	all, err := s.UniversalCaseListFromIntermediate(in)
	if err != nil {
		return nil, err
	}

	var updated []DocketInfo
	for _, d := range all {
		filed, err := time.Parse(DateLayout, d.DateFiled)
		if err != nil {
			continue
		}
		if filed.After(after) {
			updated = append(updated, d)
		}
	}
	return updated, nil
}

func (s *Scraper) IntoGenericCase(d DocketInfo) (models.GenericCase, error) {
	gc := models.GenericCase{
		CaseNumber:  d.DocketID,
		CaseType:    strings.TrimSpace(strings.Trim(d.MatterType+" - "+d.MatterSubtype, " -")),
		Description: d.Title,
		Industry:    d.IndustryAffected,
		Petitioner:  d.Organization,
		Filings:     []models.GenericFiling{},
		ExtraMetadata: map[string]interface{}{
			"matter_type":    d.MatterType,
			"matter_subtype": d.MatterSubtype,
		},
	}

	if filed, err := time.Parse(DateLayout, d.DateFiled); err == nil {
		opened := models.DateToRFCTime(filed)
		gc.OpenedDate = &opened
	}
	return gc, nil
}

func (s *Scraper) IntoGenericFiling(f FileData) (models.GenericFiling, error) {
	filed, err := time.Parse(DateLayout, f.DateFiled)
	if err != nil {
		return models.GenericFiling{}, fmt.Errorf("filing %s/%s: invalid date %q: %w", f.DocketID, f.ItemNo, f.DateFiled, err)
	}

	var attachments []models.GenericAttachment
	if f.URL != "" {
		attachments = append(attachments, models.GenericAttachment{
			Name:         f.Name,
			URL:          f.URL,
			DocumentType: f.DocType,
			ExtraMetadata: map[string]interface{}{
				"file_name": f.FileName,
			},
		})
	}

	return models.GenericFiling{
		PartyName:   f.Organization,
		FiledDate:   models.DateToRFCTime(filed),
		FilingType:  f.DocType,
		Description: f.Name,
		Attachments: attachments,
		ExtraMetadata: map[string]interface{}{
			"serial":    f.Serial,
			"item_no":   f.ItemNo,
			"docket_id": f.DocketID,
		},
	}, nil
}
