package poster

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openpuc/scrapers/pkg/pipeline"
	"github.com/openpuc/scrapers/pkg/scrapers"
)

// ScrapeAndSendCases runs a full scrape and posts the generic cases it
// produced. Cases from a partial run are still sent.
func ScrapeAndSendCases(ctx context.Context, proc *pipeline.Processor, runner scrapers.Runner, endpoint string, opts Options) (pipeline.RunResult, []json.RawMessage, error) {
	result := proc.GetAllCases(ctx, runner)
	if result.Status == pipeline.StatusFailed {
		err := result.Error
		if err == nil {
			err = fmt.Errorf("all %d cases failed", result.Total)
		}
		return result, nil, fmt.Errorf("scrape %s: %w", result.Scraper, err)
	}

	responses, err := PostListSplit(ctx, result.Cases, endpoint, opts)
	if err != nil {
		return result, nil, err
	}
	return result, responses, nil
}
