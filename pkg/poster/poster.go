// Package poster sends scraped objects to a downstream HTTP endpoint in
// bounded, concurrent chunks.
package poster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/openpuc/scrapers/pkg/config"
	"github.com/openpuc/scrapers/pkg/metrics"
	"github.com/openpuc/scrapers/pkg/storage"
)

const (
	DefaultMaxRequestSize   = 1000
	DefaultMaxSimulRequests = 10
)

// StatusError is returned for a non-2xx response
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Options tune PostListSplit
type Options struct {
	MaxRequestSize    int
	MaxSimulRequests  int
	RequestsPerSecond float64 // 0 = unlimited
	Retry             storage.RetryConfig
	Client            *http.Client
	Logger            zerolog.Logger
}

// OptionsFromConfig builds options from the post section of the config
func OptionsFromConfig(cfg config.PostConfig, logger zerolog.Logger) Options {
	return Options{
		MaxRequestSize:    cfg.GetMaxRequestSize(),
		MaxSimulRequests:  cfg.GetMaxSimulRequests(),
		RequestsPerSecond: cfg.RequestsPerSecond,
		Retry:             storage.DefaultRetryConfig(),
		Logger:            logger,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxRequestSize <= 0 {
		o.MaxRequestSize = DefaultMaxRequestSize
	}
	if o.MaxSimulRequests <= 0 {
		o.MaxSimulRequests = DefaultMaxSimulRequests
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = storage.DefaultRetryConfig()
	}
	if o.Client == nil {
		o.Client = &http.Client{Timeout: 2 * time.Minute}
	}
	return o
}

// Retryable reports whether a failed POST should be attempted again:
// transport failures, 429 and 5xx responses
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// Chunk splits objects into slices of at most size elements
func Chunk[T any](objects []T, size int) [][]T {
	if size <= 0 {
		size = DefaultMaxRequestSize
	}
	var chunks [][]T
	for start := 0; start < len(objects); start += size {
		end := min(start+size, len(objects))
		chunks = append(chunks, objects[start:end])
	}
	return chunks
}

// PostListSplit POSTs objects to endpoint as JSON arrays of at most
// MaxRequestSize elements, with at most MaxSimulRequests requests in flight.
// Responses are returned in request order.
func PostListSplit[T any](ctx context.Context, objects []T, endpoint string, opts Options) ([]json.RawMessage, error) {
	opts = opts.withDefaults()
	chunks := Chunk(objects, opts.MaxRequestSize)
	if len(chunks) == 0 {
		return nil, nil
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	limiter := rate.NewLimiter(limit, 1)

	retry := opts.Retry
	retry.Retryable = Retryable

	log := opts.Logger.With().Str("endpoint", endpoint).Logger()
	log.Info().
		Int("objects", len(objects)).
		Int("requests", len(chunks)).
		Int("max_simul_requests", opts.MaxSimulRequests).
		Msg("posting objects")

	sem := semaphore.NewWeighted(int64(opts.MaxSimulRequests))
	g, gCtx := errgroup.WithContext(ctx)
	responses := make([]json.RawMessage, len(chunks))

	for i, chunk := range chunks {
		g.Go(func() error {
			if err := sem.Acquire(gCtx, 1); err != nil {
				return fmt.Errorf("failed to acquire semaphore: %w", err)
			}
			defer sem.Release(1)

			body, err := json.Marshal(chunk)
			if err != nil {
				return fmt.Errorf("encode chunk %d: %w", i, err)
			}

			err = storage.WithRetry(gCtx, retry, func() error {
				if err := limiter.Wait(gCtx); err != nil {
					return err
				}
				resp, err := post(gCtx, opts.Client, endpoint, body)
				if err != nil {
					log.Warn().Err(err).Int("chunk", i).Msg("post failed")
					return err
				}
				responses[i] = resp
				return nil
			})
			if err != nil {
				metrics.PostsTotal.WithLabelValues("error").Inc()
				return fmt.Errorf("post chunk %d of %d: %w", i+1, len(chunks), err)
			}

			metrics.PostsTotal.WithLabelValues("ok").Inc()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Info().Int("requests", len(chunks)).Msg("posting completed")
	return responses, nil
}

func post(ctx context.Context, client *http.Client, endpoint string, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(data) {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: "response is not json"}
	}
	return json.RawMessage(data), nil
}
