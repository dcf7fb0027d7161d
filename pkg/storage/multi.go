package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Observer is notified of every per-backend outcome (used for metrics)
type Observer func(op string, r Result)

// MultiWriter handles writing to multiple backends in parallel
type MultiWriter struct {
	logger   zerolog.Logger
	observer Observer
}

// NewMultiWriter creates a new multi-writer
func NewMultiWriter(logger zerolog.Logger) *MultiWriter {
	return &MultiWriter{logger: logger}
}

// WithObserver registers a callback receiving each backend result
func (m *MultiWriter) WithObserver(o Observer) *MultiWriter {
	m.observer = o
	return m
}

// Write stores an object on every backend concurrently
func (m *MultiWriter) Write(ctx context.Context, backends []Backend, key string, data []byte) []Result {
	return m.fanOut(ctx, "write", backends, func(b Backend) error {
		m.logger.Debug().
			Str("backend", b.Name()).
			Str("type", b.Type()).
			Str("key", key).
			Int("size_bytes", len(data)).
			Msg("starting write")
		return b.Write(ctx, key, data)
	})
}

// Delete deletes an object from multiple backends
func (m *MultiWriter) Delete(ctx context.Context, backends []Backend, key string) []Result {
	return m.fanOut(ctx, "delete", backends, func(b Backend) error {
		return b.Delete(ctx, key)
	})
}

func (m *MultiWriter) fanOut(ctx context.Context, op string, backends []Backend, fn func(Backend) error) []Result {
	var wg sync.WaitGroup
	resultsChan := make(chan Result, len(backends))

	for _, backend := range backends {
		wg.Add(1)

		go func(b Backend) {
			defer wg.Done()

			start := time.Now()
			err := fn(b)
			duration := time.Since(start)

			result := Result{
				BackendName: b.Name(),
				BackendType: b.Type(),
				Success:     err == nil,
				Error:       err,
				Duration:    duration,
			}

			if err != nil {
				m.logger.Error().
					Err(err).
					Str("backend", b.Name()).
					Str("op", op).
					Dur("duration", duration).
					Msg("storage operation failed")
			} else {
				m.logger.Debug().
					Str("backend", b.Name()).
					Str("op", op).
					Dur("duration", duration).
					Msg("storage operation succeeded")
			}

			if m.observer != nil {
				m.observer(op, result)
			}

			resultsChan <- result
		}(backend)
	}

	wg.Wait()
	close(resultsChan)

	var results []Result
	for result := range resultsChan {
		results = append(results, result)
	}

	return results
}

// ReadFirst returns the object from the first backend that has it
func ReadFirst(ctx context.Context, backends []Backend, key string) ([]byte, error) {
	lastErr := ErrNotFound
	for _, b := range backends {
		data, err := b.Read(ctx, key)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
