package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openpuc/scrapers/pkg/config"
	"github.com/openpuc/scrapers/pkg/storage"

	// Import backends to register them
	_ "github.com/openpuc/scrapers/pkg/storage/azure"
	_ "github.com/openpuc/scrapers/pkg/storage/backblaze"
	_ "github.com/openpuc/scrapers/pkg/storage/gcs"
	_ "github.com/openpuc/scrapers/pkg/storage/local"
	_ "github.com/openpuc/scrapers/pkg/storage/s3"
	_ "github.com/openpuc/scrapers/pkg/storage/ssh"
)

// InitializeBackends creates backend instances for every enabled destination
func InitializeBackends(ctx context.Context, cfg *config.Config, logger zerolog.Logger) ([]storage.Backend, error) {
	var configs []storage.Config
	var names []string
	for _, dest := range cfg.Storage.Destinations {
		if !dest.IsEnabled() {
			logger.Info().Str("destination", dest.Name).Msg("skipping disabled destination")
			continue
		}
		configs = append(configs, storage.Config{
			Name:    dest.Name,
			Type:    dest.Type,
			Enabled: true,
			Options: dest.Options,
		})
		names = append(names, dest.Name)
	}

	if len(configs) == 0 {
		return nil, errors.New("no enabled storage destinations configured")
	}

	backends, err := storage.NewFactory().CreateAll(ctx, configs)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage backends: %w", err)
	}

	logger.Info().
		Int("count", len(backends)).
		Strs("destinations", names).
		Msg("initialized storage backends")

	return backends, nil
}

// NewFromConfig creates a processor over the configured destinations
func NewFromConfig(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Processor, error) {
	backends, err := InitializeBackends(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	return New(backends, Options{
		Compress:      cfg.Storage.Compress,
		MaxConcurrent: cfg.GetMaxConcurrentCases(),
		KeepRuns:      cfg.Storage.KeepRuns,
	}, logger), nil
}
