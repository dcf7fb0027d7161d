package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// BackendConstructor is a function that creates a backend instance
type BackendConstructor func(ctx context.Context, cfg Config) (Backend, error)

var (
	registryMu      sync.RWMutex
	backendRegistry = make(map[string]BackendConstructor)
)

// RegisterBackend registers a backend constructor
func RegisterBackend(backendType string, constructor BackendConstructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backendRegistry[backendType] = constructor
}

// RegisteredTypes lists the backend types linked into the binary
func RegisteredTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	types := make([]string, 0, len(backendRegistry))
	for t := range backendRegistry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Factory creates storage backends from configuration
type Factory struct{}

// NewFactory creates a new factory instance
func NewFactory() *Factory {
	return &Factory{}
}

// Create instantiates a backend from config
func (f *Factory) Create(ctx context.Context, cfg Config) (Backend, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("backend %s is disabled", cfg.Name)
	}

	registryMu.RLock()
	constructor, ok := backendRegistry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown backend type %s: %w", cfg.Type, ErrInvalidConfig)
	}

	return constructor(ctx, cfg)
}

// CreateAll creates all enabled backends from slice of configs
func (f *Factory) CreateAll(ctx context.Context, configs []Config) ([]Backend, error) {
	backends := make([]Backend, 0, len(configs))

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		backend, err := f.Create(ctx, cfg)
		if err != nil {
			// Close already created backends
			CloseAll(backends)
			return nil, fmt.Errorf("failed to create backend %s: %w", cfg.Name, err)
		}

		backends = append(backends, backend)
	}

	return backends, nil
}

// CloseAll safely closes all backends
func CloseAll(backends []Backend) {
	for _, backend := range backends {
		backend.Close()
	}
}

// StringOption reads a string option, reporting a missing required one
func StringOption(options map[string]interface{}, key string, required bool) (string, error) {
	v, ok := options[key].(string)
	if !ok && required {
		return "", fmt.Errorf("missing required option %s: %w", key, ErrInvalidConfig)
	}
	return v, nil
}

// BoolOption reads a boolean option with a default
func BoolOption(options map[string]interface{}, key string, def bool) bool {
	if v, ok := options[key].(bool); ok {
		return v
	}
	return def
}

// IntOption reads a numeric option (JSON numbers decode as float64)
func IntOption(options map[string]interface{}, key string, def int) int {
	switch v := options[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}
