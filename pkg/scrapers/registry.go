package scrapers

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openpuc/scrapers/pkg/config"
)

// DefaultScraper is used when a requested name cannot be resolved
const DefaultScraper = "dummy"

var ErrUnknownScraper = errors.New("unknown scraper")

// Options carries what a scraper factory may need
type Options struct {
	Config config.ScrapersConfig
	Logger zerolog.Logger
}

// Factory builds a Runner
type Factory func(opts Options) (Runner, error)

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
)

// Register registers a scraper factory under name
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[name] = factory
}

// Names returns the registered scraper names, sorted
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry instantiates scrapers lazily and caches them
type Registry struct {
	opts Options

	mu      sync.Mutex
	runners map[string]Runner
}

// NewRegistry creates a registry whose factories receive opts
func NewRegistry(opts Options) *Registry {
	return &Registry{opts: opts, runners: make(map[string]Runner)}
}

// Lookup returns the scraper registered under name
func (r *Registry) Lookup(name string) (Runner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if runner, ok := r.runners[name]; ok {
		return runner, nil
	}

	registryMu.RLock()
	factory, ok := factories[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScraper, name)
	}

	runner, err := factory(r.opts)
	if err != nil {
		return nil, fmt.Errorf("create scraper %s: %w", name, err)
	}
	r.runners[name] = runner
	return runner, nil
}

// LookupOrDummy resolves name, falling back to the dummy scraper when the
// name is empty, an unrendered template, or unknown
func (r *Registry) LookupOrDummy(name string) (Runner, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, "{{") {
		r.opts.Logger.Warn().Str("requested", name).Msg("no scraper name given, using default")
		return r.Lookup(DefaultScraper)
	}

	runner, err := r.Lookup(name)
	if errors.Is(err, ErrUnknownScraper) {
		r.opts.Logger.Warn().Str("requested", name).Msg("unknown scraper, using default")
		return r.Lookup(DefaultScraper)
	}
	return runner, err
}

// Close closes every cached scraper that holds resources, such as a
// browser session, and empties the cache
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, runner := range r.runners {
		if c, ok := runner.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close scraper %s: %w", name, err))
			}
		}
	}
	clear(r.runners)
	return errors.Join(errs...)
}
