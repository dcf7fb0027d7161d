package storage

import (
	"context"
	"time"
)

// Backend represents a storage backend that holds intermediate scraper objects
type Backend interface {
	// Name returns a human-readable name for this backend (e.g., "local_primary", "s3_offsite")
	Name() string

	// Type returns the backend type (local, s3, backblaze, ssh, gcs, azure)
	Type() string

	// Write stores data under key, replacing any existing object
	// key: slash separated relative path (e.g., "objects/ny--2024-12-19T10-00-00/caselist.json")
	Write(ctx context.Context, key string, data []byte) error

	// Read returns the content of an object, ErrNotFound if missing
	Read(ctx context.Context, key string) ([]byte, error)

	// Delete removes an object from the backend
	Delete(ctx context.Context, key string) error

	// List returns all objects matching the pattern
	// pattern: glob pattern (e.g., "objects/ny--*", "*.json")
	// Returns objects sorted by modification time (newest first)
	List(ctx context.Context, pattern string) ([]FileInfo, error)

	// Stat returns metadata about a specific object
	Stat(ctx context.Context, key string) (*FileInfo, error)

	// Exists checks if an object exists in the backend
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases resources (connections, sessions)
	Close() error
}

// FileInfo represents metadata about a stored object
type FileInfo struct {
	Path    string    // Relative key in backend
	Size    int64     // Size in bytes
	ModTime time.Time // Last modification time
}

// Config represents storage backend configuration
type Config struct {
	Name    string                 `json:"name"`    // User-friendly name (e.g., "s3_primary")
	Type    string                 `json:"type"`    // Backend type: local, s3, backblaze, ssh, gcs, azure
	Enabled bool                   `json:"enabled"` // Whether this backend is active
	Options map[string]interface{} `json:"options"` // Backend-specific options
}

// Result represents outcome of a storage operation
type Result struct {
	BackendName string
	BackendType string
	Success     bool
	Error       error
	Duration    time.Duration
}

// AnySucceeded reports whether at least one backend completed the operation
func AnySucceeded(results []Result) bool {
	for _, r := range results {
		if r.Success {
			return true
		}
	}
	return false
}
