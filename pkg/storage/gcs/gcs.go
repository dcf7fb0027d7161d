package gcs

import (
	"context"
	"errors"
	"io"
	"path"
	"sort"
	"strings"

	gcpStorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/openpuc/scrapers/pkg/storage"
)

// Backend stores objects in a Google Cloud Storage bucket
type Backend struct {
	name   string
	client *gcpStorage.Client
	bucket *gcpStorage.BucketHandle
	prefix string
}

func init() {
	storage.RegisterBackend("gcs", func(ctx context.Context, cfg storage.Config) (storage.Backend, error) {
		return New(ctx, cfg)
	})
}

// New creates a new GCS backend. "endpoint" targets an emulator without auth.
func New(ctx context.Context, cfg storage.Config) (*Backend, error) {
	bucketName, err := storage.StringOption(cfg.Options, "bucket", true)
	if err != nil {
		return nil, err
	}
	keyFile, _ := storage.StringOption(cfg.Options, "key_file", false)
	endpoint, _ := storage.StringOption(cfg.Options, "endpoint", false)
	prefix, _ := storage.StringOption(cfg.Options, "prefix", false)

	opts := make([]option.ClientOption, 0)
	if keyFile != "" {
		opts = append(opts, option.WithCredentialsFile(keyFile))
	}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	}

	client, err := gcpStorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, storage.WrapError(cfg.Name, "init", err)
	}

	return &Backend{
		name:   cfg.Name,
		client: client,
		bucket: client.Bucket(bucketName),
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

func (b *Backend) Name() string { return b.name }
func (b *Backend) Type() string { return "gcs" }

// Write uploads an object
func (b *Backend) Write(ctx context.Context, key string, data []byte) error {
	return storage.WithRetry(ctx, storage.DefaultRetryConfig(), func() error {
		w := b.bucket.Object(b.objectKey(key)).NewWriter(ctx)
		if strings.HasSuffix(key, ".json") {
			w.ContentType = "application/json"
		}

		if _, err := w.Write(data); err != nil {
			w.Close()
			return storage.WrapError(b.name, "upload", err)
		}
		if err := w.Close(); err != nil {
			return storage.WrapError(b.name, "upload", err)
		}
		return nil
	})
}

// Read downloads an object
func (b *Backend) Read(ctx context.Context, key string) ([]byte, error) {
	r, err := b.bucket.Object(b.objectKey(key)).NewReader(ctx)
	if err != nil {
		return nil, storage.WrapError(b.name, "read", translate(err))
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, storage.WrapError(b.name, "read", err)
	}
	return data, nil
}

// Delete removes an object
func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := b.bucket.Object(b.objectKey(key)).Delete(ctx); err != nil {
		return storage.WrapError(b.name, "delete", translate(err))
	}
	return nil
}

// List returns objects matching pattern, newest first
func (b *Backend) List(ctx context.Context, pattern string) ([]storage.FileInfo, error) {
	it := b.bucket.Objects(ctx, &gcpStorage.Query{
		Prefix: b.objectKey(storage.GlobPrefix(pattern)),
	})

	var files []storage.FileInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, storage.WrapError(b.name, "list", err)
		}

		relPath := strings.TrimPrefix(strings.TrimPrefix(attrs.Name, b.prefix), "/")
		if attrs.Size == 0 || !storage.MatchGlob(relPath, pattern) {
			continue
		}

		files = append(files, storage.FileInfo{
			Path:    relPath,
			Size:    attrs.Size,
			ModTime: attrs.Updated,
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ModTime.After(files[j].ModTime)
	})

	return files, nil
}

// Stat returns object metadata
func (b *Backend) Stat(ctx context.Context, key string) (*storage.FileInfo, error) {
	attrs, err := b.bucket.Object(b.objectKey(key)).Attrs(ctx)
	if err != nil {
		return nil, storage.WrapError(b.name, "stat", translate(err))
	}

	return &storage.FileInfo{
		Path:    key,
		Size:    attrs.Size,
		ModTime: attrs.Updated,
	}, nil
}

// Exists checks if object exists
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.Stat(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Close releases the client
func (b *Backend) Close() error {
	return b.client.Close()
}

func (b *Backend) objectKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return path.Join(b.prefix, key)
}

func translate(err error) error {
	if errors.Is(err, gcpStorage.ErrObjectNotExist) {
		return errors.Join(storage.ErrNotFound, err)
	}
	return err
}
