package backblaze

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/kurin/blazer/b2"

	"github.com/openpuc/scrapers/pkg/storage"
)

type Backend struct {
	name   string
	client *b2.Client
	bucket *b2.Bucket
	prefix string
}

func init() {
	storage.RegisterBackend("backblaze", func(ctx context.Context, cfg storage.Config) (storage.Backend, error) {
		return New(ctx, cfg)
	})
}

// New creates a new Backblaze B2 backend
func New(ctx context.Context, cfg storage.Config) (*Backend, error) {
	b2Cfg, err := parseConfig(cfg.Options)
	if err != nil {
		return nil, err
	}

	client, err := b2.NewClient(ctx, b2Cfg.AccountID, b2Cfg.ApplicationKey)
	if err != nil {
		return nil, storage.WrapError(cfg.Name, "init", errors.Join(storage.ErrAuthFailed, err))
	}

	bucket, err := client.Bucket(ctx, b2Cfg.BucketName)
	if err != nil {
		return nil, storage.WrapError(cfg.Name, "get bucket", err)
	}

	return &Backend{
		name:   cfg.Name,
		client: client,
		bucket: bucket,
		prefix: strings.Trim(b2Cfg.Prefix, "/"),
	}, nil
}

func (b *Backend) Name() string { return b.name }
func (b *Backend) Type() string { return "backblaze" }

// Write uploads an object to B2
func (b *Backend) Write(ctx context.Context, key string, data []byte) error {
	return storage.WithRetry(ctx, storage.DefaultRetryConfig(), func() error {
		writer := b.bucket.Object(b.objectKey(key)).NewWriter(ctx)

		if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
			writer.Close()
			return storage.WrapError(b.name, "upload", err)
		}

		if err := writer.Close(); err != nil {
			return storage.WrapError(b.name, "upload", err)
		}

		return nil
	})
}

// Read downloads an object from B2
func (b *Backend) Read(ctx context.Context, key string) ([]byte, error) {
	reader := b.bucket.Object(b.objectKey(key)).NewReader(ctx)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, storage.WrapError(b.name, "read", translate(err))
	}
	return data, nil
}

// Delete removes an object from B2
func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := b.bucket.Object(b.objectKey(key)).Delete(ctx); err != nil {
		return storage.WrapError(b.name, "delete", translate(err))
	}
	return nil
}

// List returns objects matching pattern
func (b *Backend) List(ctx context.Context, pattern string) ([]storage.FileInfo, error) {
	fullPrefix := b.objectKey(storage.GlobPrefix(pattern))

	var files []storage.FileInfo

	iter := b.bucket.List(ctx, b2.ListPrefix(fullPrefix))
	for iter.Next() {
		obj := iter.Object()

		relPath := strings.TrimPrefix(obj.Name(), b.prefix)
		relPath = strings.TrimPrefix(relPath, "/")

		if !storage.MatchGlob(relPath, pattern) {
			continue
		}

		attrs, err := obj.Attrs(ctx)
		if err != nil || attrs.Size == 0 {
			continue
		}

		files = append(files, storage.FileInfo{
			Path:    relPath,
			Size:    attrs.Size,
			ModTime: attrs.UploadTimestamp,
		})
	}

	if err := iter.Err(); err != nil {
		return nil, storage.WrapError(b.name, "list", err)
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
		ModTime: attrs.UploadTimestamp,
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

// Close releases resources
func (b *Backend) Close() error {
	return nil
}

func (b *Backend) objectKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return path.Join(b.prefix, key)
}

func translate(err error) error {
	if b2.IsNotExist(err) {
		return errors.Join(storage.ErrNotFound, err)
	}
	return err
}
