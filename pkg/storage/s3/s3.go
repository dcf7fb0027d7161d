package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/openpuc/scrapers/pkg/storage"
)

type Backend struct {
	name     string
	client   *s3.Client
	bucket   string
	prefix   string
	uploader *manager.Uploader
}

func init() {
	storage.RegisterBackend("s3", func(ctx context.Context, cfg storage.Config) (storage.Backend, error) {
		return New(ctx, cfg)
	})
}

// New creates a new S3 backend
func New(ctx context.Context, cfg storage.Config) (*Backend, error) {
	s3Cfg, err := parseConfig(cfg.Options)
	if err != nil {
		return nil, err
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(s3Cfg.Region)}
	if s3Cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3Cfg.AccessKeyID, s3Cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, storage.WrapError(cfg.Name, "init", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if s3Cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s3Cfg.Endpoint)
		}
		o.UsePathStyle = s3Cfg.ForcePathStyle
	})

	// Test connection
	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s3Cfg.Bucket),
	})
	if err != nil {
		return nil, storage.WrapError(cfg.Name, "connection test", errors.Join(storage.ErrConnFailed, err))
	}

	return &Backend{
		name:     cfg.Name,
		client:   client,
		bucket:   s3Cfg.Bucket,
		prefix:   strings.Trim(s3Cfg.Prefix, "/"),
		uploader: manager.NewUploader(client),
	}, nil
}

func (b *Backend) Name() string { return b.name }
func (b *Backend) Type() string { return "s3" }

// Write uploads an object to S3
func (b *Backend) Write(ctx context.Context, key string, data []byte) error {
	return storage.WithRetry(ctx, storage.DefaultRetryConfig(), func() error {
		_, err := b.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(b.bucket),
			Key:         aws.String(b.objectKey(key)),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentType(key)),
		})
		if err != nil {
			return storage.WrapError(b.name, "upload", translate(err))
		}
		return nil
	})
}

// Read downloads an object from S3
func (b *Backend) Read(ctx context.Context, key string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		return nil, storage.WrapError(b.name, "read", translate(err))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, storage.WrapError(b.name, "read", err)
	}
	return data, nil
}

// Delete removes an object from S3
func (b *Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		return storage.WrapError(b.name, "delete", translate(err))
	}
	return nil
}

// List returns objects matching the pattern
func (b *Backend) List(ctx context.Context, pattern string) ([]storage.FileInfo, error) {
	fullPrefix := b.objectKey(storage.GlobPrefix(pattern))

	var files []storage.FileInfo

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(fullPrefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, storage.WrapError(b.name, "list", translate(err))
		}

		for _, obj := range page.Contents {
			if aws.ToInt64(obj.Size) == 0 {
				continue // folder markers
			}

			relPath := strings.TrimPrefix(aws.ToString(obj.Key), b.prefix)
			relPath = strings.TrimPrefix(relPath, "/")

			if !storage.MatchGlob(relPath, pattern) {
				continue
			}

			files = append(files, storage.FileInfo{
				Path:    relPath,
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}
	}

	// Sort by modification time (newest first)
	sort.Slice(files, func(i, j int) bool {
		return files[i].ModTime.After(files[j].ModTime)
	})

	return files, nil
}

// Stat returns metadata about an object
func (b *Backend) Stat(ctx context.Context, key string) (*storage.FileInfo, error) {
	result, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		return nil, storage.WrapError(b.name, "stat", translate(err))
	}

	return &storage.FileInfo{
		Path:    key,
		Size:    aws.ToInt64(result.ContentLength),
		ModTime: aws.ToTime(result.LastModified),
	}, nil
}

// Exists checks if an object exists
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

// Close is a no-op for S3
func (b *Backend) Close() error {
	return nil
}

func (b *Backend) objectKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return path.Join(b.prefix, key)
}

// translate maps S3 API error codes onto storage sentinels
func translate(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return errors.Join(storage.ErrNotFound, err)
		case "AccessDenied", "Forbidden":
			return errors.Join(storage.ErrPermissionDenied, err)
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return errors.Join(storage.ErrAuthFailed, err)
		case "SlowDown", "InternalError", "ServiceUnavailable", "RequestTimeout":
			return errors.Join(storage.ErrConnFailed, err)
		}
	}
	return err
}

func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".zst"):
		return "application/zstd"
	}
	return "application/octet-stream"
}
