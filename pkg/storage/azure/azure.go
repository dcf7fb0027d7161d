package azure

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/openpuc/scrapers/pkg/storage"
)

// Backend stores objects as blobs in one Azure container
type Backend struct {
	name      string
	client    *azblob.Client
	container string
	prefix    string
}

func init() {
	storage.RegisterBackend("azure", func(ctx context.Context, cfg storage.Config) (storage.Backend, error) {
		return New(cfg)
	})
}

// New creates an Azure Blob backend from either a connection string or
// an account name and key pair
func New(cfg storage.Config) (*Backend, error) {
	containerName, err := storage.StringOption(cfg.Options, "container", true)
	if err != nil {
		return nil, err
	}
	connString, _ := storage.StringOption(cfg.Options, "connection_string", false)
	accountName, _ := storage.StringOption(cfg.Options, "account_name", false)
	accountKey, _ := storage.StringOption(cfg.Options, "account_key", false)
	serviceURL, _ := storage.StringOption(cfg.Options, "service_url", false)
	prefix, _ := storage.StringOption(cfg.Options, "prefix", false)

	opts := &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries: 3,
				RetryDelay: time.Second,
				StatusCodes: []int{
					http.StatusRequestTimeout,
					http.StatusTooManyRequests,
					http.StatusInternalServerError,
					http.StatusBadGateway,
					http.StatusServiceUnavailable,
					http.StatusGatewayTimeout,
				},
			},
		},
	}

	var client *azblob.Client
	switch {
	case connString != "":
		client, err = azblob.NewClientFromConnectionString(connString, opts)
	case accountName != "" && accountKey != "":
		if serviceURL == "" {
			serviceURL = "https://" + accountName + ".blob.core.windows.net/"
		}
		var cred *azblob.SharedKeyCredential
		cred, err = azblob.NewSharedKeyCredential(accountName, accountKey)
		if err == nil {
			client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, cred, opts)
		}
	default:
		return nil, storage.WrapError(cfg.Name, "init", storage.ErrInvalidConfig)
	}
	if err != nil {
		return nil, storage.WrapError(cfg.Name, "init", errors.Join(storage.ErrAuthFailed, err))
	}

	return &Backend{
		name:      cfg.Name,
		client:    client,
		container: containerName,
		prefix:    strings.Trim(prefix, "/"),
	}, nil
}

func (b *Backend) Name() string { return b.name }
func (b *Backend) Type() string { return "azure" }

// Write uploads a blob
func (b *Backend) Write(ctx context.Context, key string, data []byte) error {
	if _, err := b.client.UploadBuffer(ctx, b.container, b.objectKey(key), data, nil); err != nil {
		return storage.WrapError(b.name, "upload", translate(err))
	}
	return nil
}

// Read downloads a blob
func (b *Backend) Read(ctx context.Context, key string) ([]byte, error) {
	resp, err := b.client.DownloadStream(ctx, b.container, b.objectKey(key), nil)
	if err != nil {
		return nil, storage.WrapError(b.name, "read", translate(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, storage.WrapError(b.name, "read", err)
	}
	return data, nil
}

// Delete removes a blob
func (b *Backend) Delete(ctx context.Context, key string) error {
	if _, err := b.client.DeleteBlob(ctx, b.container, b.objectKey(key), nil); err != nil {
		return storage.WrapError(b.name, "delete", translate(err))
	}
	return nil
}

// List returns blobs matching pattern, newest first
func (b *Backend) List(ctx context.Context, pattern string) ([]storage.FileInfo, error) {
	prefix := b.objectKey(storage.GlobPrefix(pattern))
	pager := b.client.NewListBlobsFlatPager(b.container, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	var files []storage.FileInfo
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, storage.WrapError(b.name, "list", translate(err))
		}

		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			relPath := strings.TrimPrefix(strings.TrimPrefix(*item.Name, b.prefix), "/")
			if !storage.MatchGlob(relPath, pattern) {
				continue
			}

			fi := storage.FileInfo{Path: relPath}
			if item.Properties != nil {
				if item.Properties.ContentLength != nil {
					fi.Size = *item.Properties.ContentLength
				}
				if item.Properties.LastModified != nil {
					fi.ModTime = *item.Properties.LastModified
				}
			}
			if fi.Size == 0 {
				continue
			}
			files = append(files, fi)
		}
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ModTime.After(files[j].ModTime)
	})

	return files, nil
}

// Stat returns blob metadata
func (b *Backend) Stat(ctx context.Context, key string) (*storage.FileInfo, error) {
	props, err := b.client.ServiceClient().
		NewContainerClient(b.container).
		NewBlobClient(b.objectKey(key)).
		GetProperties(ctx, nil)
	if err != nil {
		return nil, storage.WrapError(b.name, "stat", translate(err))
	}

	fi := &storage.FileInfo{Path: key}
	if props.ContentLength != nil {
		fi.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		fi.ModTime = *props.LastModified
	}
	return fi, nil
}

// Exists checks if blob exists
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

// Close is a no-op for Azure
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
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return errors.Join(storage.ErrNotFound, err)
		case http.StatusForbidden:
			return errors.Join(storage.ErrPermissionDenied, err)
		case http.StatusUnauthorized:
			return errors.Join(storage.ErrAuthFailed, err)
		}
	}
	return err
}
