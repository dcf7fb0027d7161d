package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/openpuc/scrapers/pkg/storage"
)

type Backend struct {
	name       string
	sshClient  *ssh.Client
	sftpClient *sftp.Client
	remotePath string
}

func init() {
	storage.RegisterBackend("ssh", func(ctx context.Context, cfg storage.Config) (storage.Backend, error) {
		return New(cfg)
	})
}

// New creates a new SSH/SFTP backend
func New(cfg storage.Config) (*Backend, error) {
	sshCfg, err := parseConfig(cfg.Options)
	if err != nil {
		return nil, err
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if sshCfg.KnownHosts != "" {
		hostKeyCallback, err = knownhosts.New(sshCfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	}

	clientConfig := &ssh.ClientConfig{
		User:            sshCfg.User,
		HostKeyCallback: hostKeyCallback,
		Timeout:         30 * time.Second,
	}

	if sshCfg.Password != "" {
		clientConfig.Auth = append(clientConfig.Auth, ssh.Password(sshCfg.Password))
	}

	if sshCfg.KeyPath != "" {
		key, err := os.ReadFile(sshCfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key: %w", err)
		}

		var signer ssh.Signer
		if sshCfg.KeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(sshCfg.KeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse SSH key: %w", err)
		}

		clientConfig.Auth = append(clientConfig.Auth, ssh.PublicKeys(signer))
	}

	addr := fmt.Sprintf("%s:%d", sshCfg.Host, sshCfg.Port)
	sshClient, err := ssh.Dial("tcp", addr, clientConfig)
	if err != nil {
		return nil, storage.WrapError(cfg.Name, "connect", errors.Join(storage.ErrConnFailed, err))
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, storage.WrapError(cfg.Name, "sftp init", err)
	}

	if err := sftpClient.MkdirAll(sshCfg.RemotePath); err != nil {
		sftpClient.Close()
		sshClient.Close()
		return nil, storage.WrapError(cfg.Name, "mkdir", err)
	}

	return &Backend{
		name:       cfg.Name,
		sshClient:  sshClient,
		sftpClient: sftpClient,
		remotePath: sshCfg.RemotePath,
	}, nil
}

func (b *Backend) Name() string { return b.name }
func (b *Backend) Type() string { return "ssh" }

// Write uploads an object via SFTP
func (b *Backend) Write(ctx context.Context, key string, data []byte) error {
	return storage.WithRetry(ctx, storage.DefaultRetryConfig(), func() error {
		remotePath := path.Join(b.remotePath, key)

		if err := b.sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
			return storage.WrapError(b.name, "mkdir", err)
		}

		remoteFile, err := b.sftpClient.Create(remotePath)
		if err != nil {
			return storage.WrapError(b.name, "create", err)
		}
		defer remoteFile.Close()

		if _, err := remoteFile.Write(data); err != nil {
			return storage.WrapError(b.name, "upload", err)
		}

		return nil
	})
}

// Read downloads an object via SFTP
func (b *Backend) Read(ctx context.Context, key string) ([]byte, error) {
	f, err := b.sftpClient.Open(path.Join(b.remotePath, key))
	if err != nil {
		return nil, storage.WrapError(b.name, "read", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, storage.WrapError(b.name, "read", err)
	}
	return data, nil
}

// Delete removes a file via SFTP
func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := b.sftpClient.Remove(path.Join(b.remotePath, key)); err != nil {
		return storage.WrapError(b.name, "delete", err)
	}
	return nil
}

// List walks the remote tree and returns files matching pattern
func (b *Backend) List(ctx context.Context, pattern string) ([]storage.FileInfo, error) {
	var files []storage.FileInfo

	walker := b.sftpClient.Walk(b.remotePath)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, storage.WrapError(b.name, "list", err)
		}

		info := walker.Stat()
		if info.IsDir() || info.Size() == 0 {
			continue
		}

		relPath := strings.TrimPrefix(strings.TrimPrefix(walker.Path(), b.remotePath), "/")
		if !storage.MatchGlob(relPath, pattern) {
			continue
		}

		files = append(files, storage.FileInfo{
			Path:    relPath,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ModTime.After(files[j].ModTime)
	})

	return files, nil
}

// Stat returns file metadata
func (b *Backend) Stat(ctx context.Context, key string) (*storage.FileInfo, error) {
	info, err := b.sftpClient.Stat(path.Join(b.remotePath, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, storage.WrapError(b.name, "stat", err)
	}

	return &storage.FileInfo{
		Path:    key,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Exists checks if file exists
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
	if b.sftpClient != nil {
		b.sftpClient.Close()
	}
	if b.sshClient != nil {
		b.sshClient.Close()
	}
	return nil
}
