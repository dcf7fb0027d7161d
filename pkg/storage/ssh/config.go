package ssh

import "github.com/openpuc/scrapers/pkg/storage"

type Config struct {
	Host          string `json:"host"`
	Port          int    `json:"port"` // Default: 22
	User          string `json:"user"`
	Password      string `json:"password"`       // Optional
	KeyPath       string `json:"key_path"`       // Optional: path to private key
	KeyPassphrase string `json:"key_passphrase"` // Optional
	RemotePath    string `json:"remote_path"`    // Base directory on remote server
	KnownHosts    string `json:"known_hosts"`    // Optional: known_hosts file for host key checks
}

func parseConfig(options map[string]interface{}) (*Config, error) {
	cfg := &Config{}
	var err error

	if cfg.Host, err = storage.StringOption(options, "host", true); err != nil {
		return nil, err
	}
	if cfg.User, err = storage.StringOption(options, "user", true); err != nil {
		return nil, err
	}
	if cfg.RemotePath, err = storage.StringOption(options, "remote_path", true); err != nil {
		return nil, err
	}
	cfg.Password, _ = storage.StringOption(options, "password", false)
	cfg.KeyPath, _ = storage.StringOption(options, "key_path", false)
	cfg.KeyPassphrase, _ = storage.StringOption(options, "key_passphrase", false)
	cfg.KnownHosts, _ = storage.StringOption(options, "known_hosts", false)
	cfg.Port = storage.IntOption(options, "port", 22)

	return cfg, nil
}
