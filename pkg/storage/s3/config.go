package s3

import "github.com/openpuc/scrapers/pkg/storage"

// Config holds S3 configuration
type Config struct {
	Endpoint        string `json:"endpoint"` // Optional: for MinIO / localstack
	Region          string `json:"region"`
	Bucket          string `json:"bucket"`
	Prefix          string `json:"prefix"` // Object key prefix
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	ForcePathStyle  bool   `json:"force_path_style"`
}

func parseConfig(options map[string]interface{}) (*Config, error) {
	cfg := &Config{}
	var err error

	if cfg.Region, err = storage.StringOption(options, "region", true); err != nil {
		return nil, err
	}
	if cfg.Bucket, err = storage.StringOption(options, "bucket", true); err != nil {
		return nil, err
	}
	// Credentials fall back to the default AWS chain when omitted
	cfg.AccessKeyID, _ = storage.StringOption(options, "access_key_id", false)
	cfg.SecretAccessKey, _ = storage.StringOption(options, "secret_access_key", false)
	cfg.Endpoint, _ = storage.StringOption(options, "endpoint", false)
	cfg.Prefix, _ = storage.StringOption(options, "prefix", false)
	cfg.ForcePathStyle = storage.BoolOption(options, "force_path_style", false)

	return cfg, nil
}
