package backblaze

import "github.com/openpuc/scrapers/pkg/storage"

type Config struct {
	AccountID      string `json:"account_id"`
	ApplicationKey string `json:"application_key"`
	BucketName     string `json:"bucket_name"`
	Prefix         string `json:"prefix"`
}

func parseConfig(options map[string]interface{}) (*Config, error) {
	cfg := &Config{}
	var err error

	if cfg.AccountID, err = storage.StringOption(options, "account_id", true); err != nil {
		return nil, err
	}
	if cfg.ApplicationKey, err = storage.StringOption(options, "application_key", true); err != nil {
		return nil, err
	}
	if cfg.BucketName, err = storage.StringOption(options, "bucket_name", true); err != nil {
		return nil, err
	}
	cfg.Prefix, _ = storage.StringOption(options, "prefix", false)

	return cfg, nil
}
