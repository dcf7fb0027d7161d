package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LookupFunc resolves an environment variable
type LookupFunc func(key string) (string, bool)

// Load reads, validates and parses a configuration file, then applies
// environment overrides from the process environment
func Load(configFile string) (*Config, error) {
	document, err := readDocument(configFile)
	if err != nil {
		return nil, err
	}

	if err := ValidateDocument(document); err != nil {
		return nil, err
	}

	cfg, err := Parse(document)
	if err != nil {
		return nil, err
	}

	ApplyEnv(cfg, os.LookupEnv)
	return cfg, nil
}

// Parse decodes a JSON configuration document
func Parse(document []byte) (*Config, error) {
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(document))
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// readDocument returns the config file as JSON, converting YAML when the
// extension says so
func readDocument(configFile string) ([]byte, error) {
	raw, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(configFile)) {
	case ".yaml", ".yml":
		var doc interface{}
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse yaml config: %w", err)
		}
		out, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to convert yaml config: %w", err)
		}
		return out, nil
	default:
		return raw, nil
	}
}

// ApplyEnv overrides file settings with the connection strings and
// credentials passed to the containers
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	get := func(keys ...string) (string, bool) {
		for _, key := range keys {
			if v, ok := lookup(key); ok && v != "" {
				return v, true
			}
		}
		return "", false
	}

	if v, ok := get("OPENPUC_DATABASE_URL", "DATABASE_URL"); ok {
		cfg.Database.DSN = v
	}
	if v, ok := get("OPENPUC_REDIS_URL", "REDIS_URL", "CELERY_BROKER_URL"); ok {
		cfg.Redis.URL = v
	}
	if v, ok := get("OPENPUC_HTTP_ADDR"); ok {
		cfg.API.Addr = v
	}
	if v, ok := get("OPENPUC_JWT_SECRET"); ok {
		cfg.API.JWTSecret = v
	}
	if v, ok := get("OPENPUC_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := get("OPENPUC_LOG_FORMAT"); ok {
		cfg.LogFormat = v
	}
	if v, ok := get("OPENPUC_POST_ENDPOINT"); ok {
		cfg.Post.Endpoint = v
	}

	bucket, ok := get("OPENPUC_S3_BUCKET")
	if !ok {
		return
	}
	for _, dest := range cfg.Storage.Destinations {
		if dest.Type == "s3" {
			return
		}
	}

	region, ok := get("OPENPUC_S3_REGION", "AWS_REGION")
	if !ok {
		region = "us-east-1"
	}
	accessKey, _ := get("AWS_ACCESS_KEY_ID")
	secretKey, _ := get("AWS_SECRET_ACCESS_KEY")
	options := map[string]interface{}{
		"bucket":            bucket,
		"region":            region,
		"access_key_id":     accessKey,
		"secret_access_key": secretKey,
	}
	if endpoint, ok := get("OPENPUC_S3_ENDPOINT"); ok {
		options["endpoint"] = endpoint
		options["force_path_style"] = true
	}

	cfg.Storage.Destinations = append(cfg.Storage.Destinations, StorageDestination{
		Name:    "s3_env",
		Type:    "s3",
		Options: options,
	})
}
