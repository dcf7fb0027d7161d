package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validJSON = `{
  "log_level": "debug",
  "max_concurrent_cases": 8,
  "storage": {
    "compress": true,
    "keep_runs": 5,
    "destinations": [
      {"name": "local_primary", "type": "local", "options": {"path": "/data/objects"}}
    ]
  },
  "schedules": [
    {"scraper": "ny", "interval": "daily", "mode": "since_last"}
  ]
}`

const validYAML = `
log_format: console
storage:
  destinations:
    - name: local_primary
      type: local
      options:
        path: /data/objects
    - name: offsite
      type: ssh
      enabled: false
      options:
        host: backup.example.com
        port: 2222
post:
  endpoint: https://api.example.com/cases
  max_request_size: 50
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func noEnv(string) (string, bool) { return "", false }

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "config.json", validJSON)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.GetLogLevel())
	assert.Equal(t, "json", cfg.GetLogFormat())
	assert.Equal(t, 8, cfg.GetMaxConcurrentCases())
	assert.True(t, cfg.Storage.Compress)
	assert.Equal(t, 5, cfg.Storage.KeepRuns)
	require.Len(t, cfg.Storage.Destinations, 1)
	assert.True(t, cfg.Storage.Destinations[0].IsEnabled())
	require.Len(t, cfg.Schedules, 1)
	assert.Equal(t, "since_last", cfg.Schedules[0].GetMode())
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "config.yaml", validYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "console", cfg.GetLogFormat())
	require.Len(t, cfg.Storage.Destinations, 2)
	assert.False(t, cfg.Storage.Destinations[1].IsEnabled())
	assert.Equal(t, float64(2222), cfg.Storage.Destinations[1].Options["port"])
	assert.Equal(t, 50, cfg.Post.GetMaxRequestSize())
	assert.Equal(t, 10, cfg.Post.GetMaxSimulRequests())
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		document string
	}{
		{"missing storage", `{"log_level": "info"}`},
		{"bad log level", `{"log_level": "loud", "storage": {"destinations": []}}`},
		{"unknown backend type", `{"storage": {"destinations": [{"name": "x", "type": "ftp", "options": {}}]}}`},
		{"bad schedule interval", `{"storage": {"destinations": []}, "schedules": [{"scraper": "ny", "interval": "minutely"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument([]byte(tt.document))
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.NotEmpty(t, verr.Problems)
		})
	}
}

func TestDefaults(t *testing.T) {
	cfg := &Config{}

	assert.Equal(t, 4, cfg.GetMaxConcurrentCases())
	assert.Equal(t, 2, cfg.GetWorkers())
	assert.Equal(t, "info", cfg.GetLogLevel())
	assert.Equal(t, "openpuc:tasks", cfg.Redis.GetQueue())
	assert.Equal(t, 3, cfg.Redis.GetMaxAttempts())
	assert.Equal(t, 30*time.Minute, cfg.Redis.GetLease())
	assert.Equal(t, ":8080", cfg.API.GetAddr())
	assert.Equal(t, "all", ScheduleConfig{}.GetMode())
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, cfg.Scrapers.NY.GetIndustries())
	assert.True(t, cfg.Scrapers.NY.GetUseBrowser())
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"DATABASE_URL":          "postgres://airflow@postgres:5432/openpuc",
		"CELERY_BROKER_URL":     "redis://redis:6379/0",
		"OPENPUC_S3_BUCKET":     "openpuc-intermediates",
		"OPENPUC_S3_ENDPOINT":   "http://minio:9000",
		"AWS_ACCESS_KEY_ID":     "key",
		"AWS_SECRET_ACCESS_KEY": "secret",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	t.Run("adds_s3_destination", func(t *testing.T) {
		cfg := &Config{}
		ApplyEnv(cfg, lookup)

		assert.Equal(t, env["DATABASE_URL"], cfg.Database.DSN)
		assert.Equal(t, env["CELERY_BROKER_URL"], cfg.Redis.URL)
		require.Len(t, cfg.Storage.Destinations, 1)

		dest := cfg.Storage.Destinations[0]
		assert.Equal(t, "s3", dest.Type)
		assert.Equal(t, "openpuc-intermediates", dest.Options["bucket"])
		assert.Equal(t, "us-east-1", dest.Options["region"])
		assert.Equal(t, "http://minio:9000", dest.Options["endpoint"])
		assert.Equal(t, true, dest.Options["force_path_style"])
	})

	t.Run("keeps_configured_s3_destination", func(t *testing.T) {
		cfg := &Config{Storage: StorageConfig{Destinations: []StorageDestination{
			{Name: "mine", Type: "s3", Options: map[string]interface{}{"bucket": "other"}},
		}}}
		ApplyEnv(cfg, lookup)

		require.Len(t, cfg.Storage.Destinations, 1)
		assert.Equal(t, "mine", cfg.Storage.Destinations[0].Name)
	})

	t.Run("no_env", func(t *testing.T) {
		cfg := &Config{Database: DatabaseConfig{DSN: "from-file"}}
		ApplyEnv(cfg, noEnv)

		assert.Equal(t, "from-file", cfg.Database.DSN)
		assert.Empty(t, cfg.Storage.Destinations)
	})
}
