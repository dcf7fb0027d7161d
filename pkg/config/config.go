package config

import "time"

// StorageDestination defines one place intermediate objects are written to
type StorageDestination struct {
	Name    string                 `json:"name"`
	Type    string                 `json:"type"` // local, s3, backblaze, ssh, gcs, azure
	Enabled *bool                  `json:"enabled,omitempty"`
	Options map[string]interface{} `json:"options"`
}

// IsEnabled returns whether the destination is active (defaults to true)
func (d StorageDestination) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// StorageConfig groups intermediate object storage settings
type StorageConfig struct {
	Compress     bool                 `json:"compress,omitempty"`  // zstd-compress objects
	KeepRuns     int                  `json:"keep_runs,omitempty"` // run prefixes kept per scraper (0 = unlimited)
	Destinations []StorageDestination `json:"destinations"`
}

// PostConfig controls sending generic cases to a downstream endpoint
type PostConfig struct {
	Endpoint          string  `json:"endpoint,omitempty"`
	MaxRequestSize    int     `json:"max_request_size,omitempty"`    // default: 1000
	MaxSimulRequests  int     `json:"max_simul_requests,omitempty"`  // default: 10
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"` // 0 = unlimited
}

// RedisConfig points at the broker used for the task queue
type RedisConfig struct {
	URL          string `json:"url,omitempty"`
	Queue        string `json:"queue,omitempty"`         // default: openpuc:tasks
	MaxAttempts  int    `json:"max_attempts,omitempty"`  // default: 3
	LeaseSeconds int    `json:"lease_seconds,omitempty"` // default: 1800
}

// DatabaseConfig points at the run store
type DatabaseConfig struct {
	Driver     string `json:"driver,omitempty"` // postgres (default), sqlite
	DSN        string `json:"dsn,omitempty"`
	PgpassFile string `json:"pgpass_file,omitempty"`
}

// APIConfig configures the HTTP API server
type APIConfig struct {
	Addr      string `json:"addr,omitempty"` // default: :8080
	JWTSecret string `json:"jwt_secret,omitempty"`
}

// ScheduleConfig describes how often a scraper is triggered
type ScheduleConfig struct {
	Scraper  string `json:"scraper"`
	Interval string `json:"interval"`       // hourly, daily, weekly, monthly, quarterly, yearly
	Mode     string `json:"mode,omitempty"` // all (default), since_last
}

// NYConfig configures the New York PUC scraper
type NYConfig struct {
	BaseURL           string  `json:"base_url,omitempty"`
	Industries        []int   `json:"industries,omitempty"` // default: 1..10
	UseBrowser        *bool   `json:"use_browser,omitempty"`
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"`
}

// ScrapersConfig holds per-scraper settings
type ScrapersConfig struct {
	NY NYConfig `json:"ny,omitempty"`
}

// Config is the root configuration structure
type Config struct {
	LogLevel           string           `json:"log_level,omitempty"`            // debug, info, warn, error (default: info)
	LogFormat          string           `json:"log_format,omitempty"`           // json, console (default: json)
	MaxConcurrentCases int              `json:"max_concurrent_cases,omitempty"` // default: 4
	Workers            int              `json:"workers,omitempty"`              // default: 2
	Storage            StorageConfig    `json:"storage"`
	Post               PostConfig       `json:"post,omitempty"`
	Redis              RedisConfig      `json:"redis,omitempty"`
	Database           DatabaseConfig   `json:"database,omitempty"`
	API                APIConfig        `json:"api,omitempty"`
	Schedules          []ScheduleConfig `json:"schedules,omitempty"`
	Scrapers           ScrapersConfig   `json:"scrapers,omitempty"`
}

// GetMaxConcurrentCases returns the max cases processed at once (defaults to 4)
func (c *Config) GetMaxConcurrentCases() int {
	if c.MaxConcurrentCases > 0 {
		return c.MaxConcurrentCases
	}
	return 4
}

// GetWorkers returns the number of queue consumers (defaults to 2)
func (c *Config) GetWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return 2
}

// GetLogLevel returns the log level (defaults to info)
func (c *Config) GetLogLevel() string {
	if c.LogLevel != "" {
		return c.LogLevel
	}
	return "info"
}

// GetLogFormat returns the log format (defaults to json)
func (c *Config) GetLogFormat() string {
	if c.LogFormat != "" {
		return c.LogFormat
	}
	return "json"
}

// GetMaxRequestSize returns the number of objects per POST (defaults to 1000)
func (p PostConfig) GetMaxRequestSize() int {
	if p.MaxRequestSize > 0 {
		return p.MaxRequestSize
	}
	return 1000
}

// GetMaxSimulRequests returns the number of POSTs in flight (defaults to 10)
func (p PostConfig) GetMaxSimulRequests() int {
	if p.MaxSimulRequests > 0 {
		return p.MaxSimulRequests
	}
	return 10
}

// GetQueue returns the redis list name (defaults to openpuc:tasks)
func (r RedisConfig) GetQueue() string {
	if r.Queue != "" {
		return r.Queue
	}
	return "openpuc:tasks"
}

// GetMaxAttempts returns how many times a task is tried (defaults to 3)
func (r RedisConfig) GetMaxAttempts() int {
	if r.MaxAttempts > 0 {
		return r.MaxAttempts
	}
	return 3
}

// GetLease returns how long a dequeued task may go without a heartbeat
// before it is handed to another worker (defaults to 30m)
func (r RedisConfig) GetLease() time.Duration {
	if r.LeaseSeconds > 0 {
		return time.Duration(r.LeaseSeconds) * time.Second
	}
	return 30 * time.Minute
}

// GetDriver returns the gorm dialect (defaults to postgres)
func (d DatabaseConfig) GetDriver() string {
	if d.Driver != "" {
		return d.Driver
	}
	return "postgres"
}

// GetAddr returns the API listen address (defaults to :8080)
func (a APIConfig) GetAddr() string {
	if a.Addr != "" {
		return a.Addr
	}
	return ":8080"
}

// GetMode returns the schedule mode (defaults to all)
func (s ScheduleConfig) GetMode() string {
	if s.Mode != "" {
		return s.Mode
	}
	return "all"
}

// GetIndustries returns the NY industry numbers to search (defaults to 1..10)
func (n NYConfig) GetIndustries() []int {
	if len(n.Industries) > 0 {
		return n.Industries
	}
	industries := make([]int, 10)
	for i := range industries {
		industries[i] = i + 1
	}
	return industries
}

// GetUseBrowser returns whether pages are rendered with a headless browser (defaults to true)
func (n NYConfig) GetUseBrowser() bool {
	return n.UseBrowser == nil || *n.UseBrowser
}

// GetBaseURL returns the NY DPS document site (defaults to https://documents.dps.ny.gov)
func (n NYConfig) GetBaseURL() string {
	if n.BaseURL != "" {
		return n.BaseURL
	}
	return "https://documents.dps.ny.gov"
}
