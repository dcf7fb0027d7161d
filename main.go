package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openpuc/scrapers/pkg/config"
	"github.com/openpuc/scrapers/pkg/logger"
	"github.com/openpuc/scrapers/pkg/queue"
	"github.com/openpuc/scrapers/pkg/scrapers"
	"github.com/openpuc/scrapers/pkg/store"

	_ "github.com/openpuc/scrapers/pkg/scrapers/dummy"
	_ "github.com/openpuc/scrapers/pkg/scrapers/ny"
)

var (
	configFile string

	log zerolog.Logger
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:          "openpuc",
	Short:        "openpuc scrapers",
	Long:         "Scrapes public utility commission dockets into generic cases, stores the intermediate objects and serves the run API.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "./config.json", "Path to the config file (json or yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration and initializes logging (called by
// commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(cfg.GetLogLevel(), cfg.GetLogFormat())
	log = *logger.Get()
	log.Debug().Str("config_file", configFile).Msg("config loaded")
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newRegistry() *scrapers.Registry {
	return scrapers.NewRegistry(scrapers.Options{Config: cfg.Scrapers, Logger: log})
}

// connectBackends opens the run store and the task queue
func connectBackends(ctx context.Context) (*store.Store, *queue.Queue, error) {
	st, err := store.Connect(cfg.Database, log)
	if err != nil {
		return nil, nil, err
	}

	client, err := queue.Connect(ctx, cfg.Redis, log)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	q := queue.New(client, cfg.Redis.GetQueue(), cfg.Redis.GetMaxAttempts(), log).WithLease(cfg.Redis.GetLease())
	return st, q, nil
}
