package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/openpuc/scrapers/pkg/pipeline"
	"github.com/openpuc/scrapers/pkg/poster"
	"github.com/openpuc/scrapers/pkg/queue"
	"github.com/openpuc/scrapers/pkg/schedule"
)

var schedulerEvery time.Duration

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume scrape tasks from the queue",
	RunE:  runWorker,
}

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Enqueue scheduled scraper runs",
	Long: `Periodically checks the configured schedules and enqueues a run for every
scraper whose interval slot has not been claimed yet. Several schedulers may
run at once; each slot is enqueued by exactly one of them.`,
	RunE: runScheduler,
}

func init() {
	schedulerCmd.Flags().DurationVar(&schedulerEvery, "every", time.Minute, "How often schedules are checked")
	rootCmd.AddCommand(workerCmd, schedulerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	st, q, err := connectBackends(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	defer q.Client().Close()

	proc, err := pipeline.NewFromConfig(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer proc.Close()
	proc.WithRunGuard(st)

	reg := newRegistry()
	defer reg.Close()

	w := queue.NewWorker(queue.WorkerConfig{
		Queue:        q,
		Processor:    proc,
		Registry:     reg,
		Store:        st,
		Concurrency:  cfg.GetWorkers(),
		PostEndpoint: cfg.Post.Endpoint,
		PostOptions:  poster.OptionsFromConfig(cfg.Post, log),
	}, log)

	log.Info().Int("concurrency", cfg.GetWorkers()).Str("queue", cfg.Redis.GetQueue()).Msg("worker starting")
	return w.Run(ctx)
}

func runScheduler(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	st, q, err := connectBackends(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	defer q.Client().Close()

	log.Info().Int("schedules", len(cfg.Schedules)).Dur("every", schedulerEvery).Msg("scheduler starting")
	return schedule.New(cfg.Schedules, st, q, log).Run(ctx, schedulerEvery)
}
