package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/openpuc/scrapers/pkg/pipeline"
	"github.com/openpuc/scrapers/pkg/scrapers"
	"github.com/openpuc/scrapers/pkg/scrapers/dummy"
	"github.com/openpuc/scrapers/pkg/storage"
	"github.com/openpuc/scrapers/pkg/storage/local"
	"github.com/openpuc/scrapers/pkg/store"
)

// brokenFilings fails every filings fetch
type brokenFilings struct {
	*dummy.Scraper
}

func (brokenFilings) FilingDataIntermediate(ctx context.Context, c dummy.CaseData) (scrapers.Intermediate, error) {
	return nil, errors.New("docket page unavailable")
}

// stallFilings holds every filings fetch until its context ends while
// filingsStalled is set
type stallFilings struct {
	*dummy.Scraper
}

var filingsStalled atomic.Bool

func (s stallFilings) FilingDataIntermediate(ctx context.Context, c dummy.CaseData) (scrapers.Intermediate, error) {
	if filingsStalled.Load() {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.Scraper.FilingDataIntermediate(ctx, c)
}

func init() {
	scrapers.Register("broken_filings", func(opts scrapers.Options) (scrapers.Runner, error) {
		meta := scrapers.Meta{Name: "broken_filings", State: "dummy", Jurisdiction: "dummy_puc"}
		return scrapers.Erase[dummy.CaseData, dummy.FilingData](meta, brokenFilings{dummy.New(3)}), nil
	})
	scrapers.Register("stall_filings", func(opts scrapers.Options) (scrapers.Runner, error) {
		meta := scrapers.Meta{Name: "stall_filings", State: "dummy", Jurisdiction: "dummy_puc"}
		return scrapers.Erase[dummy.CaseData, dummy.FilingData](meta, stallFilings{dummy.New(3)}), nil
	})
}

type fixture struct {
	queue   *Queue
	store   *store.Store
	backend storage.Backend
	worker  *Worker
}

func newFixture(t *testing.T, maxAttempts int) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	q := New(client, "openpuc:tasks", maxAttempts, zerolog.Nop())

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	st, err := store.New(db, zerolog.Nop())
	require.NoError(t, err)

	backend, err := local.New(storage.Config{Name: "primary", Type: "local", Options: map[string]interface{}{"path": t.TempDir()}})
	require.NoError(t, err)

	proc := pipeline.New([]storage.Backend{backend}, pipeline.Options{KeepRuns: 1}, zerolog.Nop()).WithRunGuard(st)

	w := NewWorker(WorkerConfig{
		Queue:     q,
		Processor: proc,
		Registry:  scrapers.NewRegistry(scrapers.Options{Logger: zerolog.Nop()}),
		Store:     st,
	}, zerolog.Nop())

	return &fixture{queue: q, store: st, backend: backend, worker: w}
}

// drain handles tasks until the pending list is empty
func (f *fixture) drain(t *testing.T) int {
	t.Helper()
	ctx := context.Background()
	handled := 0
	for {
		n, err := f.queue.Len(ctx)
		require.NoError(t, err)
		if n == 0 {
			return handled
		}
		found, err := f.worker.RunOnce(ctx)
		require.NoError(t, err)
		require.True(t, found)
		handled++
	}
}

func (f *fixture) startRun(t *testing.T, scraper string) *store.ScrapeRun {
	t.Helper()
	return f.startRunAt(t, scraper, testNow)
}

func (f *fixture) startRunAt(t *testing.T, scraper string, at time.Time) *store.ScrapeRun {
	t.Helper()
	ctx := context.Background()
	basePath := pipeline.IntermediateSavePath(scraper, at)
	run, err := f.store.CreateRun(ctx, scraper, store.ModeAll, nil, basePath)
	require.NoError(t, err)
	require.NoError(t, f.queue.Enqueue(ctx, &Task{
		Kind:     KindCaseList,
		Scraper:  scraper,
		RunID:    run.ID.String(),
		BasePath: basePath,
	}))
	return run
}

func TestWorker_FanOutAndFinalize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	run := f.startRun(t, "dummy")

	handled := f.drain(t)
	assert.Equal(t, 11, handled, "one caselist task and ten case tasks")

	got, err := f.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSucceeded, got.Status)
	assert.Equal(t, 10, got.CasesTotal)
	assert.Equal(t, 10, got.CasesDone)
	assert.NotNil(t, got.FinishedAt)

	cases, err := f.store.ListCases(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, cases, 10)

	exists, err := f.backend.Exists(ctx, cases[0].ObjectKey)
	require.NoError(t, err)
	assert.True(t, exists)

	processing, _ := f.queue.ProcessingLen(ctx)
	assert.Equal(t, int64(0), processing)
}

func TestWorker_DeadCasesFailTheRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	run := f.startRun(t, "broken_filings")

	f.drain(t)

	got, err := f.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, got.Status)
	assert.Equal(t, 10, got.CasesFailed)
	assert.Contains(t, got.Error, "all 10 cases failed")

	deadLen, _ := f.queue.DeadLen(ctx)
	assert.Equal(t, int64(10), deadLen)

	cases, err := f.store.ListCases(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, cases, 10)
	assert.Contains(t, cases[0].Error, "docket page unavailable")
	assert.Contains(t, cases[0].CaseNumber, "DUMMY-")
}

func TestWorker_InvalidRunID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)

	require.NoError(t, f.queue.Enqueue(ctx, &Task{Kind: KindCaseList, Scraper: "dummy", RunID: "not-a-uuid"}))
	found, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, found)

	deadLen, _ := f.queue.DeadLen(ctx)
	assert.Equal(t, int64(1), deadLen)
}

func TestWorker_InterruptedTaskIsRedelivered(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	run := f.startRun(t, "stall_filings")

	found, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, found, "caselist task")

	filingsStalled.Store(true)
	t.Cleanup(func() { filingsStalled.Store(false) })

	taskCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	found, err = f.worker.RunOnce(taskCtx)
	require.NoError(t, err)
	require.True(t, found)

	processing, err := f.queue.ProcessingLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), processing, "nothing stranded in processing")

	pending, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), pending)

	deadLen, err := f.queue.DeadLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deadLen)

	raw, err := f.queue.client.LIndex(ctx, f.queue.pending, -1).Result()
	require.NoError(t, err)
	var next Task
	require.NoError(t, json.Unmarshal([]byte(raw), &next))
	assert.Equal(t, KindProcessCase, next.Kind)
	assert.Equal(t, 0, next.Attempts, "interruption does not spend an attempt")

	filingsStalled.Store(false)
	f.drain(t)

	got, err := f.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSucceeded, got.Status)
	assert.Equal(t, 10, got.CasesDone)
	assert.Equal(t, 0, got.CasesFailed)
}

func TestWorker_CrashedTaskIsRedelivered(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	run := f.startRun(t, "dummy")

	// a worker that died holding the caselist task
	crashed, err := f.queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, crashed)

	n, err := f.queue.RequeueExpired(ctx, time.Now().Add(DefaultLease+time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f.drain(t)

	got, err := f.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSucceeded, got.Status)
	assert.Equal(t, 10, got.CasesDone)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t, 3)
	f.worker.cfg.PollTimeout = 100 * time.Millisecond
	f.worker.cfg.Concurrency = 2

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_OverlappingRunsKeepEachOther(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)

	oldest := f.startRunAt(t, "dummy", testNow.Add(-time.Hour))
	f.drain(t)

	// the newer run is enqueued first and finishes while the older one
	// is still queued or running
	newer := f.startRunAt(t, "dummy", testNow.Add(time.Hour))
	older := f.startRunAt(t, "dummy", testNow)
	f.drain(t)

	for _, run := range []*store.ScrapeRun{oldest, newer, older} {
		got, err := f.store.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, store.StatusSucceeded, got.Status, got.BasePath)
	}

	objectOf := func(run *store.ScrapeRun) string {
		cases, err := f.store.ListCases(ctx, run.ID)
		require.NoError(t, err)
		require.NotEmpty(t, cases)
		return cases[0].ObjectKey
	}

	exists, err := f.backend.Exists(ctx, objectOf(oldest))
	require.NoError(t, err)
	assert.False(t, exists, "finished run beyond keep_runs is rotated out")

	exists, err = f.backend.Exists(ctx, objectOf(newer))
	require.NoError(t, err)
	assert.True(t, exists, "newest finished run is kept")

	exists, err = f.backend.Exists(ctx, objectOf(older))
	require.NoError(t, err)
	assert.True(t, exists, "run in progress during rotation is not deleted")
}

var testNow = mustTime("2024-12-19T10:00:00Z")

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}
