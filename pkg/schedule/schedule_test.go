package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/openpuc/scrapers/pkg/config"
	"github.com/openpuc/scrapers/pkg/queue"
	"github.com/openpuc/scrapers/pkg/store"
)

type fakeRuns map[string]*store.ScrapeRun

func (f fakeRuns) LastSuccessfulRun(ctx context.Context, scraper string) (*store.ScrapeRun, error) {
	if scraper == "exploding" {
		return nil, errors.New("db down")
	}
	return f[scraper], nil
}

var now = time.Date(2024, 12, 19, 10, 30, 0, 0, time.UTC)

func TestDueScrapers(t *testing.T) {
	runs := fakeRuns{
		"recent": {StartedAt: now.Add(-30 * time.Minute)},
		"stale":  {StartedAt: now.Add(-25 * time.Hour)},
		"since":  {StartedAt: now.Add(-8 * 24 * time.Hour)},
	}
	schedules := []config.ScheduleConfig{
		{Scraper: "never", Interval: "daily"},
		{Scraper: "recent", Interval: "hourly"},
		{Scraper: "stale", Interval: "daily"},
		{Scraper: "since", Interval: "weekly", Mode: "since_last"},
		{Scraper: "bogus", Interval: "fortnightly"},
	}

	due, err := DueScrapers(context.Background(), schedules, runs, now, zerolog.Nop())
	require.NoError(t, err)

	names := make([]string, len(due))
	for i, d := range due {
		names[i] = d.Scraper
	}
	assert.Equal(t, []string{"never", "stale", "since"}, names)

	assert.Nil(t, due[0].After, "never-run scraper gets a full run")
	assert.Equal(t, "all", due[1].Mode)
	require.NotNil(t, due[2].After)
	assert.Equal(t, runs["since"].StartedAt, *due[2].After)
	assert.Equal(t, time.Date(2024, 12, 19, 0, 0, 0, 0, time.UTC), due[0].Slot)
}

func TestDueScrapers_LookupError(t *testing.T) {
	_, err := DueScrapers(context.Background(), []config.ScheduleConfig{{Scraper: "exploding", Interval: "daily"}}, fakeRuns{}, now, zerolog.Nop())
	assert.ErrorContains(t, err, "db down")
}

func newDeps(t *testing.T) (*store.Store, *queue.Queue) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	st, err := store.New(db, zerolog.Nop())
	require.NoError(t, err)

	return st, queue.New(client, "openpuc:tasks", 3, zerolog.Nop())
}

func TestScheduler_TickLocksSlot(t *testing.T) {
	ctx := context.Background()
	st, q := newDeps(t)
	schedules := []config.ScheduleConfig{{Scraper: "dummy", Interval: "daily"}}

	a := New(schedules, st, q, zerolog.Nop())
	b := New(schedules, st, q, zerolog.Nop())
	a.now = func() time.Time { return now }
	b.now = func() time.Time { return now.Add(time.Minute) }

	created, err := a.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "objects/dummy--2024-12-19T10-30-00", created[0].BasePath)
	assert.Equal(t, store.StatusQueued, created[0].Status)

	created, err = b.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, created, "same slot is enqueued once across replicas")

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	task, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, queue.KindCaseList, task.Kind)
	assert.Equal(t, "dummy", task.Scraper)
	assert.Nil(t, task.After)
}

func TestScheduler_SinceLastUsesLastSuccess(t *testing.T) {
	ctx := context.Background()
	st, q := newDeps(t)

	prev, err := st.CreateRun(ctx, "ny", store.ModeAll, nil, "p")
	require.NoError(t, err)
	_, err = st.FinishRun(ctx, prev.ID, store.StatusSucceeded, "")
	require.NoError(t, err)

	s := New([]config.ScheduleConfig{{Scraper: "ny", Interval: "hourly", Mode: "since_last"}}, st, q, zerolog.Nop())
	s.now = func() time.Time { return prev.StartedAt.Add(2 * time.Hour) }

	created, err := s.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, store.ModeSinceLast, created[0].Mode)
	require.NotNil(t, created[0].After)
	assert.WithinDuration(t, prev.StartedAt, *created[0].After, time.Second)
}

func TestLockKey(t *testing.T) {
	assert.Equal(t, "openpuc:schedule:ny:1734566400", LockKey("ny", time.Date(2024, 12, 19, 0, 0, 0, 0, time.UTC)))
}
