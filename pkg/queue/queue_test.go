package queue

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

	"github.com/openpuc/scrapers/pkg/config"
)

func newTestQueue(t *testing.T, maxAttempts int) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, "openpuc:tasks", maxAttempts, zerolog.Nop()), mr
}

func TestQueue_EnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t, 3)

	first := &Task{Kind: KindCaseList, Scraper: "dummy", RunID: "r1"}
	second := &Task{Kind: KindCaseList, Scraper: "ny", RunID: "r2"}
	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))
	assert.NotEmpty(t, first.ID)
	assert.False(t, first.EnqueuedAt.IsZero())

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID, "FIFO order")
	assert.Equal(t, "dummy", got.Scraper)

	processing, err := q.ProcessingLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), processing)

	require.NoError(t, q.Ack(ctx, got))
	processing, err = q.ProcessingLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), processing)

	pending, err := mr.List("openpuc:tasks")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestQueue_NackRetriesThenDeadLetters(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, 2)

	require.NoError(t, q.Enqueue(ctx, &Task{Kind: KindProcessCase, Scraper: "dummy", RunID: "r1"}))

	task, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	dead, err := q.Nack(ctx, task, errors.New("boom"))
	require.NoError(t, err)
	assert.False(t, dead)

	n, _ := q.Len(ctx)
	assert.Equal(t, int64(1), n, "requeued")

	task, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, task.Attempts)

	dead, err = q.Nack(ctx, task, errors.New("boom"))
	require.NoError(t, err)
	assert.True(t, dead)

	n, _ = q.Len(ctx)
	assert.Equal(t, int64(0), n)
	deadLen, _ := q.DeadLen(ctx)
	assert.Equal(t, int64(1), deadLen)
	processing, _ := q.ProcessingLen(ctx)
	assert.Equal(t, int64(0), processing)
}

func TestQueue_MalformedTask(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t, 3)

	_, err := mr.Lpush("openpuc:tasks", "{not json")
	require.NoError(t, err)

	task, err := q.Dequeue(ctx, time.Second)
	assert.Error(t, err)
	assert.Nil(t, task)

	deadLen, _ := q.DeadLen(ctx)
	assert.Equal(t, int64(1), deadLen)
}

func TestQueue_Leases(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, 3)

	require.NoError(t, q.Enqueue(ctx, &Task{Kind: KindCaseList, Scraper: "dummy", RunID: "r1"}))
	got, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)

	leases, err := q.client.ZCard(ctx, q.leases).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), leases)

	require.NoError(t, q.Touch(ctx, got))
	require.NoError(t, q.Ack(ctx, got))

	leases, err = q.client.ZCard(ctx, q.leases).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), leases)

	n, err := q.RequeueExpired(ctx, time.Now().Add(2*DefaultLease))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "acked tasks are never requeued")
}

func TestQueue_RequeueExpired(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, 3)
	q.WithLease(time.Minute)

	require.NoError(t, q.Enqueue(ctx, &Task{Kind: KindCaseList, Scraper: "dummy", RunID: "r1"}))
	require.NoError(t, q.Enqueue(ctx, &Task{Kind: KindCaseList, Scraper: "dummy", RunID: "r2"}))

	// a worker takes the first task and dies without acking
	crashed, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, crashed)

	n, err := q.RequeueExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n, "lease still live")

	n, err = q.RequeueExpired(ctx, time.Now().Add(time.Minute+time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	processing, err := q.ProcessingLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), processing)

	again, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, crashed.ID, again.ID, "expired task is picked up next")
	assert.Equal(t, 0, again.Attempts)
}

func TestQueue_RequeueExpiredLeasesUnownedEntries(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, 3)

	// held entry without a lease, as left by a worker dying right after BRPOPLPUSH
	require.NoError(t, q.client.LPush(ctx, q.processing, `{"id":"t1","kind":"caselist"}`).Err())

	now := time.Now()
	n, err := q.RequeueExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = q.RequeueExpired(ctx, now.Add(DefaultLease+time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestQueue_Release(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, 3)

	require.NoError(t, q.Enqueue(ctx, &Task{Kind: KindCaseList, Scraper: "dummy", RunID: "r1"}))
	require.NoError(t, q.Enqueue(ctx, &Task{Kind: KindCaseList, Scraper: "dummy", RunID: "r2"}))

	got, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NoError(t, q.Release(ctx, got))

	processing, err := q.ProcessingLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), processing)

	next, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, got.ID, next.ID)
	assert.Equal(t, 0, next.Attempts, "release does not spend an attempt")
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(), config.RedisConfig{URL: "redis://" + mr.Addr() + "/0"}, zerolog.Nop())
	require.NoError(t, err)
	client.Close()

	_, err = Connect(context.Background(), config.RedisConfig{}, zerolog.Nop())
	assert.Error(t, err)

	_, err = Connect(context.Background(), config.RedisConfig{URL: "http://nope"}, zerolog.Nop())
	assert.Error(t, err)
}
