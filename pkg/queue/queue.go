// Package queue is a Redis list backed task queue. Dequeued tasks sit in a
// processing list until acked; failed tasks are retried until they run out
// of attempts and land in a dead-letter list. Every held task carries a
// lease in a sorted set; tasks whose lease ran out are pushed back to the
// pending list by RequeueExpired.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/openpuc/scrapers/pkg/config"
	"github.com/openpuc/scrapers/pkg/metrics"
)

// Kind of work a task carries
type Kind string

const (
	KindCaseList    Kind = "caselist"
	KindProcessCase Kind = "process_case"
)

// Task is one unit of work
type Task struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Scraper    string          `json:"scraper"`
	RunID      string          `json:"run_id"`
	BasePath   string          `json:"base_path"`
	After      *time.Time      `json:"after,omitempty"`
	Case       json.RawMessage `json:"case,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Attempts   int             `json:"attempts"`

	raw string
}

// Connect parses a redis:// URL and pings the server
func Connect(ctx context.Context, cfg config.RedisConfig, logger zerolog.Logger) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis url is required")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info().Str("redis_addr", opts.Addr).Int("redis_db", opts.DB).Msg("connected to Redis")
	return client, nil
}

// Queue is a named task queue
type Queue struct {
	client      *redis.Client
	pending     string
	processing  string
	dead        string
	leases      string
	maxAttempts int
	lease       time.Duration
	logger      zerolog.Logger
}

// DefaultLease is how long a dequeued task stays owned by its worker
// without a heartbeat
const DefaultLease = 30 * time.Minute

// requeueScript moves one entry from processing back to the head of pending
// and drops its lease. The entry is only requeued when it was still held.
var requeueScript = redis.NewScript(`
local n = redis.call("LREM", KEYS[1], 1, ARGV[1])
redis.call("ZREM", KEYS[3], ARGV[1])
if n > 0 then
	redis.call("RPUSH", KEYS[2], ARGV[1])
end
return n
`)

// New creates a queue using the given list name as key prefix
func New(client *redis.Client, name string, maxAttempts int, logger zerolog.Logger) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Queue{
		client:      client,
		pending:     name,
		processing:  name + ":processing",
		dead:        name + ":dead",
		leases:      name + ":leases",
		maxAttempts: maxAttempts,
		lease:       DefaultLease,
		logger:      logger.With().Str("queue", name).Logger(),
	}
}

// WithLease overrides the lease length of dequeued tasks
func (q *Queue) WithLease(d time.Duration) *Queue {
	if d > 0 {
		q.lease = d
	}
	return q
}

// Lease returns the lease length of dequeued tasks
func (q *Queue) Lease() time.Duration {
	return q.lease
}

// Client returns the underlying redis client
func (q *Queue) Client() *redis.Client {
	return q.client
}

// Enqueue pushes a task, assigning an ID when it has none
func (q *Queue) Enqueue(ctx context.Context, task *Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := q.client.LPush(ctx, q.pending, data).Err(); err != nil {
		return fmt.Errorf("enqueue task %s: %w", task.ID, err)
	}

	metrics.TasksTotal.WithLabelValues(string(task.Kind), "enqueued").Inc()
	return nil
}

// Dequeue waits up to timeout for a task and moves it to the processing
// list. It returns nil, nil when the queue stayed empty.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	raw, err := q.client.BRPopLPush(ctx, q.pending, q.processing, timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		// Unreadable tasks are parked rather than retried forever
		q.logger.Error().Err(err).Str("raw", raw).Msg("dropping malformed task to dead-letter list")
		_, pipeErr := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.processing, 1, raw)
			pipe.LPush(ctx, q.dead, raw)
			return nil
		})
		return nil, errors.Join(fmt.Errorf("decode task: %w", err), pipeErr)
	}
	task.raw = raw

	// Without a lease the entry is still recovered: RequeueExpired leases
	// unowned entries on first sight.
	if err := q.client.ZAdd(ctx, q.leases, q.leaseFor(raw, time.Now())).Err(); err != nil {
		q.logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to record task lease")
	}

	metrics.TasksTotal.WithLabelValues(string(task.Kind), "consumed").Inc()
	return &task, nil
}

func (q *Queue) leaseFor(raw string, now time.Time) redis.Z {
	return redis.Z{Score: float64(now.Add(q.lease).UnixMilli()), Member: raw}
}

// Touch extends the lease of a held task
func (q *Queue) Touch(ctx context.Context, task *Task) error {
	err := q.client.ZAddXX(ctx, q.leases, q.leaseFor(task.raw, time.Now())).Err()
	if err != nil {
		return fmt.Errorf("extend lease of task %s: %w", task.ID, err)
	}
	return nil
}

// Ack removes a finished task from the processing list
func (q *Queue) Ack(ctx context.Context, task *Task) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, task.raw)
		pipe.ZRem(ctx, q.leases, task.raw)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack task %s: %w", task.ID, err)
	}
	metrics.TasksTotal.WithLabelValues(string(task.Kind), "acked").Inc()
	return nil
}

// Nack requeues a failed task, or moves it to the dead-letter list once it
// used up its attempts. It reports whether the task is dead.
func (q *Queue) Nack(ctx context.Context, task *Task, cause error) (bool, error) {
	task.Attempts++
	dead := task.Attempts >= q.maxAttempts

	data, err := json.Marshal(task)
	if err != nil {
		return false, fmt.Errorf("encode task: %w", err)
	}

	target := q.pending
	event := "retried"
	if dead {
		target = q.dead
		event = "dead"
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, task.raw)
		pipe.ZRem(ctx, q.leases, task.raw)
		pipe.LPush(ctx, target, data)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("nack task %s: %w", task.ID, err)
	}
	task.raw = string(data)

	q.logger.Warn().
		Err(cause).
		Str("task_id", task.ID).
		Str("kind", string(task.Kind)).
		Int("attempts", task.Attempts).
		Bool("dead", dead).
		Msg("task failed")

	metrics.TasksTotal.WithLabelValues(string(task.Kind), event).Inc()
	return dead, nil
}

// Release hands an unfinished task back without spending an attempt. It
// goes to the consuming end of the pending list so it is picked up next.
func (q *Queue) Release(ctx context.Context, task *Task) error {
	n, err := requeueScript.Run(ctx, q.client, []string{q.processing, q.pending, q.leases}, task.raw).Int()
	if err != nil {
		return fmt.Errorf("release task %s: %w", task.ID, err)
	}
	if n > 0 {
		metrics.TasksTotal.WithLabelValues(string(task.Kind), "released").Inc()
	}
	return nil
}

// RequeueExpired pushes held tasks whose lease ran out before now back to
// the pending list and returns how many were requeued. Held tasks without
// a lease, left by a worker that died between dequeue and lease, get one
// starting now.
func (q *Queue) RequeueExpired(ctx context.Context, now time.Time) (int, error) {
	held, err := q.client.LRange(ctx, q.processing, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("list processing tasks: %w", err)
	}
	for _, raw := range held {
		if err := q.client.ZAddNX(ctx, q.leases, q.leaseFor(raw, now)).Err(); err != nil {
			return 0, fmt.Errorf("lease processing task: %w", err)
		}
	}

	expired, err := q.client.ZRangeByScore(ctx, q.leases, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("list expired leases: %w", err)
	}

	requeued := 0
	for _, raw := range expired {
		n, err := requeueScript.Run(ctx, q.client, []string{q.processing, q.pending, q.leases}, raw).Int()
		if err != nil {
			return requeued, fmt.Errorf("requeue expired task: %w", err)
		}
		if n == 0 {
			continue
		}
		requeued++

		kind := "unknown"
		var task Task
		if json.Unmarshal([]byte(raw), &task) == nil {
			kind = string(task.Kind)
		}
		q.logger.Warn().Str("task_id", task.ID).Str("kind", kind).Msg("lease expired, task requeued")
		metrics.TasksTotal.WithLabelValues(kind, "expired").Inc()
	}
	return requeued, nil
}

// Len returns the number of pending tasks
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.pending).Result()
}

// ProcessingLen returns the number of tasks currently held by workers
func (q *Queue) ProcessingLen(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.processing).Result()
}

// DeadLen returns the number of dead-lettered tasks
func (q *Queue) DeadLen(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.dead).Result()
}
