package waiter

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "NamePilot/internal/errors"
)

// jobSetKey is the sorted set holding pending jobs, scored by due time in
// Unix milliseconds. Jobs survive process restarts; whatever is due when the
// poller comes back up gets handled on the first sweep.
const jobSetKey = "waiter:jobs"

// Queue is a durable delayed-job store. PopDue atomically claims the jobs
// whose due time has passed; a claimed job is gone unless explicitly pushed
// back.
type Queue interface {
	Push(ctx context.Context, job Job, dueAt time.Time) error
	PopDue(ctx context.Context, now time.Time) ([]Job, error)
	Close() error
}

// RedisQueue stores jobs in a Redis sorted set.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue wraps an existing Redis client.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Push(ctx context.Context, job Job, dueAt time.Time) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode waiter job")
	}
	if err := q.client.ZAdd(ctx, jobSetKey, redis.Z{
		Score:  float64(dueAt.UnixMilli()),
		Member: payload,
	}).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "schedule waiter job")
	}
	return nil
}

func (q *RedisQueue) PopDue(ctx context.Context, now time.Time) ([]Job, error) {
	members, err := q.client.ZRangeByScore(ctx, jobSetKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: formatScore(now),
	}).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan due waiter jobs")
	}

	var claimed []Job
	for _, member := range members {
		// ZRem is the claim: only one poller sees a removal count of 1.
		removed, err := q.client.ZRem(ctx, jobSetKey, member).Result()
		if err != nil {
			return claimed, xerrors.Wrap(xerrors.CodeStorageFailure, err, "claim waiter job")
		}
		if removed == 0 {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			// A corrupt member is dropped rather than poisoning the sweep.
			continue
		}
		claimed = append(claimed, job)
	}
	return claimed, nil
}

func (q *RedisQueue) Close() error {
	return nil
}

func formatScore(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

var _ Queue = (*RedisQueue)(nil)

// MemoryQueue is an in-process Queue for tests.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs []memoryJob
}

type memoryJob struct {
	job Job
	due time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Push(_ context.Context, job Job, dueAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, memoryJob{job: job, due: dueAt})
	return nil
}

func (q *MemoryQueue) PopDue(_ context.Context, now time.Time) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []Job
	var rest []memoryJob
	for _, entry := range q.jobs {
		if !entry.due.After(now) {
			due = append(due, entry.job)
		} else {
			rest = append(rest, entry)
		}
	}
	q.jobs = rest
	sort.SliceStable(due, func(i, j int) bool { return due[i].CommitAt < due[j].CommitAt })
	return due, nil
}

func (q *MemoryQueue) Close() error { return nil }

// Pending reports how many jobs remain scheduled.
func (q *MemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

var _ Queue = (*MemoryQueue)(nil)
