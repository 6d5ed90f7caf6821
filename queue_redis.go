package invar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "invar:"

func redisQueueKey(name string) string { return redisKeyPrefix + "queue:" + name }

// Pops the next job id, marks it outstanding and returns the job.
var takeScript = redis.NewScript(`
local id = redis.call('LPOP', KEYS[1])
if not id then
	return false
end
redis.call('SADD', KEYS[3], id)
return redis.call('HGET', KEYS[2], id)
`)

// Moves one outstanding job to done. Returns 0 when the id is not outstanding.
var doneScript = redis.NewScript(`
if redis.call('SREM', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('INCR', KEYS[3])
return 1
`)

// RedisQueue is a Queue shared between processes through Redis. Pending job
// ids live in a list, job bodies in a hash and outstanding ids in a set, all
// updated from scripts so every take and acknowledgement is atomic.
type RedisQueue struct {
	client redis.Cmdable
	name   string
}

var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue attaches to the named queue. The caller owns the client.
func NewRedisQueue(client redis.Cmdable, name string) *RedisQueue {
	return &RedisQueue{client: client, name: name}
}

func (q *RedisQueue) Name() string {
	return q.name
}

func (q *RedisQueue) listKey() string  { return redisQueueKey(q.name) }
func (q *RedisQueue) jobsKey() string  { return redisQueueKey(q.name) + ":jobs" }
func (q *RedisQueue) totalKey() string { return redisQueueKey(q.name) + ":total" }
func (q *RedisQueue) takenKey() string { return redisQueueKey(q.name) + ":taken" }
func (q *RedisQueue) doneKey() string  { return redisQueueKey(q.name) + ":done" }

func (q *RedisQueue) Enqueue(ctx context.Context, jobs ...*Job) error {
	if len(jobs) == 0 {
		return nil
	}

	ids := make([]interface{}, 0, len(jobs))
	bodies := make([]interface{}, 0, 2*len(jobs))
	for _, job := range jobs {
		job.ensureID()
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		ids = append(ids, job.ID)
		bodies = append(bodies, job.ID, data)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.jobsKey(), bodies...)
	pipe.RPush(ctx, q.listKey(), ids...)
	pipe.IncrBy(ctx, q.totalKey(), int64(len(jobs)))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("invar/redis: enqueue %s: %w", q.name, err)
	}
	return nil
}

func (q *RedisQueue) TryTake(ctx context.Context) (*Job, error) {
	data, err := takeScript.Run(ctx, q.client, []string{q.listKey(), q.jobsKey(), q.takenKey()}).Text()
	if errors.Is(err, redis.Nil) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("invar/redis: take %s: %w", q.name, err)
	}

	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("invar/redis: decode job from %s: %w", q.name, err)
	}
	return &job, nil
}

func (q *RedisQueue) Done(ctx context.Context, job *Job) error {
	n, err := doneScript.Run(ctx, q.client, []string{q.takenKey(), q.jobsKey(), q.doneKey()}, job.ID).Int()
	if err != nil {
		return fmt.Errorf("invar/redis: done %s: %w", q.name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s in %s", ErrNotTaken, job.ID, q.name)
	}
	return nil
}

func (q *RedisQueue) Counts(ctx context.Context) (QueueCounts, error) {
	pipe := q.client.Pipeline()
	remaining := pipe.LLen(ctx, q.listKey())
	taken := pipe.SCard(ctx, q.takenKey())
	counters := pipe.MGet(ctx, q.totalKey(), q.doneKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return QueueCounts{}, fmt.Errorf("invar/redis: counts %s: %w", q.name, err)
	}

	values := make([]int64, 2)
	for i, v := range counters.Val() {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return QueueCounts{}, fmt.Errorf("invar/redis: counts %s: %w", q.name, err)
		}
		values[i] = n
	}

	return QueueCounts{
		Total:     values[0],
		Remaining: remaining.Val(),
		Taken:     taken.Val(),
		Done:      values[1],
	}, nil
}

// Reset removes the queue and its counters.
func (q *RedisQueue) Reset(ctx context.Context) error {
	return q.client.Del(ctx, q.listKey(), q.jobsKey(), q.totalKey(), q.takenKey(), q.doneKey()).Err()
}
