package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"deskhooks/internal/model"
)

// RedisQueue keeps job bodies in a hash and their not-before times as scores of a
// sorted set.
type RedisQueue struct {
	rdb    *redis.Client
	prefix string
}

// claimScript moves due members forward by the lease and returns their bodies in
// one round trip, so two workers never claim the same job.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local out = {}
for _, id in ipairs(ids) do
  local body = redis.call('HGET', KEYS[2], id)
  if body then
    redis.call('ZADD', KEYS[1], ARGV[3], id)
    table.insert(out, body)
  else
    redis.call('ZREM', KEYS[1], id)
  end
end
return out
`)

func NewRedisQueue(url string) (*RedisQueue, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewRedisQueueFromClient(redis.NewClient(opt)), nil
}

func NewRedisQueueFromClient(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb, prefix: "deskhooks:jobs"}
}

func (q *RedisQueue) dueKey() string  { return q.prefix + ":due" }
func (q *RedisQueue) bodyKey() string { return q.prefix + ":body" }

func (q *RedisQueue) Ping(ctx context.Context) error { return q.rdb.Ping(ctx).Err() }

func (q *RedisQueue) Close() error { return q.rdb.Close() }

func (q *RedisQueue) put(ctx context.Context, job model.DeliveryJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.bodyKey(), job.ID, body)
		pipe.ZAdd(ctx, q.dueKey(), redis.Z{Score: float64(job.NotBefore.UnixMilli()), Member: job.ID})
		return nil
	})
	return err
}

func (q *RedisQueue) Enqueue(ctx context.Context, job model.DeliveryJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	return q.put(ctx, job)
}

func (q *RedisQueue) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]model.DeliveryJob, error) {
	res, err := claimScript.Run(ctx, q.rdb, []string{q.dueKey(), q.bodyKey()},
		now.UnixMilli(), limit, now.Add(lease).UnixMilli()).StringSlice()
	if err != nil {
		if err == redis.Nil {
			return []model.DeliveryJob{}, nil
		}
		return nil, err
	}
	out := make([]model.DeliveryJob, 0, len(res))
	for _, body := range res {
		var j model.DeliveryJob
		if err := json.Unmarshal([]byte(body), &j); err != nil {
			return nil, fmt.Errorf("decode queued job: %w", err)
		}
		j.NotBefore = now.Add(lease)
		out = append(out, j)
	}
	return out, nil
}

func (q *RedisQueue) Reschedule(ctx context.Context, job model.DeliveryJob) error {
	exists, err := q.rdb.HExists(ctx, q.bodyKey(), job.ID).Result()
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return q.put(ctx, job)
}

func (q *RedisQueue) Complete(ctx context.Context, id string) error {
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.dueKey(), id)
		pipe.HDel(ctx, q.bodyKey(), id)
		return nil
	})
	return err
}

// Len reports the number of queued jobs.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.ZCard(ctx, q.dueKey()).Result()
}
