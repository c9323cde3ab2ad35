package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kiranshivaraju/driveimport/internal/cache"
	"github.com/kiranshivaraju/driveimport/pkg/models"
	"github.com/redis/go-redis/v9"
)

// createScript writes the job hash only if it does not exist yet.
// ARGV: ttl seconds, then field/value pairs.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
local ttl = tonumber(ARGV[1])
if ttl > 0 then
  redis.call('EXPIRE', KEYS[1], ttl)
end
return 1
`)

// applyScript runs the whole report as one server-side step.
// KEYS: job hash, imported list, item set.
// ARGV: item id, processed delta, failed delta, now, ttl seconds, imported records as JSON...
// Returns {code, completed, processed, failed, total}; code -1 unknown job, 0 ignored, 1 counted.
var applyScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {-1, 0, 0, 0, 0}
end
local total = tonumber(redis.call('HGET', KEYS[1], 'total'))
local processed = tonumber(redis.call('HGET', KEYS[1], 'processed'))
local failed = tonumber(redis.call('HGET', KEYS[1], 'failed'))
if redis.call('HGET', KEYS[1], 'status') == 'completed' then
  return {0, 0, processed, failed, total}
end
if redis.call('SISMEMBER', KEYS[3], ARGV[1]) == 1 then
  return {0, 0, processed, failed, total}
end
local dp = tonumber(ARGV[2])
local df = tonumber(ARGV[3])
if processed + failed + dp + df > total then
  return {0, 0, processed, failed, total}
end
redis.call('SADD', KEYS[3], ARGV[1])
processed = redis.call('HINCRBY', KEYS[1], 'processed', dp)
failed = redis.call('HINCRBY', KEYS[1], 'failed', df)
for i = 6, #ARGV do
  redis.call('RPUSH', KEYS[2], ARGV[i])
end
redis.call('HSET', KEYS[1], 'updated_at', ARGV[4])
local completed = 0
if processed + failed >= total then
  redis.call('HSET', KEYS[1], 'status', 'completed', 'completed_at', ARGV[4])
  completed = 1
end
local ttl = tonumber(ARGV[5])
if ttl > 0 then
  for i = 1, #KEYS do
    redis.call('EXPIRE', KEYS[i], ttl)
  end
end
return {1, completed, processed, failed, total}
`)

// RedisStore shares job status between coordinator replicas through Redis.
// Keys expire after the retention period; zero retention keeps them forever.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{client: client, retention: retention}
}

func (s *RedisStore) Create(ctx context.Context, job *models.Job) error {
	args := []any{
		int64(s.retention / time.Second),
		"id", job.ID,
		"source", job.Source,
		"status", job.Status,
		"total", job.Total,
		"processed", job.Processed,
		"failed", job.Failed,
		"created_at", formatTime(job.CreatedAt),
		"updated_at", formatTime(job.UpdatedAt),
	}
	created, err := createScript.Run(ctx, s.client, []string{cache.JobKey(job.ID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	if created == 0 {
		return ErrDuplicateJob
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.Job, error) {
	// MULTI/EXEC so an apply never lands between the two reads.
	pipe := s.client.TxPipeline()
	hash := pipe.HGetAll(ctx, cache.JobKey(id))
	imported := pipe.LRange(ctx, cache.JobImportedKey(id), 0, -1)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get job: %w", err)
	}

	fields := hash.Val()
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	job := &models.Job{
		ID:       id,
		Source:   fields["source"],
		Status:   fields["status"],
		Imported: []models.ImportedRecord{},
	}
	job.Total, _ = strconv.Atoi(fields["total"])
	job.Processed, _ = strconv.Atoi(fields["processed"])
	job.Failed, _ = strconv.Atoi(fields["failed"])
	job.CreatedAt = parseTime(fields["created_at"])
	job.UpdatedAt = parseTime(fields["updated_at"])
	if v, ok := fields["completed_at"]; ok {
		t := parseTime(v)
		job.CompletedAt = &t
	}

	for _, raw := range imported.Val() {
		var rec models.ImportedRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode imported record: %w", err)
		}
		job.Imported = append(job.Imported, rec)
	}
	return job, nil
}

func (s *RedisStore) Apply(ctx context.Context, o models.Outcome, now time.Time) (ApplyResult, error) {
	if err := ValidateOutcome(o); err != nil {
		return ApplyResult{}, err
	}

	args := []any{o.ItemID, o.Processed, o.Failed, formatTime(now), int64(s.retention / time.Second)}
	for _, rec := range o.Imported {
		b, err := json.Marshal(rec)
		if err != nil {
			return ApplyResult{}, fmt.Errorf("encode imported record: %w", err)
		}
		args = append(args, string(b))
	}

	keys := []string{cache.JobKey(o.JobID), cache.JobImportedKey(o.JobID), cache.JobItemsKey(o.JobID)}
	vals, err := applyScript.Run(ctx, s.client, keys, args...).Int64Slice()
	if err != nil {
		return ApplyResult{}, fmt.Errorf("apply outcome: %w", err)
	}
	if len(vals) != 5 {
		return ApplyResult{}, fmt.Errorf("apply outcome: unexpected script reply %v", vals)
	}
	if vals[0] < 0 {
		return ApplyResult{}, ErrNotFound
	}

	return ApplyResult{
		Counted:   vals[0] == 1,
		Completed: vals[1] == 1,
		Processed: int(vals[2]),
		Failed:    int(vals[3]),
		Total:     int(vals[4]),
	}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
