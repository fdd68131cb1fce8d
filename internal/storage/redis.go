package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/maps-harvester/internal/domain"
	"github.com/user/maps-harvester/pkg/utils"
)

const (
	DefaultSeenTTL     = 30 * 24 * time.Hour
	DefaultProgressTTL = 24 * time.Hour
)

// RedisTracker keeps cross-run state in Redis: the set of places already
// harvested and the progress of running jobs.
type RedisTracker struct {
	client      *redis.Client
	prefix      string
	seenTTL     time.Duration
	progressTTL time.Duration
}

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

func NewRedisTracker(client *redis.Client, prefix string, seenTTL, progressTTL time.Duration) *RedisTracker {
	if seenTTL <= 0 {
		seenTTL = DefaultSeenTTL
	}
	if progressTTL <= 0 {
		progressTTL = DefaultProgressTTL
	}
	return &RedisTracker{client: client, prefix: prefix, seenTTL: seenTTL, progressTTL: progressTTL}
}

func (s *RedisTracker) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisTracker) Close() error {
	return s.client.Close()
}

func (s *RedisTracker) seenKey(identity string) string {
	return fmt.Sprintf("%sseen:%s", s.prefix, utils.HashKey(identity))
}

func (s *RedisTracker) jobKey(jobID string) string {
	return fmt.Sprintf("%sjob:%s", s.prefix, jobID)
}

// MarkSeen records every key as harvested and reports how many had not been
// seen within the TTL.
func (s *RedisTracker) MarkSeen(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.BoolCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.SetNX(ctx, s.seenKey(k), "1", s.seenTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	fresh := 0
	for _, c := range cmds {
		if c.Val() {
			fresh++
		}
	}
	return fresh, nil
}

// SetProgress stores the latest progress of a job.
func (s *RedisTracker) SetProgress(ctx context.Context, jobID string, p domain.Progress) error {
	key := s.jobKey(jobID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"current", p.Current,
		"total", p.Total,
		"label", p.Label,
		"percent", p.Percent,
	)
	pipe.Expire(ctx, key, s.progressTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// SetState stores the lifecycle state of a job, with the failure message
// when there is one.
func (s *RedisTracker) SetState(ctx context.Context, jobID, state, message string) error {
	key := s.jobKey(jobID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "state", state, "message", message, "updated_at", time.Now().UTC().Format(time.RFC3339))
	pipe.Expire(ctx, key, s.progressTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Progress reads a job's latest progress. ok is false when the job is
// unknown or expired.
func (s *RedisTracker) Progress(ctx context.Context, jobID string) (p domain.Progress, ok bool, err error) {
	vals, err := s.client.HGetAll(ctx, s.jobKey(jobID)).Result()
	if err != nil || len(vals) == 0 {
		return p, false, err
	}
	p.Current, _ = strconv.Atoi(vals["current"])
	p.Total, _ = strconv.Atoi(vals["total"])
	p.Percent, _ = strconv.Atoi(vals["percent"])
	p.Label = vals["label"]
	return p, true, nil
}
