// Package cache keeps graded results and submission locks in Redis so that
// several grader instances share them.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"exam-grader/internal/grader"
)

const (
	DefaultPrefix    = "grader"
	DefaultResultTTL = 24 * time.Hour
)

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// ResultCache stores GradingResults as JSON under <prefix>:result:<key>.
type ResultCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewResultCache(rdb *redis.Client, prefix string, ttl time.Duration) *ResultCache {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &ResultCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *ResultCache) key(k string) string { return c.prefix + ":result:" + k }

func (c *ResultCache) Get(ctx context.Context, key string) (*grader.GradingResult, bool, error) {
	js, err := c.rdb.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis GET result: %w", err)
	}
	var res grader.GradingResult
	if err := json.Unmarshal([]byte(js), &res); err != nil {
		return nil, false, fmt.Errorf("unmarshal result: %w", err)
	}
	return &res, true, nil
}

func (c *ResultCache) Put(ctx context.Context, key string, res *grader.GradingResult) error {
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := c.rdb.Set(ctx, c.key(key), b, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET result: %w", err)
	}
	return nil
}

// SubmissionGuard holds one key per submitter for the lifetime of the exam.
// Acquire is a SETNX, so concurrent submissions from one submitter race on a
// single Redis round trip and exactly one wins.
type SubmissionGuard struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewSubmissionGuard creates a guard. A zero ttl keeps locks until Release.
func NewSubmissionGuard(rdb *redis.Client, prefix string, ttl time.Duration) *SubmissionGuard {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &SubmissionGuard{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (g *SubmissionGuard) key(submitter string) string {
	return g.prefix + ":submitted:" + submitter
}

func (g *SubmissionGuard) Acquire(ctx context.Context, submitter string) error {
	ok, err := g.rdb.SetNX(ctx, g.key(submitter), time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis SETNX submitter: %w", err)
	}
	if !ok {
		return grader.ErrDuplicate
	}
	return nil
}

func (g *SubmissionGuard) Release(ctx context.Context, submitter string) error {
	if err := g.rdb.Del(ctx, g.key(submitter)).Err(); err != nil {
		return fmt.Errorf("redis DEL submitter: %w", err)
	}
	return nil
}

// Clear drops every submitter lock, e.g. when an exam is reset.
func (g *SubmissionGuard) Clear(ctx context.Context) (int, error) {
	var n int
	iter := g.rdb.Scan(ctx, 0, g.prefix+":submitted:*", 100).Iterator()
	for iter.Next(ctx) {
		if err := g.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return n, fmt.Errorf("redis DEL submitter: %w", err)
		}
		n++
	}
	if err := iter.Err(); err != nil {
		return n, fmt.Errorf("redis SCAN submitters: %w", err)
	}
	return n, nil
}
