// Package intake feeds grading jobs from a Redis list into the grading
// service, for deployments where the exam front end enqueues work instead of
// calling the HTTP API.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"exam-grader/internal/catalog"
	"exam-grader/internal/grader"
)

const (
	DefaultQueue     = "grader:jobs"
	DefaultResultTTL = time.Hour
)

// Payload is one queued job as pushed by producers.
type Payload struct {
	JobID      string `json:"job_id"`
	QuestionID int    `json:"question_id"`
	Source     string `json:"source"`
	Mode       string `json:"mode,omitempty"`
	Submitter  string `json:"submitter,omitempty"`
}

// Reply is pushed to <queue>:results:<job_id> once the job settles.
type Reply struct {
	JobID  string                `json:"job_id"`
	Result *grader.GradingResult `json:"result,omitempty"`
	Error  string                `json:"error,omitempty"`
}

// Grader is the part of grader.Service the consumer needs.
type Grader interface {
	GradeJob(ctx context.Context, questionID int, source string, mode catalog.Mode) (*grader.GradingResult, error)
}

type Options struct {
	Queue     string
	ResultTTL time.Duration
	// Concurrency bounds how many popped jobs are graded at once.
	Concurrency int
}

// Consumer pops jobs with BLPOP and replies on a per-job list.
type Consumer struct {
	rdb   *redis.Client
	svc   Grader
	opts  Options
	slots chan struct{}
}

func NewConsumer(rdb *redis.Client, svc Grader, opts Options) *Consumer {
	if opts.Queue == "" {
		opts.Queue = DefaultQueue
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = DefaultResultTTL
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Consumer{rdb: rdb, svc: svc, opts: opts, slots: make(chan struct{}, opts.Concurrency)}
}

// ResultKey is the list a job's Reply is pushed to.
func (c *Consumer) ResultKey(jobID string) string {
	return fmt.Sprintf("%s:results:%s", c.opts.Queue, jobID)
}

// Enqueue pushes a job onto the queue. Producers in Go use it; others push the
// same JSON themselves.
func (c *Consumer) Enqueue(ctx context.Context, p Payload) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := c.rdb.RPush(ctx, c.opts.Queue, b).Err(); err != nil {
		return fmt.Errorf("redis RPUSH job: %w", err)
	}
	return nil
}

// Run consumes until ctx is cancelled, then waits for in-flight jobs.
func (c *Consumer) Run(ctx context.Context) {
	log.Info().Str("queue", c.opts.Queue).Int("concurrency", c.opts.Concurrency).Msg("waiting for jobs")
	defer func() {
		for range c.opts.Concurrency {
			c.slots <- struct{}{}
		}
		log.Info().Str("queue", c.opts.Queue).Msg("job consumer stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case c.slots <- struct{}{}:
		}

		res, err := c.rdb.BLPop(ctx, time.Second, c.opts.Queue).Result()
		if err != nil {
			<-c.slots
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("queue", c.opts.Queue).Msg("error receiving from redis")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if len(res) < 2 {
			<-c.slots
			continue
		}

		go func(data string) {
			defer func() { <-c.slots }()
			c.handle(ctx, data)
		}(res[1])
	}
}

func (c *Consumer) handle(ctx context.Context, data string) {
	var p Payload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		log.Warn().Err(err).Msg("dropping malformed job payload")
		return
	}
	if p.JobID == "" {
		log.Warn().Msg("dropping job without job_id")
		return
	}
	logger := log.With().Str("job_id", p.JobID).Int("question_id", p.QuestionID).Logger()

	reply := Reply{JobID: p.JobID}
	mode, err := catalog.ParseMode(p.Mode)
	if err != nil {
		reply.Error = err.Error()
	} else {
		res, err := c.svc.GradeJob(ctx, p.QuestionID, p.Source, mode)
		reply.Result = res
		if err != nil {
			reply.Error = err.Error()
		}
	}

	// Reply even if ctx was cancelled mid-job so the producer is not left hanging.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.reply(wctx, reply); err != nil {
		logger.Error().Err(err).Msg("failed to publish job result")
		return
	}
	logger.Debug().Msg("job result published")
}

func (c *Consumer) reply(ctx context.Context, r Reply) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	key := c.ResultKey(r.JobID)
	pipe := c.rdb.TxPipeline()
	pipe.RPush(ctx, key, b)
	pipe.Expire(ctx, key, c.opts.ResultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis RPUSH result: %w", err)
	}
	return nil
}

// Await blocks until the reply for jobID arrives or timeout passes.
func (c *Consumer) Await(ctx context.Context, jobID string, timeout time.Duration) (*Reply, error) {
	res, err := c.rdb.BLPop(ctx, timeout, c.ResultKey(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("no result for job %s within %s", jobID, timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("redis BLPOP result: %w", err)
	}
	var r Reply
	if err := json.Unmarshal([]byte(res[1]), &r); err != nil {
		return nil, fmt.Errorf("unmarshal reply: %w", err)
	}
	return &r, nil
}
