package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/huntplane/huntplane/internal/config"
	"github.com/huntplane/huntplane/internal/core"
	"github.com/huntplane/huntplane/pkg/types"
)

const (
	queuePending    = "huntplane:queue:pending"
	queueProcessing = "huntplane:queue:processing"
	queueFailed     = "huntplane:queue:failed"
	jobPrefix       = "huntplane:job:"
	workerPrefix    = "huntplane:worker:"
)

// jobTTL bounds how long a dispatch envelope outlives its job row.
const jobTTL = 24 * time.Hour

// redisQueue dispatches QueueJob envelopes to workers. The database
// rows for test and intelligence jobs remain the source of truth; the
// queue only carries IDs and dispatch metadata, with a 24h TTL.
type redisQueue struct {
	client *redis.Client
	cfg    config.RedisConfig
}

var _ core.JobQueue = (*redisQueue)(nil)

func NewRedisQueue(cfg config.RedisConfig) (core.JobQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &redisQueue{
		client: client,
		cfg:    cfg,
	}, nil
}

// loadJob reads and decodes one envelope.
func (q *redisQueue) loadJob(ctx context.Context, jobID string) (*types.QueueJob, error) {
	data, err := q.client.Get(ctx, jobPrefix+jobID).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job data: %w", err)
	}
	var job types.QueueJob
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// queueJob stamps UpdatedAt and stages the envelope write on pipe.
func queueJob(ctx context.Context, pipe redis.Pipeliner, job *types.QueueJob) error {
	job.UpdatedAt = time.Now()
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	pipe.Set(ctx, jobPrefix+job.ID, data, jobTTL)
	return nil
}

// releaseClaim stages removal of the processing claim for jobID and
// the claiming worker's current-job marker.
func (q *redisQueue) releaseClaim(ctx context.Context, pipe redis.Pipeliner, jobID string) {
	workerID, _ := q.client.HGet(ctx, queueProcessing, jobID).Result()
	pipe.HDel(ctx, queueProcessing, jobID)
	if workerID != "" {
		pipe.Del(ctx, workerPrefix+workerID+":current")
	}
}

func (q *redisQueue) Push(ctx context.Context, job *types.QueueJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	job.Status = "pending"
	job.CreatedAt = time.Now()

	pipe := q.client.Pipeline()
	if err := queueJob(ctx, pipe, job); err != nil {
		return err
	}

	score := float64(job.Priority)
	if job.Priority == 0 {
		score = float64(time.Now().Unix())
	}
	pipe.ZAdd(ctx, queuePending, redis.Z{
		Score:  score,
		Member: job.ID,
	})

	_, err := pipe.Exec(ctx)
	return err
}

func (q *redisQueue) Pop(ctx context.Context, workerID string) (*types.QueueJob, error) {
	result := q.client.ZPopMin(ctx, queuePending, 1)
	if err := result.Err(); err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	members := result.Val()
	if len(members) == 0 {
		return nil, nil
	}
	jobID := members[0].Member.(string)

	job, err := q.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	job.Status = "processing"

	pipe := q.client.Pipeline()
	if err := queueJob(ctx, pipe, job); err != nil {
		return nil, err
	}
	pipe.HSet(ctx, queueProcessing, jobID, workerID)
	pipe.Set(ctx, workerPrefix+workerID+":current", jobID, 1*time.Hour)

	if _, err := pipe.Exec(ctx); err != nil {
		// The claim failed after the pop; put the job back.
		q.client.ZAdd(ctx, queuePending, redis.Z{
			Score:  float64(job.Priority),
			Member: jobID,
		})
		return nil, fmt.Errorf("failed to update job status: %w", err)
	}

	return job, nil
}

func (q *redisQueue) Complete(ctx context.Context, jobID string) error {
	job, err := q.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.Status = "completed"

	pipe := q.client.Pipeline()
	if err := queueJob(ctx, pipe, job); err != nil {
		return err
	}
	q.releaseClaim(ctx, pipe, jobID)

	_, err = pipe.Exec(ctx)
	return err
}

func (q *redisQueue) Fail(ctx context.Context, jobID string, reason string) error {
	job, err := q.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.Status = "failed"
	if job.Payload == nil {
		job.Payload = map[string]interface{}{}
	}
	job.Payload["error"] = reason

	pipe := q.client.Pipeline()
	if err := queueJob(ctx, pipe, job); err != nil {
		return err
	}
	q.releaseClaim(ctx, pipe, jobID)
	pipe.ZAdd(ctx, queueFailed, redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: jobID,
	})

	_, err = pipe.Exec(ctx)
	return err
}

func (q *redisQueue) Retry(ctx context.Context, jobID string) error {
	job, err := q.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.Status = "pending"
	job.Retries++

	pipe := q.client.Pipeline()
	if err := queueJob(ctx, pipe, job); err != nil {
		return err
	}
	pipe.ZRem(ctx, queueFailed, jobID)
	pipe.ZAdd(ctx, queuePending, redis.Z{
		Score:  float64(job.Priority - job.Retries*10),
		Member: jobID,
	})

	_, err = pipe.Exec(ctx)
	return err
}

func (q *redisQueue) Close() error {
	return q.client.Close()
}
