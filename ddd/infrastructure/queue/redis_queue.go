package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"transcode-pipeline/pkg/config"
	"transcode-pipeline/pkg/errno"
	"transcode-pipeline/pkg/logger"
)

// RedisTaskQueue keeps each lane in Redis:
//
//	tq:{lane}:waiting        zset, score = available-at millis (FIFO with
//	                         lexicographic tie-break via member job id)
//	tq:{lane}:active         zset, score = lock-expires-at millis
//	tq:{lane}:completed      zset, score = finished-at millis
//	tq:{lane}:failed         zset, score = failed-at millis
//	tq:{lane}:entry:{job}    hash: attempts_made, stalls, max_attempts,
//	                         state, enqueued_at
//	tq:{lane}:rate:{window}  start-rate counter, expires with the window
type RedisTaskQueue struct {
	rdb *redis.Client
	cfg *config.Config
}

func NewRedisTaskQueue(rdb *redis.Client, cfg *config.Config) *RedisTaskQueue {
	if cfg == nil {
		cfg = config.GetGlobalConfig()
	}
	return &RedisTaskQueue{rdb: rdb, cfg: cfg}
}

func waitingKey(queue string) string   { return fmt.Sprintf("tq:%s:waiting", queue) }
func activeKey(queue string) string    { return fmt.Sprintf("tq:%s:active", queue) }
func completedKey(queue string) string { return fmt.Sprintf("tq:%s:completed", queue) }
func failedKey(queue string) string    { return fmt.Sprintf("tq:%s:failed", queue) }
func entryKey(queue, jobID string) string {
	return fmt.Sprintf("tq:%s:entry:%s", queue, jobID)
}

func queueErr(err error) error {
	return errno.NewBizError(errno.ErrQueueUnavailable, err)
}

func (q *RedisTaskQueue) Enqueue(ctx context.Context, queue, jobID string, opts EnqueueOptions) error {
	lane := q.cfg.Queue.Lane(queue)

	for _, key := range []string{waitingKey(queue), activeKey(queue)} {
		_, err := q.rdb.ZScore(ctx, key, jobID).Result()
		if err == nil {
			return errno.NewBizError(errno.ErrAlreadyQueued, fmt.Errorf("job %s in %s", jobID, key))
		}
		if err != redis.Nil {
			return queueErr(err)
		}
	}

	now := time.Now()
	availableAt := now.Add(opts.Delay)
	state := StateWaiting
	if opts.Delay > 0 {
		state = StateDelayed
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, entryKey(queue, jobID), map[string]interface{}{
		"attempts_made": 0,
		"stalls":        0,
		"max_attempts":  lane.MaxAttempts,
		"state":         state,
		"enqueued_at":   now.UnixMilli(),
	})
	pipe.ZAdd(ctx, waitingKey(queue), redis.Z{Score: float64(availableAt.UnixMilli()), Member: jobID})
	pipe.ZRem(ctx, failedKey(queue), jobID)
	pipe.ZRem(ctx, completedKey(queue), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return queueErr(err)
	}
	return nil
}

func (q *RedisTaskQueue) Claim(ctx context.Context, queue string) (*Task, error) {
	lane := q.cfg.Queue.Lane(queue)
	now := time.Now()

	popped, err := q.rdb.ZPopMin(ctx, waitingKey(queue), 1).Result()
	if err != nil {
		return nil, queueErr(err)
	}
	if len(popped) == 0 {
		return nil, nil
	}
	jobID, _ := popped[0].Member.(string)
	availableAt := int64(popped[0].Score)

	// Head of the lane is a delayed entry that is not due yet.
	if availableAt > now.UnixMilli() {
		if err := q.rdb.ZAdd(ctx, waitingKey(queue), redis.Z{Score: popped[0].Score, Member: jobID}).Err(); err != nil {
			return nil, queueErr(err)
		}
		return nil, nil
	}

	allowed, err := q.allowStart(ctx, queue)
	if err != nil {
		return nil, err
	}
	if !allowed {
		if err := q.rdb.ZAdd(ctx, waitingKey(queue), redis.Z{Score: float64(now.UnixMilli()), Member: jobID}).Err(); err != nil {
			return nil, queueErr(err)
		}
		return nil, nil
	}

	lockExpiry := now.Add(lane.LockDuration)
	ek := entryKey(queue, jobID)
	pipe := q.rdb.TxPipeline()
	attemptsCmd := pipe.HIncrBy(ctx, ek, "attempts_made", 1)
	pipe.HSet(ctx, ek, "state", StateActive)
	pipe.ZAdd(ctx, activeKey(queue), redis.Z{Score: float64(lockExpiry.UnixMilli()), Member: jobID})
	stallsCmd := pipe.HGet(ctx, ek, "stalls")
	enqueuedCmd := pipe.HGet(ctx, ek, "enqueued_at")
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, queueErr(err)
	}

	task := &Task{
		JobID:        jobID,
		Queue:        queue,
		AttemptsMade: int(attemptsCmd.Val()),
		MaxAttempts:  lane.MaxAttempts,
	}
	if stalls, err := strconv.Atoi(stallsCmd.Val()); err == nil {
		task.Stalls = stalls
	}
	if ms, err := strconv.ParseInt(enqueuedCmd.Val(), 10, 64); err == nil {
		task.EnqueuedAt = time.UnixMilli(ms)
	}
	return task, nil
}

// allowStart enforces the lane-wide start budget with a fixed counting
// window.
func (q *RedisTaskQueue) allowStart(ctx context.Context, queue string) (bool, error) {
	window := q.cfg.Queue.RateLimitWindow
	windowStart := time.Now().Unix() / int64(window.Seconds())
	key := fmt.Sprintf("tq:%s:rate:%d", queue, windowStart)

	count, err := q.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, queueErr(err)
	}
	if count == 1 {
		q.rdb.Expire(ctx, key, window)
	}
	if count > int64(q.cfg.Queue.RateLimitMax) {
		logger.Warn("Queue start rate exhausted", map[string]interface{}{
			"queue": queue,
			"count": count,
		})
		return false, nil
	}
	return true, nil
}

func (q *RedisTaskQueue) ExtendLock(ctx context.Context, queue, jobID string) error {
	lane := q.cfg.Queue.Lane(queue)
	expiry := time.Now().Add(lane.LockDuration)
	// XX: only refresh a lock that still exists; a swept entry stays swept.
	err := q.rdb.ZAddXX(ctx, activeKey(queue), redis.Z{
		Score:  float64(expiry.UnixMilli()),
		Member: jobID,
	}).Err()
	if err != nil {
		return queueErr(err)
	}
	return nil
}

func (q *RedisTaskQueue) Complete(ctx context.Context, queue, jobID string) error {
	now := time.Now()
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, activeKey(queue), jobID)
	pipe.ZAdd(ctx, completedKey(queue), redis.Z{Score: float64(now.UnixMilli()), Member: jobID})
	pipe.HSet(ctx, entryKey(queue, jobID), "state", StateCompleted)
	pipe.Expire(ctx, entryKey(queue, jobID), q.cfg.Queue.CompletedMaxAge)
	if _, err := pipe.Exec(ctx); err != nil {
		return queueErr(err)
	}
	return nil
}

func (q *RedisTaskQueue) Retry(ctx context.Context, queue, jobID string) (bool, time.Duration, error) {
	lane := q.cfg.Queue.Lane(queue)
	ek := entryKey(queue, jobID)

	attempts, err := q.rdb.HGet(ctx, ek, "attempts_made").Int()
	if err != nil && err != redis.Nil {
		return false, 0, queueErr(err)
	}

	if attempts >= lane.MaxAttempts {
		pipe := q.rdb.TxPipeline()
		pipe.ZRem(ctx, activeKey(queue), jobID)
		pipe.ZAdd(ctx, failedKey(queue), redis.Z{Score: float64(time.Now().UnixMilli()), Member: jobID})
		pipe.HSet(ctx, ek, "state", StateFailed)
		if _, err := pipe.Exec(ctx); err != nil {
			return false, 0, queueErr(err)
		}
		return false, 0, nil
	}

	delay := Backoff(lane.BackoffBase, attempts)
	availableAt := time.Now().Add(delay)
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, activeKey(queue), jobID)
	pipe.ZAdd(ctx, waitingKey(queue), redis.Z{Score: float64(availableAt.UnixMilli()), Member: jobID})
	pipe.HSet(ctx, ek, "state", StateDelayed)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, queueErr(err)
	}
	return true, delay, nil
}

func (q *RedisTaskQueue) SweepStalled(ctx context.Context, queue string) ([]StallResult, error) {
	now := time.Now()
	expired, err := q.rdb.ZRangeByScore(ctx, activeKey(queue), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, queueErr(err)
	}

	var results []StallResult
	for _, jobID := range expired {
		// Guard against a concurrent heartbeat or completion between the
		// range read and this removal.
		removed, err := q.rdb.ZRem(ctx, activeKey(queue), jobID).Result()
		if err != nil {
			return results, queueErr(err)
		}
		if removed == 0 {
			continue
		}

		ek := entryKey(queue, jobID)
		stalls, err := q.rdb.HIncrBy(ctx, ek, "stalls", 1).Result()
		if err != nil {
			return results, queueErr(err)
		}

		result := StallResult{JobID: jobID, Stalls: int(stalls)}
		if stalls >= maxStalls {
			result.Failed = true
			pipe := q.rdb.TxPipeline()
			pipe.ZAdd(ctx, failedKey(queue), redis.Z{Score: float64(now.UnixMilli()), Member: jobID})
			pipe.HSet(ctx, ek, "state", StateFailed)
			if _, err := pipe.Exec(ctx); err != nil {
				return results, queueErr(err)
			}
		} else {
			pipe := q.rdb.TxPipeline()
			pipe.ZAdd(ctx, waitingKey(queue), redis.Z{Score: float64(now.UnixMilli()), Member: jobID})
			pipe.HSet(ctx, ek, "state", StateWaiting)
			if _, err := pipe.Exec(ctx); err != nil {
				return results, queueErr(err)
			}
		}
		results = append(results, result)
	}
	return results, nil
}

func (q *RedisTaskQueue) Remove(ctx context.Context, queue, jobID string) error {
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, waitingKey(queue), jobID)
	pipe.ZRem(ctx, activeKey(queue), jobID)
	pipe.ZRem(ctx, completedKey(queue), jobID)
	pipe.ZRem(ctx, failedKey(queue), jobID)
	pipe.Del(ctx, entryKey(queue, jobID))
	if _, err := pipe.Exec(ctx); err != nil {
		return queueErr(err)
	}
	return nil
}

func (q *RedisTaskQueue) Counts(ctx context.Context, queue string) (Counts, error) {
	pipe := q.rdb.TxPipeline()
	waiting := pipe.ZCard(ctx, waitingKey(queue))
	active := pipe.ZCard(ctx, activeKey(queue))
	completed := pipe.ZCard(ctx, completedKey(queue))
	failed := pipe.ZCard(ctx, failedKey(queue))
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, queueErr(err)
	}
	return Counts{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

func (q *RedisTaskQueue) TrimCompleted(ctx context.Context, queue string) error {
	cutoff := time.Now().Add(-q.cfg.Queue.CompletedMaxAge)
	key := completedKey(queue)

	pipe := q.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff.UnixMilli(), 10))
	// Keep at most CompletedMaxKeep newest members.
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-q.cfg.Queue.CompletedMaxKeep-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return queueErr(err)
	}
	return nil
}
