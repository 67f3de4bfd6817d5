/*
Copyright 2026 The FiskAI Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue is the durable, cross-process Queue backend. Each job is a
// JSON blob at "queue:job:<id>"; each named queue keeps a sorted set
// "queue:ready:<name>" scored by AvailableAt (unix millis) so Reserve can
// atomically claim the earliest-available job.
type RedisQueue struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisQueue wraps an existing go-redis client as the queue substrate.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client, now: time.Now}
}

func jobKey(id string) string         { return "queue:job:" + id }
func readyKey(name string) string     { return "queue:ready:" + name }
func leasedKey(name string) string    { return "queue:leased:" + name }
func heartbeatKey(name string) string { return "queue:heartbeat:" + name }

func (q *RedisQueue) saveJob(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.Set(ctx, jobKey(job.ID), raw, 0).Err()
}

func (q *RedisQueue) loadJob(ctx context.Context, id string) (*Job, error) {
	raw, err := q.client.Get(ctx, jobKey(id)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("queue: unknown job %q", id)
	}
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, name string, body []byte, opts EnqueueOptions) (Job, error) {
	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}

	if existing, err := q.loadJob(ctx, id); err == nil {
		if existing.Status != StatusCompleted && existing.Status != StatusDeadLetter {
			return *existing, nil
		}
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}

	availableAt := q.now().Add(time.Duration(opts.DelayMs) * time.Millisecond)
	job := &Job{
		ID:          id,
		QueueName:   name,
		Body:        body,
		MaxAttempts: maxAttempts,
		Status:      StatusReady,
		AvailableAt: availableAt,
	}
	if err := q.saveJob(ctx, job); err != nil {
		return Job{}, err
	}
	if err := q.client.ZAdd(ctx, readyKey(name), redis.Z{
		Score:  float64(availableAt.UnixMilli()),
		Member: id,
	}).Err(); err != nil {
		return Job{}, err
	}
	return *job, nil
}

// reclaimExpired returns jobs whose lease has lapsed to the ready set: a
// worker that stopped heartbeating loses the job once its lease expires
// (at-least-once plus business-key idempotency covers the overlap).
func (q *RedisQueue) reclaimExpired(ctx context.Context, name string) error {
	now := q.now()
	ids, err := q.client.ZRangeByScore(ctx, leasedKey(name), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, leasedKey(name), id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		job, err := q.loadJob(ctx, id)
		if err != nil {
			continue
		}
		job.Status = StatusReady
		job.WorkerID = ""
		job.AvailableAt = now
		if err := q.saveJob(ctx, job); err != nil {
			return err
		}
		if err := q.client.ZAdd(ctx, readyKey(name), redis.Z{
			Score:  float64(now.UnixMilli()),
			Member: id,
		}).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (q *RedisQueue) Reserve(ctx context.Context, name, workerID string, leaseMs int64) (Job, bool, error) {
	if err := q.reclaimExpired(ctx, name); err != nil {
		return Job{}, false, err
	}
	now := q.now()
	ids, err := q.client.ZRangeByScore(ctx, readyKey(name), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.UnixMilli()),
		Count: 1,
	}).Result()
	if err != nil {
		return Job{}, false, err
	}
	if len(ids) == 0 {
		return Job{}, false, nil
	}

	id := ids[0]
	// Best-effort claim: remove from the ready set first so a concurrent
	// Reserve on another worker does not also pick it up.
	removed, err := q.client.ZRem(ctx, readyKey(name), id).Result()
	if err != nil {
		return Job{}, false, err
	}
	if removed == 0 {
		// Another worker already claimed it between ZRangeByScore and ZRem.
		return Job{}, false, nil
	}

	job, err := q.loadJob(ctx, id)
	if err != nil {
		return Job{}, false, err
	}
	job.Status = StatusReserved
	job.WorkerID = workerID
	job.Attempts++
	job.LeaseUntil = now.Add(time.Duration(leaseMs) * time.Millisecond)
	if err := q.saveJob(ctx, job); err != nil {
		return Job{}, false, err
	}
	if err := q.client.ZAdd(ctx, leasedKey(name), redis.Z{
		Score:  float64(job.LeaseUntil.UnixMilli()),
		Member: id,
	}).Err(); err != nil {
		return Job{}, false, err
	}
	return *job, true, nil
}

func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	job, err := q.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.Status = StatusCompleted
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	return q.client.ZRem(ctx, leasedKey(job.QueueName), job.ID).Err()
}

func (q *RedisQueue) Nack(ctx context.Context, jobID, reason string, class FailureClass, opts NackOptions) error {
	job, err := q.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.LastError = reason
	if err := q.client.ZRem(ctx, leasedKey(job.QueueName), job.ID).Err(); err != nil {
		return err
	}

	if opts.Retry && job.Attempts < job.MaxAttempts {
		delay := time.Duration(opts.RetryDelayMs) * time.Millisecond
		if opts.RetryDelayMs == 0 {
			delay = BackoffDelay(class, job.Attempts)
		}
		job.Status = StatusReady
		job.AvailableAt = q.now().Add(delay)
		if err := q.saveJob(ctx, job); err != nil {
			return err
		}
		if err := q.client.ZAdd(ctx, readyKey(job.QueueName), redis.Z{
			Score:  float64(job.AvailableAt.UnixMilli()),
			Member: job.ID,
		}).Err(); err != nil {
			return err
		}
		return nil
	}

	return q.moveToDeadLetter(ctx, job, reason)
}

func (q *RedisQueue) DeadLetter(ctx context.Context, jobID, reason string) error {
	job, err := q.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	return q.moveToDeadLetter(ctx, job, reason)
}

func (q *RedisQueue) moveToDeadLetter(ctx context.Context, job *Job, reason string) error {
	if err := q.client.ZRem(ctx, leasedKey(job.QueueName), job.ID).Err(); err != nil {
		return err
	}
	if err := q.client.ZRem(ctx, readyKey(job.QueueName), job.ID).Err(); err != nil {
		return err
	}
	job.OriginQueue = job.QueueName
	job.QueueName = DeadLetterQueue
	job.Status = StatusDeadLetter
	job.DeadLetterReason = reason
	job.AvailableAt = q.now()
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	return q.client.ZAdd(ctx, readyKey(DeadLetterQueue), redis.Z{
		Score:  float64(job.AvailableAt.UnixMilli()),
		Member: job.ID,
	}).Err()
}

func (q *RedisQueue) Heartbeat(ctx context.Context, name, workerID string, cycle, itemsProcessed int64) error {
	hb := Heartbeat{QueueName: name, Cycle: cycle, ItemsProcessed: itemsProcessed, At: q.now()}
	raw, err := json.Marshal(hb)
	if err != nil {
		return err
	}
	_ = workerID
	return q.client.Set(ctx, heartbeatKey(name), raw, 0).Err()
}

func (q *RedisQueue) LastHeartbeat(ctx context.Context, name string) (Heartbeat, bool, error) {
	raw, err := q.client.Get(ctx, heartbeatKey(name)).Bytes()
	if err == redis.Nil {
		return Heartbeat{}, false, nil
	}
	if err != nil {
		return Heartbeat{}, false, err
	}
	var hb Heartbeat
	if err := json.Unmarshal(raw, &hb); err != nil {
		return Heartbeat{}, false, err
	}
	return hb, true, nil
}

func (q *RedisQueue) Depth(ctx context.Context, name string) (int, error) {
	ready, err := q.client.ZCard(ctx, readyKey(name)).Result()
	if err != nil {
		return 0, err
	}
	leased, err := q.client.ZCard(ctx, leasedKey(name)).Result()
	return int(ready + leased), err
}
