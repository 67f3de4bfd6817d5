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
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemQueue is an in-memory Queue used by unit tests and by components that
// do not need cross-process delivery (e.g. single-process CLI runs).
type MemQueue struct {
	mu         sync.Mutex
	jobs       map[string]*Job
	heartbeats map[string]Heartbeat
	now        func() time.Time
}

// NewMemQueue constructs an empty in-memory queue.
func NewMemQueue() *MemQueue {
	return &MemQueue{
		jobs:       make(map[string]*Job),
		heartbeats: make(map[string]Heartbeat),
		now:        time.Now,
	}
}

func (q *MemQueue) Enqueue(_ context.Context, name string, body []byte, opts EnqueueOptions) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}
	if existing, ok := q.jobs[id]; ok && existing.Status != StatusCompleted && existing.Status != StatusDeadLetter {
		return *existing, nil
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}

	job := &Job{
		ID:          id,
		QueueName:   name,
		Body:        body,
		MaxAttempts: maxAttempts,
		Status:      StatusReady,
		AvailableAt: q.now().Add(time.Duration(opts.DelayMs) * time.Millisecond),
	}
	q.jobs[id] = job
	return *job, nil
}

func (q *MemQueue) Reserve(_ context.Context, name, workerID string, leaseMs int64) (Job, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var candidates []*Job
	for _, j := range q.jobs {
		if j.QueueName != name {
			continue
		}
		if j.Status == StatusReady && !j.AvailableAt.After(now) {
			candidates = append(candidates, j)
		}
		// A reserved job whose lease expired is requeued (at-least-once +
		// idempotency via business keys covers the overlap).
		if j.Status == StatusReserved && j.LeaseUntil.Before(now) {
			j.Status = StatusReady
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return Job{}, false, nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].AvailableAt.Before(candidates[j].AvailableAt) })

	job := candidates[0]
	job.Status = StatusReserved
	job.WorkerID = workerID
	job.Attempts++
	job.LeaseUntil = now.Add(time.Duration(leaseMs) * time.Millisecond)
	return *job, true, nil
}

func (q *MemQueue) Ack(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return fmt.Errorf("queue: unknown job %q", jobID)
	}
	job.Status = StatusCompleted
	return nil
}

func (q *MemQueue) Nack(_ context.Context, jobID, reason string, class FailureClass, opts NackOptions) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return fmt.Errorf("queue: unknown job %q", jobID)
	}
	job.LastError = reason

	if opts.Retry && job.Attempts < job.MaxAttempts {
		delay := time.Duration(opts.RetryDelayMs) * time.Millisecond
		if opts.RetryDelayMs == 0 {
			delay = BackoffDelay(class, job.Attempts)
		}
		job.Status = StatusReady
		job.AvailableAt = q.now().Add(delay)
		return nil
	}

	job.OriginQueue = job.QueueName
	job.QueueName = DeadLetterQueue
	job.Status = StatusDeadLetter
	job.DeadLetterReason = reason
	job.AvailableAt = q.now()
	return nil
}

func (q *MemQueue) DeadLetter(_ context.Context, jobID, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return fmt.Errorf("queue: unknown job %q", jobID)
	}
	job.OriginQueue = job.QueueName
	job.QueueName = DeadLetterQueue
	job.Status = StatusDeadLetter
	job.DeadLetterReason = reason
	return nil
}

func (q *MemQueue) Heartbeat(_ context.Context, name, workerID string, cycle, itemsProcessed int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.heartbeats[name] = Heartbeat{
		QueueName:      name,
		Cycle:          cycle,
		ItemsProcessed: itemsProcessed,
		At:             q.now(),
	}
	_ = workerID
	return nil
}

func (q *MemQueue) LastHeartbeat(_ context.Context, name string) (Heartbeat, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	hb, ok := q.heartbeats[name]
	return hb, ok, nil
}

func (q *MemQueue) Depth(_ context.Context, name string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for _, j := range q.jobs {
		if j.QueueName == name && (j.Status == StatusReady || j.Status == StatusReserved || j.Status == StatusDeadLetter) {
			count++
		}
	}
	return count, nil
}
