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

// Package workerpool implements the pipeline's scheduling model: one
// bounded, cooperative worker pool per stage, each reserving from its named
// queue in pkg/queue and driving Fetch -> Extract -> Compose -> Review ->
// Release. A pool is an errgroup running a fixed number of identical
// reserve-loop workers gated by a semaphore, rather than an unbounded one
// worker per item.
package workerpool

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/domain"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/metrics"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/queue"
)

// Default per-stage concurrency and lease durations. The release pool is
// singleton so version derivation and Release-row creation never race.
const (
	FetchConcurrency   = 4
	ExtractConcurrency = 2
	ComposeConcurrency = 2
	ReviewConcurrency  = 2
	ReleaseConcurrency = 1

	defaultLeaseMs = 30_000
	idleBackoff    = 250 * time.Millisecond
)

// Handler processes one reserved job's body and returns an error on
// failure; the dispatcher nacks every failed job with Retry set, leaving
// the retry budget to the queue. A Handler that enqueues follow-up work
// (e.g. extract scheduling a compose trigger) does so itself against the
// Queue it closed over; the dispatcher only acks/nacks the job it reserved.
type Handler func(ctx context.Context, job queue.Job) error

// Stage binds one named queue to the Handler its pool dispatches reserved
// jobs to, with its own bounded concurrency and lease.
type Stage struct {
	Name        string
	Concurrency int
	LeaseMs     int64
	Handle      Handler
}

// Dispatcher runs one bounded worker pool per Stage, each cooperatively
// reserving, handling, and ack/nack-ing jobs from its queue until ctx is
// canceled.
type Dispatcher struct {
	q      queue.Queue
	stages []Stage
	log    *logrus.Logger
}

// New constructs a Dispatcher over q. Stages are added with AddStage before
// Run.
func New(q queue.Queue, log *logrus.Logger) *Dispatcher {
	if log == nil {
		log = logrus.New()
	}
	return &Dispatcher{q: q, log: log}
}

// AddStage registers a stage's pool. Concurrency <= 0 is treated as 1.
func (d *Dispatcher) AddStage(s Stage) {
	if s.Concurrency <= 0 {
		s.Concurrency = 1
	}
	if s.LeaseMs <= 0 {
		s.LeaseMs = defaultLeaseMs
	}
	d.stages = append(d.stages, s)
}

// Run blocks, driving every registered stage's pool, until ctx is canceled.
// Each pool is an errgroup of s.Concurrency identical reserve-loop workers
// gated by a semaphore of the same weight, so a stage never runs more
// concurrent handlers than its budget regardless of queue depth.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, stage := range d.stages {
		stage := stage
		sem := semaphore.NewWeighted(int64(stage.Concurrency))
		stats := &stageStats{}
		for i := 0; i < stage.Concurrency; i++ {
			workerID := stage.Name + "-worker-" + strconv.Itoa(i)
			g.Go(func() error {
				return d.runWorker(gctx, stage, workerID, sem, stats)
			})
		}
	}
	return g.Wait()
}

// stageStats is a stage pool's shared heartbeat bookkeeping: the cycle
// counter and items-processed total its workers publish so the watchdog
// can derive drainer idle minutes.
type stageStats struct {
	cycles atomic.Int64
	items  atomic.Int64
}

// runWorker loops reserve -> handle -> ack/nack against stage's queue until
// ctx is canceled. sem bounds how many of this stage's workers can be
// mid-handle at once; a worker holds its slot only across the handler call,
// not across the (cheap) reserve poll, so an idle pool never starves a busy
// one of reservations.
func (d *Dispatcher) runWorker(ctx context.Context, stage Stage, workerID string, sem *semaphore.Weighted, stats *stageStats) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		cycle := stats.cycles.Add(1)
		if err := d.q.Heartbeat(ctx, stage.Name, workerID, cycle, stats.items.Load()); err != nil {
			d.log.WithError(err).WithField("queue", stage.Name).Warn("workerpool: heartbeat failed")
		}

		job, ok, err := d.q.Reserve(ctx, stage.Name, workerID, stage.LeaseMs)
		if err != nil {
			d.log.WithError(err).WithField("queue", stage.Name).Warn("workerpool: reserve failed")
			if !sleepOrDone(ctx, idleBackoff) {
				return nil
			}
			continue
		}
		if !ok {
			if !sleepOrDone(ctx, idleBackoff) {
				return nil
			}
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		d.process(ctx, stage, job)
		stats.items.Add(1)
		sem.Release(1)
	}
}

// process runs stage.Handle over job and resolves it: Ack on success, Nack
// (retry or dead-letter per the queue's own attempts budget) on failure.
func (d *Dispatcher) process(ctx context.Context, stage Stage, job queue.Job) {
	log := d.log.WithFields(logrus.Fields{"queue": stage.Name, "jobId": job.ID, "attempt": job.Attempts})

	err := stage.Handle(ctx, job)
	if err == nil {
		if ackErr := d.q.Ack(ctx, job.ID); ackErr != nil {
			log.WithError(ackErr).Warn("workerpool: ack failed")
			return
		}
		metrics.RecordJobProcessed(stage.Name)
		return
	}

	log.WithError(err).Warn("workerpool: job handler failed")
	class := queue.FailureGeneral
	if isRateLimited(err) {
		class = queue.FailureRateLimited
	}
	metrics.RecordJobRetry(stage.Name, string(class))
	if nackErr := d.q.Nack(ctx, job.ID, err.Error(), class, queue.NackOptions{Retry: true}); nackErr != nil {
		log.WithError(nackErr).Warn("workerpool: nack failed")
	}
	if job.Attempts+1 >= effectiveMaxAttempts(job) {
		metrics.RecordDeadLetter(stage.Name)
	}
}

func effectiveMaxAttempts(job queue.Job) int {
	if job.MaxAttempts > 0 {
		return job.MaxAttempts
	}
	return queue.DefaultMaxAttempts
}

// rateLimited is satisfied by errors that should classify as a rate-limit
// failure for backoff purposes (30s base vs. 1s base). No error type in
// this module implements it, so handler errors from this module's stages
// are classed as general failures.
type rateLimited interface {
	RateLimited() bool
}

func isRateLimited(err error) bool {
	var rl rateLimited
	return errors.As(err, &rl) && rl.RateLimited()
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// CorrelationFor builds the Correlation a stage handler threads through to
// its component call, carrying the reserved job's own identity forward as
// ParentJobID so an AgentRun row can be traced back to the queue job that
// triggered it.
func CorrelationFor(runID string, job queue.Job) domain.Correlation {
	return domain.Correlation{
		RunID:       runID,
		JobID:       job.ID,
		ParentJobID: job.ID,
		QueueName:   job.QueueName,
	}
}
