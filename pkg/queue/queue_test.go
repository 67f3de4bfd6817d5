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

package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/queue"
)

func TestQueue(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Queue Substrate Suite")
}

var _ = Describe("BackoffDelay", func() {
	It("uses a 30s base for rate-limited failures, doubling per attempt", func() {
		Expect(queue.BackoffDelay(queue.FailureRateLimited, 0)).To(Equal(30 * time.Second))
		Expect(queue.BackoffDelay(queue.FailureRateLimited, 1)).To(Equal(60 * time.Second))
		Expect(queue.BackoffDelay(queue.FailureRateLimited, 2)).To(Equal(120 * time.Second))
	})

	It("uses a 1s base for general failures, doubling per attempt", func() {
		Expect(queue.BackoffDelay(queue.FailureGeneral, 0)).To(Equal(1 * time.Second))
		Expect(queue.BackoffDelay(queue.FailureGeneral, 3)).To(Equal(8 * time.Second))
	})
})

// Both backends must satisfy identical dedup/retry/dead-letter semantics,
// so the same behavioral suite runs against each.
var _ = Describe("Queue implementations", func() {
	for _, backend := range []struct {
		name string
		new  func() (queue.Queue, func())
	}{
		{
			name: "MemQueue",
			new: func() (queue.Queue, func()) {
				return queue.NewMemQueue(), func() {}
			},
		},
		{
			name: "RedisQueue",
			new: func() (queue.Queue, func()) {
				mr, err := miniredis.Run()
				Expect(err).ToNot(HaveOccurred())
				client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				return queue.NewRedisQueue(client), func() {
					_ = client.Close()
					mr.Close()
				}
			},
		},
	} {
		backend := backend
		Describe(backend.name, func() {
			var (
				q      queue.Queue
				ctx    context.Context
				closer func()
			)

			BeforeEach(func() {
				q, closer = backend.new()
				ctx = context.Background()
			})

			AfterEach(func() { closer() })

			It("deduplicates Enqueue by jobId for non-terminal jobs", func() {
				first, err := q.Enqueue(ctx, "extract", []byte("a"), queue.EnqueueOptions{JobID: "process-1"})
				Expect(err).ToNot(HaveOccurred())

				second, err := q.Enqueue(ctx, "extract", []byte("b"), queue.EnqueueOptions{JobID: "process-1"})
				Expect(err).ToNot(HaveOccurred())

				Expect(second.ID).To(Equal(first.ID))
				Expect(second.Body).To(Equal(first.Body), "the existing job's body is returned, not the duplicate's")
			})

			It("reserves the job and grants a lease", func() {
				_, err := q.Enqueue(ctx, "extract", []byte("a"), queue.EnqueueOptions{JobID: "process-2"})
				Expect(err).ToNot(HaveOccurred())

				job, ok, err := q.Reserve(ctx, "extract", "worker-1", 5000)
				Expect(err).ToNot(HaveOccurred())
				Expect(ok).To(BeTrue())
				Expect(job.ID).To(Equal("process-2"))
				Expect(job.Attempts).To(Equal(1))

				_, ok, err = q.Reserve(ctx, "extract", "worker-2", 5000)
				Expect(err).ToNot(HaveOccurred())
				Expect(ok).To(BeFalse(), "a reserved, unexpired job is not reservable by a second worker")
			})

			It("retries on Nack until maxAttempts, then dead-letters with full context", func() {
				_, err := q.Enqueue(ctx, "extract", []byte("a"), queue.EnqueueOptions{JobID: "process-3", MaxAttempts: 2})
				Expect(err).ToNot(HaveOccurred())

				job, ok, err := q.Reserve(ctx, "extract", "worker-1", 5000)
				Expect(err).ToNot(HaveOccurred())
				Expect(ok).To(BeTrue())

				// An explicit 1ms retry delay keeps the test fast; RetryDelayMs 0
				// would schedule the real exponential backoff (seconds).
				Expect(q.Nack(ctx, job.ID, "temporary", queue.FailureGeneral, queue.NackOptions{Retry: true, RetryDelayMs: 1})).To(Succeed())

				depth, err := q.Depth(ctx, "extract")
				Expect(err).ToNot(HaveOccurred())
				Expect(depth).To(Equal(1), "still in extract, rescheduled for retry")

				Eventually(func() bool {
					job, ok, err = q.Reserve(ctx, "extract", "worker-1", 5000)
					Expect(err).ToNot(HaveOccurred())
					return ok
				}, time.Second, 5*time.Millisecond).Should(BeTrue())
				Expect(job.Attempts).To(Equal(2))

				Expect(q.Nack(ctx, job.ID, "still failing", queue.FailureGeneral, queue.NackOptions{Retry: true, RetryDelayMs: 1})).To(Succeed())

				dlDepth, err := q.Depth(ctx, queue.DeadLetterQueue)
				Expect(err).ToNot(HaveOccurred())
				Expect(dlDepth).To(Equal(1), "attempts exhausted, moved to the shared dead-letter queue")
			})

			It("DeadLetter moves a job straight to the dead-letter queue", func() {
				_, err := q.Enqueue(ctx, "extract", []byte("a"), queue.EnqueueOptions{JobID: "process-4"})
				Expect(err).ToNot(HaveOccurred())

				Expect(q.DeadLetter(ctx, "process-4", "blocked domain")).To(Succeed())

				depth, err := q.Depth(ctx, "extract")
				Expect(err).ToNot(HaveOccurred())
				Expect(depth).To(Equal(0))

				dlDepth, err := q.Depth(ctx, queue.DeadLetterQueue)
				Expect(err).ToNot(HaveOccurred())
				Expect(dlDepth).To(Equal(1))
			})

			It("requeues a reserved job once its lease expires", func() {
				_, err := q.Enqueue(ctx, "extract", []byte("a"), queue.EnqueueOptions{JobID: "process-5"})
				Expect(err).ToNot(HaveOccurred())

				_, ok, err := q.Reserve(ctx, "extract", "worker-1", 1)
				Expect(err).ToNot(HaveOccurred())
				Expect(ok).To(BeTrue())

				var job queue.Job
				Eventually(func() bool {
					job, ok, err = q.Reserve(ctx, "extract", "worker-2", 5000)
					Expect(err).ToNot(HaveOccurred())
					return ok
				}, time.Second, 5*time.Millisecond).Should(BeTrue(), "the lapsed lease returns the job to the ready set")
				Expect(job.ID).To(Equal("process-5"))
				Expect(job.WorkerID).To(Equal("worker-2"))
			})

			It("records and returns the latest heartbeat", func() {
				_, ok, err := q.LastHeartbeat(ctx, "extract")
				Expect(err).ToNot(HaveOccurred())
				Expect(ok).To(BeFalse())

				Expect(q.Heartbeat(ctx, "extract", "worker-1", 1, 10)).To(Succeed())
				Expect(q.Heartbeat(ctx, "extract", "worker-1", 2, 25)).To(Succeed())

				hb, ok, err := q.LastHeartbeat(ctx, "extract")
				Expect(err).ToNot(HaveOccurred())
				Expect(ok).To(BeTrue())
				Expect(hb.Cycle).To(Equal(int64(2)))
				Expect(hb.ItemsProcessed).To(Equal(int64(25)))
			})
		})
	}
})
