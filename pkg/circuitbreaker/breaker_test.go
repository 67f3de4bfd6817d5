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

package circuitbreaker_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/circuitbreaker"
)

func TestCircuitBreaker(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Circuit Breaker Suite")
}

var _ = Describe("BR-EXTERNAL-001: provider circuit breaker", func() {
	var (
		mr      *miniredis.Miniredis
		client  *redis.Client
		breaker *circuitbreaker.Breaker
		ctx     context.Context
		now     time.Time
	)

	// advance moves the breaker's injected clock forward; the Redis double
	// has no opinion about time here since breaker state carries its own
	// timestamps.
	advance := func(d time.Duration) { now = now.Add(d) }

	BeforeEach(func() {
		var err error
		mr, err = miniredis.Run()
		Expect(err).ToNot(HaveOccurred())

		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		breaker = circuitbreaker.New("ollama-extract", circuitbreaker.NewRedisStore(client))
		now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		breaker.SetNowFunc(func() time.Time { return now })
		ctx = context.Background()
	})

	AfterEach(func() {
		_ = client.Close()
		mr.Close()
	})

	It("starts CLOSED and callable", func() {
		st, err := breaker.GetState(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(st.State).To(Equal(circuitbreaker.Closed))

		can, err := breaker.CanCall(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(can).To(BeTrue())
	})

	It("opens after exactly 5 consecutive failures, not before", func() {
		for i := 0; i < 4; i++ {
			Expect(breaker.RecordFailure(ctx, "boom")).To(Succeed())
			st, err := breaker.GetState(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(st.State).To(Equal(circuitbreaker.Closed))
		}

		Expect(breaker.RecordFailure(ctx, "boom")).To(Succeed())
		st, err := breaker.GetState(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(st.State).To(Equal(circuitbreaker.Open))

		can, err := breaker.CanCall(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(can).To(BeFalse())
	})

	It("transitions OPEN -> HALF_OPEN once the open duration elapses", func() {
		for i := 0; i < 5; i++ {
			Expect(breaker.RecordFailure(ctx, "boom")).To(Succeed())
		}
		st, _ := breaker.GetState(ctx)
		Expect(st.State).To(Equal(circuitbreaker.Open))

		advance(301 * time.Second)

		st, err := breaker.GetState(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(st.State).To(Equal(circuitbreaker.HalfOpen))

		can, err := breaker.CanCall(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(can).To(BeTrue())
	})

	It("closes on success from HALF_OPEN and clears the failure counter", func() {
		for i := 0; i < 5; i++ {
			Expect(breaker.RecordFailure(ctx, "boom")).To(Succeed())
		}
		advance(301 * time.Second)
		_, _ = breaker.GetState(ctx) // drives the lazy OPEN -> HALF_OPEN transition

		Expect(breaker.RecordSuccess(ctx)).To(Succeed())

		st, err := breaker.GetState(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(st.State).To(Equal(circuitbreaker.Closed))
		Expect(st.ConsecutiveFailures).To(Equal(0))
	})

	It("reopens and refreshes openedAt on a failure while HALF_OPEN", func() {
		for i := 0; i < 5; i++ {
			Expect(breaker.RecordFailure(ctx, "boom")).To(Succeed())
		}
		advance(301 * time.Second)
		before, _ := breaker.GetState(ctx)
		Expect(before.State).To(Equal(circuitbreaker.HalfOpen))

		advance(5 * time.Second)
		Expect(breaker.RecordFailure(ctx, "still broken")).To(Succeed())

		after, err := breaker.GetState(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(after.State).To(Equal(circuitbreaker.Open))
		Expect(after.OpenedAt.After(*before.OpenedAt)).To(BeTrue())
	})

	It("resets the failure counter after a gap longer than the failure window", func() {
		Expect(breaker.RecordFailure(ctx, "one")).To(Succeed())
		Expect(breaker.RecordFailure(ctx, "two")).To(Succeed())

		advance(121 * time.Second)
		Expect(breaker.RecordFailure(ctx, "three")).To(Succeed())

		st, err := breaker.GetState(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(st.State).To(Equal(circuitbreaker.Closed))
		Expect(st.ConsecutiveFailures).To(Equal(1))
	})

	It("discards corrupt persisted state and reinitializes to CLOSED", func() {
		Expect(client.Set(ctx, "circuitbreaker:ollama-extract", "not-json", 0).Err()).To(Succeed())

		st, err := breaker.GetState(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(st.State).To(Equal(circuitbreaker.Closed))
	})

	It("Reset forces CLOSED with cleared counters", func() {
		for i := 0; i < 5; i++ {
			Expect(breaker.RecordFailure(ctx, "boom")).To(Succeed())
		}
		Expect(breaker.Reset(ctx)).To(Succeed())

		st, err := breaker.GetState(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(st.State).To(Equal(circuitbreaker.Closed))
		Expect(st.ConsecutiveFailures).To(Equal(0))
	})
})
