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

package watchdog_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Wandeon/FiskAI-App-sub004/internal/config"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/circuitbreaker"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/domain"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/queue"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/store/memstore"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/watchdog"
)

func TestWatchdog(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Watchdog Suite")
}

type recordingNotifier struct{ alerts []domain.Alert }

func (r *recordingNotifier) Notify(_ context.Context, a domain.Alert) { r.alerts = append(r.alerts, a) }

// fakeBreakerStore is an in-memory circuitbreaker.Store double, avoiding a
// miniredis dependency for this package's tests.
type fakeBreakerStore struct {
	states map[string]circuitbreaker.ProviderState
}

func newFakeBreakerStore() *fakeBreakerStore {
	return &fakeBreakerStore{states: map[string]circuitbreaker.ProviderState{}}
}

func (s *fakeBreakerStore) Load(_ context.Context, key string) (circuitbreaker.ProviderState, bool, error) {
	st, ok := s.states[key]
	return st, ok, nil
}

func (s *fakeBreakerStore) Save(_ context.Context, key string, state circuitbreaker.ProviderState) error {
	s.states[key] = state
	return nil
}

var _ = Describe("BR-WATCHDOG-001: progress gates", func() {
	var (
		ms   *memstore.Store
		ctx  context.Context
		cfg  config.WatchdogConfig
		note *recordingNotifier
	)

	BeforeEach(func() {
		ms = memstore.New()
		ctx = context.Background()
		cfg = config.Load().Watchdog
		note = &recordingNotifier{}
	})

	It("reports HEALTHY (no result) when nothing is stalled", func() {
		wd := watchdog.New(ms.Repositories(), nil, nil, cfg, note, nil)
		results := wd.Run(ctx)
		for _, r := range results {
			Expect(r.CheckName).NotTo(HavePrefix("PROGRESS_GATE"))
		}
	})

	It("raises WARNING when fewer than 20 items are stalled", func() {
		repos := ms.Repositories()
		old := time.Now().Add(-10 * time.Hour)
		for i := 0; i < 5; i++ {
			Expect(repos.Evidence.Save(ctx, domain.Evidence{
				ID: uid(i), SourceID: "src-1", ContentType: domain.ContentHTML,
				RawBytes: []byte("x"), ContentHash: "h" + uid(i), FetchedAt: old,
			})).To(Succeed())
		}
		wd := watchdog.New(repos, nil, nil, cfg, note, nil)
		results := wd.Run(ctx)

		found := false
		for _, r := range results {
			if r.CheckName == "PROGRESS_GATE_EVIDENCE_TO_FACTS" {
				found = true
				Expect(r.Severity).To(Equal(domain.AlertWarning))
			}
		}
		Expect(found).To(BeTrue())
	})
})

var _ = Describe("BR-WATCHDOG-002: alert dedup", func() {
	It("collapses a repeat (type, entityId) within the window into one row with incremented occurrences", func() {
		ms := memstore.New()
		ctx := context.Background()
		repos := ms.Repositories()
		cfg := config.Load().Watchdog
		note := &recordingNotifier{}

		old := time.Now().Add(-30 * time.Hour)
		for i := 0; i < 25; i++ {
			Expect(repos.Evidence.Save(ctx, domain.Evidence{
				ID: uid(i), SourceID: "src-1", ContentType: domain.ContentHTML,
				RawBytes: []byte("x"), ContentHash: "h" + uid(i), FetchedAt: old,
			})).To(Succeed())
		}

		wd := watchdog.New(repos, nil, nil, cfg, note, nil)
		wd.Run(ctx)
		wd.Run(ctx)

		alert, found, err := repos.Alerts.LastRaised(ctx, "PROGRESS_GATE_EVIDENCE_TO_FACTS", "")
		Expect(err).ToNot(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(alert.Occurrences).To(Equal(2))
		Expect(alert.Severity).To(Equal(domain.AlertCritical))
		Expect(len(note.alerts)).To(BeNumerically(">=", 2))
	})
})

var _ = Describe("BR-WATCHDOG-003: LLM provider health", func() {
	It("raises LLM_CIRCUIT_OPEN once the provider breaker trips OPEN", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		ms := memstore.New()
		ctx := context.Background()
		cfg := config.Load().Watchdog
		note := &recordingNotifier{}
		breakerStore := newFakeBreakerStore()
		breaker := circuitbreaker.New("ollama-extract", breakerStore)

		wd := watchdog.New(ms.Repositories(), queue.NewMemQueue(), []watchdog.Provider{
			{Name: "ollama-extract", Endpoint: srv.URL, Local: true, Breaker: breaker},
		}, cfg, note, nil)

		var results []watchdog.CheckResult
		for i := 0; i < 6; i++ {
			results = wd.Run(ctx)
		}

		found := false
		for _, r := range results {
			if r.CheckName == "LLM_CIRCUIT_OPEN" {
				found = true
			}
		}
		Expect(found).To(BeTrue())
	})
})

func uid(i int) string {
	return string(rune('a' + i%26))
}
