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

package releaser_test

import (
	"context"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/domain"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/queue"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/releaser"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/store/memstore"
)

var _ = Describe("BR-RELEASE-002: content-sync emission", func() {
	var (
		ms  *memstore.Store
		ctx context.Context
		q   *queue.MemQueue
		cs  *releaser.QueueContentSync
	)

	BeforeEach(func() {
		ms = memstore.New()
		ctx = context.Background()
		q = queue.NewMemQueue()
		repos := ms.Repositories()
		cs = releaser.NewQueueContentSync(q, "content-sync", repos.Rules, repos.Facts, repos.Evidence)

		ev := domain.Evidence{
			ID: "ev-1", SourceID: "src-1", URL: "https://narodne-novine.nn.hr/vat",
			ContentType: domain.ContentHTML, RawBytes: []byte("x"), ContentHash: "h1",
		}
		Expect(repos.Evidence.Save(ctx, ev)).To(Succeed())
		Expect(repos.Facts.Save(ctx, domain.CandidateFact{
			ID: "fact-1", Domain: "vat_rate",
			GroundingQuotes: []domain.GroundingQuote{{Text: "25%", EvidenceID: "ev-1"}},
		})).To(Succeed())
	})

	It("emits one tagged event per published rule, carrying the previous value for updates", func() {
		repos := ms.Repositories()
		Expect(repos.Rules.Save(ctx, domain.Rule{
			ID: "r-old", ConceptSlug: "vat-standard", Value: "23",
			Status: domain.RulePublished, BackingCandidateFactIDs: []string{"fact-1"},
		})).To(Succeed())
		Expect(repos.Rules.Save(ctx, domain.Rule{
			ID: "r-new", ConceptSlug: "vat-standard", Value: "25", RiskTier: domain.TierT1,
			Confidence: 0.95, SupersedesID: "r-old",
			Status: domain.RulePublished, BackingCandidateFactIDs: []string{"fact-1"},
		})).To(Succeed())

		release := domain.Release{ID: "rel-1", Version: "1.1.0", RuleIDs: []string{"r-new"}}
		Expect(cs.EmitReleasePublished(ctx, release)).To(Succeed())

		job, ok, err := q.Reserve(ctx, "content-sync", "w-1", 1000)
		Expect(err).ToNot(HaveOccurred())
		Expect(ok).To(BeTrue())

		var event releaser.ContentSyncEvent
		Expect(json.Unmarshal(job.Body, &event)).To(Succeed())
		Expect(event.RuleID).To(Equal("r-new"))
		Expect(event.ChangeType).To(Equal("update"))
		Expect(event.PreviousValue).To(Equal("23"))
		Expect(event.RiskTier).To(Equal("T1"))
		Expect(event.SourceURL).To(Equal("https://narodne-novine.nn.hr/vat"))
	})

	It("dedups a re-emission of the same release by job id", func() {
		repos := ms.Repositories()
		Expect(repos.Rules.Save(ctx, domain.Rule{
			ID: "r-1", ConceptSlug: "vat-standard", Value: "25",
			Status: domain.RulePublished, BackingCandidateFactIDs: []string{"fact-1"},
		})).To(Succeed())

		release := domain.Release{ID: "rel-1", Version: "0.0.1", RuleIDs: []string{"r-1"}}
		Expect(cs.EmitReleasePublished(ctx, release)).To(Succeed())
		Expect(cs.EmitReleasePublished(ctx, release)).To(Succeed())

		depth, err := q.Depth(ctx, "content-sync")
		Expect(err).ToNot(HaveOccurred())
		Expect(depth).To(Equal(1))
	})
})
