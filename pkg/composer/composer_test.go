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

package composer_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/audit"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/circuitbreaker"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/composer"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/domain"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/llmrunner"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/store/memstore"
)

func TestComposer(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Composer Suite")
}

type stubClient struct{ content string }

func (s *stubClient) ChatCompletion(context.Context, string, string, float64) (string, int, error) {
	return s.content, 5, nil
}

type fixedAuthority struct{ level domain.AuthorityLevel }

func (f fixedAuthority) AuthorityFor(string) domain.AuthorityLevel { return f.level }

var _ = Describe("BR-COMPOSE-001: composer draft rule and conflict handling", func() {
	var (
		ms     *memstore.Store
		ctx    context.Context
		logger *logrus.Logger
		fact   domain.CandidateFact
	)

	BeforeEach(func() {
		ms = memstore.New()
		ctx = context.Background()
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)

		fact = domain.CandidateFact{
			ID: "fact-1", Domain: "vat_rate", ValueType: domain.ValuePercentage,
			ExtractedValue: "25", OverallConfidence: 0.9,
			GroundingQuotes: []domain.GroundingQuote{{Text: "25%", EvidenceID: "ev-1"}},
		}
		Expect(ms.Repositories().Facts.Save(ctx, fact)).To(Succeed())
	})

	newComposer := func(llmOutput string) *composer.Composer {
		mr, err := miniredis.Run()
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(mr.Close)
		rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		DeferCleanup(rc.Close)
		breaker := circuitbreaker.New("ollama-extract", circuitbreaker.NewRedisStore(rc))
		runner := llmrunner.New("ollama", &stubClient{content: llmOutput}, breaker, ms.Repositories().AgentRuns, map[string]string{composer.AgentType: "compose"}, logger)
		return composer.New(runner, ms.Repositories().Facts, ms.Repositories().Rules, ms.Repositories().Conflicts, fixedAuthority{domain.AuthorityLaw}, audit.NewMemStore(), logger)
	}

	It("persists a DRAFT rule linked to the exact input fact ids", func() {
		c := newComposer(`{"draft_rule":{"concept_slug":"vat-standard","title_hr":"PDV","title_en":"VAT","risk_tier":"T2","applies_when":{"op":"true"},"value":"25","value_type":"percentage","effective_from":"2026-01-01","confidence":0.9,"source_pointer_ids":["bogus-id"]}}`)
		out, err := c.Compose(ctx, []string{fact.ID}, domain.Correlation{})
		Expect(err).ToNot(HaveOccurred())
		Expect(out.RuleID).ToNot(BeEmpty())

		rule, found, err := ms.Repositories().Rules.Get(ctx, out.RuleID)
		Expect(err).ToNot(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(rule.Status).To(Equal(domain.RuleDraft))
		Expect(rule.BackingCandidateFactIDs).To(Equal([]string{fact.ID}))
		Expect(rule.AuthorityLevel).To(Equal(domain.AuthorityLaw))
	})

	It("auto-fixes an invalid applies-when expression to {op:true} instead of rejecting", func() {
		c := newComposer(`{"draft_rule":{"concept_slug":"vat-standard","title_hr":"PDV","title_en":"VAT","risk_tier":"T2","applies_when":{"op":"bogus_operator"},"value":"25","value_type":"percentage","effective_from":"2026-01-01","confidence":0.9}}`)
		out, err := c.Compose(ctx, []string{fact.ID}, domain.Correlation{})
		Expect(err).ToNot(HaveOccurred())

		rule, _, err := ms.Repositories().Rules.Get(ctx, out.RuleID)
		Expect(err).ToNot(HaveOccurred())
		Expect(rule.AppliesWhen).To(Equal(map[string]any{"op": "true"}))
	})

	It("creates an OPEN SOURCE_CONFLICT and fails when the LLM reports a conflict", func() {
		c := newComposer(`{"conflicts_detected":{"description":"two sources disagree on the rate"}}`)
		out, err := c.Compose(ctx, []string{fact.ID}, domain.Correlation{})
		Expect(err).To(HaveOccurred())
		Expect(out.Conflict).To(BeTrue())
		Expect(out.ConflictID).ToNot(BeEmpty())

		conflicts, err := ms.Repositories().Conflicts.ListByStatus(ctx, domain.ConflictOpen)
		Expect(err).ToNot(HaveOccurred())
		Expect(conflicts).To(HaveLen(1))
		Expect(conflicts[0].ItemAID).To(BeEmpty())
		Expect(conflicts[0].Metadata["conflictingPointerIds"]).To(Equal([]string{fact.ID}))
	})
})
