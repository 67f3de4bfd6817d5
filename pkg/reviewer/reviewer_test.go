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

package reviewer_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/audit"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/domain"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/reviewer"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/store/memstore"
)

func TestReviewer(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Reviewer Suite")
}

var _ = Describe("BR-REVIEW-001: auto-approval and arbitration", func() {
	var (
		ms     *memstore.Store
		ctx    context.Context
		logger *logrus.Logger
		rv     *reviewer.Reviewer
	)

	BeforeEach(func() {
		ms = memstore.New()
		ctx = context.Background()
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
		rv = reviewer.New(ms.Repositories().Rules, audit.NewMemStore(), logger)
	})

	It("auto-approves a high-confidence T2 rule with backing facts", func() {
		rule := domain.Rule{
			ID: "r1", RiskTier: domain.TierT2, AuthorityLevel: domain.AuthorityLaw,
			Confidence: 0.9, Status: domain.RuleDraft, BackingCandidateFactIDs: []string{"f1"},
		}
		Expect(ms.Repositories().Rules.Save(ctx, rule)).To(Succeed())

		ok, err := rv.AutoApprove(ctx, rule, domain.Correlation{})
		Expect(err).ToNot(HaveOccurred())
		Expect(ok).To(BeTrue())

		got, _, err := ms.Repositories().Rules.Get(ctx, "r1")
		Expect(err).ToNot(HaveOccurred())
		Expect(got.Status).To(Equal(domain.RuleApproved))
		Expect(got.ApprovedBy).To(BeNil())
	})

	It("never auto-approves a T0 rule, regardless of confidence", func() {
		rule := domain.Rule{
			ID: "r2", RiskTier: domain.TierT0, AuthorityLevel: domain.AuthorityConstitution,
			Confidence: 0.99, Status: domain.RuleDraft, BackingCandidateFactIDs: []string{"f1"},
		}
		Expect(ms.Repositories().Rules.Save(ctx, rule)).To(Succeed())

		ok, err := rv.AutoApprove(ctx, rule, domain.Correlation{})
		Expect(err).ToNot(HaveOccurred())
		Expect(ok).To(BeFalse())

		got, _, err := ms.Repositories().Rules.Get(ctx, "r2")
		Expect(err).ToNot(HaveOccurred())
		Expect(got.Status).To(Equal(domain.RuleDraft))
	})

	It("does not auto-approve a low-confidence rule", func() {
		rule := domain.Rule{
			ID: "r3", RiskTier: domain.TierT3, AuthorityLevel: domain.AuthorityGuidance,
			Confidence: 0.5, Status: domain.RuleDraft, BackingCandidateFactIDs: []string{"f1"},
		}
		Expect(ms.Repositories().Rules.Save(ctx, rule)).To(Succeed())

		ok, err := rv.AutoApprove(ctx, rule, domain.Correlation{})
		Expect(err).ToNot(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("arbitrates a conflict in favor of the higher-authority candidate and rejects the loser", func() {
		winnerRule := domain.Rule{ID: "win", AuthorityLevel: domain.AuthorityLaw, Confidence: 0.8, Status: domain.RuleDraft}
		loserRule := domain.Rule{ID: "lose", AuthorityLevel: domain.AuthorityGuidance, Confidence: 0.95, Status: domain.RuleDraft}
		Expect(ms.Repositories().Rules.Save(ctx, winnerRule)).To(Succeed())
		Expect(ms.Repositories().Rules.Save(ctx, loserRule)).To(Succeed())

		conflict, err := ms.Repositories().Conflicts.Save(ctx, domain.Conflict{
			ID: "c1", ConflictType: domain.RuleConflict, Status: domain.ConflictOpen,
		})
		Expect(err).ToNot(HaveOccurred())

		arb := reviewer.NewArbiter(ms.Repositories().Rules, ms.Repositories().Conflicts, audit.NewMemStore(), logger)
		winner, err := arb.Arbitrate(ctx, conflict.ID, []reviewer.Candidate{{Rule: winnerRule}, {Rule: loserRule}}, domain.Correlation{})
		Expect(err).ToNot(HaveOccurred())
		Expect(winner.ID).To(Equal("win"))

		gotLoser, _, err := ms.Repositories().Rules.Get(ctx, "lose")
		Expect(err).ToNot(HaveOccurred())
		Expect(gotLoser.Status).To(Equal(domain.RuleRejected))

		gotConflict, _, err := ms.Repositories().Conflicts.Get(ctx, "c1")
		Expect(err).ToNot(HaveOccurred())
		Expect(gotConflict.Status).To(Equal(domain.ConflictResolved))
	})
})
