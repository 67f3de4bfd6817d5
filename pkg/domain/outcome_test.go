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

package domain_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/domain"
)

func TestOutcome(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Outcome Suite")
}

var _ = Describe("NewOutcome", func() {
	It("coerces SUCCESS_APPLIED with zero items to SUCCESS_NO_CHANGE", func() {
		result := domain.NewOutcome(domain.SuccessApplied, 0, "no_candidates", "nothing to extract")

		Expect(result.Outcome).To(Equal(domain.SuccessNoChange))
		Expect(result.ItemsProduced).To(Equal(0))
		Expect(result.NoChangeCode).To(Equal("no_candidates"))
		Expect(result.Detail).To(Equal("nothing to extract"))
	})

	It("passes SUCCESS_APPLIED through unchanged when items were produced", func() {
		result := domain.NewOutcome(domain.SuccessApplied, 3, "", "")

		Expect(result.Outcome).To(Equal(domain.SuccessApplied))
		Expect(result.ItemsProduced).To(Equal(3))
	})

	It("never coerces FAILURE or PARTIAL even with zero items", func() {
		Expect(domain.NewOutcome(domain.OutcomeFailure, 0, "", "").Outcome).To(Equal(domain.OutcomeFailure))
		Expect(domain.NewOutcome(domain.OutcomePartial, 0, "", "").Outcome).To(Equal(domain.OutcomePartial))
	})
})

var _ = Describe("Rule status transitions", func() {
	It("allows the forward DAG", func() {
		Expect(domain.TransitionAllowed(domain.RuleDraft, domain.RuleApproved, false)).To(BeTrue())
		Expect(domain.TransitionAllowed(domain.RuleDraft, domain.RuleRejected, false)).To(BeTrue())
		Expect(domain.TransitionAllowed(domain.RuleApproved, domain.RulePublished, false)).To(BeTrue())
		Expect(domain.TransitionAllowed(domain.RulePublished, domain.RuleDeprecated, false)).To(BeTrue())
	})

	It("forbids PUBLISHED -> APPROVED without an explicit bypass", func() {
		Expect(domain.TransitionAllowed(domain.RulePublished, domain.RuleApproved, false)).To(BeFalse())
		Expect(domain.TransitionAllowed(domain.RulePublished, domain.RuleApproved, true)).To(BeTrue())
	})

	It("forbids skipping DRAFT straight to PUBLISHED", func() {
		Expect(domain.TransitionAllowed(domain.RuleDraft, domain.RulePublished, false)).To(BeFalse())
	})
})

var _ = Describe("AuthorityLevel", func() {
	It("ranks Constitution and Law as LAW-or-higher", func() {
		Expect(domain.AuthorityConstitution.IsLawOrHigher()).To(BeTrue())
		Expect(domain.AuthorityLaw.IsLawOrHigher()).To(BeTrue())
		Expect(domain.AuthorityRegulation.IsLawOrHigher()).To(BeFalse())
		Expect(domain.AuthorityGuidance.IsLawOrHigher()).To(BeFalse())
	})

	It("derives the highest authority among backing sources", func() {
		got := domain.HighestAuthority([]domain.AuthorityLevel{domain.AuthorityGuidance, domain.AuthorityLaw, domain.AuthorityRegulation})
		Expect(got).To(Equal(domain.AuthorityLaw))
	})

	It("defaults to Guidance for an empty set", func() {
		Expect(domain.HighestAuthority(nil)).To(Equal(domain.AuthorityGuidance))
	})
})
