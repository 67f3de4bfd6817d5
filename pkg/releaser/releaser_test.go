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
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/audit"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/domain"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/hashing"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/releaser"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/store/memstore"
)

func TestReleaser(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Releaser Suite")
}

func approvedBy(s string) *string { return &s }

var _ = Describe("BR-RELEASE-001: pre-flight gates, versioning, and rollback", func() {
	var (
		ms     *memstore.Store
		ctx    context.Context
		logger *logrus.Logger
		rl     *releaser.Releaser
		ev     domain.Evidence
	)

	BeforeEach(func() {
		ms = memstore.New()
		ctx = context.Background()
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
		rl = releaser.New(
			ms.Repositories().Rules, ms.Repositories().Facts, ms.Repositories().Evidence,
			ms.Repositories().Conflicts, ms.Repositories().Releases, nil, nil,
			audit.NewMemStore(), logger,
		)

		ev = domain.Evidence{
			ID: "ev-1", SourceID: "src-1", ContentType: domain.ContentHTML,
			RawBytes: []byte("The standard VAT rate is 25%."), CleanedText: "The standard VAT rate is 25%.",
		}
		ev.ContentHash = hashing.EvidenceHash(ev.RawBytes, ev.ContentType)
		Expect(ms.Repositories().Evidence.Save(ctx, ev)).To(Succeed())

		fact := domain.CandidateFact{
			ID: "fact-1", Domain: "vat_rate", ValueType: domain.ValuePercentage, ExtractedValue: "25",
			OverallConfidence: 0.9, GroundingQuotes: []domain.GroundingQuote{{Text: "25%", EvidenceID: ev.ID}},
		}
		Expect(ms.Repositories().Facts.Save(ctx, fact)).To(Succeed())
	})

	approvedRule := func(id string, tier domain.RiskTier, authority domain.AuthorityLevel, approver *string) domain.Rule {
		r := domain.Rule{
			ID: id, ConceptSlug: "vat-" + id, RiskTier: tier, AuthorityLevel: authority,
			Value: "25", ValueType: domain.ValuePercentage, Status: domain.RuleApproved,
			ApprovedBy: approver, BackingCandidateFactIDs: []string{"fact-1"},
		}
		Expect(ms.Repositories().Rules.Save(ctx, r)).To(Succeed())
		return r
	}

	It("publishes an approved T2 rule, transitions it to PUBLISHED, and derives a patch version", func() {
		approvedRule("r1", domain.TierT2, domain.AuthorityLaw, nil)

		rel, err := rl.Release(ctx, []string{"r1"}, "", domain.Correlation{})
		Expect(err).ToNot(HaveOccurred())
		Expect(rel.Version).To(Equal("0.0.1"))
		Expect(rel.ReleaseType).To(Equal(domain.ReleasePatch))
		Expect(rel.Latest).To(BeTrue())

		got, _, err := ms.Repositories().Rules.Get(ctx, "r1")
		Expect(err).ToNot(HaveOccurred())
		Expect(got.Status).To(Equal(domain.RulePublished))

		Expect(rel.AuditTrail.SourceEvidenceCount).To(Equal(1))
		Expect(rel.AuditTrail.SourcePointerCount).To(Equal(1))
		Expect(rel.AuditTrail.ReviewCount).To(Equal(1))
	})

	It("derives a major version and requires an approver for a T0 rule", func() {
		rule := domain.Rule{
			ID: "r0", ConceptSlug: "critical-rule", RiskTier: domain.TierT0, AuthorityLevel: domain.AuthorityConstitution,
			Value: "x", ValueType: domain.ValueText, Status: domain.RuleApproved, BackingCandidateFactIDs: []string{"fact-1"},
		}
		Expect(ms.Repositories().Rules.Save(ctx, rule)).To(Succeed())

		_, err := rl.Release(ctx, []string{"r0"}, "", domain.Correlation{})
		var gateErr *releaser.GateError
		Expect(err).To(HaveOccurred())
		Expect(errors.As(err, &gateErr)).To(BeTrue())
		Expect(gateErr.Gate).To(Equal("critical_approval"))

		rule.ApprovedBy = approvedBy("reviewer-1")
		Expect(ms.Repositories().Rules.Save(ctx, rule)).To(Succeed())

		rel, err := rl.Release(ctx, []string{"r0"}, "", domain.Correlation{})
		Expect(err).ToNot(HaveOccurred())
		Expect(rel.ReleaseType).To(Equal(domain.ReleaseMajor))
		Expect(rel.Version).To(Equal("1.0.0"))
	})

	It("aborts with an evidence-chain integrity violation when Evidence bytes were tampered with after capture", func() {
		approvedRule("r2", domain.TierT2, domain.AuthorityLaw, nil)

		tampered := ev
		tampered.RawBytes = []byte("someone edited this after the hash was written")
		Expect(ms.Repositories().Evidence.Save(ctx, tampered)).To(Succeed())

		_, err := rl.Release(ctx, []string{"r2"}, "", domain.Correlation{})
		var gateErr *releaser.GateError
		Expect(err).To(HaveOccurred())
		Expect(errors.As(err, &gateErr)).To(BeTrue())
		Expect(gateErr.Gate).To(Equal("evidence_chain_integrity"))
		Expect(gateErr.Violations[0].Code).To(Equal("hash_mismatch"))
	})

	It("rejects a single-source rule below LAW authority on the evidence-strength gate", func() {
		approvedRule("r3", domain.TierT2, domain.AuthorityGuidance, nil)

		_, err := rl.Release(ctx, []string{"r3"}, "", domain.Correlation{})
		var gateErr *releaser.GateError
		Expect(err).To(HaveOccurred())
		Expect(errors.As(err, &gateErr)).To(BeTrue())
		Expect(gateErr.Gate).To(Equal("evidence_strength"))
	})

	It("rolls back the latest release, reverting its rules to APPROVED", func() {
		approvedRule("r4", domain.TierT2, domain.AuthorityLaw, nil)
		rel, err := rl.Release(ctx, []string{"r4"}, "", domain.Correlation{})
		Expect(err).ToNot(HaveOccurred())

		Expect(rl.Rollback(ctx, rel.ID, domain.Correlation{})).To(Succeed())

		got, _, err := ms.Repositories().Rules.Get(ctx, "r4")
		Expect(err).ToNot(HaveOccurred())
		Expect(got.Status).To(Equal(domain.RuleApproved))

		latest, found, err := ms.Repositories().Releases.Latest(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(found).To(BeFalse())
		_ = latest
	})
})
