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

package domain

import "time"

// RiskTier controls release type, approval requirements and quote-match
// strictness. T0 is critical, T3 is low risk.
type RiskTier string

const (
	TierT0 RiskTier = "T0"
	TierT1 RiskTier = "T1"
	TierT2 RiskTier = "T2"
	TierT3 RiskTier = "T3"
)

// AuthorityLevel is the hierarchy tier of the most authoritative source
// backing a Rule. Ordered high-to-low: Constitution > Law > Regulation >
// Guidance. Open Question resolution: the "LAW authority" set referenced by
// the evidence-strength policy (releaser gate 5) is {Constitution, Law}.
type AuthorityLevel string

const (
	AuthorityConstitution AuthorityLevel = "CONSTITUTION"
	AuthorityLaw          AuthorityLevel = "LAW"
	AuthorityRegulation   AuthorityLevel = "REGULATION"
	AuthorityGuidance     AuthorityLevel = "GUIDANCE"
)

// authorityRank orders AuthorityLevel from most (highest number) to least
// authoritative, used to derive a rule's authority from its backing sources.
var authorityRank = map[AuthorityLevel]int{
	AuthorityConstitution: 4,
	AuthorityLaw:          3,
	AuthorityRegulation:   2,
	AuthorityGuidance:     1,
}

// IsLawOrHigher reports whether a matches the "LAW authority" evidence-
// strength bar (gate 5 of the release pre-flight checks).
func (a AuthorityLevel) IsLawOrHigher() bool {
	return authorityRank[a] >= authorityRank[AuthorityLaw]
}

// HighestAuthority returns the most authoritative level among levels, or
// AuthorityGuidance if levels is empty.
func HighestAuthority(levels []AuthorityLevel) AuthorityLevel {
	best := AuthorityGuidance
	bestRank := 0
	for _, l := range levels {
		if r := authorityRank[l]; r > bestRank {
			bestRank = r
			best = l
		}
	}
	return best
}

// RuleStatus models the DAG: DRAFT -> (APPROVED|REJECTED), APPROVED ->
// PUBLISHED, PUBLISHED -> DEPRECATED, plus the controlled reversal
// PUBLISHED -> APPROVED under a rollback context.
type RuleStatus string

const (
	RuleDraft      RuleStatus = "DRAFT"
	RuleApproved   RuleStatus = "APPROVED"
	RulePublished  RuleStatus = "PUBLISHED"
	RuleDeprecated RuleStatus = "DEPRECATED"
	RuleRejected   RuleStatus = "REJECTED"
)

// Rule is a versioned, concept-tagged statement with an Applies-When DSL
// expression, a value, and a risk tier.
type Rule struct {
	ID                   string
	ConceptSlug          string
	TitleHr              string
	TitleEn              string
	RiskTier             RiskTier
	AuthorityLevel       AuthorityLevel
	AppliesWhen          map[string]any
	Value                string
	ValueType            ValueType
	EffectiveFrom        time.Time
	EffectiveUntil       *time.Time
	SupersedesID         string
	Status               RuleStatus
	Confidence           float64
	ApprovedBy           *string
	BackingCandidateFactIDs []string
	CreatedAt            time.Time
	StatusChangedAt       time.Time
}

// TransitionAllowed reports whether the DAG permits from -> to. bypass
// allows the controlled PUBLISHED -> APPROVED reversal used by rollback,
// an explicit parameter rather than an ambient context flag.
func TransitionAllowed(from, to RuleStatus, bypass bool) bool {
	switch from {
	case RuleDraft:
		return to == RuleApproved || to == RuleRejected
	case RuleApproved:
		return to == RulePublished
	case RulePublished:
		if to == RuleDeprecated {
			return true
		}
		return bypass && to == RuleApproved
	default:
		return false
	}
}

// RequiresApprover reports whether a PUBLISHED rule of this tier must carry
// a non-nil ApprovedBy.
func (t RiskTier) RequiresApprover() bool {
	return t == TierT0 || t == TierT1
}
