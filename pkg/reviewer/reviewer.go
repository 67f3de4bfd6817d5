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

// Package reviewer scores draft Rules, auto-approves the ones that meet
// criteria, arbitrates Conflicts into a single winner, and transitions
// Rules to APPROVED.
package reviewer

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/audit"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/domain"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/errs"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/store"
)

// AutoApproveConfidence is the minimum Rule.Confidence the auto-approval
// path requires. Only risk tiers that do not require a human approver
// (T2/T3, per domain.RiskTier.RequiresApprover) are eligible; T0/T1 always
// route to a human reviewer.
const AutoApproveConfidence = 0.85

// MinBackingFacts is the minimum number of backing CandidateFacts a draft
// rule must carry to be auto-approved, on top of the invariant that any
// APPROVED/PUBLISHED rule has at least one.
const MinBackingFacts = 1

// Reviewer scores and transitions draft Rules.
type Reviewer struct {
	rules    store.RuleRepository
	auditLog audit.Store
	log      *logrus.Logger
}

// New constructs a Reviewer.
func New(rules store.RuleRepository, auditLog audit.Store, log *logrus.Logger) *Reviewer {
	if log == nil {
		log = logrus.New()
	}
	return &Reviewer{rules: rules, auditLog: auditLog, log: log}
}

// Score combines confidence, authority, and backing-fact count into a
// single [0,1] review score. Authority contributes up to 0.2, backing
// facts up to 0.1 (counted up to 3), confidence is the base term.
func Score(r domain.Rule) float64 {
	base := r.Confidence
	authorityBonus := map[domain.AuthorityLevel]float64{
		domain.AuthorityConstitution: 0.2,
		domain.AuthorityLaw:          0.15,
		domain.AuthorityRegulation:   0.05,
		domain.AuthorityGuidance:     0.0,
	}[r.AuthorityLevel]
	backingBonus := float64(min(len(r.BackingCandidateFactIDs), 3)) * 0.0333
	score := base + authorityBonus + backingBonus
	if score > 1 {
		score = 1
	}
	return score
}

// EligibleForAutoApproval reports whether r meets the auto-approval bar:
// a non-critical risk tier, sufficient backing facts, and a score at or
// above AutoApproveConfidence.
func EligibleForAutoApproval(r domain.Rule) bool {
	if r.RiskTier.RequiresApprover() {
		return false
	}
	if len(r.BackingCandidateFactIDs) < MinBackingFacts {
		return false
	}
	return Score(r) >= AutoApproveConfidence
}

// AutoApprove transitions a DRAFT rule to APPROVED without a human
// approvedBy when EligibleForAutoApproval holds. It returns false, nil
// without transitioning when the rule isn't eligible (the caller should
// route it to a human reviewer instead).
func (r *Reviewer) AutoApprove(ctx context.Context, rule domain.Rule, corr domain.Correlation) (bool, error) {
	if rule.Status != domain.RuleDraft {
		return false, errs.New(errs.ValidationError, "rule is not in DRAFT: "+string(rule.Status))
	}
	if !EligibleForAutoApproval(rule) {
		return false, nil
	}
	if err := r.rules.Transition(ctx, rule.ID, domain.RuleApproved, nil, false); err != nil {
		return false, errs.Wrap(err, errs.InternalError, "auto-approve transition")
	}
	r.emitAudit(ctx, "RULE_AUTO_APPROVED", rule.ID, corr, map[string]any{"score": Score(rule)})
	return true, nil
}

// Approve transitions a DRAFT rule to APPROVED with an explicit human
// approver, regardless of score (human review always supersedes the
// auto-approval bar).
func (r *Reviewer) Approve(ctx context.Context, ruleID, approvedBy string, corr domain.Correlation) error {
	if err := r.rules.Transition(ctx, ruleID, domain.RuleApproved, &approvedBy, false); err != nil {
		return errs.Wrap(err, errs.InternalError, "approve transition")
	}
	r.emitAudit(ctx, "RULE_APPROVED", ruleID, corr, map[string]any{"approvedBy": approvedBy})
	return nil
}

// Reject transitions a DRAFT rule to REJECTED.
func (r *Reviewer) Reject(ctx context.Context, ruleID, reason string, corr domain.Correlation) error {
	if err := r.rules.Transition(ctx, ruleID, domain.RuleRejected, nil, false); err != nil {
		return errs.Wrap(err, errs.InternalError, "reject transition")
	}
	r.emitAudit(ctx, "RULE_REJECTED", ruleID, corr, map[string]any{"reason": reason})
	return nil
}

func (r *Reviewer) emitAudit(ctx context.Context, eventType, resourceID string, corr domain.Correlation, data any) {
	if r.auditLog == nil {
		return
	}
	ev, err := audit.NewEvent(eventType, "pipeline", eventType, "SUCCESS", "system", "reviewer", "Rule", resourceID, corr.RunID, data)
	if err != nil {
		r.log.WithError(err).Warn("reviewer: failed to build audit event")
		return
	}
	if err := r.auditLog.Write(ctx, ev); err != nil {
		r.log.WithError(err).Warn("reviewer: failed to write audit event")
	}
}

// Arbiter resolves Conflicts into a single winner.
type Arbiter struct {
	rules     store.RuleRepository
	conflicts store.ConflictRepository
	auditLog  audit.Store
	log       *logrus.Logger
}

// NewArbiter constructs an Arbiter.
func NewArbiter(rules store.RuleRepository, conflicts store.ConflictRepository, auditLog audit.Store, log *logrus.Logger) *Arbiter {
	if log == nil {
		log = logrus.New()
	}
	return &Arbiter{rules: rules, conflicts: conflicts, auditLog: auditLog, log: log}
}

// Candidate is one side of an arbitrated conflict: the Rule whose
// authority and Score Arbitrate compares.
type Candidate struct {
	Rule domain.Rule
}

// Arbitrate picks a winner among candidates by highest AuthorityLevel, then
// highest Score, marks conflictID RESOLVED with the winner's id, and
// transitions every losing candidate's rule to REJECTED (when still DRAFT).
func (a *Arbiter) Arbitrate(ctx context.Context, conflictID string, candidates []Candidate, corr domain.Correlation) (winner domain.Rule, err error) {
	if len(candidates) == 0 {
		return domain.Rule{}, errs.New(errs.ValidationError, "arbitration requires at least one candidate")
	}
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := sorted[i].Rule, sorted[j].Rule
		li := authorityRank(ri.AuthorityLevel)
		lj := authorityRank(rj.AuthorityLevel)
		if li != lj {
			return li > lj
		}
		return Score(ri) > Score(rj)
	})
	winner = sorted[0].Rule

	for _, c := range sorted[1:] {
		if c.Rule.Status == domain.RuleDraft {
			if err := a.rules.Transition(ctx, c.Rule.ID, domain.RuleRejected, nil, false); err != nil {
				a.log.WithError(err).Warn("arbiter: failed to reject losing candidate")
			}
		}
	}

	if err := a.conflicts.SetStatus(ctx, conflictID, domain.ConflictResolved); err != nil {
		return domain.Rule{}, errs.Wrap(err, errs.InternalError, "resolve conflict")
	}

	a.emitAudit(ctx, "CONFLICT_RESOLVED", conflictID, corr, map[string]any{"winnerRuleId": winner.ID})
	return winner, nil
}

func authorityRank(level domain.AuthorityLevel) int {
	ranks := map[domain.AuthorityLevel]int{
		domain.AuthorityConstitution: 4,
		domain.AuthorityLaw:          3,
		domain.AuthorityRegulation:   2,
		domain.AuthorityGuidance:     1,
	}
	return ranks[level]
}

func (a *Arbiter) emitAudit(ctx context.Context, eventType, resourceID string, corr domain.Correlation, data any) {
	if a.auditLog == nil {
		return
	}
	ev, err := audit.NewEvent(eventType, "pipeline", eventType, "SUCCESS", "system", "arbiter", "Conflict", resourceID, corr.RunID, data)
	if err != nil {
		a.log.WithError(err).Warn("arbiter: failed to build audit event")
		return
	}
	if err := a.auditLog.Write(ctx, ev); err != nil {
		a.log.WithError(err).Warn("arbiter: failed to write audit event")
	}
}
