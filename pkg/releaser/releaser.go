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

// Package releaser implements the pre-flight gate chain that turns a
// batch of APPROVED Rules into an immutable, semver-tagged, content-hashed
// Release, transitions every rule to PUBLISHED, and the controlled
// rollback that reverses it.
package releaser

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/audit"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/domain"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/errs"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/hashing"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/metrics"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/quote"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/queue"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/store"
)

// semverRe matches a bare major.minor.patch string; an LLM-suggested
// version failing this never reaches the release row.
var semverRe = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)$`)

// GateViolation is a single rule's failure against one pre-flight gate.
// Slug carries the rule's conceptSlug when known, so gate failures read as
// regulatory concepts rather than opaque row ids.
type GateViolation struct {
	RuleID string
	Slug   string
	Code   string
	Detail string
}

// GateError aborts a release: the first gate (in pre-flight order) that
// produced any violation stops the chain, so later gates never run against
// a batch already known to be invalid.
type GateError struct {
	Gate       string
	Violations []GateViolation
}

// Error lists up to three failing rules by conceptSlug (falling back to
// rule id), suffixing "(and K more)" when more exist.
func (e *GateError) Error() string {
	names := make([]string, 0, len(e.Violations))
	for i, v := range e.Violations {
		if i >= 3 {
			names = append(names, fmt.Sprintf("(and %d more)", len(e.Violations)-3))
			break
		}
		name := v.Slug
		if name == "" {
			name = v.RuleID
		}
		names = append(names, fmt.Sprintf("%s[%s]", name, v.Code))
	}
	return fmt.Sprintf("release gate %s failed: %s", e.Gate, strings.Join(names, ", "))
}

// ContentSyncEmitter fans out the best-effort, fire-and-forget side effects
// a successful publish triggers (embedding refresh, downstream content
// sync). A failure here is logged but never fails the release itself.
type ContentSyncEmitter interface {
	EmitReleasePublished(ctx context.Context, release domain.Release) error
}

// Releaser runs the pre-flight gate chain and owns the publish/rollback
// transactions.
type Releaser struct {
	rules       store.RuleRepository
	facts       store.CandidateFactRepository
	evidence    store.EvidenceRepository
	conflicts   store.ConflictRepository
	releases    store.ReleaseRepository
	embedQueue  queue.Queue
	contentSync ContentSyncEmitter
	auditLog    audit.Store
	log         *logrus.Logger
}

// New constructs a Releaser. embedQueue and contentSync are both optional
// (nilable): when absent, the corresponding best-effort side effect is
// skipped rather than attempted.
func New(
	rules store.RuleRepository,
	facts store.CandidateFactRepository,
	evidence store.EvidenceRepository,
	conflicts store.ConflictRepository,
	releases store.ReleaseRepository,
	embedQueue queue.Queue,
	contentSync ContentSyncEmitter,
	auditLog audit.Store,
	log *logrus.Logger,
) *Releaser {
	if log == nil {
		log = logrus.New()
	}
	return &Releaser{
		rules: rules, facts: facts, evidence: evidence, conflicts: conflicts, releases: releases,
		embedQueue: embedQueue, contentSync: contentSync, auditLog: auditLog, log: log,
	}
}

// Release runs the full pre-flight gate chain against ruleIDs and, if every
// gate passes, publishes them as a new Release. suggestedVersion is the
// LLM/operator-proposed semver string; it is only honored when it parses as
// a bare major.minor.patch AND its bump over the previous release matches
// the server-derived release type, otherwise the derived version is
// authoritative.
func (rl *Releaser) Release(ctx context.Context, ruleIDs []string, suggestedVersion string, corr domain.Correlation) (domain.Release, error) {
	if len(ruleIDs) == 0 {
		return domain.Release{}, errs.New(errs.ValidationError, "release requires at least one rule id")
	}

	rules, err := rl.rules.ListByIDs(ctx, ruleIDs)
	if err != nil {
		return domain.Release{}, errs.Wrap(err, errs.InternalError, "load rules")
	}
	byID := make(map[string]domain.Rule, len(rules))
	for _, r := range rules {
		byID[r.ID] = r
	}

	// Gate 1: existence & status.
	var violations []GateViolation
	for _, id := range ruleIDs {
		r, ok := byID[id]
		if !ok {
			violations = append(violations, GateViolation{RuleID: id, Code: "NOT_FOUND", Detail: "rule does not exist"})
			continue
		}
		if r.Status != domain.RuleApproved {
			violations = append(violations, GateViolation{RuleID: id, Code: "NOT_APPROVED", Detail: "status is " + string(r.Status)})
		}
	}
	if len(violations) > 0 {
		return domain.Release{}, &GateError{Gate: "existence_and_status", Violations: violations}
	}
	ordered := make([]domain.Rule, len(ruleIDs))
	for i, id := range ruleIDs {
		ordered[i] = byID[id]
	}

	// Gate 2: critical approval.
	violations = nil
	for _, r := range ordered {
		if r.RiskTier.RequiresApprover() && r.ApprovedBy == nil {
			violations = append(violations, GateViolation{RuleID: r.ID, Slug: r.ConceptSlug, Code: "MISSING_APPROVER", Detail: "tier " + string(r.RiskTier) + " requires a human approver"})
		}
	}
	if len(violations) > 0 {
		return domain.Release{}, &GateError{Gate: "critical_approval", Violations: violations}
	}

	// Gate 3: open conflicts.
	violations = nil
	for _, r := range ordered {
		open, err := rl.conflicts.OpenForRule(ctx, r.ID)
		if err != nil {
			return domain.Release{}, errs.Wrap(err, errs.InternalError, "check open conflicts")
		}
		if open {
			violations = append(violations, GateViolation{RuleID: r.ID, Slug: r.ConceptSlug, Code: "OPEN_CONFLICT", Detail: "rule has an unresolved conflict"})
		}
	}
	if len(violations) > 0 {
		return domain.Release{}, &GateError{Gate: "open_conflicts", Violations: violations}
	}

	// Gate 4: backing facts.
	violations = nil
	for _, r := range ordered {
		if len(r.BackingCandidateFactIDs) < 1 {
			violations = append(violations, GateViolation{RuleID: r.ID, Slug: r.ConceptSlug, Code: "NO_BACKING_FACTS", Detail: "rule has no backing candidate facts"})
		}
	}
	if len(violations) > 0 {
		return domain.Release{}, &GateError{Gate: "backing_facts", Violations: violations}
	}

	// Gate 5: evidence strength policy. A rule backed by exactly one source
	// must be grounded in LAW-or-higher authority; multi-source rules pass
	// regardless of authority (corroboration substitutes for authority).
	violations = nil
	for _, r := range ordered {
		if len(r.BackingCandidateFactIDs) == 1 && !r.AuthorityLevel.IsLawOrHigher() {
			violations = append(violations, GateViolation{RuleID: r.ID, Slug: r.ConceptSlug, Code: "WEAK_EVIDENCE", Detail: "single-source rule below LAW authority"})
		}
	}
	if len(violations) > 0 {
		return domain.Release{}, &GateError{Gate: "evidence_strength", Violations: violations}
	}

	// Gate 6: evidence chain integrity.
	violations, err = rl.evidenceChainViolations(ctx, ordered)
	if err != nil {
		return domain.Release{}, err
	}
	if len(violations) > 0 {
		return domain.Release{}, &GateError{Gate: "evidence_chain_integrity", Violations: violations}
	}

	// All gates pass: derive the release metadata and publish.
	prev, hasPrev, err := rl.releases.Latest(ctx)
	if err != nil {
		return domain.Release{}, errs.Wrap(err, errs.InternalError, "load latest release")
	}
	releaseType := deriveReleaseType(ordered)
	version := deriveVersion(prev, hasPrev, releaseType, suggestedVersion)

	auditTrail, err := rl.auditTrailFor(ctx, ordered)
	if err != nil {
		return domain.Release{}, errs.Wrap(err, errs.InternalError, "compute audit trail")
	}

	release := domain.Release{
		ID:            uuid.NewString(),
		Version:       version,
		ReleaseType:   releaseType,
		ReleasedAt:    time.Now().UTC(),
		EffectiveFrom: time.Now().UTC(),
		ContentHash:   hashing.ReleaseContentHash(ordered),
		Changelog:     changelogFor(ordered),
		ApprovedBy:    approversOf(ordered),
		AuditTrail:    auditTrail,
		RuleIDs:       ruleIDs,
		Latest:        true,
	}

	if hasPrev {
		if err := rl.releases.SetLatest(ctx, prev.ID, false); err != nil {
			return domain.Release{}, errs.Wrap(err, errs.InternalError, "clear previous latest release")
		}
	}
	if err := rl.releases.Save(ctx, release); err != nil {
		return domain.Release{}, errs.Wrap(err, errs.InternalError, "save release")
	}
	for _, r := range ordered {
		if err := rl.rules.Transition(ctx, r.ID, domain.RulePublished, nil, false); err != nil {
			return domain.Release{}, errs.Wrap(err, errs.InternalError, "publish rule "+r.ID)
		}
		rl.emitRuleAudit(ctx, audit.EventRulePublished, r.ID, corr, map[string]any{"conceptSlug": r.ConceptSlug, "releaseId": release.ID})
	}

	rl.emitAudit(ctx, audit.EventReleasePublished, release.ID, corr, map[string]any{"version": version, "ruleCount": len(ordered)})
	metrics.RecordRelease(string(release.ReleaseType))
	rl.fireAndForget(ctx, release)
	return release, nil
}

// evidenceChainViolations walks every backing CandidateFact's grounding
// quotes and classifies each as orphaned_pointer (Evidence missing),
// hash_mismatch (stored ContentHash no longer matches the recomputed hash
// of RawBytes, i.e. the row was tampered with after capture), or a quote
// match type from exact down to fuzzy, rejecting a match type the rule's
// risk tier does not tolerate.
func (rl *Releaser) evidenceChainViolations(ctx context.Context, rules []domain.Rule) ([]GateViolation, error) {
	var violations []GateViolation
	evidenceCache := map[string]domain.Evidence{}

	for _, r := range rules {
		facts, err := rl.facts.ListByIDs(ctx, r.BackingCandidateFactIDs)
		if err != nil {
			return nil, errs.Wrap(err, errs.InternalError, "load backing facts for "+r.ID)
		}
		for _, f := range facts {
			for _, gq := range f.GroundingQuotes {
				ev, ok := evidenceCache[gq.EvidenceID]
				if !ok {
					loaded, found, err := rl.evidence.Get(ctx, gq.EvidenceID)
					if err != nil {
						return nil, errs.Wrap(err, errs.InternalError, "load evidence "+gq.EvidenceID)
					}
					if !found {
						violations = append(violations, GateViolation{RuleID: r.ID, Slug: r.ConceptSlug, Code: "orphaned_pointer", Detail: "evidence " + gq.EvidenceID + " not found"})
						continue
					}
					ev = loaded
					evidenceCache[gq.EvidenceID] = ev
				}

				if recomputed := hashing.EvidenceHash(ev.RawBytes, ev.ContentType); recomputed != ev.ContentHash {
					violations = append(violations, GateViolation{RuleID: r.ID, Slug: r.ConceptSlug, Code: "hash_mismatch", Detail: "evidence " + ev.ID + " content hash no longer matches its bytes"})
					continue
				}

				match := classifyMatch(ev.ExtractableText(), gq.Text)
				if match == "" {
					violations = append(violations, GateViolation{RuleID: r.ID, Slug: r.ConceptSlug, Code: "quote_not_found", Detail: "quote not found in evidence " + ev.ID})
					continue
				}
				if !acceptableMatch(r.RiskTier, match) {
					violations = append(violations, GateViolation{RuleID: r.ID, Slug: r.ConceptSlug, Code: "quote_match_unacceptable", Detail: match + " match insufficient for tier " + string(r.RiskTier)})
				}
			}
		}
	}
	return violations, nil
}

// classifyMatch reports how strongly needle is grounded in haystack:
// "exact" (normalized substring), "whitespace_collapsed" (substring once
// runs of whitespace collapse to one space), "case_insensitive", "fuzzy"
// (word-set overlap), or "" when no match is found at all.
func classifyMatch(haystack, needle string) string {
	normHay := quote.Normalize(haystack)
	normNeedle := quote.Normalize(needle)
	if strings.Contains(normHay, normNeedle) {
		return "exact"
	}
	collapsedHay := collapseWhitespace(normHay)
	collapsedNeedle := collapseWhitespace(normNeedle)
	if strings.Contains(collapsedHay, collapsedNeedle) {
		return "whitespace_collapsed"
	}
	if strings.Contains(strings.ToLower(collapsedHay), strings.ToLower(collapsedNeedle)) {
		return "case_insensitive"
	}
	if fuzzyOverlap(collapsedHay, collapsedNeedle) >= 0.8 {
		return "fuzzy"
	}
	return ""
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// fuzzyOverlap returns the Jaccard overlap of needle's words against
// haystack's word set, as a coarse last-resort similarity measure.
func fuzzyOverlap(haystack, needle string) float64 {
	needleWords := strings.Fields(strings.ToLower(needle))
	if len(needleWords) == 0 {
		return 0
	}
	haySet := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(haystack)) {
		haySet[w] = true
	}
	hit := 0
	for _, w := range needleWords {
		if haySet[w] {
			hit++
		}
	}
	return float64(hit) / float64(len(needleWords))
}

// acceptableMatch applies the risk-tier-dependent match-type ladder:
// T0/T1 (strict) only tolerate exact or whitespace-collapsed matches;
// T2/T3 also tolerate case-insensitive and fuzzy matches. Fuzzy never
// suffices for T0/T1.
func acceptableMatch(tier domain.RiskTier, match string) bool {
	switch match {
	case "exact", "whitespace_collapsed":
		return true
	case "case_insensitive":
		return !tier.RequiresApprover()
	case "fuzzy":
		return !tier.RequiresApprover()
	default:
		return false
	}
}

// deriveReleaseType picks the strictest bump any rule in the batch demands:
// any T0 rule forces a major release, else any T1 forces minor, else patch.
func deriveReleaseType(rules []domain.Rule) domain.ReleaseType {
	hasT0, hasT1 := false, false
	for _, r := range rules {
		switch r.RiskTier {
		case domain.TierT0:
			hasT0 = true
		case domain.TierT1:
			hasT1 = true
		}
	}
	switch {
	case hasT0:
		return domain.ReleaseMajor
	case hasT1:
		return domain.ReleaseMinor
	default:
		return domain.ReleasePatch
	}
}

type semver struct{ major, minor, patch int }

func parseSemver(s string) (semver, bool) {
	m := semverRe.FindStringSubmatch(s)
	if m == nil {
		return semver{}, false
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	patch, _ := strconv.Atoi(m[3])
	return semver{major, minor, patch}, true
}

func (v semver) bump(t domain.ReleaseType) semver {
	switch t {
	case domain.ReleaseMajor:
		return semver{v.major + 1, 0, 0}
	case domain.ReleaseMinor:
		return semver{v.major, v.minor + 1, 0}
	default:
		return semver{v.major, v.minor, v.patch + 1}
	}
}

func (v semver) String() string {
	return fmt.Sprintf("%d.%d.%d", v.major, v.minor, v.patch)
}

// deriveVersion computes the authoritative next version. suggestedVersion
// is only honored when it parses as bare semver and equals exactly the
// server-derived bump of the previous release; any other value (malformed,
// a different bump, or absent) falls back to the derived version.
func deriveVersion(prev domain.Release, hasPrev bool, releaseType domain.ReleaseType, suggestedVersion string) string {
	base := semver{0, 0, 0}
	if hasPrev {
		if parsed, ok := parseSemver(prev.Version); ok {
			base = parsed
		}
	}
	derived := base.bump(releaseType)

	if suggested, ok := parseSemver(suggestedVersion); ok && suggested == derived {
		return suggested.String()
	}
	return derived.String()
}

func changelogFor(rules []domain.Rule) string {
	slugs := make([]string, 0, len(rules))
	for _, r := range rules {
		slugs = append(slugs, r.ConceptSlug)
	}
	return "Published: " + strings.Join(slugs, ", ")
}

func approversOf(rules []domain.Rule) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range rules {
		if r.ApprovedBy != nil && !seen[*r.ApprovedBy] {
			seen[*r.ApprovedBy] = true
			out = append(out, *r.ApprovedBy)
		}
	}
	return out
}

// auditTrailFor counts distinct backing CandidateFacts, distinct Evidence
// rows they ground into, and reviewer/approval activity across the batch.
func (rl *Releaser) auditTrailFor(ctx context.Context, rules []domain.Rule) (domain.AuditTrail, error) {
	trail := domain.AuditTrail{}
	evidenceIDs := map[string]bool{}
	pointerIDs := map[string]bool{}
	for _, r := range rules {
		trail.ReviewCount++
		if r.ApprovedBy != nil {
			trail.HumanApprovals++
		}
		for _, factID := range r.BackingCandidateFactIDs {
			pointerIDs[factID] = true
		}

		facts, err := rl.facts.ListByIDs(ctx, r.BackingCandidateFactIDs)
		if err != nil {
			return domain.AuditTrail{}, errs.Wrap(err, errs.InternalError, "load backing facts for audit trail")
		}
		for _, f := range facts {
			for _, gq := range f.GroundingQuotes {
				evidenceIDs[gq.EvidenceID] = true
			}
		}
	}
	trail.SourcePointerCount = len(pointerIDs)
	trail.SourceEvidenceCount = len(evidenceIDs)
	return trail, nil
}

// fireAndForget triggers the embedding refresh and content-sync side
// effects. Both are best-effort: a failure is logged and never fails the
// release that already committed.
func (rl *Releaser) fireAndForget(ctx context.Context, release domain.Release) {
	if rl.embedQueue != nil {
		body := []byte(`{"releaseId":"` + release.ID + `"}`)
		if _, err := rl.embedQueue.Enqueue(ctx, "embedding-refresh", body, queue.EnqueueOptions{JobID: "embed-" + release.ID}); err != nil {
			rl.log.WithError(err).Warn("releaser: failed to enqueue embedding refresh")
		}
	}
	if rl.contentSync != nil {
		if err := rl.contentSync.EmitReleasePublished(ctx, release); err != nil {
			rl.log.WithError(err).Warn("releaser: failed to emit content-sync event")
		}
	}
}

// Rollback reverses the latest release: every rule it published is
// transitioned PUBLISHED -> APPROVED (bypass=true, the only legal path
// back), except rules that also belong to the immediately preceding
// release, which stay PUBLISHED since they never stopped being current.
// Only the single latest release is ever rollback-eligible.
func (rl *Releaser) Rollback(ctx context.Context, releaseID string, corr domain.Correlation) error {
	target, found, err := rl.releases.Get(ctx, releaseID)
	if err != nil {
		return errs.Wrap(err, errs.InternalError, "load release")
	}
	if !found {
		return errs.New(errs.NotFound, "release not found")
	}
	latest, hasLatest, err := rl.releases.Latest(ctx)
	if err != nil {
		return errs.Wrap(err, errs.InternalError, "load latest release")
	}
	if !hasLatest || latest.ID != target.ID {
		return errs.New(errs.ValidationError, "only the latest release can be rolled back")
	}

	prev, hasPrev, err := rl.releases.Previous(ctx, target)
	if err != nil {
		return errs.Wrap(err, errs.InternalError, "load previous release")
	}
	stillPublished := map[string]bool{}
	if hasPrev {
		for _, id := range prev.RuleIDs {
			stillPublished[id] = true
		}
	}

	rollbackCorr := corr
	rollbackCorr.SourceSlug = "rollback"
	for _, ruleID := range target.RuleIDs {
		if stillPublished[ruleID] {
			continue
		}
		if err := rl.rules.Transition(ctx, ruleID, domain.RuleApproved, nil, true); err != nil {
			return errs.Wrap(err, errs.InternalError, "rollback rule "+ruleID)
		}
		rl.emitRuleAudit(ctx, audit.EventRuleRollback, ruleID, rollbackCorr, map[string]any{"releaseId": target.ID})
	}

	if hasPrev {
		if err := rl.releases.SetLatest(ctx, prev.ID, true); err != nil {
			return errs.Wrap(err, errs.InternalError, "restore previous latest release")
		}
	}
	if err := rl.releases.SetLatest(ctx, target.ID, false); err != nil {
		return errs.Wrap(err, errs.InternalError, "detach rolled-back release")
	}

	rl.emitAudit(ctx, audit.EventReleaseRolledBack, target.ID, rollbackCorr, map[string]any{"ruleCount": len(target.RuleIDs)})
	return nil
}

func (rl *Releaser) emitRuleAudit(ctx context.Context, eventType, ruleID string, corr domain.Correlation, data any) {
	if rl.auditLog == nil {
		return
	}
	ev, err := audit.NewEvent(eventType, "pipeline", eventType, "SUCCESS", "system", "releaser", "Rule", ruleID, corr.RunID, data)
	if err != nil {
		rl.log.WithError(err).Warn("releaser: failed to build audit event")
		return
	}
	if err := rl.auditLog.Write(ctx, ev); err != nil {
		rl.log.WithError(err).Warn("releaser: failed to write audit event")
	}
}

func (rl *Releaser) emitAudit(ctx context.Context, eventType, resourceID string, corr domain.Correlation, data any) {
	if rl.auditLog == nil {
		return
	}
	ev, err := audit.NewEvent(eventType, "pipeline", eventType, "SUCCESS", "system", "releaser", "Release", resourceID, corr.RunID, data)
	if err != nil {
		rl.log.WithError(err).Warn("releaser: failed to build audit event")
		return
	}
	if err := rl.auditLog.Write(ctx, ev); err != nil {
		rl.log.WithError(err).Warn("releaser: failed to write audit event")
	}
}
