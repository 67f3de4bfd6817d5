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

// Package memstore is an in-memory implementation of every pkg/store
// repository interface, used by component tests and by single-process runs
// that have no Postgres configured. It holds the same invariants as
// pkg/store/postgres (append-only Evidence, DAG-checked Rule transitions)
// without a database round-trip.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/domain"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/errs"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/store"
)

// Store bundles in-memory implementations of every repository interface
// behind a single mutex, which is sufficient for the worker-pool
// concurrency levels of the stage pools.
type Store struct {
	mu sync.Mutex

	evidence      map[string]domain.Evidence
	evidenceByHash map[string]string // contentHash -> evidence id

	facts       map[string]domain.CandidateFact
	rejections  []domain.RejectedExtraction
	coverage    map[string]domain.CoverageReport

	rules    map[string]domain.Rule
	concepts map[string]struct{ TitleHr, TitleEn string }
	amends   map[string]string // ruleID -> supersedesID

	conflicts map[string]domain.Conflict

	releases   map[string]domain.Release
	byVersion  map[string]string
	latestID   string

	agentRuns map[string]domain.AgentRun
	alerts    map[string]domain.Alert // key: checkName + "\x00" + entityID, most recent

	now func() time.Time
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		evidence:       make(map[string]domain.Evidence),
		evidenceByHash: make(map[string]string),
		facts:          make(map[string]domain.CandidateFact),
		coverage:       make(map[string]domain.CoverageReport),
		rules:          make(map[string]domain.Rule),
		concepts:       make(map[string]struct{ TitleHr, TitleEn string }),
		amends:         make(map[string]string),
		conflicts:      make(map[string]domain.Conflict),
		releases:       make(map[string]domain.Release),
		byVersion:      make(map[string]string),
		agentRuns:      make(map[string]domain.AgentRun),
		alerts:         make(map[string]domain.Alert),
		now:            time.Now,
	}
}

// Repositories exposes this Store through the store.Repositories bundle.
func (s *Store) Repositories() store.Repositories {
	return store.Repositories{
		Evidence:      EvidenceRepo{s},
		Facts:         FactsRepo{s},
		Rules:         RulesRepo{s},
		Conflicts:     ConflictsRepo{s},
		Releases:      ReleasesRepo{s},
		AgentRuns:     AgentRunsRepo{s},
		ProgressGates: ProgressGatesRepo{s},
		Alerts:        AlertsRepo{s},
	}
}

// --- Evidence ---

type EvidenceRepo struct{ s *Store }

func (r EvidenceRepo) Save(_ context.Context, e domain.Evidence) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.evidence[e.ID]; ok && existing.ContentHash != "" && existing.ContentHash != e.ContentHash {
		return errs.New(errs.ValidationError, "evidence content hash is immutable once written")
	}
	r.s.evidence[e.ID] = e
	if e.ContentHash != "" {
		r.s.evidenceByHash[e.ContentHash] = e.ID
	}
	return nil
}

func (r EvidenceRepo) Get(_ context.Context, id string) (domain.Evidence, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.evidence[id]
	return e, ok, nil
}

func (r EvidenceRepo) FindByContentHash(_ context.Context, hash string) (domain.Evidence, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.evidenceByHash[hash]
	if !ok {
		return domain.Evidence{}, false, nil
	}
	return r.s.evidence[id], true, nil
}

func (r EvidenceRepo) ListBySource(_ context.Context, sourceID string, limit int) ([]domain.Evidence, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Evidence
	for _, e := range r.s.evidence {
		if e.SourceID == sourceID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FetchedAt.After(out[j].FetchedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r EvidenceRepo) SourceSummaries(_ context.Context, window time.Duration) ([]store.SourceEvidenceSummary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cutoff := r.s.now().Add(-window)
	bySource := map[string]*store.SourceEvidenceSummary{}
	for _, e := range r.s.evidence {
		sum, ok := bySource[e.SourceID]
		if !ok {
			sum = &store.SourceEvidenceSummary{SourceID: e.SourceID}
			bySource[e.SourceID] = sum
		}
		if e.FetchedAt.After(sum.LastFetchedAt) {
			sum.LastFetchedAt = e.FetchedAt
		}
		if e.FetchedAt.After(cutoff) {
			sum.TotalInWindow++
			if e.ExtractableText() == "" {
				sum.EmptyInWindow++
			}
		}
	}
	out := make([]store.SourceEvidenceSummary, 0, len(bySource))
	for _, sum := range bySource {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out, nil
}

// --- CandidateFacts ---

type FactsRepo struct{ s *Store }

func (r FactsRepo) Save(_ context.Context, f domain.CandidateFact) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = r.s.now()
	}
	r.s.facts[f.ID] = f
	return nil
}

func (r FactsRepo) Get(_ context.Context, id string) (domain.CandidateFact, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.facts[id]
	return f, ok, nil
}

func (r FactsRepo) ListByIDs(_ context.Context, ids []string) ([]domain.CandidateFact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.CandidateFact, 0, len(ids))
	for _, id := range ids {
		if f, ok := r.s.facts[id]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r FactsRepo) ListUngrouped(_ context.Context, limit int) ([]domain.CandidateFact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	linked := r.linkedFactIDsLocked()
	var out []domain.CandidateFact
	for id, f := range r.s.facts {
		if !linked[id] {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r FactsRepo) linkedFactIDsLocked() map[string]bool {
	linked := make(map[string]bool)
	for _, rule := range r.s.rules {
		for _, id := range rule.BackingCandidateFactIDs {
			linked[id] = true
		}
	}
	return linked
}

func (r FactsRepo) SetStatus(_ context.Context, id string, status domain.CandidateFactStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.facts[id]
	if !ok {
		return errs.New(errs.NotFound, "candidate fact not found")
	}
	f.Status = status
	r.s.facts[id] = f
	return nil
}

func (r FactsRepo) SaveRejection(_ context.Context, rej domain.RejectedExtraction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.rejections = append(r.s.rejections, rej)
	return nil
}

func (r FactsRepo) SaveCoverageReport(_ context.Context, rep domain.CoverageReport) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.coverage[rep.EvidenceID] = rep
	return nil
}

func (r FactsRepo) EvidenceIDsWithFacts(_ context.Context) (map[string]bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[string]bool)
	for _, f := range r.s.facts {
		for _, q := range f.GroundingQuotes {
			out[q.EvidenceID] = true
		}
	}
	return out, nil
}

// Rejections exposes the dead-lettered extractions recorded so far, for
// tests that assert on rejection reasons.
func (s *Store) Rejections() []domain.RejectedExtraction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RejectedExtraction, len(s.rejections))
	copy(out, s.rejections)
	return out
}

// --- Rules ---

type RulesRepo struct{ s *Store }

func (r RulesRepo) Save(_ context.Context, rule domain.Rule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = r.s.now()
	}
	if rule.StatusChangedAt.IsZero() {
		rule.StatusChangedAt = rule.CreatedAt
	}
	r.s.rules[rule.ID] = rule
	return nil
}

func (r RulesRepo) Get(_ context.Context, id string) (domain.Rule, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rule, ok := r.s.rules[id]
	return rule, ok, nil
}

func (r RulesRepo) ListByIDs(_ context.Context, ids []string) ([]domain.Rule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.Rule, 0, len(ids))
	for _, id := range ids {
		if rule, ok := r.s.rules[id]; ok {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (r RulesRepo) ListByStatus(_ context.Context, status domain.RuleStatus) ([]domain.Rule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Rule
	for _, rule := range r.s.rules {
		if rule.Status == status {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r RulesRepo) CountByStatusSince(_ context.Context, status domain.RuleStatus, since time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, rule := range r.s.rules {
		if rule.Status == status && !rule.StatusChangedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r RulesRepo) MeanConfidenceSince(_ context.Context, since time.Time) (float64, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var sum float64
	var n int
	for _, rule := range r.s.rules {
		if rule.CreatedAt.Before(since) {
			continue
		}
		sum += rule.Confidence
		n++
	}
	if n == 0 {
		return 0, 0, nil
	}
	return sum / float64(n), n, nil
}

func (r RulesRepo) Transition(_ context.Context, id string, to domain.RuleStatus, approvedBy *string, bypass bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rule, ok := r.s.rules[id]
	if !ok {
		return errs.New(errs.NotFound, "rule not found")
	}
	if !domain.TransitionAllowed(rule.Status, to, bypass) {
		return errs.New(errs.ValidationError, "illegal rule status transition "+string(rule.Status)+" -> "+string(to))
	}
	rule.Status = to
	rule.StatusChangedAt = r.s.now()
	if approvedBy != nil {
		rule.ApprovedBy = approvedBy
	}
	r.s.rules[id] = rule
	return nil
}

func (r RulesRepo) UpsertConcept(_ context.Context, conceptSlug, titleHr, titleEn string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.concepts[conceptSlug] = struct{ TitleHr, TitleEn string }{titleHr, titleEn}
	return nil
}

func (r RulesRepo) LinkAmends(_ context.Context, ruleID, supersedesID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.amends[ruleID] = supersedesID
	return nil
}

// --- Conflicts ---

type ConflictsRepo struct{ s *Store }

func (r ConflictsRepo) Save(_ context.Context, c domain.Conflict) (domain.Conflict, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.conflicts[c.ID] = c
	return c, nil
}

func (r ConflictsRepo) Get(_ context.Context, id string) (domain.Conflict, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conflicts[id]
	return c, ok, nil
}

func (r ConflictsRepo) OpenForRule(_ context.Context, ruleID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.conflicts {
		if c.Status != domain.ConflictOpen {
			continue
		}
		if c.ItemAID == ruleID || c.ItemBID == ruleID {
			return true, nil
		}
	}
	return false, nil
}

func (r ConflictsRepo) ListByStatus(_ context.Context, status domain.ConflictStatus) ([]domain.Conflict, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Conflict
	for _, c := range r.s.conflicts {
		if c.Status == status {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r ConflictsRepo) SetStatus(_ context.Context, id string, status domain.ConflictStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conflicts[id]
	if !ok {
		return errs.New(errs.NotFound, "conflict not found")
	}
	c.Status = status
	r.s.conflicts[id] = c
	return nil
}

// --- Releases ---

type ReleasesRepo struct{ s *Store }

func (r ReleasesRepo) Save(_ context.Context, rel domain.Release) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.releases[rel.ID] = rel
	r.s.byVersion[rel.Version] = rel.ID
	if rel.Latest {
		r.s.latestID = rel.ID
	}
	return nil
}

func (r ReleasesRepo) Get(_ context.Context, id string) (domain.Release, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rel, ok := r.s.releases[id]
	return rel, ok, nil
}

func (r ReleasesRepo) GetByVersion(_ context.Context, version string) (domain.Release, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.byVersion[version]
	if !ok {
		return domain.Release{}, false, nil
	}
	return r.s.releases[id], true, nil
}

func (r ReleasesRepo) Latest(_ context.Context) (domain.Release, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.latestID == "" {
		return domain.Release{}, false, nil
	}
	return r.s.releases[r.s.latestID], true, nil
}

func (r ReleasesRepo) Previous(_ context.Context, rel domain.Release) (domain.Release, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var best domain.Release
	found := false
	for _, candidate := range r.s.releases {
		if candidate.ID == rel.ID || !candidate.ReleasedAt.Before(rel.ReleasedAt) {
			continue
		}
		if !found || candidate.ReleasedAt.After(best.ReleasedAt) {
			best = candidate
			found = true
		}
	}
	return best, found, nil
}

func (r ReleasesRepo) SetLatest(_ context.Context, id string, latest bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rel, ok := r.s.releases[id]
	if !ok {
		return errs.New(errs.NotFound, "release not found")
	}
	rel.Latest = latest
	r.s.releases[id] = rel
	if latest {
		r.s.latestID = id
	} else if r.s.latestID == id {
		r.s.latestID = ""
	}
	return nil
}

// --- AgentRuns ---

type AgentRunsRepo struct{ s *Store }

func (r AgentRunsRepo) Save(_ context.Context, run domain.AgentRun) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.agentRuns[run.ID] = run
	return nil
}

func (r AgentRunsRepo) Get(_ context.Context, id string) (domain.AgentRun, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	run, ok := r.s.agentRuns[id]
	return run, ok, nil
}

// --- Progress gates ---

type ProgressGatesRepo struct{ s *Store }

func (r ProgressGatesRepo) StaleEvidenceWithoutFacts(_ context.Context, olderThan time.Duration) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	hasFacts := make(map[string]bool)
	for _, f := range r.s.facts {
		for _, q := range f.GroundingQuotes {
			hasFacts[q.EvidenceID] = true
		}
	}
	cutoff := r.s.now().Add(-olderThan)
	n := 0
	for _, e := range r.s.evidence {
		if e.FetchedAt.Before(cutoff) && !hasFacts[e.ID] {
			n++
		}
	}
	return n, nil
}

func (r ProgressGatesRepo) StaleFactsWithoutRule(_ context.Context, olderThan time.Duration) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	linked := FactsRepo{r.s}.linkedFactIDsLocked()
	cutoff := r.s.now().Add(-olderThan)
	n := 0
	for id, f := range r.s.facts {
		if linked[id] {
			continue
		}
		if f.CreatedAt.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

func (r ProgressGatesRepo) StaleApprovedWithoutRelease(_ context.Context, olderThan time.Duration) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	released := make(map[string]bool)
	for _, rel := range r.s.releases {
		for _, id := range rel.RuleIDs {
			released[id] = true
		}
	}
	cutoff := r.s.now().Add(-olderThan)
	n := 0
	for id, rule := range r.s.rules {
		if rule.Status == domain.RuleApproved && !released[id] && rule.StatusChangedAt.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

// --- Alerts ---

type AlertsRepo struct{ s *Store }

func alertKey(alertType, entityID string) string { return alertType + "\x00" + entityID }

func (r AlertsRepo) Upsert(_ context.Context, a domain.Alert) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := alertKey(a.AlertType, a.EntityID)
	if existing, ok := r.s.alerts[key]; ok {
		existing.Severity = a.Severity
		existing.Message = a.Message
		existing.Occurrences++
		existing.LastSeenAt = a.LastSeenAt
		r.s.alerts[key] = existing
		return nil
	}
	if a.Occurrences == 0 {
		a.Occurrences = 1
	}
	r.s.alerts[key] = a
	return nil
}

func (r AlertsRepo) LastRaised(_ context.Context, alertType, entityID string) (domain.Alert, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.alerts[alertKey(alertType, entityID)]
	return a, ok, nil
}
