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

// Package store defines the repository boundary every other component
// persists through: typed interfaces over Evidence, CandidateFact, Rule,
// Conflict, and Release persistence, plus the single canonical
// progress-gate query the watchdog's inter-stage checks read from.
// pkg/store/postgres implements these against a real database;
// pkg/store/memstore is the in-memory double used by component tests.
package store

import (
	"context"
	"time"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/domain"
)

// EvidenceRepository persists and retrieves Evidence rows. Evidence is
// append-only: Save must not overwrite an existing ContentHash, which is
// immutable once written.
type EvidenceRepository interface {
	Save(ctx context.Context, e domain.Evidence) error
	Get(ctx context.Context, id string) (domain.Evidence, bool, error)
	// FindByContentHash supports the re-fetch dedup rule: a re-fetch that
	// hashes identically does not create a new Evidence row.
	FindByContentHash(ctx context.Context, hash string) (domain.Evidence, bool, error)
	// ListBySource returns Evidence rows for a source, most recent first,
	// for the watchdog's stale-source check.
	ListBySource(ctx context.Context, sourceID string, limit int) ([]domain.Evidence, error)
	// SourceSummaries aggregates, per distinct SourceID, the most recent
	// FetchedAt plus the total/empty-content Evidence counts fetched within
	// window, backing the watchdog's stale-source and scraper-failure-rate
	// checks from a single query.
	SourceSummaries(ctx context.Context, window time.Duration) ([]SourceEvidenceSummary, error)
}

// SourceEvidenceSummary is one source's aggregated Evidence health over a
// trailing window.
type SourceEvidenceSummary struct {
	SourceID      string
	LastFetchedAt time.Time
	TotalInWindow int
	EmptyInWindow int
}

// CandidateFactRepository persists CandidateFacts and their dead-lettered
// rejections.
type CandidateFactRepository interface {
	Save(ctx context.Context, f domain.CandidateFact) error
	Get(ctx context.Context, id string) (domain.CandidateFact, bool, error)
	// ListByIDs loads a specific set, preserving none of the LLM's ordering
	// assumptions (callers that need insertion order track ids themselves).
	ListByIDs(ctx context.Context, ids []string) ([]domain.CandidateFact, error)
	// ListUngrouped returns CandidateFacts not yet linked to any Rule,
	// grouped by Domain, for the Composer's batch mode.
	ListUngrouped(ctx context.Context, limit int) ([]domain.CandidateFact, error)
	SetStatus(ctx context.Context, id string, status domain.CandidateFactStatus) error
	SaveRejection(ctx context.Context, r domain.RejectedExtraction) error
	SaveCoverageReport(ctx context.Context, r domain.CoverageReport) error
	// EvidenceIDsWithFacts returns the set of Evidence ids already linked to
	// at least one CandidateFact, for the Extractor's batch-mode "skip
	// already-linked evidence" rule.
	EvidenceIDsWithFacts(ctx context.Context) (map[string]bool, error)
}

// RuleRepository persists Rules and their status transitions.
type RuleRepository interface {
	Save(ctx context.Context, r domain.Rule) error
	Get(ctx context.Context, id string) (domain.Rule, bool, error)
	ListByIDs(ctx context.Context, ids []string) ([]domain.Rule, error)
	// ListByStatus supports the Releaser's "collect APPROVED rules".
	ListByStatus(ctx context.Context, status domain.RuleStatus) ([]domain.Rule, error)
	// CountByStatusSince supports the watchdog's rejection-rate query:
	// REJECTED / (APPROVED + REJECTED) transitions recorded since a cutoff.
	CountByStatusSince(ctx context.Context, status domain.RuleStatus, since time.Time) (int, error)
	// MeanConfidenceSince supports the watchdog's quality-degradation check
	// (mean Rule.confidence over the trailing window).
	MeanConfidenceSince(ctx context.Context, since time.Time) (mean float64, n int, err error)
	// Transition applies a status change under row-level serialization;
	// bypass mirrors domain.TransitionAllowed's rollback parameter.
	Transition(ctx context.Context, id string, to domain.RuleStatus, approvedBy *string, bypass bool) error
	UpsertConcept(ctx context.Context, conceptSlug, titleHr, titleEn string) error
	LinkAmends(ctx context.Context, ruleID, supersedesID string) error
}

// ConflictRepository persists Conflicts.
type ConflictRepository interface {
	Save(ctx context.Context, c domain.Conflict) (domain.Conflict, error)
	Get(ctx context.Context, id string) (domain.Conflict, bool, error)
	// OpenForRule reports whether ruleID has any OPEN conflict (release
	// gate 3).
	OpenForRule(ctx context.Context, ruleID string) (bool, error)
	ListByStatus(ctx context.Context, status domain.ConflictStatus) ([]domain.Conflict, error)
	SetStatus(ctx context.Context, id string, status domain.ConflictStatus) error
}

// ReleaseRepository persists Releases and tracks the single "latest"
// release rollback may target.
type ReleaseRepository interface {
	Save(ctx context.Context, r domain.Release) error
	Get(ctx context.Context, id string) (domain.Release, bool, error)
	GetByVersion(ctx context.Context, version string) (domain.Release, bool, error)
	Latest(ctx context.Context) (domain.Release, bool, error)
	// Previous returns the release immediately preceding r by ReleasedAt,
	// used by rollback to decide which rules stay PUBLISHED.
	Previous(ctx context.Context, r domain.Release) (domain.Release, bool, error)
	// SetLatest sets or clears id's latest flag (rollback clears it and
	// leaves the row as a historical record).
	SetLatest(ctx context.Context, id string, latest bool) error
}

// ProgressGateQuery is the single canonical backing query the watchdog
// reads its three inter-stage progress gates from (Open Question
// resolution: one store, not the legacy SourcePointer-vs-CandidateFact
// split).
type ProgressGateQuery interface {
	// StaleEvidenceWithoutFacts counts Evidence fetched more than olderThan
	// ago with zero linked CandidateFacts.
	StaleEvidenceWithoutFacts(ctx context.Context, olderThan time.Duration) (int, error)
	// StaleFactsWithoutRule counts CandidateFacts created more than
	// olderThan ago not backing any Rule.
	StaleFactsWithoutRule(ctx context.Context, olderThan time.Duration) (int, error)
	// StaleApprovedWithoutRelease counts Rules APPROVED more than olderThan
	// ago with no Release membership.
	StaleApprovedWithoutRelease(ctx context.Context, olderThan time.Duration) (int, error)
}

// AlertRepository persists watchdog Alerts and backs its dedup window.
// LastRaised reports when (alertType, entityId) last fired so the watchdog
// can suppress a repeat within the configured window; Upsert
// records a fresh occurrence, incrementing Occurrences and bumping
// LastSeenAt when the row already exists instead of inserting a duplicate.
type AlertRepository interface {
	Upsert(ctx context.Context, a domain.Alert) error
	LastRaised(ctx context.Context, alertType, entityID string) (domain.Alert, bool, error)
}

// AgentRunRepository persists AgentRun rows; satisfies llmrunner.AgentRunStore.
type AgentRunRepository interface {
	Save(ctx context.Context, run domain.AgentRun) error
	Get(ctx context.Context, id string) (domain.AgentRun, bool, error)
}

// Repositories bundles every repository the store exposes, so components that need
// the whole store (the CLI entry points, the watchdog) can take one
// constructor argument instead of eight.
type Repositories struct {
	Evidence      EvidenceRepository
	Facts         CandidateFactRepository
	Rules         RuleRepository
	Conflicts     ConflictRepository
	Releases      ReleaseRepository
	AgentRuns     AgentRunRepository
	ProgressGates ProgressGateQuery
	Alerts        AlertRepository
}
