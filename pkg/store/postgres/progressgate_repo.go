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

package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jmoiron/sqlx"
)

// ProgressGateRepository is the single canonical Postgres-backed
// store.ProgressGateQuery:
// all three gates query Evidence/CandidateFact/Rule linkage directly rather
// than through a legacy SourcePointer table.
type ProgressGateRepository struct {
	db *sqlx.DB
}

func NewProgressGateRepository(db *sqlx.DB) *ProgressGateRepository {
	return &ProgressGateRepository{db: db}
}

func (r *ProgressGateRepository) StaleEvidenceWithoutFacts(ctx context.Context, olderThan time.Duration) (int, error) {
	const q = `
SELECT count(*) FROM evidence e
WHERE e.fetched_at < $1
  AND NOT EXISTS (
    SELECT 1 FROM candidate_facts cf, jsonb_array_elements(cf.grounding_quotes) AS gq
    WHERE gq->>'EvidenceID' = e.id
  )`
	var n int
	if err := r.db.GetContext(ctx, &n, q, time.Now().Add(-olderThan)); err != nil {
		return 0, errors.Wrap(err, "count stale evidence without facts")
	}
	return n, nil
}

func (r *ProgressGateRepository) StaleFactsWithoutRule(ctx context.Context, olderThan time.Duration) (int, error) {
	const q = `
SELECT count(*) FROM candidate_facts cf
WHERE cf.created_at < $1
  AND NOT EXISTS (SELECT 1 FROM rules r WHERE r.backing_fact_ids @> to_jsonb(cf.id::text))`
	var n int
	if err := r.db.GetContext(ctx, &n, q, time.Now().Add(-olderThan)); err != nil {
		return 0, errors.Wrap(err, "count stale facts without rule")
	}
	return n, nil
}

func (r *ProgressGateRepository) StaleApprovedWithoutRelease(ctx context.Context, olderThan time.Duration) (int, error) {
	const q = `
SELECT count(*) FROM rules r
WHERE r.status = 'APPROVED' AND r.status_changed_at < $1
  AND NOT EXISTS (
    SELECT 1 FROM releases rel WHERE r.id = ANY(rel.rule_ids)
  )`
	var n int
	if err := r.db.GetContext(ctx, &n, q, time.Now().Add(-olderThan)); err != nil {
		return 0, errors.Wrap(err, "count stale approved rules without release")
	}
	return n, nil
}
