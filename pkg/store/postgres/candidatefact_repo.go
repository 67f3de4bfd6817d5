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
	"database/sql"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/jmoiron/sqlx"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/domain"
)

// CandidateFactRepository is the Postgres-backed store.CandidateFactRepository.
type CandidateFactRepository struct {
	db *sqlx.DB
}

func NewCandidateFactRepository(db *sqlx.DB) *CandidateFactRepository {
	return &CandidateFactRepository{db: db}
}

type factRow struct {
	ID                 string    `db:"id"`
	Domain             string    `db:"domain"`
	ValueType          string    `db:"value_type"`
	ExtractedValue     string    `db:"extracted_value"`
	GroundingQuotes    []byte    `db:"grounding_quotes"`
	ValueConfidence    float64   `db:"value_confidence"`
	OverallConfidence  float64   `db:"overall_confidence"`
	Status             string    `db:"status"`
	PromotionCandidate bool      `db:"promotion_candidate"`
	CreatedAt          time.Time `db:"created_at"`
}

func (row factRow) toDomain() (domain.CandidateFact, error) {
	var quotes []domain.GroundingQuote
	if len(row.GroundingQuotes) > 0 {
		if err := json.Unmarshal(row.GroundingQuotes, &quotes); err != nil {
			return domain.CandidateFact{}, errors.Wrap(err, "decode grounding quotes")
		}
	}
	return domain.CandidateFact{
		ID: row.ID, Domain: row.Domain, ValueType: domain.ValueType(row.ValueType),
		ExtractedValue: row.ExtractedValue, GroundingQuotes: quotes,
		ValueConfidence: row.ValueConfidence, OverallConfidence: row.OverallConfidence,
		Status: domain.CandidateFactStatus(row.Status), PromotionCandidate: row.PromotionCandidate,
		CreatedAt: row.CreatedAt,
	}, nil
}

func (r *CandidateFactRepository) Save(ctx context.Context, f domain.CandidateFact) error {
	quotes, err := json.Marshal(f.GroundingQuotes)
	if err != nil {
		return errors.Wrap(err, "encode grounding quotes")
	}
	const q = `
INSERT INTO candidate_facts (id, domain, value_type, extracted_value, grounding_quotes, value_confidence, overall_confidence, status, promotion_candidate)
VALUES (:id, :domain, :value_type, :extracted_value, :grounding_quotes, :value_confidence, :overall_confidence, :status, :promotion_candidate)
ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, promotion_candidate = EXCLUDED.promotion_candidate`
	_, err = r.db.NamedExecContext(ctx, q, struct {
		factRow
		GroundingQuotes []byte `db:"grounding_quotes"`
	}{
		factRow: factRow{
			ID: f.ID, Domain: f.Domain, ValueType: string(f.ValueType), ExtractedValue: f.ExtractedValue,
			ValueConfidence: f.ValueConfidence, OverallConfidence: f.OverallConfidence,
			Status: string(f.Status), PromotionCandidate: f.PromotionCandidate,
		},
		GroundingQuotes: quotes,
	})
	if err != nil {
		return errors.Wrap(err, "insert candidate fact")
	}
	return nil
}

func (r *CandidateFactRepository) Get(ctx context.Context, id string) (domain.CandidateFact, bool, error) {
	var row factRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM candidate_facts WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return domain.CandidateFact{}, false, nil
	}
	if err != nil {
		return domain.CandidateFact{}, false, errors.Wrap(err, "get candidate fact")
	}
	f, err := row.toDomain()
	return f, true, err
}

func (r *CandidateFactRepository) ListByIDs(ctx context.Context, ids []string) ([]domain.CandidateFact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM candidate_facts WHERE id IN (?)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "build IN query")
	}
	query = r.db.Rebind(query)
	var rows []factRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "list candidate facts by ids")
	}
	return factsFromRows(rows)
}

func (r *CandidateFactRepository) ListUngrouped(ctx context.Context, limit int) ([]domain.CandidateFact, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT cf.* FROM candidate_facts cf
WHERE NOT EXISTS (
  SELECT 1 FROM rules r WHERE r.backing_fact_ids @> to_jsonb(cf.id::text)
)
ORDER BY cf.domain, cf.id
LIMIT $1`
	var rows []factRow
	if err := r.db.SelectContext(ctx, &rows, q, limit); err != nil {
		return nil, errors.Wrap(err, "list ungrouped candidate facts")
	}
	return factsFromRows(rows)
}

func factsFromRows(rows []factRow) ([]domain.CandidateFact, error) {
	out := make([]domain.CandidateFact, 0, len(rows))
	for _, row := range rows {
		f, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (r *CandidateFactRepository) SetStatus(ctx context.Context, id string, status domain.CandidateFactStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE candidate_facts SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return errors.Wrap(err, "update candidate fact status")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.New("candidate fact not found")
	}
	return nil
}

func (r *CandidateFactRepository) SaveRejection(ctx context.Context, rej domain.RejectedExtraction) error {
	const q = `INSERT INTO rejected_extractions (id, evidence_id, reason, raw_output, detail) VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.ExecContext(ctx, q, rej.ID, rej.EvidenceID, string(rej.Reason), rej.RawOutput, rej.Detail)
	if err != nil {
		return errors.Wrap(err, "insert rejected extraction")
	}
	return nil
}

func (r *CandidateFactRepository) SaveCoverageReport(ctx context.Context, rep domain.CoverageReport) error {
	const q = `
INSERT INTO coverage_reports (evidence_id, score, complete) VALUES ($1, $2, $3)
ON CONFLICT (evidence_id) DO UPDATE SET score = EXCLUDED.score, complete = EXCLUDED.complete`
	_, err := r.db.ExecContext(ctx, q, rep.EvidenceID, rep.Score, rep.Complete)
	if err != nil {
		return errors.Wrap(err, "upsert coverage report")
	}
	return nil
}

func (r *CandidateFactRepository) EvidenceIDsWithFacts(ctx context.Context) (map[string]bool, error) {
	var rows []factRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT id, grounding_quotes FROM candidate_facts`); err != nil {
		return nil, errors.Wrap(err, "scan evidence ids with facts")
	}
	out := make(map[string]bool)
	for _, row := range rows {
		f, err := row.toDomain()
		if err != nil {
			continue
		}
		for _, q := range f.GroundingQuotes {
			out[q.EvidenceID] = true
		}
	}
	return out, nil
}
