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
	"github.com/Wandeon/FiskAI-App-sub004/pkg/errs"
)

// RuleRepository is the Postgres-backed store.RuleRepository. Status
// transitions run inside a row-level-locked transaction (`SELECT ... FOR
// UPDATE`) so concurrent composer/reviewer/releaser workers serialize on a
// single rule's lifecycle.
type RuleRepository struct {
	db *sqlx.DB
}

func NewRuleRepository(db *sqlx.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

type ruleRow struct {
	ID              string         `db:"id"`
	ConceptSlug     string         `db:"concept_slug"`
	TitleHr         string         `db:"title_hr"`
	TitleEn         string         `db:"title_en"`
	RiskTier        string         `db:"risk_tier"`
	AuthorityLevel  string         `db:"authority_level"`
	AppliesWhen     []byte         `db:"applies_when"`
	Value           string         `db:"value"`
	ValueType       string         `db:"value_type"`
	EffectiveFrom   time.Time      `db:"effective_from"`
	EffectiveUntil  sql.NullTime   `db:"effective_until"`
	SupersedesID    sql.NullString `db:"supersedes_id"`
	Status          string         `db:"status"`
	Confidence      float64        `db:"confidence"`
	ApprovedBy      sql.NullString `db:"approved_by"`
	BackingFactIDs  []byte         `db:"backing_fact_ids"`
	CreatedAt       time.Time      `db:"created_at"`
	StatusChangedAt time.Time      `db:"status_changed_at"`
}

func (row ruleRow) toDomain() (domain.Rule, error) {
	var appliesWhen map[string]any
	if len(row.AppliesWhen) > 0 {
		if err := json.Unmarshal(row.AppliesWhen, &appliesWhen); err != nil {
			return domain.Rule{}, errors.Wrap(err, "decode applies_when")
		}
	}
	var backing []string
	if len(row.BackingFactIDs) > 0 {
		if err := json.Unmarshal(row.BackingFactIDs, &backing); err != nil {
			return domain.Rule{}, errors.Wrap(err, "decode backing fact ids")
		}
	}
	rule := domain.Rule{
		ID: row.ID, ConceptSlug: row.ConceptSlug, TitleHr: row.TitleHr, TitleEn: row.TitleEn,
		RiskTier: domain.RiskTier(row.RiskTier), AuthorityLevel: domain.AuthorityLevel(row.AuthorityLevel),
		AppliesWhen: appliesWhen, Value: row.Value, ValueType: domain.ValueType(row.ValueType),
		EffectiveFrom: row.EffectiveFrom, Status: domain.RuleStatus(row.Status), Confidence: row.Confidence,
		BackingCandidateFactIDs: backing, CreatedAt: row.CreatedAt, StatusChangedAt: row.StatusChangedAt,
	}
	if row.EffectiveUntil.Valid {
		rule.EffectiveUntil = &row.EffectiveUntil.Time
	}
	if row.SupersedesID.Valid {
		rule.SupersedesID = row.SupersedesID.String
	}
	if row.ApprovedBy.Valid {
		v := row.ApprovedBy.String
		rule.ApprovedBy = &v
	}
	return rule, nil
}

func (r *RuleRepository) Save(ctx context.Context, rule domain.Rule) error {
	appliesWhen, err := json.Marshal(rule.AppliesWhen)
	if err != nil {
		return errors.Wrap(err, "encode applies_when")
	}
	backing, err := json.Marshal(rule.BackingCandidateFactIDs)
	if err != nil {
		return errors.Wrap(err, "encode backing fact ids")
	}
	var effectiveUntil sql.NullTime
	if rule.EffectiveUntil != nil {
		effectiveUntil = sql.NullTime{Time: *rule.EffectiveUntil, Valid: true}
	}
	var approvedBy sql.NullString
	if rule.ApprovedBy != nil {
		approvedBy = sql.NullString{String: *rule.ApprovedBy, Valid: true}
	}
	var supersedes sql.NullString
	if rule.SupersedesID != "" {
		supersedes = sql.NullString{String: rule.SupersedesID, Valid: true}
	}
	const q = `
INSERT INTO rules (id, concept_slug, title_hr, title_en, risk_tier, authority_level, applies_when, value, value_type,
  effective_from, effective_until, supersedes_id, status, confidence, approved_by, backing_fact_ids)
VALUES (:id, :concept_slug, :title_hr, :title_en, :risk_tier, :authority_level, :applies_when, :value, :value_type,
  :effective_from, :effective_until, :supersedes_id, :status, :confidence, :approved_by, :backing_fact_ids)
ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, approved_by = EXCLUDED.approved_by, status_changed_at = now()`
	_, err = r.db.NamedExecContext(ctx, q, map[string]any{
		"id": rule.ID, "concept_slug": rule.ConceptSlug, "title_hr": rule.TitleHr, "title_en": rule.TitleEn,
		"risk_tier": string(rule.RiskTier), "authority_level": string(rule.AuthorityLevel),
		"applies_when": appliesWhen, "value": rule.Value, "value_type": string(rule.ValueType),
		"effective_from": rule.EffectiveFrom, "effective_until": effectiveUntil, "supersedes_id": supersedes,
		"status": string(rule.Status), "confidence": rule.Confidence, "approved_by": approvedBy,
		"backing_fact_ids": backing,
	})
	if err != nil {
		return errors.Wrap(err, "upsert rule")
	}
	return nil
}

func (r *RuleRepository) Get(ctx context.Context, id string) (domain.Rule, bool, error) {
	var row ruleRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM rules WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return domain.Rule{}, false, nil
	}
	if err != nil {
		return domain.Rule{}, false, errors.Wrap(err, "get rule")
	}
	rule, err := row.toDomain()
	return rule, true, err
}

func (r *RuleRepository) ListByIDs(ctx context.Context, ids []string) ([]domain.Rule, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM rules WHERE id IN (?)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "build IN query")
	}
	query = r.db.Rebind(query)
	var rows []ruleRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "list rules by ids")
	}
	return rulesFromRows(rows)
}

func (r *RuleRepository) ListByStatus(ctx context.Context, status domain.RuleStatus) ([]domain.Rule, error) {
	var rows []ruleRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM rules WHERE status = $1 ORDER BY id`, string(status)); err != nil {
		return nil, errors.Wrap(err, "list rules by status")
	}
	return rulesFromRows(rows)
}

func (r *RuleRepository) CountByStatusSince(ctx context.Context, status domain.RuleStatus, since time.Time) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT count(*) FROM rules WHERE status = $1 AND status_changed_at >= $2`, string(status), since)
	if err != nil {
		return 0, errors.Wrap(err, "count rules by status since")
	}
	return n, nil
}

func (r *RuleRepository) MeanConfidenceSince(ctx context.Context, since time.Time) (float64, int, error) {
	var row struct {
		Mean sql.NullFloat64 `db:"mean"`
		N    int             `db:"n"`
	}
	err := r.db.GetContext(ctx, &row,
		`SELECT avg(confidence) AS mean, count(*) AS n FROM rules WHERE created_at >= $1`, since)
	if err != nil {
		return 0, 0, errors.Wrap(err, "mean rule confidence since")
	}
	return row.Mean.Float64, row.N, nil
}

func rulesFromRows(rows []ruleRow) ([]domain.Rule, error) {
	out := make([]domain.Rule, 0, len(rows))
	for _, row := range rows {
		rule, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}

// Transition applies a status change inside a transaction at the
// database's default isolation level, holding a row lock, enforcing
// domain.TransitionAllowed before writing.
func (r *RuleRepository) Transition(ctx context.Context, id string, to domain.RuleStatus, approvedBy *string, bypass bool) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transition tx")
	}
	defer tx.Rollback()

	var current string
	if err := tx.GetContext(ctx, &current, `SELECT status FROM rules WHERE id = $1 FOR UPDATE`, id); err != nil {
		if err == sql.ErrNoRows {
			return errs.New(errs.NotFound, "rule not found")
		}
		return errors.Wrap(err, "lock rule row")
	}

	if !domain.TransitionAllowed(domain.RuleStatus(current), to, bypass) {
		return errs.New(errs.ValidationError, "illegal rule status transition "+current+" -> "+string(to))
	}

	if approvedBy != nil {
		_, err = tx.ExecContext(ctx,
			`UPDATE rules SET status = $1, approved_by = $2, status_changed_at = now() WHERE id = $3`,
			string(to), *approvedBy, id)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE rules SET status = $1, status_changed_at = now() WHERE id = $2`, string(to), id)
	}
	if err != nil {
		return errors.Wrap(err, "update rule status")
	}
	return tx.Commit()
}

func (r *RuleRepository) UpsertConcept(ctx context.Context, conceptSlug, titleHr, titleEn string) error {
	const q = `
INSERT INTO concepts (concept_slug, title_hr, title_en) VALUES ($1, $2, $3)
ON CONFLICT (concept_slug) DO UPDATE SET title_hr = EXCLUDED.title_hr, title_en = EXCLUDED.title_en`
	_, err := r.db.ExecContext(ctx, q, conceptSlug, titleHr, titleEn)
	if err != nil {
		return errors.Wrap(err, "upsert concept")
	}
	return nil
}

func (r *RuleRepository) LinkAmends(ctx context.Context, ruleID, supersedesID string) error {
	const q = `
INSERT INTO rule_amendments (rule_id, supersedes_id) VALUES ($1, $2)
ON CONFLICT (rule_id) DO UPDATE SET supersedes_id = EXCLUDED.supersedes_id`
	_, err := r.db.ExecContext(ctx, q, ruleID, supersedesID)
	if err != nil {
		return errors.Wrap(err, "link rule amends edge")
	}
	return nil
}
