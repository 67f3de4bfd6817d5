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
	"github.com/lib/pq"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/domain"
)

// ReleaseRepository is the Postgres-backed store.ReleaseRepository. The
// single-latest invariant is enforced by the partial unique index on
// releases((latest)) WHERE latest (migrations/00001_init.sql); SetLatest
// clears the prior holder in the same transaction so the index is never
// violated mid-flight.
type ReleaseRepository struct {
	db *sqlx.DB
}

func NewReleaseRepository(db *sqlx.DB) *ReleaseRepository {
	return &ReleaseRepository{db: db}
}

// releaseRow's ApprovedBy and RuleIDs map to native Postgres TEXT[]
// columns via pq.Array/StringArray rather than a JSON blob; AuditTrail
// stays JSONB since it is a small fixed struct, not a list.
type releaseRow struct {
	ID            string         `db:"id"`
	Version       string         `db:"version"`
	ReleaseType   string         `db:"release_type"`
	ReleasedAt    time.Time      `db:"released_at"`
	EffectiveFrom time.Time      `db:"effective_from"`
	ContentHash   string         `db:"content_hash"`
	Changelog     string         `db:"changelog"`
	ApprovedBy    pq.StringArray `db:"approved_by"`
	AuditTrail    []byte         `db:"audit_trail"`
	RuleIDs       pq.StringArray `db:"rule_ids"`
	Latest        bool           `db:"latest"`
}

func (row releaseRow) toDomain() (domain.Release, error) {
	var trail domain.AuditTrail
	if len(row.AuditTrail) > 0 {
		if err := json.Unmarshal(row.AuditTrail, &trail); err != nil {
			return domain.Release{}, errors.Wrap(err, "decode audit_trail")
		}
	}
	return domain.Release{
		ID: row.ID, Version: row.Version, ReleaseType: domain.ReleaseType(row.ReleaseType),
		ReleasedAt: row.ReleasedAt, EffectiveFrom: row.EffectiveFrom, ContentHash: row.ContentHash,
		Changelog: row.Changelog, ApprovedBy: []string(row.ApprovedBy), AuditTrail: trail,
		RuleIDs: []string(row.RuleIDs), Latest: row.Latest,
	}, nil
}

func (r *ReleaseRepository) Save(ctx context.Context, rel domain.Release) error {
	trail, err := json.Marshal(rel.AuditTrail)
	if err != nil {
		return errors.Wrap(err, "encode audit_trail")
	}
	approvedBy := pq.Array(rel.ApprovedBy)
	ruleIDs := pq.Array(rel.RuleIDs)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin release tx")
	}
	defer tx.Rollback()

	if rel.Latest {
		if _, err := tx.ExecContext(ctx, `UPDATE releases SET latest = FALSE WHERE latest`); err != nil {
			return errors.Wrap(err, "clear previous latest release")
		}
	}

	const q = `
INSERT INTO releases (id, version, release_type, released_at, effective_from, content_hash, changelog, approved_by, audit_trail, rule_ids, latest)
VALUES (:id, :version, :release_type, :released_at, :effective_from, :content_hash, :changelog, :approved_by, :audit_trail, :rule_ids, :latest)
ON CONFLICT (id) DO UPDATE SET latest = EXCLUDED.latest`
	_, err = tx.NamedExecContext(ctx, q, map[string]any{
		"id": rel.ID, "version": rel.Version, "release_type": string(rel.ReleaseType),
		"released_at": rel.ReleasedAt, "effective_from": rel.EffectiveFrom, "content_hash": rel.ContentHash,
		"changelog": rel.Changelog, "approved_by": approvedBy, "audit_trail": trail, "rule_ids": ruleIDs,
		"latest": rel.Latest,
	})
	if err != nil {
		return errors.Wrap(err, "insert release")
	}
	return tx.Commit()
}

func (r *ReleaseRepository) Get(ctx context.Context, id string) (domain.Release, bool, error) {
	var row releaseRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM releases WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return domain.Release{}, false, nil
	}
	if err != nil {
		return domain.Release{}, false, errors.Wrap(err, "get release")
	}
	rel, err := row.toDomain()
	return rel, true, err
}

func (r *ReleaseRepository) GetByVersion(ctx context.Context, version string) (domain.Release, bool, error) {
	var row releaseRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM releases WHERE version = $1`, version)
	if err == sql.ErrNoRows {
		return domain.Release{}, false, nil
	}
	if err != nil {
		return domain.Release{}, false, errors.Wrap(err, "get release by version")
	}
	rel, err := row.toDomain()
	return rel, true, err
}

func (r *ReleaseRepository) Latest(ctx context.Context) (domain.Release, bool, error) {
	var row releaseRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM releases WHERE latest LIMIT 1`)
	if err == sql.ErrNoRows {
		return domain.Release{}, false, nil
	}
	if err != nil {
		return domain.Release{}, false, errors.Wrap(err, "get latest release")
	}
	rel, err := row.toDomain()
	return rel, true, err
}

func (r *ReleaseRepository) Previous(ctx context.Context, rel domain.Release) (domain.Release, bool, error) {
	var row releaseRow
	const q = `SELECT * FROM releases WHERE released_at < $1 ORDER BY released_at DESC LIMIT 1`
	err := r.db.GetContext(ctx, &row, q, rel.ReleasedAt)
	if err == sql.ErrNoRows {
		return domain.Release{}, false, nil
	}
	if err != nil {
		return domain.Release{}, false, errors.Wrap(err, "get previous release")
	}
	prev, err := row.toDomain()
	return prev, true, err
}

func (r *ReleaseRepository) SetLatest(ctx context.Context, id string, latest bool) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin set-latest tx")
	}
	defer tx.Rollback()

	if latest {
		if _, err := tx.ExecContext(ctx, `UPDATE releases SET latest = FALSE WHERE latest AND id != $1`, id); err != nil {
			return errors.Wrap(err, "clear previous latest release")
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE releases SET latest = $1 WHERE id = $2`, latest, id); err != nil {
		return errors.Wrap(err, "update release latest flag")
	}
	return tx.Commit()
}
