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

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/domain"
)

// ConflictRepository is the Postgres-backed store.ConflictRepository.
type ConflictRepository struct {
	db *sqlx.DB
}

func NewConflictRepository(db *sqlx.DB) *ConflictRepository {
	return &ConflictRepository{db: db}
}

type conflictRow struct {
	ID           string         `db:"id"`
	ConflictType string         `db:"conflict_type"`
	ItemAID      sql.NullString `db:"item_a_id"`
	ItemBID      sql.NullString `db:"item_b_id"`
	Status       string         `db:"status"`
	Description  string         `db:"description"`
	Metadata     []byte         `db:"metadata"`
}

func (row conflictRow) toDomain() (domain.Conflict, error) {
	var meta map[string]any
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &meta); err != nil {
			return domain.Conflict{}, errors.Wrap(err, "decode conflict metadata")
		}
	}
	return domain.Conflict{
		ID: row.ID, ConflictType: domain.ConflictType(row.ConflictType),
		ItemAID: row.ItemAID.String, ItemBID: row.ItemBID.String,
		Status: domain.ConflictStatus(row.Status), Description: row.Description, Metadata: meta,
	}, nil
}

func (r *ConflictRepository) Save(ctx context.Context, c domain.Conflict) (domain.Conflict, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return domain.Conflict{}, errors.Wrap(err, "encode conflict metadata")
	}
	const q = `
INSERT INTO conflicts (id, conflict_type, item_a_id, item_b_id, status, description, metadata)
VALUES (:id, :conflict_type, :item_a_id, :item_b_id, :status, :description, :metadata)
ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status`
	_, err = r.db.NamedExecContext(ctx, q, map[string]any{
		"id": c.ID, "conflict_type": string(c.ConflictType),
		"item_a_id": nullableString(c.ItemAID), "item_b_id": nullableString(c.ItemBID),
		"status": string(c.Status), "description": c.Description, "metadata": meta,
	})
	if err != nil {
		return domain.Conflict{}, errors.Wrap(err, "insert conflict")
	}
	return c, nil
}

func (r *ConflictRepository) Get(ctx context.Context, id string) (domain.Conflict, bool, error) {
	var row conflictRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM conflicts WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return domain.Conflict{}, false, nil
	}
	if err != nil {
		return domain.Conflict{}, false, errors.Wrap(err, "get conflict")
	}
	c, err := row.toDomain()
	return c, true, err
}

func (r *ConflictRepository) OpenForRule(ctx context.Context, ruleID string) (bool, error) {
	var n int
	const q = `
SELECT count(*) FROM conflicts
WHERE status = 'OPEN' AND (item_a_id = $1 OR item_b_id = $1)`
	if err := r.db.GetContext(ctx, &n, q, ruleID); err != nil {
		return false, errors.Wrap(err, "check open conflicts for rule")
	}
	return n > 0, nil
}

func (r *ConflictRepository) ListByStatus(ctx context.Context, status domain.ConflictStatus) ([]domain.Conflict, error) {
	var rows []conflictRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM conflicts WHERE status = $1 ORDER BY created_at`, string(status)); err != nil {
		return nil, errors.Wrap(err, "list conflicts by status")
	}
	out := make([]domain.Conflict, 0, len(rows))
	for _, row := range rows {
		c, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *ConflictRepository) SetStatus(ctx context.Context, id string, status domain.ConflictStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE conflicts SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return errors.Wrap(err, "update conflict status")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.New("conflict not found")
	}
	return nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
