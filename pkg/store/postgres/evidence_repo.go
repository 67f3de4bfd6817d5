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
	"time"

	"github.com/go-faster/errors"
	"github.com/jmoiron/sqlx"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/domain"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/store"
)

// EvidenceRepository is the Postgres-backed store.EvidenceRepository.
type EvidenceRepository struct {
	db *sqlx.DB
}

// NewEvidenceRepository constructs a repository over db.
func NewEvidenceRepository(db *sqlx.DB) *EvidenceRepository {
	return &EvidenceRepository{db: db}
}

type evidenceRow struct {
	ID           string    `db:"id"`
	SourceID     string    `db:"source_id"`
	URL          string    `db:"url"`
	ContentType  string    `db:"content_type"`
	ContentClass string    `db:"content_class"`
	RawBytes     []byte    `db:"raw_bytes"`
	CleanedText  string    `db:"cleaned_text"`
	ContentHash  string    `db:"content_hash"`
	FetchedAt    time.Time `db:"fetched_at"`
	HasChanged   bool      `db:"has_changed"`
}

func (row evidenceRow) toDomain() domain.Evidence {
	return domain.Evidence{
		ID:           row.ID,
		SourceID:     row.SourceID,
		URL:          row.URL,
		ContentType:  domain.ContentType(row.ContentType),
		ContentClass: domain.ContentClass(row.ContentClass),
		RawBytes:     row.RawBytes,
		CleanedText:  row.CleanedText,
		ContentHash:  row.ContentHash,
		FetchedAt:    row.FetchedAt,
		HasChanged:   row.HasChanged,
	}
}

// Save inserts e. Evidence is append-only: saving an existing id is a
// no-op write; a new id whose content_hash already exists violates the
// unique index and returns an error, so re-fetch dedup goes through
// FindByContentHash before Save.
func (r *EvidenceRepository) Save(ctx context.Context, e domain.Evidence) error {
	const q = `
INSERT INTO evidence (id, source_id, url, content_type, content_class, raw_bytes, cleaned_text, content_hash, fetched_at, has_changed)
VALUES (:id, :source_id, :url, :content_type, :content_class, :raw_bytes, :cleaned_text, :content_hash, :fetched_at, :has_changed)
ON CONFLICT (id) DO NOTHING`
	_, err := r.db.NamedExecContext(ctx, q, evidenceRow{
		ID: e.ID, SourceID: e.SourceID, URL: e.URL,
		ContentType: string(e.ContentType), ContentClass: string(e.ContentClass),
		RawBytes: e.RawBytes, CleanedText: e.CleanedText, ContentHash: e.ContentHash,
		FetchedAt: e.FetchedAt, HasChanged: e.HasChanged,
	})
	if err != nil {
		return errors.Wrap(err, "insert evidence")
	}
	return nil
}

func (r *EvidenceRepository) Get(ctx context.Context, id string) (domain.Evidence, bool, error) {
	var row evidenceRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM evidence WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return domain.Evidence{}, false, nil
	}
	if err != nil {
		return domain.Evidence{}, false, errors.Wrap(err, "get evidence")
	}
	return row.toDomain(), true, nil
}

func (r *EvidenceRepository) FindByContentHash(ctx context.Context, hash string) (domain.Evidence, bool, error) {
	var row evidenceRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM evidence WHERE content_hash = $1`, hash)
	if err == sql.ErrNoRows {
		return domain.Evidence{}, false, nil
	}
	if err != nil {
		return domain.Evidence{}, false, errors.Wrap(err, "find evidence by hash")
	}
	return row.toDomain(), true, nil
}

func (r *EvidenceRepository) ListBySource(ctx context.Context, sourceID string, limit int) ([]domain.Evidence, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []evidenceRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM evidence WHERE source_id = $1 ORDER BY fetched_at DESC LIMIT $2`, sourceID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list evidence by source")
	}
	out := make([]domain.Evidence, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func (r *EvidenceRepository) SourceSummaries(ctx context.Context, window time.Duration) ([]store.SourceEvidenceSummary, error) {
	const q = `
SELECT source_id,
       max(fetched_at) AS last_fetched_at,
       count(*) FILTER (WHERE fetched_at >= $1) AS total_in_window,
       count(*) FILTER (WHERE fetched_at >= $1 AND cleaned_text = '') AS empty_in_window
FROM evidence
GROUP BY source_id
ORDER BY source_id`
	var rows []struct {
		SourceID      string    `db:"source_id"`
		LastFetchedAt time.Time `db:"last_fetched_at"`
		TotalInWindow int       `db:"total_in_window"`
		EmptyInWindow int       `db:"empty_in_window"`
	}
	if err := r.db.SelectContext(ctx, &rows, q, time.Now().UTC().Add(-window)); err != nil {
		return nil, errors.Wrap(err, "source evidence summaries")
	}
	out := make([]store.SourceEvidenceSummary, len(rows))
	for i, row := range rows {
		out[i] = store.SourceEvidenceSummary{
			SourceID: row.SourceID, LastFetchedAt: row.LastFetchedAt,
			TotalInWindow: row.TotalInWindow, EmptyInWindow: row.EmptyInWindow,
		}
	}
	return out, nil
}
