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
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/domain"
)

// AlertRepository is the Postgres-backed store.AlertRepository, keyed on
// the (alert_type, entity_id) unique index so a repeat within the
// watchdog's dedup window upserts rather than inserts a duplicate row.
type AlertRepository struct {
	db *sqlx.DB
}

func NewAlertRepository(db *sqlx.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

type alertRow struct {
	ID          string    `db:"id"`
	AlertType   string    `db:"alert_type"`
	EntityID    string    `db:"entity_id"`
	Severity    string    `db:"severity"`
	Message     string    `db:"message"`
	Occurrences int       `db:"occurrences"`
	FirstSeenAt time.Time `db:"first_seen_at"`
	LastSeenAt  time.Time `db:"last_seen_at"`
}

func (row alertRow) toDomain() domain.Alert {
	return domain.Alert{
		ID:          row.ID,
		AlertType:   row.AlertType,
		EntityID:    row.EntityID,
		Severity:    domain.AlertSeverity(row.Severity),
		Message:     row.Message,
		Occurrences: row.Occurrences,
		FirstSeenAt: row.FirstSeenAt,
		LastSeenAt:  row.LastSeenAt,
	}
}

func (r *AlertRepository) Upsert(ctx context.Context, a domain.Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	const q = `
INSERT INTO alerts (id, alert_type, entity_id, severity, message, occurrences, first_seen_at, last_seen_at)
VALUES (:id, :alert_type, :entity_id, :severity, :message, 1, :first_seen_at, :last_seen_at)
ON CONFLICT (alert_type, entity_id) DO UPDATE SET
  severity = EXCLUDED.severity,
  message = EXCLUDED.message,
  occurrences = alerts.occurrences + 1,
  last_seen_at = EXCLUDED.last_seen_at`
	_, err := r.db.NamedExecContext(ctx, q, alertRow{
		ID: a.ID, AlertType: a.AlertType, EntityID: a.EntityID,
		Severity: string(a.Severity), Message: a.Message,
		FirstSeenAt: a.FirstSeenAt, LastSeenAt: a.LastSeenAt,
	})
	if err != nil {
		return errors.Wrap(err, "upsert alert")
	}
	return nil
}

func (r *AlertRepository) LastRaised(ctx context.Context, alertType, entityID string) (domain.Alert, bool, error) {
	const q = `SELECT id, alert_type, entity_id, severity, message, occurrences, first_seen_at, last_seen_at
FROM alerts WHERE alert_type = $1 AND entity_id = $2`
	var row alertRow
	err := r.db.GetContext(ctx, &row, q, alertType, entityID)
	if err == sql.ErrNoRows {
		return domain.Alert{}, false, nil
	}
	if err != nil {
		return domain.Alert{}, false, errors.Wrap(err, "select last alert")
	}
	return row.toDomain(), true, nil
}
