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

	"github.com/go-faster/errors"
	"github.com/jmoiron/sqlx"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/audit"
)

// AuditStore is the Postgres-backed audit.Store, writing to the append-only
// audit_log table. Wrap with audit.DLQFallback at the call site so a write
// failure here never blocks the pipeline stage that produced the event.
type AuditStore struct {
	db *sqlx.DB
}

func NewAuditStore(db *sqlx.DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Write(ctx context.Context, event audit.Event) error {
	const q = `
INSERT INTO audit_log (event_id, event_version, event_timestamp, event_type, event_category, event_action,
  event_outcome, actor_type, actor_id, resource_type, resource_id, correlation_id, event_data)
VALUES (:event_id, :event_version, :event_timestamp, :event_type, :event_category, :event_action,
  :event_outcome, :actor_type, :actor_id, :resource_type, :resource_id, :correlation_id, :event_data)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"event_id": event.EventID, "event_version": event.EventVersion, "event_timestamp": event.EventTimestamp,
		"event_type": event.EventType, "event_category": event.EventCategory, "event_action": event.EventAction,
		"event_outcome": event.EventOutcome, "actor_type": event.ActorType, "actor_id": event.ActorID,
		"resource_type": event.ResourceType, "resource_id": event.ResourceID, "correlation_id": event.CorrelationID,
		"event_data": []byte(event.EventData),
	})
	if err != nil {
		return errors.Wrap(err, "insert audit event")
	}
	return nil
}
