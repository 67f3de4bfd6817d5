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

// Package audit defines the single append-only audit log the system
// writes every state-changing event to, and the events the pipeline stages
// emit (RULE_CREATED, RELEASE_PUBLISHED, …).
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the pipeline stages.
const (
	EventRuleCreated        = "RULE_CREATED"
	EventRulePublished      = "RULE_PUBLISHED"
	EventReleasePublished   = "RELEASE_PUBLISHED"
	EventReleaseRolledBack  = "RELEASE_ROLLED_BACK"
	EventRuleRollback       = "RULE_ROLLBACK"
	EventConflictDetected   = "CONFLICT_DETECTED"
)

// Event is one row of the append-only audit log: action, entity, actor,
// and free-form metadata.
type Event struct {
	EventID       uuid.UUID
	EventVersion  string
	EventTimestamp time.Time
	EventType     string
	EventCategory string
	EventAction   string
	EventOutcome  string
	ActorType     string
	ActorID       string
	ResourceType  string
	ResourceID    string
	CorrelationID string
	EventData     json.RawMessage
}

// NewEvent builds an Event with a fresh id and the current timestamp.
func NewEvent(eventType, category, action, outcome, actorType, actorID, resourceType, resourceID, correlationID string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		EventID:        uuid.New(),
		EventVersion:   "1.0",
		EventTimestamp: time.Now().UTC(),
		EventType:      eventType,
		EventCategory:  category,
		EventAction:    action,
		EventOutcome:   outcome,
		ActorType:      actorType,
		ActorID:        actorID,
		ResourceType:   resourceType,
		ResourceID:     resourceID,
		CorrelationID:  correlationID,
		EventData:      raw,
	}, nil
}

// Store persists audit Events. Production is backed by Postgres
// (pkg/store/postgres); DLQFallback wraps any Store so writes that fail
// (e.g. the database is unavailable) are never lost.
type Store interface {
	Write(ctx context.Context, event Event) error
}

// MemStore is an in-memory Store used by tests and single-process runs.
type MemStore struct {
	Events []Event
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore { return &MemStore{} }

func (s *MemStore) Write(_ context.Context, event Event) error {
	s.Events = append(s.Events, event)
	return nil
}
