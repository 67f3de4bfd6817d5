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

package domain

// ConflictType distinguishes where in the pipeline a conflict was detected.
type ConflictType string

const (
	SourceConflict    ConflictType = "SOURCE_CONFLICT"
	RuleConflict      ConflictType = "RULE_CONFLICT"
	AuthorityConflict ConflictType = "AUTHORITY_CONFLICT"
)

// ConflictStatus tracks resolution.
type ConflictStatus string

const (
	ConflictOpen      ConflictStatus = "OPEN"
	ConflictResolved  ConflictStatus = "RESOLVED"
	ConflictDismissed ConflictStatus = "DISMISSED"
)

// Conflict records a detected disagreement between sources or rules. For
// SOURCE_CONFLICT, ItemAID/ItemBID are empty and the conflicting
// CandidateFact ids live in Metadata["conflictingPointerIds"].
type Conflict struct {
	ID           string
	ConflictType ConflictType
	ItemAID      string
	ItemBID      string
	Status       ConflictStatus
	Description  string
	Metadata     map[string]any
}
