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

import "time"

// AgentRunStatus tracks an LLM invocation from start to a terminal state.
type AgentRunStatus string

const (
	AgentRunRunning   AgentRunStatus = "running"
	AgentRunCompleted AgentRunStatus = "completed"
	AgentRunFailed    AgentRunStatus = "failed"
)

// Correlation threads run/job/source identity through every call so that an
// AgentRun row, a queue job, and a pipeline stage can all be tied together
// without relying on implicit globals.
type Correlation struct {
	RunID       string
	JobID       string
	ParentJobID string
	SourceSlug  string
	QueueName   string
}

// AgentRun is one append-only row per LLM invocation.
type AgentRun struct {
	ID          string
	AgentType   string
	Status      AgentRunStatus
	Input       map[string]any
	Output      map[string]any
	DurationMs  int64
	Confidence  *float64
	Error       string
	Correlation Correlation
	StartedAt   time.Time
	CompletedAt *time.Time
}
