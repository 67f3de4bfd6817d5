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

// AgentRunRepository is the Postgres-backed store.AgentRunRepository; it
// also satisfies llmrunner.AgentRunStore directly so the runner can be
// wired straight to Postgres without an adapter.
type AgentRunRepository struct {
	db *sqlx.DB
}

func NewAgentRunRepository(db *sqlx.DB) *AgentRunRepository {
	return &AgentRunRepository{db: db}
}

type agentRunRow struct {
	ID          string         `db:"id"`
	AgentType   string         `db:"agent_type"`
	Status      string         `db:"status"`
	Input       []byte         `db:"input"`
	Output      []byte         `db:"output"`
	DurationMs  int64          `db:"duration_ms"`
	Confidence  sql.NullFloat64 `db:"confidence"`
	Error       string         `db:"error"`
	RunID       string         `db:"run_id"`
	JobID       string         `db:"job_id"`
	ParentJobID string         `db:"parent_job_id"`
	SourceSlug  string         `db:"source_slug"`
	QueueName   string         `db:"queue_name"`
	StartedAt   time.Time      `db:"started_at"`
	CompletedAt sql.NullTime   `db:"completed_at"`
}

func (row agentRunRow) toDomain() (domain.AgentRun, error) {
	var input map[string]any
	if len(row.Input) > 0 {
		if err := json.Unmarshal(row.Input, &input); err != nil {
			return domain.AgentRun{}, errors.Wrap(err, "decode agent run input")
		}
	}
	var output map[string]any
	if len(row.Output) > 0 {
		if err := json.Unmarshal(row.Output, &output); err != nil {
			return domain.AgentRun{}, errors.Wrap(err, "decode agent run output")
		}
	}
	run := domain.AgentRun{
		ID: row.ID, AgentType: row.AgentType, Status: domain.AgentRunStatus(row.Status),
		Input: input, Output: output, DurationMs: row.DurationMs, Error: row.Error,
		Correlation: domain.Correlation{
			RunID: row.RunID, JobID: row.JobID, ParentJobID: row.ParentJobID,
			SourceSlug: row.SourceSlug, QueueName: row.QueueName,
		},
		StartedAt: row.StartedAt,
	}
	if row.Confidence.Valid {
		run.Confidence = &row.Confidence.Float64
	}
	if row.CompletedAt.Valid {
		run.CompletedAt = &row.CompletedAt.Time
	}
	return run, nil
}

func (r *AgentRunRepository) Save(ctx context.Context, run domain.AgentRun) error {
	input, err := json.Marshal(run.Input)
	if err != nil {
		return errors.Wrap(err, "encode agent run input")
	}
	var output []byte
	if run.Output != nil {
		output, err = json.Marshal(run.Output)
		if err != nil {
			return errors.Wrap(err, "encode agent run output")
		}
	}
	var confidence sql.NullFloat64
	if run.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *run.Confidence, Valid: true}
	}
	var completedAt sql.NullTime
	if run.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *run.CompletedAt, Valid: true}
	}
	const q = `
INSERT INTO agent_runs (id, agent_type, status, input, output, duration_ms, confidence, error,
  run_id, job_id, parent_job_id, source_slug, queue_name, started_at, completed_at)
VALUES (:id, :agent_type, :status, :input, :output, :duration_ms, :confidence, :error,
  :run_id, :job_id, :parent_job_id, :source_slug, :queue_name, :started_at, :completed_at)
ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, output = EXCLUDED.output,
  duration_ms = EXCLUDED.duration_ms, confidence = EXCLUDED.confidence, error = EXCLUDED.error,
  completed_at = EXCLUDED.completed_at`
	_, err = r.db.NamedExecContext(ctx, q, map[string]any{
		"id": run.ID, "agent_type": run.AgentType, "status": string(run.Status),
		"input": input, "output": output, "duration_ms": run.DurationMs, "confidence": confidence,
		"error": run.Error, "run_id": run.Correlation.RunID, "job_id": run.Correlation.JobID,
		"parent_job_id": run.Correlation.ParentJobID, "source_slug": run.Correlation.SourceSlug,
		"queue_name": run.Correlation.QueueName, "started_at": run.StartedAt, "completed_at": completedAt,
	})
	if err != nil {
		return errors.Wrap(err, "upsert agent run")
	}
	return nil
}

func (r *AgentRunRepository) Get(ctx context.Context, id string) (domain.AgentRun, bool, error) {
	var row agentRunRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM agent_runs WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return domain.AgentRun{}, false, nil
	}
	if err != nil {
		return domain.AgentRun{}, false, errors.Wrap(err, "get agent run")
	}
	run, err := row.toDomain()
	return run, true, err
}
