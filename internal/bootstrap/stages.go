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

package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/domain"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/fetch"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/queue"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/workerpool"
)

// fetchJob is the "fetch" queue's job body, produced by cmd/server's
// webhook sink.
type fetchJob struct {
	SourceID string `json:"sourceId"`
	URL      string `json:"url"`
}

// extractJob is the "extract" queue's job body: one Evidence row to
// extract from.
type extractJob struct {
	EvidenceID string `json:"evidenceId"`
}

// reviewJob is the "review" queue's job body: one draft Rule to score.
type reviewJob struct {
	RuleID string `json:"ruleId"`
}

const (
	composeQueue        = "compose"
	reviewQueue         = "review"
	releaseQueue        = "release"
	composeTriggerJobID = "compose-batch"
	releaseTriggerJobID = "release-trigger"
	composeBatchLimit   = 50
)

// PipelineStages returns the five bounded stage pools (fetch 4, extract
// 2, compose 2, review 2, release 1-singleton), wired
// over a's already-constructed components, for a workerpool.Dispatcher to
// run. runID tags every AgentRun/audit event this dispatch produces.
func (a *App) PipelineStages(runID string) []workerpool.Stage {
	fetcher := a.NewFetcher()

	return []workerpool.Stage{
		{Name: "fetch", Concurrency: workerpool.FetchConcurrency, Handle: a.handleFetch(runID, fetcher)},
		{Name: "extract", Concurrency: workerpool.ExtractConcurrency, Handle: a.handleExtract(runID)},
		{Name: composeQueue, Concurrency: workerpool.ComposeConcurrency, Handle: a.handleCompose(runID)},
		{Name: reviewQueue, Concurrency: workerpool.ReviewConcurrency, Handle: a.handleReview(runID)},
		{Name: releaseQueue, Concurrency: workerpool.ReleaseConcurrency, Handle: a.handleRelease(runID)},
	}
}

// handleFetch runs one "fetch" job: retrieve the URL, persist Evidence, and
// on new content schedule the matching "extract" job, deduped by Evidence
// id so a re-delivered fetch job never double-schedules extraction.
func (a *App) handleFetch(runID string, fetcher *fetch.Fetcher) workerpool.Handler {
	return func(ctx context.Context, job queue.Job) error {
		var body fetchJob
		if err := json.Unmarshal(job.Body, &body); err != nil {
			return fmt.Errorf("fetch job %s: decode body: %w", job.ID, err)
		}

		result, err := fetcher.Fetch(ctx, fetch.Source{ID: body.SourceID, URL: body.URL})
		if err != nil {
			return fmt.Errorf("fetch job %s: %w", job.ID, err)
		}
		if result.RateLimited || !result.WasNew {
			return nil
		}

		extractBody, err := json.Marshal(extractJob{EvidenceID: result.Evidence.ID})
		if err != nil {
			return fmt.Errorf("fetch job %s: encode extract job: %w", job.ID, err)
		}
		_, err = a.Queue.Enqueue(ctx, "extract", extractBody, queue.EnqueueOptions{
			JobID: "extract-" + result.Evidence.ID,
		})
		return err
	}
}

// handleExtract runs the extractor over one Evidence row, then schedules the shared
// "compose" batch trigger so newly promoted CandidateFacts get grouped. The
// trigger's fixed jobId collapses concurrent schedule requests into one
// pending compose cycle via the queue's jobId dedup.
func (a *App) handleExtract(runID string) workerpool.Handler {
	return func(ctx context.Context, job queue.Job) error {
		var body extractJob
		if err := json.Unmarshal(job.Body, &body); err != nil {
			return fmt.Errorf("extract job %s: decode body: %w", job.ID, err)
		}

		corr := workerpool.CorrelationFor(runID, job)
		corr.SourceSlug = body.EvidenceID
		result, err := a.Extractor.Run(ctx, body.EvidenceID, corr)
		if err != nil {
			return fmt.Errorf("extract job %s: %w", job.ID, err)
		}
		if result.Promoted == 0 {
			return nil
		}

		_, err = a.Queue.Enqueue(ctx, composeQueue, []byte("{}"), queue.EnqueueOptions{JobID: composeTriggerJobID})
		return err
	}
}

// handleCompose runs one compose batch cycle over the ungrouped
// CandidateFacts (facts no Rule links yet), then enqueues a "review" job
// (id review-<ruleId>) for every Rule currently in DRAFT.
func (a *App) handleCompose(runID string) workerpool.Handler {
	return func(ctx context.Context, job queue.Job) error {
		corr := workerpool.CorrelationFor(runID, job)
		batch := a.Composer.RunBatch(ctx, composeBatchLimit, corr)
		if batch.Failed > 0 && batch.Success == 0 {
			return fmt.Errorf("compose job %s: all %d groups failed: %v", job.ID, batch.Failed, batch.Errors)
		}

		drafts, err := a.Repos.Rules.ListByStatus(ctx, domain.RuleDraft)
		if err != nil {
			return fmt.Errorf("compose job %s: list draft rules: %w", job.ID, err)
		}
		for _, rule := range drafts {
			reviewBody, err := json.Marshal(reviewJob{RuleID: rule.ID})
			if err != nil {
				return fmt.Errorf("compose job %s: encode review job: %w", job.ID, err)
			}
			if _, err := a.Queue.Enqueue(ctx, reviewQueue, reviewBody, queue.EnqueueOptions{JobID: "review-" + rule.ID}); err != nil {
				return fmt.Errorf("compose job %s: enqueue review job: %w", job.ID, err)
			}
		}
		return nil
	}
}

// handleReview scores one draft Rule and, on auto-approval, schedules the
// shared "release" trigger so the approved rule reaches the next release.
func (a *App) handleReview(runID string) workerpool.Handler {
	return func(ctx context.Context, job queue.Job) error {
		var body reviewJob
		if err := json.Unmarshal(job.Body, &body); err != nil {
			return fmt.Errorf("review job %s: decode body: %w", job.ID, err)
		}

		rule, found, err := a.Repos.Rules.Get(ctx, body.RuleID)
		if err != nil {
			return fmt.Errorf("review job %s: %w", job.ID, err)
		}
		if !found || rule.Status != domain.RuleDraft {
			// Already reviewed (e.g. a human approved/rejected it between
			// scheduling and this job running); nothing left to do.
			return nil
		}

		corr := workerpool.CorrelationFor(runID, job)
		corr.SourceSlug = rule.ID
		approved, err := a.Reviewer.AutoApprove(ctx, rule, corr)
		if err != nil {
			return fmt.Errorf("review job %s: %w", job.ID, err)
		}
		if !approved {
			return nil
		}

		_, err = a.Queue.Enqueue(ctx, releaseQueue, []byte("{}"), queue.EnqueueOptions{JobID: releaseTriggerJobID})
		return err
	}
}

// handleRelease collects every currently APPROVED rule and cuts a release
// over all of them. The singleton pool (workerpool.ReleaseConcurrency == 1)
// is what makes this safe to run without an explicit lock: only one
// release job is ever mid-handle at a time.
func (a *App) handleRelease(runID string) workerpool.Handler {
	return func(ctx context.Context, job queue.Job) error {
		approved, err := a.Repos.Rules.ListByStatus(ctx, domain.RuleApproved)
		if err != nil {
			return fmt.Errorf("release job %s: %w", job.ID, err)
		}
		if len(approved) == 0 {
			return nil
		}

		ruleIDs := make([]string, len(approved))
		for i, r := range approved {
			ruleIDs[i] = r.ID
		}

		corr := workerpool.CorrelationFor(runID, job)
		_, err = a.Releaser.Release(ctx, ruleIDs, "", corr)
		return err
	}
}
