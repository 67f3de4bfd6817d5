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

package releaser

import (
	"context"
	"encoding/json"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/domain"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/queue"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/store"
)

// ContentSyncEvent is the per-rule downstream sync payload a publish emits:
// what changed, how risky it is, and where the backing content came from,
// so downstream content services can re-render without re-deriving any of
// it from the database.
type ContentSyncEvent struct {
	ReleaseID     string  `json:"releaseId"`
	Version       string  `json:"version"`
	RuleID        string  `json:"ruleId"`
	ConceptSlug   string  `json:"conceptSlug"`
	ChangeType    string  `json:"changeType"` // create | update | repeal
	PreviousValue string  `json:"previousValue,omitempty"`
	Value         string  `json:"value"`
	RiskTier      string  `json:"riskTier"`
	Confidence    float64 `json:"confidence"`
	SourceURL     string  `json:"sourceUrl,omitempty"`
}

// QueueContentSync emits one content-sync job per published rule onto a
// named queue. It satisfies ContentSyncEmitter; the Releaser treats every
// emission as best-effort.
type QueueContentSync struct {
	q         queue.Queue
	queueName string
	rules     store.RuleRepository
	facts     store.CandidateFactRepository
	evidence  store.EvidenceRepository
}

// NewQueueContentSync constructs an emitter publishing to queueName.
func NewQueueContentSync(q queue.Queue, queueName string, rules store.RuleRepository, facts store.CandidateFactRepository, evidence store.EvidenceRepository) *QueueContentSync {
	if queueName == "" {
		queueName = "content-sync"
	}
	return &QueueContentSync{q: q, queueName: queueName, rules: rules, facts: facts, evidence: evidence}
}

// EmitReleasePublished enqueues one event per rule in release. The first
// enqueue failure aborts the remainder; the caller logs and continues, per
// the best-effort contract.
func (c *QueueContentSync) EmitReleasePublished(ctx context.Context, release domain.Release) error {
	rules, err := c.rules.ListByIDs(ctx, release.RuleIDs)
	if err != nil {
		return err
	}
	for _, r := range rules {
		event := ContentSyncEvent{
			ReleaseID:   release.ID,
			Version:     release.Version,
			RuleID:      r.ID,
			ConceptSlug: r.ConceptSlug,
			ChangeType:  c.changeTypeFor(ctx, r),
			Value:       r.Value,
			RiskTier:    string(r.RiskTier),
			Confidence:  r.Confidence,
			SourceURL:   c.primarySourceURL(ctx, r),
		}
		if r.SupersedesID != "" {
			if prev, found, err := c.rules.Get(ctx, r.SupersedesID); err == nil && found {
				event.PreviousValue = prev.Value
			}
		}
		body, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if _, err := c.q.Enqueue(ctx, c.queueName, body, queue.EnqueueOptions{
			JobID: "content-sync-" + release.ID + "-" + r.ID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// changeTypeFor classifies a published rule for downstream consumers: a
// rule superseding another is an update (or a repeal when its own value is
// empty); anything else is a create.
func (c *QueueContentSync) changeTypeFor(_ context.Context, r domain.Rule) string {
	switch {
	case r.SupersedesID != "" && r.Value == "":
		return "repeal"
	case r.SupersedesID != "":
		return "update"
	default:
		return "create"
	}
}

// primarySourceURL resolves the rule's first backing quote's Evidence URL.
func (c *QueueContentSync) primarySourceURL(ctx context.Context, r domain.Rule) string {
	facts, err := c.facts.ListByIDs(ctx, r.BackingCandidateFactIDs)
	if err != nil {
		return ""
	}
	for _, f := range facts {
		for _, gq := range f.GroundingQuotes {
			if ev, found, err := c.evidence.Get(ctx, gq.EvidenceID); err == nil && found {
				return ev.URL
			}
		}
	}
	return ""
}
