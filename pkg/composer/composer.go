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

// Package composer groups CandidateFacts by domain, asks the LLM runner
// to form a draft rule, validates the Applies-When DSL, derives authority
// level, detects source conflicts, and persists the Rule in DRAFT.
package composer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/audit"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/domain"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/dsl"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/errs"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/llmrunner"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/store"
)

// AgentType is the llmrunner agentType this component calls.
const AgentType = "COMPOSER"

// Temperature is the fixed sampling temperature for composition calls.
const Temperature = 0.1

// batchSleep is the inter-group delay for RunBatch, easing provider rate
// limits.
const batchSleep = 3 * time.Second

// InputSchema/OutputSchema describe the COMPOSER agent's contract. The
// response is a union: either draft_rule or conflicts_detected, so neither
// field is marked required at the top level; Compose inspects whichever is
// present.
var InputSchema = llmrunner.Schema{
	Required: []string{"candidateFacts"},
}

var OutputSchema = llmrunner.Schema{}

// AuthorityResolver maps a backing CandidateFact to the hierarchy tier of
// the source behind it. The source ontology itself is out of core scope,
// so callers supply the resolver.
type AuthorityResolver interface {
	AuthorityFor(factID string) domain.AuthorityLevel
}

// Composer turns grouped CandidateFacts into draft Rules.
type Composer struct {
	runner    *llmrunner.Runner
	facts     store.CandidateFactRepository
	rules     store.RuleRepository
	conflicts store.ConflictRepository
	authority AuthorityResolver
	auditLog  audit.Store
	log       *logrus.Logger
}

// New constructs a Composer.
func New(runner *llmrunner.Runner, facts store.CandidateFactRepository, rules store.RuleRepository, conflicts store.ConflictRepository, authority AuthorityResolver, auditLog audit.Store, log *logrus.Logger) *Composer {
	if log == nil {
		log = logrus.New()
	}
	return &Composer{
		runner: runner, facts: facts, rules: rules, conflicts: conflicts,
		authority: authority, auditLog: auditLog, log: log,
	}
}

// Outcome reports what Compose produced.
type Outcome struct {
	RuleID     string
	ConflictID string
	Conflict   bool
}

// Compose turns one domain-sharing group of CandidateFacts into a draft
// Rule, or an OPEN Conflict when the LLM reports one.
func (c *Composer) Compose(ctx context.Context, factIDs []string, corr domain.Correlation) (Outcome, error) {
	facts, err := c.facts.ListByIDs(ctx, factIDs)
	if err != nil {
		return Outcome{}, errs.Wrap(err, errs.InternalError, "load candidate facts")
	}
	if len(facts) == 0 {
		return Outcome{}, errs.New(errs.ValidationError, "no candidate facts to compose")
	}

	input := map[string]any{
		"candidateFacts": renderFacts(facts),
	}

	runResult := c.runner.Run(ctx, AgentType, input, InputSchema, OutputSchema, llmrunner.RunOptions{
		Temperature: Temperature, MaxRetries: 3, Correlation: corr,
	})
	if !runResult.Success {
		return Outcome{}, errs.New(errs.InternalError, "composer LLM call failed: "+runResult.Error)
	}

	if conflictRaw, ok := runResult.Output["conflicts_detected"].(map[string]any); ok {
		return c.handleConflict(ctx, factIDs, conflictRaw, corr)
	}

	draftRaw, ok := runResult.Output["draft_rule"].(map[string]any)
	if !ok {
		return Outcome{}, errs.New(errs.ValidationError, "composer output has neither draft_rule nor conflicts_detected")
	}

	return c.persistDraft(ctx, facts, draftRaw, corr)
}

// handleConflict creates an OPEN SOURCE_CONFLICT naming the first two
// input CandidateFact ids, audits it, and fails the composition so it can
// be arbitrated later.
func (c *Composer) handleConflict(ctx context.Context, factIDs []string, conflictRaw map[string]any, corr domain.Correlation) (Outcome, error) {
	pair := factIDs
	if len(pair) > 2 {
		pair = pair[:2]
	}
	description, _ := conflictRaw["description"].(string)

	saved, err := c.conflicts.Save(ctx, domain.Conflict{
		ID:           uuid.NewString(),
		ConflictType: domain.SourceConflict,
		Status:       domain.ConflictOpen,
		Description:  description,
		Metadata: map[string]any{
			"conflictingPointerIds": pair,
			"conflictDetails":       conflictRaw,
		},
	})
	if err != nil {
		return Outcome{}, errs.Wrap(err, errs.InternalError, "save conflict")
	}

	c.emitAudit(ctx, audit.EventConflictDetected, "Conflict", saved.ID, corr, map[string]any{"factIds": pair})

	return Outcome{Conflict: true, ConflictID: saved.ID}, errs.New(errs.ValidationError, "source conflict detected, see conflict "+saved.ID)
}

// draftRuleFields mirrors the COMPOSER agent's draft_rule output shape.
type draftRuleFields struct {
	conceptSlug    string
	titleHr        string
	titleEn        string
	riskTier       string
	appliesWhen    map[string]any
	value          string
	valueType      string
	effectiveFrom  string
	effectiveUntil string
	supersedes     string
	confidence     float64
	composerNotes  string
}

func (c *Composer) persistDraft(ctx context.Context, facts []domain.CandidateFact, draftRaw map[string]any, corr domain.Correlation) (Outcome, error) {
	d := decodeDraft(draftRaw)

	appliesWhen, autoFixNote := dsl.ValidateOrFallback(d.appliesWhen)
	if autoFixNote != "" {
		d.composerNotes = appendNote(d.composerNotes, autoFixNote)
	}

	levels := make([]domain.AuthorityLevel, 0, len(facts))
	for _, f := range facts {
		if c.authority != nil {
			levels = append(levels, c.authority.AuthorityFor(f.ID))
		}
	}
	authorityLevel := domain.HighestAuthority(levels)

	// Always link to the exact input CandidateFact ids, ignoring whatever
	// source_pointer_ids the LLM hallucinated.
	backingIDs := make([]string, len(facts))
	for i, f := range facts {
		backingIDs[i] = f.ID
	}

	effectiveFrom, _ := parseDate(d.effectiveFrom)
	var effectiveUntil *time.Time
	if t, ok := parseDate(d.effectiveUntil); ok {
		effectiveUntil = &t
	}
	if effectiveUntil != nil && effectiveUntil.Before(effectiveFrom) {
		effectiveUntil = nil
		d.composerNotes = appendNote(d.composerNotes, "effective_until preceded effective_from and was dropped")
	}

	rule := domain.Rule{
		ID:                      uuid.NewString(),
		ConceptSlug:             d.conceptSlug,
		TitleHr:                 d.titleHr,
		TitleEn:                 d.titleEn,
		RiskTier:                domain.RiskTier(d.riskTier),
		AuthorityLevel:          authorityLevel,
		AppliesWhen:             appliesWhen,
		Value:                   d.value,
		ValueType:               domain.ValueType(d.valueType),
		EffectiveFrom:           effectiveFrom,
		EffectiveUntil:          effectiveUntil,
		SupersedesID:            d.supersedes,
		Status:                  domain.RuleDraft,
		Confidence:              d.confidence,
		BackingCandidateFactIDs: backingIDs,
	}

	// The concept row must exist before the rule references it.
	if err := c.rules.UpsertConcept(ctx, d.conceptSlug, d.titleHr, d.titleEn); err != nil {
		return Outcome{}, errs.Wrap(err, errs.InternalError, "upsert concept")
	}
	if err := c.rules.Save(ctx, rule); err != nil {
		return Outcome{}, errs.Wrap(err, errs.InternalError, "save draft rule")
	}
	if d.supersedes != "" {
		if err := c.rules.LinkAmends(ctx, rule.ID, d.supersedes); err != nil {
			c.log.WithError(err).Warn("composer: failed to link AMENDS edge")
		}
	}

	c.emitAudit(ctx, audit.EventRuleCreated, "Rule", rule.ID, corr, map[string]any{"conceptSlug": rule.ConceptSlug})

	return Outcome{RuleID: rule.ID}, nil
}

func (c *Composer) emitAudit(ctx context.Context, eventType, resourceType, resourceID string, corr domain.Correlation, data any) {
	if c.auditLog == nil {
		return
	}
	ev, err := audit.NewEvent(eventType, "pipeline", eventType, "SUCCESS", "system", "composer", resourceType, resourceID, corr.RunID, data)
	if err != nil {
		c.log.WithError(err).Warn("composer: failed to build audit event")
		return
	}
	if err := c.auditLog.Write(ctx, ev); err != nil {
		c.log.WithError(err).Warn("composer: failed to write audit event")
	}
}

func decodeDraft(raw map[string]any) draftRuleFields {
	str := func(k string) string { s, _ := raw[k].(string); return s }
	conf, _ := raw["confidence"].(float64)
	appliesWhen, _ := raw["applies_when"].(map[string]any)
	if appliesWhen == nil {
		appliesWhen = dsl.TrivialAccept
	}
	return draftRuleFields{
		conceptSlug: str("concept_slug"), titleHr: str("title_hr"), titleEn: str("title_en"),
		riskTier: str("risk_tier"), appliesWhen: appliesWhen, value: str("value"),
		valueType: str("value_type"), effectiveFrom: str("effective_from"),
		effectiveUntil: str("effective_until"), supersedes: str("supersedes"),
		confidence: conf, composerNotes: str("composer_notes"),
	}
}

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func appendNote(notes, addition string) string {
	if notes == "" {
		return addition
	}
	return notes + "; " + addition
}

func renderFacts(facts []domain.CandidateFact) []map[string]any {
	out := make([]map[string]any, len(facts))
	for i, f := range facts {
		quotes := make([]map[string]any, len(f.GroundingQuotes))
		for j, q := range f.GroundingQuotes {
			quotes[j] = map[string]any{
				"text": q.Text, "evidenceId": q.EvidenceID,
				"articleNumber": q.ArticleNumber, "lawReference": q.LawReference,
			}
		}
		out[i] = map[string]any{
			"id": f.ID, "domain": f.Domain, "valueType": string(f.ValueType),
			"extractedValue": f.ExtractedValue, "confidence": f.OverallConfidence,
			"groundingQuotes": quotes,
		}
	}
	return out
}

// BatchResult aggregates a RunBatch call.
type BatchResult struct {
	Success int
	Failed  int
	Errors  []string
}

// RunBatch groups ungrouped CandidateFacts by domain and composes each
// group, sleeping between groups.
func (c *Composer) RunBatch(ctx context.Context, limit int, corr domain.Correlation) BatchResult {
	ungrouped, err := c.facts.ListUngrouped(ctx, limit)
	if err != nil {
		return BatchResult{Errors: []string{"list ungrouped facts: " + err.Error()}}
	}

	byDomain := make(map[string][]string)
	order := make([]string, 0)
	for _, f := range ungrouped {
		if _, ok := byDomain[f.Domain]; !ok {
			order = append(order, f.Domain)
		}
		byDomain[f.Domain] = append(byDomain[f.Domain], f.ID)
	}

	result := BatchResult{}
	for i, d := range order {
		_, err := c.Compose(ctx, byDomain[d], corr)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, d+": "+err.Error())
		} else {
			result.Success++
		}
		if i < len(order)-1 {
			select {
			case <-ctx.Done():
				return result
			case <-time.After(batchSleep):
			}
		}
	}
	return result
}
