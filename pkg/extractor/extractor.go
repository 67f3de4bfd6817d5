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

// Package extractor reads Evidence, cleans its content, asks the LLM
// runner for typed extractions, runs deterministic validators (domain
// allow-list, quote-in-source, value-range, date/currency shape), writes
// CandidateFacts, and dead-letters invalid outputs.
package extractor

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/clean"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/domain"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/errs"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/llmrunner"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/metrics"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/quote"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/store"
)

// AgentType is the llmrunner agentType this component calls.
const AgentType = "EXTRACTOR"

// Temperature is the fixed sampling temperature for extraction calls.
const Temperature = 0.1

// batchSleep is the inter-invocation delay for RunBatch, easing provider
// rate limits.
const batchSleep = 5 * time.Second

// DomainAllowList is the closed set of domains an extraction's Domain
// field must belong to. Populated at construction time from the regulatory
// domain ontology; callers supply their own list.
type DomainAllowList map[string]bool

// BlockedHosts is the set of test/sandbox hosts the extractor refuses to
// read from.
type BlockedHosts map[string]bool

// InputSchema/OutputSchema are the llmrunner.Schema definitions for the
// EXTRACTOR agent.
var InputSchema = llmrunner.Schema{
	Required: []string{"evidenceId", "content", "contentType", "sourceUrl"},
}

var OutputSchema = llmrunner.Schema{
	Required: []string{"extractions"},
	Types:    map[string]llmrunner.Kind{"extractions": llmrunner.KindArray},
}

// rawExtraction is one element of the EXTRACTOR agent's "extractions" array.
type rawExtraction struct {
	Domain          string  `json:"domain" validate:"required"`
	ValueType       string  `json:"value_type" validate:"required"`
	ExtractedValue  string  `json:"extracted_value" validate:"required"`
	ExactQuote      string  `json:"exact_quote" validate:"required"`
	ContextBefore   string  `json:"context_before"`
	ContextAfter    string  `json:"context_after"`
	Confidence      float64 `json:"confidence"`
	ArticleNumber   string  `json:"article_number"`
	LawReference    string  `json:"law_reference"`
	ExtractionNotes string  `json:"extraction_notes"`
}

// currencyRe matches a configurable currency shape; a reasonable default
// (ISO code or symbol, optional thousand separators, decimal comma/dot).
var currencyRe = regexp.MustCompile(`^(EUR|USD|HRK|€|\$)?\s?-?[\d.,\s]+\s?(EUR|USD|HRK|€|\$)?$`)

// Extractor turns Evidence into validated CandidateFacts.
type Extractor struct {
	runner       *llmrunner.Runner
	facts        store.CandidateFactRepository
	evidence     store.EvidenceRepository
	domains      DomainAllowList
	blockedHosts BlockedHosts
	requireBoth  bool // "require both" policy: quote must match raw AND cleaned content
	log          *logrus.Logger
	validate     *validator.Validate
}

// New constructs an Extractor. requireBoth enables the stricter
// "exact_quote must be a substring of both raw and cleaned content"
// policy.
func New(runner *llmrunner.Runner, facts store.CandidateFactRepository, evidence store.EvidenceRepository, domains DomainAllowList, blockedHosts BlockedHosts, requireBoth bool, log *logrus.Logger) *Extractor {
	if log == nil {
		log = logrus.New()
	}
	return &Extractor{
		runner: runner, facts: facts, evidence: evidence,
		domains: domains, blockedHosts: blockedHosts, requireBoth: requireBoth,
		log: log, validate: validator.New(),
	}
}

// Result summarizes one Run call for batch-mode bookkeeping.
type Result struct {
	Outcome  domain.OutcomeResult
	Promoted int
	Rejected int
}

// Run performs the extraction flow for a single Evidence row.
func (x *Extractor) Run(ctx context.Context, evidenceID string, corr domain.Correlation) (Result, error) {
	ev, found, err := x.evidence.Get(ctx, evidenceID)
	if err != nil {
		return Result{}, errs.Wrap(err, errs.InternalError, "load evidence")
	}
	if !found {
		return Result{}, errs.New(errs.NotFound, "evidence not found: "+evidenceID)
	}

	if host := hostOf(ev.URL); x.blockedHosts[host] {
		return Result{Outcome: domain.NewOutcome(domain.OutcomeFailure, 0, "BLOCKED_DOMAIN", "url host is blocklisted: "+host)}, nil
	}

	content := ev.ExtractableText()
	cleaned := clean.Clean(content, ev.URL)
	st := clean.ComputeStats(content, cleaned)
	x.log.WithFields(logrus.Fields{
		"evidenceId": evidenceID,
		"beforeSize": st.OriginalLength,
		"afterSize":  st.CleanedLength,
		"reduction":  st.ReductionPercent,
	}).Info("extractor: content cleaned")

	input := map[string]any{
		"evidenceId":  evidenceID,
		"content":     cleaned,
		"contentType": string(ev.ContentType),
		"sourceUrl":   ev.URL,
	}

	runResult := x.runner.Run(ctx, AgentType, input, InputSchema, OutputSchema, llmrunner.RunOptions{
		Temperature: Temperature, MaxRetries: 3, Correlation: corr,
	})
	if !runResult.Success {
		return Result{Outcome: domain.NewOutcome(domain.OutcomeFailure, 0, "LLM_CALL_FAILED", runResult.Error)}, nil
	}

	rawList, _ := runResult.Output["extractions"].([]any)
	promoted, rejected := 0, 0
	for _, item := range rawList {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		re := decodeRawExtraction(obj)

		if err := x.validate.Struct(re); err != nil {
			x.rejectRaw(ctx, evidenceID, domain.RejectValidationFailed, obj, err.Error())
			rejected++
			continue
		}

		if !x.domains[re.Domain] {
			x.rejectRaw(ctx, evidenceID, domain.RejectInvalidDomain, obj, "domain not in allow-list: "+re.Domain)
			rejected++
			continue
		}

		if ev.ContentType == domain.ContentJSON {
			re.ExactQuote, re.ExtractionNotes = repairJSONQuote(content, re.ExtractedValue, re.ExactQuote, re.ExtractionNotes)
		}

		if reason, detail := x.validateDeterministic(re, content, cleaned); reason != "" {
			x.rejectRaw(ctx, evidenceID, reason, obj, detail)
			rejected++
			continue
		}

		fact := domain.CandidateFact{
			ID:                uuid.NewString(),
			Domain:            re.Domain,
			ValueType:         domain.ValueType(re.ValueType),
			ExtractedValue:    re.ExtractedValue,
			ValueConfidence:   re.Confidence,
			OverallConfidence: re.Confidence,
			Status:            domain.FactCaptured,
			PromotionCandidate: re.Confidence >= 0.9,
			GroundingQuotes: []domain.GroundingQuote{{
				Text:          quote.Normalize(re.ExactQuote),
				ContextBefore: quote.Normalize(re.ContextBefore),
				ContextAfter:  quote.Normalize(re.ContextAfter),
				EvidenceID:    evidenceID,
				ArticleNumber: re.ArticleNumber,
				LawReference:  re.LawReference,
			}},
		}
		if err := x.facts.Save(ctx, fact); err != nil {
			return Result{}, errs.Wrap(err, errs.InternalError, "save candidate fact")
		}
		promoted++
	}

	coverage := x.coverageReport(evidenceID, rawList)
	if err := x.facts.SaveCoverageReport(ctx, coverage); err != nil {
		x.log.WithError(err).Warn("extractor: failed to persist coverage report")
	}

	return Result{
		Outcome:  domain.NewOutcome(domain.SuccessApplied, promoted, "NO_VALID_EXTRACTIONS", ""),
		Promoted: promoted,
		Rejected: rejected,
	}, nil
}

func decodeRawExtraction(obj map[string]any) rawExtraction {
	str := func(k string) string { s, _ := obj[k].(string); return s }
	conf, _ := obj["confidence"].(float64)
	return rawExtraction{
		Domain: str("domain"), ValueType: str("value_type"), ExtractedValue: str("extracted_value"),
		ExactQuote: str("exact_quote"), ContextBefore: str("context_before"), ContextAfter: str("context_after"),
		Confidence: conf, ArticleNumber: str("article_number"), LawReference: str("law_reference"),
		ExtractionNotes: str("extraction_notes"),
	}
}

// validateDeterministic runs the quote-containment and value-shape checks
// in order, returning the first failing reason (empty if all pass).
func (x *Extractor) validateDeterministic(re rawExtraction, raw, cleaned string) (domain.RejectionReason, string) {
	quoteOKRaw := quote.ContainsNormalized(raw, re.ExactQuote)
	quoteOKClean := quote.ContainsNormalized(cleaned, re.ExactQuote)
	quoteOK := quoteOKRaw || quoteOKClean
	if x.requireBoth {
		quoteOK = quoteOKRaw && quoteOKClean
	}
	if !quoteOK {
		return domain.RejectNoQuoteMatch, "exact_quote not found in evidence content"
	}

	switch domain.ValueType(re.ValueType) {
	case domain.ValuePercentage:
		v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(re.ExtractedValue), "%"), 64)
		if err != nil || v < 0 || v > 100 {
			return domain.RejectOutOfRange, "percentage value out of [0,100]: " + re.ExtractedValue
		}
	case domain.ValueCurrency:
		if !currencyRe.MatchString(strings.TrimSpace(re.ExtractedValue)) {
			return domain.RejectInvalidCurrency, "value does not match currency shape: " + re.ExtractedValue
		}
	case domain.ValueDate:
		if !parsesAsDate(re.ExtractedValue) {
			return domain.RejectInvalidDate, "value does not parse as a calendar date: " + re.ExtractedValue
		}
	}
	return "", ""
}

var dateLayouts = []string{"2006-01-02", "02.01.2006.", "02.01.2006", "2006-01-02T15:04:05Z07:00"}

func parsesAsDate(s string) bool {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func (x *Extractor) rejectRaw(ctx context.Context, evidenceID string, reason domain.RejectionReason, raw map[string]any, detail string) {
	rawJSON := renderRaw(raw)
	if err := x.facts.SaveRejection(ctx, domain.RejectedExtraction{
		ID: uuid.NewString(), EvidenceID: evidenceID, Reason: reason, RawOutput: rawJSON, Detail: detail,
	}); err != nil {
		x.log.WithError(err).Warn("extractor: failed to persist rejection")
	}
	metrics.RecordRejectedExtraction(string(reason))
}

func renderRaw(raw map[string]any) string {
	var sb strings.Builder
	for k, v := range raw {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(toStr(v))
		sb.WriteByte(';')
	}
	return sb.String()
}

func toStr(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

// coverageReport computes the distinct-domain coverage ratio against the
// allow-list size.
func (x *Extractor) coverageReport(evidenceID string, rawList []any) domain.CoverageReport {
	seen := make(map[string]bool)
	for _, item := range rawList {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if d, ok := obj["domain"].(string); ok {
			seen[d] = true
		}
	}
	total := len(x.domains)
	if total == 0 {
		return domain.CoverageReport{EvidenceID: evidenceID, Score: 0, Complete: false}
	}
	score := float64(len(seen)) / float64(total)
	return domain.CoverageReport{EvidenceID: evidenceID, Score: score, Complete: score >= 1.0}
}

func hostOf(rawURL string) string {
	rawURL = strings.TrimPrefix(rawURL, "https://")
	rawURL = strings.TrimPrefix(rawURL, "http://")
	if i := strings.IndexAny(rawURL, "/?#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	return strings.ToLower(rawURL)
}

// BatchResult aggregates a RunBatch call.
type BatchResult struct {
	Success int
	Failed  int
	Errors  []string
}

// RunBatch selects up to limit Evidences with no linked CandidateFacts,
// sleeping between invocations to avoid rate limits; a single failure
// never aborts the batch. An empty sourceIDs means every known source.
func (x *Extractor) RunBatch(ctx context.Context, limit int, sourceIDs []string, corr domain.Correlation) BatchResult {
	linked, err := x.facts.EvidenceIDsWithFacts(ctx)
	if err != nil {
		return BatchResult{Errors: []string{"list linked evidence: " + err.Error()}}
	}

	if len(sourceIDs) == 0 {
		summaries, err := x.evidence.SourceSummaries(ctx, 365*24*time.Hour)
		if err != nil {
			return BatchResult{Errors: []string{"list sources: " + err.Error()}}
		}
		for _, s := range summaries {
			sourceIDs = append(sourceIDs, s.SourceID)
		}
	}

	var candidates []domain.Evidence
	for _, sourceID := range sourceIDs {
		evs, err := x.evidence.ListBySource(ctx, sourceID, 0)
		if err != nil {
			continue
		}
		for _, e := range evs {
			if !linked[e.ID] {
				candidates = append(candidates, e)
			}
		}
		if limit > 0 && len(candidates) >= limit {
			break
		}
	}
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := BatchResult{}
	for i, ev := range candidates {
		func() {
			defer func() {
				if r := recover(); r != nil {
					result.Failed++
					result.Errors = append(result.Errors, "panic processing evidence "+ev.ID)
				}
			}()
			res, err := x.Run(ctx, ev.ID, corr)
			if err != nil || res.Outcome.Outcome == domain.OutcomeFailure {
				result.Failed++
				if err != nil {
					result.Errors = append(result.Errors, ev.ID+": "+err.Error())
				} else {
					result.Errors = append(result.Errors, ev.ID+": "+res.Outcome.Detail)
				}
				return
			}
			result.Success++
		}()
		if i < len(candidates)-1 {
			select {
			case <-ctx.Done():
				return result
			case <-time.After(batchSleep):
			}
		}
	}
	return result
}

// repairJSONQuote recomputes exact_quote for JSON-sourced content as a
// verbatim key:value fragment containing extractedValue, tolerant of
// thousand-separator whitespace and `.,` decimal variants.
func repairJSONQuote(content, extractedValue, fallbackQuote, notes string) (string, string) {
	normalizedValue := normalizeNumericVariants(extractedValue)
	lines := strings.Split(content, "\n")
	for _, line := range lines {
		if strings.Contains(normalizeNumericVariants(line), normalizedValue) {
			trimmed := strings.TrimSpace(line)
			return trimmed, appendNote(notes, "exact_quote recomputed from JSON source")
		}
	}
	return fallbackQuote, notes
}

var numericJunkRe = regexp.MustCompile(`[\s.,]`)

func normalizeNumericVariants(s string) string {
	return numericJunkRe.ReplaceAllString(s, "")
}

func appendNote(notes, addition string) string {
	if notes == "" {
		return addition
	}
	return notes + "; " + addition
}
