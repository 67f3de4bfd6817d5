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

// Package llmrunner is the LLM-facing runner: a single entry point that
// validates input, renders a prompt, gates the call through a per-provider
// circuit breaker, retries with a rate-limit-aware backoff, and records
// every invocation as an AgentRun.
package llmrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/circuitbreaker"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/domain"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/errs"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/metrics"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/queue"
)

// strictJSONTrailer is appended to every system prompt.
const strictJSONTrailer = "\n\nRespond with a single JSON object only. Do not include any prose, explanation, or markdown code fences outside the object."

// Schema validates a decoded JSON payload. There is no JSON-Schema library
// in the dependency set this runner draws from, so input/output schemas are
// expressed as a small required-fields-and-types check rather than a full
// draft-07 validator; RunOptions itself is validated with
// go-playground/validator struct tags below.
type Schema struct {
	Required []string
	Types    map[string]Kind
}

// Kind names the accepted JSON value shapes for a field.
type Kind int

const (
	KindAny Kind = iota
	KindString
	KindNumber
	KindBool
	KindObject
	KindArray
)

// Validate reports the first schema violation found in data, or nil.
func (s Schema) Validate(data map[string]any) error {
	for _, field := range s.Required {
		if _, ok := data[field]; !ok {
			return fmt.Errorf("missing required field %q", field)
		}
	}
	for field, kind := range s.Types {
		v, ok := data[field]
		if !ok {
			continue
		}
		if !kindMatches(kind, v) {
			return fmt.Errorf("field %q has the wrong type", field)
		}
	}
	return nil
}

func kindMatches(kind Kind, v any) bool {
	switch kind {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindNumber:
		_, ok := v.(float64)
		return ok
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindObject:
		_, ok := v.(map[string]any)
		return ok
	case KindArray:
		_, ok := v.([]any)
		return ok
	default:
		return true
	}
}

// RunOptions configures one invocation of Run.
type RunOptions struct {
	Temperature float64     `validate:"gte=0,lte=2"`
	MaxRetries  int         `validate:"gte=1"`
	Correlation domain.Correlation
}

// RunResult is the outcome of a successful or exhausted Run.
type RunResult struct {
	Success    bool
	Output     map[string]any
	Error      string
	RunID      string
	DurationMs int64
	TokensUsed int
}

// Client speaks the provider's chat-completion wire format. HTTPClient
// (below) is the production Ollama-family implementation.
type Client interface {
	ChatCompletion(ctx context.Context, systemPrompt, userMessage string, temperature float64) (content string, tokensUsed int, err error)
}

// AgentRunStore persists AgentRun rows.
type AgentRunStore interface {
	Save(ctx context.Context, run domain.AgentRun) error
}

// Runner wraps one LLM provider behind schema-validated JSON I/O.
type Runner struct {
	provider  string
	client    Client
	breaker   *circuitbreaker.Breaker
	runs      AgentRunStore
	templates map[string]string
	log       *logrus.Logger
	validate  *validator.Validate
	now       func() time.Time
}

// New constructs a Runner. templates maps an agentType to its system prompt
// body (the strict-JSON trailer is appended automatically).
func New(provider string, client Client, breaker *circuitbreaker.Breaker, runs AgentRunStore, templates map[string]string, log *logrus.Logger) *Runner {
	return &Runner{
		provider:  provider,
		client:    client,
		breaker:   breaker,
		runs:      runs,
		templates: templates,
		log:       log,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// Run validates input, gates the call through the circuit breaker, and
// retries with a rate-limit-aware backoff up to opts.MaxRetries attempts.
func (r *Runner) Run(ctx context.Context, agentType string, input map[string]any, inputSchema, outputSchema Schema, opts RunOptions) RunResult {
	runID := uuid.New().String()
	started := r.now()

	if err := r.validate.Struct(opts); err != nil {
		return r.fail(ctx, agentType, input, runID, started, "invalid run options: "+err.Error())
	}

	// Step 1: input validation is never retried.
	if err := inputSchema.Validate(input); err != nil {
		return r.fail(ctx, agentType, input, runID, started, "Invalid input: "+err.Error())
	}

	canCall, err := r.breaker.CanCall(ctx)
	if err != nil {
		return r.fail(ctx, agentType, input, runID, started, "circuit breaker unavailable: "+err.Error())
	}
	if !canCall {
		return r.fail(ctx, agentType, input, runID, started, "circuit breaker open for provider "+r.provider)
	}

	template := r.templates[agentType]
	systemPrompt := template + strictJSONTrailer
	userMessage := renderInput(input)

	lastKind := queue.FailureGeneral
	bo := &classifiedBackOff{kindOf: func() queue.FailureClass { return lastKind }}

	attemptResult, runErr := backoff.Retry(ctx, func() (attemptOutcome, error) {
		out, tokens, kind, aerr := r.attempt(ctx, systemPrompt, userMessage, opts.Temperature, outputSchema)
		if aerr != nil {
			lastKind = kind
			breakerErr := r.breaker.RecordFailure(ctx, aerr.Error())
			if breakerErr != nil {
				r.log.WithError(breakerErr).Warn("llmrunner: failed to record breaker failure")
			}
			return attemptOutcome{}, aerr
		}
		return attemptOutcome{output: out, tokens: tokens}, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(opts.MaxRetries)))

	duration := r.now().Sub(started)

	if runErr != nil {
		// Each attempt already recorded its own failure into the breaker
		// inside the retry callback above; recording again here would count
		// the same terminal failure twice against the consecutive-failure
		// threshold.
		run := domain.AgentRun{
			ID: runID, AgentType: agentType, Status: domain.AgentRunFailed,
			Input: input, DurationMs: duration.Milliseconds(), Error: runErr.Error(),
			Correlation: opts.Correlation, StartedAt: started,
		}
		r.record(ctx, run)
		return RunResult{Success: false, Error: runErr.Error(), RunID: runID, DurationMs: duration.Milliseconds()}
	}

	if err := r.breaker.RecordSuccess(ctx); err != nil {
		r.log.WithError(err).Warn("llmrunner: failed to record breaker success")
	}
	completedAt := r.now()
	run := domain.AgentRun{
		ID: runID, AgentType: agentType, Status: domain.AgentRunCompleted,
		Input: input, Output: attemptResult.output, DurationMs: duration.Milliseconds(),
		Confidence: confidenceOf(attemptResult.output), Correlation: opts.Correlation,
		StartedAt: started, CompletedAt: &completedAt,
	}
	r.record(ctx, run)

	return RunResult{
		Success: true, Output: attemptResult.output, RunID: runID,
		DurationMs: duration.Milliseconds(), TokensUsed: attemptResult.tokens,
	}
}

type attemptOutcome struct {
	output map[string]any
	tokens int
}

// attempt performs one chat-completion call, then parses and validates
// the response.
func (r *Runner) attempt(ctx context.Context, systemPrompt, userMessage string, temperature float64, outputSchema Schema) (map[string]any, int, queue.FailureClass, error) {
	content, tokens, err := r.client.ChatCompletion(ctx, systemPrompt, userMessage, temperature)
	if err != nil {
		return nil, 0, classifyError(err), errors.Wrap(err, "chat completion")
	}

	parsed, err := parseResponse(content)
	if err != nil {
		return nil, 0, queue.FailureGeneral, errors.Wrap(err, "parse response")
	}

	if err := outputSchema.Validate(parsed); err != nil {
		return nil, 0, queue.FailureGeneral, errors.Wrap(err, "output schema")
	}

	return parsed, tokens, "", nil
}

func (r *Runner) fail(ctx context.Context, agentType string, input map[string]any, runID string, started time.Time, msg string) RunResult {
	run := domain.AgentRun{
		ID: runID, AgentType: agentType, Status: domain.AgentRunFailed,
		Input: input, Error: msg, StartedAt: started,
		DurationMs: r.now().Sub(started).Milliseconds(),
	}
	r.record(ctx, run)
	return RunResult{Success: false, Error: msg, RunID: runID}
}

func (r *Runner) record(ctx context.Context, run domain.AgentRun) {
	metrics.RecordAgentRun(run.AgentType, string(run.Status), time.Duration(run.DurationMs)*time.Millisecond)
	if r.runs == nil {
		return
	}
	if err := r.runs.Save(ctx, run); err != nil {
		r.log.WithError(err).Error("llmrunner: failed to persist AgentRun")
	}
}

// classifiedBackOff wires the queue package's rate-limit-aware delay
// schedule into cenkalti/backoff's retry loop: the delay for attempt N
// depends on how the most recent attempt failed.
type classifiedBackOff struct {
	attempt int
	kindOf  func() queue.FailureClass
}

func (b *classifiedBackOff) NextBackOff() time.Duration {
	d := queue.BackoffDelay(b.kindOf(), b.attempt)
	b.attempt++
	return d
}

func (b *classifiedBackOff) Reset() { b.attempt = 0 }

// classifyError reports whether err represents a rate-limit response.
func classifyError(err error) queue.FailureClass {
	if err == nil {
		return queue.FailureGeneral
	}
	if strings.Contains(err.Error(), "429") || strings.Contains(strings.ToLower(err.Error()), "rate limit") {
		return queue.FailureRateLimited
	}
	return queue.FailureGeneral
}

// renderInput renders input as indented JSON for the user message.
func renderInput(input map[string]any) string {
	raw, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// parseResponse extracts the first balanced JSON object from a model
// response, preferring message.content-style plain output and stripping
// code fences.
func parseResponse(content string) (map[string]any, error) {
	stripped := stripCodeFences(content)
	obj, err := firstBalancedObject(stripped)
	if err != nil {
		return nil, err
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return nil, errors.Wrap(err, "invalid JSON object")
	}
	return parsed, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// firstBalancedObject scans s for the first top-level balanced `{...}`
// span, respecting string literals so braces inside string values are
// ignored.
func firstBalancedObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", errs.New(errs.InternalError, "no JSON object found in response")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", errs.New(errs.InternalError, "unbalanced JSON object in response")
}

// confidenceOf extracts a top-level numeric "confidence" field, if present.
func confidenceOf(output map[string]any) *float64 {
	v, ok := output["confidence"]
	if !ok {
		return nil
	}
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	return &f
}
