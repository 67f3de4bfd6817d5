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

package llmrunner_test

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/circuitbreaker"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/domain"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/llmrunner"
)

func TestLLMRunner(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "LLM Runner Suite")
}

// scriptedClient replays a fixed sequence of (content, tokens, err) results,
// one per ChatCompletion call, so retry behavior can be exercised without a
// live provider.
type scriptedClient struct {
	calls   int
	results []scriptedResult
}

type scriptedResult struct {
	content string
	tokens  int
	err     error
}

func (c *scriptedClient) ChatCompletion(_ context.Context, _, _ string, _ float64) (string, int, error) {
	r := c.results[c.calls]
	c.calls++
	return r.content, r.tokens, r.err
}

type memAgentRunStore struct {
	runs []domain.AgentRun
}

func (s *memAgentRunStore) Save(_ context.Context, run domain.AgentRun) error {
	s.runs = append(s.runs, run)
	return nil
}

var _ = Describe("Runner", func() {
	var (
		logger  *logrus.Logger
		breaker *circuitbreaker.Breaker
		store   *memAgentRunStore
		inputS  llmrunner.Schema
		outputS llmrunner.Schema
		templates map[string]string
	)

	BeforeEach(func() {
		logger = logrus.New()
		logger.SetLevel(logrus.FatalLevel)

		mr, err := miniredis.Run()
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(mr.Close)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		DeferCleanup(func() { _ = client.Close() })

		breaker = circuitbreaker.New("ollama", circuitbreaker.NewRedisStore(client))
		store = &memAgentRunStore{}
		inputS = llmrunner.Schema{Required: []string{"sourceText"}}
		outputS = llmrunner.Schema{Required: []string{"facts"}}
		templates = map[string]string{"extract": "Extract regulatory facts from the given text."}
	})

	It("fails fast on invalid input without ever calling the provider", func() {
		chat := &scriptedClient{results: []scriptedResult{{content: `{"facts":[]}`}}}
		runner := llmrunner.New("ollama", chat, breaker, store, templates, logger)

		result := runner.Run(context.Background(), "extract", map[string]any{}, inputS, outputS, llmrunner.RunOptions{Temperature: 0.2, MaxRetries: 3})

		Expect(result.Success).To(BeFalse())
		Expect(result.Error).To(ContainSubstring("Invalid input"))
		Expect(chat.calls).To(Equal(0))
		Expect(store.runs).To(HaveLen(1))
		Expect(store.runs[0].Status).To(Equal(domain.AgentRunFailed))
	})

	It("parses a fenced JSON object and validates it against the output schema", func() {
		chat := &scriptedClient{results: []scriptedResult{
			{content: "```json\n{\"facts\": [\"fact one\"]}\n```", tokens: 42},
		}}
		runner := llmrunner.New("ollama", chat, breaker, store, templates, logger)

		result := runner.Run(context.Background(), "extract", map[string]any{"sourceText": "x"}, inputS, outputS, llmrunner.RunOptions{Temperature: 0.2, MaxRetries: 3})

		Expect(result.Success).To(BeTrue())
		Expect(result.Output).To(HaveKey("facts"))
		Expect(result.TokensUsed).To(Equal(42))
		Expect(store.runs).To(HaveLen(1))
		Expect(store.runs[0].Status).To(Equal(domain.AgentRunCompleted))
	})

	It("succeeds on a JSON answer delivered as content", func() {
		chat := &scriptedClient{results: []scriptedResult{
			{content: "", tokens: 10},
		}}
		// scriptedClient ignores thinking; simulate via content directly
		// containing the JSON, since the HTTPClient is what maps thinking
		// into content before the runner ever sees it.
		chat.results[0].content = `{"facts": []}`
		runner := llmrunner.New("ollama", chat, breaker, store, templates, logger)

		result := runner.Run(context.Background(), "extract", map[string]any{"sourceText": "x"}, inputS, outputS, llmrunner.RunOptions{Temperature: 0.2, MaxRetries: 3})
		Expect(result.Success).To(BeTrue())
	})

	It("retries on transient failures up to maxRetries and then fails", func() {
		chat := &scriptedClient{results: []scriptedResult{
			{err: errors.New("connection reset")},
			{err: errors.New("connection reset")},
			{err: errors.New("connection reset")},
		}}
		runner := llmrunner.New("ollama", chat, breaker, store, templates, logger)

		result := runner.Run(context.Background(), "extract", map[string]any{"sourceText": "x"}, inputS, outputS, llmrunner.RunOptions{Temperature: 0.2, MaxRetries: 3})

		Expect(result.Success).To(BeFalse())
		Expect(chat.calls).To(Equal(3))
		Expect(store.runs[len(store.runs)-1].Status).To(Equal(domain.AgentRunFailed))
	})

	It("succeeds after a transient failure within the retry budget", func() {
		chat := &scriptedClient{results: []scriptedResult{
			{err: errors.New("timeout")},
			{content: `{"facts": ["recovered"]}`},
		}}
		runner := llmrunner.New("ollama", chat, breaker, store, templates, logger)

		result := runner.Run(context.Background(), "extract", map[string]any{"sourceText": "x"}, inputS, outputS, llmrunner.RunOptions{Temperature: 0.2, MaxRetries: 3})

		Expect(result.Success).To(BeTrue())
		Expect(chat.calls).To(Equal(2))
	})

	It("fails fast once the circuit breaker is open", func() {
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			Expect(breaker.RecordFailure(ctx, "boom")).To(Succeed())
		}
		st, err := breaker.GetState(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(st.State).To(Equal(circuitbreaker.Open))

		chat := &scriptedClient{results: []scriptedResult{{content: `{"facts": []}`}}}
		runner := llmrunner.New("ollama", chat, breaker, store, templates, logger)

		result := runner.Run(ctx, "extract", map[string]any{"sourceText": "x"}, inputS, outputS, llmrunner.RunOptions{Temperature: 0.2, MaxRetries: 3})

		Expect(result.Success).To(BeFalse())
		Expect(chat.calls).To(Equal(0), "the provider is never called while the breaker is open")
	})

	It("counts an output-schema failure as a retry attempt", func() {
		chat := &scriptedClient{results: []scriptedResult{
			{content: `{"wrongField": true}`},
			{content: `{"wrongField": true}`},
			{content: `{"facts": []}`},
		}}
		runner := llmrunner.New("ollama", chat, breaker, store, templates, logger)

		result := runner.Run(context.Background(), "extract", map[string]any{"sourceText": "x"}, inputS, outputS, llmrunner.RunOptions{Temperature: 0.2, MaxRetries: 3})

		Expect(result.Success).To(BeTrue())
		Expect(chat.calls).To(Equal(3))
	})
})

