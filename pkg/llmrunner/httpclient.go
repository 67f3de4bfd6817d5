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

package llmrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"

	"github.com/Wandeon/FiskAI-App-sub004/internal/config"
)

// maxOutputTokens is the output budget requested per chat completion.
const maxOutputTokens = 4096

// chatMessage is one entry of an Ollama-family chat-completion request.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatOptions mirrors the Ollama-family request's nested options object:
// {model, messages, stream:false, options:{temperature, num_predict}}.
type chatOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

// chatResponseMessage mirrors the provider's response shape; Thinking is
// populated by thinking-style models that emit their JSON answer there
// instead of in Content.
type chatResponseMessage struct {
	Content  string `json:"content"`
	Thinking string `json:"thinking"`
}

// chatResponse mirrors the provider's response contract verbatim:
// {message:{content?,thinking?}, eval_count?}. eval_count is the
// provider's token-count field; there is no usage.total_tokens in the
// Ollama-family wire format.
type chatResponse struct {
	Message   chatResponseMessage `json:"message"`
	EvalCount int                 `json:"eval_count"`
}

// HTTPClient is the Ollama-family chat-completion Client configured via
// the OLLAMA_* / OLLAMA_EXTRACT_* environment.
type HTTPClient struct {
	cfg config.LLMConfig
	hc  *http.Client
}

// NewHTTPClient validates cfg and constructs an HTTPClient. Only the
// "ollama" provider is supported, matching the external interfaces this
// pipeline is wired to.
func NewHTTPClient(cfg config.LLMConfig) (*HTTPClient, error) {
	if cfg.Provider != "ollama" {
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("missing endpoint for provider: %s", cfg.Provider)
	}
	return &HTTPClient{
		cfg: cfg,
		hc:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// ChatCompletion implements Client.
func (c *HTTPClient) ChatCompletion(ctx context.Context, systemPrompt, userMessage string, temperature float64) (string, int, error) {
	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userMessage},
		},
		Stream: false,
		Options: chatOptions{
			Temperature: temperature,
			NumPredict:  maxOutputTokens,
		},
	}
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return "", 0, errors.Wrap(err, "marshal chat request")
	}

	endpoint := c.cfg.Endpoint + "/api/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return "", 0, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	started := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", 0, errors.Wrap(err, "chat request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, errors.Wrap(err, "read response body")
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", 0, fmt.Errorf("provider returned 429 rate limit after %s", time.Since(started))
	}
	if resp.StatusCode >= 400 {
		return "", 0, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", 0, errors.Wrap(err, "decode chat response")
	}

	content := parsed.Message.Content
	if content == "" {
		content = parsed.Message.Thinking
	}
	return content, parsed.EvalCount, nil
}
