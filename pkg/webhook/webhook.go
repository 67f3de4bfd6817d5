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

// Package webhook implements webhook intake: HMAC/timestamp signature
// verification (SHA-256/SHA-1, GitHub/raw/base64 encodings, Stripe-style
// timestamped signatures) and event parsing into fetch URLs.
package webhook

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // legacy senders still sign with SHA-1
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Algorithm names the HMAC digest used to sign a webhook body.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SHA1   Algorithm = "sha1"
)

// maxTimestampSkew is the Stripe-style stale-timestamp rejection window.
const maxTimestampSkew = 300 * time.Second

// Config configures one webhook endpoint's signature verification.
type Config struct {
	Secret          string
	Algorithm       Algorithm // default SHA256
	SignatureHeader string    // default "X-Hub-Signature-256"
	// StripeStyle, when true, expects SignatureHeader to carry
	// "t=<unix>,v1=<hex>" and verifies HMAC over "<t>.<body>" rather than
	// the raw body, rejecting timestamps older than maxTimestampSkew.
	StripeStyle bool
}

// EventType classifies a parsed webhook payload by where it yields fetch URLs.
type EventType string

const (
	EventRSSItem            EventType = "RSS_ITEM"
	EventEmailNotification  EventType = "EMAIL_NOTIFICATION"
	EventHTTPPost           EventType = "HTTP_POST"
	EventUnrecognized       EventType = "UNRECOGNIZED"
)

// ParsedEvent is a webhook payload resolved to one or more source URLs to
// fetch, along with the event type used to pick the URL-extraction strategy.
type ParsedEvent struct {
	Type EventType
	URLs []string
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"]+`)

// VerifySignature checks body against the signature carried in header,
// using a timing-safe comparison. Accepted encodings: GitHub-style
// "sha256=<hex>", raw hex, base64, and Stripe-style "t=<ts>,v1=<hex>"
// timestamped signatures.
func VerifySignature(cfg Config, body []byte, header string) error {
	if cfg.Secret == "" {
		return fmt.Errorf("webhook: no secret configured")
	}
	algo := cfg.Algorithm
	if algo == "" {
		algo = SHA256
	}
	if cfg.StripeStyle {
		return verifyStripeStyle(cfg, body, header, algo)
	}
	given := header
	if idx := strings.Index(header, "="); idx >= 0 && isKnownAlgoPrefix(header[:idx]) {
		given = header[idx+1:]
	}
	sig, err := decodeSignature(given)
	if err != nil {
		return fmt.Errorf("webhook: decode signature: %w", err)
	}
	expected := mac(algo, cfg.Secret, body)
	if !hmac.Equal(sig, expected) {
		return fmt.Errorf("webhook: signature mismatch")
	}
	return nil
}

func isKnownAlgoPrefix(p string) bool {
	return strings.EqualFold(p, "sha256") || strings.EqualFold(p, "sha1")
}

// verifyStripeStyle parses "t=<unix>,v1=<hex>[,v1=<hex>...]", rejects stale
// timestamps, and verifies HMAC over "<timestamp>.<body>".
func verifyStripeStyle(cfg Config, body []byte, header string, algo Algorithm) error {
	var ts int64
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			v, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return fmt.Errorf("webhook: invalid timestamp: %w", err)
			}
			ts = v
		case "v1":
			sigs = append(sigs, kv[1])
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return fmt.Errorf("webhook: malformed stripe-style signature header")
	}
	age := time.Since(time.Unix(ts, 0))
	if age > maxTimestampSkew || age < -maxTimestampSkew {
		return fmt.Errorf("webhook: signature timestamp outside %s window", maxTimestampSkew)
	}
	signed := []byte(strconv.FormatInt(ts, 10) + "." + string(body))
	expected := mac(algo, cfg.Secret, signed)
	for _, s := range sigs {
		if decoded, err := hex.DecodeString(s); err == nil && hmac.Equal(decoded, expected) {
			return nil
		}
	}
	return fmt.Errorf("webhook: signature mismatch")
}

func mac(algo Algorithm, secret string, body []byte) []byte {
	var h = hmac.New(sha256.New, []byte(secret))
	if algo == SHA1 {
		h = hmac.New(sha1.New, []byte(secret)) //nolint:gosec
	}
	h.Write(body)
	return h.Sum(nil)
}

// decodeSignature tries hex first, then standard and URL-safe base64;
// senders use all three over the raw (non-prefixed) value.
func decodeSignature(s string) ([]byte, error) {
	if b, err := hex.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return nil, fmt.Errorf("signature is neither hex nor base64")
}

type rssPayload struct {
	Link  string `json:"link"`
	Items []struct {
		Link string `json:"link"`
	} `json:"items"`
}

type httpPostPayload struct {
	URL  string   `json:"url"`
	URLs []string `json:"urls"`
}

// ParseEvent classifies body and extracts fetch URLs: RSS_ITEM reads
// items[].link or top-level link; HTTP_POST reads an explicit url or urls[]
// field; EMAIL_NOTIFICATION scans body text for bare URLs. The shapes are
// tried in that order and the first that yields URLs wins.
func ParseEvent(contentType string, body []byte) ParsedEvent {
	var rss rssPayload
	if json.Unmarshal(body, &rss) == nil {
		var urls []string
		if rss.Link != "" {
			urls = append(urls, rss.Link)
		}
		for _, item := range rss.Items {
			if item.Link != "" {
				urls = append(urls, item.Link)
			}
		}
		if len(urls) > 0 {
			return ParsedEvent{Type: EventRSSItem, URLs: urls}
		}
	}

	var post httpPostPayload
	if json.Unmarshal(body, &post) == nil {
		var urls []string
		if post.URL != "" {
			urls = append(urls, post.URL)
		}
		urls = append(urls, post.URLs...)
		if len(urls) > 0 {
			return ParsedEvent{Type: EventHTTPPost, URLs: urls}
		}
	}

	if matches := urlPattern.FindAllString(string(body), -1); len(matches) > 0 {
		return ParsedEvent{Type: EventEmailNotification, URLs: dedupe(matches)}
	}

	return ParsedEvent{Type: EventUnrecognized}
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// Sink receives URLs resolved from a verified webhook event for the fetcher
// to pick up; Enqueue should be fast (typically a queue publish) since it
// runs on the HTTP request path.
type Sink interface {
	Enqueue(sourceID string, event ParsedEvent) error
}

// Response is the status/message/error envelope every webhook call
// returns.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Handler verifies and dispatches inbound webhooks for one registered source.
type Handler struct {
	sourceID string
	cfg      Config
	sink     Sink
	logger   *zap.Logger
}

// NewHandler constructs a Handler for sourceID.
func NewHandler(sourceID string, cfg Config, sink Sink, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sourceID: sourceID, cfg: cfg, sink: sink, logger: logger}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// ServeHTTP validates method and content type, verifies the signature when a
// secret is configured, parses the event, and hands resolved URLs to Sink.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeJSON(w, http.StatusMethodNotAllowed, Response{Status: "error", Error: "Only POST method is allowed"})
		return
	}

	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "application/json") {
		h.writeJSON(w, http.StatusBadRequest, Response{Status: "error", Error: "Content-Type must be application/json"})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, Response{Status: "error", Error: "Unable to read request body"})
		return
	}

	if h.cfg.Secret != "" {
		header := h.cfg.SignatureHeader
		if header == "" {
			header = "X-Hub-Signature-256"
		}
		sig := r.Header.Get(header)
		if sig == "" {
			h.writeJSON(w, http.StatusUnauthorized, Response{Status: "error", Error: "Authentication failed"})
			return
		}
		if err := VerifySignature(h.cfg, body, sig); err != nil {
			h.logger.Warn("webhook signature verification failed", zap.String("source", h.sourceID), zap.Error(err))
			h.writeJSON(w, http.StatusUnauthorized, Response{Status: "error", Error: "Authentication failed"})
			return
		}
	}

	event := ParseEvent(ct, body)
	if event.Type == EventUnrecognized {
		h.writeJSON(w, http.StatusBadRequest, Response{Status: "error", Error: "Invalid JSON payload"})
		return
	}

	if err := h.sink.Enqueue(h.sourceID, event); err != nil {
		h.logger.Error("webhook enqueue failed", zap.String("source", h.sourceID), zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, Response{Status: "error", Error: "Failed to enqueue event"})
		return
	}

	h.writeJSON(w, http.StatusOK, Response{
		Status:  "success",
		Message: fmt.Sprintf("Successfully processed %d urls", len(event.URLs)),
	})
}
