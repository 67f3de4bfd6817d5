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

// Package fetch performs rate-limited HTTP fetches of registered sources,
// binary (PDF/DOCX) sniffing, OCR routing, and Evidence production. The
// rate limiter is a Redis fixed-window counter, applied per source rather
// than per client IP.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/clean"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/domain"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/hashing"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/store"
)

// RateLimiter gates fetches per source so a single misbehaving source can
// never monopolize the fetch worker pool or hammer an external site.
type RateLimiter interface {
	// Allow reports whether a fetch against key may proceed now, given a
	// limit over window (a fixed counting window keyed by key+current
	// bucket).
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RedisRateLimiter is a fixed-window counter stored in Redis, one INCR key
// per (identity, window-bucket), expiring with the window.
type RedisRateLimiter struct {
	client *redis.Client
}

func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client}
}

func (l *RedisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	bucket := time.Now().Unix() / int64(window.Seconds())
	redisKey := fmt.Sprintf("fetch:ratelimit:%s:%d", key, bucket)
	n, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		l.client.Expire(ctx, redisKey, window)
	}
	return n <= int64(limit), nil
}

// Source is a registered fetch target.
type Source struct {
	ID            string
	URL           string
	RateLimit     int           // fetches allowed per RateWindow, default 1
	RateWindow    time.Duration // default 1 minute
	ExpectedDomains []string
}

// HTTPDoer is the subset of *http.Client fetch needs, so tests can supply a
// stub transport without standing up a real listener.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// OCR performs optical character recognition over a scanned PDF's raw bytes.
// No OCR library is part of the example corpus; production wiring is left
// to the caller (e.g. an external OCR microservice) and NewFetcher accepts
// a nil OCR, in which case scanned PDFs are stored with an empty
// CleanedText and ClassPDFScanned; Evidence.ExtractableText then falls back
// to the raw bytes.
type OCR interface {
	ExtractText(ctx context.Context, rawBytes []byte) (string, error)
}

// Fetcher performs rate-limited HTTP fetches, classifies content, derives
// Evidence, and persists it through store.EvidenceRepository, deduping
// re-fetches that hash identically.
type Fetcher struct {
	client      HTTPDoer
	limiter     RateLimiter
	evidence    store.EvidenceRepository
	ocr         OCR
	logger      *zap.Logger
}

func NewFetcher(client HTTPDoer, limiter RateLimiter, evidence store.EvidenceRepository, ocr OCR, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{client: client, limiter: limiter, evidence: evidence, ocr: ocr, logger: logger}
}

// Result reports what Fetch did, so batch callers can log/metric without
// re-deriving it from the returned Evidence.
type Result struct {
	Evidence  domain.Evidence
	WasNew    bool
	RateLimited bool
}

// Fetch retrieves src.URL (subject to the per-source rate limit), classifies
// the response, and writes or dedups the resulting Evidence.
func (f *Fetcher) Fetch(ctx context.Context, src Source) (Result, error) {
	limit := src.RateLimit
	if limit <= 0 {
		limit = 1
	}
	window := src.RateWindow
	if window <= 0 {
		window = time.Minute
	}
	allowed, err := f.limiter.Allow(ctx, src.ID, limit, window)
	if err != nil {
		return Result{}, fmt.Errorf("fetch: rate limiter: %w", err)
	}
	if !allowed {
		return Result{RateLimited: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("fetch: build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Result{}, fmt.Errorf("fetch: %s returned status %d", src.URL, resp.StatusCode)
	}
	rawBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("fetch: read body: %w", err)
	}

	contentType, contentClass := Sniff(resp.Header.Get("Content-Type"), rawBytes)
	contentHash := hashing.EvidenceHash(rawBytes, contentType)

	if existing, found, err := f.evidence.FindByContentHash(ctx, contentHash); err != nil {
		return Result{}, fmt.Errorf("fetch: dedup lookup: %w", err)
	} else if found {
		existing.HasChanged = false
		return Result{Evidence: existing, WasNew: false}, nil
	}

	cleanedText := f.extractText(ctx, contentType, contentClass, src.URL, rawBytes)

	ev := domain.Evidence{
		ID:           uuid.NewString(),
		SourceID:     src.ID,
		URL:          src.URL,
		ContentType:  contentType,
		ContentClass: contentClass,
		RawBytes:     rawBytes,
		CleanedText:  cleanedText,
		ContentHash:  contentHash,
		FetchedAt:    time.Now().UTC(),
		HasChanged:   true,
	}
	if err := f.evidence.Save(ctx, ev); err != nil {
		return Result{}, fmt.Errorf("fetch: save evidence: %w", err)
	}
	return Result{Evidence: ev, WasNew: true}, nil
}

// extractText derives CleanedText per content class: HTML is run through
// pkg/clean; scanned PDFs route to OCR when configured; text-layer PDFs use
// their text layer; every other class gets an empty CleanedText (callers read
// RawBytes directly).
func (f *Fetcher) extractText(ctx context.Context, ct domain.ContentType, class domain.ContentClass, sourceURL string, rawBytes []byte) string {
	switch class {
	case domain.ClassHTML:
		return clean.Clean(string(rawBytes), sourceURL)
	case domain.ClassPDFScanned:
		if f.ocr == nil {
			f.logger.Warn("scanned PDF with no OCR configured, storing without cleaned text", zap.String("url", sourceURL))
			return ""
		}
		text, err := f.ocr.ExtractText(ctx, rawBytes)
		if err != nil {
			f.logger.Error("OCR extraction failed", zap.String("url", sourceURL), zap.Error(err))
			return ""
		}
		return text
	case domain.ClassPDFText:
		return extractPDFTextLayer(rawBytes)
	default:
		return ""
	}
}

var pdfMagic = []byte("%PDF-")

// docxMagic is the ZIP local-file-header signature; DOCX is a ZIP container.
var docxMagic = []byte{0x50, 0x4B, 0x03, 0x04}

// Sniff classifies a fetched body by Content-Type header and a magic-byte
// fallback. A PDF's text-vs-scanned
// classification uses a coarse heuristic: if the file contains recognizable
// text-showing operators near a /Text entry it is treated as ClassPDFText,
// else ClassPDFScanned (image-only pages needing OCR).
func Sniff(contentTypeHeader string, rawBytes []byte) (domain.ContentType, domain.ContentClass) {
	switch {
	case bytes.HasPrefix(rawBytes, pdfMagic):
		if looksLikeTextPDF(rawBytes) {
			return domain.ContentPDF, domain.ClassPDFText
		}
		return domain.ContentPDF, domain.ClassPDFScanned
	case bytes.HasPrefix(rawBytes, docxMagic) && isDOCX(rawBytes):
		return domain.ContentDOCX, domain.ContentClass("DOCX")
	}

	switch {
	case containsCI(contentTypeHeader, "application/json"):
		return domain.ContentJSON, domain.ClassJSON
	case containsCI(contentTypeHeader, "xml"):
		return domain.ContentXML, domain.ContentClass("XML")
	case containsCI(contentTypeHeader, "html"), looksLikeHTML(rawBytes):
		return domain.ContentHTML, domain.ClassHTML
	default:
		return domain.ContentOther, domain.ContentClass("OTHER")
	}
}

func containsCI(s, substr string) bool {
	return len(s) >= len(substr) && bytes.Contains(bytes.ToLower([]byte(s)), bytes.ToLower([]byte(substr)))
}

func looksLikeHTML(b []byte) bool {
	trimmed := bytes.TrimSpace(b)
	lower := bytes.ToLower(trimmed)
	return bytes.HasPrefix(lower, []byte("<!doctype html")) || bytes.HasPrefix(lower, []byte("<html"))
}

// looksLikeTextPDF is a coarse heuristic: PDFs with an extractable text
// layer carry "/Text" and "BT"/"ET" (begin/end text object) operators.
func looksLikeTextPDF(b []byte) bool {
	return bytes.Contains(b, []byte("/Text")) && bytes.Contains(b, []byte("BT")) && bytes.Contains(b, []byte("ET"))
}

// isDOCX confirms the ZIP-signature match is specifically an OOXML document
// by checking for the "word/" part any .docx archive contains.
func isDOCX(b []byte) bool {
	return bytes.Contains(b, []byte("word/"))
}

// extractPDFTextLayer pulls literal text between BT/ET operators as a crude
// best-effort text layer; production-quality PDF text extraction is out of
// scope for this pipeline stage (the extractor re-cleans whatever text
// surfaces here, same as it does for HTML).
func extractPDFTextLayer(b []byte) string {
	var out bytes.Buffer
	for {
		start := bytes.Index(b, []byte("BT"))
		if start < 0 {
			break
		}
		end := bytes.Index(b[start:], []byte("ET"))
		if end < 0 {
			break
		}
		segment := b[start : start+end]
		for _, tok := range bytes.Split(segment, []byte("(")) {
			if idx := bytes.IndexByte(tok, ')'); idx >= 0 {
				out.Write(tok[:idx])
				out.WriteByte(' ')
			}
		}
		b = b[start+end+2:]
	}
	return out.String()
}
