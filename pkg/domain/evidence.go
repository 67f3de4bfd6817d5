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

// Package domain holds the shared entities of the regulatory-truth pipeline:
// Evidence, CandidateFact, Rule, Conflict, Release, AgentRun and Outcome, as
// described in the data model.
package domain

import "time"

// ContentType identifies the wire format of a captured Evidence snapshot.
type ContentType string

const (
	ContentHTML ContentType = "html"
	ContentPDF  ContentType = "pdf"
	ContentJSON ContentType = "json"
	ContentXML  ContentType = "xml"
	ContentDOCX ContentType = "docx"
	ContentOther ContentType = "other"
)

// ContentClass further classifies Evidence beyond its wire ContentType,
// distinguishing e.g. a text-layer PDF from one that needs OCR.
type ContentClass string

const (
	ClassHTML        ContentClass = "HTML"
	ClassPDFText     ContentClass = "PDF_TEXT"
	ClassPDFScanned  ContentClass = "PDF_SCANNED"
	ClassJSON        ContentClass = "JSON"
)

// EvidenceArtifact is an extracted-text representation derived from raw
// Evidence (e.g. OCR output), each independently hashed.
type EvidenceArtifact struct {
	ID         string
	EvidenceID string
	Kind       string // e.g. "ocr_text", "pdf_text_layer"
	Text       string
	Hash       string
	CreatedAt  time.Time
}

// Evidence is a captured, immutable snapshot of external regulatory content.
// Once ContentHash is written it never changes; re-fetches that hash
// identically set HasChanged=false rather than creating a new row.
type Evidence struct {
	ID           string
	SourceID     string
	URL          string
	ContentType  ContentType
	ContentClass ContentClass
	RawBytes     []byte
	CleanedText  string
	ContentHash  string
	FetchedAt    time.Time
	HasChanged   bool
	Artifacts    []EvidenceArtifact
}

// ExtractableText returns the cleaned-text artifact when present, otherwise
// the raw bytes decoded as text — the content the extractor actually reads,
// per the "cleaned-text artifact if present, else raw" rule.
func (e *Evidence) ExtractableText() string {
	if e.CleanedText != "" {
		return e.CleanedText
	}
	return string(e.RawBytes)
}
