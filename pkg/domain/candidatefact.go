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

package domain

import "time"

// ValueType is the shape of the value a CandidateFact or Rule carries.
type ValueType string

const (
	ValueCurrency   ValueType = "currency"
	ValuePercentage ValueType = "percentage"
	ValueDate       ValueType = "date"
	ValueThreshold  ValueType = "threshold"
	ValueText       ValueType = "text"
)

// CandidateFactStatus tracks a CandidateFact through review.
type CandidateFactStatus string

const (
	FactCaptured  CandidateFactStatus = "CAPTURED"
	FactReviewed  CandidateFactStatus = "REVIEWED"
	FactPromoted  CandidateFactStatus = "PROMOTED"
	FactRejected  CandidateFactStatus = "REJECTED"
)

// GroundingQuote ties an extracted value back to the literal source text it
// was read from. Text is stored in its normalized (ASCII-quote) form.
type GroundingQuote struct {
	Text          string
	ContextBefore string
	ContextAfter  string
	EvidenceID    string
	ArticleNumber string
	LawReference  string
}

// CandidateFact is a single typed extraction, grounded in one or more
// quotes into Evidence. Legacy systems call this a SourcePointer.
type CandidateFact struct {
	ID                 string
	Domain             string
	ValueType          ValueType
	ExtractedValue     string
	GroundingQuotes    []GroundingQuote
	ValueConfidence    float64
	OverallConfidence  float64
	Status             CandidateFactStatus
	PromotionCandidate bool
	CreatedAt          time.Time
}

// RejectionReason classifies why an extraction never became a CandidateFact.
type RejectionReason string

const (
	RejectInvalidDomain   RejectionReason = "INVALID_DOMAIN"
	RejectOutOfRange      RejectionReason = "OUT_OF_RANGE"
	RejectInvalidCurrency RejectionReason = "INVALID_CURRENCY"
	RejectInvalidDate     RejectionReason = "INVALID_DATE"
	RejectNoQuoteMatch    RejectionReason = "NO_QUOTE_MATCH"
	RejectValidationFailed RejectionReason = "VALIDATION_FAILED"
)

// RejectedExtraction is a dead-lettered extraction kept for analysis.
type RejectedExtraction struct {
	ID         string
	EvidenceID string
	Reason     RejectionReason
	RawOutput  string
	Detail     string
}

// CoverageReport summarizes how completely a source's expected domains were
// extracted from a single Evidence.
type CoverageReport struct {
	EvidenceID string
	Score      float64
	Complete   bool
}
