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

// Package hashing provides the two deterministic content hashes the
// evidence-chain integrity and release invariants depend on: Evidence's
// hash(canonical(rawBytes, contentType)) and a Release's content hash over
// its sorted, normalized rule projection.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/domain"
)

// CanonicalEvidence deterministically serializes rawBytes and contentType
// so that Hash(CanonicalEvidence(...)) is stable across re-fetches of
// byte-identical content.
func CanonicalEvidence(rawBytes []byte, contentType domain.ContentType) []byte {
	buf := make([]byte, 0, len(rawBytes)+len(contentType)+1)
	buf = append(buf, []byte(contentType)...)
	buf = append(buf, 0x00)
	buf = append(buf, rawBytes...)
	return buf
}

// Hash returns the lowercase hex SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// EvidenceHash computes the Evidence.ContentHash invariant directly:
// hash(canonical(rawBytes, contentType)).
func EvidenceHash(rawBytes []byte, contentType domain.ContentType) string {
	return Hash(CanonicalEvidence(rawBytes, contentType))
}

// Hash8 is the short URL digest used inside deterministic job ids
// (e.g. "article-<type>-<date>-<hash8(url)>").
func Hash8(data string) string {
	return Hash([]byte(data))[:8]
}

// ruleProjection is the normalized shape hashed into a Release's
// ContentHash.
type ruleProjection struct {
	ConceptSlug    string `json:"conceptSlug"`
	AppliesWhen    any    `json:"appliesWhen"`
	Value          string `json:"value"`
	ValueType      string `json:"valueType"`
	EffectiveFrom  string `json:"effectiveFrom"`
	EffectiveUntil string `json:"effectiveUntil"`
}

// normalizeDate floors a time to its calendar day, formatted YYYY-MM-DD, or
// "" for a nil/zero date — "null" is preserved distinctly from any date.
func normalizeDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

// ReleaseContentHash computes the deterministic hash over the ordered rule
// set: sorted by ConceptSlug, each rule projected to
// {conceptSlug, appliesWhen, value, valueType, normalizeDate(effectiveFrom),
// normalizeDate(effectiveUntil)}. Reproducible from the rule set alone, so a
// rollback followed by a re-release of the same approved set yields an
// identical hash under a different Release id.
func ReleaseContentHash(rules []domain.Rule) string {
	sorted := make([]domain.Rule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ConceptSlug < sorted[j].ConceptSlug })

	projections := make([]ruleProjection, 0, len(sorted))
	for _, r := range sorted {
		from := r.EffectiveFrom
		projections = append(projections, ruleProjection{
			ConceptSlug:    r.ConceptSlug,
			AppliesWhen:    r.AppliesWhen,
			Value:          r.Value,
			ValueType:      string(r.ValueType),
			EffectiveFrom:  normalizeDate(&from),
			EffectiveUntil: normalizeDate(r.EffectiveUntil),
		})
	}

	// json.Marshal on a slice of structs with consistent field order/types
	// produces byte-identical output for equal inputs, giving a stable hash.
	encoded, err := json.Marshal(projections)
	if err != nil {
		// Projection fields are all plain strings/maps; Marshal cannot fail
		// for them short of an unsupported type, which would be a coding
		// error, not a runtime condition to recover from.
		panic(err)
	}
	return Hash(encoded)
}
