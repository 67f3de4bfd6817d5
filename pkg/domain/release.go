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

// ReleaseType is always derived server-side from the risk tiers in the
// batch; it is never trusted from the LLM.
type ReleaseType string

const (
	ReleaseMajor ReleaseType = "major"
	ReleaseMinor ReleaseType = "minor"
	ReleasePatch ReleaseType = "patch"
)

// AuditTrail counts the provenance behind a Release for downstream audit.
type AuditTrail struct {
	SourceEvidenceCount int
	SourcePointerCount  int
	ReviewCount         int
	HumanApprovals      int
}

// Release is an immutable, semver-tagged, content-hashed collection of
// published Rules.
type Release struct {
	ID            string
	Version       string
	ReleaseType   ReleaseType
	ReleasedAt    time.Time
	EffectiveFrom time.Time
	ContentHash   string
	Changelog     string
	ApprovedBy    []string
	AuditTrail    AuditTrail
	RuleIDs       []string
	Latest        bool
}
