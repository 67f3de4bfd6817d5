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

// AlertSeverity is a watchdog check's outcome severity.
type AlertSeverity string

const (
	AlertHealthy  AlertSeverity = "HEALTHY"
	AlertWarning  AlertSeverity = "WARNING"
	AlertCritical AlertSeverity = "CRITICAL"
)

// Alert is one watchdog check result worth persisting and, for CRITICAL,
// notifying on. (AlertType, EntityID) is the dedup key: EntityID scopes it
// alongside AlertType (a source slug for the stale-source check, a
// provider name for the LLM health check, "" for checks with no natural
// entity). Occurrences/FirstSeenAt/LastSeenAt let a repeat within the
// dedup window collapse into the same row instead of paging again.
type Alert struct {
	ID          string
	AlertType   string
	EntityID    string
	Severity    AlertSeverity
	Message     string
	Occurrences int
	FirstSeenAt time.Time
	LastSeenAt  time.Time
}
