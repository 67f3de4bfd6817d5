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

package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"
)

// dlqKey is the Redis list holding audit events whose primary write failed.
const dlqKey = "audit:dlq"

// DLQFallback wraps a Store so a failed write lands in a Redis dead-letter
// list instead of being lost. Drain replays buffered events back through
// the primary store; an event that fails again is returned to the head of
// the list.
type DLQFallback struct {
	primary Store
	client  *redis.Client
	log     logr.Logger
}

// NewDLQFallback wraps primary with a Redis-list fallback.
func NewDLQFallback(primary Store, client *redis.Client, log logr.Logger) *DLQFallback {
	return &DLQFallback{primary: primary, client: client, log: log}
}

func (d *DLQFallback) Write(ctx context.Context, event Event) error {
	err := d.primary.Write(ctx, event)
	if err == nil {
		return nil
	}
	d.log.Error(err, "audit write failed, buffering to DLQ", "eventType", event.EventType, "resourceId", event.ResourceID)

	raw, merr := json.Marshal(event)
	if merr != nil {
		return merr
	}
	if perr := d.client.RPush(ctx, dlqKey, raw).Err(); perr != nil {
		d.log.Error(perr, "audit DLQ push failed, event lost", "eventType", event.EventType)
		return perr
	}
	return nil
}

// Drain replays up to max buffered events through the primary store,
// returning how many were delivered. A replay failure stops the drain and
// returns the event to the head of the list so ordering is preserved.
func (d *DLQFallback) Drain(ctx context.Context, max int) (int, error) {
	delivered := 0
	for i := 0; i < max; i++ {
		raw, err := d.client.LPop(ctx, dlqKey).Bytes()
		if err == redis.Nil {
			return delivered, nil
		}
		if err != nil {
			return delivered, err
		}

		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			d.log.Error(err, "audit DLQ entry is corrupt, dropping")
			continue
		}
		if err := d.primary.Write(ctx, event); err != nil {
			if perr := d.client.LPush(ctx, dlqKey, raw).Err(); perr != nil {
				d.log.Error(perr, "audit DLQ re-push failed, event lost")
			}
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}

// Depth reports how many events are currently buffered.
func (d *DLQFallback) Depth(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return d.client.LLen(ctx, dlqKey).Result()
}
