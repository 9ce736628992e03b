// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dedup provides a Redis fast path for message deduplication.
// The bridge redelivers webhooks on timeouts and reconnects; the SETNX
// check drops most replays before they reach a transaction. It is only a
// fast path: the store's per-thread uniqueness check stays authoritative,
// so a flushed Redis never causes duplicates.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a seen message id is remembered. Bridge
	// redeliveries cluster within minutes; 24h covers reconnect storms.
	DefaultTTL = 24 * time.Hour

	// keyPrefix namespaces dedup keys in Redis.
	keyPrefix = "crm:seen:"
)

// Filter tracks which message ids have already been accepted.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a dedup filter backed by Redis.
func NewFilter(rdb *redis.Client) *Filter {
	return &Filter{
		rdb: rdb,
		ttl: DefaultTTL,
	}
}

// IsNew returns true if the id has NOT been seen before, marking it seen
// atomically (SETNX). The id is the bridge's message id when present,
// otherwise the payload hash.
func (f *Filter) IsNew(ctx context.Context, businessAccountID, id string) (bool, error) {
	key := fmt.Sprintf("%s%s:%s", keyPrefix, businessAccountID, id)

	set, err := f.rdb.SetNX(ctx, key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}

// Forget releases a claimed id after the write it covered failed, so the
// bridge's redelivery is not swallowed by the fast path.
func (f *Filter) Forget(ctx context.Context, businessAccountID, id string) error {
	key := fmt.Sprintf("%s%s:%s", keyPrefix, businessAccountID, id)
	if err := f.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}
