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

// Package notify pushes change events to connected inbox clients over
// Redis Pub/Sub. Each business account has its own channel; the frontend
// gateway subscribes and fans out to that account's sessions. Delivery is
// best effort: a notify failure is logged, never propagated, because the
// write it announces has already committed.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wacrm/ingestion/internal/models"
)

// DefaultChannelPrefix namespaces notification channels in Redis.
const DefaultChannelPrefix = "crm:events:"

// Notifier publishes change events to per-account Redis channels.
type Notifier struct {
	rdb    *redis.Client
	prefix string
}

// New creates a notifier with the given channel prefix (the default when
// empty).
func New(rdb *redis.Client, prefix string) *Notifier {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &Notifier{rdb: rdb, prefix: prefix}
}

// Publish sends one change event to the business account's channel. The
// event id is assigned here when the caller left it empty.
func (n *Notifier) Publish(ctx context.Context, businessAccountID string, ev models.ChangeEvent) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal change event", "event", ev.Event, "error", err)
		return
	}

	channel := n.prefix + businessAccountID
	if err := n.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		slog.Error("publish change event",
			"channel", channel, "event", ev.Event, "error", err)
		return
	}

	slog.Debug("published change event",
		"channel", channel, "event", ev.Event, "thread", ev.ThreadID)
}

// Ping checks the Redis connection.
func (n *Notifier) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := n.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
