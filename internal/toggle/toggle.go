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

// Package toggle caches the webhook kill switch. Every inbound request
// consults it, so reads are answered from a short-lived cache and misses
// collapse into one database fetch.
package toggle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// IngestionEnabled is the toggle name the webhook ingress consults.
const IngestionEnabled = "ingestion_enabled"

// DefaultMaxAge is how long a cached value is served before re-reading.
const DefaultMaxAge = 10 * time.Second

// Store is the persistence the cache reads through to.
type Store interface {
	GetToggle(ctx context.Context, name string) (enabled, found bool, err error)
	SetToggle(ctx context.Context, name string, enabled bool) error
}

type cached struct {
	enabled   bool
	fetchedAt time.Time
}

// Cache serves toggle reads with bounded staleness. A toggle that has
// never been set reads as enabled.
type Cache struct {
	store  Store
	maxAge time.Duration

	mu      sync.Mutex
	entries map[string]cached
	group   singleflight.Group

	now func() time.Time
}

// NewCache creates a toggle cache over the given store.
func NewCache(store Store, maxAge time.Duration) *Cache {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Cache{
		store:   store,
		maxAge:  maxAge,
		entries: make(map[string]cached),
		now:     time.Now,
	}
}

// Enabled reports whether a toggle is on, serving from cache when fresh.
func (c *Cache) Enabled(ctx context.Context, name string) (bool, error) {
	c.mu.Lock()
	e, ok := c.entries[name]
	c.mu.Unlock()
	if ok && !c.stale(e) {
		return e.enabled, nil
	}

	v, err, _ := c.group.Do(name, func() (any, error) {
		enabled, found, err := c.store.GetToggle(ctx, name)
		if err != nil {
			return false, fmt.Errorf("read toggle %q: %w", name, err)
		}
		if !found {
			enabled = true
		}
		c.mu.Lock()
		c.entries[name] = cached{enabled: enabled, fetchedAt: c.now()}
		c.mu.Unlock()
		return enabled, nil
	})
	if err != nil {
		// Serve the stale value over failing the request when we have one.
		if ok {
			return e.enabled, nil
		}
		return false, err
	}
	return v.(bool), nil
}

// Set writes a toggle and invalidates its cache entry so the change is
// visible on the next read, not after the staleness window.
func (c *Cache) Set(ctx context.Context, name string, enabled bool) error {
	if err := c.store.SetToggle(ctx, name, enabled); err != nil {
		return fmt.Errorf("write toggle %q: %w", name, err)
	}
	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()
	return nil
}

func (c *Cache) stale(e cached) bool {
	return c.now().Sub(e.fetchedAt) > c.maxAge
}
