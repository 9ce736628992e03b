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

// Package queue provides the in-process hand-off between the webhook
// ingress and the processing worker. The ingress must acknowledge the
// bridge fast, so enqueue never blocks: the queue is unbounded FIFO and
// items wait in memory until the worker drains them.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Item is one accepted webhook event awaiting processing.
type Item struct {
	ID         string // tracing id assigned at enqueue
	AuditID    int64  // raw_payloads row written before enqueue
	Body       []byte
	RemoteIP   string
	EnqueuedAt time.Time
}

// Queue is an unbounded FIFO. Enqueue never blocks; Dequeue blocks until
// an item arrives or the context ends.
type Queue struct {
	mu    sync.Mutex
	items []Item
	wake  chan struct{}
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Enqueue appends an item and returns its tracing id.
func (q *Queue) Enqueue(auditID int64, body []byte, remoteIP string) string {
	it := Item{
		ID:         uuid.New().String(),
		AuditID:    auditID,
		Body:       body,
		RemoteIP:   remoteIP,
		EnqueuedAt: time.Now(),
	}

	q.mu.Lock()
	q.items = append(q.items, it)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return it.ID
}

// Dequeue returns the oldest item, blocking until one is available. It
// returns ctx.Err() once the context is cancelled and the queue is empty
// of signals.
func (q *Queue) Dequeue(ctx context.Context) (Item, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			it := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return it, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Item{}, ctx.Err()
		case <-q.wake:
		}
	}
}

// Len reports the number of waiting items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
