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

package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueueFIFOOrder(t *testing.T) {
	q := New()
	ids := []string{
		q.Enqueue(1, []byte("first"), "10.0.0.1"),
		q.Enqueue(2, []byte("second"), "10.0.0.1"),
		q.Enqueue(3, []byte("third"), "10.0.0.2"),
	}
	if q.Len() != 3 {
		t.Fatalf("Len = %d, want 3", q.Len())
	}

	ctx := context.Background()
	for i, want := range []string{"first", "second", "third"} {
		it, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue %d: %v", i, err)
		}
		if string(it.Body) != want {
			t.Errorf("item %d body = %q, want %q", i, it.Body, want)
		}
		if it.ID != ids[i] {
			t.Errorf("item %d id = %q, want %q", i, it.ID, ids[i])
		}
		if it.AuditID != int64(i+1) {
			t.Errorf("item %d audit id = %d, want %d", i, it.AuditID, i+1)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len after drain = %d, want 0", q.Len())
	}
}

func TestQueueEnqueueAssignsUniqueIDs(t *testing.T) {
	q := New()
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id := q.Enqueue(int64(i), []byte("x"), "")
		if id == "" {
			t.Fatal("empty tracing id")
		}
		if seen[id] {
			t.Fatalf("duplicate tracing id %q", id)
		}
		seen[id] = true
	}
}

func TestQueueDequeueBlocksUntilEnqueue(t *testing.T) {
	q := New()

	got := make(chan Item, 1)
	go func() {
		it, err := q.Dequeue(context.Background())
		if err != nil {
			t.Errorf("Dequeue: %v", err)
		}
		got <- it
	}()

	// Let the consumer reach its wait before producing.
	time.Sleep(20 * time.Millisecond)
	q.Enqueue(7, []byte("late"), "10.0.0.3")

	select {
	case it := <-got:
		if string(it.Body) != "late" || it.AuditID != 7 {
			t.Errorf("got item %+v", it)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Dequeue never woke after Enqueue")
	}
}

func TestQueueDequeueCancelled(t *testing.T) {
	q := New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(ctx)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Dequeue error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Dequeue did not return after cancel")
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := New()
	const producers, perProducer = 8, 25

	for p := 0; p < producers; p++ {
		go func(p int) {
			for i := 0; i < perProducer; i++ {
				q.Enqueue(int64(p), []byte("m"), "")
			}
		}(p)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < producers*perProducer; i++ {
		if _, err := q.Dequeue(ctx); err != nil {
			t.Fatalf("Dequeue %d: %v", i, err)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d after draining all items", q.Len())
	}
}
