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

package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/wacrm/ingestion/internal/parse"
	"github.com/wacrm/ingestion/internal/queue"
	"github.com/wacrm/ingestion/internal/store"
)

// Worker drains the ingress queue, normalizes each payload, and applies
// it through the writer. One worker goroutine is enough: the writer
// serialises per customer anyway, and ordering within a thread is easier
// to reason about with a single drain loop.
type Worker struct {
	queue  *queue.Queue
	norm   *parse.Normalizer
	writer *Writer
	store  *store.Store
}

// NewWorker wires a worker over its queue, normalizer, writer, and store.
func NewWorker(q *queue.Queue, norm *parse.Normalizer, writer *Writer, st *store.Store) *Worker {
	return &Worker{queue: q, norm: norm, writer: writer, store: st}
}

// Run processes items until ctx is cancelled. A failed item is logged
// and dropped; its audit row stays unprocessed for later replay.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("pipeline worker started")
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			slog.Info("pipeline worker stopped", "reason", err)
			return
		}
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item queue.Item) {
	start := time.Now()

	snap, err := w.norm.BuildSnapshot(item.Body)
	if err != nil {
		slog.Warn("payload did not normalize",
			"item", item.ID, "audit_id", item.AuditID, "error", err)
		return
	}

	outcome, err := w.writer.Apply(ctx, snap)
	if err != nil {
		slog.Error("apply snapshot",
			"item", item.ID, "audit_id", item.AuditID,
			"thread_id", snap.ThreadID, "error", err)
		return
	}

	if err := w.store.MarkPayloadProcessed(ctx, item.AuditID); err != nil {
		slog.Warn("mark payload processed", "audit_id", item.AuditID, "error", err)
	}

	slog.Info("processed webhook event",
		"item", item.ID,
		"outcome", outcome.String(),
		"thread_id", snap.ThreadID,
		"message_type", snap.MessageType,
		"business_account", snap.BusinessAccountID,
		"elapsed", time.Since(start))
}
