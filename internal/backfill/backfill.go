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

// Package backfill replays the bridge's stored chat history through the
// live ingestion pipeline. Each history record is wrapped in a synthetic
// webhook envelope and fed to the same normalizer and writer as live
// deliveries, so dedup and identity resolution behave identically.
package backfill

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/wacrm/ingestion/internal/bridge"
	"github.com/wacrm/ingestion/internal/parse"
	"github.com/wacrm/ingestion/internal/pipeline"
	"github.com/wacrm/ingestion/internal/store"
)

// Request defines the scope of a history replay.
type Request struct {
	RemoteJids []string // chats to replay; empty means every active thread
	PageSize   int
	MaxPages   int // per chat, 0 means no limit
}

// ChatResult tracks per-chat replay progress.
type ChatResult struct {
	RemoteJid string
	Inserted  int
	Skipped   int
	Errors    int
}

// Result summarises a completed replay.
type Result struct {
	Chats         []ChatResult
	TotalInserted int
	TotalSkipped  int
	Elapsed       time.Duration
}

// Runner replays bridge history.
type Runner struct {
	client    *bridge.Client
	norm      *parse.Normalizer
	writer    *pipeline.Writer
	store     *store.Store
	pageDelay time.Duration
}

// RunnerConfig holds dependencies for the backfill runner.
type RunnerConfig struct {
	Client     *bridge.Client
	Normalizer *parse.Normalizer
	Writer     *pipeline.Writer
	Store      *store.Store
	PageDelay  time.Duration
}

// NewRunner creates a backfill runner.
func NewRunner(cfg RunnerConfig) *Runner {
	delay := cfg.PageDelay
	if delay == 0 {
		delay = 500 * time.Millisecond
	}
	return &Runner{
		client:    cfg.Client,
		norm:      cfg.Normalizer,
		writer:    cfg.Writer,
		store:     cfg.Store,
		pageDelay: delay,
	}
}

// Run replays history for all requested chats.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	jids := req.RemoteJids
	if len(jids) == 0 {
		var err error
		jids, err = r.activeJids(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve chats to replay: %w", err)
		}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	slog.Info("starting history replay", "chats", len(jids), "page_size", pageSize)

	result := &Result{}
	for _, jid := range jids {
		cr, err := r.replayChat(ctx, jid, pageSize, req.MaxPages)
		if err != nil {
			slog.Error("replay failed for chat", "remote_jid", jid, "error", err)
			cr.Errors++
		}
		result.Chats = append(result.Chats, cr)
		result.TotalInserted += cr.Inserted
		result.TotalSkipped += cr.Skipped
	}
	result.Elapsed = time.Since(start)

	slog.Info("history replay complete",
		"total_inserted", result.TotalInserted,
		"total_skipped", result.TotalSkipped,
		"elapsed", result.Elapsed)
	return result, nil
}

func (r *Runner) replayChat(ctx context.Context, remoteJid string, pageSize, maxPages int) (ChatResult, error) {
	cr := ChatResult{RemoteJid: remoteJid}

	for page := 1; maxPages == 0 || page <= maxPages; page++ {
		if page > 1 {
			select {
			case <-ctx.Done():
				return cr, ctx.Err()
			case <-time.After(r.pageDelay):
			}
		}

		records, err := r.client.FindMessages(ctx, remoteJid, page, pageSize)
		if err != nil {
			return cr, fmt.Errorf("fetch page %d: %w", page, err)
		}
		if len(records) == 0 {
			break
		}

		for _, rec := range records {
			outcome, err := r.replayRecord(ctx, rec)
			if err != nil {
				slog.Warn("replay record failed", "remote_jid", remoteJid, "error", err)
				cr.Errors++
				continue
			}
			if outcome == pipeline.OutcomeInserted {
				cr.Inserted++
			} else {
				cr.Skipped++
			}
		}

		if len(records) < pageSize {
			break
		}
	}

	slog.Info("chat replay complete",
		"remote_jid", remoteJid,
		"inserted", cr.Inserted, "skipped", cr.Skipped, "errors", cr.Errors)
	return cr, nil
}

func (r *Runner) replayRecord(ctx context.Context, record json.RawMessage) (pipeline.Outcome, error) {
	body, err := json.Marshal(map[string]any{
		"event":    "messages.upsert",
		"instance": r.client.Instance(),
		"data":     record,
	})
	if err != nil {
		return pipeline.OutcomeIgnored, fmt.Errorf("wrap record: %w", err)
	}

	snap, err := r.norm.BuildSnapshot(body)
	if err != nil {
		return pipeline.OutcomeIgnored, fmt.Errorf("normalize record: %w", err)
	}
	return r.writer.Apply(ctx, snap)
}

// activeJids derives the chat list from the live threads that carry a
// phone identity. Anonymous threads have no stable upstream chat id to
// query history for.
func (r *Runner) activeJids(ctx context.Context) ([]string, error) {
	threads, err := r.store.ListActiveThreads(ctx, r.client.Instance())
	if err != nil {
		return nil, err
	}
	var jids []string
	for _, t := range threads {
		if t.CustomerPhone != nil && *t.CustomerPhone != "" {
			jids = append(jids, *t.CustomerPhone+"@s.whatsapp.net")
		}
	}
	return jids, nil
}
