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

// WhatsApp CRM — History Backfill Command
//
// Standalone CLI tool that replays chat history stored on the WhatsApp
// bridge through the ingestion pipeline. Intended for seeding threads on
// new deployments or repairing gaps after downtime.
//
// Usage:
//
//	go run ./cmd/backfill/ [--chats 5215512345678,5215598765432] [--pages 10] [--page-size 50]
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wacrm/ingestion/internal/backfill"
	"github.com/wacrm/ingestion/internal/bridge"
	"github.com/wacrm/ingestion/internal/config"
	"github.com/wacrm/ingestion/internal/parse"
	"github.com/wacrm/ingestion/internal/pipeline"
	"github.com/wacrm/ingestion/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	chatsFlag := flag.String("chats", "", "Comma-separated phone numbers to replay (optional; empty = all active threads)")
	pagesFlag := flag.Int("pages", 0, "Maximum pages per chat (0 = no limit)")
	pageSizeFlag := flag.Int("page-size", 50, "History records per page")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.Bridge.APIURL == "" {
		slog.Error("bridge is not configured — set BRIDGE_API_URL")
		os.Exit(1)
	}

	loc, err := cfg.Location()
	if err != nil {
		slog.Error("failed to load timezone", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	st, err := store.New(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise store", "error", err)
		os.Exit(1)
	}

	client := bridge.NewClient(nil, cfg.Bridge.APIURL, cfg.Bridge.APIKey, cfg.Bridge.Instance)

	// No Redis fast path or notifier here: replays lean on the store's
	// authoritative dedup and should not wake connected clients.
	norm := parse.NewNormalizer(loc)
	writer := pipeline.NewWriter(st, nil, nil)

	runner := backfill.NewRunner(backfill.RunnerConfig{
		Client:     client,
		Normalizer: norm,
		Writer:     writer,
		Store:      st,
	})

	var jids []string
	for _, c := range strings.Split(*chatsFlag, ",") {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if !strings.Contains(c, "@") {
			c += "@s.whatsapp.net"
		}
		jids = append(jids, c)
	}

	result, err := runner.Run(ctx, backfill.Request{
		RemoteJids: jids,
		PageSize:   *pageSizeFlag,
		MaxPages:   *pagesFlag,
	})
	if err != nil {
		slog.Error("backfill failed", "error", err)
		os.Exit(1)
	}

	slog.Info("backfill complete",
		"total_inserted", result.TotalInserted,
		"total_skipped", result.TotalSkipped,
		"elapsed", result.Elapsed,
	)
	for _, cr := range result.Chats {
		slog.Info("chat result",
			"remote_jid", cr.RemoteJid,
			"inserted", cr.Inserted,
			"skipped", cr.Skipped,
			"errors", cr.Errors,
		)
	}
}
