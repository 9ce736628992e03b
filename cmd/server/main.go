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

// WhatsApp CRM — Ingestion Service
//
// Entry point for the webhook ingestion service. It:
//  1. Loads configuration from config.yaml, .env, and the environment
//  2. Connects to PostgreSQL and Redis
//  3. Registers the webhook with the WhatsApp bridge (bounded retries)
//  4. Serves the webhook ingress plus operator endpoints
//  5. Runs the background worker that drains the ingress queue
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wacrm/ingestion/internal/bridge"
	"github.com/wacrm/ingestion/internal/config"
	"github.com/wacrm/ingestion/internal/dedup"
	"github.com/wacrm/ingestion/internal/notify"
	"github.com/wacrm/ingestion/internal/parse"
	"github.com/wacrm/ingestion/internal/pipeline"
	"github.com/wacrm/ingestion/internal/queue"
	"github.com/wacrm/ingestion/internal/store"
	"github.com/wacrm/ingestion/internal/toggle"
	"github.com/wacrm/ingestion/internal/webhook"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting WhatsApp CRM ingestion service")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	loc, err := cfg.Location()
	if err != nil {
		slog.Error("failed to load timezone", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"port", cfg.Port,
		"timezone", cfg.Timezone,
		"bridge_instance", cfg.Bridge.Instance,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
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

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	notifier := notify.New(rdb, cfg.NotifyChannelPrefix)
	if err := notifier.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Pipeline wiring ---
	norm := parse.NewNormalizer(loc)
	filter := dedup.NewFilter(rdb)
	toggles := toggle.NewCache(st, cfg.ToggleMaxAge)
	q := queue.New()
	writer := pipeline.NewWriter(st, filter, notifier)
	worker := pipeline.NewWorker(q, norm, writer, st)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	// --- Bridge client ---
	var bridgeClient *bridge.Client
	if cfg.Bridge.APIURL != "" {
		bridgeClient = bridge.NewClient(nil, cfg.Bridge.APIURL, cfg.Bridge.APIKey, cfg.Bridge.Instance)
	}

	// --- HTTP surface ---
	handler := webhook.NewHandler(norm, toggles, st, q, webhook.AuthConfig{
		Token:       cfg.WebhookToken,
		HMACSecret:  cfg.WebhookHMACSecret,
		IPAllowlist: cfg.IPAllowlist,
	})

	probes := map[string]webhook.Pinger{
		"postgres": st,
		"redis":    notifier,
	}
	var sender webhook.Sender
	if bridgeClient != nil {
		sender = bridgeClient
	}
	admin := webhook.NewAdmin(toggles, sender, probes)

	ready, err := webhook.Serve(ctx, cfg.Port, handler, admin)
	if err != nil {
		slog.Error("failed to start webhook server", "error", err)
		os.Exit(1)
	}
	<-ready

	// --- Register webhook with the bridge ---
	// The server must already be listening: some bridge versions probe
	// the URL during registration.
	if bridgeClient != nil && cfg.Bridge.WebhookURL != "" {
		if err := registerWebhook(ctx, bridgeClient, cfg.Bridge.WebhookURL); err != nil {
			slog.Error("webhook registration failed, continuing without it", "error", err)
		}
	} else {
		slog.Warn("bridge not configured, skipping webhook registration")
	}

	// --- Graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	slog.Info("received shutdown signal", "signal", sig)
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		slog.Warn("worker did not drain in time")
	}

	rdb.Close()
	pgPool.Close()
	slog.Info("ingestion service stopped")
}

// registerWebhook points the bridge at our ingress, retrying on a short
// backoff. Registration replaces the previous one, so repeats are safe;
// exhausting the retries leaves the old registration in place rather
// than killing the service.
func registerWebhook(ctx context.Context, client *bridge.Client, url string) error {
	const attempts = 5
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i) * 2 * time.Second):
			}
		}
		if err := client.RegisterWebhook(ctx, url); err != nil {
			lastErr = err
			slog.Warn("webhook registration attempt failed", "attempt", i+1, "error", err)
			continue
		}
		if err := client.SyncSettings(ctx); err != nil {
			slog.Warn("bridge settings sync failed", "error", err)
		}
		slog.Info("webhook registered with bridge", "url", url)
		return nil
	}
	return lastErr
}
