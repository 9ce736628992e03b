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

// Package store provides the Postgres persistence layer for threads,
// messages, media attachments, the raw payload audit trail, and feature
// toggles.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// dbtx is the query surface shared by the pool and an open transaction,
// so every Store method works in both scopes.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides CRUD operations for the ingestion schema in Postgres.
type Store struct {
	pool *pgxpool.Pool
	db   dbtx
}

// New creates a store backed by the given Postgres pool. It ensures the
// schema exists on creation.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool, db: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure ingestion schema: %w", err)
	}
	slog.Info("ingestion store initialised")
	return s, nil
}

// WithTx runs fn against a store bound to a single transaction. Identity
// resolution, dedup checks, and inserts for one event must share a
// transaction so a merge and an insert never interleave with another
// event's writes.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Store{pool: s.pool, db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Ping verifies database connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS threads (
			id                    BIGSERIAL PRIMARY KEY,
			thread_id             TEXT NOT NULL,
			business_account_id   TEXT NOT NULL,
			channel               INT DEFAULT 1,
			thread_key            TEXT DEFAULT '',
			main_participant      TEXT DEFAULT '',
			customer_display_name TEXT DEFAULT '',
			customer_phone        TEXT,
			customer_lid          TEXT,
			customer_platform_id  TEXT DEFAULT '',
			customer_photo_url    TEXT DEFAULT '',
			created_at            TIMESTAMPTZ DEFAULT NOW(),
			last_message_at       TIMESTAMPTZ,
			last_message_preview  TEXT DEFAULT '',
			unread_count          INT DEFAULT 0,
			status                INT DEFAULT 0,
			assigned_to           TEXT DEFAULT '',
			is_active             BOOLEAN DEFAULT TRUE,
			updated_at            TIMESTAMPTZ DEFAULT NOW(),
			deleted_at            TIMESTAMPTZ,
			UNIQUE(business_account_id, thread_id)
		);
		CREATE INDEX IF NOT EXISTS idx_threads_phone ON threads(business_account_id, customer_phone);
		CREATE INDEX IF NOT EXISTS idx_threads_lid ON threads(business_account_id, customer_lid);

		CREATE TABLE IF NOT EXISTS messages (
			id                  BIGSERIAL PRIMARY KEY,
			thread_ref_id       BIGINT NOT NULL REFERENCES threads(id),
			sender              TEXT DEFAULT '',
			display_name        TEXT DEFAULT '',
			text                TEXT,
			message_at          TIMESTAMPTZ NOT NULL,
			external_timestamp  BIGINT,
			direction_in        BOOLEAN DEFAULT TRUE,
			media_url           TEXT,
			media_mime          TEXT,
			media_caption       TEXT,
			media_type          TEXT,
			raw_payload         TEXT DEFAULT '',
			external_id         TEXT,
			raw_hash            TEXT DEFAULT '',
			kind                INT DEFAULT 0,
			has_media           BOOLEAN DEFAULT FALSE,
			status              INT DEFAULT 0,
			reaction            TEXT,
			quoted_message_id   TEXT,
			quoted_message_text TEXT,
			created_at          TIMESTAMPTZ DEFAULT NOW(),
			updated_at          TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_ref_id, message_at);
		CREATE INDEX IF NOT EXISTS idx_messages_external ON messages(external_id);
		CREATE INDEX IF NOT EXISTS idx_messages_hash ON messages(thread_ref_id, raw_hash);

		CREATE TABLE IF NOT EXISTS media_attachments (
			id                  BIGSERIAL PRIMARY KEY,
			message_id          BIGINT NOT NULL REFERENCES messages(id),
			media_type          TEXT NOT NULL,
			mime_type           TEXT,
			media_url           TEXT,
			media_key           TEXT,
			file_sha256         TEXT,
			file_enc_sha256     TEXT,
			direct_path         TEXT,
			media_key_timestamp BIGINT,
			file_name           TEXT,
			file_length         BIGINT,
			page_count          INT,
			thumbnail_base64    TEXT,
			created_at          TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_attachments_message ON media_attachments(message_id);

		CREATE TABLE IF NOT EXISTS raw_payloads (
			id                    BIGSERIAL PRIMARY KEY,
			thread_id             TEXT DEFAULT '',
			source                TEXT DEFAULT '',
			instance              TEXT DEFAULT '',
			event                 TEXT DEFAULT '',
			message_type          TEXT DEFAULT '',
			remote_jid            TEXT DEFAULT '',
			from_me               BOOLEAN,
			sender                TEXT DEFAULT '',
			customer_phone        TEXT DEFAULT '',
			customer_display_name TEXT DEFAULT '',
			message_at            TIMESTAMPTZ,
			received_at           TIMESTAMPTZ DEFAULT NOW(),
			payload               TEXT NOT NULL,
			processed             BOOLEAN DEFAULT FALSE,
			notes                 TEXT DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_raw_thread ON raw_payloads(thread_id);
		CREATE INDEX IF NOT EXISTS idx_raw_received ON raw_payloads(received_at);

		CREATE TABLE IF NOT EXISTS feature_toggles (
			name       TEXT PRIMARY KEY,
			enabled    BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}
