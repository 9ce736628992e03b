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

package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wacrm/ingestion/internal/models"
)

const threadColumns = `
	id, thread_id, business_account_id, channel, thread_key, main_participant,
	customer_display_name, customer_phone, customer_lid, customer_platform_id,
	customer_photo_url, created_at, last_message_at, last_message_preview,
	unread_count, status, assigned_to, is_active, updated_at, deleted_at`

// FindThreadByPhone returns the live thread for a phone identity, or nil.
func (s *Store) FindThreadByPhone(ctx context.Context, businessAccountID, phone string) (*models.Thread, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+threadColumns+`
		FROM threads
		WHERE business_account_id = $1 AND customer_phone = $2 AND deleted_at IS NULL
		ORDER BY id
		LIMIT 1
	`, businessAccountID, phone)
	return scanThread(row)
}

// FindThreadByLid returns the live thread for an anonymous identity, or nil.
func (s *Store) FindThreadByLid(ctx context.Context, businessAccountID, lid string) (*models.Thread, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+threadColumns+`
		FROM threads
		WHERE business_account_id = $1 AND customer_lid = $2 AND deleted_at IS NULL
		ORDER BY id
		LIMIT 1
	`, businessAccountID, lid)
	return scanThread(row)
}

// FindThreadByThreadID returns the live thread with the given public key, or nil.
func (s *Store) FindThreadByThreadID(ctx context.Context, businessAccountID, threadID string) (*models.Thread, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+threadColumns+`
		FROM threads
		WHERE business_account_id = $1 AND thread_id = $2 AND deleted_at IS NULL
		LIMIT 1
	`, businessAccountID, threadID)
	return scanThread(row)
}

// ListActiveThreads returns every live thread for a business account.
// Used by the loose contact matcher and the backfill runner.
func (s *Store) ListActiveThreads(ctx context.Context, businessAccountID string) ([]models.Thread, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+threadColumns+`
		FROM threads
		WHERE business_account_id = $1 AND deleted_at IS NULL
		ORDER BY id
	`, businessAccountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectThreads(rows)
}

// InsertThread creates a thread and fills in its generated id.
func (s *Store) InsertThread(ctx context.Context, t *models.Thread) error {
	return s.db.QueryRow(ctx, `
		INSERT INTO threads
			(thread_id, business_account_id, channel, thread_key, main_participant,
			 customer_display_name, customer_phone, customer_lid, customer_platform_id,
			 customer_photo_url, status, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, TRUE)
		RETURNING id, created_at, updated_at
	`, t.ThreadID, t.BusinessAccountID, t.Channel, t.ThreadKey, t.MainParticipant,
		t.CustomerDisplayName, t.CustomerPhone, t.CustomerLid, t.CustomerPlatformID,
		t.CustomerPhotoURL, t.Status).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

// PromoteThread rewrites a thread's identity fields in place, used when a
// LID-only thread learns its real phone number.
func (s *Store) PromoteThread(ctx context.Context, id int64, threadID string, phone, lid *string, platformID, mainParticipant string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE threads
		SET thread_id = $1, thread_key = $1, customer_phone = $2, customer_lid = $3,
		    customer_platform_id = $4, main_participant = $5, updated_at = NOW()
		WHERE id = $6
	`, threadID, phone, lid, platformID, mainParticipant)
	return err
}

// AttachLid records a newly observed anonymous id on a phone thread.
func (s *Store) AttachLid(ctx context.Context, id int64, lid string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE threads SET customer_lid = $1, updated_at = NOW() WHERE id = $2
	`, lid, id)
	return err
}

// UpdateThreadDisplayName overwrites a placeholder display name once a
// real one is known.
func (s *Store) UpdateThreadDisplayName(ctx context.Context, id int64, name string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE threads SET customer_display_name = $1, updated_at = NOW() WHERE id = $2
	`, name, id)
	return err
}

// UpdateThreadContact patches the profile fields a contacts event carries.
// Empty inputs leave the stored value untouched.
func (s *Store) UpdateThreadContact(ctx context.Context, id int64, displayName, photoURL string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE threads
		SET customer_display_name = COALESCE(NULLIF($1, ''), customer_display_name),
		    customer_photo_url    = COALESCE(NULLIF($2, ''), customer_photo_url),
		    updated_at            = NOW()
		WHERE id = $3
	`, displayName, photoURL, id)
	return err
}

// TouchThread applies the per-message summary update: preview, last
// activity, and optionally one unread increment.
func (s *Store) TouchThread(ctx context.Context, id int64, preview string, at time.Time, incrementUnread bool) error {
	inc := 0
	if incrementUnread {
		inc = 1
	}
	_, err := s.db.Exec(ctx, `
		UPDATE threads
		SET last_message_preview = $1, last_message_at = $2,
		    unread_count = unread_count + $3, is_active = TRUE, updated_at = NOW()
		WHERE id = $4
	`, preview, at, inc, id)
	return err
}

// MergeThreads moves every message from the losing thread to the winner,
// folds the unread counters together, and soft-deletes the loser. Both
// rows must belong to the same business account; callers hold the
// identity lock for the customer while this runs.
func (s *Store) MergeThreads(ctx context.Context, winnerID, loserID int64) error {
	if _, err := s.db.Exec(ctx, `
		UPDATE messages SET thread_ref_id = $1, updated_at = NOW() WHERE thread_ref_id = $2
	`, winnerID, loserID); err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, `
		UPDATE threads w
		SET unread_count = w.unread_count + l.unread_count,
		    customer_lid = COALESCE(w.customer_lid, l.customer_lid),
		    last_message_at = GREATEST(w.last_message_at, l.last_message_at),
		    updated_at = NOW()
		FROM threads l
		WHERE w.id = $1 AND l.id = $2
	`, winnerID, loserID); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, `
		UPDATE threads
		SET is_active = FALSE, deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, loserID)
	return err
}

func scanThread(row pgx.Row) (*models.Thread, error) {
	var t models.Thread
	err := row.Scan(
		&t.ID, &t.ThreadID, &t.BusinessAccountID, &t.Channel, &t.ThreadKey, &t.MainParticipant,
		&t.CustomerDisplayName, &t.CustomerPhone, &t.CustomerLid, &t.CustomerPlatformID,
		&t.CustomerPhotoURL, &t.CreatedAt, &t.LastMessageAt, &t.LastMessagePreview,
		&t.UnreadCount, &t.Status, &t.AssignedTo, &t.IsActive, &t.UpdatedAt, &t.DeletedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func collectThreads(rows pgx.Rows) ([]models.Thread, error) {
	var threads []models.Thread
	for rows.Next() {
		var t models.Thread
		if err := rows.Scan(
			&t.ID, &t.ThreadID, &t.BusinessAccountID, &t.Channel, &t.ThreadKey, &t.MainParticipant,
			&t.CustomerDisplayName, &t.CustomerPhone, &t.CustomerLid, &t.CustomerPlatformID,
			&t.CustomerPhotoURL, &t.CreatedAt, &t.LastMessageAt, &t.LastMessagePreview,
			&t.UnreadCount, &t.Status, &t.AssignedTo, &t.IsActive, &t.UpdatedAt, &t.DeletedAt,
		); err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}
