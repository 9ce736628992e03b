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

	"github.com/jackc/pgx/v5"

	"github.com/wacrm/ingestion/internal/models"
)

// MessageSeen reports whether a message with this external id or raw hash
// already exists in the thread. The external id wins when present; the
// hash covers bridge payloads that never carried one.
func (s *Store) MessageSeen(ctx context.Context, threadRefID int64, externalID, rawHash string) (bool, error) {
	var seen bool
	var err error
	if externalID != "" {
		err = s.db.QueryRow(ctx, `
			SELECT EXISTS(SELECT 1 FROM messages WHERE thread_ref_id = $1 AND external_id = $2)
		`, threadRefID, externalID).Scan(&seen)
	} else {
		err = s.db.QueryRow(ctx, `
			SELECT EXISTS(SELECT 1 FROM messages WHERE thread_ref_id = $1 AND raw_hash = $2)
		`, threadRefID, rawHash).Scan(&seen)
	}
	return seen, err
}

// InsertMessage creates a message row and fills in its generated id.
func (s *Store) InsertMessage(ctx context.Context, m *models.Message) error {
	return s.db.QueryRow(ctx, `
		INSERT INTO messages
			(thread_ref_id, sender, display_name, text, message_at, external_timestamp,
			 direction_in, media_url, media_mime, media_caption, media_type,
			 raw_payload, external_id, raw_hash, kind, has_media, status,
			 quoted_message_id, quoted_message_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id, created_at, updated_at
	`, m.ThreadRefID, m.Sender, m.DisplayName, m.Text, m.MessageAt, m.ExternalTimestamp,
		m.DirectionIn, m.MediaURL, m.MediaMime, m.MediaCaption, m.MediaType,
		m.RawPayload, m.ExternalID, m.RawHash, int(m.Kind), m.HasMedia, m.Status,
		m.QuotedMessageID, m.QuotedMessageText).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
}

// InsertAttachment stores the decryption metadata for a media message.
func (s *Store) InsertAttachment(ctx context.Context, a *models.MediaAttachment) error {
	return s.db.QueryRow(ctx, `
		INSERT INTO media_attachments
			(message_id, media_type, mime_type, media_url, media_key, file_sha256,
			 file_enc_sha256, direct_path, media_key_timestamp, file_name,
			 file_length, page_count, thumbnail_base64)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at
	`, a.MessageID, a.MediaType, a.MimeType, a.MediaURL, a.MediaKey, a.FileSha256,
		a.FileEncSha256, a.DirectPath, a.MediaKeyTimestamp, a.FileName,
		a.FileLength, a.PageCount, a.ThumbnailBase64).Scan(&a.ID, &a.CreatedAt)
}

// FindMessageByExternalID returns the newest message matching the bridge
// id, or nil. A non-empty threadID narrows the search to that thread so
// an id collision across threads cannot resolve to the wrong row.
func (s *Store) FindMessageByExternalID(ctx context.Context, businessAccountID, threadID, externalID string) (*models.Message, error) {
	row := s.db.QueryRow(ctx, `
		SELECT m.id, m.thread_ref_id, m.sender, m.display_name, m.text, m.message_at,
		       m.external_timestamp, m.direction_in, m.media_url, m.media_mime,
		       m.media_caption, m.media_type, m.raw_payload, m.external_id, m.raw_hash,
		       m.kind, m.has_media, m.status, m.reaction,
		       m.quoted_message_id, m.quoted_message_text, m.created_at, m.updated_at
		FROM messages m
		JOIN threads t ON t.id = m.thread_ref_id
		WHERE t.business_account_id = $1
		  AND ($2 = '' OR t.thread_id = $2)
		  AND m.external_id = $3
		ORDER BY m.id DESC
		LIMIT 1
	`, businessAccountID, threadID, externalID)
	return scanMessage(row)
}

// ApplyEdit replaces a message's text after an upstream edit.
func (s *Store) ApplyEdit(ctx context.Context, id int64, text string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE messages SET text = $1, updated_at = NOW() WHERE id = $2
	`, text, id)
	return err
}

// ApplyReaction records the current reaction on a message. An empty emoji
// clears it (the customer removed their reaction).
func (s *Store) ApplyReaction(ctx context.Context, id int64, emoji string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE messages SET reaction = NULLIF($1, ''), updated_at = NOW() WHERE id = $2
	`, emoji, id)
	return err
}

// UpgradeStatus raises a message's delivery status, never lowering it.
// Returns false when no row matched or the stored status was already at
// or past the new one.
func (s *Store) UpgradeStatus(ctx context.Context, businessAccountID, externalID string, status int) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE messages m
		SET status = $3, updated_at = NOW()
		FROM threads t
		WHERE t.id = m.thread_ref_id
		  AND t.business_account_id = $1
		  AND m.external_id = $2
		  AND m.status < $3
	`, businessAccountID, externalID, status)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	var kind int
	err := row.Scan(
		&m.ID, &m.ThreadRefID, &m.Sender, &m.DisplayName, &m.Text, &m.MessageAt,
		&m.ExternalTimestamp, &m.DirectionIn, &m.MediaURL, &m.MediaMime,
		&m.MediaCaption, &m.MediaType, &m.RawPayload, &m.ExternalID, &m.RawHash,
		&kind, &m.HasMedia, &m.Status, &m.Reaction,
		&m.QuotedMessageID, &m.QuotedMessageText, &m.CreatedAt, &m.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.Kind = models.MessageKind(kind)
	return &m, nil
}
