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

	"github.com/wacrm/ingestion/internal/models"
)

// SaveRawPayload appends one webhook body to the audit trail and fills in
// the generated id. The ingress path calls this before enqueueing; if it
// fails the whole request fails, so no event is ever processed without a
// forensic copy.
func (s *Store) SaveRawPayload(ctx context.Context, rec *models.RawPayloadAudit) error {
	return s.db.QueryRow(ctx, `
		INSERT INTO raw_payloads
			(thread_id, source, instance, event, message_type, remote_jid, from_me,
			 sender, customer_phone, customer_display_name, message_at, received_at,
			 payload, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`, rec.ThreadID, rec.Source, rec.Instance, rec.Event, rec.MessageType,
		rec.RemoteJid, rec.FromMe, rec.Sender, rec.CustomerPhone,
		rec.CustomerDisplayName, rec.MessageAt, rec.ReceivedAt,
		rec.Payload, rec.Notes).Scan(&rec.ID)
}

// MarkPayloadProcessed flags an audit row once the worker has fully
// handled its event.
func (s *Store) MarkPayloadProcessed(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE raw_payloads SET processed = TRUE WHERE id = $1
	`, id)
	return err
}
