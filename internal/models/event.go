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

package models

import "time"

// Change event names pushed to connected inbox clients.
const (
	EventNewMessage     = "message.new"
	EventMessageUpdated = "message.updated"
	EventReaction       = "message.reaction"
)

// ChangeEvent is the minimal notification emitted after a successful write,
// addressed to the business-account group the thread belongs to. Reaction
// and edit events carry the reduced shape (no media/kind fields).
type ChangeEvent struct {
	ID    string `json:"id"`
	Event string `json:"event"`

	ThreadID   string `json:"thread_id"`
	ThreadDBID int64  `json:"thread_db_id,omitempty"`
	MessageID  int64  `json:"message_id,omitempty"`
	ExternalID string `json:"external_id,omitempty"`

	Sender      string `json:"sender,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Text        string `json:"text,omitempty"`
	Kind        string `json:"kind,omitempty"`
	MediaURL    string `json:"media_url,omitempty"`
	Reaction    string `json:"reaction,omitempty"`

	CreatedAt   *time.Time `json:"created_at,omitempty"`
	DirectionIn bool       `json:"direction_in,omitempty"`
}
