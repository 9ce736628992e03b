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

// MessageKind is the normalized message type shown in the inbox UI.
type MessageKind int

const (
	KindText MessageKind = iota
	KindImage
	KindDocument
	KindAudio
	KindSticker
	KindVideo
)

// String returns the wire label for a message kind.
func (k MessageKind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindDocument:
		return "document"
	case KindAudio:
		return "audio"
	case KindSticker:
		return "sticker"
	case KindVideo:
		return "video"
	default:
		return "text"
	}
}

// Delivery status ordinals. The stored status only ever increases: a late
// DELIVERED ack never downgrades a message already marked READ.
const (
	StatusSent      = 0
	StatusDelivered = 1
	StatusRead      = 2
)

// Message is one persisted inbox message, exclusively owned by its thread.
// It is unique within the thread by ExternalID when the bridge supplied
// one, otherwise by RawHash (SHA-256 of the raw payload).
type Message struct {
	ID          int64
	ThreadRefID int64

	Sender      string
	DisplayName string
	Text        *string

	MessageAt         time.Time // wire timestamp normalized to the deployment time zone
	ExternalTimestamp *int64    // original unix seconds
	DirectionIn       bool

	MediaURL     *string
	MediaMime    *string
	MediaCaption *string
	MediaType    *string

	RawPayload string
	ExternalID *string
	RawHash    string

	Kind     MessageKind
	HasMedia bool
	Status   int
	Reaction *string

	QuotedMessageID   *string
	QuotedMessageText *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// MediaAttachment carries the metadata required to fetch and decrypt a
// media message client-side. Owned 1:1 by a message with HasMedia set.
type MediaAttachment struct {
	ID        int64
	MessageID int64

	MediaType string
	MimeType  *string
	MediaURL  *string

	MediaKey          *string
	FileSha256        *string
	FileEncSha256     *string
	DirectPath        *string
	MediaKeyTimestamp *int64

	FileName        *string
	FileLength      *int64
	PageCount       *int
	ThumbnailBase64 *string

	CreatedAt time.Time
}
