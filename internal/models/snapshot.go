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

// Wire message types the normalizer routes on.
const (
	TypeConversation = "conversation"
	TypeImage        = "imageMessage"
	TypeVideo        = "videoMessage"
	TypeAudio        = "audioMessage"
	TypeDocument     = "documentMessage"
	TypeSticker      = "stickerMessage"
	TypeReaction     = "reactionMessage"
	TypeEdited       = "editedMessage"
)

// Snapshot is the normalized in-memory representation of one inbound
// message-bearing event, independent of storage. The normalizer fills it
// from the raw webhook body; the persistence writer routes it as a new
// message, an edit, or a reaction based on MessageType.
type Snapshot struct {
	ThreadID          string // deterministic public key for the owning thread
	BusinessAccountID string

	Sender              string
	CustomerPhone       string // digits only, empty when unknown
	CustomerLid         string // full anonymous JID, empty when absent
	CustomerDisplayName string
	DirectionIn         bool

	Kind        MessageKind
	MessageType string
	Text        string
	TextPreview string

	MediaURL     string
	MediaMime    string
	MediaCaption string
	MediaType    string
	HasMedia     bool

	MediaKey          string
	FileSha256        string
	FileEncSha256     string
	DirectPath        string
	MediaKeyTimestamp int64
	FileName          string
	FileLength        int64
	PageCount         int
	ThumbnailBase64   string

	ExternalID        string // for edits: the id of the message being edited
	ReactionTargetID  string // for reactions: the id of the message reacted to
	ExternalTimestamp int64
	MessageAt         time.Time
	Source            string

	QuotedMessageID   string
	QuotedMessageText string

	RawPayload string
}

// Envelope is the light mapping the ingress path builds before enqueueing:
// just enough to decide direction, audit keying, and queue metadata. The
// worker re-parses the raw payload into a full Snapshot.
type Envelope struct {
	ThreadID          string
	BusinessAccountID string
	CustomerPhone     string
	CustomerLid       string
	DisplayName       string
	Text              string
	DirectionIn       bool
	ExternalID        string
	ExternalTimestamp int64
}

// RawPayloadAudit is the append-only forensic record of every accepted
// webhook body, written synchronously before classification branches.
type RawPayloadAudit struct {
	ID       int64
	ThreadID string
	Source   string

	Instance    string
	Event       string
	MessageType string
	RemoteJid   string
	FromMe      *bool
	Sender      string

	CustomerPhone       string
	CustomerDisplayName string

	MessageAt  *time.Time
	ReceivedAt time.Time
	Payload    string
	Processed  bool
	Notes      string // remote IP of the delivering request
}
