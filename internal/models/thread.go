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

// Package models defines the data structures shared across the ingestion service.
package models

import "time"

// Channel identifiers for threads. Only WhatsApp is wired today.
const ChannelWhatsApp = 1

// Thread statuses for the inbox UI.
const (
	ThreadOpen = iota
	ThreadPending
	ThreadClosed
)

// Thread is a single logical customer conversation within one business
// account. A customer may surface under two upstream identifiers: a stable
// phone number and a transient anonymous id ("LID") issued before the phone
// is known. At most one active thread exists per (business account, phone)
// and per (business account, LID); when both resolve to different rows the
// store merges them.
type Thread struct {
	ID                int64
	ThreadID          string // public key: "wa:<phone>" or "wa:lid:<lid>"
	BusinessAccountID string
	Channel           int
	ThreadKey         string
	MainParticipant   string

	CustomerDisplayName string
	CustomerPhone       *string
	CustomerLid         *string
	CustomerPlatformID  string
	CustomerPhotoURL    string

	CreatedAt          time.Time
	LastMessageAt      *time.Time
	LastMessagePreview string
	UnreadCount        int
	Status             int
	AssignedTo         string
	IsActive           bool
	UpdatedAt          time.Time
	DeletedAt          *time.Time
}
