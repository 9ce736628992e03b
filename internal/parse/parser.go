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

// Package parse converts the messaging bridge's loosely-typed webhook
// payloads into canonical message snapshots. The same logical field can
// arrive under several shapes (nested or flattened data, number-or-string
// timestamps, phone JIDs vs anonymous LIDs), so every extraction goes
// through one tolerant path here instead of ad-hoc probing in callers.
// A parse failure yields an error, never a partial snapshot; callers fall
// back to preserving the raw payload.
package parse

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wacrm/ingestion/internal/models"
)

// mediaHost is the stable media host; a direct path joined to it outlives
// the ephemeral signed URLs the bridge sometimes sends instead.
const mediaHost = "https://mmg.whatsapp.net"

// previewLimit caps thread preview text.
const previewLimit = 200

// Normalizer maps raw webhook bodies to snapshots. Wire timestamps are
// unix seconds; they are stored in the deployment's configured time zone.
type Normalizer struct {
	loc *time.Location
}

// NewNormalizer creates a normalizer storing times in loc (UTC when nil).
func NewNormalizer(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{loc: loc}
}

// LocalTime converts a unix-seconds timestamp to the configured zone.
func (n *Normalizer) LocalTime(unix int64) time.Time {
	return time.Unix(unix, 0).In(n.loc)
}

// Now returns the current time in the configured zone.
func (n *Normalizer) Now() time.Time {
	return time.Now().In(n.loc)
}

func decodeBody(body []byte) (*envelope, *dataNode, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, nil, fmt.Errorf("decode envelope: %w", err)
	}

	raw := env.Data
	if len(raw) == 0 || string(raw) == "null" {
		raw = body
	}
	var data dataNode
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, nil, fmt.Errorf("decode data element: %w", err)
	}
	return &env, &data, nil
}

// MapEnvelope performs the light mapping the ingress path needs before
// enqueueing: identity, direction, and the text preview fields. The worker
// re-parses the raw payload into a full snapshot later.
func (n *Normalizer) MapEnvelope(body []byte) (*models.Envelope, error) {
	env, data, err := decodeBody(body)
	if err != nil {
		return nil, err
	}

	key := data.Key
	if key == nil || key.RemoteJid == "" {
		return nil, errors.New("payload missing key.remoteJid")
	}

	phone, lid := SplitIdentity(key.RemoteJid, key.SenderPn, key.SenderLid)

	var text string
	if msg := data.Message; msg != nil {
		switch {
		case msg.Conversation != "":
			text = msg.Conversation
		case msg.ExtendedText != nil:
			text = msg.ExtendedText.Text
		}
	}

	pushName := data.PushName
	if pushName == "" {
		pushName = env.PushName
	}

	businessAccount := env.Instance
	if businessAccount == "" {
		businessAccount = "bridge"
	}

	return &models.Envelope{
		ThreadID:          ThreadKey(phone, lid),
		BusinessAccountID: businessAccount,
		CustomerPhone:     phone,
		CustomerLid:       lid,
		DisplayName:       pushName,
		Text:              text,
		DirectionIn:       !key.FromMe,
		ExternalID:        key.ID,
		ExternalTimestamp: UnixTimestamp(data.MessageTimestamp),
	}, nil
}

// BuildSnapshot performs the full normalization of a message-bearing event.
func (n *Normalizer) BuildSnapshot(body []byte) (*models.Snapshot, error) {
	env, data, err := decodeBody(body)
	if err != nil {
		return nil, err
	}
	if env.Instance == "" {
		return nil, errors.New("payload missing instance")
	}

	key := data.Key
	if key == nil {
		// Reaction events sometimes omit the outer key; the reaction node
		// carries the key of the original message instead.
		if data.Message != nil && data.Message.Reaction != nil && data.Message.Reaction.Key != nil {
			key = data.Message.Reaction.Key
		} else {
			return nil, errors.New("payload missing key")
		}
	}
	if key.RemoteJid == "" {
		return nil, errors.New("payload missing key.remoteJid")
	}

	phone, lid := SplitIdentity(key.RemoteJid, key.SenderPn, key.SenderLid)

	pushName := data.PushName
	if pushName == "" {
		pushName = env.PushName
	}

	isFromAd := false
	var quotedID, quotedText string
	if ctx := data.ContextInfo; ctx != nil {
		quotedID = ctx.StanzaID
		if q := ctx.QuotedMessage; q != nil {
			switch {
			case q.Conversation != "":
				quotedText = q.Conversation
			case q.ExtendedText != nil:
				quotedText = q.ExtendedText.Text
			case notNull(q.Image):
				quotedText = "📷 Photo"
			}
		}
		if ctx.AutomatedGreetingMessageShown != nil && *ctx.AutomatedGreetingMessageShown {
			isFromAd = true
		}
		if !isFromAd && notNull(ctx.ExternalAdReply) {
			isFromAd = true
		}
	}

	if len(data.MessageTimestamp) == 0 {
		return nil, errors.New("payload missing messageTimestamp")
	}
	ts := UnixTimestamp(data.MessageTimestamp)

	messageType := data.MessageType
	if messageType == "" {
		messageType = data.Type
	}
	if messageType == "" {
		messageType = "unknown"
	}

	if data.Message == nil {
		return nil, errors.New("payload missing message node")
	}

	sender := env.Sender
	if sender == "" {
		sender = key.RemoteJid
	}
	if key.FromMe && key.SenderPn != "" {
		sender = key.SenderPn
	}

	source := data.Source
	if source == "" {
		source = env.Source
	}

	snap := &models.Snapshot{
		ThreadID:          ThreadKey(phone, lid),
		BusinessAccountID: env.Instance,

		Sender:              sender,
		CustomerPhone:       phone,
		CustomerLid:         lid,
		CustomerDisplayName: displayNameFor(key.FromMe, pushName, isFromAd),
		DirectionIn:         !key.FromMe,

		MessageType: messageType,

		ExternalID:        key.ID,
		ExternalTimestamp: ts,
		MessageAt:         n.LocalTime(ts),
		Source:            source,

		QuotedMessageID:   quotedID,
		QuotedMessageText: quotedText,

		RawPayload: string(body),
	}

	if err := applyKind(snap, messageType, data.Message); err != nil {
		return nil, err
	}
	return snap, nil
}

// AuditRecord extracts the indexable fields for the append-only raw
// payload audit. It never fails: fields it cannot read stay empty and the
// payload is preserved verbatim either way.
func (n *Normalizer) AuditRecord(body []byte, remoteIP string) models.RawPayloadAudit {
	rec := models.RawPayloadAudit{
		ThreadID:   UnknownThreadKey,
		Source:     "bridge",
		ReceivedAt: n.Now(),
		Payload:    string(body),
		Notes:      remoteIP,
	}

	env, data, err := decodeBody(body)
	if err != nil {
		return rec
	}

	rec.Instance = env.Instance
	rec.Event = env.Event
	rec.Sender = env.Sender
	rec.MessageType = data.MessageType
	rec.CustomerDisplayName = data.PushName

	if key := data.Key; key != nil {
		rec.RemoteJid = key.RemoteJid
		fromMe := key.FromMe
		rec.FromMe = &fromMe

		phone, lid := SplitIdentity(key.RemoteJid, key.SenderPn, key.SenderLid)
		rec.CustomerPhone = phone
		if phone != "" || lid != "" {
			rec.ThreadID = ThreadKey(phone, lid)
		}
	}

	if len(data.MessageTimestamp) > 0 {
		at := n.LocalTime(UnixTimestamp(data.MessageTimestamp))
		rec.MessageAt = &at
	}
	return rec
}

// ReactionPreview is the thread preview text for a reaction event.
func ReactionPreview(emoji string) string {
	if emoji == "" {
		return "removed a reaction"
	}
	return "Reacted " + emoji
}

// PreviewText truncates s to the thread preview limit.
func PreviewText(s string) string {
	runes := []rune(s)
	if len(runes) > previewLimit {
		return string(runes[:previewLimit])
	}
	return s
}

func displayNameFor(fromMe bool, pushName string, isFromAd bool) string {
	// An outbound echo's pushName is the agent's own name; never label the
	// customer with it.
	if fromMe {
		if isFromAd {
			return NameAdProspect
		}
		return NameLidPending
	}
	if pushName == "" {
		if isFromAd {
			return NameAdProspect
		}
		return NameLidContact
	}
	return pushName
}

func notNull(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
