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

// Package pipeline applies normalized snapshots to storage and drives the
// background worker that drains the ingress queue.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wacrm/ingestion/internal/identity"
	"github.com/wacrm/ingestion/internal/models"
	"github.com/wacrm/ingestion/internal/parse"
	"github.com/wacrm/ingestion/internal/store"
)

// Outcome classifies what applying one snapshot did.
type Outcome int

const (
	OutcomeInserted Outcome = iota
	OutcomeDuplicate
	OutcomeEdited
	OutcomeReacted
	OutcomeIgnored
)

// String returns the log label for an outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeEdited:
		return "edited"
	case OutcomeReacted:
		return "reacted"
	default:
		return "ignored"
	}
}

// Publisher pushes change events to connected clients.
type Publisher interface {
	Publish(ctx context.Context, businessAccountID string, ev models.ChangeEvent)
}

// SeenFilter is the optional Redis fast path in front of the
// authoritative store check. Forget releases a claimed id whose write
// failed so a redelivery can get through.
type SeenFilter interface {
	IsNew(ctx context.Context, businessAccountID, id string) (bool, error)
	Forget(ctx context.Context, businessAccountID, id string) error
}

// TxStore is the transactional slice of the store the writer works in.
type TxStore interface {
	identity.Store
	MessageSeen(ctx context.Context, threadRefID int64, externalID, rawHash string) (bool, error)
	InsertMessage(ctx context.Context, m *models.Message) error
	InsertAttachment(ctx context.Context, a *models.MediaAttachment) error
	TouchThread(ctx context.Context, id int64, preview string, at time.Time, incrementUnread bool) error
	FindMessageByExternalID(ctx context.Context, businessAccountID, threadID, externalID string) (*models.Message, error)
	ApplyEdit(ctx context.Context, id int64, text string) error
	ApplyReaction(ctx context.Context, id int64, emoji string) error
}

// txRunner executes fn inside one transaction.
type txRunner func(ctx context.Context, fn func(tx TxStore) error) error

// Writer applies snapshots: new messages insert under the identity lock
// in one transaction, edits and reactions patch existing rows.
type Writer struct {
	inTx   txRunner
	locks  *identity.KeyLock
	seen   SeenFilter
	notify Publisher
}

// NewWriter creates a writer over the pgx store. seen may be nil (no
// fast path); notify may be nil (no client push).
func NewWriter(st *store.Store, seen SeenFilter, notify Publisher) *Writer {
	return newWriter(func(ctx context.Context, fn func(tx TxStore) error) error {
		return st.WithTx(ctx, func(tx *store.Store) error { return fn(tx) })
	}, seen, notify)
}

func newWriter(inTx txRunner, seen SeenFilter, notify Publisher) *Writer {
	return &Writer{
		inTx:   inTx,
		locks:  identity.NewKeyLock(),
		seen:   seen,
		notify: notify,
	}
}

// Apply routes one snapshot by its wire message type.
func (w *Writer) Apply(ctx context.Context, snap *models.Snapshot) (Outcome, error) {
	switch snap.MessageType {
	case models.TypeReaction:
		return w.applyReaction(ctx, snap)
	case models.TypeEdited:
		return w.applyEdit(ctx, snap)
	default:
		return w.applyNew(ctx, snap)
	}
}

func (w *Writer) applyNew(ctx context.Context, snap *models.Snapshot) (Outcome, error) {
	rawHash := parse.Sha256Hex([]byte(snap.RawPayload))
	dedupID := snap.ExternalID
	if dedupID == "" {
		dedupID = rawHash
	}

	claimed := false
	if w.seen != nil {
		fresh, err := w.seen.IsNew(ctx, snap.BusinessAccountID, dedupID)
		if err != nil {
			// Redis down degrades to the store check, never drops events.
			slog.Warn("dedup fast path unavailable", "error", err)
		} else if !fresh {
			return OutcomeDuplicate, nil
		} else {
			claimed = true
		}
	}

	unlock := w.locks.Lock(identity.Key(snap.BusinessAccountID, snap.CustomerPhone, snap.CustomerLid))
	defer unlock()

	var (
		thread    *models.Thread
		msg       *models.Message
		duplicate bool
	)
	err := w.inTx(ctx, func(tx TxStore) error {
		var err error
		thread, err = identity.Resolve(ctx, tx, snap)
		if err != nil {
			return err
		}

		seen, err := tx.MessageSeen(ctx, thread.ID, snap.ExternalID, rawHash)
		if err != nil {
			return fmt.Errorf("dedup check: %w", err)
		}
		if seen {
			duplicate = true
			return nil
		}

		msg = buildMessage(thread.ID, snap, rawHash)
		if err := tx.InsertMessage(ctx, msg); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		if snap.HasMedia {
			att := buildAttachment(msg.ID, snap)
			if err := tx.InsertAttachment(ctx, att); err != nil {
				return fmt.Errorf("insert attachment: %w", err)
			}
		}

		// Unread only counts customer messages; outbound echoes that
		// slipped through the ingress drop must not inflate it.
		if err := tx.TouchThread(ctx, thread.ID, snap.TextPreview, snap.MessageAt, snap.DirectionIn); err != nil {
			return fmt.Errorf("touch thread: %w", err)
		}
		return nil
	})
	if err != nil {
		// The id was claimed in Redis before the transaction; release it
		// or the bridge's redelivery is dropped with nothing stored.
		if claimed {
			if ferr := w.seen.Forget(ctx, snap.BusinessAccountID, dedupID); ferr != nil {
				slog.Warn("dedup release failed", "id", dedupID, "error", ferr)
			}
		}
		return OutcomeIgnored, err
	}
	if duplicate {
		return OutcomeDuplicate, nil
	}

	if w.notify != nil {
		created := msg.CreatedAt
		w.notify.Publish(ctx, snap.BusinessAccountID, models.ChangeEvent{
			Event:       models.EventNewMessage,
			ThreadID:    thread.ThreadID,
			ThreadDBID:  thread.ID,
			MessageID:   msg.ID,
			ExternalID:  snap.ExternalID,
			Sender:      snap.Sender,
			DisplayName: thread.CustomerDisplayName,
			Text:        snap.Text,
			Kind:        snap.Kind.String(),
			MediaURL:    snap.MediaURL,
			CreatedAt:   &created,
			DirectionIn: snap.DirectionIn,
		})
	}
	return OutcomeInserted, nil
}

func (w *Writer) applyReaction(ctx context.Context, snap *models.Snapshot) (Outcome, error) {
	if snap.ReactionTargetID == "" {
		return OutcomeIgnored, nil
	}

	var target *models.Message
	err := w.inTx(ctx, func(tx TxStore) error {
		var err error
		target, err = tx.FindMessageByExternalID(ctx, snap.BusinessAccountID, threadScope(snap), snap.ReactionTargetID)
		if err != nil || target == nil {
			return err
		}
		if err := tx.ApplyReaction(ctx, target.ID, snap.Text); err != nil {
			return fmt.Errorf("apply reaction: %w", err)
		}
		return tx.TouchThread(ctx, target.ThreadRefID, parse.ReactionPreview(snap.Text), snap.MessageAt, false)
	})
	if err != nil {
		return OutcomeIgnored, err
	}
	if target == nil {
		// Reaction to a message we never stored, usually from before the
		// account was connected.
		slog.Debug("reaction target not found",
			"external_id", snap.ReactionTargetID,
			"business_account", snap.BusinessAccountID)
		return OutcomeIgnored, nil
	}

	if w.notify != nil {
		w.notify.Publish(ctx, snap.BusinessAccountID, models.ChangeEvent{
			Event:      models.EventReaction,
			ThreadID:   snap.ThreadID,
			ThreadDBID: target.ThreadRefID,
			MessageID:  target.ID,
			ExternalID: snap.ReactionTargetID,
			Reaction:   snap.Text,
		})
	}
	return OutcomeReacted, nil
}

func (w *Writer) applyEdit(ctx context.Context, snap *models.Snapshot) (Outcome, error) {
	if snap.ExternalID == "" {
		return OutcomeIgnored, nil
	}

	var target *models.Message
	err := w.inTx(ctx, func(tx TxStore) error {
		var err error
		target, err = tx.FindMessageByExternalID(ctx, snap.BusinessAccountID, threadScope(snap), snap.ExternalID)
		if err != nil || target == nil {
			return err
		}
		if err := tx.ApplyEdit(ctx, target.ID, snap.Text); err != nil {
			return fmt.Errorf("apply edit: %w", err)
		}
		return tx.TouchThread(ctx, target.ThreadRefID, snap.TextPreview, snap.MessageAt, false)
	})
	if err != nil {
		return OutcomeIgnored, err
	}
	if target == nil {
		slog.Debug("edit target not found",
			"external_id", snap.ExternalID,
			"business_account", snap.BusinessAccountID)
		return OutcomeIgnored, nil
	}

	if w.notify != nil {
		w.notify.Publish(ctx, snap.BusinessAccountID, models.ChangeEvent{
			Event:      models.EventMessageUpdated,
			ThreadID:   snap.ThreadID,
			ThreadDBID: target.ThreadRefID,
			MessageID:  target.ID,
			ExternalID: snap.ExternalID,
			Text:       snap.Text,
		})
	}
	return OutcomeEdited, nil
}

// threadScope narrows reaction and edit lookups to the snapshot's thread.
// An unresolvable identity falls back to the account-wide search.
func threadScope(snap *models.Snapshot) string {
	if snap.ThreadID == parse.UnknownThreadKey {
		return ""
	}
	return snap.ThreadID
}

func buildMessage(threadRefID int64, snap *models.Snapshot, rawHash string) *models.Message {
	ts := snap.ExternalTimestamp
	return &models.Message{
		ThreadRefID:       threadRefID,
		Sender:            snap.Sender,
		DisplayName:       snap.CustomerDisplayName,
		Text:              strPtr(snap.Text),
		MessageAt:         snap.MessageAt,
		ExternalTimestamp: &ts,
		DirectionIn:       snap.DirectionIn,
		MediaURL:          strPtr(snap.MediaURL),
		MediaMime:         strPtr(snap.MediaMime),
		MediaCaption:      strPtr(snap.MediaCaption),
		MediaType:         strPtr(snap.MediaType),
		RawPayload:        snap.RawPayload,
		ExternalID:        strPtr(snap.ExternalID),
		RawHash:           rawHash,
		Kind:              snap.Kind,
		HasMedia:          snap.HasMedia,
		Status:            models.StatusSent,
		QuotedMessageID:   strPtr(snap.QuotedMessageID),
		QuotedMessageText: strPtr(snap.QuotedMessageText),
	}
}

func buildAttachment(messageID int64, snap *models.Snapshot) *models.MediaAttachment {
	return &models.MediaAttachment{
		MessageID:         messageID,
		MediaType:         snap.MediaType,
		MimeType:          strPtr(snap.MediaMime),
		MediaURL:          strPtr(snap.MediaURL),
		MediaKey:          strPtr(snap.MediaKey),
		FileSha256:        strPtr(snap.FileSha256),
		FileEncSha256:     strPtr(snap.FileEncSha256),
		DirectPath:        strPtr(snap.DirectPath),
		MediaKeyTimestamp: int64Ptr(snap.MediaKeyTimestamp),
		FileName:          strPtr(snap.FileName),
		FileLength:        int64Ptr(snap.FileLength),
		PageCount:         intPtr(snap.PageCount),
		ThumbnailBase64:   strPtr(snap.ThumbnailBase64),
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func int64Ptr(n int64) *int64 {
	if n == 0 {
		return nil
	}
	return &n
}

func intPtr(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}
