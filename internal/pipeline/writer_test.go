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

package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wacrm/ingestion/internal/models"
)

type touchCall struct {
	threadID  int64
	preview   string
	increment bool
}

type fakeTxStore struct {
	threads  []*models.Thread
	messages []*models.Message
	nextID   int64

	insertErr error

	reactions   map[int64]string
	edits       map[int64]string
	touches     []touchCall
	findThreads []string // threadID scope passed to each lookup
}

func newFakeTxStore() *fakeTxStore {
	return &fakeTxStore{
		nextID:    10,
		reactions: map[int64]string{},
		edits:     map[int64]string{},
	}
}

func (f *fakeTxStore) FindThreadByPhone(ctx context.Context, businessAccountID, phone string) (*models.Thread, error) {
	for _, t := range f.threads {
		if t.CustomerPhone != nil && *t.CustomerPhone == phone {
			return t, nil
		}
	}
	return nil, nil
}

func (f *fakeTxStore) FindThreadByLid(ctx context.Context, businessAccountID, lid string) (*models.Thread, error) {
	return nil, nil
}

func (f *fakeTxStore) FindThreadByThreadID(ctx context.Context, businessAccountID, threadID string) (*models.Thread, error) {
	return nil, nil
}

func (f *fakeTxStore) InsertThread(ctx context.Context, t *models.Thread) error {
	f.nextID++
	t.ID = f.nextID
	f.threads = append(f.threads, t)
	return nil
}

func (f *fakeTxStore) PromoteThread(ctx context.Context, id int64, threadID string, phone, lid *string, platformID, mainParticipant string) error {
	return nil
}

func (f *fakeTxStore) AttachLid(ctx context.Context, id int64, lid string) error { return nil }

func (f *fakeTxStore) UpdateThreadDisplayName(ctx context.Context, id int64, name string) error {
	return nil
}

func (f *fakeTxStore) MergeThreads(ctx context.Context, winnerID, loserID int64) error { return nil }

func (f *fakeTxStore) MessageSeen(ctx context.Context, threadRefID int64, externalID, rawHash string) (bool, error) {
	for _, m := range f.messages {
		if m.ThreadRefID != threadRefID {
			continue
		}
		if externalID != "" && m.ExternalID != nil && *m.ExternalID == externalID {
			return true, nil
		}
		if m.RawHash == rawHash {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeTxStore) InsertMessage(ctx context.Context, m *models.Message) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.nextID++
	m.ID = f.nextID
	m.CreatedAt = time.Now()
	f.messages = append(f.messages, m)
	return nil
}

func (f *fakeTxStore) InsertAttachment(ctx context.Context, a *models.MediaAttachment) error {
	return nil
}

func (f *fakeTxStore) TouchThread(ctx context.Context, id int64, preview string, at time.Time, incrementUnread bool) error {
	f.touches = append(f.touches, touchCall{threadID: id, preview: preview, increment: incrementUnread})
	return nil
}

func (f *fakeTxStore) FindMessageByExternalID(ctx context.Context, businessAccountID, threadID, externalID string) (*models.Message, error) {
	f.findThreads = append(f.findThreads, threadID)
	for _, m := range f.messages {
		if m.ExternalID != nil && *m.ExternalID == externalID {
			return m, nil
		}
	}
	return nil, nil
}

func (f *fakeTxStore) ApplyEdit(ctx context.Context, id int64, text string) error {
	f.edits[id] = text
	return nil
}

func (f *fakeTxStore) ApplyReaction(ctx context.Context, id int64, emoji string) error {
	f.reactions[id] = emoji
	return nil
}

type fakeSeen struct {
	fresh   bool
	err     error
	forgets []string
}

func (f *fakeSeen) IsNew(ctx context.Context, businessAccountID, id string) (bool, error) {
	return f.fresh, f.err
}

func (f *fakeSeen) Forget(ctx context.Context, businessAccountID, id string) error {
	f.forgets = append(f.forgets, id)
	return nil
}

type fakePublisher struct {
	events []models.ChangeEvent
}

func (f *fakePublisher) Publish(ctx context.Context, businessAccountID string, ev models.ChangeEvent) {
	f.events = append(f.events, ev)
}

func testWriter(tx *fakeTxStore, seen SeenFilter, notify Publisher) *Writer {
	return newWriter(func(ctx context.Context, fn func(TxStore) error) error {
		return fn(tx)
	}, seen, notify)
}

func inboundSnap(externalID string) *models.Snapshot {
	return &models.Snapshot{
		ThreadID:          "wa:5215512345678",
		BusinessAccountID: "acct-1",
		CustomerPhone:     "5215512345678",
		Sender:            "5215512345678",
		DirectionIn:       true,
		Kind:              models.KindText,
		MessageType:       models.TypeConversation,
		Text:              "hola",
		TextPreview:       "hola",
		ExternalID:        externalID,
		RawPayload:        `{"message":{"conversation":"hola"}}`,
		MessageAt:         time.Now(),
	}
}

func TestApplyInsertsOnce(t *testing.T) {
	tx := newFakeTxStore()
	pub := &fakePublisher{}
	w := testWriter(tx, nil, pub)

	out, err := w.Apply(context.Background(), inboundSnap("MSG1"))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out != OutcomeInserted {
		t.Fatalf("outcome = %v, want inserted", out)
	}
	if len(tx.messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(tx.messages))
	}
	if len(tx.touches) != 1 || !tx.touches[0].increment {
		t.Errorf("touches = %+v, want one unread increment", tx.touches)
	}
	if len(pub.events) != 1 || pub.events[0].Event != models.EventNewMessage {
		t.Errorf("events = %+v, want one new-message event", pub.events)
	}

	// Redelivery of the same bridge id changes nothing.
	out, err = w.Apply(context.Background(), inboundSnap("MSG1"))
	if err != nil {
		t.Fatalf("Apply redelivery: %v", err)
	}
	if out != OutcomeDuplicate {
		t.Errorf("redelivery outcome = %v, want duplicate", out)
	}
	if len(tx.messages) != 1 {
		t.Errorf("messages after redelivery = %d, want 1", len(tx.messages))
	}
	if len(pub.events) != 1 {
		t.Errorf("events after redelivery = %d, want 1", len(pub.events))
	}
}

func TestApplyFastPathDuplicate(t *testing.T) {
	tx := newFakeTxStore()
	seen := &fakeSeen{fresh: false}
	w := testWriter(tx, seen, nil)

	out, err := w.Apply(context.Background(), inboundSnap("MSG1"))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out != OutcomeDuplicate {
		t.Errorf("outcome = %v, want duplicate", out)
	}
	if len(tx.messages) != 0 {
		t.Error("fast-path duplicate must not reach the store")
	}
}

func TestApplyReleasesDedupClaimOnFailure(t *testing.T) {
	tx := newFakeTxStore()
	tx.insertErr = errors.New("insert failed")
	seen := &fakeSeen{fresh: true}
	w := testWriter(tx, seen, nil)

	out, err := w.Apply(context.Background(), inboundSnap("MSG1"))
	if err == nil {
		t.Fatal("Apply should surface the insert error")
	}
	if out != OutcomeIgnored {
		t.Errorf("outcome = %v, want ignored", out)
	}
	// The claim must be released so the bridge redelivery is not
	// swallowed with nothing stored.
	if len(seen.forgets) != 1 || seen.forgets[0] != "MSG1" {
		t.Errorf("forgets = %v, want the claimed id released", seen.forgets)
	}
}

func TestApplyReactionUnknownTargetIgnored(t *testing.T) {
	tx := newFakeTxStore()
	snap := inboundSnap("")
	snap.MessageType = models.TypeReaction
	snap.ReactionTargetID = "NEVER_STORED"
	snap.Text = "👍"

	out, err := testWriter(tx, nil, nil).Apply(context.Background(), snap)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out != OutcomeIgnored {
		t.Errorf("outcome = %v, want ignored", out)
	}
	if len(tx.reactions) != 0 || len(tx.touches) != 0 {
		t.Error("unknown reaction target must not write")
	}
}

func TestApplyReactionScopedToThread(t *testing.T) {
	tx := newFakeTxStore()
	pub := &fakePublisher{}
	w := testWriter(tx, nil, pub)

	if _, err := w.Apply(context.Background(), inboundSnap("MSG1")); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	snap := inboundSnap("")
	snap.MessageType = models.TypeReaction
	snap.ReactionTargetID = "MSG1"
	snap.Text = "👍"

	out, err := w.Apply(context.Background(), snap)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out != OutcomeReacted {
		t.Fatalf("outcome = %v, want reacted", out)
	}
	if got := tx.reactions[tx.messages[0].ID]; got != "👍" {
		t.Errorf("reaction = %q", got)
	}
	// The lookup stays inside the resolved thread.
	if len(tx.findThreads) != 1 || tx.findThreads[0] != "wa:5215512345678" {
		t.Errorf("lookup scopes = %v, want the snapshot's thread", tx.findThreads)
	}
	last := tx.touches[len(tx.touches)-1]
	if last.increment {
		t.Error("a reaction must not increment unread")
	}
	if len(pub.events) != 2 || pub.events[1].Event != models.EventReaction {
		t.Errorf("events = %+v, want a reaction event", pub.events)
	}
}

func TestApplyEditUpdatesTarget(t *testing.T) {
	tx := newFakeTxStore()
	w := testWriter(tx, nil, nil)

	if _, err := w.Apply(context.Background(), inboundSnap("MSG1")); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	snap := inboundSnap("MSG1")
	snap.MessageType = models.TypeEdited
	snap.Text = "hola corregido"

	out, err := w.Apply(context.Background(), snap)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out != OutcomeEdited {
		t.Fatalf("outcome = %v, want edited", out)
	}
	if got := tx.edits[tx.messages[0].ID]; got != "hola corregido" {
		t.Errorf("edit = %q", got)
	}
	if len(tx.messages) != 1 {
		t.Error("an edit must not insert a row")
	}
}
