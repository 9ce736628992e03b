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

package identity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wacrm/ingestion/internal/models"
	"github.com/wacrm/ingestion/internal/parse"
)

// Store is the thread persistence the resolver works against, normally a
// transaction-bound store.
type Store interface {
	FindThreadByPhone(ctx context.Context, businessAccountID, phone string) (*models.Thread, error)
	FindThreadByLid(ctx context.Context, businessAccountID, lid string) (*models.Thread, error)
	FindThreadByThreadID(ctx context.Context, businessAccountID, threadID string) (*models.Thread, error)
	InsertThread(ctx context.Context, t *models.Thread) error
	PromoteThread(ctx context.Context, id int64, threadID string, phone, lid *string, platformID, mainParticipant string) error
	AttachLid(ctx context.Context, id int64, lid string) error
	UpdateThreadDisplayName(ctx context.Context, id int64, name string) error
	MergeThreads(ctx context.Context, winnerID, loserID int64) error
}

// Resolve returns the thread that owns a message from the given customer
// identity, creating, promoting, or merging as needed. It must run inside
// the same transaction as the message insert, with the identity lock for
// the customer held.
func Resolve(ctx context.Context, tx Store, snap *models.Snapshot) (*models.Thread, error) {
	switch {
	case snap.CustomerPhone != "":
		return resolveByPhone(ctx, tx, snap)
	case snap.CustomerLid != "":
		return resolveByLid(ctx, tx, snap)
	default:
		return resolveUnknown(ctx, tx, snap)
	}
}

func resolveByPhone(ctx context.Context, tx Store, snap *models.Snapshot) (*models.Thread, error) {
	phoneThread, err := tx.FindThreadByPhone(ctx, snap.BusinessAccountID, snap.CustomerPhone)
	if err != nil {
		return nil, fmt.Errorf("find thread by phone: %w", err)
	}

	var lidThread *models.Thread
	if snap.CustomerLid != "" {
		lidThread, err = tx.FindThreadByLid(ctx, snap.BusinessAccountID, snap.CustomerLid)
		if err != nil {
			return nil, fmt.Errorf("find thread by lid: %w", err)
		}
	}

	switch {
	case phoneThread != nil && lidThread != nil && phoneThread.ID != lidThread.ID:
		// The customer messaged anonymously before their phone was known
		// and the two halves landed in separate threads. The phone thread
		// wins; the anonymous one folds into it.
		if err := tx.MergeThreads(ctx, phoneThread.ID, lidThread.ID); err != nil {
			return nil, fmt.Errorf("merge threads %d<-%d: %w", phoneThread.ID, lidThread.ID, err)
		}
		slog.Info("merged split threads",
			"winner", phoneThread.ID, "loser", lidThread.ID,
			"business_account", snap.BusinessAccountID)
		return refreshName(ctx, tx, phoneThread, snap.CustomerDisplayName)

	case phoneThread != nil:
		if snap.CustomerLid != "" && (phoneThread.CustomerLid == nil || *phoneThread.CustomerLid != snap.CustomerLid) {
			if err := tx.AttachLid(ctx, phoneThread.ID, snap.CustomerLid); err != nil {
				return nil, fmt.Errorf("attach lid: %w", err)
			}
			lid := snap.CustomerLid
			phoneThread.CustomerLid = &lid
		}
		return refreshName(ctx, tx, phoneThread, snap.CustomerDisplayName)

	case lidThread != nil:
		// The anonymous thread just learned its phone number. Rewrite its
		// identity in place so history stays on one row.
		threadID := parse.ThreadKey(snap.CustomerPhone, snap.CustomerLid)
		phone := snap.CustomerPhone
		lid := snap.CustomerLid
		platformID := parse.PlatformID(phone)
		if err := tx.PromoteThread(ctx, lidThread.ID, threadID, &phone, &lid, platformID, phone); err != nil {
			return nil, fmt.Errorf("promote thread %d: %w", lidThread.ID, err)
		}
		slog.Info("promoted anonymous thread",
			"thread", lidThread.ID, "thread_id", threadID,
			"business_account", snap.BusinessAccountID)
		lidThread.ThreadID = threadID
		lidThread.ThreadKey = threadID
		lidThread.CustomerPhone = &phone
		lidThread.CustomerLid = &lid
		lidThread.CustomerPlatformID = platformID
		lidThread.MainParticipant = phone
		return refreshName(ctx, tx, lidThread, snap.CustomerDisplayName)

	default:
		return createThread(ctx, tx, snap)
	}
}

func resolveByLid(ctx context.Context, tx Store, snap *models.Snapshot) (*models.Thread, error) {
	t, err := tx.FindThreadByLid(ctx, snap.BusinessAccountID, snap.CustomerLid)
	if err != nil {
		return nil, fmt.Errorf("find thread by lid: %w", err)
	}
	if t != nil {
		return refreshName(ctx, tx, t, snap.CustomerDisplayName)
	}
	return createThread(ctx, tx, snap)
}

func resolveUnknown(ctx context.Context, tx Store, snap *models.Snapshot) (*models.Thread, error) {
	t, err := tx.FindThreadByThreadID(ctx, snap.BusinessAccountID, snap.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("find thread by thread id: %w", err)
	}
	if t != nil {
		return t, nil
	}
	return createThread(ctx, tx, snap)
}

func createThread(ctx context.Context, tx Store, snap *models.Snapshot) (*models.Thread, error) {
	t := &models.Thread{
		ThreadID:            snap.ThreadID,
		BusinessAccountID:   snap.BusinessAccountID,
		Channel:             models.ChannelWhatsApp,
		ThreadKey:           snap.ThreadID,
		CustomerDisplayName: snap.CustomerDisplayName,
		Status:              models.ThreadOpen,
		IsActive:            true,
	}
	if snap.CustomerPhone != "" {
		phone := snap.CustomerPhone
		t.CustomerPhone = &phone
		t.CustomerPlatformID = parse.PlatformID(phone)
		t.MainParticipant = phone
	}
	if snap.CustomerLid != "" {
		lid := snap.CustomerLid
		t.CustomerLid = &lid
		if t.MainParticipant == "" {
			t.MainParticipant = lid
		}
	}
	if err := tx.InsertThread(ctx, t); err != nil {
		return nil, fmt.Errorf("insert thread: %w", err)
	}
	slog.Info("created thread",
		"thread", t.ID, "thread_id", t.ThreadID,
		"business_account", t.BusinessAccountID)
	return t, nil
}

// refreshName upgrades a stored placeholder display name once a real one
// is seen. A placeholder never overwrites a real name.
func refreshName(ctx context.Context, tx Store, t *models.Thread, name string) (*models.Thread, error) {
	if name == "" || parse.IsPlaceholderName(name) {
		return t, nil
	}
	if t.CustomerDisplayName == name || !placeholderOrEmpty(t.CustomerDisplayName) {
		return t, nil
	}
	if err := tx.UpdateThreadDisplayName(ctx, t.ID, name); err != nil {
		return nil, fmt.Errorf("update display name: %w", err)
	}
	t.CustomerDisplayName = name
	return t, nil
}

func placeholderOrEmpty(name string) bool {
	return name == "" || parse.IsPlaceholderName(name)
}
