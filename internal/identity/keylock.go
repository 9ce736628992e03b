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

// Package identity resolves the owning thread for an inbound message:
// find by phone or anonymous id, merge split threads, promote anonymous
// threads once the phone is learned, create when nothing matches.
package identity

import "sync"

// KeyLock serialises work per string key. Two events for the same
// customer must not resolve threads concurrently or both can create one,
// the split the merge logic exists to repair.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyLock creates an empty lock table.
func NewKeyLock() *KeyLock {
	return &KeyLock{locks: make(map[string]*lockEntry)}
}

// Lock acquires the lock for key and returns its release func. Entries
// are dropped once the last holder releases, so the table stays bounded
// by in-flight work.
func (l *KeyLock) Lock(key string) func() {
	l.mu.Lock()
	e := l.locks[key]
	if e == nil {
		e = &lockEntry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// Key builds the lock key for one customer identity within a business
// account. The phone wins when known so an anonymous event carrying a
// recovered phone serialises with plain phone events.
func Key(businessAccountID, phone, lid string) string {
	switch {
	case phone != "":
		return businessAccountID + "|p:" + phone
	case lid != "":
		return businessAccountID + "|l:" + lid
	default:
		return businessAccountID + "|unknown"
	}
}
