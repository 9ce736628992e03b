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

// Package classify routes raw webhook events to their handling path and
// decodes the two compact event families (delivery-status updates and
// contact profile updates) that never become message rows.
package classify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wacrm/ingestion/internal/models"
)

// Route is the handling path for one webhook event.
type Route int

const (
	// RouteNoise is dropped before any write: presence churn, chat list
	// refreshes, connection state. High volume, zero CRM value.
	RouteNoise Route = iota
	// RouteMessage flows through the full audit-and-enqueue pipeline.
	RouteMessage
	// RouteStatus updates delivery state on existing rows inline.
	RouteStatus
	// RouteContacts patches thread display fields inline.
	RouteContacts
)

// Classify maps an event name to its route. Unknown events take the
// message path so the audit trail keeps them.
func Classify(event string) Route {
	switch strings.ToLower(event) {
	case "messages.upsert", "send.message":
		return RouteMessage
	case "messages.update", "message-update.set":
		return RouteStatus
	case "contacts.update", "contacts.upsert":
		return RouteContacts
	case "presence.update", "chats.update", "chats.upsert", "chats.delete",
		"connection.update", "qrcode.updated", "messages.delete", "labels.association":
		return RouteNoise
	default:
		return RouteMessage
	}
}

// StatusUpdate is one decoded delivery-state change.
type StatusUpdate struct {
	ExternalID string
	RemoteJid  string
	Status     int
}

type statusElem struct {
	KeyID  string          `json:"keyId"`
	Key    *statusKey      `json:"key"`
	Status json.RawMessage `json:"status"`
	Ack    json.RawMessage `json:"ack"`
}

type statusKey struct {
	ID        string `json:"id"`
	RemoteJid string `json:"remoteJid"`
}

// ParseStatusUpdates decodes a messages.update body into zero or more
// status changes. Elements without a recognizable id or with an unmapped
// status are skipped, not failed: the bridge interleaves states this
// service does not track.
func ParseStatusUpdates(body []byte) ([]StatusUpdate, error) {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode status envelope: %w", err)
	}
	raw := env.Data
	if len(raw) == 0 || string(raw) == "null" {
		raw = body
	}

	var elems []statusElem
	if err := json.Unmarshal(raw, &elems); err != nil {
		var single statusElem
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, fmt.Errorf("decode status data: %w", err)
		}
		elems = []statusElem{single}
	}

	var out []StatusUpdate
	for _, e := range elems {
		id := e.KeyID
		remoteJid := ""
		if e.Key != nil {
			if id == "" {
				id = e.Key.ID
			}
			remoteJid = e.Key.RemoteJid
		}
		if id == "" {
			continue
		}

		status, ok := mapStatus(e.Status)
		if !ok {
			status, ok = mapAck(e.Ack)
		}
		if !ok {
			continue
		}
		out = append(out, StatusUpdate{ExternalID: id, RemoteJid: remoteJid, Status: status})
	}
	return out, nil
}

// mapStatus reads the status field, which the bridge sends either as a
// named string or as the numeric ack level.
func mapStatus(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		switch strings.ToUpper(s) {
		case "SERVER_ACK":
			return models.StatusSent, true
		case "DELIVERY_ACK", "DELIVERED":
			return models.StatusDelivered, true
		case "READ", "PLAYED":
			return models.StatusRead, true
		default:
			return 0, false
		}
	}
	return mapAck(raw)
}

// mapAck handles the numeric ack levels, sent by some bridge versions in
// a separate ack field and by others inside status itself.
func mapAck(raw json.RawMessage) (int, bool) {
	var n int
	if len(raw) == 0 || json.Unmarshal(raw, &n) != nil {
		return 0, false
	}
	switch n {
	case 2:
		return models.StatusSent, true
	case 3:
		return models.StatusDelivered, true
	case 4:
		return models.StatusRead, true
	default:
		return 0, false
	}
}

// ContactUpdate is one decoded contact profile change.
type ContactUpdate struct {
	RemoteJid     string
	PushName      string
	ProfilePicURL string
}

type contactElem struct {
	RemoteJid     string `json:"remoteJid"`
	ID            string `json:"id"`
	PushName      string `json:"pushName"`
	ProfilePicURL string `json:"profilePicUrl"`
}

// ParseContactUpdates decodes a contacts.update body. The data element is
// usually array-wrapped; a bare object is accepted too.
func ParseContactUpdates(body []byte) ([]ContactUpdate, error) {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode contact envelope: %w", err)
	}
	raw := env.Data
	if len(raw) == 0 || string(raw) == "null" {
		raw = body
	}

	var elems []contactElem
	if err := json.Unmarshal(raw, &elems); err != nil {
		var single contactElem
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, fmt.Errorf("decode contact data: %w", err)
		}
		elems = []contactElem{single}
	}

	var out []ContactUpdate
	for _, e := range elems {
		jid := e.RemoteJid
		if jid == "" {
			jid = e.ID
		}
		if jid == "" {
			continue
		}
		out = append(out, ContactUpdate{
			RemoteJid:     jid,
			PushName:      e.PushName,
			ProfilePicURL: e.ProfilePicURL,
		})
	}
	return out, nil
}
