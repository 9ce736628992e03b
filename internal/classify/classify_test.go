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

package classify

import (
	"strconv"
	"testing"

	"github.com/wacrm/ingestion/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		event string
		want  Route
	}{
		{"messages.upsert", RouteMessage},
		{"MESSAGES.UPSERT", RouteMessage},
		{"send.message", RouteMessage},
		{"messages.update", RouteStatus},
		{"message-update.set", RouteStatus},
		{"contacts.update", RouteContacts},
		{"contacts.upsert", RouteContacts},
		{"presence.update", RouteNoise},
		{"chats.update", RouteNoise},
		{"connection.update", RouteNoise},
		{"qrcode.updated", RouteNoise},
		{"something.new", RouteMessage},
		{"", RouteMessage},
	}
	for _, tt := range tests {
		if got := Classify(tt.event); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.event, got, tt.want)
		}
	}
}

func TestParseStatusUpdates(t *testing.T) {
	body := `{
		"event": "messages.update",
		"instance": "acct-1",
		"data": [
			{"keyId": "A", "status": "SERVER_ACK"},
			{"key": {"id": "B", "remoteJid": "521@s.whatsapp.net"}, "status": "DELIVERED"},
			{"keyId": "C", "status": "READ"},
			{"keyId": "D", "status": "PLAYED"},
			{"keyId": "E", "ack": 3},
			{"keyId": "F", "status": "PENDING"},
			{"keyId": "G", "ack": 1},
			{"status": "READ"}
		]
	}`

	updates, err := ParseStatusUpdates([]byte(body))
	if err != nil {
		t.Fatalf("ParseStatusUpdates: %v", err)
	}

	want := []StatusUpdate{
		{ExternalID: "A", Status: models.StatusSent},
		{ExternalID: "B", RemoteJid: "521@s.whatsapp.net", Status: models.StatusDelivered},
		{ExternalID: "C", Status: models.StatusRead},
		{ExternalID: "D", Status: models.StatusRead},
		{ExternalID: "E", Status: models.StatusDelivered},
	}
	if len(updates) != len(want) {
		t.Fatalf("updates = %d, want %d (unmapped and idless skipped)", len(updates), len(want))
	}
	for i := range want {
		if updates[i] != want[i] {
			t.Errorf("updates[%d] = %+v, want %+v", i, updates[i], want[i])
		}
	}
}

func TestParseStatusUpdates_SingleObject(t *testing.T) {
	body := `{"event":"messages.update","data":{"keyId":"X","status":"READ"}}`
	updates, err := ParseStatusUpdates([]byte(body))
	if err != nil {
		t.Fatalf("ParseStatusUpdates: %v", err)
	}
	if len(updates) != 1 || updates[0].ExternalID != "X" || updates[0].Status != models.StatusRead {
		t.Errorf("updates = %+v", updates)
	}
}

func TestParseStatusUpdates_NumericAckMapping(t *testing.T) {
	tests := []struct {
		ack      int
		want     int
		accepted bool
	}{
		{2, models.StatusSent, true},
		{3, models.StatusDelivered, true},
		{4, models.StatusRead, true},
		{0, 0, false},
		{1, 0, false},
		{5, 0, false},
	}
	for _, tt := range tests {
		body := `{"data":[{"keyId":"X","ack":` + strconv.Itoa(tt.ack) + `}]}`
		updates, err := ParseStatusUpdates([]byte(body))
		if err != nil {
			t.Fatalf("ack %d: %v", tt.ack, err)
		}
		if tt.accepted {
			if len(updates) != 1 || updates[0].Status != tt.want {
				t.Errorf("ack %d: updates = %+v, want status %d", tt.ack, updates, tt.want)
			}
		} else if len(updates) != 0 {
			t.Errorf("ack %d: updates = %+v, want skipped", tt.ack, updates)
		}
	}
}

func TestParseStatusUpdates_NumericStatusField(t *testing.T) {
	// Some bridge versions put the ack level in status itself rather
	// than a separate ack field.
	tests := []struct {
		status   int
		want     int
		accepted bool
	}{
		{2, models.StatusSent, true},
		{3, models.StatusDelivered, true},
		{4, models.StatusRead, true},
		{1, 0, false},
	}
	for _, tt := range tests {
		body := `{"data":[{"keyId":"M1","status":` + strconv.Itoa(tt.status) + `}]}`
		updates, err := ParseStatusUpdates([]byte(body))
		if err != nil {
			t.Fatalf("status %d: %v", tt.status, err)
		}
		if tt.accepted {
			if len(updates) != 1 || updates[0].Status != tt.want {
				t.Errorf("status %d: updates = %+v, want status %d", tt.status, updates, tt.want)
			}
		} else if len(updates) != 0 {
			t.Errorf("status %d: updates = %+v, want skipped", tt.status, updates)
		}
	}
}

func TestParseContactUpdates(t *testing.T) {
	body := `{
		"event": "contacts.update",
		"instance": "acct-1",
		"data": [
			{"remoteJid": "5215512345678@s.whatsapp.net", "pushName": "Ana", "profilePicUrl": "https://pps/a.jpg"},
			{"id": "5215598765432@s.whatsapp.net", "pushName": "Luis"},
			{"pushName": "sin jid"}
		]
	}`

	updates, err := ParseContactUpdates([]byte(body))
	if err != nil {
		t.Fatalf("ParseContactUpdates: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("updates = %d, want 2 (jid-less skipped)", len(updates))
	}
	if updates[0].RemoteJid != "5215512345678@s.whatsapp.net" || updates[0].ProfilePicURL != "https://pps/a.jpg" {
		t.Errorf("updates[0] = %+v", updates[0])
	}
	if updates[1].RemoteJid != "5215598765432@s.whatsapp.net" || updates[1].PushName != "Luis" {
		t.Errorf("updates[1] = %+v", updates[1])
	}
}

func TestParseContactUpdates_SingleObject(t *testing.T) {
	body := `{"event":"contacts.update","data":{"remoteJid":"x@s.whatsapp.net","pushName":"Ana"}}`
	updates, err := ParseContactUpdates([]byte(body))
	if err != nil {
		t.Fatalf("ParseContactUpdates: %v", err)
	}
	if len(updates) != 1 || updates[0].PushName != "Ana" {
		t.Errorf("updates = %+v", updates)
	}
}
