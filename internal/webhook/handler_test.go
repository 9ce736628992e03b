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

package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wacrm/ingestion/internal/models"
	"github.com/wacrm/ingestion/internal/parse"
)

type fakeToggles struct {
	enabled bool
	err     error
}

func (f *fakeToggles) Enabled(ctx context.Context, name string) (bool, error) {
	return f.enabled, f.err
}

func (f *fakeToggles) Set(ctx context.Context, name string, enabled bool) error {
	f.enabled = enabled
	return nil
}

type fakeStore struct {
	audits   []models.RawPayloadAudit
	auditErr error

	statusCalls []struct {
		Account, ExternalID string
		Status              int
	}
	threads      []models.Thread
	contactCalls []struct {
		ThreadID       int64
		Name, PhotoURL string
	}
}

func (f *fakeStore) SaveRawPayload(ctx context.Context, rec *models.RawPayloadAudit) error {
	if f.auditErr != nil {
		return f.auditErr
	}
	rec.ID = int64(len(f.audits) + 1)
	f.audits = append(f.audits, *rec)
	return nil
}

func (f *fakeStore) UpgradeStatus(ctx context.Context, businessAccountID, externalID string, status int) (bool, error) {
	f.statusCalls = append(f.statusCalls, struct {
		Account, ExternalID string
		Status              int
	}{businessAccountID, externalID, status})
	return true, nil
}

func (f *fakeStore) ListActiveThreads(ctx context.Context, businessAccountID string) ([]models.Thread, error) {
	return f.threads, nil
}

func (f *fakeStore) UpdateThreadContact(ctx context.Context, id int64, displayName, photoURL string) error {
	f.contactCalls = append(f.contactCalls, struct {
		ThreadID       int64
		Name, PhotoURL string
	}{id, displayName, photoURL})
	return nil
}

type fakeQueue struct {
	items []struct {
		AuditID int64
		Body    []byte
	}
}

func (f *fakeQueue) Enqueue(auditID int64, body []byte, remoteIP string) string {
	f.items = append(f.items, struct {
		AuditID int64
		Body    []byte
	}{auditID, body})
	return "item-1"
}

func newTestHandler(toggles *fakeToggles, store *fakeStore, q *fakeQueue, auth AuthConfig) *Handler {
	return NewHandler(parse.NewNormalizer(nil), toggles, store, q, auth)
}

func postWebhook(t *testing.T, h *Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeWebhook(rr, req)
	return rr
}

func messageBody(event string) string {
	return `{
		"event": "` + event + `",
		"instance": "acct-1",
		"data": {
			"key": {"remoteJid": "5215512345678@s.whatsapp.net", "id": "MSG1", "fromMe": false},
			"pushName": "Ana",
			"message": {"conversation": "hola"},
			"messageType": "conversation",
			"messageTimestamp": 1700000000
		}
	}`
}

func decodeStatus(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp["status"]
}

func TestServeWebhook_AcceptsMessage(t *testing.T) {
	store := &fakeStore{}
	q := &fakeQueue{}
	h := newTestHandler(&fakeToggles{enabled: true}, store, q, AuthConfig{})

	rr := postWebhook(t, h, messageBody("messages.upsert"), nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if got := decodeStatus(t, rr); got != "accepted" {
		t.Errorf("response status = %q, want accepted", got)
	}
	if len(store.audits) != 1 {
		t.Fatalf("audits = %d, want 1", len(store.audits))
	}
	if store.audits[0].ThreadID != "wa:5215512345678" {
		t.Errorf("audit thread = %q", store.audits[0].ThreadID)
	}
	if len(q.items) != 1 || q.items[0].AuditID != 1 {
		t.Errorf("queue items = %+v, want one with audit id 1", q.items)
	}
}

func TestServeWebhook_ToggleDisabled(t *testing.T) {
	store := &fakeStore{}
	q := &fakeQueue{}
	h := newTestHandler(&fakeToggles{enabled: false}, store, q, AuthConfig{})

	rr := postWebhook(t, h, messageBody("messages.upsert"), nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if got := decodeStatus(t, rr); got != "disabled" {
		t.Errorf("response status = %q, want disabled", got)
	}
	if len(store.audits) != 0 || len(q.items) != 0 {
		t.Error("disabled toggle must not write or enqueue")
	}
}

func TestServeWebhook_NoiseDropsBeforeAudit(t *testing.T) {
	store := &fakeStore{}
	q := &fakeQueue{}
	h := newTestHandler(&fakeToggles{enabled: true}, store, q, AuthConfig{})

	rr := postWebhook(t, h, `{"event":"presence.update","instance":"acct-1","data":{}}`, nil)

	if got := decodeStatus(t, rr); got != "ignored" {
		t.Errorf("response status = %q, want ignored", got)
	}
	if len(store.audits) != 0 || len(q.items) != 0 {
		t.Error("noise events must not write or enqueue")
	}
}

func TestServeWebhook_TokenAuth(t *testing.T) {
	h := newTestHandler(&fakeToggles{enabled: true}, &fakeStore{}, &fakeQueue{}, AuthConfig{Token: "s3cret"})

	rr := postWebhook(t, h, messageBody("messages.upsert"), nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("missing token: status = %d, want 401", rr.Code)
	}

	rr = postWebhook(t, h, messageBody("messages.upsert"), map[string]string{"X-Webhook-Token": "wrong"})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rr.Code)
	}

	rr = postWebhook(t, h, messageBody("messages.upsert"), map[string]string{"X-Webhook-Token": "s3cret"})
	if rr.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", rr.Code)
	}
}

func TestServeWebhook_HMACAuth(t *testing.T) {
	body := messageBody("messages.upsert")
	h := newTestHandler(&fakeToggles{enabled: true}, &fakeStore{}, &fakeQueue{}, AuthConfig{HMACSecret: "hmac-key"})

	rr := postWebhook(t, h, body, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("missing signature: status = %d, want 401", rr.Code)
	}

	sig := parse.HmacSha256Hex([]byte(body), "hmac-key")
	rr = postWebhook(t, h, body, map[string]string{"X-Signature": sig})
	if rr.Code != http.StatusOK {
		t.Errorf("valid signature: status = %d, want 200", rr.Code)
	}
}

func TestServeWebhook_AuditFailureFailsRequest(t *testing.T) {
	store := &fakeStore{auditErr: errors.New("db down")}
	q := &fakeQueue{}
	h := newTestHandler(&fakeToggles{enabled: true}, store, q, AuthConfig{})

	rr := postWebhook(t, h, messageBody("messages.upsert"), nil)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if len(q.items) != 0 {
		t.Error("unaudited event must not be enqueued")
	}
}

func TestServeWebhook_OutboundEchoDropped(t *testing.T) {
	store := &fakeStore{}
	q := &fakeQueue{}
	h := newTestHandler(&fakeToggles{enabled: true}, store, q, AuthConfig{})

	body := `{
		"event": "send.message",
		"instance": "acct-1",
		"data": {
			"key": {"remoteJid": "5215512345678@s.whatsapp.net", "id": "MSG9", "fromMe": true},
			"message": {"conversation": "gracias"},
			"messageType": "conversation",
			"messageTimestamp": 1700000000
		}
	}`
	rr := postWebhook(t, h, body, nil)

	if got := decodeStatus(t, rr); got != "ignored" {
		t.Errorf("response status = %q, want ignored", got)
	}
	if len(store.audits) != 1 {
		t.Errorf("echo must still be audited, audits = %d", len(store.audits))
	}
	if len(q.items) != 0 {
		t.Error("echo must not be enqueued")
	}
}

func TestServeWebhook_OutboundUpsertEchoDropped(t *testing.T) {
	store := &fakeStore{}
	q := &fakeQueue{}
	h := newTestHandler(&fakeToggles{enabled: true}, store, q, AuthConfig{})

	// Some bridge versions echo agent sends as fromMe message upserts
	// rather than send.message; those must stop at the audit too.
	body := `{
		"event": "messages.upsert",
		"instance": "acct-1",
		"data": {
			"key": {"remoteJid": "5215512345678@s.whatsapp.net", "id": "MSG10", "fromMe": true},
			"message": {"conversation": "ya quedó"},
			"messageType": "conversation",
			"messageTimestamp": 1700000000
		}
	}`
	rr := postWebhook(t, h, body, nil)

	if got := decodeStatus(t, rr); got != "ignored" {
		t.Errorf("response status = %q, want ignored", got)
	}
	if len(store.audits) != 1 {
		t.Errorf("echo must still be audited, audits = %d", len(store.audits))
	}
	if len(q.items) != 0 {
		t.Error("outbound upsert must not be enqueued")
	}
}

func TestServeWebhook_StatusFastPath(t *testing.T) {
	store := &fakeStore{}
	h := newTestHandler(&fakeToggles{enabled: true}, store, &fakeQueue{}, AuthConfig{})

	body := `{
		"event": "messages.update",
		"instance": "acct-1",
		"data": [
			{"keyId": "MSG1", "status": "READ"},
			{"key": {"id": "MSG2"}, "status": "DELIVERY_ACK"},
			{"keyId": "MSG3", "status": "UNKNOWN_STATE"}
		]
	}`
	rr := postWebhook(t, h, body, nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if len(store.statusCalls) != 2 {
		t.Fatalf("status calls = %d, want 2 (unmapped state skipped)", len(store.statusCalls))
	}
	if store.statusCalls[0].ExternalID != "MSG1" || store.statusCalls[0].Status != models.StatusRead {
		t.Errorf("first call = %+v", store.statusCalls[0])
	}
	if store.statusCalls[1].ExternalID != "MSG2" || store.statusCalls[1].Status != models.StatusDelivered {
		t.Errorf("second call = %+v", store.statusCalls[1])
	}
}

func TestServeWebhook_ContactFastPath(t *testing.T) {
	phone := "5215512345678"
	store := &fakeStore{threads: []models.Thread{
		{ID: 7, CustomerPhone: &phone},
	}}
	h := newTestHandler(&fakeToggles{enabled: true}, store, &fakeQueue{}, AuthConfig{})

	body := `{
		"event": "contacts.update",
		"instance": "acct-1",
		"data": [{"remoteJid": "5215512345678@s.whatsapp.net", "pushName": "Ana López", "profilePicUrl": "https://pps/x.jpg"}]
	}`
	rr := postWebhook(t, h, body, nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if len(store.contactCalls) != 1 {
		t.Fatalf("contact calls = %d, want 1", len(store.contactCalls))
	}
	if store.contactCalls[0].ThreadID != 7 || store.contactCalls[0].Name != "Ana López" {
		t.Errorf("contact call = %+v", store.contactCalls[0])
	}
}

func TestMatchThread(t *testing.T) {
	exact := "5215512345678"
	prefixed := "525512349999"
	short := "55"
	lid := "123456789012345@lid"
	threads := []models.Thread{
		{ID: 1, CustomerPhone: &exact},
		{ID: 2, CustomerPhone: &prefixed},
		{ID: 3, CustomerPhone: &short},
		{ID: 4},
		{ID: 5, CustomerLid: &lid, ThreadID: "wa:lid:123456789012345"},
	}

	tests := []struct {
		name      string
		remoteJid string
		wantID    int64
	}{
		{"exact match", "5215512345678@s.whatsapp.net", 1},
		{"suffix containment", "5512349999@s.whatsapp.net", 2},
		{"too short for containment", "55@s.whatsapp.net", 3},
		{"anonymous id match", "123456789012345@lid", 5},
		{"thread id match", "wa:lid:123456789012345", 5},
		{"no match", "19995550000@s.whatsapp.net", 0},
		{"no digits", "@lid", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := matchThread(threads, tt.remoteJid)
			var gotID int64
			if got != nil {
				gotID = got.ID
			}
			if gotID != tt.wantID {
				t.Errorf("matchThread(%q) = %d, want %d", tt.remoteJid, gotID, tt.wantID)
			}
		})
	}
}
