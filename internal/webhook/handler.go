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

// Package webhook handles the inbound HTTP surface: the bridge's webhook
// deliveries plus the operator endpoints. The ingress path is fast-ack:
// authenticate, audit, enqueue, respond; everything heavy happens in the
// background worker.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/wacrm/ingestion/internal/classify"
	"github.com/wacrm/ingestion/internal/models"
	"github.com/wacrm/ingestion/internal/parse"
	"github.com/wacrm/ingestion/internal/toggle"
)

// maxBodySize caps webhook bodies. Media arrives as metadata, never
// bytes, so real payloads are a few KB.
const maxBodySize = 5 << 20

// Toggles is the kill-switch surface the ingress consults.
type Toggles interface {
	Enabled(ctx context.Context, name string) (bool, error)
	Set(ctx context.Context, name string, enabled bool) error
}

// Store is the synchronous persistence the ingress needs: the audit
// write plus the two inline fast paths.
type Store interface {
	SaveRawPayload(ctx context.Context, rec *models.RawPayloadAudit) error
	UpgradeStatus(ctx context.Context, businessAccountID, externalID string, status int) (bool, error)
	ListActiveThreads(ctx context.Context, businessAccountID string) ([]models.Thread, error)
	UpdateThreadContact(ctx context.Context, id int64, displayName, photoURL string) error
}

// Enqueuer hands accepted events to the background worker.
type Enqueuer interface {
	Enqueue(auditID int64, body []byte, remoteIP string) string
}

// AuthConfig holds the ingress authentication settings. Empty values
// disable the corresponding check.
type AuthConfig struct {
	Token       string   // compared against the X-Webhook-Token header
	HMACSecret  string   // verifies the X-Signature header over the body
	IPAllowlist []string // source IPs or CIDRs allowed to deliver
}

// Handler processes bridge webhook deliveries.
type Handler struct {
	norm    *parse.Normalizer
	toggles Toggles
	store   Store
	queue   Enqueuer
	auth    AuthConfig

	allowNets []*net.IPNet
	allowIPs  map[string]bool
}

// NewHandler creates a webhook handler.
func NewHandler(norm *parse.Normalizer, toggles Toggles, store Store, queue Enqueuer, auth AuthConfig) *Handler {
	h := &Handler{
		norm:     norm,
		toggles:  toggles,
		store:    store,
		queue:    queue,
		auth:     auth,
		allowIPs: make(map[string]bool),
	}
	for _, entry := range auth.IPAllowlist {
		if _, ipnet, err := net.ParseCIDR(entry); err == nil {
			h.allowNets = append(h.allowNets, ipnet)
			continue
		}
		h.allowIPs[entry] = true
	}
	return h
}

// ServeWebhook is the main ingress endpoint.
func (h *Handler) ServeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	enabled, err := h.toggles.Enabled(ctx, toggle.IngestionEnabled)
	if err != nil {
		slog.Error("toggle read failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error"})
		return
	}
	if !enabled {
		// Acknowledge so the bridge does not retry into a closed door.
		writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	remoteIP := clientIP(r)
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "bad_request"})
		return
	}

	if !h.authorized(r, body, remoteIP) {
		slog.Warn("webhook delivery rejected", "remote_ip", remoteIP)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"status": "unauthorized"})
		return
	}

	var probe struct {
		Event    string `json:"event"`
		Instance string `json:"instance"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "bad_request"})
		return
	}

	switch classify.Classify(probe.Event) {
	case classify.RouteNoise:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return

	case classify.RouteStatus:
		h.applyStatusUpdates(ctx, probe.Instance, body)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return

	case classify.RouteContacts:
		h.applyContactUpdates(ctx, probe.Instance, body)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	// Message path. Audit comes before everything else: an event we
	// cannot audit is an event we refuse, so the bridge retries it.
	rec := h.norm.AuditRecord(body, remoteIP)
	if err := h.store.SaveRawPayload(ctx, &rec); err != nil {
		slog.Error("audit write failed", "event", probe.Event, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
		return
	}

	env, err := h.norm.MapEnvelope(body)
	if err != nil {
		// Unmappable but audited. Kept for replay, not processed.
		slog.Warn("payload not mappable", "audit_id", rec.ID, "error", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "accepted_raw"})
		return
	}

	// Outbound envelopes are echoes of messages the CRM already wrote
	// when it sent them. The bridge delivers them as send.message and,
	// on some versions, as fromMe messages.upsert; all of them stop at
	// the audit.
	if !env.DirectionIn {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	itemID := h.queue.Enqueue(rec.ID, body, remoteIP)
	slog.Info("webhook accepted",
		"item", itemID, "audit_id", rec.ID,
		"event", probe.Event, "thread_id", env.ThreadID,
		"business_account", env.BusinessAccountID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted", "id": itemID})
}

func (h *Handler) applyStatusUpdates(ctx context.Context, businessAccountID string, body []byte) {
	updates, err := classify.ParseStatusUpdates(body)
	if err != nil {
		slog.Warn("status payload not decodable", "error", err)
		return
	}
	for _, u := range updates {
		upgraded, err := h.store.UpgradeStatus(ctx, businessAccountID, u.ExternalID, u.Status)
		if err != nil {
			slog.Error("status upgrade failed", "external_id", u.ExternalID, "error", err)
			continue
		}
		if upgraded {
			slog.Debug("status upgraded", "external_id", u.ExternalID, "status", u.Status)
		}
	}
}

func (h *Handler) applyContactUpdates(ctx context.Context, businessAccountID string, body []byte) {
	updates, err := classify.ParseContactUpdates(body)
	if err != nil {
		slog.Warn("contact payload not decodable", "error", err)
		return
	}
	if len(updates) == 0 {
		return
	}

	threads, err := h.store.ListActiveThreads(ctx, businessAccountID)
	if err != nil {
		slog.Error("list threads for contact match", "error", err)
		return
	}

	for _, u := range updates {
		t := matchThread(threads, u.RemoteJid)
		if t == nil {
			slog.Debug("contact update matched no thread", "remote_jid", u.RemoteJid)
			continue
		}
		name := u.PushName
		if parse.IsPlaceholderName(name) {
			name = ""
		}
		if err := h.store.UpdateThreadContact(ctx, t.ID, name, u.ProfilePicURL); err != nil {
			slog.Error("contact update failed", "thread", t.ID, "error", err)
		}
	}
}

// matchThread finds the thread a contact update belongs to: exact
// anonymous-id or thread-id match first, then exact phone, then digit
// containment for numbers that differ only in country or mobile
// prefixes.
func matchThread(threads []models.Thread, remoteJid string) *models.Thread {
	for i := range threads {
		if threads[i].CustomerLid != nil && *threads[i].CustomerLid == remoteJid {
			return &threads[i]
		}
		if threads[i].ThreadID == remoteJid {
			return &threads[i]
		}
	}

	digits := parse.Digits(parse.StripJid(remoteJid))
	if digits == "" {
		return nil
	}

	for i := range threads {
		if threads[i].CustomerPhone != nil && *threads[i].CustomerPhone == digits {
			return &threads[i]
		}
	}

	if len(digits) < 8 {
		return nil
	}
	for i := range threads {
		if threads[i].CustomerPhone == nil {
			continue
		}
		p := *threads[i].CustomerPhone
		if strings.HasSuffix(p, digits) || strings.HasSuffix(digits, p) {
			return &threads[i]
		}
	}
	return nil
}

func (h *Handler) authorized(r *http.Request, body []byte, remoteIP string) bool {
	if len(h.allowIPs) > 0 || len(h.allowNets) > 0 {
		if !h.ipAllowed(remoteIP) {
			return false
		}
	}

	if h.auth.Token != "" {
		got := r.Header.Get("X-Webhook-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.auth.Token)) != 1 {
			return false
		}
	}

	if h.auth.HMACSecret != "" {
		sig := r.Header.Get("X-Signature")
		if sig == "" || !parse.FixedTimeEqualsHex(sig, parse.HmacSha256Hex(body, h.auth.HMACSecret)) {
			return false
		}
	}
	return true
}

func (h *Handler) ipAllowed(remoteIP string) bool {
	if h.allowIPs[remoteIP] {
		return true
	}
	ip := net.ParseIP(remoteIP)
	if ip == nil {
		return false
	}
	for _, n := range h.allowNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP prefers the first X-Forwarded-For hop since the service runs
// behind a reverse proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
