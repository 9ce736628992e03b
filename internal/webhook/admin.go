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
	"log/slog"
	"net/http"

	"github.com/wacrm/ingestion/internal/toggle"
)

// Sender sends outbound messages through the bridge.
type Sender interface {
	SendText(ctx context.Context, number, text string) error
}

// Pinger is a dependency the health endpoint probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Admin serves the operator endpoints: the ingestion kill switch,
// outbound sends, and the health probe.
type Admin struct {
	toggles Toggles
	sender  Sender
	probes  map[string]Pinger
}

// NewAdmin creates the operator endpoint handler. sender may be nil when
// no bridge is configured.
func NewAdmin(toggles Toggles, sender Sender, probes map[string]Pinger) *Admin {
	return &Admin{toggles: toggles, sender: sender, probes: probes}
}

// ServeGetToggle reports the ingestion kill switch state.
func (a *Admin) ServeGetToggle(w http.ResponseWriter, r *http.Request) {
	enabled, err := a.toggles.Enabled(r.Context(), toggle.IngestionEnabled)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
}

// ServeSetToggle flips the ingestion kill switch.
func (a *Admin) ServeSetToggle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "bad_request"})
		return
	}
	if err := a.toggles.Set(r.Context(), toggle.IngestionEnabled, *req.Enabled); err != nil {
		slog.Error("toggle write failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
		return
	}
	slog.Info("ingestion toggle set", "enabled", *req.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": *req.Enabled})
}

// ServeSendText sends an outbound text through the bridge.
func (a *Admin) ServeSendText(w http.ResponseWriter, r *http.Request) {
	if a.sender == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no_bridge"})
		return
	}

	var req struct {
		Number string `json:"number"`
		Text   string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Number == "" || req.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "bad_request"})
		return
	}

	if err := a.sender.SendText(r.Context(), req.Number, req.Text); err != nil {
		slog.Error("outbound send failed", "number", req.Number, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"status": "send_failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// ServeHealth probes the service dependencies.
func (a *Admin) ServeHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := http.StatusOK
	checks := make(map[string]string, len(a.probes))
	for name, p := range a.probes {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": checks})
}
