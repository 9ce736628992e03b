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

// Package bridge is the HTTP client for the WhatsApp bridge instance:
// webhook registration, instance settings, outbound sends, and history
// queries. Authentication is the instance API key in the apikey header.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultEvents are the webhook events the ingestion service consumes.
var DefaultEvents = []string{
	"MESSAGES_UPSERT",
	"MESSAGES_UPDATE",
	"SEND_MESSAGE",
	"CONTACTS_UPDATE",
}

// Client talks to one bridge instance.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	instance   string
}

// NewClient creates a bridge client. A nil httpClient gets a 30s-timeout
// default.
func NewClient(httpClient *http.Client, baseURL, apiKey, instance string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		instance:   instance,
	}
}

// Instance returns the configured instance name.
func (c *Client) Instance() string {
	return c.instance
}

// RegisterWebhook points the bridge's webhook at url for DefaultEvents.
// The bridge replaces any previous registration for the instance, so the
// call is safe to repeat on every startup.
func (c *Client) RegisterWebhook(ctx context.Context, url string) error {
	body := map[string]any{
		"webhook": map[string]any{
			"enabled":         true,
			"url":             url,
			"events":          DefaultEvents,
			"webhookByEvents": false,
			"base64":          false,
		},
	}
	return c.post(ctx, "/webhook/set/"+c.instance, body, nil)
}

// SyncSettings pushes the instance settings the CRM flow expects: the
// bridge must not auto-read or auto-reject anything on the agents'
// behalf.
func (c *Client) SyncSettings(ctx context.Context) error {
	body := map[string]any{
		"rejectCall":      false,
		"alwaysOnline":    false,
		"readMessages":    false,
		"readStatus":      false,
		"syncFullHistory": false,
	}
	return c.post(ctx, "/settings/set/"+c.instance, body, nil)
}

// SendText sends an outbound text message to a phone number.
func (c *Client) SendText(ctx context.Context, number, text string) error {
	body := map[string]any{
		"number": number,
		"text":   text,
	}
	return c.post(ctx, "/message/sendText/"+c.instance, body, nil)
}

// FindMessages pages through the bridge's stored history for one chat.
// Records come back raw; the backfill runner feeds them through the same
// normalizer as live webhooks.
func (c *Client) FindMessages(ctx context.Context, remoteJid string, page, limit int) ([]json.RawMessage, error) {
	body := map[string]any{
		"where": map[string]any{
			"key": map[string]any{"remoteJid": remoteJid},
		},
		"page":  page,
		"limit": limit,
	}

	var resp struct {
		Messages struct {
			Records []json.RawMessage `json:"records"`
		} `json:"messages"`
		Records []json.RawMessage `json:"records"`
	}
	if err := c.post(ctx, "/chat/findMessages/"+c.instance, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Messages.Records) > 0 {
		return resp.Messages.Records, nil
	}
	return resp.Records, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bridge %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("bridge %s returned HTTP %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode bridge response %s: %w", path, err)
		}
	}
	return nil
}
