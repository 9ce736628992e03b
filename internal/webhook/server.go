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
	"fmt"
	"log/slog"
	"net"
	"net/http"
)

// Serve starts the HTTP server on the given port. It binds the port
// immediately and signals readiness via the returned channel before
// starting to accept connections.
func Serve(ctx context.Context, port int, handler *Handler, admin *Admin) (<-chan struct{}, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /webhook", handler.ServeWebhook)
	mux.HandleFunc("POST /webhook/{event}", handler.ServeWebhook)

	mux.HandleFunc("GET /admin/toggle", admin.ServeGetToggle)
	mux.HandleFunc("PUT /admin/toggle", admin.ServeSetToggle)
	mux.HandleFunc("POST /admin/send", admin.ServeSendText)

	mux.HandleFunc("GET /healthz", admin.ServeHealth)

	server := &http.Server{
		Handler: mux,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind webhook port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("webhook server shutting down")
		server.Close()
	}()

	go func() {
		slog.Info("webhook server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("webhook server error", "error", err)
		}
	}()

	return ready, nil
}
