// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes chat channels, models and agent tasks over HTTP.
//
// Each channel is a session.Controller owned by a session.Manager. A channel
// is opened (or restored from storage) on first use.
//
// # Endpoints
//
//   - GET    /health                          - Ollama reachability and installed models
//   - GET    /stats                           - Request, cache and task counters
//   - GET    /v1/models                       - OpenAI-style model list
//   - POST   /cache/clear                     - Empty the response cache
//   - GET    /channels                        - Open channels
//   - DELETE /channels/:id                    - Close a channel
//   - GET    /channels/:id/messages           - Transcript
//   - POST   /channels/:id/messages           - Send {text, wait, retry}
//   - DELETE /channels/:id/messages           - Clear (409 while in flight)
//   - PATCH  /channels/:id/messages/:msg      - Edit a message
//   - POST   /channels/:id/messages/:msg/reactions - Toggle a reaction
//   - PUT    /channels/:id/model              - Switch model {model, validate}
//   - GET    /channels/:id/search?q=          - Search the transcript
//   - GET    /channels/:id/stats              - Channel counters
//   - POST   /tasks                           - Run or queue an agent task
//   - GET    /tasks, GET /tasks/:id           - Jobs and their steps
//   - DELETE /tasks/:id                       - Cancel a job
//
// Errors use one shape: {"error": {"message", "kind", "code"}}.
//
// # Middleware
//
// Recovery, security headers, request logging and a body limit always run.
// CORS, per-client rate limiting and bearer/IP auth are enabled through
// Config.
//
// # Usage
//
//	srv := server.New(server.Config{Manager: mgr, Backend: client, Logger: log})
//	defer srv.Close()
//	if err := srv.ListenAndServe(ctx); err != nil {
//		log.Fatal("server", zap.Error(err))
//	}
package server
