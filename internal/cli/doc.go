// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the chirai command line.
//
// The command tree is built with cobra. Every command loads the config
// through the same app wiring (logger, Ollama or mock backend, response
// cache, history store), so flags like --mock and --config-dir behave the
// same everywhere.
//
// # Commands
//
//   - (none): full-screen chat, or the line chat when not on a terminal
//   - chat: line-based chat with slash commands and readline history
//   - tui: full-screen chat, optionally bound to a saved channel
//   - ask: one question, one answer
//   - models, status: what Ollama has installed and whether it is reachable
//   - history: list, show, search, export, import, delete and prune
//   - task: run a task through the capability agents
//   - serve: the HTTP API
//   - config: show, path, init and validate
//
// # Output
//
// With --json every command prints a JSONResponse envelope, errors included.
// Exit codes are listed in errors.go.
package cli
