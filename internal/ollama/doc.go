// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for a local Ollama server.
//
// Completions go through the OpenAI-compatible endpoint
// POST /v1/chat/completions with stream disabled. The legacy
// POST /api/generate endpoint is available as an alternative mode, and
// GET /api/tags lists installed models.
//
// # Key Types
//
//   - Client: HTTP client implementing Backend
//   - MockClient: canned responses for tests and mock mode
//   - CompletionRequest / CompletionResult: transport-neutral request and reply
//   - ClientError: typed failure carrying an ErrorKind
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
//	    BaseURL: "http://localhost:11434",
//	})
//	res, err := client.Complete(ctx, ollama.CompletionRequest{
//	    Model:    "gemma3:1b",
//	    Messages: []ollama.Message{{Role: "user", Content: "Hello"}},
//	})
//	if ollama.KindOf(err) == ollama.KindModelNotFound {
//	    // offer another model
//	}
package ollama
