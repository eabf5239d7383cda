// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockModels are the models advertised in mock mode.
var MockModels = []string{"mock-model-1", "mock-model-2"}

// MockClient is a Backend that never touches the network.
//
// By default it echoes the last user message. Set Reply to script responses
// or failures; Delay simulates latency and honours context cancellation.
type MockClient struct {
	Reply  func(req CompletionRequest) (string, error)
	Models []string
	Delay  time.Duration

	mu       sync.Mutex
	requests []CompletionRequest
}

var _ Backend = (*MockClient)(nil)

// NewMockClient creates a MockClient advertising MockModels.
func NewMockClient() *MockClient {
	return &MockClient{Models: append([]string(nil), MockModels...)}
}

// Complete records req and returns the scripted reply.
func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	m.mu.Lock()
	m.requests = append(m.requests, CompletionRequest{
		Model:    req.Model,
		Messages: append([]Message(nil), req.Messages...),
	})
	reply, delay := m.Reply, m.Delay
	m.mu.Unlock()

	start := time.Now()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, classifyTransportError(ctx.Err(), req.Model)
		}
	}

	var (
		content string
		err     error
	)
	if reply != nil {
		content, err = reply(req)
	} else {
		content = echo(req.Messages)
	}
	if err != nil {
		return nil, err
	}
	return &CompletionResult{
		Content:  content,
		Model:    req.Model,
		Duration: time.Since(start),
	}, nil
}

func echo(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return fmt.Sprintf("Mock response to: %s", messages[i].Content)
		}
	}
	return "Mock response"
}

// ListModels returns the configured model names.
func (m *MockClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ModelInfo, 0, len(m.Models))
	for _, name := range m.Models {
		out = append(out, ModelInfo{Name: name, Model: name})
	}
	return out, nil
}

// ModelExists reports whether name is one of the configured models.
func (m *MockClient) ModelExists(ctx context.Context, name string) (bool, error) {
	models, _ := m.ListModels(ctx)
	return containsModel(models, name), nil
}

// CheckRunning always succeeds.
func (m *MockClient) CheckRunning(ctx context.Context) error {
	return nil
}

// Calls returns the number of Complete calls made so far.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request received.
func (m *MockClient) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CompletionRequest(nil), m.requests...)
}

// SetReply replaces the reply function.
func (m *MockClient) SetReply(fn func(req CompletionRequest) (string, error)) {
	m.mu.Lock()
	m.Reply = fn
	m.mu.Unlock()
}
