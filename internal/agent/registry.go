// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/enablerdao/ChirAI/internal/ollama"
)

// ErrNoHandler is returned when a step's capability has no handler.
var ErrNoHandler = errors.New("no handler for capability")

// =============================================================================
// HANDLERS
// =============================================================================

// Step is the input to a handler.
type Step struct {
	// Task is the overall task the plan was made for.
	Task string

	Capability  Capability
	Description string

	// Prior holds the results of the steps already finished, in order.
	Prior []StepResult
}

// Handler performs one step and returns its output.
type Handler interface {
	Handle(ctx context.Context, step Step) (string, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, step Step) (string, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, step Step) (string, error) {
	return f(ctx, step)
}

// Named is implemented by handlers that speak as a persona.
type Named interface {
	Name() string
}

// CompletionHandler answers a step with one chat completion.
type CompletionHandler struct {
	Client  ollama.Completer
	Model   string
	Profile Profile
}

// Name returns the persona name.
func (h *CompletionHandler) Name() string {
	return h.Profile.Name
}

// Handle sends the persona prompt and the step to the model.
func (h *CompletionHandler) Handle(ctx context.Context, step Step) (string, error) {
	req := ollama.CompletionRequest{
		Model: h.Model,
		Messages: []ollama.Message{
			{Role: "system", Content: h.Profile.SystemPrompt()},
			{Role: "user", Content: stepPrompt(step)},
		},
	}
	res, err := h.Client.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	out := strings.TrimSpace(res.Content)
	if out == "" {
		return "", &ollama.ClientError{
			Kind:    ollama.KindMalformedResponse,
			Message: "empty completion",
			Model:   h.Model,
		}
	}
	return out, nil
}

func stepPrompt(step Step) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Overall task: %s\n", step.Task)
	if len(step.Prior) > 0 {
		b.WriteString("\nCompleted so far:\n")
		for _, r := range step.Prior {
			fmt.Fprintf(&b, "- %s (%s): %s\n", r.Description, r.Capability, r.Output)
		}
	}
	fmt.Fprintf(&b, "\nYour step (%s): %s", step.Capability, step.Description)
	return b.String()
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry maps capabilities to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Capability]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Capability]Handler)}
}

// NewCompletionRegistry registers a CompletionHandler for every capability,
// each speaking as the capability's default persona.
func NewCompletionRegistry(client ollama.Completer, model string) *Registry {
	r := NewRegistry()
	for _, c := range AllCapabilities() {
		_ = r.Register(c, &CompletionHandler{Client: client, Model: model, Profile: ProfileFor(c)})
	}
	return r
}

// Register sets the handler for c, replacing any previous one.
func (r *Registry) Register(c Capability, h Handler) error {
	if !c.Valid() {
		return fmt.Errorf("register: unknown capability %q", c)
	}
	if h == nil {
		return fmt.Errorf("register %s: nil handler", c)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[c] = h
	return nil
}

// Handler returns the handler for c.
func (r *Registry) Handler(c Capability) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[c]
	return h, ok
}

// Capabilities returns the registered capabilities, sorted.
func (r *Registry) Capabilities() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Capability, 0, len(r.handlers))
	for c := range r.handlers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func handlerName(h Handler, c Capability) string {
	if n, ok := h.(Named); ok {
		return n.Name()
	}
	return string(c)
}
