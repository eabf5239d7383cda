// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/enablerdao/ChirAI/internal/cache"
	"github.com/enablerdao/ChirAI/internal/locale"
	"github.com/enablerdao/ChirAI/internal/model"
	"github.com/enablerdao/ChirAI/internal/ollama"
)

// cacheTimeout bounds a cache lookup or store so a slow backend cannot hold
// a request.
const cacheTimeout = 2 * time.Second

// =============================================================================
// STATE
// =============================================================================

// State is the request state of a controller.
type State int

const (
	StateIdle State = iota
	StateAwaitingResponse
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingResponse:
		return "awaiting_response"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrBusy is returned when a request is already in flight.
	ErrBusy = errors.New("session: a request is already in flight")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: controller closed")

	// ErrInvalidInput is returned for empty message text or model IDs.
	ErrInvalidInput = &ollama.ClientError{Kind: ollama.KindInvalidInput, Message: "input is empty"}
)

// =============================================================================
// CONTROLLER
// =============================================================================

// Options configures a Controller.
type Options struct {
	// ID names a new conversation. Empty generates one.
	ID string

	// Model used until ChangeModel is called. Ignored when Conversation is set
	// and Model is empty.
	Model string

	// MaxMessages caps the transcript; <= 0 keeps the conversation's cap.
	MaxMessages int

	// Welcome seeds a new conversation and is what Clear leaves behind.
	Welcome string

	// AnnounceModelSwitch appends a system notice when the model changes.
	AnnounceModelSwitch bool

	// Retry is the policy used by SendMessage and Send. The zero value makes
	// a single attempt.
	Retry RetryPolicy

	// Timeout bounds each attempt. Zero leaves it to the client.
	Timeout time.Duration

	// Conversation resumes an existing transcript. It is copied.
	Conversation *model.Conversation

	// OnModelChange, if set, is called with the new model after each
	// successful model change, outside the controller lock.
	OnModelChange func(modelID string)

	Localizer *locale.Localizer
	Cache     cache.Cache
	Logger    *zap.Logger
}

// Outcome is the resolution of one send.
type Outcome struct {
	User     model.Message
	Reply    model.Message
	Err      error
	Attempts int
	Cached   bool
}

// Controller owns one conversation. It is safe for concurrent use; the
// transcript append and the in-flight guard change together under mu.
type Controller struct {
	mu sync.Mutex

	client   ollama.Backend
	conv     *model.Conversation
	state    State
	closed   bool
	announce bool
	retry    RetryPolicy
	timeout  time.Duration

	loc           *locale.Localizer
	cache         cache.Cache
	logger        *zap.Logger
	onModelChange func(string)

	subs    map[int]*subscriber
	nextSub int
	seq     uint64

	stats Stats
	wg    sync.WaitGroup
}

// New creates a controller for client.
func New(client ollama.Backend, opts Options) *Controller {
	var conv *model.Conversation
	if opts.Conversation != nil {
		conv = opts.Conversation.Clone()
		if opts.Model != "" {
			conv.SetModel(opts.Model)
		}
	} else {
		modelID := opts.Model
		if modelID == "" {
			modelID = ollama.DefaultConfig().DefaultModel
		}
		conv = model.NewConversation(modelID)
		if opts.ID != "" {
			conv.ID = opts.ID
		}
		if opts.Welcome != "" {
			conv.Append(model.NewSystemMessage(opts.Welcome))
		}
	}
	if opts.MaxMessages > 0 {
		conv.MaxMessages = opts.MaxMessages
	}
	conv.Welcome = opts.Welcome

	c := &Controller{
		client:   client,
		conv:     conv,
		announce: opts.AnnounceModelSwitch,
		retry:    opts.Retry,
		timeout:  opts.Timeout,
		loc:      opts.Localizer,
		cache:    opts.Cache,
		logger:   opts.Logger,
		subs:     make(map[int]*subscriber),
		stats:    Stats{ModelUsage: make(map[string]int)},

		onModelChange: opts.OnModelChange,
	}
	if c.loc == nil {
		c.loc = locale.New("en")
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.With(zap.String("conversation", conv.ID))
	return c
}

// =============================================================================
// SENDING
// =============================================================================

// SendMessage appends text as a user message and requests a reply in the
// background using the controller's retry policy. The returned channel
// yields exactly one Outcome and is then closed.
//
// Empty text returns ErrInvalidInput and a second send while one is in
// flight returns ErrBusy; neither changes the transcript.
func (c *Controller) SendMessage(ctx context.Context, text string) (<-chan Outcome, error) {
	_, ch, err := c.send(ctx, text, c.retry)
	return ch, err
}

// SendWithRetry is SendMessage with an explicit retry policy.
func (c *Controller) SendWithRetry(ctx context.Context, text string, policy RetryPolicy) (<-chan Outcome, error) {
	_, ch, err := c.send(ctx, text, policy)
	return ch, err
}

// Submit is SendWithRetry that also returns the user message as stored.
func (c *Controller) Submit(ctx context.Context, text string, policy RetryPolicy) (model.Message, <-chan Outcome, error) {
	return c.send(ctx, text, policy)
}

// RetryPolicy returns the controller's default retry policy.
func (c *Controller) RetryPolicy() RetryPolicy {
	return c.retry
}

// Send sends text and waits for the outcome. A failed completion is returned
// both as Outcome.Err and as the error; the error reply is already in the
// transcript. If ctx ends first the request keeps running.
func (c *Controller) Send(ctx context.Context, text string) (Outcome, error) {
	ch, err := c.SendMessage(ctx, text)
	if err != nil {
		return Outcome{}, err
	}
	return Await(ctx, ch)
}

// Await waits for the outcome delivered on ch.
func Await(ctx context.Context, ch <-chan Outcome) (Outcome, error) {
	select {
	case out := <-ch:
		return out, out.Err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (c *Controller) send(ctx context.Context, text string, policy RetryPolicy) (model.Message, <-chan Outcome, error) {
	content := strings.TrimSpace(text)
	if content == "" {
		return model.Message{}, nil, ErrInvalidInput
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return model.Message{}, nil, ErrClosed
	}
	if c.state == StateAwaitingResponse {
		c.mu.Unlock()
		c.logger.Debug("send rejected, request in flight")
		return model.Message{}, nil, ErrBusy
	}

	user := c.conv.Append(model.NewUserMessage(content))
	req := ollama.CompletionRequest{
		Model:    c.conv.Model,
		Messages: c.conv.ToOllamaMessages(),
	}
	c.state = StateAwaitingResponse
	c.stats.MessagesSent++
	c.publish(EventMessageAppended, &user)
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Debug("message sent",
		zap.String("model", req.Model),
		zap.Int("context_messages", len(req.Messages)))

	out := make(chan Outcome, 1)
	// The request outlives the caller's context; only the timeout bounds it.
	go c.complete(context.WithoutCancel(ctx), user, req, policy, out)
	return user, out, nil
}

// complete runs the request and applies its result.
func (c *Controller) complete(ctx context.Context, user model.Message, req ollama.CompletionRequest, policy RetryPolicy, out chan<- Outcome) {
	defer c.wg.Done()
	defer close(out)

	start := time.Now()

	var key string
	if c.cache != nil {
		key = cache.Fingerprint(req.Model, req.Messages)
		cctx, cancel := context.WithTimeout(ctx, cacheTimeout)
		content, ok := c.cache.Get(cctx, key)
		cancel()
		if ok {
			res := &ollama.CompletionResult{Content: content, Model: req.Model, Cached: true}
			out <- c.resolve(user, req.Model, res, nil, 0, start)
			return
		}
	}

	res, attempts, err := c.attempt(ctx, req, policy)
	if err == nil && c.cache != nil {
		cctx, cancel := context.WithTimeout(ctx, cacheTimeout)
		c.cache.Set(cctx, key, res.Content)
		cancel()
	}
	out <- c.resolve(user, req.Model, res, err, attempts, start)
}

// attempt calls the client until it succeeds, fails permanently, or the
// policy's attempts are used up.
func (c *Controller) attempt(ctx context.Context, req ollama.CompletionRequest, policy RetryPolicy) (*ollama.CompletionResult, int, error) {
	limit := policy.attempts()
	for n := 1; ; n++ {
		actx, cancel := ctx, context.CancelFunc(func() {})
		if c.timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, c.timeout)
		}
		res, err := c.client.Complete(actx, req)
		cancel()
		if err == nil {
			return res, n, nil
		}

		retry := n < limit && ollama.IsRetryable(err)
		c.logger.Warn("completion attempt failed",
			zap.String("model", req.Model),
			zap.String("kind", string(ollama.KindOf(err))),
			zap.Int("attempt", n),
			zap.Int("max_attempts", limit),
			zap.Bool("will_retry", retry),
			zap.Error(err))
		if !retry {
			return nil, n, err
		}

		c.mu.Lock()
		c.stats.Retries++
		c.mu.Unlock()
		_ = sleep(ctx, policy.delay(n))
	}
}

// resolve appends the reply for a finished request and returns to Idle.
func (c *Controller) resolve(user model.Message, modelID string, res *ollama.CompletionResult, err error, attempts int, start time.Time) Outcome {
	elapsed := time.Since(start)

	var reply model.Message
	if err != nil {
		reply = model.NewErrorMessage(c.loc.Error(err), string(ollama.KindOf(err)))
		reply.Metadata = &model.Metadata{
			ResponseTime: elapsed,
			Attempts:     attempts,
			Language:     c.loc.Language(),
		}
	} else {
		reply = model.NewAssistantMessage(res.Content, modelID)
		md := &model.Metadata{
			ResponseTime: elapsed,
			Attempts:     attempts,
			Cached:       res.Cached,
		}
		if res.Usage != nil {
			md.PromptTokens = res.Usage.PromptTokens
			md.CompletionTokens = res.Usage.CompletionTokens
			md.TotalTokens = res.Usage.TotalTokens
		}
		reply.Metadata = md
	}

	c.mu.Lock()
	reply = c.conv.Append(reply)
	c.state = StateIdle
	if err != nil {
		c.stats.Errors++
	} else {
		c.stats.Replies++
		c.stats.ModelUsage[modelID]++
		if res.Cached {
			c.stats.CacheHits++
		} else {
			c.stats.TotalResponseTime += elapsed
		}
	}
	c.publish(EventMessageAppended, &reply)
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("send failed",
			zap.String("model", modelID),
			zap.String("kind", string(ollama.KindOf(err))),
			zap.Int("status", ollama.StatusOf(err)),
			zap.Int("attempts", attempts),
			zap.Error(err))
	} else {
		c.logger.Info("reply received",
			zap.String("model", modelID),
			zap.Int("attempts", attempts),
			zap.Bool("cached", res.Cached),
			zap.Duration("elapsed", elapsed))
	}

	return Outcome{
		User:     user,
		Reply:    reply,
		Err:      err,
		Attempts: attempts,
		Cached:   err == nil && res.Cached,
	}
}

// =============================================================================
// MODEL SELECTION
// =============================================================================

// ChangeModel sets the model for subsequent requests. It is allowed while a
// request is in flight; that request's reply keeps the model it was sent to.
func (c *Controller) ChangeModel(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrInvalidInput
	}

	c.mu.Lock()
	if c.conv.Model == id {
		c.mu.Unlock()
		return nil
	}
	prev := c.conv.Model
	c.conv.SetModel(id)
	c.stats.ModelSwitches++

	if c.announce {
		notice := c.conv.Append(model.NewSystemMessage(c.loc.ModelSwitched(id)))
		c.publish(EventModelChanged, &notice)
	} else {
		c.publish(EventModelChanged, nil)
	}
	c.logger.Info("model changed", zap.String("from", prev), zap.String("to", id))
	c.mu.Unlock()

	if c.onModelChange != nil {
		c.onModelChange(id)
	}
	return nil
}

// SelectModel checks that id is installed before switching to it.
func (c *Controller) SelectModel(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrInvalidInput
	}
	ok, err := c.client.ModelExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return &ollama.ClientError{
			Kind:    ollama.KindModelNotFound,
			Message: "model is not installed",
			Model:   id,
		}
	}
	return c.ChangeModel(id)
}

// Model returns the model used for the next request.
func (c *Controller) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv.Model
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// Clear empties the transcript, leaving the welcome message if configured.
// It returns ErrBusy while a request is in flight.
func (c *Controller) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateAwaitingResponse {
		return ErrBusy
	}
	c.conv.Clear()
	c.publish(EventCleared, nil)
	c.logger.Debug("conversation cleared")
	return nil
}

// Edit replaces the content of a message, marking it edited.
func (c *Controller) Edit(id, content string) (model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return model.Message{}, ErrInvalidInput
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, err := c.conv.Edit(id, content)
	if err != nil {
		return model.Message{}, err
	}
	c.publish(EventMessageEdited, &msg)
	return msg, nil
}

// React adds an emoji reaction to a message.
func (c *Controller) React(id, emoji, userID string) (model.Message, error) {
	if strings.TrimSpace(emoji) == "" {
		return model.Message{}, ErrInvalidInput
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, err := c.conv.React(id, emoji, userID)
	if err != nil {
		return model.Message{}, err
	}
	c.publish(EventMessageEdited, &msg)
	return msg, nil
}

// Search returns messages containing query, newest first.
func (c *Controller) Search(query string) []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv.Search(query)
}

// Transcript returns a copy of the messages.
func (c *Controller) Transcript() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv.Snapshot()
}

// Conversation returns a copy of the whole conversation.
func (c *Controller) Conversation() *model.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv.Clone()
}

// ID returns the conversation ID.
func (c *Controller) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv.ID
}

// State returns the request state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// InFlight reports whether a request is awaiting its reply.
func (c *Controller) InFlight() bool {
	return c.State() == StateAwaitingResponse
}

// Stats returns a copy of the usage counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats.clone()
}

// =============================================================================
// OBSERVATION & LIFECYCLE
// =============================================================================

// Subscribe returns a channel receiving one Event per change, in order, and
// a function that stops delivery. Events queue without bound until read.
// After Close the channel is closed once queued events are delivered.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	s := newSubscriber()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		s.finish()
		return s.out, func() { s.cancel() }
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = s
	c.mu.Unlock()

	return s.out, func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		s.cancel()
	}
}

// publish sends an event to every subscriber. Caller holds mu.
// Receivers share the snapshot and must not modify it.
func (c *Controller) publish(kind EventKind, msg *model.Message) {
	c.seq++
	if len(c.subs) == 0 {
		return
	}
	ev := Event{
		Seq:          c.seq,
		Kind:         kind,
		State:        c.state,
		Conversation: c.conv.Clone(),
	}
	if msg != nil {
		m := msg.Clone()
		ev.Message = &m
	}
	for _, s := range c.subs {
		s.push(ev)
	}
}

// Close rejects new sends, waits for an in-flight request to resolve, then
// ends every subscription. It is safe to call more than once.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[int]*subscriber)
	c.mu.Unlock()

	for _, s := range subs {
		s.finish()
	}
	return nil
}
