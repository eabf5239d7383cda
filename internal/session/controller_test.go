// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/enablerdao/ChirAI/internal/cache"
	"github.com/enablerdao/ChirAI/internal/locale"
	"github.com/enablerdao/ChirAI/internal/model"
	"github.com/enablerdao/ChirAI/internal/ollama"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// Idle keep-alive connections from httptest-backed clients.
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// =============================================================================
// HELPERS
// =============================================================================

func newMock(reply string, delay time.Duration) *ollama.MockClient {
	mock := ollama.NewMockClient()
	mock.Delay = delay
	if reply != "" {
		mock.Reply = func(ollama.CompletionRequest) (string, error) { return reply, nil }
	}
	return mock
}

func newController(t *testing.T, client ollama.Backend, opts Options) *Controller {
	t.Helper()
	if opts.Model == "" {
		opts.Model = "mock-model-1"
	}
	c := New(client, opts)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func await(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case out, ok := <-ch:
		require.True(t, ok, "outcome channel closed without a value")
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for outcome")
		return Outcome{}
	}
}

func networkDown() error {
	return &ollama.ClientError{Kind: ollama.KindNetworkUnavailable, Message: "connection refused"}
}

// =============================================================================
// SEND
// =============================================================================

func TestController_HelloScenario(t *testing.T) {
	mock := newMock("Hi there", 50*time.Millisecond)
	c := newController(t, mock, Options{})

	ch, err := c.SendMessage(context.Background(), "Hello")
	require.NoError(t, err)

	// The user message is visible before the reply arrives.
	msgs := c.Transcript()
	require.Len(t, msgs, 1)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.True(t, c.InFlight())
	assert.Equal(t, StateAwaitingResponse, c.State())

	out := await(t, ch)
	require.NoError(t, out.Err)
	assert.Equal(t, 1, out.Attempts)

	msgs = c.Transcript()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hi there", msgs[1].Content)
	assert.Equal(t, "mock-model-1", msgs[1].Model)
	assert.False(t, msgs[1].IsError())
	assert.Equal(t, StateIdle, c.State())

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, []ollama.Message{{Role: "user", Content: "Hello"}}, reqs[0].Messages)
}

func TestController_EmptyInputIsNoop(t *testing.T) {
	mock := newMock("", 0)
	c := newController(t, mock, Options{})

	for _, text := range []string{"", "   ", "\n\t"} {
		ch, err := c.SendMessage(context.Background(), text)
		assert.Nil(t, ch)
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Equal(t, ollama.KindInvalidInput, ollama.KindOf(err))
	}
	assert.Empty(t, c.Transcript())
	assert.Zero(t, mock.Calls())
	assert.Equal(t, StateIdle, c.State())
}

func TestController_TrimsInput(t *testing.T) {
	c := newController(t, newMock("ok", 0), Options{})
	out, err := c.Send(context.Background(), "  Hello  ")
	require.NoError(t, err)
	assert.Equal(t, "Hello", out.User.Content)
}

func TestController_SecondSendWhileInFlightRejected(t *testing.T) {
	mock := newMock("first", 100*time.Millisecond)
	c := newController(t, mock, Options{})

	ch, err := c.SendMessage(context.Background(), "one")
	require.NoError(t, err)

	_, err = c.SendMessage(context.Background(), "two")
	assert.ErrorIs(t, err, ErrBusy)

	await(t, ch)
	assert.Equal(t, 1, mock.Calls())

	msgs := c.Transcript()
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "first", msgs[1].Content)
}

func TestController_ModelSwitchDuringFlightKeepsAttribution(t *testing.T) {
	mock := newMock("reply", 100*time.Millisecond)
	c := newController(t, mock, Options{})

	ch, err := c.SendMessage(context.Background(), "question")
	require.NoError(t, err)
	require.NoError(t, c.ChangeModel("mock-model-2"))

	out := await(t, ch)
	assert.Equal(t, "mock-model-1", out.Reply.Model)
	assert.Equal(t, "mock-model-2", c.Model())
	assert.Equal(t, "mock-model-1", mock.Requests()[0].Model)

	_, err = c.Send(context.Background(), "again")
	require.NoError(t, err)
	assert.Equal(t, "mock-model-2", mock.Requests()[1].Model)
}

func TestController_ChangeModelAnnounces(t *testing.T) {
	c := newController(t, newMock("", 0), Options{AnnounceModelSwitch: true, Localizer: locale.New("ja")})

	require.NoError(t, c.ChangeModel("mock-model-2"))
	require.NoError(t, c.ChangeModel("mock-model-2")) // unchanged: no second notice

	msgs := c.Transcript()
	require.Len(t, msgs, 1)
	assert.Equal(t, model.RoleSystem, msgs[0].Role)
	assert.Equal(t, locale.New("ja").ModelSwitched("mock-model-2"), msgs[0].Content)
	assert.Equal(t, 1, c.Stats().ModelSwitches)

	assert.ErrorIs(t, c.ChangeModel("  "), ErrInvalidInput)
}

func TestController_OnModelChange(t *testing.T) {
	var got []string
	c := newController(t, newMock("ok", 0), Options{
		Model:         "mock-model-1",
		OnModelChange: func(id string) { got = append(got, id) },
	})

	require.NoError(t, c.ChangeModel("mock-model-1"))
	require.NoError(t, c.SelectModel(context.Background(), "mock-model-2"))
	assert.Error(t, c.SelectModel(context.Background(), "missing"))
	assert.Equal(t, []string{"mock-model-2"}, got)
}

func TestController_SelectModelValidates(t *testing.T) {
	c := newController(t, newMock("", 0), Options{})

	err := c.SelectModel(context.Background(), "llama-missing")
	assert.True(t, ollama.IsModelNotFound(err))
	assert.Equal(t, "mock-model-1", c.Model())

	require.NoError(t, c.SelectModel(context.Background(), "mock-model-2"))
	assert.Equal(t, "mock-model-2", c.Model())
}

// =============================================================================
// FAILURES
// =============================================================================

func TestController_ServerErrorBecomesLocalizedReply(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := ollama.DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.Timeout = 5 * time.Second
	client := ollama.NewClientWithConfig(cfg)
	c := newController(t, client, Options{Model: "gemma3:1b"})

	out, err := c.Send(context.Background(), "Hello")
	require.Error(t, err)
	assert.Equal(t, ollama.KindServerError, ollama.KindOf(err))
	assert.EqualValues(t, 1, hits.Load())

	msgs := c.Transcript()
	require.Len(t, msgs, 2)
	reply := msgs[1]
	assert.Equal(t, model.ErrorModelID, reply.Model)
	assert.Equal(t, string(ollama.KindServerError), reply.ErrorKind)
	assert.Equal(t, locale.New("en").Text(locale.KeyServerError, 500), reply.Content)
	assert.Contains(t, reply.Content, "500")
	assert.NotContains(t, reply.Content, "boom")
	assert.Equal(t, out.Reply.ID, reply.ID)
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 1, c.Stats().Errors)
}

func TestController_NetworkErrorLocalizedJapanese(t *testing.T) {
	mock := ollama.NewMockClient()
	mock.Reply = func(ollama.CompletionRequest) (string, error) { return "", networkDown() }
	c := newController(t, mock, Options{Localizer: locale.New("ja")})

	out, err := c.Send(context.Background(), "こんにちは")
	require.Error(t, err)
	assert.Equal(t, locale.New("ja").Text(locale.KeyNetworkUnavailable), out.Reply.Content)
	assert.Equal(t, "ja", out.Reply.Metadata.Language)
}

func TestController_TimeoutIsNetworkUnavailable(t *testing.T) {
	mock := newMock("late", time.Second)
	c := newController(t, mock, Options{Timeout: 20 * time.Millisecond})

	out, err := c.Send(context.Background(), "slow")
	require.Error(t, err)
	assert.True(t, ollama.IsNetworkUnavailable(err))
	assert.True(t, out.Reply.IsError())
	assert.Len(t, c.Transcript(), 2)
}

func TestController_CallerCancelDoesNotAbortRequest(t *testing.T) {
	mock := newMock("done", 50*time.Millisecond)
	c := newController(t, mock, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.SendMessage(ctx, "hi")
	require.NoError(t, err)
	cancel()

	out := await(t, ch)
	require.NoError(t, out.Err)
	assert.Equal(t, "done", out.Reply.Content)
}

// =============================================================================
// RETRY
// =============================================================================

func TestController_SendWithRetry(t *testing.T) {
	fast := RetryPolicy{MaxAttempts: 3, Delay: 5 * time.Millisecond, Backoff: BackoffLinear}

	tests := []struct {
		name         string
		failures     []error // returned in order before succeeding
		wantAttempts int
		wantErrKind  ollama.ErrorKind
		wantCalls    int
	}{
		{
			name:         "succeeds first time",
			wantAttempts: 1,
			wantCalls:    1,
		},
		{
			name:         "recovers from transient network errors",
			failures:     []error{networkDown(), networkDown()},
			wantAttempts: 3,
			wantCalls:    3,
		},
		{
			name:         "retries 5xx",
			failures:     []error{&ollama.ClientError{Kind: ollama.KindServerError, StatusCode: 503}},
			wantAttempts: 2,
			wantCalls:    2,
		},
		{
			name:         "gives up after max attempts",
			failures:     []error{networkDown(), networkDown(), networkDown(), networkDown()},
			wantAttempts: 3,
			wantErrKind:  ollama.KindNetworkUnavailable,
			wantCalls:    3,
		},
		{
			name:         "does not retry 4xx",
			failures:     []error{&ollama.ClientError{Kind: ollama.KindServerError, StatusCode: 400}},
			wantAttempts: 1,
			wantErrKind:  ollama.KindServerError,
			wantCalls:    1,
		},
		{
			name:         "does not retry missing model",
			failures:     []error{&ollama.ClientError{Kind: ollama.KindModelNotFound, StatusCode: 404, Model: "x"}},
			wantAttempts: 1,
			wantErrKind:  ollama.KindModelNotFound,
			wantCalls:    1,
		},
		{
			name:         "does not retry malformed responses",
			failures:     []error{&ollama.ClientError{Kind: ollama.KindMalformedResponse}},
			wantAttempts: 1,
			wantErrKind:  ollama.KindMalformedResponse,
			wantCalls:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n atomic.Int32
			mock := ollama.NewMockClient()
			mock.Reply = func(ollama.CompletionRequest) (string, error) {
				i := int(n.Add(1)) - 1
				if i < len(tt.failures) {
					return "", tt.failures[i]
				}
				return "recovered", nil
			}
			c := newController(t, mock, Options{})

			ch, err := c.SendWithRetry(context.Background(), "hello", fast)
			require.NoError(t, err)
			out := await(t, ch)

			assert.Equal(t, tt.wantAttempts, out.Attempts)
			assert.Equal(t, tt.wantCalls, mock.Calls())
			// Exactly one terminal reply regardless of attempts.
			require.Len(t, c.Transcript(), 2)
			if tt.wantErrKind == "" {
				require.NoError(t, out.Err)
				assert.Equal(t, "recovered", out.Reply.Content)
			} else {
				assert.Equal(t, tt.wantErrKind, ollama.KindOf(out.Err))
				assert.Equal(t, string(tt.wantErrKind), out.Reply.ErrorKind)
			}
			assert.Equal(t, tt.wantAttempts, out.Reply.Metadata.Attempts)
			assert.Equal(t, tt.wantAttempts-1, c.Stats().Retries)
		})
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	fixed := RetryPolicy{MaxAttempts: 3, Delay: time.Second, Backoff: BackoffFixed}
	linear := RetryPolicy{MaxAttempts: 3, Delay: time.Second, Backoff: BackoffLinear}

	assert.Equal(t, time.Second, fixed.delay(1))
	assert.Equal(t, time.Second, fixed.delay(2))
	assert.Equal(t, time.Second, linear.delay(1))
	assert.Equal(t, 2*time.Second, linear.delay(2))

	assert.Equal(t, 1, RetryPolicy{}.attempts())
	assert.Equal(t, 3, RetryPolicy{MaxAttempts: 10}.attempts())
	assert.Equal(t, DefaultRetryPolicy().attempts(), 3)
	assert.Equal(t, 1, NoRetry().attempts())
}

// =============================================================================
// CACHE
// =============================================================================

func TestController_CacheHitSkipsRequest(t *testing.T) {
	mock := newMock("cached answer", 0)
	shared := cache.NewMemory(cache.DefaultMaxBytes)

	first := newController(t, mock, Options{Cache: shared})
	out, err := first.Send(context.Background(), "What is Go?")
	require.NoError(t, err)
	assert.False(t, out.Cached)

	second := newController(t, mock, Options{Cache: shared})
	ch, err := second.SendMessage(context.Background(), "What is Go?")
	require.NoError(t, err)
	out = await(t, ch)

	assert.True(t, out.Cached)
	assert.Equal(t, "cached answer", out.Reply.Content)
	assert.True(t, out.Reply.Metadata.Cached)
	assert.Equal(t, 1, mock.Calls())
	assert.Equal(t, 1, second.Stats().CacheHits)
	assert.Equal(t, StateIdle, second.State())
}

func TestController_FailuresAreNotCached(t *testing.T) {
	mock := ollama.NewMockClient()
	mock.Reply = func(ollama.CompletionRequest) (string, error) { return "", networkDown() }
	shared := cache.NewMemory(cache.DefaultMaxBytes)

	c := newController(t, mock, Options{Cache: shared})
	_, err := c.Send(context.Background(), "hi")
	require.Error(t, err)
	assert.Zero(t, shared.Stats().Entries)
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

func TestController_Clear(t *testing.T) {
	tests := []struct {
		name    string
		welcome string
		want    int
	}{
		{name: "empty", want: 0},
		{name: "welcome", welcome: "Welcome to ChirAI", want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newController(t, newMock("ok", 0), Options{Welcome: tt.welcome})
			_, err := c.Send(context.Background(), "hello")
			require.NoError(t, err)

			require.NoError(t, c.Clear())
			msgs := c.Transcript()
			assert.Len(t, msgs, tt.want)
			if tt.want == 1 {
				assert.Equal(t, model.RoleSystem, msgs[0].Role)
				assert.Equal(t, tt.welcome, msgs[0].Content)
			}
			assert.Equal(t, "mock-model-1", c.Model())
		})
	}
}

func TestController_ClearWhileInFlightRejected(t *testing.T) {
	c := newController(t, newMock("ok", 100*time.Millisecond), Options{})
	ch, err := c.SendMessage(context.Background(), "hello")
	require.NoError(t, err)

	assert.ErrorIs(t, c.Clear(), ErrBusy)
	await(t, ch)
	assert.Len(t, c.Transcript(), 2)
	assert.NoError(t, c.Clear())
}

func TestController_EvictsAtCap(t *testing.T) {
	c := newController(t, newMock("ok", 0), Options{MaxMessages: 4})
	for _, text := range []string{"a", "b", "c"} {
		_, err := c.Send(context.Background(), text)
		require.NoError(t, err)
	}
	msgs := c.Transcript()
	require.Len(t, msgs, 4)
	assert.Equal(t, "b", msgs[0].Content)
}

func TestController_EditAndReact(t *testing.T) {
	c := newController(t, newMock("ok", 0), Options{})
	out, err := c.Send(context.Background(), "helo")
	require.NoError(t, err)
	before := c.Transcript()

	edited, err := c.Edit(out.User.ID, "hello")
	require.NoError(t, err)
	assert.True(t, edited.Edited)
	assert.Equal(t, "helo", before[0].Content)
	assert.Equal(t, "hello", c.Transcript()[0].Content)

	_, err = c.Edit("missing", "x")
	assert.ErrorIs(t, err, model.ErrMessageNotFound)
	_, err = c.Edit(out.User.ID, " ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	reacted, err := c.React(out.Reply.ID, "👍", "me")
	require.NoError(t, err)
	require.Len(t, reacted.Reactions, 1)
}

func TestController_Search(t *testing.T) {
	c := newController(t, newMock("", 0), Options{})
	for _, text := range []string{"Tokyo weather", "Osaka food", "tokyo trains"} {
		_, err := c.Send(context.Background(), text)
		require.NoError(t, err)
	}
	hits := c.Search("TOKYO")
	// Two user messages plus their echoed replies.
	require.Len(t, hits, 4)
	assert.Contains(t, hits[0].Content, "tokyo trains")
	assert.Nil(t, c.Search(""))
}

func TestController_ResumeConversation(t *testing.T) {
	conv := model.NewConversation("mock-model-2")
	conv.Append(model.NewUserMessage("earlier"))
	conv.Append(model.NewAssistantMessage("answer", "mock-model-2"))

	mock := newMock("next", 0)
	c := New(mock, Options{Conversation: conv})
	t.Cleanup(func() { _ = c.Close() })
	assert.Equal(t, conv.ID, c.ID())

	_, err := c.Send(context.Background(), "follow up")
	require.NoError(t, err)

	req := mock.Requests()[0]
	assert.Equal(t, "mock-model-2", req.Model)
	assert.Len(t, req.Messages, 3)
	assert.Equal(t, 2, conv.Len(), "the caller's conversation is not modified")
}

// =============================================================================
// OBSERVATION & LIFECYCLE
// =============================================================================

func TestController_SubscribeEmitsOrderedSnapshots(t *testing.T) {
	c := New(newMock("pong", 10*time.Millisecond), Options{Model: "mock-model-1"})
	events, _ := c.Subscribe()

	_, err := c.Send(context.Background(), "ping")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 2)

	assert.Equal(t, EventMessageAppended, got[0].Kind)
	assert.Equal(t, StateAwaitingResponse, got[0].State)
	assert.Len(t, got[0].Messages(), 1)
	assert.Equal(t, "ping", got[0].Message.Content)

	assert.Equal(t, StateIdle, got[1].State)
	assert.Len(t, got[1].Messages(), 2)
	assert.Equal(t, "pong", got[1].Message.Content)
	assert.Greater(t, got[1].Seq, got[0].Seq)
}

func TestController_SlowSubscriberDoesNotBlock(t *testing.T) {
	c := newController(t, newMock("ok", 0), Options{})
	events, stop := c.Subscribe()
	defer stop()

	// Nobody reads events while several sends complete.
	for i := 0; i < 5; i++ {
		_, err := c.Send(context.Background(), "msg")
		require.NoError(t, err)
	}
	require.NoError(t, c.Clear())

	var kinds []EventKind
	for i := 0; i < 11; i++ {
		select {
		case ev := <-events:
			kinds = append(kinds, ev.Kind)
		case <-time.After(time.Second):
			t.Fatalf("only %d events delivered", i)
		}
	}
	assert.Equal(t, EventCleared, kinds[10])
}

func TestController_UnsubscribeStopsDelivery(t *testing.T) {
	c := newController(t, newMock("ok", 0), Options{})
	events, stop := c.Subscribe()
	stop()
	stop()

	_, err := c.Send(context.Background(), "hello")
	require.NoError(t, err)

	select {
	case _, ok := <-events:
		assert.False(t, ok, "no events after unsubscribe")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}
}

func TestController_CloseWaitsForInFlight(t *testing.T) {
	c := New(newMock("late reply", 50*time.Millisecond), Options{Model: "mock-model-1"})
	ch, err := c.SendMessage(context.Background(), "hello")
	require.NoError(t, err)

	require.NoError(t, c.Close())
	assert.Len(t, c.Transcript(), 2)
	out := await(t, ch)
	assert.Equal(t, "late reply", out.Reply.Content)

	_, err = c.SendMessage(context.Background(), "after close")
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, c.Close())

	events, _ := c.Subscribe()
	_, ok := <-events
	assert.False(t, ok)
}

func TestController_Stats(t *testing.T) {
	mock := ollama.NewMockClient()
	var n atomic.Int32
	mock.Reply = func(ollama.CompletionRequest) (string, error) {
		if n.Add(1) == 2 {
			return "", errors.New("unexpected")
		}
		return "ok", nil
	}
	c := newController(t, mock, Options{})

	_, err := c.Send(context.Background(), "one")
	require.NoError(t, err)
	_, err = c.Send(context.Background(), "two")
	assert.Equal(t, ollama.KindUnknown, ollama.KindOf(err))
	require.NoError(t, c.ChangeModel("mock-model-2"))
	_, err = c.Send(context.Background(), "three")
	require.NoError(t, err)

	st := c.Stats()
	assert.Equal(t, 3, st.MessagesSent)
	assert.Equal(t, 2, st.Replies)
	assert.Equal(t, 1, st.Errors)
	assert.Equal(t, map[string]int{"mock-model-1": 1, "mock-model-2": 1}, st.ModelUsage)
	assert.InDelta(t, 1.0/3.0, st.ErrorRate(), 1e-9)

	st.ModelUsage["mock-model-1"] = 99
	assert.Equal(t, 1, c.Stats().ModelUsage["mock-model-1"])
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{1500 * time.Millisecond, "1.5s"},
		{2 * time.Minute, "2m"},
		{125 * time.Second, "2m 5s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.d))
	}
}
