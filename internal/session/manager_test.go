// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enablerdao/ChirAI/internal/model"
	"github.com/enablerdao/ChirAI/internal/ollama"
	"github.com/enablerdao/ChirAI/internal/storage"
)

func newTestManager(t *testing.T, cfg ManagerConfig) *Manager {
	t.Helper()
	if cfg.Client == nil {
		cfg.Client = ollama.NewMockClient()
	}
	if cfg.Options.Model == "" {
		cfg.Options.Model = "mock-model-1"
	}
	m := NewManager(cfg)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// =============================================================================
// CHANNEL TESTS
// =============================================================================

func TestManager_GetCreatesOnce(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	ctx := context.Background()

	a, err := m.Get(ctx, "general")
	require.NoError(t, err)
	b, err := m.Get(ctx, "general")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, "general", a.ID())
	assert.Equal(t, "mock-model-1", a.Model())

	got, ok := m.Lookup("general")
	assert.True(t, ok)
	assert.Same(t, a, got)
	_, ok = m.Lookup("random")
	assert.False(t, ok)
}

func TestManager_InvalidChannelIDs(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	for _, id := range []string{"", ".", "..", "a/b", `a\b`, "with space", strings.Repeat("x", 65), "日本"} {
		t.Run(id, func(t *testing.T) {
			_, err := m.Get(context.Background(), id)
			assert.ErrorIs(t, err, ErrInvalidChannel)
		})
	}
	_, err := m.Get(context.Background(), "ok-id_1.2")
	assert.NoError(t, err)
}

func TestManager_ChannelsAreIndependent(t *testing.T) {
	mock := ollama.NewMockClient()
	mock.Delay = 50 * time.Millisecond
	m := newTestManager(t, ManagerConfig{Client: mock})
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []string{"alpha", "beta", "gamma"} {
		ctrl, err := m.Get(ctx, id)
		require.NoError(t, err)
		ch, err := ctrl.SendMessage(ctx, "hello from "+id)
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ch
		}()
	}

	// All three are in flight at once.
	for _, info := range m.List() {
		assert.Equal(t, StateAwaitingResponse, info.State, info.ID)
	}
	wg.Wait()

	infos := m.List()
	require.Len(t, infos, 3)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, []string{infos[0].ID, infos[1].ID, infos[2].ID})
	for _, info := range infos {
		assert.Equal(t, 2, info.Messages)
		assert.Equal(t, StateIdle, info.State)
	}
	assert.Equal(t, 3, mock.Calls())
}

func TestManager_Remove(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	ctrl, err := m.Get(context.Background(), "temp")
	require.NoError(t, err)

	require.NoError(t, m.Remove("temp"))
	assert.ErrorIs(t, m.Remove("temp"), ErrChannelNotFound)
	_, err = ctrl.SendMessage(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrClosed)
	assert.Empty(t, m.List())
}

// slowLoadStore blocks loads of one channel until released.
type slowLoadStore struct {
	storage.Store
	slowID  string
	entered chan struct{}
	release chan struct{}
}

func (s *slowLoadStore) Load(ctx context.Context, id string) (*model.Conversation, error) {
	if id == s.slowID {
		close(s.entered)
		<-s.release
	}
	return s.Store.Load(ctx, id)
}

func TestManager_GetLoadsOutsideLock(t *testing.T) {
	js, err := storage.NewJSONStore(t.TempDir())
	require.NoError(t, err)
	store := &slowLoadStore{
		Store:   js,
		slowID:  "slow",
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	m := newTestManager(t, ManagerConfig{Store: store})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := m.Get(ctx, "slow")
		done <- err
	}()
	<-store.entered

	fast, err := m.Get(ctx, "fast")
	require.NoError(t, err)
	assert.Equal(t, "fast", fast.ID())
	_, ok := m.Lookup("slow")
	assert.False(t, ok)

	close(store.release)
	require.NoError(t, <-done)
	_, ok = m.Lookup("slow")
	assert.True(t, ok)
}

func TestManager_GetDuringRemoveSeesLatestSave(t *testing.T) {
	js, err := storage.NewJSONStore(t.TempDir())
	require.NoError(t, err)
	store := &gatedStore{Store: js, release: make(chan struct{})}
	m := newTestManager(t, ManagerConfig{Store: store, AutoSave: true})
	ctx := context.Background()

	ctrl, err := m.Get(ctx, "general")
	require.NoError(t, err)
	_, err = ctrl.Send(ctx, "keep me")
	require.NoError(t, err)

	removed := make(chan error, 1)
	go func() { removed <- m.Remove("general") }()
	require.Eventually(t, func() bool {
		_, ok := m.Lookup("general")
		return !ok
	}, time.Second, time.Millisecond)

	got := make(chan *Controller, 1)
	go func() {
		c, err := m.Get(ctx, "general")
		assert.NoError(t, err)
		got <- c
	}()

	select {
	case <-got:
		t.Fatal("Get returned before the removed channel finished saving")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	require.NoError(t, <-removed)
	restored := <-got
	require.NotNil(t, restored)
	assert.NotSame(t, ctrl, restored)
	require.Len(t, restored.Transcript(), 2)
	assert.Equal(t, "keep me", restored.Transcript()[0].Content)
}

func TestManager_SetDefaultModel(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	old, err := m.Get(context.Background(), "old")
	require.NoError(t, err)

	m.SetDefaultModel("mock-model-2")
	assert.Equal(t, "mock-model-2", m.DefaultModel())

	fresh, err := m.Get(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, "mock-model-2", fresh.Model())
	assert.Equal(t, "mock-model-1", old.Model())
}

func TestManager_CloseRejectsNewChannels(t *testing.T) {
	m := NewManager(ManagerConfig{Client: ollama.NewMockClient()})
	_, err := m.Get(context.Background(), "a")
	require.NoError(t, err)

	require.NoError(t, m.Close())
	_, err = m.Get(context.Background(), "b")
	assert.ErrorIs(t, err, ErrManagerClosed)
}

// =============================================================================
// AUTO-SAVE TESTS
// =============================================================================

func TestManager_AutoSaveAndRestore(t *testing.T) {
	store, err := storage.NewJSONStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	m := NewManager(ManagerConfig{
		Client:   ollama.NewMockClient(),
		Options:  Options{Model: "mock-model-2"},
		Store:    store,
		AutoSave: true,
	})
	ctrl, err := m.Get(ctx, "general")
	require.NoError(t, err)
	_, err = ctrl.Send(ctx, "remember me")
	require.NoError(t, err)
	require.NoError(t, m.Close())

	saved, err := store.Load(ctx, "general")
	require.NoError(t, err)
	require.Len(t, saved.Messages, 2)
	assert.Equal(t, "remember me", saved.Messages[0].Content)

	m2 := newTestManager(t, ManagerConfig{Store: store})
	restored, err := m2.Get(ctx, "general")
	require.NoError(t, err)
	assert.Equal(t, "mock-model-2", restored.Model())
	require.Len(t, restored.Transcript(), 2)
	assert.Equal(t, saved.Messages[1].ID, restored.Transcript()[1].ID)
}

// failingStore rejects every save.
type failingStore struct {
	storage.Store
	mu    sync.Mutex
	calls int
}

func (f *failingStore) Save(context.Context, *model.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("disk full")
}

func TestAutoSaver_FailureKeepsSessionAlive(t *testing.T) {
	store := &failingStore{}
	ctrl := New(ollama.NewMockClient(), Options{Model: "mock-model-1"})
	saver := NewAutoSaver(ctrl, store, nil)

	out, err := ctrl.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: hello", out.Reply.Content)

	require.NoError(t, ctrl.Close())
	saver.Wait()

	st := saver.Status()
	assert.True(t, st.Dirty)
	assert.GreaterOrEqual(t, st.Failures, 1)
	assert.Zero(t, st.Saves)
	assert.Equal(t, "disk full", st.LastError)
	assert.Equal(t, st.Failures, store.calls)
}

func TestAutoSaver_TracksDirtyState(t *testing.T) {
	store, err := storage.NewJSONStore(t.TempDir())
	require.NoError(t, err)
	ctrl := New(ollama.NewMockClient(), Options{Model: "mock-model-1"})
	saver := NewAutoSaver(ctrl, store, nil)

	_, err = ctrl.Send(context.Background(), "hello")
	require.NoError(t, err)
	require.NoError(t, ctrl.Clear())
	require.NoError(t, ctrl.Close())
	saver.Wait()

	st := saver.Status()
	assert.False(t, st.Dirty)
	assert.GreaterOrEqual(t, st.Saves, 1)
	assert.LessOrEqual(t, st.Saves, 3)
	assert.False(t, st.LastSave.IsZero())

	saved, err := store.Load(context.Background(), ctrl.ID())
	require.NoError(t, err)
	assert.Empty(t, saved.Messages, "the last snapshot written is the cleared one")
}

func TestAutoSaver_Stop(t *testing.T) {
	store, err := storage.NewJSONStore(t.TempDir())
	require.NoError(t, err)
	ctrl := New(ollama.NewMockClient(), Options{Model: "mock-model-1"})
	defer ctrl.Close()

	saver := NewAutoSaver(ctrl, store, nil)
	saver.Stop()
	assert.False(t, saver.IsDirty())
}

// gatedStore blocks the first save until released and records what it wrote.
type gatedStore struct {
	storage.Store
	release chan struct{}
	once    sync.Once

	mu      sync.Mutex
	written []int
}

func (g *gatedStore) Save(ctx context.Context, conv *model.Conversation) error {
	g.once.Do(func() { <-g.release })
	g.mu.Lock()
	defer g.mu.Unlock()
	g.written = append(g.written, conv.Len())
	if g.Store != nil {
		return g.Store.Save(ctx, conv)
	}
	return nil
}

func TestAutoSaver_CoalescesQueuedSnapshots(t *testing.T) {
	store := &gatedStore{release: make(chan struct{})}
	ctrl := New(ollama.NewMockClient(), Options{Model: "mock-model-1"})
	saver := NewAutoSaver(ctrl, store, nil)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := ctrl.Send(ctx, "message")
		require.NoError(t, err)
	}
	require.NoError(t, ctrl.Close())
	close(store.release)
	saver.Wait()

	store.mu.Lock()
	defer store.mu.Unlock()
	require.NotEmpty(t, store.written)
	assert.Less(t, len(store.written), 20, "queued snapshots are merged")
	assert.Equal(t, 20, store.written[len(store.written)-1], "the newest snapshot is written last")
	assert.False(t, saver.IsDirty())
}
