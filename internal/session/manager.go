// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/enablerdao/ChirAI/internal/ollama"
	"github.com/enablerdao/ChirAI/internal/storage"
)

// maxChannelIDLen bounds channel IDs, which double as conversation IDs.
const maxChannelIDLen = 64

var (
	// ErrInvalidChannel is returned for channel IDs that are empty, too long,
	// or contain characters other than letters, digits, '-', '_' and '.'.
	ErrInvalidChannel = errors.New("session: invalid channel id")

	// ErrChannelNotFound is returned by Remove for unknown channels.
	ErrChannelNotFound = errors.New("session: channel not found")

	// ErrManagerClosed is returned after Close.
	ErrManagerClosed = errors.New("session: manager closed")
)

// =============================================================================
// SESSION MANAGER
// =============================================================================

// ManagerConfig holds what every channel shares.
type ManagerConfig struct {
	Client ollama.Backend

	// Options is the template for new controllers. Conversation is ignored.
	Options Options

	// Store, if set, restores channels that were saved before and backs
	// auto-save.
	Store    storage.Store
	AutoSave bool

	Logger *zap.Logger
}

// Manager keeps one Controller per channel. Channels are independent and
// may have requests in flight at the same time.
type Manager struct {
	mu sync.Mutex

	cfg      ManagerConfig
	channels map[string]*channel
	closed   bool
	logger   *zap.Logger
}

type channel struct {
	ctrl    *Controller
	saver   *AutoSaver
	created time.Time

	// removed is set by Remove and closed once the channel is gone.
	removed chan struct{}
}

// ChannelInfo summarises a channel for listings.
type ChannelInfo struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Messages  int       `json:"messages"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// NewManager creates a new session manager.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Options.Conversation = nil
	if cfg.Options.Logger == nil {
		cfg.Options.Logger = logger
	}
	return &Manager{
		cfg:      cfg,
		channels: make(map[string]*channel),
		logger:   logger,
	}
}

// Get returns the controller for id, creating it on first use. A channel
// saved in the store is restored with its transcript. The store is read
// without holding the manager lock.
func (m *Manager) Get(ctx context.Context, id string) (*Controller, error) {
	if !validChannelID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChannel, id)
	}

	for {
		ctrl, wait, err := m.lookupOpen(id)
		if ctrl != nil || err != nil {
			return ctrl, err
		}
		if wait != nil {
			// The channel is being removed; its last save lands first.
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		opts := m.template()
		opts.Logger = opts.Logger.With(zap.String("channel", id))
		if m.cfg.Store != nil {
			conv, err := m.cfg.Store.Load(ctx, id)
			switch {
			case err == nil:
				opts.Conversation = conv
				opts.Model = ""
			case errors.Is(err, storage.ErrConversationNotFound):
			default:
				return nil, fmt.Errorf("failed to restore channel %s: %w", id, err)
			}
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrManagerClosed
		}
		if _, ok := m.channels[id]; ok {
			// Opened or being removed while the store was read.
			m.mu.Unlock()
			continue
		}

		// Fresh channels take the channel ID so they can be restored later.
		opts.ID = id
		ctrl = New(m.cfg.Client, opts)
		ch := &channel{ctrl: ctrl, created: time.Now()}
		if m.cfg.AutoSave && m.cfg.Store != nil {
			ch.saver = NewAutoSaver(ctrl, m.cfg.Store, opts.Logger)
		}
		m.channels[id] = ch
		m.mu.Unlock()

		m.logger.Debug("channel opened", zap.String("channel", id), zap.String("model", ctrl.Model()))
		return ctrl, nil
	}
}

func (m *Manager) template() Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Options
}

// lookupOpen returns the open controller for id. When the channel is being
// removed it returns a channel that is closed once removal completes.
func (m *Manager) lookupOpen(id string) (*Controller, <-chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, nil, ErrManagerClosed
	}
	ch, ok := m.channels[id]
	if !ok {
		return nil, nil, nil
	}
	if ch.removed != nil {
		return nil, ch.removed, nil
	}
	return ch.ctrl, nil, nil
}

// Lookup returns the controller for an open channel without creating one.
func (m *Manager) Lookup(id string) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[id]
	if !ok || ch.removed != nil {
		return nil, false
	}
	return ch.ctrl, true
}

// List returns the open channels ordered by ID.
func (m *Manager) List() []ChannelInfo {
	m.mu.Lock()
	chans := make(map[string]*channel, len(m.channels))
	for id, ch := range m.channels {
		if ch.removed == nil {
			chans[id] = ch
		}
	}
	m.mu.Unlock()

	infos := make([]ChannelInfo, 0, len(chans))
	for id, ch := range chans {
		conv := ch.ctrl.Conversation()
		infos = append(infos, ChannelInfo{
			ID:        id,
			Model:     conv.Model,
			Messages:  conv.Len(),
			State:     ch.ctrl.State(),
			CreatedAt: ch.created,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Remove closes a channel, waiting for its in-flight request and pending
// saves. Stored history is kept.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	ch, ok := m.channels[id]
	if !ok || ch.removed != nil {
		m.mu.Unlock()
		return ErrChannelNotFound
	}
	ch.removed = make(chan struct{})
	m.mu.Unlock()

	err := ch.close()

	// The channel stays mapped until its saver is done so that a Get in
	// the meantime cannot restore an older snapshot.
	m.mu.Lock()
	if m.channels[id] == ch {
		delete(m.channels, id)
	}
	m.mu.Unlock()
	close(ch.removed)
	return err
}

// SetDefaultModel changes the model given to channels opened from now on.
func (m *Manager) SetDefaultModel(modelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Options.Model = modelID
}

// DefaultModel returns the model given to new channels.
func (m *Manager) DefaultModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Options.Model
}

// Close closes every channel concurrently.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	chans := m.channels
	m.channels = make(map[string]*channel)
	m.mu.Unlock()

	var g errgroup.Group
	for _, ch := range chans {
		if ch.removed != nil {
			// Remove is already closing it.
			continue
		}
		g.Go(ch.close)
	}
	return g.Wait()
}

func (ch *channel) close() error {
	err := ch.ctrl.Close()
	if ch.saver != nil {
		ch.saver.Wait()
	}
	return err
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func validChannelID(id string) bool {
	if id == "" || len(id) > maxChannelIDLen || id == "." || id == ".." {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}
