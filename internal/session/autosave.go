// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/enablerdao/ChirAI/internal/model"
	"github.com/enablerdao/ChirAI/internal/storage"
)

// saveTimeout bounds a single store write.
const saveTimeout = 10 * time.Second

// =============================================================================
// AUTO-SAVER
// =============================================================================

// AutoSaver writes the snapshots a controller publishes to a store. While
// a write is in progress newer snapshots replace each other, so only the
// latest one is written next. Failed writes are logged and leave the saver
// dirty; they never affect the conversation.
type AutoSaver struct {
	mu sync.Mutex

	store  storage.Store
	logger *zap.Logger

	latest   *model.Conversation
	stopped  bool
	isDirty  bool
	lastSave time.Time
	saves    int
	failures int
	lastErr  error

	stop func()
	done chan struct{}
}

// AutoSaveStatus reports the state of an AutoSaver.
type AutoSaveStatus struct {
	Dirty     bool      `json:"dirty"`
	LastSave  time.Time `json:"last_save"`
	Saves     int       `json:"saves"`
	Failures  int       `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
}

// NewAutoSaver subscribes to ctrl and starts saving. It stops on its own
// after ctrl is closed and the remaining snapshots are written.
func NewAutoSaver(ctrl *Controller, store storage.Store, logger *zap.Logger) *AutoSaver {
	if logger == nil {
		logger = zap.NewNop()
	}
	events, stop := ctrl.Subscribe()
	a := &AutoSaver{
		store:  store,
		logger: logger.With(zap.String("conversation", ctrl.ID())),
		stop:   stop,
		done:   make(chan struct{}),
	}
	go a.run(events)
	return a
}

func (a *AutoSaver) run(events <-chan Event) {
	defer close(a.done)

	pending := make(chan struct{}, 1)
	written := make(chan struct{})
	go func() {
		defer close(written)
		for range pending {
			a.save(a.take())
		}
	}()

	for ev := range events {
		a.mu.Lock()
		a.latest = ev.Conversation
		a.isDirty = true
		a.mu.Unlock()
		select {
		case pending <- struct{}{}:
		default:
		}
	}
	close(pending)
	<-written
}

// take returns the newest unwritten snapshot, or nil after Stop.
func (a *AutoSaver) take() *model.Conversation {
	a.mu.Lock()
	defer a.mu.Unlock()
	conv := a.latest
	a.latest = nil
	if a.stopped {
		return nil
	}
	return conv
}

func (a *AutoSaver) save(conv *model.Conversation) {
	if conv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := a.store.Save(ctx, conv); err != nil {
		a.mu.Lock()
		a.failures++
		a.lastErr = err
		a.mu.Unlock()
		a.logger.Warn("auto-save failed", zap.Error(err))
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastSave = time.Now()
	a.saves++
	a.lastErr = nil
	a.isDirty = a.latest != nil
}

// IsDirty returns whether the latest snapshot is unsaved.
func (a *AutoSaver) IsDirty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isDirty
}

// Status returns the current saver status.
func (a *AutoSaver) Status() AutoSaveStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := AutoSaveStatus{
		Dirty:    a.isDirty,
		LastSave: a.lastSave,
		Saves:    a.saves,
		Failures: a.failures,
	}
	if a.lastErr != nil {
		st.LastError = a.lastErr.Error()
	}
	return st
}

// Wait blocks until the saver has written everything its controller
// published before closing.
func (a *AutoSaver) Wait() {
	<-a.done
}

// Stop unsubscribes immediately, dropping snapshots not yet written.
func (a *AutoSaver) Stop() {
	a.mu.Lock()
	a.stopped = true
	a.mu.Unlock()
	a.stop()
	<-a.done
}
