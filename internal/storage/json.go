// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/enablerdao/ChirAI/internal/model"
	"github.com/enablerdao/ChirAI/internal/util"
)

const preferencesFile = "preferences.json"

// =============================================================================
// JSON STORE
// =============================================================================

// JSONStore keeps one JSON document per conversation in BaseDir.
type JSONStore struct {
	// BaseDir is the directory for storing conversations
	// Default: ~/.chirai/conversations/
	BaseDir string

	// MaxConversations limits stored conversations (0 = unlimited)
	MaxConversations int

	mu sync.Mutex
}

var _ Store = (*JSONStore)(nil)

// NewJSONStore creates a store rooted at baseDir, creating it if needed.
func NewJSONStore(baseDir string) (*JSONStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &JSONStore{
		BaseDir:          baseDir,
		MaxConversations: DefaultMaxConversations,
	}, nil
}

// =============================================================================
// SAVE OPERATIONS
// =============================================================================

// Save persists conv, replacing any previous version with the same ID.
func (s *JSONStore) Save(_ context.Context, conv *model.Conversation) error {
	if conv.ID == "" {
		conv.ID = model.NewID()
	}
	if !validID(conv.ID) {
		return ErrInvalidID
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = time.Now()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = conv.UpdatedAt
	}

	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", conv.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.filePath(conv.ID)
	_, statErr := os.Stat(path)
	isNew := errors.Is(statErr, os.ErrNotExist)

	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write conversation %s: %w", conv.ID, err)
	}
	// The file's mod-time mirrors UpdatedAt so the limit can rank files
	// without reading them.
	_ = os.Chtimes(path, conv.UpdatedAt, conv.UpdatedAt)

	// Only a new file can push the store over the limit.
	if isNew && s.MaxConversations > 0 {
		s.enforceLimit(conv.ID)
	}
	return nil
}

// enforceLimit removes the least recently written conversation files
// beyond MaxConversations, never keep. Files are ranked by modification
// time so nothing is decoded. Caller holds s.mu.
func (s *JSONStore) enforceLimit(keep string) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		return
	}

	type stored struct {
		id      string
		modTime time.Time
	}
	files := make([]stored, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || name == preferencesFile {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, stored{id: strings.TrimSuffix(name, ".json"), modTime: info.ModTime()})
	}
	if len(files) <= s.MaxConversations {
		return
	}

	sort.SliceStable(files, func(i, j int) bool {
		switch {
		case files[i].id == keep:
			return files[j].id != keep
		case files[j].id == keep:
			return false
		}
		return files[i].modTime.After(files[j].modTime)
	})
	for _, f := range files[s.MaxConversations:] {
		os.Remove(s.filePath(f.id))
	}
}

// =============================================================================
// LOAD OPERATIONS
// =============================================================================

// Load retrieves a conversation by ID.
func (s *JSONStore) Load(_ context.Context, id string) (*model.Conversation, error) {
	if !validID(id) {
		return nil, ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(id)
}

func (s *JSONStore) load(id string) (*model.Conversation, error) {
	data, err := os.ReadFile(s.filePath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	var conv model.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	if conv.Messages == nil {
		conv.Messages = []model.Message{}
	}
	return &conv, nil
}

// =============================================================================
// LIST OPERATIONS
// =============================================================================

// List returns all saved conversations, most recently updated first.
func (s *JSONStore) List(_ context.Context) ([]ConversationMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list()
}

func (s *JSONStore) list() ([]ConversationMeta, error) {
	convs, err := s.loadAll()
	if err != nil {
		return nil, err
	}
	metas := make([]ConversationMeta, 0, len(convs))
	for _, conv := range convs {
		metas = append(metas, metaOf(conv))
	}
	return metas, nil
}

// loadAll reads every conversation, newest first. Corrupted files are
// skipped.
func (s *JSONStore) loadAll() ([]*model.Conversation, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var convs []*model.Conversation
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || name == preferencesFile {
			continue
		}
		conv, err := s.load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		convs = append(convs, conv)
	}

	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs, nil
}

// Search returns conversations with a message containing query, ignoring
// case, most recently updated first.
func (s *JSONStore) Search(_ context.Context, query string) ([]ConversationMeta, error) {
	needle := foldQuery(query)
	if needle == "" {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	convs, err := s.loadAll()
	if err != nil {
		return nil, err
	}
	var results []ConversationMeta
	for _, conv := range convs {
		if matchesQuery(conv, needle) {
			results = append(results, metaOf(conv))
		}
	}
	return results, nil
}

// =============================================================================
// DELETE OPERATIONS
// =============================================================================

// Delete removes a conversation by ID.
func (s *JSONStore) Delete(_ context.Context, id string) error {
	if !validID(id) {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.filePath(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrConversationNotFound
		}
		return err
	}
	return nil
}

// PruneOlderThan deletes conversations not updated within days. days <= 0
// keeps everything.
func (s *JSONStore) PruneOlderThan(_ context.Context, days int) (int, error) {
	if days <= 0 {
		return 0, nil
	}
	cutoff := pruneCutoff(days)

	s.mu.Lock()
	defer s.mu.Unlock()

	metas, err := s.list()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, meta := range metas {
		if meta.UpdatedAt.Before(cutoff) {
			if err := os.Remove(s.filePath(meta.ID)); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// =============================================================================
// PREFERENCES
// =============================================================================

// LoadPreferences returns saved preferences, or defaults if none exist.
func (s *JSONStore) LoadPreferences(_ context.Context) (Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.BaseDir, preferencesFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultPreferences(), nil
		}
		return DefaultPreferences(), err
	}

	prefs := DefaultPreferences()
	if err := json.Unmarshal(data, &prefs); err != nil {
		return DefaultPreferences(), fmt.Errorf("decode preferences: %w", err)
	}
	return prefs.Normalize(), nil
}

// SavePreferences persists prefs.
func (s *JSONStore) SavePreferences(_ context.Context, prefs Preferences) error {
	data, err := json.MarshalIndent(prefs.Normalize(), "", "  ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return util.AtomicWriteFile(filepath.Join(s.BaseDir, preferencesFile), data, 0600)
}

// Close is a no-op; every write is already durable.
func (s *JSONStore) Close() error {
	return nil
}

// filePath returns the file path for a conversation ID.
func (s *JSONStore) filePath(id string) string {
	return filepath.Join(s.BaseDir, id+".json")
}
