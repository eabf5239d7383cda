// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"container/list"
	"context"
	"sync"
)

// Memory is an LRU cache whose capacity is measured in bytes of key plus
// value.
type Memory struct {
	mu       sync.Mutex
	maxBytes int64
	bytes    int64
	ll       *list.List // front is most recently used
	items    map[string]*list.Element
	hits     int64
	misses   int64
}

type entry struct {
	key   string
	value string
}

func (e *entry) cost() int64 {
	return int64(len(e.key) + len(e.value))
}

var _ Cache = (*Memory)(nil)

// NewMemory creates a memory cache holding at most maxBytes.
// maxBytes <= 0 selects DefaultMaxBytes.
func NewMemory(maxBytes int64) *Memory {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Memory{
		maxBytes: maxBytes,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get returns the cached value and marks it recently used.
func (m *Memory) Get(_ context.Context, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key]
	if !ok {
		m.misses++
		return "", false
	}
	m.ll.MoveToFront(el)
	m.hits++
	return el.Value.(*entry).value, true
}

// Set stores value under key, evicting least recently used entries until
// the cache fits. A single value larger than the cap is not stored.
func (m *Memory) Set(_ context.Context, key, value string) {
	e := &entry{key: key, value: value}
	if e.cost() > m.maxBytes {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[key]; ok {
		old := el.Value.(*entry)
		m.bytes += e.cost() - old.cost()
		el.Value = e
		m.ll.MoveToFront(el)
	} else {
		m.items[key] = m.ll.PushFront(e)
		m.bytes += e.cost()
	}

	for m.bytes > m.maxBytes {
		m.removeOldest()
	}
}

func (m *Memory) removeOldest() {
	el := m.ll.Back()
	if el == nil {
		return
	}
	e := m.ll.Remove(el).(*entry)
	delete(m.items, e.key)
	m.bytes -= e.cost()
}

// Clear drops every entry. Hit and miss counters are kept.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ll.Init()
	m.items = make(map[string]*list.Element)
	m.bytes = 0
	return nil
}

// Stats returns a snapshot of the counters.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Hits:    m.hits,
		Misses:  m.misses,
		Entries: len(m.items),
		Bytes:   m.bytes,
	}
}
