// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"container/list"
	"sync"
	"time"
)

// DefaultMemoryStoreSize is the entry cap for the in-memory store.
const DefaultMemoryStoreSize = 4096

// Compile-time interface compliance.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is a thread-safe LRU store with per-entry TTL. Expired
// entries are removed lazily on read and evicted by LRU at capacity.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	maxSize int

	// now is injectable for deterministic tests.
	now func() time.Time
}

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory store holding at most maxSize
// entries.
func NewMemoryStore(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = DefaultMemoryStoreSize
	}
	return &MemoryStore{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get implements Store.
func (s *MemoryStore) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*memoryEntry)
	if s.now().After(entry.expiresAt) {
		s.removeLocked(elem)
		return nil, false
	}
	s.lru.MoveToFront(elem)
	return entry.value, true
}

// Set implements Store.
func (s *MemoryStore) Set(key string, value []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.value = value
		entry.expiresAt = s.now().Add(ttl)
		s.lru.MoveToFront(elem)
		return
	}

	elem := s.lru.PushFront(&memoryEntry{
		key:       key,
		value:     value,
		expiresAt: s.now().Add(ttl),
	})
	s.entries[key] = elem

	for s.lru.Len() > s.maxSize {
		s.removeLocked(s.lru.Back())
	}
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*list.Element)
	s.lru.Init()
	return nil
}

func (s *MemoryStore) removeLocked(elem *list.Element) {
	if elem == nil {
		return
	}
	entry := elem.Value.(*memoryEntry)
	delete(s.entries, entry.key)
	s.lru.Remove(elem)
}
