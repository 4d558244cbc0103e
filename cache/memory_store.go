package cache

import (
	"context"
	"sync"
	"time"
)

// storedValue MemoryStore 中的条目
type storedValue struct {
	data []byte
	tags []string
}

// MemoryStore 进程内缓存后端：容量受限的 LRU 加标签索引
type MemoryStore struct {
	mu    sync.Mutex
	lru   *Cache[string, storedValue]
	byTag map[string]map[string]struct{}
}

// NewMemoryStore 创建进程内后端，capacity 为 0 表示不限制
func NewMemoryStore(capacity int) *MemoryStore {
	return newMemoryStore(capacity, nil)
}

func newMemoryStore(capacity int, now func() time.Time) *MemoryStore {
	s := &MemoryStore{byTag: make(map[string]map[string]struct{})}
	s.lru = New(Config[string, storedValue]{
		Name:     "query",
		Capacity: capacity,
		OnEvict:  s.unindex,
		Now:      now,
	})
	return s
}

// unindex 从标签索引中移除键（由 LRU 在持有 s.mu 时回调）
func (s *MemoryStore) unindex(key string, v storedValue) {
	for _, tag := range v.tags {
		keys := s.byTag[tag]
		delete(keys, key)
		if len(keys) == 0 {
			delete(s.byTag, tag)
		}
	}
}

// Get 实现 IStore
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v.data, true, nil
}

// Set 实现 IStore
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tags = append([]string(nil), tags...)
	s.lru.Set(key, storedValue{data: value, tags: tags}, ttl)
	for _, tag := range tags {
		keys, ok := s.byTag[tag]
		if !ok {
			keys = make(map[string]struct{})
			s.byTag[tag] = keys
		}
		keys[key] = struct{}{}
	}
	return nil
}

// Delete 实现 IStore
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Delete(key)
	return nil
}

// InvalidateTags 实现 IStore
func (s *MemoryStore) InvalidateTags(ctx context.Context, tags ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for _, tag := range tags {
		for key := range s.byTag[tag] {
			keys = append(keys, key)
		}
	}
	removed := 0
	for _, key := range keys {
		if s.lru.Delete(key) {
			removed++
		}
	}
	return removed, nil
}

// Clear 实现 IStore
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Purge()
	return nil
}

// Len 当前条目数
func (s *MemoryStore) Len() int {
	return s.lru.Len()
}

// Stats LRU 统计
func (s *MemoryStore) Stats() Stats {
	return s.lru.Stats()
}
