// Package cache 提供查询结果缓存
//
// 分为三层：
//   - Cache[K, V]：进程内 LRU，条目可单独设置过期时间；
//   - IStore：可插拔的字节存储（MemoryStore / redisstore.Store），带模型标签索引；
//   - Manager：get-or-compute，同一进程内同一个键最多一个计算在途。
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// Cache 泛型 LRU 缓存，并发安全
//
// 超出容量时驱逐最久未使用的条目；过期条目在访问时惰性删除。
type Cache[K comparable, V any] struct {
	name     string
	capacity int
	onEvict  func(key K, value V)
	now      func() time.Time

	mu    sync.Mutex
	items map[K]*list.Element
	order *list.List // 最近使用的在前
	stats Stats
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time // 零值表示不过期
}

// Config 缓存配置
type Config[K comparable, V any] struct {
	// Name 用于日志和统计
	Name string

	// Capacity 最大条目数，0 表示不限制
	Capacity int

	// OnEvict 条目因容量、过期或删除被移除时回调（持锁调用，不能回调缓存自身）
	OnEvict func(key K, value V)

	// Now 时钟，测试注入
	Now func() time.Time
}

// Stats 统计信息
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Expires   int64
	Size      int
}

// New 创建缓存
func New[K comparable, V any](cfg Config[K, V]) *Cache[K, V] {
	if cfg.Name == "" {
		cfg.Name = "unnamed"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache[K, V]{
		name:     cfg.Name,
		capacity: cfg.Capacity,
		onEvict:  cfg.OnEvict,
		now:      cfg.Now,
		items:    make(map[K]*list.Element),
		order:    list.New(),
	}
}

// Get 获取未过期的值，命中时提升为最近使用
func (c *Cache[K, V]) Get(key K) (value V, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return value, false
	}
	e := el.Value.(*entry[K, V])
	if c.expired(e) {
		c.removeLocked(el)
		c.stats.Misses++
		c.stats.Expires++
		return value, false
	}
	c.order.MoveToFront(el)
	c.stats.Hits++
	return e.value, true
}

// Set 写入值，ttl <= 0 表示不过期
func (c *Cache[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[K, V])
		if c.onEvict != nil {
			c.onEvict(e.key, e.value)
		}
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return
	}

	if c.capacity > 0 && len(c.items) >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.removeLocked(oldest)
			c.stats.Evictions++
		}
	}
	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value, expiresAt: expiresAt})
}

// Delete 删除条目，返回是否存在
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeLocked(el)
	return true
}

// Purge 清空全部条目
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.order.Front(); el != nil; {
		next := el.Next()
		c.removeLocked(el)
		el = next
	}
}

// Len 当前条目数（含尚未惰性删除的过期条目）
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats 统计信息副本
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.items)
	return s
}

func (c *Cache[K, V]) String() string {
	s := c.Stats()
	return fmt.Sprintf("Cache[%s]: size=%d/%d, hits=%d, misses=%d, evictions=%d, expires=%d",
		c.name, s.Size, c.capacity, s.Hits, s.Misses, s.Evictions, s.Expires)
}

func (c *Cache[K, V]) expired(e *entry[K, V]) bool {
	return !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt)
}

func (c *Cache[K, V]) removeLocked(el *list.Element) {
	e := el.Value.(*entry[K, V])
	c.order.Remove(el)
	delete(c.items, e.key)
	if c.onEvict != nil {
		c.onEvict(e.key, e.value)
	}
}
