package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"zenoo/logging"
)

// Options 单次 get-or-compute 的参数
type Options struct {
	// TTL 0 表示使用 Manager 的默认值；默认值也为 0 时仅靠 LRU 与写失效
	TTL time.Duration

	// Tags 结果依赖的模型
	Tags []string

	// Bypass 直接计算，不读也不写缓存（事务进行中）
	Bypass bool
}

// ComputeFunc 缓存未命中时的计算
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Publisher 把本进程的失效广播给其他进程
type Publisher interface {
	PublishInvalidation(ctx context.Context, tags []string) error
}

// ManagerStats 统计
type ManagerStats struct {
	Hits     int64
	Misses   int64
	Shared   int64 // 复用在途计算结果的次数
	Bypassed int64
	Dropped  int64 // 计算期间标签失效、结果未写入的次数
}

// Manager 缓存管理器
//
// 同一进程内同一个键最多一个计算在途，后来者等待并共享先到者的结果。
// 每个标签维护一个代数：计算开始后若有标签被失效，结果照常返回但不写入存储。
type Manager struct {
	store      IStore
	defaultTTL time.Duration
	logger     logging.Logger

	flights singleflight.Group

	mu          sync.Mutex
	epoch       uint64 // Clear 时前进
	generations map[string]uint64
	publisher   Publisher

	hits, misses, shared, bypassed, dropped atomic.Int64
}

// ManagerOption 可选配置
type ManagerOption func(*Manager)

// WithDefaultTTL 设置默认有效期
func WithDefaultTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		m.defaultTTL = ttl
	}
}

// WithLogger 设置日志
func WithLogger(logger logging.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager 创建缓存管理器
func NewManager(store IStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:       store,
		generations: make(map[string]uint64),
		logger:      logging.GetLogger().WithFields(logging.String("component", "cache")),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store == nil {
		m.store = NewMemoryStore(0)
	}
	return m
}

// SetPublisher 设置跨进程失效广播
func (m *Manager) SetPublisher(p Publisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publisher = p
}

// Store 返回底层存储
func (m *Manager) Store() IStore {
	return m.store
}

type flightResult struct {
	data   []byte
	cached bool
}

// GetOrCompute 命中直接返回，否则计算并按标签写入
//
// 计算使用发起者的 ctx。发起者取消时，自身 ctx 仍有效的等待方重新发起计算；
// 等待方也可以因自身 ctx 取消而提前放弃等待。
// 存储读写失败只记录日志，不影响返回结果。
func (m *Manager) GetOrCompute(ctx context.Context, key string, opts Options, compute ComputeFunc) ([]byte, error) {
	if opts.Bypass {
		m.bypassed.Add(1)
		return compute(ctx)
	}

	for {
		if data, ok := m.lookup(ctx, key); ok {
			m.hits.Add(1)
			return data, nil
		}

		data, led, err := m.join(ctx, key, opts, compute)
		if err != nil && !led && ctx.Err() == nil && isCanceled(err) {
			m.logger.Debug(ctx, "共享计算被发起者取消，重新计算", logging.String("key", key))
			continue
		}
		return data, err
	}
}

// join 发起或加入 key 的计算；led 表示本次调用是否为发起者
func (m *Manager) join(ctx context.Context, key string, opts Options, compute ComputeFunc) ([]byte, bool, error) {
	var led atomic.Bool
	ch := m.flights.DoChan(key, func() (any, error) {
		led.Store(true)
		// 等待期间可能已有其他 flight 写入
		if data, ok := m.lookup(ctx, key); ok {
			return flightResult{data: data, cached: true}, nil
		}
		m.misses.Add(1)

		snap := m.snapshot(opts.Tags)
		data, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		m.save(ctx, key, data, opts, snap)
		return flightResult{data: data}, nil
	})

	select {
	case <-ctx.Done():
		return nil, led.Load(), ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, led.Load(), res.Err
		}
		if res.Shared {
			m.shared.Add(1)
		}
		r := res.Val.(flightResult)
		if r.cached {
			m.hits.Add(1)
		}
		return r.data, led.Load(), nil
	}
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (m *Manager) lookup(ctx context.Context, key string) ([]byte, bool) {
	data, ok, err := m.store.Get(ctx, key)
	if err != nil {
		m.logger.Warn(ctx, "读取缓存失败", logging.String("key", key), logging.Error(err))
		return nil, false
	}
	return data, ok
}

type generationSnapshot struct {
	epoch uint64
	tags  map[string]uint64
}

func (m *Manager) snapshot(tags []string) generationSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := generationSnapshot{epoch: m.epoch, tags: make(map[string]uint64, len(tags))}
	for _, tag := range tags {
		snap.tags[tag] = m.generations[tag]
	}
	return snap
}

// save 标签代数未变化时写入；检查与写入在同一把锁下完成
func (m *Manager) save(ctx context.Context, key string, data []byte, opts Options, snap generationSnapshot) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != snap.epoch {
		m.dropped.Add(1)
		return
	}
	for tag, gen := range snap.tags {
		if m.generations[tag] != gen {
			m.dropped.Add(1)
			m.logger.Debug(ctx, "计算期间标签已失效，结果不写入缓存",
				logging.String("key", key), logging.String("tag", tag))
			return
		}
	}
	if err := m.store.Set(ctx, key, data, ttl, opts.Tags); err != nil {
		m.logger.Warn(ctx, "写入缓存失败", logging.String("key", key), logging.Error(err))
	}
}

// Invalidate 失效带任一标签的条目，并广播给其他进程
func (m *Manager) Invalidate(ctx context.Context, tags ...string) error {
	if err := m.invalidateLocal(ctx, tags); err != nil {
		return err
	}

	m.mu.Lock()
	p := m.publisher
	m.mu.Unlock()
	if p != nil && len(tags) > 0 {
		if err := p.PublishInvalidation(ctx, tags); err != nil {
			m.logger.Warn(ctx, "广播缓存失效失败", logging.Any("tags", tags), logging.Error(err))
		}
	}
	return nil
}

// ApplyRemoteInvalidation 应用其他进程广播的失效，不再转发
func (m *Manager) ApplyRemoteInvalidation(ctx context.Context, tags ...string) error {
	return m.invalidateLocal(ctx, tags)
}

func (m *Manager) invalidateLocal(ctx context.Context, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	m.mu.Lock()
	for _, tag := range tags {
		m.generations[tag]++
	}
	m.mu.Unlock()

	n, err := m.store.InvalidateTags(ctx, tags...)
	if err != nil {
		return err
	}
	m.logger.Debug(ctx, "缓存失效", logging.Any("tags", tags), logging.Int("removed", n))
	return nil
}

// Clear 清空缓存，在途计算的结果不再写入
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.epoch++
	m.mu.Unlock()
	return m.store.Clear(ctx)
}

// Stats 统计信息
func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		Hits:     m.hits.Load(),
		Misses:   m.misses.Load(),
		Shared:   m.shared.Load(),
		Bypassed: m.bypassed.Load(),
		Dropped:  m.dropped.Load(),
	}
}
