package batch

import (
	"context"
	stdErrors "errors"
	"sync"

	"zenoo/errors"
)

// Pending 排队中的一次修改，Flush 后得到结果
type Pending struct {
	mu       sync.Mutex
	resolved bool
	ids      []int64
	err      error
}

// Resolved 是否已经有结果
func (p *Pending) Resolved() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resolved
}

// ID create 的新记录 id，未完成或失败时为 0
func (p *Pending) ID() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ids) == 0 {
		return 0
	}
	return p.ids[0]
}

// IDs 涉及的记录 id
func (p *Pending) IDs() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int64(nil), p.ids...)
}

// Err 失败原因；一次调用拆成多个负载时返回第一个失败
func (p *Pending) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.resolved {
		return errNotFlushed
	}
	return p.err
}

func (p *Pending) resolve(ids []int64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolved = true
	p.ids = ids
	p.err = err
}

var errNotFlushed = errors.NewError(errors.ErrCodeValidation, "批量操作尚未提交")

type groupKey struct {
	model string
	kind  Kind
}

type entry struct {
	handle *Pending
	first  int // 在分组负载中的起始下标
	count  int
	ids    []int64 // write/unlink 的目标 id
}

type group struct {
	key      groupKey
	payloads []any
	entries  []entry
}

// Batch 收集修改，Flush 时按 (模型, 类型) 分组交给协调器
//
// 分组按首次出现的顺序提交。
type Batch struct {
	coord *Coordinator

	mu     sync.Mutex
	groups []*group
	index  map[groupKey]*group
}

// New 创建收集器
func New(coord *Coordinator) *Batch {
	return &Batch{coord: coord, index: make(map[groupKey]*group)}
}

func (b *Batch) add(model string, kind Kind, payloads []any, ids []int64) *Pending {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := groupKey{model: model, kind: kind}
	g, ok := b.index[key]
	if !ok {
		g = &group{key: key}
		b.index[key] = g
		b.groups = append(b.groups, g)
	}
	p := &Pending{}
	g.entries = append(g.entries, entry{handle: p, first: len(g.payloads), count: len(payloads), ids: ids})
	g.payloads = append(g.payloads, payloads...)
	return p
}

// Create 排队创建一条记录
func (b *Batch) Create(model string, vals map[string]any) *Pending {
	return b.add(model, KindCreate, []any{vals}, nil)
}

// Update 排队把 vals 写入 ids
func (b *Batch) Update(model string, ids []int64, vals map[string]any) *Pending {
	ids = append([]int64(nil), ids...)
	return b.add(model, KindWrite, []any{WriteItem{IDs: ids, Vals: vals}}, ids)
}

// Delete 排队删除记录
func (b *Batch) Delete(model string, ids ...int64) *Pending {
	payloads := make([]any, len(ids))
	for i, id := range ids {
		payloads[i] = id
	}
	return b.add(model, KindUnlink, payloads, append([]int64(nil), ids...))
}

// Len 排队中的负载数
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, g := range b.groups {
		n += len(g.payloads)
	}
	return n
}

// Flush 提交所有排队的修改并填充 Pending
//
// 返回所有失败分块错误的合并；单个 Pending 的结果互不影响。
func (b *Batch) Flush(ctx context.Context) error {
	b.mu.Lock()
	groups := b.groups
	b.groups = nil
	b.index = make(map[groupKey]*group)
	b.mu.Unlock()

	var errs []error
	seen := make(map[string]bool)
	for _, g := range groups {
		results, err := b.coord.Submit(ctx, g.key.model, g.key.kind, g.payloads)
		if err != nil {
			for _, e := range g.entries {
				e.handle.resolve(nil, err)
			}
			errs = append(errs, err)
			continue
		}
		for _, e := range g.entries {
			ids, perr := collect(g.key.kind, results[e.first:e.first+e.count], e.ids)
			e.handle.resolve(ids, perr)
			if perr != nil && !seen[perr.Error()] {
				seen[perr.Error()] = true
				errs = append(errs, perr)
			}
		}
	}
	return stdErrors.Join(errs...)
}

func collect(kind Kind, results []Result, targets []int64) ([]int64, error) {
	var firstErr error
	for _, r := range results {
		if r.Err != nil && firstErr == nil {
			firstErr = r.Err
		}
	}
	if kind != KindCreate {
		return targets, firstErr
	}
	ids := make([]int64, 0, len(results))
	for _, r := range results {
		if r.OK() {
			ids = append(ids, r.ID)
		}
	}
	return ids, firstErr
}

// Run 创建收集器，执行 fn，随后提交
//
// fn 返回错误时排队的修改不会提交。
func Run(ctx context.Context, coord *Coordinator, fn func(b *Batch) error) error {
	b := New(coord)
	if err := fn(b); err != nil {
		return err
	}
	return b.Flush(ctx)
}
