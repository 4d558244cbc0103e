package transaction

import (
	"context"
	"sort"
	"sync"

	"zenoo/errors"
)

// MemoryJournal 内存事务日志，进程退出即丢失
type MemoryJournal struct {
	mu     sync.RWMutex
	states map[string]*State
}

// NewMemoryJournal 创建内存事务日志
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{states: make(map[string]*State)}
}

// Load 加载快照
func (j *MemoryJournal) Load(ctx context.Context, scopeID string) (*State, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	st, ok := j.states[scopeID]
	if !ok {
		return nil, ErrScopeNotFound
	}
	return st.Clone(), nil
}

// Save 保存快照
func (j *MemoryJournal) Save(ctx context.Context, state *State) error {
	if state == nil || state.ScopeID == "" {
		return errors.NewValidationError("事务快照缺少 scope_id")
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.states[state.ScopeID] = state.Clone()
	return nil
}

// Delete 删除快照
func (j *MemoryJournal) Delete(ctx context.Context, scopeID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.states, scopeID)
	return nil
}

// List 按开始时间列出快照
func (j *MemoryJournal) List(ctx context.Context, status Status) ([]*State, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []*State
	for _, st := range j.states {
		if status == "" || st.Status == status {
			out = append(out, st.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].StartedAt.Before(out[b].StartedAt) })
	return out, nil
}

// Count 快照数量
func (j *MemoryJournal) Count() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.states)
}

var _ IJournal = (*MemoryJournal)(nil)
