package transaction

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Scope 一个事务作用域
//
// 按执行顺序保存修改日志；每条日志的逆操作在修改执行前就已计算好。
type Scope struct {
	id        string
	startedAt time.Time

	mu     sync.Mutex
	status Status
	ops    []Operation
	seq    int
	err    string
	now    func() time.Time
}

func newScope(now func() time.Time) *Scope {
	return &Scope{
		id:        uuid.NewString(),
		startedAt: now(),
		status:    StatusActive,
		now:       now,
	}
}

// ID 事务 id
func (s *Scope) ID() string {
	return s.id
}

// Status 当前状态
func (s *Scope) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Active 是否仍可记录修改
func (s *Scope) Active() bool {
	return s.Status() == StatusActive
}

// Operations 返回修改日志的副本
func (s *Scope) Operations() []Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Operation, len(s.ops))
	for i, op := range s.ops {
		out[i] = op.clone()
	}
	return out
}

// State 当前快照
func (s *Scope) State() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &State{
		ScopeID:    s.id,
		Status:     s.status,
		Operations: s.ops,
		Error:      s.err,
		StartedAt:  s.startedAt,
		UpdatedAt:  s.now(),
	}
	return st.Clone()
}

func (s *Scope) append(op Operation) (Operation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusActive {
		return op, false
	}
	s.seq++
	op.Seq = s.seq
	if op.At.IsZero() {
		op.At = s.now()
	}
	s.ops = append(s.ops, op.clone())
	return op, true
}

// transition 仅当当前状态为 from 时切换
func (s *Scope) transition(from, to Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != from {
		return false
	}
	s.status = to
	return true
}

// setRemaining 回滚过程中用尚未执行的逆操作替换日志
func (s *Scope) setRemaining(ops []Operation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = ops
}

func (s *Scope) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusFailed
	if err != nil {
		s.err = err.Error()
	}
}
