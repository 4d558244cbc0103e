package transaction

import (
	"time"

	"zenoo/transport"
)

// Status 事务状态
type Status string

const (
	// StatusActive 进行中，可以记录修改
	StatusActive Status = "active"

	// StatusCommitting 提交中
	StatusCommitting Status = "committing"

	// StatusCommitted 已提交，逆操作日志已丢弃
	StatusCommitted Status = "committed"

	// StatusRollingBack 回滚中
	StatusRollingBack Status = "rolling_back"

	// StatusRolledBack 已回滚，远端状态已恢复
	StatusRolledBack Status = "rolled_back"

	// StatusFailed 回滚失败，剩余逆操作保留在日志中等待人工处理
	StatusFailed Status = "failed"
)

// Terminal 是否为终态
func (s Status) Terminal() bool {
	switch s {
	case StatusCommitted, StatusRolledBack, StatusFailed:
		return true
	}
	return false
}

// Kind 修改类型
type Kind string

const (
	KindCreate Kind = "create"
	KindWrite  Kind = "write"
	KindUnlink Kind = "unlink"
)

// Inverse 一个逆操作调用
type Inverse struct {
	Request transport.Request `json:"request"`

	// Restores 该调用重建的原记录 id（仅 unlink 的逆操作）。
	// 回滚时新记录 id 会替换后续逆操作中引用的旧 id。
	Restores int64 `json:"restores,omitempty"`
}

// Operation 事务内一次已执行的修改及其逆操作
type Operation struct {
	Seq     int       `json:"seq"`
	Kind    Kind      `json:"kind"`
	Model   string    `json:"model"`
	IDs     []int64   `json:"ids"`
	Payload any       `json:"payload,omitempty"`
	Inverse []Inverse `json:"inverse"`
	At      time.Time `json:"at"`
}

func (op Operation) clone() Operation {
	c := op
	c.IDs = append([]int64(nil), op.IDs...)
	c.Inverse = append([]Inverse(nil), op.Inverse...)
	return c
}

// State 事务快照，写入日志
type State struct {
	ScopeID    string      `json:"scope_id"`
	Status     Status      `json:"status"`
	Operations []Operation `json:"operations"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Clone 深拷贝操作列表
func (s *State) Clone() *State {
	c := *s
	c.Operations = make([]Operation, len(s.Operations))
	for i, op := range s.Operations {
		c.Operations[i] = op.clone()
	}
	return &c
}
