// Package transaction 在无事务的远端之上提供补偿式事务
//
// 修改立即在远端执行并提交；Manager 记录每次修改的逆操作，
// 回滚时倒序重放逆操作。回滚完成后远端状态与事务开始前一致（仅限客户端可观察的范围）。
package transaction

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"sync"
	"time"

	"zenoo/errors"
	"zenoo/logging"
	"zenoo/query"
	"zenoo/transport"
)

func txLogger() logging.Logger {
	return logging.GetLogger().WithFields(
		logging.String("component", "transaction"),
	)
}

// Invoker 执行一次远端调用，通常经过重试控制器
type Invoker interface {
	Invoke(ctx context.Context, req transport.Request) (json.RawMessage, error)
}

// InvokerFunc 函数适配器
type InvokerFunc func(ctx context.Context, req transport.Request) (json.RawMessage, error)

// Invoke 实现 Invoker
func (f InvokerFunc) Invoke(ctx context.Context, req transport.Request) (json.RawMessage, error) {
	return f(ctx, req)
}

// Invalidator 缓存失效
type Invalidator interface {
	Invalidate(ctx context.Context, tags ...string) error
}

// Manager 事务管理器，每个会话一个
//
// 同一时刻最多一个活动事务。
type Manager struct {
	invoker     Invoker
	invalidator Invalidator
	journal     IJournal
	logger      logging.Logger
	now         func() time.Time

	mu     sync.Mutex
	active *Scope
}

// Option 可选配置
type Option func(*Manager)

// WithInvalidator 逆操作执行后失效对应模型的缓存
func WithInvalidator(inv Invalidator) Option {
	return func(m *Manager) {
		m.invalidator = inv
	}
}

// WithJournal 持久化事务快照
func WithJournal(j IJournal) Option {
	return func(m *Manager) {
		m.journal = j
	}
}

// WithLogger 设置日志
func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager 创建事务管理器
func NewManager(invoker Invoker, opts ...Option) *Manager {
	m := &Manager{
		invoker: invoker,
		logger:  txLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Begin 开始事务；已有活动事务时返回 NestedTransaction 错误
func (m *Manager) Begin(ctx context.Context) (*Scope, error) {
	m.mu.Lock()
	if m.active != nil {
		id := m.active.ID()
		m.mu.Unlock()
		err := errors.NewError(errors.ErrCodeNestedTransaction, fmt.Sprintf("事务 %s 进行中，不支持嵌套事务", id))
		return nil, err.WithContext("scope_id", id)
	}
	s := newScope(m.now)
	m.active = s
	m.mu.Unlock()

	m.persist(ctx, s)
	m.logger.Info(ctx, "开始事务", logging.String("scope_id", s.ID()))
	return s, nil
}

// Active 返回活动事务，没有时返回 nil
func (m *Manager) Active() *Scope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// InTransaction 是否处于活动事务中
func (m *Manager) InTransaction() bool {
	s := m.Active()
	return s != nil && s.Active()
}

// Record 把一次已执行的修改追加到活动事务；没有活动事务时什么也不做
func (m *Manager) Record(ctx context.Context, op Operation) error {
	s := m.Active()
	if s == nil {
		return nil
	}
	recorded, ok := s.append(op)
	if !ok {
		return errors.NewValidationError("事务 %s 状态为 %s，无法记录修改", s.ID(), s.Status())
	}
	m.persist(ctx, s)
	m.logger.Debug(ctx, "记录事务修改",
		logging.String("scope_id", s.ID()),
		logging.Int("seq", recorded.Seq),
		logging.String("kind", string(recorded.Kind)),
		logging.String("model", recorded.Model),
		logging.Int("inverse", len(recorded.Inverse)))
	return nil
}

// Commit 提交事务，丢弃逆操作日志
func (m *Manager) Commit(ctx context.Context, s *Scope) error {
	if s == nil {
		return errors.NewValidationError("事务为空")
	}
	if !s.transition(StatusActive, StatusCommitting) {
		return errors.NewValidationError("事务 %s 状态为 %s，无法提交", s.ID(), s.Status())
	}
	s.transition(StatusCommitting, StatusCommitted)
	count := len(s.Operations())
	s.setRemaining(nil)
	m.release(s)
	m.forget(ctx, s.ID())

	m.logger.Info(ctx, "事务已提交",
		logging.String("scope_id", s.ID()),
		logging.Int("operations", count))
	return nil
}

// Rollback 倒序执行逆操作
//
// 全部成功返回 TRANSACTION_ROLLED_BACK 错误（包装 cause）；
// 任一失败立即停止，事务进入 failed，返回 *errors.RollbackFailedError。
// 回滚不受调用方取消影响。
func (m *Manager) Rollback(ctx context.Context, s *Scope, cause error) error {
	ctx = context.WithoutCancel(ctx)
	if s == nil {
		return errors.NewValidationError("事务为空")
	}
	if !s.transition(StatusActive, StatusRollingBack) {
		return errors.NewValidationError("事务 %s 状态为 %s，无法回滚", s.ID(), s.Status())
	}
	m.persist(ctx, s)
	m.logger.Info(ctx, "开始回滚事务",
		logging.String("scope_id", s.ID()),
		logging.Int("operations", len(s.Operations())))

	remaining, err := m.compensate(ctx, s.ID(), s.Operations(), s.setRemaining)
	if err != nil {
		s.fail(err)
		m.persist(ctx, s)
		m.release(s)
		m.logger.Error(ctx, "事务回滚失败，远端状态不确定", logging.Error(err),
			logging.String("scope_id", s.ID()),
			logging.Int("pending", len(remaining)))
		return errors.NewRollbackFailed(s.ID(), cause, err, len(remaining))
	}

	s.transition(StatusRollingBack, StatusRolledBack)
	m.release(s)
	m.forget(ctx, s.ID())
	m.logger.Info(ctx, "事务已回滚", logging.String("scope_id", s.ID()))
	return errors.RolledBack(s.ID(), cause)
}

// Run 在事务中执行 fn
//
// fn 返回错误或 panic 时回滚；panic 在回滚后重新抛出。
func (m *Manager) Run(ctx context.Context, fn func(ctx context.Context, s *Scope) error) (err error) {
	s, err := m.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			if s.Active() {
				cause := errors.NewError(errors.ErrCodeInternal, fmt.Sprintf("事务内 panic: %v", r))
				if rbErr := m.Rollback(ctx, s, cause); errors.IsErrorCode(rbErr, errors.ErrCodeRollbackFailed) {
					m.logger.Error(ctx, "panic 后回滚失败", logging.Error(rbErr), logging.String("scope_id", s.ID()))
				}
			}
			panic(r)
		}
	}()

	if err := fn(ctx, s); err != nil {
		if !s.Active() {
			return err
		}
		return m.Rollback(ctx, s, err)
	}
	if !s.Active() {
		// fn 内部已手动结束事务
		return nil
	}
	return m.Commit(ctx, s)
}

// Failed 列出日志中回滚失败的事务
func (m *Manager) Failed(ctx context.Context) ([]*State, error) {
	if m.journal == nil {
		return nil, nil
	}
	return m.journal.List(ctx, StatusFailed)
}

// Repair 重新执行日志中失败事务的剩余逆操作
func (m *Manager) Repair(ctx context.Context, scopeID string) error {
	ctx = context.WithoutCancel(ctx)
	if m.journal == nil {
		return errors.NewValidationError("未配置事务日志")
	}
	st, err := m.journal.Load(ctx, scopeID)
	if err != nil {
		return err
	}
	if st.Status != StatusFailed {
		return errors.NewValidationError("事务 %s 状态为 %s，无需修复", scopeID, st.Status)
	}

	var original error
	if st.Error != "" {
		original = stdErrors.New(st.Error)
	}
	save := func(ops []Operation) {
		st.Operations = ops
		st.UpdatedAt = m.now()
		if err := m.journal.Save(ctx, st); err != nil {
			m.logger.Warn(ctx, "保存事务日志失败", logging.String("scope_id", scopeID), logging.Error(err))
		}
	}

	st.Status = StatusRollingBack
	save(st.Operations)
	remaining, err := m.compensate(ctx, scopeID, st.Operations, func([]Operation) {})
	if err != nil {
		st.Status = StatusFailed
		st.Error = err.Error()
		save(remaining)
		return errors.NewRollbackFailed(scopeID, original, err, len(remaining))
	}
	m.forget(ctx, scopeID)
	m.logger.Info(ctx, "失败事务已修复", logging.String("scope_id", scopeID))
	return nil
}

// compensate 倒序重放 ops 的逆操作，返回未执行完的部分
//
// progress 在每个操作处理完后收到剩余的日志。
func (m *Manager) compensate(ctx context.Context, scopeID string, ops []Operation, progress func([]Operation)) ([]Operation, error) {
	remap := idRemap{}
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		applied, err := m.replay(ctx, op, remap)
		if applied > 0 || err == nil {
			m.invalidate(ctx, op.Model)
		}
		if err != nil {
			m.logger.Error(ctx, "执行逆操作失败", logging.Error(err),
				logging.String("scope_id", scopeID),
				logging.Int("seq", op.Seq),
				logging.String("model", op.Model))
			op.Inverse = op.Inverse[applied:]
			remaining := make([]Operation, 0, i+1)
			remaining = append(remaining, ops[:i]...)
			remaining = append(remaining, op)
			progress(remaining)
			return remaining, err
		}
		progress(ops[:i])
	}
	return nil, nil
}

// replay 顺序执行一个操作的逆调用，返回成功执行的个数
func (m *Manager) replay(ctx context.Context, op Operation, remap idRemap) (int, error) {
	for k, inv := range op.Inverse {
		raw, err := m.invoker.Invoke(ctx, remap.apply(inv.Request))
		if err != nil {
			return k, err
		}
		if inv.Restores != 0 {
			var created any
			if err := query.DecodeResult(raw, &created); err == nil {
				if ids := query.RelationIDs(created); len(ids) == 1 {
					remap.add(inv.Request.Model, inv.Restores, ids[0])
				}
			}
		}
	}
	return len(op.Inverse), nil
}

func (m *Manager) invalidate(ctx context.Context, modelName string) {
	if m.invalidator == nil {
		return
	}
	if err := m.invalidator.Invalidate(ctx, modelName); err != nil {
		m.logger.Warn(ctx, "失效缓存失败", logging.String("model", modelName), logging.Error(err))
	}
}

func (m *Manager) release(s *Scope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == s {
		m.active = nil
	}
}

func (m *Manager) persist(ctx context.Context, s *Scope) {
	if m.journal == nil {
		return
	}
	if err := m.journal.Save(ctx, s.State()); err != nil {
		m.logger.Warn(ctx, "保存事务日志失败", logging.String("scope_id", s.ID()), logging.Error(err))
	}
}

func (m *Manager) forget(ctx context.Context, scopeID string) {
	if m.journal == nil {
		return
	}
	if err := m.journal.Delete(ctx, scopeID); err != nil {
		m.logger.Warn(ctx, "删除事务日志失败", logging.String("scope_id", scopeID), logging.Error(err))
	}
}
