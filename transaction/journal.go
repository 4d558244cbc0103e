package transaction

import (
	"context"

	"zenoo/errors"
)

// IJournal 事务日志存储
//
// 每次状态切换保存一次快照。提交或回滚成功的事务被删除；
// 回滚失败的事务连同剩余逆操作保留，供人工或 Manager.Repair 处理。
type IJournal interface {
	// Load 加载快照，不存在时返回 ErrScopeNotFound
	Load(ctx context.Context, scopeID string) (*State, error)

	// Save 保存快照，按 scope_id 覆盖
	Save(ctx context.Context, state *State) error

	// Delete 删除快照，不存在时不报错
	Delete(ctx context.Context, scopeID string) error

	// List 按状态列出快照，status 为空表示全部
	List(ctx context.Context, status Status) ([]*State, error)
}

// ErrScopeNotFound 日志中没有该事务
var ErrScopeNotFound = errors.NewError(errors.ErrCodeRecordNotFound, "事务日志不存在")
