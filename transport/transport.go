// Package transport 定义远端 ORM 服务的调用契约
//
// 远端每次调用独立提交，没有事务、没有保存点。
// 实现必须把失败归类为瞬时（errors.ErrCodeTransient）或非瞬时，重试控制器依赖这一区分。
package transport

import (
	"context"
	"encoding/json"
)

// 远端 ORM 方法名
const (
	MethodSearchRead  = "search_read"
	MethodSearch      = "search"
	MethodSearchCount = "search_count"
	MethodRead        = "read"
	MethodCreate      = "create"
	MethodWrite       = "write"
	MethodUnlink      = "unlink"
	MethodFieldsGet   = "fields_get"
)

// Request 一次 execute_kw 调用
type Request struct {
	Model  string         `json:"model"`
	Method string         `json:"method"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
}

// IsMutation 是否为修改远端数据的调用
func (r Request) IsMutation() bool {
	switch r.Method {
	case MethodCreate, MethodWrite, MethodUnlink:
		return true
	}
	return false
}

// ITransport 远端调用接口
type ITransport interface {
	// Call 执行一次远端调用，返回原始 JSON 结果
	Call(ctx context.Context, req Request) (json.RawMessage, error)

	// Endpoint 返回远端端点标识，熔断器按端点隔离
	Endpoint() string
}

// ISessionKeyer 可选接口：返回远端会话标识（端点 + 数据库 + 用户）
//
// 同一端点上不同数据库或用户的调用结果不能共享缓存。
type ISessionKeyer interface {
	SessionKey() string
}

// SessionKey 返回传输的会话标识，未实现 ISessionKeyer 时为 Endpoint()
func SessionKey(tr ITransport) string {
	if k, ok := tr.(ISessionKeyer); ok {
		return k.SessionKey()
	}
	return tr.Endpoint()
}

// TransportFunc 函数适配器，便于测试
type TransportFunc func(ctx context.Context, req Request) (json.RawMessage, error)

// Call 实现 ITransport
func (f TransportFunc) Call(ctx context.Context, req Request) (json.RawMessage, error) {
	return f(ctx, req)
}

// Endpoint 实现 ITransport
func (f TransportFunc) Endpoint() string {
	return "func"
}
