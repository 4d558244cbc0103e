package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net"
	"strings"
)

// NewValidationError 创建本地校验错误
func NewValidationError(format string, args ...any) error {
	return NewError(ErrCodeValidation, fmt.Sprintf(format, args...))
}

// UnsupportedOperator 创建不支持的操作符错误
func UnsupportedOperator(op string) error {
	err := NewError(ErrCodeUnsupportedOperator, fmt.Sprintf("不支持的操作符 %q", op))
	err.details["operator"] = op
	return err
}

// RecordNotFound 创建记录不存在错误
func RecordNotFound(model string, id int64) error {
	err := NewError(ErrCodeRecordNotFound, fmt.Sprintf("%s(%d) 不存在", model, id))
	err.details["model"] = model
	err.details["id"] = id
	return err
}

// Transient 将底层错误标记为瞬时错误（可重试）
func Transient(cause error, message string) error {
	return WrapError(cause, ErrCodeTransient, message)
}

// Remote 将底层错误标记为远端业务错误（不可重试）
func Remote(cause error, message string) error {
	return WrapError(cause, ErrCodeRemote, message)
}

// RemoteFault 描述远端返回的故障
type RemoteFault struct {
	Name    string // 远端异常类名，例如 odoo.exceptions.ValidationError
	Message string
	Debug   string
}

func (f *RemoteFault) Error() string {
	if f.Name == "" {
		return f.Message
	}
	return f.Name + ": " + f.Message
}

// transientFaultMarkers 远端明确表示“稍后重试”的异常特征
var transientFaultMarkers = []string{
	"SerializationFailure",
	"could not serialize access",
	"concurrent update",
	"LockNotAvailable",
	"TooManyRequests",
	"temporarily unavailable",
}

var permissionFaultMarkers = []string{
	"AccessError",
	"AccessDenied",
}

// ClassifyFault 根据远端故障名称返回对应错误码的错误
func ClassifyFault(fault *RemoteFault) error {
	if fault == nil {
		return nil
	}
	text := fault.Name + " " + fault.Message
	for _, marker := range transientFaultMarkers {
		if strings.Contains(text, marker) {
			return WrapError(fault, ErrCodeTransient, "远端暂时不可用")
		}
	}
	for _, marker := range permissionFaultMarkers {
		if strings.Contains(fault.Name, marker) {
			return WrapError(fault, ErrCodePermissionDenied, "远端拒绝访问")
		}
	}
	if strings.Contains(fault.Name, "MissingError") {
		return WrapError(fault, ErrCodeRecordNotFound, "远端记录不存在")
	}
	if strings.Contains(fault.Name, "ValidationError") || strings.Contains(fault.Name, "UserError") {
		return WrapError(fault, ErrCodeValidation, "远端校验失败")
	}
	return WrapError(fault, ErrCodeRemote, "远端调用失败")
}

// ClassifyNetwork 将传输层错误归类：网络错误与超时视为瞬时，取消原样返回
func ClassifyNetwork(err error) error {
	if err == nil {
		return nil
	}
	if stdErrors.Is(err, context.Canceled) {
		return err
	}
	if _, ok := err.(coder); ok {
		return err
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return Transient(err, "远端调用超时")
	}
	var netErr net.Error
	if stdErrors.As(err, &netErr) {
		return Transient(err, "网络错误")
	}
	return Transient(err, "传输失败")
}

// IsTransient 是否为可重试的瞬时错误
//
// 只看错误链上第一个错误码：RetriesExhausted / CircuitOpen 包装的瞬时错误不再视为瞬时。
func IsTransient(err error) bool {
	return IsErrorCode(err, ErrCodeTransient)
}

// IsCanceled 是否为调用方取消
func IsCanceled(err error) bool {
	return stdErrors.Is(err, context.Canceled)
}

// RollbackFailedError 事务回滚失败
//
// 同时携带导致回滚的原始错误与回滚过程中的错误。
// 出现该错误时，远端状态既不等于事务前也不等于事务后。
type RollbackFailedError struct {
	ScopeID  string
	Original error
	Rollback error
	// Pending 未能执行的逆操作数量（包含失败的那一个）
	Pending int
}

// NewRollbackFailed 创建回滚失败错误
func NewRollbackFailed(scopeID string, original, rollback error, pending int) *RollbackFailedError {
	return &RollbackFailedError{ScopeID: scopeID, Original: original, Rollback: rollback, Pending: pending}
}

func (e *RollbackFailedError) Error() string {
	return fmt.Sprintf("[%s] 事务 %s 回滚失败，远端数据状态不确定（剩余 %d 个逆操作未执行）: 原始错误: %v; 回滚错误: %v",
		ErrCodeRollbackFailed, e.ScopeID, e.Pending, e.Original, e.Rollback)
}

// Code 实现 coder
func (e *RollbackFailedError) Code() ErrorCode {
	return ErrCodeRollbackFailed
}

// Is 与 ErrRollbackFailed 哨兵匹配
func (e *RollbackFailedError) Is(target error) bool {
	appErr, ok := target.(*AppError)
	return ok && appErr.code == ErrCodeRollbackFailed
}

// Unwrap 同时暴露两个原因
func (e *RollbackFailedError) Unwrap() []error {
	return []error{e.Original, e.Rollback}
}

// RolledBack 创建“事务已回滚”错误，远端状态已恢复到事务前
func RolledBack(scopeID string, cause error) error {
	err := &AppError{
		code:    ErrCodeRolledBack,
		message: fmt.Sprintf("事务 %s 已回滚，远端状态已恢复", scopeID),
		cause:   cause,
		details: map[string]any{"scope_id": scopeID},
		stack:   captureStack(),
	}
	return err
}

// CircuitOpen 创建熔断错误，调用未到达网络
func CircuitOpen(endpoint string) error {
	err := NewError(ErrCodeCircuitOpen, fmt.Sprintf("端点 %s 熔断中，拒绝调用", endpoint))
	err.details["endpoint"] = endpoint
	return err
}

// RetriesExhausted 包装最后一次失败
func RetriesExhausted(last error, attempts int) error {
	return &AppError{
		code:    ErrCodeRetriesExhausted,
		message: fmt.Sprintf("重试 %d 次后仍然失败", attempts),
		cause:   last,
		details: map[string]any{"attempts": attempts},
		stack:   captureStack(),
	}
}

// IsRetryable 是否值得重试：瞬时错误且不是调用方取消
func IsRetryable(err error) bool {
	return IsTransient(err) && !IsCanceled(err)
}
