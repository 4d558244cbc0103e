// Package errors 定义 zenoo 的错误体系
//
// 所有对外暴露的错误都归一为 AppError + ErrorCode：
//   - 本地错误（校验、不支持的操作符）在构建阶段同步返回，永远不会到达网络；
//   - 远端错误区分瞬时（可重试）与非瞬时（不可重试）；
//   - 事务回滚成功与回滚失败使用不同的错误码，调用方据此判断远端状态是否可信。
package errors

import (
	stdErrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorCode 错误代码类型
type ErrorCode string

// 预定义错误代码
const (
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"

	// 本地错误，不会重试
	ErrCodeValidation          ErrorCode = "VALIDATION_ERROR"
	ErrCodeUnsupportedOperator ErrorCode = "UNSUPPORTED_OPERATOR"

	// 远端错误
	ErrCodeRemote           ErrorCode = "REMOTE_ERROR"
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrCodeTransient        ErrorCode = "TRANSIENT_ERROR"
	ErrCodeRecordNotFound   ErrorCode = "RECORD_NOT_FOUND"

	// 弹性控制
	ErrCodeCircuitOpen      ErrorCode = "CIRCUIT_OPEN"
	ErrCodeRetriesExhausted ErrorCode = "RETRIES_EXHAUSTED"

	// 事务
	ErrCodeNestedTransaction ErrorCode = "NESTED_TRANSACTION"
	ErrCodeRolledBack        ErrorCode = "TRANSACTION_ROLLED_BACK"
	ErrCodeRollbackFailed    ErrorCode = "ROLLBACK_FAILED"
)

// IError 错误接口
type IError interface {
	error

	// 获取错误代码
	Code() ErrorCode

	// 获取错误消息
	Message() string

	// 获取原始错误
	Cause() error

	// 获取错误详情
	Details() map[string]any

	// 获取堆栈信息
	Stack() string

	// 添加上下文
	WithContext(key string, value any) IError
}

// AppError 应用错误实现
type AppError struct {
	code    ErrorCode
	message string
	cause   error
	details map[string]any
	stack   string
}

// NewError 创建新错误
func NewError(code ErrorCode, message string) *AppError {
	return &AppError{
		code:    code,
		message: message,
		details: make(map[string]any),
		stack:   captureStack(),
	}
}

// WrapError 包装错误，err 为 nil 时返回 nil
func WrapError(err error, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}

	return &AppError{
		code:    code,
		message: message,
		cause:   err,
		details: make(map[string]any),
		stack:   captureStack(),
	}
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Code 获取错误代码
func (e *AppError) Code() ErrorCode {
	return e.code
}

// Message 获取错误消息
func (e *AppError) Message() string {
	return e.message
}

// Cause 获取原始错误
func (e *AppError) Cause() error {
	return e.cause
}

// Details 获取错误详情
func (e *AppError) Details() map[string]any {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	return e.details
}

// Stack 获取堆栈信息
func (e *AppError) Stack() string {
	return e.stack
}

// Is 同错误码的 AppError 视为同一类错误，便于与预定义哨兵比较
func (e *AppError) Is(target error) bool {
	if appErr, ok := target.(*AppError); ok {
		return e.code == appErr.code
	}
	return false
}

// Unwrap 解包错误（支持 errors.Unwrap）
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithContext 添加上下文，返回副本
func (e *AppError) WithContext(key string, value any) IError {
	newDetails := copyMap(e.details)
	newDetails[key] = value

	return &AppError{
		code:    e.code,
		message: e.message,
		cause:   e.cause,
		details: newDetails,
		stack:   e.stack,
	}
}

// 预定义错误变量，仅用于 errors.Is 比较
var (
	ErrInternal          = NewError(ErrCodeInternal, "内部错误")
	ErrValidation        = NewError(ErrCodeValidation, "查询校验失败")
	ErrUnsupportedOp     = NewError(ErrCodeUnsupportedOperator, "不支持的操作符")
	ErrRemote            = NewError(ErrCodeRemote, "远端调用失败")
	ErrPermissionDenied  = NewError(ErrCodePermissionDenied, "远端拒绝访问")
	ErrTransient         = NewError(ErrCodeTransient, "远端暂时不可用")
	ErrRecordNotFound    = NewError(ErrCodeRecordNotFound, "记录不存在")
	ErrCircuitOpen       = NewError(ErrCodeCircuitOpen, "熔断器已打开")
	ErrRetriesExhausted  = NewError(ErrCodeRetriesExhausted, "重试次数耗尽")
	ErrNestedTransaction = NewError(ErrCodeNestedTransaction, "不支持嵌套事务")
	ErrRolledBack        = NewError(ErrCodeRolledBack, "事务已回滚")
	ErrRollbackFailed    = NewError(ErrCodeRollbackFailed, "事务回滚失败")
)

type coder interface {
	Code() ErrorCode
}

// GetErrorCode 返回错误链上第一个带错误码的错误的代码，未知错误返回 ErrCodeInternal
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ""
	}

	var c coder
	if stdErrors.As(err, &c) {
		return c.Code()
	}

	return ErrCodeInternal
}

// IsErrorCode 检查是否为指定错误代码
func IsErrorCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return GetErrorCode(err) == code
}

// IsNotFound 检查是否为记录不存在
func IsNotFound(err error) bool {
	return IsErrorCode(err, ErrCodeRecordNotFound)
}

// IsValidation 检查是否为本地校验错误（含不支持的操作符）
func IsValidation(err error) bool {
	code := GetErrorCode(err)
	return code == ErrCodeValidation || code == ErrCodeUnsupportedOperator
}

// captureStack 捕获堆栈信息
func captureStack() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])

	var builder strings.Builder
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		builder.WriteString(fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function))

		if !more {
			break
		}
	}

	return builder.String()
}

// copyMap 复制映射
func copyMap(original map[string]any) map[string]any {
	copied := make(map[string]any, len(original)+1)
	for k, v := range original {
		copied[k] = v
	}
	return copied
}
