package errors

import (
	"context"
	"fmt"
	"runtime"

	"zenoo/logging"
)

// Annotate 在 AppError 的详情里附加远端调用的模型与方法，返回副本
//
// 其他类型的错误原样返回。
func Annotate(err error, model, method string) error {
	appErr, ok := err.(*AppError)
	if !ok {
		return err
	}
	if _, exists := appErr.details["model"]; exists {
		return err
	}
	return appErr.WithContext("model", model).WithContext("method", method)
}

// WrapWithLog 包装错误并记录带调用位置的警告日志
func WrapWithLog(ctx context.Context, logger logging.Logger, err error, code ErrorCode, msg string, fields ...logging.Field) error {
	if err == nil {
		return nil
	}
	if logger == nil {
		logger = logging.GetLogger()
	}

	_, file, line, _ := runtime.Caller(1)
	allFields := append([]logging.Field{
		logging.Error(err),
		logging.String("error_code", string(code)),
		logging.String("location", fmt.Sprintf("%s:%d", file, line)),
	}, fields...)
	logger.Warn(ctx, msg, allFields...)

	return WrapError(err, code, msg)
}
