package errorx

import (
	"errors"
	"fmt"
)

// CodeError 带业务错误码的自定义错误
// 实现了 error 接口，支持 %w 包装底层错误，且能被 errors.Is/errors.As 识别
type CodeError struct {
	Code  int    // 业务错误码
	Msg   string // 错误消息
	cause error  // 被包装的底层错误
}

// Error 当存在底层错误时返回 "消息: 底层错误"，否则仅返回消息
func (e *CodeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.cause)
	}
	return e.Msg
}

// Unwrap 支持 errors.Is/errors.As 向下追溯
func (e *CodeError) Unwrap() error {
	return e.cause
}

// Is 同码即视为同一类错误，便于 errors.Is(err, errorx.ErrInvalidState)
func (e *CodeError) Is(target error) bool {
	var t *CodeError
	return errors.As(target, &t) && t.Code == e.Code
}

// New 创建一个新的 CodeError
func New(code int, msg string) *CodeError {
	return &CodeError{
		Code: code,
		Msg:  msg,
	}
}

// Newf 创建一个带格式化消息的 CodeError
func Newf(code int, format string, args ...any) *CodeError {
	return &CodeError{
		Code: code,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// Wrap 包装底层错误，添加业务错误码和消息
// 用法: errorx.Wrap(err, CodeBackendUnavailable, "读取用户失败")
func Wrap(err error, code int, msg string) *CodeError {
	return &CodeError{
		Code:  code,
		Msg:   msg,
		cause: err,
	}
}

// Wrapf 包装底层错误，支持格式化消息
// 用法: errorx.Wrapf(err, CodeBackendUnavailable, "读取会话 %s 失败", key)
func Wrapf(err error, code int, format string, args ...any) *CodeError {
	return &CodeError{
		Code:  code,
		Msg:   fmt.Sprintf(format, args...),
		cause: err,
	}
}

// GetCode 从错误中提取业务错误码，如果不是 CodeError 则返回默认码
func GetCode(err error) int {
	var codeErr *CodeError
	if errors.As(err, &codeErr) {
		return codeErr.Code
	}
	return CodeServerBusy // 默认返回服务繁忙
}

// 业务状态码常量定义
const (
	CodeSuccess            = 1000 // 成功
	CodeInvalidParam       = 1001 // 请求参数错误（ValidationError）
	CodeUserExist          = 1002 // 用户已存在
	CodeUserNotExist       = 1003 // 用户不存在
	CodeInvalidState       = 1004 // 当前状态不允许该操作（InvalidStateError）
	CodeServerBusy         = 1005 // 服务繁忙
	CodeUnauthorized       = 1006 // 未授权/认证失败
	CodeForbidden          = 1007 // 无权操作他人资源
	CodeNotFound           = 1008 // 资源不存在
	CodeConflict           = 1009 // 并发写入冲突，前置条件不满足
	CodeBackendUnavailable = 1010 // 同步存储暂不可用（BackendUnavailableError）
)

// 预定义常用错误实例
// 这些实例既可直接返回，也可用于 errors.Is 比较
var (
	ErrInvalidParam       = New(CodeInvalidParam, "请求参数错误")
	ErrInvalidState       = New(CodeInvalidState, "当前状态不允许该操作")
	ErrServerBusy         = New(CodeServerBusy, "服务繁忙")
	ErrNotFound           = New(CodeNotFound, "资源不存在")
	ErrBackendUnavailable = New(CodeBackendUnavailable, "存储服务暂不可用")
	ErrConflict           = New(CodeConflict, "数据已被修改，请重试")
)

// hasCode 检查错误链中是否有指定错误码
func hasCode(err error, code int) bool {
	var codeErr *CodeError
	return errors.As(err, &codeErr) && codeErr.Code == code
}

// IsNotFound 检查错误是否为"未找到"类型
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound) || hasCode(err, CodeUserNotExist)
}

// IsInvalidState 检查错误是否为状态机拒绝
func IsInvalidState(err error) bool {
	return hasCode(err, CodeInvalidState)
}

// IsValidation 检查错误是否为入参校验失败
func IsValidation(err error) bool {
	return hasCode(err, CodeInvalidParam)
}

// IsBackendUnavailable 检查错误是否为存储层暂时性故障
func IsBackendUnavailable(err error) bool {
	return hasCode(err, CodeBackendUnavailable)
}

// IsConflict 写入的前置条件不满足
func IsConflict(err error) bool {
	return hasCode(err, CodeConflict)
}
