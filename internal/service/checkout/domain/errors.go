// internal/service/checkout/domain/errors.go
package domain

import "errors"

// ErrorKind 是业务错误的分类标签，接口层据此映射 HTTP 状态码。
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindNotFound
	KindConflict
	KindBadRequest
	KindInsufficientStock
)

// Error 是带分类的业务错误。
// 业务规则的违反一律以 Error 的形式返回，而不是用 panic 或裸错误。
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NotFound 构造一个"资源不存在"错误。
func NotFound(message string) error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Conflict 构造一个"状态冲突"错误。
func Conflict(message string) error {
	return &Error{Kind: KindConflict, Message: message}
}

// BadRequest 构造一个"请求不合法"错误（包括被网关拒绝的卡）。
func BadRequest(message string) error {
	return &Error{Kind: KindBadRequest, Message: message}
}

// InsufficientStock 构造库存不足错误。它是 Conflict 的子类，
// 在结算事务中间被抛出并导致整个事务回滚。
func InsufficientStock(message string) error {
	return &Error{Kind: KindInsufficientStock, Message: message}
}

// Internal 包装一个意外错误，避免底层网关/存储错误泄漏给客户端。
func Internal(message string, cause error) error {
	return &Error{Kind: KindInternal, Message: message, cause: cause}
}

// KindOf 提取错误的分类；非业务错误一律按 Internal 处理。
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind 判断错误是否属于某个分类。
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
