package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyOrder             = errors.New("order must contain at least one item")
	ErrValidation             = errors.New("invalid order request")
	ErrOrderNotFound          = errors.New("order not found")
	ErrNotOwner               = errors.New("you can only cancel your own orders")
	ErrInvalidStateTransition = errors.New("invalid order state transition")
	ErrProductNotFound        = errors.New("product not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrDuplicateRequest       = errors.New("request with this idempotency key is already being processed")
)

// ProductError 标识导致下单失败的具体商品
type ProductError struct {
	ProductID int64
	Err       error
}

func (e *ProductError) Error() string {
	return fmt.Sprintf("%v: product %d", e.Err, e.ProductID)
}

func (e *ProductError) Unwrap() error { return e.Err }

// InternalError 包装存储/事务等基础设施故障。事务已回滚，调用方可以安全重试。
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

func (e *InternalError) Retryable() bool { return true }

// ErrorKind 是错误的业务分类，接口层据此决定返回码
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindAuthorization
	KindStateConflict
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindAuthorization:
		return "authorization"
	case KindStateConflict:
		return "state_conflict"
	default:
		return "internal"
	}
}

// KindOf 对错误进行分类，未知错误一律视为内部错误
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrEmptyOrder), errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrProductNotFound), errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrDuplicateRequest):
		return KindConflict
	case errors.Is(err, ErrOrderNotFound):
		return KindNotFound
	case errors.Is(err, ErrNotOwner):
		return KindAuthorization
	case errors.Is(err, ErrInvalidStateTransition):
		return KindStateConflict
	default:
		return KindInternal
	}
}
