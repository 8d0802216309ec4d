// internal/service/order/domain/repository.go
package domain

import (
	"context"
	"math"
)

// OrderRepository 定义了订单聚合的持久化接口。
// 它位于领域层，但由基础设施层实现。
type OrderRepository interface {
	// Save 插入一个新订单及其订单行，并回填 ID。
	Save(ctx context.Context, order *Order) error

	// FindByID 根据 ID 查找订单，订单行带商品展示信息。不存在时返回 ErrOrderNotFound。
	FindByID(ctx context.Context, id int64) (*Order, error)

	FindByNumber(ctx context.Context, orderNumber string) (*Order, error)

	// FindByUser 按创建时间倒序返回用户的全部订单。
	FindByUser(ctx context.Context, userID int64) ([]*Order, error)

	// List 分页查询，供后台使用。
	List(ctx context.Context, filter ListFilter) (*Page, error)

	// CompareAndSetState 仅当当前状态为 from 时更新为 to，返回是否更新成功。
	CompareAndSetState(ctx context.Context, id int64, from, to State) (bool, error)
}

// ListFilter 是后台订单列表的查询条件
type ListFilter struct {
	PageNumber int
	PageSize   int
	UserID     *int64
	State      *State
}

// Normalize 补齐默认分页参数，并把页码限制在偏移量不会溢出的范围内
func (f ListFilter) Normalize() ListFilter {
	if f.PageNumber < 1 {
		f.PageNumber = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 10
	}
	if f.PageSize > 100 {
		f.PageSize = 100
	}
	if maxPage := math.MaxInt32 / f.PageSize; f.PageNumber > maxPage {
		f.PageNumber = maxPage
	}
	return f
}

func (f ListFilter) Offset() int {
	return (f.PageNumber - 1) * f.PageSize
}

type Page struct {
	Items      []*Order `json:"items"`
	TotalCount int64    `json:"totalCount"`
	PageNumber int      `json:"pageNumber"`
	PageSize   int      `json:"pageSize"`
}
