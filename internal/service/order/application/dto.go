// internal/service/order/application/dto.go
package application

import (
	"fmt"
	"time"
	"unicode/utf8"

	"storefront/internal/service/order/domain"
)

// LineItem 是下单请求中的一行
type LineItem struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

// PlaceOrderRequest 是下单用例的输入数据。UserID 来自调用方身份，不信任请求体。
type PlaceOrderRequest struct {
	UserID          int64      `json:"-"`
	ShippingAddress string     `json:"shippingAddress"`
	Notes           string     `json:"notes"`
	Items           []LineItem `json:"items"`
	IdempotencyKey  string     `json:"-"`
}

// Validate 在开启事务之前做输入校验，失败时不会产生任何副作用
func (r *PlaceOrderRequest) Validate(maxAddressLen, maxNotesLen int) error {
	if len(r.Items) == 0 {
		return domain.ErrEmptyOrder
	}
	if r.UserID <= 0 {
		return fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	for i, item := range r.Items {
		if item.ProductID <= 0 {
			return fmt.Errorf("%w: items[%d].productId must be positive", domain.ErrValidation, i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: items[%d].quantity must be greater than 0", domain.ErrValidation, i)
		}
	}
	if maxAddressLen > 0 && utf8.RuneCountInString(r.ShippingAddress) > maxAddressLen {
		return fmt.Errorf("%w: shipping address exceeds %d characters", domain.ErrValidation, maxAddressLen)
	}
	if maxNotesLen > 0 && utf8.RuneCountInString(r.Notes) > maxNotesLen {
		return fmt.Errorf("%w: notes exceed %d characters", domain.ErrValidation, maxNotesLen)
	}
	return nil
}

// OrderLineResponse 是订单行的输出数据
type OrderLineResponse struct {
	ID          int64  `json:"id"`
	ProductID   int64  `json:"productId"`
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
	LineTotal   string `json:"lineTotal"`
}

// OrderResponse 是订单的输出数据，金额统一保留两位小数
type OrderResponse struct {
	ID              int64               `json:"id"`
	OrderNumber     string              `json:"orderNumber"`
	UserID          int64               `json:"userId"`
	Status          domain.State        `json:"status"`
	TotalAmount     string              `json:"totalAmount"`
	ShippingAddress string              `json:"shippingAddress"`
	Notes           string              `json:"notes"`
	Items           []OrderLineResponse `json:"items"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

func ToOrderResponse(o *domain.Order) *OrderResponse {
	resp := &OrderResponse{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		UserID:          o.UserID,
		Status:          o.State,
		TotalAmount:     o.TotalAmount.StringFixed(2),
		ShippingAddress: o.ShippingAddress,
		Notes:           o.Notes,
		Items:           make([]OrderLineResponse, 0, len(o.Lines)),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	for _, l := range o.Lines {
		resp.Items = append(resp.Items, OrderLineResponse{
			ID:          l.ID,
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice.StringFixed(2),
			LineTotal:   l.LineTotal().StringFixed(2),
		})
	}
	return resp
}

func ToOrderResponses(orders []*domain.Order) []*OrderResponse {
	out := make([]*OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, ToOrderResponse(o))
	}
	return out
}

// PageResponse 是后台分页列表的输出数据
type PageResponse struct {
	Items      []*OrderResponse `json:"items"`
	TotalCount int64            `json:"totalCount"`
	PageNumber int              `json:"pageNumber"`
	PageSize   int              `json:"pageSize"`
	TotalPages int64            `json:"totalPages"`
}

func ToPageResponse(p *domain.Page) *PageResponse {
	resp := &PageResponse{
		Items:      ToOrderResponses(p.Items),
		TotalCount: p.TotalCount,
		PageNumber: p.PageNumber,
		PageSize:   p.PageSize,
	}
	if p.PageSize > 0 {
		resp.TotalPages = (p.TotalCount + int64(p.PageSize) - 1) / int64(p.PageSize)
	}
	return resp
}
