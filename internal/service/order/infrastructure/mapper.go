package infrastructure

import (
	"storefront/internal/service/order/domain"
)

// ToDomainOrder 将数据库模型转换为领域模型
func ToDomainOrder(model *OrderModel) *domain.Order {
	if model == nil {
		return nil
	}
	order := &domain.Order{
		ID:              model.ID,
		OrderNumber:     model.OrderNumber,
		UserID:          model.UserID,
		State:           domain.State(model.Status),
		TotalAmount:     model.TotalAmount,
		ShippingAddress: model.ShippingAddress,
		Notes:           model.Notes,
		CreatedAt:       model.CreatedAt,
		UpdatedAt:       model.UpdatedAt,
		Lines:           make([]domain.OrderLine, 0, len(model.Lines)),
	}
	for _, l := range model.Lines {
		line := domain.OrderLine{
			ID:        l.ID,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		}
		if l.Product != nil {
			line.ProductName = l.Product.Name
		}
		order.Lines = append(order.Lines, line)
	}
	return order
}

// FromDomainOrder 将领域模型转换为数据库模型 (用于插入)
func FromDomainOrder(order *domain.Order) *OrderModel {
	if order == nil {
		return nil
	}
	model := &OrderModel{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		UserID:          order.UserID,
		Status:          string(order.State),
		TotalAmount:     order.TotalAmount,
		ShippingAddress: order.ShippingAddress,
		Notes:           order.Notes,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
		Lines:           make([]OrderLineModel, 0, len(order.Lines)),
	}
	for _, l := range order.Lines {
		model.Lines = append(model.Lines, OrderLineModel{
			ID:        l.ID,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			CreatedAt: order.CreatedAt,
		})
	}
	return model
}

// ToDomainProduct 将商品模型转换为领域视图
func ToDomainProduct(model *ProductModel) *domain.Product {
	if model == nil {
		return nil
	}
	return &domain.Product{
		ID:            model.ID,
		Name:          model.Name,
		Price:         model.Price,
		StockQuantity: model.StockQuantity,
	}
}
