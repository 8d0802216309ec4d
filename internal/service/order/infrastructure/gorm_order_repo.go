package infrastructure

import (
	"context"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"storefront/internal/service/order/domain"
	"storefront/internal/service/order/domain/port"
)

// mysqlDuplicateEntry 是 MySQL 唯一索引冲突的错误码
const mysqlDuplicateEntry = 1062

type GormOrderRepository struct {
	db *gorm.DB
}

var _ domain.OrderRepository = (*GormOrderRepository)(nil)

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// withLines 预加载订单行和商品名称，已下架的商品也要能显示名称
func withLines(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("Lines.Product", func(db *gorm.DB) *gorm.DB { return db.Unscoped() })
}

func (r *GormOrderRepository) Save(ctx context.Context, order *domain.Order) error {
	model := FromDomainOrder(order)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateEntry(err) {
			return port.ErrDuplicateOrderNumber
		}
		return errors.Wrapf(err, "save order %s", order.OrderNumber)
	}

	order.ID = model.ID
	for i := range order.Lines {
		order.Lines[i].ID = model.Lines[i].ID
	}
	return nil
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id int64) (*domain.Order, error) {
	var model OrderModel
	if err := withLines(r.db.WithContext(ctx)).First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, errors.Wrapf(err, "find order %d", id)
	}
	return ToDomainOrder(&model), nil
}

func (r *GormOrderRepository) FindByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	var model OrderModel
	err := withLines(r.db.WithContext(ctx)).Where("order_number = ?", orderNumber).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, errors.Wrapf(err, "find order %s", orderNumber)
	}
	return ToDomainOrder(&model), nil
}

func (r *GormOrderRepository) FindByUser(ctx context.Context, userID int64) ([]*domain.Order, error) {
	var models []OrderModel
	err := withLines(r.db.WithContext(ctx)).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrapf(err, "find orders of user %d", userID)
	}

	orders := make([]*domain.Order, 0, len(models))
	for i := range models {
		orders = append(orders, ToDomainOrder(&models[i]))
	}
	return orders, nil
}

func (r *GormOrderRepository) List(ctx context.Context, filter domain.ListFilter) (*domain.Page, error) {
	filter = filter.Normalize()

	query := r.db.WithContext(ctx).Model(&OrderModel{})
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.State != nil {
		query = query.Where("status = ?", string(*filter.State))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, errors.Wrap(err, "count orders")
	}

	var models []OrderModel
	err := withLines(query).
		Order("created_at DESC, id DESC").
		Offset(filter.Offset()).
		Limit(filter.PageSize).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}

	page := &domain.Page{
		Items:      make([]*domain.Order, 0, len(models)),
		TotalCount: total,
		PageNumber: filter.PageNumber,
		PageSize:   filter.PageSize,
	}
	for i := range models {
		page.Items = append(page.Items, ToDomainOrder(&models[i]))
	}
	return page, nil
}

// CompareAndSetState 仅当订单当前状态为 from 时才改为 to，返回是否命中
func (r *GormOrderRepository) CompareAndSetState(ctx context.Context, id int64, from, to domain.State) (bool, error) {
	res := r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(map[string]interface{}{"status": string(to), "updated_at": time.Now()})
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "transition order %d from %s to %s", id, from, to)
	}
	return res.RowsAffected == 1, nil
}

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysqldriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlDuplicateEntry
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
