// Package memory 提供单进程内的存储实现，用于本地运行和测试。
// 每个事务在整个生命周期内持有 Store 的互斥锁，因此事务之间是串行化的。
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"storefront/internal/service/order/domain"
	"storefront/internal/service/order/domain/port"
)

type Store struct {
	mu sync.Mutex

	products map[int64]*domain.Product
	orders   map[int64]*domain.Order
	byNumber map[string]int64

	nextProductID int64
	nextOrderID   int64
	nextLineID    int64
}

func NewStore() *Store {
	return &Store{
		products: make(map[int64]*domain.Product),
		orders:   make(map[int64]*domain.Order),
		byNumber: make(map[string]int64),
	}
}

var _ port.UnitOfWork = (*Store)(nil)

// AddProduct 新增一个商品并返回其 ID (商品目录由外部维护，这里仅用于种子数据和测试)
func (s *Store) AddProduct(name string, price decimal.Decimal, stock int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextProductID++
	s.products[s.nextProductID] = &domain.Product{ID: s.nextProductID, Name: name, Price: price, StockQuantity: stock}
	return s.nextProductID
}

// SetPrice 模拟商品服务改价
func (s *Store) SetPrice(productID int64, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.products[productID]; ok {
		p.Price = price
	}
}

// RemoveProduct 模拟商品被下架删除
func (s *Store) RemoveProduct(productID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, productID)
}

// Stock 返回商品当前已提交的库存
func (s *Store) Stock(productID int64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return 0, false
	}
	return p.StockQuantity, true
}

// OrderCount 返回已提交的订单数
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *Store) Orders() domain.OrderRepository {
	return &orderRepository{store: s}
}

func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context, tx port.TxScope) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txScope{store: s}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	committed = true
	return nil
}

type txScope struct {
	store *Store
	undo  []func()
}

func (t *txScope) Ledger() port.InventoryLedger {
	return &ledger{tx: t}
}

func (t *txScope) Orders() domain.OrderRepository {
	return &orderRepository{store: t.store, tx: t}
}

func (t *txScope) onRollback(fn func()) {
	t.undo = append(t.undo, fn)
}

// rollback 按逆序撤销本事务内的所有修改
func (t *txScope) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

type ledger struct {
	tx *txScope
}

func (l *ledger) GetProduct(_ context.Context, productID int64) (*domain.Product, error) {
	p, ok := l.tx.store.products[productID]
	if !ok {
		return nil, &domain.ProductError{ProductID: productID, Err: domain.ErrProductNotFound}
	}
	cp := *p
	return &cp, nil
}

func (l *ledger) TryReserve(_ context.Context, productID int64, quantity int) (*port.Reservation, error) {
	if quantity <= 0 {
		return nil, &domain.ProductError{ProductID: productID, Err: domain.ErrValidation}
	}
	p, ok := l.tx.store.products[productID]
	if !ok {
		return nil, &domain.ProductError{ProductID: productID, Err: domain.ErrProductNotFound}
	}
	if p.StockQuantity < quantity {
		return nil, &domain.ProductError{ProductID: productID, Err: domain.ErrInsufficientStock}
	}

	p.StockQuantity -= quantity
	l.tx.onRollback(func() { p.StockQuantity += quantity })

	return &port.Reservation{
		ProductID:   p.ID,
		ProductName: p.Name,
		Quantity:    quantity,
		UnitPrice:   p.Price,
	}, nil
}

func (l *ledger) Release(_ context.Context, productID int64, quantity int) error {
	if quantity <= 0 {
		return &domain.ProductError{ProductID: productID, Err: domain.ErrValidation}
	}
	p, ok := l.tx.store.products[productID]
	if !ok {
		return &domain.ProductError{ProductID: productID, Err: domain.ErrProductNotFound}
	}
	p.StockQuantity += quantity
	l.tx.onRollback(func() { p.StockQuantity -= quantity })
	return nil
}

// orderRepository 在事务内 (tx != nil) 直接操作数据，事务外则每次调用自行加锁
type orderRepository struct {
	store *Store
	tx    *txScope
}

func (r *orderRepository) lock() func() {
	if r.tx != nil {
		return func() {}
	}
	r.store.mu.Lock()
	return r.store.mu.Unlock
}

func (r *orderRepository) Save(ctx context.Context, order *domain.Order) error {
	defer r.lock()()
	s := r.store

	if _, exists := s.byNumber[order.OrderNumber]; exists {
		return port.ErrDuplicateOrderNumber
	}

	s.nextOrderID++
	order.ID = s.nextOrderID
	for i := range order.Lines {
		s.nextLineID++
		order.Lines[i].ID = s.nextLineID
	}
	stored := cloneOrder(order)
	s.orders[order.ID] = stored
	s.byNumber[order.OrderNumber] = order.ID

	if r.tx != nil {
		id, number := order.ID, order.OrderNumber
		r.tx.onRollback(func() {
			delete(s.orders, id)
			delete(s.byNumber, number)
		})
	}
	return nil
}

func (r *orderRepository) FindByID(ctx context.Context, id int64) (*domain.Order, error) {
	defer r.lock()()
	o, ok := r.store.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return r.withProductNames(o), nil
}

func (r *orderRepository) FindByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	defer r.lock()()
	id, ok := r.store.byNumber[orderNumber]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return r.withProductNames(r.store.orders[id]), nil
}

func (r *orderRepository) FindByUser(ctx context.Context, userID int64) ([]*domain.Order, error) {
	defer r.lock()()
	var out []*domain.Order
	for _, o := range r.store.orders {
		if o.UserID == userID {
			out = append(out, r.withProductNames(o))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *orderRepository) List(ctx context.Context, filter domain.ListFilter) (*domain.Page, error) {
	filter = filter.Normalize()
	defer r.lock()()

	var matched []*domain.Order
	for _, o := range r.store.orders {
		if filter.UserID != nil && o.UserID != *filter.UserID {
			continue
		}
		if filter.State != nil && o.State != *filter.State {
			continue
		}
		matched = append(matched, o)
	}
	sortNewestFirst(matched)

	page := &domain.Page{TotalCount: int64(len(matched)), PageNumber: filter.PageNumber, PageSize: filter.PageSize}
	start := filter.Offset()
	if start < 0 || start > len(matched) {
		start = len(matched)
	}
	end := start + filter.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	page.Items = make([]*domain.Order, 0, end-start)
	for _, o := range matched[start:end] {
		page.Items = append(page.Items, r.withProductNames(o))
	}
	return page, nil
}

func (r *orderRepository) CompareAndSetState(ctx context.Context, id int64, from, to domain.State) (bool, error) {
	defer r.lock()()
	o, ok := r.store.orders[id]
	if !ok || o.State != from {
		return false, nil
	}
	r.setState(o, to)
	return true, nil
}

func (r *orderRepository) setState(o *domain.Order, state domain.State) {
	prevState, prevUpdated := o.State, o.UpdatedAt
	o.State = state
	o.UpdatedAt = time.Now()
	if r.tx != nil {
		r.tx.onRollback(func() {
			o.State = prevState
			o.UpdatedAt = prevUpdated
		})
	}
}

func (r *orderRepository) withProductNames(o *domain.Order) *domain.Order {
	cp := cloneOrder(o)
	for i := range cp.Lines {
		if p, ok := r.store.products[cp.Lines[i].ProductID]; ok {
			cp.Lines[i].ProductName = p.Name
		}
	}
	return cp
}

func cloneOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Lines = append([]domain.OrderLine(nil), o.Lines...)
	return &cp
}

func sortNewestFirst(orders []*domain.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}
