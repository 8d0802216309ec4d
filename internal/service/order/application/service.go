// internal/service/order/application/service.go
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/pkg/bootstrap"
	"storefront/internal/pkg/logger"
	"storefront/internal/pkg/metrics"
	"storefront/internal/service/order/domain"
	"storefront/internal/service/order/domain/port"
)

const placeOrderScope = "place_order"

// OrderApplicationService 编排下单、取消、后台状态变更和查询用例。
// 库存与订单的一致性完全依赖 UnitOfWork 的事务范围，没有任何补偿逻辑。
type OrderApplicationService struct {
	uow         port.UnitOfWork
	policy      port.TransitionPolicy
	publisher   port.EventPublisher   // 可为 nil
	idempotency port.IdempotencyStore // 可为 nil
	metrics     *metrics.OrderMetrics // 可为 nil
	tracer      trace.Tracer
	cfg         bootstrap.OrderConfig

	now            func() time.Time
	newOrderNumber func(time.Time) string
}

func NewOrderApplicationService(uow port.UnitOfWork, policy port.TransitionPolicy, publisher port.EventPublisher, idempotency port.IdempotencyStore, m *metrics.OrderMetrics, tracer trace.Tracer, cfg bootstrap.OrderConfig) *OrderApplicationService {
	if cfg.OrderNumberAttempts < 1 {
		cfg.OrderNumberAttempts = 1
	}
	return &OrderApplicationService{
		uow: uow, policy: policy,
		publisher: publisher, idempotency: idempotency,
		metrics: m, tracer: tracer, cfg: cfg,
		now:            time.Now,
		newOrderNumber: domain.NewOrderNumber,
	}
}

// PlaceOrder 下单：在一个事务范围内按请求顺序逐行预占库存、冻结单价、计算总价并保存订单。
// 任意一行失败都会让整个事务回滚，之前的预占全部撤销。
func (s *OrderApplicationService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (order *domain.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "app.PlaceOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		s.count("placement", err)
		s.metrics.ObserveSince("place_order", start)
	}()

	span.SetAttributes(
		attribute.Int64("user.id", req.UserID),
		attribute.Int("order.items", len(req.Items)),
	)

	if err := req.Validate(s.cfg.MaxShippingAddressLength, s.cfg.MaxNotesLength); err != nil {
		return nil, s.fail(span, "place order", err)
	}

	if req.IdempotencyKey != "" && s.idempotency != nil {
		order, err = s.placeIdempotent(ctx, span, req)
	} else {
		order, err = s.place(ctx, span, req)
	}
	if err != nil {
		return nil, s.fail(span, "place order", err)
	}

	span.SetAttributes(attribute.String("order.number", order.OrderNumber))
	return order, nil
}

// placeIdempotent 同一用户的同一个幂等键只会真正下单一次，重复请求直接返回首次创建的订单
func (s *OrderApplicationService) placeIdempotent(ctx context.Context, span trace.Span, req *PlaceOrderRequest) (*domain.Order, error) {
	scope := fmt.Sprintf("%s:%d", placeOrderScope, req.UserID)
	log := logger.Ctx(ctx)

	if order, ok, err := s.replay(ctx, scope, req.IdempotencyKey); err != nil || ok {
		if ok {
			span.AddEvent("Idempotent replay of an existing order.")
		}
		return order, err
	}

	locked, err := s.idempotency.TryLock(ctx, scope, req.IdempotencyKey)
	if err != nil {
		return nil, &domain.InternalError{Op: "lock idempotency key", Err: err}
	}
	if !locked {
		// 可能是并发请求刚刚完成
		if order, ok, err := s.replay(ctx, scope, req.IdempotencyKey); err != nil || ok {
			return order, err
		}
		return nil, domain.ErrDuplicateRequest
	}

	order, err := s.place(ctx, span, req)
	if err != nil {
		if uerr := s.idempotency.Unlock(ctx, scope, req.IdempotencyKey); uerr != nil {
			log.Warn().Err(uerr).Str("idempotency_key", req.IdempotencyKey).Msg("Failed to release idempotency key")
		}
		return nil, err
	}

	// 订单已经提交，记录失败只影响后续重放，不能让本次请求失败
	if err := s.idempotency.Remember(ctx, scope, req.IdempotencyKey, order.OrderNumber); err != nil {
		log.Warn().Err(err).Str("order_number", order.OrderNumber).Msg("Failed to remember idempotency result")
	}
	return order, nil
}

func (s *OrderApplicationService) replay(ctx context.Context, scope, key string) (*domain.Order, bool, error) {
	number, ok, err := s.idempotency.Recall(ctx, scope, key)
	if err != nil {
		return nil, false, &domain.InternalError{Op: "recall idempotency key", Err: err}
	}
	if !ok {
		return nil, false, nil
	}
	order, err := s.uow.Orders().FindByNumber(ctx, number)
	if err != nil {
		return nil, false, err
	}
	return order, true, nil
}

// place 订单号撞上唯一索引时整个事务回滚，换一个订单号重试
func (s *OrderApplicationService) place(ctx context.Context, span trace.Span, req *PlaceOrderRequest) (*domain.Order, error) {
	log := logger.Ctx(ctx)

	var (
		order *domain.Order
		err   error
	)
	for attempt := 1; attempt <= s.cfg.OrderNumberAttempts; attempt++ {
		number := s.newOrderNumber(s.now())
		order, err = s.placeOnce(ctx, req, number)
		if !errors.Is(err, port.ErrDuplicateOrderNumber) {
			break
		}
		log.Warn().Str("order_number", number).Int("attempt", attempt).Msg("Order number collision, retrying")
		span.AddEvent("Order number collision", trace.WithAttributes(attribute.Int("attempt", attempt)))
	}
	if err != nil {
		return nil, err
	}
	span.AddEvent("Order committed with PENDING state.")

	units := 0
	for _, l := range order.Lines {
		units += l.Quantity
	}
	if s.metrics != nil {
		s.metrics.ReservedUnits.Add(float64(units))
	}
	log.Info().Int64("order_id", order.ID).Str("order_number", order.OrderNumber).
		Int64("user_id", order.UserID).Str("total", order.TotalAmount.StringFixed(2)).
		Msg("Order placed")

	s.publish(ctx, domain.NewOrderEvent(domain.EventOrderPlaced, order, "", order.CreatedAt))

	// 重新加载以带上商品展示信息；订单已提交，加载失败时返回内存中的订单
	reloaded, err := s.uow.Orders().FindByID(ctx, order.ID)
	if err != nil {
		log.Warn().Err(err).Int64("order_id", order.ID).Msg("Failed to reload placed order")
		return order, nil
	}
	return reloaded, nil
}

func (s *OrderApplicationService) placeOnce(ctx context.Context, req *PlaceOrderRequest, orderNumber string) (*domain.Order, error) {
	var placed *domain.Order
	err := s.uow.Transaction(ctx, func(ctx context.Context, tx port.TxScope) error {
		ledger := tx.Ledger()
		lines := make([]domain.OrderLine, 0, len(req.Items))
		for _, item := range req.Items {
			res, err := ledger.TryReserve(ctx, item.ProductID, item.Quantity)
			if err != nil {
				return err
			}
			lines = append(lines, domain.OrderLine{
				ProductID:   res.ProductID,
				ProductName: res.ProductName,
				Quantity:    res.Quantity,
				UnitPrice:   res.UnitPrice,
			})
		}

		order, err := domain.NewOrder(orderNumber, req.UserID, req.ShippingAddress, req.Notes, lines, s.now())
		if err != nil {
			return err
		}
		if err := tx.Orders().Save(ctx, order); err != nil {
			return err
		}
		placed = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return placed, nil
}

// CancelOrder 用户自助取消：只能取消自己的 Pending 订单，并在同一事务内归还每一行的库存。
// 状态翻转使用条件更新，两个并发取消只有一个能成功，库存只会归还一次。
func (s *OrderApplicationService) CancelOrder(ctx context.Context, orderID, userID int64) (err error) {
	ctx, span := s.tracer.Start(ctx, "app.CancelOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		s.count("cancellation", err)
		s.metrics.ObserveSince("cancel_order", start)
	}()

	span.SetAttributes(attribute.Int64("order.id", orderID), attribute.Int64("user.id", userID))
	log := logger.Ctx(ctx).With().Int64("order_id", orderID).Logger()

	order, err := s.uow.Orders().FindByID(ctx, orderID)
	if err != nil {
		return s.fail(span, "cancel order", err)
	}
	if !order.OwnedBy(userID) {
		return s.fail(span, "cancel order", domain.ErrNotOwner)
	}
	if err := order.Cancel(s.now()); err != nil {
		return s.fail(span, "cancel order", err)
	}

	released := 0
	err = s.uow.Transaction(ctx, func(ctx context.Context, tx port.TxScope) error {
		released = 0
		swapped, err := tx.Orders().CompareAndSetState(ctx, orderID, domain.StatePending, domain.StateCancelled)
		if err != nil {
			return err
		}
		if !swapped {
			return fmt.Errorf("%w: order %d is no longer pending", domain.ErrInvalidStateTransition, orderID)
		}

		ledger := tx.Ledger()
		for _, line := range order.Lines {
			err := ledger.Release(ctx, line.ProductID, line.Quantity)
			if errors.Is(err, domain.ErrProductNotFound) {
				log.Warn().Int64("product_id", line.ProductID).Msg("Product no longer exists, skipping stock release")
				continue
			}
			if err != nil {
				return err
			}
			released += line.Quantity
		}
		return nil
	})
	if err != nil {
		return s.fail(span, "cancel order", err)
	}

	if s.metrics != nil {
		s.metrics.ReleasedUnits.Add(float64(released))
	}
	span.AddEvent("Order cancelled and stock released.")
	log.Info().Int("released_units", released).Msg("Order cancelled")

	s.publish(ctx, domain.NewOrderEvent(domain.EventOrderCancelled, order, domain.StatePending, order.UpdatedAt))
	return nil
}

// UpdateStatus 后台/履约状态变更。只允许沿迁移表前进，且不能借此取消订单 (取消需要归还库存)。
func (s *OrderApplicationService) UpdateStatus(ctx context.Context, orderID int64, target domain.State) (order *domain.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "app.UpdateStatus")
	defer span.End()

	start := time.Now()
	defer func() {
		s.recordStatusUpdate(target, err)
		s.metrics.ObserveSince("update_status", start)
	}()

	span.SetAttributes(attribute.Int64("order.id", orderID), attribute.String("order.target_state", string(target)))

	order, err = s.uow.Orders().FindByID(ctx, orderID)
	if err != nil {
		return nil, s.fail(span, "update order status", err)
	}

	from := order.State
	allowed, err := s.policy.Allow(from, target)
	if err != nil {
		return nil, s.fail(span, "evaluate transition policy", err)
	}
	if !allowed {
		return nil, s.fail(span, "update order status",
			fmt.Errorf("%w: %s -> %s is not allowed", domain.ErrInvalidStateTransition, from, target))
	}

	err = s.uow.Transaction(ctx, func(ctx context.Context, tx port.TxScope) error {
		swapped, err := tx.Orders().CompareAndSetState(ctx, orderID, from, target)
		if err != nil {
			return err
		}
		if !swapped {
			return fmt.Errorf("%w: order %d is no longer %s", domain.ErrInvalidStateTransition, orderID, from)
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(span, "update order status", err)
	}

	order.AdvanceTo(target, s.now())
	logger.Ctx(ctx).Info().Int64("order_id", orderID).
		Str("from", string(from)).Str("to", string(target)).
		Msg("Order status updated")
	s.publish(ctx, domain.NewOrderEvent(domain.EventOrderStatusChanged, order, from, order.UpdatedAt))

	if reloaded, err := s.uow.Orders().FindByID(ctx, orderID); err == nil {
		return reloaded, nil
	}
	return order, nil
}

func (s *OrderApplicationService) GetByID(ctx context.Context, orderID int64) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetByID")
	defer span.End()

	order, err := s.uow.Orders().FindByID(ctx, orderID)
	if err != nil {
		return nil, s.fail(span, "get order", err)
	}
	return order, nil
}

func (s *OrderApplicationService) GetByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetByNumber")
	defer span.End()

	order, err := s.uow.Orders().FindByNumber(ctx, orderNumber)
	if err != nil {
		return nil, s.fail(span, "get order by number", err)
	}
	return order, nil
}

// ListForUser 返回用户的全部订单，最新的在前
func (s *OrderApplicationService) ListForUser(ctx context.Context, userID int64) ([]*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.ListForUser")
	defer span.End()

	orders, err := s.uow.Orders().FindByUser(ctx, userID)
	if err != nil {
		return nil, s.fail(span, "list user orders", err)
	}
	span.SetAttributes(attribute.Int("order.count", len(orders)))
	return orders, nil
}

// List 后台分页查询
func (s *OrderApplicationService) List(ctx context.Context, filter domain.ListFilter) (*domain.Page, error) {
	ctx, span := s.tracer.Start(ctx, "app.List")
	defer span.End()

	page, err := s.uow.Orders().List(ctx, filter)
	if err != nil {
		return nil, s.fail(span, "list orders", err)
	}
	return page, nil
}

// publish 事件在事务提交之后发出，发送失败只记录日志
func (s *OrderApplicationService) publish(ctx context.Context, event *domain.OrderEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
		logger.Ctx(ctx).Error().Err(err).
			Str("event", string(event.Type)).Int64("order_id", event.OrderID).
			Msg("Failed to publish order event")
	}
}

// fail 记录 span 错误；非业务错误统一包装为可重试的 InternalError
func (s *OrderApplicationService) fail(span trace.Span, op string, err error) error {
	if domain.KindOf(err) == domain.KindInternal {
		var internal *domain.InternalError
		if !errors.As(err, &internal) {
			err = &domain.InternalError{Op: op, Err: err}
		}
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, op+" failed")
	return err
}

// count 记录下单/取消结果，metrics 为 nil 时什么都不做
func (s *OrderApplicationService) count(workflow string, err error) {
	if s.metrics == nil {
		return
	}
	switch workflow {
	case "placement":
		s.metrics.Placements.WithLabelValues(resultLabel(err)).Inc()
	case "cancellation":
		s.metrics.Cancellations.WithLabelValues(resultLabel(err)).Inc()
	}
}

func (s *OrderApplicationService) recordStatusUpdate(target domain.State, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.StatusUpdates.WithLabelValues(string(target), resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	return domain.KindOf(err).String()
}
