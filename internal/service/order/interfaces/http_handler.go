package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/pkg/logger"
	"storefront/internal/pkg/metrics"
	"storefront/internal/service/order/application"
	"storefront/internal/service/order/domain"
)

const (
	serviceName = "order-service"

	// 身份由上游网关认证后通过请求头透传
	headerUserID         = "X-User-ID"
	headerUserRole       = "X-User-Role"
	headerIdempotencyKey = "Idempotency-Key"
	roleAdmin            = "admin"

	maxBodyBytes = 1 << 20
)

// OrderHandler 封装了订单服务的 HTTP 处理器
type OrderHandler struct {
	service *application.OrderApplicationService
	tracer  trace.Tracer
}

// NewOrderHandler 创建一个新的 HTTP 处理器实例
func NewOrderHandler(service *application.OrderApplicationService) *OrderHandler {
	return &OrderHandler{service: service, tracer: otel.Tracer(serviceName)}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/orders", h.traced("http.PlaceOrder", h.placeOrder))
	mux.HandleFunc("GET /api/orders/my-orders", h.traced("http.MyOrders", h.myOrders))
	mux.HandleFunc("GET /api/orders/by-number/{number}", h.traced("http.GetOrderByNumber", h.getByNumber))
	mux.HandleFunc("GET /api/orders/{id}", h.traced("http.GetOrder", h.getByID))
	mux.HandleFunc("GET /api/orders", h.traced("http.ListOrders", h.listOrders))
	mux.HandleFunc("PUT /api/orders/{id}/status", h.traced("http.UpdateOrderStatus", h.updateStatus))
	mux.HandleFunc("POST /api/orders/{id}/cancel", h.traced("http.CancelOrder", h.cancelOrder))
}

// apiResponse 是所有接口统一的响应包
type apiResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type identity struct {
	UserID  int64
	IsAdmin bool
}

// traced 从请求头恢复上游链路并为每个请求开启一个 span
func (h *OrderHandler) traced(spanName string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := h.tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.Pattern),
		)
		next(w, r.WithContext(ctx))
	}
}

func (h *OrderHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req application.PlaceOrderRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "invalid request body"})
		return
	}
	req.UserID = id.UserID
	req.IdempotencyKey = strings.TrimSpace(r.Header.Get(headerIdempotencyKey))

	order, err := h.service.PlaceOrder(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, apiResponse{
		Success: true,
		Message: "Order created successfully",
		Data:    application.ToOrderResponse(order),
	})
}

func (h *OrderHandler) myOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	orders, err := h.service.ListForUser(r.Context(), id.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: application.ToOrderResponses(orders)})
}

func (h *OrderHandler) getByID(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r)
	if !ok {
		return
	}
	order, err := h.service.GetByID(r.Context(), orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeVisibleOrder(w, r, id, order)
}

func (h *OrderHandler) getByNumber(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	order, err := h.service.GetByNumber(r.Context(), r.PathValue("number"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeVisibleOrder(w, r, id, order)
}

// writeVisibleOrder 普通用户只能查看自己的订单，管理员可以查看全部
func (h *OrderHandler) writeVisibleOrder(w http.ResponseWriter, r *http.Request, id identity, order *domain.Order) {
	if !id.IsAdmin && !order.OwnedBy(id.UserID) {
		writeJSON(w, http.StatusForbidden, apiResponse{Message: "you can only view your own orders"})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: application.ToOrderResponse(order)})
}

func (h *OrderHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	q := r.URL.Query()
	filter := domain.ListFilter{}
	pageNumber := q.Get("pageNumber")
	if pageNumber == "" {
		pageNumber = q.Get("page")
	}
	filter.PageNumber, _ = strconv.Atoi(pageNumber)
	filter.PageSize, _ = strconv.Atoi(q.Get("pageSize"))
	if v := q.Get("userId"); v != "" {
		uid, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, apiResponse{Message: "invalid userId"})
			return
		}
		filter.UserID = &uid
	}
	if v := q.Get("status"); v != "" {
		st, ok := domain.ParseState(v)
		if !ok {
			writeJSON(w, http.StatusBadRequest, apiResponse{Message: "invalid status"})
			return
		}
		filter.State = &st
	}

	page, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: application.ToPageResponse(page)})
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (h *OrderHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	orderID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req updateStatusRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "invalid request body"})
		return
	}
	target, ok := domain.ParseState(req.Status)
	if !ok {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "invalid status"})
		return
	}

	order, err := h.service.UpdateStatus(r.Context(), orderID, target)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Order status updated successfully",
		Data:    application.ToOrderResponse(order),
	})
}

func (h *OrderHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.CancelOrder(r.Context(), orderID, id.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "Order cancelled successfully"})
}

func (h *OrderHandler) requireUser(w http.ResponseWriter, r *http.Request) (identity, bool) {
	raw := strings.TrimSpace(r.Header.Get(headerUserID))
	uid, err := strconv.ParseInt(raw, 10, 64)
	if raw == "" || err != nil || uid <= 0 {
		writeJSON(w, http.StatusUnauthorized, apiResponse{Message: "missing or invalid " + headerUserID})
		return identity{}, false
	}
	return identity{
		UserID:  uid,
		IsAdmin: strings.EqualFold(strings.TrimSpace(r.Header.Get(headerUserRole)), roleAdmin),
	}, true
}

func (h *OrderHandler) requireAdmin(w http.ResponseWriter, r *http.Request) (identity, bool) {
	id, ok := h.requireUser(w, r)
	if !ok {
		return id, false
	}
	if !id.IsAdmin {
		writeJSON(w, http.StatusForbidden, apiResponse{Message: "admin role required"})
		return id, false
	}
	return id, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "invalid order id"})
		return 0, false
	}
	return id, true
}

// writeError 按错误分类映射 HTTP 状态码，内部错误不向客户端暴露细节
func (h *OrderHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		span := trace.SpanFromContext(r.Context())
		span.RecordError(err)
		span.SetStatus(codes.Error, "internal error")
		logger.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		msg = "an error occurred while processing the order"
	}
	writeJSON(w, status, apiResponse{Message: msg})
}

func statusFor(err error) int {
	if errors.Is(err, domain.ErrDuplicateRequest) {
		return http.StatusConflict
	}
	switch domain.KindOf(err) {
	case domain.KindValidation, domain.KindConflict, domain.KindStateConflict:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindAuthorization:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
