package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"storefront/internal/pkg/bootstrap"
	"storefront/internal/pkg/metrics"
	"storefront/internal/service/order/application"
	"storefront/internal/service/order/domain"
	"storefront/internal/service/order/domain/port"
	"storefront/internal/service/order/infrastructure/adapter"
	"storefront/internal/service/order/infrastructure/memory"
)

// lockedKeys 模拟一个所有键都已被其他请求占用的幂等存储
type lockedKeys struct{}

func (lockedKeys) TryLock(context.Context, string, string) (bool, error) { return false, nil }
func (lockedKeys) Remember(context.Context, string, string, string) error { return nil }
func (lockedKeys) Recall(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}
func (lockedKeys) Unlock(context.Context, string, string) error { return nil }

func newService(t *testing.T, uow port.UnitOfWork, idem port.IdempotencyStore) *application.OrderApplicationService {
	t.Helper()
	policy, err := adapter.NewCELTransitionPolicy("")
	require.NoError(t, err)
	return application.NewOrderApplicationService(uow, policy, nil, idem,
		metrics.NewOrderMetrics(prometheus.NewRegistry()), noop.NewTracerProvider().Tracer("test"),
		bootstrap.DefaultConfig().Order)
}

type testServer struct {
	store   *memory.Store
	mux     *http.ServeMux
	product int64
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.NewStore()
	product := store.AddProduct("Laptop", decimal.RequireFromString("10.00"), 5)

	mux := http.NewServeMux()
	NewOrderHandler(newService(t, store, nil)).RegisterRoutes(mux)
	return &testServer{store: store, mux: mux, product: product}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *testServer) do(t *testing.T, method, path, body string, userID int64, role string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID > 0 {
		req.Header.Set(headerUserID, fmt.Sprint(userID))
	}
	if role != "" {
		req.Header.Set(headerUserRole, role)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func (s *testServer) place(t *testing.T, userID int64, qty int) application.OrderResponse {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/api/orders",
		fmt.Sprintf(`{"shippingAddress":"1 Infinite Loop","items":[{"productId":%d,"quantity":%d}]}`, s.product, qty), userID, "")
	require.Equal(t, http.StatusCreated, code, env.Message)
	var o application.OrderResponse
	require.NoError(t, json.Unmarshal(env.Data, &o))
	return o
}

func TestPlaceOrderEndpoint(t *testing.T) {
	s := newTestServer(t)

	o := s.place(t, 7, 2)
	assert.Equal(t, "20.00", o.TotalAmount)
	assert.Equal(t, domain.StatePending, o.Status)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "Laptop", o.Items[0].ProductName)
	assert.Equal(t, "10.00", o.Items[0].UnitPrice)

	code, env := s.do(t, http.MethodPost, "/api/orders", `{"items":[]}`, 7, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Message, "at least one item")

	code, env = s.do(t, http.MethodPost, "/api/orders",
		fmt.Sprintf(`{"items":[{"productId":%d,"quantity":4}]}`, s.product), 7, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Message, "insufficient stock")

	code, _ = s.do(t, http.MethodPost, "/api/orders", `{not json`, 7, "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodPost, "/api/orders", `{"items":[]}`, 0, "")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestGetOrderEndpoints(t *testing.T) {
	s := newTestServer(t)
	o := s.place(t, 7, 1)

	code, _ := s.do(t, http.MethodGet, fmt.Sprintf("/api/orders/%d", o.ID), "", 7, "")
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, http.MethodGet, fmt.Sprintf("/api/orders/%d", o.ID), "", 8, "")
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, http.MethodGet, fmt.Sprintf("/api/orders/%d", o.ID), "", 8, "Admin")
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, http.MethodGet, "/api/orders/999", "", 7, "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(t, http.MethodGet, "/api/orders/abc", "", 7, "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := s.do(t, http.MethodGet, "/api/orders/by-number/"+o.OrderNumber, "", 7, "")
	require.Equal(t, http.StatusOK, code)
	var byNumber application.OrderResponse
	require.NoError(t, json.Unmarshal(env.Data, &byNumber))
	assert.Equal(t, o.ID, byNumber.ID)

	code, env = s.do(t, http.MethodGet, "/api/orders/my-orders", "", 7, "")
	require.Equal(t, http.StatusOK, code)
	var mine []application.OrderResponse
	require.NoError(t, json.Unmarshal(env.Data, &mine))
	assert.Len(t, mine, 1)
}

func TestCancelOrderEndpoint(t *testing.T) {
	s := newTestServer(t)
	o := s.place(t, 7, 3)
	path := fmt.Sprintf("/api/orders/%d/cancel", o.ID)

	code, _ := s.do(t, http.MethodPost, path, "", 8, "Admin")
	assert.Equal(t, http.StatusForbidden, code, "admins cannot cancel other users' orders")

	code, env := s.do(t, http.MethodPost, path, "", 7, "")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	stock, _ := s.store.Stock(s.product)
	assert.Equal(t, 5, stock)

	code, _ = s.do(t, http.MethodPost, path, "", 7, "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodPost, "/api/orders/999/cancel", "", 7, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAdminEndpoints(t *testing.T) {
	s := newTestServer(t)
	o := s.place(t, 7, 1)
	s.place(t, 9, 1)
	statusPath := fmt.Sprintf("/api/orders/%d/status", o.ID)

	code, _ := s.do(t, http.MethodGet, "/api/orders", "", 7, "")
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, http.MethodPut, statusPath, `{"status":"Processing"}`, 7, "")
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, http.MethodPut, statusPath, `{"status":"Teleported"}`, 1, "admin")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodPut, statusPath, `{"status":"Shipped"}`, 1, "admin")
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := s.do(t, http.MethodPut, statusPath, `{"status":"processing"}`, 1, "admin")
	require.Equal(t, http.StatusOK, code, env.Message)
	var updated application.OrderResponse
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.Equal(t, domain.StateProcessing, updated.Status)

	code, env = s.do(t, http.MethodGet, "/api/orders?status=Processing&pageNumber=1&pageSize=10", "", 1, "admin")
	require.Equal(t, http.StatusOK, code)
	var page application.PageResponse
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, int64(1), page.TotalCount)
	assert.Equal(t, int64(1), page.TotalPages)

	// page 是 pageNumber 的别名，pageNumber 优先
	code, env = s.do(t, http.MethodGet, "/api/orders?page=3&pageSize=5", "", 1, "admin")
	require.Equal(t, http.StatusOK, code)
	page = application.PageResponse{}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, 3, page.PageNumber)
	assert.Empty(t, page.Items)

	code, env = s.do(t, http.MethodGet, "/api/orders?pageNumber=2&page=3&pageSize=5", "", 1, "admin")
	require.Equal(t, http.StatusOK, code)
	page = application.PageResponse{}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, 2, page.PageNumber)

	code, env = s.do(t, http.MethodGet, "/api/orders?pageNumber=184467440737095516&pageSize=100", "", 1, "admin")
	require.Equal(t, http.StatusOK, code)
	page = application.PageResponse{}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Empty(t, page.Items)

	code, env = s.do(t, http.MethodGet, "/api/orders?userId=9", "", 1, "admin")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, int64(1), page.TotalCount)

	code, _ = s.do(t, http.MethodGet, "/api/orders?userId=nine", "", 1, "admin")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPlaceOrderEndpoint_DuplicateInFlight(t *testing.T) {
	store := memory.NewStore()
	product := store.AddProduct("Laptop", decimal.RequireFromString("10.00"), 5)
	mux := http.NewServeMux()
	NewOrderHandler(newService(t, store, lockedKeys{})).RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/api/orders",
		strings.NewReader(fmt.Sprintf(`{"items":[{"productId":%d,"quantity":1}]}`, product)))
	req.Header.Set(headerUserID, "7")
	req.Header.Set(headerIdempotencyKey, "abc")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	stock, _ := store.Stock(product)
	assert.Equal(t, 5, stock)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrEmptyOrder, http.StatusBadRequest},
		{&domain.ProductError{ProductID: 1, Err: domain.ErrInsufficientStock}, http.StatusBadRequest},
		{domain.ErrInvalidStateTransition, http.StatusBadRequest},
		{domain.ErrDuplicateRequest, http.StatusConflict},
		{domain.ErrOrderNotFound, http.StatusNotFound},
		{domain.ErrNotOwner, http.StatusForbidden},
		{&domain.InternalError{Op: "save order", Err: errors.New("db down")}, http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, statusFor(c.err), c.err.Error())
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
