package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Dundurn-Market/open-tender-redux/internal/commerce"
	"github.com/Dundurn-Market/open-tender-redux/internal/models"
	"github.com/Dundurn-Market/open-tender-redux/internal/redisclient"
	"github.com/Dundurn-Market/open-tender-redux/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(id)
}

func (m *memStore) load(id string) (*models.Session, error) {
	data, ok := m.data[id]
	if !ok {
		return nil, redisclient.ErrSessionNotFound
	}
	var s models.Session
	err := json.Unmarshal(data, &s)
	return &s, err
}

func (m *memStore) SaveSession(ctx context.Context, s *models.Session, ttl time.Duration) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[s.ID] = data
	return nil
}

func (m *memStore) UpdateSession(ctx context.Context, id string, ttl time.Duration, fn func(*models.Session) error) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.load(id)
	if err != nil {
		return nil, err
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	m.data[id] = data
	return s, nil
}

func (m *memStore) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

type stubLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *stubLocker) AcquireLock(ctx context.Context, name string, ttl time.Duration) (*redisclient.Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return nil, nil
	}
	l.held[name] = true
	return &redisclient.Lock{Key: name, Owner: "test"}, nil
}

func (l *stubLocker) RefreshLock(ctx context.Context, lock *redisclient.Lock, ttl time.Duration) error {
	return nil
}

func (l *stubLocker) ReleaseLock(ctx context.Context, lock *redisclient.Lock) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, lock.Key)
	return nil
}

type stubCommerce struct {
	createErr error
}

func (s *stubCommerce) ValidateOrder(ctx context.Context, order *models.AssembledOrder) (*models.Check, error) {
	return &models.Check{Total: decimal.NewFromInt(10)}, nil
}

func (s *stubCommerce) CreateOrder(ctx context.Context, order *models.AssembledOrder) (*models.CompletedOrder, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &models.CompletedOrder{OrderID: 321}, nil
}

func (s *stubCommerce) GetMenu(ctx context.Context, revenueCenterID int64, serviceType models.ServiceType, requestedAt string) (*models.Menu, error) {
	return &models.Menu{}, nil
}

func (s *stubCommerce) GetRevenueCenter(ctx context.Context, revenueCenterID int64) (*models.RevenueCenter, error) {
	return &models.RevenueCenter{RevenueCenterID: revenueCenterID}, nil
}

func (s *stubCommerce) GetCustomer(ctx context.Context, token string) (*models.CustomerProfile, error) {
	return &models.CustomerProfile{CustomerID: 1}, nil
}

func (s *stubCommerce) GetCustomerOrders(ctx context.Context, token string, limit int) ([]models.CustomerOrder, error) {
	return nil, nil
}

func (s *stubCommerce) Login(ctx context.Context, email, password string) (*models.Auth, error) {
	return &models.Auth{AccessToken: "tok"}, nil
}

type stubRecurrences struct{}

func (stubRecurrences) CreateRecurrence(ctx context.Context, payload *models.RecurrencePayload, token string) (*models.Recurrence, error) {
	return &models.Recurrence{ID: "r"}, nil
}

func (stubRecurrences) UpdateRecurrence(ctx context.Context, orderID int64, payload *models.RecurrencePayload, token string) (*models.Recurrence, error) {
	return &models.Recurrence{ID: "r"}, nil
}

func (stubRecurrences) ListRecurrences(ctx context.Context, token string) ([]models.Recurrence, error) {
	return nil, nil
}

func (stubRecurrences) DeleteOrder(ctx context.Context, orderID int64, token string) error {
	return nil
}

type nopPublisher struct{}

func (nopPublisher) PublishCheckoutSubmitted(ctx context.Context, event *models.CheckoutSubmittedEvent) error {
	return nil
}

func (nopPublisher) PublishCheckoutFailed(ctx context.Context, event *models.CheckoutFailedEvent) error {
	return nil
}

func (nopPublisher) PublishRecurrence(ctx context.Context, event *models.RecurrenceEvent) error {
	return nil
}

type stubSubmissions struct{}

func (stubSubmissions) GetSubmissionsBySession(ctx context.Context, sessionID string) ([]models.Submission, error) {
	return []models.Submission{{SessionID: sessionID, Status: models.SubmissionStatusSubmitted}}, nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	router   *gin.Engine
	store    *memStore
	locker   *stubLocker
	commerce *stubCommerce
	deps     map[string]Pinger
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{
		store:    &memStore{data: map[string][]byte{}},
		locker:   &stubLocker{held: map[string]bool{}},
		commerce: &stubCommerce{},
		deps:     map[string]Pinger{},
	}
	settings := service.DefaultSettings()
	sessions := service.NewSessionService(ts.store, ts.commerce, settings.SessionTTL)
	menus := service.NewMenuService(sessions, ts.commerce)
	customers := service.NewCustomerService(sessions, ts.commerce, stubRecurrences{})
	checkoutService := service.NewCheckoutService(sessions, menus, customers, ts.commerce, stubRecurrences{}, ts.locker, nopPublisher{}, settings)
	t.Cleanup(checkoutService.Shutdown)

	ts.router = gin.New()
	NewHandler(sessions, menus, customers, checkoutService, stubSubmissions{}, ts.deps).SetupRoutes(ts.router)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) createSession(t *testing.T) string {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var sess models.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	return sess.ID
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/ready", nil).Code)

	ts.deps["redis"] = pingFunc(func(ctx context.Context) error { return errors.New("connection refused") })
	w := ts.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestSessionNotFound(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/api/v1/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCartRoutes(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)

	w := ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/cart/items", map[string]any{
		"id": 4, "quantity": 1, "price": "3.50",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/cart/items/0/increment", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sess models.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	require.Len(t, sess.Cart, 1)
	assert.Equal(t, 2, sess.Cart[0].Quantity)

	w = ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/cart/items/9/increment", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/cart/items/0/frequency", map[string]any{"frequency": "HOURLY"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/cart/items/0/frequency", map[string]any{"frequency": "WEEKLY"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodDelete, "/api/v1/sessions/"+id+"/cart/items/x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodDelete, "/api/v1/sessions/"+id+"/cart/products/7", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodDelete, "/api/v1/sessions/"+id+"/cart/products/4", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.Empty(t, sess.Cart)
}

func TestUpdateOrderValidatesFields(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)

	w := ts.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/order", map[string]any{"service_type": "TELEPORT"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/order", map[string]any{"requested_at": "noonish"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/order", map[string]any{
		"service_type":      "PICKUP",
		"requested_at":      "2026-05-01T12:00:00Z",
		"revenue_center_id": 8,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var sess models.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.Equal(t, models.ServiceTypePickup, sess.Order.ServiceType)
	require.NotNil(t, sess.Order.RevenueCenter)
	assert.Equal(t, int64(8), sess.Order.RevenueCenter.RevenueCenterID)
}

func TestSubmitRoutes(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)

	w := ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/checkout/submit", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	order := decode(t, w)["order"].(map[string]any)
	assert.Equal(t, float64(321), order["order_id"])

	w = ts.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/submissions", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodDelete, "/api/v1/sessions/"+id+"/checkout/completed", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestSubmitFieldErrors(t *testing.T) {
	ts := newTestServer(t)
	ts.commerce.createErr = &commerce.APIError{
		Status: http.StatusBadRequest,
		Body:   map[string]any{"params": map[string]any{"customer.phone": "required"}},
	}
	id := ts.createSession(t)

	w := ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/checkout/submit", nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	assert.Equal(t, "unclassified", body["classification"])
	assert.Equal(t, map[string]any{"customer": map[string]any{"phone": "required"}}, body["errors"])
}

func TestSubmitUpstreamFailureStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"server error", &commerce.APIError{Status: http.StatusServiceUnavailable, Code: "errors.server.internal"}, http.StatusBadGateway},
		{"timeout", fmt.Errorf("create order: %w", commerce.ErrTimeout), http.StatusBadGateway},
		{"malformed body", commerce.ErrMalformedResponse, http.StatusBadGateway},
		{"unauthorized", &commerce.APIError{Status: http.StatusUnauthorized}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.commerce.createErr = tt.err
			id := ts.createSession(t)

			w := ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/checkout/submit", nil)
			require.Equal(t, tt.want, w.Code)
			body := decode(t, w)
			assert.Equal(t, "Order submission failed", body["error"])
			assert.Equal(t, map[string]any{}, body["errors"])
		})
	}
}

func TestSubmitWhileLocked(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)
	ts.locker.held["checkout:"+id] = true

	w := ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/checkout/submit-pay", map[string]any{"show_alert": false})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCustomerRoutesRequireLogin(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/orders", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/login", map[string]any{"email": "nope"}).Code)

	w := ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/login", map[string]any{"email": "pat@example.com", "password": "pw"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/recurrences", nil).Code)
}

func TestFetchMenuRequiresRevenueCenter(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)

	w := ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/menu", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
