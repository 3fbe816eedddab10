package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Dundurn-Market/open-tender-redux/internal/models"
	"github.com/Dundurn-Market/open-tender-redux/internal/redisclient"

	"github.com/stretchr/testify/require"
)

// memStore keeps sessions as JSON so every read is a fresh copy, the way
// the Redis store behaves.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}}
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
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
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

type fakeLocker struct {
	mu       sync.Mutex
	held      map[string]bool
	released  int
	refreshed int
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]bool{}}
}

func (f *fakeLocker) AcquireLock(ctx context.Context, name string, ttl time.Duration) (*redisclient.Lock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[name] {
		return nil, nil
	}
	f.held[name] = true
	return &redisclient.Lock{Key: name, Owner: "test"}, nil
}

func (f *fakeLocker) RefreshLock(ctx context.Context, lock *redisclient.Lock, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed++
	if !f.held[lock.Key] {
		return redisclient.ErrLockNotHeld
	}
	return nil
}

func (f *fakeLocker) ReleaseLock(ctx context.Context, lock *redisclient.Lock) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, lock.Key)
	f.released++
	return nil
}

type fakeCommerce struct {
	mu          sync.Mutex
	menu        *models.Menu
	menuErr     error
	menuCalls   []models.MenuVars
	rc          *models.RevenueCenter
	rcErr       error
	rcCalls     int
	check       *models.Check
	validateErr error
	createErr   error
	creates     []*models.AssembledOrder
	orders      []models.CustomerOrder
	ordersErr   error
	ordersCalls int
	loginErr    error
}

func (f *fakeCommerce) ValidateOrder(ctx context.Context, order *models.AssembledOrder) (*models.Check, error) {
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	return f.check, nil
}

func (f *fakeCommerce) CreateOrder(ctx context.Context, order *models.AssembledOrder) (*models.CompletedOrder, error) {
	f.mu.Lock()
	f.creates = append(f.creates, order)
	f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &models.CompletedOrder{OrderID: 9001, ServiceType: order.ServiceType}, nil
}

func (f *fakeCommerce) GetMenu(ctx context.Context, revenueCenterID int64, serviceType models.ServiceType, requestedAt string) (*models.Menu, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := revenueCenterID
	f.menuCalls = append(f.menuCalls, models.MenuVars{RevenueCenterID: &id, ServiceType: serviceType, RequestedAt: requestedAt})
	if f.menuErr != nil {
		return nil, f.menuErr
	}
	return f.menu, nil
}

func (f *fakeCommerce) GetRevenueCenter(ctx context.Context, revenueCenterID int64) (*models.RevenueCenter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rcCalls++
	if f.rcErr != nil {
		return nil, f.rcErr
	}
	return f.rc, nil
}

func (f *fakeCommerce) GetCustomer(ctx context.Context, token string) (*models.CustomerProfile, error) {
	return &models.CustomerProfile{CustomerID: 77, Email: "pat@example.com"}, nil
}

func (f *fakeCommerce) GetCustomerOrders(ctx context.Context, token string, limit int) ([]models.CustomerOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ordersCalls++
	if f.ordersErr != nil {
		return nil, f.ordersErr
	}
	return f.orders, nil
}

func (f *fakeCommerce) Login(ctx context.Context, email, password string) (*models.Auth, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &models.Auth{AccessToken: "token-" + email}, nil
}

type fakeRecurrenceAPI struct {
	mu        sync.Mutex
	creates   int
	updates   int
	writeErr  error
	list      []models.Recurrence
	listCalls int
	deleted   []int64
	deleteErr error
}

func (f *fakeRecurrenceAPI) CreateRecurrence(ctx context.Context, payload *models.RecurrencePayload, token string) (*models.Recurrence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	return &models.Recurrence{ID: "rec-1", OrderID: payload.OrderID}, nil
}

func (f *fakeRecurrenceAPI) UpdateRecurrence(ctx context.Context, orderID int64, payload *models.RecurrencePayload, token string) (*models.Recurrence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	return &models.Recurrence{ID: "rec-1", OrderID: payload.OrderID}, nil
}

func (f *fakeRecurrenceAPI) ListRecurrences(ctx context.Context, token string) ([]models.Recurrence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.list, nil
}

func (f *fakeRecurrenceAPI) DeleteOrder(ctx context.Context, orderID int64, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, orderID)
	return nil
}

type fakePublisher struct {
	mu          sync.Mutex
	submitted   []*models.CheckoutSubmittedEvent
	failed      []*models.CheckoutFailedEvent
	recurrences []*models.RecurrenceEvent
}

func (f *fakePublisher) PublishCheckoutSubmitted(ctx context.Context, event *models.CheckoutSubmittedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, event)
	return nil
}

func (f *fakePublisher) PublishCheckoutFailed(ctx context.Context, event *models.CheckoutFailedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, event)
	return nil
}

func (f *fakePublisher) PublishRecurrence(ctx context.Context, event *models.RecurrenceEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recurrences = append(f.recurrences, event)
	return nil
}

type harness struct {
	store       *memStore
	locker      *fakeLocker
	commerce    *fakeCommerce
	recurrences *fakeRecurrenceAPI
	publisher   *fakePublisher
	sessions    *SessionService
	menus       *MenuService
	customers   *CustomerService
	checkout    *CheckoutService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:       newMemStore(),
		locker:      newFakeLocker(),
		commerce:    &fakeCommerce{},
		recurrences: &fakeRecurrenceAPI{},
		publisher:   &fakePublisher{},
	}
	settings := DefaultSettings()
	settings.CartAlertDelay = 10 * time.Millisecond
	h.sessions = NewSessionService(h.store, h.commerce, settings.SessionTTL)
	h.menus = NewMenuService(h.sessions, h.commerce)
	h.customers = NewCustomerService(h.sessions, h.commerce, h.recurrences)
	h.checkout = NewCheckoutService(h.sessions, h.menus, h.customers, h.commerce, h.recurrences, h.locker, h.publisher, settings)
	t.Cleanup(h.checkout.Shutdown)
	return h
}

// newSession stores a session after applying fn to a fresh one.
func (h *harness) newSession(t *testing.T, fn func(*models.Session)) *models.Session {
	t.Helper()
	sess, err := h.sessions.Create(context.Background())
	require.NoError(t, err)
	if fn == nil {
		return sess
	}
	sess, err = h.sessions.Update(context.Background(), sess.ID, func(s *models.Session) error {
		fn(s)
		return nil
	})
	require.NoError(t, err)
	return sess
}

func (h *harness) load(t *testing.T, id string) *models.Session {
	t.Helper()
	sess, err := h.store.GetSession(context.Background(), id)
	require.NoError(t, err)
	return sess
}

func int64p(v int64) *int64 { return &v }
