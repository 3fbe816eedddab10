package service

import (
	"context"
	"errors"
	"time"

	"github.com/Dundurn-Market/open-tender-redux/internal/checkout"
	"github.com/Dundurn-Market/open-tender-redux/internal/models"
	"github.com/Dundurn-Market/open-tender-redux/internal/redisclient"
)

var (
	// ErrMissingCustomer is returned by customer-scoped calls on a session
	// that is not logged in.
	ErrMissingCustomer = errors.New("missing customer")
	// ErrMissingRequestedAt is returned when a menu is requested without a
	// requested time.
	ErrMissingRequestedAt = errors.New("requested time not set")
	// ErrMissingRevenueCenter is returned when a menu or revenue center is
	// requested without a revenue center.
	ErrMissingRevenueCenter = errors.New("revenue center not set")
)

// SessionStore persists sessions
type SessionStore interface {
	GetSession(ctx context.Context, id string) (*models.Session, error)
	SaveSession(ctx context.Context, s *models.Session, ttl time.Duration) error
	UpdateSession(ctx context.Context, id string, ttl time.Duration, fn func(*models.Session) error) (*models.Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// Locker hands out distributed locks
type Locker interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (*redisclient.Lock, error)
	RefreshLock(ctx context.Context, lock *redisclient.Lock, ttl time.Duration) error
	ReleaseLock(ctx context.Context, lock *redisclient.Lock) error
}

// CommerceAPI is the remote commerce API
type CommerceAPI interface {
	checkout.OrderAPI
	GetMenu(ctx context.Context, revenueCenterID int64, serviceType models.ServiceType, requestedAt string) (*models.Menu, error)
	GetRevenueCenter(ctx context.Context, revenueCenterID int64) (*models.RevenueCenter, error)
	GetCustomer(ctx context.Context, token string) (*models.CustomerProfile, error)
	GetCustomerOrders(ctx context.Context, token string, limit int) ([]models.CustomerOrder, error)
	Login(ctx context.Context, email, password string) (*models.Auth, error)
}

// RecurrenceAPI is the recurring-order backend
type RecurrenceAPI interface {
	checkout.RecurrenceWriter
	ListRecurrences(ctx context.Context, token string) ([]models.Recurrence, error)
	DeleteOrder(ctx context.Context, orderID int64, token string) error
}

// EventPublisher publishes checkout events
type EventPublisher interface {
	PublishCheckoutSubmitted(ctx context.Context, event *models.CheckoutSubmittedEvent) error
	PublishCheckoutFailed(ctx context.Context, event *models.CheckoutFailedEvent) error
	PublishRecurrence(ctx context.Context, event *models.RecurrenceEvent) error
}

// Settings tune the checkout services
type Settings struct {
	SessionTTL     time.Duration
	LockTTL        time.Duration
	CartAlertDelay time.Duration
	WorkingText    string
	SweepInterval  time.Duration
}

// DefaultSettings returns the settings used when none are configured
func DefaultSettings() Settings {
	return Settings{
		SessionTTL:     24 * time.Hour,
		LockTTL:        30 * time.Second,
		CartAlertDelay: checkout.DefaultCartAlertDelay,
		WorkingText:    checkout.DefaultWorkingText,
		SweepInterval:  5 * time.Minute,
	}
}
