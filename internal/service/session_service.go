package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Dundurn-Market/open-tender-redux/internal/cart"
	"github.com/Dundurn-Market/open-tender-redux/internal/models"
	"github.com/Dundurn-Market/open-tender-redux/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionService owns the cart, order context and checkout form of a
// session. Every mutation is a read-modify-write of the stored session.
type SessionService struct {
	sessions SessionStore
	commerce CommerceAPI
	ttl      time.Duration
	logger   *zap.Logger
}

// NewSessionService creates a new session service
func NewSessionService(sessions SessionStore, commerce CommerceAPI, ttl time.Duration) *SessionService {
	return &SessionService{
		sessions: sessions,
		commerce: commerce,
		ttl:      ttl,
		logger:   util.GetLogger(),
	}
}

// OrderUpdate changes the fulfillment selections of a session. Nil fields
// are left alone; Reset clears the order type before the rest is applied.
type OrderUpdate struct {
	Reset           bool                `json:"reset"`
	OrderID         *int64              `json:"order_id"`
	RevenueCenterID *int64              `json:"revenue_center_id"`
	ServiceType     *models.ServiceType `json:"service_type" binding:"omitempty,service_type"`
	RequestedAt     *string             `json:"requested_at" binding:"omitempty,requested_at"`
	Address         *models.Address     `json:"address"`
	Table           *string             `json:"table"`
	PrepType        *string             `json:"prep_type"`
	DeviceType      *string             `json:"device_type"`
	IsCurbside      *bool               `json:"is_curbside"`
	OrderFrequency  *models.Frequency   `json:"order_frequency" binding:"omitempty,frequency"`
}

// FormUpdate is shallow-merged into the checkout form: every non-nil field
// replaces the stored one.
type FormUpdate struct {
	models.CheckoutForm
	Guest *bool `json:"guest"`
}

// Create starts a new session
func (s *SessionService) Create(ctx context.Context) (*models.Session, error) {
	sess := models.NewSession(uuid.New().String(), time.Now().UTC())
	if err := s.sessions.SaveSession(ctx, sess, s.ttl); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.logger.Info("Session created", zap.String("session_id", sess.ID))
	return sess, nil
}

// Get loads a session
func (s *SessionService) Get(ctx context.Context, id string) (*models.Session, error) {
	return s.sessions.GetSession(ctx, id)
}

// Delete removes a session
func (s *SessionService) Delete(ctx context.Context, id string) error {
	return s.sessions.DeleteSession(ctx, id)
}

// Update applies fn to the stored session. fn may be retried and must not
// perform I/O.
func (s *SessionService) Update(ctx context.Context, id string, fn func(*models.Session) error) (*models.Session, error) {
	return s.sessions.UpdateSession(ctx, id, s.ttl, fn)
}

// UpdateOrder applies an OrderUpdate. A new revenue center is fetched from
// the commerce API before the session is touched.
func (s *SessionService) UpdateOrder(ctx context.Context, id string, req *OrderUpdate) (*models.Session, error) {
	ctx, span := util.StartSpan(ctx, "SessionService.UpdateOrder")
	defer span.End()

	var rc *models.RevenueCenter
	if req.RevenueCenterID != nil {
		var err error
		rc, err = s.commerce.GetRevenueCenter(ctx, *req.RevenueCenterID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch revenue center %d: %w", *req.RevenueCenterID, err)
		}
	}

	return s.Update(ctx, id, func(sess *models.Session) error {
		o := &sess.Order
		if req.Reset {
			o.ResetOrderType()
		}
		if req.OrderID != nil {
			o.OrderID = req.OrderID
		}
		if req.ServiceType != nil {
			o.ServiceType = *req.ServiceType
		}
		if rc != nil {
			o.SetRevenueCenter(rc)
		}
		if req.RequestedAt != nil {
			o.SetRequestedAt(*req.RequestedAt)
		}
		if req.Address != nil {
			o.Address = req.Address
		}
		if req.Table != nil {
			o.Table = *req.Table
		}
		if req.PrepType != nil {
			o.PrepType = *req.PrepType
		}
		if req.DeviceType != nil {
			o.DeviceType = *req.DeviceType
		}
		if req.IsCurbside != nil {
			o.IsCurbside = *req.IsCurbside
		}
		if req.OrderFrequency != nil {
			o.OrderFrequency = *req.OrderFrequency
		}
		return nil
	})
}

// UpdateForm merges a FormUpdate into the checkout form
func (s *SessionService) UpdateForm(ctx context.Context, id string, req *FormUpdate) (*models.Session, error) {
	return s.Update(ctx, id, func(sess *models.Session) error {
		f := &sess.Checkout.Form
		if req.Customer != nil {
			f.Customer = req.Customer
		}
		if req.Address != nil {
			f.Address = req.Address
		}
		if req.Details != nil {
			f.Details = req.Details
		}
		if req.Surcharges != nil {
			f.Surcharges = req.Surcharges
		}
		if req.Discounts != nil {
			f.Discounts = req.Discounts
		}
		if req.PromoCodes != nil {
			f.PromoCodes = req.PromoCodes
		}
		if req.Points != nil {
			f.Points = req.Points
		}
		if req.Tenders != nil {
			f.Tenders = req.Tenders
		}
		if req.Tip != nil {
			f.Tip = req.Tip
		}
		if req.Guest != nil {
			sess.Checkout.IsGuest = *req.Guest
		}
		return nil
	})
}

// AddItem adds a line, or replaces the line with the same index when
// editing
func (s *SessionService) AddItem(ctx context.Context, id string, item models.CartItem, editing bool) (*models.Session, error) {
	return s.mutateCart(ctx, id, func(c cart.Cart) (cart.Cart, error) {
		return c.Add(item, editing), nil
	})
}

// RemoveItem removes the line with the given index
func (s *SessionService) RemoveItem(ctx context.Context, id string, index int) (*models.Session, error) {
	return s.mutateCart(ctx, id, func(c cart.Cart) (cart.Cart, error) {
		return c.Remove(index)
	})
}

// RemoveProduct removes the first line for a product
func (s *SessionService) RemoveProduct(ctx context.Context, id string, productID int64) (*models.Session, error) {
	return s.mutateCart(ctx, id, func(c cart.Cart) (cart.Cart, error) {
		return c.RemoveByID(productID)
	})
}

// IncrementItem adds one to a line's quantity
func (s *SessionService) IncrementItem(ctx context.Context, id string, index int) (*models.Session, error) {
	return s.mutateCart(ctx, id, func(c cart.Cart) (cart.Cart, error) {
		return c.Increment(index)
	})
}

// DecrementItem takes one from a line's quantity, removing it at zero
func (s *SessionService) DecrementItem(ctx context.Context, id string, index int) (*models.Session, error) {
	return s.mutateCart(ctx, id, func(c cart.Cart) (cart.Cart, error) {
		return c.Decrement(index)
	})
}

// SetItemFrequency sets a line's recurrence cadence
func (s *SessionService) SetItemFrequency(ctx context.Context, id string, index int, freq models.Frequency) (*models.Session, error) {
	return s.mutateCart(ctx, id, func(c cart.Cart) (cart.Cart, error) {
		return c.SetFrequency(index, freq)
	})
}

// ResetCart empties the cart
func (s *SessionService) ResetCart(ctx context.Context, id string) (*models.Session, error) {
	return s.mutateCart(ctx, id, func(cart.Cart) (cart.Cart, error) {
		return cart.New(nil), nil
	})
}

func (s *SessionService) mutateCart(ctx context.Context, id string, fn func(cart.Cart) (cart.Cart, error)) (*models.Session, error) {
	return s.Update(ctx, id, func(sess *models.Session) error {
		next, err := fn(cart.New(sess.Cart))
		if err != nil {
			return err
		}
		sess.Cart = next.Items
		sess.CartCounts = next.Counts
		return nil
	})
}

// ResetAlert clears the session's alert
func (s *SessionService) ResetAlert(ctx context.Context, id string) (*models.Session, error) {
	return s.Update(ctx, id, func(sess *models.Session) error {
		sess.Order.ResetAlert()
		return nil
	})
}

// RemoveMessage drops one fulfillment message
func (s *SessionService) RemoveMessage(ctx context.Context, id, messageID string) (*models.Session, error) {
	return s.Update(ctx, id, func(sess *models.Session) error {
		sess.Order.RemoveMessage(messageID)
		return nil
	})
}
