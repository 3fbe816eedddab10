package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dundurn-Market/open-tender-redux/internal/commerce"
	"github.com/Dundurn-Market/open-tender-redux/internal/models"
	"github.com/Dundurn-Market/open-tender-redux/internal/util"

	"go.uber.org/zap"
)

const (
	cancellingOrderText    = "Cancelling Order..."
	orderCancelledMessage  = "The order was successfully cancelled! Subscriptions relating to this order can be managed on the subscriptions page."
	cancelFailedMessage    = "There was an issue removing order! Order was not deleted."
	cancelNotAuthorizedMsg = "There was an issue removing order! User is not authorized"
)

// CustomerService handles the customer-scoped calls of a session
type CustomerService struct {
	sessions    *SessionService
	commerce    CommerceAPI
	recurrences RecurrenceAPI
	logger      *zap.Logger
}

// NewCustomerService creates a new customer service
func NewCustomerService(sessions *SessionService, commerce CommerceAPI, recurrences RecurrenceAPI) *CustomerService {
	return &CustomerService{
		sessions:    sessions,
		commerce:    commerce,
		recurrences: recurrences,
		logger:      util.GetLogger(),
	}
}

// Login exchanges credentials for a token, loads the profile and stores
// both with the session
func (c *CustomerService) Login(ctx context.Context, sessionID, email, password string) (*models.CustomerAccount, error) {
	ctx, span := util.StartSpan(ctx, "CustomerService.Login")
	defer span.End()

	auth, err := c.commerce.Login(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	profile, err := c.commerce.GetCustomer(ctx, auth.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch customer: %w", err)
	}

	account := &models.CustomerAccount{Auth: auth, Profile: profile}
	_, err = c.sessions.Update(ctx, sessionID, func(sess *models.Session) error {
		sess.Customer = *account
		sess.Checkout.IsGuest = false
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("Customer logged in",
		zap.String("session_id", sessionID),
		zap.Int64("customer_id", profile.CustomerID))
	return account, nil
}

// Logout clears the customer from the session
func (c *CustomerService) Logout(ctx context.Context, sessionID string) (*models.Session, error) {
	return c.sessions.Update(ctx, sessionID, func(sess *models.Session) error {
		sess.Logout()
		return nil
	})
}

// CheckAuth logs the session out when err is an unauthorized response, so
// an expired token is not reused. err is returned unchanged.
func (c *CustomerService) CheckAuth(ctx context.Context, sessionID string, err error) error {
	if err == nil || !errors.Is(err, commerce.ErrUnauthorized) {
		return err
	}
	c.logger.Info("Customer token rejected, logging out", zap.String("session_id", sessionID))
	if _, lerr := c.Logout(ctx, sessionID); lerr != nil {
		c.logger.Error("Failed to log out customer", zap.Error(lerr))
	}
	return err
}

func (c *CustomerService) token(ctx context.Context, sessionID string) (string, error) {
	sess, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	token := sess.Customer.Token()
	if token == "" {
		return "", ErrMissingCustomer
	}
	return token, nil
}

// FetchOrders loads the customer's order history into the session
func (c *CustomerService) FetchOrders(ctx context.Context, sessionID string, limit int) ([]models.CustomerOrder, error) {
	token, err := c.token(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return c.fetchOrders(ctx, sessionID, token, limit)
}

func (c *CustomerService) fetchOrders(ctx context.Context, sessionID, token string, limit int) ([]models.CustomerOrder, error) {
	ctx, span := util.StartSpan(ctx, "CustomerService.FetchOrders")
	defer span.End()

	orders, err := c.commerce.GetCustomerOrders(ctx, token, limit)
	if err != nil {
		return nil, c.CheckAuth(ctx, sessionID, err)
	}
	_, err = c.sessions.Update(ctx, sessionID, func(sess *models.Session) error {
		sess.CustomerOrders = orders
		return nil
	})
	return orders, err
}

// FetchRecurrences loads the customer's recurring orders into the session
func (c *CustomerService) FetchRecurrences(ctx context.Context, sessionID string) ([]models.Recurrence, error) {
	token, err := c.token(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return c.fetchRecurrences(ctx, sessionID, token)
}

func (c *CustomerService) fetchRecurrences(ctx context.Context, sessionID, token string) ([]models.Recurrence, error) {
	ctx, span := util.StartSpan(ctx, "CustomerService.FetchRecurrences")
	defer span.End()

	recurrences, err := c.recurrences.ListRecurrences(ctx, token)
	if err != nil {
		return nil, c.CheckAuth(ctx, sessionID, err)
	}
	_, err = c.sessions.Update(ctx, sessionID, func(sess *models.Session) error {
		sess.Recurrences = recurrences
		return nil
	})
	return recurrences, err
}

// DeleteOrder cancels a recurring order, then reloads the order history
// and tells the customer. The working alert is closed on every path.
func (c *CustomerService) DeleteOrder(ctx context.Context, sessionID string, orderID int64) (*models.Session, error) {
	ctx, span := util.StartSpan(ctx, "CustomerService.DeleteOrder")
	defer span.End()

	token, err := c.token(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrMissingCustomer) {
			c.addMessage(ctx, sessionID, cancelNotAuthorizedMsg)
		}
		return nil, err
	}

	c.setAlert(ctx, sessionID, &models.Alert{
		Type: models.AlertWorking,
		Args: map[string]any{"text": cancellingOrderText},
	})

	if err := c.recurrences.DeleteOrder(ctx, orderID, token); err != nil {
		c.logger.Warn("Order cancellation failed",
			zap.String("session_id", sessionID),
			zap.Int64("order_id", orderID),
			zap.Error(err))
		c.setAlert(ctx, sessionID, nil)
		c.addMessage(ctx, sessionID, cancelFailedMessage)
		return nil, c.CheckAuth(ctx, sessionID, err)
	}

	orders, err := c.commerce.GetCustomerOrders(ctx, token, 0)
	if err != nil {
		c.setAlert(ctx, sessionID, nil)
		return nil, c.CheckAuth(ctx, sessionID, err)
	}

	return c.sessions.Update(ctx, sessionID, func(sess *models.Session) error {
		sess.CustomerOrders = orders
		sess.Order.ResetAlert()
		sess.Order.AddMessage(orderCancelledMessage)
		return nil
	})
}

func (c *CustomerService) setAlert(ctx context.Context, sessionID string, alert *models.Alert) {
	_, err := c.sessions.Update(ctx, sessionID, func(sess *models.Session) error {
		if alert == nil {
			sess.Order.ResetAlert()
			return nil
		}
		sess.Order.SetAlert(*alert)
		return nil
	})
	if err != nil {
		c.logger.Error("Failed to update alert", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (c *CustomerService) addMessage(ctx context.Context, sessionID, text string) {
	_, err := c.sessions.Update(ctx, sessionID, func(sess *models.Session) error {
		sess.Order.AddMessage(text)
		return nil
	})
	if err != nil {
		c.logger.Error("Failed to add message", zap.String("session_id", sessionID), zap.Error(err))
	}
}
