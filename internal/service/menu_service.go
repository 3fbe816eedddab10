package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dundurn-Market/open-tender-redux/internal/cart"
	"github.com/Dundurn-Market/open-tender-redux/internal/menu"
	"github.com/Dundurn-Market/open-tender-redux/internal/models"
	"github.com/Dundurn-Market/open-tender-redux/internal/util"

	"go.uber.org/zap"
)

// MenuService re-fetches menus and revenue centers and reconciles the cart
// with what the server now offers
type MenuService struct {
	sessions *SessionService
	commerce CommerceAPI
	logger   *zap.Logger
}

// NewMenuService creates a new menu service
func NewMenuService(sessions *SessionService, commerce CommerceAPI) *MenuService {
	return &MenuService{
		sessions: sessions,
		commerce: commerce,
		logger:   util.GetLogger(),
	}
}

// FetchMenu loads the menu for vars and validates the session's cart
// against it. Lines that are gone or sold out are reported as cart errors
// with a cartErrors alert; otherwise the cart is replaced by its re-priced
// copy. A failed fetch triggers a revenue center refresh.
func (m *MenuService) FetchMenu(ctx context.Context, sessionID string, vars models.MenuVars) error {
	ctx, span := util.StartSpan(ctx, "MenuService.FetchMenu")
	defer span.End()

	if vars.RequestedAt == "" {
		sess, err := m.sessions.Get(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess.Menu.Error != "" {
			return fmt.Errorf("%w: %s", ErrMissingRequestedAt, sess.Menu.Error)
		}
		return ErrMissingRequestedAt
	}
	if vars.RevenueCenterID == nil {
		return ErrMissingRevenueCenter
	}

	fetched, err := m.commerce.GetMenu(ctx, *vars.RevenueCenterID, vars.ServiceType, vars.RequestedAt)
	if err != nil {
		m.logger.Warn("Menu fetch failed, refreshing revenue center",
			zap.String("session_id", sessionID),
			zap.Int64("revenue_center_id", *vars.RevenueCenterID),
			zap.Error(err))
		if _, uerr := m.sessions.Update(ctx, sessionID, func(sess *models.Session) error {
			sess.Menu.Error = err.Error()
			return nil
		}); uerr != nil {
			m.logger.Error("Failed to record menu error", zap.Error(uerr))
		}
		if rerr := m.RefreshRevenueCenter(ctx, sessionID, vars, true); rerr != nil {
			m.logger.Error("Revenue center refresh after menu failure failed", zap.Error(rerr))
		}
		return fmt.Errorf("failed to fetch menu: %w", err)
	}

	_, err = m.sessions.Update(ctx, sessionID, func(sess *models.Session) error {
		if !vars.SkipCartValidate {
			reconcileCart(sess, fetched)
		}
		v := vars
		sess.Menu = models.MenuState{
			Categories:     fetched.Categories,
			SoldOut:        fetched.SoldOutItems,
			RevenueCenters: fetched.RevenueCenters,
			Vars:           &v,
		}
		return nil
	})
	return err
}

func reconcileCart(sess *models.Session, fetched *models.Menu) {
	newCart, errs := menu.Validate(sess.Cart, fetched.Categories, fetched.SoldOutItems)
	if errs != nil {
		sess.CartErrors = &models.CartErrors{NewCart: newCart, Errors: errs}
		sess.Order.SetAlert(models.Alert{Type: models.AlertCartErrors})
		return
	}
	c := cart.New(newCart)
	sess.Cart = c.Items
	sess.CartCounts = c.Counts
	sess.CartErrors = nil
}

// RefreshRevenueCenter re-fetches the revenue center, moves the requested
// time forward when it is no longer offered and then re-fetches the menu
// with the adjusted time. fromMenu is set when the refresh was caused by a
// failed menu fetch, in which case the menu is not fetched again.
func (m *MenuService) RefreshRevenueCenter(ctx context.Context, sessionID string, vars models.MenuVars, fromMenu bool) error {
	ctx, span := util.StartSpan(ctx, "MenuService.RefreshRevenueCenter")
	defer span.End()

	if vars.RevenueCenterID == nil {
		return ErrMissingRevenueCenter
	}

	rc, err := m.commerce.GetRevenueCenter(ctx, *vars.RevenueCenterID)
	if err != nil {
		return fmt.Errorf("failed to fetch revenue center %d: %w", *vars.RevenueCenterID, err)
	}

	adjusted := vars
	_, err = m.sessions.Update(ctx, sessionID, func(sess *models.Session) error {
		sess.Order.SetRevenueCenter(rc)
		requestedAt := FirstRequestedAt(rc, vars.ServiceType, vars.RequestedAt)
		sess.Order.AdjustRequestedAt(requestedAt)
		adjusted.RequestedAt = requestedAt
		return nil
	})
	if err != nil {
		return err
	}

	if fromMenu {
		return nil
	}
	return m.FetchMenu(ctx, sessionID, adjusted)
}

// FirstRequestedAt returns the requested time to use at rc. A time the
// revenue center still offers is kept; otherwise the first available time
// is used, or "asap" when the service type has it.
func FirstRequestedAt(rc *models.RevenueCenter, serviceType models.ServiceType, previous string) string {
	first, ok := rc.FirstTimes[serviceType]
	if !ok {
		return previous
	}
	fallback := first.UTC
	if first.HasASAP {
		fallback = models.RequestedAtASAP
	}

	if previous == "" || previous == models.RequestedAtASAP {
		return fallback
	}
	prev, err := time.Parse(time.RFC3339, previous)
	if err != nil {
		return fallback
	}
	earliest, err := time.Parse(time.RFC3339, first.UTC)
	if err != nil {
		return previous
	}
	if prev.Before(earliest) {
		return first.UTC
	}
	return previous
}

// IsMissingInput reports whether err means a menu could not be requested
// at all.
func IsMissingInput(err error) bool {
	return errors.Is(err, ErrMissingRequestedAt) || errors.Is(err, ErrMissingRevenueCenter)
}
