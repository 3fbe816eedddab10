package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Dundurn-Market/open-tender-redux/internal/checkout"
	"github.com/Dundurn-Market/open-tender-redux/internal/commerce"
	"github.com/Dundurn-Market/open-tender-redux/internal/models"
	"github.com/Dundurn-Market/open-tender-redux/internal/redisclient"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readyToSubmit(frequency models.Frequency) func(*models.Session) {
	return func(s *models.Session) {
		loggedIn(s)
		s.Order.RevenueCenter = &models.RevenueCenter{RevenueCenterID: 5}
		s.Order.ServiceType = models.ServiceTypePickup
		s.Order.RequestedAt = "asap"
		s.Cart = []models.CartItem{{ID: 1, Index: 0, Quantity: 1, Price: decimal.NewFromInt(9), Frequency: frequency}}
	}
}

func TestCheckoutSubmitRecurring(t *testing.T) {
	h := newHarness(t)
	h.recurrences.list = []models.Recurrence{{ID: "rec-1", OrderID: 9001}}
	h.commerce.orders = []models.CustomerOrder{{OrderID: 9001}}
	sess := h.newSession(t, readyToSubmit(models.FrequencyWeekly))

	result, err := h.checkout.Submit(context.Background(), sess.ID)
	require.NoError(t, err)
	require.NoError(t, result.Tasks.Wait())

	assert.Equal(t, int64(9001), result.Order.OrderID)
	require.NotNil(t, result.Recurrence)
	assert.NoError(t, result.Recurrence.Err)
	assert.Equal(t, 1, h.recurrences.creates)

	stored := h.load(t, sess.ID)
	assert.Equal(t, models.CheckoutPhaseCompleted, stored.Checkout.Phase)
	require.NotNil(t, stored.Checkout.CompletedOrder)
	assert.Equal(t, int64(9001), stored.Checkout.CompletedOrder.OrderID)
	assert.Nil(t, stored.Order.Alert)
	assert.Len(t, stored.Recurrences, 1)
	assert.Len(t, stored.CustomerOrders, 1)

	require.Len(t, h.publisher.submitted, 1)
	assert.True(t, h.publisher.submitted[0].Recurring)
	assert.Equal(t, sess.ID, h.publisher.submitted[0].SessionID)
	require.Len(t, h.publisher.recurrences, 1)
	assert.Equal(t, models.EventTypeRecurrenceRegistered, h.publisher.recurrences[0].EventType)
	assert.Equal(t, "rec-1", h.publisher.recurrences[0].RecurrenceID)
	assert.Zero(t, h.locker.held["checkout:"+sess.ID])
}

func TestCheckoutSubmitRecurrenceFailure(t *testing.T) {
	h := newHarness(t)
	h.recurrences.writeErr = &commerce.APIError{Status: http.StatusUnauthorized}
	sess := h.newSession(t, readyToSubmit(models.FrequencyMonthly))

	result, err := h.checkout.Submit(context.Background(), sess.ID)
	require.NoError(t, err, "the order stands when the recurrence write fails")
	require.NotNil(t, result.Recurrence)
	assert.Error(t, result.Recurrence.Err)

	stored := h.load(t, sess.ID)
	assert.Equal(t, models.CheckoutPhaseCompleted, stored.Checkout.Phase)
	assert.Empty(t, stored.Customer.Token(), "rejected token logs the customer out")

	require.Len(t, h.publisher.recurrences, 1)
	assert.Equal(t, models.EventTypeRecurrenceFailed, h.publisher.recurrences[0].EventType)
}

func TestCheckoutSubmitFieldErrors(t *testing.T) {
	h := newHarness(t)
	h.commerce.createErr = &commerce.APIError{
		Status: http.StatusBadRequest,
		Body: map[string]any{
			"params": map[string]any{"$.order.customer.email": "invalid email"},
		},
	}
	sess := h.newSession(t, readyToSubmit(models.FrequencySingle))

	_, err := h.checkout.Submit(context.Background(), sess.ID)
	var subErr *checkout.SubmitError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, checkout.TagUnclassified, subErr.Classification.Tag)

	stored := h.load(t, sess.ID)
	assert.Equal(t, models.CheckoutPhaseFailed, stored.Checkout.Phase)
	assert.Equal(t, map[string]any{"email": "invalid email"}, stored.Checkout.Errors["customer"])
	assert.NotEmpty(t, stored.Checkout.Error)
	assert.Nil(t, stored.Order.Alert)

	require.Len(t, h.publisher.failed, 1)
	assert.Equal(t, string(checkout.TagUnclassified), h.publisher.failed[0].Classification)
	assert.Empty(t, h.publisher.submitted)
}

func TestCheckoutSubmitAfterFailureRetries(t *testing.T) {
	h := newHarness(t)
	h.commerce.createErr = errors.New("network down")
	sess := h.newSession(t, readyToSubmit(models.FrequencySingle))

	_, err := h.checkout.Submit(context.Background(), sess.ID)
	require.Error(t, err)

	h.commerce.createErr = nil
	result, err := h.checkout.Submit(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Nil(t, result.Recurrence)
	assert.Len(t, h.commerce.creates, 2)
}

func TestCheckoutSubmitLockedElsewhere(t *testing.T) {
	h := newHarness(t)
	sess := h.newSession(t, readyToSubmit(models.FrequencySingle))
	h.locker.held["checkout:"+sess.ID] = true

	_, err := h.checkout.Submit(context.Background(), sess.ID)
	assert.ErrorIs(t, err, checkout.ErrPipelineBusy)
	assert.Empty(t, h.commerce.creates)
}

func TestCheckoutSubmitForPaymentSkipsRecurrence(t *testing.T) {
	h := newHarness(t)
	sess := h.newSession(t, readyToSubmit(models.FrequencyWeekly))

	result, err := h.checkout.SubmitForPayment(context.Background(), sess.ID, false)
	require.NoError(t, err)
	assert.Nil(t, result.Recurrence)
	assert.Zero(t, h.recurrences.creates)
	assert.Empty(t, h.publisher.recurrences)
}

func TestCheckoutValidateStoresCheck(t *testing.T) {
	h := newHarness(t)
	h.commerce.check = &models.Check{
		Total:  decimal.NewFromInt(9),
		Errors: map[string]any{"promo_codes": map[string]any{"0": "expired"}},
	}
	sess := h.newSession(t, readyToSubmit(models.FrequencySingle))

	result, err := h.checkout.Validate(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, checkout.TagPromoCodeErrors, result.Classification)

	stored := h.load(t, sess.ID)
	require.NotNil(t, stored.Checkout.Check)
	assert.True(t, decimal.NewFromInt(9).Equal(stored.Checkout.Check.Total))
	assert.Contains(t, stored.Checkout.Errors, "promo_codes")
	assert.Equal(t, models.CheckoutPhaseIdle, stored.Checkout.Phase)
}

func TestResetCompletedOrder(t *testing.T) {
	h := newHarness(t)
	sess := h.newSession(t, readyToSubmit(models.FrequencySingle))

	_, err := h.checkout.Submit(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, checkout.PhaseCompleted, h.checkout.Phase(sess.ID))

	updated, err := h.checkout.ResetCompletedOrder(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Nil(t, updated.Checkout.CompletedOrder)
	assert.Equal(t, models.CheckoutPhaseIdle, updated.Checkout.Phase)
	assert.Equal(t, checkout.PhaseIdle, h.checkout.Phase(sess.ID))
}

func TestKeepLockRefreshesUntilStopped(t *testing.T) {
	h := newHarness(t)
	h.checkout.settings.LockTTL = 20 * time.Millisecond

	lock, err := h.locker.AcquireLock(context.Background(), "checkout:s1", time.Second)
	require.NoError(t, err)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		h.checkout.keepLock(lock, stop)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		h.locker.mu.Lock()
		defer h.locker.mu.Unlock()
		return h.locker.refreshed >= 2
	}, time.Second, 5*time.Millisecond)

	close(stop)
	<-done
}

func TestCheckoutReleasesLock(t *testing.T) {
	h := newHarness(t)
	sess := h.newSession(t, readyToSubmit(models.FrequencySingle))

	_, err := h.checkout.Submit(context.Background(), sess.ID)
	require.NoError(t, err)
	_, err = h.checkout.Validate(context.Background(), sess.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, h.locker.released)
	assert.Empty(t, h.locker.held)
}

func (s *CheckoutService) trackedPipelines() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pipelines)
}

func TestSweepDropsPipelineOfExpiredSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	expired := h.newSession(t, readyToSubmit(models.FrequencySingle))
	live := h.newSession(t, readyToSubmit(models.FrequencySingle))

	_, err := h.checkout.Submit(ctx, expired.ID)
	require.NoError(t, err)
	_, err = h.checkout.Submit(ctx, live.ID)
	require.NoError(t, err)
	require.Equal(t, 2, h.checkout.trackedPipelines())

	require.NoError(t, h.store.DeleteSession(ctx, expired.ID))

	assert.Equal(t, 1, h.checkout.Sweep(ctx))
	assert.Equal(t, 1, h.checkout.trackedPipelines())
	assert.Equal(t, checkout.PhaseCompleted, h.checkout.Phase(live.ID))
	assert.Equal(t, 0, h.checkout.Sweep(ctx))
}

func TestSweepDropsIdlePipeline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess := h.newSession(t, readyToSubmit(models.FrequencySingle))

	_, err := h.checkout.Validate(ctx, sess.ID)
	require.NoError(t, err)

	h.checkout.mu.Lock()
	h.checkout.pipelines[sess.ID].lastUsed = time.Now().Add(-h.checkout.settings.SessionTTL - time.Minute)
	h.checkout.mu.Unlock()

	assert.Equal(t, 1, h.checkout.Sweep(ctx))
	assert.Equal(t, 0, h.checkout.trackedPipelines())

	// the next request rebuilds the pipeline from the stored phase
	_, err = h.checkout.Submit(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, checkout.PhaseCompleted, h.checkout.Phase(sess.ID))
}

func TestRequestOnExpiredSessionReleasesPipeline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess := h.newSession(t, readyToSubmit(models.FrequencySingle))

	_, err := h.checkout.Submit(ctx, sess.ID)
	require.NoError(t, err)
	require.NoError(t, h.store.DeleteSession(ctx, sess.ID))

	_, err = h.checkout.Validate(ctx, sess.ID)
	assert.ErrorIs(t, err, redisclient.ErrSessionNotFound)
	assert.Equal(t, 0, h.checkout.trackedPipelines())
}

func TestRunSweeperStopsWithContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	sess := h.newSession(t, readyToSubmit(models.FrequencySingle))
	_, err := h.checkout.Validate(ctx, sess.ID)
	require.NoError(t, err)
	require.NoError(t, h.store.DeleteSession(ctx, sess.ID))

	done := make(chan error, 1)
	go func() { done <- h.checkout.RunSweeper(ctx, 5*time.Millisecond) }()

	assert.Eventually(t, func() bool { return h.checkout.trackedPipelines() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
