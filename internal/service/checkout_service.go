package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Dundurn-Market/open-tender-redux/internal/checkout"
	"github.com/Dundurn-Market/open-tender-redux/internal/models"
	"github.com/Dundurn-Market/open-tender-redux/internal/redisclient"
	"github.com/Dundurn-Market/open-tender-redux/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrLockedElsewhere is returned when another instance holds the session's
// checkout lock. It matches checkout.ErrPipelineBusy.
var ErrLockedElsewhere = fmt.Errorf("%w: locked by another instance", checkout.ErrPipelineBusy)

// CheckoutService runs the checkout pipeline of each session, persists its
// outcome on the session and publishes checkout events
type CheckoutService struct {
	sessions    *SessionService
	menus       *MenuService
	customers   *CustomerService
	commerce    CommerceAPI
	recurrences RecurrenceAPI
	locker      Locker
	publisher   EventPublisher
	settings    Settings
	logger      *zap.Logger

	mu        sync.Mutex
	pipelines map[string]*pipelineEntry
}

type pipelineEntry struct {
	pipeline *checkout.Pipeline
	lastUsed time.Time
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(
	sessions *SessionService,
	menus *MenuService,
	customers *CustomerService,
	commerce CommerceAPI,
	recurrences RecurrenceAPI,
	locker Locker,
	publisher EventPublisher,
	settings Settings,
) *CheckoutService {
	return &CheckoutService{
		sessions:    sessions,
		menus:       menus,
		customers:   customers,
		commerce:    commerce,
		recurrences: recurrences,
		locker:      locker,
		publisher:   publisher,
		settings:    settings,
		logger:      util.GetLogger(),
		pipelines:   make(map[string]*pipelineEntry),
	}
}

// pipeline returns the session's pipeline, creating it on first use with
// the phase last persisted on the session.
func (s *CheckoutService) pipeline(sess *models.Session) *checkout.Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.pipelines[sess.ID]; ok {
		e.lastUsed = time.Now()
		return e.pipeline
	}
	effects := &sessionEffects{sessionID: sess.ID, svc: s}
	p := checkout.New(checkout.Deps{
		Orders:      s.commerce,
		Auth:        effects,
		Recurrences: s.recurrences,
		Notifier:    effects,
		Refresher:   effects,
	},
		checkout.WithPhase(checkout.Phase(sess.Checkout.Phase)),
		checkout.WithCartAlertDelay(s.settings.CartAlertDelay),
		checkout.WithWorkingText(s.settings.WorkingText),
		checkout.WithLogger(s.logger.With(zap.String("session_id", sess.ID))),
	)
	s.pipelines[sess.ID] = &pipelineEntry{pipeline: p, lastUsed: time.Now()}
	return p
}

// Close cancels the side effects still running for a session and forgets
// its pipeline
func (s *CheckoutService) Close(sessionID string) {
	s.mu.Lock()
	e, ok := s.pipelines[sessionID]
	delete(s.pipelines, sessionID)
	s.mu.Unlock()
	if ok {
		e.pipeline.Close()
	}
}

// Sweep forgets settled pipelines whose session has expired or that have
// not been used for a whole session TTL. The phase lives on the session, so
// a dropped pipeline is rebuilt on the next request. It returns how many
// pipelines were dropped.
func (s *CheckoutService) Sweep(ctx context.Context) int {
	start := time.Now()
	idleBefore := start.Add(-s.settings.SessionTTL)

	s.mu.Lock()
	candidates := make(map[string]bool, len(s.pipelines))
	for id, e := range s.pipelines {
		if e.pipeline.Phase().Settled() {
			candidates[id] = e.lastUsed.Before(idleBefore)
		}
	}
	s.mu.Unlock()

	dropped := 0
	for id, idle := range candidates {
		usedBefore := idleBefore
		if !idle {
			_, err := s.sessions.Get(ctx, id)
			if !errors.Is(err, redisclient.ErrSessionNotFound) {
				continue
			}
			usedBefore = start
		}
		if s.evictSettled(id, usedBefore) {
			dropped++
		}
	}
	if dropped > 0 {
		s.logger.Info("Dropped idle checkout pipelines", zap.Int("count", dropped))
	}
	return dropped
}

// evictSettled closes a settled pipeline last used before usedBefore
func (s *CheckoutService) evictSettled(sessionID string, usedBefore time.Time) bool {
	s.mu.Lock()
	e, ok := s.pipelines[sessionID]
	if !ok || !e.pipeline.Phase().Settled() || e.lastUsed.After(usedBefore) {
		s.mu.Unlock()
		return false
	}
	delete(s.pipelines, sessionID)
	s.mu.Unlock()
	e.pipeline.Close()
	return true
}

// RunSweeper calls Sweep every interval until ctx is done
func (s *CheckoutService) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// loadSession reads the session, forgetting its pipeline when it has expired
func (s *CheckoutService) loadSession(ctx context.Context, sessionID string) (*models.Session, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, redisclient.ErrSessionNotFound) {
		s.evictSettled(sessionID, time.Now())
	}
	return sess, err
}

// Shutdown closes every pipeline
func (s *CheckoutService) Shutdown() {
	s.mu.Lock()
	pipelines := s.pipelines
	s.pipelines = make(map[string]*pipelineEntry)
	s.mu.Unlock()
	for _, e := range pipelines {
		e.pipeline.Close()
	}
}

// Phase returns the in-process phase of a session's pipeline
func (s *CheckoutService) Phase(sessionID string) checkout.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.pipelines[sessionID]; ok {
		return e.pipeline.Phase()
	}
	return checkout.PhaseIdle
}

// withLock runs fn while holding the session's checkout lock
func (s *CheckoutService) withLock(ctx context.Context, sessionID string, fn func() error) error {
	lock, err := s.locker.AcquireLock(ctx, "checkout:"+sessionID, s.settings.LockTTL)
	if err != nil {
		return err
	}
	if lock == nil {
		util.CheckoutBusyRejectionsTotal.Inc()
		return ErrLockedElsewhere
	}
	stop := make(chan struct{})
	go s.keepLock(lock, stop)

	defer func() {
		close(stop)
		// the request may already be cancelled; the lock must still go
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.locker.ReleaseLock(releaseCtx, lock); err != nil {
			s.logger.Warn("Failed to release checkout lock",
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
	}()
	return fn()
}

// keepLock extends the lock every half TTL until stop is closed, so a slow
// commerce call does not let another instance in.
func (s *CheckoutService) keepLock(lock *redisclient.Lock, stop <-chan struct{}) {
	interval := s.settings.LockTTL / 2
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := s.locker.RefreshLock(ctx, lock, s.settings.LockTTL)
			cancel()
			if err != nil {
				s.logger.Warn("Failed to refresh checkout lock", zap.String("lock", lock.Key), zap.Error(err))
				return
			}
		}
	}
}

// Validate validates the session's current order
func (s *CheckoutService) Validate(ctx context.Context, sessionID string) (*checkout.ValidationResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Validate")
	defer span.End()

	var result *checkout.ValidationResult
	err := s.withLock(ctx, sessionID, func() error {
		sess, err := s.loadSession(ctx, sessionID)
		if err != nil {
			return err
		}

		p := s.pipeline(sess)
		var verr error
		result, verr = p.Validate(ctx, checkout.SnapshotOf(sess), nil)
		if errors.Is(verr, checkout.ErrPipelineBusy) {
			return verr
		}

		_, err = s.sessions.Update(ctx, sessionID, func(sess *models.Session) error {
			sess.Checkout.Phase = string(p.Phase())
			if verr != nil {
				sess.Checkout.Error = verr.Error()
				return nil
			}
			sess.Checkout.Check = result.Check
			sess.Checkout.Errors = result.FieldErrors
			sess.Checkout.Error = ""
			return nil
		})
		if err != nil {
			s.logger.Error("Failed to store validation result", zap.String("session_id", sessionID), zap.Error(err))
		}
		return verr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Submit submits the session's order
func (s *CheckoutService) Submit(ctx context.Context, sessionID string) (*checkout.SubmissionResult, error) {
	return s.submit(ctx, sessionID, func(p *checkout.Pipeline, snap checkout.Snapshot) (*checkout.SubmissionResult, error) {
		return p.Submit(ctx, snap)
	})
}

// SubmitForPayment submits the session's order ahead of payment capture
func (s *CheckoutService) SubmitForPayment(ctx context.Context, sessionID string, showAlert bool) (*checkout.SubmissionResult, error) {
	return s.submit(ctx, sessionID, func(p *checkout.Pipeline, snap checkout.Snapshot) (*checkout.SubmissionResult, error) {
		return p.SubmitForPayment(ctx, snap, showAlert)
	})
}

type submitFunc func(*checkout.Pipeline, checkout.Snapshot) (*checkout.SubmissionResult, error)

func (s *CheckoutService) submit(ctx context.Context, sessionID string, run submitFunc) (*checkout.SubmissionResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Submit")
	defer span.End()

	var result *checkout.SubmissionResult
	err := s.withLock(ctx, sessionID, func() error {
		sess, err := s.loadSession(ctx, sessionID)
		if err != nil {
			return err
		}
		p := s.pipeline(sess)
		if phase := p.Phase(); !phase.Settled() {
			util.CheckoutBusyRejectionsTotal.Inc()
			return &checkout.TransitionError{From: phase, To: checkout.PhaseSubmitting}
		}

		s.storePhase(ctx, sessionID, checkout.PhaseSubmitting)

		var serr error
		result, serr = run(p, checkout.SnapshotOf(sess))
		if errors.Is(serr, checkout.ErrPipelineBusy) {
			return serr
		}
		if serr != nil {
			s.recordFailure(ctx, sessionID, p.Phase(), serr)
			return serr
		}
		s.recordSuccess(ctx, sess, p.Phase(), result)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *CheckoutService) storePhase(ctx context.Context, sessionID string, phase checkout.Phase) {
	_, err := s.sessions.Update(ctx, sessionID, func(sess *models.Session) error {
		sess.Checkout.Phase = string(phase)
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to store checkout phase", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *CheckoutService) recordFailure(ctx context.Context, sessionID string, phase checkout.Phase, err error) {
	tag := checkout.TagUnclassified
	fields := models.FieldErrors{}
	var subErr *checkout.SubmitError
	if errors.As(err, &subErr) {
		tag = subErr.Classification.Tag
		fields = subErr.FieldErrors
	}

	_, uerr := s.sessions.Update(ctx, sessionID, func(sess *models.Session) error {
		sess.Checkout.Phase = string(phase)
		sess.Checkout.Errors = fields
		sess.Checkout.Error = err.Error()
		return nil
	})
	if uerr != nil {
		s.logger.Error("Failed to store submission failure", zap.String("session_id", sessionID), zap.Error(uerr))
	}

	event := &models.CheckoutFailedEvent{
		BaseEvent:      newBaseEvent(models.EventTypeCheckoutFailed),
		SessionID:      sessionID,
		Classification: string(tag),
		Reason:         err.Error(),
	}
	if perr := s.publisher.PublishCheckoutFailed(ctx, event); perr != nil {
		s.logger.Error("Failed to publish CheckoutFailed event", zap.Error(perr))
	}
}

func (s *CheckoutService) recordSuccess(ctx context.Context, sess *models.Session, phase checkout.Phase, result *checkout.SubmissionResult) {
	_, err := s.sessions.Update(ctx, sess.ID, func(stored *models.Session) error {
		stored.Checkout.Phase = string(phase)
		stored.Checkout.CompletedOrder = result.Order
		stored.Checkout.Errors = models.FieldErrors{}
		stored.Checkout.Error = ""
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to store completed order", zap.String("session_id", sess.ID), zap.Error(err))
	}

	submitted := &models.CheckoutSubmittedEvent{
		BaseEvent:       newBaseEvent(models.EventTypeCheckoutSubmitted),
		SessionID:       sess.ID,
		OrderID:         result.Order.OrderID,
		RevenueCenterID: sess.Order.RevenueCenterID(),
		ServiceType:     sess.Order.ServiceType,
		Recurring:       result.Recurrence != nil,
		GuestUpgraded:   result.Account != nil,
	}
	if err := s.publisher.PublishCheckoutSubmitted(ctx, submitted); err != nil {
		s.logger.Error("Failed to publish CheckoutSubmitted event", zap.Error(err))
	}

	rec := result.Recurrence
	if rec == nil {
		return
	}
	event := &models.RecurrenceEvent{
		SessionID: sess.ID,
		OrderID:   result.Order.OrderID,
		Operation: string(rec.Op),
	}
	if rec.Err != nil {
		event.BaseEvent = newBaseEvent(models.EventTypeRecurrenceFailed)
		event.Reason = rec.Err.Error()
		_ = s.customers.CheckAuth(ctx, sess.ID, rec.Err)
	} else {
		event.BaseEvent = newBaseEvent(models.EventTypeRecurrenceRegistered)
		if rec.Record != nil {
			event.RecurrenceID = rec.Record.ID
		}
	}
	if err := s.publisher.PublishRecurrence(ctx, event); err != nil {
		s.logger.Error("Failed to publish recurrence event", zap.Error(err))
	}
}

// ResetCompletedOrder clears the completed order and returns the session's
// pipeline to idle
func (s *CheckoutService) ResetCompletedOrder(ctx context.Context, sessionID string) (*models.Session, error) {
	var sess *models.Session
	err := s.withLock(ctx, sessionID, func() error {
		stored, err := s.loadSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if err := s.pipeline(stored).Reset(); err != nil {
			return err
		}
		sess, err = s.sessions.Update(ctx, sessionID, func(stored *models.Session) error {
			stored.ResetCheckout()
			return nil
		})
		return err
	})
	return sess, err
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// sessionEffects binds the pipeline's collaborators to one session
type sessionEffects struct {
	sessionID string
	svc       *CheckoutService
}

func (e *sessionEffects) Login(ctx context.Context, email, password string) (*models.CustomerAccount, error) {
	return e.svc.customers.Login(ctx, e.sessionID, email, password)
}

func (e *sessionEffects) SetAlert(ctx context.Context, alert models.Alert) error {
	_, err := e.svc.sessions.Update(ctx, e.sessionID, func(sess *models.Session) error {
		sess.Order.SetAlert(alert)
		return nil
	})
	return err
}

func (e *sessionEffects) CloseAlert(ctx context.Context) error {
	_, err := e.svc.sessions.ResetAlert(ctx, e.sessionID)
	return err
}

func (e *sessionEffects) RefreshRevenueCenter(ctx context.Context, vars models.MenuVars) error {
	return e.svc.menus.RefreshRevenueCenter(ctx, e.sessionID, vars, false)
}

func (e *sessionEffects) RefreshMenu(ctx context.Context, vars models.MenuVars) error {
	return e.svc.menus.FetchMenu(ctx, e.sessionID, vars)
}

func (e *sessionEffects) RefreshRecurrences(ctx context.Context, token string) error {
	_, err := e.svc.customers.fetchRecurrences(ctx, e.sessionID, token)
	return err
}

func (e *sessionEffects) RefreshOrders(ctx context.Context, token string) error {
	_, err := e.svc.customers.fetchOrders(ctx, e.sessionID, token, 0)
	return err
}
