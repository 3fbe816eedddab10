package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/Dundurn-Market/open-tender-redux/internal/cart"
	"github.com/Dundurn-Market/open-tender-redux/internal/models"
	"github.com/Dundurn-Market/open-tender-redux/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// RecurrenceOp is the kind of write made to the recurring-order backend.
type RecurrenceOp string

const (
	RecurrenceCreate RecurrenceOp = "create"
	RecurrenceUpdate RecurrenceOp = "update"
)

// RecurrenceOutcome is the result of the recurring-order write that
// follows a committed order. Err is set when the write failed; the order
// itself still stands.
type RecurrenceOutcome struct {
	Op      RecurrenceOp
	Payload *models.RecurrencePayload
	Record  *models.Recurrence
	Err     error
}

// SubmissionResult is a committed order and everything done after it.
type SubmissionResult struct {
	Order *models.CompletedOrder
	// Account is set when a guest checkout was upgraded by logging in.
	Account    *models.CustomerAccount
	Recurrence *RecurrenceOutcome
	Tasks      Tasks
}

// SubmitError is a failed submission. FieldErrors is empty when the
// failure was handed to a recovery action.
type SubmitError struct {
	Classification Classification
	FieldErrors    models.FieldErrors
	Err            error
	Tasks          Tasks
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("order submission failed (%s): %v", e.Classification.Tag, e.Err)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// Submit creates the order assembled from snap. After the order is
// committed it logs a guest in with the submitted credentials and, for a
// cart with recurring lines, registers the recurrence.
func (p *Pipeline) Submit(ctx context.Context, snap Snapshot) (*SubmissionResult, error) {
	return p.submit(ctx, snap, true, true)
}

// SubmitForPayment creates the order for a payment flow that captures
// funds afterwards. The working alert is optional and no recurrence is
// registered.
func (p *Pipeline) SubmitForPayment(ctx context.Context, snap Snapshot, showAlert bool) (*SubmissionResult, error) {
	return p.submit(ctx, snap, showAlert, false)
}

func (p *Pipeline) submit(ctx context.Context, snap Snapshot, showAlert, withRecurrence bool) (*SubmissionResult, error) {
	ctx, span := util.StartSpan(ctx, "Pipeline.Submit")
	defer span.End()

	if err := p.machine.begin(PhaseSubmitting); err != nil {
		util.CheckoutBusyRejectionsTotal.Inc()
		return nil, err
	}
	start := time.Now()
	defer func() {
		util.CheckoutSubmitLatency.Observe(time.Since(start).Seconds())
	}()
	p.setSubmission(Pending[*SubmissionResult]())

	if showAlert {
		p.notify(ctx, models.Alert{
			Type: models.AlertWorking,
			Args: map[string]any{"text": p.opts.workingText},
		})
	}

	order := Assemble(snap)

	completed, err := p.deps.Orders.CreateOrder(ctx, order)
	if err != nil {
		p.closeAlert(ctx)
		subErr := p.failSubmission(ctx, order, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("checkout.classification", string(subErr.Classification.Tag)))
		p.machine.settle(PhaseFailed)
		return nil, subErr
	}

	result := &SubmissionResult{Order: completed}
	span.SetAttributes(attribute.Int64("checkout.order_id", completed.OrderID))

	account := snap.Customer
	if upgraded := p.upgradeGuest(ctx, order, account); upgraded != nil {
		result.Account = upgraded
		account = *upgraded
	}

	if withRecurrence && cart.HasRecurring(order.Cart) && account.Token() != "" {
		result.Recurrence = p.writeRecurrence(ctx, snap.Order.OrderID, order, completed, account)
		if result.Recurrence.Err == nil {
			token := account.Token()
			result.Tasks = append(result.Tasks,
				p.spawn(TaskRefreshRecurrences, 0, func(ctx context.Context) error {
					return p.deps.Refresher.RefreshRecurrences(ctx, token)
				}),
				p.spawn(TaskRefreshOrders, 0, func(ctx context.Context) error {
					return p.deps.Refresher.RefreshOrders(ctx, token)
				}),
			)
		}
	}

	if showAlert {
		p.closeAlert(ctx)
	}

	util.CheckoutSubmissionsTotal.WithLabelValues("success").Inc()
	p.logger.Info("Order submitted",
		zap.Int64("order_id", completed.OrderID),
		zap.Bool("guest_upgraded", result.Account != nil),
		zap.Bool("recurring", result.Recurrence != nil))

	p.setSubmission(Fulfilled(result))
	p.machine.settle(PhaseCompleted)
	return result, nil
}

// failSubmission classifies a failed order creation and dispatches its
// recovery. The cart counts alert is delayed so it is not swallowed by the
// working alert closing.
func (p *Pipeline) failSubmission(ctx context.Context, order *models.AssembledOrder, err error) *SubmitError {
	c := Classify(FieldErrorsFromError(err))
	subErr := &SubmitError{
		Classification: c,
		FieldErrors:    models.FieldErrors{},
		Err:            err,
	}
	if c.Recoverable() {
		subErr.Tasks = p.recover(ctx, c, order, p.opts.cartAlertDelay)
	} else {
		subErr.FieldErrors = c.FieldErrors
	}

	util.CheckoutSubmissionsTotal.WithLabelValues(string(c.Tag)).Inc()
	p.logger.Warn("Order submission failed",
		zap.String("classification", string(c.Tag)),
		zap.Error(err))

	p.setSubmission(Rejected[*SubmissionResult](subErr))
	return subErr
}

// upgradeGuest logs in with the credentials of a guest checkout. The order
// is already committed, so a failed login is only logged.
func (p *Pipeline) upgradeGuest(ctx context.Context, order *models.AssembledOrder, account models.CustomerAccount) *models.CustomerAccount {
	c := order.Customer
	if c == nil || c.Email == "" || c.Password == "" || account.Token() != "" {
		return nil
	}
	if p.deps.Auth == nil {
		return nil
	}

	upgraded, err := p.deps.Auth.Login(ctx, c.Email, c.Password)
	if err != nil {
		util.GuestUpgradesTotal.WithLabelValues("failure").Inc()
		p.logger.Warn("Guest login after checkout failed", zap.Error(err))
		return nil
	}
	util.GuestUpgradesTotal.WithLabelValues("success").Inc()
	return upgraded
}

// writeRecurrence registers the recurring lines of a committed order.
// priorOrderID is the order id the session held before this submission;
// when set the existing recurrence is updated instead of created.
func (p *Pipeline) writeRecurrence(ctx context.Context, priorOrderID *int64, order *models.AssembledOrder, completed *models.CompletedOrder, account models.CustomerAccount) *RecurrenceOutcome {
	ctx, span := util.StartSpan(ctx, "Pipeline.writeRecurrence")
	defer span.End()

	payload := RecurrencePayload(order, completed, account)
	outcome := &RecurrenceOutcome{Op: RecurrenceCreate, Payload: payload}
	token := account.Token()

	if priorOrderID != nil {
		outcome.Op = RecurrenceUpdate
		outcome.Record, outcome.Err = p.deps.Recurrences.UpdateRecurrence(ctx, *priorOrderID, payload, token)
	} else {
		outcome.Record, outcome.Err = p.deps.Recurrences.CreateRecurrence(ctx, payload, token)
	}

	if outcome.Err != nil {
		span.RecordError(outcome.Err)
		util.RecurrenceWritesTotal.WithLabelValues(string(outcome.Op), "failure").Inc()
		p.logger.Error("Recurring order write failed",
			zap.String("operation", string(outcome.Op)),
			zap.Int64("order_id", completed.OrderID),
			zap.Error(outcome.Err))
		return outcome
	}
	util.RecurrenceWritesTotal.WithLabelValues(string(outcome.Op), "success").Inc()
	return outcome
}

// RecurrencePayload reduces a committed order to what the recurring-order
// backend stores.
func RecurrencePayload(order *models.AssembledOrder, completed *models.CompletedOrder, account models.CustomerAccount) *models.RecurrencePayload {
	var customerID *int64
	if order.Customer != nil {
		customerID = copyID(order.Customer.CustomerID)
	}
	if customerID == nil && account.Profile != nil {
		customerID = copyID(&account.Profile.CustomerID)
	}

	cardIDs := []int64{}
	for _, t := range order.Tenders {
		if t.CustomerCardID != nil {
			cardIDs = append(cardIDs, *t.CustomerCardID)
		}
	}

	var address *models.Address
	if order.Address != nil {
		address = MergeAddress(order.Address, nil)
	}

	return &models.RecurrencePayload{
		RevenueCenterID: copyID(order.RevenueCenterID),
		ServiceType:     order.ServiceType,
		RequestedAt:     order.RequestedAt,
		Cart:            models.CloneCart(order.Cart),
		CustomerID:      customerID,
		CreditCardIDs:   cardIDs,
		OrderID:         completed.OrderID,
		Address:         address,
	}
}

func (p *Pipeline) notify(ctx context.Context, alert models.Alert) {
	if err := p.deps.Notifier.SetAlert(ctx, alert); err != nil {
		p.logger.Warn("Failed to set alert", zap.String("type", string(alert.Type)), zap.Error(err))
	}
}

func (p *Pipeline) closeAlert(ctx context.Context) {
	if err := p.deps.Notifier.CloseAlert(ctx); err != nil {
		p.logger.Warn("Failed to close alert", zap.Error(err))
	}
}
