package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/Dundurn-Market/open-tender-redux/internal/models"
	"github.com/Dundurn-Market/open-tender-redux/internal/util"

	"go.uber.org/zap"
)

// OrderAPI is the commerce order endpoint pair.
type OrderAPI interface {
	ValidateOrder(ctx context.Context, order *models.AssembledOrder) (*models.Check, error)
	CreateOrder(ctx context.Context, order *models.AssembledOrder) (*models.CompletedOrder, error)
}

// Authenticator exchanges guest credentials for a customer account and
// stores it with the session.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*models.CustomerAccount, error)
}

// RecurrenceWriter is the recurring-order backend.
type RecurrenceWriter interface {
	CreateRecurrence(ctx context.Context, payload *models.RecurrencePayload, token string) (*models.Recurrence, error)
	UpdateRecurrence(ctx context.Context, orderID int64, payload *models.RecurrencePayload, token string) (*models.Recurrence, error)
}

// Notifier sets and clears the session's single alert.
type Notifier interface {
	SetAlert(ctx context.Context, alert models.Alert) error
	CloseAlert(ctx context.Context) error
}

// Refresher re-fetches server state after a failure or a recurring write.
type Refresher interface {
	RefreshRevenueCenter(ctx context.Context, vars models.MenuVars) error
	RefreshMenu(ctx context.Context, vars models.MenuVars) error
	RefreshRecurrences(ctx context.Context, token string) error
	RefreshOrders(ctx context.Context, token string) error
}

// Deps bundles the collaborators of one session's pipeline.
type Deps struct {
	Orders      OrderAPI
	Auth        Authenticator
	Recurrences RecurrenceWriter
	Notifier    Notifier
	Refresher   Refresher
}

const (
	DefaultCartAlertDelay = 500 * time.Millisecond
	DefaultWorkingText    = "Submitting your order..."
)

type options struct {
	cartAlertDelay time.Duration
	workingText    string
	initialPhase   Phase
	logger         *zap.Logger
}

// Option configures a Pipeline.
type Option func(*options)

// WithCartAlertDelay sets how long a failed submission waits before showing
// the cart counts alert, so it lands after the working alert has closed.
func WithCartAlertDelay(d time.Duration) Option {
	return func(o *options) {
		o.cartAlertDelay = d
	}
}

// WithWorkingText sets the text of the alert shown while submitting.
func WithWorkingText(text string) Option {
	return func(o *options) {
		if text != "" {
			o.workingText = text
		}
	}
}

// WithPhase restores the phase of a previously persisted session.
func WithPhase(p Phase) Option {
	return func(o *options) {
		o.initialPhase = p
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Pipeline validates and submits orders for a single session. At most one
// validation or submission runs at a time; side effects it dispatches run
// as Tasks bound to the pipeline rather than to the calling request.
type Pipeline struct {
	deps    Deps
	opts    options
	logger  *zap.Logger
	machine *machine

	baseCtx context.Context
	cancel  context.CancelFunc
	tasks   taskGroup

	mu         sync.Mutex
	validation Loadable[*ValidationResult]
	submission Loadable[*SubmissionResult]
}

// New returns a pipeline for one session.
func New(deps Deps, opts ...Option) *Pipeline {
	o := options{
		cartAlertDelay: DefaultCartAlertDelay,
		workingText:    DefaultWorkingText,
		logger:         util.GetLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		deps:    deps,
		opts:    o,
		logger:  o.logger,
		machine: newMachine(o.initialPhase),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Phase returns the current phase.
func (p *Pipeline) Phase() Phase {
	return p.machine.current()
}

// Validation returns the outcome of the last validation.
func (p *Pipeline) Validation() Loadable[*ValidationResult] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.validation
}

// Submission returns the outcome of the last submission.
func (p *Pipeline) Submission() Loadable[*SubmissionResult] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submission
}

// Reset returns a settled pipeline to idle and forgets its last outcomes.
func (p *Pipeline) Reset() error {
	if err := p.machine.begin(PhaseIdle); err != nil {
		return err
	}
	p.mu.Lock()
	p.validation = Loadable[*ValidationResult]{}
	p.submission = Loadable[*SubmissionResult]{}
	p.mu.Unlock()
	return nil
}

// Close cancels every side effect still running. Results of cancelled
// tasks are discarded.
func (p *Pipeline) Close() {
	p.cancel()
	p.tasks.cancelAll()
}

func (p *Pipeline) setValidation(l Loadable[*ValidationResult]) {
	p.mu.Lock()
	p.validation = l
	p.mu.Unlock()
}

func (p *Pipeline) setSubmission(l Loadable[*SubmissionResult]) {
	p.mu.Lock()
	p.submission = l
	p.mu.Unlock()
}

func (p *Pipeline) spawn(kind TaskKind, delay time.Duration, fn func(context.Context) error) *Task {
	t := startTask(p.baseCtx, kind, delay, p.logger, fn)
	p.tasks.add(t)
	return t
}

// recover dispatches the corrective action for a classification and
// returns the tasks it started. The cart counts alert is shown immediately
// when alertDelay is zero.
func (p *Pipeline) recover(ctx context.Context, c Classification, order *models.AssembledOrder, alertDelay time.Duration) Tasks {
	vars := refreshVars(order)

	switch c.Tag {
	case TagStaleFulfillmentContext:
		return Tasks{p.spawn(TaskRefreshRevenueCenter, 0, func(ctx context.Context) error {
			return p.deps.Refresher.RefreshRevenueCenter(ctx, vars)
		})}
	case TagStaleCart:
		return Tasks{p.spawn(TaskRefreshMenu, 0, func(ctx context.Context) error {
			return p.deps.Refresher.RefreshMenu(ctx, vars)
		})}
	case TagCartLineErrors:
		alert := models.Alert{
			Type: models.AlertCartCounts,
			Args: map[string]any{"errors": c.CartErrors},
		}
		if alertDelay <= 0 {
			err := p.deps.Notifier.SetAlert(ctx, alert)
			result := "success"
			if err != nil {
				result = "failure"
				p.logger.Warn("Failed to show cart counts alert", zap.Error(err))
			}
			util.RecoveryActionsTotal.WithLabelValues(string(TaskCartAlert), result).Inc()
			return nil
		}
		return Tasks{p.spawn(TaskCartAlert, alertDelay, func(ctx context.Context) error {
			return p.deps.Notifier.SetAlert(ctx, alert)
		})}
	}
	return nil
}

func refreshVars(order *models.AssembledOrder) models.MenuVars {
	return models.MenuVars{
		RevenueCenterID: copyID(order.RevenueCenterID),
		ServiceType:     order.ServiceType,
		RequestedAt:     order.RequestedAt,
	}
}
