package checkout

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Dundurn-Market/open-tender-redux/internal/models"
)

// Phase is the state of a session's checkout pipeline.
type Phase string

const (
	PhaseIdle       Phase = models.CheckoutPhaseIdle
	PhaseValidating Phase = models.CheckoutPhaseValidating
	PhaseSubmitting Phase = models.CheckoutPhaseSubmitting
	PhaseCompleted  Phase = models.CheckoutPhaseCompleted
	PhaseFailed     Phase = models.CheckoutPhaseFailed
)

// Settled reports whether a new validation or submission may start from p.
func (p Phase) Settled() bool {
	return p == PhaseIdle || p == PhaseCompleted || p == PhaseFailed
}

// ErrPipelineBusy is matched by every rejected transition.
var ErrPipelineBusy = errors.New("checkout pipeline busy")

// TransitionError is returned when validate or submit is called while the
// pipeline is already validating or submitting.
type TransitionError struct {
	From Phase
	To   Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move checkout from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrPipelineBusy
}

// machine guards phase transitions. The mutex is held only for the
// transition itself, never across a remote call.
type machine struct {
	mu    sync.Mutex
	phase Phase
}

func newMachine(initial Phase) *machine {
	if initial == "" {
		initial = PhaseIdle
	}
	// A phase restored from storage mid-flight belongs to a request that no
	// longer exists.
	if !initial.Settled() {
		initial = PhaseIdle
	}
	return &machine{phase: initial}
}

// begin moves a settled pipeline into a busy phase.
func (m *machine) begin(to Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.phase.Settled() {
		return &TransitionError{From: m.phase, To: to}
	}
	m.phase = to
	return nil
}

// settle ends the busy phase started by begin.
func (m *machine) settle(to Phase) {
	m.mu.Lock()
	m.phase = to
	m.mu.Unlock()
}

func (m *machine) current() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Status is the lifecycle tag of a Loadable.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusPending   Status = "pending"
	StatusFulfilled Status = "fulfilled"
	StatusRejected  Status = "rejected"
)

// Loadable is the outcome of one asynchronous operation: pending, fulfilled
// with a value, or rejected with an error.
type Loadable[T any] struct {
	Status Status
	Value  T
	Err    error
}

func Pending[T any]() Loadable[T] {
	return Loadable[T]{Status: StatusPending}
}

func Fulfilled[T any](v T) Loadable[T] {
	return Loadable[T]{Status: StatusFulfilled, Value: v}
}

func Rejected[T any](err error) Loadable[T] {
	return Loadable[T]{Status: StatusRejected, Err: err}
}

// Get returns the value of a fulfilled Loadable or the error of a rejected
// one. Idle and pending loadables return the zero value and nil.
func (l Loadable[T]) Get() (T, error) {
	if l.Status == StatusRejected {
		var zero T
		return zero, l.Err
	}
	return l.Value, nil
}

// Match calls the handler for the current status.
func Match[T, R any](l Loadable[T], pending func() R, fulfilled func(T) R, rejected func(error) R) R {
	switch l.Status {
	case StatusFulfilled:
		return fulfilled(l.Value)
	case StatusRejected:
		return rejected(l.Err)
	default:
		return pending()
	}
}
