package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/Dundurn-Market/open-tender-redux/internal/util"

	"go.uber.org/zap"
)

// TaskKind names a side effect dispatched by the pipeline.
type TaskKind string

const (
	TaskRefreshRevenueCenter TaskKind = "refresh_revenue_center"
	TaskRefreshMenu          TaskKind = "refresh_menu"
	TaskCartAlert            TaskKind = "cart_alert"
	TaskRefreshRecurrences   TaskKind = "refresh_recurrences"
	TaskRefreshOrders        TaskKind = "refresh_orders"
)

// Task is a handle on a side effect running in the background. The call
// that started it does not wait for it; callers that care about the result
// can Wait, and a torn down session can Cancel it.
type Task struct {
	Kind TaskKind

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func startTask(parent context.Context, kind TaskKind, delay time.Duration, logger *zap.Logger, fn func(context.Context) error) *Task {
	ctx, cancel := context.WithCancel(parent)
	t := &Task{Kind: kind, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(t.done)
		defer cancel()

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				t.err = ctx.Err()
				util.RecoveryActionsTotal.WithLabelValues(string(kind), "cancelled").Inc()
				return
			}
		}

		t.err = fn(ctx)
		switch {
		case t.err == nil:
			util.RecoveryActionsTotal.WithLabelValues(string(kind), "success").Inc()
		case ctx.Err() != nil:
			util.RecoveryActionsTotal.WithLabelValues(string(kind), "cancelled").Inc()
		default:
			util.RecoveryActionsTotal.WithLabelValues(string(kind), "failure").Inc()
			logger.Warn("Checkout side effect failed",
				zap.String("kind", string(kind)),
				zap.Error(t.err))
		}
	}()

	return t
}

// Done is closed once the task has finished or been cancelled.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes and returns its error.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

// Cancel stops the task. A task that already ran is unaffected.
func (t *Task) Cancel() {
	t.cancel()
}

// Tasks is a set of task handles.
type Tasks []*Task

// Wait waits for every task and returns the first error.
func (ts Tasks) Wait() error {
	var first error
	for _, t := range ts {
		if err := t.Wait(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Kinds lists the kinds of the tasks in order.
func (ts Tasks) Kinds() []TaskKind {
	kinds := make([]TaskKind, len(ts))
	for i, t := range ts {
		kinds[i] = t.Kind
	}
	return kinds
}

// taskGroup tracks running tasks so Close can cancel them.
type taskGroup struct {
	mu    sync.Mutex
	tasks map[*Task]struct{}
}

func (g *taskGroup) add(t *Task) {
	g.mu.Lock()
	if g.tasks == nil {
		g.tasks = make(map[*Task]struct{})
	}
	g.tasks[t] = struct{}{}
	g.mu.Unlock()

	go func() {
		<-t.done
		g.mu.Lock()
		delete(g.tasks, t)
		g.mu.Unlock()
	}()
}

func (g *taskGroup) cancelAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for t := range g.tasks {
		t.Cancel()
	}
}
