package worker

import (
	"context"

	"github.com/Dundurn-Market/open-tender-redux/internal/broker"
	"github.com/Dundurn-Market/open-tender-redux/internal/models"
	"github.com/Dundurn-Market/open-tender-redux/internal/util"

	"go.uber.org/zap"
)

// Ledger persists checkout events exactly once per event id
type Ledger interface {
	RecordSubmissionEvent(ctx context.Context, eventID, eventType string, sub *models.Submission) (bool, error)
	RecordRecurrenceEvent(ctx context.Context, eventID, eventType string, orderID int64, status string) (bool, error)
}

// LedgerWorker consumes checkout events and writes the submission ledger
type LedgerWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	ledger       Ledger
	logger       *zap.Logger
}

// NewLedgerWorker creates a new ledger worker
func NewLedgerWorker(consumer *broker.Consumer, ledger Ledger) *LedgerWorker {
	w := &LedgerWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		ledger:       ledger,
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnCheckoutSubmitted(w.HandleCheckoutSubmitted)
	w.eventHandler.OnCheckoutFailed(w.HandleCheckoutFailed)
	w.eventHandler.OnRecurrence(w.HandleRecurrence)

	return w
}

// Start starts the worker
func (w *LedgerWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting ledger worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *LedgerWorker) Stop() error {
	w.logger.Info("Stopping ledger worker")
	return w.consumer.Close()
}

// HandleCheckoutSubmitted records a committed order
func (w *LedgerWorker) HandleCheckoutSubmitted(ctx context.Context, event *models.CheckoutSubmittedEvent) error {
	ctx, span := util.StartSpan(ctx, "LedgerWorker.HandleCheckoutSubmitted")
	defer span.End()

	orderID := event.OrderID
	sub := &models.Submission{
		EventID:          event.EventID,
		SessionID:        event.SessionID,
		OrderID:          &orderID,
		Status:           models.SubmissionStatusSubmitted,
		Recurring:        event.Recurring,
		RecurrenceStatus: models.RecurrenceStatusNone,
	}
	applied, err := w.ledger.RecordSubmissionEvent(ctx, event.EventID, event.EventType, sub)
	if err != nil {
		return err
	}
	w.logProcessed(event.BaseEvent, applied, zap.Int64("order_id", orderID))
	return nil
}

// HandleCheckoutFailed records a failed submission with its classification
func (w *LedgerWorker) HandleCheckoutFailed(ctx context.Context, event *models.CheckoutFailedEvent) error {
	ctx, span := util.StartSpan(ctx, "LedgerWorker.HandleCheckoutFailed")
	defer span.End()

	sub := &models.Submission{
		EventID:          event.EventID,
		SessionID:        event.SessionID,
		Status:           models.SubmissionStatusFailed,
		Classification:   event.Classification,
		RecurrenceStatus: models.RecurrenceStatusNone,
	}
	applied, err := w.ledger.RecordSubmissionEvent(ctx, event.EventID, event.EventType, sub)
	if err != nil {
		return err
	}
	w.logProcessed(event.BaseEvent, applied, zap.String("classification", event.Classification))
	return nil
}

// HandleRecurrence marks the recurring-order write on the order's row
func (w *LedgerWorker) HandleRecurrence(ctx context.Context, event *models.RecurrenceEvent) error {
	ctx, span := util.StartSpan(ctx, "LedgerWorker.HandleRecurrence")
	defer span.End()

	status := models.RecurrenceStatusRegistered
	if event.EventType == models.EventTypeRecurrenceFailed {
		status = models.RecurrenceStatusFailed
	}
	applied, err := w.ledger.RecordRecurrenceEvent(ctx, event.EventID, event.EventType, event.OrderID, status)
	if err != nil {
		return err
	}
	w.logProcessed(event.BaseEvent, applied, zap.Int64("order_id", event.OrderID), zap.String("status", status))
	return nil
}

func (w *LedgerWorker) logProcessed(event models.BaseEvent, applied bool, fields ...zap.Field) {
	fields = append(fields,
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType))
	if !applied {
		w.logger.Info("Event already processed, skipping", fields...)
		return
	}
	w.logger.Info("Ledger updated", fields...)
}
