package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Dundurn-Market/open-tender-redux/internal/models"
	"github.com/Dundurn-Market/open-tender-redux/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher publishes checkout events keyed by session, so every
// event of a session lands on the same partition in order.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session-%s", sessionID)
}

// PublishCheckoutSubmitted publishes CheckoutSubmitted event
func (ep *EventPublisher) PublishCheckoutSubmitted(ctx context.Context, event *models.CheckoutSubmittedEvent) error {
	return ep.producer.PublishEvent(ctx, sessionKey(event.SessionID), event)
}

// PublishCheckoutFailed publishes CheckoutFailed event
func (ep *EventPublisher) PublishCheckoutFailed(ctx context.Context, event *models.CheckoutFailedEvent) error {
	return ep.producer.PublishEvent(ctx, sessionKey(event.SessionID), event)
}

// PublishRecurrence publishes RecurrenceRegistered or RecurrenceFailed
func (ep *EventPublisher) PublishRecurrence(ctx context.Context, event *models.RecurrenceEvent) error {
	return ep.producer.PublishEvent(ctx, sessionKey(event.SessionID), event)
}

// EventHandler routes consumed checkout events to registered handlers
type EventHandler struct {
	onSubmitted  func(context.Context, *models.CheckoutSubmittedEvent) error
	onFailed     func(context.Context, *models.CheckoutFailedEvent) error
	onRecurrence func(context.Context, *models.RecurrenceEvent) error
	logger       *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnCheckoutSubmitted registers a handler for CheckoutSubmitted events
func (eh *EventHandler) OnCheckoutSubmitted(handler func(context.Context, *models.CheckoutSubmittedEvent) error) {
	eh.onSubmitted = handler
}

// OnCheckoutFailed registers a handler for CheckoutFailed events
func (eh *EventHandler) OnCheckoutFailed(handler func(context.Context, *models.CheckoutFailedEvent) error) {
	eh.onFailed = handler
}

// OnRecurrence registers a handler for both recurrence events
func (eh *EventHandler) OnRecurrence(handler func(context.Context, *models.RecurrenceEvent) error) {
	eh.onRecurrence = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeCheckoutSubmitted:
		if eh.onSubmitted != nil {
			var event models.CheckoutSubmittedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal CheckoutSubmitted event: %w", err)
			}
			return eh.onSubmitted(ctx, &event)
		}

	case models.EventTypeCheckoutFailed:
		if eh.onFailed != nil {
			var event models.CheckoutFailedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal CheckoutFailed event: %w", err)
			}
			return eh.onFailed(ctx, &event)
		}

	case models.EventTypeRecurrenceRegistered, models.EventTypeRecurrenceFailed:
		if eh.onRecurrence != nil {
			var event models.RecurrenceEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal %s event: %w", baseEvent.EventType, err)
			}
			return eh.onRecurrence(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
