package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"groupbuy-service/internal/models"
	"groupbuy-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher publishes campaign domain events keyed by campaign ID.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// Publish writes event to the campaign events topic.
func (ep *EventPublisher) Publish(ctx context.Context, event models.Event) error {
	base := event.Base()
	key := "campaign-" + base.CampaignID

	err := ep.producer.PublishEvent(ctx, key, event)
	result := "ok"
	if err != nil {
		result = "error"
	}
	util.EventsPublishedTotal.WithLabelValues(base.EventType, result).Inc()
	return err
}

// EventHandler routes incoming campaign events to registered callbacks.
type EventHandler struct {
	onParticipationCreated func(context.Context, *models.ParticipationCreatedEvent) error
	onOrderPaid            func(context.Context, *models.OrderPaidEvent) error
	onPhaseChanged         func(context.Context, *models.PhaseChangedEvent) error
	logger                 *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

func (eh *EventHandler) OnParticipationCreated(handler func(context.Context, *models.ParticipationCreatedEvent) error) {
	eh.onParticipationCreated = handler
}

func (eh *EventHandler) OnOrderPaid(handler func(context.Context, *models.OrderPaidEvent) error) {
	eh.onOrderPaid = handler
}

func (eh *EventHandler) OnPhaseChanged(handler func(context.Context, *models.PhaseChangedEvent) error) {
	eh.onPhaseChanged = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID),
		zap.String("campaign_id", baseEvent.CampaignID),
	)

	switch baseEvent.EventType {
	case models.EventTypeParticipationCreated:
		if eh.onParticipationCreated != nil {
			var event models.ParticipationCreatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ParticipationCreated event: %w", err)
			}
			return eh.onParticipationCreated(ctx, &event)
		}

	case models.EventTypeOrderPaid:
		if eh.onOrderPaid != nil {
			var event models.OrderPaidEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderPaid event: %w", err)
			}
			return eh.onOrderPaid(ctx, &event)
		}

	case models.EventTypePhaseChanged:
		if eh.onPhaseChanged != nil {
			var event models.PhaseChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PhaseChanged event: %w", err)
			}
			return eh.onPhaseChanged(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
