package models

import "time"

// Event types
const (
	EventTypeParticipationCreated = "PARTICIPATION_CREATED"
	EventTypeOrderPaid            = "ORDER_PAID"
	EventTypePhaseChanged         = "CAMPAIGN_PHASE_CHANGED"
)

// Transition triggers
const (
	TriggerParticipation = "participation"
	TriggerPayment       = "payment"
	TriggerDeadline      = "deadline"
	TriggerAdmin         = "admin"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	CampaignID string    `json:"campaign_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// Base returns the common envelope.
func (e BaseEvent) Base() BaseEvent { return e }

// Event is implemented by every campaign domain event.
type Event interface {
	Base() BaseEvent
}

// ParticipationCreatedEvent published when a user joins a campaign
type ParticipationCreatedEvent struct {
	BaseEvent
	ParticipationID string `json:"participation_id"`
	UserID          string `json:"user_id"`
	Count           int    `json:"count"`
}

// OrderPaidEvent published when a participant's payment settles
type OrderPaidEvent struct {
	BaseEvent
	OrderID     string `json:"order_id"`
	UserID      string `json:"user_id"`
	TotalAmount string `json:"total_amount"`
	PaidCount   int    `json:"paid_count"`
}

// PhaseChangedEvent published exactly once per committed phase transition
type PhaseChangedEvent struct {
	BaseEvent
	From              Phase      `json:"from"`
	To                Phase      `json:"to"`
	Trigger           string     `json:"trigger"`
	PaymentDeadlineAt *time.Time `json:"payment_deadline_at,omitempty"`
}
