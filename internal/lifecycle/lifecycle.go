// Package lifecycle holds the campaign phase state machine. Everything here is
// pure: callers supply ledger counts and the current time, and apply the
// returned decision themselves.
package lifecycle

import (
	"time"

	"groupbuy-service/internal/models"
)

// DefaultPaymentWindow is the grace period granted once a campaign starts
// collecting payments.
const DefaultPaymentWindow = 7 * 24 * time.Hour

var next = map[models.Phase][]models.Phase{
	models.PhaseDraft:              {models.PhaseCollectingUsers},
	models.PhaseCollectingUsers:    {models.PhaseCollectingPayments},
	models.PhaseCollectingPayments: {models.PhaseSuccessful, models.PhaseFailed},
}

// CanTransition reports whether to is forward-adjacent to from.
func CanTransition(from, to models.Phase) bool {
	for _, p := range next[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Reachable lists the phases an administrator may move a campaign to.
func Reachable(from models.Phase) []models.Phase {
	return append([]models.Phase(nil), next[from]...)
}

// Snapshot is the state a decision is computed from.
type Snapshot struct {
	Phase              models.Phase
	MinParticipants    int
	ParticipationCount int
	PaidOrderCount     int
	PaymentDeadlineAt  *time.Time
}

// Decision is the outcome of an evaluation. When Changed is false the
// campaign must be left untouched.
type Decision struct {
	From    models.Phase
	To      models.Phase
	Changed bool
	// Deadline is the payment deadline after the transition. It is only
	// newly assigned when the snapshot had none.
	Deadline *time.Time
}

// Evaluate computes the automatic transition, if any, for a snapshot.
func Evaluate(s Snapshot, now time.Time, window time.Duration) Decision {
	d := Decision{From: s.Phase, To: s.Phase, Deadline: s.PaymentDeadlineAt}

	switch s.Phase {
	case models.PhaseCollectingUsers:
		if s.ParticipationCount >= s.MinParticipants {
			d.To = models.PhaseCollectingPayments
			d.Changed = true
			d.Deadline = DeadlineOnEntry(s.PaymentDeadlineAt, now, window)
		}
	case models.PhaseCollectingPayments:
		switch {
		case s.PaidOrderCount >= s.MinParticipants:
			d.To = models.PhaseSuccessful
			d.Changed = true
		case s.PaymentDeadlineAt != nil && !now.Before(*s.PaymentDeadlineAt):
			d.To = models.PhaseFailed
			d.Changed = true
		}
	}
	return d
}

// DeadlineOnEntry returns the deadline to store when entering the payment
// phase. An existing deadline is never overwritten.
func DeadlineOnEntry(existing *time.Time, now time.Time, window time.Duration) *time.Time {
	if existing != nil {
		return existing
	}
	if window <= 0 {
		window = DefaultPaymentWindow
	}
	deadline := now.Add(window).UTC()
	return &deadline
}
