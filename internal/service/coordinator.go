package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"groupbuy-service/internal/apperr"
	"groupbuy-service/internal/lifecycle"
	"groupbuy-service/internal/models"
	"groupbuy-service/internal/store"
	"groupbuy-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSweepBatch       = 500
	defaultSweepParallelism = 8
)

// EventPublisher publishes campaign domain events after commit.
type EventPublisher interface {
	Publish(ctx context.Context, event models.Event) error
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, models.Event) error { return nil }

// JoinResult is returned by a successful join.
type JoinResult struct {
	Participation *models.Participation `json:"participation"`
	Campaign      *models.Campaign      `json:"campaign"`
}

// PayResult is returned by a successful payment.
type PayResult struct {
	Order    *models.Order    `json:"order"`
	Campaign *models.Campaign `json:"campaign"`
}

// SweepResult summarizes one deadline sweep.
type SweepResult struct {
	Scanned    int `json:"scanned"`
	Failed     int `json:"failed"`
	Successful int `json:"successful"`
	Errors     int `json:"errors"`
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

// WithPaymentWindow sets how long a campaign collects payments.
func WithPaymentWindow(window time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.window = window }
}

// WithSweepLimits bounds how many campaigns one sweep loads and evaluates concurrently.
func WithSweepLimits(batch, parallelism int) CoordinatorOption {
	return func(c *Coordinator) {
		if batch > 0 {
			c.sweepBatch = batch
		}
		if parallelism > 0 {
			c.sweepParallelism = parallelism
		}
	}
}

// Coordinator is the only writer of campaign phase. Every operation locks the
// campaign row, validates, appends to a ledger and applies the lifecycle
// decision in a single transaction; events go out after commit.
type Coordinator struct {
	repo             store.Repository
	payments         PaymentGateway
	events           EventPublisher
	logger           *zap.Logger
	now              func() time.Time
	window           time.Duration
	sweepBatch       int
	sweepParallelism int
}

// NewCoordinator creates a new campaign coordinator
func NewCoordinator(repo store.Repository, payments PaymentGateway, events EventPublisher, opts ...CoordinatorOption) *Coordinator {
	if events == nil {
		events = NoopPublisher{}
	}
	c := &Coordinator{
		repo:             repo,
		payments:         payments,
		events:           events,
		logger:           util.GetLogger(),
		now:              time.Now,
		window:           lifecycle.DefaultPaymentWindow,
		sweepBatch:       defaultSweepBatch,
		sweepParallelism: defaultSweepParallelism,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Join registers userID as a participant of the campaign.
func (co *Coordinator) Join(ctx context.Context, campaignID, userID string) (res *JoinResult, err error) {
	ctx, span := util.StartSpan(ctx, "Coordinator.Join")
	defer func() { util.EndSpan(span, err) }()
	defer func() { util.CampaignJoinsTotal.WithLabelValues(resultLabel(err)).Inc() }()

	if userID == "" {
		return nil, apperr.ErrUnauthenticated
	}

	var events []models.Event
	err = co.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		events = nil

		campaign, err := lockCampaign(ctx, tx, campaignID)
		if err != nil {
			return err
		}
		if campaign.Status != models.PhaseCollectingUsers {
			return apperr.ErrPhaseNotJoinable
		}

		joined, err := tx.HasParticipation(ctx, campaignID, userID)
		if err != nil {
			return fmt.Errorf("failed to check participation: %w", err)
		}
		if joined {
			return apperr.ErrAlreadyParticipating
		}

		count, err := tx.CountParticipations(ctx, campaignID)
		if err != nil {
			return fmt.Errorf("failed to count participations: %w", err)
		}
		if !campaign.HasCapacity(count) {
			return apperr.ErrCampaignFull
		}

		participation := &models.Participation{
			ID:         uuid.New().String(),
			CampaignID: campaignID,
			UserID:     userID,
		}
		if err := tx.InsertParticipation(ctx, participation); err != nil {
			return err
		}
		count++

		now := co.now().UTC()
		events = append(events, &models.ParticipationCreatedEvent{
			BaseEvent:       newBaseEvent(models.EventTypeParticipationCreated, campaignID, now),
			ParticipationID: participation.ID,
			UserID:          userID,
			Count:           count,
		})

		decision := lifecycle.Evaluate(lifecycle.Snapshot{
			Phase:              campaign.Status,
			MinParticipants:    campaign.MinParticipants,
			ParticipationCount: count,
			PaymentDeadlineAt:  campaign.PaymentDeadlineAt,
		}, now, co.window)

		event, err := co.apply(ctx, tx, campaign, decision, models.TriggerParticipation, now)
		if err != nil {
			return err
		}
		if event != nil {
			events = append(events, event)
		}

		res = &JoinResult{Participation: participation, Campaign: campaign}
		return nil
	})
	if err != nil {
		return nil, co.translate(err, apperr.ErrAlreadyParticipating, "join", campaignID)
	}

	co.logger.Info("Participation created",
		zap.String("campaign_id", campaignID),
		zap.String("user_id", userID),
		zap.String("phase", string(res.Campaign.Status)))

	co.publish(ctx, events)
	return res, nil
}

// Pay settles userID's payment for the campaign and records the order.
// A payment arriving after the deadline resolves the campaign instead and is
// rejected as not payable.
func (co *Coordinator) Pay(ctx context.Context, campaignID, userID string) (res *PayResult, err error) {
	ctx, span := util.StartSpan(ctx, "Coordinator.Pay")
	defer func() { util.EndSpan(span, err) }()
	defer func() { util.CampaignPaymentsTotal.WithLabelValues(resultLabel(err)).Inc() }()

	if userID == "" {
		return nil, apperr.ErrUnauthenticated
	}

	var (
		events   []models.Event
		rejected error
	)
	err = co.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		events, rejected = nil, nil

		campaign, err := lockCampaign(ctx, tx, campaignID)
		if err != nil {
			return err
		}
		if campaign.Status != models.PhaseCollectingPayments {
			return apperr.ErrPhaseNotPayable
		}

		now := co.now().UTC()
		if campaign.PaymentDeadlineAt != nil && !now.Before(*campaign.PaymentDeadlineAt) {
			paid, err := tx.CountPaidOrders(ctx, campaignID)
			if err != nil {
				return fmt.Errorf("failed to count paid orders: %w", err)
			}
			event, err := co.apply(ctx, tx, campaign, lifecycle.Evaluate(lifecycle.Snapshot{
				Phase:             campaign.Status,
				MinParticipants:   campaign.MinParticipants,
				PaidOrderCount:    paid,
				PaymentDeadlineAt: campaign.PaymentDeadlineAt,
			}, now, co.window), models.TriggerDeadline, now)
			if err != nil {
				return err
			}
			if event != nil {
				events = append(events, event)
			}
			rejected = apperr.New(apperr.KindPhaseNotPayable, "payment deadline has passed")
			return nil
		}

		joined, err := tx.HasParticipation(ctx, campaignID, userID)
		if err != nil {
			return fmt.Errorf("failed to check participation: %w", err)
		}
		if !joined {
			return apperr.ErrNotAParticipant
		}

		ordered, err := tx.HasOrder(ctx, campaignID, userID)
		if err != nil {
			return fmt.Errorf("failed to check order: %w", err)
		}
		if ordered {
			return apperr.ErrAlreadyPaid
		}

		paid, err := tx.CountPaidOrders(ctx, campaignID)
		if err != nil {
			return fmt.Errorf("failed to count paid orders: %w", err)
		}

		addressID, err := tx.DefaultAddressID(ctx, userID)
		if err != nil {
			return err
		}

		const quantity = 1
		unitPrice := campaign.GroupPrice
		total := unitPrice.Mul(decimal.NewFromInt(quantity))

		settlement, err := co.payments.Settle(ctx, campaignID, userID, total)
		if err != nil {
			return fmt.Errorf("payment settlement failed: %w", err)
		}
		if !models.PaymentStatusPending.CanBecome(settlement.Status) || settlement.Status != models.PaymentStatusPaid {
			return fmt.Errorf("payment settlement returned %s", settlement.Status)
		}

		paidAt := now
		order := &models.Order{
			ID:                uuid.New().String(),
			CampaignID:        campaignID,
			UserID:            userID,
			Quantity:          quantity,
			UnitPrice:         unitPrice,
			TotalAmount:       total,
			PaymentStatus:     settlement.Status,
			PaymentDate:       &paidAt,
			ProviderRef:       settlement.ProviderRef,
			ShippingAddressID: addressID,
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		paid++

		events = append(events, &models.OrderPaidEvent{
			BaseEvent:   newBaseEvent(models.EventTypeOrderPaid, campaignID, now),
			OrderID:     order.ID,
			UserID:      userID,
			TotalAmount: total.StringFixed(2),
			PaidCount:   paid,
		})

		event, err := co.apply(ctx, tx, campaign, lifecycle.Evaluate(lifecycle.Snapshot{
			Phase:             campaign.Status,
			MinParticipants:   campaign.MinParticipants,
			PaidOrderCount:    paid,
			PaymentDeadlineAt: campaign.PaymentDeadlineAt,
		}, now, co.window), models.TriggerPayment, now)
		if err != nil {
			return err
		}
		if event != nil {
			events = append(events, event)
		}

		res = &PayResult{Order: order, Campaign: campaign}
		return nil
	})
	if err != nil {
		return nil, co.translate(err, apperr.ErrAlreadyPaid, "pay", campaignID)
	}

	co.publish(ctx, events)
	if rejected != nil {
		return nil, rejected
	}

	co.logger.Info("Order paid",
		zap.String("campaign_id", campaignID),
		zap.String("user_id", userID),
		zap.String("order_id", res.Order.ID),
		zap.String("phase", string(res.Campaign.Status)))
	return res, nil
}

// Transition moves a campaign to target on an administrator's request. Only
// forward-adjacent phases are accepted; requesting the current phase is a
// no-op.
func (co *Coordinator) Transition(ctx context.Context, campaignID string, target models.Phase, actorID string) (res *models.Campaign, err error) {
	ctx, span := util.StartSpan(ctx, "Coordinator.Transition")
	defer func() { util.EndSpan(span, err) }()

	var events []models.Event
	err = co.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		events = nil

		campaign, err := lockCampaign(ctx, tx, campaignID)
		if err != nil {
			return err
		}
		if campaign.Status == target {
			res = campaign
			return nil
		}
		if !lifecycle.CanTransition(campaign.Status, target) {
			return apperr.New(apperr.KindInvalidTransition,
				fmt.Sprintf("cannot move campaign from %s to %s", campaign.Status, target))
		}

		now := co.now().UTC()
		decision := lifecycle.Decision{From: campaign.Status, To: target, Changed: true, Deadline: campaign.PaymentDeadlineAt}
		if target == models.PhaseCollectingPayments {
			decision.Deadline = lifecycle.DeadlineOnEntry(campaign.PaymentDeadlineAt, now, co.window)
		}

		event, err := co.apply(ctx, tx, campaign, decision, models.TriggerAdmin, now)
		if err != nil {
			return err
		}
		if event == nil {
			return apperr.ErrInvalidTransition
		}
		events = append(events, event)
		res = campaign
		return nil
	})
	if err != nil {
		return nil, co.translate(err, nil, "transition", campaignID)
	}

	if len(events) > 0 {
		co.logger.Info("Campaign phase set by administrator",
			zap.String("campaign_id", campaignID),
			zap.String("actor_id", actorID),
			zap.String("phase", string(target)))
	}
	co.publish(ctx, events)
	return res, nil
}

// EvaluateDeadlines resolves every campaign whose payment deadline has
// elapsed. It is safe to run concurrently and repeatedly; each campaign is
// re-checked under its row lock.
func (co *Coordinator) EvaluateDeadlines(ctx context.Context) (res SweepResult, err error) {
	ctx, span := util.StartSpan(ctx, "Coordinator.EvaluateDeadlines")
	defer func() { util.EndSpan(span, err) }()

	start := time.Now()
	defer func() {
		util.DeadlineSweepLatency.Observe(time.Since(start).Seconds())
		util.DeadlineSweepRunsTotal.WithLabelValues(resultLabel(err)).Inc()
	}()

	ids, err := co.repo.ListExpiredPaymentCampaigns(ctx, co.now().UTC(), co.sweepBatch)
	if err != nil {
		return res, apperr.Internal(err)
	}
	res.Scanned = len(ids)

	var failed, successful, errCount int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(co.sweepParallelism)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			to, err := co.resolveDeadline(gctx, id)
			switch {
			case err != nil:
				atomic.AddInt64(&errCount, 1)
				co.logger.Error("Deadline evaluation failed", zap.String("campaign_id", id), zap.Error(err))
			case to == models.PhaseFailed:
				atomic.AddInt64(&failed, 1)
			case to == models.PhaseSuccessful:
				atomic.AddInt64(&successful, 1)
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	res.Failed = int(failed)
	res.Successful = int(successful)
	res.Errors = int(errCount)

	if res.Scanned > 0 {
		co.logger.Info("Deadline sweep finished",
			zap.Int("scanned", res.Scanned),
			zap.Int("failed", res.Failed),
			zap.Int("successful", res.Successful),
			zap.Int("errors", res.Errors))
	}
	return res, nil
}

// resolveDeadline returns the phase the campaign moved to, or "" if it was
// left untouched.
func (co *Coordinator) resolveDeadline(ctx context.Context, campaignID string) (models.Phase, error) {
	var (
		events []models.Event
		moved  models.Phase
	)
	err := co.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		events, moved = nil, ""

		campaign, err := lockCampaign(ctx, tx, campaignID)
		if err != nil {
			return err
		}
		if campaign.Status != models.PhaseCollectingPayments {
			return nil
		}

		paid, err := tx.CountPaidOrders(ctx, campaignID)
		if err != nil {
			return fmt.Errorf("failed to count paid orders: %w", err)
		}

		now := co.now().UTC()
		decision := lifecycle.Evaluate(lifecycle.Snapshot{
			Phase:             campaign.Status,
			MinParticipants:   campaign.MinParticipants,
			PaidOrderCount:    paid,
			PaymentDeadlineAt: campaign.PaymentDeadlineAt,
		}, now, co.window)

		event, err := co.apply(ctx, tx, campaign, decision, models.TriggerDeadline, now)
		if err != nil {
			return err
		}
		if event != nil {
			events = append(events, event)
			moved = campaign.Status
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	co.publish(ctx, events)
	return moved, nil
}

// apply writes a lifecycle decision with a compare-and-set on the current
// phase and updates campaign in place. It returns the phase-changed event, or
// nil when nothing was written.
func (co *Coordinator) apply(ctx context.Context, tx store.Tx, campaign *models.Campaign, d lifecycle.Decision, trigger string, now time.Time) (*models.PhaseChangedEvent, error) {
	if !d.Changed {
		return nil, nil
	}

	ok, err := tx.UpdatePhase(ctx, campaign.ID, d.From, d.To, d.Deadline)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	campaign.Status = d.To
	if campaign.PaymentDeadlineAt == nil {
		campaign.PaymentDeadlineAt = d.Deadline
	}
	campaign.UpdatedAt = now

	util.CampaignPhaseTransitionsTotal.WithLabelValues(string(d.From), string(d.To), trigger).Inc()
	co.logger.Info("Campaign phase changed",
		zap.String("campaign_id", campaign.ID),
		zap.String("from", string(d.From)),
		zap.String("to", string(d.To)),
		zap.String("trigger", trigger))

	return &models.PhaseChangedEvent{
		BaseEvent:         newBaseEvent(models.EventTypePhaseChanged, campaign.ID, now),
		From:              d.From,
		To:                d.To,
		Trigger:           trigger,
		PaymentDeadlineAt: campaign.PaymentDeadlineAt,
	}, nil
}

func (co *Coordinator) publish(ctx context.Context, events []models.Event) {
	for _, event := range events {
		if err := co.events.Publish(ctx, event); err != nil {
			base := event.Base()
			co.logger.Error("Failed to publish event",
				zap.String("type", base.EventType),
				zap.String("campaign_id", base.CampaignID),
				zap.Error(err))
		}
	}
}

// translate maps storage errors onto business errors. dup is the error a
// lost uniqueness race surfaces as.
func (co *Coordinator) translate(err error, dup *apperr.Error, op, campaignID string) error {
	var appErr *apperr.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, store.ErrDuplicate) && dup != nil:
		return dup
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}

	co.logger.Error("Campaign operation failed",
		zap.String("op", op),
		zap.String("campaign_id", campaignID),
		zap.Error(err))
	return apperr.Internal(err)
}

func lockCampaign(ctx context.Context, tx store.Tx, campaignID string) (*models.Campaign, error) {
	campaign, err := tx.LockCampaign(ctx, campaignID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrCampaignNotFound
	}
	if err != nil {
		return nil, err
	}
	return campaign, nil
}

func newBaseEvent(eventType, campaignID string, now time.Time) models.BaseEvent {
	return models.BaseEvent{
		EventID:    uuid.New().String(),
		EventType:  eventType,
		CampaignID: campaignID,
		Timestamp:  now,
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(apperr.KindOf(err))
}
