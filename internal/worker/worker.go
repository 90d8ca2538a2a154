package worker

import (
	"context"
	"errors"
	"time"

	"groupbuy-service/internal/broker"
	"groupbuy-service/internal/models"
	"groupbuy-service/internal/service"
	"groupbuy-service/internal/util"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const sweepLockName = "deadline-sweep"

// DeadlineEvaluator resolves campaigns whose payment deadline has elapsed.
type DeadlineEvaluator interface {
	EvaluateDeadlines(ctx context.Context) (service.SweepResult, error)
}

// Locker hands out a cluster-wide mutex. TryLock must fail fast when the lock
// is held elsewhere.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error)
}

// DeadlineWorker runs the payment deadline sweep on a cron schedule. When a
// Locker is configured only one process sweeps per tick.
type DeadlineWorker struct {
	evaluator DeadlineEvaluator
	locker    Locker
	schedule  string
	timeout   time.Duration
	cron      *cron.Cron
	logger    *zap.Logger
}

// NewDeadlineWorker creates a new deadline worker. locker may be nil.
func NewDeadlineWorker(evaluator DeadlineEvaluator, locker Locker, schedule string) *DeadlineWorker {
	return &DeadlineWorker{
		evaluator: evaluator,
		locker:    locker,
		schedule:  schedule,
		timeout:   time.Minute,
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:    util.GetLogger(),
	}
}

// Start registers the sweep and starts the scheduler.
func (w *DeadlineWorker) Start() error {
	if _, err := w.cron.AddFunc(w.schedule, w.RunOnce); err != nil {
		return err
	}
	w.logger.Info("Starting deadline worker", zap.String("schedule", w.schedule))
	w.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (w *DeadlineWorker) Stop() {
	w.logger.Info("Stopping deadline worker")
	<-w.cron.Stop().Done()
}

// RunOnce performs a single sweep.
func (w *DeadlineWorker) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if w.locker != nil {
		unlock, err := w.locker.TryLock(ctx, sweepLockName, w.timeout)
		if err != nil {
			w.logger.Debug("Skipping deadline sweep", zap.Error(err))
			return
		}
		defer func() {
			if err := unlock(context.Background()); err != nil {
				w.logger.Warn("Failed to release sweep lock", zap.Error(err))
			}
		}()
	}

	if _, err := w.evaluator.EvaluateDeadlines(ctx); err != nil {
		w.logger.Error("Deadline sweep failed", zap.Error(err))
	}
}

// ListingInvalidator drops cached campaign listings.
type ListingInvalidator interface {
	InvalidateListings(ctx context.Context) error
}

// CacheWorker invalidates cached listings whenever a campaign event is
// observed.
type CacheWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewCacheWorker creates a new cache worker
func NewCacheWorker(consumer *broker.Consumer, invalidator ListingInvalidator) *CacheWorker {
	return &CacheWorker{
		consumer:     consumer,
		eventHandler: NewInvalidationHandler(invalidator),
		logger:       util.GetLogger(),
	}
}

// NewInvalidationHandler routes every campaign event to invalidator.
func NewInvalidationHandler(invalidator ListingInvalidator) *broker.EventHandler {
	handler := broker.NewEventHandler()
	handler.OnParticipationCreated(func(ctx context.Context, _ *models.ParticipationCreatedEvent) error {
		return invalidator.InvalidateListings(ctx)
	})
	handler.OnOrderPaid(func(ctx context.Context, _ *models.OrderPaidEvent) error {
		return invalidator.InvalidateListings(ctx)
	})
	handler.OnPhaseChanged(func(ctx context.Context, _ *models.PhaseChangedEvent) error {
		return invalidator.InvalidateListings(ctx)
	})
	return handler
}

// Start consumes until ctx is cancelled.
func (w *CacheWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting cache worker")
	err := w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop closes the consumer.
func (w *CacheWorker) Stop() error {
	w.logger.Info("Stopping cache worker")
	return w.consumer.Close()
}
