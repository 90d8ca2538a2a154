package service

import (
	"context"
	"fmt"
	"time"

	"groupbuy-service/internal/models"
	"groupbuy-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Settlement is the outcome of charging a participant.
type Settlement struct {
	Status      models.PaymentStatus
	ProviderRef string
	SettledAt   time.Time
}

// PaymentGateway settles a participant's payment for a campaign.
// Settle is called under the campaign lock, before the order is committed. A
// gateway that captures funds must void the charge when the commit fails, or
// authorize here and capture after commit.
type PaymentGateway interface {
	Settle(ctx context.Context, campaignID, userID string, amount decimal.Decimal) (*Settlement, error)
}

// PaymentService is the settlement stub: every charge succeeds immediately.
// A real provider integration replaces it behind PaymentGateway.
type PaymentService struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewPaymentService creates a new payment service
func NewPaymentService() *PaymentService {
	return &PaymentService{
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// Settle charges amount and reports the settlement.
func (ps *PaymentService) Settle(ctx context.Context, campaignID, userID string, amount decimal.Decimal) (*Settlement, error) {
	_, span := util.StartSpan(ctx, "PaymentService.Settle")
	defer span.End()

	start := time.Now()
	defer func() {
		util.PaymentSettlementLatency.Observe(time.Since(start).Seconds())
	}()

	if !amount.IsPositive() {
		return nil, fmt.Errorf("invalid payment amount %s", amount)
	}

	ref := fmt.Sprintf("TXN-%s", uuid.New().String()[:8])
	ps.logger.Info("Payment settled",
		zap.String("campaign_id", campaignID),
		zap.String("user_id", userID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("provider_ref", ref))

	return &Settlement{
		Status:      models.PaymentStatusPaid,
		ProviderRef: ref,
		SettledAt:   ps.now().UTC(),
	}, nil
}
