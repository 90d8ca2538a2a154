package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"groupbuy-service/internal/models"

	"github.com/jmoiron/sqlx"
)

type pgTx struct {
	tx *sqlx.Tx
}

// LockCampaign reads the campaign and holds its row lock (FOR UPDATE) until the tx ends.
func (t *pgTx) LockCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	var c models.Campaign
	err := t.tx.GetContext(ctx, &c,
		"SELECT "+campaignColumns+" FROM campaigns WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock campaign: %w", err)
	}
	return &c, nil
}

func (t *pgTx) CountParticipations(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := t.tx.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM campaign_participations WHERE campaign_id = $1", campaignID)
	return n, err
}

func (t *pgTx) HasParticipation(ctx context.Context, campaignID, userID string) (bool, error) {
	var exists bool
	err := t.tx.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM campaign_participations WHERE campaign_id = $1 AND user_id = $2)",
		campaignID, userID)
	return exists, err
}

// InsertParticipation appends to the participation ledger. The (campaign_id, user_id)
// constraint turns a lost race into ErrDuplicate.
func (t *pgTx) InsertParticipation(ctx context.Context, p *models.Participation) error {
	query := `
		INSERT INTO campaign_participations (id, campaign_id, user_id)
		VALUES ($1, $2, $3)
		RETURNING created_at`

	if err := t.tx.GetContext(ctx, &p.CreatedAt, query, p.ID, p.CampaignID, p.UserID); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert participation: %w", err)
	}
	return nil
}

func (t *pgTx) CountPaidOrders(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := t.tx.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM orders WHERE campaign_id = $1 AND payment_status = $2",
		campaignID, models.PaymentStatusPaid)
	return n, err
}

func (t *pgTx) HasOrder(ctx context.Context, campaignID, userID string) (bool, error) {
	var exists bool
	err := t.tx.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM orders WHERE campaign_id = $1 AND user_id = $2)",
		campaignID, userID)
	return exists, err
}

// InsertOrder appends to the order ledger. A second order for the same user
// and campaign returns ErrDuplicate.
func (t *pgTx) InsertOrder(ctx context.Context, o *models.Order) error {
	query := `
		INSERT INTO orders (id, campaign_id, user_id, quantity, unit_price, total_amount,
			payment_status, payment_date, provider_ref, shipping_address_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`

	err := t.tx.GetContext(ctx, &o.CreatedAt, query,
		o.ID, o.CampaignID, o.UserID, o.Quantity, o.UnitPrice, o.TotalAmount,
		o.PaymentStatus, o.PaymentDate, o.ProviderRef, o.ShippingAddressID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (t *pgTx) DefaultAddressID(ctx context.Context, userID string) (*string, error) {
	var id string
	err := t.tx.GetContext(ctx, &id,
		"SELECT id FROM addresses WHERE user_id = $1 AND is_default ORDER BY created_at DESC LIMIT 1", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load default address: %w", err)
	}
	return &id, nil
}

func (t *pgTx) UpdatePhase(ctx context.Context, id string, from, to models.Phase, deadline *time.Time) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $1,
			payment_deadline_at = COALESCE(payment_deadline_at, $2),
			updated_at = NOW()
		WHERE id = $3 AND status = $4`,
		to, deadline, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to update campaign phase: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}
