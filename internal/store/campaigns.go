package store

import (
	"context"
	"fmt"
	"time"

	"groupbuy-service/internal/models"
)

const campaignColumns = `id, slug, product_id, normal_price, group_price, currency,
	min_participants, max_participants, start_at, end_at, payment_deadline_at, status,
	seller_name, location, shipping_rules, description, is_featured, created_at, updated_at`

// CreateCampaign inserts a new campaign. A slug collision returns ErrDuplicate.
func (s *Store) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	query := `
		INSERT INTO campaigns (id, slug, product_id, normal_price, group_price, currency,
			min_participants, max_participants, start_at, end_at, payment_deadline_at, status,
			seller_name, location, shipping_rules, description, is_featured)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		c.ID, c.Slug, c.ProductID, c.NormalPrice, c.GroupPrice, c.Currency,
		c.MinParticipants, c.MaxParticipants, c.StartAt, c.EndAt, c.PaymentDeadlineAt, c.Status,
		c.SellerName, c.Location, c.ShippingRules, c.Description, c.IsFeatured,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetCampaign retrieves a campaign by ID
func (s *Store) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	var c models.Campaign
	err := s.db.GetContext(ctx, &c, "SELECT "+campaignColumns+" FROM campaigns WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// SlugExists reports whether a campaign already uses slug.
func (s *Store) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM campaigns WHERE slug = $1)", slug)
	return exists, err
}

// ListCampaigns returns campaigns with product summaries and ledger counts, newest first.
func (s *Store) ListCampaigns(ctx context.Context, filter models.ListFilter) ([]models.CampaignListing, error) {
	query := `
		SELECT c.id, c.slug, c.product_id, c.normal_price, c.group_price, c.currency,
			c.min_participants, c.max_participants, c.start_at, c.end_at, c.payment_deadline_at,
			c.status, c.seller_name, c.location, c.shipping_rules, c.description, c.is_featured,
			c.created_at, c.updated_at,
			p.id AS "product.id", p.name AS "product.name", p.brand AS "product.brand",
			p.category AS "product.category", p.image_url AS "product.image_url",
			(SELECT COUNT(*) FROM campaign_participations cp WHERE cp.campaign_id = c.id) AS current_participants,
			(SELECT COUNT(*) FROM orders o WHERE o.campaign_id = c.id AND o.payment_status = 'PAID') AS paid_orders
		FROM campaigns c
		JOIN products p ON p.id = c.product_id
		WHERE ($1 = '' OR c.status = $1)
			AND ($2 = '' OR p.category = $2)
			AND (NOT $3 OR c.is_featured)
		ORDER BY c.created_at DESC`

	listings := []models.CampaignListing{}
	err := s.db.SelectContext(ctx, &listings, query,
		string(filter.Status), filter.Category, filter.FeaturedOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	return listings, nil
}

// ListExpiredPaymentCampaigns returns campaigns still collecting payments whose deadline has passed.
func (s *Store) ListExpiredPaymentCampaigns(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		SELECT id FROM campaigns
		WHERE status = $1 AND payment_deadline_at IS NOT NULL AND payment_deadline_at <= $2
		ORDER BY payment_deadline_at
		LIMIT $3`,
		models.PhaseCollectingPayments, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired campaigns: %w", err)
	}
	return ids, nil
}
