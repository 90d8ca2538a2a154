package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"groupbuy-service/internal/apperr"
	"groupbuy-service/internal/models"
	"groupbuy-service/internal/store"
	"groupbuy-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const maxSlugAttempts = 5

// ListingCache stores public listings per filter.
type ListingCache interface {
	Get(ctx context.Context, f models.ListFilter) ([]models.CampaignListing, bool, error)
	Set(ctx context.Context, f models.ListFilter, listings []models.CampaignListing) error
	Invalidate(ctx context.Context) error
}

// CatalogService handles campaign creation and the public read side.
type CatalogService struct {
	repo   store.Repository
	cache  ListingCache
	group  singleflight.Group
	logger *zap.Logger
}

// NewCatalogService creates a new catalog service. cache may be nil.
func NewCatalogService(repo store.Repository, cache ListingCache) *CatalogService {
	return &CatalogService{
		repo:   repo,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// CreateCampaignRequest carries the terms of a new campaign.
type CreateCampaignRequest struct {
	ProductID       string          `json:"productId" binding:"required"`
	NormalPrice     decimal.Decimal `json:"normalPrice"`
	GroupPrice      decimal.Decimal `json:"groupPrice"`
	Currency        string          `json:"currency"`
	MinParticipants int             `json:"minParticipants"`
	MaxParticipants *int            `json:"maxParticipants"`
	StartAt         time.Time       `json:"startAt" binding:"required"`
	EndAt           time.Time       `json:"endAt" binding:"required"`
	SellerName      string          `json:"sellerName" binding:"required"`
	Location        *string         `json:"location"`
	ShippingRules   string          `json:"shippingRules" binding:"required"`
	Description     *string         `json:"description"`
	IsFeatured      bool            `json:"isFeatured"`
	Status          models.Phase    `json:"status"`
}

// Validate checks the commercial and temporal terms.
func (r *CreateCampaignRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.ProductID) == "":
		return validation("product must be selected")
	case !r.NormalPrice.IsPositive():
		return validation("normal price must be positive")
	case !r.GroupPrice.IsPositive():
		return validation("group price must be positive")
	case !r.GroupPrice.LessThan(r.NormalPrice):
		return validation("group price must be lower than normal price")
	case r.MinParticipants < 1:
		return validation("minimum participants must be at least 1")
	case r.MaxParticipants != nil && *r.MaxParticipants < r.MinParticipants:
		return validation("maximum participants must not be lower than minimum participants")
	case !r.StartAt.Before(r.EndAt):
		return validation("start date must be before end date")
	case strings.TrimSpace(r.SellerName) == "":
		return validation("seller name is required")
	case strings.TrimSpace(r.ShippingRules) == "":
		return validation("shipping rules are required")
	}

	switch r.Status {
	case "", models.PhaseDraft, models.PhaseCollectingUsers:
	default:
		return validation(fmt.Sprintf("campaigns cannot be created in %s", r.Status))
	}
	return nil
}

func validation(msg string) error {
	return apperr.New(apperr.KindValidation, msg)
}

// CreateCampaign validates req, derives a unique slug from the product name
// and stores the campaign.
func (s *CatalogService) CreateCampaign(ctx context.Context, req *CreateCampaignRequest) (*models.Campaign, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.CreateCampaign")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	product, err := s.repo.GetProductByID(ctx, req.ProductID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrProductNotFound
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}

	status := req.Status
	if status == "" {
		status = models.PhaseDraft
	}
	currency := req.Currency
	if currency == "" {
		currency = "TL"
	}

	campaign := &models.Campaign{
		ID:              uuid.New().String(),
		ProductID:       product.ID,
		NormalPrice:     req.NormalPrice,
		GroupPrice:      req.GroupPrice,
		Currency:        currency,
		MinParticipants: req.MinParticipants,
		MaxParticipants: req.MaxParticipants,
		StartAt:         req.StartAt.UTC(),
		EndAt:           req.EndAt.UTC(),
		Status:          status,
		SellerName:      req.SellerName,
		Location:        req.Location,
		ShippingRules:   req.ShippingRules,
		Description:     req.Description,
		IsFeatured:      req.IsFeatured,
	}

	base := Slugify(product.Name)
	for attempt := 0; ; attempt++ {
		slug, err := s.nextFreeSlug(ctx, base)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		campaign.Slug = slug

		err = s.repo.CreateCampaign(ctx, campaign)
		if err == nil {
			break
		}
		// Another admin claimed the slug between the check and the insert.
		if errors.Is(err, store.ErrDuplicate) && attempt < maxSlugAttempts {
			continue
		}
		return nil, apperr.Internal(err)
	}

	util.CampaignsCreatedTotal.Inc()
	s.logger.Info("Campaign created",
		zap.String("campaign_id", campaign.ID),
		zap.String("slug", campaign.Slug),
		zap.String("status", string(campaign.Status)))

	s.invalidate(ctx)
	return campaign, nil
}

func (s *CatalogService) nextFreeSlug(ctx context.Context, base string) (string, error) {
	slug := base
	for n := 1; ; n++ {
		taken, err := s.repo.SlugExists(ctx, slug)
		if err != nil {
			return "", err
		}
		if !taken {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, n)
	}
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases name and collapses every run of other characters to a
// single dash.
func Slugify(name string) string {
	slug := nonSlugChars.ReplaceAllString(strings.ToLower(name), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "campaign"
	}
	return slug
}

// ListCampaigns returns public listings, newest first. Concurrent identical
// requests share one store query.
func (s *CatalogService) ListCampaigns(ctx context.Context, filter models.ListFilter) ([]models.CampaignListing, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ListCampaigns")
	defer span.End()

	if s.cache != nil {
		listings, ok, err := s.cache.Get(ctx, filter)
		if err != nil {
			s.logger.Warn("Listing cache read failed", zap.Error(err))
		}
		if ok {
			util.ListingCacheTotal.WithLabelValues("hit").Inc()
			return listings, nil
		}
		util.ListingCacheTotal.WithLabelValues("miss").Inc()
	}

	key := fmt.Sprintf("%s|%s|%t", filter.Status, filter.Category, filter.FeaturedOnly)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		listings, err := s.repo.ListCampaigns(ctx, filter)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.Set(ctx, filter, listings); err != nil {
				s.logger.Warn("Listing cache write failed", zap.Error(err))
			}
		}
		return listings, nil
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return v.([]models.CampaignListing), nil
}

// GetCampaign returns a single campaign.
func (s *CatalogService) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.GetCampaign")
	defer span.End()

	campaign, err := s.repo.GetCampaign(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrCampaignNotFound
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return campaign, nil
}

// InvalidateListings drops cached listings.
func (s *CatalogService) InvalidateListings(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx)
}

func (s *CatalogService) invalidate(ctx context.Context) {
	if err := s.InvalidateListings(ctx); err != nil {
		s.logger.Warn("Listing cache invalidation failed", zap.Error(err))
	}
}
