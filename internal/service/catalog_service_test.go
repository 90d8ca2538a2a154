package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"groupbuy-service/internal/apperr"
	"groupbuy-service/internal/models"
	"groupbuy-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeListingCache struct {
	mu          sync.Mutex
	entries     map[models.ListFilter][]models.CampaignListing
	gets        int
	invalidated int
	getErr      error
}

func newFakeListingCache() *fakeListingCache {
	return &fakeListingCache{entries: make(map[models.ListFilter][]models.CampaignListing)}
}

func (c *fakeListingCache) Get(ctx context.Context, f models.ListFilter) ([]models.CampaignListing, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	l, ok := c.entries[f]
	return l, ok, nil
}

func (c *fakeListingCache) Set(ctx context.Context, f models.ListFilter, listings []models.CampaignListing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[f] = listings
	return nil
}

func (c *fakeListingCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[models.ListFilter][]models.CampaignListing)
	c.invalidated++
	return nil
}

func validRequest() *CreateCampaignRequest {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	return &CreateCampaignRequest{
		ProductID:       "prod-1",
		NormalPrice:     decimal.NewFromInt(1000),
		GroupPrice:      decimal.NewFromInt(800),
		MinParticipants: 5,
		StartAt:         start,
		EndAt:           start.Add(14 * 24 * time.Hour),
		SellerName:      "Seller",
		ShippingRules:   "free shipping",
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"iPhone 15 Pro", "iphone-15-pro"},
		{"  Bosch -- Buzdolabı!  ", "bosch-buzdolab"},
		{"LG/Çamaşır Makinesi", "lg-ama-r-makinesi"},
		{"!!!", "campaign"},
		{"", "campaign"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.in), "input %q", tt.in)
	}
}

func TestCreateCampaignRequestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *CreateCampaignRequest)
		valid  bool
	}{
		{name: "valid", mutate: func(r *CreateCampaignRequest) {}, valid: true},
		{name: "collecting users allowed", mutate: func(r *CreateCampaignRequest) { r.Status = models.PhaseCollectingUsers }, valid: true},
		{name: "missing product", mutate: func(r *CreateCampaignRequest) { r.ProductID = " " }},
		{name: "zero normal price", mutate: func(r *CreateCampaignRequest) { r.NormalPrice = decimal.Zero }},
		{name: "negative group price", mutate: func(r *CreateCampaignRequest) { r.GroupPrice = decimal.NewFromInt(-1) }},
		{name: "group price not lower", mutate: func(r *CreateCampaignRequest) { r.GroupPrice = r.NormalPrice }},
		{name: "min zero", mutate: func(r *CreateCampaignRequest) { r.MinParticipants = 0 }},
		{name: "max below min", mutate: func(r *CreateCampaignRequest) { r.MaxParticipants = intPtr(4) }},
		{name: "end before start", mutate: func(r *CreateCampaignRequest) { r.EndAt = r.StartAt }},
		{name: "missing seller", mutate: func(r *CreateCampaignRequest) { r.SellerName = "" }},
		{name: "missing shipping", mutate: func(r *CreateCampaignRequest) { r.ShippingRules = "" }},
		{name: "created in payments", mutate: func(r *CreateCampaignRequest) { r.Status = models.PhaseCollectingPayments }},
		{name: "created terminal", mutate: func(r *CreateCampaignRequest) { r.Status = models.PhaseSuccessful }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRequest()
			tt.mutate(r)
			err := r.Validate()
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestCreateCampaign(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryStore()
	repo.AddProduct(models.Product{ID: "prod-1", Name: "Espresso Machine"})
	cache := newFakeListingCache()
	svc := NewCatalogService(repo, cache)

	first, err := svc.CreateCampaign(ctx, validRequest())
	require.NoError(t, err)
	assert.Equal(t, "espresso-machine", first.Slug)
	assert.Equal(t, models.PhaseDraft, first.Status)
	assert.Equal(t, "TL", first.Currency)
	assert.Nil(t, first.PaymentDeadlineAt)

	second, err := svc.CreateCampaign(ctx, validRequest())
	require.NoError(t, err)
	assert.Equal(t, "espresso-machine-1", second.Slug)

	third, err := svc.CreateCampaign(ctx, validRequest())
	require.NoError(t, err)
	assert.Equal(t, "espresso-machine-2", third.Slug)

	assert.Equal(t, 3, cache.invalidated)

	stored, err := svc.GetCampaign(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, second.Slug, stored.Slug)
}

func TestCreateCampaignErrors(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryStore()
	svc := NewCatalogService(repo, nil)

	_, err := svc.CreateCampaign(ctx, validRequest())
	assert.ErrorIs(t, err, apperr.ErrProductNotFound)

	bad := validRequest()
	bad.GroupPrice = decimal.NewFromInt(2000)
	_, err = svc.CreateCampaign(ctx, bad)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.GetCampaign(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrCampaignNotFound)
}

func TestListCampaignsUsesCache(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryStore()
	repo.AddProduct(models.Product{ID: "prod-1", Name: "Espresso Machine", Category: "kitchen"})
	cache := newFakeListingCache()
	svc := NewCatalogService(repo, cache)

	_, err := svc.CreateCampaign(ctx, validRequest())
	require.NoError(t, err)

	listings, err := svc.ListCampaigns(ctx, models.ListFilter{})
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "Espresso Machine", listings[0].Product.Name)

	filter := models.ListFilter{}
	cached, ok := cache.entries[filter]
	require.True(t, ok)
	assert.Len(t, cached, 1)

	cache.entries[filter] = []models.CampaignListing{}
	fromCache, err := svc.ListCampaigns(ctx, filter)
	require.NoError(t, err)
	assert.Empty(t, fromCache)

	req := validRequest()
	req.IsFeatured = true
	_, err = svc.CreateCampaign(ctx, req)
	require.NoError(t, err)

	fresh, err := svc.ListCampaigns(ctx, filter)
	require.NoError(t, err)
	assert.Len(t, fresh, 2)

	featured, err := svc.ListCampaigns(ctx, models.ListFilter{FeaturedOnly: true})
	require.NoError(t, err)
	assert.Len(t, featured, 1)
}

func TestListCampaignsFallsBackWhenCacheFails(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryStore()
	repo.AddProduct(models.Product{ID: "prod-1", Name: "Espresso Machine"})
	cache := newFakeListingCache()
	svc := NewCatalogService(repo, cache)

	_, err := svc.CreateCampaign(ctx, validRequest())
	require.NoError(t, err)

	cache.getErr = errors.New("redis down")
	listings, err := svc.ListCampaigns(ctx, models.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, listings, 1)
}
