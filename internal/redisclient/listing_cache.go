package redisclient

import (
	"context"
	"fmt"
	"time"

	"groupbuy-service/internal/models"
)

const listingPrefix = "campaigns:list:"

// ListingCache caches public campaign listings per filter.
type ListingCache struct {
	client *Client
	ttl    time.Duration
}

func NewListingCache(client *Client, ttl time.Duration) *ListingCache {
	return &ListingCache{client: client, ttl: ttl}
}

// ListingKey is the cache key for a filter.
func ListingKey(f models.ListFilter) string {
	return fmt.Sprintf("%sstatus=%s:category=%s:featured=%t", listingPrefix, f.Status, f.Category, f.FeaturedOnly)
}

func (lc *ListingCache) Get(ctx context.Context, f models.ListFilter) ([]models.CampaignListing, bool, error) {
	var listings []models.CampaignListing
	ok, err := lc.client.GetJSON(ctx, ListingKey(f), &listings)
	if err != nil || !ok {
		return nil, false, err
	}
	return listings, true, nil
}

func (lc *ListingCache) Set(ctx context.Context, f models.ListFilter, listings []models.CampaignListing) error {
	return lc.client.SetJSON(ctx, ListingKey(f), listings, lc.ttl)
}

// Invalidate drops every cached listing.
func (lc *ListingCache) Invalidate(ctx context.Context) error {
	_, err := lc.client.DeletePrefix(ctx, listingPrefix)
	return err
}
