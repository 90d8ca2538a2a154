package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"groupbuy-service/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCampaign(productID string, status models.Phase) *models.Campaign {
	id := uuid.New().String()
	return &models.Campaign{
		ID:              id,
		Slug:            "campaign-" + id[:8],
		ProductID:       productID,
		NormalPrice:     decimal.NewFromInt(200),
		GroupPrice:      decimal.NewFromInt(150),
		Currency:        "TL",
		MinParticipants: 2,
		StartAt:         time.Now().Add(-time.Hour),
		EndAt:           time.Now().Add(24 * time.Hour),
		Status:          status,
		SellerName:      "Seller",
		ShippingRules:   "free",
	}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.AddProduct(models.Product{ID: "p1", Name: "Kettle", Category: "kitchen"})

	c := newTestCampaign("p1", models.PhaseCollectingUsers)
	require.NoError(t, s.CreateCampaign(ctx, c))
	assert.False(t, c.CreatedAt.IsZero())

	got, err := s.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Slug, got.Slug)

	exists, err := s.SlugExists(ctx, c.Slug)
	require.NoError(t, err)
	assert.True(t, exists)

	dup := newTestCampaign("p1", models.PhaseDraft)
	dup.Slug = c.Slug
	assert.ErrorIs(t, s.CreateCampaign(ctx, dup), ErrDuplicate)

	_, err = s.GetCampaign(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreTxRollback(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := newTestCampaign("p1", models.PhaseCollectingUsers)
	require.NoError(t, s.CreateCampaign(ctx, c))

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.LockCampaign(ctx, c.ID)
		require.NoError(t, err)
		require.NoError(t, tx.InsertParticipation(ctx, &models.Participation{
			ID: uuid.New().String(), CampaignID: c.ID, UserID: "u1",
		}))
		ok, err := tx.UpdatePhase(ctx, c.ID, models.PhaseCollectingUsers, models.PhaseCollectingPayments, nil)
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Empty(t, s.Participations(c.ID))
	got, err := s.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCollectingUsers, got.Status)
}

func TestMemoryStoreUpdatePhaseCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := newTestCampaign("p1", models.PhaseCollectingUsers)
	require.NoError(t, s.CreateCampaign(ctx, c))

	first := time.Now().Add(time.Hour).UTC()
	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		ok, err := tx.UpdatePhase(ctx, c.ID, models.PhaseCollectingUsers, models.PhaseCollectingPayments, &first)
		require.True(t, ok)
		return err
	})
	require.NoError(t, err)

	second := first.Add(time.Hour)
	err = s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		ok, err := tx.UpdatePhase(ctx, c.ID, models.PhaseCollectingUsers, models.PhaseCollectingPayments, &second)
		assert.False(t, ok)
		return err
	})
	require.NoError(t, err)

	got, err := s.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCollectingPayments, got.Status)
	require.NotNil(t, got.PaymentDeadlineAt)
	assert.True(t, first.Equal(*got.PaymentDeadlineAt))
}

func TestMemoryStoreConcurrentInsertsAreUnique(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := newTestCampaign("p1", models.PhaseCollectingUsers)
	require.NoError(t, s.CreateCampaign(ctx, c))

	const attempts = 30
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		ok, dupErr int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
				if _, err := tx.LockCampaign(ctx, c.ID); err != nil {
					return err
				}
				return tx.InsertParticipation(ctx, &models.Participation{
					ID: uuid.New().String(), CampaignID: c.ID, UserID: "same-user",
				})
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrDuplicate):
				dupErr++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, attempts-1, dupErr)
	assert.Len(t, s.Participations(c.ID), 1)
}

func TestMemoryStoreListCampaigns(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.AddProduct(models.Product{ID: "p1", Name: "Kettle", Category: "kitchen"})
	s.AddProduct(models.Product{ID: "p2", Name: "Tent", Category: "outdoor"})

	kettle := newTestCampaign("p1", models.PhaseCollectingUsers)
	kettle.IsFeatured = true
	tent := newTestCampaign("p2", models.PhaseDraft)
	require.NoError(t, s.CreateCampaign(ctx, kettle))
	require.NoError(t, s.CreateCampaign(ctx, tent))

	all, err := s.ListCampaigns(ctx, models.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byStatus, err := s.ListCampaigns(ctx, models.ListFilter{Status: models.PhaseDraft})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, tent.ID, byStatus[0].ID)
	assert.Equal(t, "Tent", byStatus[0].Product.Name)

	featured, err := s.ListCampaigns(ctx, models.ListFilter{FeaturedOnly: true, Category: "kitchen"})
	require.NoError(t, err)
	require.Len(t, featured, 1)
	assert.Equal(t, kettle.ID, featured[0].ID)

	none, err := s.ListCampaigns(ctx, models.ListFilter{Status: models.PhaseFailed})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestMemoryStoreListExpiredPaymentCampaigns(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := newTestCampaign("p1", models.PhaseCollectingPayments)
	due.PaymentDeadlineAt = &past
	notYet := newTestCampaign("p1", models.PhaseCollectingPayments)
	notYet.PaymentDeadlineAt = &future
	finished := newTestCampaign("p1", models.PhaseSuccessful)
	finished.PaymentDeadlineAt = &past

	for _, c := range []*models.Campaign{due, notYet, finished} {
		require.NoError(t, s.CreateCampaign(ctx, c))
	}

	ids, err := s.ListExpiredPaymentCampaigns(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{due.ID}, ids)
}

func TestMemoryStoreDefaultAddress(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	readAddress := func() *string {
		var id *string
		require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			var err error
			id, err = tx.DefaultAddressID(ctx, "u1")
			return err
		}))
		return id
	}

	assert.Nil(t, readAddress())

	s.SetDefaultAddress("u1", "addr-1")
	id := readAddress()
	require.NotNil(t, id)
	assert.Equal(t, "addr-1", *id)
}

func TestMemoryLockHonoursContext(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := newTestCampaign("p1", models.PhaseCollectingPayments)
	require.NoError(t, s.CreateCampaign(ctx, c))

	locked := make(chan struct{})
	unlock := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			if _, err := tx.LockCampaign(ctx, c.ID); err != nil {
				return err
			}
			close(locked)
			<-unlock
			return nil
		})
	}()
	<-locked

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := s.RunInTx(waitCtx, func(ctx context.Context, tx Tx) error {
		_, err := tx.LockCampaign(ctx, c.ID)
		return err
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(unlock)
	require.NoError(t, <-done)

	err = s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.LockCampaign(ctx, c.ID)
		return err
	})
	assert.NoError(t, err)
}

func TestMemoryLockUnknownCampaign(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 0; i < 10; i++ {
		err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			_, err := tx.LockCampaign(ctx, uuid.New().String())
			return err
		})
		assert.ErrorIs(t, err, ErrNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Empty(t, s.rowLocks)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("other")))
}

// TestPostgresLedger runs against a real database when TEST_DATABASE_URL is set.
func TestPostgresLedger(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Integration test - requires database (set TEST_DATABASE_URL)")
	}

	s, err := NewStore(url, 10)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))

	productID := uuid.New().String()
	_, err = s.GetDB().ExecContext(ctx,
		"INSERT INTO products (id, name, category) VALUES ($1, $2, $3)", productID, "Kettle", "kitchen")
	require.NoError(t, err)

	c := newTestCampaign(productID, models.PhaseCollectingUsers)
	require.NoError(t, s.CreateCampaign(ctx, c))

	insert := func(userID string) error {
		return s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			if _, err := tx.LockCampaign(ctx, c.ID); err != nil {
				return err
			}
			return tx.InsertParticipation(ctx, &models.Participation{
				ID: uuid.New().String(), CampaignID: c.ID, UserID: userID,
			})
		})
	}
	require.NoError(t, insert("u1"))
	assert.ErrorIs(t, insert("u1"), ErrDuplicate)

	deadline := time.Now().Add(time.Hour).UTC()
	err = s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		n, err := tx.CountParticipations(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		ok, err := tx.UpdatePhase(ctx, c.ID, models.PhaseCollectingUsers, models.PhaseCollectingPayments, &deadline)
		assert.True(t, ok)
		return err
	})
	require.NoError(t, err)

	listings, err := s.ListCampaigns(ctx, models.ListFilter{Status: models.PhaseCollectingPayments})
	require.NoError(t, err)
	var found bool
	for _, l := range listings {
		if l.ID == c.ID {
			found = true
			assert.Equal(t, 1, l.CurrentParticipants)
			assert.Equal(t, "Kettle", l.Product.Name)
		}
	}
	assert.True(t, found)
}
