package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"groupbuy-service/internal/models"
)

// MemoryStore is an in-process Repository for local development and tests.
// It mirrors the Postgres semantics the services rely on: LockCampaign blocks
// until the owning transaction ends, writes become visible only on commit, and
// ledger uniqueness is re-checked at commit time.
type MemoryStore struct {
	mu             sync.Mutex
	campaigns      map[string]models.Campaign
	products       map[string]models.Product
	addresses      map[string]string
	participations map[string]map[string]models.Participation
	orders         map[string]map[string]models.Order
	rowLocks       map[string]chan struct{}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		campaigns:      make(map[string]models.Campaign),
		products:       make(map[string]models.Product),
		addresses:      make(map[string]string),
		participations: make(map[string]map[string]models.Participation),
		orders:         make(map[string]map[string]models.Order),
		rowLocks:       make(map[string]chan struct{}),
	}
}

// AddProduct seeds a catalog product.
func (m *MemoryStore) AddProduct(p models.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

// SetDefaultAddress seeds a user's default shipping address.
func (m *MemoryStore) SetDefaultAddress(userID, addressID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addresses[userID] = addressID
}

// Participations returns the committed participations of a campaign.
func (m *MemoryStore) Participations(campaignID string) []models.Participation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Participation, 0, len(m.participations[campaignID]))
	for _, p := range m.participations[campaignID] {
		out = append(out, p)
	}
	return out
}

// Orders returns the committed orders of a campaign.
func (m *MemoryStore) Orders(campaignID string) []models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Order, 0, len(m.orders[campaignID]))
	for _, o := range m.orders[campaignID] {
		out = append(out, o)
	}
	return out
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{
		store:          m,
		participations: make(map[string]map[string]models.Participation),
		orders:         make(map[string]map[string]models.Order),
		phases:         make(map[string]models.Campaign),
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

func (m *MemoryStore) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.campaigns[c.ID]; ok {
		return ErrDuplicate
	}
	for _, existing := range m.campaigns {
		if existing.Slug == c.Slug {
			return ErrDuplicate
		}
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	m.campaigns[c.ID] = *c
	return nil
}

func (m *MemoryStore) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemoryStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.campaigns {
		if c.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ListCampaigns(ctx context.Context, filter models.ListFilter) ([]models.CampaignListing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	listings := []models.CampaignListing{}
	for _, c := range m.campaigns {
		product := m.products[c.ProductID]
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if filter.Category != "" && product.Category != filter.Category {
			continue
		}
		if filter.FeaturedOnly && !c.IsFeatured {
			continue
		}
		listings = append(listings, models.CampaignListing{
			Campaign:            c,
			Product:             product,
			CurrentParticipants: len(m.participations[c.ID]),
			PaidOrders:          m.paidCountLocked(c.ID),
		})
	}
	sort.Slice(listings, func(i, j int) bool {
		return listings[i].CreatedAt.After(listings[j].CreatedAt)
	})
	return listings, nil
}

func (m *MemoryStore) ListExpiredPaymentCampaigns(ctx context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []models.Campaign
	for _, c := range m.campaigns {
		if c.Status == models.PhaseCollectingPayments && c.PaymentDeadlineAt != nil && !c.PaymentDeadlineAt.After(now) {
			due = append(due, c)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].PaymentDeadlineAt.Before(*due[j].PaymentDeadlineAt)
	})

	ids := make([]string, 0, len(due))
	for i, c := range due {
		if limit > 0 && i >= limit {
			break
		}
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (m *MemoryStore) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (t *memTx) DefaultAddressID(ctx context.Context, userID string) (*string, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	id, ok := t.store.addresses[userID]
	if !ok {
		return nil, nil
	}
	return &id, nil
}

func (m *MemoryStore) paidCountLocked(campaignID string) int {
	n := 0
	for _, o := range m.orders[campaignID] {
		if o.PaymentStatus == models.PaymentStatusPaid {
			n++
		}
	}
	return n
}

// rowLock returns the lock of an existing campaign. Each lock is a channel
// with one slot; holding the lock means owning the slot.
func (m *MemoryStore) rowLock(id string) (chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.campaigns[id]; !ok {
		return nil, ErrNotFound
	}
	l, ok := m.rowLocks[id]
	if !ok {
		l = make(chan struct{}, 1)
		m.rowLocks[id] = l
	}
	return l, nil
}

// memTx stages writes until commit.
type memTx struct {
	store          *MemoryStore
	held           []chan struct{}
	locked         map[string]bool
	participations map[string]map[string]models.Participation
	orders         map[string]map[string]models.Order
	phases         map[string]models.Campaign
}

func (t *memTx) LockCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	if !t.locked[id] {
		l, err := t.store.rowLock(id)
		if err != nil {
			return nil, err
		}
		select {
		case l <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		t.held = append(t.held, l)
		if t.locked == nil {
			t.locked = make(map[string]bool)
		}
		t.locked[id] = true
	}

	if c, ok := t.phases[id]; ok {
		return &c, nil
	}
	return t.store.GetCampaign(ctx, id)
}

func (t *memTx) CountParticipations(ctx context.Context, campaignID string) (int, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return len(t.store.participations[campaignID]) + len(t.participations[campaignID]), nil
}

func (t *memTx) HasParticipation(ctx context.Context, campaignID, userID string) (bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	_, committed := t.store.participations[campaignID][userID]
	_, staged := t.participations[campaignID][userID]
	return committed || staged, nil
}

func (t *memTx) InsertParticipation(ctx context.Context, p *models.Participation) error {
	exists, _ := t.HasParticipation(ctx, p.CampaignID, p.UserID)
	if exists {
		return ErrDuplicate
	}
	p.CreatedAt = time.Now().UTC()
	if t.participations[p.CampaignID] == nil {
		t.participations[p.CampaignID] = make(map[string]models.Participation)
	}
	t.participations[p.CampaignID][p.UserID] = *p
	return nil
}

func (t *memTx) CountPaidOrders(ctx context.Context, campaignID string) (int, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	n := t.store.paidCountLocked(campaignID)
	for _, o := range t.orders[campaignID] {
		if o.PaymentStatus == models.PaymentStatusPaid {
			n++
		}
	}
	return n, nil
}

func (t *memTx) HasOrder(ctx context.Context, campaignID, userID string) (bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	_, committed := t.store.orders[campaignID][userID]
	_, staged := t.orders[campaignID][userID]
	return committed || staged, nil
}

func (t *memTx) InsertOrder(ctx context.Context, o *models.Order) error {
	exists, _ := t.HasOrder(ctx, o.CampaignID, o.UserID)
	if exists {
		return ErrDuplicate
	}
	o.CreatedAt = time.Now().UTC()
	if t.orders[o.CampaignID] == nil {
		t.orders[o.CampaignID] = make(map[string]models.Order)
	}
	t.orders[o.CampaignID][o.UserID] = *o
	return nil
}

func (t *memTx) UpdatePhase(ctx context.Context, id string, from, to models.Phase, deadline *time.Time) (bool, error) {
	c, err := t.LockCampaign(ctx, id)
	if err != nil {
		return false, err
	}
	if c.Status != from {
		return false, nil
	}
	c.Status = to
	if c.PaymentDeadlineAt == nil && deadline != nil {
		d := *deadline
		c.PaymentDeadlineAt = &d
	}
	c.UpdatedAt = time.Now().UTC()
	t.phases[id] = *c
	return true, nil
}

func (t *memTx) commit() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for campaignID, byUser := range t.participations {
		for userID := range byUser {
			if _, ok := t.store.participations[campaignID][userID]; ok {
				return ErrDuplicate
			}
		}
	}
	for campaignID, byUser := range t.orders {
		for userID := range byUser {
			if _, ok := t.store.orders[campaignID][userID]; ok {
				return ErrDuplicate
			}
		}
	}

	for campaignID, byUser := range t.participations {
		if t.store.participations[campaignID] == nil {
			t.store.participations[campaignID] = make(map[string]models.Participation)
		}
		for userID, p := range byUser {
			t.store.participations[campaignID][userID] = p
		}
	}
	for campaignID, byUser := range t.orders {
		if t.store.orders[campaignID] == nil {
			t.store.orders[campaignID] = make(map[string]models.Order)
		}
		for userID, o := range byUser {
			t.store.orders[campaignID][userID] = o
		}
	}
	for id, c := range t.phases {
		t.store.campaigns[id] = c
	}
	return nil
}

func (t *memTx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		<-t.held[i]
	}
	t.held = nil
}
