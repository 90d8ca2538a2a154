package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Phase is the lifecycle phase of a campaign.
type Phase string

// Campaign phases, in forward order.
const (
	PhaseDraft              Phase = "DRAFT"
	PhaseCollectingUsers    Phase = "COLLECTING_USERS"
	PhaseCollectingPayments Phase = "COLLECTING_PAYMENTS"
	PhaseSuccessful         Phase = "SUCCESSFUL"
	PhaseFailed             Phase = "FAILED"
)

// Phases lists every phase in forward order.
var Phases = []Phase{
	PhaseDraft,
	PhaseCollectingUsers,
	PhaseCollectingPayments,
	PhaseSuccessful,
	PhaseFailed,
}

// ParsePhase converts a wire name into a Phase.
func ParsePhase(s string) (Phase, bool) {
	for _, p := range Phases {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

// Terminal reports whether no transition can leave the phase.
func (p Phase) Terminal() bool {
	return p == PhaseSuccessful || p == PhaseFailed
}

// Label returns the display label for the phase.
func (p Phase) Label() string {
	switch p {
	case PhaseDraft:
		return "Draft"
	case PhaseCollectingUsers:
		return "Collecting participants"
	case PhaseCollectingPayments:
		return "Collecting payments"
	case PhaseSuccessful:
		return "Successful"
	case PhaseFailed:
		return "Failed"
	}
	return string(p)
}

// PaymentStatus is the settlement state of an order.
type PaymentStatus string

// Payment statuses
const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// CanBecome reports whether a payment may move from s to next.
// Pending settles to Paid or Failed; Paid may only be refunded.
func (s PaymentStatus) CanBecome(next PaymentStatus) bool {
	switch s {
	case PaymentStatusPending:
		return next == PaymentStatusPaid || next == PaymentStatusFailed
	case PaymentStatusPaid:
		return next == PaymentStatusRefunded
	}
	return false
}

// Product is read-only catalog metadata referenced by a campaign.
type Product struct {
	ID       string  `db:"id" json:"id"`
	Name     string  `db:"name" json:"name"`
	Brand    string  `db:"brand" json:"brand"`
	Category string  `db:"category" json:"category"`
	ImageURL *string `db:"image_url" json:"imageUrl,omitempty"`
}

// Campaign is a group-buying campaign.
type Campaign struct {
	ID                string          `db:"id" json:"id"`
	Slug              string          `db:"slug" json:"slug"`
	ProductID         string          `db:"product_id" json:"productId"`
	NormalPrice       decimal.Decimal `db:"normal_price" json:"normalPrice"`
	GroupPrice        decimal.Decimal `db:"group_price" json:"groupPrice"`
	Currency          string          `db:"currency" json:"currency"`
	MinParticipants   int             `db:"min_participants" json:"minParticipants"`
	MaxParticipants   *int            `db:"max_participants" json:"maxParticipants"`
	StartAt           time.Time       `db:"start_at" json:"startAt"`
	EndAt             time.Time       `db:"end_at" json:"endAt"`
	PaymentDeadlineAt *time.Time      `db:"payment_deadline_at" json:"paymentDeadlineAt"`
	Status            Phase           `db:"status" json:"status"`
	SellerName        string          `db:"seller_name" json:"sellerName"`
	Location          *string         `db:"location" json:"location"`
	ShippingRules     string          `db:"shipping_rules" json:"shippingRules"`
	Description       *string         `db:"description" json:"description"`
	IsFeatured        bool            `db:"is_featured" json:"isFeatured"`
	CreatedAt         time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updatedAt"`
}

// HasCapacity reports whether another participant fits given the current count.
func (c *Campaign) HasCapacity(count int) bool {
	return c.MaxParticipants == nil || count < *c.MaxParticipants
}

// CampaignListing is a campaign with its product summary and ledger counts.
type CampaignListing struct {
	Campaign
	Product             Product `db:"product" json:"product"`
	CurrentParticipants int     `db:"current_participants" json:"currentParticipants"`
	PaidOrders          int     `db:"paid_orders" json:"paidOrders"`
}

// ListFilter narrows a campaign listing. Zero values do not filter.
type ListFilter struct {
	Status       Phase
	Category     string
	FeaturedOnly bool
}

// Participation records a user's intent to buy in a campaign.
type Participation struct {
	ID         string    `db:"id" json:"id"`
	CampaignID string    `db:"campaign_id" json:"campaignId"`
	UserID     string    `db:"user_id" json:"userId"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// Order records a user's payment for a campaign.
type Order struct {
	ID                string          `db:"id" json:"id"`
	CampaignID        string          `db:"campaign_id" json:"campaignId"`
	UserID            string          `db:"user_id" json:"userId"`
	Quantity          int             `db:"quantity" json:"quantity"`
	UnitPrice         decimal.Decimal `db:"unit_price" json:"unitPrice"`
	TotalAmount       decimal.Decimal `db:"total_amount" json:"totalAmount"`
	PaymentStatus     PaymentStatus   `db:"payment_status" json:"paymentStatus"`
	PaymentDate       *time.Time      `db:"payment_date" json:"paymentDate"`
	ProviderRef       string          `db:"provider_ref" json:"providerRef,omitempty"`
	ShippingAddressID *string         `db:"shipping_address_id" json:"shippingAddressId"`
	CreatedAt         time.Time       `db:"created_at" json:"createdAt"`
}
