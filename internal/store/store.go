package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"groupbuy-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert violates a uniqueness constraint.
	ErrDuplicate = errors.New("duplicate key")
)

// Tx is the set of ledger operations that run inside one transaction.
// LockCampaign must be called first; it holds the campaign's row lock until
// the transaction ends, serializing every writer of that campaign.
type Tx interface {
	LockCampaign(ctx context.Context, id string) (*models.Campaign, error)
	CountParticipations(ctx context.Context, campaignID string) (int, error)
	HasParticipation(ctx context.Context, campaignID, userID string) (bool, error)
	InsertParticipation(ctx context.Context, p *models.Participation) error
	CountPaidOrders(ctx context.Context, campaignID string) (int, error)
	HasOrder(ctx context.Context, campaignID, userID string) (bool, error)
	InsertOrder(ctx context.Context, o *models.Order) error
	// DefaultAddressID returns the user's default shipping address, or nil if
	// none is set. It reads on the transaction's own connection.
	DefaultAddressID(ctx context.Context, userID string) (*string, error)
	// UpdatePhase moves the campaign from one phase to another and stores the
	// deadline unless one is already set. It reports false, without error,
	// when the campaign is no longer in the expected phase.
	UpdatePhase(ctx context.Context, id string, from, to models.Phase, deadline *time.Time) (bool, error)
}

// Repository is the persistence surface used by the services.
type Repository interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	CreateCampaign(ctx context.Context, c *models.Campaign) error
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	ListCampaigns(ctx context.Context, filter models.ListFilter) ([]models.CampaignListing, error)
	ListExpiredPaymentCampaigns(ctx context.Context, now time.Time, limit int) ([]string, error)
	GetProductByID(ctx context.Context, id string) (*models.Product, error)
	Ping(ctx context.Context) error
}

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string, maxOpenConns int) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if maxOpenConns <= 0 {
		maxOpenConns = 25
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// RunInTx runs fn inside a transaction, committing only if fn returns nil.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product,
		"SELECT id, name, brand, category, image_url FROM products WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err)
	}
	return &product, nil
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
