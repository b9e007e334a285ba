package tenant

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/storeloft/storeloft/internal/catalog"
	"github.com/storeloft/storeloft/internal/lifecycle"
)

// PostgresStore persists tenants in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed tenant store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const tenantColumns = `id, name, slug, subscription_status, subscription_tier,
	trial_ends_at, subscription_ends_at, stripe_customer_id, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, t *Tenant) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, slug, subscription_status, subscription_tier,
			trial_ends_at, subscription_ends_at, stripe_customer_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.Name, t.Slug, string(t.SubscriptionStatus), string(t.SubscriptionTier),
		t.TrialEndsAt, t.SubscriptionEndsAt, nullableString(t.StripeCustomerID),
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrSlugTaken
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Tenant, error) {
	return p.scanTenant(p.db.QueryRowContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
}

func (p *PostgresStore) GetBySlug(ctx context.Context, slug string) (*Tenant, error) {
	return p.scanTenant(p.db.QueryRowContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, slug))
}

func (p *PostgresStore) GetByStripeCustomer(ctx context.Context, customerID string) (*Tenant, error) {
	return p.scanTenant(p.db.QueryRowContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants WHERE stripe_customer_id = $1`, customerID))
}

func (p *PostgresStore) Update(ctx context.Context, t *Tenant) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE tenants SET name = $1, subscription_status = $2, subscription_tier = $3,
			trial_ends_at = $4, subscription_ends_at = $5, stripe_customer_id = $6, updated_at = $7
		WHERE id = $8`,
		t.Name, string(t.SubscriptionStatus), string(t.SubscriptionTier),
		t.TrialEndsAt, t.SubscriptionEndsAt, nullableString(t.StripeCustomerID),
		t.UpdatedAt, t.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTenantNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, limit int, afterID string) ([]*Tenant, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants
		WHERE $2 = '' OR id > $2
		ORDER BY id
		LIMIT $1`, limit, afterID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Tenant
	for rows.Next() {
		t, err := scanTenantRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (p *PostgresStore) scanTenant(row *sql.Row) (*Tenant, error) {
	t, err := scanTenantRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrTenantNotFound
	}
	return t, err
}

func scanTenantRow(row rowScanner) (*Tenant, error) {
	t := &Tenant{}
	var (
		status, tier string
		stripeID     sql.NullString
	)
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &status, &tier,
		&t.TrialEndsAt, &t.SubscriptionEndsAt, &stripeID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.SubscriptionStatus = lifecycle.RawStatus(status)
	t.SubscriptionTier = catalog.Tier(tier)
	if stripeID.Valid {
		t.StripeCustomerID = stripeID.String
	}
	return t, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ Store = (*PostgresStore)(nil)
