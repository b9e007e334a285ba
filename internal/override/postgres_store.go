package override

import (
	"context"
	"database/sql"

	"github.com/storeloft/storeloft/internal/catalog"
)

// PostgresStore persists overrides in PostgreSQL. Per-key atomicity comes from
// the unique (tenant_id, feature) index plus ON CONFLICT upsert: the last
// committed write wins and readers never see a partial row.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed override store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Get(ctx context.Context, tenantID string, feature catalog.Feature) (*FeatureOverride, error) {
	ov := &FeatureOverride{}
	var feat string
	err := p.db.QueryRowContext(ctx, `
		SELECT tenant_id, feature, granted, reason, granted_by, updated_at
		FROM feature_overrides
		WHERE tenant_id = $1 AND feature = $2`,
		tenantID, string(feature),
	).Scan(&ov.TenantID, &feat, &ov.Granted, &ov.Reason, &ov.GrantedBy, &ov.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ov.Feature = catalog.Feature(feat)
	return ov, nil
}

func (p *PostgresStore) Upsert(ctx context.Context, ov *FeatureOverride) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO feature_overrides (tenant_id, feature, granted, reason, granted_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, feature) DO UPDATE SET
			granted    = EXCLUDED.granted,
			reason     = EXCLUDED.reason,
			granted_by = EXCLUDED.granted_by,
			updated_at = EXCLUDED.updated_at`,
		ov.TenantID, string(ov.Feature), ov.Granted, ov.Reason, ov.GrantedBy, ov.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Delete(ctx context.Context, tenantID string, feature catalog.Feature) error {
	result, err := p.db.ExecContext(ctx, `
		DELETE FROM feature_overrides WHERE tenant_id = $1 AND feature = $2`,
		tenantID, string(feature),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListByTenant(ctx context.Context, tenantID string) ([]*FeatureOverride, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT tenant_id, feature, granted, reason, granted_by, updated_at
		FROM feature_overrides
		WHERE tenant_id = $1
		ORDER BY feature`, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*FeatureOverride
	for rows.Next() {
		ov := &FeatureOverride{}
		var feat string
		if err := rows.Scan(&ov.TenantID, &feat, &ov.Granted, &ov.Reason, &ov.GrantedBy, &ov.UpdatedAt); err != nil {
			return nil, err
		}
		ov.Feature = catalog.Feature(feat)
		out = append(out, ov)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
