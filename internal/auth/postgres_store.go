package auth

import (
	"context"
	"database/sql"
	"time"

	"github.com/storeloft/storeloft/internal/rbac"
)

// PostgresStore persists API keys in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed key store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, key *APIKey) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, hash, tenant_id, role, name, created_at, expires_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.Hash, key.TenantID, string(key.Role), key.Name,
		key.CreatedAt, key.ExpiresAt, key.Revoked,
	)
	return err
}

func (p *PostgresStore) GetByHash(ctx context.Context, hash string) (*APIKey, error) {
	return p.scanKey(p.db.QueryRowContext(ctx, `
		SELECT id, hash, tenant_id, role, name, created_at, last_used, expires_at, revoked
		FROM api_keys WHERE hash = $1`, hash))
}

func (p *PostgresStore) GetByTenant(ctx context.Context, tenantID string) ([]*APIKey, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, hash, tenant_id, role, name, created_at, last_used, expires_at, revoked
		FROM api_keys WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []*APIKey
	for rows.Next() {
		key, err := p.scanKeyRow(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, key *APIKey) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE api_keys SET role = $1, name = $2, last_used = $3, expires_at = $4, revoked = $5
		WHERE id = $6`,
		string(key.Role), key.Name, nullableTime(key.LastUsed), key.ExpiresAt, key.Revoked, key.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrKeyNotFound
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (p *PostgresStore) scanKey(row *sql.Row) (*APIKey, error) {
	key, err := p.scanKeyRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	return key, err
}

func (p *PostgresStore) scanKeyRow(row rowScanner) (*APIKey, error) {
	key := &APIKey{}
	var role string
	var lastUsed sql.NullTime
	err := row.Scan(&key.ID, &key.Hash, &key.TenantID, &role, &key.Name,
		&key.CreatedAt, &lastUsed, &key.ExpiresAt, &key.Revoked)
	if err != nil {
		return nil, err
	}
	key.Role = rbac.Role(role)
	if lastUsed.Valid {
		key.LastUsed = lastUsed.Time
	}
	return key, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

var _ Store = (*PostgresStore)(nil)
