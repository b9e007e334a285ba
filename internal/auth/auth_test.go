package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/storeloft/storeloft/internal/rbac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateKey(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore())

	rawKey, key, err := m.GenerateKey(ctx, "ten_1", rbac.RoleTenantAdmin, "CI key")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rawKey, "sk_"))
	assert.Equal(t, "ten_1", key.TenantID)
	assert.Equal(t, rbac.RoleTenantAdmin, key.Role)

	got, err := m.ValidateKey(ctx, rawKey)
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)
}

func TestValidateKey_Rejections(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore())

	_, err := m.ValidateKey(ctx, "")
	assert.ErrorIs(t, err, ErrNoAPIKey)

	_, err = m.ValidateKey(ctx, "sk_deadbeef")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	rawKey, key, err := m.GenerateKey(ctx, "ten_1", rbac.RoleTenantUser, "short-lived")
	require.NoError(t, err)

	expired := time.Now().Add(-time.Minute)
	key.ExpiresAt = &expired
	require.NoError(t, m.Store().Update(ctx, key))

	_, err = m.ValidateKey(ctx, rawKey)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestRevokeKey(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore())

	rawKey, key, err := m.GenerateKey(ctx, "ten_1", rbac.RoleTenantManager, "to revoke")
	require.NoError(t, err)

	require.NoError(t, m.RevokeKey(ctx, key.ID, "ten_1"))

	_, err = m.ValidateKey(ctx, rawKey)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	assert.ErrorIs(t, m.RevokeKey(ctx, "ak_missing", "ten_1"), ErrKeyNotFound)
}

func TestListKeys_ScopedToTenant(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore())

	_, _, err := m.GenerateKey(ctx, "ten_1", rbac.RoleTenantAdmin, "a")
	require.NoError(t, err)
	_, _, err = m.GenerateKey(ctx, "ten_1", rbac.RoleTenantUser, "b")
	require.NoError(t, err)
	_, _, err = m.GenerateKey(ctx, "ten_2", rbac.RoleTenantAdmin, "c")
	require.NoError(t, err)

	keys, err := m.ListKeys(ctx, "ten_1")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}
