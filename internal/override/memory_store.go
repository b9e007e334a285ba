package override

import (
	"context"
	"sort"
	"sync"

	"github.com/storeloft/storeloft/internal/catalog"
)

type key struct {
	tenantID string
	feature  catalog.Feature
}

// MemoryStore is an in-memory override store for demo/development. A single
// mutex serializes writes, which gives the per-key atomicity the Store
// contract requires.
type MemoryStore struct {
	mu        sync.RWMutex
	overrides map[key]*FeatureOverride
}

// NewMemoryStore creates a new in-memory override store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{overrides: make(map[key]*FeatureOverride)}
}

func (m *MemoryStore) Get(_ context.Context, tenantID string, feature catalog.Feature) (*FeatureOverride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ov, ok := m.overrides[key{tenantID, feature}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ov
	return &cp, nil
}

func (m *MemoryStore) Upsert(_ context.Context, ov *FeatureOverride) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *ov
	m.overrides[key{ov.TenantID, ov.Feature}] = &cp
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, tenantID string, feature catalog.Feature) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{tenantID, feature}
	if _, ok := m.overrides[k]; !ok {
		return ErrNotFound
	}
	delete(m.overrides, k)
	return nil
}

func (m *MemoryStore) ListByTenant(_ context.Context, tenantID string) ([]*FeatureOverride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*FeatureOverride
	for k, ov := range m.overrides {
		if k.tenantID == tenantID {
			cp := *ov
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Feature < out[j].Feature })
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
