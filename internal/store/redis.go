package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solhedge/vault-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis
// read-through cache for factories and vaults. Positions and tickets
// change on every matching call and always hit the primary. Writes go
// to the primary store and invalidate the cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func factoryKey(id string) string { return "factory:" + id }
func vaultKey(id string) string   { return "vault:" + id }

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateFactory(ctx context.Context, f *model.Factory) error {
	if err := s.primary.CreateFactory(ctx, f); err != nil {
		return err
	}
	s.cacheJSON(ctx, factoryKey(f.ID), f)
	return nil
}

func (s *CachedStore) UpdateFactory(ctx context.Context, f *model.Factory) error {
	if err := s.primary.UpdateFactory(ctx, f); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, factoryKey(f.ID))
	return nil
}

func (s *CachedStore) CreateVault(ctx context.Context, v *model.Vault) error {
	if err := s.primary.CreateVault(ctx, v); err != nil {
		return err
	}
	s.cacheJSON(ctx, vaultKey(v.ID), v)
	return nil
}

func (s *CachedStore) UpdateVault(ctx context.Context, v *model.Vault) error {
	if err := s.primary.UpdateVault(ctx, v); err != nil {
		return err
	}
	s.rdb.Del(ctx, vaultKey(v.ID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetFactory(ctx context.Context, id string) (*model.Factory, error) {
	data, err := s.rdb.Get(ctx, factoryKey(id)).Bytes()
	if err == nil {
		var f model.Factory
		if json.Unmarshal(data, &f) == nil {
			return &f, nil
		}
	}

	f, err := s.primary.GetFactory(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, factoryKey(id), f)
	return f, nil
}

func (s *CachedStore) GetVault(ctx context.Context, id string) (*model.Vault, error) {
	data, err := s.rdb.Get(ctx, vaultKey(id)).Bytes()
	if err == nil {
		var v model.Vault
		if json.Unmarshal(data, &v) == nil {
			return &v, nil
		}
	}

	v, err := s.primary.GetVault(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, vaultKey(id), v)
	return v, nil
}

// --- Pass-through ---

func (s *CachedStore) ListFactories(ctx context.Context) ([]model.Factory, error) {
	return s.primary.ListFactories(ctx)
}

func (s *CachedStore) ListVaultsByFactory(ctx context.Context, factoryID string) ([]model.Vault, error) {
	return s.primary.ListVaultsByFactory(ctx, factoryID)
}

func (s *CachedStore) UpsertMakerPosition(ctx context.Context, p *model.MakerPosition) error {
	return s.primary.UpsertMakerPosition(ctx, p)
}

func (s *CachedStore) GetMakerPosition(ctx context.Context, vaultID, owner string) (*model.MakerPosition, error) {
	return s.primary.GetMakerPosition(ctx, vaultID, owner)
}

func (s *CachedStore) ListMakersByVault(ctx context.Context, vaultID string) ([]model.MakerPosition, error) {
	return s.primary.ListMakersByVault(ctx, vaultID)
}

func (s *CachedStore) UpsertTakerPosition(ctx context.Context, p *model.TakerPosition) error {
	return s.primary.UpsertTakerPosition(ctx, p)
}

func (s *CachedStore) GetTakerPosition(ctx context.Context, vaultID, owner string) (*model.TakerPosition, error) {
	return s.primary.GetTakerPosition(ctx, vaultID, owner)
}

func (s *CachedStore) ListTakersByVault(ctx context.Context, vaultID string) ([]model.TakerPosition, error) {
	return s.primary.ListTakersByVault(ctx, vaultID)
}

func (s *CachedStore) CreateTicket(ctx context.Context, t *model.Ticket) error {
	return s.primary.CreateTicket(ctx, t)
}

func (s *CachedStore) GetTicket(ctx context.Context, factoryID, owner string, kind model.TicketKind) (*model.Ticket, error) {
	return s.primary.GetTicket(ctx, factoryID, owner, kind)
}

func (s *CachedStore) DeleteTicket(ctx context.Context, factoryID, owner string, kind model.TicketKind) error {
	return s.primary.DeleteTicket(ctx, factoryID, owner, kind)
}

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}
