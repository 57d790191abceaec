package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/solhedge/vault-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	factories map[string]*model.Factory
	vaults    map[string]*model.Vault
	makers    map[string]*model.MakerPosition
	takers    map[string]*model.TakerPosition
	tickets   map[string]*model.Ticket
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		factories: make(map[string]*model.Factory),
		vaults:    make(map[string]*model.Vault),
		makers:    make(map[string]*model.MakerPosition),
		takers:    make(map[string]*model.TakerPosition),
		tickets:   make(map[string]*model.Ticket),
	}
}

func positionKey(vaultID, owner string) string { return vaultID + "|" + owner }

func ticketKey(factoryID, owner string, kind model.TicketKind) string {
	return factoryID + "|" + owner + "|" + string(kind)
}

func (s *MemoryStore) CreateFactory(_ context.Context, f *model.Factory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.factories[f.ID]; ok {
		return fmt.Errorf("factory %s already exists", f.ID)
	}
	// Store a copy to avoid external mutation.
	copy := *f
	s.factories[f.ID] = &copy
	return nil
}

func (s *MemoryStore) GetFactory(_ context.Context, id string) (*model.Factory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.factories[id]
	if !ok {
		return nil, fmt.Errorf("factory %s: %w", id, ErrNotFound)
	}
	copy := *f
	return &copy, nil
}

func (s *MemoryStore) ListFactories(_ context.Context) ([]model.Factory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	factories := make([]model.Factory, 0, len(s.factories))
	for _, f := range s.factories {
		factories = append(factories, *f)
	}
	sort.Slice(factories, func(i, j int) bool { return factories[i].ID < factories[j].ID })
	return factories, nil
}

func (s *MemoryStore) UpdateFactory(_ context.Context, f *model.Factory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.factories[f.ID]; !ok {
		return fmt.Errorf("factory %s: %w", f.ID, ErrNotFound)
	}
	copy := *f
	s.factories[f.ID] = &copy
	return nil
}

func (s *MemoryStore) CreateVault(_ context.Context, v *model.Vault) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vaults[v.ID]; ok {
		return fmt.Errorf("vault %s already exists", v.ID)
	}
	copy := *v
	s.vaults[v.ID] = &copy
	return nil
}

func (s *MemoryStore) GetVault(_ context.Context, id string) (*model.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.vaults[id]
	if !ok {
		return nil, fmt.Errorf("vault %s: %w", id, ErrNotFound)
	}
	copy := *v
	return &copy, nil
}

func (s *MemoryStore) ListVaultsByFactory(_ context.Context, factoryID string) ([]model.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var vaults []model.Vault
	for _, v := range s.vaults {
		if v.FactoryID == factoryID {
			vaults = append(vaults, *v)
		}
	}
	sort.Slice(vaults, func(i, j int) bool { return vaults[i].Ord < vaults[j].Ord })
	return vaults, nil
}

func (s *MemoryStore) UpdateVault(_ context.Context, v *model.Vault) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vaults[v.ID]; !ok {
		return fmt.Errorf("vault %s: %w", v.ID, ErrNotFound)
	}
	copy := *v
	s.vaults[v.ID] = &copy
	return nil
}

func (s *MemoryStore) UpsertMakerPosition(_ context.Context, p *model.MakerPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *p
	s.makers[positionKey(p.VaultID, p.Owner)] = &copy
	return nil
}

func (s *MemoryStore) GetMakerPosition(_ context.Context, vaultID, owner string) (*model.MakerPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.makers[positionKey(vaultID, owner)]
	if !ok {
		return nil, fmt.Errorf("maker %s in vault %s: %w", owner, vaultID, ErrNotFound)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) ListMakersByVault(_ context.Context, vaultID string) ([]model.MakerPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var makers []model.MakerPosition
	for _, p := range s.makers {
		if p.VaultID == vaultID {
			makers = append(makers, *p)
		}
	}
	sort.Slice(makers, func(i, j int) bool { return makers[i].Ord < makers[j].Ord })
	return makers, nil
}

func (s *MemoryStore) UpsertTakerPosition(_ context.Context, p *model.TakerPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *p
	s.takers[positionKey(p.VaultID, p.Owner)] = &copy
	return nil
}

func (s *MemoryStore) GetTakerPosition(_ context.Context, vaultID, owner string) (*model.TakerPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.takers[positionKey(vaultID, owner)]
	if !ok {
		return nil, fmt.Errorf("taker %s in vault %s: %w", owner, vaultID, ErrNotFound)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) ListTakersByVault(_ context.Context, vaultID string) ([]model.TakerPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var takers []model.TakerPosition
	for _, p := range s.takers {
		if p.VaultID == vaultID {
			takers = append(takers, *p)
		}
	}
	sort.Slice(takers, func(i, j int) bool { return takers[i].Ord < takers[j].Ord })
	return takers, nil
}

func (s *MemoryStore) CreateTicket(_ context.Context, t *model.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ticketKey(t.FactoryID, t.Owner, t.Kind)
	if _, ok := s.tickets[key]; ok {
		return fmt.Errorf("ticket %s already exists", key)
	}
	copy := *t
	s.tickets[key] = &copy
	return nil
}

func (s *MemoryStore) GetTicket(_ context.Context, factoryID, owner string, kind model.TicketKind) (*model.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tickets[ticketKey(factoryID, owner, kind)]
	if !ok {
		return nil, fmt.Errorf("ticket for %s by %s: %w", factoryID, owner, ErrNotFound)
	}
	copy := *t
	return &copy, nil
}

func (s *MemoryStore) DeleteTicket(_ context.Context, factoryID, owner string, kind model.TicketKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tickets, ticketKey(factoryID, owner, kind))
	return nil
}
