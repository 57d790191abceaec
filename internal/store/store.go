// Package store defines the persistence interface for the option vault
// engine. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/solhedge/vault-engine/internal/model"
)

// ErrNotFound is wrapped by every lookup miss so callers can map it to
// a 404 without inspecting message text.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of
// truth; Redis provides a read-through cache layer.
type Store interface {
	// --- Factory (series) operations ---

	// CreateFactory persists a new option series factory.
	CreateFactory(ctx context.Context, f *model.Factory) error

	// GetFactory retrieves a factory by its series ticker.
	GetFactory(ctx context.Context, id string) (*model.Factory, error)

	// ListFactories returns all factories.
	ListFactories(ctx context.Context) ([]model.Factory, error)

	// UpdateFactory persists factory counters, prices and flags.
	UpdateFactory(ctx context.Context, f *model.Factory) error

	// --- Vault operations ---

	// CreateVault persists a new vault.
	CreateVault(ctx context.Context, v *model.Vault) error

	// GetVault retrieves a vault by id.
	GetVault(ctx context.Context, id string) (*model.Vault, error)

	// ListVaultsByFactory returns a factory's vaults in ordinal order.
	ListVaultsByFactory(ctx context.Context, factoryID string) ([]model.Vault, error)

	// UpdateVault persists vault counters and flags.
	UpdateVault(ctx context.Context, v *model.Vault) error

	// --- Position operations ---

	// UpsertMakerPosition inserts or replaces a maker position.
	UpsertMakerPosition(ctx context.Context, p *model.MakerPosition) error

	// GetMakerPosition retrieves one maker's position in a vault.
	GetMakerPosition(ctx context.Context, vaultID, owner string) (*model.MakerPosition, error)

	// ListMakersByVault returns a vault's maker positions in entry order.
	ListMakersByVault(ctx context.Context, vaultID string) ([]model.MakerPosition, error)

	// UpsertTakerPosition inserts or replaces a taker position.
	UpsertTakerPosition(ctx context.Context, p *model.TakerPosition) error

	// GetTakerPosition retrieves one taker's position in a vault.
	GetTakerPosition(ctx context.Context, vaultID, owner string) (*model.TakerPosition, error)

	// ListTakersByVault returns a vault's taker positions in entry order.
	ListTakersByVault(ctx context.Context, vaultID string) ([]model.TakerPosition, error)

	// --- Oracle ticket operations ---

	// CreateTicket persists an issued price-update ticket. At most one
	// ticket per (factory, owner, kind) is outstanding.
	CreateTicket(ctx context.Context, t *model.Ticket) error

	// GetTicket retrieves an outstanding ticket.
	GetTicket(ctx context.Context, factoryID, owner string, kind model.TicketKind) (*model.Ticket, error)

	// DeleteTicket removes a consumed ticket.
	DeleteTicket(ctx context.Context, factoryID, owner string, kind model.TicketKind) error
}
