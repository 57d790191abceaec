// Package token provides the asset transfer collaborator consumed by
// the option engine. The engine never observes partial transfers: a
// Transfer either moves the full amount or fails without effect.
//
// Outgoing transfers from a vault treasury are authorized by an
// explicit capability value constructed from the vault identity,
// rather than by any key material.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrInsufficientFunds is returned when the source account cannot
	// cover the transfer amount.
	ErrInsufficientFunds = errors.New("token: insufficient funds")

	// ErrUnauthorized is returned when the authority does not control
	// the source account.
	ErrUnauthorized = errors.New("token: authority does not control source account")

	// ErrUnknownAccount is returned for transfers touching accounts the
	// ledger has never seen.
	ErrUnknownAccount = errors.New("token: unknown account")

	// ErrAssetMismatch is returned when source and destination hold
	// different assets.
	ErrAssetMismatch = errors.New("token: source and destination assets differ")

	// ErrUnknownAsset is returned when an asset has no registered mint.
	ErrUnknownAsset = errors.New("token: unknown asset")
)

// NativeAsset is the asset oracle ticket fees are charged in.
const NativeAsset = "NATIVE"

// Authority is the capability required to move funds out of an
// account. Accounts owned by a user are moved by that user's
// authority; vault treasuries are moved by the vault's own authority.
type Authority struct {
	holder string
}

// OwnerAuthority returns the authority of a user identity.
func OwnerAuthority(owner string) Authority { return Authority{holder: owner} }

// VaultAuthority returns the authority of a vault identity. The vault
// record itself is the signer for its treasuries.
func VaultAuthority(vaultID string) Authority { return Authority{holder: vaultID} }

// Holder returns the identity this authority acts for.
func (a Authority) Holder() string { return a.holder }

// Account describes a ledger account: who controls it and what it holds.
type Account struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`
	Asset string `json:"asset"`
}

// Ledger is the transfer interface the engine consumes.
type Ledger interface {
	// CreateAccount creates an account for owner holding asset and
	// returns its id. Vault treasuries are created under the vault's
	// own identity.
	CreateAccount(ctx context.Context, owner, asset string) (string, error)

	// EnsureAccount creates an account under a caller-chosen id if it
	// does not already exist. Used for deterministic fee sinks.
	EnsureAccount(ctx context.Context, id, owner, asset string) error

	// Transfer atomically moves amount from one account to another.
	Transfer(ctx context.Context, from, to string, amount uint64, auth Authority) error

	// Balance returns the current balance of an account.
	Balance(ctx context.Context, account string) (uint64, error)

	// Account returns ownership and asset metadata for validation.
	Account(ctx context.Context, account string) (*Account, error)

	// MintDecimals returns the decimal places of an asset's mint.
	MintDecimals(ctx context.Context, asset string) (uint8, error)
}

// MemoryLedger implements Ledger with in-memory maps. Used for testing
// and single-node deployments without an external token host.
type MemoryLedger struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	balances map[string]uint64
	decimals map[string]uint8
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts: make(map[string]*Account),
		balances: make(map[string]uint64),
		decimals: make(map[string]uint8),
	}
}

// RegisterAsset registers an asset mint with its decimal places.
func (l *MemoryLedger) RegisterAsset(asset string, decimals uint8) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.decimals[asset] = decimals
}

func (l *MemoryLedger) CreateAccount(_ context.Context, owner, asset string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.decimals[asset]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	id := uuid.New().String()
	l.accounts[id] = &Account{ID: id, Owner: owner, Asset: asset}
	return id, nil
}

// CreateAccountWithID creates an account under a caller-chosen id,
// for deterministic test fixtures.
func (l *MemoryLedger) CreateAccountWithID(id, owner, asset string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[id] = &Account{ID: id, Owner: owner, Asset: asset}
}

func (l *MemoryLedger) EnsureAccount(_ context.Context, id, owner, asset string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok := l.accounts[id]; ok {
		if a.Asset != asset {
			return ErrAssetMismatch
		}
		return nil
	}
	if _, ok := l.decimals[asset]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	l.accounts[id] = &Account{ID: id, Owner: owner, Asset: asset}
	return nil
}

// Mint credits an account out of thin air. Test and bootstrap helper.
func (l *MemoryLedger) Mint(account string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[account]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	l.balances[account] += amount
	return nil
}

func (l *MemoryLedger) Transfer(_ context.Context, from, to string, amount uint64, auth Authority) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	src, ok := l.accounts[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, from)
	}
	dst, ok := l.accounts[to]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, to)
	}
	if src.Asset != dst.Asset {
		return ErrAssetMismatch
	}
	if src.Owner != auth.holder {
		return ErrUnauthorized
	}
	if l.balances[from] < amount {
		return ErrInsufficientFunds
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}

func (l *MemoryLedger) Balance(_ context.Context, account string) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.accounts[account]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	return l.balances[account], nil
}

func (l *MemoryLedger) Account(_ context.Context, account string) (*Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.accounts[account]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	copy := *a
	return &copy, nil
}

func (l *MemoryLedger) MintDecimals(_ context.Context, asset string) (uint8, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.decimals[asset]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	return d, nil
}
