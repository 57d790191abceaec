// Package engine implements the option vault state machine: maker
// lifecycle, lot matching, oracle price writes, settlement and
// emergency exit. Every operation is a validate, compute, transfer,
// mutate sequence over records the caller loaded; nothing in here
// touches persistence. The wall clock is read exactly once per call.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/solhedge/vault-engine/internal/config"
	"github.com/solhedge/vault-engine/internal/lotmath"
	"github.com/solhedge/vault-engine/internal/model"
	"github.com/solhedge/vault-engine/internal/token"
)

// Engine holds the immutable parameters and the transfer collaborator.
// It carries no position state of its own.
type Engine struct {
	cfg    config.Engine
	ledger token.Ledger
	now    func() time.Time
}

// New creates an engine. A nil now defaults to time.Now.
func New(cfg config.Engine, ledger token.Ledger, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{cfg: cfg, ledger: ledger, now: now}
}

// Ledger exposes the transfer collaborator, for bootstrap code that
// needs to seed fee sinks.
func (e *Engine) Ledger() token.Ledger { return e.ledger }

func (e *Engine) unixNow() uint64 {
	return uint64(e.now().Unix())
}

// baseDecimals resolves the decimal places of the factory's base mint.
func (e *Engine) baseDecimals(ctx context.Context, f *model.Factory) (uint8, error) {
	d, err := e.ledger.MintDecimals(ctx, f.BaseAsset)
	if err != nil {
		return 0, fmt.Errorf("%w: base mint: %v", ErrAccountValidation, err)
	}
	return d, nil
}

// collateralUnit returns the unrounded value of one lot in the maker's
// collateral denomination: quote lamports at the strike for puts, base
// lamports for calls.
func (e *Engine) collateralUnit(ctx context.Context, f *model.Factory, lotSize int8) (float64, error) {
	mult, err := lotmath.Multiplier(lotSize)
	if err != nil {
		return 0, ErrOverflow
	}
	switch f.Side {
	case model.Put:
		return mult * float64(f.Strike), nil
	case model.Call:
		dec, err := e.baseDecimals(ctx, f)
		if err != nil {
			return 0, err
		}
		return mult * pow10(dec), nil
	}
	return 0, fmt.Errorf("%w: unknown side %q", ErrIllegalState, f.Side)
}

// collateralTreasury is the vault account holding maker collateral.
func collateralTreasury(f *model.Factory, v *model.Vault) string {
	if f.Side == model.Put {
		return v.QuoteTreasury
	}
	return v.BaseTreasury
}

// fundingTreasury is the vault account holding taker deposits.
func fundingTreasury(f *model.Factory, v *model.Vault) string {
	if f.Side == model.Put {
		return v.BaseTreasury
	}
	return v.QuoteTreasury
}

// protocolFeeAccount is the per-asset sink for the backend fee share.
func (e *Engine) protocolFeeAccount(ctx context.Context, asset string) (string, error) {
	id := e.cfg.ProtocolFeeAccount + ":" + asset
	if err := e.ledger.EnsureAccount(ctx, id, e.cfg.ProtocolFeeAccount, asset); err != nil {
		return "", fmt.Errorf("%w: protocol fee sink: %v", ErrAccountValidation, err)
	}
	return id, nil
}

// oracleFeeAccount is the native-asset sink collecting ticket fees.
func (e *Engine) oracleFeeAccount(ctx context.Context) (string, error) {
	id := e.cfg.OracleAccount + ":" + token.NativeAsset
	if err := e.ledger.EnsureAccount(ctx, id, e.cfg.OracleAccount, token.NativeAsset); err != nil {
		return "", fmt.Errorf("%w: oracle fee sink: %v", ErrAccountValidation, err)
	}
	return id, nil
}

// transfer runs a ledger transfer and maps ledger failures onto the
// engine's error taxonomy. Zero-amount transfers are skipped.
func (e *Engine) transfer(ctx context.Context, from, to string, amount uint64, auth token.Authority) error {
	if amount == 0 {
		return nil
	}
	err := e.ledger.Transfer(ctx, from, to, amount, auth)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, token.ErrInsufficientFunds):
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	default:
		return fmt.Errorf("%w: %v", ErrAccountValidation, err)
	}
}

// freezeGate rejects operations inside the pre-maturity freeze window.
func (e *Engine) freezeGate(f *model.Factory, now uint64) error {
	if f.Maturity <= now+e.cfg.FreezeSeconds {
		return fmt.Errorf("%w: maturity %d within freeze window at %d", ErrMaturityTooEarly, f.Maturity, now)
	}
	return nil
}

func pow10(dec uint8) float64 {
	v := 1.0
	for i := uint8(0); i < dec; i++ {
		v *= 10
	}
	return v
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
