package engine

import (
	"context"
	"fmt"

	"github.com/solhedge/vault-engine/internal/model"
	"github.com/solhedge/vault-engine/internal/token"
)

// ActivateEmergencyMode flips a stalled series into emergency mode.
// Available only when no settle price ever arrived and the grace
// period after maturity has fully elapsed; the caller must hold an
// unsettled position so activation cannot come from a bystander.
// Once active, the series can never mature and positions can only be
// withdrawn at their principal.
func (e *Engine) ActivateEmergencyMode(ctx context.Context, f *model.Factory, caller string, maker *model.MakerPosition, taker *model.TakerPosition) error {
	if f.Matured {
		return fmt.Errorf("%w: series already matured", ErrIllegalState)
	}
	if f.EmergencyMode {
		return fmt.Errorf("%w: emergency mode already active", ErrIllegalState)
	}

	now := e.unixNow()
	if now <= f.Maturity || now-f.Maturity <= e.cfg.EmergencyGraceSeconds {
		return fmt.Errorf("%w: grace ends at %d, now %d", ErrEmergencyModeTooEarly, f.Maturity+e.cfg.EmergencyGraceSeconds, now)
	}

	holds := (maker != nil && maker.Owner == caller && !maker.IsSettled) ||
		(taker != nil && taker.Owner == caller && taker.Initialized && !taker.IsSettled)
	if !holds {
		return fmt.Errorf("%w: caller %q holds no unsettled position", ErrAccountValidation, caller)
	}

	f.EmergencyMode = true
	return nil
}

// MakerEmergencyExit returns a maker's full collateral, premium kept,
// claims forfeited.
func (e *Engine) MakerEmergencyExit(ctx context.Context, f *model.Factory, v *model.Vault, pos *model.MakerPosition, payoutAccount string) (*model.SettleResult, error) {
	if !f.EmergencyMode {
		return nil, fmt.Errorf("%w: emergency mode not active", ErrAccountValidation)
	}
	if pos.IsSettled {
		return nil, fmt.Errorf("%w: position already settled", ErrAccountValidation)
	}

	payout := pos.CollateralQty
	if err := e.transfer(ctx, collateralTreasury(f, v), payoutAccount, payout, token.VaultAuthority(v.ID)); err != nil {
		return nil, err
	}
	pos.CollateralQty = 0
	pos.VolumeSold = 0
	pos.IsSettled = true

	res := &model.SettleResult{Outcome: model.EmergencyReturned}
	if f.Side == model.Put {
		res.QuoteAmount = payout
	} else {
		res.BaseAmount = payout
	}
	return res, nil
}

// TakerEmergencyExit returns a taker's full deposit, premium lost.
func (e *Engine) TakerEmergencyExit(ctx context.Context, f *model.Factory, v *model.Vault, pos *model.TakerPosition, payoutAccount string) (*model.SettleResult, error) {
	if !f.EmergencyMode {
		return nil, fmt.Errorf("%w: emergency mode not active", ErrAccountValidation)
	}
	if !pos.Initialized {
		return nil, fmt.Errorf("%w: taker has no position in vault %s", ErrAccountValidation, v.ID)
	}
	if pos.IsSettled {
		return nil, fmt.Errorf("%w: position already settled", ErrAccountValidation)
	}

	payout := pos.QtyDeposited
	if err := e.transfer(ctx, fundingTreasury(f, v), payoutAccount, payout, token.VaultAuthority(v.ID)); err != nil {
		return nil, err
	}
	pos.QtyDeposited = 0
	pos.IsSettled = true

	res := &model.SettleResult{Outcome: model.EmergencyReturned}
	if f.Side == model.Put {
		res.BaseAmount = payout
	} else {
		res.QuoteAmount = payout
	}
	return res, nil
}
