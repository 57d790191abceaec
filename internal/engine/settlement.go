package engine

import (
	"context"
	"fmt"

	"github.com/solhedge/vault-engine/internal/lotmath"
	"github.com/solhedge/vault-engine/internal/model"
	"github.com/solhedge/vault-engine/internal/token"
)

// exercised reports whether the settled price puts the series in the
// money for its takers. A put exercises at or below the strike, a call
// at or above it.
func exercised(f *model.Factory) bool {
	if f.Side == model.Put {
		return f.SettledPrice <= f.Strike
	}
	return f.SettledPrice >= f.Strike
}

// settleGate validates the shared preconditions of both settlement
// paths. The maturity re-check after the matured flag is a defense
// against a corrupted factory record; it can only fail if the oracle
// path wrote matured=true before maturity.
func (e *Engine) settleGate(f *model.Factory) error {
	if !f.Matured {
		return fmt.Errorf("%w: series not matured", ErrMaturityTooEarly)
	}
	if f.SettledPrice == 0 {
		return ErrPriceZero
	}
	if f.Maturity >= e.unixNow() {
		return fmt.Errorf("%w: matured flag set before maturity", ErrIllegalState)
	}
	return nil
}

// MakerSettle resolves a maker position after maturity and pays out
// both legs.
//
// Out of the money, the maker's full collateral comes back untouched.
// In the money, sold collateral was exchanged: the maker keeps the
// unsold remainder in collateral asset and receives the exercised
// counter-asset for the sold part. Because takers may have funded less
// than their full entitlement, part of the sold collateral was never
// claimable; that surplus is handed back as a bonus, first come first
// served, tracked in the vault's BonusNotExercised counter.
func (e *Engine) MakerSettle(ctx context.Context, f *model.Factory, v *model.Vault, pos *model.MakerPosition, payoutBase, payoutQuote string) (*model.SettleResult, error) {
	if err := e.settleGate(f); err != nil {
		return nil, err
	}
	if pos.IsSettled {
		return nil, fmt.Errorf("%w: position already settled", ErrAccountValidation)
	}
	if pos.VolumeSold > pos.CollateralQty {
		return nil, fmt.Errorf("%w: volume sold exceeds collateral", ErrIllegalState)
	}

	auth := token.VaultAuthority(v.ID)

	if !exercised(f) {
		// Nothing was claimed; the whole commitment returns.
		payout, account := pos.CollateralQty, payoutQuote
		if f.Side == model.Call {
			account = payoutBase
		}
		if err := e.transfer(ctx, collateralTreasury(f, v), account, payout, auth); err != nil {
			return nil, err
		}
		pos.CollateralQty = 0
		pos.VolumeSold = 0
		pos.IsSettled = true
		res := &model.SettleResult{Outcome: model.NotExercised}
		if f.Side == model.Put {
			res.QuoteAmount = payout
		} else {
			res.BaseAmount = payout
		}
		return res, nil
	}

	baseDec, err := e.baseDecimals(ctx, f)
	if err != nil {
		return nil, err
	}

	// Convert what takers actually deposited into the collateral
	// denomination. Anything the sold collateral covers beyond that is
	// surplus no taker can ever claim.
	var depositedValue uint64
	if f.Side == model.Put {
		depositedValue, err = lotmath.QuoteValueAtStrike(v.TakersTotalDeposited, f.Strike, baseDec)
	} else {
		depositedValue, err = lotmath.BaseValueAtStrike(v.TakersTotalDeposited, f.Strike, baseDec)
	}
	if err != nil {
		return nil, ErrOverflow
	}

	var totalBonus uint64
	if v.MakersTotalPendingSettle > depositedValue {
		totalBonus = v.MakersTotalPendingSettle - depositedValue
	}
	if totalBonus < v.BonusNotExercised {
		return nil, fmt.Errorf("%w: bonus accounting underflow", ErrIllegalState)
	}
	maxBonus := totalBonus - v.BonusNotExercised
	bonus := minU64(maxBonus, pos.VolumeSold)
	v.BonusNotExercised += bonus

	// Collateral-asset leg: unsold remainder plus this maker's bonus.
	collateralLeg := pos.CollateralQty - pos.VolumeSold + bonus

	// Counter-asset leg: the exercised part converted at the strike.
	var counterLeg uint64
	if f.Side == model.Put {
		counterLeg, err = lotmath.BaseValueAtStrike(pos.VolumeSold-bonus, f.Strike, baseDec)
	} else {
		counterLeg, err = lotmath.QuoteValueAtStrike(pos.VolumeSold-bonus, f.Strike, baseDec)
	}
	if err != nil {
		return nil, ErrOverflow
	}

	res := &model.SettleResult{Bonus: bonus}
	if f.Side == model.Put {
		res.QuoteAmount, res.BaseAmount = collateralLeg, counterLeg
		if err := e.transfer(ctx, v.QuoteTreasury, payoutQuote, collateralLeg, auth); err != nil {
			return nil, err
		}
		if err := e.transfer(ctx, v.BaseTreasury, payoutBase, counterLeg, auth); err != nil {
			return nil, err
		}
	} else {
		res.BaseAmount, res.QuoteAmount = collateralLeg, counterLeg
		if err := e.transfer(ctx, v.BaseTreasury, payoutBase, collateralLeg, auth); err != nil {
			return nil, err
		}
		if err := e.transfer(ctx, v.QuoteTreasury, payoutQuote, counterLeg, auth); err != nil {
			return nil, err
		}
	}

	if collateralLeg > 0 {
		res.Outcome = model.PartiallyExercised
	} else {
		res.Outcome = model.FullyExercised
	}
	pos.CollateralQty = 0
	pos.VolumeSold = 0
	pos.IsSettled = true
	return res, nil
}

// TakerSettle resolves a taker position after maturity. Out of the
// money the deposit comes back; in the money the deposit converts at
// the strike and is paid from the collateral treasury.
func (e *Engine) TakerSettle(ctx context.Context, f *model.Factory, v *model.Vault, pos *model.TakerPosition, payoutBase, payoutQuote string) (*model.SettleResult, error) {
	if err := e.settleGate(f); err != nil {
		return nil, err
	}
	if !pos.Initialized {
		return nil, fmt.Errorf("%w: taker has no position in vault %s", ErrAccountValidation, v.ID)
	}
	if pos.IsSettled {
		return nil, fmt.Errorf("%w: position already settled", ErrAccountValidation)
	}

	auth := token.VaultAuthority(v.ID)

	if !exercised(f) {
		payout, account := pos.QtyDeposited, payoutBase
		if f.Side == model.Call {
			account = payoutQuote
		}
		if err := e.transfer(ctx, fundingTreasury(f, v), account, payout, auth); err != nil {
			return nil, err
		}
		pos.QtyDeposited = 0
		pos.IsSettled = true
		res := &model.SettleResult{Outcome: model.NotExercised}
		if f.Side == model.Put {
			res.BaseAmount = payout
		} else {
			res.QuoteAmount = payout
		}
		return res, nil
	}

	baseDec, err := e.baseDecimals(ctx, f)
	if err != nil {
		return nil, err
	}

	var payout uint64
	if f.Side == model.Put {
		payout, err = lotmath.QuoteValueAtStrike(pos.QtyDeposited, f.Strike, baseDec)
	} else {
		payout, err = lotmath.BaseValueAtStrike(pos.QtyDeposited, f.Strike, baseDec)
	}
	if err != nil {
		return nil, ErrOverflow
	}

	res := &model.SettleResult{}
	if f.Side == model.Put {
		res.QuoteAmount = payout
		if err := e.transfer(ctx, v.QuoteTreasury, payoutQuote, payout, auth); err != nil {
			return nil, err
		}
	} else {
		res.BaseAmount = payout
		if err := e.transfer(ctx, v.BaseTreasury, payoutBase, payout, auth); err != nil {
			return nil, err
		}
	}

	if pos.QtyDeposited == pos.MaxEntitlement {
		res.Outcome = model.FullyExercised
	} else {
		res.Outcome = model.PartiallyExercised
	}
	pos.QtyDeposited = 0
	pos.IsSettled = true
	return res, nil
}
