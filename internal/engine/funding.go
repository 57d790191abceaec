package engine

import (
	"context"
	"fmt"

	"github.com/solhedge/vault-engine/internal/model"
	"github.com/solhedge/vault-engine/internal/token"
)

// AdjustFunding retargets a taker's deposit toward wanted, clamped to
// the entitlement ceiling. Increases move funds from the taker's
// account; decreases are paid back out under the vault's authority.
// Returns the amount actually moved, positive in either direction.
func (e *Engine) AdjustFunding(ctx context.Context, f *model.Factory, v *model.Vault, taker *model.TakerPosition, wanted uint64, fundingAccount string) (uint64, error) {
	now := e.unixNow()
	if err := e.freezeGate(f, now); err != nil {
		return 0, err
	}
	if !taker.Initialized {
		return 0, fmt.Errorf("%w: taker has no position in vault %s", ErrAccountValidation, v.ID)
	}
	if taker.IsSettled {
		return 0, fmt.Errorf("%w: position already settled", ErrAccountValidation)
	}

	target := minU64(wanted, taker.MaxEntitlement)

	switch {
	case target > taker.QtyDeposited:
		delta := target - taker.QtyDeposited
		if err := e.transfer(ctx, fundingAccount, fundingTreasury(f, v), delta, token.OwnerAuthority(taker.Owner)); err != nil {
			return 0, err
		}
		taker.QtyDeposited = target
		v.TakersTotalDeposited += delta
		return delta, nil

	case target < taker.QtyDeposited:
		delta := taker.QtyDeposited - target
		if err := e.transfer(ctx, fundingTreasury(f, v), fundingAccount, delta, token.VaultAuthority(v.ID)); err != nil {
			return 0, err
		}
		taker.QtyDeposited = target
		v.TakersTotalDeposited -= delta
		return delta, nil
	}

	return 0, nil
}
