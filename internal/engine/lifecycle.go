package engine

import (
	"context"
	"fmt"

	"github.com/solhedge/vault-engine/internal/lotmath"
	"github.com/solhedge/vault-engine/internal/model"
	"github.com/solhedge/vault-engine/internal/series"
	"github.com/solhedge/vault-engine/internal/token"
)

// NewFactory builds the factory record for a series. The caller is
// responsible for only creating one factory per ticker.
func (e *Engine) NewFactory(p model.CreateVaultParams) (*model.Factory, error) {
	if !p.Side.Valid() {
		return nil, fmt.Errorf("%w: unknown side %q", ErrAccountValidation, p.Side)
	}
	if p.Strike == 0 {
		return nil, ErrStrikeZero
	}

	now := e.unixNow()
	if err := e.freezeGate(&model.Factory{Maturity: p.Maturity}, now); err != nil {
		return nil, err
	}
	if p.Maturity > now+e.cfg.MaxMaturityFutureSeconds {
		return nil, fmt.Errorf("%w: maturity %d beyond horizon", ErrMaturityTooLate, p.Maturity)
	}

	return &model.Factory{
		ID:          series.Ticker(p.Side, p.BaseAsset, p.QuoteAsset, p.Strike, p.Maturity),
		Side:        p.Side,
		Initialized: true,
		NextVaultID: 1,
		Maturity:    p.Maturity,
		Strike:      p.Strike,
		BaseAsset:   p.BaseAsset,
		QuoteAsset:  p.QuoteAsset,
		CreatedAt:   e.now(),
	}, nil
}

// NextVaultID is the sole vault ordinal allocator: it returns the
// current counter and increments it. The caller persists the factory.
func (e *Engine) NextVaultID(f *model.Factory) (uint64, error) {
	if f.Strike == 0 {
		return 0, ErrStrikeZero
	}
	now := e.unixNow()
	if err := e.freezeGate(f, now); err != nil {
		return 0, err
	}
	if f.Maturity > now+e.cfg.MaxMaturityFutureSeconds {
		return 0, fmt.Errorf("%w: maturity %d beyond horizon", ErrMaturityTooLate, f.Maturity)
	}
	ord := f.NextVaultID
	f.NextVaultID++
	return ord, nil
}

// CreateVault creates the vault under a previously allocated ordinal,
// creates its treasuries, transfers the founding maker's collateral
// and seeds the vault counters with that first position.
func (e *Engine) CreateVault(ctx context.Context, f *model.Factory, ord uint64, p model.CreateVaultParams, owner, fundingAccount, premiumAccount string) (*model.Vault, *model.MakerPosition, error) {
	if p.NumLotsToSell == 0 {
		return nil, nil, ErrLotsToSellZero
	}
	if ord == 0 || ord >= f.NextVaultID {
		return nil, nil, fmt.Errorf("%w: vault ordinal %d was never allocated", ErrAccountValidation, ord)
	}
	now := e.unixNow()
	if err := e.freezeGate(f, now); err != nil {
		return nil, nil, err
	}

	unit, err := e.collateralUnit(ctx, f, p.LotSize)
	if err != nil {
		return nil, nil, err
	}
	transfer, err := lotmath.AmountForLots(p.NumLotsToSell, unit)
	if err != nil {
		return nil, nil, ErrOverflow
	}
	oneLot, err := lotmath.AmountForLots(1, unit)
	if err != nil {
		return nil, nil, ErrOverflow
	}
	if oneLot == 0 || transfer < oneLot {
		return nil, nil, fmt.Errorf("%w: commitment below one lot", ErrIllegalState)
	}

	// Colon-delimited so the id stays a single URL path segment.
	vaultID := fmt.Sprintf("%s:%d", f.ID, ord)

	baseTreasury, err := e.ledger.CreateAccount(ctx, vaultID, f.BaseAsset)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: base treasury: %v", ErrAccountValidation, err)
	}
	quoteTreasury, err := e.ledger.CreateAccount(ctx, vaultID, f.QuoteAsset)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: quote treasury: %v", ErrAccountValidation, err)
	}

	v := &model.Vault{
		ID:            vaultID,
		FactoryID:     f.ID,
		Ord:           ord,
		MaxMakers:     p.MaxMakers,
		MaxTakers:     p.MaxTakers,
		LotSize:       p.LotSize,
		BaseTreasury:  baseTreasury,
		QuoteTreasury: quoteTreasury,
		CreatedAt:     e.now(),
	}

	if err := e.transfer(ctx, fundingAccount, collateralTreasury(f, v), transfer, token.OwnerAuthority(owner)); err != nil {
		return nil, nil, err
	}

	v.MakersNum = 1
	v.IsMakersFull = v.MaxMakers <= 1
	v.MakersTotalPendingSell = transfer
	v.MakersTotalPendingSettle = transfer

	pos := &model.MakerPosition{
		VaultID:        vaultID,
		Owner:          owner,
		Ord:            0,
		CollateralQty:  transfer,
		PremiumLimit:   p.PremiumLimit,
		PremiumAccount: premiumAccount,
	}
	return v, pos, nil
}

// EnterVault adds a maker to an existing vault.
func (e *Engine) EnterVault(ctx context.Context, f *model.Factory, v *model.Vault, owner, fundingAccount, premiumAccount string, numLots, premiumLimit uint64) (*model.MakerPosition, error) {
	if numLots == 0 {
		return nil, ErrLotsToSellZero
	}
	now := e.unixNow()
	if err := e.freezeGate(f, now); err != nil {
		return nil, err
	}
	if v.IsMakersFull || v.MakersNum >= v.MaxMakers {
		return nil, fmt.Errorf("%w: vault %s makers full", ErrAccountValidation, v.ID)
	}

	unit, err := e.collateralUnit(ctx, f, v.LotSize)
	if err != nil {
		return nil, err
	}
	transfer, err := lotmath.AmountForLots(numLots, unit)
	if err != nil {
		return nil, ErrOverflow
	}

	if err := e.transfer(ctx, fundingAccount, collateralTreasury(f, v), transfer, token.OwnerAuthority(owner)); err != nil {
		return nil, err
	}

	pos := &model.MakerPosition{
		VaultID:        v.ID,
		Owner:          owner,
		Ord:            v.MakersNum,
		CollateralQty:  transfer,
		PremiumLimit:   premiumLimit,
		PremiumAccount: premiumAccount,
	}

	v.MakersNum++
	v.IsMakersFull = v.MakersNum >= v.MaxMakers
	v.MakersTotalPendingSell += transfer
	v.MakersTotalPendingSettle += transfer
	return pos, nil
}

// AdjustPosition retargets a maker's commitment to newNumLots. An
// increase transfers the difference in; a decrease pays unreserved
// collateral back out under the vault's authority. Collateral already
// backing sold lots can never leave. The premium limit is re-recorded
// on every call, including no-op resizes.
func (e *Engine) AdjustPosition(ctx context.Context, f *model.Factory, v *model.Vault, pos *model.MakerPosition, newNumLots, premiumLimit uint64, fundingAccount string) error {
	now := e.unixNow()
	if err := e.freezeGate(f, now); err != nil {
		return err
	}
	if pos.IsSettled {
		return fmt.Errorf("%w: position already settled", ErrAccountValidation)
	}

	unit, err := e.collateralUnit(ctx, f, v.LotSize)
	if err != nil {
		return err
	}
	target, err := lotmath.AmountForLots(newNumLots, unit)
	if err != nil {
		return ErrOverflow
	}
	oneLot, err := lotmath.AmountForLots(1, unit)
	if err != nil {
		return ErrOverflow
	}

	switch {
	case target > pos.CollateralQty:
		delta := target - pos.CollateralQty
		if err := e.transfer(ctx, fundingAccount, collateralTreasury(f, v), delta, token.OwnerAuthority(pos.Owner)); err != nil {
			return err
		}
		pos.CollateralQty = target
		pos.IsAllSold = false
		v.MakersTotalPendingSell += delta
		v.MakersTotalPendingSettle += delta

	case target < pos.CollateralQty:
		decrease := pos.CollateralQty - target
		if decrease > pos.Available() {
			return fmt.Errorf("%w: %d reserved, %d requested out", ErrOversizedDecrease, pos.VolumeSold, decrease)
		}
		if err := e.transfer(ctx, collateralTreasury(f, v), fundingAccount, decrease, token.VaultAuthority(v.ID)); err != nil {
			return err
		}
		pos.CollateralQty = target
		pos.IsAllSold = pos.Available() < oneLot
		v.MakersTotalPendingSell -= decrease
		v.MakersTotalPendingSettle -= decrease
	}

	pos.PremiumLimit = premiumLimit

	if pos.CollateralQty < pos.VolumeSold {
		return fmt.Errorf("%w: collateral %d below volume sold %d", ErrIllegalState, pos.CollateralQty, pos.VolumeSold)
	}
	return nil
}
