package engine

import (
	"context"
	"fmt"

	"github.com/solhedge/vault-engine/internal/lotmath"
	"github.com/solhedge/vault-engine/internal/model"
	"github.com/solhedge/vault-engine/internal/token"
)

// BuyRequest is a taker's purchase order against one vault. The maker
// list the buyer submits fixes the fill order.
type BuyRequest struct {
	Owner string

	// NumLots is the quantity to buy; fills may come up short when the
	// submitted makers cannot cover it.
	NumLots uint64

	// MaxFairPrice caps the oracle fair price the buyer accepts.
	MaxFairPrice uint64

	// InitialFunding is how much the buyer wants deposited toward the
	// new entitlement in the same call, clamped to the entitlement.
	InitialFunding uint64

	// PaymentAccount pays the premium and fees. FundingAccount funds
	// the entitlement deposit. FrontendFeeAccount receives the
	// frontend fee share.
	PaymentAccount     string
	FundingAccount     string
	FrontendFeeAccount string
}

// MatchPlan is the outcome of the pure matching fold: which makers
// fill how many lots, what each leg of the premium is, and the counter
// updates to apply. Nothing is transferred or mutated until the plan
// is applied.
type MatchPlan struct {
	LotsFilled    uint64
	ReserveTotal  uint64
	PremiumToPay  uint64
	BackendTotal  uint64
	FrontendTotal uint64
	Fills         []model.Fill
}

// matchLots walks the maker list in the submitted order and greedily
// fills whole lots until the order is satisfied or the list runs out.
// Makers are read, never written; the fold is deterministic in its
// inputs.
func matchLots(makers []*model.MakerPosition, lotUnit uint64, unit float64, fairPrice uint64, mult float64, needed uint64, feeRate, frontendShare float64) (*MatchPlan, error) {
	plan := &MatchPlan{}
	remaining := needed

	seen := make(map[string]bool, len(makers))
	for _, m := range makers {
		// A repeated owner would fill the same collateral twice off a
		// stale Available() read.
		if seen[m.Owner] {
			return nil, fmt.Errorf("%w: maker %s listed twice", ErrAccountValidation, m.Owner)
		}
		seen[m.Owner] = true

		if remaining == 0 {
			break
		}
		if m.IsSettled {
			return nil, fmt.Errorf("%w: settled maker in match list", ErrAccountValidation)
		}

		lots := minU64(m.Available()/lotUnit, remaining)
		if lots == 0 {
			continue
		}

		reserve, err := lotmath.AmountForLots(lots, unit)
		if err != nil {
			return nil, ErrOverflow
		}
		if reserve > m.Available() {
			reserve = m.Available()
		}

		prem, ok, err := lotmath.PremiumForLots(fairPrice, mult, lots, feeRate, frontendShare)
		if err != nil {
			return nil, ErrOverflow
		}
		if !ok {
			return nil, fmt.Errorf("%w: gross %d, fees %d", ErrOptionPremiumTooLow, prem.Gross, prem.Backend+prem.Frontend)
		}

		allSold := m.Available()-reserve < lotUnit

		plan.Fills = append(plan.Fills, model.Fill{
			MakerOwner:     m.Owner,
			Lots:           lots,
			ReserveAmount:  reserve,
			PremiumToMaker: prem.ToMaker,
			BackendFee:     prem.Backend,
			FrontendFee:    prem.Frontend,
			AllSold:        allSold,
		})
		plan.LotsFilled += lots
		plan.ReserveTotal += reserve
		plan.PremiumToPay += prem.ToMaker
		plan.BackendTotal += prem.Backend
		plan.FrontendTotal += prem.Frontend
		remaining -= lots
	}

	return plan, nil
}

// BuyLots matches a buy order against the submitted makers, pays the
// premium and fees, reserves the filled collateral and raises the
// taker's entitlement. Optionally deposits initial funding toward the
// new entitlement in the same call.
//
// The maker slice order is the fill order; everything is applied
// all-or-nothing after the plan is computed.
func (e *Engine) BuyLots(ctx context.Context, f *model.Factory, v *model.Vault, taker *model.TakerPosition, makers []*model.MakerPosition, req BuyRequest) (*model.BuyResult, error) {
	if req.NumLots == 0 {
		return nil, ErrLotsToSellZero
	}
	if len(makers) == 0 {
		return nil, ErrEmptyMakerList
	}

	now := e.unixNow()
	if err := e.freezeGate(f, now); err != nil {
		return nil, err
	}
	if f.LastFairPrice == 0 || f.TsLastFairPrice > now || now-f.TsLastFairPrice > e.cfg.MaxFairPriceAgeSeconds {
		return nil, fmt.Errorf("%w: last update at %d, now %d", ErrLastFairPriceUpdateTooOld, f.TsLastFairPrice, now)
	}
	if f.LastFairPrice > req.MaxFairPrice {
		return nil, fmt.Errorf("%w: fair %d above limit %d", ErrMaxFairPriceTooLow, f.LastFairPrice, req.MaxFairPrice)
	}
	if !taker.Initialized && (v.IsTakersFull || v.TakersNum >= v.MaxTakers) {
		return nil, fmt.Errorf("%w: vault %s", ErrTakersFull, v.ID)
	}

	mult, err := lotmath.Multiplier(v.LotSize)
	if err != nil {
		return nil, ErrOverflow
	}
	unit, err := e.collateralUnit(ctx, f, v.LotSize)
	if err != nil {
		return nil, err
	}
	lotUnit, err := lotmath.AmountForLots(1, unit)
	if err != nil || lotUnit == 0 {
		return nil, ErrOverflow
	}
	baseDec, err := e.baseDecimals(ctx, f)
	if err != nil {
		return nil, err
	}

	plan, err := matchLots(makers, lotUnit, unit, f.LastFairPrice, mult, req.NumLots, e.cfg.ProtocolTotalFees, e.cfg.FrontendShare)
	if err != nil {
		return nil, err
	}
	if plan.LotsFilled == 0 {
		return nil, fmt.Errorf("%w: no maker had a whole lot available", ErrEmptyMakerList)
	}

	// The new entitlement measures what the filled lots let the taker
	// deposit: base units for puts, quote units at the strike for calls.
	var entitlement uint64
	switch f.Side {
	case model.Put:
		entitlement, err = lotmath.ToSmallestUnits(plan.LotsFilled, mult, baseDec)
	case model.Call:
		entitlement, err = lotmath.EntitlementQuote(plan.LotsFilled, mult, f.Strike)
	}
	if err != nil {
		return nil, ErrOverflow
	}

	if plan.ReserveTotal > v.MakersTotalPendingSell {
		return nil, fmt.Errorf("%w: reserve %d exceeds vault pending sell %d", ErrIllegalState, plan.ReserveTotal, v.MakersTotalPendingSell)
	}

	// Funding is clamped to the entitlement headroom the fill creates.
	funding := minU64(req.InitialFunding, taker.MaxEntitlement+entitlement-taker.QtyDeposited)

	// Every spend leg is checked before the first transfer; a shortfall
	// on a later leg must not leave earlier premium legs paid.
	needs := map[string]uint64{
		req.PaymentAccount: plan.PremiumToPay + plan.BackendTotal + plan.FrontendTotal,
	}
	if funding > 0 {
		needs[req.FundingAccount] += funding
	}
	for acct, amount := range needs {
		bal, err := e.ledger.Balance(ctx, acct)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAccountValidation, err)
		}
		if bal < amount {
			return nil, fmt.Errorf("%w: account %s holds %d, needs %d", ErrInsufficientFunds, acct, bal, amount)
		}
	}

	// Premium and fee transfers, one leg per fill source. The premium
	// is always denominated in the quote asset.
	protoSink, err := e.protocolFeeAccount(ctx, f.QuoteAsset)
	if err != nil {
		return nil, err
	}
	byMaker := make(map[string]*model.MakerPosition, len(makers))
	for _, m := range makers {
		byMaker[m.Owner] = m
	}
	auth := token.OwnerAuthority(req.Owner)
	for _, fill := range plan.Fills {
		m := byMaker[fill.MakerOwner]
		if err := e.transfer(ctx, req.PaymentAccount, m.PremiumAccount, fill.PremiumToMaker, auth); err != nil {
			return nil, err
		}
		if err := e.transfer(ctx, req.PaymentAccount, protoSink, fill.BackendFee, auth); err != nil {
			return nil, err
		}
		if err := e.transfer(ctx, req.PaymentAccount, req.FrontendFeeAccount, fill.FrontendFee, auth); err != nil {
			return nil, err
		}
	}

	// Apply reservations.
	for _, fill := range plan.Fills {
		m := byMaker[fill.MakerOwner]
		m.VolumeSold += fill.ReserveAmount
		m.IsAllSold = fill.AllSold
	}
	v.MakersTotalPendingSell -= plan.ReserveTotal

	// Taker position bookkeeping.
	if !taker.Initialized {
		taker.Initialized = true
		taker.Ord = v.TakersNum
		v.TakersNum++
		v.IsTakersFull = v.TakersNum >= v.MaxTakers
	}
	taker.MaxEntitlement += entitlement

	if funding > 0 {
		if err := e.transfer(ctx, req.FundingAccount, fundingTreasury(f, v), funding, auth); err != nil {
			return nil, err
		}
		taker.QtyDeposited += funding
		v.TakersTotalDeposited += funding
	}

	return &model.BuyResult{
		LotsBought:   plan.LotsFilled,
		Price:        f.LastFairPrice,
		FundingAdded: funding,
		Fills:        plan.Fills,
	}, nil
}
