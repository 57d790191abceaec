package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/solhedge/vault-engine/internal/model"
)

// buyEnv sets up a live put vault with one funded maker and a funded
// buyer, ready for buy calls.
type buyEnv struct {
	*env
	f       *model.Factory
	v       *model.Vault
	maker   *model.MakerPosition
	taker   *model.TakerPosition
	payment string // buyer quote account
	funding string // buyer base account
	premium string // maker quote account receiving premium
	fees    string // frontend fee quote account
}

func newBuyEnv(t *testing.T) *buyEnv {
	t.Helper()
	e := newEnv(t)
	f := e.factory(model.Put, 100, 24*time.Hour)
	makerFunding := e.account("m1-usdc", "m1", quoteAsset, 1000)
	premium := e.account("m1-premium", "m1", quoteAsset, 0)
	v, maker := e.createVault(f, 0, 10, "m1", makerFunding, premium)

	f.LastFairPrice = 50
	f.TsLastFairPrice = e.unix()

	return &buyEnv{
		env:     e,
		f:       f,
		v:       v,
		maker:   maker,
		taker:   &model.TakerPosition{VaultID: v.ID, Owner: "t1"},
		payment: e.account("t1-usdc", "t1", quoteAsset, 10_000),
		funding: e.account("t1-sol", "t1", baseAsset, 10_000_000),
		premium: premium,
		fees:    e.account("frontend-usdc", "frontend", quoteAsset, 0),
	}
}

func (b *buyEnv) buy(req BuyRequest) (*model.BuyResult, error) {
	b.t.Helper()
	if req.Owner == "" {
		req.Owner = "t1"
	}
	if req.PaymentAccount == "" {
		req.PaymentAccount = b.payment
	}
	if req.FundingAccount == "" {
		req.FundingAccount = b.funding
	}
	if req.FrontendFeeAccount == "" {
		req.FrontendFeeAccount = b.fees
	}
	return b.eng.BuyLots(context.Background(), b.f, b.v, b.taker, []*model.MakerPosition{b.maker}, req)
}

func TestBuyLots_PremiumSplit(t *testing.T) {
	b := newBuyEnv(t)

	res, err := b.buy(BuyRequest{NumLots: 3, MaxFairPrice: 50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.LotsBought != 3 || res.Price != 50 {
		t.Errorf("result = %+v", res)
	}
	// Gross premium 150, one percent fees split evenly.
	if got := b.balance(b.premium); got != 148 {
		t.Errorf("maker premium = %d, want 148", got)
	}
	if got := b.balance("protocol-fees:" + quoteAsset); got != 1 {
		t.Errorf("backend fee = %d, want 1", got)
	}
	if got := b.balance(b.fees); got != 1 {
		t.Errorf("frontend fee = %d, want 1", got)
	}
	if got := b.balance(b.payment); got != 10_000-150 {
		t.Errorf("payment account = %d, want %d", got, 10_000-150)
	}
}

func TestBuyLots_ReservesCollateralAndRaisesEntitlement(t *testing.T) {
	b := newBuyEnv(t)

	if _, err := b.buy(BuyRequest{NumLots: 3, MaxFairPrice: 50}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if b.maker.VolumeSold != 300 {
		t.Errorf("volume sold = %d, want 300", b.maker.VolumeSold)
	}
	if b.maker.IsAllSold {
		t.Error("maker should not be sold out")
	}
	if b.v.MakersTotalPendingSell != 700 {
		t.Errorf("pending sell = %d, want 700", b.v.MakersTotalPendingSell)
	}
	// Three lots of one base unit each, six decimals.
	if b.taker.MaxEntitlement != 3_000_000 {
		t.Errorf("entitlement = %d, want 3000000", b.taker.MaxEntitlement)
	}
	if !b.taker.Initialized || b.taker.Ord != 0 || b.v.TakersNum != 1 {
		t.Errorf("taker init wrong: %+v takers=%d", b.taker, b.v.TakersNum)
	}
}

func TestBuyLots_InitialFundingClamped(t *testing.T) {
	b := newBuyEnv(t)

	res, err := b.buy(BuyRequest{NumLots: 2, MaxFairPrice: 50, InitialFunding: 9_999_999})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.FundingAdded != 2_000_000 {
		t.Errorf("funding added = %d, want entitlement cap 2000000", res.FundingAdded)
	}
	if b.taker.QtyDeposited != 2_000_000 || b.v.TakersTotalDeposited != 2_000_000 {
		t.Errorf("deposit bookkeeping wrong: %+v", b.taker)
	}
	if got := b.balance(b.v.BaseTreasury); got != 2_000_000 {
		t.Errorf("base treasury = %d", got)
	}
}

func TestBuyLots_PartialFill(t *testing.T) {
	b := newBuyEnv(t)

	res, err := b.buy(BuyRequest{NumLots: 25, MaxFairPrice: 50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.LotsBought != 10 {
		t.Errorf("lots bought = %d, want all 10 available", res.LotsBought)
	}
	if !b.maker.IsAllSold || b.maker.Available() != 0 {
		t.Errorf("maker should be sold out: %+v", b.maker)
	}
}

func TestBuyLots_StaleFairPrice(t *testing.T) {
	cases := []struct {
		name string
		prep func(b *buyEnv)
	}{
		{"never updated", func(b *buyEnv) { b.f.LastFairPrice = 0 }},
		{"too old", func(b *buyEnv) { b.advance(61 * time.Second) }},
		{"timestamp in future", func(b *buyEnv) { b.f.TsLastFairPrice = b.unix() + 10 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newBuyEnv(t)
			tc.prep(b)
			_, err := b.buy(BuyRequest{NumLots: 1, MaxFairPrice: 50})
			if !errors.Is(err, ErrLastFairPriceUpdateTooOld) {
				t.Errorf("expected ErrLastFairPriceUpdateTooOld, got %v", err)
			}
		})
	}
}

func TestBuyLots_FairPriceAboveLimit(t *testing.T) {
	b := newBuyEnv(t)
	_, err := b.buy(BuyRequest{NumLots: 1, MaxFairPrice: 49})
	if !errors.Is(err, ErrMaxFairPriceTooLow) {
		t.Errorf("expected ErrMaxFairPriceTooLow, got %v", err)
	}
}

func TestBuyLots_ZeroLots(t *testing.T) {
	b := newBuyEnv(t)
	_, err := b.buy(BuyRequest{NumLots: 0, MaxFairPrice: 50})
	if !errors.Is(err, ErrLotsToSellZero) {
		t.Errorf("expected ErrLotsToSellZero, got %v", err)
	}
}

func TestBuyLots_EmptyMakerList(t *testing.T) {
	b := newBuyEnv(t)
	_, err := b.eng.BuyLots(context.Background(), b.f, b.v, b.taker, nil, BuyRequest{
		Owner: "t1", NumLots: 1, MaxFairPrice: 50,
		PaymentAccount: b.payment, FundingAccount: b.funding, FrontendFeeAccount: b.fees,
	})
	if !errors.Is(err, ErrEmptyMakerList) {
		t.Errorf("expected ErrEmptyMakerList, got %v", err)
	}

	// Makers with nothing left to sell count as an empty list too.
	b.maker.VolumeSold = b.maker.CollateralQty
	_, err = b.buy(BuyRequest{NumLots: 1, MaxFairPrice: 50})
	if !errors.Is(err, ErrEmptyMakerList) {
		t.Errorf("expected ErrEmptyMakerList for sold-out maker, got %v", err)
	}
}

func TestBuyLots_TakersFull(t *testing.T) {
	b := newBuyEnv(t)
	b.v.MaxTakers = 1
	b.v.TakersNum = 1
	b.v.IsTakersFull = true

	_, err := b.eng.BuyLots(context.Background(), b.f, b.v, &model.TakerPosition{VaultID: b.v.ID, Owner: "t2"},
		[]*model.MakerPosition{b.maker}, BuyRequest{
			Owner: "t2", NumLots: 1, MaxFairPrice: 50,
			PaymentAccount: b.payment, FundingAccount: b.funding, FrontendFeeAccount: b.fees,
		})
	if !errors.Is(err, ErrTakersFull) {
		t.Errorf("expected ErrTakersFull, got %v", err)
	}

	// An already admitted taker keeps buying.
	b.taker.Initialized = true
	if _, err := b.buy(BuyRequest{NumLots: 1, MaxFairPrice: 50}); err != nil {
		t.Errorf("existing taker rejected: %v", err)
	}
}

func TestBuyLots_DuplicateMakerRejected(t *testing.T) {
	b := newBuyEnv(t)

	// The same position listed twice would be filled twice off one
	// collateral balance.
	_, err := b.eng.BuyLots(context.Background(), b.f, b.v, b.taker,
		[]*model.MakerPosition{b.maker, b.maker}, BuyRequest{
			Owner: "t1", NumLots: 15, MaxFairPrice: 50,
			PaymentAccount: b.payment, FundingAccount: b.funding, FrontendFeeAccount: b.fees,
		})
	if !errors.Is(err, ErrAccountValidation) {
		t.Fatalf("expected ErrAccountValidation, got %v", err)
	}
	if b.maker.VolumeSold != 0 || b.v.MakersTotalPendingSell != 1000 {
		t.Errorf("state mutated on rejected buy: sold=%d pending=%d",
			b.maker.VolumeSold, b.v.MakersTotalPendingSell)
	}
	if got := b.balance(b.payment); got != 10_000 {
		t.Errorf("payment account touched on rejected buy: %d", got)
	}
}

func TestBuyLots_PremiumShortfallAbortsBeforeTransfers(t *testing.T) {
	e := newEnv(t)
	f := e.factory(model.Put, 100, 24*time.Hour)
	m1Funding := e.account("m1-usdc", "m1", quoteAsset, 200)
	m2Funding := e.account("m2-usdc", "m2", quoteAsset, 200)
	m1Premium := e.account("m1-premium", "m1", quoteAsset, 0)
	v, m1 := e.createVault(f, 0, 2, "m1", m1Funding, m1Premium)
	m2, err := e.eng.EnterVault(context.Background(), f, v, "m2", m2Funding, "m2-premium", 2, 0)
	if err != nil {
		t.Fatalf("enter vault: %v", err)
	}
	f.LastFairPrice = 50
	f.TsLastFairPrice = e.unix()

	// Four lots cost 200 across premium and fees; the buyer can cover
	// the first maker's legs but not the whole plan.
	payment := e.account("t1-usdc", "t1", quoteAsset, 120)
	taker := &model.TakerPosition{VaultID: v.ID, Owner: "t1"}
	_, err = e.eng.BuyLots(context.Background(), f, v, taker,
		[]*model.MakerPosition{m1, m2}, BuyRequest{
			Owner: "t1", NumLots: 4, MaxFairPrice: 50,
			PaymentAccount: payment, FundingAccount: payment,
			FrontendFeeAccount: e.account("fe-usdc", "frontend", quoteAsset, 0),
		})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := e.balance(m1Premium); got != 0 {
		t.Errorf("first maker paid %d on an aborted buy", got)
	}
	if got := e.balance(payment); got != 120 {
		t.Errorf("payment account = %d, want untouched 120", got)
	}
	if m1.VolumeSold != 0 || m2.VolumeSold != 0 || v.MakersTotalPendingSell != 400 {
		t.Errorf("state mutated on aborted buy: m1=%d m2=%d pending=%d",
			m1.VolumeSold, m2.VolumeSold, v.MakersTotalPendingSell)
	}
}

func TestBuyLots_SecondBuyAccumulates(t *testing.T) {
	b := newBuyEnv(t)

	if _, err := b.buy(BuyRequest{NumLots: 2, MaxFairPrice: 50}); err != nil {
		t.Fatalf("first buy: %v", err)
	}
	if _, err := b.buy(BuyRequest{NumLots: 3, MaxFairPrice: 50}); err != nil {
		t.Fatalf("second buy: %v", err)
	}

	if b.taker.MaxEntitlement != 5_000_000 {
		t.Errorf("entitlement = %d, want 5000000", b.taker.MaxEntitlement)
	}
	if b.maker.VolumeSold != 500 {
		t.Errorf("volume sold = %d, want 500", b.maker.VolumeSold)
	}
	if b.v.TakersNum != 1 {
		t.Errorf("taker counted twice: %d", b.v.TakersNum)
	}
}

func TestBuyLots_CallSideEntitlementInQuote(t *testing.T) {
	e := newEnv(t)
	f := e.factory(model.Call, 100, 24*time.Hour)
	makerFunding := e.account("m1-sol", "m1", baseAsset, 10_000_000)
	premium := e.account("m1-premium", "m1", quoteAsset, 0)
	v, maker := e.createVault(f, 0, 10, "m1", makerFunding, premium)
	f.LastFairPrice = 50
	f.TsLastFairPrice = e.unix()

	taker := &model.TakerPosition{VaultID: v.ID, Owner: "t1"}
	payment := e.account("t1-usdc", "t1", quoteAsset, 10_000)

	res, err := e.eng.BuyLots(context.Background(), f, v, taker, []*model.MakerPosition{maker}, BuyRequest{
		Owner: "t1", NumLots: 3, MaxFairPrice: 50,
		PaymentAccount: payment, FundingAccount: payment,
		FrontendFeeAccount: e.account("fe-usdc", "frontend", quoteAsset, 0),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.LotsBought != 3 {
		t.Errorf("lots = %d", res.LotsBought)
	}
	// Call entitlement is quote at the strike: ceil(3 * 1 * 100).
	if taker.MaxEntitlement != 300 {
		t.Errorf("entitlement = %d, want 300", taker.MaxEntitlement)
	}
	// Maker reserved 3 lots of 10^6 base units each.
	if maker.VolumeSold != 3_000_000 {
		t.Errorf("volume sold = %d, want 3000000", maker.VolumeSold)
	}
}

// --- matchLots fold ---

func TestMatchLots_GreedyAcrossMakers(t *testing.T) {
	makers := []*model.MakerPosition{
		{Owner: "m1", CollateralQty: 250},
		{Owner: "m2", CollateralQty: 1000},
	}
	// lot worth 100, fair price 50, no fee rounding below one.
	plan, err := matchLots(makers, 100, 100, 50, 1, 5, 0.01, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.LotsFilled != 5 {
		t.Fatalf("lots filled = %d, want 5", plan.LotsFilled)
	}
	if len(plan.Fills) != 2 || plan.Fills[0].Lots != 2 || plan.Fills[1].Lots != 3 {
		t.Errorf("fills = %+v", plan.Fills)
	}
	// m1's fractional remainder of 50 marks it sold out.
	if !plan.Fills[0].AllSold || plan.Fills[1].AllSold {
		t.Errorf("all-sold flags wrong: %+v", plan.Fills)
	}
	if plan.ReserveTotal != 500 {
		t.Errorf("reserve total = %d, want 500", plan.ReserveTotal)
	}
}

func TestMatchLots_SkipsEmptyMaker(t *testing.T) {
	makers := []*model.MakerPosition{
		{Owner: "m1", CollateralQty: 99}, // below one lot
		{Owner: "m2", CollateralQty: 300},
	}
	plan, err := matchLots(makers, 100, 100, 50, 1, 2, 0.01, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Fills) != 1 || plan.Fills[0].MakerOwner != "m2" {
		t.Errorf("fills = %+v", plan.Fills)
	}
}

func TestMatchLots_SettledMakerRejected(t *testing.T) {
	makers := []*model.MakerPosition{
		{Owner: "m1", CollateralQty: 300, IsSettled: true},
	}
	_, err := matchLots(makers, 100, 100, 50, 1, 1, 0.01, 0.5)
	if !errors.Is(err, ErrAccountValidation) {
		t.Errorf("expected ErrAccountValidation, got %v", err)
	}
}

func TestMatchLots_DuplicateMakerRejected(t *testing.T) {
	m := &model.MakerPosition{Owner: "m1", CollateralQty: 200}
	_, err := matchLots([]*model.MakerPosition{m, m}, 100, 100, 50, 1, 4, 0.01, 0.5)
	if !errors.Is(err, ErrAccountValidation) {
		t.Errorf("expected ErrAccountValidation, got %v", err)
	}
}

func TestMatchLots_PremiumSwallowedByFees(t *testing.T) {
	makers := []*model.MakerPosition{{Owner: "m1", CollateralQty: 1000}}
	// Gross premium of 1 cannot cover two fee legs of 1 each.
	_, err := matchLots(makers, 100, 100, 1, 1, 1, 0.9, 0.5)
	if !errors.Is(err, ErrOptionPremiumTooLow) {
		t.Errorf("expected ErrOptionPremiumTooLow, got %v", err)
	}
}

func TestMatchLots_DoesNotMutateMakers(t *testing.T) {
	m := &model.MakerPosition{Owner: "m1", CollateralQty: 1000}
	if _, err := matchLots([]*model.MakerPosition{m}, 100, 100, 50, 1, 3, 0.01, 0.5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.VolumeSold != 0 || m.IsAllSold {
		t.Errorf("fold mutated maker: %+v", m)
	}
}
