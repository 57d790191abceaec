package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/solhedge/vault-engine/internal/config"
	"github.com/solhedge/vault-engine/internal/model"
	"github.com/solhedge/vault-engine/internal/token"
)

const (
	baseAsset    = "SOL"
	quoteAsset   = "USDC"
	baseDecimals = 6
)

func testConfig() config.Engine {
	return config.Engine{
		FreezeSeconds:            1800,
		MaxFairPriceAgeSeconds:   60,
		MaxMaturityFutureSeconds: 30 * 24 * 3600,
		EmergencyGraceSeconds:    7 * 24 * 3600,
		ProtocolTotalFees:        0.01,
		FrontendShare:            0.5,
		FairPriceTicketFee:       500_000,
		SettlePriceTicketFee:     500_000,
		OracleAccount:            "oracle",
		ProtocolFeeAccount:       "protocol-fees",
	}
}

// env bundles an engine with a controllable clock and a pre-seeded
// in-memory ledger.
type env struct {
	t      *testing.T
	eng    *Engine
	ledger *token.MemoryLedger
	now    time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{t: t, ledger: token.NewMemoryLedger(), now: time.Unix(1_700_000_000, 0)}
	e.ledger.RegisterAsset(baseAsset, baseDecimals)
	e.ledger.RegisterAsset(quoteAsset, 6)
	e.ledger.RegisterAsset(token.NativeAsset, 9)
	e.eng = New(testConfig(), e.ledger, func() time.Time { return e.now })
	return e
}

func (e *env) advance(d time.Duration) { e.now = e.now.Add(d) }

func (e *env) unix() uint64 { return uint64(e.now.Unix()) }

// account creates a funded ledger account under a fixed id.
func (e *env) account(id, owner, asset string, balance uint64) string {
	e.t.Helper()
	e.ledger.CreateAccountWithID(id, owner, asset)
	if balance > 0 {
		if err := e.ledger.Mint(id, balance); err != nil {
			e.t.Fatalf("mint %s: %v", id, err)
		}
	}
	return id
}

func (e *env) balance(id string) uint64 {
	e.t.Helper()
	b, err := e.ledger.Balance(context.Background(), id)
	if err != nil {
		e.t.Fatalf("balance %s: %v", id, err)
	}
	return b
}

func (e *env) factory(side model.Side, strike uint64, maturesIn time.Duration) *model.Factory {
	e.t.Helper()
	f, err := e.eng.NewFactory(model.CreateVaultParams{
		Side:       side,
		Maturity:   e.unix() + uint64(maturesIn/time.Second),
		Strike:     strike,
		BaseAsset:  baseAsset,
		QuoteAsset: quoteAsset,
	})
	if err != nil {
		e.t.Fatalf("new factory: %v", err)
	}
	return f
}

// createVault allocates an ordinal and creates a vault with one funded
// maker.
func (e *env) createVault(f *model.Factory, lotSize int8, lots uint64, owner, funding, premium string) (*model.Vault, *model.MakerPosition) {
	e.t.Helper()
	ord, err := e.eng.NextVaultID(f)
	if err != nil {
		e.t.Fatalf("next vault id: %v", err)
	}
	v, pos, err := e.eng.CreateVault(context.Background(), f, ord, model.CreateVaultParams{
		Side:          f.Side,
		Maturity:      f.Maturity,
		Strike:        f.Strike,
		BaseAsset:     f.BaseAsset,
		QuoteAsset:    f.QuoteAsset,
		MaxMakers:     4,
		MaxTakers:     4,
		LotSize:       lotSize,
		NumLotsToSell: lots,
	}, owner, funding, premium)
	if err != nil {
		e.t.Fatalf("create vault: %v", err)
	}
	return v, pos
}

// maturedVault builds a matured put series with treasuries directly,
// bypassing the live lifecycle, for settlement tests.
func (e *env) maturedVault(side model.Side, strike, settled uint64, baseBal, quoteBal uint64) (*model.Factory, *model.Vault) {
	e.t.Helper()
	f := &model.Factory{
		ID:           fmt.Sprintf("%s-%s-%s-%d-%d", side, baseAsset, quoteAsset, strike, e.unix()-3600),
		Side:         side,
		Initialized:  true,
		NextVaultID:  2,
		Maturity:     e.unix() - 3600,
		Matured:      settled != 0,
		Strike:       strike,
		BaseAsset:    baseAsset,
		QuoteAsset:   quoteAsset,
		SettledPrice: settled,
	}
	v := &model.Vault{
		ID:            f.ID + ":1",
		FactoryID:     f.ID,
		Ord:           1,
		MaxMakers:     4,
		MaxTakers:     4,
		BaseTreasury:  f.ID + ":1-base",
		QuoteTreasury: f.ID + ":1-quote",
	}
	e.account(v.BaseTreasury, v.ID, baseAsset, baseBal)
	e.account(v.QuoteTreasury, v.ID, quoteAsset, quoteBal)
	return f, v
}

// --- NextVaultID ---

func TestNextVaultID_SequentialAllocation(t *testing.T) {
	e := newEnv(t)
	f := e.factory(model.Put, 100, 24*time.Hour)

	for want := uint64(1); want <= 3; want++ {
		got, err := e.eng.NextVaultID(f)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != want {
			t.Errorf("allocation %d: got %d", want, got)
		}
	}
	if f.NextVaultID != 4 {
		t.Errorf("counter = %d, want 4", f.NextVaultID)
	}
}

func TestNextVaultID_StrikeZero(t *testing.T) {
	e := newEnv(t)
	f := e.factory(model.Put, 100, 24*time.Hour)
	f.Strike = 0
	if _, err := e.eng.NextVaultID(f); !errors.Is(err, ErrStrikeZero) {
		t.Errorf("expected ErrStrikeZero, got %v", err)
	}
}

func TestNextVaultID_FreezeWindow(t *testing.T) {
	e := newEnv(t)
	f := e.factory(model.Put, 100, 24*time.Hour)
	e.advance(24*time.Hour - 30*time.Minute) // inside the freeze window
	if _, err := e.eng.NextVaultID(f); !errors.Is(err, ErrMaturityTooEarly) {
		t.Errorf("expected ErrMaturityTooEarly, got %v", err)
	}
}

func TestNewFactory_MaturityBeyondHorizon(t *testing.T) {
	e := newEnv(t)
	_, err := e.eng.NewFactory(model.CreateVaultParams{
		Side:       model.Put,
		Maturity:   e.unix() + 31*24*3600,
		Strike:     100,
		BaseAsset:  baseAsset,
		QuoteAsset: quoteAsset,
	})
	if !errors.Is(err, ErrMaturityTooLate) {
		t.Errorf("expected ErrMaturityTooLate, got %v", err)
	}
}

// --- CreateVault / EnterVault ---

func TestCreateVault_TransfersCollateral(t *testing.T) {
	e := newEnv(t)
	f := e.factory(model.Put, 100, 24*time.Hour)
	funding := e.account("m1-usdc", "m1", quoteAsset, 1000)

	v, pos := e.createVault(f, 0, 10, "m1", funding, "m1-premium")

	if pos.CollateralQty != 1000 {
		t.Errorf("collateral = %d, want 1000", pos.CollateralQty)
	}
	if e.balance(funding) != 0 {
		t.Errorf("funding account = %d, want 0", e.balance(funding))
	}
	if e.balance(v.QuoteTreasury) != 1000 {
		t.Errorf("treasury = %d, want 1000", e.balance(v.QuoteTreasury))
	}
	if v.MakersNum != 1 || v.MakersTotalPendingSell != 1000 || v.MakersTotalPendingSettle != 1000 {
		t.Errorf("vault counters wrong: %+v", v)
	}
}

func TestCreateVault_CallSideCollateralIsBase(t *testing.T) {
	e := newEnv(t)
	f := e.factory(model.Call, 100, 24*time.Hour)
	// One lot at lot_size 0 is 10^6 base units.
	funding := e.account("m1-sol", "m1", baseAsset, 2_000_000)

	v, pos := e.createVault(f, 0, 2, "m1", funding, "m1-premium")

	if pos.CollateralQty != 2_000_000 {
		t.Errorf("collateral = %d, want 2000000", pos.CollateralQty)
	}
	if e.balance(v.BaseTreasury) != 2_000_000 {
		t.Errorf("base treasury = %d", e.balance(v.BaseTreasury))
	}
}

func TestCreateVault_ZeroLots(t *testing.T) {
	e := newEnv(t)
	f := e.factory(model.Put, 100, 24*time.Hour)
	ord, _ := e.eng.NextVaultID(f)
	_, _, err := e.eng.CreateVault(context.Background(), f, ord, model.CreateVaultParams{
		Side: model.Put, Maturity: f.Maturity, Strike: 100,
		BaseAsset: baseAsset, QuoteAsset: quoteAsset,
		MaxMakers: 4, MaxTakers: 4, NumLotsToSell: 0,
	}, "m1", "nowhere", "nowhere")
	if !errors.Is(err, ErrLotsToSellZero) {
		t.Errorf("expected ErrLotsToSellZero, got %v", err)
	}
}

func TestCreateVault_InsufficientFunds(t *testing.T) {
	e := newEnv(t)
	f := e.factory(model.Put, 100, 24*time.Hour)
	funding := e.account("m1-usdc", "m1", quoteAsset, 999) // one short
	ord, _ := e.eng.NextVaultID(f)
	_, _, err := e.eng.CreateVault(context.Background(), f, ord, model.CreateVaultParams{
		Side: model.Put, Maturity: f.Maturity, Strike: 100,
		BaseAsset: baseAsset, QuoteAsset: quoteAsset,
		MaxMakers: 4, MaxTakers: 4, NumLotsToSell: 10,
	}, "m1", funding, "m1-premium")
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestCreateVault_UnallocatedOrdinal(t *testing.T) {
	e := newEnv(t)
	f := e.factory(model.Put, 100, 24*time.Hour)
	_, _, err := e.eng.CreateVault(context.Background(), f, 5, model.CreateVaultParams{
		Side: model.Put, Maturity: f.Maturity, Strike: 100,
		BaseAsset: baseAsset, QuoteAsset: quoteAsset,
		MaxMakers: 4, MaxTakers: 4, NumLotsToSell: 1,
	}, "m1", "nowhere", "nowhere")
	if !errors.Is(err, ErrAccountValidation) {
		t.Errorf("expected ErrAccountValidation, got %v", err)
	}
}

func TestEnterVault_MakersFull(t *testing.T) {
	e := newEnv(t)
	f := e.factory(model.Put, 100, 24*time.Hour)
	funding := e.account("m1-usdc", "m1", quoteAsset, 1000)

	ord, _ := e.eng.NextVaultID(f)
	v, _, err := e.eng.CreateVault(context.Background(), f, ord, model.CreateVaultParams{
		Side: model.Put, Maturity: f.Maturity, Strike: 100,
		BaseAsset: baseAsset, QuoteAsset: quoteAsset,
		MaxMakers: 1, MaxTakers: 4, NumLotsToSell: 10,
	}, "m1", funding, "m1-premium")
	if err != nil {
		t.Fatalf("create vault: %v", err)
	}

	_, err = e.eng.EnterVault(context.Background(), f, v, "m2", "m2-usdc", "m2-premium", 5, 0)
	if !errors.Is(err, ErrAccountValidation) {
		t.Errorf("expected ErrAccountValidation for full vault, got %v", err)
	}
}

func TestEnterVault_UpdatesCounters(t *testing.T) {
	e := newEnv(t)
	f := e.factory(model.Put, 100, 24*time.Hour)
	m1 := e.account("m1-usdc", "m1", quoteAsset, 1000)
	m2 := e.account("m2-usdc", "m2", quoteAsset, 500)

	v, _ := e.createVault(f, 0, 10, "m1", m1, "m1-premium")
	pos, err := e.eng.EnterVault(context.Background(), f, v, "m2", m2, "m2-premium", 5, 7)
	if err != nil {
		t.Fatalf("enter vault: %v", err)
	}

	if pos.Ord != 1 || pos.CollateralQty != 500 || pos.PremiumLimit != 7 {
		t.Errorf("position wrong: %+v", pos)
	}
	if v.MakersNum != 2 || v.MakersTotalPendingSell != 1500 || v.MakersTotalPendingSettle != 1500 {
		t.Errorf("vault counters wrong: %+v", v)
	}
}

// --- AdjustPosition ---

func TestAdjustPosition_RoundTripRestoresCommitted(t *testing.T) {
	e := newEnv(t)
	f := e.factory(model.Put, 100, 24*time.Hour)
	funding := e.account("m1-usdc", "m1", quoteAsset, 2000)
	v, pos := e.createVault(f, 0, 10, "m1", funding, "m1-premium")

	before := pos.CollateralQty
	if err := e.eng.AdjustPosition(context.Background(), f, v, pos, 15, 0, funding); err != nil {
		t.Fatalf("increase: %v", err)
	}
	if pos.CollateralQty != 1500 {
		t.Errorf("after increase collateral = %d, want 1500", pos.CollateralQty)
	}
	if err := e.eng.AdjustPosition(context.Background(), f, v, pos, 10, 0, funding); err != nil {
		t.Fatalf("decrease: %v", err)
	}
	if pos.CollateralQty != before {
		t.Errorf("round trip collateral = %d, want %d", pos.CollateralQty, before)
	}
	if e.balance(funding) != 1000 {
		t.Errorf("funding balance = %d, want 1000", e.balance(funding))
	}
	if v.MakersTotalPendingSell != 1000 || v.MakersTotalPendingSettle != 1000 {
		t.Errorf("vault totals wrong: %+v", v)
	}
}

func TestAdjustPosition_OversizedDecrease(t *testing.T) {
	e := newEnv(t)
	f := e.factory(model.Put, 100, 24*time.Hour)
	funding := e.account("m1-usdc", "m1", quoteAsset, 1000)
	v, pos := e.createVault(f, 0, 10, "m1", funding, "m1-premium")

	// 600 of the 1000 is reserved by sold lots.
	pos.VolumeSold = 600
	err := e.eng.AdjustPosition(context.Background(), f, v, pos, 3, 0, funding)
	if !errors.Is(err, ErrOversizedDecrease) {
		t.Errorf("expected ErrOversizedDecrease, got %v", err)
	}
	if pos.CollateralQty != 1000 {
		t.Errorf("failed adjust must not mutate: collateral = %d", pos.CollateralQty)
	}
}

func TestAdjustPosition_CommittedNeverBelowSold(t *testing.T) {
	e := newEnv(t)
	f := e.factory(model.Put, 100, 24*time.Hour)
	funding := e.account("m1-usdc", "m1", quoteAsset, 5000)
	v, pos := e.createVault(f, 0, 10, "m1", funding, "m1-premium")
	pos.VolumeSold = 400

	for _, lots := range []uint64{12, 8, 20, 4, 5} {
		err := e.eng.AdjustPosition(context.Background(), f, v, pos, lots, 0, funding)
		if err != nil && !errors.Is(err, ErrOversizedDecrease) {
			t.Fatalf("adjust to %d lots: %v", lots, err)
		}
		if pos.CollateralQty < pos.VolumeSold {
			t.Fatalf("invariant broken after adjust to %d: committed=%d sold=%d",
				lots, pos.CollateralQty, pos.VolumeSold)
		}
	}
}

func TestAdjustPosition_RecordsPremiumLimit(t *testing.T) {
	e := newEnv(t)
	f := e.factory(model.Put, 100, 24*time.Hour)
	funding := e.account("m1-usdc", "m1", quoteAsset, 1000)
	v, pos := e.createVault(f, 0, 10, "m1", funding, "m1-premium")

	if err := e.eng.AdjustPosition(context.Background(), f, v, pos, 10, 42, funding); err != nil {
		t.Fatalf("no-op adjust: %v", err)
	}
	if pos.PremiumLimit != 42 {
		t.Errorf("premium limit = %d, want 42", pos.PremiumLimit)
	}
}

// --- AdjustFunding ---

func TestAdjustFunding_ClampsToEntitlement(t *testing.T) {
	e := newEnv(t)
	f := e.factory(model.Put, 100, 24*time.Hour)
	_, v := e.maturedVault(model.Put, 100, 0, 0, 0)
	v.FactoryID = f.ID

	taker := &model.TakerPosition{
		VaultID: v.ID, Owner: "t1", Initialized: true,
		MaxEntitlement: 2_000_000,
	}
	funding := e.account("t1-sol", "t1", baseAsset, 10_000_000)

	moved, err := e.eng.AdjustFunding(context.Background(), f, v, taker, 5_000_000, funding)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if moved != 2_000_000 || taker.QtyDeposited != 2_000_000 {
		t.Errorf("moved=%d deposited=%d, want 2000000 both", moved, taker.QtyDeposited)
	}
	if v.TakersTotalDeposited != 2_000_000 {
		t.Errorf("vault total = %d", v.TakersTotalDeposited)
	}
}

func TestAdjustFunding_DecreaseReturnsDeposit(t *testing.T) {
	e := newEnv(t)
	f := e.factory(model.Put, 100, 24*time.Hour)
	_, v := e.maturedVault(model.Put, 100, 0, 3_000_000, 0)
	v.FactoryID = f.ID
	v.TakersTotalDeposited = 3_000_000

	taker := &model.TakerPosition{
		VaultID: v.ID, Owner: "t1", Initialized: true,
		MaxEntitlement: 3_000_000, QtyDeposited: 3_000_000,
	}
	funding := e.account("t1-sol", "t1", baseAsset, 0)

	moved, err := e.eng.AdjustFunding(context.Background(), f, v, taker, 1_000_000, funding)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if moved != 2_000_000 || taker.QtyDeposited != 1_000_000 {
		t.Errorf("moved=%d deposited=%d", moved, taker.QtyDeposited)
	}
	if e.balance(funding) != 2_000_000 {
		t.Errorf("returned = %d, want 2000000", e.balance(funding))
	}
}

// --- Emergency mode ---

func TestActivateEmergencyMode_TooEarly(t *testing.T) {
	e := newEnv(t)
	f, _ := e.maturedVault(model.Put, 100, 0, 0, 0)
	f.Matured = false
	pos := &model.MakerPosition{VaultID: "v", Owner: "m1", CollateralQty: 100}

	// Only one hour past maturity; grace is seven days.
	err := e.eng.ActivateEmergencyMode(context.Background(), f, "m1", pos, nil)
	if !errors.Is(err, ErrEmergencyModeTooEarly) {
		t.Errorf("expected ErrEmergencyModeTooEarly, got %v", err)
	}
}

func TestActivateEmergencyMode_AfterGrace(t *testing.T) {
	e := newEnv(t)
	f, _ := e.maturedVault(model.Put, 100, 0, 0, 0)
	f.Matured = false
	pos := &model.MakerPosition{VaultID: "v", Owner: "m1", CollateralQty: 100}

	e.advance(8 * 24 * time.Hour)
	if err := e.eng.ActivateEmergencyMode(context.Background(), f, "m1", pos, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.EmergencyMode {
		t.Error("emergency mode not set")
	}

	// Second activation is rejected.
	err := e.eng.ActivateEmergencyMode(context.Background(), f, "m1", pos, nil)
	if !errors.Is(err, ErrIllegalState) {
		t.Errorf("expected ErrIllegalState on re-activation, got %v", err)
	}
}

func TestActivateEmergencyMode_RequiresUnsettledPosition(t *testing.T) {
	e := newEnv(t)
	f, _ := e.maturedVault(model.Put, 100, 0, 0, 0)
	f.Matured = false
	e.advance(8 * 24 * time.Hour)

	err := e.eng.ActivateEmergencyMode(context.Background(), f, "bystander", nil, nil)
	if !errors.Is(err, ErrAccountValidation) {
		t.Errorf("expected ErrAccountValidation, got %v", err)
	}

	settled := &model.MakerPosition{VaultID: "v", Owner: "m1", IsSettled: true}
	err = e.eng.ActivateEmergencyMode(context.Background(), f, "m1", settled, nil)
	if !errors.Is(err, ErrAccountValidation) {
		t.Errorf("expected ErrAccountValidation for settled position, got %v", err)
	}
}

func TestActivateEmergencyMode_RejectedWhenMatured(t *testing.T) {
	e := newEnv(t)
	f, _ := e.maturedVault(model.Put, 100, 80, 0, 0)
	pos := &model.MakerPosition{VaultID: "v", Owner: "m1", CollateralQty: 100}
	e.advance(8 * 24 * time.Hour)

	err := e.eng.ActivateEmergencyMode(context.Background(), f, "m1", pos, nil)
	if !errors.Is(err, ErrIllegalState) {
		t.Errorf("expected ErrIllegalState, got %v", err)
	}
}

func TestTakerEmergencyExit_ReturnsDepositVerbatim(t *testing.T) {
	e := newEnv(t)
	f, v := e.maturedVault(model.Put, 100, 0, 500, 0)
	f.Matured = false
	f.EmergencyMode = true

	taker := &model.TakerPosition{
		VaultID: v.ID, Owner: "t1", Initialized: true,
		MaxEntitlement: 1000, QtyDeposited: 500,
	}
	payout := e.account("t1-sol", "t1", baseAsset, 0)

	res, err := e.eng.TakerEmergencyExit(context.Background(), f, v, taker, payout)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != model.EmergencyReturned || res.BaseAmount != 500 {
		t.Errorf("result = %+v, want 500 base returned", res)
	}
	if e.balance(payout) != 500 {
		t.Errorf("payout balance = %d, want 500", e.balance(payout))
	}
	if !taker.IsSettled {
		t.Error("position not marked settled")
	}
	if taker.QtyDeposited != 0 {
		t.Errorf("deposit not zeroed after exit: %d", taker.QtyDeposited)
	}

	// Exit is terminal.
	if _, err := e.eng.TakerEmergencyExit(context.Background(), f, v, taker, payout); !errors.Is(err, ErrAccountValidation) {
		t.Errorf("expected ErrAccountValidation on re-exit, got %v", err)
	}
}

func TestMakerEmergencyExit_ReturnsCollateral(t *testing.T) {
	e := newEnv(t)
	f, v := e.maturedVault(model.Put, 100, 0, 0, 1000)
	f.Matured = false
	f.EmergencyMode = true

	pos := &model.MakerPosition{VaultID: v.ID, Owner: "m1", CollateralQty: 1000, VolumeSold: 600}
	payout := e.account("m1-usdc", "m1", quoteAsset, 0)

	res, err := e.eng.MakerEmergencyExit(context.Background(), f, v, pos, payout)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Full principal comes back regardless of sold volume.
	if res.QuoteAmount != 1000 || e.balance(payout) != 1000 {
		t.Errorf("payout = %d/%d, want 1000", res.QuoteAmount, e.balance(payout))
	}
	if pos.CollateralQty != 0 || pos.VolumeSold != 0 || !pos.IsSettled {
		t.Errorf("position not zeroed after exit: %+v", pos)
	}
}

func TestEmergencyExit_RequiresEmergencyMode(t *testing.T) {
	e := newEnv(t)
	f, v := e.maturedVault(model.Put, 100, 0, 0, 1000)
	f.Matured = false
	pos := &model.MakerPosition{VaultID: v.ID, Owner: "m1", CollateralQty: 1000}

	if _, err := e.eng.MakerEmergencyExit(context.Background(), f, v, pos, "anywhere"); !errors.Is(err, ErrAccountValidation) {
		t.Errorf("expected ErrAccountValidation, got %v", err)
	}
}
