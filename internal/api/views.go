package api

import (
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/solhedge/vault-engine/internal/model"
)

// Read endpoints return records with display fields alongside the raw
// smallest-unit integers: amounts rescaled by the asset's mint
// decimals so frontends never re-derive the conversion.

// FactoryView decorates a factory with display prices in quote units.
type FactoryView struct {
	model.Factory
	StrikeDisplay       decimal.Decimal `json:"strike_display"`
	LastFairDisplay     decimal.Decimal `json:"last_fair_price_display"`
	SettledPriceDisplay decimal.Decimal `json:"settled_price_display"`
}

// VaultView decorates a vault with display totals. Maker totals are in
// the collateral asset, taker totals in the funding asset.
type VaultView struct {
	model.Vault
	PendingSellDisplay    decimal.Decimal `json:"makers_total_pending_sell_display"`
	PendingSettleDisplay  decimal.Decimal `json:"makers_total_pending_settle_display"`
	TotalDepositedDisplay decimal.Decimal `json:"takers_total_deposited_display"`
}

// display rescales a smallest-unit amount by the asset's decimals.
func display(amount uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(decimals))
}

// decimalsFor resolves (base, quote) mint decimals, zero on lookup
// failure so reads never 500 over a display field.
func (s *Service) decimalsFor(r *http.Request, f *model.Factory) (uint8, uint8) {
	ctx := r.Context()
	baseDec, err := s.engine.Ledger().MintDecimals(ctx, f.BaseAsset)
	if err != nil {
		baseDec = 0
	}
	quoteDec, err := s.engine.Ledger().MintDecimals(ctx, f.QuoteAsset)
	if err != nil {
		quoteDec = 0
	}
	return baseDec, quoteDec
}

func (s *Service) factoryView(r *http.Request, f *model.Factory) FactoryView {
	_, quoteDec := s.decimalsFor(r, f)
	return FactoryView{
		Factory:             *f,
		StrikeDisplay:       display(f.Strike, quoteDec),
		LastFairDisplay:     display(f.LastFairPrice, quoteDec),
		SettledPriceDisplay: display(f.SettledPrice, quoteDec),
	}
}

func (s *Service) vaultView(r *http.Request, f *model.Factory, v *model.Vault) VaultView {
	baseDec, quoteDec := s.decimalsFor(r, f)
	collateralDec, fundingDec := quoteDec, baseDec
	if f.Side == model.Call {
		collateralDec, fundingDec = baseDec, quoteDec
	}
	return VaultView{
		Vault:                 *v,
		PendingSellDisplay:    display(v.MakersTotalPendingSell, collateralDec),
		PendingSettleDisplay:  display(v.MakersTotalPendingSettle, collateralDec),
		TotalDepositedDisplay: display(v.TakersTotalDeposited, fundingDec),
	}
}

// ListFactories handles GET /api/v1/factories.
func (s *Service) ListFactories(w http.ResponseWriter, r *http.Request) {
	factories, err := s.store.ListFactories(r.Context())
	if err != nil {
		writeError(w, "failed to list factories", http.StatusInternalServerError)
		return
	}

	views := make([]FactoryView, 0, len(factories))
	for i := range factories {
		views = append(views, s.factoryView(r, &factories[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

// GetFactory handles GET /api/v1/factories/{factoryID}.
func (s *Service) GetFactory(w http.ResponseWriter, r *http.Request) {
	f, err := s.store.GetFactory(r.Context(), chi.URLParam(r, "factoryID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.factoryView(r, f))
}

// GetVault handles GET /api/v1/vaults/{vaultID}.
func (s *Service) GetVault(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	v, err := s.store.GetVault(ctx, chi.URLParam(r, "vaultID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	f, err := s.store.GetFactory(ctx, v.FactoryID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.vaultView(r, f, v))
}

// ListMakers handles GET /api/v1/vaults/{vaultID}/makers.
func (s *Service) ListMakers(w http.ResponseWriter, r *http.Request) {
	makers, err := s.store.ListMakersByVault(r.Context(), chi.URLParam(r, "vaultID"))
	if err != nil {
		writeError(w, "failed to list makers", http.StatusInternalServerError)
		return
	}
	if makers == nil {
		makers = []model.MakerPosition{}
	}
	writeJSON(w, http.StatusOK, makers)
}

// ListTakers handles GET /api/v1/vaults/{vaultID}/takers.
func (s *Service) ListTakers(w http.ResponseWriter, r *http.Request) {
	takers, err := s.store.ListTakersByVault(r.Context(), chi.URLParam(r, "vaultID"))
	if err != nil {
		writeError(w, "failed to list takers", http.StatusInternalServerError)
		return
	}
	if takers == nil {
		takers = []model.TakerPosition{}
	}
	writeJSON(w, http.StatusOK, takers)
}
