// Package api provides the HTTP handlers and orchestration for the
// option vault engine: vault lifecycle, lot matching, oracle price
// writes, settlement and emergency exit.
//
// Handlers load records from the store, run one engine transition and
// persist the result. A mutex serializes every state transition
// (single-instance). For horizontal scaling, replace with distributed
// locking or database-level optimistic concurrency.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/solhedge/vault-engine/internal/engine"
	"github.com/solhedge/vault-engine/internal/metrics"
	"github.com/solhedge/vault-engine/internal/model"
	"github.com/solhedge/vault-engine/internal/series"
	"github.com/solhedge/vault-engine/internal/store"
)

// Service wires the engine, the store and the WebSocket hub behind the
// HTTP surface.
type Service struct {
	store  store.Store
	engine *engine.Engine
	mu     sync.Mutex
	wsHub  *WSHub // optional hub for real-time broadcasts
}

// NewService creates a new API service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, eng *engine.Engine, hub *WSHub) *Service {
	return &Service{store: st, engine: eng, wsHub: hub}
}

// Routes mounts every handler under the given router.
func (s *Service) Routes(r chi.Router) {
	r.Post("/vault-ids", s.GetVaultID)
	r.Post("/vaults", s.CreateVault)
	r.Get("/vaults/{vaultID}", s.GetVault)
	r.Get("/vaults/{vaultID}/makers", s.ListMakers)
	r.Get("/vaults/{vaultID}/takers", s.ListTakers)
	r.Post("/vaults/{vaultID}/makers", s.EnterVault)
	r.Put("/vaults/{vaultID}/makers/{owner}", s.AdjustPosition)
	r.Post("/vaults/{vaultID}/makers/{owner}/settle", s.MakerSettle)
	r.Post("/vaults/{vaultID}/makers/{owner}/emergency-exit", s.MakerEmergencyExit)
	r.Post("/vaults/{vaultID}/buy", s.BuyLots)
	r.Put("/vaults/{vaultID}/takers/{owner}/funding", s.AdjustFunding)
	r.Post("/vaults/{vaultID}/takers/{owner}/settle", s.TakerSettle)
	r.Post("/vaults/{vaultID}/takers/{owner}/emergency-exit", s.TakerEmergencyExit)

	r.Get("/factories", s.ListFactories)
	r.Get("/factories/{factoryID}", s.GetFactory)
	r.Post("/factories/{factoryID}/fair-price-tickets", s.IssueFairPriceTicket)
	r.Post("/factories/{factoryID}/settle-price-tickets", s.IssueSettlePriceTicket)
	r.Post("/factories/{factoryID}/fair-price", s.UpdateFairPrice)
	r.Post("/factories/{factoryID}/settle-price", s.UpdateSettlePrice)
	r.Post("/factories/{factoryID}/emergency", s.ActivateEmergencyMode)
}

// --- Request/Response types ---

// VaultIDRequest identifies a series for factory lazy-initialization.
type VaultIDRequest struct {
	Side       model.Side `json:"side"`
	BaseAsset  string     `json:"base_asset"`
	QuoteAsset string     `json:"quote_asset"`
	Strike     uint64     `json:"strike"`
	Maturity   uint64     `json:"maturity"`
}

// VaultIDResponse returns the factory and the allocated vault ordinal.
type VaultIDResponse struct {
	FactoryID string `json:"factory_id"`
	VaultID   uint64 `json:"vault_id"`
}

// CreateVaultRequest is the JSON body for POST /vaults. VaultID is an
// ordinal previously allocated via POST /vault-ids; zero lets the
// service allocate one in the same call.
type CreateVaultRequest struct {
	model.CreateVaultParams
	VaultID        uint64 `json:"vault_id"`
	Owner          string `json:"owner"`
	FundingAccount string `json:"funding_account"`
	PremiumAccount string `json:"premium_account"`
}

// EnterVaultRequest is the JSON body for POST /vaults/{vaultID}/makers.
type EnterVaultRequest struct {
	Owner          string `json:"owner"`
	FundingAccount string `json:"funding_account"`
	PremiumAccount string `json:"premium_account"`
	NumLotsToSell  uint64 `json:"num_lots_to_sell"`
	PremiumLimit   uint64 `json:"premium_limit"`
}

// AdjustPositionRequest retargets a maker's commitment.
type AdjustPositionRequest struct {
	NumLotsToSell  uint64 `json:"num_lots_to_sell"`
	PremiumLimit   uint64 `json:"premium_limit"`
	FundingAccount string `json:"funding_account"`
}

// BuyLotsRequest is the JSON body for POST /vaults/{vaultID}/buy. The
// makers list fixes the fill order; when empty, every unsold maker in
// the vault is matched in entry order.
type BuyLotsRequest struct {
	Owner              string   `json:"owner"`
	NumLots            uint64   `json:"num_lots"`
	MaxFairPrice       uint64   `json:"max_fair_price"`
	InitialFunding     uint64   `json:"initial_funding"`
	PaymentAccount     string   `json:"payment_account"`
	FundingAccount     string   `json:"funding_account"`
	FrontendFeeAccount string   `json:"frontend_fee_account"`
	Makers             []string `json:"makers,omitempty"`
}

// AdjustFundingRequest retargets a taker's deposit.
type AdjustFundingRequest struct {
	TargetDeposit  uint64 `json:"target_deposit"`
	FundingAccount string `json:"funding_account"`
}

// AdjustFundingResponse reports the amount moved.
type AdjustFundingResponse struct {
	Moved        uint64 `json:"moved"`
	QtyDeposited uint64 `json:"qty_deposited"`
}

// TicketRequest is the JSON body for ticket issuance.
type TicketRequest struct {
	Owner      string `json:"owner"`
	FeeAccount string `json:"fee_account"`
}

// PriceUpdateRequest is the JSON body for oracle price writes. Caller
// must be the configured oracle identity; Owner names the ticket being
// consumed.
type PriceUpdateRequest struct {
	Caller string `json:"caller"`
	Owner  string `json:"owner"`
	Price  uint64 `json:"price"`
}

// EmergencyRequest is the JSON body for emergency activation.
type EmergencyRequest struct {
	Caller  string `json:"caller"`
	VaultID string `json:"vault_id"`
}

// SettleRequest names the payout accounts for settlement.
type SettleRequest struct {
	PayoutBaseAccount  string `json:"payout_base_account"`
	PayoutQuoteAccount string `json:"payout_quote_account"`
}

// EmergencyExitRequest names the principal payout account.
type EmergencyExitRequest struct {
	PayoutAccount string `json:"payout_account"`
}

// --- Handlers ---

// GetVaultID handles POST /api/v1/vault-ids. Lazily creates the
// factory for a series and allocates the next vault ordinal.
func (s *Service) GetVaultID(w http.ResponseWriter, r *http.Request) {
	var req VaultIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	s.mu.Lock()
	defer s.mu.Unlock()

	id := series.Ticker(req.Side, req.BaseAsset, req.QuoteAsset, req.Strike, req.Maturity)
	f, err := s.store.GetFactory(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		f, err = s.engine.NewFactory(model.CreateVaultParams{
			Side:       req.Side,
			Maturity:   req.Maturity,
			Strike:     req.Strike,
			BaseAsset:  req.BaseAsset,
			QuoteAsset: req.QuoteAsset,
		})
		if err != nil {
			writeEngineError(w, err)
			return
		}
		if err := s.store.CreateFactory(ctx, f); err != nil {
			writeError(w, err.Error(), http.StatusConflict)
			return
		}
		slog.Info("factory created", "id", f.ID, "side", f.Side, "maturity", f.Maturity)
	} else if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ord, err := s.engine.NextVaultID(f)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if err := s.store.UpdateFactory(ctx, f); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, VaultIDResponse{FactoryID: f.ID, VaultID: ord})
}

// CreateVault handles POST /api/v1/vaults.
func (s *Service) CreateVault(w http.ResponseWriter, r *http.Request) {
	var req CreateVaultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}
	if !req.Side.Valid() {
		writeError(w, "side must be PUT or CALL", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	s.mu.Lock()
	defer s.mu.Unlock()

	id := series.Ticker(req.Side, req.BaseAsset, req.QuoteAsset, req.Strike, req.Maturity)
	f, err := s.store.GetFactory(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		f, err = s.engine.NewFactory(req.CreateVaultParams)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		if err := s.store.CreateFactory(ctx, f); err != nil {
			writeError(w, err.Error(), http.StatusConflict)
			return
		}
	} else if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ord := req.VaultID
	if ord == 0 {
		if ord, err = s.engine.NextVaultID(f); err != nil {
			writeEngineError(w, err)
			return
		}
	}

	v, pos, err := s.engine.CreateVault(ctx, f, ord, req.CreateVaultParams, req.Owner, req.FundingAccount, req.PremiumAccount)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if err := s.store.UpdateFactory(ctx, f); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.store.CreateVault(ctx, v); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	if err := s.store.UpsertMakerPosition(ctx, pos); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	metrics.ActiveVaults.Inc()
	slog.Info("vault created",
		"vault", v.ID,
		"factory", f.ID,
		"owner", req.Owner,
		"lot_size", v.LotSize,
		"collateral", pos.CollateralQty,
	)
	s.broadcast(WSMessage{Type: "vault_created", FactoryID: f.ID, VaultID: v.ID, Side: string(f.Side)})

	writeJSON(w, http.StatusCreated, v)
}

// EnterVault handles POST /api/v1/vaults/{vaultID}/makers.
func (s *Service) EnterVault(w http.ResponseWriter, r *http.Request) {
	vaultID := chi.URLParam(r, "vaultID")

	var req EnterVaultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	s.mu.Lock()
	defer s.mu.Unlock()

	f, v, ok := s.loadVault(ctx, w, vaultID)
	if !ok {
		return
	}
	if _, err := s.store.GetMakerPosition(ctx, vaultID, req.Owner); err == nil {
		writeError(w, "maker already has a position in this vault", http.StatusConflict)
		return
	}

	pos, err := s.engine.EnterVault(ctx, f, v, req.Owner, req.FundingAccount, req.PremiumAccount, req.NumLotsToSell, req.PremiumLimit)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if err := s.store.UpdateVault(ctx, v); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.store.UpsertMakerPosition(ctx, pos); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	slog.Info("maker entered vault", "vault", v.ID, "owner", req.Owner, "collateral", pos.CollateralQty)
	writeJSON(w, http.StatusCreated, pos)
}

// AdjustPosition handles PUT /api/v1/vaults/{vaultID}/makers/{owner}.
func (s *Service) AdjustPosition(w http.ResponseWriter, r *http.Request) {
	vaultID := chi.URLParam(r, "vaultID")
	owner := chi.URLParam(r, "owner")

	var req AdjustPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	s.mu.Lock()
	defer s.mu.Unlock()

	f, v, ok := s.loadVault(ctx, w, vaultID)
	if !ok {
		return
	}
	pos, err := s.store.GetMakerPosition(ctx, vaultID, owner)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if err := s.engine.AdjustPosition(ctx, f, v, pos, req.NumLotsToSell, req.PremiumLimit, req.FundingAccount); err != nil {
		writeEngineError(w, err)
		return
	}

	if err := s.store.UpdateVault(ctx, v); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.store.UpsertMakerPosition(ctx, pos); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	slog.Info("maker position adjusted", "vault", v.ID, "owner", owner, "collateral", pos.CollateralQty)
	writeJSON(w, http.StatusOK, pos)
}

// BuyLots handles POST /api/v1/vaults/{vaultID}/buy.
func (s *Service) BuyLots(w http.ResponseWriter, r *http.Request) {
	vaultID := chi.URLParam(r, "vaultID")

	var req BuyLotsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	f, v, ok := s.loadVault(ctx, w, vaultID)
	if !ok {
		return
	}

	makers, err := s.matchList(ctx, v, req.Makers)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	taker, err := s.store.GetTakerPosition(ctx, vaultID, req.Owner)
	if errors.Is(err, store.ErrNotFound) {
		taker = &model.TakerPosition{VaultID: vaultID, Owner: req.Owner}
	} else if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	res, err := s.engine.BuyLots(ctx, f, v, taker, makers, engine.BuyRequest{
		Owner:              req.Owner,
		NumLots:            req.NumLots,
		MaxFairPrice:       req.MaxFairPrice,
		InitialFunding:     req.InitialFunding,
		PaymentAccount:     req.PaymentAccount,
		FundingAccount:     req.FundingAccount,
		FrontendFeeAccount: req.FrontendFeeAccount,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if err := s.store.UpdateVault(ctx, v); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.store.UpsertTakerPosition(ctx, taker); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for _, m := range makers {
		if err := s.store.UpsertMakerPosition(ctx, m); err != nil {
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	side := string(f.Side)
	metrics.LotsBoughtTotal.WithLabelValues(side).Add(float64(res.LotsBought))
	metrics.MatchLatency.WithLabelValues(side).Observe(time.Since(start).Seconds())
	for _, fill := range res.Fills {
		metrics.PremiumPaidTotal.WithLabelValues(side).Add(float64(fill.PremiumToMaker + fill.BackendFee + fill.FrontendFee))
	}

	slog.Info("lots bought",
		"vault", v.ID,
		"owner", req.Owner,
		"lots", res.LotsBought,
		"price", res.Price,
		"fills", len(res.Fills),
		"funding_added", res.FundingAdded,
	)
	s.broadcast(WSMessage{
		Type:      "lots_bought",
		FactoryID: f.ID,
		VaultID:   v.ID,
		Side:      side,
		Owner:     req.Owner,
		Price:     res.Price,
		Lots:      res.LotsBought,
	})

	writeJSON(w, http.StatusOK, res)
}

// AdjustFunding handles PUT /api/v1/vaults/{vaultID}/takers/{owner}/funding.
func (s *Service) AdjustFunding(w http.ResponseWriter, r *http.Request) {
	vaultID := chi.URLParam(r, "vaultID")
	owner := chi.URLParam(r, "owner")

	var req AdjustFundingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	s.mu.Lock()
	defer s.mu.Unlock()

	f, v, ok := s.loadVault(ctx, w, vaultID)
	if !ok {
		return
	}
	taker, err := s.store.GetTakerPosition(ctx, vaultID, owner)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	moved, err := s.engine.AdjustFunding(ctx, f, v, taker, req.TargetDeposit, req.FundingAccount)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if err := s.store.UpdateVault(ctx, v); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.store.UpsertTakerPosition(ctx, taker); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	slog.Info("taker funding adjusted", "vault", v.ID, "owner", owner, "deposited", taker.QtyDeposited)
	writeJSON(w, http.StatusOK, AdjustFundingResponse{Moved: moved, QtyDeposited: taker.QtyDeposited})
}

// IssueFairPriceTicket handles POST /api/v1/factories/{factoryID}/fair-price-tickets.
func (s *Service) IssueFairPriceTicket(w http.ResponseWriter, r *http.Request) {
	s.issueTicket(w, r, model.FairPriceTicket)
}

// IssueSettlePriceTicket handles POST /api/v1/factories/{factoryID}/settle-price-tickets.
func (s *Service) IssueSettlePriceTicket(w http.ResponseWriter, r *http.Request) {
	s.issueTicket(w, r, model.SettlePriceTicket)
}

func (s *Service) issueTicket(w http.ResponseWriter, r *http.Request, kind model.TicketKind) {
	factoryID := chi.URLParam(r, "factoryID")

	var req TicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.store.GetFactory(ctx, factoryID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	// One outstanding ticket per (factory, owner, kind).
	if _, err := s.store.GetTicket(ctx, factoryID, req.Owner, kind); err == nil {
		writeEngineError(w, engine.ErrUsedUpdateTicket)
		return
	}

	var t *model.Ticket
	if kind == model.FairPriceTicket {
		t, err = s.engine.IssueFairPriceTicket(ctx, f, req.Owner, req.FeeAccount)
	} else {
		t, err = s.engine.IssueSettlePriceTicket(ctx, f, req.Owner, req.FeeAccount)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if err := s.store.CreateTicket(ctx, t); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	slog.Info("oracle ticket issued", "factory", f.ID, "owner", req.Owner, "kind", kind)
	writeJSON(w, http.StatusCreated, t)
}

// UpdateFairPrice handles POST /api/v1/factories/{factoryID}/fair-price.
func (s *Service) UpdateFairPrice(w http.ResponseWriter, r *http.Request) {
	s.updatePrice(w, r, model.FairPriceTicket)
}

// UpdateSettlePrice handles POST /api/v1/factories/{factoryID}/settle-price.
func (s *Service) UpdateSettlePrice(w http.ResponseWriter, r *http.Request) {
	s.updatePrice(w, r, model.SettlePriceTicket)
}

func (s *Service) updatePrice(w http.ResponseWriter, r *http.Request, kind model.TicketKind) {
	factoryID := chi.URLParam(r, "factoryID")

	var req PriceUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.store.GetFactory(ctx, factoryID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	t, err := s.store.GetTicket(ctx, factoryID, req.Owner, kind)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if kind == model.FairPriceTicket {
		err = s.engine.UpdateFairPrice(ctx, req.Caller, f, t, req.Price)
	} else {
		err = s.engine.UpdateSettlePrice(ctx, req.Caller, f, t, req.Price)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}

	// The ticket is consumed either way; close it out.
	if err := s.store.DeleteTicket(ctx, factoryID, req.Owner, kind); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.store.UpdateFactory(ctx, f); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	metrics.OracleUpdatesTotal.WithLabelValues(string(kind)).Inc()
	slog.Info("oracle price written", "factory", f.ID, "kind", kind, "price", req.Price, "matured", f.Matured)
	s.broadcast(WSMessage{Type: "price_update", FactoryID: f.ID, Side: string(f.Side), Price: req.Price})

	writeJSON(w, http.StatusOK, f)
}

// ActivateEmergencyMode handles POST /api/v1/factories/{factoryID}/emergency.
func (s *Service) ActivateEmergencyMode(w http.ResponseWriter, r *http.Request) {
	factoryID := chi.URLParam(r, "factoryID")

	var req EmergencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Caller == "" || req.VaultID == "" {
		writeError(w, "caller and vault_id are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.store.GetFactory(ctx, factoryID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	// The caller proves standing with any unsettled position in the
	// named vault.
	maker, _ := s.store.GetMakerPosition(ctx, req.VaultID, req.Caller)
	taker, _ := s.store.GetTakerPosition(ctx, req.VaultID, req.Caller)

	if err := s.engine.ActivateEmergencyMode(ctx, f, req.Caller, maker, taker); err != nil {
		writeEngineError(w, err)
		return
	}
	if err := s.store.UpdateFactory(ctx, f); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	metrics.EmergencyActivationsTotal.Inc()
	slog.Warn("emergency mode activated", "factory", f.ID, "caller", req.Caller)
	s.broadcast(WSMessage{Type: "emergency_mode", FactoryID: f.ID, Side: string(f.Side)})

	writeJSON(w, http.StatusOK, f)
}

// MakerSettle handles POST /api/v1/vaults/{vaultID}/makers/{owner}/settle.
func (s *Service) MakerSettle(w http.ResponseWriter, r *http.Request) {
	vaultID := chi.URLParam(r, "vaultID")
	owner := chi.URLParam(r, "owner")

	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	s.mu.Lock()
	defer s.mu.Unlock()

	f, v, ok := s.loadVault(ctx, w, vaultID)
	if !ok {
		return
	}
	pos, err := s.store.GetMakerPosition(ctx, vaultID, owner)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	res, err := s.engine.MakerSettle(ctx, f, v, pos, req.PayoutBaseAccount, req.PayoutQuoteAccount)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if err := s.store.UpdateVault(ctx, v); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.store.UpsertMakerPosition(ctx, pos); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	metrics.SettlementsTotal.WithLabelValues("maker", string(res.Outcome)).Inc()
	slog.Info("maker settled",
		"vault", v.ID,
		"owner", owner,
		"outcome", res.Outcome,
		"base", res.BaseAmount,
		"quote", res.QuoteAmount,
		"bonus", res.Bonus,
	)
	s.broadcast(WSMessage{Type: "maker_settled", FactoryID: f.ID, VaultID: v.ID, Owner: owner, Outcome: string(res.Outcome)})

	writeJSON(w, http.StatusOK, res)
}

// TakerSettle handles POST /api/v1/vaults/{vaultID}/takers/{owner}/settle.
func (s *Service) TakerSettle(w http.ResponseWriter, r *http.Request) {
	vaultID := chi.URLParam(r, "vaultID")
	owner := chi.URLParam(r, "owner")

	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	s.mu.Lock()
	defer s.mu.Unlock()

	f, v, ok := s.loadVault(ctx, w, vaultID)
	if !ok {
		return
	}
	pos, err := s.store.GetTakerPosition(ctx, vaultID, owner)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	res, err := s.engine.TakerSettle(ctx, f, v, pos, req.PayoutBaseAccount, req.PayoutQuoteAccount)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if err := s.store.UpdateVault(ctx, v); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.store.UpsertTakerPosition(ctx, pos); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	metrics.SettlementsTotal.WithLabelValues("taker", string(res.Outcome)).Inc()
	slog.Info("taker settled", "vault", v.ID, "owner", owner, "outcome", res.Outcome, "base", res.BaseAmount, "quote", res.QuoteAmount)
	s.broadcast(WSMessage{Type: "taker_settled", FactoryID: f.ID, VaultID: v.ID, Owner: owner, Outcome: string(res.Outcome)})

	writeJSON(w, http.StatusOK, res)
}

// MakerEmergencyExit handles POST /api/v1/vaults/{vaultID}/makers/{owner}/emergency-exit.
func (s *Service) MakerEmergencyExit(w http.ResponseWriter, r *http.Request) {
	s.emergencyExit(w, r, true)
}

// TakerEmergencyExit handles POST /api/v1/vaults/{vaultID}/takers/{owner}/emergency-exit.
func (s *Service) TakerEmergencyExit(w http.ResponseWriter, r *http.Request) {
	s.emergencyExit(w, r, false)
}

func (s *Service) emergencyExit(w http.ResponseWriter, r *http.Request, maker bool) {
	vaultID := chi.URLParam(r, "vaultID")
	owner := chi.URLParam(r, "owner")

	var req EmergencyExitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	s.mu.Lock()
	defer s.mu.Unlock()

	f, v, ok := s.loadVault(ctx, w, vaultID)
	if !ok {
		return
	}

	var res *model.SettleResult
	if maker {
		pos, err := s.store.GetMakerPosition(ctx, vaultID, owner)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		res, err = s.engine.MakerEmergencyExit(ctx, f, v, pos, req.PayoutAccount)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		if err := s.store.UpsertMakerPosition(ctx, pos); err != nil {
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
	} else {
		pos, err := s.store.GetTakerPosition(ctx, vaultID, owner)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		res, err = s.engine.TakerEmergencyExit(ctx, f, v, pos, req.PayoutAccount)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		if err := s.store.UpsertTakerPosition(ctx, pos); err != nil {
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	role := "taker"
	if maker {
		role = "maker"
	}
	metrics.SettlementsTotal.WithLabelValues(role, string(res.Outcome)).Inc()
	slog.Warn("emergency exit", "vault", v.ID, "owner", owner, "role", role, "base", res.BaseAmount, "quote", res.QuoteAmount)

	writeJSON(w, http.StatusOK, res)
}

// --- Internal helpers ---

// loadVault loads a vault with its factory, writing the error response
// on failure.
func (s *Service) loadVault(ctx context.Context, w http.ResponseWriter, vaultID string) (*model.Factory, *model.Vault, bool) {
	v, err := s.store.GetVault(ctx, vaultID)
	if err != nil {
		writeStoreError(w, err)
		return nil, nil, false
	}
	f, err := s.store.GetFactory(ctx, v.FactoryID)
	if err != nil {
		writeStoreError(w, err)
		return nil, nil, false
	}
	return f, v, true
}

// matchList resolves the fill-order maker list for a buy: the owners
// named in the request, or every maker in entry order when the request
// leaves it empty.
func (s *Service) matchList(ctx context.Context, v *model.Vault, owners []string) ([]*model.MakerPosition, error) {
	if len(owners) == 0 {
		listed, err := s.store.ListMakersByVault(ctx, v.ID)
		if err != nil {
			return nil, err
		}
		makers := make([]*model.MakerPosition, 0, len(listed))
		for i := range listed {
			if !listed[i].IsSettled {
				makers = append(makers, &listed[i])
			}
		}
		return makers, nil
	}

	makers := make([]*model.MakerPosition, 0, len(owners))
	for _, owner := range owners {
		m, err := s.store.GetMakerPosition(ctx, v.ID, owner)
		if err != nil {
			return nil, err
		}
		makers = append(makers, m)
	}
	return makers, nil
}

func (s *Service) broadcast(msg WSMessage) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(msg)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	writeError(w, err.Error(), http.StatusInternalServerError)
}

// writeEngineError maps the engine's error taxonomy onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusConflict
	switch {
	case errors.Is(err, engine.ErrStrikeZero),
		errors.Is(err, engine.ErrPriceZero),
		errors.Is(err, engine.ErrLotsToSellZero),
		errors.Is(err, engine.ErrEmptyMakerList):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrAccountValidation):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, engine.ErrIllegalState),
		errors.Is(err, engine.ErrOverflow):
		status = http.StatusInternalServerError
	}
	writeError(w, err.Error(), status)
}
