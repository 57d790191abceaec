// Package model defines the persisted records of the option vault
// engine. All amounts are unsigned integers in the smallest unit of
// the asset they denominate ("lamports"); conversion to and from lot
// counts happens in the lotmath package.
package model

import "time"

// Side distinguishes the two option families. The engine is symmetric:
// a put maker commits quote asset, a call maker commits base asset, and
// the taker funds the opposite leg.
type Side string

const (
	Put  Side = "PUT"
	Call Side = "CALL"
)

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool { return s == Put || s == Call }

// Factory is the per-series record: one per
// (side, base asset, quote asset, maturity, strike) tuple. It allocates
// vault ordinals and carries the oracle-written prices.
type Factory struct {
	ID          string `json:"id" db:"id"`
	Side        Side   `json:"side" db:"side"`
	Initialized bool   `json:"initialized" db:"initialized"`

	NextVaultID uint64 `json:"next_vault_id" db:"next_vault_id"`
	Maturity    uint64 `json:"maturity" db:"maturity"` // unix seconds
	Matured     bool   `json:"matured" db:"matured"`
	Strike      uint64 `json:"strike" db:"strike"` // quote lamports per base unit
	BaseAsset   string `json:"base_asset" db:"base_asset"`
	QuoteAsset  string `json:"quote_asset" db:"quote_asset"`

	LastFairPrice   uint64 `json:"last_fair_price" db:"last_fair_price"`
	TsLastFairPrice uint64 `json:"ts_last_fair_price" db:"ts_last_fair_price"`
	SettledPrice    uint64 `json:"settled_price" db:"settled_price"`
	EmergencyMode   bool   `json:"emergency_mode" db:"emergency_mode"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Vault is one maker-cohort batch under a factory. Pool-wide counters
// aggregate across its maker and taker positions.
type Vault struct {
	ID        string `json:"id" db:"id"`
	FactoryID string `json:"factory_id" db:"factory_id"`
	Ord       uint64 `json:"ord" db:"ord"`
	MaxMakers uint16 `json:"max_makers" db:"max_makers"`
	MaxTakers uint16 `json:"max_takers" db:"max_takers"`
	LotSize   int8   `json:"lot_size" db:"lot_size"` // lot = 10^lot_size base units

	MakersNum                uint16 `json:"makers_num" db:"makers_num"`
	MakersTotalPendingSell   uint64 `json:"makers_total_pending_sell" db:"makers_total_pending_sell"`
	MakersTotalPendingSettle uint64 `json:"makers_total_pending_settle" db:"makers_total_pending_settle"`
	IsMakersFull             bool   `json:"is_makers_full" db:"is_makers_full"`

	TakersNum            uint16 `json:"takers_num" db:"takers_num"`
	TakersTotalDeposited uint64 `json:"takers_total_deposited" db:"takers_total_deposited"`
	IsTakersFull         bool   `json:"is_takers_full" db:"is_takers_full"`

	// BonusNotExercised accumulates the bonus already handed to makers
	// who settled early on an exercised but under-funded series.
	BonusNotExercised uint64 `json:"bonus_not_exercised" db:"bonus_not_exercised"`

	// Treasury account ids, owned by the vault identity.
	BaseTreasury  string `json:"base_treasury" db:"base_treasury"`
	QuoteTreasury string `json:"quote_treasury" db:"quote_treasury"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// MakerPosition is one maker's committed inventory inside a vault.
// CollateralQty is quote lamports for puts, base lamports for calls.
type MakerPosition struct {
	VaultID string `json:"vault_id" db:"vault_id"`
	Owner   string `json:"owner" db:"owner"`
	Ord     uint16 `json:"ord" db:"ord"`

	CollateralQty uint64 `json:"collateral_qty" db:"collateral_qty"`
	VolumeSold    uint64 `json:"volume_sold" db:"volume_sold"` // always <= CollateralQty
	IsAllSold     bool   `json:"is_all_sold" db:"is_all_sold"` // remaining worth < 1 lot
	IsSettled     bool   `json:"is_settled" db:"is_settled"`

	// PremiumLimit is the minimum premium per lot the maker is willing
	// to accept. It is recorded on every entry and adjust call but not
	// consulted by the matching loop.
	PremiumLimit uint64 `json:"premium_limit" db:"premium_limit"`

	// PremiumAccount receives this maker's net premium on each fill.
	PremiumAccount string `json:"premium_account" db:"premium_account"`
}

// Available returns the unreserved collateral still backing unsold lots.
func (m *MakerPosition) Available() uint64 {
	if m.VolumeSold > m.CollateralQty {
		return 0
	}
	return m.CollateralQty - m.VolumeSold
}

// TakerPosition is one buyer's cumulative entitlement and funding in a
// vault. MaxEntitlement and QtyDeposited are base lamports for puts,
// quote lamports for calls.
type TakerPosition struct {
	VaultID string `json:"vault_id" db:"vault_id"`
	Owner   string `json:"owner" db:"owner"`
	Ord     uint16 `json:"ord" db:"ord"`

	Initialized    bool   `json:"initialized" db:"initialized"`
	MaxEntitlement uint64 `json:"max_entitlement" db:"max_entitlement"`
	QtyDeposited   uint64 `json:"qty_deposited" db:"qty_deposited"` // always <= MaxEntitlement
	IsSettled      bool   `json:"is_settled" db:"is_settled"`
}

// TicketKind separates the two oracle write capabilities.
type TicketKind string

const (
	FairPriceTicket   TicketKind = "FAIR_PRICE"
	SettlePriceTicket TicketKind = "SETTLE_PRICE"
)

// Ticket is a single-use capability paid for by a requester and
// consumed by exactly one oracle price write.
type Ticket struct {
	FactoryID string     `json:"factory_id" db:"factory_id"`
	Owner     string     `json:"owner" db:"owner"`
	Kind      TicketKind `json:"kind" db:"kind"`
	IsUsed    bool       `json:"is_used" db:"is_used"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// SettleOutcome classifies how a position resolved at settlement.
type SettleOutcome string

const (
	NotExercised       SettleOutcome = "NOT_EXERCISED"
	PartiallyExercised SettleOutcome = "PARTIALLY_EXERCISED"
	FullyExercised     SettleOutcome = "FULLY_EXERCISED"
	EmergencyReturned  SettleOutcome = "EMERGENCY_RETURNED"
)

// CreateVaultParams are the series-plus-cohort parameters a maker
// supplies when allocating a vault id and creating the vault.
type CreateVaultParams struct {
	Side          Side   `json:"side"`
	Maturity      uint64 `json:"maturity"`
	Strike        uint64 `json:"strike"`
	BaseAsset     string `json:"base_asset"`
	QuoteAsset    string `json:"quote_asset"`
	MaxMakers     uint16 `json:"max_makers"`
	MaxTakers     uint16 `json:"max_takers"`
	LotSize       int8   `json:"lot_size"`
	NumLotsToSell uint64 `json:"num_lots_to_sell"`
	PremiumLimit  uint64 `json:"premium_limit"`
}

// BuyResult is returned from a successful buy-lots call.
type BuyResult struct {
	LotsBought   uint64 `json:"lots_bought"`
	Price        uint64 `json:"price"`
	FundingAdded uint64 `json:"funding_added"`
	Fills        []Fill `json:"fills"`
}

// Fill is one maker's contribution to a buy, as produced by the
// matching fold.
type Fill struct {
	MakerOwner     string `json:"maker_owner"`
	Lots           uint64 `json:"lots"`
	ReserveAmount  uint64 `json:"reserve_amount"`
	PremiumToMaker uint64 `json:"premium_to_maker"`
	BackendFee     uint64 `json:"backend_fee"`
	FrontendFee    uint64 `json:"frontend_fee"`
	AllSold        bool   `json:"all_sold"`
}

// SettleResult is returned from maker/taker settlement and emergency
// exit operations.
type SettleResult struct {
	Outcome     SettleOutcome `json:"outcome"`
	BaseAmount  uint64        `json:"base_amount"`
	QuoteAmount uint64        `json:"quote_amount"`
	Bonus       uint64        `json:"bonus,omitempty"`
}
