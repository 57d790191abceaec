// Package config loads service configuration from the environment.
// Engine parameters are immutable once loaded; tests construct their
// own Engine values directly instead of going through the environment.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the full service configuration.
type Config struct {
	App    AppConfig
	Store  StoreConfig
	Ledger LedgerConfig
	Engine Engine
}

// AppConfig holds HTTP server settings.
type AppConfig struct {
	Port         string `envconfig:"PORT" default:"8080"`
	ReadTimeout  int    `envconfig:"HTTP_READ_TIMEOUT_SECONDS" default:"10"`
	WriteTimeout int    `envconfig:"HTTP_WRITE_TIMEOUT_SECONDS" default:"10"`
}

// StoreConfig holds persistence settings. An empty DatabaseURL selects
// the in-memory store; an empty RedisURL disables the cache layer.
type StoreConfig struct {
	DatabaseURL string `envconfig:"DATABASE_URL"`
	RedisURL    string `envconfig:"REDIS_URL"`
	CacheTTL    int    `envconfig:"CACHE_TTL_SECONDS" default:"30"`
}

// LedgerConfig seeds the in-memory token ledger at startup.
type LedgerConfig struct {
	// Assets is a comma-separated list of asset:decimals pairs
	// registered as mints, e.g. "SOL:9,USDC:6".
	Assets string `envconfig:"LEDGER_ASSETS" default:"SOL:9,USDC:6"`
}

// Mints parses the configured asset list.
func (l LedgerConfig) Mints() (map[string]uint8, error) {
	mints := make(map[string]uint8)
	for _, pair := range strings.Split(l.Assets, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		asset, decStr, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("config: LEDGER_ASSETS entry %q is not asset:decimals", pair)
		}
		dec, err := strconv.ParseUint(decStr, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("config: LEDGER_ASSETS decimals for %s: %w", asset, err)
		}
		mints[asset] = uint8(dec)
	}
	return mints, nil
}

// Engine holds every tunable the option engine reads. Values are fixed
// at construction; nothing in the engine consults the environment.
type Engine struct {
	// FreezeSeconds is the pre-maturity window during which positions can
	// no longer be opened, adjusted or matched.
	FreezeSeconds uint64 `envconfig:"FREEZE_SECONDS" default:"1800"`

	// MaxFairPriceAgeSeconds is how stale the last oracle fair price may
	// be before matching refuses to fill.
	MaxFairPriceAgeSeconds uint64 `envconfig:"MAX_FAIR_PRICE_AGE_SECONDS" default:"60"`

	// MaxMaturityFutureSeconds caps how far in the future a new option
	// series may mature.
	MaxMaturityFutureSeconds uint64 `envconfig:"MAX_MATURITY_FUTURE_SECONDS" default:"2592000"`

	// EmergencyGraceSeconds is how long after maturity settlement may
	// stall before emergency mode can be activated.
	EmergencyGraceSeconds uint64 `envconfig:"EMERGENCY_GRACE_SECONDS" default:"604800"`

	// ProtocolTotalFees is the total fee rate applied to premium notional.
	ProtocolTotalFees float64 `envconfig:"PROTOCOL_TOTAL_FEES" default:"0.01"`

	// FrontendShare is the fraction of total fees routed to the frontend
	// fee sink; the remainder goes to the protocol sink.
	FrontendShare float64 `envconfig:"FRONTEND_SHARE" default:"0.5"`

	// FairPriceTicketFee and SettlePriceTicketFee are charged, in native
	// fee units, when a ticket is issued.
	FairPriceTicketFee   uint64 `envconfig:"FAIR_PRICE_TICKET_FEE" default:"500000"`
	SettlePriceTicketFee uint64 `envconfig:"SETTLE_PRICE_TICKET_FEE" default:"500000"`

	// OracleAccount is the only identity allowed to push prices; ticket
	// fees are paid to it.
	OracleAccount string `envconfig:"ORACLE_ACCOUNT" default:"oracle"`

	// ProtocolFeeAccount receives the backend share of matching fees.
	ProtocolFeeAccount string `envconfig:"PROTOCOL_FEE_ACCOUNT" default:"protocol-fees"`
}

// Validate rejects engine parameters that cannot produce a working engine.
func (e Engine) Validate() error {
	if e.ProtocolTotalFees < 0 || e.ProtocolTotalFees >= 1 {
		return fmt.Errorf("config: PROTOCOL_TOTAL_FEES must be in [0,1), got %v", e.ProtocolTotalFees)
	}
	if e.FrontendShare < 0 || e.FrontendShare > 1 {
		return fmt.Errorf("config: FRONTEND_SHARE must be in [0,1], got %v", e.FrontendShare)
	}
	if e.OracleAccount == "" {
		return fmt.Errorf("config: ORACLE_ACCOUNT is required")
	}
	if e.ProtocolFeeAccount == "" {
		return fmt.Errorf("config: PROTOCOL_FEE_ACCOUNT is required")
	}
	return nil
}

// Load reads configuration from .env (if present) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
