// Package lotmath converts between lot counts and smallest-denomination
// asset quantities for the option vault engine.
//
// A lot is 10^lotSize base units, where lotSize is a small signed
// exponent carried on the vault. Intermediate products are computed in
// float64 and checked for finiteness before truncation to uint64; the
// rounding direction is part of the engine's contract:
//
//   - ceiling for amounts owed or transferred into the vault (deposits,
//     collateral, entitlement ceilings),
//   - floor for post-settlement payouts derived from conversions.
//
// The asymmetry favors the vault by at most one smallest unit per
// operation and must not be unified.
package lotmath

import (
	"errors"
	"math"
)

var (
	// ErrOverflow is returned when an intermediate product is not a
	// finite float64.
	ErrOverflow = errors.New("lotmath: arithmetic overflow")

	// ErrIllegalState is returned when a strictly-positive quantity
	// comes out zero or negative.
	ErrIllegalState = errors.New("lotmath: non-positive amount")
)

// Multiplier returns 10^lotSize as a float64.
func Multiplier(lotSize int8) (float64, error) {
	m := math.Pow(10, float64(lotSize))
	if !isFinite(m) {
		return 0, ErrOverflow
	}
	return m, nil
}

// LotQuoteValue returns the value of one lot in quote lamports at the
// given strike, rounded up. This is the unit a put maker's collateral
// is measured against.
func LotQuoteValue(multiplier float64, strike uint64) (uint64, error) {
	v := multiplier * float64(strike)
	if !isFinite(v) {
		return 0, ErrOverflow
	}
	if v <= 0 {
		return 0, ErrIllegalState
	}
	return uint64(math.Ceil(v)), nil
}

// LotBaseUnits returns the size of one lot in base lamports, rounded
// up. This is the unit a call maker's collateral is measured against.
func LotBaseUnits(multiplier float64, baseDecimals uint8) (uint64, error) {
	v := multiplier * math.Pow(10, float64(baseDecimals))
	if !isFinite(v) {
		return 0, ErrOverflow
	}
	if v <= 0 {
		return 0, ErrIllegalState
	}
	return uint64(math.Ceil(v)), nil
}

// AmountForLots returns ceil(lots * unitValue), where unitValue is the
// unrounded per-lot value. The product is taken before rounding so that
// repeated adjustments round the same way the original commitment did.
func AmountForLots(lots uint64, unitValue float64) (uint64, error) {
	v := float64(lots) * unitValue
	if !isFinite(v) {
		return 0, ErrOverflow
	}
	if v < 0 {
		return 0, ErrIllegalState
	}
	return uint64(math.Ceil(v)), nil
}

// ToSmallestUnits converts a lot count to base lamports:
// ceil(lots * multiplier * 10^assetDecimals).
func ToSmallestUnits(lots uint64, multiplier float64, assetDecimals uint8) (uint64, error) {
	v := float64(lots) * multiplier * math.Pow(10, float64(assetDecimals))
	if !isFinite(v) {
		return 0, ErrOverflow
	}
	if v < 0 {
		return 0, ErrIllegalState
	}
	return uint64(math.Ceil(v)), nil
}

// EntitlementQuote converts a lot count to its quote-lamport ceiling at
// the strike: ceil(lots * multiplier * strike).
func EntitlementQuote(lots uint64, multiplier float64, strike uint64) (uint64, error) {
	v := float64(lots) * multiplier * float64(strike)
	if !isFinite(v) {
		return 0, ErrOverflow
	}
	if v < 0 {
		return 0, ErrIllegalState
	}
	return uint64(math.Ceil(v)), nil
}

// Premium is the per-fill breakdown of a taker's payment.
type Premium struct {
	// ToMaker is the net premium after fees.
	ToMaker uint64
	// Backend and Frontend are the two fee legs, each rounded up.
	Backend  uint64
	Frontend uint64
	// Gross is the rounded premium before fees.
	Gross uint64
}

// PremiumForLots computes the premium a taker owes for lots filled at
// fairPrice, split between the maker and the two fee sinks. The gross
// premium rounds to nearest; both fee legs round up. Returns
// ErrIllegalState if the notional is not strictly positive, and ok=false
// (with the breakdown populated) when the gross premium does not cover
// the fees.
func PremiumForLots(fairPrice uint64, multiplier float64, lots uint64, feeRate, frontendShare float64) (Premium, bool, error) {
	notional := float64(fairPrice) * multiplier * float64(lots)
	if !isFinite(notional) {
		return Premium{}, false, ErrOverflow
	}
	if notional <= 0 {
		return Premium{}, false, ErrIllegalState
	}

	gross := uint64(math.Round(notional))
	fees := notional * feeRate
	backend := uint64(math.Ceil(fees * (1 - frontendShare)))
	frontend := uint64(math.Ceil(fees * frontendShare))

	p := Premium{Gross: gross, Backend: backend, Frontend: frontend}
	if gross <= backend+frontend {
		return p, false, nil
	}
	p.ToMaker = gross - backend - frontend
	return p, true, nil
}

// QuoteValueAtStrike converts base lamports to their quote-lamport
// value at the strike, rounded down. Used for settlement payouts.
func QuoteValueAtStrike(baseLamports, strike uint64, baseDecimals uint8) (uint64, error) {
	v := float64(baseLamports) / math.Pow(10, float64(baseDecimals)) * float64(strike)
	if !isFinite(v) {
		return 0, ErrOverflow
	}
	if v < 0 {
		return 0, ErrIllegalState
	}
	return uint64(math.Floor(v)), nil
}

// BaseValueAtStrike converts quote lamports to their base-lamport
// value at the strike, rounded down. Used for settlement payouts.
func BaseValueAtStrike(quoteLamports, strike uint64, baseDecimals uint8) (uint64, error) {
	if strike == 0 {
		return 0, ErrIllegalState
	}
	v := float64(quoteLamports) / float64(strike) * math.Pow(10, float64(baseDecimals))
	if !isFinite(v) {
		return 0, ErrOverflow
	}
	if v < 0 {
		return 0, ErrIllegalState
	}
	return uint64(math.Floor(v)), nil
}

func isFinite(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f)
}
