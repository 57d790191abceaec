package engine

import "errors"

// Every operation fails with one of these sentinels (possibly wrapped
// with detail). Callers branch on errors.Is.
var (
	// ErrStrikeZero rejects a series with a zero strike.
	ErrStrikeZero = errors.New("engine: strike price is zero")

	// ErrPriceZero rejects an oracle write carrying a zero price.
	ErrPriceZero = errors.New("engine: price is zero")

	// ErrLotsToSellZero rejects position entry or purchase of zero lots.
	ErrLotsToSellZero = errors.New("engine: lot quantity is zero")

	// ErrMaturityTooEarly is returned when an operation needs more time
	// before maturity than remains, or needs the series matured and it
	// is not.
	ErrMaturityTooEarly = errors.New("engine: maturity too early")

	// ErrMaturityTooLate is returned when maturity is further out than
	// allowed, or an operation needed the series still live.
	ErrMaturityTooLate = errors.New("engine: maturity too late")

	// ErrLastFairPriceUpdateTooOld refuses to match against a stale
	// oracle fair price.
	ErrLastFairPriceUpdateTooOld = errors.New("engine: last fair price update too old")

	// ErrMaxFairPriceTooLow is returned when the oracle fair price
	// exceeds the buyer's stated ceiling.
	ErrMaxFairPriceTooLow = errors.New("engine: max fair price too low")

	// ErrTakersFull is returned when a vault has no taker slot left.
	ErrTakersFull = errors.New("engine: takers full")

	// ErrOversizedDecrease is returned when a maker tries to withdraw
	// collateral already reserved by sold lots.
	ErrOversizedDecrease = errors.New("engine: oversized decrease")

	// ErrAccountValidation is returned when an account, position or
	// identity does not belong where the request points it.
	ErrAccountValidation = errors.New("engine: account validation failed")

	// ErrEmptyMakerList is returned when a buy arrives with no makers
	// to match against.
	ErrEmptyMakerList = errors.New("engine: empty maker list")

	// ErrOverflow is returned when lot arithmetic leaves uint64 range.
	ErrOverflow = errors.New("engine: arithmetic overflow")

	// ErrOptionPremiumTooLow is returned when the gross premium of a
	// fill would not cover the protocol fees.
	ErrOptionPremiumTooLow = errors.New("engine: option premium too low")

	// ErrInsufficientFunds is returned when a funding account cannot
	// cover a required transfer.
	ErrInsufficientFunds = errors.New("engine: insufficient funds")

	// ErrIllegalState marks a broken internal invariant. It is never
	// expected in normal operation.
	ErrIllegalState = errors.New("engine: illegal state")

	// ErrUsedUpdateTicket is returned when an oracle write presents a
	// ticket that was already consumed.
	ErrUsedUpdateTicket = errors.New("engine: update ticket already used")

	// ErrEmergencyModeTooEarly is returned when emergency activation is
	// requested before the post-maturity grace period has elapsed.
	ErrEmergencyModeTooEarly = errors.New("engine: emergency mode too early")
)
