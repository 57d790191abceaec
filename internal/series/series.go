// Package series handles option series ticker parsing and validation.
// A series ticker uniquely identifies a factory: one option family on
// one asset pair at one strike and maturity.
package series

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/solhedge/vault-engine/internal/model"
)

// tickerRegex matches: {SIDE}-{base}-{quote}-{strike}-{maturity}
// Example: PUT-SOL-USDC-2150000000-1767225600
var tickerRegex = regexp.MustCompile(
	`^(PUT|CALL)-([A-Za-z0-9]+)-([A-Za-z0-9]+)-([0-9]+)-([0-9]+)$`,
)

var (
	ErrInvalidTicker = errors.New("series: invalid ticker format")
	ErrStrikeZero    = errors.New("series: strike cannot be zero")
)

// Series is a parsed option series identifier.
type Series struct {
	Ticker     string     `json:"ticker"`
	Side       model.Side `json:"side"`
	BaseAsset  string     `json:"base_asset"`
	QuoteAsset string     `json:"quote_asset"`
	Strike     uint64     `json:"strike"`
	Maturity   uint64     `json:"maturity"`
}

// ParseTicker parses and validates a series ticker string.
// Format: {SIDE}-{base}-{quote}-{strike}-{maturity}
func ParseTicker(ticker string) (*Series, error) {
	matches := tickerRegex.FindStringSubmatch(ticker)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected SIDE-base-quote-strike-maturity)",
			ErrInvalidTicker, ticker)
	}

	strike, err := strconv.ParseUint(matches[4], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: strike %s", ErrInvalidTicker, matches[4])
	}
	if strike == 0 {
		return nil, ErrStrikeZero
	}
	maturity, err := strconv.ParseUint(matches[5], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: maturity %s", ErrInvalidTicker, matches[5])
	}

	return &Series{
		Ticker:     ticker,
		Side:       model.Side(matches[1]),
		BaseAsset:  matches[2],
		QuoteAsset: matches[3],
		Strike:     strike,
		Maturity:   maturity,
	}, nil
}

// Ticker builds the canonical ticker for a factory key. It is the
// inverse of ParseTicker for valid inputs.
func Ticker(side model.Side, baseAsset, quoteAsset string, strike, maturity uint64) string {
	return fmt.Sprintf("%s-%s-%s-%d-%d", side, baseAsset, quoteAsset, strike, maturity)
}
