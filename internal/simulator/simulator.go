// Package simulator walks an ask ladder to estimate how a market buy of a
// fixed USD notional would fill. It is pure: no I/O, no clock, no state.
package simulator

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/costsim/internal/domain"
)

const (
	// QuantityPrecision is the number of decimal places a partial-level
	// quantity is truncated to. Truncation keeps the notional spent at or
	// below the requested amount.
	QuantityPrecision int32 = 18
	// PricePrecision is the number of decimal places of the average price.
	PricePrecision int32 = 18
)

// Ladder is anything exposing an ask ladder sorted best price first.
// *orderbook.Book satisfies it.
type Ladder interface {
	Asks() []domain.PriceLevel
}

// SimulateBook runs SimulateMarketBuy against the asks of book.
func SimulateBook(book Ladder, usdAmount decimal.Decimal) (domain.FillResult, error) {
	return SimulateMarketBuy(book.Asks(), usdAmount)
}

// SimulateMarketBuy fills usdAmount against asks, consuming levels in order.
//
// Errors:
//   - domain.ErrEmptyBook when asks is empty.
//   - domain.ErrNoFill when nothing could be bought (non-positive notional or
//     a quantity below QuantityPrecision).
//   - domain.ErrInsufficientLiquidity when the ladder ran out first. The
//     partial FillResult is returned alongside this error.
func SimulateMarketBuy(asks []domain.PriceLevel, usdAmount decimal.Decimal) (domain.FillResult, error) {
	if len(asks) == 0 {
		return domain.FillResult{}, fmt.Errorf("simulator: market buy: %w", domain.ErrEmptyBook)
	}
	if !usdAmount.IsPositive() {
		return domain.FillResult{}, fmt.Errorf("simulator: market buy of %s: %w", usdAmount, domain.ErrNoFill)
	}

	remaining := usdAmount
	filled := decimal.Zero
	spent := decimal.Zero
	full := false

	for _, lvl := range asks {
		levelValue := lvl.Notional()
		if levelValue.GreaterThanOrEqual(remaining) {
			qty, _ := remaining.QuoRem(lvl.Price, QuantityPrecision)
			filled = filled.Add(qty)
			spent = spent.Add(qty.Mul(lvl.Price))
			full = true
			break
		}
		filled = filled.Add(lvl.Size)
		spent = spent.Add(levelValue)
		remaining = remaining.Sub(levelValue)
	}

	if !filled.IsPositive() {
		return domain.FillResult{}, fmt.Errorf("simulator: market buy of %s: %w", usdAmount, domain.ErrNoFill)
	}

	res := domain.FillResult{
		AveragePrice:       spent.DivRound(filled, PricePrecision),
		FilledQuantity:     filled,
		TotalNotionalSpent: spent,
		FullyFilled:        full,
	}
	if !full {
		return res, fmt.Errorf("simulator: market buy of %s: spent %s across %d levels: %w",
			usdAmount, spent, len(asks), domain.ErrInsufficientLiquidity)
	}
	return res, nil
}
