// Package features extracts auxiliary order book features used as inputs to
// the predictive models. They never feed the cost model.
package features

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// DefaultDepthLevels is the number of ask levels summed when no depth is
// configured.
const DefaultDepthLevels = 5

// View is the read-only slice of a book the extractor needs.
type View interface {
	TopOfBook() domain.TopOfBook
	Asks() []domain.PriceLevel
}

// Extract computes the spread and the ask size resting in the first
// depthLevels levels. A non-positive depthLevels falls back to
// DefaultDepthLevels.
func Extract(book View, depthLevels int) domain.Features {
	if depthLevels <= 0 {
		depthLevels = DefaultDepthLevels
	}
	return domain.Features{
		Spread:      Spread(book.TopOfBook()),
		DepthTopN:   DepthTopN(book.Asks(), depthLevels),
		DepthLevels: depthLevels,
	}
}

// Spread is best ask minus best bid, null when either side is empty.
func Spread(top domain.TopOfBook) decimal.NullDecimal {
	if top.BestAsk == nil || top.BestBid == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(top.BestAsk.Price.Sub(top.BestBid.Price))
}

// DepthTopN sums the size of the first n levels.
func DepthTopN(levels []domain.PriceLevel, n int) decimal.Decimal {
	if n > len(levels) {
		n = len(levels)
	}
	total := decimal.Zero
	for _, lvl := range levels[:n] {
		total = total.Add(lvl.Size)
	}
	return total
}
