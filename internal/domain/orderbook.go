package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is a single price+size entry in an orderbook ladder.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// Notional returns price * size, the USD value resting at this level.
func (l PriceLevel) Notional() decimal.Decimal {
	return l.Price.Mul(l.Size)
}

// RawLevel is a level exactly as it arrives from a feed, before parsing.
type RawLevel struct {
	Price string
	Size  string
}

// RawSnapshot is an unparsed two-sided book message for one instrument.
// Sequence is assigned by the feed and increases monotonically per stream.
type RawSnapshot struct {
	Instrument string
	Asks       []RawLevel
	Bids       []RawLevel
	Timestamp  time.Time
	Sequence   uint64
}

// OrderbookSnapshot is a full parsed snapshot of bids and asks for an
// instrument. Asks are ascending by price, bids descending.
type OrderbookSnapshot struct {
	Instrument string       `json:"instrument"`
	Asks       []PriceLevel `json:"asks"`
	Bids       []PriceLevel `json:"bids"`
	Timestamp  time.Time    `json:"timestamp"`
}

// TopOfBook is the best level on each side. A nil side means the ladder is
// empty.
type TopOfBook struct {
	BestAsk *PriceLevel `json:"best_ask"`
	BestBid *PriceLevel `json:"best_bid"`
}
