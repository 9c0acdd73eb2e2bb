// Package orderbook holds the latest two-sided price ladder for a single
// instrument. Every update replaces both ladders wholesale; there is no
// incremental delta application.
package orderbook

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// Book is the current ask and bid ladder for one instrument. Asks are kept
// ascending by price and bids descending, so the best level of each side is
// always at index 0.
//
// A Book is not safe for concurrent use. The ladders are replaced, never
// mutated in place, so slices returned by Asks and Bids stay valid (and
// unchanged) after later updates.
type Book struct {
	asks []domain.PriceLevel
	bids []domain.PriceLevel
}

// New returns an empty Book.
func New() *Book {
	return &Book{}
}

// Update parses and replaces both ladders. If any level fails to parse the
// whole update is rejected with an error wrapping domain.ErrMalformedLevel
// and the previous ladders are kept.
//
// Levels with a zero size are dropped. When the same price appears twice on
// one side the last occurrence wins.
func (b *Book) Update(asks, bids []domain.RawLevel) error {
	parsedAsks, err := parseSide("ask", asks)
	if err != nil {
		return err
	}
	parsedBids, err := parseSide("bid", bids)
	if err != nil {
		return err
	}

	sort.Slice(parsedAsks, func(i, j int) bool {
		return parsedAsks[i].Price.LessThan(parsedAsks[j].Price)
	})
	sort.Slice(parsedBids, func(i, j int) bool {
		return parsedBids[i].Price.GreaterThan(parsedBids[j].Price)
	})

	b.asks = parsedAsks
	b.bids = parsedBids
	return nil
}

// Reset empties both ladders. The feed calls this on resync so a stale
// snapshot is never simulated against.
func (b *Book) Reset() {
	b.asks = nil
	b.bids = nil
}

// TopOfBook returns the best level of each side, nil for an empty side.
func (b *Book) TopOfBook() domain.TopOfBook {
	var top domain.TopOfBook
	if len(b.asks) > 0 {
		ask := b.asks[0]
		top.BestAsk = &ask
	}
	if len(b.bids) > 0 {
		bid := b.bids[0]
		top.BestBid = &bid
	}
	return top
}

// Asks returns the ask ladder, best (lowest) price first. The slice must not
// be modified.
func (b *Book) Asks() []domain.PriceLevel {
	return b.asks
}

// Bids returns the bid ladder, best (highest) price first. The slice must not
// be modified.
func (b *Book) Bids() []domain.PriceLevel {
	return b.bids
}

// Depth returns the number of levels on each side.
func (b *Book) Depth() (asks, bids int) {
	return len(b.asks), len(b.bids)
}

// Snapshot copies the current ladders into a domain snapshot.
func (b *Book) Snapshot(instrument string, ts time.Time) domain.OrderbookSnapshot {
	return domain.OrderbookSnapshot{
		Instrument: instrument,
		Asks:       append([]domain.PriceLevel(nil), b.asks...),
		Bids:       append([]domain.PriceLevel(nil), b.bids...),
		Timestamp:  ts,
	}
}

// ParseLevel converts a raw feed level into a PriceLevel. The price must be
// positive. Any parsed size is accepted; callers drop non-positive sizes.
func ParseLevel(raw domain.RawLevel) (domain.PriceLevel, error) {
	price, err := decimal.NewFromString(strings.TrimSpace(raw.Price))
	if err != nil {
		return domain.PriceLevel{}, fmt.Errorf("price %q: %w", raw.Price, domain.ErrMalformedLevel)
	}
	if !price.IsPositive() {
		return domain.PriceLevel{}, fmt.Errorf("price %q not positive: %w", raw.Price, domain.ErrMalformedLevel)
	}
	size, err := decimal.NewFromString(strings.TrimSpace(raw.Size))
	if err != nil {
		return domain.PriceLevel{}, fmt.Errorf("size %q: %w", raw.Size, domain.ErrMalformedLevel)
	}
	return domain.PriceLevel{Price: price, Size: size}, nil
}

func parseSide(side string, raw []domain.RawLevel) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(raw))
	seen := make(map[string]int, len(raw))

	for i, r := range raw {
		lvl, err := ParseLevel(r)
		if err != nil {
			return nil, fmt.Errorf("orderbook: %s level %d: %w", side, i, err)
		}
		// String() is canonical, so "100" and "100.00" share a key.
		key := lvl.Price.String()
		if j, ok := seen[key]; ok {
			levels[j] = lvl
			continue
		}
		seen[key] = len(levels)
		levels = append(levels, lvl)
	}

	out := levels[:0]
	for _, lvl := range levels {
		if lvl.Size.IsPositive() {
			out = append(out, lvl)
		}
	}
	return out, nil
}
