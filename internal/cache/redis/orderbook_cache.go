package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// OrderbookCache implements domain.OrderbookCache with Redis sorted sets and
// hashes. Sorted-set scores are float64 and only order the levels; exact
// decimal prices and sizes live in the member text and the size hashes.
//
// Key schema:
//
//	book:{instrument}:asks      - sorted set of ask prices (score = price)
//	book:{instrument}:bids      - sorted set of bid prices (score = price)
//	book:{instrument}:ask:size  - hash price -> size
//	book:{instrument}:bid:size  - hash price -> size
//	book:{instrument}:top       - hash ask, ask_size, bid, bid_size
//	book:{instrument}:meta      - hash ts (unix nanos)
//
// Every key expires after the configured TTL so a stopped engine does not
// leave a book that looks live.
type OrderbookCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewOrderbookCache creates an OrderbookCache. A zero ttl disables expiry.
func NewOrderbookCache(c *Client, ttl time.Duration) *OrderbookCache {
	return &OrderbookCache{rdb: c.Underlying(), ttl: ttl}
}

func bookAsksKey(instrument string) string    { return "book:" + instrument + ":asks" }
func bookBidsKey(instrument string) string    { return "book:" + instrument + ":bids" }
func bookAskSizeKey(instrument string) string { return "book:" + instrument + ":ask:size" }
func bookBidSizeKey(instrument string) string { return "book:" + instrument + ":bid:size" }
func bookTopKey(instrument string) string     { return "book:" + instrument + ":top" }
func bookMetaKey(instrument string) string    { return "book:" + instrument + ":meta" }

func bookKeys(instrument string) []string {
	return []string{
		bookAsksKey(instrument),
		bookBidsKey(instrument),
		bookAskSizeKey(instrument),
		bookBidSizeKey(instrument),
		bookTopKey(instrument),
		bookMetaKey(instrument),
	}
}

// SetSnapshot atomically replaces the cached book for instrument.
func (oc *OrderbookCache) SetSnapshot(ctx context.Context, instrument string, snap domain.OrderbookSnapshot) error {
	pipe := oc.rdb.TxPipeline()
	pipe.Del(ctx, bookKeys(instrument)...)

	addSide(ctx, pipe, bookAsksKey(instrument), bookAskSizeKey(instrument), snap.Asks)
	addSide(ctx, pipe, bookBidsKey(instrument), bookBidSizeKey(instrument), snap.Bids)

	top := map[string]interface{}{}
	if len(snap.Asks) > 0 {
		top["ask"] = snap.Asks[0].Price.String()
		top["ask_size"] = snap.Asks[0].Size.String()
	}
	if len(snap.Bids) > 0 {
		top["bid"] = snap.Bids[0].Price.String()
		top["bid_size"] = snap.Bids[0].Size.String()
	}
	if len(top) > 0 {
		pipe.HSet(ctx, bookTopKey(instrument), top)
	}
	pipe.HSet(ctx, bookMetaKey(instrument), "ts", strconv.FormatInt(snap.Timestamp.UnixNano(), 10))

	if oc.ttl > 0 {
		for _, k := range bookKeys(instrument) {
			pipe.Expire(ctx, k, oc.ttl)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set orderbook snapshot %s: %w", instrument, err)
	}
	return nil
}

func addSide(ctx context.Context, pipe redis.Pipeliner, zKey, hKey string, levels []domain.PriceLevel) {
	if len(levels) == 0 {
		return
	}
	members := make([]redis.Z, 0, len(levels))
	sizes := make(map[string]interface{}, len(levels))
	for _, lvl := range levels {
		price := lvl.Price.String()
		members = append(members, redis.Z{Score: lvl.Price.InexactFloat64(), Member: price})
		sizes[price] = lvl.Size.String()
	}
	pipe.ZAdd(ctx, zKey, members...)
	pipe.HSet(ctx, hKey, sizes)
}

// GetSnapshot rebuilds the cached book. It returns domain.ErrNotFound when
// nothing is cached for instrument.
func (oc *OrderbookCache) GetSnapshot(ctx context.Context, instrument string) (domain.OrderbookSnapshot, error) {
	pipe := oc.rdb.Pipeline()
	asksCmd := pipe.ZRange(ctx, bookAsksKey(instrument), 0, -1)
	bidsCmd := pipe.ZRevRange(ctx, bookBidsKey(instrument), 0, -1)
	askSizeCmd := pipe.HGetAll(ctx, bookAskSizeKey(instrument))
	bidSizeCmd := pipe.HGetAll(ctx, bookBidSizeKey(instrument))
	metaCmd := pipe.HGetAll(ctx, bookMetaKey(instrument))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("redis: get orderbook snapshot %s: %w", instrument, err)
	}

	meta, _ := metaCmd.Result()
	if len(meta) == 0 {
		return domain.OrderbookSnapshot{}, domain.ErrNotFound
	}

	askPrices, _ := asksCmd.Result()
	bidPrices, _ := bidsCmd.Result()
	askSizes, _ := askSizeCmd.Result()
	bidSizes, _ := bidSizeCmd.Result()

	asks, err := decodeLevels(askPrices, askSizes)
	if err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("redis: get orderbook snapshot %s asks: %w", instrument, err)
	}
	bids, err := decodeLevels(bidPrices, bidSizes)
	if err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("redis: get orderbook snapshot %s bids: %w", instrument, err)
	}

	return domain.OrderbookSnapshot{
		Instrument: instrument,
		Asks:       asks,
		Bids:       bids,
		Timestamp:  decodeTimestamp(meta["ts"]),
	}, nil
}

// GetTopOfBook reads only the best level of each side.
func (oc *OrderbookCache) GetTopOfBook(ctx context.Context, instrument string) (domain.TopOfBook, error) {
	vals, err := oc.rdb.HGetAll(ctx, bookTopKey(instrument)).Result()
	if err != nil {
		return domain.TopOfBook{}, fmt.Errorf("redis: get top of book %s: %w", instrument, err)
	}
	if len(vals) == 0 {
		return domain.TopOfBook{}, domain.ErrNotFound
	}
	return decodeTop(vals)
}

func decodeTop(vals map[string]string) (domain.TopOfBook, error) {
	var top domain.TopOfBook
	if p, ok := vals["ask"]; ok {
		lvl, err := decodeLevel(p, vals["ask_size"])
		if err != nil {
			return domain.TopOfBook{}, fmt.Errorf("redis: decode best ask: %w", err)
		}
		top.BestAsk = &lvl
	}
	if p, ok := vals["bid"]; ok {
		lvl, err := decodeLevel(p, vals["bid_size"])
		if err != nil {
			return domain.TopOfBook{}, fmt.Errorf("redis: decode best bid: %w", err)
		}
		top.BestBid = &lvl
	}
	return top, nil
}

// decodeLevels pairs sorted price members with their sizes. A price with no
// size entry is skipped.
func decodeLevels(prices []string, sizes map[string]string) ([]domain.PriceLevel, error) {
	out := make([]domain.PriceLevel, 0, len(prices))
	for _, p := range prices {
		s, ok := sizes[p]
		if !ok {
			continue
		}
		lvl, err := decodeLevel(p, s)
		if err != nil {
			return nil, err
		}
		out = append(out, lvl)
	}
	return out, nil
}

func decodeLevel(price, size string) (domain.PriceLevel, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return domain.PriceLevel{}, fmt.Errorf("price %q: %w", price, err)
	}
	s, err := decimal.NewFromString(size)
	if err != nil {
		return domain.PriceLevel{}, fmt.Errorf("size %q: %w", size, err)
	}
	return domain.PriceLevel{Price: p, Size: s}, nil
}

func decodeTimestamp(s string) time.Time {
	nanos, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}

// Compile-time interface check.
var _ domain.OrderbookCache = (*OrderbookCache)(nil)
