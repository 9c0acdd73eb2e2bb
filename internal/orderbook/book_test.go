package orderbook

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/costsim/internal/domain"
)

func raw(pairs ...string) []domain.RawLevel {
	out := make([]domain.RawLevel, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, domain.RawLevel{Price: pairs[i], Size: pairs[i+1]})
	}
	return out
}

func prices(levels []domain.PriceLevel) []string {
	out := make([]string, len(levels))
	for i, l := range levels {
		out[i] = l.Price.String()
	}
	return out
}

func TestUpdateSortsLadders(t *testing.T) {
	b := New()
	err := b.Update(
		raw("101", "1", "100", "2", "102.5", "3"),
		raw("98", "1", "99.5", "2", "97", "4"),
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"100", "101", "102.5"}, prices(b.Asks()))
	assert.Equal(t, []string{"99.5", "98", "97"}, prices(b.Bids()))

	asks, bids := b.Depth()
	assert.Equal(t, 3, asks)
	assert.Equal(t, 3, bids)
}

func TestUpdateDropsZeroSize(t *testing.T) {
	b := New()
	require.NoError(t, b.Update(raw("100", "0", "101", "1"), raw("99", "0.0")))

	assert.Equal(t, []string{"101"}, prices(b.Asks()))
	assert.Empty(t, b.Bids())
}

func TestUpdateDuplicatePriceLastWins(t *testing.T) {
	b := New()
	require.NoError(t, b.Update(raw("100", "1", "101", "2", "100.00", "5"), nil))

	asks := b.Asks()
	require.Len(t, asks, 2)
	assert.True(t, asks[0].Price.Equal(decimal.NewFromInt(100)))
	assert.True(t, asks[0].Size.Equal(decimal.NewFromInt(5)))
}

func TestUpdateDropsNegativeSize(t *testing.T) {
	b := New()
	require.NoError(t, b.Update(raw("100", "1", "101", "-2"), raw("99", "-0.5", "98", "3")))
	assert.Equal(t, []string{"100"}, prices(b.Asks()))
	assert.Equal(t, []string{"98"}, prices(b.Bids()))
}

func TestUpdateDuplicateZeroRemovesLevel(t *testing.T) {
	b := New()
	require.NoError(t, b.Update(raw("100", "1", "100", "0"), nil))
	assert.Empty(t, b.Asks())
}

func TestUpdateRejectsMalformedAtomically(t *testing.T) {
	tests := []struct {
		name string
		asks []domain.RawLevel
		bids []domain.RawLevel
	}{
		{"unparseable price", raw("abc", "1"), nil},
		{"unparseable size", raw("100", "x"), nil},
		{"zero price", raw("0", "1"), nil},
		{"negative price", nil, raw("-1", "1")},
		{"empty strings", raw("", ""), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New()
			require.NoError(t, b.Update(raw("100", "1"), raw("99", "1")))

			err := b.Update(tt.asks, tt.bids)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrMalformedLevel)
			assert.Equal(t, domain.ReasonMalformedLevel, domain.Reason(err))

			assert.Equal(t, []string{"100"}, prices(b.Asks()))
			assert.Equal(t, []string{"99"}, prices(b.Bids()))
		})
	}
}

func TestUpdateErrorNamesSideAndIndex(t *testing.T) {
	b := New()
	err := b.Update(raw("100", "1"), raw("99", "1", "oops", "1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bid level 1")
}

func TestTopOfBook(t *testing.T) {
	b := New()
	top := b.TopOfBook()
	assert.Nil(t, top.BestAsk)
	assert.Nil(t, top.BestBid)

	require.NoError(t, b.Update(raw("101", "2", "100", "1"), nil))
	top = b.TopOfBook()
	require.NotNil(t, top.BestAsk)
	assert.True(t, top.BestAsk.Price.Equal(decimal.NewFromInt(100)))
	assert.Nil(t, top.BestBid)
}

func TestReturnedLaddersSurviveUpdate(t *testing.T) {
	b := New()
	require.NoError(t, b.Update(raw("100", "1"), nil))
	held := b.Asks()

	require.NoError(t, b.Update(raw("200", "1"), nil))
	assert.Equal(t, []string{"100"}, prices(held))
	assert.Equal(t, []string{"200"}, prices(b.Asks()))
}

func TestResetAndSnapshot(t *testing.T) {
	b := New()
	require.NoError(t, b.Update(raw("100", "1"), raw("99", "2")))

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	snap := b.Snapshot("BTC-USDT-SWAP", ts)
	assert.Equal(t, "BTC-USDT-SWAP", snap.Instrument)
	assert.Equal(t, ts, snap.Timestamp)
	assert.Len(t, snap.Asks, 1)
	assert.Len(t, snap.Bids, 1)

	b.Reset()
	asks, bids := b.Depth()
	assert.Zero(t, asks)
	assert.Zero(t, bids)
	assert.Len(t, snap.Asks, 1)
}
