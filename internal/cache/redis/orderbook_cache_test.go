package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookKeys(t *testing.T) {
	assert.Equal(t, []string{
		"book:BTC-USDT-SWAP:asks",
		"book:BTC-USDT-SWAP:bids",
		"book:BTC-USDT-SWAP:ask:size",
		"book:BTC-USDT-SWAP:bid:size",
		"book:BTC-USDT-SWAP:top",
		"book:BTC-USDT-SWAP:meta",
	}, bookKeys("BTC-USDT-SWAP"))
}

func TestDecodeLevels(t *testing.T) {
	levels, err := decodeLevels(
		[]string{"100.1", "100.25", "101"},
		map[string]string{"100.1": "1.5", "101": "0.000000001"},
	)
	require.NoError(t, err)
	require.Len(t, levels, 2)
	assert.Equal(t, "100.1", levels[0].Price.String())
	assert.Equal(t, "1.5", levels[0].Size.String())
	assert.Equal(t, "0.000000001", levels[1].Size.String())

	_, err = decodeLevels([]string{"x"}, map[string]string{"x": "1"})
	assert.Error(t, err)
}

func TestDecodeTop(t *testing.T) {
	top, err := decodeTop(map[string]string{"ask": "100", "ask_size": "2"})
	require.NoError(t, err)
	require.NotNil(t, top.BestAsk)
	assert.Nil(t, top.BestBid)
	assert.Equal(t, "2", top.BestAsk.Size.String())

	_, err = decodeTop(map[string]string{"bid": "99", "bid_size": "?"})
	assert.Error(t, err)
}

func TestDecodeTimestamp(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 123, time.UTC)
	assert.Equal(t, ts, decodeTimestamp("1714564800000000123"))
	assert.True(t, decodeTimestamp("").IsZero())
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("ch:sim:*"))
	assert.False(t, hasPattern("ch:sim:BTC-USDT-SWAP"))
}
