package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FillResult is the outcome of walking the ask ladder for one notional.
type FillResult struct {
	AveragePrice       decimal.Decimal `json:"average_price"`
	FilledQuantity     decimal.Decimal `json:"filled_quantity"`
	TotalNotionalSpent decimal.Decimal `json:"total_notional_spent"`
	FullyFilled        bool            `json:"fully_filled"`
}

// CostBreakdown decomposes the total dollar cost of a simulated fill.
// MarketImpact is a per-unit closed-form estimate, not a guarantee.
type CostBreakdown struct {
	Slippage     decimal.Decimal `json:"slippage"`
	Fee          decimal.Decimal `json:"fee"`
	MarketImpact decimal.Decimal `json:"market_impact"`
	NetCost      decimal.Decimal `json:"net_cost"`
}

// Features are auxiliary book features used only as predictor inputs.
type Features struct {
	Spread      decimal.NullDecimal `json:"spread"`
	DepthTopN   decimal.Decimal     `json:"depth_top_n"`
	DepthLevels int                 `json:"depth_levels"`
}

// Predictions holds optional outputs of external predictive models. Nil
// fields mean the model is not configured.
type Predictions struct {
	Slippage         *float64 `json:"predicted_slippage,omitempty"`
	MakerProbability *float64 `json:"maker_probability,omitempty"`
	TakerProbability *float64 `json:"taker_probability,omitempty"`
}

// SimulationResult is the record emitted for every successfully processed
// tick.
type SimulationResult struct {
	ID         string              `json:"id"`
	Instrument string              `json:"instrument"`
	Sequence   uint64              `json:"sequence"`
	Timestamp  time.Time           `json:"timestamp"`
	USDAmount  decimal.Decimal     `json:"usd_amount"`
	BestAsk    decimal.Decimal     `json:"best_ask"`
	BestBid    decimal.NullDecimal `json:"best_bid"`

	FillResult
	CostBreakdown

	Features      Features    `json:"features"`
	Predictions   Predictions `json:"predictions"`
	LatencyMicros int64       `json:"latency_us"`
}

// TickFailure describes a tick that produced no result.
type TickFailure struct {
	Instrument string    `json:"instrument"`
	Sequence   uint64    `json:"sequence"`
	Timestamp  time.Time `json:"timestamp"`
	Reason     string    `json:"reason"`
	Detail     string    `json:"detail"`
}

// TrainingSample is one row of the offline training log. IsTaker is nil
// until a real trade direction is joined in; the simulator never guesses it.
type TrainingSample struct {
	ResultID  string              `json:"result_id"`
	Timestamp time.Time           `json:"timestamp"`
	USDAmount decimal.Decimal     `json:"usd_amount"`
	BestAsk   decimal.Decimal     `json:"best_ask"`
	AvgPrice  decimal.Decimal     `json:"avg_price"`
	Slippage  decimal.Decimal     `json:"slippage"`
	Spread    decimal.NullDecimal `json:"spread"`
	Depth     decimal.Decimal     `json:"depth"`
	IsTaker   *bool               `json:"is_taker"`
}

// SampleFromResult builds the training row for a result.
func SampleFromResult(r SimulationResult) TrainingSample {
	return TrainingSample{
		ResultID:  r.ID,
		Timestamp: r.Timestamp,
		USDAmount: r.USDAmount,
		BestAsk:   r.BestAsk,
		AvgPrice:  r.AveragePrice,
		Slippage:  r.Slippage,
		Spread:    r.Features.Spread,
		Depth:     r.Features.DepthTopN,
	}
}
