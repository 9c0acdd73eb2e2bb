// Package costmodel turns a simulated fill into a dollar cost breakdown:
// slippage against the best ask, a proportional fee, and a closed-form
// market impact estimate.
package costmodel

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// Params are the fee and impact coefficients. All values are passed
// explicitly; the package holds no global state.
type Params struct {
	FeeRate     decimal.Decimal // fraction of notional spent
	Eta         decimal.Decimal // permanent impact coefficient
	Epsilon     decimal.Decimal // temporary impact coefficient
	Volatility  decimal.Decimal // daily volatility as a fraction
	DailyVolume decimal.Decimal // average daily traded notional, USD
}

// DefaultParams returns the coefficients used when nothing is configured.
func DefaultParams() Params {
	return Params{
		FeeRate:     decimal.RequireFromString("0.001"),
		Eta:         decimal.RequireFromString("0.1"),
		Epsilon:     decimal.RequireFromString("0.0001"),
		Volatility:  decimal.RequireFromString("0.02"),
		DailyVolume: decimal.NewFromInt(1_000_000_000),
	}
}

// Validate checks the params and returns every problem found.
func (p Params) Validate() error {
	var errs []error
	if p.FeeRate.IsNegative() || p.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("fee_rate %s must be in [0, 1)", p.FeeRate))
	}
	if p.Eta.IsNegative() {
		errs = append(errs, fmt.Errorf("eta %s must be >= 0", p.Eta))
	}
	if p.Epsilon.IsNegative() {
		errs = append(errs, fmt.Errorf("epsilon %s must be >= 0", p.Epsilon))
	}
	if p.Volatility.IsNegative() {
		errs = append(errs, fmt.Errorf("volatility %s must be >= 0", p.Volatility))
	}
	if !p.DailyVolume.IsPositive() {
		errs = append(errs, fmt.Errorf("daily_volume %s must be > 0", p.DailyVolume))
	}
	if len(errs) > 0 {
		return fmt.Errorf("costmodel: invalid params: %w", errors.Join(errs...))
	}
	return nil
}

// Model composes cost breakdowns with a fixed set of Params.
type Model struct {
	params Params
}

// New validates p and returns a Model.
func New(p Params) (*Model, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Model{params: p}, nil
}

// Params returns the coefficients the model was built with.
func (m *Model) Params() Params {
	return m.params
}

// PermanentImpact is eta * (usdAmount / daily_volume), the per-unit price
// shift that persists after the order.
func (m *Model) PermanentImpact(usdAmount decimal.Decimal) decimal.Decimal {
	return m.params.Eta.Mul(usdAmount.Div(m.params.DailyVolume))
}

// TemporaryImpact is epsilon * volatility * usdAmount.
func (m *Model) TemporaryImpact(usdAmount decimal.Decimal) decimal.Decimal {
	return m.params.Epsilon.Mul(m.params.Volatility).Mul(usdAmount)
}

// MarketImpact is the per-unit impact estimate: permanent plus temporary.
func (m *Model) MarketImpact(usdAmount decimal.Decimal) decimal.Decimal {
	return m.PermanentImpact(usdAmount).Add(m.TemporaryImpact(usdAmount))
}

// Compose builds the cost breakdown for fill. Slippage and market impact are
// per unit of base asset, so both are scaled by the filled quantity before
// being added to the fee:
//
//	net_cost = slippage*filled_quantity + fee + market_impact*filled_quantity
//
// It fails with domain.ErrNoBenchmark when top has no best ask.
func (m *Model) Compose(fill domain.FillResult, top domain.TopOfBook, usdAmount decimal.Decimal) (domain.CostBreakdown, error) {
	if top.BestAsk == nil {
		return domain.CostBreakdown{}, fmt.Errorf("costmodel: compose: %w", domain.ErrNoBenchmark)
	}

	slippage := fill.AveragePrice.Sub(top.BestAsk.Price)
	fee := fill.TotalNotionalSpent.Mul(m.params.FeeRate)
	impact := m.MarketImpact(usdAmount)
	net := slippage.Mul(fill.FilledQuantity).
		Add(fee).
		Add(impact.Mul(fill.FilledQuantity))

	return domain.CostBreakdown{
		Slippage:     slippage,
		Fee:          fee,
		MarketImpact: impact,
		NetCost:      net,
	}, nil
}
