package config

import (
	"github.com/alanyoungcy/costsim/internal/costmodel"
	"github.com/alanyoungcy/costsim/internal/predict"
)

// CostParams returns the [impact] table as cost model parameters.
func (c *Config) CostParams() costmodel.Params {
	return costmodel.Params{
		FeeRate:     c.Impact.FeeRate.Decimal,
		Eta:         c.Impact.Eta.Decimal,
		Epsilon:     c.Impact.Epsilon.Decimal,
		Volatility:  c.Impact.Volatility.Decimal,
		DailyVolume: c.Impact.DailyVolume.Decimal,
	}
}

// Predictors returns the enabled predictive models.
func (c *Config) Predictors() predict.Set {
	var set predict.Set
	if s := c.Predict.Slippage; s.Enabled {
		set.Slippage = &predict.LinearSlippage{
			Intercept: s.Intercept,
			USDAmount: s.USDAmount,
			BestAsk:   s.BestAsk,
		}
	}
	if m := c.Predict.MakerTaker; m.Enabled {
		set.MakerTaker = &predict.LogisticMakerTaker{
			Intercept: m.Intercept,
			USDAmount: m.USDAmount,
			Spread:    m.Spread,
			Depth:     m.Depth,
		}
	}
	return set
}
