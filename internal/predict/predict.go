// Package predict evaluates pre-fitted regression models over book
// features. Coefficients come from configuration; no training happens here.
package predict

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// LinearSlippage predicts slippage as a linear function of the order
// notional and the best ask.
type LinearSlippage struct {
	Intercept float64
	USDAmount float64
	BestAsk   float64
}

// PredictSlippage returns intercept + a*usdAmount + b*bestAsk.
func (m LinearSlippage) PredictSlippage(usdAmount, bestAsk float64) float64 {
	return m.Intercept + m.USDAmount*usdAmount + m.BestAsk*bestAsk
}

// MakerTaker holds complementary probabilities.
type MakerTaker struct {
	Maker float64
	Taker float64
}

// LogisticMakerTaker predicts the probability that an order executes as a
// taker from its notional, the spread and the top-of-book depth.
type LogisticMakerTaker struct {
	Intercept float64
	USDAmount float64
	Spread    float64
	Depth     float64
}

// PredictMakerTaker applies the logistic function to the linear score. The
// positive class is taker.
func (m LogisticMakerTaker) PredictMakerTaker(usdAmount, spread, depth float64) MakerTaker {
	z := m.Intercept + m.USDAmount*usdAmount + m.Spread*spread + m.Depth*depth
	taker := 1 / (1 + math.Exp(-z))
	return MakerTaker{Maker: 1 - taker, Taker: taker}
}

// Set is the collection of configured models. A nil model is skipped.
type Set struct {
	Slippage   *LinearSlippage
	MakerTaker *LogisticMakerTaker
}

// Enabled reports whether any model is configured.
func (s Set) Enabled() bool {
	return s.Slippage != nil || s.MakerTaker != nil
}

// Predict runs every configured model. The maker/taker model needs a spread
// and is skipped when one side of the book is empty.
func (s Set) Predict(usdAmount, bestAsk decimal.Decimal, f domain.Features) domain.Predictions {
	var out domain.Predictions
	usd := usdAmount.InexactFloat64()

	if s.Slippage != nil {
		v := s.Slippage.PredictSlippage(usd, bestAsk.InexactFloat64())
		out.Slippage = &v
	}
	if s.MakerTaker != nil && f.Spread.Valid {
		mt := s.MakerTaker.PredictMakerTaker(usd, f.Spread.Decimal.InexactFloat64(), f.DepthTopN.InexactFloat64())
		out.MakerProbability = &mt.Maker
		out.TakerProbability = &mt.Taker
	}
	return out
}
