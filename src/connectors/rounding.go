package connectors

import (
	"math"

	"github.com/shopspring/decimal"
)

// RoundToTick rounds a price to a granularity derived from its
// magnitude. A single fixed precision either loses significant digits
// on sub-cent assets or exceeds the venue's accepted tick on high-value
// assets, so the granularity is tiered.
//
//	>= 1000  -> 0.1
//	>= 100   -> 0.01
//	>= 1     -> 0.0001
//	>= 0.01  -> 0.000001
//	<  0.01  -> 8 decimal places
func RoundToTick(price float64) float64 {
	d := decimal.NewFromFloat(price)

	var places int32
	abs := d.Abs()
	switch {
	case abs.GreaterThanOrEqual(decimal.NewFromInt(1000)):
		places = 1
	case abs.GreaterThanOrEqual(decimal.NewFromInt(100)):
		places = 2
	case abs.GreaterThanOrEqual(decimal.NewFromInt(1)):
		places = 4
	case abs.GreaterThanOrEqual(decimal.NewFromFloat(0.01)):
		places = 6
	default:
		places = 8
	}

	out, _ := d.Round(places).Float64()
	return out
}

// RoundToTickSize rounds a price to the instrument's explicit tick
// size. Falls back to the tiered rule when the venue did not report a
// tick.
func RoundToTickSize(price, tickSize float64) float64 {
	if tickSize <= 0 {
		return RoundToTick(price)
	}

	p := decimal.NewFromFloat(price)
	tick := decimal.NewFromFloat(tickSize)

	steps := p.Div(tick).Round(0)
	out, _ := steps.Mul(tick).Float64()
	return out
}

// FloorToStep floors a quantity down to the instrument's quantity step.
// Exchanges reject orders that violate the step, so this is mandatory
// before transmission, and flooring (never rounding up) keeps the order
// inside the computed risk budget.
func FloorToStep(qty, step float64) float64 {
	if step <= 0 || qty <= 0 {
		return math.Max(qty, 0)
	}

	q := decimal.NewFromFloat(qty)
	s := decimal.NewFromFloat(step)

	steps := q.Div(s).Floor()
	out, _ := steps.Mul(s).Float64()
	return out
}
