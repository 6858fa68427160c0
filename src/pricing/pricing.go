package pricing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"perpexecutor/src/connectors"
	"perpexecutor/src/model"
)

// ComputeQuantity converts a risk budget into an order quantity:
//
//	riskAmount = equity × riskPercent/100
//	quantity   = riskAmount / |entryPrice − stopPrice|
//
// floored to the instrument quantity step. The quantity is what loses
// exactly riskAmount if the stop is hit, regardless of leverage.
func ComputeQuantity(equity, riskPercent, entryPrice, stopPrice, step float64) (float64, error) {
	if equity <= 0 {
		return 0, fmt.Errorf("%w: equity must be positive", connectors.ErrValidation)
	}
	if riskPercent <= 0 {
		return 0, fmt.Errorf("%w: risk percent must be positive", connectors.ErrValidation)
	}
	if entryPrice <= 0 || stopPrice <= 0 {
		return 0, fmt.Errorf("%w: prices must be positive", connectors.ErrValidation)
	}

	entry := decimal.NewFromFloat(entryPrice)
	stop := decimal.NewFromFloat(stopPrice)

	distance := entry.Sub(stop).Abs()
	if distance.IsZero() {
		return 0, fmt.Errorf("%w: stop price equals entry price", connectors.ErrValidation)
	}

	riskAmount := decimal.NewFromFloat(equity).
		Mul(decimal.NewFromFloat(riskPercent)).
		Div(decimal.NewFromInt(100))

	quantity, _ := riskAmount.Div(distance).Float64()

	return connectors.FloorToStep(quantity, step), nil
}

// CheckPreconditions enforces the hard order preconditions: minimum
// notional and required margin. These reject the trade, they never
// clamp it.
func CheckPreconditions(quantity, entryPrice float64, leverage int, minNotional, availableBalance float64) error {
	if leverage < 1 {
		leverage = 1
	}

	notional := quantity * entryPrice
	if notional < minNotional {
		return fmt.Errorf("%w: notional %.4f below minimum %.4f",
			connectors.ErrNotionalTooSmall, notional, minNotional)
	}

	requiredMargin := notional / float64(leverage)
	if requiredMargin > availableBalance {
		return fmt.Errorf("%w: required margin %.4f exceeds available balance %.4f",
			connectors.ErrInsufficientMargin, requiredMargin, availableBalance)
	}

	return nil
}

// SelectLeverage picks the effective leverage for a signal:
//
//	min(agentMax, floor(100 / stopDistancePercent), instrumentMax)
//
// The middle term caps leverage so that the stop-loss distance alone
// can never exceed 100% of margin, which would liquidate the position
// before the stop triggers.
func SelectLeverage(agentMax int, entryPrice, stopPrice float64, instrumentMax int) int {
	if agentMax < 1 {
		agentMax = 1
	}

	leverage := agentMax

	if entryPrice > 0 {
		stopDistancePct := math.Abs(entryPrice-stopPrice) / entryPrice * 100
		if stopDistancePct > 0 {
			fromRisk := int(math.Floor(100 / stopDistancePct))
			if fromRisk < 1 {
				fromRisk = 1
			}
			if fromRisk < leverage {
				leverage = fromRisk
			}
		}
	}

	if instrumentMax > 0 && leverage > instrumentMax {
		leverage = instrumentMax
	}

	return leverage
}

// ComputePnl returns realized PnL for a closed trade. The USD figure
// is unleveraged notional times price-change percent; the percent
// figure is leveraged. The two must not be conflated.
func ComputePnl(direction string, entryPrice, exitPrice, quantity float64, leverage int) (pnlUsd, pnlPercent float64) {
	if entryPrice <= 0 || quantity <= 0 {
		return 0, 0
	}
	if leverage < 1 {
		leverage = 1
	}

	entry := decimal.NewFromFloat(entryPrice)
	exit := decimal.NewFromFloat(exitPrice)

	change := exit.Sub(entry).Div(entry)
	if direction == model.DirectionShort {
		change = change.Neg()
	}

	notional := entry.Mul(decimal.NewFromFloat(quantity))

	pnlUsd, _ = change.Mul(notional).Float64()
	pnlPercent, _ = change.
		Mul(decimal.NewFromInt(int64(leverage))).
		Mul(decimal.NewFromInt(100)).
		Float64()

	return pnlUsd, pnlPercent
}
