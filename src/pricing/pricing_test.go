package pricing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpexecutor/src/connectors"
	"perpexecutor/src/model"
)

func TestComputeQuantity(t *testing.T) {
	// 1% of 10000 = 100 USDT at risk; stop distance 5 => 20 contracts.
	qty, err := ComputeQuantity(10000, 1, 100, 95, 0.001)
	require.NoError(t, err)
	assert.Equal(t, 20.0, qty)

	// Short side: distance is absolute.
	qty, err = ComputeQuantity(10000, 1, 95, 100, 0.001)
	require.NoError(t, err)
	assert.Equal(t, 20.0, qty)

	// Step flooring, never rounding up.
	qty, err = ComputeQuantity(10000, 1, 100, 97, 1)
	require.NoError(t, err)
	assert.Equal(t, 33.0, qty)
}

func TestComputeQuantityRejectsBadInputs(t *testing.T) {
	cases := []struct {
		name                                string
		equity, risk, entryPrice, stopPrice float64
	}{
		{"zero equity", 0, 1, 100, 95},
		{"negative risk", 10000, -1, 100, 95},
		{"zero entry", 10000, 1, 0, 95},
		{"stop equals entry", 10000, 1, 100, 100},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ComputeQuantity(tc.equity, tc.risk, tc.entryPrice, tc.stopPrice, 0.001)
			assert.True(t, errors.Is(err, connectors.ErrValidation), "got: %v", err)
		})
	}
}

func TestSelectLeverage(t *testing.T) {
	// Stop distance 5% => risk cap floor(100/5) = 20.
	assert.Equal(t, 20, SelectLeverage(50, 100, 95, 100))

	// Agent max binds when tighter than the risk cap.
	assert.Equal(t, 10, SelectLeverage(10, 100, 95, 100))

	// Instrument max binds last.
	assert.Equal(t, 15, SelectLeverage(50, 100, 95, 15))

	// Very wide stop still yields at least 1x.
	assert.Equal(t, 1, SelectLeverage(50, 100, 1, 100))

	// No usable prices: agent max stands.
	assert.Equal(t, 50, SelectLeverage(50, 0, 0, 100))
}

func TestCheckPreconditions(t *testing.T) {
	// 20 contracts at 100 with 20x needs 100 USDT margin.
	assert.NoError(t, CheckPreconditions(20, 100, 20, 1, 150))

	err := CheckPreconditions(0.005, 100, 20, 1, 150)
	assert.True(t, errors.Is(err, connectors.ErrNotionalTooSmall), "got: %v", err)

	err = CheckPreconditions(20, 100, 20, 1, 50)
	assert.True(t, errors.Is(err, connectors.ErrInsufficientMargin), "got: %v", err)

	// Rejections are hard stops, the size is never clamped down.
	err = CheckPreconditions(20, 100, 1, 1, 1999)
	assert.True(t, errors.Is(err, connectors.ErrInsufficientMargin), "got: %v", err)
}

func TestComputePnl(t *testing.T) {
	// Long 20 @ 100 -> 105: +5% on 2000 notional = 100 USDT, 25% at 5x.
	pnlUsd, pnlPct := ComputePnl(model.DirectionLong, 100, 105, 20, 5)
	assert.InDelta(t, 100.0, pnlUsd, 1e-9)
	assert.InDelta(t, 25.0, pnlPct, 1e-9)

	// Same move against a short is the mirror image.
	pnlUsd, pnlPct = ComputePnl(model.DirectionShort, 100, 105, 20, 5)
	assert.InDelta(t, -100.0, pnlUsd, 1e-9)
	assert.InDelta(t, -25.0, pnlPct, 1e-9)

	// USD figure is unleveraged: leverage only scales the percent.
	usdAt1x, pctAt1x := ComputePnl(model.DirectionLong, 100, 105, 20, 1)
	usdAt10x, pctAt10x := ComputePnl(model.DirectionLong, 100, 105, 20, 10)
	assert.InDelta(t, usdAt1x, usdAt10x, 1e-9)
	assert.InDelta(t, pctAt1x*10, pctAt10x, 1e-9)

	// Degenerate inputs produce zero, not NaN.
	pnlUsd, pnlPct = ComputePnl(model.DirectionLong, 0, 105, 20, 5)
	assert.Zero(t, pnlUsd)
	assert.Zero(t, pnlPct)
}
