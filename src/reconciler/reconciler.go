package reconciler

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"

	"perpexecutor/src/connectors"
	"perpexecutor/src/controller"
	"perpexecutor/src/model"
	"perpexecutor/src/pricing"
	"perpexecutor/src/repository"
)

type tradeStore interface {
	FindByStatus(ctx context.Context, status string) ([]model.Trade, error)
	Save(ctx context.Context, trade *model.Trade) error
	MarkClosed(ctx context.Context, trade *model.Trade) error
	UpdateStatus(ctx context.Context, id uint, status, note string) error
	FindZeroPnlClosed(ctx context.Context, limit int) ([]model.Trade, error)
}

// GatewayProvider resolves the exchange gateway bound to one agent's
// credentials.
type GatewayProvider interface {
	GatewayFor(ctx context.Context, agentID uint) (connectors.ExchangeGateway, error)
}

type bracketPlacer interface {
	PlaceBrackets(ctx context.Context, gateway connectors.ExchangeGateway, trade *model.Trade, targetPrice, stopPrice float64)
	CancelBracketLegs(ctx context.Context, gateway connectors.ExchangeGateway, trade *model.Trade)
}

// Reconciler periodically re-derives trade state from the exchange:
// resting entries that filled or vanished, open positions that closed
// behind our back, and closed trades whose recorded PnL is suspect.
// Every step is idempotent; a crashed sweep is simply rerun.
type Reconciler struct {
	cfg        Config
	trades     tradeStore
	gateways   GatewayProvider
	brackets   bracketPlacer
	exceptions *repository.ExceptionRepository
}

func New(gateways GatewayProvider) *Reconciler {
	return &Reconciler{
		cfg:        GetConfig(),
		trades:     repository.NewTradeRepository(),
		gateways:   gateways,
		brackets:   controller.NewBracketController(),
		exceptions: repository.NewExceptionRepository(),
	}
}

// Run sweeps immediately and then on every interval tick until the
// context is canceled.
func (r *Reconciler) Run(ctx context.Context) {
	logger.WithField("interval", r.cfg.Interval).Info("Reconciler started")

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Reconciler stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one full reconciliation pass. Failures on one trade never
// block the rest of the sweep.
func (r *Reconciler) Sweep(ctx context.Context) {
	started := time.Now()

	r.resolvePendingEntries(ctx)
	r.reconcileOpenTrades(ctx)
	r.repairZeroPnl(ctx)

	logger.WithField("elapsed", time.Since(started)).Debug("Reconciliation sweep finished")
}

// resolvePendingEntries settles trades whose limit entry was still
// resting at placement time: either the entry filled (promote to open
// and place the deferred brackets) or it is gone from the venue
// without a fill (mark error).
func (r *Reconciler) resolvePendingEntries(ctx context.Context) {
	pending, err := r.trades.FindByStatus(ctx, model.TradeStatusPending)
	if err != nil {
		logger.WithError(err).Error("Failed to load pending trades")
		return
	}

	for i := range pending {
		trade := &pending[i]

		gateway, err := r.gateways.GatewayFor(ctx, trade.AgentID)
		if err != nil {
			r.capture(ctx, "resolvePendingEntries.GatewayFor", err, trade)
			continue
		}

		open, err := gateway.GetOpenOrders(ctx, trade.Symbol)
		if err != nil {
			r.capture(ctx, "resolvePendingEntries.GetOpenOrders", err, trade)
			continue
		}

		if containsOrder(open, trade.EntryOrderID) {
			// Entry still resting, nothing to do this sweep.
			continue
		}

		fill, filledQty := r.findEntryFill(ctx, gateway, trade)
		if fill == nil {
			logger.WithFields(map[string]interface{}{
				"trade_id": trade.ID,
				"symbol":   trade.Symbol,
			}).Warn("Entry order gone without fill, marking trade as error")

			if err := r.trades.UpdateStatus(ctx, trade.ID, model.TradeStatusError, "entry order cancelled without fill"); err != nil {
				r.capture(ctx, "resolvePendingEntries.UpdateStatus", err, trade)
			}
			continue
		}

		trade.Status = model.TradeStatusOpen
		trade.OpenedAt = time.Now().UTC()
		if fill.Price > 0 {
			trade.EntryPrice = fill.Price
		}
		trade.EntryOrderID = fill.OrderID
		if filledQty > 0 && filledQty < trade.Quantity {
			// The entry left the book after a partial execution; the
			// position is only the filled part.
			logger.WithFields(map[string]interface{}{
				"trade_id":  trade.ID,
				"requested": trade.Quantity,
				"filled":    filledQty,
			}).Warn("Entry filled partially before leaving the book, sizing trade to the fills")
			trade.Quantity = filledQty
		}

		if trade.PendingTpPrice != nil && trade.PendingSlPrice != nil {
			r.brackets.PlaceBrackets(ctx, gateway, trade, *trade.PendingTpPrice, *trade.PendingSlPrice)
		}

		if err := r.trades.Save(ctx, trade); err != nil {
			r.capture(ctx, "resolvePendingEntries.Save", err, trade)
			continue
		}

		logger.WithFields(map[string]interface{}{
			"trade_id": trade.ID,
			"symbol":   trade.Symbol,
			"entry":    trade.EntryPrice,
		}).Info("Resting entry filled, trade promoted to open")
	}
}

// findEntryFill returns the newest fill matching the trade's entry
// order plus the total quantity executed across all matching fills.
func (r *Reconciler) findEntryFill(ctx context.Context, gateway connectors.ExchangeGateway, trade *model.Trade) (*connectors.Fill, float64) {
	since := trade.CreatedAt
	if since.IsZero() {
		since = time.Now().Add(-24 * time.Hour)
	}

	fills, err := gateway.GetFills(ctx, trade.Symbol, since)
	if err != nil {
		r.capture(ctx, "findEntryFill.GetFills", err, trade)
		return nil, 0
	}

	side := "Buy"
	if trade.Direction == model.DirectionShort {
		side = "Sell"
	}

	var newest *connectors.Fill
	var total float64
	for i := range fills {
		if fills[i].Side != side {
			continue
		}
		if trade.EntryOrderID != "" && fills[i].OrderID != trade.EntryOrderID {
			continue
		}
		newest = &fills[i]
		total += fills[i].Quantity
	}
	return newest, total
}

// reconcileOpenTrades detects open trades whose position no longer
// exists on the venue: a bracket leg fired or the position was closed
// externally. The trade is finalized with the exit-price degradation
// chain and leftover legs are cancelled.
func (r *Reconciler) reconcileOpenTrades(ctx context.Context) {
	open, err := r.trades.FindByStatus(ctx, model.TradeStatusOpen)
	if err != nil {
		logger.WithError(err).Error("Failed to load open trades")
		return
	}

	for i := range open {
		trade := &open[i]

		gateway, err := r.gateways.GatewayFor(ctx, trade.AgentID)
		if err != nil {
			r.capture(ctx, "reconcileOpenTrades.GatewayFor", err, trade)
			continue
		}

		position, err := gateway.GetPosition(ctx, trade.Symbol)
		if err != nil {
			r.capture(ctx, "reconcileOpenTrades.GetPosition", err, trade)
			continue
		}
		if position != nil && position.Size != 0 {
			// Still holding, nothing to reconcile.
			continue
		}

		exitPrice, source := controller.ResolveExitPrice(ctx, gateway, trade)
		pnlUsd, pnlPct := pricing.ComputePnl(trade.Direction, trade.EntryPrice, exitPrice, trade.Quantity, trade.Leverage)

		trade.ExitPrice = &exitPrice
		trade.ExitSource = source
		trade.PnlUsd = pnlUsd
		trade.PnlPercent = pnlPct
		trade.Status = classifyClose(pnlPct)

		r.brackets.CancelBracketLegs(ctx, gateway, trade)

		if err := r.trades.MarkClosed(ctx, trade); err != nil {
			r.capture(ctx, "reconcileOpenTrades.MarkClosed", err, trade)
			continue
		}

		logger.WithFields(map[string]interface{}{
			"trade_id":    trade.ID,
			"symbol":      trade.Symbol,
			"status":      trade.Status,
			"exit_source": source,
			"pnl_usd":     pnlUsd,
			"pnl_pct":     pnlPct,
		}).Info("Position gone from venue, trade reconciled closed")
	}
}

// classifyClose maps the leveraged PnL sign to the closing status. A
// flat close is neither a win nor a stop.
func classifyClose(pnlPercent float64) string {
	switch {
	case pnlPercent > 0:
		return model.TradeStatusTpHit
	case pnlPercent < 0:
		return model.TradeStatusSlHit
	default:
		return model.TradeStatusClosed
	}
}

// repairZeroPnl re-audits fill-sourced closed trades recorded with
// zero PnL. If the fill history now yields a real exit price, the
// record is corrected. Degraded closes are left alone.
func (r *Reconciler) repairZeroPnl(ctx context.Context) {
	trades, err := r.trades.FindZeroPnlClosed(ctx, r.cfg.RepairBatch)
	if err != nil {
		logger.WithError(err).Error("Failed to load zero-PnL trades")
		return
	}

	for i := range trades {
		trade := &trades[i]

		gateway, err := r.gateways.GatewayFor(ctx, trade.AgentID)
		if err != nil {
			r.capture(ctx, "repairZeroPnl.GatewayFor", err, trade)
			continue
		}

		exitPrice, source := controller.ResolveExitPrice(ctx, gateway, trade)
		if source != model.ExitSourceFill || exitPrice <= 0 {
			continue
		}

		pnlUsd, pnlPct := pricing.ComputePnl(trade.Direction, trade.EntryPrice, exitPrice, trade.Quantity, trade.Leverage)
		if pnlUsd == trade.PnlUsd {
			continue
		}

		trade.ExitPrice = &exitPrice
		trade.PnlUsd = pnlUsd
		trade.PnlPercent = pnlPct

		if err := r.trades.Save(ctx, trade); err != nil {
			r.capture(ctx, "repairZeroPnl.Save", err, trade)
			continue
		}

		logger.WithFields(map[string]interface{}{
			"trade_id": trade.ID,
			"pnl_usd":  pnlUsd,
			"pnl_pct":  pnlPct,
		}).Info("Repaired zero-PnL trade from fill history")
	}
}

func containsOrder(orders []connectors.OpenOrder, orderID string) bool {
	if orderID == "" {
		return false
	}
	for _, order := range orders {
		if order.OrderID == orderID {
			return true
		}
	}
	return false
}

func (r *Reconciler) capture(ctx context.Context, method string, err error, trade *model.Trade) {
	logger.WithFields(map[string]interface{}{
		"trade_id": trade.ID,
		"method":   method,
	}).WithError(err).Error("Reconciler step failed")

	controller.Capture(ctx, r.exceptions, "perp_executor", "reconciler", method, "error", err,
		map[string]interface{}{"trade_id": trade.ID, "symbol": trade.Symbol})
}
