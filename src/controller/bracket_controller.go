package controller

import (
	"context"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"perpexecutor/src/connectors"
	"perpexecutor/src/externalmodel"
	"perpexecutor/src/model"
	"perpexecutor/src/pricing"
	"perpexecutor/src/repository"
)

type tradeRepository interface {
	Create(ctx context.Context, trade *model.Trade) error
	Save(ctx context.Context, trade *model.Trade) error
	UpdateStatus(ctx context.Context, id uint, status, note string) error
	CountActiveByAgent(ctx context.Context, agentID uint) (int64, error)
	MarkClosed(ctx context.Context, trade *model.Trade) error
}

// BracketController turns an approved signal into a bracket trade:
// entry order plus paired take-profit and stop-loss legs.
type BracketController struct {
	trades     tradeRepository
	exceptions *repository.ExceptionRepository
}

func NewBracketController() *BracketController {
	return &BracketController{
		trades:     repository.NewTradeRepository(),
		exceptions: repository.NewExceptionRepository(),
	}
}

// entrySide maps a trade direction to the exchange order side.
func entrySide(direction string) string {
	if direction == model.DirectionShort {
		return "Sell"
	}
	return "Buy"
}

// exitSide is the side that reduces a position in the given direction.
func exitSide(direction string) string {
	if direction == model.DirectionShort {
		return "Buy"
	}
	return "Sell"
}

// validateSignal enforces signal coherence before anything touches the
// exchange. Rejections wrap ErrValidation so callers can classify them.
func validateSignal(signal externalmodel.Signal) error {
	if signal.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", connectors.ErrValidation)
	}
	if signal.Direction != model.DirectionLong && signal.Direction != model.DirectionShort {
		return fmt.Errorf("%w: unknown direction %q", connectors.ErrValidation, signal.Direction)
	}
	if signal.EntryPrice <= 0 || signal.TargetPrice <= 0 || signal.StopLoss <= 0 {
		return fmt.Errorf("%w: prices must be positive", connectors.ErrValidation)
	}
	if signal.OrderType != externalmodel.OrderTypeMarket && signal.OrderType != externalmodel.OrderTypeLimit {
		return fmt.Errorf("%w: unknown order type %q", connectors.ErrValidation, signal.OrderType)
	}

	// The stop and target must sit on the correct sides of the entry,
	// otherwise the bracket is incoherent and would fill instantly.
	if signal.Direction == model.DirectionLong {
		if signal.StopLoss >= signal.EntryPrice {
			return fmt.Errorf("%w: long stop %.8f not below entry %.8f",
				connectors.ErrValidation, signal.StopLoss, signal.EntryPrice)
		}
		if signal.TargetPrice <= signal.EntryPrice {
			return fmt.Errorf("%w: long target %.8f not above entry %.8f",
				connectors.ErrValidation, signal.TargetPrice, signal.EntryPrice)
		}
	} else {
		if signal.StopLoss <= signal.EntryPrice {
			return fmt.Errorf("%w: short stop %.8f not above entry %.8f",
				connectors.ErrValidation, signal.StopLoss, signal.EntryPrice)
		}
		if signal.TargetPrice >= signal.EntryPrice {
			return fmt.Errorf("%w: short target %.8f not below entry %.8f",
				connectors.ErrValidation, signal.TargetPrice, signal.EntryPrice)
		}
	}

	return nil
}

// OpenBracket runs the full entry flow for one agent and one signal.
// On success the returned trade is persisted as open (entry filled,
// bracket legs placed) or pending (resting limit entry, brackets
// deferred until the reconciler sees the fill).
func (c *BracketController) OpenBracket(
	ctx context.Context,
	gateway connectors.ExchangeGateway,
	agent *model.Agent,
	signal externalmodel.Signal,
) (*model.Trade, error) {

	if err := validateSignal(signal); err != nil {
		return nil, err
	}

	symbol := NormalizeToUSDT(signal.Symbol)

	logger.WithFields(map[string]interface{}{
		"agent_id":  agent.ID,
		"symbol":    symbol,
		"direction": signal.Direction,
		"entry":     signal.EntryPrice,
		"target":    signal.TargetPrice,
		"stop":      signal.StopLoss,
		"type":      signal.OrderType,
	}).Info("Opening bracket trade")

	active, err := c.trades.CountActiveByAgent(ctx, agent.ID)
	if err != nil {
		return nil, err
	}
	if active >= int64(agent.MaxPositions) {
		return nil, fmt.Errorf("%w: agent %d at position cap (%d active)",
			connectors.ErrValidation, agent.ID, active)
	}

	instrument, err := gateway.GetInstrument(ctx, symbol)
	if err != nil {
		Capture(ctx, c.exceptions, "perp_executor", "bracket_controller", "GetInstrument", "error", err,
			map[string]interface{}{"agent_id": agent.ID, "symbol": symbol})
		return nil, err
	}

	balance, err := gateway.GetAvailableBalance(ctx, symbol)
	if err != nil {
		Capture(ctx, c.exceptions, "perp_executor", "bracket_controller", "GetAvailableBalance", "error", err,
			map[string]interface{}{"agent_id": agent.ID, "symbol": symbol})
		return nil, err
	}

	leverage := pricing.SelectLeverage(agent.MaxLeverage, signal.EntryPrice, signal.StopLoss, instrument.MaxLeverage)
	applied, err := gateway.SetLeverage(ctx, symbol, leverage)
	if err != nil {
		Capture(ctx, c.exceptions, "perp_executor", "bracket_controller", "SetLeverage", "error", err,
			map[string]interface{}{"agent_id": agent.ID, "symbol": symbol, "leverage": leverage})
		return nil, err
	}

	quantity, err := pricing.ComputeQuantity(balance, agent.RiskPercent, signal.EntryPrice, signal.StopLoss, instrument.QtyStepSize)
	if err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: risk sizing produced zero quantity", connectors.ErrValidation)
	}

	if err := pricing.CheckPreconditions(quantity, signal.EntryPrice, applied, instrument.MinNotional, balance); err != nil {
		logger.WithFields(map[string]interface{}{
			"agent_id": agent.ID,
			"symbol":   symbol,
			"qty":      quantity,
		}).WithError(err).Warn("Order preconditions rejected signal")
		return nil, err
	}

	trade := &model.Trade{
		AgentID:     agent.ID,
		Symbol:      symbol,
		Direction:   signal.Direction,
		EntryPrice:  signal.EntryPrice,
		Quantity:    quantity,
		Leverage:    applied,
		RiskPercent: agent.RiskPercent,
		Status:      model.TradeStatusPending,
	}
	if err := c.trades.Create(ctx, trade); err != nil {
		return nil, err
	}

	req := connectors.OrderRequest{
		Symbol:   symbol,
		Side:     entrySide(signal.Direction),
		Quantity: quantity,
	}
	if signal.OrderType == externalmodel.OrderTypeLimit {
		price := signal.EntryPrice
		req.Price = &price
		req.TimeInForce = "GoodTillCancel"
	}

	result, err := gateway.PlaceOrder(ctx, req)
	if err != nil {
		Capture(ctx, c.exceptions, "perp_executor", "bracket_controller", "PlaceOrder", "error", err,
			map[string]interface{}{"agent_id": agent.ID, "symbol": symbol, "qty": quantity})
		_ = c.trades.UpdateStatus(ctx, trade.ID, model.TradeStatusError, "entry order rejected: "+err.Error())
		return nil, err
	}

	trade.EntryOrderID = result.OrderID

	// A market-style IOC entry can fill partially, with the remainder
	// cancelled by the venue. The position is whatever filled, so the
	// record and the brackets must be sized to that, not to the request.
	iocPartial := signal.OrderType == externalmodel.OrderTypeMarket && result.FilledQty > 0

	if result.Filled() || iocPartial {
		trade.Status = model.TradeStatusOpen
		trade.OpenedAt = time.Now().UTC()
		if result.AvgPrice > 0 {
			trade.EntryPrice = result.AvgPrice
		}
		if result.FilledQty > 0 && result.FilledQty < trade.Quantity {
			logger.WithFields(map[string]interface{}{
				"trade_id":  trade.ID,
				"requested": trade.Quantity,
				"filled":    result.FilledQty,
			}).Warn("Entry filled partially, sizing trade to the fill")
			trade.StatusNote = appendNote(trade.StatusNote,
				fmt.Sprintf("partial entry fill: %v of %v", result.FilledQty, trade.Quantity))
			trade.Quantity = result.FilledQty
		}

		c.PlaceBrackets(ctx, gateway, trade, signal.TargetPrice, signal.StopLoss)
	} else {
		// Resting limit entry. Brackets are deferred until the
		// reconciler observes the fill.
		target, stop := signal.TargetPrice, signal.StopLoss
		trade.PendingTpPrice = &target
		trade.PendingSlPrice = &stop
	}

	if err := c.trades.Save(ctx, trade); err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"trade_id": trade.ID,
		"agent_id": agent.ID,
		"symbol":   symbol,
		"status":   trade.Status,
		"qty":      trade.Quantity,
		"leverage": trade.Leverage,
	}).Info("Bracket trade placed")

	return trade, nil
}

// PlaceBrackets places the take-profit limit and stop-loss trigger for
// an already-filled entry. Leg failures are recorded but never abort
// the trade: a naked position with a note beats a failed open that
// leaves the position invisible.
func (c *BracketController) PlaceBrackets(
	ctx context.Context,
	gateway connectors.ExchangeGateway,
	trade *model.Trade,
	targetPrice, stopPrice float64,
) {
	side := exitSide(trade.Direction)

	tpPrice := targetPrice
	tpResult, err := gateway.PlaceOrder(ctx, connectors.OrderRequest{
		Symbol:      trade.Symbol,
		Side:        side,
		Quantity:    trade.Quantity,
		Price:       &tpPrice,
		ReduceOnly:  true,
		TimeInForce: "GoodTillCancel",
	})
	if err != nil {
		Capture(ctx, c.exceptions, "perp_executor", "bracket_controller", "PlaceBrackets.tp", "error", err,
			map[string]interface{}{"trade_id": trade.ID, "symbol": trade.Symbol, "target": targetPrice})
		trade.StatusNote = appendNote(trade.StatusNote, "tp leg failed: "+err.Error())
	} else {
		trade.TpOrderID = tpResult.OrderID
	}

	slResult, err := gateway.PlaceTriggerOrder(ctx, connectors.TriggerOrderRequest{
		Symbol:       trade.Symbol,
		Side:         side,
		Quantity:     trade.Quantity,
		TriggerPrice: stopPrice,
		ReduceOnly:   true,
	})
	if err != nil {
		Capture(ctx, c.exceptions, "perp_executor", "bracket_controller", "PlaceBrackets.sl", "error", err,
			map[string]interface{}{"trade_id": trade.ID, "symbol": trade.Symbol, "stop": stopPrice})
		trade.StatusNote = appendNote(trade.StatusNote, "sl leg failed: "+err.Error())
	} else {
		trade.SlOrderID = slResult.OrderID
	}

	trade.PendingTpPrice = nil
	trade.PendingSlPrice = nil
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "; " + note
}

// CancelBracketLegs cancels whatever TP/SL orders are still resting
// for the trade. Orders already gone from the venue are not errors.
func (c *BracketController) CancelBracketLegs(ctx context.Context, gateway connectors.ExchangeGateway, trade *model.Trade) {
	for _, orderID := range []string{trade.TpOrderID, trade.SlOrderID} {
		if orderID == "" {
			continue
		}
		if err := gateway.CancelOrder(ctx, trade.Symbol, orderID); err != nil {
			logger.WithFields(map[string]interface{}{
				"trade_id": trade.ID,
				"order_id": orderID,
			}).WithError(err).Warn("Failed to cancel bracket leg")
		}
	}
}

// ResolveExitPrice determines a closed trade's exit price with a
// degrading chain: actual closing fill, then current mark price, then
// the recorded entry price. The source tag makes the degradation
// auditable; a zero-PnL close from the entry fallback is honest, not
// a bug to repair.
func ResolveExitPrice(ctx context.Context, gateway connectors.ExchangeGateway, trade *model.Trade) (float64, string) {
	since := trade.OpenedAt
	if since.IsZero() {
		since = trade.CreatedAt
	}

	fills, err := gateway.GetFills(ctx, trade.Symbol, since)
	if err == nil {
		closing := exitSide(trade.Direction)
		for i := len(fills) - 1; i >= 0; i-- {
			if fills[i].Side == closing && fills[i].Price > 0 {
				return fills[i].Price, model.ExitSourceFill
			}
		}
	} else {
		logger.WithFields(map[string]interface{}{
			"trade_id": trade.ID,
			"symbol":   trade.Symbol,
		}).WithError(err).Warn("Fill lookup failed, degrading to mark price")
	}

	if mark, err := gateway.GetPrice(ctx, trade.Symbol); err == nil && mark > 0 {
		return mark, model.ExitSourceMarkPrice
	}

	return trade.EntryPrice, model.ExitSourceEntryPrice
}

// CloseTrade force-closes an open trade at market: cancel the bracket
// legs, close the position, then finalize the record with whatever
// exit price can still be resolved.
func (c *BracketController) CloseTrade(
	ctx context.Context,
	gateway connectors.ExchangeGateway,
	trade *model.Trade,
	reason string,
) error {

	if trade.IsTerminal() {
		return fmt.Errorf("%w: trade %d already %s", connectors.ErrValidation, trade.ID, trade.Status)
	}

	logger.WithFields(map[string]interface{}{
		"trade_id": trade.ID,
		"symbol":   trade.Symbol,
		"reason":   reason,
	}).Info("Force-closing trade")

	c.CancelBracketLegs(ctx, gateway, trade)

	if err := gateway.ClosePosition(ctx, trade.Symbol); err != nil {
		Capture(ctx, c.exceptions, "perp_executor", "bracket_controller", "ClosePosition", "error", err,
			map[string]interface{}{"trade_id": trade.ID, "symbol": trade.Symbol})
		return err
	}

	exitPrice, source := ResolveExitPrice(ctx, gateway, trade)
	pnlUsd, pnlPct := pricing.ComputePnl(trade.Direction, trade.EntryPrice, exitPrice, trade.Quantity, trade.Leverage)

	trade.ExitPrice = &exitPrice
	trade.ExitSource = source
	trade.PnlUsd = pnlUsd
	trade.PnlPercent = pnlPct
	trade.Status = model.TradeStatusClosed
	trade.StatusNote = appendNote(trade.StatusNote, reason)

	return c.trades.MarkClosed(ctx, trade)
}
