package reconciler

import (
	"context"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"perpexecutor/src/connectors"
	"perpexecutor/src/controller"
	"perpexecutor/src/model"
	"perpexecutor/src/repository"
)

type agentStore interface {
	FindActive(ctx context.Context) ([]model.Agent, error)
}

// StreamListener consumes each active agent's account stream and reacts
// to entry fills the moment they arrive, instead of waiting for the
// next sweep. The sweep remains authoritative: anything the stream
// misses (disconnects, exhausted reconnect budgets) is picked up there.
type StreamListener struct {
	cfg        Config
	agents     agentStore
	trades     tradeStore
	gateways   GatewayProvider
	brackets   bracketPlacer
	exceptions *repository.ExceptionRepository

	mu      sync.Mutex
	running map[uint]struct{}
}

func NewStreamListener(gateways GatewayProvider) *StreamListener {
	return &StreamListener{
		cfg:        GetConfig(),
		agents:     repository.NewAgentRepository(),
		trades:     repository.NewTradeRepository(),
		gateways:   gateways,
		brackets:   controller.NewBracketController(),
		exceptions: repository.NewExceptionRepository(),
		running:    make(map[uint]struct{}),
	}
}

// Run starts one stream per active agent and rescans the agent set on
// every refresh tick, picking up newly activated agents and restarting
// streams whose reconnect budget ran out.
func (l *StreamListener) Run(ctx context.Context) {
	logger.WithField("refresh", l.cfg.StreamRefresh).Info("Stream listener started")

	ticker := time.NewTicker(l.cfg.StreamRefresh)
	defer ticker.Stop()

	l.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Stream listener stopped")
			return
		case <-ticker.C:
			l.refresh(ctx)
		}
	}
}

func (l *StreamListener) refresh(ctx context.Context) {
	agents, err := l.agents.FindActive(ctx)
	if err != nil {
		logger.WithError(err).Error("Failed to load active agents for streaming")
		return
	}

	for _, agent := range agents {
		l.mu.Lock()
		if _, ok := l.running[agent.ID]; ok {
			l.mu.Unlock()
			continue
		}
		l.running[agent.ID] = struct{}{}
		l.mu.Unlock()

		go l.listen(ctx, agent.ID)
	}
}

// listen pumps one agent's stream until the channel closes, then
// deregisters so the next refresh can start it again.
func (l *StreamListener) listen(ctx context.Context, agentID uint) {
	defer func() {
		l.mu.Lock()
		delete(l.running, agentID)
		l.mu.Unlock()
	}()

	gateway, err := l.gateways.GatewayFor(ctx, agentID)
	if err != nil {
		logger.WithField("agent_id", agentID).WithError(err).
			Error("Failed to resolve gateway for streaming")
		return
	}

	logger.WithField("agent_id", agentID).Info("Account stream listener attached")

	for event := range gateway.StreamUpdates(ctx) {
		switch {
		case event.Order != nil && event.Order.Status == connectors.OrderStatusFilled:
			l.handleFill(ctx, gateway, agentID, event.Order)
		case event.Account != nil:
			logger.WithFields(map[string]interface{}{
				"agent_id": agentID,
				"currency": event.Account.Currency,
				"balance":  event.Account.Balance,
			}).Debug("Account balance update")
		}
	}

	logger.WithField("agent_id", agentID).Warn("Account stream ended, awaiting refresh")
}

// handleFill promotes a pending trade whose entry order just filled.
// The same promotion runs in the sweep; doing it here only shortens the
// window during which a filled entry has no bracket legs.
func (l *StreamListener) handleFill(ctx context.Context, gateway connectors.ExchangeGateway, agentID uint, update *connectors.OrderUpdate) {
	pending, err := l.trades.FindByStatus(ctx, model.TradeStatusPending)
	if err != nil {
		logger.WithError(err).Error("Failed to load pending trades for stream fill")
		return
	}

	for i := range pending {
		trade := &pending[i]
		if trade.AgentID != agentID || trade.EntryOrderID == "" || trade.EntryOrderID != update.OrderID {
			continue
		}

		trade.Status = model.TradeStatusOpen
		trade.OpenedAt = time.Now().UTC()
		if update.AvgPrice > 0 {
			trade.EntryPrice = update.AvgPrice
		}
		if update.FilledQty > 0 && update.FilledQty < trade.Quantity {
			trade.Quantity = update.FilledQty
		}

		if trade.PendingTpPrice != nil && trade.PendingSlPrice != nil {
			l.brackets.PlaceBrackets(ctx, gateway, trade, *trade.PendingTpPrice, *trade.PendingSlPrice)
		}

		if err := l.trades.Save(ctx, trade); err != nil {
			controller.Capture(ctx, l.exceptions, "perp_executor", "stream_listener", "handleFill.Save", "error", err,
				map[string]interface{}{"trade_id": trade.ID, "symbol": trade.Symbol})
			continue
		}

		logger.WithFields(map[string]interface{}{
			"trade_id": trade.ID,
			"symbol":   trade.Symbol,
			"entry":    trade.EntryPrice,
		}).Info("Entry fill seen on stream, trade promoted to open")
	}
}
