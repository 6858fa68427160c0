package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"perpexecutor/src/connectors"
	"perpexecutor/src/externalmodel"
	"perpexecutor/src/model"
)

type fakeTradeRepo struct {
	nextID  uint
	active  int64
	created []*model.Trade
	saved   []*model.Trade
	updates []string
	closed  []*model.Trade
}

func (r *fakeTradeRepo) Create(_ context.Context, trade *model.Trade) error {
	r.nextID++
	trade.ID = r.nextID
	r.created = append(r.created, trade)
	return nil
}

func (r *fakeTradeRepo) Save(_ context.Context, trade *model.Trade) error {
	r.saved = append(r.saved, trade)
	return nil
}

func (r *fakeTradeRepo) UpdateStatus(_ context.Context, _ uint, status, note string) error {
	r.updates = append(r.updates, status+": "+note)
	return nil
}

func (r *fakeTradeRepo) CountActiveByAgent(_ context.Context, _ uint) (int64, error) {
	return r.active, nil
}

func (r *fakeTradeRepo) MarkClosed(_ context.Context, trade *model.Trade) error {
	r.closed = append(r.closed, trade)
	return nil
}

type fakeGateway struct {
	instrument *connectors.Instrument
	balance    float64
	price      float64
	priceErr   error

	leverageSet int

	entryResult *connectors.OrderResult
	placeErr    error
	triggerErr  error
	orders      []connectors.OrderRequest
	triggers    []connectors.TriggerOrderRequest
	canceled    []string
	closedSyms  []string

	fills    []connectors.Fill
	fillsErr error
}

func (g *fakeGateway) GetInstrument(_ context.Context, _ string) (*connectors.Instrument, error) {
	return g.instrument, nil
}

func (g *fakeGateway) GetPrice(_ context.Context, _ string) (float64, error) {
	return g.price, g.priceErr
}

func (g *fakeGateway) GetAvailableBalance(_ context.Context, _ string) (float64, error) {
	return g.balance, nil
}

func (g *fakeGateway) SetLeverage(_ context.Context, _ string, requested int) (int, error) {
	g.leverageSet = requested
	return requested, nil
}

func (g *fakeGateway) PlaceOrder(_ context.Context, req connectors.OrderRequest) (*connectors.OrderResult, error) {
	if g.placeErr != nil {
		return nil, g.placeErr
	}
	g.orders = append(g.orders, req)
	if len(g.orders) == 1 && g.entryResult != nil {
		return g.entryResult, nil
	}
	return &connectors.OrderResult{OrderID: "ord-" + req.Side, Status: connectors.OrderStatusNew}, nil
}

func (g *fakeGateway) PlaceTriggerOrder(_ context.Context, req connectors.TriggerOrderRequest) (*connectors.OrderResult, error) {
	if g.triggerErr != nil {
		return nil, g.triggerErr
	}
	g.triggers = append(g.triggers, req)
	return &connectors.OrderResult{OrderID: "trig-1", Status: connectors.OrderStatusNew}, nil
}

func (g *fakeGateway) CancelOrder(_ context.Context, _ string, orderID string) error {
	g.canceled = append(g.canceled, orderID)
	return nil
}

func (g *fakeGateway) GetOpenOrders(_ context.Context, _ string) ([]connectors.OpenOrder, error) {
	return nil, nil
}

func (g *fakeGateway) GetFills(_ context.Context, _ string, _ time.Time) ([]connectors.Fill, error) {
	return g.fills, g.fillsErr
}

func (g *fakeGateway) GetPosition(_ context.Context, _ string) (*connectors.Position, error) {
	return nil, nil
}

func (g *fakeGateway) GetFormattedPositions(_ context.Context) ([]connectors.PositionView, error) {
	return nil, nil
}

func (g *fakeGateway) ClosePosition(_ context.Context, symbol string) error {
	g.closedSyms = append(g.closedSyms, symbol)
	return nil
}

func (g *fakeGateway) CloseAllPositions(_ context.Context) error {
	return nil
}

func (g *fakeGateway) StreamUpdates(_ context.Context) <-chan connectors.StreamEvent {
	ch := make(chan connectors.StreamEvent)
	close(ch)
	return ch
}

func testAgent() *model.Agent {
	return &model.Agent{
		ID:           7,
		Name:         "alpha",
		RiskPercent:  1.0,
		MaxPositions: 3,
		MaxLeverage:  20,
		Active:       true,
	}
}

func testInstrument() *connectors.Instrument {
	return &connectors.Instrument{
		Symbol:      "BTCUSDT",
		QtyStepSize: 0.001,
		TickSize:    0.1,
		MaxLeverage: 50,
		MinNotional: 10,
	}
}

func longSignal(orderType string) externalmodel.Signal {
	return externalmodel.Signal{
		Symbol:      "BTCUSD",
		Direction:   model.DirectionLong,
		EntryPrice:  100,
		TargetPrice: 105,
		StopLoss:    95,
		OrderType:   orderType,
	}
}

func TestOpenBracketMarketEntryFilled(t *testing.T) {
	repo := &fakeTradeRepo{}
	gw := &fakeGateway{
		instrument:  testInstrument(),
		balance:     10000,
		entryResult: &connectors.OrderResult{OrderID: "entry-1", Status: connectors.OrderStatusFilled, AvgPrice: 100.2, FilledQty: 20},
	}
	ctrl := &BracketController{trades: repo}

	trade, err := ctrl.OpenBracket(context.Background(), gw, testAgent(), longSignal(externalmodel.OrderTypeMarket))
	if err != nil {
		t.Fatalf("unexpected error opening bracket: %v", err)
	}

	// equity 10000, risk 1% => $100 risk budget over a $5 stop distance.
	if trade.Quantity != 20 {
		t.Fatalf("expected quantity 20, got %v", trade.Quantity)
	}

	// min(agent 20, floor(100/5%)=20, instrument 50) = 20.
	if gw.leverageSet != 20 || trade.Leverage != 20 {
		t.Fatalf("expected leverage 20, got set=%d trade=%d", gw.leverageSet, trade.Leverage)
	}

	if trade.Status != model.TradeStatusOpen {
		t.Fatalf("expected open trade, got %s", trade.Status)
	}
	if trade.Symbol != "BTCUSDT" {
		t.Fatalf("symbol not normalized: %s", trade.Symbol)
	}
	if trade.EntryPrice != 100.2 {
		t.Fatalf("entry price not taken from fill: %v", trade.EntryPrice)
	}
	if trade.EntryOrderID != "entry-1" || trade.TpOrderID == "" || trade.SlOrderID == "" {
		t.Fatalf("order IDs not recorded: %+v", trade)
	}
	if trade.PendingTpPrice != nil || trade.PendingSlPrice != nil {
		t.Fatalf("filled entry must not defer brackets")
	}

	if len(gw.orders) != 2 {
		t.Fatalf("expected entry + tp orders, got %d", len(gw.orders))
	}
	entry, tp := gw.orders[0], gw.orders[1]
	if entry.Price != nil {
		t.Fatalf("market entry must have no price, got %v", *entry.Price)
	}
	if entry.Side != "Buy" {
		t.Fatalf("long entry side must be Buy, got %s", entry.Side)
	}
	if !tp.ReduceOnly || tp.Side != "Sell" || tp.Price == nil || *tp.Price != 105 {
		t.Fatalf("take-profit leg malformed: %+v", tp)
	}

	if len(gw.triggers) != 1 {
		t.Fatalf("expected one stop trigger, got %d", len(gw.triggers))
	}
	sl := gw.triggers[0]
	if !sl.ReduceOnly || sl.Side != "Sell" || sl.TriggerPrice != 95 {
		t.Fatalf("stop-loss leg malformed: %+v", sl)
	}
}

func TestOpenBracketMarketEntryPartialFill(t *testing.T) {
	repo := &fakeTradeRepo{}
	gw := &fakeGateway{
		instrument: testInstrument(),
		balance:    10000,
		// IOC entry: 12 of 20 executed, remainder cancelled by the venue.
		entryResult: &connectors.OrderResult{OrderID: "entry-4", Status: connectors.OrderStatusCanceled, AvgPrice: 100.1, FilledQty: 12},
	}
	ctrl := &BracketController{trades: repo}

	trade, err := ctrl.OpenBracket(context.Background(), gw, testAgent(), longSignal(externalmodel.OrderTypeMarket))
	if err != nil {
		t.Fatalf("unexpected error opening bracket: %v", err)
	}

	if trade.Status != model.TradeStatusOpen {
		t.Fatalf("partial IOC fill must open the trade, got %s", trade.Status)
	}
	if trade.Quantity != 12 {
		t.Fatalf("trade must be sized to the fill, got %v", trade.Quantity)
	}
	if trade.EntryPrice != 100.1 {
		t.Fatalf("entry price not taken from fill: %v", trade.EntryPrice)
	}
	if trade.StatusNote == "" {
		t.Fatalf("partial fill must be noted on the trade")
	}

	if len(gw.orders) != 2 || gw.orders[1].Quantity != 12 {
		t.Fatalf("tp leg must cover the filled quantity: %+v", gw.orders)
	}
	if len(gw.triggers) != 1 || gw.triggers[0].Quantity != 12 {
		t.Fatalf("sl leg must cover the filled quantity: %+v", gw.triggers)
	}
}

func TestOpenBracketLimitEntryRests(t *testing.T) {
	repo := &fakeTradeRepo{}
	gw := &fakeGateway{
		instrument:  testInstrument(),
		balance:     10000,
		entryResult: &connectors.OrderResult{OrderID: "entry-2", Status: connectors.OrderStatusNew},
	}
	ctrl := &BracketController{trades: repo}

	trade, err := ctrl.OpenBracket(context.Background(), gw, testAgent(), longSignal(externalmodel.OrderTypeLimit))
	if err != nil {
		t.Fatalf("unexpected error opening bracket: %v", err)
	}

	if trade.Status != model.TradeStatusPending {
		t.Fatalf("resting limit must stay pending, got %s", trade.Status)
	}
	if trade.PendingTpPrice == nil || *trade.PendingTpPrice != 105 {
		t.Fatalf("pending tp price not recorded: %+v", trade.PendingTpPrice)
	}
	if trade.PendingSlPrice == nil || *trade.PendingSlPrice != 95 {
		t.Fatalf("pending sl price not recorded: %+v", trade.PendingSlPrice)
	}

	// Only the entry order; brackets wait for the fill.
	if len(gw.orders) != 1 || len(gw.triggers) != 0 {
		t.Fatalf("brackets must be deferred: orders=%d triggers=%d", len(gw.orders), len(gw.triggers))
	}
	if gw.orders[0].Price == nil || *gw.orders[0].Price != 100 {
		t.Fatalf("limit entry price missing: %+v", gw.orders[0])
	}
}

func TestOpenBracketRejectsIncoherentBracket(t *testing.T) {
	repo := &fakeTradeRepo{}
	gw := &fakeGateway{instrument: testInstrument(), balance: 10000}
	ctrl := &BracketController{trades: repo}

	signal := longSignal(externalmodel.OrderTypeMarket)
	signal.StopLoss = 101 // stop above entry on a long

	_, err := ctrl.OpenBracket(context.Background(), gw, testAgent(), signal)
	if !errors.Is(err, connectors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(gw.orders) != 0 || len(repo.created) != 0 {
		t.Fatalf("rejected signal must not touch exchange or DB")
	}
}

func TestOpenBracketPositionCap(t *testing.T) {
	repo := &fakeTradeRepo{active: 3}
	gw := &fakeGateway{instrument: testInstrument(), balance: 10000}
	ctrl := &BracketController{trades: repo}

	_, err := ctrl.OpenBracket(context.Background(), gw, testAgent(), longSignal(externalmodel.OrderTypeMarket))
	if !errors.Is(err, connectors.ErrValidation) {
		t.Fatalf("expected validation error at position cap, got %v", err)
	}
	if len(gw.orders) != 0 {
		t.Fatalf("capped agent must not place orders")
	}
}

func TestOpenBracketStopLegFailureIsNonFatal(t *testing.T) {
	repo := &fakeTradeRepo{}
	gw := &fakeGateway{
		instrument:  testInstrument(),
		balance:     10000,
		entryResult: &connectors.OrderResult{OrderID: "entry-3", Status: connectors.OrderStatusFilled, AvgPrice: 100},
		triggerErr:  errors.New("venue rejected trigger"),
	}
	ctrl := &BracketController{trades: repo}

	trade, err := ctrl.OpenBracket(context.Background(), gw, testAgent(), longSignal(externalmodel.OrderTypeMarket))
	if err != nil {
		t.Fatalf("leg failure must not fail the open: %v", err)
	}

	if trade.Status != model.TradeStatusOpen {
		t.Fatalf("trade must stay open after leg failure, got %s", trade.Status)
	}
	if trade.TpOrderID == "" {
		t.Fatalf("tp leg should have been placed")
	}
	if trade.SlOrderID != "" {
		t.Fatalf("failed sl leg must not record an order ID")
	}
	if trade.StatusNote == "" {
		t.Fatalf("leg failure must be noted on the trade")
	}
}

func TestResolveExitPriceChain(t *testing.T) {
	trade := &model.Trade{
		Symbol:     "BTCUSDT",
		Direction:  model.DirectionLong,
		EntryPrice: 100,
		OpenedAt:   time.Now().Add(-time.Hour),
	}

	t.Run("prefers closing fill", func(t *testing.T) {
		gw := &fakeGateway{
			price: 104,
			fills: []connectors.Fill{
				{Side: "Buy", Price: 100},
				{Side: "Sell", Price: 105.5},
			},
		}
		price, source := ResolveExitPrice(context.Background(), gw, trade)
		if price != 105.5 || source != model.ExitSourceFill {
			t.Fatalf("expected fill exit 105.5, got %v (%s)", price, source)
		}
	})

	t.Run("degrades to mark price", func(t *testing.T) {
		gw := &fakeGateway{price: 104, fillsErr: errors.New("history unavailable")}
		price, source := ResolveExitPrice(context.Background(), gw, trade)
		if price != 104 || source != model.ExitSourceMarkPrice {
			t.Fatalf("expected mark exit 104, got %v (%s)", price, source)
		}
	})

	t.Run("degrades to entry price", func(t *testing.T) {
		gw := &fakeGateway{fillsErr: errors.New("down"), priceErr: errors.New("down")}
		price, source := ResolveExitPrice(context.Background(), gw, trade)
		if price != 100 || source != model.ExitSourceEntryPrice {
			t.Fatalf("expected entry fallback 100, got %v (%s)", price, source)
		}
	})
}

func TestCloseTradeFinalizesRecord(t *testing.T) {
	repo := &fakeTradeRepo{}
	gw := &fakeGateway{
		fills: []connectors.Fill{{Side: "Sell", Price: 103}},
	}
	ctrl := &BracketController{trades: repo}

	trade := &model.Trade{
		ID:         5,
		Symbol:     "BTCUSDT",
		Direction:  model.DirectionLong,
		EntryPrice: 100,
		Quantity:   20,
		Leverage:   10,
		Status:     model.TradeStatusOpen,
		TpOrderID:  "tp-1",
		SlOrderID:  "sl-1",
		OpenedAt:   time.Now().Add(-time.Hour),
	}

	if err := ctrl.CloseTrade(context.Background(), gw, trade, "manual close"); err != nil {
		t.Fatalf("unexpected error closing trade: %v", err)
	}

	if len(gw.canceled) != 2 {
		t.Fatalf("both bracket legs must be canceled, got %v", gw.canceled)
	}
	if len(gw.closedSyms) != 1 {
		t.Fatalf("position must be closed on the venue")
	}
	if trade.Status != model.TradeStatusClosed {
		t.Fatalf("expected closed status, got %s", trade.Status)
	}
	if trade.ExitPrice == nil || *trade.ExitPrice != 103 || trade.ExitSource != model.ExitSourceFill {
		t.Fatalf("exit not resolved from fill: %+v", trade)
	}

	// 3% move on 2000 notional = $60; 3% x10 leverage = 30%.
	if trade.PnlUsd != 60 {
		t.Fatalf("expected pnl $60, got %v", trade.PnlUsd)
	}
	if trade.PnlPercent != 30 {
		t.Fatalf("expected leveraged pnl 30%%, got %v", trade.PnlPercent)
	}
}

func TestCloseTradeRejectsTerminal(t *testing.T) {
	ctrl := &BracketController{trades: &fakeTradeRepo{}}
	trade := &model.Trade{ID: 9, Status: model.TradeStatusTpHit}

	err := ctrl.CloseTrade(context.Background(), &fakeGateway{}, trade, "manual close")
	if !errors.Is(err, connectors.ErrValidation) {
		t.Fatalf("expected validation error for terminal trade, got %v", err)
	}
}
