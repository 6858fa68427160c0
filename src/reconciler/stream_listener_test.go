package reconciler

import (
	"context"
	"testing"
	"time"

	"perpexecutor/src/connectors"
	"perpexecutor/src/model"
)

type fakeAgentStore struct {
	agents []model.Agent
}

func (s *fakeAgentStore) FindActive(_ context.Context) ([]model.Agent, error) {
	return s.agents, nil
}

func newTestListener(store *fakeStore, gw *fakeGateway, placer *fakePlacer) *StreamListener {
	return &StreamListener{
		cfg:      Config{StreamRefresh: time.Minute},
		agents:   &fakeAgentStore{agents: []model.Agent{{ID: 7, Active: true}}},
		trades:   store,
		gateways: &fakeProvider{gateway: gw},
		brackets: placer,
		running:  map[uint]struct{}{},
	}
}

func TestStreamFillPromotesPendingTrade(t *testing.T) {
	store := &fakeStore{pending: []model.Trade{pendingTrade()}}
	stream := make(chan connectors.StreamEvent, 3)
	stream <- connectors.StreamEvent{Account: &connectors.AccountUpdate{Currency: "USDT", Balance: 9500}}
	stream <- connectors.StreamEvent{Order: &connectors.OrderUpdate{OrderID: "e1", Status: connectors.OrderStatusNew}}
	stream <- connectors.StreamEvent{Order: &connectors.OrderUpdate{
		OrderID:   "e1",
		Status:    connectors.OrderStatusFilled,
		AvgPrice:  99.8,
		FilledQty: 15,
	}}
	close(stream)

	gw := &fakeGateway{stream: stream}
	placer := &fakePlacer{}

	listener := newTestListener(store, gw, placer)
	listener.listen(context.Background(), 7)

	if len(store.saved) != 1 {
		t.Fatalf("expected one trade saved, got %d", len(store.saved))
	}
	trade := store.saved[0]

	if trade.Status != model.TradeStatusOpen {
		t.Fatalf("expected open status, got %s", trade.Status)
	}
	if trade.EntryPrice != 99.8 {
		t.Fatalf("entry price not taken from the stream fill: %v", trade.EntryPrice)
	}
	if trade.Quantity != 15 {
		t.Fatalf("trade must be sized to the filled quantity, got %v", trade.Quantity)
	}
	if len(placer.placed) != 1 {
		t.Fatalf("deferred brackets must be placed on the stream fill")
	}
	if trade.PendingTpPrice != nil || trade.PendingSlPrice != nil {
		t.Fatalf("pending bracket prices must be cleared")
	}
}

func TestStreamFillIgnoresUnrelatedOrders(t *testing.T) {
	store := &fakeStore{pending: []model.Trade{pendingTrade()}}
	stream := make(chan connectors.StreamEvent, 1)
	stream <- connectors.StreamEvent{Order: &connectors.OrderUpdate{
		OrderID: "someone-elses-order",
		Status:  connectors.OrderStatusFilled,
	}}
	close(stream)

	gw := &fakeGateway{stream: stream}
	placer := &fakePlacer{}

	listener := newTestListener(store, gw, placer)
	listener.listen(context.Background(), 7)

	if len(store.saved) != 0 || len(placer.placed) != 0 {
		t.Fatalf("unrelated fill must not touch pending trades: saved=%d placed=%d",
			len(store.saved), len(placer.placed))
	}
}

func TestStreamListenerDeregistersOnStreamEnd(t *testing.T) {
	store := &fakeStore{}
	gw := &fakeGateway{} // empty stream, closes immediately
	listener := newTestListener(store, gw, &fakePlacer{})

	listener.running[7] = struct{}{}
	listener.listen(context.Background(), 7)

	listener.mu.Lock()
	_, still := listener.running[7]
	listener.mu.Unlock()
	if still {
		t.Fatalf("ended stream must deregister so the refresh can restart it")
	}
}
