package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"perpexecutor/src/connectors"
	"perpexecutor/src/externalmodel"
	"perpexecutor/src/model"
)

type fakeAgentStore struct {
	agents []model.Agent
}

func (s *fakeAgentStore) FindActive(_ context.Context) ([]model.Agent, error) {
	return s.agents, nil
}

type fakeTaskStore struct {
	nextID   uint
	enqueued []*model.Task
	err      error
}

func (s *fakeTaskStore) Enqueue(_ context.Context, task *model.Task) error {
	if s.err != nil {
		return s.err
	}
	s.nextID++
	task.ID = s.nextID
	s.enqueued = append(s.enqueued, task)
	return nil
}

type fakeOpener struct {
	errByAgent map[uint]error
	opened     []uint
}

func (o *fakeOpener) OpenBracket(_ context.Context, _ connectors.ExchangeGateway, agent *model.Agent, _ externalmodel.Signal) (*model.Trade, error) {
	if err := o.errByAgent[agent.ID]; err != nil {
		return nil, err
	}
	o.opened = append(o.opened, agent.ID)
	return &model.Trade{ID: 100 + agent.ID, AgentID: agent.ID, Status: model.TradeStatusOpen}, nil
}

type fakeGateways struct {
	errByAgent map[uint]error
}

func (g *fakeGateways) GatewayFor(_ context.Context, agentID uint) (connectors.ExchangeGateway, error) {
	if err := g.errByAgent[agentID]; err != nil {
		return nil, err
	}
	return nil, nil
}

func testSignal() externalmodel.Signal {
	return externalmodel.Signal{
		Symbol:      "BTCUSDT",
		Direction:   model.DirectionLong,
		EntryPrice:  100,
		TargetPrice: 105,
		StopLoss:    95,
		OrderType:   externalmodel.OrderTypeMarket,
	}
}

func newTestDispatcher(agents []model.Agent, tasks *fakeTaskStore, opener *fakeOpener, gateways *fakeGateways) *SignalDispatcher {
	return &SignalDispatcher{
		agents:   &fakeAgentStore{agents: agents},
		tasks:    tasks,
		brackets: opener,
		gateways: gateways,
	}
}

func TestProcessSignalFansOutPerAgentMode(t *testing.T) {
	agents := []model.Agent{
		{ID: 1, Name: "direct", Active: true},
		{ID: 2, Name: "ruled", Active: true, RuleText: "only enter above the 200 EMA"},
	}
	tasks := &fakeTaskStore{}
	opener := &fakeOpener{}

	d := newTestDispatcher(agents, tasks, opener, &fakeGateways{})

	result, err := d.ProcessSignal(context.Background(), testSignal())
	if err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}

	if result.Processed != 2 || result.Executed != 1 || result.Queued != 1 {
		t.Fatalf("unexpected counters: %+v", result)
	}

	if len(opener.opened) != 1 || opener.opened[0] != 1 {
		t.Fatalf("only the direct agent should execute: %v", opener.opened)
	}

	if len(tasks.enqueued) != 1 || tasks.enqueued[0].AgentID != 2 {
		t.Fatalf("only the ruled agent should be queued: %+v", tasks.enqueued)
	}
	if tasks.enqueued[0].SignalPayload == "" {
		t.Fatalf("queued task must carry the serialized signal")
	}

	if result.Results[0].TradeID == nil || *result.Results[0].TradeID != 101 {
		t.Fatalf("executed result must carry the trade ID: %+v", result.Results[0])
	}
	if result.Results[1].TaskID == nil {
		t.Fatalf("queued result must carry the task ID: %+v", result.Results[1])
	}
}

func TestProcessSignalIsolatesAgentFailures(t *testing.T) {
	agents := []model.Agent{
		{ID: 1, Active: true},
		{ID: 2, Active: true},
		{ID: 3, Active: true},
	}
	opener := &fakeOpener{errByAgent: map[uint]error{
		2: errors.New("exchange down"),
	}}

	d := newTestDispatcher(agents, &fakeTaskStore{}, opener, &fakeGateways{})

	result, err := d.ProcessSignal(context.Background(), testSignal())
	if err != nil {
		t.Fatalf("one agent's failure must not fail the dispatch: %v", err)
	}

	if result.Executed != 2 || result.Failed != 1 {
		t.Fatalf("expected 2 executed, 1 failed: %+v", result)
	}
	if result.Results[1].Outcome != OutcomeFailed || result.Results[1].Detail == "" {
		t.Fatalf("failed agent must report detail: %+v", result.Results[1])
	}
}

func TestProcessSignalClassifiesRejectionsAsSkipped(t *testing.T) {
	agents := []model.Agent{
		{ID: 1, Active: true},
		{ID: 2, Active: true},
	}
	opener := &fakeOpener{errByAgent: map[uint]error{
		1: fmt.Errorf("%w: notional below minimum", connectors.ErrNotionalTooSmall),
		2: fmt.Errorf("%w: agent at position cap", connectors.ErrValidation),
	}}

	d := newTestDispatcher(agents, &fakeTaskStore{}, opener, &fakeGateways{})

	result, err := d.ProcessSignal(context.Background(), testSignal())
	if err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}

	if result.Skipped != 2 || result.Failed != 0 {
		t.Fatalf("trading rejections must be skipped, not failed: %+v", result)
	}
}

func TestProcessSignalGatewayFailure(t *testing.T) {
	agents := []model.Agent{{ID: 1, Active: true}}
	gateways := &fakeGateways{errByAgent: map[uint]error{1: errors.New("credential decrypt failed")}}

	d := newTestDispatcher(agents, &fakeTaskStore{}, &fakeOpener{}, gateways)

	result, err := d.ProcessSignal(context.Background(), testSignal())
	if err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}

	if result.Failed != 1 || result.Results[0].Outcome != OutcomeFailed {
		t.Fatalf("gateway failure must mark the agent failed: %+v", result)
	}
}
