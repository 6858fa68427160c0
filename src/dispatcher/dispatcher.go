package dispatcher

import (
	"context"
	"encoding/json"
	"errors"

	logger "github.com/sirupsen/logrus"

	"perpexecutor/src/connectors"
	"perpexecutor/src/controller"
	"perpexecutor/src/externalmodel"
	"perpexecutor/src/model"
	"perpexecutor/src/repository"
)

// Per-agent dispatch outcomes.
const (
	OutcomeExecuted = "executed"
	OutcomeQueued   = "queued"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// AgentResult is one agent's outcome for one signal.
type AgentResult struct {
	AgentID uint   `json:"agent_id"`
	Outcome string `json:"outcome"`
	TradeID *uint  `json:"trade_id,omitempty"`
	TaskID  *uint  `json:"task_id,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// DispatchResult summarizes a signal fan-out across all active agents.
type DispatchResult struct {
	Processed int           `json:"processed"`
	Executed  int           `json:"executed"`
	Queued    int           `json:"queued"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Results   []AgentResult `json:"results"`
}

type agentStore interface {
	FindActive(ctx context.Context) ([]model.Agent, error)
}

type taskStore interface {
	Enqueue(ctx context.Context, task *model.Task) error
}

type bracketOpener interface {
	OpenBracket(ctx context.Context, gateway connectors.ExchangeGateway, agent *model.Agent, signal externalmodel.Signal) (*model.Trade, error)
}

type gatewayProvider interface {
	GatewayFor(ctx context.Context, agentID uint) (connectors.ExchangeGateway, error)
}

// SignalDispatcher fans one incoming signal out to every active agent.
// Agents without entry rules execute synchronously; rule-based agents
// get a queued task so rule-evaluation latency never blocks ingestion.
// One agent's failure never affects another's dispatch.
type SignalDispatcher struct {
	agents   agentStore
	tasks    taskStore
	brackets bracketOpener
	gateways gatewayProvider
}

func NewSignalDispatcher(gateways gatewayProvider) *SignalDispatcher {
	return &SignalDispatcher{
		agents:   repository.NewAgentRepository(),
		tasks:    repository.NewTaskRepository(),
		brackets: controller.NewBracketController(),
		gateways: gateways,
	}
}

// ProcessSignal dispatches the signal to all active agents and returns
// the per-agent outcomes.
func (d *SignalDispatcher) ProcessSignal(ctx context.Context, signal externalmodel.Signal) (*DispatchResult, error) {
	agents, err := d.agents.FindActive(ctx)
	if err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"symbol":    signal.Symbol,
		"direction": signal.Direction,
		"agents":    len(agents),
	}).Info("Dispatching signal to active agents")

	result := &DispatchResult{Results: make([]AgentResult, 0, len(agents))}

	for i := range agents {
		agent := &agents[i]
		outcome := d.dispatchToAgent(ctx, agent, signal)

		result.Processed++
		switch outcome.Outcome {
		case OutcomeExecuted:
			result.Executed++
		case OutcomeQueued:
			result.Queued++
		case OutcomeSkipped:
			result.Skipped++
		case OutcomeFailed:
			result.Failed++
		}
		result.Results = append(result.Results, outcome)
	}

	logger.WithFields(map[string]interface{}{
		"symbol":   signal.Symbol,
		"executed": result.Executed,
		"queued":   result.Queued,
		"skipped":  result.Skipped,
		"failed":   result.Failed,
	}).Info("Signal dispatch finished")

	return result, nil
}

func (d *SignalDispatcher) dispatchToAgent(ctx context.Context, agent *model.Agent, signal externalmodel.Signal) AgentResult {
	if agent.RuleText != "" {
		return d.enqueueTask(ctx, agent, signal)
	}

	gateway, err := d.gateways.GatewayFor(ctx, agent.ID)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"agent_id": agent.ID,
		}).WithError(err).Error("Gateway unavailable for agent")
		return AgentResult{AgentID: agent.ID, Outcome: OutcomeFailed, Detail: err.Error()}
	}

	trade, err := d.brackets.OpenBracket(ctx, gateway, agent, signal)
	if err != nil {
		return classifyOpenError(agent.ID, err)
	}

	return AgentResult{AgentID: agent.ID, Outcome: OutcomeExecuted, TradeID: &trade.ID}
}

func (d *SignalDispatcher) enqueueTask(ctx context.Context, agent *model.Agent, signal externalmodel.Signal) AgentResult {
	payload, err := json.Marshal(signal)
	if err != nil {
		return AgentResult{AgentID: agent.ID, Outcome: OutcomeFailed, Detail: "failed to serialize signal: " + err.Error()}
	}

	task := &model.Task{
		AgentID:       agent.ID,
		SignalPayload: string(payload),
	}
	if err := d.tasks.Enqueue(ctx, task); err != nil {
		return AgentResult{AgentID: agent.ID, Outcome: OutcomeFailed, Detail: err.Error()}
	}

	return AgentResult{AgentID: agent.ID, Outcome: OutcomeQueued, TaskID: &task.ID}
}

// classifyOpenError separates rejections that are expected trading
// outcomes from real failures. A signal that fails sizing or caps is
// skipped, not failed.
func classifyOpenError(agentID uint, err error) AgentResult {
	switch {
	case errors.Is(err, connectors.ErrValidation),
		errors.Is(err, connectors.ErrNotionalTooSmall),
		errors.Is(err, connectors.ErrInsufficientMargin):
		return AgentResult{AgentID: agentID, Outcome: OutcomeSkipped, Detail: err.Error()}
	default:
		return AgentResult{AgentID: agentID, Outcome: OutcomeFailed, Detail: err.Error()}
	}
}
