package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"perpexecutor/src/connectors"
	"perpexecutor/src/controller"
	"perpexecutor/src/externalmodel"
	"perpexecutor/src/model"
	"perpexecutor/src/repository"
	"perpexecutor/src/ruleeval"
)

type taskStore interface {
	ResetStale(ctx context.Context, staleness time.Duration) (int64, error)
	ClaimPending(ctx context.Context, limit int) ([]model.Task, error)
	MarkCompleted(ctx context.Context, id uint, verdict string, tradeID *uint) error
	MarkSkipped(ctx context.Context, id uint, verdict string) error
	MarkFailed(ctx context.Context, id uint, errMsg string) error
}

type agentStore interface {
	FindByID(ctx context.Context, id uint) (*model.Agent, error)
}

type bracketOpener interface {
	OpenBracket(ctx context.Context, gateway connectors.ExchangeGateway, agent *model.Agent, signal externalmodel.Signal) (*model.Trade, error)
}

type gatewayProvider interface {
	GatewayFor(ctx context.Context, agentID uint) (connectors.ExchangeGateway, error)
}

// RuleEvaluator decides whether an agent's entry rules approve a signal.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, ruleText string, signal externalmodel.Signal) (*ruleeval.Verdict, error)
}

// Worker drains the durable task queue: claim a batch, evaluate each
// task's rules, and execute approved signals. Tasks are processed
// sequentially so two tasks for one agent can never race the agent's
// position cap.
type Worker struct {
	cfg       Config
	tasks     taskStore
	agents    agentStore
	brackets  bracketOpener
	gateways  gatewayProvider
	evaluator RuleEvaluator
}

func NewWorker(gateways gatewayProvider) *Worker {
	return &Worker{
		cfg:       GetConfig(),
		tasks:     repository.NewTaskRepository(),
		agents:    repository.NewAgentRepository(),
		brackets:  controller.NewBracketController(),
		gateways:  gateways,
		evaluator: ruleeval.NewHTTPEvaluator(),
	}
}

// Run polls the queue until the context is canceled.
func (w *Worker) Run(ctx context.Context) {
	logger.WithFields(map[string]interface{}{
		"poll_interval": w.cfg.PollInterval,
		"claim_batch":   w.cfg.ClaimBatch,
		"staleness":     w.cfg.Staleness,
	}).Info("Task worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Task worker stopped")
			return
		default:
		}

		processed := w.Poll(ctx)
		if processed == 0 {
			select {
			case <-ctx.Done():
				logger.Info("Task worker stopped")
				return
			case <-time.After(w.cfg.PollInterval):
			}
		}
	}
}

// Poll runs one queue iteration: recover stale claims, claim a batch,
// process it. Returns how many tasks were processed.
func (w *Worker) Poll(ctx context.Context) int {
	if _, err := w.tasks.ResetStale(ctx, w.cfg.Staleness); err != nil {
		logger.WithError(err).Error("Failed to reset stale tasks")
	}

	claimed, err := w.tasks.ClaimPending(ctx, w.cfg.ClaimBatch)
	if err != nil {
		logger.WithError(err).Error("Failed to claim tasks")
		return 0
	}

	for i := range claimed {
		w.processTask(ctx, &claimed[i])
	}

	return len(claimed)
}

func (w *Worker) processTask(ctx context.Context, task *model.Task) {
	log := logger.WithFields(map[string]interface{}{
		"task_id":  task.ID,
		"agent_id": task.AgentID,
	})

	var signal externalmodel.Signal
	if err := json.Unmarshal([]byte(task.SignalPayload), &signal); err != nil {
		log.WithError(err).Error("Task payload is not a valid signal")
		w.fail(ctx, task.ID, "invalid signal payload: "+err.Error())
		return
	}

	agent, err := w.agents.FindByID(ctx, task.AgentID)
	if err != nil {
		w.fail(ctx, task.ID, "agent lookup failed: "+err.Error())
		return
	}
	if agent == nil {
		w.fail(ctx, task.ID, fmt.Sprintf("agent %d not found", task.AgentID))
		return
	}
	if !agent.Active {
		if err := w.tasks.MarkSkipped(ctx, task.ID, "agent deactivated after enqueue"); err != nil {
			log.WithError(err).Error("Failed to mark task skipped")
		}
		return
	}

	verdict := &ruleeval.Verdict{Approved: true, Reason: "no entry rules configured"}
	if agent.RuleText != "" {
		verdict, err = w.evaluator.Evaluate(ctx, agent.RuleText, signal)
		if err != nil {
			w.fail(ctx, task.ID, "rule evaluation failed: "+err.Error())
			return
		}
	}

	if !verdict.Approved {
		log.WithField("reason", verdict.Reason).Info("Rules rejected signal, task skipped")
		if err := w.tasks.MarkSkipped(ctx, task.ID, verdict.Reason); err != nil {
			log.WithError(err).Error("Failed to mark task skipped")
		}
		return
	}

	gateway, err := w.gateways.GatewayFor(ctx, agent.ID)
	if err != nil {
		w.fail(ctx, task.ID, "gateway unavailable: "+err.Error())
		return
	}

	trade, err := w.brackets.OpenBracket(ctx, gateway, agent, signal)
	if err != nil {
		// Sizing and cap rejections are expected outcomes, not failures.
		if errors.Is(err, connectors.ErrValidation) ||
			errors.Is(err, connectors.ErrNotionalTooSmall) ||
			errors.Is(err, connectors.ErrInsufficientMargin) {
			if e := w.tasks.MarkSkipped(ctx, task.ID, err.Error()); e != nil {
				log.WithError(e).Error("Failed to mark task skipped")
			}
			return
		}
		w.fail(ctx, task.ID, err.Error())
		return
	}

	if err := w.tasks.MarkCompleted(ctx, task.ID, verdict.Reason, &trade.ID); err != nil {
		log.WithError(err).Error("Failed to mark task completed")
		return
	}

	log.WithField("trade_id", trade.ID).Info("Task executed")
}

func (w *Worker) fail(ctx context.Context, taskID uint, reason string) {
	if err := w.tasks.MarkFailed(ctx, taskID, reason); err != nil {
		logger.WithFields(map[string]interface{}{
			"task_id": taskID,
		}).WithError(err).Error("Failed to mark task failed")
	}
}
