package repository

import (
	"context"
	"errors"
	"fmt"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"perpexecutor/src/connectors"
	"perpexecutor/src/database"
	"perpexecutor/src/model"
)

// AgentRepository handles persistence for execution agents and their
// exchange credentials.
type AgentRepository struct {
	db *gorm.DB
}

func NewAgentRepository() *AgentRepository {
	return &AgentRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *AgentRepository) WithDB(db *gorm.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

// validateBounds rejects agent configs outside the allowed ranges.
// Out-of-range values are an error, never silently clamped.
func validateBounds(agent *model.Agent) error {
	if agent.RiskPercent < model.AgentMinRiskPercent || agent.RiskPercent > model.AgentMaxRiskPercent {
		return fmt.Errorf("%w: risk_percent %.2f outside [%.1f, %.1f]",
			connectors.ErrValidation, agent.RiskPercent, model.AgentMinRiskPercent, model.AgentMaxRiskPercent)
	}
	if agent.MaxPositions < model.AgentMinPositions || agent.MaxPositions > model.AgentMaxPositions {
		return fmt.Errorf("%w: max_positions %d outside [%d, %d]",
			connectors.ErrValidation, agent.MaxPositions, model.AgentMinPositions, model.AgentMaxPositions)
	}
	if agent.MaxLeverage < model.AgentMinLeverage || agent.MaxLeverage > model.AgentMaxLeverageHard {
		return fmt.Errorf("%w: max_leverage %d outside [%d, %d]",
			connectors.ErrValidation, agent.MaxLeverage, model.AgentMinLeverage, model.AgentMaxLeverageHard)
	}
	return nil
}

// Create inserts a new agent after validating its config bounds.
func (r *AgentRepository) Create(ctx context.Context, agent *model.Agent) error {
	if err := validateBounds(agent); err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Create(agent).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "AgentRepository",
			"op":   "Create",
			"name": agent.Name,
		}).WithError(err).Error("Failed to create agent")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":     "AgentRepository",
		"op":       "Create",
		"agent_id": agent.ID,
		"name":     agent.Name,
	}).Info("Agent created")

	return nil
}

// Update persists changes to an existing agent, re-checking bounds.
func (r *AgentRepository) Update(ctx context.Context, agent *model.Agent) error {
	if err := validateBounds(agent); err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Save(agent).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "AgentRepository",
			"op":       "Update",
			"agent_id": agent.ID,
		}).WithError(err).Error("Failed to update agent")
		return err
	}

	return nil
}

// FindByID fetches one agent with its credential preloaded.
// Returns (nil, nil) if the agent is not found.
func (r *AgentRepository) FindByID(ctx context.Context, id uint) (*model.Agent, error) {
	var agent model.Agent

	err := r.db.WithContext(ctx).
		Preload("Credential").
		First(&agent, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo": "AgentRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch agent")
		return nil, err
	}

	return &agent, nil
}

// FindActive returns all active agents with credentials preloaded,
// ordered by ID for deterministic dispatch.
func (r *AgentRepository) FindActive(ctx context.Context) ([]model.Agent, error) {
	var agents []model.Agent

	err := r.db.WithContext(ctx).
		Preload("Credential").
		Where("active = ?", true).
		Order("id ASC").
		Find(&agents).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "AgentRepository",
			"op":   "FindActive",
		}).WithError(err).Error("Failed to fetch active agents")
		return nil, err
	}

	return agents, nil
}

// Delete removes an agent and its credential. Refuses to delete while
// the agent still has pending or open trades.
func (r *AgentRepository) Delete(ctx context.Context, id uint) error {
	active, err := NewTradeRepository().WithDB(r.db).CountActiveByAgent(ctx, id)
	if err != nil {
		return err
	}
	if active > 0 {
		return fmt.Errorf("%w: agent %d has %d active trades", connectors.ErrValidation, id, active)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("agent_id = ?", id).Delete(&model.AgentCredential{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&model.Agent{}, id).Error; err != nil {
			return err
		}

		logger.WithFields(map[string]interface{}{
			"repo":     "AgentRepository",
			"op":       "Delete",
			"agent_id": id,
		}).Info("Agent deleted")

		return nil
	})
}

// UpsertCredential stores the encrypted key pair for one agent,
// replacing any previous credential. Callers must pass already
// encrypted values; this layer never sees plaintext.
func (r *AgentRepository) UpsertCredential(ctx context.Context, cred *model.AgentCredential) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("agent_id = ?", cred.AgentID).Delete(&model.AgentCredential{}).Error; err != nil {
			return err
		}
		if err := tx.Create(cred).Error; err != nil {
			logger.WithFields(map[string]interface{}{
				"repo":     "AgentRepository",
				"op":       "UpsertCredential",
				"agent_id": cred.AgentID,
			}).WithError(err).Error("Failed to store credential")
			return err
		}

		logger.WithFields(map[string]interface{}{
			"repo":     "AgentRepository",
			"op":       "UpsertCredential",
			"agent_id": cred.AgentID,
		}).Info("Agent credential updated")

		return nil
	})
}
