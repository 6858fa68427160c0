package model

import "time"

// Agent config bounds. Values outside these ranges are rejected at
// validation time, never silently clamped.
const (
	AgentMinRiskPercent  = 0.5
	AgentMaxRiskPercent  = 5.0
	AgentMinPositions    = 1
	AgentMaxPositions    = 10
	AgentMinLeverage     = 1
	AgentMaxLeverageHard = 100
)

// Agent is a named execution profile. One agent owns exactly one set of
// exchange credentials and trades independently of all other agents.
type Agent struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	UserID uint   `gorm:"index" json:"user_id"`
	Name   string `gorm:"size:100;not null" json:"name"`

	RiskPercent  float64 `gorm:"not null" json:"risk_percent"`
	MaxPositions int     `gorm:"not null" json:"max_positions"`
	MaxLeverage  int     `gorm:"not null" json:"max_leverage"`

	// Free-form natural-language entry rules. Empty means the agent
	// takes every signal without evaluation.
	RuleText string `gorm:"type:text" json:"rule_text,omitempty"`

	Active    bool      `gorm:"not null;default:false;index" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Credential *AgentCredential `gorm:"foreignKey:AgentID" json:"-"`
}

func (Agent) TableName() string {
	return "agents"
}

// AgentCredential holds the exchange signing key for one agent. Both
// fields are encrypted at rest (security.EncryptString) and are never
// written to logs.
type AgentCredential struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	AgentID       uint      `gorm:"uniqueIndex" json:"agent_id"`
	APIKeyHash    string    `gorm:"type:text" json:"-"`
	APISecretHash string    `gorm:"type:text" json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (AgentCredential) TableName() string {
	return "agent_credentials"
}
