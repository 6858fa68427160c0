package dispatcher

import (
	"context"
	"fmt"
	"sync"

	logger "github.com/sirupsen/logrus"

	"perpexecutor/src/connectors"
	"perpexecutor/src/repository"
	"perpexecutor/src/security"
)

// CachingGatewayProvider builds one exchange gateway per agent from
// its stored credentials and reuses it across signals. Decrypted keys
// live only inside the gateway instance and are never logged.
type CachingGatewayProvider struct {
	mu     sync.Mutex
	agents *repository.AgentRepository
	cache  map[uint]connectors.ExchangeGateway
}

func NewCachingGatewayProvider() *CachingGatewayProvider {
	return &CachingGatewayProvider{
		agents: repository.NewAgentRepository(),
		cache:  make(map[uint]connectors.ExchangeGateway),
	}
}

// GatewayFor returns the cached gateway for the agent, building it on
// first use.
func (p *CachingGatewayProvider) GatewayFor(ctx context.Context, agentID uint) (connectors.ExchangeGateway, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gateway, ok := p.cache[agentID]; ok {
		return gateway, nil
	}

	agent, err := p.agents.FindByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, fmt.Errorf("%w: agent %d", connectors.ErrNotFound, agentID)
	}
	if agent.Credential == nil {
		return nil, fmt.Errorf("%w: agent %d has no exchange credential", connectors.ErrValidation, agentID)
	}

	apiKey, err := security.DecryptString(agent.Credential.APIKeyHash)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credential for agent %d: %w", agentID, err)
	}
	apiSecret, err := security.DecryptString(agent.Credential.APISecretHash)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credential for agent %d: %w", agentID, err)
	}

	gateway := connectors.NewPhemexClient(apiKey, apiSecret, connectors.GetConfig())
	p.cache[agentID] = gateway

	logger.WithField("agent_id", agentID).Info("Exchange gateway initialized for agent")

	return gateway, nil
}

// Invalidate drops the cached gateway, forcing a rebuild on next use.
// Called after credential rotation.
func (p *CachingGatewayProvider) Invalidate(agentID uint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, agentID)
}
