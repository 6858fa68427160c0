package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"perpexecutor/src/connectors"
	"perpexecutor/src/dispatcher"
	"perpexecutor/src/externalmodel"
	"perpexecutor/src/model"
	"perpexecutor/src/repository"
)

type signalProcessor interface {
	ProcessSignal(ctx context.Context, signal externalmodel.Signal) (*dispatcher.DispatchResult, error)
}

type gatewayProvider interface {
	GatewayFor(ctx context.Context, agentID uint) (connectors.ExchangeGateway, error)
}

type tradeLister interface {
	FindByStatus(ctx context.Context, status string) ([]model.Trade, error)
}

// PostSignalHandler ingests one trading signal and fans it out to all
// active agents. The response carries per-agent outcomes.
func PostSignalHandler(processor signalProcessor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var signal externalmodel.Signal
		if err := json.NewDecoder(r.Body).Decode(&signal); err != nil {
			http.Error(w, "invalid signal payload", http.StatusBadRequest)
			return
		}

		result, err := processor.ProcessSignal(r.Context(), signal)
		if err != nil {
			logger.WithError(err).Error("failed to dispatch signal")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(result); err != nil {
			logger.WithError(err).Error("failed to encode dispatch response")
		}
	}
}

// AgentPositionsHandler returns the live position snapshot for one
// agent, as seen by its own exchange account.
func AgentPositionsHandler(gateways gatewayProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentParam := chi.URLParam(r, "agentID")
		id, err := strconv.ParseUint(agentParam, 10, 64)
		if err != nil {
			http.Error(w, "invalid agentID", http.StatusBadRequest)
			return
		}

		gateway, err := gateways.GatewayFor(r.Context(), uint(id))
		if err != nil {
			logger.WithError(err).WithField("agent_id", id).Error("failed to resolve gateway")
			http.Error(w, "agent unavailable", http.StatusNotFound)
			return
		}

		positions, err := gateway.GetFormattedPositions(r.Context())
		if err != nil {
			logger.WithError(err).WithField("agent_id", id).Error("failed to fetch positions")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(positions); err != nil {
			logger.WithError(err).Error("failed to encode positions response")
		}
	}
}

// TradesHandler lists trades filtered by status (default open).
func TradesHandler(repo tradeLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		if status == "" {
			status = model.TradeStatusOpen
		}

		switch status {
		case model.TradeStatusPending, model.TradeStatusOpen, model.TradeStatusTpHit,
			model.TradeStatusSlHit, model.TradeStatusClosed, model.TradeStatusError:
		default:
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}

		trades, err := repo.FindByStatus(r.Context(), status)
		if err != nil {
			logger.WithError(err).Error("failed to list trades")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(trades); err != nil {
			logger.WithError(err).Error("failed to encode trades response")
		}
	}
}

// DefaultTradesHandler wires the handler to the production repository implementation.
func DefaultTradesHandler() http.HandlerFunc {
	return TradesHandler(repository.NewTradeRepository())
}
