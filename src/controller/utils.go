package controller

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"perpexecutor/src/model"
	"perpexecutor/src/repository"
)

// NormalizeToUSDT ensures that a symbol ends with USDT.
// Examples:
//
//	BTCUSD  -> BTCUSDT
//	ETHUSD  -> ETHUSDT
//	BTCUSDT -> BTCUSDT
//	ethusd  -> ETHUSDT
func NormalizeToUSDT(symbol string) string {
	if symbol == "" {
		return symbol
	}

	s := strings.ToUpper(strings.TrimSpace(symbol))

	// If it already ends with USDT, nothing to do
	if strings.HasSuffix(s, "USDT") {
		return s
	}

	// If it ends with USD, replace with USDT
	if strings.HasSuffix(s, "USD") {
		base := strings.TrimSuffix(s, "USD")
		return base + "USDT"
	}

	// Otherwise, return as is (do not force)
	return s
}

// Capture records a system exception, logs it locally, and optionally
// persists it in the database.
func Capture(
	ctx context.Context,
	repo *repository.ExceptionRepository,
	service string,
	module string,
	method string,
	level string,
	err error,
	contextData map[string]interface{},
) {

	if err == nil {
		return
	}

	var ctxJSON string
	if contextData != nil {
		if b, e := json.Marshal(contextData); e == nil {
			ctxJSON = string(b)
		}
	}

	exc := &model.Exception{
		Service:   service,
		Module:    module,
		Method:    method,
		Message:   err.Error(),
		Stack:     string(debug.Stack()),
		Level:     level,
		Context:   ctxJSON,
		CreatedAt: time.Now(),
	}

	// Local log
	logger.WithFields(map[string]interface{}{
		"service": service,
		"module":  module,
		"method":  method,
		"level":   level,
	}).WithError(err).Error("System exception captured")

	// Persist in database
	if repo != nil {
		if e := repo.Create(ctx, exc); e != nil {
			logger.WithError(e).Error("Failed to persist exception")
		}
	}
}
