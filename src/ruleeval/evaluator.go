package ruleeval

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"

	"perpexecutor/src/externalmodel"
)

// Verdict is the rule evaluator's decision for one agent/signal pair.
type Verdict struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

type evaluateRequest struct {
	RuleText string               `json:"rule_text"`
	Signal   externalmodel.Signal `json:"signal"`
}

// HTTPEvaluator calls the external rule-evaluation service that
// interprets an agent's natural-language entry rules against a signal.
type HTTPEvaluator struct {
	url  string
	http *resty.Client
}

func NewHTTPEvaluator() *HTTPEvaluator {
	cfg := GetConfig()

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(1).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500 || r.StatusCode() == http.StatusTooManyRequests
		})

	return &HTTPEvaluator{url: cfg.EvaluatorURL, http: client}
}

// Evaluate submits the rule text and signal and returns the verdict.
func (e *HTTPEvaluator) Evaluate(ctx context.Context, ruleText string, signal externalmodel.Signal) (*Verdict, error) {
	var verdict Verdict

	resp, err := e.http.R().
		SetContext(ctx).
		SetBody(evaluateRequest{RuleText: ruleText, Signal: signal}).
		SetResult(&verdict).
		Post(e.url)

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"symbol": signal.Symbol,
		}).WithError(err).Error("Rule evaluation request failed")
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("rule evaluator returned %d: %s", resp.StatusCode(), resp.String())
	}

	logger.WithFields(map[string]interface{}{
		"symbol":   signal.Symbol,
		"approved": verdict.Approved,
		"reason":   verdict.Reason,
	}).Debug("Rule evaluation verdict")

	return &verdict, nil
}
