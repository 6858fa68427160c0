package ruleeval

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// EvaluatorURL is the rule-evaluation service endpoint. Evaluation
	// latency is unbounded from the engine's point of view, which is
	// exactly why rule-based agents go through the task queue.
	EvaluatorURL string        `envconfig:"RULE_EVALUATOR_URL" default:"http://localhost:8090/evaluate"`
	Timeout      time.Duration `envconfig:"RULE_EVALUATOR_TIMEOUT" default:"60s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
