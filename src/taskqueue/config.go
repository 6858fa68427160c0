package taskqueue

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// PollInterval between queue polls when no work was found.
	PollInterval time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"5s"`

	// ClaimBatch bounds how many tasks one poll claims.
	ClaimBatch int `envconfig:"WORKER_CLAIM_BATCH" default:"5"`

	// Staleness is how long a task may sit in processing before it is
	// assumed orphaned by a crashed worker and reset to pending.
	Staleness time.Duration `envconfig:"WORKER_TASK_STALENESS" default:"10m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
