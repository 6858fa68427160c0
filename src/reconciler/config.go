package reconciler

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Interval between reconciliation sweeps.
	Interval time.Duration `envconfig:"RECONCILER_INTERVAL" default:"3m"`

	// RepairBatch bounds how many zero-PnL trades one sweep re-audits.
	RepairBatch int `envconfig:"RECONCILER_REPAIR_BATCH" default:"50"`

	// StreamRefresh is how often the stream listener rescans the active
	// agent set and restarts dead streams.
	StreamRefresh time.Duration `envconfig:"STREAM_REFRESH_INTERVAL" default:"1m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
