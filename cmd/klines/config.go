package klines

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	StartDt  time.Time `envconfig:"KLINES_START_DATE" default:"2026-01-01T00:00:00Z"`
	EndDt    time.Time `envconfig:"KLINES_END_DATE" default:"2027-01-31T00:00:00Z"`
	AutoMode bool      `envconfig:"KLINES_AUTO_MODE" default:"true"`
	Symbol   string    `envconfig:"KLINES_SYMBOL" default:"BTC"`
	Quote    string    `envconfig:"KLINES_QUOTE" default:"USDT"`
	Limit    int       `envconfig:"KLINES_LIMIT" default:"1000"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
