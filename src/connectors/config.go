package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BaseURL string `envconfig:"PHEMEX_BASE_URL" default:"https://api.phemex.com"`
	WsURL   string `envconfig:"PHEMEX_WS_URL" default:"wss://ws.phemex.com"`

	// Instrument metadata TTL. Streaming venues refresh every few
	// minutes; REST-only venues can hold metadata for an hour.
	InstrumentTTL         time.Duration `envconfig:"INSTRUMENT_TTL" default:"5m"`
	InstrumentTTLRestOnly time.Duration `envconfig:"INSTRUMENT_TTL_REST_ONLY" default:"1h"`
	PriceTTL              time.Duration `envconfig:"PRICE_TTL" default:"10s"`

	RequestTimeout time.Duration `envconfig:"EXCHANGE_REQUEST_TIMEOUT" default:"15s"`

	// Slippage band for protective limit prices on market-style
	// entries, as a fraction (0.005 = 0.5%).
	SlippageBand float64 `envconfig:"SLIPPAGE_BAND" default:"0.005"`

	ReconnectBaseDelay   time.Duration `envconfig:"WS_RECONNECT_BASE_DELAY" default:"1s"`
	ReconnectMaxDelay    time.Duration `envconfig:"WS_RECONNECT_MAX_DELAY" default:"30s"`
	ReconnectMaxAttempts int           `envconfig:"WS_RECONNECT_MAX_ATTEMPTS" default:"10"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
