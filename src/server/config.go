package server

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port string `envconfig:"PORT" default:"9898"`

	// ServiceAPIKey, when set, is required as a Bearer token on every
	// route except the healthcheck.
	ServiceAPIKey string `envconfig:"SERVICE_API_KEY"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
