package handler

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// InternalToken guards the copy-engine execute endpoint, which is
	// called by trading containers, not by users.
	InternalToken string `envconfig:"INTERNAL_API_TOKEN" default:"dev-internal-token"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
