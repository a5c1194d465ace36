package placement

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	OrchestratorBaseURL string        `envconfig:"ORCHESTRATOR_BASE_URL" default:"http://localhost:8090"`
	OrchestratorTimeout time.Duration `envconfig:"ORCHESTRATOR_TIMEOUT" default:"10s"`
	DefaultRegion       string        `envconfig:"PLACEMENT_REGION" default:"us-phoenix-1"`
	// ReserveAttempts bounds how many placements Deploy will try when slot
	// reservations keep losing to concurrent deploys.
	ReserveAttempts int `envconfig:"PLACEMENT_RESERVE_ATTEMPTS" default:"3"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
