package engine

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// EffectTimeout bounds the slave-side effect and the settle wait for
	// duplicate invocations. Shared with the placement layer by default.
	EffectTimeout time.Duration `envconfig:"COPY_EFFECT_TIMEOUT" default:"10s"`

	// PendingMaxAge is how long a ledger row may sit pending before the
	// reconciler settles it as timed out.
	PendingMaxAge time.Duration `envconfig:"COPY_PENDING_MAX_AGE" default:"2m"`

	// SweepPeriod is the reconciler loop interval.
	SweepPeriod time.Duration `envconfig:"COPY_SWEEP_PERIOD" default:"30s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
