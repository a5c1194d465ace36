package realtime

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// WriteWait bounds every websocket write.
	WriteWait time.Duration `envconfig:"WS_WRITE_WAIT" default:"10s"`
	// PongWait is the heartbeat window: a connection with no pong inside it
	// is considered dead and reclaimed.
	PongWait time.Duration `envconfig:"WS_PONG_WAIT" default:"60s"`
	// SendBuffer is the per-connection outbound queue; a full queue marks
	// the client as too slow and the message is dropped.
	SendBuffer     int           `envconfig:"WS_SEND_BUFFER" default:"256"`
	MaxMessageSize int64         `envconfig:"WS_MAX_MESSAGE_SIZE" default:"4096"`
	LookupTimeout  time.Duration `envconfig:"WS_LOOKUP_TIMEOUT" default:"3s"`
}

// PingPeriod derives the server ping interval from the pong window.
func (c Config) PingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
