// Package config holds the protocol timing tunables shared by both ends of a
// connection.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every variable read by Load.
const EnvPrefix = "ZEPHYRNET_"

type Config struct {
	// TickInterval drives periodic processing: sends, heartbeats, timeouts.
	TickInterval          time.Duration `env:"TICK_INTERVAL" envDefault:"1s"`
	// SendHandshakeInterval is how often an unanswered handshake is resent.
	SendHandshakeInterval time.Duration `env:"SEND_HANDSHAKE_INTERVAL" envDefault:"1s"`
	// DisconnectionTimeout is how long a peer may stay silent before it is
	// considered gone.
	DisconnectionTimeout  time.Duration `env:"DISCONNECTION_TIMEOUT" envDefault:"10s"`
	// HeartbeatInterval is the keep-alive cadence when there is nothing else
	// to send.
	HeartbeatInterval     time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"4s"`
	// RTTSmoothingFactor is the weight of a new sample in the RTT average.
	RTTSmoothingFactor    float32       `env:"RTT_SMOOTHING_FACTOR" envDefault:"0.10"`
	// RTTMaxValue clamps the RTT estimate, in milliseconds.
	RTTMaxValue           uint16        `env:"RTT_MAX_VALUE" envDefault:"250"`
}

func Default() Config {
	return Config{
		TickInterval:          time.Second,
		SendHandshakeInterval: time.Second,
		DisconnectionTimeout:  10 * time.Second,
		HeartbeatInterval:     4 * time.Second,
		RTTSmoothingFactor:    0.10,
		RTTMaxValue:           250,
	}
}

// Load reads the configuration from ZEPHYRNET_* environment variables,
// falling back to the defaults for anything unset.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick interval must be positive, got %s", c.TickInterval))
	}
	if c.SendHandshakeInterval <= 0 {
		errs = append(errs, fmt.Errorf("handshake interval must be positive, got %s", c.SendHandshakeInterval))
	}
	if c.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("heartbeat interval must be positive, got %s", c.HeartbeatInterval))
	}
	if c.DisconnectionTimeout <= c.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("disconnection timeout %s must exceed heartbeat interval %s",
			c.DisconnectionTimeout, c.HeartbeatInterval))
	}
	if c.RTTSmoothingFactor <= 0 || c.RTTSmoothingFactor > 1 {
		errs = append(errs, fmt.Errorf("rtt smoothing factor must be in (0,1], got %v", c.RTTSmoothingFactor))
	}
	if c.RTTMaxValue == 0 {
		errs = append(errs, errors.New("rtt max value must be positive"))
	}
	return errors.Join(errs...)
}
