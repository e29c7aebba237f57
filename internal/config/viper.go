// Package config builds the configuration of the shardledger commands from viper, which
// merges command line flags, environment variables, and the config file.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/relab/shardledger/consensus"
	"github.com/relab/shardledger/hub"
	"github.com/relab/shardledger/internal/profiling"
	"github.com/relab/shardledger/node"
	"github.com/relab/shardledger/transport"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// ErrInvalidConfig is wrapped by every validation error.
var ErrInvalidConfig = errors.New("invalid config")

// SetDefaults registers the default value of every key.
// Flags bound to the same keys override these.
func SetDefaults(v *viper.Viper) {
	cc := consensus.DefaultConfig()
	tc := transport.DefaultConfig()
	v.SetDefault("host", "localhost")
	v.SetDefault("hub-host", "localhost")
	v.SetDefault("hub-port", 5000)
	v.SetDefault("handler-host", "localhost")
	v.SetDefault("handler-port", 4999)
	v.SetDefault("index", 1)
	v.SetDefault("election-timeout", cc.ElectionTimeout)
	v.SetDefault("epoch-increment", cc.EpochIncrement)
	v.SetDefault("connect-timeout", tc.ConnectTimeout)
	v.SetDefault("queue-size", tc.QueueSize)
	v.SetDefault("orphan-timeout", node.DefaultOrphanTimeout)
}

func orphanTimeout(v *viper.Viper) (time.Duration, error) {
	d := v.GetDuration("orphan-timeout")
	if d <= 0 {
		return d, fmt.Errorf("%w: orphan-timeout must be positive", ErrInvalidConfig)
	}
	return d, nil
}

func consensusConfig(v *viper.Viper) (consensus.Config, error) {
	cfg := consensus.Config{
		ElectionTimeout: v.GetDuration("election-timeout"),
		EpochIncrement:  v.GetInt64("epoch-increment"),
	}
	var err error
	if cfg.ElectionTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: election-timeout must be positive", ErrInvalidConfig))
	}
	if cfg.EpochIncrement <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: epoch-increment must be positive", ErrInvalidConfig))
	}
	return cfg, err
}

func transportConfig(v *viper.Viper) (transport.Config, error) {
	cfg := transport.Config{
		ConnectTimeout: v.GetDuration("connect-timeout"),
		QueueSize:      v.GetInt("queue-size"),
	}
	var err error
	if cfg.ConnectTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: connect-timeout must be positive", ErrInvalidConfig))
	}
	if cfg.QueueSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: queue-size must be positive", ErrInvalidConfig))
	}
	return cfg, err
}

func checkPort(key string, port int, allowZero bool) error {
	if (port == 0 && allowZero) || (port > 0 && port <= 65535) {
		return nil
	}
	return fmt.Errorf("%w: %s %d is out of range", ErrInvalidConfig, key, port)
}

// NewNode returns the configuration of a replica process.
func NewNode(v *viper.Viper) (cfg node.Config, err error) {
	cfg = node.Config{
		Host:    v.GetString("host"),
		Port:    v.GetInt("port"),
		Owner:   v.GetString("owner"),
		Index:   v.GetInt("index"),
		HubHost: v.GetString("hub-host"),
		HubPort: v.GetInt("hub-port"),
	}
	var cErr, tErr, oErr error
	cfg.Consensus, cErr = consensusConfig(v)
	cfg.Transport, tErr = transportConfig(v)
	cfg.OrphanTimeout, oErr = orphanTimeout(v)
	err = multierr.Combine(
		cErr,
		tErr,
		oErr,
		checkPort("port", cfg.Port, true),
		checkPort("hub-port", cfg.HubPort, false),
	)
	if cfg.Owner == "" {
		err = multierr.Append(err, fmt.Errorf("%w: owner is required", ErrInvalidConfig))
	}
	if cfg.Index < 1 {
		err = multierr.Append(err, fmt.Errorf("%w: index must be at least 1", ErrInvalidConfig))
	}
	return cfg, err
}

// NewHandler returns the configuration of a node handler.
func NewHandler(v *viper.Viper) (cfg node.HandlerConfig, err error) {
	cfg = node.HandlerConfig{
		Host: v.GetString("handler-host"),
		Port: v.GetInt("handler-port"),
	}
	var cErr, tErr, oErr error
	cfg.Consensus, cErr = consensusConfig(v)
	cfg.Transport, tErr = transportConfig(v)
	cfg.OrphanTimeout, oErr = orphanTimeout(v)
	return cfg, multierr.Combine(cErr, tErr, oErr, checkPort("handler-port", cfg.Port, true))
}

// NewHub returns the configuration of the hub.
func NewHub(v *viper.Viper) (cfg hub.Config, err error) {
	cfg = hub.Config{
		Host:        v.GetString("hub-host"),
		Port:        v.GetInt("hub-port"),
		HandlerHost: v.GetString("handler-host"),
		HandlerPort: v.GetInt("handler-port"),
	}
	cfg.Transport, err = transportConfig(v)
	return cfg, multierr.Combine(
		err,
		checkPort("hub-port", cfg.Port, true),
		checkPort("handler-port", cfg.HandlerPort, false),
	)
}

// NewProfiling returns the output paths of the profilers.
func NewProfiling(v *viper.Viper) profiling.Paths {
	return profiling.Paths{
		CPU:    v.GetString("cpu-profile"),
		Memory: v.GetString("mem-profile"),
		Trace:  v.GetString("trace"),
		Fgprof: v.GetString("fgprof-profile"),
	}
}
