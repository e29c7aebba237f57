// Package consensus implements epoch-based uniform consensus for one shard.
//
// A System is created per consensus run on every replica of the shard. It owns three kinds
// of abstractions, each addressed by a stable key:
//
//   - EpochChange ("ec") elects a leader for increasing epoch timestamps,
//   - UniformConsensus ("uc") sequences the epochs and outputs the decision,
//   - EpochConsensus ("ep{ets}") runs the read/write/decide protocol for one epoch.
//
// The System's event loop takes the messages of its run from the process-wide inbox and
// offers each one to every abstraction, in registration order.
package consensus

import (
	"errors"
	"time"

	"github.com/relab/shardledger"
)

// ErrDuplicateEpoch is returned when an epoch consensus instance is registered twice for the same
// epoch timestamp. It is fatal to the consensus run.
var ErrDuplicateEpoch = errors.New("consensus: epoch consensus already registered")

// ErrNotMember is returned when a System is created for a process outside the membership.
var ErrNotMember = errors.New("consensus: process is not a member of the shard")

// Abstraction is a protocol component that reacts to messages.
type Abstraction interface {
	// ID returns the key that messages use to address the abstraction.
	ID() string
	// Handle processes msg and reports whether it consumed it.
	// A non-nil error is fatal to the consensus run.
	Handle(msg *shardledger.Message) (consumed bool, err error)
}

//go:generate mockgen -destination=../internal/mocks/sender_mock.go -package=mocks . Sender

// Sender delivers messages to other processes. Send must not block; delivery failures are
// handled by the sender and never reported to the abstractions.
type Sender interface {
	Send(host string, port int, msg *shardledger.Message)
}

// Config holds the timing parameters of a consensus run.
type Config struct {
	// ElectionTimeout is how long a replica waits without hearing from the trusted leader
	// before it suspects it. Ticks are generated every ElectionTimeout/2.
	ElectionTimeout time.Duration
	// EpochIncrement is the step between consecutive epoch timestamps.
	EpochIncrement int64
}

// DefaultConfig returns the default timing parameters.
func DefaultConfig() Config {
	return Config{
		ElectionTimeout: 5 * time.Second,
		EpochIncrement:  1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ElectionTimeout <= 0 {
		c.ElectionTimeout = d.ElectionTimeout
	}
	if c.EpochIncrement <= 0 {
		c.EpochIncrement = d.EpochIncrement
	}
	return c
}

// tickInterval is the period of the local timeout ticks.
func (c Config) tickInterval() time.Duration {
	return c.ElectionTimeout / suspectTicks
}
