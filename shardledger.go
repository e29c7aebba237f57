// Package shardledger defines the types shared by the consensus engine, the transport,
// the replica processes and the hub.
//
// A shard is a set of replica processes. For every transaction submitted to a shard the hub
// starts a new consensus run, identified by a system id. Each replica runs one
// consensus.System per run:
//
//	             +----------------+   StartEpoch()   +-------------------+
//	 timeout --->|  EpochChange   |----------------->| UniformConsensus  |<--- app-propose
//	             |      (ec)      |                  |       (uc)        |---> app-decide
//	             +----------------+                  +-------------------+
//	                                                   |  InitializeNewEpoch()
//	                                                   v            ^ Decide()
//	                                        +---------------------------+
//	                                        | EpochConsensus (ep{ets})  |
//	                                        +---------------------------+
//
// All three abstractions receive their messages through the System's event loop, which
// reads from the process-wide inbox filled by the transport.
package shardledger

import (
	"fmt"
	"net"
	"sort"
	"strconv"
)

// ProcessID identifies a replica process. The rank is assigned by the hub in registration order.
type ProcessID struct {
	Host  string
	Port  int
	Owner string // the shard alias
	Index int    // position of the process within its shard at deployment
	Rank  int
}

// Addr returns the host:port address of the process.
func (p ProcessID) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// At returns true if the process listens on the given host and port.
func (p ProcessID) At(host string, port int) bool {
	return p.Host == host && p.Port == port
}

func (p ProcessID) String() string {
	return fmt.Sprintf("%s-%d", p.Owner, p.Index)
}

// Transaction is a transfer between two accounts of a shard.
// Deposits have an empty From account.
type Transaction struct {
	ID     string
	From   string
	To     string
	Amount float64
	Shard  string
}

// Value is the unit of agreement. The zero Value (Defined == false) is ⊥.
type Value struct {
	Defined     bool
	Timestamp   int64 // unix time (seconds) at which the value was created
	Transaction Transaction
}

// Equal compares two values by content.
func (v Value) Equal(other Value) bool {
	return v == other
}

func (v Value) String() string {
	if !v.Defined {
		return "⊥"
	}
	tx := v.Transaction
	return fmt.Sprintf("tx %s (%s -> %s: %g)", tx.ID, tx.From, tx.To, tx.Amount)
}

// EpochState is the highest timestamped value that a replica has written.
// It is carried from one epoch to the next.
type EpochState struct {
	ValueTimestamp int64
	Value          Value
}

// Membership is the ordered set of processes taking part in a consensus run, sorted by rank.
type Membership []ProcessID

// NewMembership returns a copy of the processes sorted by rank.
func NewMembership(processes []ProcessID) Membership {
	m := make(Membership, len(processes))
	copy(m, processes)
	sort.SliceStable(m, func(i, j int) bool { return m[i].Rank < m[j].Rank })
	return m
}

// Len returns the number of processes.
func (m Membership) Len() int {
	return len(m)
}

// QuorumSize returns the size of a majority quorum.
func (m Membership) QuorumSize() int {
	return len(m)/2 + 1
}

// Lookup returns the process listening on host:port.
func (m Membership) Lookup(host string, port int) (ProcessID, bool) {
	for _, p := range m {
		if p.At(host, port) {
			return p, true
		}
	}
	return ProcessID{}, false
}

// Leader returns the process that leads the given round, in round-robin order of rank.
func (m Membership) Leader(round int64) ProcessID {
	if len(m) == 0 {
		panic("shardledger: leader of empty membership")
	}
	return m[int(round%int64(len(m)))]
}
