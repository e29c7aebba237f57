// Package testutil provides an in-memory network for testing consensus runs.
package testutil

import (
	"fmt"
	"strings"
	"testing"

	"github.com/relab/shardledger"
	"github.com/relab/shardledger/consensus"
	"github.com/relab/shardledger/internal/inbox"
	"github.com/relab/shardledger/logging"
)

// SystemID is the id of the consensus run of a Network.
const SystemID = "test-run"

// HubHost and HubPort are the address that proposals are sent from.
const (
	HubHost = "hub"
	HubPort = 5000
)

// DropFunc decides whether a message from sender to receiver is lost.
type DropFunc func(sender, receiver shardledger.ProcessID, msg *shardledger.Message) bool

// Node is a replica of the simulated shard.
type Node struct {
	ID     shardledger.ProcessID
	Inbox  *inbox.Inbox
	System *consensus.System

	network *Network
	crashed bool
}

// Send implements consensus.Sender.
func (n *Node) Send(host string, port int, msg *shardledger.Message) {
	n.network.deliver(n, host, port, msg)
}

// Network is a simulated shard where every replica runs the same consensus run.
// Messages are delivered to the receiver's inbox immediately, and nothing happens until
// the test steps the replicas or ticks their timers.
type Network struct {
	t       testing.TB
	members shardledger.Membership
	nodes   []*Node
	drop    []DropFunc

	// Decisions holds the app-decide messages sent to the hub.
	Decisions []shardledger.Message
	// Log collects the output of every replica.
	Log strings.Builder
}

// Members returns n processes on localhost, ranked in port order.
func Members(n int) shardledger.Membership {
	processes := make([]shardledger.ProcessID, n)
	for i := range processes {
		processes[i] = shardledger.ProcessID{
			Host:  "localhost",
			Port:  HubPort + 1 + i,
			Owner: "test",
			Index: i + 1,
			Rank:  i,
		}
	}
	return shardledger.NewMembership(processes)
}

// NewNetwork creates a shard of n replicas and starts the first epoch on each of them.
func NewNetwork(t testing.TB, n int, cfg consensus.Config) *Network {
	t.Helper()
	net := &Network{t: t, members: Members(n)}
	for _, id := range net.members {
		node := &Node{ID: id, Inbox: inbox.New(), network: net}
		logger := logging.NewWithDest(&net.Log, fmt.Sprintf("sys/%s", id))
		sys, err := consensus.NewSystem(SystemID, id, net.members, cfg, node.Inbox, node, logger)
		if err != nil {
			t.Fatalf("failed to create system for %v: %v", id, err)
		}
		if err := sys.Start(); err != nil {
			t.Fatalf("failed to start system for %v: %v", id, err)
		}
		node.System = sys
		net.nodes = append(net.nodes, node)
	}
	return net
}

// Node returns the replica with the given rank.
func (n *Network) Node(rank int) *Node {
	return n.nodes[rank]
}

// Nodes returns every replica, in rank order.
func (n *Network) Nodes() []*Node {
	return n.nodes
}

// Members returns the membership of the shard.
func (n *Network) Members() shardledger.Membership {
	return n.members
}

// Crash stops the replica with the given rank. It no longer sends or receives messages.
func (n *Network) Crash(rank int) {
	n.nodes[rank].crashed = true
}

// DropIf installs a filter for lost messages.
func (n *Network) DropIf(f DropFunc) {
	n.drop = append(n.drop, f)
}

func (n *Network) deliver(from *Node, host string, port int, msg *shardledger.Message) {
	if from.crashed {
		return
	}
	if host == HubHost && port == HubPort {
		n.Decisions = append(n.Decisions, *msg)
		return
	}
	var to *Node
	for _, node := range n.nodes {
		if node.ID.At(host, port) {
			to = node
		}
	}
	if to == nil {
		n.t.Errorf("message %v sent to unknown process %s:%d", msg, host, port)
		return
	}
	if to.crashed {
		return
	}
	for _, drop := range n.drop {
		if drop(from.ID, to.ID, msg) {
			return
		}
	}
	clone := *msg
	to.Inbox.Enqueue(&clone)
}

// Propose sends the proposal v from the hub to every live replica.
func (n *Network) Propose(v shardledger.Value) {
	for rank := range n.nodes {
		n.ProposeTo(rank, v)
	}
}

// ProposeTo sends the proposal v from the hub to the replica with the given rank.
func (n *Network) ProposeTo(rank int, v shardledger.Value) {
	node := n.nodes[rank]
	if node.crashed {
		return
	}
	node.Inbox.Enqueue(&shardledger.Message{
		Type:        shardledger.AppPropose,
		SystemID:    SystemID,
		Abstraction: shardledger.UniformConsensusKey,
		SenderHost:  HubHost,
		SenderPort:  HubPort,
		Value:       v,
		Processes:   n.members,
	})
}

// Step steps every live replica once and reports whether any of them made progress.
func (n *Network) Step() bool {
	progressed := false
	for _, node := range n.nodes {
		if node.crashed {
			continue
		}
		ok, err := node.System.Step()
		if err != nil {
			n.t.Fatalf("%v: %v", node.ID, err)
		}
		progressed = progressed || ok
	}
	return progressed
}

// Settle steps the replicas until none of them makes progress.
func (n *Network) Settle() {
	for i := 0; n.Step(); i++ {
		if i > 10000 {
			n.t.Fatal("network did not settle")
		}
	}
}

// Tick delivers a timeout to every live replica and settles the network.
func (n *Network) Tick() {
	for _, node := range n.nodes {
		if !node.crashed {
			node.System.Timeout()
		}
	}
	n.Settle()
}

// Decided returns true if every live replica has decided.
func (n *Network) Decided() bool {
	for _, node := range n.nodes {
		if !node.crashed && !node.System.Decided() {
			return false
		}
	}
	return true
}

// RunUntilDecided settles the network and ticks it until every live replica has decided.
// It fails the test if that takes more than maxTicks ticks.
func (n *Network) RunUntilDecided(maxTicks int) {
	n.t.Helper()
	n.Settle()
	for tick := 0; !n.Decided(); tick++ {
		if tick >= maxTicks {
			n.t.Fatalf("no decision after %d ticks\n%s", maxTicks, n.Log.String())
		}
		n.Tick()
	}
}
