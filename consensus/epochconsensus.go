package consensus

import (
	"github.com/relab/shardledger"
)

// Phase is the state of an epoch consensus instance.
type Phase int

// The phases of an epoch consensus instance. Followers stay initialized until they decide.
const (
	Initialized Phase = iota
	Reading
	Writing
	PhaseDecided
	Aborted
)

func (p Phase) String() string {
	switch p {
	case Initialized:
		return "initialized"
	case Reading:
		return "reading"
	case Writing:
		return "writing"
	case PhaseDecided:
		return "decided"
	case Aborted:
		return "aborted"
	}
	return "invalid"
}

// EpochConsensus runs the read/write/decide protocol of a single epoch.
//
// If an instance decides v, the leader wrote v to a quorum, so the read phase of every later
// epoch sees v with the highest value timestamp and decides v too.
type EpochConsensus struct {
	sys    *System
	key    string
	ets    int64
	leader shardledger.ProcessID
	phase  Phase

	state shardledger.EpochState

	// leader only
	value       shardledger.Value
	states      map[string]shardledger.EpochState
	accepted    map[string]struct{}
	decidedSent bool
}

func newEpochConsensus(sys *System, ets int64, leader shardledger.ProcessID, state shardledger.EpochState) *EpochConsensus {
	return &EpochConsensus{
		sys:    sys,
		key:    shardledger.EpochKey(ets),
		ets:    ets,
		leader: leader,
		state:  state,
	}
}

// ID returns "ep{ets}".
func (ep *EpochConsensus) ID() string {
	return ep.key
}

// Timestamp returns the epoch timestamp of the instance.
func (ep *EpochConsensus) Timestamp() int64 {
	return ep.ets
}

// Phase returns the current phase.
func (ep *EpochConsensus) Phase() Phase {
	return ep.phase
}

// State returns the epoch state recorded by this instance.
func (ep *EpochConsensus) State() shardledger.EpochState {
	return ep.state
}

func (ep *EpochConsensus) isLeader() bool {
	return ep.sys.isSelf(ep.leader)
}

// Propose starts the read phase with v as the fallback value. It only has an effect on the
// leader of the epoch, once.
func (ep *EpochConsensus) Propose(v shardledger.Value) {
	if !ep.isLeader() || ep.phase != Initialized || !v.Defined {
		return
	}
	ep.value = v
	ep.phase = Reading
	ep.states = make(map[string]shardledger.EpochState)
	ep.sys.logger.Debugf("%s: reading", ep.key)
	ep.sendRead(true)
}

// Retransmit repeats the leader's message for the current phase to the other members.
// The leader calls it on every tick; the handlers ignore duplicates.
func (ep *EpochConsensus) Retransmit() {
	if !ep.isLeader() {
		return
	}
	switch {
	case ep.phase == Reading:
		ep.sys.logger.Debugf("%s: repeating read", ep.key)
		ep.sendRead(false)
	case ep.phase == Writing && !ep.decidedSent:
		ep.sys.logger.Debugf("%s: repeating write", ep.key)
		ep.sendWrite(false)
	case ep.decidedSent && ep.phase != Aborted:
		ep.sendDecided(false)
	}
}

func (ep *EpochConsensus) sendRead(includeSelf bool) {
	ep.sys.broadcast(ep.key, shardledger.Message{Type: shardledger.Read, EpochTimestamp: ep.ets}, includeSelf)
}

func (ep *EpochConsensus) sendWrite(includeSelf bool) {
	ep.sys.broadcast(ep.key, shardledger.Message{
		Type:           shardledger.Write,
		EpochTimestamp: ep.ets,
		Value:          ep.value,
	}, includeSelf)
}

func (ep *EpochConsensus) sendDecided(includeSelf bool) {
	ep.sys.broadcast(ep.key, shardledger.Message{
		Type:           shardledger.Decided,
		EpochTimestamp: ep.ets,
		Value:          ep.value,
	}, includeSelf)
}

// Abort stops the instance and returns its state, which seeds the next epoch.
func (ep *EpochConsensus) Abort() shardledger.EpochState {
	if ep.phase != Aborted {
		ep.sys.logger.Debugf("%s: aborted in phase %v", ep.key, ep.phase)
		ep.phase = Aborted
	}
	return ep.state
}

// Handle consumes every message addressed to this instance.
func (ep *EpochConsensus) Handle(msg *shardledger.Message) (bool, error) {
	if msg.Abstraction != ep.key {
		return false, nil
	}
	if ep.phase == Aborted {
		// An aborted instance never sends again, but a decision is still a decision.
		if msg.Type == shardledger.Decided {
			ep.onDecided(msg)
		}
		return true, nil
	}

	switch msg.Type {
	case shardledger.Read:
		ep.onRead(msg)
	case shardledger.State:
		ep.onState(msg)
	case shardledger.Write:
		ep.onWrite(msg)
	case shardledger.WriteAck:
		ep.onWriteAck(msg)
	case shardledger.Decided:
		ep.onDecided(msg)
	default:
		ep.sys.logger.Debugf("%s: ignoring %v", ep.key, msg)
	}
	return true, nil
}

func (ep *EpochConsensus) onRead(msg *shardledger.Message) {
	if !msg.From(ep.leader) {
		return
	}
	ep.sys.send(ep.leader, ep.key, shardledger.Message{
		Type:           shardledger.State,
		EpochTimestamp: ep.ets,
		ValueTimestamp: ep.state.ValueTimestamp,
		Value:          ep.state.Value,
	})
}

func (ep *EpochConsensus) onState(msg *shardledger.Message) {
	if !ep.isLeader() || ep.phase != Reading {
		return
	}
	sender, ok := ep.sys.member(msg)
	if !ok {
		return
	}
	ep.states[sender.Addr()] = shardledger.EpochState{
		ValueTimestamp: msg.ValueTimestamp,
		Value:          msg.Value,
	}
	if len(ep.states) < ep.sys.members.QuorumSize() {
		return
	}

	if st, ok := highest(ep.states); ok {
		ep.value = st.Value
	}
	ep.phase = Writing
	ep.accepted = make(map[string]struct{})
	ep.sys.logger.Debugf("%s: writing %v", ep.key, ep.value)
	ep.sendWrite(true)
}

// highest returns the defined state with the highest value timestamp.
// States holding ⊥ never win.
func highest(states map[string]shardledger.EpochState) (best shardledger.EpochState, ok bool) {
	for _, st := range states {
		if !st.Value.Defined {
			continue
		}
		if !ok || st.ValueTimestamp > best.ValueTimestamp {
			best, ok = st, true
		}
	}
	return best, ok
}

func (ep *EpochConsensus) onWrite(msg *shardledger.Message) {
	if !msg.From(ep.leader) || !msg.Value.Defined {
		return
	}
	ep.state = shardledger.EpochState{ValueTimestamp: ep.ets, Value: msg.Value}
	ep.sys.send(ep.leader, ep.key, shardledger.Message{
		Type:           shardledger.WriteAck,
		EpochTimestamp: ep.ets,
	})
}

func (ep *EpochConsensus) onWriteAck(msg *shardledger.Message) {
	if !ep.isLeader() || ep.phase != Writing || ep.decidedSent {
		return
	}
	sender, ok := ep.sys.member(msg)
	if !ok {
		return
	}
	ep.accepted[sender.Addr()] = struct{}{}
	if len(ep.accepted) < ep.sys.members.QuorumSize() {
		return
	}
	ep.decidedSent = true
	ep.sendDecided(true)
}

func (ep *EpochConsensus) onDecided(msg *shardledger.Message) {
	if !msg.From(ep.leader) || !msg.Value.Defined {
		return
	}
	if ep.phase == PhaseDecided {
		return
	}
	if ep.phase != Aborted {
		ep.phase = PhaseDecided
		ep.state = shardledger.EpochState{ValueTimestamp: ep.ets, Value: msg.Value}
	}
	ep.sys.logger.Debugf("%s: decided %v", ep.key, msg.Value)
	ep.sys.decide(ep.ets, msg.Value)
}
