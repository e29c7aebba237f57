package consensus

import (
	"github.com/relab/shardledger"
)

// suspectTicks is the number of consecutive ticks without a message from the trusted leader
// after which a replica suspects it.
const suspectTicks = 2

// LeaderState is the state of a replica's leader detector.
type LeaderState int

// The leader detector states.
const (
	Leaderless LeaderState = iota
	Candidate
	Trusted
)

func (s LeaderState) String() string {
	switch s {
	case Leaderless:
		return "leaderless"
	case Candidate:
		return "candidate"
	case Trusted:
		return "trusted"
	}
	return "invalid"
}

// EpochChange is an eventual leader detector. It produces a sequence of epochs with strictly
// increasing timestamps, each led by a single process, and starts each of them in the
// UniformConsensus abstraction.
type EpochChange struct {
	sys  *System
	step int64

	lastTS    int64 // highest accepted epoch timestamp
	trusted   shardledger.ProcessID
	hasLeader bool

	candidate int64 // highest timestamp this replica has moved past
	proposal  int64 // timestamp of our outstanding new-epoch, or -1
	acks      map[string]struct{}

	silentTicks int
}

func newEpochChange(sys *System) *EpochChange {
	return &EpochChange{
		sys:      sys,
		step:     sys.cfg.EpochIncrement,
		proposal: -1,
	}
}

// ID returns "ec".
func (ec *EpochChange) ID() string {
	return shardledger.EpochChangeKey
}

// State returns the current leader detector state.
func (ec *EpochChange) State() LeaderState {
	switch {
	case ec.proposal >= 0:
		return Candidate
	case ec.hasLeader:
		return Trusted
	}
	return Leaderless
}

// Leader returns the trusted leader and the timestamp of its epoch.
func (ec *EpochChange) Leader() (leader shardledger.ProcessID, ets int64, ok bool) {
	return ec.trusted, ec.lastTS, ec.hasLeader
}

// leaderOf returns the rank-correct leader of ets.
func (ec *EpochChange) leaderOf(ets int64) shardledger.ProcessID {
	return ec.sys.members.Leader(ets / ec.step)
}

func (ec *EpochChange) isLeader() bool {
	return ec.hasLeader && ec.sys.isSelf(ec.trusted)
}

// start trusts the lowest ranked process at epoch 0.
func (ec *EpochChange) start() error {
	ec.trusted = ec.leaderOf(0)
	ec.hasLeader = true
	return ec.sys.startEpoch(0, ec.trusted)
}

// observe is called by the System the first time it offers a message of the run. Any message
// from the trusted leader counts as a sign of life; a message waiting in the inbox is only
// counted when it arrives, not each time it is offered again.
func (ec *EpochChange) observe(msg *shardledger.Message) {
	if msg.Type != shardledger.Timeout && ec.hasLeader && msg.From(ec.trusted) {
		ec.silentTicks = 0
	}
}

// Handle consumes messages addressed to "ec".
func (ec *EpochChange) Handle(msg *shardledger.Message) (bool, error) {
	if msg.Abstraction != shardledger.EpochChangeKey {
		return false, nil
	}

	var err error
	switch msg.Type {
	case shardledger.Timeout:
		err = ec.onTimeout()
	case shardledger.Heartbeat:
		err = ec.onHeartbeat(msg)
	case shardledger.NewEpoch:
		err = ec.onNewEpoch(msg)
	case shardledger.NewEpochAck:
		err = ec.onAck(msg)
	case shardledger.NewEpochNack:
		ec.onNack(msg)
	default:
		ec.sys.logger.Debugf("ec: ignoring %v", msg)
	}
	return true, err
}

func (ec *EpochChange) onTimeout() error {
	if ec.isLeader() {
		ec.sys.broadcast(ec.ID(), shardledger.Message{
			Type:           shardledger.Heartbeat,
			EpochTimestamp: ec.lastTS,
		}, false)
		// followers never suspect a leader that heartbeats, so lost messages are repeated here
		if ep := ec.sys.uc.Current(); ep != nil {
			ep.Retransmit()
		}
		return nil
	}

	ec.silentTicks++
	if ec.silentTicks < suspectTicks {
		return nil
	}
	ec.silentTicks = 0

	if ec.hasLeader {
		ec.sys.logger.Infof("ec: suspecting %v, leader of epoch %d", ec.trusted, ec.lastTS)
	}
	if ec.candidate < ec.lastTS {
		ec.candidate = ec.lastTS
	}
	ec.candidate += ec.step

	next := ec.leaderOf(ec.candidate)
	if !ec.sys.isSelf(next) {
		ec.sys.logger.Debugf("ec: waiting for %v to propose epoch %d", next, ec.candidate)
		return nil
	}

	ec.proposal = ec.candidate
	ec.acks = map[string]struct{}{ec.sys.self.Addr(): {}}
	ec.sys.logger.Infof("ec: proposing epoch %d", ec.proposal)
	ec.sys.broadcast(ec.ID(), shardledger.Message{
		Type:           shardledger.NewEpoch,
		EpochTimestamp: ec.proposal,
	}, false)
	return ec.checkAcks()
}

func (ec *EpochChange) onHeartbeat(msg *shardledger.Message) error {
	switch {
	case msg.EpochTimestamp < ec.lastTS:
		ec.nack(msg)
	case msg.EpochTimestamp > ec.lastTS:
		// The leader's new-epoch has not arrived yet; its heartbeat is just as good.
		return ec.onNewEpoch(msg)
	}
	return nil
}

func (ec *EpochChange) onNewEpoch(msg *shardledger.Message) error {
	sender, ok := ec.sys.member(msg)
	if !ok {
		return nil
	}
	ets := msg.EpochTimestamp

	if ets < ec.lastTS {
		ec.nack(msg)
		return nil
	}
	if ets == ec.lastTS {
		if ec.hasLeader && ec.trusted.At(sender.Host, sender.Port) {
			ec.ack(msg) // duplicate of the accepted proposal
		} else {
			ec.nack(msg)
		}
		return nil
	}
	if !ec.leaderOf(ets).At(sender.Host, sender.Port) {
		ec.sys.logger.Warnf("ec: %v is not the leader of epoch %d", sender, ets)
		return nil
	}

	ec.lastTS = ets
	ec.trusted = sender
	ec.hasLeader = true
	ec.silentTicks = 0
	if ec.candidate < ets {
		ec.candidate = ets
	}
	if ec.proposal >= 0 && ec.proposal <= ets {
		ec.proposal = -1
	}
	ec.ack(msg)
	ec.sys.logger.Debugf("ec: trusting %v for epoch %d", sender, ets)
	return ec.sys.startEpoch(ets, sender)
}

func (ec *EpochChange) onAck(msg *shardledger.Message) error {
	if ec.proposal < 0 || msg.EpochTimestamp != ec.proposal {
		return nil
	}
	sender, ok := ec.sys.member(msg)
	if !ok {
		return nil
	}
	ec.acks[sender.Addr()] = struct{}{}
	return ec.checkAcks()
}

func (ec *EpochChange) checkAcks() error {
	if len(ec.acks) < ec.sys.members.QuorumSize() {
		return nil
	}
	ets := ec.proposal
	ec.proposal = -1
	if ets <= ec.lastTS {
		return nil
	}
	ec.lastTS = ets
	ec.trusted = ec.sys.self
	ec.hasLeader = true
	ec.silentTicks = 0
	ec.sys.logger.Infof("ec: elected leader of epoch %d", ets)
	return ec.sys.startEpoch(ets, ec.sys.self)
}

func (ec *EpochChange) onNack(msg *shardledger.Message) {
	ets := msg.EpochTimestamp
	if ets > ec.candidate {
		ec.candidate = ets
	}
	if ec.proposal >= 0 && ec.proposal <= ets {
		ec.sys.logger.Debugf("ec: abandoning proposal for epoch %d", ec.proposal)
		ec.proposal = -1
	}
	if ec.isLeader() && ets > ec.lastTS {
		ec.sys.logger.Infof("ec: epoch %d has been superseded by %d", ec.lastTS, ets)
		ec.hasLeader = false
	}
}

func (ec *EpochChange) ack(msg *shardledger.Message) {
	ec.sys.sendTo(msg.SenderHost, msg.SenderPort, ec.ID(), shardledger.Message{
		Type:           shardledger.NewEpochAck,
		EpochTimestamp: msg.EpochTimestamp,
	})
}

func (ec *EpochChange) nack(msg *shardledger.Message) {
	ec.sys.sendTo(msg.SenderHost, msg.SenderPort, ec.ID(), shardledger.Message{
		Type:           shardledger.NewEpochNack,
		EpochTimestamp: ec.lastTS,
	})
}
