package consensus

import (
	"github.com/relab/shardledger"
)

// UniformConsensus sequences epoch consensus instances until one of them decides.
// It accepts one proposal per run and decides at most once.
type UniformConsensus struct {
	sys *System

	proposal     shardledger.Value
	proposed     bool
	proposerHost string
	proposerPort int

	started bool
	ets     int64
	leader  shardledger.ProcessID
	current *EpochConsensus

	decided bool
	value   shardledger.Value
}

func newUniformConsensus(sys *System) *UniformConsensus {
	return &UniformConsensus{sys: sys}
}

// ID returns "uc".
func (uc *UniformConsensus) ID() string {
	return shardledger.UniformConsensusKey
}

// Epoch returns the timestamp of the current epoch.
func (uc *UniformConsensus) Epoch() (ets int64, ok bool) {
	return uc.ets, uc.started
}

// Current returns the current epoch consensus instance, or nil before the first epoch.
func (uc *UniformConsensus) Current() *EpochConsensus {
	return uc.current
}

// Decided returns true once a value has been decided.
func (uc *UniformConsensus) Decided() bool {
	return uc.decided
}

// Value returns the decided value; it is ⊥ until Decided returns true.
func (uc *UniformConsensus) Value() shardledger.Value {
	return uc.value
}

// Handle consumes the proposals addressed to "uc".
func (uc *UniformConsensus) Handle(msg *shardledger.Message) (bool, error) {
	if msg.Abstraction != shardledger.UniformConsensusKey {
		return false, nil
	}
	if msg.Type == shardledger.AppPropose {
		uc.onPropose(msg)
	} else {
		uc.sys.logger.Debugf("uc: ignoring %v", msg)
	}
	return true, nil
}

func (uc *UniformConsensus) onPropose(msg *shardledger.Message) {
	if uc.proposed {
		uc.sys.logger.Debugf("uc: already proposed %v, ignoring %v", uc.proposal, msg.Value)
		return
	}
	if !msg.Value.Defined {
		uc.sys.logger.Warnf("uc: ignoring proposal without a value from %s:%d", msg.SenderHost, msg.SenderPort)
		return
	}
	uc.proposal = msg.Value
	uc.proposed = true
	uc.proposerHost = msg.SenderHost
	uc.proposerPort = msg.SenderPort
	uc.sys.logger.Debugf("uc: proposing %v", uc.proposal)
	uc.forward()
}

// forward hands the proposal to the current instance if this replica leads it.
func (uc *UniformConsensus) forward() {
	if uc.current == nil || !uc.proposed || !uc.sys.isSelf(uc.leader) {
		return
	}
	uc.current.Propose(uc.proposal)
}

// StartEpoch aborts the current instance and starts the instance for ets, seeded with the
// aborted instance's state. Epochs that are not newer than the current one are ignored.
func (uc *UniformConsensus) StartEpoch(ets int64, leader shardledger.ProcessID) error {
	if uc.decided || (uc.started && ets <= uc.ets) {
		return nil
	}
	var seed shardledger.EpochState
	if uc.current != nil {
		seed = uc.current.Abort()
	}
	ep, err := uc.sys.InitializeNewEpoch(ets, leader, seed)
	if err != nil {
		return err
	}
	uc.started = true
	uc.ets = ets
	uc.leader = leader
	uc.current = ep
	uc.forward()
	return nil
}

// Decide records the decision. Only the first defined value is kept.
func (uc *UniformConsensus) Decide(ets int64, v shardledger.Value) {
	if uc.decided || !v.Defined {
		return
	}
	uc.decided = true
	uc.value = v
	uc.sys.logger.Infof("run %s: decided %v in epoch %d", uc.sys.id, v, ets)
	uc.sys.onDecided(v)

	if uc.proposerHost == "" {
		return
	}
	uc.sys.sendTo(uc.proposerHost, uc.proposerPort, uc.ID(), shardledger.Message{
		Type:           shardledger.AppDecide,
		EpochTimestamp: ets,
		Value:          v,
	})
}
