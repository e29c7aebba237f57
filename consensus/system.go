package consensus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relab/shardledger"
	"github.com/relab/shardledger/internal/inbox"
	"github.com/relab/shardledger/logging"
)

// System drives the abstractions of one consensus run on one replica.
//
// All abstractions are called from a single goroutine (the one running Run or Step),
// so they do not need locking. Only Decided and Decision may be called concurrently.
type System struct {
	id      string
	self    shardledger.ProcessID
	members shardledger.Membership
	cfg     Config
	inbox   *inbox.Inbox
	sender  Sender
	logger  logging.Logger

	abstractions []Abstraction // in registration order
	registry     map[string]Abstraction
	ec           *EpochChange
	uc           *UniformConsensus
	started      bool
	ticks        atomic.Uint64
	seen         map[*shardledger.Message]struct{} // pending messages offered at least once

	mut      sync.Mutex
	decided  bool
	decision shardledger.Value
	done     chan struct{}
}

// NewSystem creates the System for run id on the replica self.
func NewSystem(
	id string,
	self shardledger.ProcessID,
	members shardledger.Membership,
	cfg Config,
	q *inbox.Inbox,
	sender Sender,
	logger logging.Logger,
) (*System, error) {
	me, ok := members.Lookup(self.Host, self.Port)
	if !ok {
		return nil, fmt.Errorf("%w: %v in run %s", ErrNotMember, self, id)
	}
	s := &System{
		id:       id,
		self:     me,
		members:  members,
		cfg:      cfg.withDefaults(),
		inbox:    q,
		sender:   sender,
		logger:   logger,
		registry: make(map[string]Abstraction),
		seen:     make(map[*shardledger.Message]struct{}),
		done:     make(chan struct{}),
	}
	s.ec = newEpochChange(s)
	s.uc = newUniformConsensus(s)
	if err := s.register(s.ec); err != nil {
		return nil, err
	}
	if err := s.register(s.uc); err != nil {
		return nil, err
	}
	return s, nil
}

// ID returns the system id of the run.
func (s *System) ID() string {
	return s.id
}

// CurrentProcess returns the local replica.
func (s *System) CurrentProcess() shardledger.ProcessID {
	return s.self
}

// NumberOfProcesses returns the size of the shard.
func (s *System) NumberOfProcesses() int {
	return s.members.Len()
}

// Decided returns true once the run has decided.
func (s *System) Decided() bool {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.decided
}

// Decision returns the decided value, if any.
func (s *System) Decision() (shardledger.Value, bool) {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.decision, s.decided
}

// Done returns a channel that is closed when the run decides.
func (s *System) Done() <-chan struct{} {
	return s.done
}

// EpochChange returns the epoch change abstraction of the run.
// Like Step, it must only be used by the goroutine that drives the System.
func (s *System) EpochChange() *EpochChange {
	return s.ec
}

// UniformConsensus returns the uniform consensus abstraction of the run.
// Like Step, it must only be used by the goroutine that drives the System.
func (s *System) UniformConsensus() *UniformConsensus {
	return s.uc
}

// Epoch returns the epoch consensus instance for ets, if this replica has initialized it.
func (s *System) Epoch(ets int64) (*EpochConsensus, bool) {
	ep, ok := s.registry[shardledger.EpochKey(ets)].(*EpochConsensus)
	return ep, ok
}

func (s *System) register(a Abstraction) error {
	key := a.ID()
	if _, ok := s.registry[key]; ok {
		return fmt.Errorf("%w: %s in run %s", ErrDuplicateEpoch, key, s.id)
	}
	s.registry[key] = a
	s.abstractions = append(s.abstractions, a)
	return nil
}

// InitializeNewEpoch registers the epoch consensus instance for ets, seeded with state.
// Registering the same ets twice returns ErrDuplicateEpoch.
func (s *System) InitializeNewEpoch(ets int64, leader shardledger.ProcessID, state shardledger.EpochState) (*EpochConsensus, error) {
	ep := newEpochConsensus(s, ets, leader, state)
	if err := s.register(ep); err != nil {
		return nil, err
	}
	s.logger.Debugf("run %s: initialized %s led by %v", s.id, ep.ID(), leader)
	return ep, nil
}

// Start starts the first epoch. It is called by Run; tests that drive the System with Step
// must call it first.
func (s *System) Start() error {
	if s.started {
		return nil
	}
	s.started = true
	return s.ec.start()
}

// Timeout enqueues a local timeout tick for the epoch change abstraction.
func (s *System) Timeout() {
	s.inbox.Enqueue(&shardledger.Message{
		Type:        shardledger.Timeout,
		SystemID:    s.id,
		Abstraction: shardledger.EpochChangeKey,
		SenderHost:  s.self.Host,
		SenderPort:  s.self.Port,
		Tick:        s.ticks.Add(1),
	})
}

// Run runs the event loop until the run decides, a fatal error occurs, or ctx is canceled.
func (s *System) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.runTicker(ctx)

	for !s.uc.decided {
		wake := s.inbox.Changed()
		progressed, err := s.Step()
		if err != nil {
			return err
		}
		if progressed || s.uc.decided {
			continue
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *System) runTicker(ctx context.Context) {
	t := time.NewTicker(s.cfg.tickInterval())
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.Timeout()
		case <-ctx.Done():
			return
		}
	}
}

// Step offers every pending message of the run to the abstractions once.
// It returns true if at least one message was consumed.
// Once the run has decided, Step does nothing.
func (s *System) Step() (progressed bool, err error) {
	for _, msg := range s.inbox.Pending(s.id) {
		if s.uc.decided {
			return progressed, nil
		}
		if _, ok := s.seen[msg]; !ok {
			s.seen[msg] = struct{}{}
			s.ec.observe(msg)
		}
		consumed, err := s.offer(msg)
		if err != nil {
			return progressed, err
		}
		switch {
		case consumed:
			s.remove(msg)
			progressed = true
		case s.stale(msg):
			s.logger.Debugf("run %s: dropping stale %v", s.id, msg)
			s.remove(msg)
		}
	}
	return progressed, nil
}

func (s *System) remove(msg *shardledger.Message) {
	s.inbox.Dequeue(msg)
	delete(s.seen, msg)
}

// offer hands msg to every abstraction. The registry may grow while msg is being offered;
// abstractions added by an earlier one see msg too.
func (s *System) offer(msg *shardledger.Message) (consumed bool, err error) {
	for i := 0; i < len(s.abstractions); i++ {
		ok, err := s.abstractions[i].Handle(msg)
		if err != nil {
			return consumed, err
		}
		consumed = consumed || ok
		if s.uc.decided {
			break
		}
	}
	return consumed, nil
}

// stale returns true if no abstraction will ever consume msg: it addresses an epoch that
// this replica skipped, or it has an invalid key.
func (s *System) stale(msg *shardledger.Message) bool {
	if _, ok := s.registry[msg.Abstraction]; ok {
		return false
	}
	ets, ok := shardledger.ParseEpochKey(msg.Abstraction)
	if !ok {
		return true
	}
	return s.uc.started && ets < s.uc.ets
}

// send fills in the envelope of msg and sends it to p. Messages to self go straight to the inbox.
func (s *System) send(p shardledger.ProcessID, key string, msg shardledger.Message) {
	msg.SystemID = s.id
	msg.Abstraction = key
	msg.SenderHost = s.self.Host
	msg.SenderPort = s.self.Port
	if p.At(s.self.Host, s.self.Port) {
		s.inbox.Enqueue(&msg)
		return
	}
	s.sender.Send(p.Host, p.Port, &msg)
}

// sendTo replies to the sender of req.
func (s *System) sendTo(host string, port int, key string, msg shardledger.Message) {
	s.send(shardledger.ProcessID{Host: host, Port: port}, key, msg)
}

// broadcast sends msg to every member, including self if includeSelf is set.
func (s *System) broadcast(key string, msg shardledger.Message, includeSelf bool) {
	for _, p := range s.members {
		if !includeSelf && p.At(s.self.Host, s.self.Port) {
			continue
		}
		s.send(p, key, msg)
	}
}

// member returns the member that sent msg.
func (s *System) member(msg *shardledger.Message) (shardledger.ProcessID, bool) {
	return s.members.Lookup(msg.SenderHost, msg.SenderPort)
}

func (s *System) isSelf(p shardledger.ProcessID) bool {
	return p.At(s.self.Host, s.self.Port)
}

// startEpoch is called by the epoch change abstraction.
func (s *System) startEpoch(ets int64, leader shardledger.ProcessID) error {
	return s.uc.StartEpoch(ets, leader)
}

// decide is called by an epoch consensus instance when it decides.
func (s *System) decide(ets int64, v shardledger.Value) {
	s.uc.Decide(ets, v)
}

// onDecided publishes the decision of the run.
func (s *System) onDecided(v shardledger.Value) {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.decided {
		return
	}
	s.decided = true
	s.decision = v
	close(s.done)
}
