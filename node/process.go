// Package node runs replica processes.
//
// A Process is one replica. It owns the transport, the process-wide inbox and one
// consensus.System per consensus run it takes part in. A Handler starts and stops
// processes on request of the hub.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/relab/shardledger"
	"github.com/relab/shardledger/consensus"
	"github.com/relab/shardledger/internal/inbox"
	"github.com/relab/shardledger/logging"
	"github.com/relab/shardledger/transport"
	"go.uber.org/multierr"
)

// Config holds the parameters of a replica process.
type Config struct {
	Host  string
	Port  int
	Owner string // the alias of the shard
	Index int

	HubHost string
	HubPort int

	Consensus consensus.Config
	Transport transport.Config

	// OrphanTimeout is how long messages of a run whose proposal never arrived are kept.
	OrphanTimeout time.Duration
}

// DefaultOrphanTimeout is used when Config.OrphanTimeout is not set.
const DefaultOrphanTimeout = time.Minute

// Process is a replica process.
type Process struct {
	cfg       Config
	logger    logging.Logger
	inbox     *inbox.Inbox
	transport *transport.Transport

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mut      sync.Mutex
	systems  map[string]*consensus.System
	finished map[string]struct{}
	orphans  map[string]time.Time // runs with pending messages but no System, by first arrival
	now      func() time.Time
}

// NewProcess returns a new replica process. It does nothing until Start is called.
func NewProcess(cfg Config, logger logging.Logger) *Process {
	if cfg.OrphanTimeout <= 0 {
		cfg.OrphanTimeout = DefaultOrphanTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Process{
		cfg:      cfg,
		logger:   logger,
		inbox:    inbox.New(),
		ctx:      ctx,
		cancel:   cancel,
		systems:  make(map[string]*consensus.System),
		finished: make(map[string]struct{}),
		orphans:  make(map[string]time.Time),
		now:      time.Now,
	}
	p.transport = transport.New(cfg.Host, cfg.Port, cfg.Transport, p.handle, logger)
	return p
}

// Start starts listening and registers the process with the hub.
func (p *Process) Start(ctx context.Context) error {
	if err := p.transport.Listen(ctx); err != nil {
		return err
	}
	p.logger.Infof("%s-%d listening on %s:%d", p.cfg.Owner, p.cfg.Index, p.transport.Host(), p.transport.Port())
	p.send(p.cfg.HubHost, p.cfg.HubPort, &shardledger.Message{
		Type:  shardledger.AppRegistration,
		Owner: p.cfg.Owner,
		Index: p.cfg.Index,
	})
	p.wg.Add(1)
	go p.expireOrphans()
	return nil
}

// Host returns the host of the process.
func (p *Process) Host() string {
	return p.transport.Host()
}

// Port returns the port the process listens on.
func (p *Process) Port() int {
	return p.transport.Port()
}

// Running returns the number of consensus runs in progress.
func (p *Process) Running() int {
	p.mut.Lock()
	defer p.mut.Unlock()
	return len(p.systems)
}

// Stop stops every consensus run and closes the transport.
func (p *Process) Stop() error {
	// startSystem checks ctx under mut, so no run is started after this.
	p.mut.Lock()
	p.cancel()
	p.mut.Unlock()
	p.wg.Wait()
	return p.transport.Close()
}

// Send sends msg through the transport. It implements consensus.Sender.
func (p *Process) Send(host string, port int, msg *shardledger.Message) {
	p.transport.Send(host, port, msg)
}

func (p *Process) send(host string, port int, msg *shardledger.Message) {
	msg.SenderHost = p.transport.Host()
	msg.SenderPort = p.transport.Port()
	p.transport.Send(host, port, msg)
}

// handle is called by the transport for every message received.
func (p *Process) handle(msg *shardledger.Message) {
	if msg.SystemID == "" {
		p.logger.Warnf("ignoring %v without a system id", msg)
		return
	}

	p.mut.Lock()
	defer p.mut.Unlock()
	if _, ok := p.finished[msg.SystemID]; ok {
		p.logger.Debugf("discarding %v for finished run", msg)
		return
	}
	if _, ok := p.systems[msg.SystemID]; !ok {
		if msg.Type != shardledger.AppPropose {
			if _, ok := p.orphans[msg.SystemID]; !ok {
				p.orphans[msg.SystemID] = p.now()
			}
		} else if err := p.startSystem(msg); err != nil {
			p.logger.Errorf("failed to start run %s: %v", msg.SystemID, err)
			return
		}
	}
	// enqueued under mut, so that sweep never discards a message of a run that just started
	p.inbox.Enqueue(msg)
}

// expireOrphans periodically discards the messages of runs that never started.
func (p *Process) expireOrphans() {
	defer p.wg.Done()
	t := time.NewTicker(p.cfg.OrphanTimeout / 2)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			p.sweep()
		case <-p.ctx.Done():
			return
		}
	}
}

// sweep discards the pending messages of runs whose proposal has not arrived within
// OrphanTimeout of their first message.
func (p *Process) sweep() {
	p.mut.Lock()
	defer p.mut.Unlock()
	now := p.now()
	for id, first := range p.orphans {
		if now.Sub(first) < p.cfg.OrphanTimeout {
			continue
		}
		delete(p.orphans, id)
		n := p.inbox.Discard(id)
		p.logger.Debugf("discarded %d messages of run %s, which never started", n, id)
	}
}

// startSystem creates the System for the run that msg proposes a value for.
// Must be called with mut held.
func (p *Process) startSystem(msg *shardledger.Message) error {
	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	default:
	}
	self := shardledger.ProcessID{
		Host:  p.transport.Host(),
		Port:  p.transport.Port(),
		Owner: p.cfg.Owner,
		Index: p.cfg.Index,
	}
	members := shardledger.NewMembership(msg.Processes)
	logger := logging.New(fmt.Sprintf("sys/%s", msg.SystemID))
	sys, err := consensus.NewSystem(msg.SystemID, self, members, p.cfg.Consensus, p.inbox, p, logger)
	if err != nil {
		return err
	}
	p.systems[msg.SystemID] = sys
	delete(p.orphans, msg.SystemID)
	p.wg.Add(1)
	go p.run(sys)
	return nil
}

func (p *Process) run(sys *consensus.System) {
	defer p.wg.Done()
	err := sys.Run(p.ctx)
	switch {
	case err == nil:
		v, _ := sys.Decision()
		p.logger.Infof("run %s decided %v", sys.ID(), v)
	case errors.Is(err, context.Canceled):
		p.logger.Debugf("run %s canceled", sys.ID())
	default:
		p.logger.Errorf("run %s failed: %v", sys.ID(), err)
	}

	p.mut.Lock()
	delete(p.systems, sys.ID())
	p.finished[sys.ID()] = struct{}{}
	p.mut.Unlock()
	if n := p.inbox.Discard(sys.ID()); n > 0 {
		p.logger.Debugf("discarded %d pending messages of run %s", n, sys.ID())
	}
}

// stopAll stops every process in procs and combines their errors.
func stopAll(procs []*Process) (err error) {
	for _, p := range procs {
		err = multierr.Append(err, p.Stop())
	}
	return err
}
