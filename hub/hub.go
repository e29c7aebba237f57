// Package hub implements the orchestrator of a sharded ledger.
//
// The hub keeps the registry of replica processes, asks node handlers to deploy and stop
// them, and submits transactions. Every transaction is decided by a fresh consensus run on
// the replicas of its shard; the hub times it until the first replica reports the decision.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/relab/shardledger"
	"github.com/relab/shardledger/logging"
	"github.com/relab/shardledger/metrics"
	"github.com/relab/shardledger/transport"
	"golang.org/x/time/rate"
)

// ErrUnknownShard is returned when a transaction names a shard without registered processes.
var ErrUnknownShard = errors.New("hub: no processes registered for shard")

// Config holds the parameters of the hub.
type Config struct {
	Host string
	Port int

	// HandlerHost and HandlerPort locate the node handler that deploys processes.
	HandlerHost string
	HandlerPort int

	Transport transport.Config
}

// Hub is the orchestrator.
type Hub struct {
	cfg       Config
	logger    logging.Logger
	transport *transport.Transport
	registry  Registry
	txs       *metrics.Stopwatches
	now       func() time.Time

	mut       sync.Mutex
	submitted map[string]shardledger.Transaction
}

// New returns a new hub. It does not listen until Start is called.
func New(cfg Config, logger logging.Logger) *Hub {
	h := &Hub{
		cfg:       cfg,
		logger:    logger,
		txs:       metrics.NewStopwatches(),
		now:       time.Now,
		submitted: make(map[string]shardledger.Transaction),
	}
	h.transport = transport.New(cfg.Host, cfg.Port, cfg.Transport, h.handle, logger)
	return h
}

// Start starts listening for registrations and decisions.
func (h *Hub) Start(ctx context.Context) error {
	if err := h.transport.Listen(ctx); err != nil {
		return err
	}
	h.logger.Infof("hub listening on %s:%d", h.transport.Host(), h.transport.Port())
	return nil
}

// Port returns the port the hub listens on.
func (h *Hub) Port() int {
	return h.transport.Port()
}

// Close stops the hub.
func (h *Hub) Close() error {
	return h.transport.Close()
}

// Registry returns the process registry.
func (h *Hub) Registry() *Registry {
	return &h.registry
}

// Transactions returns the stopwatches of the submitted transactions.
func (h *Hub) Transactions() *metrics.Stopwatches {
	return h.txs
}

// Transaction returns a submitted transaction.
func (h *Hub) Transaction(id string) (shardledger.Transaction, bool) {
	h.mut.Lock()
	defer h.mut.Unlock()
	tx, ok := h.submitted[id]
	return tx, ok
}

func (h *Hub) handle(msg *shardledger.Message) {
	switch msg.Type {
	case shardledger.AppRegistration:
		p, added := h.registry.Register(msg.SenderHost, msg.SenderPort, msg.Owner, msg.Index)
		if added {
			h.logger.Infof("%v: listening on %s (rank %d)", p, p.Addr(), p.Rank)
		} else {
			h.logger.Infof("%v: already registered", p)
		}
	case shardledger.AppDecide:
		by := fmt.Sprintf("%s:%d", msg.SenderHost, msg.SenderPort)
		if p, ok := h.registry.Lookup(msg.SenderHost, msg.SenderPort); ok {
			by = p.String()
		}
		tx := msg.Value.Transaction
		if d, first := h.txs.Stop(tx.ID, by); first {
			h.logger.Infof("transaction %s decided by %s after %v", tx.ID, by, d)
		} else {
			h.logger.Debugf("transaction %s accepted by %s", tx.ID, by)
		}
	default:
		h.logger.Warnf("unhandled message %v", msg)
	}
}

func newID() string {
	return uuid.NewString()[:8]
}

func (h *Hub) send(host string, port int, msg *shardledger.Message) {
	msg.SenderHost = h.transport.Host()
	msg.SenderPort = h.transport.Port()
	h.transport.Send(host, port, msg)
}

// Transfer submits a transaction to every process of its shard, under a new consensus run.
// A deposit has an empty From account.
func (h *Hub) Transfer(args TransferArgs) (shardledger.Transaction, error) {
	members := h.registry.Shard(args.Shard)
	if len(members) == 0 {
		return shardledger.Transaction{}, fmt.Errorf("%w %q", ErrUnknownShard, args.Shard)
	}
	v := shardledger.Value{
		Defined:   true,
		Timestamp: h.now().Unix(),
		Transaction: shardledger.Transaction{
			ID:     newID(),
			From:   args.From,
			To:     args.To,
			Amount: args.Amount,
			Shard:  args.Shard,
		},
	}
	systemID := newID()
	h.mut.Lock()
	h.submitted[v.Transaction.ID] = v.Transaction
	h.mut.Unlock()
	h.txs.Start(v.Transaction.ID)
	for _, p := range members {
		h.logger.Debugf("%v will propose transaction %s", p, v.Transaction.ID)
		h.send(p.Host, p.Port, &shardledger.Message{
			Type:        shardledger.AppPropose,
			SystemID:    systemID,
			Abstraction: shardledger.UniformConsensusKey,
			Value:       v,
			Processes:   members,
		})
	}
	return v.Transaction, nil
}

// Bench submits n transfers to the shard at the given rate (transactions per second).
func (h *Hub) Bench(ctx context.Context, args BenchArgs) error {
	limiter := rate.NewLimiter(rate.Limit(args.Rate), 1)
	for i := 0; i < args.Count; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := h.Transfer(TransferArgs{
			From:   fmt.Sprintf("bench-%d", i),
			To:     fmt.Sprintf("bench-%d", i+1),
			Amount: 1,
			Shard:  args.Shard,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// processes expands shard ranges into the identities of their processes.
func (h *Hub) processes(shards []ShardRange) []shardledger.ProcessID {
	var ids []shardledger.ProcessID
	for _, s := range shards {
		for port, index := s.Start, 1; port <= s.End; port, index = port+1, index+1 {
			ids = append(ids, shardledger.ProcessID{
				Host:  h.cfg.HandlerHost,
				Port:  port,
				Owner: s.Alias,
				Index: index,
			})
		}
	}
	return ids
}

// Deploy asks the node handler to start the processes of the given shards.
func (h *Hub) Deploy(shards []ShardRange) {
	h.send(h.cfg.HandlerHost, h.cfg.HandlerPort, &shardledger.Message{
		Type:      shardledger.DeployNodes,
		SystemID:  newID(),
		Processes: h.processes(shards),
	})
}

// Stop asks the node handler to stop the processes of the given shards.
func (h *Hub) Stop(shards []ShardRange) {
	h.send(h.cfg.HandlerHost, h.cfg.HandlerPort, &shardledger.Message{
		Type:      shardledger.StopNodes,
		SystemID:  newID(),
		Processes: h.processes(shards),
	})
}
