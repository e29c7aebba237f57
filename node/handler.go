package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relab/shardledger"
	"github.com/relab/shardledger/consensus"
	"github.com/relab/shardledger/logging"
	"github.com/relab/shardledger/transport"
	"go.uber.org/multierr"
)

// HandlerConfig holds the parameters of a node handler.
type HandlerConfig struct {
	Host string
	Port int

	// Consensus and Transport are passed on to every process the handler deploys.
	Consensus consensus.Config
	Transport transport.Config

	// OrphanTimeout is passed on to every process, see Config.
	OrphanTimeout time.Duration
}

// Handler deploys and stops replica processes on behalf of the hub.
type Handler struct {
	cfg       HandlerConfig
	logger    logging.Logger
	transport *transport.Transport

	mut   sync.Mutex
	procs map[int]*Process // by port
}

// NewHandler returns a new node handler.
func NewHandler(cfg HandlerConfig, logger logging.Logger) *Handler {
	h := &Handler{
		cfg:    cfg,
		logger: logger,
		procs:  make(map[int]*Process),
	}
	h.transport = transport.New(cfg.Host, cfg.Port, cfg.Transport, h.handle, logger)
	return h
}

// Start starts listening for deploy and stop requests.
func (h *Handler) Start(ctx context.Context) error {
	if err := h.transport.Listen(ctx); err != nil {
		return err
	}
	h.logger.Infof("node handler listening on %s:%d", h.transport.Host(), h.transport.Port())
	return nil
}

// Port returns the port the handler listens on.
func (h *Handler) Port() int {
	return h.transport.Port()
}

// Processes returns the number of running processes.
func (h *Handler) Processes() int {
	h.mut.Lock()
	defer h.mut.Unlock()
	return len(h.procs)
}

func (h *Handler) handle(msg *shardledger.Message) {
	var err error
	switch msg.Type {
	case shardledger.DeployNodes:
		err = h.Deploy(context.Background(), msg.SenderHost, msg.SenderPort, msg.Processes)
	case shardledger.StopNodes:
		err = h.StopNodes(msg.Processes)
	default:
		h.logger.Warnf("ignoring %v", msg)
		return
	}
	if err != nil {
		h.logger.Errorf("%s failed: %v", msg.Type, err)
	}
}

// Deploy starts a process for each of the given identities, registering with the hub at
// hubHost:hubPort. Identities that already run are skipped.
func (h *Handler) Deploy(ctx context.Context, hubHost string, hubPort int, ids []shardledger.ProcessID) (err error) {
	h.mut.Lock()
	defer h.mut.Unlock()
	for _, id := range ids {
		if _, ok := h.procs[id.Port]; ok {
			h.logger.Warnf("a process already runs on port %d", id.Port)
			continue
		}
		host := id.Host
		if host == "" {
			host = h.cfg.Host
		}
		p := NewProcess(Config{
			Host:      host,
			Port:      id.Port,
			Owner:     id.Owner,
			Index:     id.Index,
			HubHost:   hubHost,
			HubPort:   hubPort,
			Consensus: h.cfg.Consensus,
			Transport: h.cfg.Transport,

			OrphanTimeout: h.cfg.OrphanTimeout,
		}, logging.New(fmt.Sprintf("node/%s-%d", id.Owner, id.Index)))
		if startErr := p.Start(ctx); startErr != nil {
			err = multierr.Append(err, fmt.Errorf("%s-%d: %w", id.Owner, id.Index, startErr))
			continue
		}
		h.procs[p.Port()] = p
	}
	return err
}

// StopNodes stops the processes on the ports of the given identities.
func (h *Handler) StopNodes(ids []shardledger.ProcessID) error {
	h.mut.Lock()
	var procs []*Process
	for _, id := range ids {
		if p, ok := h.procs[id.Port]; ok {
			procs = append(procs, p)
			delete(h.procs, id.Port)
		}
	}
	h.mut.Unlock()
	h.logger.Infof("stopping %d processes", len(procs))
	return stopAll(procs)
}

// Close stops every process and the handler itself.
func (h *Handler) Close() error {
	h.mut.Lock()
	procs := make([]*Process, 0, len(h.procs))
	for port, p := range h.procs {
		procs = append(procs, p)
		delete(h.procs, port)
	}
	h.mut.Unlock()
	return multierr.Combine(stopAll(procs), h.transport.Close())
}
