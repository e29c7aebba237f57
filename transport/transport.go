// Package transport sends and receives length-framed messages over TCP.
//
// Every destination gets its own outbound queue and goroutine, so a slow or unreachable
// peer never blocks the sender or the other peers. Delivery is best-effort: a message that
// cannot be written is logged and dropped, and the connection is dialed again for the next one.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/relab/shardledger"
	"github.com/relab/shardledger/internal/wire"
	"github.com/relab/shardledger/logging"
	"go.uber.org/multierr"
)

// ErrClosed is returned when the transport is used after Close.
var ErrClosed = errors.New("transport: closed")

// Handler is called for every message received. It is called concurrently from the
// goroutines serving the connections and must not block for long.
type Handler func(msg *shardledger.Message)

// Config holds the parameters of a Transport.
type Config struct {
	// ConnectTimeout bounds dialing a peer.
	ConnectTimeout time.Duration
	// QueueSize is the number of messages buffered per peer before new ones are dropped.
	QueueSize int
}

// DefaultConfig returns the default transport parameters.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 10 * time.Second,
		QueueSize:      1024,
	}
}

// Transport is a TCP endpoint that implements consensus.Sender.
type Transport struct {
	host    string
	port    int
	cfg     Config
	handler Handler
	logger  logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mut      sync.Mutex
	listener net.Listener
	peers    map[string]*peer
	conns    map[net.Conn]struct{}
	closed   bool
}

// New returns a transport for the process at host:port.
// Received messages are passed to handler once Listen has been called.
func New(host string, port int, cfg Config, handler Handler, logger logging.Logger) *Transport {
	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		host:    host,
		port:    port,
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		peers:   make(map[string]*peer),
		conns:   make(map[net.Conn]struct{}),
	}
}

// Listen binds the listening socket and starts accepting connections in the background.
// Port 0 picks a free port; Port returns the one in use.
func (t *Transport) Listen(ctx context.Context) error {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", net.JoinHostPort(t.host, strconv.Itoa(t.port)))
	if err != nil {
		return fmt.Errorf("failed to listen on %s:%d: %w", t.host, t.port, err)
	}

	t.mut.Lock()
	if t.closed {
		t.mut.Unlock()
		lis.Close()
		return ErrClosed
	}
	t.listener = lis
	t.port = lis.Addr().(*net.TCPAddr).Port
	t.mut.Unlock()

	t.wg.Add(1)
	go t.accept(lis)
	return nil
}

// Host returns the host the transport listens on.
func (t *Transport) Host() string {
	return t.host
}

// Port returns the port the transport listens on.
func (t *Transport) Port() int {
	t.mut.Lock()
	defer t.mut.Unlock()
	return t.port
}

func (t *Transport) accept(lis net.Listener) {
	defer t.wg.Done()
	for {
		conn, err := lis.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				t.logger.Errorf("accept failed: %v", err)
			}
			return
		}
		if !t.track(conn) {
			conn.Close()
			return
		}
		t.wg.Add(1)
		go t.serve(conn)
	}
}

func (t *Transport) track(conn net.Conn) bool {
	t.mut.Lock()
	defer t.mut.Unlock()
	if t.closed {
		return false
	}
	t.conns[conn] = struct{}{}
	return true
}

// serve reads frames from conn until the peer disconnects or sends a malformed frame.
func (t *Transport) serve(conn net.Conn) {
	defer t.wg.Done()
	defer func() {
		t.mut.Lock()
		delete(t.conns, conn)
		t.mut.Unlock()
		conn.Close()
	}()

	r := wire.NewReader(conn)
	for {
		msg, err := r.Read()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				t.logger.Debugf("connection from %v closed", conn.RemoteAddr())
			default:
				t.logger.Warnf("dropping connection from %v: %v", conn.RemoteAddr(), err)
			}
			return
		}
		t.handler(msg)
	}
}

// Send queues msg for delivery to host:port. It never blocks; if the peer's queue is full,
// the message is dropped.
func (t *Transport) Send(host string, port int, msg *shardledger.Message) {
	p, err := t.peer(host, port)
	if err != nil {
		t.logger.Debugf("not sending %v to %s:%d: %v", msg, host, port, err)
		return
	}
	select {
	case p.queue <- msg:
	default:
		t.logger.Warnf("queue for %s is full, dropping %v", p.addr, msg)
	}
}

func (t *Transport) peer(host string, port int) (*peer, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	t.mut.Lock()
	defer t.mut.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	p, ok := t.peers[addr]
	if !ok {
		p = &peer{addr: addr, queue: make(chan *shardledger.Message, t.cfg.QueueSize), t: t}
		t.peers[addr] = p
		t.wg.Add(1)
		go p.run()
	}
	return p, nil
}

// Close stops the listener, the outbound goroutines and every open connection.
func (t *Transport) Close() (err error) {
	t.mut.Lock()
	if t.closed {
		t.mut.Unlock()
		return nil
	}
	t.closed = true
	t.cancel()
	if t.listener != nil {
		err = multierr.Append(err, t.listener.Close())
	}
	for conn := range t.conns {
		err = multierr.Append(err, conn.Close())
	}
	t.mut.Unlock()

	t.wg.Wait()
	return err
}

// peer is the outbound side of a connection to a single destination.
type peer struct {
	addr  string
	queue chan *shardledger.Message
	t     *Transport

	conn   net.Conn
	writer *wire.Writer
}

func (p *peer) run() {
	defer p.t.wg.Done()
	defer p.disconnect()
	for {
		select {
		case msg := <-p.queue:
			if err := p.send(msg); err != nil {
				p.t.logger.Warnf("failed to send %v to %s: %v", msg, p.addr, err)
			}
		case <-p.t.ctx.Done():
			return
		}
	}
}

func (p *peer) send(msg *shardledger.Message) error {
	if p.conn == nil {
		if err := p.connect(); err != nil {
			return err
		}
	}
	if err := p.writer.Write(msg); err != nil {
		p.disconnect()
		return err
	}
	return nil
}

func (p *peer) connect() error {
	ctx, cancel := context.WithTimeout(p.t.ctx, p.t.cfg.ConnectTimeout)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	p.conn = conn
	p.writer = wire.NewWriter(conn)
	return nil
}

func (p *peer) disconnect() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Close(); err != nil {
		p.t.logger.Debugf("failed to close connection to %s: %v", p.addr, err)
	}
	p.conn = nil
	p.writer = nil
}
