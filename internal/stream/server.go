// Package stream is the broadcast server that fans encoded input events out
// to every connected client.
//
// Clients connect over TCP (newline-delimited records) or, through
// ServeHTTP, over WebSocket (one record per text message). Both kinds share
// one client set and one capacity limit. Inbound data from clients is read
// only to detect disconnects and is otherwise ignored.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"rawinputd/internal/logging"
	"rawinputd/internal/metrics"
)

// ErrAlreadyRunning is returned by Start when the server is not stopped.
var ErrAlreadyRunning = errors.New("stream: server already running")

// DefaultMaxClients is the capacity used when Config.MaxClients is zero.
const DefaultMaxClients = 10

// State is the server lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Config configures a Server.
type Config struct {
	// Host is the bind address; empty binds all interfaces.
	Host       string
	MaxClients int
	Logger     *logging.Logger
	Metrics    *metrics.Pipeline
}

// Server accepts clients and broadcasts records to them.
type Server struct {
	host       string
	maxClients int
	logger     *logging.Logger
	metrics    *metrics.Pipeline

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex
	state     atomic.Int32

	// mu guards the client set and the connected-clients gauge, and is held
	// for the whole fan-out pass.
	mu       sync.Mutex
	clients  map[string]*client
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a stopped server.
func New(cfg Config) *Server {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultMaxClients
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewPipeline(nil)
	}
	return &Server{
		host:       cfg.Host,
		maxClients: cfg.MaxClients,
		logger:     cfg.Logger.WithComponent("stream"),
		metrics:    cfg.Metrics,
		clients:    make(map[string]*client),
	}
}

// Start binds host:port and begins accepting clients. Port 0 selects an
// ephemeral port. ctx bounds only the bind; the server runs until Stop.
// On failure the server stays stopped.
func (s *Server) Start(ctx context.Context, port int) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrAlreadyRunning
	}

	addr := net.JoinHostPort(s.host, strconv.Itoa(port))
	ln, err := listenConfig().Listen(ctx, "tcp", addr)
	if err != nil {
		s.state.Store(int32(StateStopped))
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.state.Store(int32(StateRunning))

	s.wg.Add(1)
	go s.acceptLoop(ln)

	s.logger.Info("broadcast server listening", "addr", ln.Addr().String(), "max_clients", s.maxClients)
	return nil
}

// Stop closes the listener and every client and waits for all server
// goroutines. It is a no-op unless the server is running.
func (s *Server) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return
	}

	s.cancel()

	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	clients := make([]*client, 0, len(s.clients))
	for id, c := range s.clients {
		clients = append(clients, c)
		delete(s.clients, id)
	}
	s.metrics.ClientsConnected.Set(0)
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}

	s.wg.Wait()

	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()

	s.state.Store(int32(StateStopped))
	s.logger.Info("broadcast server stopped", "clients_closed", len(clients))
}

// State returns the lifecycle state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// Addr returns the bound address, or nil when not listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// MaxClients returns the configured capacity.
func (s *Server) MaxClients() int {
	return s.maxClients
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Clients returns a snapshot of connected clients, oldest first.
func (s *Server) Clients() []ClientInfo {
	s.mu.Lock()
	infos := make([]ClientInfo, 0, len(s.clients))
	for _, c := range s.clients {
		infos = append(infos, c.ClientInfo)
	}
	s.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// Broadcast sends line to every client: TCP clients receive it followed by
// '\n', WebSocket clients as one text message. Clients whose send fails are
// removed and closed after the pass. It returns the number of clients the
// line was delivered to.
func (s *Server) Broadcast(line []byte) int {
	if s.State() != StateRunning {
		return 0
	}

	f := newFrame(line)
	start := time.Now()

	s.mu.Lock()
	var dead []*client
	delivered := 0
	for _, c := range s.clients {
		if err := c.t.send(f); err != nil {
			s.logger.Debug("send failed", "client_id", c.ID, "remote", c.Remote, "error", err)
			dead = append(dead, c)
			continue
		}
		delivered++
	}
	for _, c := range dead {
		delete(s.clients, c.ID)
	}
	if len(dead) > 0 {
		s.metrics.ClientsConnected.Set(int64(len(s.clients)))
	}
	s.mu.Unlock()

	for _, c := range dead {
		c.close()
		s.metrics.ClientsDroppedTotal.Inc()
		s.logger.Info("client dropped", "client_id", c.ID, "remote", c.Remote, "kind", string(c.Kind))
	}

	s.metrics.BroadcastsTotal.Inc()
	s.metrics.DeliveriesTotal.Add(uint64(delivered))
	s.metrics.FanoutDuration.ObserveDuration(time.Since(start))
	return delivered
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		c, ok := s.admit(KindTCP, &tcpTransport{conn: conn})
		if !ok {
			continue
		}
		go s.serveClient(c)
	}
}

// admit adds a client unless the server is at capacity or shutting down,
// in which case the transport is closed. On success the caller must run
// serveClient for the returned client.
func (s *Server) admit(kind Kind, t transport) (*client, bool) {
	s.mu.Lock()
	if s.State() != StateRunning {
		s.mu.Unlock()
		t.close()
		return nil, false
	}
	if len(s.clients) >= s.maxClients {
		s.mu.Unlock()
		remote := t.remoteAddr()
		t.close()
		s.metrics.ClientsRejectedTotal.Inc()
		s.logger.Debug("client rejected at capacity", "remote", remote, "kind", string(kind), "max_clients", s.maxClients)
		return nil, false
	}

	c := newClient(kind, t)
	s.clients[c.ID] = c
	count := len(s.clients)
	s.metrics.ClientsConnected.Set(int64(count))
	s.wg.Add(1)
	s.mu.Unlock()

	s.metrics.ClientsAcceptedTotal.Inc()
	s.logger.Info("client connected", "client_id", c.ID, "remote", c.Remote, "kind", string(kind), "clients", count)
	return c, true
}

// serveClient drains inbound data until the peer disconnects, then removes
// the client if it is still registered.
func (s *Server) serveClient(c *client) {
	defer s.wg.Done()

	err := c.t.drain()

	s.mu.Lock()
	_, present := s.clients[c.ID]
	if present {
		delete(s.clients, c.ID)
		s.metrics.ClientsConnected.Set(int64(len(s.clients)))
	}
	s.mu.Unlock()

	c.close()

	if present {
		s.logger.Info("client disconnected", "client_id", c.ID, "remote", c.Remote, "reason", err)
	}
}
