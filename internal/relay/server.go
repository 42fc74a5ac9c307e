package relay

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"fw-proxy/internal/errors"
	"fw-proxy/internal/inspect"
	"fw-proxy/internal/logging"
	"fw-proxy/internal/ports"
)

const (
	DefaultMaxChunk       = 8192
	DefaultConnectTimeout = 25 * time.Second
	DefaultReadTimeout    = 3 * time.Second
	DefaultBacklog        = 5
)

// Table is the connection table as the relay uses it: resolving redirected
// connections and announcing FTP data connections.
type Table interface {
	LookupRealDestination(client, fakeDst netip.AddrPort) (netip.AddrPort, error)
	inspect.Registrar
}

// Config tunes the relay. Zero values fall back to the defaults above.
type Config struct {
	ListenAddrs []netip.Addr
	Ports       ports.Map
	Backlog     int

	MaxChunk       int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	MaxHTTPContentLength int
	BlockSourceCode      bool
}

func (c *Config) setDefaults() {
	if c.Backlog <= 0 {
		c.Backlog = DefaultBacklog
	}
	if c.MaxChunk <= 0 {
		c.MaxChunk = DefaultMaxChunk
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.MaxHTTPContentLength <= 0 {
		c.MaxHTTPContentLength = inspect.MaxHTTPContentLength
	}
}

// Teardown reasons, also used as metric labels.
const (
	reasonEOF      = "eof"
	reasonPolicy   = "policy"
	reasonError    = "error"
	reasonShutdown = "shutdown"
)

type endpoint struct {
	svc ports.Service
	ln  *net.TCPListener
}

// Server accepts redirected connections, pairs each with a connection to
// its real destination and relays inspected chunks between them.
//
// Flow life cycle: accept -> resolve -> dial -> relay -> closed | blocked.
// Each direction of a pair has a single reader, so chunks are inspected and
// forwarded in the order they were read; pairs are independent of each other.
type Server struct {
	cfg      Config
	table    Table
	policy   *Policy
	log      *logging.Logger
	metrics  *Metrics
	registry *Registry
	dialer   net.Dialer

	endpoints []endpoint
	wg        sync.WaitGroup
}

func NewServer(cfg Config, table Table, log *logging.Logger, metrics *Metrics) *Server {
	cfg.setDefaults()
	if log == nil {
		log = logging.Discard()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}

	return &Server{
		cfg:   cfg,
		table: table,
		policy: &Policy{
			MaxHTTPContentLength: cfg.MaxHTTPContentLength,
			BlockSourceCode:      cfg.BlockSourceCode,
			Port:                 &inspect.PortHandler{Registrar: table, DataPort: cfg.Ports.FTPData},
		},
		log:      log,
		metrics:  metrics,
		registry: NewRegistry(),
	}
}

// Registry exposes the active pairs.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Listen binds every service's spoofed port on every listen address. Any
// failure closes what was bound and is fatal to the caller.
func (s *Server) Listen() error {
	if len(s.cfg.ListenAddrs) == 0 {
		return errors.New(errors.KindInternal, "no listen addresses configured")
	}

	for _, ip := range s.cfg.ListenAddrs {
		for _, svc := range ports.Services {
			addr := netip.AddrPortFrom(ip, s.cfg.Ports.SpoofPort(svc))
			ln, err := listenTCP(addr, s.cfg.Backlog)
			if err != nil {
				s.closeListeners()
				return fmt.Errorf("listen %s for %s: %w", addr, svc, err)
			}
			s.endpoints = append(s.endpoints, endpoint{svc: svc, ln: ln})
			s.log.Info("listener bound", "service", svc.String(), "addr", ln.Addr().String())
		}
	}
	return nil
}

// Addr returns the bound address of the first listener for svc, or nil.
func (s *Server) Addr(svc ports.Service) net.Addr {
	for _, ep := range s.endpoints {
		if ep.svc == svc {
			return ep.ln.Addr()
		}
	}
	return nil
}

// Serve relays until ctx is cancelled, then closes the listeners and every
// active pair and waits for all connection goroutines to finish.
func (s *Server) Serve(ctx context.Context) error {
	if len(s.endpoints) == 0 {
		return errors.New(errors.KindInternal, "relay: Serve called before Listen")
	}

	for _, ep := range s.endpoints {
		s.wg.Add(1)
		go func(ep endpoint) {
			defer s.wg.Done()
			s.acceptLoop(ctx, ep)
		}(ep)
	}

	<-ctx.Done()
	s.log.Info("relay stopping", "active_pairs", s.registry.Len())

	s.closeListeners()
	for _, id := range s.registry.Drain() {
		s.teardown(id, reasonShutdown, false)
	}
	s.wg.Wait()
	return nil
}

// Close releases the listeners of a server that is not serving.
func (s *Server) Close() {
	s.closeListeners()
}

func (s *Server) closeListeners() {
	for _, ep := range s.endpoints {
		_ = ep.ln.Close()
	}
}

func (s *Server) acceptLoop(ctx context.Context, ep endpoint) {
	for {
		c, err := ep.ln.AcceptTCP()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", "service", ep.svc.String(), "err", err)
			// Back off so descriptor exhaustion does not spin the loop.
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		s.metrics.accepted.WithLabelValues(ep.svc.String()).Inc()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.open(ctx, ep.svc, c)
		}()
	}
}

// open resolves the real destination of an accepted connection, dials it and
// starts relaying. On any failure the client is closed and nothing is
// registered.
func (s *Server) open(ctx context.Context, svc ports.Service, c *net.TCPConn) {
	client := addrPortOf(c.RemoteAddr())
	local := addrPortOf(c.LocalAddr())
	log := s.log.With("service", svc.String(), "client", client.String())

	dst, err := s.table.LookupRealDestination(client, local)
	if err != nil {
		s.metrics.resolutionFailures.WithLabelValues(svc.String()).Inc()
		log.Warn("dropping connection, no real destination", "local", local.String(), "kind", errors.GetKind(err).String(), "err", err)
		_ = c.Close()
		return
	}

	dctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	conn, err := s.dialer.DialContext(dctx, "tcp", dst.String())
	cancel()
	if err != nil {
		s.metrics.upstreamFailures.WithLabelValues(svc.String()).Inc()
		log.Warn("dropping connection, upstream unreachable", "server", dst.String(), "err", err)
		_ = c.Close()
		return
	}
	up := conn.(*net.TCPConn)

	p := &Pair{
		ID:           uuid.New(),
		Service:      svc,
		Client:       c,
		Upstream:     up,
		ClientAddr:   client,
		ServerAddr:   dst,
		ClientRole:   s.cfg.Ports.RoleFor(client.Port(), svc, true),
		UpstreamRole: s.cfg.Ports.RoleFor(dst.Port(), svc, false),
	}

	s.metrics.activePairs.Inc()
	if err := s.registry.Add(p); err != nil {
		s.metrics.activePairs.Dec()
		_ = c.Close()
		_ = up.Close()
		return
	}

	log = log.With("pair", p.ID.String(), "server", dst.String())
	log.Info("pair established", "client_role", p.ClientRole.String(), "upstream_role", p.UpstreamRole.String())

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.pump(p, p.Client, p.ClientRole, log)
	}()
	go func() {
		defer s.wg.Done()
		s.pump(p, p.Upstream, p.UpstreamRole, log)
	}()
}

// pump reads chunks from src, runs them through the inspector for role and
// forwards approved chunks to the socket the registry pairs src with. A
// rejected chunk resets the pair; end of stream or an I/O error closes it
// normally. Once the pair has left the registry the pump stops.
func (s *Server) pump(p *Pair, src *net.TCPConn, role ports.Role, log *logging.Logger) {
	buf := make([]byte, s.cfg.MaxChunk)
	for {
		if err := src.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			s.teardown(p.ID, reasonError, false)
			return
		}

		n, err := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if verr := s.policy.Evaluate(role, chunk, p.ServerAddr); verr != nil {
				if s.teardown(p.ID, reasonPolicy, true) {
					s.metrics.blocked.WithLabelValues(role.String()).Inc()
					log.Warn("policy violation, pair reset", "role", role.String(), "bytes", n, "err", verr)
				}
				return
			}
			dst, ok := s.registry.Peer(src)
			if !ok {
				return
			}
			if _, werr := dst.Write(chunk); werr != nil {
				if s.teardown(p.ID, reasonError, false) {
					log.Debug("forward failed", "role", role.String(), "err", werr)
				}
				return
			}
			s.metrics.forwardedBytes.WithLabelValues(role.String()).Add(float64(n))
		}

		switch {
		case err == nil:
		case errors.Is(err, os.ErrDeadlineExceeded):
			// Nothing arrived in time; keep waiting unless the pair is gone.
			if _, ok := s.registry.Peer(src); !ok {
				return
			}
		case errors.Is(err, io.EOF):
			if s.teardown(p.ID, reasonEOF, false) {
				log.Info("pair closed", "by", role.String())
			}
			return
		default:
			if s.teardown(p.ID, reasonError, false) {
				log.Debug("read failed, pair closed", "role", role.String(), "err", err)
			}
			return
		}
	}
}

// teardown removes the pair and closes both sockets. With reset set, unsent
// data is discarded and both peers receive an RST. It reports whether this
// call did the work; later calls for the same pair are no-ops.
func (s *Server) teardown(id PairID, reason string, reset bool) bool {
	p, ok := s.registry.Remove(id)
	if !ok {
		return false
	}

	if reset {
		_ = p.Client.SetLinger(0)
		_ = p.Upstream.SetLinger(0)
	}
	_ = p.Client.Close()
	_ = p.Upstream.Close()

	s.metrics.activePairs.Dec()
	s.metrics.closed.WithLabelValues(reason).Inc()
	return true
}

func addrPortOf(a net.Addr) netip.AddrPort {
	ta, ok := a.(*net.TCPAddr)
	if !ok {
		return netip.AddrPort{}
	}
	ap := ta.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
