package relay

import (
	"net"
	"net/netip"
	"sync"

	"github.com/google/uuid"

	"fw-proxy/internal/errors"
	"fw-proxy/internal/ports"
)

// PairID identifies a connection pair independently of its sockets, so a
// stale reference to a closed pair can never reach a reused descriptor.
type PairID = uuid.UUID

// Pair is a client socket and the upstream socket the proxy opened for it.
type Pair struct {
	ID      PairID
	Service ports.Service

	Client   *net.TCPConn
	Upstream *net.TCPConn

	ClientAddr netip.AddrPort
	ServerAddr netip.AddrPort

	// Roles of the bytes each socket produces.
	ClientRole   ports.Role
	UpstreamRole ports.Role
}

// Peer returns the other socket of the pair.
func (p *Pair) Peer(c net.Conn) (net.Conn, bool) {
	switch c {
	case p.Client:
		return p.Upstream, true
	case p.Upstream:
		return p.Client, true
	}
	return nil, false
}

var errRegistryClosed = errors.New(errors.KindUnavailable, "relay registry closed")

// Registry tracks active pairs. Both sockets of a pair enter and leave it
// together under one lock, so no socket is ever present without its peer.
type Registry struct {
	mu     sync.Mutex
	pairs  map[PairID]*Pair
	bySock map[net.Conn]PairID
	closed bool
}

func NewRegistry() *Registry {
	return &Registry{
		pairs:  make(map[PairID]*Pair),
		bySock: make(map[net.Conn]PairID),
	}
}

// Add registers p. It fails once Drain has been called.
func (r *Registry) Add(p *Pair) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errRegistryClosed
	}
	r.pairs[p.ID] = p
	r.bySock[p.Client] = p.ID
	r.bySock[p.Upstream] = p.ID
	return nil
}

// Peer returns the socket paired with c. The relay resolves the destination
// of every approved chunk through it, so a chunk read after teardown has
// nowhere to go.
func (r *Registry) Peer(c net.Conn) (net.Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.bySock[c]
	if !ok {
		return nil, false
	}
	return r.pairs[id].Peer(c)
}

// Remove unregisters the pair and reports whether it was still present.
// Only the first caller for a given pair gets true.
func (r *Registry) Remove(id PairID) (*Pair, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pairs[id]
	if !ok {
		return nil, false
	}
	delete(r.pairs, id)
	delete(r.bySock, p.Client)
	delete(r.bySock, p.Upstream)
	return p, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pairs)
}

// Drain closes the registry to new pairs and returns the ids still active.
func (r *Registry) Drain() []PairID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	ids := make([]PairID, 0, len(r.pairs))
	for id := range r.pairs {
		ids = append(ids, id)
	}
	return ids
}
