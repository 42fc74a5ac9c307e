package relay

import (
	"net"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (*net.TCPConn, *net.TCPConn) {
	t.Helper()
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan *net.TCPConn, 1)
	go func() {
		c, err := ln.AcceptTCP()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	dialed, err := net.DialTCP("tcp", nil, ln.Addr().(*net.TCPAddr))
	require.NoError(t, err)
	other, ok := <-accepted
	require.True(t, ok)

	t.Cleanup(func() {
		_ = dialed.Close()
		_ = other.Close()
	})
	return dialed, other
}

func newTestPair(t *testing.T) *Pair {
	client, upstream := tcpPair(t)
	return &Pair{ID: uuid.New(), Client: client, Upstream: upstream}
}

func TestRegistryAddPeerRemove(t *testing.T) {
	r := NewRegistry()
	p := newTestPair(t)
	require.NoError(t, r.Add(p))
	assert.Equal(t, 1, r.Len())

	peer, ok := r.Peer(p.Client)
	require.True(t, ok)
	assert.Equal(t, net.Conn(p.Upstream), peer)

	peer, ok = r.Peer(p.Upstream)
	require.True(t, ok)
	assert.Equal(t, net.Conn(p.Client), peer)

	got, ok := r.Remove(p.ID)
	require.True(t, ok)
	assert.Same(t, p, got)
	assert.Equal(t, 0, r.Len())

	_, ok = r.Peer(p.Client)
	assert.False(t, ok)
	_, ok = r.Peer(p.Upstream)
	assert.False(t, ok)

	_, ok = r.Remove(p.ID)
	assert.False(t, ok)
}

func TestRegistryDrainRejectsNewPairs(t *testing.T) {
	r := NewRegistry()
	p1 := newTestPair(t)
	require.NoError(t, r.Add(p1))

	ids := r.Drain()
	assert.Equal(t, []PairID{p1.ID}, ids)

	assert.Error(t, r.Add(newTestPair(t)))
	assert.Equal(t, 1, r.Len())
}

func TestTeardownIsIdempotent(t *testing.T) {
	s := NewServer(Config{}, nil, nil, nil)
	p := newTestPair(t)
	require.NoError(t, s.registry.Add(p))
	s.metrics.activePairs.Inc()

	assert.True(t, s.teardown(p.ID, reasonEOF, false))
	assert.False(t, s.teardown(p.ID, reasonEOF, false))
	assert.False(t, s.teardown(p.ID, reasonPolicy, true))
	assert.Equal(t, 0, s.registry.Len())

	// Both sockets are closed exactly once.
	_, err := p.Client.Write([]byte("x"))
	assert.ErrorIs(t, err, net.ErrClosed)
	_, err = p.Upstream.Write([]byte("x"))
	assert.ErrorIs(t, err, net.ErrClosed)
}
