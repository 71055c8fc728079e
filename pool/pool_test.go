package pool

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/hoangvu/swarmcast/wire"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("component", "pool_test")
}

// dialInto spins up a listener that performs the responder handshake via
// AcceptIncoming on p, and dials into it via p.Dial, so both ends exercise
// real sockets rather than net.Pipe (the tracker and peer sessions both run
// over TCP in production).
func dialInto(t *testing.T, p *Pool, remoteLabel int) (wire.PeerAddr, error) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	addr := ln.Addr().(*net.TCPAddr)
	peerAddr := wire.PeerAddr{Host: "127.0.0.1", Port: remoteLabel}

	acceptErr := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			acceptErr <- err
			return
		}
		_, err = p.AcceptIncoming(conn, peerAddr, time.Second)
		acceptErr <- err
	}()

	dialAddr := wire.PeerAddr{Host: addr.IP.String(), Port: addr.Port}
	_, dialErr := p.Dial(dialAddr, time.Second, time.Second)
	if dialErr != nil {
		<-acceptErr
		return peerAddr, dialErr
	}
	return peerAddr, <-acceptErr
}

func TestPoolDialAndLookup(t *testing.T) {
	p := New(5, testLogger())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		wire.AcceptHandshake(conn, time.Second)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	remote := wire.PeerAddr{Host: addr.IP.String(), Port: addr.Port}

	session, err := p.Dial(remote, time.Second, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, p.Len())

	found, ok := p.Lookup(remote)
	require.True(t, ok)
	require.Same(t, session, found)

	p.Release(remote)
	require.Equal(t, 0, p.Len())
	_, ok = p.Lookup(remote)
	require.False(t, ok)
}

func TestPoolRejectsOverCapacity(t *testing.T) {
	p := New(1, testLogger())

	ln1, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln1.Close()
	go func() {
		conn, err := ln1.Accept()
		if err == nil {
			wire.AcceptHandshake(conn, time.Second)
		}
	}()
	addr1 := ln1.Addr().(*net.TCPAddr)
	_, err = p.Dial(wire.PeerAddr{Host: addr1.IP.String(), Port: addr1.Port}, time.Second, time.Second)
	require.NoError(t, err)

	ln2, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln2.Close()
	connCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln2.Accept()
		if err == nil {
			wire.AcceptHandshake(conn, time.Second)
			connCh <- conn
		}
	}()
	addr2 := ln2.Addr().(*net.TCPAddr)
	_, err = p.Dial(wire.PeerAddr{Host: addr2.IP.String(), Port: addr2.Port}, time.Second, time.Second)
	require.ErrorIs(t, err, ErrPoolFull)

	conn := <-connCh
	conn.Close()
}

func TestPoolRejectsDuplicatePeer(t *testing.T) {
	p := New(5, testLogger())

	remote := wire.PeerAddr{Host: "203.0.113.1", Port: 9999}
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		wire.AcceptHandshake(server, time.Second)
	}()
	go func() {
		wire.DialHandshake(client, time.Second)
	}()

	session := wire.NewSession(remote, client)
	require.NoError(t, p.commit(remote, session))

	client2, server2 := net.Pipe()
	defer client2.Close()
	defer server2.Close()
	dup := wire.NewSession(remote, client2)
	err := p.commit(remote, dup)
	require.ErrorIs(t, err, ErrDuplicate)
}
