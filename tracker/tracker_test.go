package tracker

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
	return l.WithField("component", "tracker_test")
}

func TestRegistryAnnounceIsIdempotent(t *testing.T) {
	r := NewRegistry(time.Minute, testLogger())
	peerA := wire.PeerAddr{Host: "10.0.0.1", Port: 6881}
	peerB := wire.PeerAddr{Host: "10.0.0.2", Port: 6881}

	peers, already := r.Announce("torrent-1", peerA)
	require.False(t, already)
	require.ElementsMatch(t, []wire.PeerAddr{peerA}, peers)

	peers, already = r.Announce("torrent-1", peerB)
	require.False(t, already)
	require.ElementsMatch(t, []wire.PeerAddr{peerA, peerB}, peers)

	peers, already = r.Announce("torrent-1", peerA)
	require.True(t, already)
	require.ElementsMatch(t, []wire.PeerAddr{peerA, peerB}, peers)
}

func TestRegistryTimeUpdateOnAbsentPeerIsNoop(t *testing.T) {
	r := NewRegistry(time.Minute, testLogger())
	r.TouchLastSeen("unknown-torrent", wire.PeerAddr{Host: "10.0.0.1", Port: 1})
	require.Nil(t, r.PeerList("unknown-torrent"))
}

func TestRegistrySweepEvictsStalePeers(t *testing.T) {
	r := NewRegistry(10*time.Millisecond, testLogger())
	peer := wire.PeerAddr{Host: "10.0.0.1", Port: 6881}
	r.Announce("torrent-1", peer)

	time.Sleep(20 * time.Millisecond)
	r.Sweep()

	require.Nil(t, r.PeerList("torrent-1"))
}

func TestServerAnnounceRoundTrip(t *testing.T) {
	srv := NewServer("127.0.0.1:0", time.Second, time.Minute, time.Hour, testLogger())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv.listener = ln
	srv.addr = ln.Addr().String()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			srv.workers <- struct{}{}
			go func() {
				defer func() { <-srv.workers }()
				srv.handleSession(conn)
			}()
		}
	}()
	defer srv.Stop(time.Second)

	client := NewClient(srv.addr, time.Second, time.Second)
	peers, err := client.Announce("torrent-xyz", wire.PeerAddr{Host: "127.0.0.1", Port: 7000})
	require.NoError(t, err)
	require.ElementsMatch(t, []wire.PeerAddr{{Host: "127.0.0.1", Port: 7000}}, peers)

	peers, err = client.PeerList("torrent-xyz")
	require.NoError(t, err)
	require.ElementsMatch(t, []wire.PeerAddr{{Host: "127.0.0.1", Port: 7000}}, peers)

	require.NoError(t, client.Stop("torrent-xyz", wire.PeerAddr{Host: "127.0.0.1", Port: 7000}))
	time.Sleep(50 * time.Millisecond)

	peers, err = client.PeerList("torrent-xyz")
	require.NoError(t, err)
	require.Empty(t, peers)
}
