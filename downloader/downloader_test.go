package downloader

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/hoangvu/swarmcast/config"
	"github.com/hoangvu/swarmcast/pool"
	"github.com/hoangvu/swarmcast/torrentfile"
	"github.com/hoangvu/swarmcast/wire"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("component", "downloader_test")
}

// fakePeer serves REQUEST_CHUNK against an in-memory piece set, standing in
// for a real uploader so the downloader's retry/verify logic can be tested
// in isolation.
func fakePeer(t *testing.T, pieces map[int][]byte) (wire.PeerAddr, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				if err := wire.AcceptHandshake(conn, time.Second); err != nil {
					return
				}
				session := wire.NewSession(wire.PeerAddr{}, conn)
				header, _, err := session.Receive(0, 0)
				if err != nil {
					return
				}
				index := header.Int("chunk_index")
				data, ok := pieces[index]
				if !ok {
					session.Send(wire.Header{"status": wire.StatusError}, nil)
					return
				}
				session.Send(wire.Header{
					"status":      wire.StatusOK,
					"data_length": len(data),
				}, data)
				session.ReceiveAck()
			}()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return wire.PeerAddr{Host: "127.0.0.1", Port: addr.Port}, func() { ln.Close() }
}

func TestDownloaderRunAssemblesFile(t *testing.T) {
	content := []byte("the quick brown fox jumps over the lazy dog!!")
	m, err := torrentfile.Create(writeTemp(t, content), 8, "")
	require.NoError(t, err)

	pieces := make(map[int][]byte)
	for i := 0; i < m.Info.ExpectedNumPieces(); i++ {
		length, err := m.Info.PieceLengthAt(i)
		require.NoError(t, err)
		pieces[i] = content[int64(i)*m.Info.PieceLength : int64(i)*m.Info.PieceLength+length]
	}

	peerAddr, closePeer := fakePeer(t, pieces)
	defer closePeer()

	cfg := config.Default()
	cfg.DownloadDir = t.TempDir()

	p := pool.New(5, testLogger())
	dl := New(cfg, p, m.Info, testLogger())

	require.NoError(t, dl.Run([]wire.PeerAddr{peerAddr}))

	out, err := os.ReadFile(filepath.Join(cfg.DownloadDir, m.Info.Name))
	require.NoError(t, err)
	require.Equal(t, content, out)
}

func TestDownloaderRetriesNextPeerOnDigestMismatch(t *testing.T) {
	content := []byte("0123456789ABCDEF")
	m, err := torrentfile.Create(writeTemp(t, content), 8, "")
	require.NoError(t, err)

	badPeer, closeBad := fakePeer(t, map[int][]byte{0: []byte("WRONGDAT"), 1: content[8:16]})
	defer closeBad()
	goodPeer, closeGood := fakePeer(t, map[int][]byte{0: content[0:8], 1: content[8:16]})
	defer closeGood()

	cfg := config.Default()
	cfg.DownloadDir = t.TempDir()

	p := pool.New(5, testLogger())
	dl := New(cfg, p, m.Info, testLogger())

	require.NoError(t, dl.Run([]wire.PeerAddr{badPeer, goodPeer}))

	out, err := os.ReadFile(filepath.Join(cfg.DownloadDir, m.Info.Name))
	require.NoError(t, err)
	require.Equal(t, content, out)
}

func writeTemp(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.bin")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}
