package peernode

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/hoangvu/swarmcast/config"
	"github.com/hoangvu/swarmcast/torrentfile"
	"github.com/hoangvu/swarmcast/tracker"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("component", "peernode_test")
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestNodeServesAndDownloads(t *testing.T) {
	content := []byte("this content is shared across the little swarm we spin up for the test")
	seedDir := t.TempDir()
	seedPath := filepath.Join(seedDir, "shared.bin")
	require.NoError(t, os.WriteFile(seedPath, content, 0o644))

	m, err := torrentfile.Create(seedPath, 16, "")
	require.NoError(t, err)

	trackerPort := freePort(t)
	trackerAddr := net.JoinHostPort("127.0.0.1", strconv.Itoa(trackerPort))
	srv := tracker.NewServer(trackerAddr, time.Second, time.Minute, time.Hour, testLogger().WithField("subcomponent", "tracker"))
	go srv.Run()
	defer srv.Stop(time.Second)
	time.Sleep(20 * time.Millisecond)

	seedCfg := config.Default()
	seedCfg.Host = "127.0.0.1"
	seedCfg.Port = freePort(t)
	seedCfg.TrackerHost = "127.0.0.1"
	seedCfg.TrackerPort = trackerPort

	seedNode := New(seedCfg, m, seedPath, testLogger().WithField("role", "seed"))
	require.NoError(t, seedNode.Start())
	defer seedNode.Stop(time.Second)

	downloadCfg := config.Default()
	downloadCfg.Host = "127.0.0.1"
	downloadCfg.Port = freePort(t)
	downloadCfg.TrackerHost = "127.0.0.1"
	downloadCfg.TrackerPort = trackerPort
	downloadCfg.DownloadDir = t.TempDir()

	downloadNode := New(downloadCfg, m, downloadCfg.DownloadDir, testLogger().WithField("role", "downloader"))
	require.NoError(t, downloadNode.Start())
	defer downloadNode.Stop(time.Second)

	require.NoError(t, downloadNode.Download())

	out, err := os.ReadFile(filepath.Join(downloadCfg.DownloadDir, m.Info.Name))
	require.NoError(t, err)
	require.Equal(t, content, out)

	status := downloadNode.Status()
	require.Equal(t, status.PiecesTotal, status.PiecesAcquired)
}
