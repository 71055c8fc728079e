// Package peernode coordinates one running peer: the connection pool, the
// accept loop that serves REQUEST_CHUNK, the tracker client, and the
// downloader/uploader pair operating on a single manifest (spec.md §4.6).
//
// Grounded on the original implementation's peer/connections.py
// (PeerConnection): _run_server's accept loop, _handle_peer's per-command
// dispatch, and stop()'s self-dial-to-unblock-accept plus bounded thread
// join, rebuilt on the wire/pool packages instead of raw sockets and a
// connection-keyed dict.
package peernode

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hoangvu/swarmcast/config"
	"github.com/hoangvu/swarmcast/downloader"
	"github.com/hoangvu/swarmcast/piecestore"
	"github.com/hoangvu/swarmcast/pool"
	"github.com/hoangvu/swarmcast/torrentfile"
	"github.com/hoangvu/swarmcast/tracker"
	"github.com/hoangvu/swarmcast/uploader"
	"github.com/hoangvu/swarmcast/wire"
)

// Node is one running peer: it serves pieces of manifest m to other peers
// and can drive a download of the same manifest against a tracker-supplied
// swarm.
type Node struct {
	id        string
	cfg       config.Config
	manifest  *torrentfile.Manifest
	self      wire.PeerAddr
	torrentID string

	pool          *pool.Pool
	uploader      *uploader.Uploader
	downloader    *downloader.Downloader
	trackerClient *tracker.Client
	log           *logrus.Entry

	listener net.Listener
	stopCh   chan struct{}
	wg       sync.WaitGroup

	stopOnce sync.Once
}

// New wires a Node together for manifest m, serving files rooted at
// shareRoot and downloading into cfg.DownloadDir.
func New(cfg config.Config, m *torrentfile.Manifest, shareRoot string, log *logrus.Entry) *Node {
	self := wire.PeerAddr{Host: cfg.Host, Port: cfg.Port}
	torrentID := torrentIDFromHash(m.InfoHash)
	id := uuid.New().String()

	p := pool.New(cfg.MaxConnections, log.WithField("subcomponent", "pool"))
	store := piecestore.New(m.Info, shareRoot)
	dl := downloader.New(cfg, p, m.Info, log.WithField("subcomponent", "downloader"))
	up := uploader.New(m.Info, store, dl.State(), log.WithField("subcomponent", "uploader"))

	n := &Node{
		id:            id,
		cfg:           cfg,
		manifest:      m,
		self:          self,
		torrentID:     torrentID,
		pool:          p,
		uploader:      up,
		downloader:    dl,
		trackerClient: tracker.NewClient(net.JoinHostPort(cfg.TrackerHost, portString(cfg.TrackerPort)), cfg.HandshakeTimeout, cfg.HandshakeTimeout),
		log:           log.WithField("node_id", id),
		stopCh:        make(chan struct{}),
	}

	p.SetHooks(n.onSessionNew, n.onSessionClose)
	return n
}

func (n *Node) onSessionNew(addr wire.PeerAddr, session *wire.Session) {
	n.log.WithField("peer", addr).Info("peer joined pool")
}

func (n *Node) onSessionClose(addr wire.PeerAddr) {
	n.log.WithField("peer", addr).Info("peer left pool")
}

// Start binds the listen address and begins accepting peer sessions. It
// announces to the tracker before returning so the swarm reflects this
// node immediately (spec.md §4.6 "start announces, then serves").
func (n *Node) Start() error {
	ln, err := net.Listen("tcp", net.JoinHostPort(n.cfg.Host, portString(n.cfg.Port)))
	if err != nil {
		return errors.Wrap(err, "peernode: listen")
	}
	n.listener = ln
	n.log.WithField("addr", ln.Addr()).Info("peer node listening")

	if _, err := n.trackerClient.Announce(n.torrentID, n.self); err != nil {
		n.log.WithError(err).Warn("initial announce failed")
	}

	n.wg.Add(1)
	go n.acceptLoop()
	return nil
}

func (n *Node) acceptLoop() {
	defer n.wg.Done()
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
				n.log.WithError(err).Warn("accept failed")
				return
			}
		}

		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.serveSession(conn)
		}()
	}
}

func (n *Node) serveSession(conn net.Conn) {
	remote, ok := conn.RemoteAddr().(*net.TCPAddr)
	addr := wire.PeerAddr{Host: "unknown", Port: 0}
	if ok {
		addr = wire.PeerAddr{Host: remote.IP.String(), Port: remote.Port}
	}

	session, err := n.pool.AcceptIncoming(conn, addr, n.cfg.HandshakeTimeout)
	if err != nil {
		n.log.WithError(err).WithField("peer", addr).Warn("rejecting incoming session")
		return
	}
	defer n.pool.Release(addr)

	for {
		select {
		case <-n.stopCh:
			return
		default:
		}

		header, _, err := session.Receive(int(n.manifest.Info.PieceLength), n.cfg.ChunkSize)
		if err != nil {
			return
		}

		switch header.String("command") {
		case wire.CmdRequestChunk:
			resp, payload := n.uploader.HandleRequest(header)
			if err := session.Send(resp, payload); err != nil {
				return
			}
			if resp.String("status") == wire.StatusOK {
				if ok, err := session.ReceiveAck(); err != nil || !ok {
					n.log.WithField("peer", addr).Warn("peer did not ack served chunk")
				}
			}
		default:
			n.log.WithField("command", header.String("command")).Warn("unrecognized session command")
			return
		}
	}
}

// Download drives a full download of this node's manifest using peers
// fetched from the tracker (spec.md §4.4/§4.6).
func (n *Node) Download() error {
	peers, err := n.trackerClient.Announce(n.torrentID, n.self)
	if err != nil {
		return errors.Wrap(err, "peernode: announce before download")
	}
	return n.downloader.Run(peers)
}

// Status reports a live snapshot of this node, supplementing the spec's
// operation set with the status reporting the original implementation
// exposed via get_download_status/get_upload_status/get_network_status.
type Status struct {
	NodeID         string
	TorrentID      string
	ListenAddr     string
	PooledPeers    []wire.PeerAddr
	PiecesTotal    int
	PiecesAcquired int
}

// Status returns a point-in-time snapshot of this node.
func (n *Node) Status() Status {
	missing := n.downloader.State().Missing()
	total := n.manifest.Info.ExpectedNumPieces()
	return Status{
		NodeID:         n.id,
		TorrentID:      n.torrentID,
		ListenAddr:     net.JoinHostPort(n.cfg.Host, portString(n.cfg.Port)),
		PooledPeers:    n.pool.Snapshot(),
		PiecesTotal:    total,
		PiecesAcquired: total - len(missing),
	}
}

// Stop deregisters from the tracker, stops accepting new sessions, closes
// every pooled session, and waits (bounded) for in-flight handlers to
// finish. It is idempotent (spec.md §4.6 "stop may be called more than
// once; the second call is a no-op").
func (n *Node) Stop(timeout time.Duration) {
	n.stopOnce.Do(func() {
		if err := n.trackerClient.Stop(n.torrentID, n.self); err != nil {
			n.log.WithError(err).Warn("tracker deregistration failed")
		}

		close(n.stopCh)
		if n.listener != nil {
			n.listener.Close()
		}
		// Self-dial in case the accept loop is blocked in a platform where
		// closing the listener alone doesn't unblock Accept promptly.
		if conn, err := net.DialTimeout("tcp", net.JoinHostPort(n.cfg.Host, portString(n.cfg.Port)), time.Second); err == nil {
			conn.Close()
		}

		n.pool.CloseAll()

		done := make(chan struct{})
		go func() {
			n.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(timeout):
			n.log.Warn("peer node workers did not finish within timeout")
		}

		n.log.Info("peer node stopped")
	})
}
