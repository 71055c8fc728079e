package tracker

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hoangvu/swarmcast/wire"
)

// maxHeaderPayload bounds tracker request/response bodies; tracker messages
// never carry a binary payload, so this is effectively "no payload allowed".
const maxHeaderPayload = 0

// Server accepts tracker sessions and dispatches announce/peer_list_update/
// stop/time_update requests against a Registry (spec.md §4.5). Grounded on
// tracker.py's Tracker: a listening goroutine plus one goroutine per
// connection, replacing its raw socket.accept()/threading.Thread pair with
// net.Listener. The workers channel caps concurrent sessions; Stop does not
// wait for session goroutines to finish.
type Server struct {
	addr        string
	handshakeTO time.Duration
	registry    *Registry
	sweeper     *sweeper
	log         *logrus.Entry

	listener net.Listener
	stopCh   chan struct{}
	workers  chan struct{}
}

// NewServer creates a tracker server listening on addr once Run is called.
func NewServer(addr string, handshakeTimeout, peerTimeout, cleanupInterval time.Duration, log *logrus.Entry) *Server {
	registry := NewRegistry(peerTimeout, log.WithField("subcomponent", "registry"))
	return &Server{
		addr:        addr,
		handshakeTO: handshakeTimeout,
		registry:    registry,
		sweeper:     newSweeper(registry, cleanupInterval),
		log:         log,
		stopCh:      make(chan struct{}),
		workers:     make(chan struct{}, 4096),
	}
}

// Registry exposes the underlying swarm table, mainly for tests.
func (s *Server) Registry() *Registry { return s.registry }

// Run binds addr, starts the sweeper, and accepts sessions until Stop is
// called. It blocks until the accept loop exits.
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.log.WithField("addr", s.addr).Info("tracker listening")

	go s.sweeper.run()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return nil
			default:
				s.log.WithError(err).Warn("accept failed")
				return err
			}
		}

		s.workers <- struct{}{}
		go func() {
			defer func() { <-s.workers }()
			s.handleSession(conn)
		}()
	}
}

// Stop closes the listener, which makes the pending Accept in Run return,
// then waits (up to timeout) for the sweeper to exit. Calling it again is
// a no-op.
func (s *Server) Stop(timeout time.Duration) {
	select {
	case <-s.stopCh:
		return
	default:
		close(s.stopCh)
	}

	if s.listener != nil {
		s.listener.Close()
	}
	s.sweeper.shutdown(timeout)
}

func (s *Server) handleSession(conn net.Conn) {
	defer conn.Close()

	if err := wire.AcceptHandshake(conn, s.handshakeTO); err != nil {
		s.log.WithError(err).Warn("tracker handshake failed")
		return
	}

	session := wire.NewSession(wire.PeerAddr{}, conn)
	for {
		header, _, err := session.Receive(maxHeaderPayload, 0)
		if err != nil {
			return
		}

		response := s.dispatch(header)
		if response == nil {
			continue
		}
		if err := session.Send(response, nil); err != nil {
			s.log.WithError(err).Warn("failed to send tracker response")
			return
		}
	}
}

func (s *Server) dispatch(h wire.Header) wire.Header {
	switch h.String("action") {
	case wire.ActionAnnounce:
		return s.handleAnnounce(h)
	case wire.ActionPeerListUpdate:
		torrentID := h.String("torrent_id")
		return peerListHeader(s.registry.PeerList(torrentID))
	case wire.ActionStop:
		torrentID, peer, ok := parsePeerRequest(h)
		if ok {
			s.registry.Remove(torrentID, peer)
		}
		return nil
	case wire.ActionTimeUpdate:
		torrentID, peer, ok := parsePeerRequest(h)
		if ok {
			s.registry.TouchLastSeen(torrentID, peer)
		}
		return nil
	default:
		return wire.Header{"error": "unsupported action"}
	}
}

func (s *Server) handleAnnounce(h wire.Header) wire.Header {
	torrentID, peer, ok := parsePeerRequest(h)
	if !ok {
		return wire.Header{"error": "missing required fields: torrent_id, peer_ip, or port"}
	}

	peers, already := s.registry.Announce(torrentID, peer)
	header := peerListHeader(peers)
	if already {
		header["warning"] = "peer has already been announced"
	}
	return header
}
