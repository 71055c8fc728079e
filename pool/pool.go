// Package pool implements the connection pool from spec.md §4.2: a bounded
// map from remote peer address to a live session, shared by the uploader
// and downloader sides of a peer node.
//
// Grounded on the Python original's PeerConnection.peer_pool (a plain dict
// guarded by a threading.Lock) and the teacher's ConnectToPeers/handshake
// pattern in torrent/p2p.go, reshaped around the spec's explicit pool
// invariants (bounded size, no duplicate remote, hooks fired under the
// lock, no I/O under the lock).
package pool

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hoangvu/swarmcast/wire"
)

// ErrPoolFull is returned when a connect attempt would exceed MaxConnections
// (spec.md property §8.3).
var ErrPoolFull = errors.New("pool: at capacity")

// ErrDuplicate is returned when a session already exists for the remote
// address (spec.md property §8.4).
var ErrDuplicate = errors.New("pool: duplicate peer")

// Hook is invoked while the pool lock is held; per spec.md §4.2 it "must be
// non-blocking and must not re-enter the pool."
type Hook func(addr wire.PeerAddr, session *wire.Session)

// CloseHook is the close-side counterpart of Hook.
type CloseHook func(addr wire.PeerAddr)

// Pool is the bounded peer_address -> session map.
type Pool struct {
	max int
	log *logrus.Entry

	mu       sync.Mutex
	sessions map[wire.PeerAddr]*wire.Session

	onNew   Hook
	onClose CloseHook
}

// New creates a pool bounded at max concurrent sessions.
func New(max int, log *logrus.Entry) *Pool {
	return &Pool{
		max:      max,
		log:      log,
		sessions: make(map[wire.PeerAddr]*wire.Session),
	}
}

// SetHooks installs the new/close observers, invoked under the pool lock on
// every commit and removal. The peer node's hooks only log pool membership
// changes; its uploader and downloader keep no per-peer state and are not
// notified.
func (p *Pool) SetHooks(onNew Hook, onClose CloseHook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onNew = onNew
	p.onClose = onClose
}

// Len reports the current number of pooled sessions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Lookup returns the session for addr, if any.
func (p *Pool) Lookup(addr wire.PeerAddr) (*wire.Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[addr]
	return s, ok
}

// Snapshot returns the currently pooled addresses. Used for status
// reporting; never used to drive pool mutation.
func (p *Pool) Snapshot() []wire.PeerAddr {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]wire.PeerAddr, 0, len(p.sessions))
	for addr := range p.sessions {
		out = append(out, addr)
	}
	return out
}

// AcceptIncoming completes the responder handshake on conn and, if it
// succeeds and the pool has room for a new, non-duplicate remote, commits
// the session. On any refusal the connection is closed and never joins the
// pool (spec.md §4.2 "accept_incoming").
func (p *Pool) AcceptIncoming(conn net.Conn, addr wire.PeerAddr, handshakeTimeout time.Duration) (*wire.Session, error) {
	if err := wire.AcceptHandshake(conn, handshakeTimeout); err != nil {
		conn.Close()
		return nil, err
	}

	session := wire.NewSession(addr, conn)
	if err := p.commit(addr, session); err != nil {
		conn.Close()
		return nil, err
	}
	return session, nil
}

// Dial opens a new connection to addr, performs the initiator handshake,
// and commits it to the pool under the same capacity/duplicate rules as
// AcceptIncoming (spec.md §4.2 "dial").
func (p *Pool) Dial(addr wire.PeerAddr, dialTimeout, handshakeTimeout time.Duration) (*wire.Session, error) {
	conn, err := net.DialTimeout("tcp", addr.String(), dialTimeout)
	if err != nil {
		return nil, errors.Wrapf(err, "pool: dialing %s", addr)
	}

	if err := wire.DialHandshake(conn, handshakeTimeout); err != nil {
		conn.Close()
		return nil, err
	}

	session := wire.NewSession(addr, conn)
	if err := p.commit(addr, session); err != nil {
		conn.Close()
		return nil, err
	}
	return session, nil
}

// commit performs the capacity/duplicate check and insertion under the
// pool lock, firing the new hook while still holding it (spec.md §4.2:
// "Hooks new and close are invoked while the lock is held so that
// observers see a consistent view").
func (p *Pool) commit(addr wire.PeerAddr, session *wire.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.sessions) >= p.max {
		p.log.WithField("peer", addr).Warn("rejecting connection: pool at capacity")
		return ErrPoolFull
	}
	if _, exists := p.sessions[addr]; exists {
		p.log.WithField("peer", addr).Warn("rejecting connection: duplicate peer")
		return ErrDuplicate
	}

	p.sessions[addr] = session
	if p.onNew != nil {
		p.onNew(addr, session)
	}
	p.log.WithField("peer", addr).Info("session joined pool")
	return nil
}

// Release removes and closes the session for addr, firing the close hook
// under the lock but performing the actual socket close outside it
// (spec.md §5: "No I/O is performed under this lock").
func (p *Pool) Release(addr wire.PeerAddr) {
	p.mu.Lock()
	session, ok := p.sessions[addr]
	if ok {
		delete(p.sessions, addr)
		if p.onClose != nil {
			p.onClose(addr)
		}
	}
	p.mu.Unlock()

	if ok {
		session.Close()
		p.log.WithField("peer", addr).Info("session released")
	}
}

// CloseAll releases every pooled session, used by peer node shutdown. It
// empties the map and fires the close hook under the pool lock, then closes
// the connections after unlocking, like Release.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	sessions := make(map[wire.PeerAddr]*wire.Session, len(p.sessions))
	for addr, s := range p.sessions {
		sessions[addr] = s
		if p.onClose != nil {
			p.onClose(addr)
		}
	}
	p.sessions = make(map[wire.PeerAddr]*wire.Session)
	p.mu.Unlock()

	for addr, s := range sessions {
		s.Close()
		p.log.WithField("peer", addr).Info("session released on shutdown")
	}
}
