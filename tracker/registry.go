// Package tracker implements the swarm registry and session server from
// spec.md §4.5: a torrent_id -> {peer_address -> last_seen} map, a periodic
// sweeper that evicts stale peers, and the announce/peer_list_update/stop/
// time_update request handlers.
//
// Grounded on the original implementation's tracker/peers_db.py (Peer_DB)
// for the registry's eviction and idempotent-announce semantics, and
// tracker/tracker.py for the request dispatch shape, rebuilt on the wire
// package's framing instead of tracker.py's ad hoc recv/json.loads loop.
package tracker

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hoangvu/swarmcast/wire"
)

// Registry is the torrent_id -> peer_address -> last_seen swarm table.
// Grounded on Peer_DB: a single lock guarding a nested map, plus a
// configurable staleness timeout used by Sweep.
type Registry struct {
	mu      sync.Mutex
	swarms  map[string]map[wire.PeerAddr]time.Time
	timeout time.Duration
	log     *logrus.Entry
}

// NewRegistry creates an empty registry. timeout is the peer staleness
// window (spec.md §6 default 180s).
func NewRegistry(timeout time.Duration, log *logrus.Entry) *Registry {
	return &Registry{
		swarms:  make(map[string]map[wire.PeerAddr]time.Time),
		timeout: timeout,
		log:     log,
	}
}

// Announce registers peer as a member of torrentID's swarm, stamping its
// last_seen. If the peer was already present this is a no-op that reports
// alreadyAnnounced=true rather than an error (spec.md §4.5, Peer_DB.add_peer's
// BufferError path): the caller still gets back the peer list.
func (r *Registry) Announce(torrentID string, peer wire.PeerAddr) (peers []wire.PeerAddr, alreadyAnnounced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	swarm, ok := r.swarms[torrentID]
	if !ok {
		swarm = make(map[wire.PeerAddr]time.Time)
		r.swarms[torrentID] = swarm
	}

	if _, exists := swarm[peer]; exists {
		r.log.WithFields(logrus.Fields{"torrent": torrentID, "peer": peer}).Info("duplicate announce")
		return r.listLocked(torrentID), true
	}

	swarm[peer] = time.Now()
	r.log.WithFields(logrus.Fields{"torrent": torrentID, "peer": peer}).Info("peer announced")
	return r.listLocked(torrentID), false
}

// PeerList returns the current swarm membership for torrentID, or nil if
// the torrent is unknown (spec.md §4.5 "peer_list_update").
func (r *Registry) PeerList(torrentID string) []wire.PeerAddr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(torrentID)
}

func (r *Registry) listLocked(torrentID string) []wire.PeerAddr {
	swarm, ok := r.swarms[torrentID]
	if !ok {
		return nil
	}
	out := make([]wire.PeerAddr, 0, len(swarm))
	for addr := range swarm {
		out = append(out, addr)
	}
	return out
}

// Remove drops peer from torrentID's swarm (spec.md §4.5 "stop"). It is a
// no-op if the peer or torrent is unknown, matching Peer_DB.remove_peer's
// pop(peer_id, None).
func (r *Registry) Remove(torrentID string, peer wire.PeerAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if swarm, ok := r.swarms[torrentID]; ok {
		delete(swarm, peer)
	}
}

// TouchLastSeen refreshes peer's last_seen timestamp. A time_update for a
// peer absent from the swarm is a logged no-op, not an error (spec.md §4.5
// and Peer_DB.update_last_seen's "Handle case where peer doesn't exist").
func (r *Registry) TouchLastSeen(torrentID string, peer wire.PeerAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()

	swarm, ok := r.swarms[torrentID]
	if !ok {
		r.log.WithFields(logrus.Fields{"torrent": torrentID, "peer": peer}).Warn("time_update for unknown torrent")
		return
	}
	if _, exists := swarm[peer]; !exists {
		r.log.WithFields(logrus.Fields{"torrent": torrentID, "peer": peer}).Warn("time_update for unannounced peer")
		return
	}
	swarm[peer] = time.Now()
}

// Sweep evicts every peer whose last_seen is older than the registry's
// timeout, deleting any torrent left with an empty swarm (spec.md §4.5
// "sweeper", Peer_DB.cleanup_inactive_peers).
func (r *Registry) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for torrentID, swarm := range r.swarms {
		for peer, lastSeen := range swarm {
			if now.Sub(lastSeen) >= r.timeout {
				delete(swarm, peer)
			}
		}
		if len(swarm) == 0 {
			delete(r.swarms, torrentID)
		}
	}
}
