package tracker

import (
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/hoangvu/swarmcast/wire"
)

// Client is a short-lived tracker session opened by a peer node to
// announce itself, refresh its liveness, fetch the current swarm, or
// deregister. Grounded on the original implementation's tracker-facing
// calls in downloader.py/uploader.py (each opens a fresh socket per
// tracker request rather than keeping one open).
type Client struct {
	trackerAddr      string
	dialTimeout      time.Duration
	handshakeTimeout time.Duration
}

// NewClient creates a tracker client dialing trackerAddr for each request.
func NewClient(trackerAddr string, dialTimeout, handshakeTimeout time.Duration) *Client {
	return &Client{trackerAddr: trackerAddr, dialTimeout: dialTimeout, handshakeTimeout: handshakeTimeout}
}

func (c *Client) open() (*wire.Session, error) {
	conn, err := net.DialTimeout("tcp", c.trackerAddr, c.dialTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "tracker client: dial")
	}
	if err := wire.DialHandshake(conn, c.handshakeTimeout); err != nil {
		conn.Close()
		return nil, err
	}
	return wire.NewSession(wire.PeerAddr{}, conn), nil
}

func (c *Client) roundTrip(header wire.Header) (wire.Header, error) {
	session, err := c.open()
	if err != nil {
		return nil, err
	}
	defer session.Close()

	if err := session.Send(header, nil); err != nil {
		return nil, err
	}
	resp, _, err := session.Receive(maxHeaderPayload, 0)
	return resp, err
}

// Announce registers self with torrentID's swarm and returns the current
// peer list (spec.md §4.5 "announce").
func (c *Client) Announce(torrentID string, self wire.PeerAddr) ([]wire.PeerAddr, error) {
	resp, err := c.roundTrip(wire.Header{
		"action":     wire.ActionAnnounce,
		"torrent_id": torrentID,
		"peer_ip":    self.Host,
		"port":       self.Port,
	})
	if err != nil {
		return nil, err
	}
	if errMsg := resp.String("error"); errMsg != "" {
		return nil, errors.Errorf("tracker client: announce rejected: %s", errMsg)
	}
	return DecodePeerList(resp), nil
}

// PeerList fetches the current swarm for torrentID (spec.md §4.5
// "peer_list_update").
func (c *Client) PeerList(torrentID string) ([]wire.PeerAddr, error) {
	resp, err := c.roundTrip(wire.Header{
		"action":     wire.ActionPeerListUpdate,
		"torrent_id": torrentID,
	})
	if err != nil {
		return nil, err
	}
	return DecodePeerList(resp), nil
}

// Stop deregisters self from torrentID's swarm (spec.md §4.5 "stop"). No
// response is expected.
func (c *Client) Stop(torrentID string, self wire.PeerAddr) error {
	session, err := c.open()
	if err != nil {
		return err
	}
	defer session.Close()
	return session.Send(wire.Header{
		"action":     wire.ActionStop,
		"torrent_id": torrentID,
		"peer_ip":    self.Host,
		"port":       self.Port,
	}, nil)
}

// TimeUpdate refreshes self's last_seen timestamp (spec.md §4.5
// "time_update").
func (c *Client) TimeUpdate(torrentID string, self wire.PeerAddr) error {
	session, err := c.open()
	if err != nil {
		return err
	}
	defer session.Close()
	return session.Send(wire.Header{
		"action":     wire.ActionTimeUpdate,
		"torrent_id": torrentID,
		"peer_ip":    self.Host,
		"port":       self.Port,
	}, nil)
}
