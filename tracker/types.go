package tracker

import "github.com/hoangvu/swarmcast/wire"

func parsePeerRequest(h wire.Header) (torrentID string, peer wire.PeerAddr, ok bool) {
	torrentID = h.String("torrent_id")
	host := h.String("peer_ip")
	port := h.Int("port")
	if torrentID == "" || host == "" || port == 0 {
		return "", wire.PeerAddr{}, false
	}
	return torrentID, wire.PeerAddr{Host: host, Port: port}, true
}

func peerListHeader(peers []wire.PeerAddr) wire.Header {
	list := make([]map[string]any, 0, len(peers))
	for _, p := range peers {
		list = append(list, map[string]any{"host": p.Host, "port": p.Port})
	}
	return wire.Header{
		"command":   wire.TrackerCommandMessage,
		"peer_list": list,
	}
}

// DecodePeerList converts the "peer_list" field of a tracker response
// header back into PeerAddr values. Client uses it to decode announce and
// peer_list_update responses.
func DecodePeerList(h wire.Header) []wire.PeerAddr {
	raw, _ := h["peer_list"].([]any)
	out := make([]wire.PeerAddr, 0, len(raw))
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		host, _ := m["host"].(string)
		portF, _ := m["port"].(float64)
		if host == "" {
			continue
		}
		out = append(out, wire.PeerAddr{Host: host, Port: int(portF)})
	}
	return out
}
