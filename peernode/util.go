package peernode

import (
	"encoding/hex"
	"strconv"
)

// torrentIDFromHash renders an info hash as the lowercase hex string used
// as the tracker's torrent_id key (spec.md §4.5 "torrent_id is the info
// hash, hex-encoded").
func torrentIDFromHash(hash [20]byte) string {
	return hex.EncodeToString(hash[:])
}

func portString(port int) string {
	return strconv.Itoa(port)
}
