package wire

// Command values recognized by a peer session's header (spec.md §4.1).
const (
	CmdRequestChunk = "REQUEST_CHUNK"
	CmdChunkData    = "CHUNK_DATA"
)

// Status values carried in a CHUNK_DATA response header.
const (
	StatusOK    = "OK"
	StatusError = "ERROR"
)

// Tracker action values carried in the "action" header field (spec.md §4.5).
const (
	ActionAnnounce        = "announce"
	ActionPeerListUpdate  = "peer_list_update"
	ActionStop            = "stop"
	ActionTimeUpdate      = "time_update"
	TrackerCommandMessage = "MESSAGE"
)

// Three-byte acknowledgements a CHUNK_DATA payload's receiver sends back,
// exactly as connections.py's _handle_incoming_chunk does with b"ACK"/b"ERR".
var (
	Ack = []byte("ACK")
	Err = []byte("ERR")
)
