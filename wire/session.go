package wire

import (
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"
)

// Session is a live, full-duplex framed connection to exactly one remote
// peer address (spec.md §3 "Session" invariant: at most one session per
// (local, remote) direction). It serializes writes with a mutex because
// both the dispatch loop (replying to a request) and a caller issuing a
// new request may write concurrently, even though spec.md §4.1 notes a
// single session only alternates request/response and never pipelines.
type Session struct {
	Addr PeerAddr
	conn net.Conn

	writeMu sync.Mutex
}

// NewSession wraps an already-handshaken net.Conn.
func NewSession(addr PeerAddr, conn net.Conn) *Session {
	return &Session{Addr: addr, conn: conn}
}

// Send writes one frame: header plus payload if data_length > 0.
func (s *Session) Send(header Header, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return WriteMessage(s.conn, header, payload)
}

// Receive reads one frame, bounding payload reads to chunkSize and
// rejecting any declared data_length above maxPayload.
func (s *Session) Receive(maxPayload, chunkSize int) (Header, []byte, error) {
	return ReadMessage(s.conn, maxPayload, chunkSize)
}

// ReceivePayload reads exactly n bytes of raw payload not preceded by a
// header, used when a response header has already announced data_length
// and the payload follows immediately (spec.md §4.1 CHUNK_DATA flow).
func (s *Session) ReceivePayload(n, chunkSize int) ([]byte, error) {
	return readBounded(s.conn, n, chunkSize)
}

// SendAck writes the three-byte ACK/ERR acknowledgement a CHUNK_DATA
// receiver sends back (spec.md §4.1).
func (s *Session) SendAck(ok bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	token := Ack
	if !ok {
		token = Err
	}
	_, err := s.conn.Write(token)
	return errors.Wrap(err, "wire: sending ack")
}

// ReceiveAck reads the three-byte ACK/ERR token.
func (s *Session) ReceiveAck() (bool, error) {
	buf := make([]byte, 3)
	if _, err := io.ReadFull(s.conn, buf); err != nil {
		return false, errors.Wrap(err, "wire: reading ack")
	}
	return string(buf) == string(Ack), nil
}

// Conn exposes the underlying connection for deadline management by
// callers that need request-level timeouts (spec.md §5).
func (s *Session) Conn() net.Conn {
	return s.conn
}

// Close releases the underlying connection. The connection pool is the
// only intended caller in steady state (spec.md §4.2 "release"); it is
// exported so a session that never makes it into the pool (rejected for
// capacity or duplication) can still be closed by its opener.
func (s *Session) Close() error {
	return s.conn.Close()
}
