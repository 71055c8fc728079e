package wire

import (
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

// handshakeInitiator and handshakeResponder are the fixed four-byte tokens
// spec.md §4.1 defines: the initiator sends PING, the responder replies
// PONG. Adapted from the teacher's and the Python original's literal
// b"PING"/b"PONG" exchange in connections.py's _perform_handshake /
// connect_to_peer.
var (
	handshakeInitiator = []byte("PING")
	handshakeResponder = []byte("PONG")
)

// ErrHandshakeFailed is returned for any handshake deviation: wrong bytes,
// short read, or timeout. Callers must not place the connection in the
// pool when this is returned (spec.md property §8.2).
var ErrHandshakeFailed = errors.New("wire: handshake failed")

// DialHandshake performs the initiator side of the handshake over conn:
// send PING, expect PONG within timeout. It is the first thing Dial does
// before a session is ever considered for the pool.
func DialHandshake(conn net.Conn, timeout time.Duration) error {
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return errors.Wrap(err, "wire: set handshake deadline")
	}
	defer conn.SetDeadline(time.Time{})

	if _, err := conn.Write(handshakeInitiator); err != nil {
		return errors.Wrap(ErrHandshakeFailed, err.Error())
	}

	resp := make([]byte, len(handshakeResponder))
	if _, err := io.ReadFull(conn, resp); err != nil {
		return errors.Wrapf(ErrHandshakeFailed, "reading PONG: %v", err)
	}
	if string(resp) != string(handshakeResponder) {
		return errors.Wrapf(ErrHandshakeFailed, "unexpected response %q", resp)
	}
	return nil
}

// AcceptHandshake performs the responder side: expect PING within timeout,
// reply PONG. Any deviation closes the session before it ever reaches the
// pool (spec.md §4.1 "Any deviation ... terminates the session before it
// joins the pool").
func AcceptHandshake(conn net.Conn, timeout time.Duration) error {
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return errors.Wrap(err, "wire: set handshake deadline")
	}
	defer conn.SetDeadline(time.Time{})

	req := make([]byte, len(handshakeInitiator))
	if _, err := io.ReadFull(conn, req); err != nil {
		return errors.Wrapf(ErrHandshakeFailed, "reading PING: %v", err)
	}
	if string(req) != string(handshakeInitiator) {
		return errors.Wrapf(ErrHandshakeFailed, "unexpected request %q", req)
	}

	if _, err := conn.Write(handshakeResponder); err != nil {
		return errors.Wrap(ErrHandshakeFailed, err.Error())
	}
	return nil
}
