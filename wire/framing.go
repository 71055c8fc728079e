// Package wire implements the session protocol from spec.md §4.1: a fixed
// PING/PONG handshake, then a stream of length-prefixed JSON headers with
// an optional trailing binary payload. The tracker (spec.md §4.5) reuses
// the exact same framing with a different header vocabulary, which is why
// framing, handshake and the Session type live in one package instead of
// being duplicated per caller.
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// MaxHeaderLen is the hard cap spec.md §4.1 places on a header: "a 4-byte
// big-endian unsigned length L with 1 ≤ L ≤ 1024".
const MaxHeaderLen = 1024

// ErrProtocolViolation marks a framing error: oversized header, malformed
// JSON, or an out-of-range declared payload length. Per spec.md §7 this
// closes the offending session without affecting any other session.
var ErrProtocolViolation = errors.New("wire: protocol violation")

// Header is the string-to-scalar mapping spec.md §4.1 describes. Field
// names that carry identifiers ("file_name") are plain Go strings on both
// sides of the wire; a Go string is already a byte sequence, so no
// separate str/bytes canonicalization step is needed the way the Python
// original required (it re-encoded file_name to bytes after json.loads so
// it would compare equal to the byte-string keys already stored in its
// manifest dict).
type Header map[string]any

// String returns the string value of key, or "" if absent or not a string.
func (h Header) String(key string) string {
	v, _ := h[key].(string)
	return v
}

// Int returns the int value of key. JSON numbers decode as float64, so this
// converts; missing or non-numeric keys return 0.
func (h Header) Int(key string) int {
	switch v := h[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// Has reports whether key is present in the header at all.
func (h Header) Has(key string) bool {
	_, ok := h[key]
	return ok
}

// WriteMessage writes one frame: length-prefix, header, and payload if the
// header declares data_length > 0. The caller is responsible for setting
// data_length to len(payload) beforehand (mirrors connections.py's
// _send_response).
func WriteMessage(w io.Writer, header Header, payload []byte) error {
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "wire: encoding header")
	}
	if len(headerBytes) > MaxHeaderLen {
		return errors.Wrapf(ErrProtocolViolation, "header of %d bytes exceeds %d", len(headerBytes), MaxHeaderLen)
	}

	var buf bytes.Buffer
	buf.Grow(4 + len(headerBytes) + len(payload))

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(headerBytes)))
	buf.Write(lenPrefix[:])
	buf.Write(headerBytes)

	if header.Int("data_length") > 0 {
		buf.Write(payload)
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "wire: writing frame")
	}
	return nil
}

// ReadMessage reads one frame: the 4-byte length prefix, the JSON header,
// and — if the header declares data_length in (0, maxPayload] — that many
// payload bytes, read in chunkSize-bounded reads to respect backpressure
// (spec.md §5 "Resource policy"). maxPayload is the implementer-chosen cap
// spec.md §4.1 requires to be "≥ piece_length"; a declared data_length
// outside [0, maxPayload] is a protocol violation and the caller must close
// the session.
func ReadMessage(r io.Reader, maxPayload, chunkSize int) (Header, []byte, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, nil, errors.Wrap(err, "wire: reading length prefix")
	}

	length := binary.BigEndian.Uint32(lenPrefix[:])
	if length < 1 || length > MaxHeaderLen {
		return nil, nil, errors.Wrapf(ErrProtocolViolation, "header length %d out of range", length)
	}

	headerBytes := make([]byte, length)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, nil, errors.Wrap(err, "wire: reading header")
	}

	var header Header
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, nil, errors.Wrapf(ErrProtocolViolation, "decoding header: %v", err)
	}

	dataLength := header.Int("data_length")
	if dataLength == 0 {
		return header, nil, nil
	}
	if dataLength < 0 || dataLength > maxPayload {
		return nil, nil, errors.Wrapf(ErrProtocolViolation, "data_length %d out of range (max %d)", dataLength, maxPayload)
	}

	payload, err := readBounded(r, dataLength, chunkSize)
	if err != nil {
		return nil, nil, errors.Wrap(err, "wire: reading payload")
	}
	return header, payload, nil
}

// readBounded reads exactly n bytes from r, never requesting more than
// chunkSize at a time, matching connections.py's _receive_chunk_data loop
// (`conn.recv(min(data_remaining, self.size_limit))`).
func readBounded(r io.Reader, n, chunkSize int) ([]byte, error) {
	if chunkSize <= 0 {
		chunkSize = n
	}
	out := make([]byte, 0, n)
	remaining := n
	for remaining > 0 {
		step := remaining
		if step > chunkSize {
			step = chunkSize
		}
		buf := make([]byte, step)
		read, err := io.ReadFull(r, buf)
		if err != nil {
			return nil, err
		}
		out = append(out, buf[:read]...)
		remaining -= read
	}
	return out, nil
}
