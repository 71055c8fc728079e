package torrentfile

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/jackpal/bencode-go"
	"github.com/pkg/errors"
)

// Decode reads a bencoded manifest from r and computes its InfoHash.
// Adapted from the teacher's Parse/computeInfoHash pair in
// torrent/parse.go, reworked to take an io.Reader (so callers can decode
// from a network payload as well as a file) and to return the hash instead
// of logging it.
func Decode(r io.Reader) (*Manifest, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "torrentfile: reading manifest")
	}

	var m Manifest
	if err := bencode.Unmarshal(bytes.NewReader(raw), &m); err != nil {
		return nil, errors.Wrap(err, "torrentfile: decoding manifest")
	}

	infoBytes, err := extractInfoBytes(raw)
	if err != nil {
		return nil, err
	}
	m.InfoHash = sha1.Sum(infoBytes)

	if err := m.Info.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// DecodeFile opens path and decodes it as a manifest.
func DecodeFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "torrentfile: opening %s", path)
	}
	defer f.Close()
	return Decode(f)
}

// Encode bencodes m to w and refreshes m.InfoHash so the in-memory value
// matches what was just written.
func Encode(w io.Writer, m *Manifest) error {
	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, *m); err != nil {
		return errors.Wrap(err, "torrentfile: encoding manifest")
	}

	infoBytes, err := extractInfoBytes(buf.Bytes())
	if err != nil {
		return err
	}
	m.InfoHash = sha1.Sum(infoBytes)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "torrentfile: writing manifest")
	}
	return nil
}

// EncodeFile writes m to path, creating or truncating it.
func EncodeFile(path string, m *Manifest) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "torrentfile: creating %s", path)
	}
	defer f.Close()
	return Encode(f, m)
}

// extractInfoBytes locates the "4:info" key in a bencoded dictionary and
// returns the raw bytes of its value, so the info hash can be computed over
// exactly the bytes that were on the wire rather than a re-encoding of the
// decoded struct (which could disagree on key order or field coverage).
// Ported near-verbatim from the teacher's torrent/parse.go; the BitTorrent
// info-hash convention (hash the encoded info dict, not the decoded struct)
// applies unchanged here.
func extractInfoBytes(data []byte) ([]byte, error) {
	idx := bytes.Index(data, []byte("4:info"))
	if idx < 0 {
		return nil, errors.New("torrentfile: no \"4:info\" key found")
	}

	start := idx + len("4:info")

	depth := 0
	for i := start; i < len(data); i++ {
		b := data[i]

		switch b {
		case 'd', 'l':
			depth++
		case 'e':
			depth--
			if depth == 0 {
				return data[start : i+1], nil
			}
		case 'i':
			j := i + 1
			for ; j < len(data) && data[j] != 'e'; j++ {
			}
			if j >= len(data) {
				return nil, errors.Errorf("torrentfile: unterminated integer at %d", i)
			}
			i = j
		default:
			if b >= '0' && b <= '9' {
				j := i
				for ; j < len(data) && data[j] >= '0' && data[j] <= '9'; j++ {
				}
				if j < len(data) && data[j] == ':' {
					length, err := strconv.Atoi(string(data[i:j]))
					if err != nil {
						return nil, errors.Wrapf(err, "torrentfile: invalid string length at %d-%d", i, j)
					}
					j++
					i = j + length - 1
				}
			}
		}
	}
	return nil, fmt.Errorf("torrentfile: unterminated info dict")
}
