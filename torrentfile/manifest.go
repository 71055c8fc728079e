// Package torrentfile implements the manifest format from spec.md §3/§4.7:
// a bencoded dictionary describing one logical file set split into
// fixed-size, SHA-1-verified pieces.
//
// Grounded on the teacher's torrent/torrent.go struct layout (TorrentFile,
// TorrentInfo, TorrentFileEntry) and torrent/parse.go's info-hash
// extraction, trimmed to the fields spec.md actually defines and stripped
// of BitTorrent-specific fields (announce-list, DHT nodes, web seeds) the
// spec's tracker model has no use for.
package torrentfile

import (
	"crypto/sha1"

	"github.com/pkg/errors"
)

// PieceSize is the byte length of one SHA-1 digest stored in Info.Pieces.
const PieceSize = sha1.Size

// ErrTruncatedPieces is returned when Info.Pieces is not a multiple of
// PieceSize, which spec.md §3 lists as a structurally invalid manifest.
var ErrTruncatedPieces = errors.New("torrentfile: pieces field is not a multiple of 20 bytes")

// ErrPieceCountMismatch is returned when the number of piece hashes does not
// match ceil(total_length / piece_length), spec.md §3's manifest invariant.
var ErrPieceCountMismatch = errors.New("torrentfile: piece count does not match total length")

// Manifest is the root bencoded dictionary (spec.md §3 "Manifest").
type Manifest struct {
	Announce string `bencode:"announce"`
	Info     Info   `bencode:"info"`

	// InfoHash is derived, never encoded: the SHA-1 digest of the bencoded
	// Info dictionary (spec.md §3 "info_hash identifies a torrent
	// independent of its announce URL"). Decode sets it and Encode refreshes
	// it; Create and CreateMultiFile leave it zero, so a freshly created
	// Manifest has a zero InfoHash until it is encoded.
	InfoHash [20]byte `bencode:"-"`
}

// FileEntry describes one file within a multi-file manifest (spec.md §4.7).
type FileEntry struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// Info is the bencoded "info" dictionary whose hash is the torrent's
// identity (spec.md §3 "Info").
type Info struct {
	PieceLength int64       `bencode:"piece length"`
	Pieces      string      `bencode:"pieces"`
	Name        string      `bencode:"name"`
	Length      int64       `bencode:"length,omitempty"`
	Files       []FileEntry `bencode:"files,omitempty"`
}

// IsMultiFile reports whether this manifest describes a directory of files
// rather than a single file (spec.md §4.7).
func (i Info) IsMultiFile() bool {
	return len(i.Files) > 0
}

// TotalLength returns the sum of all file lengths described by this info
// dictionary, spec.md §3's total_length.
func (i Info) TotalLength() int64 {
	if !i.IsMultiFile() {
		return i.Length
	}
	var total int64
	for _, f := range i.Files {
		total += f.Length
	}
	return total
}

// NumPieces returns the number of fixed-size pieces the manifest declares,
// derived from the length of the pieces hash string.
func (i Info) NumPieces() int {
	return len(i.Pieces) / PieceSize
}

// ExpectedNumPieces returns ceil(total_length / piece_length), the piece
// count a structurally valid manifest must carry. Unlike NumPieces it does
// not depend on the pieces hash string being populated, so piece extraction
// can bound itself correctly even against an Info built without hashes
// (e.g. in piecestore tests or partial in-memory manifests).
func (i Info) ExpectedNumPieces() int {
	total := i.TotalLength()
	if total == 0 {
		return 0
	}
	return int((total + i.PieceLength - 1) / i.PieceLength)
}

// PieceHash returns the expected SHA-1 digest for piece index, or an error
// if index is out of range.
func (i Info) PieceHash(index int) ([PieceSize]byte, error) {
	var out [PieceSize]byte
	if index < 0 || index >= i.NumPieces() {
		return out, errors.Errorf("torrentfile: piece index %d out of range [0,%d)", index, i.NumPieces())
	}
	copy(out[:], i.Pieces[index*PieceSize:(index+1)*PieceSize])
	return out, nil
}

// PieceLengthAt returns the length a correctly-sized piece at index should
// have: piece_length for every piece but the last, which is
// total_length - piece_length*(num_pieces-1) (spec.md §3 "the final piece
// may be shorter").
func (i Info) PieceLengthAt(index int) (int64, error) {
	n := i.ExpectedNumPieces()
	if index < 0 || index >= n {
		return 0, errors.Errorf("torrentfile: piece index %d out of range [0,%d)", index, n)
	}
	if index < n-1 {
		return i.PieceLength, nil
	}
	return i.TotalLength() - i.PieceLength*int64(n-1), nil
}

// Validate checks the structural invariants spec.md §3 requires of a
// manifest: the pieces field divides evenly into 20-byte hashes, and the
// hash count matches ceil(total_length / piece_length).
func (i Info) Validate() error {
	if len(i.Pieces)%PieceSize != 0 {
		return ErrTruncatedPieces
	}
	if i.PieceLength <= 0 {
		return errors.New("torrentfile: piece length must be positive")
	}

	expected := (i.TotalLength() + i.PieceLength - 1) / i.PieceLength
	if i.TotalLength() == 0 {
		expected = 0
	}
	if int64(i.NumPieces()) != expected {
		return errors.Wrapf(ErrPieceCountMismatch, "have %d pieces, want %d", i.NumPieces(), expected)
	}
	return nil
}

// VerifyPiece reports whether data hashes to the expected digest for piece
// index (spec.md §4.3/§4.4 mandatory integrity check on every received or
// served piece).
func (i Info) VerifyPiece(index int, data []byte) (bool, error) {
	want, err := i.PieceHash(index)
	if err != nil {
		return false, err
	}
	got := sha1.Sum(data)
	return got == want, nil
}
