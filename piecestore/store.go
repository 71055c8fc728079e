// Package piecestore implements random-access piece extraction from a
// manifest's underlying file(s), spec.md §4.3 ("given a piece index, return
// exactly that piece's bytes, regardless of whether the manifest describes
// one file or many").
//
// Grounded on the teacher's single-file assumption in torrent/p2p.go's
// DownloadFromPeer (which only ever opens one destination file) generalized
// to the multi-file case spec.md requires, using the same seek+read shape.
package piecestore

import (
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/hoangvu/swarmcast/torrentfile"
)

// ErrPieceOutOfRange is returned for a piece index outside
// [0, ExpectedNumPieces).
var ErrPieceOutOfRange = errors.New("piecestore: piece index out of range")

// Store answers piece reads for a manifest backed by files rooted at root.
// For a single-file manifest root is the file itself; for a multi-file
// manifest it is the directory the files were laid out under.
type Store struct {
	info torrentfile.Info
	root string
}

// New creates a Store for info rooted at root.
func New(info torrentfile.Info, root string) *Store {
	return &Store{info: info, root: root}
}

// ReadPiece returns the exact bytes of piece index, spanning as many
// underlying files as necessary in the multi-file case.
func (s *Store) ReadPiece(index int) ([]byte, error) {
	if index < 0 || index >= s.info.ExpectedNumPieces() {
		return nil, errors.Wrapf(ErrPieceOutOfRange, "index %d", index)
	}

	length, err := s.info.PieceLengthAt(index)
	if err != nil {
		return nil, err
	}
	offset := int64(index) * s.info.PieceLength

	if !s.info.IsMultiFile() {
		return s.readSingleFile(offset, length)
	}
	return s.readMultiFile(offset, length)
}

func (s *Store) readSingleFile(offset, length int64) ([]byte, error) {
	f, err := os.Open(s.root)
	if err != nil {
		return nil, errors.Wrapf(err, "piecestore: opening %s", s.root)
	}
	defer f.Close()

	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "piecestore: reading piece at offset %d", offset)
	}
	return buf, nil
}

// readMultiFile extracts [offset, offset+length) from the virtual
// concatenation of this manifest's files, intersecting the requested range
// against each file's cumulative offset span (spec.md §4.3 "multi-file
// extraction").
func (s *Store) readMultiFile(offset, length int64) ([]byte, error) {
	out := make([]byte, 0, length)
	want := offset
	end := offset + length

	var cumulative int64
	for _, entry := range s.info.Files {
		fileStart := cumulative
		fileEnd := cumulative + entry.Length
		cumulative = fileEnd

		if fileEnd <= want || fileStart >= end {
			continue
		}

		readStart := max64(want, fileStart) - fileStart
		readEnd := min64(end, fileEnd) - fileStart

		path := joinPath(s.root, entry.Path)
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "piecestore: opening %s", path)
		}
		chunk := make([]byte, readEnd-readStart)
		_, err = f.ReadAt(chunk, readStart)
		f.Close()
		if err != nil && err != io.EOF {
			return nil, errors.Wrapf(err, "piecestore: reading %s", path)
		}
		out = append(out, chunk...)

		if fileEnd >= end {
			break
		}
	}

	if int64(len(out)) != length {
		return nil, errors.Errorf("piecestore: assembled %d bytes, want %d", len(out), length)
	}
	return out, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
