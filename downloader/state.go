// Package downloader implements the download-side piece acquisition from
// spec.md §4.4: request pieces round-robin from known peers, verify each
// against the manifest's SHA-1 digest before accepting it — a check the
// original implementation never performed, which spec.md calls out as a
// required correction — and assemble the finished file atomically.
//
// Grounded on the original implementation's peer/downloader.py for the
// deduplicating chunks_data/active_downloads bookkeeping shape, rebuilt
// around torrentfile.Info.VerifyPiece and an atomic temp-then-rename
// assembly instead of downloader.py's direct f.write loop.
package downloader

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hoangvu/swarmcast/torrentfile"
)

// ErrDigestMismatch is returned when a received piece's SHA-1 does not
// match the manifest (spec.md §4.4 mandatory verification).
var ErrDigestMismatch = errors.New("downloader: piece digest mismatch")

// State tracks one file's in-progress download: which pieces have been
// verified and stored; it does not record which peer supplied them. Grounded on
// downloader.py's self.active_downloads / self.chunks_data, collapsed into
// a single mutex-guarded map keyed by piece index (the Python version kept
// a parallel list of indices per peer purely to answer
// "is peer_id known", which this type doesn't need since callers already
// hold a *wire.Session).
type State struct {
	info torrentfile.Info
	dir  string

	mu     sync.Mutex
	pieces map[int][]byte
}

// NewState creates tracking state for a manifest's download into dir.
func NewState(info torrentfile.Info, dir string) *State {
	return &State{info: info, dir: dir, pieces: make(map[int][]byte)}
}

// HasPiece reports whether index has already been verified and stored.
func (s *State) HasPiece(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pieces[index]
	return ok
}

// Missing returns the indices not yet acquired, in ascending order.
func (s *State) Missing() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []int
	for i := 0; i < s.info.ExpectedNumPieces(); i++ {
		if _, ok := s.pieces[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

// Store verifies data against the manifest's digest for index and, if it
// matches, records it. A duplicate delivery for an already-stored index is
// silently discarded (spec.md §4.4 "a piece delivered twice is a no-op, not
// an error") rather than re-verified and rewritten.
func (s *State) Store(index int, data []byte) error {
	if s.HasPiece(index) {
		return nil
	}
	ok, err := s.info.VerifyPiece(index, data)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(ErrDigestMismatch, "piece %d", index)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pieces[index]; exists {
		return nil
	}
	s.pieces[index] = data
	return nil
}

// Complete reports whether every piece the manifest names has been
// acquired.
func (s *State) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pieces) >= s.info.ExpectedNumPieces()
}

// Assemble writes the completed file(s) to disk. For a single-file
// manifest it writes dir/info.Name; for a multi-file manifest it recreates
// each entry's relative path under dir. Each destination is written to a
// temp file and renamed into place so a crash mid-write never leaves a
// half-written file at its final path (spec.md §4.4 "atomic assembly").
func (s *State) Assemble(log *logrus.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pieces) < s.info.ExpectedNumPieces() {
		return errors.New("downloader: cannot assemble, pieces missing")
	}

	var all []byte
	for i := 0; i < s.info.ExpectedNumPieces(); i++ {
		all = append(all, s.pieces[i]...)
	}

	if !s.info.IsMultiFile() {
		return atomicWrite(filepath.Join(s.dir, s.info.Name), all)
	}

	var offset int64
	for _, entry := range s.info.Files {
		path := filepath.Join(append([]string{s.dir}, entry.Path...)...)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return errors.Wrapf(err, "downloader: creating directory for %s", path)
		}
		chunk := all[offset : offset+entry.Length]
		if err := atomicWrite(path, chunk); err != nil {
			return err
		}
		offset += entry.Length
		log.WithField("file", path).Info("assembled file")
	}
	return nil
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "downloader: writing %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "downloader: renaming %s to %s", tmp, path)
	}
	return nil
}

// Partial exposes an already-verified piece for re-serving by the
// uploader's partial-cache fallback (spec.md §4.6 Open Question
// resolution: serve from a partial download if the local file isn't
// complete yet, still subject to the uploader's own re-verification
// before it goes out on the wire).
func (s *State) Partial(index int) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.pieces[index]
	return data, ok
}
