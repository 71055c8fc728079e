package torrentfile

import (
	"crypto/sha1"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Create builds a single-file manifest by hashing path in piece_length
// chunks (spec.md §4.7, supplemented from the original implementation's
// torrent-creation CLI path, which the distilled spec mentions only as an
// operation name without describing the hashing walk).
func Create(path string, pieceLength int64, announce string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "torrentfile: opening %s", path)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "torrentfile: stat")
	}

	pieces, err := hashPieces(f, pieceLength)
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		Announce: announce,
		Info: Info{
			PieceLength: pieceLength,
			Pieces:      pieces,
			Name:        filepath.Base(path),
			Length:      stat.Size(),
		},
	}
	return m, m.Info.Validate()
}

// CreateMultiFile builds a manifest for every regular file under dir,
// walked in lexicographic path order so the piece stream has a
// deterministic layout independent of directory iteration order (spec.md
// §4.7 "files are concatenated in lexicographic path order").
func CreateMultiFile(dir string, pieceLength int64, announce string) (*Manifest, error) {
	var relPaths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		relPaths = append(relPaths, rel)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "torrentfile: walking %s", dir)
	}
	sort.Strings(relPaths)

	if len(relPaths) == 0 {
		return nil, errors.Errorf("torrentfile: %s contains no files", dir)
	}

	entries := make([]FileEntry, 0, len(relPaths))
	readers := make([]io.Reader, 0, len(relPaths))
	for _, rel := range relPaths {
		full := filepath.Join(dir, rel)
		stat, err := os.Stat(full)
		if err != nil {
			return nil, errors.Wrapf(err, "torrentfile: stat %s", full)
		}
		f, err := os.Open(full)
		if err != nil {
			return nil, errors.Wrapf(err, "torrentfile: opening %s", full)
		}
		defer f.Close()

		entries = append(entries, FileEntry{Length: stat.Size(), Path: splitPath(rel)})
		readers = append(readers, f)
	}

	pieces, err := hashPieces(io.MultiReader(readers...), pieceLength)
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		Announce: announce,
		Info: Info{
			PieceLength: pieceLength,
			Pieces:      pieces,
			Name:        filepath.Base(dir),
			Files:       entries,
		},
	}
	return m, m.Info.Validate()
}

// splitPath turns a filesystem-relative path into the path-component list
// spec.md §4.7's FileEntry carries, independent of OS separator.
func splitPath(rel string) []string {
	return strings.Split(filepath.ToSlash(rel), "/")
}

// hashPieces reads r in pieceLength-sized chunks and returns the
// concatenated SHA-1 digests, spec.md §3's "pieces" field.
func hashPieces(r io.Reader, pieceLength int64) (string, error) {
	if pieceLength <= 0 {
		return "", errors.New("torrentfile: piece length must be positive")
	}

	var pieces []byte
	buf := make([]byte, pieceLength)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			sum := sha1.Sum(buf[:n])
			pieces = append(pieces, sum[:]...)
		}
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return "", errors.Wrap(err, "torrentfile: hashing pieces")
		}
	}
	return string(pieces), nil
}
