package piecestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hoangvu/swarmcast/torrentfile"
)

func TestReadPieceSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	content := []byte("0123456789abcdef")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	info := torrentfile.Info{PieceLength: 7, Length: int64(len(content))}
	s := New(info, path)

	piece0, err := s.ReadPiece(0)
	require.NoError(t, err)
	require.Equal(t, []byte("0123456"), piece0)

	lastIdx := 2
	last, err := s.ReadPiece(lastIdx)
	require.NoError(t, err)
	require.Equal(t, []byte("ef"), last)

	_, err = s.ReadPiece(99)
	require.ErrorIs(t, err, ErrPieceOutOfRange)
}

func TestReadPieceMultiFileSpansBoundary(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("AAAAA"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("BBBBB"), 0o644))

	info := torrentfile.Info{
		PieceLength: 4,
		Files: []torrentfile.FileEntry{
			{Length: 5, Path: []string{"a.txt"}},
			{Length: 5, Path: []string{"b.txt"}},
		},
	}
	s := New(info, dir)

	piece1, err := s.ReadPiece(1)
	require.NoError(t, err)
	require.Equal(t, []byte("ABBB"), piece1)
}
