package torrentfile

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateAndDecodeSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	content := bytes.Repeat([]byte{0xAB}, 2500)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	m, err := Create(path, 1024, "tcp://127.0.0.1:6969")
	require.NoError(t, err)
	require.Equal(t, 3, m.Info.NumPieces())
	require.Equal(t, int64(2500), m.Info.TotalLength())

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, m))

	decoded, err := Decode(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, m.InfoHash, decoded.InfoHash)
	require.Equal(t, m.Info.Pieces, decoded.Info.Pieces)

	lastLen, err := decoded.Info.PieceLengthAt(2)
	require.NoError(t, err)
	require.Equal(t, int64(452), lastLen)

	ok, err := decoded.Info.VerifyPiece(0, content[:1024])
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = decoded.Info.VerifyPiece(0, content[2048:])
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCreateMultiFileLexicographicOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("bbbb"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("aaaa"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "c.txt"), []byte("cccc"), 0o644))

	m, err := CreateMultiFile(dir, 4, "tcp://127.0.0.1:6969")
	require.NoError(t, err)
	require.True(t, m.Info.IsMultiFile())
	require.Len(t, m.Info.Files, 3)

	require.Equal(t, []string{"a.txt"}, m.Info.Files[0].Path)
	require.Equal(t, []string{"b.txt"}, m.Info.Files[1].Path)
	require.Equal(t, []string{"sub", "c.txt"}, m.Info.Files[2].Path)
	require.Equal(t, int64(12), m.Info.TotalLength())
	require.Equal(t, 3, m.Info.NumPieces())
}

func TestValidateRejectsTruncatedPieces(t *testing.T) {
	info := Info{PieceLength: 1024, Pieces: "short", Length: 1024}
	require.ErrorIs(t, info.Validate(), ErrTruncatedPieces)
}

func TestValidateRejectsPieceCountMismatch(t *testing.T) {
	info := Info{PieceLength: 1024, Pieces: string(make([]byte, 20)), Length: 5000}
	require.ErrorIs(t, info.Validate(), ErrPieceCountMismatch)
}
