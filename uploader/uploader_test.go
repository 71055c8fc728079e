package uploader

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/hoangvu/swarmcast/piecestore"
	"github.com/hoangvu/swarmcast/torrentfile"
	"github.com/hoangvu/swarmcast/wire"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("component", "uploader_test")
}

type fakePartialSource struct {
	pieces map[int][]byte
}

func (f fakePartialSource) Partial(index int) ([]byte, bool) {
	d, ok := f.pieces[index]
	return d, ok
}

func TestHandleRequestServesFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")
	content := []byte("abcdefgh12345678")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	m, err := torrentfile.Create(path, 8, "")
	require.NoError(t, err)

	store := piecestore.New(m.Info, path)
	u := New(m.Info, store, nil, testLogger())

	resp, payload := u.HandleRequest(wire.Header{"file_name": m.Info.Name, "chunk_index": 0})
	require.Equal(t, wire.StatusOK, resp.String("status"))
	require.Equal(t, content[:8], payload)
}

func TestHandleRequestUnknownFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")
	require.NoError(t, os.WriteFile(path, []byte("12345678"), 0o644))
	m, err := torrentfile.Create(path, 8, "")
	require.NoError(t, err)

	store := piecestore.New(m.Info, path)
	u := New(m.Info, store, nil, testLogger())

	resp, payload := u.HandleRequest(wire.Header{"file_name": "nope.bin", "chunk_index": 0})
	require.Equal(t, wire.StatusError, resp.String("status"))
	require.Nil(t, payload)
}

func TestHandleRequestFallsBackToPartialCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "incomplete.bin")
	// Simulate a file not yet written to disk: piecestore will read short
	// reads as zero bytes, which will fail the digest check and fall back.
	require.NoError(t, os.WriteFile(path, []byte{}, 0o644))

	content := []byte("ABCDEFGH")
	infoForHash, err := torrentfile.Create(writeElsewhere(t, content), 8, "")
	require.NoError(t, err)

	store := piecestore.New(infoForHash.Info, path)
	partial := fakePartialSource{pieces: map[int][]byte{0: content}}
	u := New(infoForHash.Info, store, partial, testLogger())

	resp, payload := u.HandleRequest(wire.Header{"file_name": infoForHash.Info.Name, "chunk_index": 0})
	require.Equal(t, wire.StatusOK, resp.String("status"))
	require.Equal(t, content, payload)
}

func writeElsewhere(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.bin")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}
