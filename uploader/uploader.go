// Package uploader implements the serving side of a peer session: answer
// REQUEST_CHUNK by reading the requested piece from disk via piecestore,
// with an optional fallback to a download-in-progress's partial cache
// (spec.md §4.6).
//
// Grounded on the original implementation's peer/uploader.py
// (_get_chunk_data/_verify_chunk_available), rebuilt on
// torrentfile.Info/piecestore.Store instead of raw bencode dict lookups,
// and made to re-verify a cache-served piece's digest before forwarding it
// even though it was already verified once on receipt (spec.md §9 Open
// Question: partial pieces are re-checked, never trusted blindly).
package uploader

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hoangvu/swarmcast/piecestore"
	"github.com/hoangvu/swarmcast/torrentfile"
	"github.com/hoangvu/swarmcast/wire"
)

// ErrUnknownFile is returned for a request naming a file this uploader
// does not serve.
var ErrUnknownFile = errors.New("uploader: unknown file")

// PartialSource supplies an already-verified piece from an in-progress
// download, implemented by *downloader.State. Kept as an interface so the
// uploader package does not need to import downloader.
type PartialSource interface {
	Partial(index int) ([]byte, bool)
}

// Uploader answers REQUEST_CHUNK for exactly one manifest.
type Uploader struct {
	info    torrentfile.Info
	store   *piecestore.Store
	partial PartialSource
	log     *logrus.Entry
}

// New creates an Uploader serving info's complete pieces from store, with
// an optional partial-download fallback.
func New(info torrentfile.Info, store *piecestore.Store, partial PartialSource, log *logrus.Entry) *Uploader {
	return &Uploader{info: info, store: store, partial: partial, log: log}
}

// HandleRequest answers one REQUEST_CHUNK header, returning the response
// header and payload to send back. It never returns an error for a
// malformed or out-of-range request — those become a status:ERROR response
// so the session stays open for further requests (spec.md §4.6 "unknown
// file or out-of-range index: respond status error, do not close").
func (u *Uploader) HandleRequest(req wire.Header) (wire.Header, []byte) {
	fileName := req.String("file_name")
	index := req.Int("chunk_index")

	if fileName != u.info.Name {
		u.log.WithField("file", fileName).Warn("request for unknown file")
		return wire.Header{"status": wire.StatusError, "error": ErrUnknownFile.Error()}, nil
	}

	if index < 0 || index >= u.info.ExpectedNumPieces() {
		u.log.WithField("chunk_index", index).Warn("request for out-of-range piece")
		return wire.Header{"status": wire.StatusError, "error": "chunk index out of range"}, nil
	}

	data, err := u.readPiece(index)
	if err != nil {
		u.log.WithError(err).WithField("chunk_index", index).Warn("failed to serve piece")
		return wire.Header{"status": wire.StatusError, "error": "piece unavailable"}, nil
	}

	return wire.Header{
		"command":     wire.CmdChunkData,
		"status":      wire.StatusOK,
		"file_name":   fileName,
		"chunk_index": index,
		"data_length": len(data),
	}, data
}

// readPiece tries the on-disk store first; if the file isn't complete yet
// it falls back to a verified piece already held by an in-progress
// download of the same manifest, re-verifying it before forwarding.
func (u *Uploader) readPiece(index int) ([]byte, error) {
	data, err := u.store.ReadPiece(index)
	if err == nil {
		if ok, verr := u.info.VerifyPiece(index, data); verr == nil && ok {
			return data, nil
		}
	}

	if u.partial == nil {
		if err == nil {
			return nil, errors.Errorf("uploader: piece %d on disk failed verification and no partial source", index)
		}
		return nil, errors.Wrapf(err, "uploader: piece %d not on disk and no partial source", index)
	}

	cached, ok := u.partial.Partial(index)
	if !ok {
		return nil, errors.Errorf("uploader: piece %d unavailable", index)
	}
	verified, verr := u.info.VerifyPiece(index, cached)
	if verr != nil || !verified {
		return nil, errors.Errorf("uploader: cached piece %d failed re-verification", index)
	}
	return cached, nil
}
