// Package config holds the runtime settings threaded through every
// component constructor. There is no package-level mutable state here on
// purpose: the Python original kept tracker host/port, folder layout and
// tuning constants in a module-level utils/config.py that every file
// imported; this struct is the explicit record that replaces it.
package config

import "time"

// Config carries every tunable named in spec.md §6.
type Config struct {
	// Host is the address a peer's session server binds to.
	Host string
	// Port is the TCP port a peer's session server listens on.
	Port int

	// TrackerHost and TrackerPort address the tracker's session server.
	TrackerHost string
	TrackerPort int

	// MaxConnections bounds the connection pool (spec.md §3, §4.2).
	MaxConnections int

	// ChunkSize bounds per-read buffer size for payload transfer, in bytes
	// (spec.md §5 "Resource policy").
	ChunkSize int

	// HandshakeTimeout bounds the PING/PONG exchange (spec.md §4.1).
	HandshakeTimeout time.Duration
	// RequestTimeout bounds a single piece request (spec.md §5).
	RequestTimeout time.Duration

	// PeerTimeout is the tracker liveness window; a peer not heard from
	// within this window is evicted (spec.md §3, default 180s).
	PeerTimeout time.Duration
	// CleanupInterval is how often the tracker sweeper runs (default 60s).
	CleanupInterval time.Duration

	// TorrentDir, DownloadDir and UploadDir mirror the Python original's
	// data/torrents, data/downloads, data/uploads layout (spec.md §6).
	TorrentDir  string
	DownloadDir string
	UploadDir   string

	// LogFile is where structured logs are written (spec.md §6).
	LogFile string
}

// Default returns the configuration spec.md §6 describes as the baseline:
// tracker on 127.0.0.1:6969, peers listening on port 6881, a 1 KiB
// per-read chunk size, 5 max connections, a 180s peer timeout swept every
// 60s.
func Default() Config {
	return Config{
		Host:             "0.0.0.0",
		Port:             6881,
		TrackerHost:      "127.0.0.1",
		TrackerPort:      6969,
		MaxConnections:   5,
		ChunkSize:        1024,
		HandshakeTimeout: 5 * time.Second,
		RequestTimeout:   30 * time.Second,
		PeerTimeout:      180 * time.Second,
		CleanupInterval:  60 * time.Second,
		TorrentDir:       "data/torrents",
		DownloadDir:      "data/downloads",
		UploadDir:        "data/uploads",
		LogFile:          "logs/app.log",
	}
}
