// Command swarmcast is the thin CLI shell around the peernode/tracker
// packages: create a manifest, run a tracker, seed a file, or download one.
// Grounded on the teacher's single-purpose main.go, expanded from a single
// parse-and-print path into the subcommand set spec.md's CLI operations
// describe.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/colorstring"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"github.com/hoangvu/swarmcast/config"
	"github.com/hoangvu/swarmcast/logging"
	"github.com/hoangvu/swarmcast/peernode"
	"github.com/hoangvu/swarmcast/torrentfile"
	"github.com/hoangvu/swarmcast/tracker"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg := config.Default()
	logger := logging.New(cfg.LogFile)

	var err error
	switch os.Args[1] {
	case "create":
		err = runCreate(os.Args[2:])
	case "run-tracker":
		err = runTracker(os.Args[2:], cfg, logger)
	case "seed":
		err = runSeed(os.Args[2:], cfg, logger)
	case "download":
		err = runDownload(os.Args[2:], cfg, logger)
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		colorstring.Fprintf(os.Stderr, "[red]error:[reset] %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: swarmcast <create|run-tracker|seed|download> [flags]")
}

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ExitOnError)
}

func runCreate(args []string) error {
	fs := newFlagSet("create")
	path := fs.String("path", "", "file or directory to create a manifest for")
	pieceLength := fs.Int64("piece-length", 262144, "piece length in bytes")
	announce := fs.String("tracker", "tcp://127.0.0.1:6969", "announce URL")
	out := fs.String("out", "", "output .torrent path")
	multi := fs.Bool("multi", false, "treat path as a directory of files")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" || *out == "" {
		return fmt.Errorf("swarmcast create: -path and -out are required")
	}

	var m *torrentfile.Manifest
	var err error
	if *multi {
		m, err = torrentfile.CreateMultiFile(*path, *pieceLength, *announce)
	} else {
		m, err = torrentfile.Create(*path, *pieceLength, *announce)
	}
	if err != nil {
		return err
	}

	if err := torrentfile.EncodeFile(*out, m); err != nil {
		return err
	}
	colorstring.Printf("[green]created manifest[reset] %s (%d pieces)\n", *out, m.Info.NumPieces())
	return nil
}

func runTracker(args []string, cfg config.Config, logger *logrus.Logger) error {
	fs := newFlagSet("run-tracker")
	host := fs.String("host", cfg.TrackerHost, "tracker bind host")
	port := fs.Int("port", cfg.TrackerPort, "tracker bind port")
	if err := fs.Parse(args); err != nil {
		return err
	}

	entry := logging.For(logger, "tracker")
	srv := tracker.NewServer(fmt.Sprintf("%s:%d", *host, *port), cfg.HandshakeTimeout, cfg.PeerTimeout, cfg.CleanupInterval, entry)
	colorstring.Printf("[green]tracker listening[reset] on %s:%d\n", *host, *port)
	return srv.Run()
}

func runSeed(args []string, cfg config.Config, logger *logrus.Logger) error {
	fs := newFlagSet("seed")
	torrentPath := fs.String("torrent", "", "path to .torrent manifest")
	sharePath := fs.String("path", "", "file or directory to seed")
	host := fs.String("host", cfg.Host, "listen host")
	port := fs.Int("port", cfg.Port, "listen port")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *torrentPath == "" || *sharePath == "" {
		return fmt.Errorf("swarmcast seed: -torrent and -path are required")
	}

	m, err := torrentfile.DecodeFile(*torrentPath)
	if err != nil {
		return err
	}

	cfg.Host, cfg.Port = *host, *port
	entry := logging.For(logger, "seed")
	node := peernode.New(cfg, m, *sharePath, entry)
	if err := node.Start(); err != nil {
		return err
	}
	defer node.Stop(5 * time.Second)

	colorstring.Printf("[green]seeding[reset] %s on %s:%d, press Ctrl+C to stop\n", m.Info.Name, *host, *port)
	select {}
}

func runDownload(args []string, cfg config.Config, logger *logrus.Logger) error {
	fs := newFlagSet("download")
	torrentPath := fs.String("torrent", "", "path to .torrent manifest")
	host := fs.String("host", cfg.Host, "listen host for this downloader")
	port := fs.Int("port", cfg.Port, "listen port for this downloader")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *torrentPath == "" {
		return fmt.Errorf("swarmcast download: -torrent is required")
	}

	m, err := torrentfile.DecodeFile(*torrentPath)
	if err != nil {
		return err
	}

	cfg.Host, cfg.Port = *host, *port
	entry := logging.For(logger, "download")
	node := peernode.New(cfg, m, cfg.DownloadDir, entry)
	if err := node.Start(); err != nil {
		return err
	}
	defer node.Stop(5 * time.Second)

	bar := progressbar.Default(int64(m.Info.NumPieces()), "downloading "+m.Info.Name)
	defer bar.Close()

	if err := node.Download(); err != nil {
		return err
	}
	bar.Set(m.Info.NumPieces())

	colorstring.Printf("[green]download complete[reset]: %s\n", m.Info.Name)
	return nil
}
