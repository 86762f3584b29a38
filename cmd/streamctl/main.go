// Command streamctl controls the camera relay child outside the daemon:
// start it ahead of time, stop a leftover one, or check what is running.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"github.com/BorikGor/ESEProject/internal/config"
	"github.com/BorikGor/ESEProject/internal/supervisor"
)

// version is stamped at build time via -ldflags
var version = "dev"

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: streamctl [flags] <command>

Commands:
  start    launch the camera relay child
  stop     terminate the relay child and remove the lock
  status   report whether the relay is running

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "", "Optional daemon config file; its stream section provides base values")
	binary := flag.String("binary", "rpicam-vid", "Camera streamer binary")
	url := flag.String("url", "tcp://127.0.0.1:5800?listen", "Stream listen endpoint")
	width := flag.Int("width", 1920, "Frame width")
	height := flag.Int("height", 1080, "Frame height")
	framerate := flag.Int("framerate", 15, "Frames per second")
	quality := flag.Int("quality", 90, "MJPEG quality (1-100)")
	lockFile := flag.String("lock-file", "stream.pid", "PID lock file path")
	logFile := flag.String("log-file", "", "Child output destination; empty discards")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("streamctl %s\n", version)
		return
	}

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelWarn,
		TimeFormat: "15:04:05",
	}))
	slog.SetDefault(logger)

	scfg := supervisor.Config{
		Binary:    *binary,
		URL:       *url,
		Width:     *width,
		Height:    *height,
		Framerate: *framerate,
		Quality:   *quality,
		LockFile:  *lockFile,
		LogFile:   *logFile,
	}

	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "streamctl: %v\n", err)
			os.Exit(1)
		}
		scfg = supervisor.Config{
			Binary:    cfg.Stream.Binary,
			URL:       cfg.Stream.URL,
			Width:     cfg.Stream.Width,
			Height:    cfg.Stream.Height,
			Framerate: cfg.Stream.Framerate,
			Quality:   cfg.Stream.Quality,
			LockFile:  cfg.Stream.LockFile,
			LogFile:   cfg.Stream.LogFile,
		}
		// Explicitly set flags still win over the config file
		flag.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "binary":
				scfg.Binary = *binary
			case "url":
				scfg.URL = *url
			case "width":
				scfg.Width = *width
			case "height":
				scfg.Height = *height
			case "framerate":
				scfg.Framerate = *framerate
			case "quality":
				scfg.Quality = *quality
			case "lock-file":
				scfg.LockFile = *lockFile
			case "log-file":
				scfg.LogFile = *logFile
			}
		})
	}

	sup, err := supervisor.New(scfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "streamctl: %v\n", err)
		os.Exit(1)
	}

	switch cmd := flag.Arg(0); cmd {
	case "start":
		pid, err := sup.Start()
		if errors.Is(err, supervisor.ErrAlreadyRunning) {
			fmt.Println("stream already running")
			os.Exit(1)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "streamctl: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("stream started, pid %d\n", pid)

	case "stop":
		err := sup.Stop()
		if errors.Is(err, supervisor.ErrNotRunning) {
			fmt.Println("stream not running")
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "streamctl: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("stream stopped")

	case "status":
		st, err := sup.Status()
		if err != nil {
			fmt.Fprintf(os.Stderr, "streamctl: %v\n", err)
			os.Exit(1)
		}
		switch {
		case st.Running:
			fmt.Printf("running: pid %d, uptime %s\n", st.PID, st.Uptime.Round(time.Second))
			fmt.Printf("  cmdline: %s\n", st.Cmdline)
		case st.PID != 0:
			// Lock present but no such process
			fmt.Printf("not running (stale lock, pid %d)\n", st.PID)
			os.Exit(3)
		default:
			fmt.Println("not running")
			os.Exit(3)
		}

	default:
		fmt.Fprintf(os.Stderr, "streamctl: unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
}
