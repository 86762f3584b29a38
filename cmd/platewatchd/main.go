package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/BorikGor/ESEProject/internal/analysis"
	"github.com/BorikGor/ESEProject/internal/capture"
	"github.com/BorikGor/ESEProject/internal/config"
	"github.com/BorikGor/ESEProject/internal/core"
	"github.com/BorikGor/ESEProject/internal/emitter"
	"github.com/BorikGor/ESEProject/internal/preview"
	"github.com/BorikGor/ESEProject/internal/supervisor"
	"github.com/BorikGor/ESEProject/internal/types"
	"github.com/BorikGor/ESEProject/internal/uploader"
)

const (
	defaultConfigPath = "config/platewatch.yaml"
	shutdownTimeout   = 5 * time.Second
)

// version is stamped at build time via -ldflags
var version = "dev"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	logLevel := flag.String("log-level", "", "Override configured log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "Override configured log format (text, json)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("platewatchd %s\n", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "platewatchd: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}

	logger := buildLogger(cfg.Log)
	slog.SetDefault(logger)

	slog.Info("starting platewatch service",
		"version", version,
		"config", *configPath,
		"instance_id", cfg.InstanceID,
		"mode", cfg.Mode,
		"source", cfg.Capture.Source,
	)

	deps := core.Deps{}
	var closers []func() error

	// The relay child only exists for the real camera; the mock source
	// generates frames in-process
	if cfg.Capture.Source == "camera" {
		sup, err := supervisor.New(supervisor.Config{
			Binary:    cfg.Stream.Binary,
			URL:       cfg.Stream.URL,
			Width:     cfg.Stream.Width,
			Height:    cfg.Stream.Height,
			Framerate: cfg.Stream.Framerate,
			Quality:   cfg.Stream.Quality,
			LockFile:  cfg.Stream.LockFile,
			LogFile:   cfg.Stream.LogFile,
		}, logger)
		if err != nil {
			slog.Error("failed to create stream supervisor", "error", err)
			os.Exit(1)
		}
		deps.Supervisor = sup

		cam, err := capture.NewCamera(capture.Config{
			URL:        cfg.Capture.URL,
			BufferSize: cfg.Capture.BufferSize,
			Source:     "camera",
		}, logger)
		if err != nil {
			slog.Error("failed to create capture", "error", err)
			os.Exit(1)
		}
		deps.Source = cam
	} else {
		deps.Source = capture.NewMock(cfg.Stream.Width, cfg.Stream.Height, cfg.Stream.Framerate, logger)
	}

	switch cfg.Mode {
	case "lpr":
		reader, err := analysis.NewPlateReader(analysis.OCRConfig{
			Language:    cfg.LPR.Language,
			UseFixedROI: cfg.LPR.UseFixedROI,
			ROI:         roiFromConfig(cfg.LPR.ROI),
			Upscale:     cfg.LPR.Upscale,
		}, logger)
		if err != nil {
			slog.Error("failed to create plate reader", "error", err)
			os.Exit(1)
		}
		closers = append(closers, reader.Close)
		deps.Reader = reader
	case "motion":
		detector, err := analysis.NewMotionDetector(analysis.MotionConfig{
			History:       cfg.Motion.History,
			VarThreshold:  cfg.Motion.VarThreshold,
			DetectShadows: *cfg.Motion.DetectShadows,
			MaskThreshold: float32(cfg.Motion.MaskThreshold),
			MinArea:       cfg.Motion.MinArea,
			KernelSize:    cfg.Motion.KernelSize,
		}, logger)
		if err != nil {
			slog.Error("failed to create motion detector", "error", err)
			os.Exit(1)
		}
		closers = append(closers, detector.Close)
		deps.Motion = detector
	}

	deps.Renderer = analysis.NewAnnotator(analysis.AnnotatorConfig{
		DrawROI: cfg.Mode == "lpr" && cfg.LPR.UseFixedROI,
		ROI:     roiFromConfig(cfg.LPR.ROI),
	})

	var mq *emitter.MQTTEmitter
	if cfg.MQTT.Enabled {
		mq = emitter.NewMQTTEmitter(cfg)
		if err := mq.Connect(context.Background()); err != nil {
			slog.Error("failed to connect to mqtt broker", "error", err)
			os.Exit(1)
		}
		deps.Notifiers = append(deps.Notifiers, mq)
		deps.StatusPub = mq
	}

	if cfg.Upload.Enabled {
		deps.Notifiers = append(deps.Notifiers, &uploadNotifier{
			client: uploader.New(cfg.Upload, logger),
		})
	}

	eng, err := core.NewEngine(cfg, deps, logger)
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	var previewSrv *preview.Server
	if cfg.Preview.Enabled {
		previewSrv = preview.New(cfg.Preview.Listen, eng, eng, logger)
		eng.SetSink(previewSrv)
		if err := previewSrv.Start(); err != nil {
			slog.Error("failed to start preview server", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	errChan := make(chan error, 1)
	go func() {
		errChan <- eng.Run(ctx)
	}()

	var runErr error
wait:
	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGUSR1 {
				// On-demand snapshot without stopping the pipeline
				if path, err := eng.TriggerSnapshot(); err != nil {
					slog.Warn("snapshot request failed", "error", err)
				} else {
					slog.Info("snapshot saved on request", "path", path)
				}
				continue
			}
			slog.Info("received shutdown signal", "signal", sig.String())
			cancel()
			runErr = <-errChan
			break wait
		case runErr = <-errChan:
			break wait
		}
	}

	// The engine tears down capture and the relay child on its own way
	// out; only the outer surfaces remain
	if previewSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := previewSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("preview shutdown failed", "error", err)
		}
		shutdownCancel()
	}
	if mq != nil {
		if err := mq.Disconnect(); err != nil {
			slog.Error("mqtt disconnect failed", "error", err)
		}
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			slog.Warn("cleanup failed", "error", err)
		}
	}

	if runErr != nil {
		slog.Error("pipeline failed", "error", runErr)
		os.Exit(1)
	}
	slog.Info("platewatch service stopped")
}

// buildLogger constructs the handler per configuration: colorized text
// for terminals, JSON for log collectors.
func buildLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05",
	}))
}

// roiFromConfig converts the flat [x1, y1, x2, y2] form the config file
// uses. Validation guarantees four elements.
func roiFromConfig(roi []int) types.ROI {
	return types.ROI{X1: roi[0], Y1: roi[1], X2: roi[2], Y2: roi[3]}
}

// uploadNotifier reports plate transitions to the parking backend as slot
// occupancy changes, attaching the annotated snapshot.
type uploadNotifier struct {
	client *uploader.Client
}

func (u *uploadNotifier) PlateResolved(event types.PlateEvent) error {
	return u.client.SlotOccupied(context.Background(), event.Plate, event.Snapshot)
}

func (u *uploadNotifier) PlateCleared(event types.PlateEvent) error {
	return u.client.SlotVacant(context.Background(), event.Snapshot)
}
