package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills in defaults.
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.Mode == "" {
		cfg.Mode = "lpr"
	}
	if cfg.Mode != "lpr" && cfg.Mode != "motion" {
		return fmt.Errorf("mode must be 'lpr' or 'motion', got '%s'", cfg.Mode)
	}

	if cfg.SnapshotDir == "" {
		cfg.SnapshotDir = "."
	}

	if err := validateLog(&cfg.Log); err != nil {
		return err
	}
	if err := validateStream(&cfg.Stream); err != nil {
		return err
	}
	if err := validateCapture(&cfg.Capture); err != nil {
		return err
	}
	// Flush and retry defaults differ per mode: plate reading needs the
	// freshest possible frame, motion tolerates lag
	if cfg.Capture.FlushFrames == 0 && cfg.Mode == "lpr" {
		cfg.Capture.FlushFrames = 4
	}
	if cfg.Capture.ReadRetryMS <= 0 {
		if cfg.Mode == "motion" {
			cfg.Capture.ReadRetryMS = 20
		} else {
			cfg.Capture.ReadRetryMS = 10
		}
	}
	if err := validateLPR(&cfg.LPR); err != nil {
		return err
	}
	if err := validateMotion(&cfg.Motion); err != nil {
		return err
	}

	if cfg.Preview.Listen == "" {
		cfg.Preview.Listen = ":8080"
	}

	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0-2, got %d", cfg.MQTT.QoS)
		}
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = cfg.InstanceID
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "lpr"
	}

	if cfg.Upload.Enabled && cfg.Upload.URL == "" {
		return fmt.Errorf("upload.url is required when upload is enabled")
	}
	if cfg.Upload.SlotID < 0 {
		return fmt.Errorf("upload.slot_id must be >= 0, got %d", cfg.Upload.SlotID)
	}
	if cfg.Upload.SlotType == "" {
		cfg.Upload.SlotType = "car"
	}
	if cfg.Upload.TimeoutS <= 0 {
		cfg.Upload.TimeoutS = 10
	}

	return nil
}

func validateLog(log *LogConfig) error {
	if log.Level == "" {
		log.Level = "info"
	}
	switch log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got '%s'", log.Level)
	}

	if log.Format == "" {
		log.Format = "text"
	}
	if log.Format != "text" && log.Format != "json" {
		return fmt.Errorf("log.format must be 'text' or 'json', got '%s'", log.Format)
	}
	return nil
}

func validateStream(stream *StreamConfig) error {
	if stream.Binary == "" {
		stream.Binary = "rpicam-vid"
	}
	if stream.URL == "" {
		stream.URL = "tcp://127.0.0.1:5800?listen"
	}
	if stream.Width == 0 {
		stream.Width = 1920
	}
	if stream.Height == 0 {
		stream.Height = 1080
	}
	if stream.Width <= 0 || stream.Height <= 0 {
		return fmt.Errorf("invalid stream resolution: %dx%d", stream.Width, stream.Height)
	}
	if stream.Framerate == 0 {
		stream.Framerate = 15
	}
	if stream.Framerate < 0 {
		return fmt.Errorf("stream.framerate must be > 0, got %d", stream.Framerate)
	}
	if stream.Quality == 0 {
		stream.Quality = 90
	}
	if stream.Quality < 1 || stream.Quality > 100 {
		return fmt.Errorf("stream.quality must be 1-100, got %d", stream.Quality)
	}
	if stream.LockFile == "" {
		stream.LockFile = "stream.pid"
	}
	return nil
}

func validateCapture(capture *CaptureConfig) error {
	if capture.Source == "" {
		capture.Source = "camera"
	}
	if capture.Source != "camera" && capture.Source != "mock" {
		return fmt.Errorf("capture.source must be 'camera' or 'mock', got '%s'", capture.Source)
	}
	if capture.URL == "" {
		capture.URL = "tcp://127.0.0.1:5800"
	}
	if capture.BufferSize == 0 {
		capture.BufferSize = 1
	}
	if capture.FlushFrames < 0 {
		return fmt.Errorf("capture.flush_frames must be >= 0, got %d", capture.FlushFrames)
	}
	if capture.WarmupDelayMS == 0 {
		capture.WarmupDelayMS = 700
	}
	if capture.ProbeMS < 0 {
		return fmt.Errorf("capture.probe_ms must be >= 0, got %d", capture.ProbeMS)
	}
	return nil
}

func validateLPR(lpr *LPRConfig) error {
	if lpr.OCREvery <= 0 {
		lpr.OCREvery = 5
	}
	if lpr.History <= 0 {
		lpr.History = 15
	}
	if lpr.Required <= 0 {
		lpr.Required = 4
	}
	if lpr.Required > lpr.History {
		return fmt.Errorf("lpr.required (%d) must not exceed lpr.history (%d)", lpr.Required, lpr.History)
	}
	if lpr.PlateMin <= 0 {
		lpr.PlateMin = 5
	}
	if lpr.PlateMax <= 0 {
		lpr.PlateMax = 8
	}
	if lpr.PlateMin > lpr.PlateMax {
		return fmt.Errorf("lpr.plate_min (%d) must not exceed lpr.plate_max (%d)", lpr.PlateMin, lpr.PlateMax)
	}
	if lpr.Language == "" {
		lpr.Language = "eng"
	}
	if lpr.Upscale == 0 {
		lpr.Upscale = 3.0
	}
	if lpr.Upscale < 1.0 {
		return fmt.Errorf("lpr.upscale must be >= 1.0, got %.2f", lpr.Upscale)
	}
	if lpr.ROI == nil {
		lpr.ROI = []int{520, 360, 1400, 760}
	}
	if len(lpr.ROI) != 4 {
		return fmt.Errorf("lpr.roi must be [x1, y1, x2, y2], got %d values", len(lpr.ROI))
	}
	return nil
}

func validateMotion(motion *MotionConfig) error {
	if motion.History <= 0 {
		motion.History = 300
	}
	if motion.VarThreshold == 0 {
		motion.VarThreshold = 25
	}
	if motion.VarThreshold < 0 {
		return fmt.Errorf("motion.var_threshold must be > 0, got %.2f", motion.VarThreshold)
	}
	if motion.DetectShadows == nil {
		shadows := true
		motion.DetectShadows = &shadows
	}
	if motion.MaskThreshold == 0 {
		motion.MaskThreshold = 200
	}
	if motion.MaskThreshold < 0 || motion.MaskThreshold > 255 {
		return fmt.Errorf("motion.mask_threshold must be 0-255, got %.2f", motion.MaskThreshold)
	}
	if motion.MinArea == 0 {
		motion.MinArea = 1200
	}
	if motion.MinArea < 0 {
		return fmt.Errorf("motion.min_area must be >= 0, got %.2f", motion.MinArea)
	}
	if motion.KernelSize == 0 {
		motion.KernelSize = 5
	}
	if motion.KernelSize < 1 || motion.KernelSize%2 == 0 {
		return fmt.Errorf("motion.kernel_size must be odd and > 0, got %d", motion.KernelSize)
	}
	return nil
}
