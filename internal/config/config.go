package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete daemon configuration.
type Config struct {
	InstanceID  string `yaml:"instance_id"`
	Mode        string `yaml:"mode"`         // lpr, motion
	SnapshotDir string `yaml:"snapshot_dir"` // where triggered snapshots are written

	Log     LogConfig     `yaml:"log"`
	Stream  StreamConfig  `yaml:"stream"`
	Capture CaptureConfig `yaml:"capture"`
	LPR     LPRConfig     `yaml:"lpr"`
	Motion  MotionConfig  `yaml:"motion"`
	Preview PreviewConfig `yaml:"preview"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Upload  UploadConfig  `yaml:"upload"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// StreamConfig describes the camera child process that relays MJPEG onto a
// local socket.
type StreamConfig struct {
	Binary    string `yaml:"binary"`    // camera binary (default: rpicam-vid)
	URL       string `yaml:"url"`       // listen endpoint handed to the child
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	Framerate int    `yaml:"framerate"`
	Quality   int    `yaml:"quality"`   // MJPEG quality 1-100
	LockFile  string `yaml:"lock_file"` // PID file guarding single ownership
	LogFile   string `yaml:"log_file"`  // child stdout/stderr destination; empty discards
}

// CaptureConfig contains consumer-side stream settings.
type CaptureConfig struct {
	Source        string `yaml:"source"`          // camera, mock
	URL           string `yaml:"url"`             // endpoint the consumer dials
	BufferSize    int    `yaml:"buffer_size"`     // decoder queue hint
	FlushFrames   int    `yaml:"flush_frames"`    // frames discarded per iteration
	WarmupDelayMS int    `yaml:"warmup_delay_ms"` // wait before dialing, child needs time to listen
	ReadRetryMS   int    `yaml:"read_retry_ms"`   // sleep after an empty read
	ProbeMS       int    `yaml:"probe_ms"`        // rate probe duration after open; 0 disables
}

// LPRConfig contains plate-reading settings.
type LPRConfig struct {
	OCREvery    int     `yaml:"ocr_every"` // run OCR every Nth frame
	History     int     `yaml:"history"`   // consensus window size
	Required    int     `yaml:"required"`  // matching samples needed for a stable plate
	PlateMin    int     `yaml:"plate_min"` // shortest candidate admitted to the window
	PlateMax    int     `yaml:"plate_max"` // longest candidate admitted to the window
	UseFixedROI bool    `yaml:"use_fixed_roi"`
	ROI         []int   `yaml:"roi"` // [x1, y1, x2, y2]
	Language    string  `yaml:"language"`
	Upscale     float64 `yaml:"upscale"`
}

// MotionConfig contains motion-detection settings.
type MotionConfig struct {
	History       int     `yaml:"history"`        // background model depth in frames
	VarThreshold  float64 `yaml:"var_threshold"`  // MOG2 variance threshold
	DetectShadows *bool   `yaml:"detect_shadows"` // default: true
	MaskThreshold float64 `yaml:"mask_threshold"` // foreground binarization cutoff
	MinArea       float64 `yaml:"min_area"`       // smallest contour reported, in pixels
	KernelSize    int     `yaml:"kernel_size"`    // morphology kernel, must be odd
}

// PreviewConfig contains the HTTP preview server settings.
type PreviewConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"` // host:port
}

// MQTTConfig contains MQTT broker settings.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"` // 0-2
}

// UploadConfig contains the parking-slot upload settings.
type UploadConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	SlotID   int    `yaml:"slot_id"`
	SlotType string `yaml:"slot_type"`
	TimeoutS int    `yaml:"timeout_s"` // HTTP client timeout in seconds
}

// Load reads and parses a YAML configuration file. Environment variables
// referenced as $VAR or ${VAR} are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
