package types

import "time"

// Frame is a single decoded video frame.
type Frame struct {
	// Seq is the monotonic capture-order sequence number
	Seq uint64
	// Timestamp is when the frame was read from the stream
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Data contains the pixel data (BGR24, row-major)
	Data []byte
	// Source identifies the stream URL or generator the frame came from
	Source string
	// TraceID is a unique identifier for tracing a frame through the pipeline
	TraceID string
}

// ROI is a sub-rectangle of a frame selected for focused analysis,
// in pixel coordinates with an exclusive bottom-right corner.
type ROI struct {
	X1 int `yaml:"x1" json:"x1"`
	Y1 int `yaml:"y1" json:"y1"`
	X2 int `yaml:"x2" json:"x2"`
	Y2 int `yaml:"y2" json:"y2"`
}

// Width returns the ROI width in pixels.
func (r ROI) Width() int { return r.X2 - r.X1 }

// Height returns the ROI height in pixels.
func (r ROI) Height() int { return r.Y2 - r.Y1 }

// Valid reports whether the ROI is a non-empty rectangle within a
// frameWidth x frameHeight frame: 0 <= x1 < x2 <= w, 0 <= y1 < y2 <= h.
func (r ROI) Valid(frameWidth, frameHeight int) bool {
	return r.X1 >= 0 && r.X1 < r.X2 && r.X2 <= frameWidth &&
		r.Y1 >= 0 && r.Y1 < r.Y2 && r.Y2 <= frameHeight
}

// Clamp returns the ROI constrained to the given frame dimensions.
func (r ROI) Clamp(frameWidth, frameHeight int) ROI {
	c := r
	if c.X1 < 0 {
		c.X1 = 0
	}
	if c.Y1 < 0 {
		c.Y1 = 0
	}
	if c.X2 > frameWidth {
		c.X2 = frameWidth
	}
	if c.Y2 > frameHeight {
		c.Y2 = frameHeight
	}
	return c
}

// MotionBlob is one detected moving region: a bounding box plus the
// originating contour area. Produced per frame, never retained.
type MotionBlob struct {
	X      int     `json:"x"`
	Y      int     `json:"y"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Area   float64 `json:"area"`
}

// View is the per-iteration render state handed to the annotator.
type View struct {
	Seq       uint64
	Candidate string
	// Label is the headline text ("(reading...)" until a stable plate exists);
	// empty suppresses the label entirely
	Label string
	Blobs []MotionBlob
}

// CaptureStats is a snapshot of capture adapter counters.
type CaptureStats struct {
	FramesRead    uint64 `json:"frames_read"`
	EmptyReads    uint64 `json:"empty_reads"`
	FramesFlushed uint64 `json:"frames_flushed"`
	BytesRead     uint64 `json:"bytes_read"`
	Source        string `json:"source"`
	Connected     bool   `json:"connected"`
}

// PlateEvent describes a stable-plate transition carried to notifiers.
type PlateEvent struct {
	InstanceID string    `json:"instance_id"`
	Plate      string    `json:"plate"`
	FrameSeq   uint64    `json:"frame_seq"`
	TraceID    string    `json:"trace_id"`
	Timestamp  time.Time `json:"timestamp"`
	// Snapshot is the annotated JPEG at the time of the transition (optional)
	Snapshot []byte `json:"-"`
}

// PipelineStatus is a snapshot of the orchestration loop, served by the
// preview status endpoint.
type PipelineStatus struct {
	InstanceID      string       `json:"instance_id"`
	Mode            string       `json:"mode"`
	State           string       `json:"state"`
	UptimeS         int64        `json:"uptime_s"`
	FramesProcessed uint64       `json:"frames_processed"`
	OCRRuns         uint64       `json:"ocr_runs"`
	SamplesAccepted uint64       `json:"samples_accepted"`
	StableChanges   uint64       `json:"stable_changes"`
	LastCandidate   string       `json:"last_candidate"`
	StablePlate     string       `json:"stable_plate"`
	WindowLen       int          `json:"window_len"`
	Capture         CaptureStats `json:"capture"`
}
