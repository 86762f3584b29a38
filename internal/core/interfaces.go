package core

import (
	"context"

	"github.com/BorikGor/ESEProject/internal/types"
)

// FrameSource is a pull-based stream of video frames. The pipeline owns
// the cadence: it flushes frames it does not want, then reads one.
type FrameSource interface {
	// Open connects to the stream
	Open(ctx context.Context) error
	// Flush discards up to n frames without decoding them
	Flush(n int)
	// Read returns the next frame; ok is false when nothing was available
	Read() (types.Frame, bool)
	// Close releases the stream
	Close() error
	// Stats returns capture statistics
	Stats() types.CaptureStats
}

// PlateReader extracts a plate candidate from a frame. An empty string
// means nothing readable, which is a normal outcome.
type PlateReader interface {
	ReadPlate(f types.Frame) string
}

// MotionDetector finds moving regions in a frame.
type MotionDetector interface {
	Detect(f types.Frame) []types.MotionBlob
}

// Renderer draws a view over a frame and encodes it as JPEG.
type Renderer interface {
	Render(f types.Frame, v types.View) ([]byte, error)
}

// FrameSink receives rendered views. The preview stream satisfies this.
type FrameSink interface {
	UpdateJPEG(jpeg []byte)
}

// Notifier receives stable-plate transitions. For PlateCleared the
// event's Plate names the plate that was lost.
type Notifier interface {
	PlateResolved(event types.PlateEvent) error
	PlateCleared(event types.PlateEvent) error
}

// StatusPublisher pushes periodic pipeline status snapshots outward.
type StatusPublisher interface {
	PublishStatus(status types.PipelineStatus) error
}

// StreamSupervisor guards the camera relay child process.
type StreamSupervisor interface {
	// Start launches the relay; supervisor.ErrAlreadyRunning is non-fatal
	Start() (int, error)
	// Stop terminates the relay; supervisor.ErrNotRunning is non-fatal
	Stop() error
}
