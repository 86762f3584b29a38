package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/BorikGor/ESEProject/internal/types"
)

// Config contains camera capture configuration.
type Config struct {
	// URL is the stream endpoint the consumer dials, e.g. tcp://127.0.0.1:5800
	URL string
	// BufferSize is a hint for the decoder-side frame queue; 0 leaves the
	// backend default in place
	BufferSize int
	// Source labels frames for tracing ("camera", "mock")
	Source string
}

// Camera implements a pull-based frame source over an OpenCV VideoCapture.
//
// Open, Flush, Read and Close belong to a single goroutine; only Stats is
// safe to call concurrently.
type Camera struct {
	cfg Config
	log *slog.Logger

	cap *gocv.VideoCapture
	mat gocv.Mat

	opened bool

	// Stats (atomics: Stats races with the read loop)
	seq           uint64
	framesRead    uint64
	emptyReads    uint64
	framesFlushed uint64
	bytesRead     uint64
	connected     uint32
}

// NewCamera creates a camera source. The stream is not dialed until Open.
func NewCamera(cfg Config, log *slog.Logger) (*Camera, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("capture: url is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Camera{cfg: cfg, log: log}, nil
}

// Open dials the stream URL and applies the buffer-size hint.
//
// OpenCV exposes no deadline hook, so cancellation is only honored before
// the dial; the dial itself blocks until the endpoint accepts or the
// backend gives up.
func (c *Camera) Open(ctx context.Context) error {
	if c.opened {
		return fmt.Errorf("capture: already open")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("capture: open canceled: %w", err)
	}

	c.log.Info("opening capture",
		"url", c.cfg.URL,
		"buffer_size", c.cfg.BufferSize,
	)

	cap, err := gocv.OpenVideoCapture(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("capture: open %s: %w", c.cfg.URL, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return fmt.Errorf("capture: open %s: stream not available", c.cfg.URL)
	}

	if c.cfg.BufferSize > 0 {
		// Best-effort: not every backend honors the property
		cap.Set(gocv.VideoCaptureBufferSize, float64(c.cfg.BufferSize))
	}

	c.cap = cap
	c.mat = gocv.NewMat()
	c.opened = true
	atomic.StoreUint32(&c.connected, 1)

	c.log.Info("capture open", "url", c.cfg.URL)
	return nil
}

// Flush grabs and discards n frames without decoding them. Used after
// stalls so the next Read returns a current frame instead of a stale one.
func (c *Camera) Flush(n int) {
	if !c.opened || n <= 0 {
		return
	}
	c.cap.Grab(n)
	atomic.AddUint64(&c.framesFlushed, uint64(n))
}

// Read decodes the next frame. ok is false when the source had nothing
// to deliver; that is a normal idle outcome, not an error.
func (c *Camera) Read() (types.Frame, bool) {
	if !c.opened {
		return types.Frame{}, false
	}
	if !c.cap.Read(&c.mat) || c.mat.Empty() {
		atomic.AddUint64(&c.emptyReads, 1)
		return types.Frame{}, false
	}

	data := c.mat.ToBytes()
	f := types.Frame{
		Seq:       atomic.AddUint64(&c.seq, 1),
		Timestamp: time.Now(),
		Width:     c.mat.Cols(),
		Height:    c.mat.Rows(),
		Data:      data,
		Source:    c.cfg.Source,
		TraceID:   uuid.New().String(),
	}

	atomic.AddUint64(&c.framesRead, 1)
	atomic.AddUint64(&c.bytesRead, uint64(len(data)))
	return f, true
}

// Close releases the capture handle. Safe to call more than once.
func (c *Camera) Close() error {
	if !c.opened {
		return nil
	}
	c.opened = false
	atomic.StoreUint32(&c.connected, 0)

	c.mat.Close()
	err := c.cap.Close()
	c.cap = nil

	c.log.Info("capture closed",
		"frames_read", atomic.LoadUint64(&c.framesRead),
		"empty_reads", atomic.LoadUint64(&c.emptyReads),
		"frames_flushed", atomic.LoadUint64(&c.framesFlushed),
	)

	if err != nil {
		return fmt.Errorf("capture: close: %w", err)
	}
	return nil
}

// Stats returns a snapshot of capture counters.
func (c *Camera) Stats() types.CaptureStats {
	return types.CaptureStats{
		FramesRead:    atomic.LoadUint64(&c.framesRead),
		EmptyReads:    atomic.LoadUint64(&c.emptyReads),
		FramesFlushed: atomic.LoadUint64(&c.framesFlushed),
		BytesRead:     atomic.LoadUint64(&c.bytesRead),
		Source:        c.cfg.Source,
		Connected:     atomic.LoadUint32(&c.connected) == 1,
	}
}
