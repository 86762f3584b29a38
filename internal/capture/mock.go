package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/BorikGor/ESEProject/internal/types"
)

// Mock generates synthetic frames for development without a camera.
//
// A producer goroutine fills a bounded queue at the target FPS, dropping
// the oldest frame when the queue is full. Read and Flush pop from the
// queue, so the staleness semantics of a real decoder buffer are
// reproduced: skip Flush for long enough and Read hands you old frames.
type Mock struct {
	width  int
	height int
	fps    int
	source string
	log    *slog.Logger

	mu       sync.Mutex
	queue    []types.Frame
	queueCap int
	running  bool

	stopCh chan struct{}
	wg     sync.WaitGroup

	seq           uint64
	framesRead    uint64
	emptyReads    uint64
	framesFlushed uint64
	bytesRead     uint64
	dropped       uint64
}

// NewMock creates a mock source producing width x height BGR24 frames at fps.
func NewMock(width, height, fps int, log *slog.Logger) *Mock {
	if fps <= 0 {
		fps = 15
	}
	if log == nil {
		log = slog.Default()
	}
	return &Mock{
		width:    width,
		height:   height,
		fps:      fps,
		source:   "mock",
		log:      log,
		queueCap: 8,
		stopCh:   make(chan struct{}),
	}
}

// Open starts the frame producer.
func (m *Mock) Open(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("capture: already open")
	}
	m.running = true
	m.mu.Unlock()

	m.log.Info("mock capture open",
		"width", m.width,
		"height", m.height,
		"fps", m.fps,
	)

	m.wg.Add(1)
	go m.produce(ctx)
	return nil
}

func (m *Mock) produce(ctx context.Context) {
	defer m.wg.Done()

	interval := time.Second / time.Duration(m.fps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.push(m.createFrame())
		}
	}
}

// push appends f to the queue, evicting the oldest frame when full.
func (m *Mock) push(f types.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) >= m.queueCap {
		copy(m.queue, m.queue[1:])
		m.queue = m.queue[:len(m.queue)-1]
		atomic.AddUint64(&m.dropped, 1)
	}
	m.queue = append(m.queue, f)
}

// pop removes and returns the oldest queued frame.
func (m *Mock) pop() (types.Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) == 0 {
		return types.Frame{}, false
	}
	f := m.queue[0]
	copy(m.queue, m.queue[1:])
	m.queue = m.queue[:len(m.queue)-1]
	return f, true
}

// Flush discards up to n queued frames.
func (m *Mock) Flush(n int) {
	for i := 0; i < n; i++ {
		if _, ok := m.pop(); !ok {
			return
		}
		atomic.AddUint64(&m.framesFlushed, 1)
	}
}

// Read pops the oldest queued frame. ok is false when the queue is empty.
func (m *Mock) Read() (types.Frame, bool) {
	f, ok := m.pop()
	if !ok {
		atomic.AddUint64(&m.emptyReads, 1)
		return types.Frame{}, false
	}
	atomic.AddUint64(&m.framesRead, 1)
	atomic.AddUint64(&m.bytesRead, uint64(len(f.Data)))
	return f, true
}

// Close stops the producer. Safe to call more than once.
func (m *Mock) Close() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()

	m.log.Info("mock capture closed",
		"frames_read", atomic.LoadUint64(&m.framesRead),
		"dropped", atomic.LoadUint64(&m.dropped),
	)
	return nil
}

// Stats returns a snapshot of capture counters.
func (m *Mock) Stats() types.CaptureStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	return types.CaptureStats{
		FramesRead:    atomic.LoadUint64(&m.framesRead),
		EmptyReads:    atomic.LoadUint64(&m.emptyReads),
		FramesFlushed: atomic.LoadUint64(&m.framesFlushed),
		BytesRead:     atomic.LoadUint64(&m.bytesRead),
		Source:        m.source,
		Connected:     running,
	}
}

// createFrame builds a black BGR24 frame with a moving white bar so the
// motion path has something to detect.
func (m *Mock) createFrame() types.Frame {
	seq := atomic.AddUint64(&m.seq, 1)

	data := make([]byte, m.width*m.height*3)
	barX := int(seq*8) % m.width
	barW := m.width / 32
	if barW < 4 {
		barW = 4
	}
	for y := 0; y < m.height; y++ {
		row := y * m.width * 3
		for x := barX; x < barX+barW && x < m.width; x++ {
			p := row + x*3
			data[p] = 255
			data[p+1] = 255
			data[p+2] = 255
		}
	}

	return types.Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     m.width,
		Height:    m.height,
		Data:      data,
		Source:    m.source,
		TraceID:   uuid.New().String(),
	}
}
