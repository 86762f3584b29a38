package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/BorikGor/ESEProject/internal/config"
	"github.com/BorikGor/ESEProject/internal/supervisor"
	"github.com/BorikGor/ESEProject/internal/types"
)

// fakeSource is a preloaded pull source. Reads consume the queue in
// order; flushes discard from the front, like a real decoder buffer.
type fakeSource struct {
	mu      sync.Mutex
	frames  []types.Frame
	ops     []string
	closed  bool
	openErr error
	stats   types.CaptureStats
}

func (s *fakeSource) Open(ctx context.Context) error {
	if s.openErr != nil {
		return s.openErr
	}
	s.mu.Lock()
	s.stats.Connected = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) Flush(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, fmt.Sprintf("flush:%d", n))
	for i := 0; i < n && len(s.frames) > 0; i++ {
		s.frames = s.frames[1:]
		s.stats.FramesFlushed++
	}
}

func (s *fakeSource) Read() (types.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "read")
	if len(s.frames) == 0 {
		s.stats.EmptyReads++
		return types.Frame{}, false
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	s.stats.FramesRead++
	return f, true
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.stats.Connected = false
	return nil
}

func (s *fakeSource) Stats() types.CaptureStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *fakeSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSource) firstOps(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ops) < n {
		n = len(s.ops)
	}
	return append([]string(nil), s.ops[:n]...)
}

// fakeReader scripts OCR results by call number.
type fakeReader struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) string
}

func (r *fakeReader) ReadPlate(f types.Frame) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.fn(r.calls)
}

func (r *fakeReader) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeMotion struct {
	blobs []types.MotionBlob
}

func (m *fakeMotion) Detect(f types.Frame) []types.MotionBlob { return m.blobs }

// fakeRenderer records views and encodes a traceable payload.
type fakeRenderer struct {
	mu    sync.Mutex
	views []types.View
}

func (r *fakeRenderer) Render(f types.Frame, v types.View) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, v)
	return []byte("jpeg-" + strconv.FormatUint(f.Seq, 10)), nil
}

func (r *fakeRenderer) viewCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

func (r *fakeRenderer) view(i int) types.View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.views[i]
}

type fakeSink struct {
	mu      sync.Mutex
	updates int
}

func (s *fakeSink) UpdateJPEG(jpeg []byte) {
	s.mu.Lock()
	s.updates++
	s.mu.Unlock()
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

type fakeNotifier struct {
	mu       sync.Mutex
	resolved []types.PlateEvent
	cleared  []types.PlateEvent
}

func (n *fakeNotifier) PlateResolved(event types.PlateEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resolved = append(n.resolved, event)
	return nil
}

func (n *fakeNotifier) PlateCleared(event types.PlateEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cleared = append(n.cleared, event)
	return nil
}

func (n *fakeNotifier) counts() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.resolved), len(n.cleared)
}

type fakeSupervisor struct {
	mu         sync.Mutex
	startCalls int
	stopCalls  int
	startErr   error
}

func (s *fakeSupervisor) Start() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startCalls++
	if s.startErr != nil {
		return 0, s.startErr
	}
	return 4242, nil
}

func (s *fakeSupervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCalls++
	return nil
}

func (s *fakeSupervisor) calls() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startCalls, s.stopCalls
}

func engineConfig(t *testing.T, mode string) *config.Config {
	t.Helper()
	cfg := &config.Config{InstanceID: "test-cam", Mode: mode, SnapshotDir: t.TempDir()}
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("validating test config: %v", err)
	}
	cfg.Capture.WarmupDelayMS = 1
	cfg.Capture.ReadRetryMS = 1
	return cfg
}

func makeFrames(n int) []types.Frame {
	frames := make([]types.Frame, n)
	for i := range frames {
		seq := uint64(i + 1)
		frames[i] = types.Frame{
			Seq:       seq,
			Timestamp: time.Now(),
			Width:     64,
			Height:    48,
			TraceID:   "trace-" + strconv.FormatUint(seq, 10),
		}
	}
	return frames
}

func waitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// TestEngineResolvesPlate drives the full loop: 100 queued frames with
// flush 4 yield 20 processed frames, OCR fires on every 5th of those, and
// the plate stabilizes on the third accepted sample.
func TestEngineResolvesPlate(t *testing.T) {
	cfg := engineConfig(t, "lpr")
	cfg.LPR.Required = 3

	source := &fakeSource{frames: makeFrames(100)}
	reader := &fakeReader{fn: func(call int) string { return "AB1234" }}
	renderer := &fakeRenderer{}
	sink := &fakeSink{}
	notifier := &fakeNotifier{}
	sup := &fakeSupervisor{}

	eng, err := NewEngine(cfg, Deps{
		Supervisor: sup,
		Source:     source,
		Reader:     reader,
		Renderer:   renderer,
		Sink:       sink,
		Notifiers:  []Notifier{notifier},
	}, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- eng.Run(ctx) }()

	// The sink hears about every render, so 20 updates means the queue
	// is fully drained
	waitFor(t, 3*time.Second, "queue never drained", func() bool {
		return sink.count() == 20
	})

	status := eng.Status()
	if status.State != StateCapturing {
		t.Errorf("State = %q, want %q", status.State, StateCapturing)
	}
	if status.FramesProcessed != 20 {
		t.Errorf("FramesProcessed = %d, want 20", status.FramesProcessed)
	}
	if status.OCRRuns != 4 {
		t.Errorf("OCRRuns = %d, want 4 (every 5th of 20 processed)", status.OCRRuns)
	}
	if status.SamplesAccepted != 4 {
		t.Errorf("SamplesAccepted = %d, want 4", status.SamplesAccepted)
	}
	if status.StablePlate != "AB1234" {
		t.Errorf("StablePlate = %q, want AB1234", status.StablePlate)
	}
	if status.StableChanges != 1 {
		t.Errorf("StableChanges = %d, want 1", status.StableChanges)
	}
	if status.WindowLen != 4 {
		t.Errorf("WindowLen = %d, want 4", status.WindowLen)
	}
	if status.Capture.FramesRead != 20 {
		t.Errorf("FramesRead = %d, want 20", status.Capture.FramesRead)
	}

	resolvedCount, clearedCount := notifier.counts()
	if resolvedCount != 1 || clearedCount != 0 {
		t.Fatalf("notifier events = %d resolved / %d cleared, want 1/0", resolvedCount, clearedCount)
	}
	event := notifier.resolved[0]
	if event.Plate != "AB1234" || event.InstanceID != "test-cam" {
		t.Errorf("event = %+v", event)
	}
	// Third OCR sample lands on the 15th processed frame; with flush 4
	// that is queue frame 75
	if event.FrameSeq != 75 {
		t.Errorf("event.FrameSeq = %d, want 75", event.FrameSeq)
	}
	if string(event.Snapshot) != "jpeg-75" {
		t.Errorf("event.Snapshot = %q, want the frame rendered at resolution", event.Snapshot)
	}

	if reader.callCount() != 4 {
		t.Errorf("reader calls = %d, want 4", reader.callCount())
	}

	// Labels: "(reading...)" until the plate stabilizes on processed
	// frame 15, the stable plate afterwards
	if got := renderer.view(0).Label; got != "(reading...)" {
		t.Errorf("first view label = %q, want (reading...)", got)
	}
	if got := renderer.view(14).Label; got != "AB1234" {
		t.Errorf("view 15 label = %q, want AB1234", got)
	}
	if got := renderer.view(4).Candidate; got != "AB1234" {
		t.Errorf("view 5 candidate = %q, want AB1234 (OCR frame)", got)
	}
	if got := renderer.view(0).Candidate; got != "" {
		t.Errorf("view 1 candidate = %q, want empty (no OCR)", got)
	}

	// Stabilizing also writes a snapshot
	matches, _ := filepath.Glob(filepath.Join(cfg.SnapshotDir, "lpr_*.jpg"))
	if len(matches) == 0 {
		t.Error("no snapshot written on plate resolution")
	}

	path, err := eng.TriggerSnapshot()
	if err != nil {
		t.Fatalf("TriggerSnapshot failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading snapshot: %v", err)
	}
	if string(data) != "jpeg-100" {
		t.Errorf("snapshot content = %q, want the last rendered view", data)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run returned %v", err)
	}

	if !source.isClosed() {
		t.Error("source not closed on shutdown")
	}
	startCalls, stopCalls := sup.calls()
	if startCalls != 1 || stopCalls != 1 {
		t.Errorf("supervisor calls = %d start / %d stop, want 1/1", startCalls, stopCalls)
	}
	if got := eng.Status().State; got != StateIdle {
		t.Errorf("final state = %q, want %q", got, StateIdle)
	}
}

// TestEngineFlushesBeforeEveryRead verifies the iteration order: stale
// frames are discarded first, so the first processed frame is the newest
// one the flush left behind.
func TestEngineFlushesBeforeEveryRead(t *testing.T) {
	cfg := engineConfig(t, "lpr")

	source := &fakeSource{frames: makeFrames(5)}
	renderer := &fakeRenderer{}

	eng, err := NewEngine(cfg, Deps{
		Source:   source,
		Reader:   &fakeReader{fn: func(int) string { return "" }},
		Renderer: renderer,
	}, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- eng.Run(ctx) }()

	waitFor(t, 2*time.Second, "no frame rendered", func() bool {
		return renderer.viewCount() >= 1
	})
	cancel()
	<-errCh

	if got := renderer.view(0).Seq; got != 5 {
		t.Errorf("first processed seq = %d, want 5 (frames 1-4 flushed)", got)
	}

	ops := source.firstOps(2)
	if len(ops) < 2 || ops[0] != "flush:4" || ops[1] != "read" {
		t.Errorf("ops = %v, want flush before read", ops)
	}
}

// TestEngineOpenFailure verifies a failed capture open tears down the
// relay child and surfaces the error.
func TestEngineOpenFailure(t *testing.T) {
	cfg := engineConfig(t, "lpr")

	source := &fakeSource{openErr: errors.New("connection refused")}
	sup := &fakeSupervisor{}

	eng, err := NewEngine(cfg, Deps{
		Supervisor: sup,
		Source:     source,
		Reader:     &fakeReader{fn: func(int) string { return "" }},
	}, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	if err := eng.Run(context.Background()); err == nil {
		t.Fatal("Run succeeded with failing capture open")
	}

	startCalls, stopCalls := sup.calls()
	if startCalls != 1 || stopCalls != 1 {
		t.Errorf("supervisor calls = %d start / %d stop, want child stopped on failed open", startCalls, stopCalls)
	}
	if got := eng.Status().State; got != StateIdle {
		t.Errorf("state after failed open = %q, want %q", got, StateIdle)
	}
}

// TestEngineReusesRunningRelay verifies an existing relay lock is not
// fatal: the pipeline attaches to the running stream.
func TestEngineReusesRunningRelay(t *testing.T) {
	cfg := engineConfig(t, "lpr")

	source := &fakeSource{frames: makeFrames(10)}
	sup := &fakeSupervisor{startErr: supervisor.ErrAlreadyRunning}

	eng, err := NewEngine(cfg, Deps{
		Supervisor: sup,
		Source:     source,
		Reader:     &fakeReader{fn: func(int) string { return "" }},
	}, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- eng.Run(ctx) }()

	waitFor(t, 2*time.Second, "pipeline never processed a frame", func() bool {
		return eng.Status().FramesProcessed >= 1
	})
	cancel()

	if err := <-errCh; err != nil {
		t.Fatalf("Run returned %v, want existing relay to be reused", err)
	}
}

// TestEngineClearsPlate verifies the cleared transition: once conflicting
// samples dilute the window below the consensus threshold, the stable
// plate is dropped and notifiers hear about it.
func TestEngineClearsPlate(t *testing.T) {
	cfg := engineConfig(t, "lpr")
	cfg.LPR.History = 4
	cfg.LPR.Required = 3
	cfg.LPR.OCREvery = 1
	cfg.Capture.FlushFrames = 0

	script := []string{"AB1234", "AB1234", "AB1234", "XY9999", "XY9999"}
	reader := &fakeReader{fn: func(call int) string {
		if call <= len(script) {
			return script[call-1]
		}
		return ""
	}}

	source := &fakeSource{frames: makeFrames(20)}
	notifier := &fakeNotifier{}

	eng, err := NewEngine(cfg, Deps{
		Source:    source,
		Reader:    reader,
		Renderer:  &fakeRenderer{},
		Notifiers: []Notifier{notifier},
	}, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- eng.Run(ctx) }()

	waitFor(t, 2*time.Second, "cleared event never fired", func() bool {
		_, cleared := notifier.counts()
		return cleared == 1
	})
	cancel()
	<-errCh

	resolvedCount, clearedCount := notifier.counts()
	if resolvedCount != 1 {
		t.Fatalf("resolved events = %d, want 1", resolvedCount)
	}
	if notifier.resolved[0].Plate != "AB1234" || notifier.resolved[0].FrameSeq != 3 {
		t.Errorf("resolved = %+v, want AB1234 at seq 3", notifier.resolved[0])
	}
	if clearedCount != 1 {
		t.Fatalf("cleared events = %d, want 1", clearedCount)
	}
	if notifier.cleared[0].Plate != "AB1234" || notifier.cleared[0].FrameSeq != 5 {
		t.Errorf("cleared = %+v, want AB1234 at seq 5", notifier.cleared[0])
	}
	if got := eng.Status().StableChanges; got != 2 {
		t.Errorf("StableChanges = %d, want 2", got)
	}
}

// TestEngineMotionMode verifies the motion path: blobs flow into views,
// no OCR and no plate events.
func TestEngineMotionMode(t *testing.T) {
	cfg := engineConfig(t, "motion")
	cfg.Capture.FlushFrames = 0

	blobs := []types.MotionBlob{
		{X: 10, Y: 20, Width: 30, Height: 40, Area: 1500},
		{X: 100, Y: 120, Width: 50, Height: 60, Area: 3200},
	}
	source := &fakeSource{frames: makeFrames(3)}
	renderer := &fakeRenderer{}
	notifier := &fakeNotifier{}

	eng, err := NewEngine(cfg, Deps{
		Source:    source,
		Motion:    &fakeMotion{blobs: blobs},
		Renderer:  renderer,
		Notifiers: []Notifier{notifier},
	}, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- eng.Run(ctx) }()

	waitFor(t, 2*time.Second, "frames never rendered", func() bool {
		return renderer.viewCount() >= 3
	})
	cancel()
	<-errCh

	v := renderer.view(0)
	if len(v.Blobs) != 2 {
		t.Errorf("view blobs = %d, want 2", len(v.Blobs))
	}
	if v.Label != "" {
		t.Errorf("motion view label = %q, want empty", v.Label)
	}
	if resolvedCount, clearedCount := notifier.counts(); resolvedCount != 0 || clearedCount != 0 {
		t.Errorf("motion mode emitted plate events: %d/%d", resolvedCount, clearedCount)
	}
	if got := eng.Status().OCRRuns; got != 0 {
		t.Errorf("OCRRuns = %d in motion mode, want 0", got)
	}
}

// TestEngineSnapshotWithoutFrame verifies the trigger fails cleanly
// before anything has rendered.
func TestEngineSnapshotWithoutFrame(t *testing.T) {
	cfg := engineConfig(t, "lpr")

	eng, err := NewEngine(cfg, Deps{
		Source: &fakeSource{},
		Reader: &fakeReader{fn: func(int) string { return "" }},
	}, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	if _, err := eng.TriggerSnapshot(); err == nil {
		t.Fatal("TriggerSnapshot succeeded with no rendered frame")
	}
}

// TestNewEngineValidation verifies dependency requirements per mode.
func TestNewEngineValidation(t *testing.T) {
	t.Run("missing source", func(t *testing.T) {
		cfg := engineConfig(t, "lpr")
		if _, err := NewEngine(cfg, Deps{Reader: &fakeReader{fn: func(int) string { return "" }}}, nil); err == nil {
			t.Error("NewEngine accepted missing source")
		}
	})

	t.Run("lpr without reader", func(t *testing.T) {
		cfg := engineConfig(t, "lpr")
		if _, err := NewEngine(cfg, Deps{Source: &fakeSource{}}, nil); err == nil {
			t.Error("NewEngine accepted lpr mode without reader")
		}
	})

	t.Run("motion without detector", func(t *testing.T) {
		cfg := engineConfig(t, "motion")
		if _, err := NewEngine(cfg, Deps{Source: &fakeSource{}}, nil); err == nil {
			t.Error("NewEngine accepted motion mode without detector")
		}
	})

	t.Run("unknown mode", func(t *testing.T) {
		cfg := engineConfig(t, "lpr")
		cfg.Mode = "tracking"
		if _, err := NewEngine(cfg, Deps{Source: &fakeSource{}}, nil); err == nil {
			t.Error("NewEngine accepted unknown mode")
		}
	})
}
