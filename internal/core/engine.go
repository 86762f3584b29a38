package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BorikGor/ESEProject/internal/config"
	"github.com/BorikGor/ESEProject/internal/consensus"
	"github.com/BorikGor/ESEProject/internal/supervisor"
	"github.com/BorikGor/ESEProject/internal/types"
)

// Pipeline states reported through Status.
const (
	StateIdle      = "idle"
	StateStarting  = "starting"
	StateCapturing = "capturing"
	StateStopping  = "stopping"
)

const (
	statusLogInterval = 30 * time.Second
	snapshotPrefix    = "lpr_"
)

// Deps bundles the pipeline's pluggable components.
type Deps struct {
	// Supervisor manages the camera relay child; nil when the relay is
	// managed externally (mock source, already-running relay)
	Supervisor StreamSupervisor
	Source     FrameSource
	// Reader is required in lpr mode
	Reader PlateReader
	// Motion is required in motion mode
	Motion MotionDetector
	// Renderer and Sink are optional; without them the pipeline analyzes
	// headless
	Renderer  Renderer
	Sink      FrameSink
	Notifiers []Notifier
	StatusPub StatusPublisher
}

// Engine drives the capture loop: flush stale frames, read one, analyze,
// vote, render, notify. It owns the camera child through the supervisor
// and tears both down on every exit path.
type Engine struct {
	cfg *config.Config
	log *slog.Logger

	supervisor StreamSupervisor
	source     FrameSource
	reader     PlateReader
	motion     MotionDetector
	renderer   Renderer
	sink       FrameSink
	notifiers  []Notifier
	statusPub  StatusPublisher

	// window belongs to the run loop goroutine alone; windowLen mirrors
	// its size for concurrent Status readers
	window    *consensus.Window
	windowLen int64

	framesProcessed uint64
	ocrRuns         uint64
	samplesAccepted uint64
	stableChanges   uint64

	mu            sync.RWMutex
	state         string
	isRunning     bool
	started       time.Time
	lastCandidate string
	stablePlate   string
	lastJPEG      []byte
	lastFrameSeq  uint64

	wg sync.WaitGroup
}

// NewEngine creates the pipeline engine. Components are injected so the
// loop can run against a camera, a mock, or test fakes.
func NewEngine(cfg *config.Config, deps Deps, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	if deps.Source == nil {
		return nil, fmt.Errorf("frame source is required")
	}

	var window *consensus.Window
	switch cfg.Mode {
	case "lpr":
		if deps.Reader == nil {
			return nil, fmt.Errorf("plate reader is required in lpr mode")
		}
		w, err := consensus.New(consensus.Config{
			History:  cfg.LPR.History,
			Required: cfg.LPR.Required,
			PlateMin: cfg.LPR.PlateMin,
			PlateMax: cfg.LPR.PlateMax,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build consensus window: %w", err)
		}
		window = w
	case "motion":
		if deps.Motion == nil {
			return nil, fmt.Errorf("motion detector is required in motion mode")
		}
	default:
		return nil, fmt.Errorf("unknown mode '%s'", cfg.Mode)
	}

	return &Engine{
		cfg:        cfg,
		log:        log,
		supervisor: deps.Supervisor,
		source:     deps.Source,
		reader:     deps.Reader,
		motion:     deps.Motion,
		renderer:   deps.Renderer,
		sink:       deps.Sink,
		notifiers:  deps.Notifiers,
		statusPub:  deps.StatusPub,
		window:     window,
		state:      StateIdle,
	}, nil
}

// SetSink wires the rendered-frame sink after construction. The preview
// server needs the engine for its status endpoint, so the sink is bound
// late. Must be called before Run.
func (e *Engine) SetSink(sink FrameSink) {
	e.sink = sink
}

// Run starts the relay child, opens capture and drives the loop until the
// context is cancelled. The capture handle and the child are torn down on
// every exit path, including failed startup.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.isRunning {
		e.mu.Unlock()
		return fmt.Errorf("pipeline is already running")
	}
	e.isRunning = true
	e.started = time.Now()
	e.mu.Unlock()

	e.setState(StateStarting)
	defer e.teardown()

	e.log.Info("pipeline starting",
		"instance_id", e.cfg.InstanceID,
		"mode", e.cfg.Mode,
		"source", e.cfg.Capture.Source,
	)

	if e.supervisor != nil {
		pid, err := e.supervisor.Start()
		switch {
		case errors.Is(err, supervisor.ErrAlreadyRunning):
			e.log.Warn("stream already running, reusing existing relay")
		case err != nil:
			return fmt.Errorf("failed to start stream: %w", err)
		default:
			e.log.Info("stream relay started", "pid", pid)
		}
	}

	// The relay needs a moment to bind its listener before we dial
	warmup := time.Duration(e.cfg.Capture.WarmupDelayMS) * time.Millisecond
	select {
	case <-time.After(warmup):
	case <-ctx.Done():
		return nil
	}

	if err := e.source.Open(ctx); err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}

	if probeMS := e.cfg.Capture.ProbeMS; probeMS > 0 {
		retry := time.Duration(e.cfg.Capture.ReadRetryMS) * time.Millisecond
		if _, err := Probe(ctx, e.source, time.Duration(probeMS)*time.Millisecond, retry, e.log); err != nil {
			e.log.Warn("stream probe failed, continuing without rate stats", "error", err)
		}
	}

	e.wg.Add(1)
	go e.logStats(ctx)

	e.setState(StateCapturing)
	e.log.Info("pipeline capturing")

	readRetry := time.Duration(e.cfg.Capture.ReadRetryMS) * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			e.log.Info("pipeline run loop exiting")
			return nil
		default:
		}

		e.source.Flush(e.cfg.Capture.FlushFrames)

		f, ok := e.source.Read()
		if !ok {
			select {
			case <-time.After(readRetry):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		e.processFrame(f)
	}
}

// processFrame runs one analyze-vote-render-notify iteration.
func (e *Engine) processFrame(f types.Frame) {
	n := atomic.AddUint64(&e.framesProcessed, 1)
	view := types.View{Seq: f.Seq}

	var resolved, cleared *types.PlateEvent

	switch e.cfg.Mode {
	case "lpr":
		if n%uint64(e.cfg.LPR.OCREvery) == 0 {
			candidate := e.reader.ReadPlate(f)
			atomic.AddUint64(&e.ocrRuns, 1)

			if e.window.Offer(candidate) {
				atomic.AddUint64(&e.samplesAccepted, 1)
			}
			atomic.StoreInt64(&e.windowLen, int64(e.window.Len()))

			stable, ok := e.window.Stable()
			resolved, cleared = e.applyStable(stable, ok, f)

			e.mu.Lock()
			e.lastCandidate = candidate
			e.mu.Unlock()

			view.Candidate = candidate
			e.log.Debug("ocr sample",
				"seq", f.Seq,
				"candidate", candidate,
				"stable", stable,
				"trace_id", f.TraceID,
			)
		}

		e.mu.RLock()
		plate := e.stablePlate
		e.mu.RUnlock()
		if plate != "" {
			view.Label = plate
		} else {
			view.Label = "(reading...)"
		}

	case "motion":
		view.Blobs = e.motion.Detect(f)
	}

	jpeg := e.render(f, view)

	if resolved != nil {
		resolved.Snapshot = jpeg
		e.log.Info("plate resolved",
			"plate", resolved.Plate,
			"seq", resolved.FrameSeq,
			"trace_id", resolved.TraceID,
		)
		if len(jpeg) > 0 {
			if path, err := e.writeSnapshot(jpeg); err != nil {
				e.log.Warn("failed to save snapshot", "error", err)
			} else {
				e.log.Info("snapshot saved", "path", path)
			}
		}
		e.notify(func(n Notifier) error { return n.PlateResolved(*resolved) }, "resolved")
	}
	if cleared != nil {
		cleared.Snapshot = jpeg
		e.log.Info("plate cleared",
			"plate", cleared.Plate,
			"seq", cleared.FrameSeq,
		)
		e.notify(func(n Notifier) error { return n.PlateCleared(*cleared) }, "cleared")
	}
}

// applyStable records a consensus result and returns the transition
// events to emit, if any. A change from one plate straight to another
// emits only the new resolution; cleared fires only when consensus is
// lost entirely.
func (e *Engine) applyStable(stable string, ok bool, f types.Frame) (resolved, cleared *types.PlateEvent) {
	e.mu.Lock()
	prev := e.stablePlate
	switch {
	case ok && stable != prev:
		e.stablePlate = stable
		resolved = e.plateEvent(stable, f)
	case !ok && prev != "":
		e.stablePlate = ""
		cleared = e.plateEvent(prev, f)
	}
	e.mu.Unlock()

	if resolved != nil || cleared != nil {
		atomic.AddUint64(&e.stableChanges, 1)
	}
	return resolved, cleared
}

func (e *Engine) plateEvent(plate string, f types.Frame) *types.PlateEvent {
	return &types.PlateEvent{
		InstanceID: e.cfg.InstanceID,
		Plate:      plate,
		FrameSeq:   f.Seq,
		TraceID:    f.TraceID,
		Timestamp:  time.Now(),
	}
}

// render draws the view, remembers it for snapshots and pushes it to the
// sink. Returns nil when rendering is disabled or failed.
func (e *Engine) render(f types.Frame, view types.View) []byte {
	if e.renderer == nil {
		return nil
	}
	jpeg, err := e.renderer.Render(f, view)
	if err != nil {
		e.log.Warn("render failed", "seq", f.Seq, "error", err)
		return nil
	}

	e.mu.Lock()
	e.lastJPEG = jpeg
	e.lastFrameSeq = f.Seq
	e.mu.Unlock()

	if e.sink != nil {
		e.sink.UpdateJPEG(jpeg)
	}
	return jpeg
}

// notify delivers a transition to all notifiers; failures are logged and
// do not stop the pipeline.
func (e *Engine) notify(fn func(Notifier) error, event string) {
	for _, n := range e.notifiers {
		if err := fn(n); err != nil {
			e.log.Warn("notifier failed", "event", event, "error", err)
		}
	}
}

// teardown closes capture first, then stops the relay child, mirroring
// the startup order in reverse. Runs on every Run exit path.
func (e *Engine) teardown() {
	e.setState(StateStopping)

	if err := e.source.Close(); err != nil {
		e.log.Error("failed to close capture", "error", err)
	}

	if e.supervisor != nil {
		if err := e.supervisor.Stop(); err != nil && !errors.Is(err, supervisor.ErrNotRunning) {
			e.log.Error("failed to stop stream", "error", err)
		}
	}

	e.wg.Wait()

	e.mu.Lock()
	uptime := time.Since(e.started)
	e.isRunning = false
	e.mu.Unlock()

	e.setState(StateIdle)
	e.log.Info("pipeline stopped",
		"uptime", uptime,
		"frames_processed", atomic.LoadUint64(&e.framesProcessed),
		"stable_changes", atomic.LoadUint64(&e.stableChanges),
	)
}

// logStats periodically logs a status line and pushes it to the status
// publisher when one is wired.
func (e *Engine) logStats(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(statusLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := e.Status()
			e.log.Info("pipeline status",
				"state", status.State,
				"frames_processed", status.FramesProcessed,
				"ocr_runs", status.OCRRuns,
				"stable_plate", status.StablePlate,
				"window_len", status.WindowLen,
				"empty_reads", status.Capture.EmptyReads,
			)
			if e.statusPub != nil {
				if err := e.statusPub.PublishStatus(status); err != nil {
					e.log.Debug("status publish failed", "error", err)
				}
			}
		}
	}
}

// Status returns a snapshot of the pipeline state. Safe to call from any
// goroutine.
func (e *Engine) Status() types.PipelineStatus {
	e.mu.RLock()
	state := e.state
	lastCandidate := e.lastCandidate
	stablePlate := e.stablePlate
	started := e.started
	running := e.isRunning
	e.mu.RUnlock()

	var uptime int64
	if running {
		uptime = int64(time.Since(started).Seconds())
	}

	return types.PipelineStatus{
		InstanceID:      e.cfg.InstanceID,
		Mode:            e.cfg.Mode,
		State:           state,
		UptimeS:         uptime,
		FramesProcessed: atomic.LoadUint64(&e.framesProcessed),
		OCRRuns:         atomic.LoadUint64(&e.ocrRuns),
		SamplesAccepted: atomic.LoadUint64(&e.samplesAccepted),
		StableChanges:   atomic.LoadUint64(&e.stableChanges),
		LastCandidate:   lastCandidate,
		StablePlate:     stablePlate,
		WindowLen:       int(atomic.LoadInt64(&e.windowLen)),
		Capture:         e.source.Stats(),
	}
}

// TriggerSnapshot writes the most recent rendered view to the snapshot
// directory and returns its path. Safe to call from any goroutine.
func (e *Engine) TriggerSnapshot() (string, error) {
	e.mu.RLock()
	jpeg := e.lastJPEG
	seq := e.lastFrameSeq
	e.mu.RUnlock()

	if len(jpeg) == 0 {
		return "", fmt.Errorf("no rendered frame available yet")
	}

	path, err := e.writeSnapshot(jpeg)
	if err != nil {
		return "", err
	}
	e.log.Info("snapshot saved", "path", path, "seq", seq)
	return path, nil
}

func (e *Engine) writeSnapshot(jpeg []byte) (string, error) {
	name := snapshotPrefix + time.Now().Format("20060102_150405") + ".jpg"
	path := filepath.Join(e.cfg.SnapshotDir, name)
	if err := os.WriteFile(path, jpeg, 0o644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	return path, nil
}

func (e *Engine) setState(s string) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}
