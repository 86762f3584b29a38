package core

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/BorikGor/ESEProject/internal/types"
)

// ProbeStats summarizes the delivery rate measured during a probe window.
type ProbeStats struct {
	FramesSeen int
	Duration   time.Duration
	FPSMean    float64
	FPSStdDev  float64
	FPSMin     float64
	FPSMax     float64
	// Stable is true when the instantaneous rate stays within 15% of the
	// mean, the threshold below which the analysis cadence holds up
	Stable bool
}

// frameReader is the minimal surface the probe needs from a source.
type frameReader interface {
	Read() (types.Frame, bool)
}

// Probe consumes frames from src for the given duration without
// processing them, then reports rate statistics. Run right after open, it
// lets the stream settle and logs what the camera actually delivers.
func Probe(ctx context.Context, src frameReader, duration, retry time.Duration, log *slog.Logger) (*ProbeStats, error) {
	if log == nil {
		log = slog.Default()
	}
	if retry <= 0 {
		retry = 10 * time.Millisecond
	}

	log.Info("probing stream rate", "duration", duration)

	start := time.Now()
	deadline := start.Add(duration)
	frameTimes := make([]time.Time, 0, 128)

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("probe canceled: %w", err)
		}
		f, ok := src.Read()
		if !ok {
			time.Sleep(retry)
			continue
		}
		frameTimes = append(frameTimes, f.Timestamp)
	}

	elapsed := time.Since(start)
	if len(frameTimes) < 2 {
		return nil, fmt.Errorf("not enough frames during probe (got %d)", len(frameTimes))
	}

	stats := rateStats(frameTimes, elapsed)

	log.Info("stream probe complete",
		"frames", stats.FramesSeen,
		"duration", stats.Duration,
		"fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
		"fps_stddev", fmt.Sprintf("%.2f", stats.FPSStdDev),
		"fps_range", fmt.Sprintf("%.1f-%.1f", stats.FPSMin, stats.FPSMax),
		"stable", stats.Stable,
	)
	if !stats.Stable {
		log.Warn("stream rate is unstable, analysis cadence may drift",
			"fps_stddev", stats.FPSStdDev,
		)
	}

	return stats, nil
}

// rateStats computes rate statistics from frame timestamps.
func rateStats(frameTimes []time.Time, elapsed time.Duration) *ProbeStats {
	n := len(frameTimes)
	fpsMean := float64(n) / elapsed.Seconds()

	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		interval := frameTimes[i].Sub(frameTimes[i-1]).Seconds()
		if interval > 0 {
			instantaneous = append(instantaneous, 1.0/interval)
		}
	}

	if len(instantaneous) == 0 {
		return &ProbeStats{
			FramesSeen: n,
			Duration:   elapsed,
			FPSMean:    fpsMean,
		}
	}

	fpsMin := instantaneous[0]
	fpsMax := instantaneous[0]
	for _, fps := range instantaneous {
		if fps < fpsMin {
			fpsMin = fps
		}
		if fps > fpsMax {
			fpsMax = fps
		}
	}

	var sumSquares float64
	for _, fps := range instantaneous {
		diff := fps - fpsMean
		sumSquares += diff * diff
	}
	fpsStdDev := math.Sqrt(sumSquares / float64(len(instantaneous)))

	return &ProbeStats{
		FramesSeen: n,
		Duration:   elapsed,
		FPSMean:    fpsMean,
		FPSStdDev:  fpsStdDev,
		FPSMin:     fpsMin,
		FPSMax:     fpsMax,
		Stable:     fpsStdDev < fpsMean*0.15,
	}
}
