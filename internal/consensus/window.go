package consensus

import "fmt"

// Config holds the voting parameters.
type Config struct {
	// History is the window capacity (number of recent samples kept)
	History int
	// Required is the minimum occurrence count for a stable result
	Required int
	// PlateMin and PlateMax bound the accepted candidate length
	PlateMin int
	PlateMax int
}

// DefaultConfig returns the reference tuning.
func DefaultConfig() Config {
	return Config{
		History:  15,
		Required: 4,
		PlateMin: 5,
		PlateMax: 8,
	}
}

// Window is a bounded FIFO of recent recognition samples with majority-vote
// readout. Not safe for concurrent use; see the package documentation.
type Window struct {
	cfg     Config
	samples []string
}

// New validates cfg and creates an empty window.
func New(cfg Config) (*Window, error) {
	if cfg.History <= 0 {
		return nil, fmt.Errorf("consensus: history must be > 0, got %d", cfg.History)
	}
	if cfg.Required <= 0 {
		return nil, fmt.Errorf("consensus: required must be > 0, got %d", cfg.Required)
	}
	if cfg.Required > cfg.History {
		return nil, fmt.Errorf("consensus: required %d exceeds history %d", cfg.Required, cfg.History)
	}
	if cfg.PlateMin <= 0 || cfg.PlateMax < cfg.PlateMin {
		return nil, fmt.Errorf("consensus: invalid length bounds [%d, %d]", cfg.PlateMin, cfg.PlateMax)
	}
	return &Window{
		cfg:     cfg,
		samples: make([]string, 0, cfg.History),
	}, nil
}

// Offer appends sample to the window if its length lies within
// [PlateMin, PlateMax], evicting the oldest entry when the window is full.
// It reports whether the sample was accepted.
func (w *Window) Offer(sample string) bool {
	if n := len(sample); n < w.cfg.PlateMin || n > w.cfg.PlateMax {
		return false
	}
	if len(w.samples) == w.cfg.History {
		copy(w.samples, w.samples[1:])
		w.samples = w.samples[:len(w.samples)-1]
	}
	w.samples = append(w.samples, sample)
	return true
}

// Stable returns the most frequent sample currently in the window if its
// count is at least Required. Ties resolve to the value whose first
// occurrence in the window is earliest, keeping the readout deterministic.
func (w *Window) Stable() (string, bool) {
	if len(w.samples) == 0 {
		return "", false
	}
	counts := make(map[string]int, len(w.samples))
	for _, s := range w.samples {
		counts[s]++
	}
	best := ""
	bestCount := 0
	for _, s := range w.samples {
		if c := counts[s]; c > bestCount {
			best, bestCount = s, c
		}
	}
	if bestCount < w.cfg.Required {
		return "", false
	}
	return best, true
}

// Len returns the number of samples currently held.
func (w *Window) Len() int {
	return len(w.samples)
}
