package analysis

import (
	"fmt"
	"image"
	"log/slog"

	"gocv.io/x/gocv"

	"github.com/BorikGor/ESEProject/internal/types"
)

// Morphological cleanup passes over the foreground mask.
const (
	openIterations  = 1
	closeIterations = 2
)

// MotionConfig tunes the motion-blob extractor.
type MotionConfig struct {
	// History is the number of frames the background model remembers
	History int
	// VarThreshold is the MOG2 squared-distance threshold
	VarThreshold float64
	// DetectShadows marks shadow pixels (gray, stripped by MaskThreshold)
	DetectShadows bool
	// MaskThreshold binarizes the foreground likelihood map
	MaskThreshold float32
	// MinArea discards contours below this area as noise
	MinArea float64
	// KernelSize is the square structuring element side
	KernelSize int
}

// DefaultMotionConfig returns the reference tuning.
func DefaultMotionConfig() MotionConfig {
	return MotionConfig{
		History:       300,
		VarThreshold:  25,
		DetectShadows: true,
		MaskThreshold: 200,
		MinArea:       1200,
		KernelSize:    5,
	}
}

// MotionDetector maintains a running MOG2 background model and extracts
// bounding boxes of moving regions per frame. The model adapts
// continuously, so static scenes fade into the background over time.
//
// Stateful and single-owner: the background model is updated by every
// Detect call and must see frames in capture order.
type MotionDetector struct {
	cfg    MotionConfig
	bgs    gocv.BackgroundSubtractorMOG2
	kernel gocv.Mat

	// scratch buffers reused across frames
	fg   gocv.Mat
	mask gocv.Mat

	log *slog.Logger
}

// NewMotionDetector validates cfg and builds the background model.
func NewMotionDetector(cfg MotionConfig, log *slog.Logger) (*MotionDetector, error) {
	if cfg.History <= 0 {
		return nil, fmt.Errorf("motion: history must be > 0, got %d", cfg.History)
	}
	if cfg.VarThreshold <= 0 {
		return nil, fmt.Errorf("motion: var threshold must be > 0, got %v", cfg.VarThreshold)
	}
	if cfg.MinArea < 0 {
		return nil, fmt.Errorf("motion: min area must be >= 0, got %v", cfg.MinArea)
	}
	if cfg.KernelSize <= 0 || cfg.KernelSize%2 == 0 {
		return nil, fmt.Errorf("motion: kernel size must be odd and > 0, got %d", cfg.KernelSize)
	}
	if log == nil {
		log = slog.Default()
	}

	return &MotionDetector{
		cfg:    cfg,
		bgs:    gocv.NewBackgroundSubtractorMOG2WithParams(cfg.History, cfg.VarThreshold, cfg.DetectShadows),
		kernel: gocv.GetStructuringElement(gocv.MorphRect, image.Pt(cfg.KernelSize, cfg.KernelSize)),
		fg:     gocv.NewMat(),
		mask:   gocv.NewMat(),
		log:    log,
	}, nil
}

// Detect updates the background model with f and returns the bounding
// boxes of qualifying moving blobs. An empty slice means no motion, a
// normal outcome.
func (d *MotionDetector) Detect(f types.Frame) []types.MotionBlob {
	img, err := matFromFrame(f)
	if err != nil {
		d.log.Debug("motion skipping malformed frame", "seq", f.Seq, "error", err)
		return nil
	}
	defer img.Close()

	d.bgs.Apply(img, &d.fg)
	gocv.Threshold(d.fg, &d.mask, d.cfg.MaskThreshold, 255, gocv.ThresholdBinary)

	// Opening removes speckle noise, closing bridges small gaps
	gocv.MorphologyExWithParams(d.mask, &d.mask, gocv.MorphOpen, d.kernel, openIterations, gocv.BorderConstant)
	gocv.MorphologyExWithParams(d.mask, &d.mask, gocv.MorphClose, d.kernel, closeIterations, gocv.BorderConstant)

	contours := gocv.FindContours(d.mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var blobs []types.MotionBlob
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		area := gocv.ContourArea(c)
		if area < d.cfg.MinArea {
			continue
		}
		rect := gocv.BoundingRect(c)
		blobs = append(blobs, types.MotionBlob{
			X:      rect.Min.X,
			Y:      rect.Min.Y,
			Width:  rect.Dx(),
			Height: rect.Dy(),
			Area:   area,
		})
	}
	return blobs
}

// Close releases the background model and scratch buffers.
func (d *MotionDetector) Close() error {
	d.fg.Close()
	d.mask.Close()
	d.kernel.Close()
	return d.bgs.Close()
}
