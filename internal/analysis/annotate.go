package analysis

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/BorikGor/ESEProject/internal/types"
)

var (
	labelGreen   = color.RGBA{G: 255}
	boxYellow    = color.RGBA{R: 255, G: 255}
	roiBlue      = color.RGBA{B: 255}
	labelBgBlack = color.RGBA{}
)

// AnnotatorConfig tunes the rendered view.
type AnnotatorConfig struct {
	// DrawROI outlines the fixed OCR region on the view
	DrawROI bool
	ROI     types.ROI
}

// Annotator renders the per-iteration view: the frame with the ROI
// outline, motion boxes and the stable-plate label, encoded as JPEG for
// the preview stream and snapshots.
type Annotator struct {
	cfg AnnotatorConfig
}

// NewAnnotator returns an annotator for the given view options.
func NewAnnotator(cfg AnnotatorConfig) *Annotator {
	return &Annotator{cfg: cfg}
}

// Render draws v over f and returns the JPEG-encoded view.
func (a *Annotator) Render(f types.Frame, v types.View) ([]byte, error) {
	img, err := matFromFrame(f)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	if a.cfg.DrawROI {
		roi := a.cfg.ROI.Clamp(f.Width, f.Height)
		if roi.Valid(f.Width, f.Height) {
			gocv.Rectangle(&img, image.Rect(roi.X1, roi.Y1, roi.X2, roi.Y2), roiBlue, 2)
		}
	}

	for _, b := range v.Blobs {
		gocv.Rectangle(&img, image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height), boxYellow, 2)
		gocv.PutText(&img, "moving", image.Pt(b.X, b.Y-6), gocv.FontHersheySimplex, 0.5, boxYellow, 1)
	}

	if v.Label != "" {
		drawLabel(&img, v.Label, image.Pt(10, 34), labelGreen)
	}

	buf, err := gocv.IMEncode(".jpg", img)
	if err != nil {
		return nil, fmt.Errorf("analysis: encode view: %w", err)
	}
	defer buf.Close()

	// GetBytes aliases the native buffer; copy before Close
	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

// drawLabel draws text over a filled background box so it stays readable
// on any frame content.
func drawLabel(img *gocv.Mat, text string, org image.Point, c color.RGBA) {
	sz := gocv.GetTextSize(text, gocv.FontHersheySimplex, 0.8, 2)
	bg := image.Rect(org.X-2, org.Y-sz.Y-8, org.X+sz.X+2, org.Y+4)
	gocv.Rectangle(img, bg, labelBgBlack, -1)
	gocv.PutText(img, text, org, gocv.FontHersheySimplex, 0.8, c, 2)
}
