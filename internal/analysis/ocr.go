package analysis

import (
	"fmt"
	"image"
	"log/slog"

	"github.com/otiai10/gosseract/v2"
	"gocv.io/x/gocv"

	"github.com/BorikGor/ESEProject/internal/types"
)

// OCRConfig tunes the plate-candidate extractor.
type OCRConfig struct {
	// Language is the Tesseract language pack (default "eng")
	Language string
	// UseFixedROI restricts OCR to ROI instead of the full frame
	UseFixedROI bool
	// ROI is the fixed plate area, clamped to frame bounds at use
	ROI types.ROI
	// Upscale is the ROI magnification factor before binarization
	Upscale float64
}

// DefaultOCRConfig returns the reference tuning.
func DefaultOCRConfig() OCRConfig {
	return OCRConfig{
		Language:    "eng",
		UseFixedROI: false,
		ROI:         types.ROI{X1: 520, Y1: 360, X2: 1400, Y2: 760},
		Upscale:     3.0,
	}
}

// PlateReader extracts a normalized plate candidate from a frame using
// Tesseract. Two binarized variants of the (optionally cropped, upscaled)
// region are recognized independently; the longer normalized string wins.
//
// A PlateReader owns a single Tesseract client and is not safe for
// concurrent use.
type PlateReader struct {
	cfg    OCRConfig
	client *gosseract.Client
	log    *slog.Logger
}

// NewPlateReader creates the Tesseract client and configures it for
// single-line uppercase alphanumeric recognition.
func NewPlateReader(cfg OCRConfig, log *slog.Logger) (*PlateReader, error) {
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.Upscale <= 0 {
		cfg.Upscale = 3.0
	}
	if log == nil {
		log = slog.Default()
	}

	client := gosseract.NewClient()
	if err := client.SetLanguage(cfg.Language); err != nil {
		client.Close()
		return nil, fmt.Errorf("ocr: set language %q: %w", cfg.Language, err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_LINE); err != nil {
		client.Close()
		return nil, fmt.Errorf("ocr: set page segmentation mode: %w", err)
	}
	if err := client.SetWhitelist(Alphabet); err != nil {
		client.Close()
		return nil, fmt.Errorf("ocr: set whitelist: %w", err)
	}

	return &PlateReader{cfg: cfg, client: client, log: log}, nil
}

// ReadPlate returns the frame's normalized plate candidate, or "" when
// nothing was recognized. Recognition failures are logged at debug level
// and reported as absence; a noisy frame is not an error.
func (r *PlateReader) ReadPlate(f types.Frame) string {
	img, err := matFromFrame(f)
	if err != nil {
		r.log.Debug("ocr skipping malformed frame", "seq", f.Seq, "error", err)
		return ""
	}
	defer img.Close()

	region := img
	if r.cfg.UseFixedROI {
		roi := r.cfg.ROI.Clamp(f.Width, f.Height)
		if !roi.Valid(f.Width, f.Height) {
			r.log.Debug("ocr roi outside frame, using full frame",
				"seq", f.Seq, "roi", r.cfg.ROI, "width", f.Width, "height", f.Height)
		} else {
			crop := img.Region(image.Rect(roi.X1, roi.Y1, roi.X2, roi.Y2))
			defer crop.Close()
			region = crop
		}
	}

	up := gocv.NewMat()
	defer up.Close()
	gocv.Resize(region, &up, image.Point{}, r.cfg.Upscale, r.cfg.Upscale, gocv.InterpolationCubic)

	binA, binB := binarizeVariants(up)
	defer binA.Close()
	defer binB.Close()

	textA := r.recognize(binA, f.Seq)
	textB := r.recognize(binB, f.Seq)

	return pickLonger(NormalizePlate(textA), NormalizePlate(textB))
}

// Close releases the Tesseract client.
func (r *PlateReader) Close() error {
	return r.client.Close()
}

// binarizeVariants produces the two OCR inputs from a BGR region:
// a sharpened, contrast-normalized OTSU binary and its tonal inverse.
// The caller closes both returned Mats.
func binarizeVariants(src gocv.Mat) (gocv.Mat, gocv.Mat) {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)

	// Unsharp mask: subtract a Gaussian-blurred copy
	blur := gocv.NewMat()
	defer blur.Close()
	gocv.GaussianBlur(gray, &blur, image.Point{}, 1.0, 1.0, gocv.BorderDefault)

	sharp := gocv.NewMat()
	defer sharp.Close()
	gocv.AddWeighted(gray, 1.6, blur, -0.6, 0, &sharp)

	clahe := gocv.NewCLAHEWithParams(2.0, image.Pt(8, 8))
	defer clahe.Close()
	eq := gocv.NewMat()
	defer eq.Close()
	clahe.Apply(sharp, &eq)

	binA := gocv.NewMat()
	gocv.Threshold(eq, &binA, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)

	binB := gocv.NewMat()
	gocv.BitwiseNot(binA, &binB)

	return binA, binB
}

// recognize runs Tesseract on a binarized Mat via a lossless PNG handoff.
func (r *PlateReader) recognize(bin gocv.Mat, seq uint64) string {
	buf, err := gocv.IMEncode(".png", bin)
	if err != nil {
		r.log.Debug("ocr encode failed", "seq", seq, "error", err)
		return ""
	}
	defer buf.Close()

	if err := r.client.SetImageFromBytes(buf.GetBytes()); err != nil {
		r.log.Debug("ocr set image failed", "seq", seq, "error", err)
		return ""
	}
	text, err := r.client.Text()
	if err != nil {
		r.log.Debug("ocr recognition failed", "seq", seq, "error", err)
		return ""
	}
	return text
}
