package analysis

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/BorikGor/ESEProject/internal/types"
)

// matFromFrame reconstructs a BGR Mat from a frame's raw bytes.
// The caller must close the returned Mat.
func matFromFrame(f types.Frame) (gocv.Mat, error) {
	want := f.Width * f.Height * 3
	if f.Width <= 0 || f.Height <= 0 || len(f.Data) != want {
		return gocv.Mat{}, fmt.Errorf("analysis: frame %d has %d bytes, want %dx%dx3=%d",
			f.Seq, len(f.Data), f.Width, f.Height, want)
	}
	return gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Data)
}
