// Package capture provides pull-based frame sources for the pipeline.
//
// Unlike a push model where the source fans frames out on a channel, the
// pipeline here owns the read cadence: it flushes queued frames it does
// not want, then reads exactly one. Camera wraps an OpenCV VideoCapture
// over the local MJPEG relay; Mock produces synthetic frames for
// development without a camera.
package capture
