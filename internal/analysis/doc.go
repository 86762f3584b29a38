// Package analysis implements the per-frame image processing: motion-blob
// extraction, OCR plate-candidate extraction, and annotated-view rendering.
// "Nothing detected this frame" is a normal outcome for every variant, never
// an error.
package analysis
