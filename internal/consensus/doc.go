// Package consensus turns noisy per-frame recognition samples into a stable
// result via a sliding-window majority vote.
//
// # Overview
//
// Single-frame OCR output is unreliable: segmentation errors, motion blur and
// partial occlusion produce different strings from frame to frame. The Window
// keeps the last History accepted samples (FIFO, oldest evicted first) and
// reports a stable value only once the most frequent sample has been seen at
// least Required times:
//
//	win, _ := consensus.New(consensus.DefaultConfig())
//	win.Offer("AB1234")
//	// ...
//	if plate, ok := win.Stable(); ok {
//	    fmt.Println("stable:", plate)
//	}
//
// The stability/lag tradeoff is governed by History and Required: a larger
// window with a higher threshold changes later but more trustworthily.
//
// # Ownership
//
// A Window is owned by exactly one pipeline goroutine. It is intentionally
// unsynchronized; samples must be offered in frame arrival order.
package consensus
