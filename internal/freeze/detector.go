// Package freeze flags a capture source that has stopped producing new
// pixels. A frozen source keeps delivering byte-identical frames, which the
// rest of the pipeline cannot distinguish from a legitimately static screen
// without counting consecutive repeats.
package freeze

import "image"

const (
	// FireThreshold is the number of consecutive identical digests required
	// before a freeze is confirmed.
	FireThreshold = 10

	// possiblyFrozenAt is the run length at which the caller should stop
	// drawing its liveness marker, so the marker cannot mask the freeze.
	possiblyFrozenAt = 3

	// sampleStride spaces the bytes fed into the digest. Sampling instead of
	// hashing the full buffer keeps Observe cheap enough to run every frame.
	sampleStride = 541
)

// Detector compares successive frame digests and counts identical runs.
// It owns no streams and has no side effects beyond its counters.
type Detector struct {
	prev    uint64
	hasPrev bool
	run     int
}

// NewDetector returns a detector with no observed frames
func NewDetector() *Detector {
	return &Detector{}
}

// Observe digests one frame and reports whether a freeze is confirmed.
// It returns true exactly once per freeze: the run counter resets after
// firing so a still-frozen source does not fire again every frame.
func (d *Detector) Observe(frame *image.RGBA) bool {
	dg := digest(frame.Pix)
	if d.hasPrev && dg == d.prev {
		d.run++
	} else {
		d.run = 0
	}
	d.prev = dg
	d.hasPrev = true

	if d.run >= FireThreshold {
		d.run = 0
		return true
	}
	return false
}

// PossiblyFrozen reports whether the current identical run is long enough
// that deliberate per-frame pixel perturbation should be suppressed.
func (d *Detector) PossiblyFrozen() bool {
	return d.run >= possiblyFrozenAt
}

// Reset clears all state, for use after a successful stream recovery
func (d *Detector) Reset() {
	d.prev = 0
	d.hasPrev = false
	d.run = 0
}

// digest is a sparse FNV-1a over every sampleStride'th byte. Deterministic
// and cheap; not a cryptographic or even full-coverage hash.
func digest(pix []byte) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for i := 0; i < len(pix); i += sampleStride {
		h ^= uint64(pix[i])
		h *= prime64
	}
	return h
}
