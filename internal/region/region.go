// Package region produces one live video stream for a selected capture
// region. It hides two backends behind one contract: the native file-based
// capture path when the platform bridge offers one, and a crop-and-repump
// fallback that manually paces frames out of a full-display stream.
package region

import (
	"image"

	"github.com/clipforge/capture/internal/encoding"
)

// AudioSettings is the audio portion of a capture request
type AudioSettings struct {
	Microphone       bool   `json:"microphone"`
	MicrophoneDevice string `json:"microphone_device,omitempty"`
	DesktopAudio     bool   `json:"desktop_audio"`

	// Required makes failure to acquire any requested source fatal to start
	// instead of a logged degradation.
	Required bool `json:"required"`
}

// Enabled reports whether any audio source is requested
func (a AudioSettings) Enabled() bool {
	return a.Microphone || a.DesktopAudio
}

// Area is the capture request: a display region plus quality and audio
// settings. Immutable once a recording session starts.
type Area struct {
	DisplayID   string               `json:"display_id"`
	Rect        image.Rectangle      `json:"rect"` // logical pixels
	ScaleFactor float64              `json:"scale_factor"`
	Quality     encoding.QualityTier `json:"quality"`
	FPS         int                  `json:"fps"`
	Audio       AudioSettings        `json:"audio"`
}

// DeviceRect returns the capture rectangle in device pixels
func (a Area) DeviceRect() image.Rectangle {
	scale := a.ScaleFactor
	if scale <= 0 {
		scale = 1
	}
	return image.Rect(
		int(float64(a.Rect.Min.X)*scale),
		int(float64(a.Rect.Min.Y)*scale),
		int(float64(a.Rect.Max.X)*scale),
		int(float64(a.Rect.Max.Y)*scale),
	)
}

// OutputSize returns the emitted frame size: the device-pixel region size,
// downscaled to the quality tier's target when the region exceeds it. The
// limiting dimension follows from comparing the region aspect ratio to the
// target aspect ratio; aspect is always preserved, and frames are never
// upscaled.
func (a Area) OutputSize() image.Point {
	dev := a.DeviceRect()
	w, h := dev.Dx(), dev.Dy()

	tw, th, ok := a.Quality.TargetSize()
	if !ok || w <= 0 || h <= 0 {
		return image.Pt(w, h)
	}
	if w <= tw && h <= th {
		return image.Pt(w, h)
	}

	regionAspect := float64(w) / float64(h)
	targetAspect := float64(tw) / float64(th)
	if regionAspect > targetAspect {
		// Wider than the target: width limits.
		return image.Pt(tw, round(float64(tw)/regionAspect))
	}
	return image.Pt(round(float64(th)*regionAspect), th)
}

func round(v float64) int {
	return int(v + 0.5)
}

// Backend identifies which capture path a session runs on
type Backend string

const (
	BackendNative   Backend = "native"
	BackendFallback Backend = "fallback"
)
