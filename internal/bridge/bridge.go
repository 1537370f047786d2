// Package bridge defines the contracts the capture engine requires from the
// platform: source/display enumeration, full-display video streams with
// liveness signals, and the optional native high-level capture path.
//
// The engine is written against these interfaces only; bridge/x11 is the
// reference implementation.
package bridge

import (
	"context"
	"fmt"
	"image"
)

// SourceKind classifies a capture source
type SourceKind string

const (
	SourceScreen SourceKind = "screen"
	SourceWindow SourceKind = "window"
)

// Source is one OS-level capture source (a screen or a window)
type Source struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Kind      SourceKind `json:"kind"`
	DisplayID string     `json:"display_id,omitempty"`
}

// Display is a physical display as reported by the platform
type Display struct {
	ID          string          `json:"id"`
	Bounds      image.Rectangle `json:"bounds"`
	ScaleFactor float64         `json:"scale_factor"`
}

// Bridge enumerates capture sources and acquires display streams.
//
// Both Sources and Displays must return their lists in the platform's native
// enumeration order. Sources at a given screen index correspond to the display
// at the same index; callers index-match the two lists and must never sort them.
type Bridge interface {
	Sources(ctx context.Context) ([]Source, error)
	Displays(ctx context.Context) ([]Display, error)

	// AcquireDisplayStream opens a live full-display video stream for a
	// screen-class source. The caller owns the stream and must Stop it.
	AcquireDisplayStream(ctx context.Context, sourceID string) (DisplayStream, error)
}

// DisplayStream is a live full-display video stream.
//
// Stop must be idempotent: a stream may be stopped both by recovery swaps and
// by final teardown.
type DisplayStream interface {
	// Frame returns the most recent frame and whether it is fresh, i.e. the
	// source has produced new pixels since the previous Frame call.
	Frame() (*image.RGBA, bool, error)

	// Inactive is closed when the stream as a whole goes inactive.
	Inactive() <-chan struct{}

	// TrackEnded is closed when any constituent track ends.
	TrackEnded() <-chan struct{}

	Stop()
}

// NativeConfig configures a native high-level capture session
type NativeConfig struct {
	DisplayID string
	// Region is the capture rectangle in device pixels.
	Region    image.Rectangle
	FrameRate int
	// OutputPath is the destination file the native layer writes to.
	OutputPath string
}

// NativeResult is the terminal completion event of a native session
type NativeResult struct {
	FilePath string
	Err      error
}

// NativeCapturer is implemented by bridges that offer a file-based,
// high-fidelity capture path. When present it is preferred over the
// frame-pump fallback.
type NativeCapturer interface {
	StartNativeCapture(ctx context.Context, cfg NativeConfig) (NativeSession, error)
}

// NativeSession is a running native capture session. Stop acknowledges the
// stop command; the final file path arrives on Done afterwards.
type NativeSession interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	Done() <-chan NativeResult
}

// ResolveDisplaySource resolves which screen-class source currently
// corresponds to displayID using enumeration-order index matching: the Nth
// display maps to the Nth screen source. Both lists are consumed in the order
// the bridge produced them.
func ResolveDisplaySource(sources []Source, displays []Display, displayID string) (Source, error) {
	displayIdx := -1
	for i, d := range displays {
		if d.ID == displayID {
			displayIdx = i
			break
		}
	}
	if displayIdx < 0 {
		return Source{}, fmt.Errorf("display %q not found", displayID)
	}

	screenIdx := 0
	for _, s := range sources {
		if s.Kind != SourceScreen {
			continue
		}
		if screenIdx == displayIdx {
			return s, nil
		}
		screenIdx++
	}
	return Source{}, fmt.Errorf("no screen source at index %d for display %q", displayIdx, displayID)
}

// CountWindows returns the number of window-class sources in the list
func CountWindows(sources []Source) int {
	n := 0
	for _, s := range sources {
		if s.Kind == SourceWindow {
			n++
		}
	}
	return n
}
