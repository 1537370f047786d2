// Package media defines the in-process media recorder consumed by the
// fallback capture backend, the finished-artifact blob type, and the WebM
// duration-metadata repair applied to recorder output.
package media

import (
	"context"
	"fmt"
	"image"
)

// Blob is a finished in-memory media artifact
type Blob struct {
	Data []byte
	MIME string
}

// RecorderState mirrors the media-recorder lifecycle
type RecorderState string

const (
	RecorderInactive  RecorderState = "inactive"
	RecorderRecording RecorderState = "recording"
	RecorderPaused    RecorderState = "paused"
)

// Recorder consumes frames and produces a finished Blob on Stop.
//
// WriteFrame is the explicit "encode one frame" request: recorders must not
// capture passively, the pump pushes every frame it wants encoded.
type Recorder interface {
	Start() error
	Pause() error
	Resume() error
	WriteFrame(frame *image.RGBA) error
	Stop(ctx context.Context) (*Blob, error)
	State() RecorderState
	MIME() string
}

// RecorderFactory builds a recorder for a negotiated mime type and target
// video bitrate
type RecorderFactory func(mime string, videoBitrate int) (Recorder, error)

func errState(op string, state RecorderState) error {
	return fmt.Errorf("recorder: cannot %s while %s", op, state)
}
