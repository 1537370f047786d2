package recorder

import (
	"github.com/clipforge/capture/internal/encoding"
	"github.com/clipforge/capture/internal/media"
	"github.com/clipforge/capture/internal/region"
)

// State is the controller lifecycle state
type State string

const (
	StateIdle      State = "idle"
	StateAcquiring State = "acquiring"
	StateRecording State = "recording"
	StatePaused    State = "paused"
	StateStopping  State = "stopping"
	StateError     State = "error"
)

// PauseSource identifies who initiated the current pause. A manual pause
// dominates a marking pause: marking-driven resumes never release it.
type PauseSource string

const (
	PauseNone    PauseSource = "none"
	PauseManual  PauseSource = "manual"
	PauseMarking PauseSource = "marking"
)

// Mark is a completed annotation interval in whole seconds relative to
// session start. Immutable once completed.
type Mark struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Note  string `json:"note,omitempty"`
}

// Artifact is the finished recording returned by Stop. Exactly one of Blob
// or FilePath is populated, selected by which backend ran.
type Artifact struct {
	Blob     *media.Blob
	FilePath string

	DurationMs int64
	Marks      []Mark

	AudioBlob *media.Blob
	// AudioConfig is set whenever an audio track was recorded.
	AudioConfig *encoding.AudioConfig
	// AudioOffsetMs is the delta between video start and audio-recorder
	// start, needed by downstream muxing to align the tracks.
	AudioOffsetMs int64
}

// Snapshot is a read-only view of the controller for UIs and the debug API
type Snapshot struct {
	State       State          `json:"state"`
	SessionID   string         `json:"session_id,omitempty"`
	Backend     region.Backend `json:"backend,omitempty"`
	Codec       string         `json:"codec,omitempty"`
	ElapsedMs   int64          `json:"elapsed_ms"`
	PauseSource PauseSource    `json:"pause_source,omitempty"`
	Marks       []Mark         `json:"marks,omitempty"`
	PendingMark *Mark          `json:"pending_mark,omitempty"`
	Error       string         `json:"error,omitempty"`
}
