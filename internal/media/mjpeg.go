package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/clipforge/capture/internal/logger"
)

// MIMEMotionJPEG is the container type produced by MJPEGRecorder
const MIMEMotionJPEG = "video/x-motion-jpeg"

// MJPEGRecorder encodes pushed frames as a Motion JPEG blob. It is the
// reference Recorder implementation: universally decodable, no native
// encoder dependencies, frame-exact.
type MJPEGRecorder struct {
	mu      sync.Mutex
	state   RecorderState
	buf     bytes.Buffer
	quality int

	frameCount uint64
	startTime  time.Time
}

// NewMJPEGRecorder creates an inactive recorder. quality is the JPEG quality
// (1-100); zero selects the default of 90.
func NewMJPEGRecorder(quality int) *MJPEGRecorder {
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	return &MJPEGRecorder{
		state:   RecorderInactive,
		quality: quality,
	}
}

// Start begins accepting frames
func (r *MJPEGRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != RecorderInactive {
		return errState("start", r.state)
	}
	r.state = RecorderRecording
	r.startTime = time.Now()
	r.frameCount = 0
	r.buf.Reset()

	logger.WithComponent("mjpeg-recorder").Debug().Int("quality", r.quality).Msg("MJPEG recorder started")
	return nil
}

// Pause suspends encoding; frames written while paused are dropped
func (r *MJPEGRecorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RecorderRecording {
		return errState("pause", r.state)
	}
	r.state = RecorderPaused
	return nil
}

// Resume continues encoding after a pause
func (r *MJPEGRecorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RecorderPaused {
		return errState("resume", r.state)
	}
	r.state = RecorderRecording
	return nil
}

// WriteFrame encodes one frame into the blob. Frames arriving while paused
// or inactive are silently dropped, matching pause semantics where the pump
// keeps running but nothing is recorded.
func (r *MJPEGRecorder) WriteFrame(frame *image.RGBA) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != RecorderRecording {
		return nil
	}

	var jpg bytes.Buffer
	if err := jpeg.Encode(&jpg, frame, &jpeg.Options{Quality: r.quality}); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}

	fmt.Fprintf(&r.buf, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", jpg.Len())
	r.buf.Write(jpg.Bytes())
	r.buf.WriteString("\r\n")
	r.frameCount++
	return nil
}

// Stop finalizes and returns the blob
func (r *MJPEGRecorder) Stop(ctx context.Context) (*Blob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == RecorderInactive {
		return nil, errState("stop", r.state)
	}
	r.state = RecorderInactive

	logger.WithComponent("mjpeg-recorder").Debug().
		Uint64("frames", r.frameCount).
		Int("bytes", r.buf.Len()).
		Dur("elapsed", time.Since(r.startTime)).
		Msg("MJPEG recorder stopped")

	data := make([]byte, r.buf.Len())
	copy(data, r.buf.Bytes())
	r.buf.Reset()
	return &Blob{Data: data, MIME: MIMEMotionJPEG}, nil
}

// State returns the recorder lifecycle state
func (r *MJPEGRecorder) State() RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// MIME returns the container type
func (r *MJPEGRecorder) MIME() string {
	return MIMEMotionJPEG
}

// FrameCount returns the number of frames encoded so far
func (r *MJPEGRecorder) FrameCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frameCount
}
