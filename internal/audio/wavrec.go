package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/clipforge/capture/internal/logger"
	"github.com/clipforge/capture/internal/media"
)

// MIMEWav is the container type produced by WAVRecorder
const MIMEWav = "audio/wav"

// WAVRecorder drains a Stream into memory and finalizes it as a WAV blob.
// Pause drops incoming samples, mirroring the video recorder's pause
// semantics so the two tracks stay aligned.
type WAVRecorder struct {
	mu        sync.Mutex
	state     media.RecorderState
	stream    *Stream
	samples   []int
	startedAt time.Time

	done      chan struct{}
	drainDone chan struct{}
}

// NewWAVRecorder wraps a stream; Start begins draining it
func NewWAVRecorder(stream *Stream) *WAVRecorder {
	return &WAVRecorder{
		state:  media.RecorderInactive,
		stream: stream,
	}
}

// Start begins collecting samples and records the start instant, which the
// controller uses to compute the audio/video track offset.
func (r *WAVRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != media.RecorderInactive {
		return fmt.Errorf("wav recorder: already started")
	}
	r.state = media.RecorderRecording
	r.startedAt = time.Now()
	r.done = make(chan struct{})
	r.drainDone = make(chan struct{})
	go r.drain()
	return nil
}

func (r *WAVRecorder) drain() {
	defer close(r.drainDone)
	for {
		select {
		case <-r.done:
			return
		case pcm, ok := <-r.stream.Samples:
			if !ok {
				return
			}
			r.mu.Lock()
			if r.state == media.RecorderRecording {
				for _, s := range pcm {
					r.samples = append(r.samples, int(s))
				}
			}
			r.mu.Unlock()
		}
	}
}

// Pause stops collecting; samples arriving while paused are discarded
func (r *WAVRecorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != media.RecorderRecording {
		return fmt.Errorf("wav recorder: cannot pause while %s", r.state)
	}
	r.state = media.RecorderPaused
	return nil
}

// Resume continues collecting
func (r *WAVRecorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != media.RecorderPaused {
		return fmt.Errorf("wav recorder: cannot resume while %s", r.state)
	}
	r.state = media.RecorderRecording
	return nil
}

// Stop finalizes the recording and returns the WAV blob
func (r *WAVRecorder) Stop(ctx context.Context) (*media.Blob, error) {
	r.mu.Lock()
	if r.state == media.RecorderInactive {
		r.mu.Unlock()
		return nil, fmt.Errorf("wav recorder: not started")
	}
	r.state = media.RecorderInactive
	close(r.done)
	r.mu.Unlock()

	select {
	case <-r.drainDone:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ws := &memWriteSeeker{}
	enc := wav.NewEncoder(ws, r.stream.SampleRate, 16, r.stream.Channels, 1)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: r.stream.Channels,
			SampleRate:  r.stream.SampleRate,
		},
		Data:           r.samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("failed to encode WAV: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize WAV: %w", err)
	}

	logger.WithComponent("wav-recorder").Debug().
		Int("samples", len(r.samples)).
		Int("bytes", len(ws.buf)).
		Msg("Audio recording finalized")

	return &media.Blob{Data: ws.buf, MIME: MIMEWav}, nil
}

// State returns the recorder lifecycle state
func (r *WAVRecorder) State() media.RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// StartedAt returns the instant Start was called
func (r *WAVRecorder) StartedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startedAt
}

// memWriteSeeker is the in-memory io.WriteSeeker the WAV encoder needs to
// back-patch its header.
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	if need := m.pos + len(p); need > len(m.buf) {
		grown := make([]byte, need)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[m.pos:], p)
	m.pos += len(p)
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int
	switch whence {
	case io.SeekStart:
		next = int(offset)
	case io.SeekCurrent:
		next = m.pos + int(offset)
	case io.SeekEnd:
		next = len(m.buf) + int(offset)
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative seek position %d", next)
	}
	m.pos = next
	return int64(next), nil
}
