// Package recorder orchestrates one recording session end to end: backend
// selection, the pause/resume state machine, millisecond-exact duration
// accounting, duration marks, audio capture, and artifact finalization.
package recorder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clipforge/capture/internal/audio"
	"github.com/clipforge/capture/internal/bridge"
	"github.com/clipforge/capture/internal/encoding"
	"github.com/clipforge/capture/internal/logger"
	"github.com/clipforge/capture/internal/media"
	"github.com/clipforge/capture/internal/region"
	"github.com/clipforge/capture/internal/timeline"
	"github.com/clipforge/capture/internal/tracker"
)

// AudioProvider builds capture streams for the optional audio track.
// *audio.Mixer satisfies it.
type AudioProvider interface {
	CreateMicrophoneStream(deviceID string, channels int) (*audio.Stream, error)
	CreateDesktopAudioStream(channels int) (*audio.Stream, error)
}

// nativeSession and fallbackSession are the two mutually exclusive backend
// holders. The controller stores exactly one of them per session, so
// continuing a native session down the fallback path (or vice versa) is
// impossible rather than merely checked.
type nativeSession struct {
	sess bridge.NativeSession
}

type fallbackSession struct {
	handle   *region.Handle
	recorder media.Recorder
	tracker  *tracker.Tracker
	feedDone chan struct{}
}

// Options configures a Controller. Zero values select defaults.
type Options struct {
	// RecorderFactory builds the fallback-path media recorder. Defaults to
	// the built-in MJPEG recorder.
	RecorderFactory media.RecorderFactory

	// Audio supplies microphone and desktop capture streams. Nil disables
	// audio; a session that requires audio then fails to start.
	Audio AudioProvider

	// Sink receives debug timeline events. Defaults to timeline.NopSink.
	Sink timeline.Sink

	// SupportedMIME probes recorder support during codec selection.
	SupportedMIME func(mime string) bool

	// BitsPerPixel is the bitrate quality dial. Defaults to the balanced
	// preset.
	BitsPerPixel float64

	// OnTick, when set, receives the pause-aware elapsed time while
	// recording. UI-facing only.
	OnTick       func(elapsedMs int64)
	TickInterval time.Duration

	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

// Controller is the top-level recording state machine. One session at a
// time; all OS-level resources of the session are exclusively owned here.
type Controller struct {
	regions *region.Manager
	opts    Options
	now     func() time.Time

	mu            sync.Mutex
	state         State
	err           error
	sessionID     string
	area          region.Area
	codec         encoding.Codec
	backendKind   region.Backend
	native        *nativeSession
	fallback      *fallbackSession
	sessionStart  time.Time
	videoStart    time.Time
	accumulatedMs int64
	segmentStart  time.Time
	pauseSource   PauseSource
	pauseInFlight bool
	resumeInFl    bool
	pendingMark   *Mark
	marks         []Mark
	audioRec      *audio.WAVRecorder
	audioCleanup  func()
	audioCfg      encoding.AudioConfig
	tickStop      chan struct{}
	seq           uint64
}

// New creates an idle controller on the given region manager
func New(regions *region.Manager, opts Options) *Controller {
	if opts.RecorderFactory == nil {
		opts.RecorderFactory = func(string, int) (media.Recorder, error) {
			return media.NewMJPEGRecorder(0), nil
		}
	}
	if opts.Sink == nil {
		opts.Sink = timeline.NopSink{}
	}
	if opts.BitsPerPixel <= 0 {
		opts.BitsPerPixel = encoding.BitsPerPixelBalanced
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 100 * time.Millisecond
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Controller{
		regions: regions,
		opts:    opts,
		now:     now,
		state:   StateIdle,
	}
}

// Start acquires the capture backend and begins recording. Acquisition
// failures transition to the error state and are returned; they are never
// silently retried.
func (c *Controller) Start(ctx context.Context, area region.Area, outputPath string) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("cannot start recording from state %q", c.state)
	}
	c.state = StateAcquiring
	c.sessionID = uuid.NewString()
	c.area = area
	c.sessionStart = c.now()
	c.codec = encoding.SelectCodec(area.FPS, c.opts.SupportedMIME)
	c.audioCfg = encoding.AudioConfigFor(area.Quality)
	c.mu.Unlock()

	log := logger.WithSession("recording-controller", c.sessionID)
	c.emit("session-start", map[string]any{
		"display_id": area.DisplayID,
		"fps":        area.FPS,
		"quality":    string(area.Quality),
		"codec":      c.codec.Name,
	})

	// Audio is acquired before video so a required-audio failure aborts
	// before anything visible commits.
	audioRec, audioCleanup, err := c.acquireAudio(area)
	if err != nil {
		c.fail(fmt.Errorf("audio acquisition failed: %w", err))
		return err
	}

	acq, err := c.regions.Acquire(ctx, area, outputPath)
	if err != nil {
		if audioCleanup != nil {
			audioCleanup()
		}
		err = fmt.Errorf("capture acquisition failed: %w", err)
		c.fail(err)
		return err
	}

	var (
		native   *nativeSession
		fallback *fallbackSession
	)
	switch acq.Backend {
	case region.BackendNative:
		native = &nativeSession{sess: acq.Native}
	default:
		fallback, err = c.buildFallback(acq.Stream, area)
		if err != nil {
			acq.Stream.Cleanup()
			if audioCleanup != nil {
				audioCleanup()
			}
			c.fail(err)
			return err
		}
	}

	if audioRec != nil {
		if err := audioRec.Start(); err != nil {
			log.Warn().Err(err).Msg("Audio recorder failed to start, continuing without audio")
			c.emit("audio-degraded", map[string]any{"error": err.Error()})
			audioCleanup()
			audioRec, audioCleanup = nil, nil
			if area.Audio.Required {
				c.teardownBackend(native, fallback)
				err = fmt.Errorf("required audio recorder failed to start: %w", err)
				c.fail(err)
				return err
			}
		}
	}

	c.mu.Lock()
	c.native = native
	c.fallback = fallback
	c.backendKind = acq.Backend
	c.audioRec = audioRec
	c.audioCleanup = audioCleanup
	c.accumulatedMs = 0
	now := c.now()
	c.videoStart = now
	c.segmentStart = now
	c.pauseSource = PauseNone
	c.state = StateRecording
	c.tickStop = make(chan struct{})
	go c.runTick(c.tickStop)
	c.mu.Unlock()

	log.Info().
		Str("backend", string(acq.Backend)).
		Str("codec", c.codec.Name).
		Msg("Recording started")
	c.emit("recording-started", map[string]any{
		"backend": string(acq.Backend),
		"audio":   audioRec != nil,
	})
	return nil
}

// buildFallback wires the crop-and-repump stream to a media recorder and an
// active-source tracker.
func (c *Controller) buildFallback(h *region.Handle, area region.Area) (*fallbackSession, error) {
	size := h.OutputSize()
	bitrate := encoding.Bitrate(size.X, size.Y, area.FPS, c.opts.BitsPerPixel)

	rec, err := c.opts.RecorderFactory(c.codec.MIME, bitrate)
	if err != nil {
		return nil, fmt.Errorf("failed to create media recorder: %w", err)
	}
	if err := rec.Start(); err != nil {
		return nil, fmt.Errorf("failed to start media recorder: %w", err)
	}

	log := logger.WithSession("recording-controller", c.sessionID)
	log.Info().
		Int("width", size.X).
		Int("height", size.Y).
		Int("video_bitrate", bitrate).
		Msg("Fallback recorder configured")

	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		for frame := range h.Frames() {
			if err := rec.WriteFrame(frame); err != nil {
				log.Debug().Err(err).Msg("Frame write rejected")
			}
		}
	}()

	tr := tracker.New(c.regions.Bridge(), tracker.Config{DisplayID: area.DisplayID},
		func(sourceID, displayID string, force bool) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := h.UpdateSource(ctx, sourceID, force); err != nil {
				log.Warn().Err(err).Str("source_id", sourceID).Msg("Source switch failed")
				return
			}
			c.emit("source-switch", map[string]any{
				"source_id":  sourceID,
				"display_id": displayID,
				"force":      force,
			})
		})
	tr.Start()

	return &fallbackSession{handle: h, recorder: rec, tracker: tr, feedDone: feedDone}, nil
}

// acquireAudio builds the requested audio streams and a WAV recorder over
// them. Soft failures degrade to a video-only session unless the request
// marked audio as required.
func (c *Controller) acquireAudio(area region.Area) (*audio.WAVRecorder, func(), error) {
	settings := area.Audio
	if !settings.Enabled() {
		return nil, nil, nil
	}
	log := logger.WithSession("recording-controller", c.sessionID)
	if c.opts.Audio == nil {
		if settings.Required {
			return nil, nil, fmt.Errorf("audio required but no audio provider is configured")
		}
		log.Warn().Msg("Audio requested but no provider configured, continuing without audio")
		return nil, nil, nil
	}

	channels := c.audioCfg.Channels
	var streams []*audio.Stream

	if settings.Microphone {
		s, err := c.opts.Audio.CreateMicrophoneStream(settings.MicrophoneDevice, channels)
		if err != nil {
			if settings.Required {
				return nil, nil, fmt.Errorf("microphone unavailable: %w", err)
			}
			log.Warn().Err(err).Msg("Microphone unavailable, continuing without it")
			c.emit("audio-degraded", map[string]any{"source": "microphone", "error": err.Error()})
		} else {
			streams = append(streams, s)
		}
	}
	if settings.DesktopAudio {
		s, err := c.opts.Audio.CreateDesktopAudioStream(channels)
		if err != nil {
			if settings.Required {
				cleanupStreams(streams)
				return nil, nil, fmt.Errorf("desktop audio unavailable: %w", err)
			}
			log.Warn().Err(err).Msg("Desktop audio unavailable, continuing without it")
			c.emit("audio-degraded", map[string]any{"source": "desktop", "error": err.Error()})
		} else {
			streams = append(streams, s)
		}
	}

	if len(streams) == 0 {
		if settings.Required {
			return nil, nil, fmt.Errorf("no requested audio source could be acquired")
		}
		return nil, nil, nil
	}

	recStream := streams[0]
	cleanup := func() { cleanupStreams(streams) }
	if len(streams) > 1 {
		combined, combCleanup, err := audio.CombineStreams(streams...)
		if err != nil {
			if settings.Required {
				cleanupStreams(streams)
				return nil, nil, fmt.Errorf("failed to combine audio streams: %w", err)
			}
			log.Warn().Err(err).Msg("Audio combine failed, recording first source only")
		} else {
			recStream = combined
			cleanup = func() {
				combCleanup()
				cleanupStreams(streams)
			}
		}
	}

	return audio.NewWAVRecorder(recStream), cleanup, nil
}

func cleanupStreams(streams []*audio.Stream) {
	for _, s := range streams {
		s.Cleanup()
	}
}

// Pause pauses the session. A no-op when not recording or when another
// pause is in flight. When already paused, a manual request upgrades the
// recorded pause source without re-issuing the backend command.
func (c *Controller) Pause(ctx context.Context, source PauseSource, origin string) error {
	c.mu.Lock()
	if c.state == StatePaused {
		if source == PauseManual && c.pauseSource != PauseManual {
			c.pauseSource = PauseManual
			c.mu.Unlock()
			c.emit("pause-upgraded", map[string]any{"origin": origin})
			return nil
		}
		c.mu.Unlock()
		return nil
	}
	if c.state != StateRecording || c.pauseInFlight {
		c.mu.Unlock()
		return nil
	}
	c.pauseInFlight = true
	native, fallback := c.native, c.fallback
	audioRec := c.audioRec
	c.mu.Unlock()

	var err error
	if native != nil {
		err = native.sess.Pause(ctx)
	} else if fallback != nil {
		err = fallback.recorder.Pause()
	}
	if err != nil {
		c.mu.Lock()
		c.pauseInFlight = false
		c.mu.Unlock()
		return fmt.Errorf("pause failed: %w", err)
	}

	// Video pause is the pause of record; an audio pause failure is logged
	// and absorbed.
	if audioRec != nil && audioRec.State() == media.RecorderRecording {
		if aerr := audioRec.Pause(); aerr != nil {
			logger.WithSession("recording-controller", c.SessionID()).
				Warn().Err(aerr).Msg("Audio pause failed")
		}
	}

	c.mu.Lock()
	if c.state != StateRecording || c.native != native || c.fallback != fallback {
		// Stop or Reset ran to completion while the backend command was in
		// flight. The terminal transition wins; the late pause is abandoned.
		c.pauseInFlight = false
		c.mu.Unlock()
		return nil
	}
	c.accumulatedMs += c.now().Sub(c.segmentStart).Milliseconds()
	c.state = StatePaused
	c.pauseSource = source
	c.pauseInFlight = false
	elapsed := c.accumulatedMs
	c.mu.Unlock()

	c.emit("paused", map[string]any{
		"source":     string(source),
		"origin":     origin,
		"elapsed_ms": elapsed,
	})
	return nil
}

// Resume restarts a paused session. A no-op when not paused or when another
// resume is in flight.
func (c *Controller) Resume(ctx context.Context, origin string) error {
	c.mu.Lock()
	if c.state != StatePaused || c.resumeInFl {
		c.mu.Unlock()
		return nil
	}
	c.resumeInFl = true
	native, fallback := c.native, c.fallback
	audioRec := c.audioRec
	c.mu.Unlock()

	var err error
	if native != nil {
		err = native.sess.Resume(ctx)
	} else if fallback != nil {
		err = fallback.recorder.Resume()
	}
	if err != nil {
		c.mu.Lock()
		c.resumeInFl = false
		c.mu.Unlock()
		return fmt.Errorf("resume failed: %w", err)
	}

	if audioRec != nil && audioRec.State() == media.RecorderPaused {
		if aerr := audioRec.Resume(); aerr != nil {
			logger.WithSession("recording-controller", c.SessionID()).
				Warn().Err(aerr).Msg("Audio resume failed")
		}
	}

	c.mu.Lock()
	if c.state != StatePaused || c.native != native || c.fallback != fallback {
		c.resumeInFl = false
		c.mu.Unlock()
		return nil
	}
	c.segmentStart = c.now()
	c.state = StateRecording
	c.pauseSource = PauseNone
	c.resumeInFl = false
	c.mu.Unlock()

	c.emit("resumed", map[string]any{"origin": origin})
	return nil
}

// PauseForMarking pauses with the marking source, but never overrides an
// existing pause.
func (c *Controller) PauseForMarking(ctx context.Context) error {
	c.mu.Lock()
	paused := c.state == StatePaused
	c.mu.Unlock()
	if paused {
		return nil
	}
	return c.Pause(ctx, PauseMarking, "marking")
}

// ResumeFromMarking resumes only when the recorded pause source is exactly
// marking. A manual pause is never released here.
func (c *Controller) ResumeFromMarking(ctx context.Context) error {
	c.mu.Lock()
	releasable := c.state == StatePaused && c.pauseSource == PauseMarking
	c.mu.Unlock()
	if !releasable {
		return nil
	}
	return c.Resume(ctx, "marking")
}

// ToggleMark begins a pending mark at the current pause-aware elapsed time,
// or completes the pending one. A completed mark with end <= start is
// discarded.
func (c *Controller) ToggleMark(note string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRecording && c.state != StatePaused {
		return
	}
	sec := int(c.elapsedLocked() / 1000)

	if c.pendingMark == nil {
		c.pendingMark = &Mark{Start: sec, Note: note}
		c.emitLocked("mark-start", map[string]any{"start": sec})
		return
	}
	c.completeMarkLocked(sec, note)
}

// completeMarkLocked closes the pending mark at end seconds, applying the
// non-positive-length discard rule. Caller holds c.mu.
func (c *Controller) completeMarkLocked(end int, note string) {
	m := *c.pendingMark
	c.pendingMark = nil
	if end <= m.Start {
		c.emitLocked("mark-discarded", map[string]any{"start": m.Start, "end": end})
		return
	}
	m.End = end
	if note != "" {
		m.Note = note
	}
	c.marks = append(c.marks, m)
	c.emitLocked("mark-end", map[string]any{"start": m.Start, "end": m.End})
}

// Stop finalizes the session and returns the artifact. It is run to
// completion and expected at most once per session; once the controller is
// back to idle, further calls are no-ops returning a nil artifact.
func (c *Controller) Stop(ctx context.Context) (*Artifact, error) {
	c.mu.Lock()
	if c.state != StateRecording && c.state != StatePaused {
		c.mu.Unlock()
		return nil, nil
	}
	if c.state == StateRecording {
		c.accumulatedMs += c.now().Sub(c.segmentStart).Milliseconds()
	}
	c.state = StateStopping
	durationMs := c.accumulatedMs
	if c.pendingMark != nil {
		c.completeMarkLocked(int(durationMs/1000), "")
	}
	if c.tickStop != nil {
		close(c.tickStop)
		c.tickStop = nil
	}
	native, fallback := c.native, c.fallback
	audioRec := c.audioRec
	audioCleanup := c.audioCleanup
	videoStart := c.videoStart
	marks := append([]Mark(nil), c.marks...)
	c.mu.Unlock()

	log := logger.WithSession("recording-controller", c.SessionID())
	if durationMs < 1000 {
		// Likely a premature-stop defect in the surrounding system.
		log.Warn().Int64("duration_ms", durationMs).Msg("Recording shorter than one second")
	}

	artifact := &Artifact{DurationMs: durationMs, Marks: marks}

	var finalErr error
	if native != nil {
		finalErr = c.stopNative(ctx, native, artifact)
	} else if fallback != nil {
		finalErr = c.stopFallback(ctx, fallback, artifact)
	}

	// Audio is finalized and released before anything that could invalidate
	// the video artifact path is touched further.
	if audioRec != nil {
		if blob, err := audioRec.Stop(ctx); err != nil {
			log.Warn().Err(err).Msg("Audio finalization failed, artifact has no audio track")
		} else {
			cfg := c.audioCfg
			artifact.AudioBlob = blob
			artifact.AudioConfig = &cfg
			artifact.AudioOffsetMs = audioRec.StartedAt().Sub(videoStart).Milliseconds()
		}
	}
	if audioCleanup != nil {
		audioCleanup()
	}

	if finalErr != nil {
		c.fail(finalErr)
		return nil, finalErr
	}

	c.mu.Lock()
	c.clearSessionLocked()
	c.mu.Unlock()

	log.Info().Int64("duration_ms", durationMs).Msg("Recording stopped")
	c.emit("session-stopped", map[string]any{"duration_ms": durationMs})
	return artifact, nil
}

// stopNative stops the native capture and awaits its completion callback.
// The completion must be acknowledged before the file path is trusted.
func (c *Controller) stopNative(ctx context.Context, ns *nativeSession, artifact *Artifact) error {
	if err := ns.sess.Stop(ctx); err != nil {
		return fmt.Errorf("native capture stop failed: %w", err)
	}
	select {
	case res := <-ns.sess.Done():
		if res.Err != nil {
			return fmt.Errorf("native capture completion failed: %w", res.Err)
		}
		artifact.FilePath = res.FilePath
		return nil
	case <-ctx.Done():
		return fmt.Errorf("native capture completion not acknowledged: %w", ctx.Err())
	}
}

// stopFallback stops the media recorder, repairs the container duration
// header, and releases the stream and tracker.
func (c *Controller) stopFallback(ctx context.Context, fb *fallbackSession, artifact *Artifact) error {
	blob, err := fb.recorder.Stop(ctx)

	fb.tracker.Stop()
	fb.handle.Cleanup()
	<-fb.feedDone

	if err != nil {
		return fmt.Errorf("media recorder stop failed: %w", err)
	}

	// Recorder-produced WebM lacks a readable duration header, which breaks
	// seeking downstream. The repair is mandatory post-processing.
	if perr := media.PatchDuration(blob, time.Duration(artifact.DurationMs)*time.Millisecond); perr != nil {
		logger.WithSession("recording-controller", c.SessionID()).
			Warn().Err(perr).Msg("Duration header repair failed")
	}
	artifact.Blob = blob
	return nil
}

// Reset hard-tears-down from any state, including error and mid-stop, and
// returns the controller to idle. Stream and track stops are idempotent, so
// discarding without graceful acknowledgment is safe.
func (c *Controller) Reset() {
	c.mu.Lock()
	native, fallback := c.native, c.fallback
	audioRec := c.audioRec
	audioCleanup := c.audioCleanup
	if c.tickStop != nil {
		close(c.tickStop)
		c.tickStop = nil
	}
	c.clearSessionLocked()
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if native != nil {
		if err := native.sess.Stop(ctx); err != nil {
			logger.WithComponent("recording-controller").Debug().Err(err).Msg("Reset: native stop failed")
		}
	}
	if fallback != nil {
		if fallback.recorder.State() != media.RecorderInactive {
			if _, err := fallback.recorder.Stop(ctx); err != nil {
				logger.WithComponent("recording-controller").Debug().Err(err).Msg("Reset: recorder stop failed")
			}
		}
		fallback.tracker.Stop()
		fallback.handle.Cleanup()
	}
	if audioRec != nil && audioRec.State() != media.RecorderInactive {
		if _, err := audioRec.Stop(ctx); err != nil {
			logger.WithComponent("recording-controller").Debug().Err(err).Msg("Reset: audio stop failed")
		}
	}
	if audioCleanup != nil {
		audioCleanup()
	}
}

// clearSessionLocked returns every session field to its idle zero value.
// Caller holds c.mu.
func (c *Controller) clearSessionLocked() {
	c.state = StateIdle
	c.err = nil
	c.native = nil
	c.fallback = nil
	c.backendKind = ""
	c.audioRec = nil
	c.audioCleanup = nil
	c.pauseSource = PauseNone
	c.pauseInFlight = false
	c.resumeInFl = false
	c.accumulatedMs = 0
	c.pendingMark = nil
	c.marks = nil
}

// Elapsed returns the pause-aware elapsed time in milliseconds
func (c *Controller) Elapsed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsedLocked()
}

func (c *Controller) elapsedLocked() int64 {
	if c.state == StateRecording {
		return c.accumulatedMs + c.now().Sub(c.segmentStart).Milliseconds()
	}
	return c.accumulatedMs
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the debug session id of the current or last session
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Marks returns the completed marks of the current session
func (c *Controller) Marks() []Mark {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Mark(nil), c.marks...)
}

// Snapshot returns a read-only view of the controller
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		State:       c.state,
		SessionID:   c.sessionID,
		Backend:     c.backendKind,
		Codec:       c.codec.Name,
		ElapsedMs:   c.elapsedLocked(),
		PauseSource: c.pauseSource,
		Marks:       append([]Mark(nil), c.marks...),
	}
	if c.pendingMark != nil {
		m := *c.pendingMark
		snap.PendingMark = &m
	}
	if c.err != nil {
		snap.Error = c.err.Error()
	}
	if c.state == StateIdle {
		snap.Codec = ""
	}
	return snap
}

// fail transitions to the error state with a descriptive cause
func (c *Controller) fail(err error) {
	c.mu.Lock()
	c.state = StateError
	c.err = err
	if c.tickStop != nil {
		close(c.tickStop)
		c.tickStop = nil
	}
	c.mu.Unlock()

	logger.WithSession("recording-controller", c.SessionID()).Error().Err(err).Msg("Session failed")
	c.emit("error", map[string]any{"error": err.Error()})
}

// runTick drives the UI-facing elapsed callback while recording
func (c *Controller) runTick(stop <-chan struct{}) {
	t := time.NewTicker(c.opts.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			c.mu.Lock()
			recording := c.state == StateRecording
			elapsed := c.elapsedLocked()
			c.mu.Unlock()
			if recording && c.opts.OnTick != nil {
				c.opts.OnTick(elapsed)
			}
		}
	}
}

// emit appends a fire-and-forget debug timeline event
func (c *Controller) emit(evType string, payload map[string]any) {
	c.mu.Lock()
	c.emitLocked(evType, payload)
	c.mu.Unlock()
}

func (c *Controller) emitLocked(evType string, payload map[string]any) {
	c.seq++
	now := c.now()
	c.opts.Sink.Emit(timeline.Event{
		Type:      evType,
		Origin:    "recording-controller",
		At:        now,
		Monotonic: now.Sub(c.sessionStart),
		Seq:       c.seq,
		SessionID: c.sessionID,
		Payload:   payload,
	})
}

// teardownBackend releases a backend that never committed to a session
func (c *Controller) teardownBackend(native *nativeSession, fallback *fallbackSession) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if native != nil {
		if err := native.sess.Stop(ctx); err != nil {
			logger.WithComponent("recording-controller").Debug().Err(err).Msg("Backend teardown: native stop failed")
		}
	}
	if fallback != nil {
		if _, err := fallback.recorder.Stop(ctx); err != nil {
			logger.WithComponent("recording-controller").Debug().Err(err).Msg("Backend teardown: recorder stop failed")
		}
		fallback.tracker.Stop()
		fallback.handle.Cleanup()
	}
}
