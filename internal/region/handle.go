package region

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	xdraw "golang.org/x/image/draw"

	"github.com/clipforge/capture/internal/bridge"
	"github.com/clipforge/capture/internal/freeze"
	"github.com/clipforge/capture/internal/logger"
)

const (
	// streamReadyTimeout bounds the wait for a replacement stream's first
	// buffered frame during recovery.
	streamReadyTimeout = 5 * time.Second

	// streamReadyPoll is the probe cadence while waiting for readiness.
	streamReadyPoll = 50 * time.Millisecond

	// grabRetryStreak is the consecutive grab-failure count that re-arms
	// recovery. A stream whose recovery attempt failed keeps failing grabs,
	// and a dead stream emits no further liveness events, so the streak is
	// the only signal left to retry on.
	grabRetryStreak = 5
)

// Handle is a live fallback video stream for one capture region. Frames are
// pumped at a fixed cadence onto a channel whose identity is stable across
// source recoveries: consumers never observe a swap.
//
// Cleanup is mandatory before discarding a handle. OS capture resources
// outlive heap reachability, so nothing here relies on garbage collection.
type Handle struct {
	area    Area
	bridge  bridge.Bridge
	outSize image.Point
	out     chan *image.RGBA

	detector     *freeze.Detector
	readyTimeout time.Duration

	mu        sync.Mutex
	src       bridge.DisplayStream
	sourceID  string
	watchStop chan struct{}

	cancelled   atomic.Bool
	recovering  atomic.Bool
	stopPump    chan struct{}
	pumpDone    chan struct{}
	cleanupOnce sync.Once

	// perturbStep and errStreak are touched by the pump goroutine only.
	perturbStep int
	errStreak   int
}

// newHandle acquires the initial display stream and starts the pump
func newHandle(ctx context.Context, b bridge.Bridge, area Area, sourceID string) (*Handle, error) {
	src, err := b.AcquireDisplayStream(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire display stream: %w", err)
	}

	h := &Handle{
		area:         area,
		bridge:       b,
		outSize:      area.OutputSize(),
		out:          make(chan *image.RGBA, 1),
		detector:     freeze.NewDetector(),
		readyTimeout: streamReadyTimeout,
		src:          src,
		sourceID:     sourceID,
		watchStop:    make(chan struct{}),
		stopPump:     make(chan struct{}),
		pumpDone:     make(chan struct{}),
	}

	go h.watch(src, h.watchStop)
	go h.pump()

	logger.WithComponent("region-stream").Info().
		Str("source_id", sourceID).
		Int("fps", area.FPS).
		Int("out_w", h.outSize.X).
		Int("out_h", h.outSize.Y).
		Msg("Fallback stream started")

	return h, nil
}

// Frames returns the output frame channel. It is closed by Cleanup.
func (h *Handle) Frames() <-chan *image.RGBA {
	return h.out
}

// SourceID returns the id of the source currently feeding the handle
func (h *Handle) SourceID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sourceID
}

// OutputSize returns the emitted frame dimensions
func (h *Handle) OutputSize() image.Point {
	return h.outSize
}

// pump emits frames at the fixed 1000/fps ms cadence. Passive capture from a
// rendered surface is unreliable in the host environment, so every output
// frame is requested explicitly here.
func (h *Handle) pump() {
	defer close(h.pumpDone)
	defer close(h.out)

	fps := h.area.FPS
	if fps <= 0 {
		fps = 30
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for {
		select {
		case <-h.stopPump:
			return
		case <-ticker.C:
			h.tick()
		}
	}
}

func (h *Handle) tick() {
	// The scheduler cannot preempt an in-flight tick, so cancellation is
	// checked before anything else.
	if h.cancelled.Load() {
		return
	}

	h.mu.Lock()
	src := h.src
	h.mu.Unlock()

	frame, fresh, err := src.Frame()
	if err != nil {
		logger.WithComponent("region-stream").Debug().Err(err).Msg("Frame grab failed")
		h.errStreak++
		if h.errStreak >= grabRetryStreak {
			h.errStreak = 0
			if !h.recovering.Load() {
				logger.WithComponent("region-stream").Warn().Err(err).
					Str("source_id", h.SourceID()).
					Msg("Capture source stalled, recovering")
				go h.recoverStale("stalled")
			}
		}
		return
	}
	h.errStreak = 0
	if !fresh {
		// No new pixels since the last tick: re-emitting would duplicate a
		// stale frame, which matters most right after a source swap.
		return
	}

	out := h.render(frame)

	// The perturbation keeps downstream change detection alive on static
	// content, but it must not run while a freeze is suspected or it would
	// mask the very condition being detected.
	if !h.detector.PossiblyFrozen() {
		h.perturb(out)
	}

	if h.detector.Observe(out) {
		logger.WithComponent("region-stream").Warn().
			Str("source_id", h.SourceID()).
			Msg("Capture source frozen, recovering")
		go h.recoverStale("freeze")
	}

	select {
	case h.out <- out:
	default:
		// Consumer has not drained the previous frame, drop this one
	}
}

// render crops the full-display frame to the device-pixel region and scales
// it to the output size, preserving aspect.
func (h *Handle) render(frame *image.RGBA) *image.RGBA {
	crop := h.area.DeviceRect().Intersect(frame.Bounds())
	dst := image.NewRGBA(image.Rect(0, 0, h.outSize.X, h.outSize.Y))
	if crop.Empty() {
		return dst
	}
	if crop.Dx() == h.outSize.X && crop.Dy() == h.outSize.Y {
		xdraw.Draw(dst, dst.Bounds(), frame, crop.Min, xdraw.Src)
		return dst
	}
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), frame.SubImage(crop), crop, xdraw.Src, nil)
	return dst
}

// perturb flips the low bit of one pixel's red channel at a rotating
// coordinate. Visually negligible, but enough for encoder change detection.
func (h *Handle) perturb(img *image.RGBA) {
	b := img.Bounds()
	if b.Empty() {
		return
	}
	h.perturbStep++
	x := (h.perturbStep * 31) % b.Dx()
	y := (h.perturbStep * 17) % b.Dy()
	i := img.PixOffset(b.Min.X+x, b.Min.Y+y)
	img.Pix[i] ^= 1
}

// watch routes the stream's liveness events into the same recovery path as
// a detected freeze.
func (h *Handle) watch(src bridge.DisplayStream, stop <-chan struct{}) {
	select {
	case <-stop:
		return
	case <-h.stopPump:
		return
	case <-src.Inactive():
		logger.WithComponent("region-stream").Warn().Msg("Display stream went inactive, recovering")
	case <-src.TrackEnded():
		logger.WithComponent("region-stream").Warn().Msg("Display track ended, recovering")
	}
	go h.recoverStale("liveness")
}

// recoverStale re-resolves the active source for the display and forces a
// stream swap. Recovery failure leaves the session on the stale source; the
// next detection cycle retries.
func (h *Handle) recoverStale(cause string) {
	if h.cancelled.Load() {
		return
	}
	log := logger.WithComponent("region-stream")

	ctx, cancel := context.WithTimeout(context.Background(), h.readyTimeout+time.Second)
	defer cancel()

	sources, err := h.bridge.Sources(ctx)
	if err != nil {
		log.Warn().Err(err).Str("cause", cause).Msg("Recovery: source enumeration failed")
		return
	}
	displays, err := h.bridge.Displays(ctx)
	if err != nil {
		log.Warn().Err(err).Str("cause", cause).Msg("Recovery: display enumeration failed")
		return
	}
	src, err := bridge.ResolveDisplaySource(sources, displays, h.area.DisplayID)
	if err != nil {
		// Keep the current id; forcing a refresh on it is still worthwhile.
		src = bridge.Source{ID: h.SourceID()}
	}

	if err := h.UpdateSource(ctx, src.ID, true); err != nil {
		log.Warn().Err(err).Str("cause", cause).Msg("Recovery failed, staying on stale source")
	}
}

// UpdateSource swaps the underlying full-display stream to the given source.
// A no-op when the id is unchanged and force is false. Safe to call
// repeatedly: a single in-flight recovery flag serializes swaps, and extra
// requests are dropped rather than queued.
func (h *Handle) UpdateSource(ctx context.Context, id string, force bool) error {
	if h.cancelled.Load() {
		return nil
	}

	h.mu.Lock()
	current := h.sourceID
	h.mu.Unlock()
	if id == current && !force {
		return nil
	}

	if !h.recovering.CompareAndSwap(false, true) {
		return nil
	}
	defer h.recovering.Store(false)

	log := logger.WithComponent("region-stream")

	newSrc, err := h.bridge.AcquireDisplayStream(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to acquire replacement stream for %q: %w", id, err)
	}
	if err := h.waitFirstFrame(ctx, newSrc); err != nil {
		newSrc.Stop()
		return fmt.Errorf("replacement stream for %q not ready: %w", id, err)
	}

	h.mu.Lock()
	if h.cancelled.Load() {
		// Cleanup won the race while the replacement was warming up.
		h.mu.Unlock()
		newSrc.Stop()
		return nil
	}
	old := h.src
	oldWatch := h.watchStop
	h.src = newSrc
	h.sourceID = id
	h.watchStop = make(chan struct{})
	go h.watch(newSrc, h.watchStop)
	h.mu.Unlock()

	close(oldWatch)
	old.Stop()
	h.detector.Reset()

	log.Info().
		Str("previous", current).
		Str("source_id", id).
		Bool("force", force).
		Msg("Display stream swapped")
	return nil
}

// waitFirstFrame blocks until the stream produces its first buffered frame,
// bounded by the ready timeout.
func (h *Handle) waitFirstFrame(ctx context.Context, src bridge.DisplayStream) error {
	deadline := time.NewTimer(h.readyTimeout)
	defer deadline.Stop()
	probe := time.NewTicker(streamReadyPoll)
	defer probe.Stop()

	for {
		if _, fresh, err := src.Frame(); err == nil && fresh {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("no frame within %s", h.readyTimeout)
		case <-probe.C:
		}
	}
}

// Cleanup stops the pump, the watchers, and the underlying stream. Safe to
// call more than once; underlying track stops are idempotent by the bridge
// contract.
func (h *Handle) Cleanup() {
	h.cleanupOnce.Do(func() {
		h.cancelled.Store(true)
		close(h.stopPump)
		<-h.pumpDone

		h.mu.Lock()
		close(h.watchStop)
		src := h.src
		h.mu.Unlock()

		src.Stop()
		logger.WithComponent("region-stream").Info().
			Str("source_id", h.sourceID).
			Msg("Fallback stream cleaned up")
	})
}
