package region

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/capture/internal/bridge"
	"github.com/clipforge/capture/internal/freeze"
)

type fakeStream struct {
	mu          sync.Mutex
	frame       *image.RGBA
	alwaysFresh bool
	fresh       bool
	err         error
	stops       int

	inactive   chan struct{}
	trackEnded chan struct{}
}

func newFakeStream(w, h int, alwaysFresh bool) *fakeStream {
	return &fakeStream{
		frame:       image.NewRGBA(image.Rect(0, 0, w, h)),
		alwaysFresh: alwaysFresh,
		fresh:       true,
		inactive:    make(chan struct{}),
		trackEnded:  make(chan struct{}),
	}
}

func (s *fakeStream) Frame() (*image.RGBA, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, false, s.err
	}
	fresh := s.fresh || s.alwaysFresh
	s.fresh = false
	return s.frame, fresh, nil
}

func (s *fakeStream) Inactive() <-chan struct{}   { return s.inactive }
func (s *fakeStream) TrackEnded() <-chan struct{} { return s.trackEnded }

func (s *fakeStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
}

func (s *fakeStream) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

type fakeBridge struct {
	mu       sync.Mutex
	sources  []bridge.Source
	displays []bridge.Display
	streams  map[string]*fakeStream
	acquired []string
	failNext error
}

func (b *fakeBridge) Sources(ctx context.Context) ([]bridge.Source, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bridge.Source(nil), b.sources...), nil
}

func (b *fakeBridge) Displays(ctx context.Context) ([]bridge.Display, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bridge.Display(nil), b.displays...), nil
}

func (b *fakeBridge) AcquireDisplayStream(ctx context.Context, sourceID string) (bridge.DisplayStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failNext != nil {
		err := b.failNext
		b.failNext = nil
		return nil, err
	}
	s, ok := b.streams[sourceID]
	if !ok {
		return nil, errors.New("unknown source " + sourceID)
	}
	b.acquired = append(b.acquired, sourceID)
	return s, nil
}

func (b *fakeBridge) acquireCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.acquired)
}

func testArea() Area {
	return Area{
		DisplayID:   "d1",
		Rect:        image.Rect(0, 0, 64, 48),
		ScaleFactor: 1,
		FPS:         50,
	}
}

func newTestBridge(alwaysFresh bool) (*fakeBridge, *fakeStream) {
	s := newFakeStream(128, 96, alwaysFresh)
	b := &fakeBridge{
		sources: []bridge.Source{
			{ID: "src-1", Name: "Screen 1", Kind: bridge.SourceScreen, DisplayID: "d1"},
		},
		displays: []bridge.Display{
			{ID: "d1", Bounds: image.Rect(0, 0, 128, 96), ScaleFactor: 1},
		},
		streams: map[string]*fakeStream{"src-1": s},
	}
	return b, s
}

func TestHandleEmitsCroppedFrames(t *testing.T) {
	b, _ := newTestBridge(true)
	h, err := newHandle(context.Background(), b, testArea(), "src-1")
	require.NoError(t, err)
	defer h.Cleanup()

	select {
	case frame := <-h.Frames():
		require.NotNil(t, frame)
		assert.Equal(t, image.Pt(64, 48), frame.Bounds().Size())
	case <-time.After(2 * time.Second):
		t.Fatal("no frame emitted")
	}
}

func TestHandleSkipsStaleFrames(t *testing.T) {
	b, s := newTestBridge(false)
	s.fresh = false // nothing buffered yet
	h, err := newHandle(context.Background(), b, testArea(), "src-1")
	require.NoError(t, err)
	defer h.Cleanup()

	select {
	case frame := <-h.Frames():
		t.Fatalf("got frame %v from a stream with no fresh data", frame.Bounds())
	case <-time.After(300 * time.Millisecond):
	}
}

func TestUpdateSourceNoOpWhenUnchanged(t *testing.T) {
	b, _ := newTestBridge(true)
	h, err := newHandle(context.Background(), b, testArea(), "src-1")
	require.NoError(t, err)
	defer h.Cleanup()

	require.NoError(t, h.UpdateSource(context.Background(), "src-1", false))
	assert.Equal(t, 1, b.acquireCount(), "unchanged id without force must not reacquire")
}

func TestUpdateSourceSwapsStream(t *testing.T) {
	b, old := newTestBridge(true)
	next := newFakeStream(128, 96, true)
	b.streams["src-2"] = next

	h, err := newHandle(context.Background(), b, testArea(), "src-1")
	require.NoError(t, err)
	defer h.Cleanup()

	require.NoError(t, h.UpdateSource(context.Background(), "src-2", false))
	assert.Equal(t, "src-2", h.SourceID())
	assert.Equal(t, 1, old.stopCount(), "previous stream must be stopped")

	// The output channel identity survives the swap.
	select {
	case <-h.Frames():
	case <-time.After(2 * time.Second):
		t.Fatal("no frame after swap")
	}
}

func TestUpdateSourceKeepsStaleOnTimeout(t *testing.T) {
	b, old := newTestBridge(true)
	dead := newFakeStream(128, 96, false)
	dead.fresh = false
	b.streams["src-2"] = dead

	h, err := newHandle(context.Background(), b, testArea(), "src-1")
	require.NoError(t, err)
	defer h.Cleanup()
	h.readyTimeout = 150 * time.Millisecond

	err = h.UpdateSource(context.Background(), "src-2", false)
	require.Error(t, err)
	assert.Equal(t, "src-1", h.SourceID(), "failed swap must keep the stale source")
	assert.Equal(t, 1, dead.stopCount(), "unready replacement must be released")
	assert.Equal(t, 0, old.stopCount())
}

func TestHandleRecoversOnInactive(t *testing.T) {
	b, old := newTestBridge(true)
	h, err := newHandle(context.Background(), b, testArea(), "src-1")
	require.NoError(t, err)
	defer h.Cleanup()

	close(old.inactive)

	deadline := time.After(2 * time.Second)
	for b.acquireCount() < 2 {
		select {
		case <-deadline:
			t.Fatal("stream was not reacquired after going inactive")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestHandleRecoversOnFreeze(t *testing.T) {
	b, _ := newTestBridge(true)
	h, err := newHandle(context.Background(), b, testArea(), "src-1")
	require.NoError(t, err)
	defer h.Cleanup()

	// The fake delivers byte-identical frames forever, so the identical
	// digest run reaches the fire threshold and recovery reacquires the
	// re-resolved source.
	deadline := time.After(3 * time.Second)
	for b.acquireCount() < 2 {
		select {
		case <-deadline:
			t.Fatal("frozen stream was not reacquired")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestHandleRetriesRecoveryAfterFailure(t *testing.T) {
	b, dying := newTestBridge(true)
	h, err := newHandle(context.Background(), b, testArea(), "src-1")
	require.NoError(t, err)
	defer h.Cleanup()

	// The first recovery attempt hits an acquire failure; the grab-failure
	// streak must re-arm and land the second attempt on the healthy stream.
	healthy := newFakeStream(128, 96, true)
	b.mu.Lock()
	b.failNext = errors.New("display busy")
	b.streams["src-1"] = healthy
	b.mu.Unlock()

	dying.mu.Lock()
	dying.err = errors.New("connection lost")
	dying.mu.Unlock()

	deadline := time.After(3 * time.Second)
	for b.acquireCount() < 2 {
		select {
		case <-deadline:
			t.Fatal("recovery was not retried after a failed attempt")
		case <-time.After(10 * time.Millisecond):
		}
	}

	deadline = time.After(2 * time.Second)
	for dying.stopCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("stale stream was not released after the retried swap")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPerturbationSuppressedWhilePossiblyFrozen(t *testing.T) {
	area := testArea()
	h := &Handle{
		area:         area,
		outSize:      area.OutputSize(),
		out:          make(chan *image.RGBA, 1),
		detector:     freeze.NewDetector(),
		readyTimeout: streamReadyTimeout,
		src:          newFakeStream(128, 96, true),
		watchStop:    make(chan struct{}),
		stopPump:     make(chan struct{}),
		pumpDone:     make(chan struct{}),
	}

	next := func() *image.RGBA {
		h.tick()
		select {
		case f := <-h.out:
			return f
		default:
			t.Fatal("tick emitted no frame")
			return nil
		}
	}

	first := next()
	second := next()
	assert.NotEqual(t, first.Pix, second.Pix,
		"liveness perturbation must vary frames while the source is healthy")

	// The source repeats the same frame, so a few more ticks push the
	// identical run past the suspicion threshold.
	for i := 0; i < 3; i++ {
		next()
	}
	require.True(t, h.detector.PossiblyFrozen())

	frozen1 := next()
	frozen2 := next()
	assert.Equal(t, frozen1.Pix, frozen2.Pix,
		"perturbation must stop once a freeze is suspected")
}

func TestCleanupIdempotent(t *testing.T) {
	b, s := newTestBridge(true)
	h, err := newHandle(context.Background(), b, testArea(), "src-1")
	require.NoError(t, err)

	h.Cleanup()
	h.Cleanup()

	assert.Equal(t, 1, s.stopCount(), "Cleanup must stop the stream exactly once")

	// The frame channel drains and closes.
	for range h.Frames() {
	}
}
