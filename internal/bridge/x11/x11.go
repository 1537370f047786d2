// Package x11 is the X11/XWayland reference implementation of the platform
// bridge. It enumerates displays via the Xinerama extension and grabs region
// frames from the root window with GetImage.
package x11

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xinerama"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/clipforge/capture/internal/bridge"
	"github.com/clipforge/capture/internal/logger"
)

// grabErrorLimit is the consecutive-failure count after which a stream is
// declared inactive.
const grabErrorLimit = 5

// Bridge captures from an X server
type Bridge struct {
	conn       *xgb.Conn
	root       xproto.Window
	screen     *xproto.ScreenInfo
	xineramaOK bool
	mu         sync.Mutex
}

// New connects to the X server
func New() (*Bridge, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	b := &Bridge{
		conn:   conn,
		root:   screen.Root,
		screen: screen,
	}

	log := logger.WithComponent("x11-bridge")
	if err := xinerama.Init(conn); err != nil {
		log.Warn().Err(err).Msg("Xinerama unavailable, reporting a single display")
	} else {
		b.xineramaOK = true
	}
	log.Info().
		Uint16("root_width", screen.WidthInPixels).
		Uint16("root_height", screen.HeightInPixels).
		Msg("Connected to X server")

	return b, nil
}

// Close disconnects from the X server
func (b *Bridge) Close() {
	b.conn.Close()
}

// Displays enumerates physical displays in Xinerama order
func (b *Bridge) Displays(ctx context.Context) ([]bridge.Display, error) {
	if !b.xineramaOK {
		return []bridge.Display{{
			ID:          "display-0",
			Bounds:      image.Rect(0, 0, int(b.screen.WidthInPixels), int(b.screen.HeightInPixels)),
			ScaleFactor: 1,
		}}, nil
	}

	reply, err := xinerama.QueryScreens(b.conn).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to query Xinerama screens: %w", err)
	}

	displays := make([]bridge.Display, 0, len(reply.ScreenInfo))
	for i, si := range reply.ScreenInfo {
		displays = append(displays, bridge.Display{
			ID: fmt.Sprintf("display-%d", i),
			Bounds: image.Rect(
				int(si.XOrg), int(si.YOrg),
				int(si.XOrg)+int(si.Width), int(si.YOrg)+int(si.Height),
			),
			// X11 reports device pixels directly.
			ScaleFactor: 1,
		})
	}
	return displays, nil
}

// Sources enumerates capture sources: one screen source per display, in the
// same order Displays reports them, followed by top-level windows. The
// screen/display correspondence is positional, so the order is never
// changed here.
func (b *Bridge) Sources(ctx context.Context) ([]bridge.Source, error) {
	displays, err := b.Displays(ctx)
	if err != nil {
		return nil, err
	}

	sources := make([]bridge.Source, 0, len(displays))
	for i, d := range displays {
		sources = append(sources, bridge.Source{
			ID:        fmt.Sprintf("screen-%d", i),
			Name:      fmt.Sprintf("Screen %d", i),
			Kind:      bridge.SourceScreen,
			DisplayID: d.ID,
		})
	}

	windows, err := b.listWindows()
	if err != nil {
		logger.WithComponent("x11-bridge").Debug().Err(err).Msg("Window enumeration failed")
		return sources, nil
	}
	return append(sources, windows...), nil
}

// listWindows returns viewable top-level windows from the root tree
func (b *Bridge) listWindows() ([]bridge.Source, error) {
	tree, err := xproto.QueryTree(b.conn, b.root).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to query window tree: %w", err)
	}

	var sources []bridge.Source
	for _, child := range tree.Children {
		attrs, err := xproto.GetWindowAttributes(b.conn, child).Reply()
		if err != nil {
			continue
		}
		if attrs.Class != xproto.WindowClassInputOutput || attrs.MapState != xproto.MapStateViewable {
			continue
		}
		geom, err := xproto.GetGeometry(b.conn, xproto.Drawable(child)).Reply()
		if err != nil || geom.Width <= 10 || geom.Height <= 10 {
			continue
		}
		sources = append(sources, bridge.Source{
			ID:   fmt.Sprintf("window-0x%x", uint32(child)),
			Name: b.windowTitle(child),
			Kind: bridge.SourceWindow,
		})
	}
	return sources, nil
}

func (b *Bridge) windowTitle(win xproto.Window) string {
	reply, err := xproto.GetProperty(
		b.conn, false, win,
		xproto.AtomWmName, xproto.GetPropertyTypeAny,
		0, 64,
	).Reply()
	if err != nil || len(reply.Value) == 0 {
		return fmt.Sprintf("Window 0x%x", uint32(win))
	}
	return string(reply.Value)
}

// AcquireDisplayStream opens a polled full-display stream for a screen
// source
func (b *Bridge) AcquireDisplayStream(ctx context.Context, sourceID string) (bridge.DisplayStream, error) {
	sources, err := b.Sources(ctx)
	if err != nil {
		return nil, err
	}
	displays, err := b.Displays(ctx)
	if err != nil {
		return nil, err
	}

	var displayID string
	for _, s := range sources {
		if s.ID == sourceID {
			if s.Kind != bridge.SourceScreen {
				return nil, fmt.Errorf("source %q is not a screen", sourceID)
			}
			displayID = s.DisplayID
		}
	}
	if displayID == "" {
		return nil, fmt.Errorf("unknown source %q", sourceID)
	}
	for _, d := range displays {
		if d.ID == displayID {
			return newDisplayStream(b, d.Bounds), nil
		}
	}
	return nil, fmt.Errorf("display %q not found for source %q", displayID, sourceID)
}

// captureRegion grabs one region of the root window
func (b *Bridge) captureRegion(r image.Rectangle) (*image.RGBA, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	reply, err := xproto.GetImage(
		b.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(b.root),
		int16(r.Min.X), int16(r.Min.Y),
		uint16(r.Dx()), uint16(r.Dy()),
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	return b.convertImageData(reply.Data, r), nil
}

// convertImageData converts X11 ZPixmap data (BGRA) to RGBA
func (b *Bridge) convertImageData(data []byte, r image.Rectangle) *image.RGBA {
	width, height := r.Dx(), r.Dy()
	img := image.NewRGBA(r)
	depth := int(b.screen.RootDepth)

	if depth == 24 || depth == 32 {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				i := (y*width + x) * 4
				if i+3 < len(data) {
					img.Set(r.Min.X+x, r.Min.Y+y, color.RGBA{
						R: data[i+2],
						G: data[i+1],
						B: data[i],
						A: 255,
					})
				}
			}
		}
	}
	return img
}

// displayStream polls the X server on demand. Every successful grab is
// fresh: the server renders current pixels for each GetImage.
type displayStream struct {
	bridge *Bridge
	bounds image.Rectangle

	stopped      atomic.Bool
	errStreak    int
	inactive     chan struct{}
	inactiveOnce sync.Once
	trackEnded   chan struct{}
}

func newDisplayStream(b *Bridge, bounds image.Rectangle) *displayStream {
	return &displayStream{
		bridge:     b,
		bounds:     bounds,
		inactive:   make(chan struct{}),
		trackEnded: make(chan struct{}),
	}
}

func (s *displayStream) Frame() (*image.RGBA, bool, error) {
	if s.stopped.Load() {
		return nil, false, fmt.Errorf("stream is stopped")
	}

	img, err := s.bridge.captureRegion(s.bounds)
	if err != nil {
		s.errStreak++
		if s.errStreak == grabErrorLimit {
			logger.WithComponent("x11-bridge").Warn().
				Err(err).
				Int("failures", s.errStreak).
				Msg("Repeated grab failures, marking stream inactive")
			s.inactiveOnce.Do(func() { close(s.inactive) })
		}
		return nil, false, err
	}
	s.errStreak = 0
	return img, true, nil
}

func (s *displayStream) Inactive() <-chan struct{}   { return s.inactive }
func (s *displayStream) TrackEnded() <-chan struct{} { return s.trackEnded }

func (s *displayStream) Stop() {
	s.stopped.Store(true)
}
