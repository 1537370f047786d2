// Package tracker watches which OS capture source currently corresponds to a
// display. Virtual-desktop switches can silently swap the source for a
// display, or leave the source id unchanged while invalidating the underlying
// surface; the tracker detects both and asks the stream layer to refresh.
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/clipforge/capture/internal/bridge"
	"github.com/clipforge/capture/internal/logger"
)

const (
	// DefaultInterval is the poll cadence (10 Hz).
	DefaultInterval = 100 * time.Millisecond

	// DefaultWindowDelta is the window-count jump that signals a
	// virtual-desktop transition when the resolved source id is unchanged.
	DefaultWindowDelta = 3
)

// SwitchFunc is invoked when the active source changes or must be refreshed.
// force is true when the source id is unchanged but the surface is suspected
// stale.
type SwitchFunc func(sourceID, displayID string, force bool)

// Config configures a Tracker
type Config struct {
	DisplayID   string
	Interval    time.Duration // zero means DefaultInterval
	WindowDelta int           // zero means DefaultWindowDelta
}

// Tracker polls the source list and infers active-source transitions
type Tracker struct {
	bridge   bridge.Bridge
	cfg      Config
	onSwitch SwitchFunc

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}

	lastSourceID    string
	lastWindowCount int
	haveWindowCount bool
	forceFired      bool
}

// New creates a stopped tracker
func New(b bridge.Bridge, cfg Config, onSwitch SwitchFunc) *Tracker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.WindowDelta <= 0 {
		cfg.WindowDelta = DefaultWindowDelta
	}
	return &Tracker{
		bridge:   b,
		cfg:      cfg,
		onSwitch: onSwitch,
	}
}

// Start begins polling. Calling Start on a running tracker replaces the
// running poll loop and discards its state.
func (t *Tracker) Start() {
	t.mu.Lock()
	if t.running {
		close(t.stopChan)
	}
	t.running = true
	t.stopChan = make(chan struct{})
	t.lastSourceID = ""
	t.haveWindowCount = false
	t.forceFired = false
	stop := t.stopChan
	t.mu.Unlock()

	go t.loop(stop)
}

// Stop cancels the poll loop and clears all state
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	close(t.stopChan)
	t.running = false
	t.lastSourceID = ""
	t.haveWindowCount = false
	t.forceFired = false
}

func (t *Tracker) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	log := logger.WithComponent("source-tracker")
	log.Debug().
		Str("display_id", t.cfg.DisplayID).
		Dur("interval", t.cfg.Interval).
		Msg("Source tracking started")

	for {
		select {
		case <-stop:
			log.Debug().Str("display_id", t.cfg.DisplayID).Msg("Source tracking stopped")
			return
		case <-ticker.C:
			t.Poll(context.Background())
		}
	}
}

// Poll runs one resolution tick. Exported so tests (and recovery paths) can
// drive the tracker without real time.
func (t *Tracker) Poll(ctx context.Context) {
	log := logger.WithComponent("source-tracker")

	sources, err := t.bridge.Sources(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Source enumeration failed, skipping tick")
		return
	}
	displays, err := t.bridge.Displays(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Display enumeration failed, skipping tick")
		return
	}

	resolved, err := bridge.ResolveDisplaySource(sources, displays, t.cfg.DisplayID)
	if err != nil {
		resolved, err = t.fallbackSource(sources, err)
		if err != nil {
			log.Warn().Err(err).Str("display_id", t.cfg.DisplayID).Msg("Resolution failed, will retry next tick")
			return
		}
	}

	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}

	if resolved.ID != t.lastSourceID {
		prev := t.lastSourceID
		t.lastSourceID = resolved.ID
		// A new id invalidates the transition heuristics.
		t.haveWindowCount = false
		t.forceFired = false
		t.mu.Unlock()

		if prev != "" {
			log.Info().
				Str("previous", prev).
				Str("resolved", resolved.ID).
				Msg("Active capture source switched")
		}
		t.onSwitch(resolved.ID, t.cfg.DisplayID, false)
		return
	}

	// Same id: watch the window population for a desktop transition that
	// invalidated the surface without changing the id.
	count := bridge.CountWindows(sources)
	if t.haveWindowCount {
		delta := count - t.lastWindowCount
		if delta < 0 {
			delta = -delta
		}
		if delta > t.cfg.WindowDelta {
			if !t.forceFired {
				t.forceFired = true
				t.lastWindowCount = count
				id := t.lastSourceID
				t.mu.Unlock()

				log.Info().
					Int("window_delta", delta).
					Str("source_id", id).
					Msg("Window population jumped, forcing source refresh")
				t.onSwitch(id, t.cfg.DisplayID, true)
				return
			}
		} else {
			// Count stabilized, re-arm the debounce.
			t.forceFired = false
		}
	}
	t.lastWindowCount = count
	t.haveWindowCount = true
	t.mu.Unlock()
}

// fallbackSource applies the resolution-failure chain: last known good id if
// it is still present, else the first screen-class source.
func (t *Tracker) fallbackSource(sources []bridge.Source, cause error) (bridge.Source, error) {
	t.mu.Lock()
	last := t.lastSourceID
	t.mu.Unlock()

	if last != "" {
		for _, s := range sources {
			if s.ID == last {
				return s, nil
			}
		}
	}
	for _, s := range sources {
		if s.Kind == bridge.SourceScreen {
			return s, nil
		}
	}
	return bridge.Source{}, cause
}
