package region

import (
	"context"
	"fmt"

	"github.com/clipforge/capture/internal/bridge"
	"github.com/clipforge/capture/internal/logger"
)

// Acquisition is the result of backend selection. Exactly one of Native or
// Stream is set, according to Backend.
type Acquisition struct {
	Backend Backend
	Native  bridge.NativeSession
	Stream  *Handle
}

// Manager selects and builds the capture backend for an Area
type Manager struct {
	bridge bridge.Bridge
}

// NewManager creates a manager on the given platform bridge
func NewManager(b bridge.Bridge) *Manager {
	return &Manager{bridge: b}
}

// Bridge returns the underlying platform bridge
func (m *Manager) Bridge() bridge.Bridge {
	return m.bridge
}

// Acquire resolves the backend for area. When the bridge offers native
// high-level capture it is preferred: the native layer writes frames straight
// to outputPath and only a completion signal comes back. Otherwise the
// fallback crop-and-repump pipeline is built.
func (m *Manager) Acquire(ctx context.Context, area Area, outputPath string) (*Acquisition, error) {
	log := logger.WithComponent("region-manager")

	if nc, ok := m.bridge.(bridge.NativeCapturer); ok {
		log.Info().
			Str("display_id", area.DisplayID).
			Int("fps", area.FPS).
			Msg("Using native capture backend")
		sess, err := nc.StartNativeCapture(ctx, bridge.NativeConfig{
			DisplayID:  area.DisplayID,
			Region:     area.DeviceRect(),
			FrameRate:  area.FPS,
			OutputPath: outputPath,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to start native capture: %w", err)
		}
		return &Acquisition{Backend: BackendNative, Native: sess}, nil
	}

	log.Info().
		Str("display_id", area.DisplayID).
		Int("fps", area.FPS).
		Msg("Native capture unavailable, using fallback pipeline")

	sources, err := m.bridge.Sources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate sources: %w", err)
	}
	displays, err := m.bridge.Displays(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate displays: %w", err)
	}
	src, err := bridge.ResolveDisplaySource(sources, displays, area.DisplayID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve capture source: %w", err)
	}

	h, err := newHandle(ctx, m.bridge, area, src.ID)
	if err != nil {
		return nil, err
	}
	return &Acquisition{Backend: BackendFallback, Stream: h}, nil
}
