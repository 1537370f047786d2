// Package audio builds microphone and system-audio PCM streams and mixes
// multiple sources into one. Device access goes through miniaudio (malgo);
// all streams carry 16-bit interleaved samples at the session sample rate.
package audio

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/clipforge/capture/internal/logger"
)

const (
	// SampleRate is the capture sample rate for every stream
	SampleRate = 48000
)

// Stream is one live PCM source. Samples carries interleaved int16 packets;
// the channel is closed by Cleanup.
type Stream struct {
	Samples    <-chan []int16
	Channels   int
	SampleRate int
	Source     string

	cleanup func()
}

// Cleanup stops the underlying device and closes the sample channel.
// Idempotent.
func (s *Stream) Cleanup() {
	if s != nil && s.cleanup != nil {
		s.cleanup()
	}
}

// Mixer owns the audio context and creates capture streams
type Mixer struct {
	ctx *malgo.AllocatedContext
}

// NewMixer initializes the audio context
func NewMixer() (*Mixer, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	return &Mixer{ctx: ctx}, nil
}

// Close releases the audio context. Streams must be cleaned up first.
func (m *Mixer) Close() {
	if m.ctx != nil {
		_ = m.ctx.Uninit()
		m.ctx.Free()
		m.ctx = nil
	}
}

// CreateMicrophoneStream opens a capture stream on the named device, or the
// system default when deviceID is empty. The error is a soft failure: the
// caller decides whether a missing microphone is fatal.
func (m *Mixer) CreateMicrophoneStream(deviceID string, channels int) (*Stream, error) {
	if channels <= 0 {
		channels = 1
	}

	var device *malgo.DeviceInfo
	if deviceID != "" {
		infos, err := m.ctx.Devices(malgo.Capture)
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
		}
		for i := range infos {
			if infos[i].ID.String() == deviceID || infos[i].Name() == deviceID {
				device = &infos[i]
				break
			}
		}
		if device == nil {
			return nil, fmt.Errorf("capture device %q not found", deviceID)
		}
	}

	return m.openCapture(device, malgo.Capture, channels, "microphone")
}

// CreateDesktopAudioStream opens a system-audio stream. It prefers native
// loopback capture and falls back to a virtual loopback input device matched
// by name. Absence is reported as an error, never a panic: desktop audio is
// optional on most setups.
func (m *Mixer) CreateDesktopAudioStream(channels int) (*Stream, error) {
	if channels <= 0 {
		channels = 2
	}

	log := logger.WithComponent("audio-mixer")

	if s, err := m.openCapture(nil, malgo.Loopback, channels, "desktop"); err == nil {
		return s, nil
	} else {
		log.Debug().Err(err).Msg("Native loopback capture unavailable, scanning for virtual loopback device")
	}

	infos, err := m.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}
	for i := range infos {
		name := strings.ToLower(infos[i].Name())
		if strings.Contains(name, "monitor") ||
			strings.Contains(name, "loopback") ||
			strings.Contains(name, "stereo mix") ||
			strings.Contains(name, "blackhole") ||
			strings.Contains(name, "soundflower") {
			log.Info().Str("device", infos[i].Name()).Msg("Using virtual loopback device for desktop audio")
			return m.openCapture(&infos[i], malgo.Capture, channels, "desktop")
		}
	}
	return nil, fmt.Errorf("no desktop audio loopback device found")
}

// openCapture starts a malgo capture device feeding a sample channel
func (m *Mixer) openCapture(device *malgo.DeviceInfo, devType malgo.DeviceType, channels int, source string) (*Stream, error) {
	cfg := malgo.DefaultDeviceConfig(devType)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(channels)
	cfg.SampleRate = SampleRate
	cfg.Alsa.NoMMap = 1
	if device != nil {
		cfg.Capture.DeviceID = device.ID.Pointer()
	}

	ch := make(chan []int16, 64)
	onRecv := func(_, in []byte, frameCount uint32) {
		if frameCount == 0 {
			return
		}
		// The device buffer is volatile, copy before handing off.
		pcm := bytesToSamples(in)
		select {
		case ch <- pcm:
		default:
			// Consumer is lagging, drop rather than stall the device thread
		}
	}

	dev, err := malgo.InitDevice(m.ctx.Context, cfg, malgo.DeviceCallbacks{Data: onRecv})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s device: %w", source, err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("failed to start %s device: %w", source, err)
	}

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			// Uninit blocks until the data callback cannot fire again,
			// making the close safe.
			dev.Uninit()
			close(ch)
		})
	}

	logger.WithComponent("audio-mixer").Info().
		Str("source", source).
		Int("channels", channels).
		Int("sample_rate", SampleRate).
		Msg("Audio stream opened")

	return &Stream{
		Samples:    ch,
		Channels:   channels,
		SampleRate: SampleRate,
		Source:     source,
		cleanup:    cleanup,
	}, nil
}

func bytesToSamples(in []byte) []int16 {
	out := make([]int16, len(in)/2)
	for i := range out {
		out[i] = int16(uint16(in[2*i]) | uint16(in[2*i+1])<<8)
	}
	return out
}
