// Package encoding holds the pure selection policy for encoding parameters:
// video bitrate, codec preference order, and the audio configuration table.
package encoding

import (
	"math"
	"strings"
)

// QualityTier is the requested output resolution tier
type QualityTier string

const (
	QualityAuto  QualityTier = "auto"
	Quality480p  QualityTier = "480p"
	Quality720p  QualityTier = "720p"
	Quality1080p QualityTier = "1080p"
)

// ParseQualityTier parses a tier name, defaulting to auto
func ParseQualityTier(value string) QualityTier {
	switch strings.ToLower(value) {
	case "480p", "480":
		return Quality480p
	case "720p", "720":
		return Quality720p
	case "1080p", "1080":
		return Quality1080p
	default:
		return QualityAuto
	}
}

// TargetSize returns the tier's target resolution. ok is false for auto,
// which keeps the native region size.
func (t QualityTier) TargetSize() (width, height int, ok bool) {
	switch t {
	case Quality480p:
		return 854, 480, true
	case Quality720p:
		return 1280, 720, true
	case Quality1080p:
		return 1920, 1080, true
	default:
		return 0, 0, false
	}
}

// Bits-per-pixel quality presets. The dial trades file size for quality.
const (
	BitsPerPixelEconomy  = 0.04
	BitsPerPixelBalanced = 0.08
	BitsPerPixelPremium  = 0.10
)

// Bitrate computes the target video bitrate in bits per second:
// round(width * height * fps * bitsPerPixel). Never negative.
func Bitrate(width, height, fps int, bitsPerPixel float64) int {
	bps := math.Round(float64(width) * float64(height) * float64(fps) * bitsPerPixel)
	if bps < 0 {
		return 0
	}
	return int(bps)
}

// Codec is one encoder candidate
type Codec struct {
	Name string
	MIME string
}

var (
	// CodecVP9 tolerates low frame rates without the severe frame-drop
	// artifacts VP8 shows under 24 fps.
	CodecVP9 = Codec{Name: "vp9", MIME: "video/webm;codecs=vp9"}

	// CodecVP8 has the widest decoder compatibility.
	CodecVP8 = Codec{Name: "vp8", MIME: "video/webm;codecs=vp8"}

	// CodecBaseline is the guaranteed-supported fallback container.
	CodecBaseline = Codec{Name: "webm", MIME: "video/webm"}
)

// lowFrameRateThreshold splits the two preference orders.
const lowFrameRateThreshold = 24

// CodecPreferences returns the ordered candidate list for the given frame
// rate. The last entry is always the guaranteed baseline.
func CodecPreferences(fps int) []Codec {
	if fps < lowFrameRateThreshold {
		return []Codec{CodecVP9, CodecVP8, CodecBaseline}
	}
	return []Codec{CodecVP8, CodecVP9, CodecBaseline}
}

// SelectCodec walks the preference order for fps and returns the first
// candidate the recorder supports. supported may be nil, in which case the
// top preference is returned.
func SelectCodec(fps int, supported func(mime string) bool) Codec {
	prefs := CodecPreferences(fps)
	if supported == nil {
		return prefs[0]
	}
	for _, c := range prefs {
		if supported(c.MIME) {
			return c
		}
	}
	// Last resort regardless of the probe's answer.
	return prefs[len(prefs)-1]
}

// AudioConfig is the audio encoding configuration derived from the
// effective resolution tier
type AudioConfig struct {
	BitrateTier   string `json:"bitrate_tier"`
	Channels      int    `json:"channels"`
	BitsPerSecond int    `json:"bits_per_second"`
}

// AudioConfigFor maps a quality tier to its audio configuration. The mapping
// is total: unknown and auto tiers get the 1080p default.
func AudioConfigFor(tier QualityTier) AudioConfig {
	switch tier {
	case Quality480p:
		return AudioConfig{BitrateTier: "32k", Channels: 1, BitsPerSecond: 32000}
	case Quality720p:
		return AudioConfig{BitrateTier: "64k", Channels: 2, BitsPerSecond: 64000}
	default:
		return AudioConfig{BitrateTier: "128k", Channels: 2, BitsPerSecond: 128000}
	}
}
