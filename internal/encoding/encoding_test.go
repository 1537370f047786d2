package encoding

import "testing"

func TestBitrate(t *testing.T) {
	tests := []struct {
		name         string
		width        int
		height       int
		fps          int
		bitsPerPixel float64
		expected     int
	}{
		{
			name:  "1080p30 balanced",
			width: 1920, height: 1080, fps: 30,
			bitsPerPixel: BitsPerPixelBalanced,
			expected:     4976640,
		},
		{
			name:  "720p30 economy",
			width: 1280, height: 720, fps: 30,
			bitsPerPixel: BitsPerPixelEconomy,
			expected:     1105920,
		},
		{
			name:  "480p15 premium",
			width: 854, height: 480, fps: 15,
			bitsPerPixel: BitsPerPixelPremium,
			expected:     614880,
		},
		{
			name:  "zero dimensions",
			width: 0, height: 0, fps: 30,
			bitsPerPixel: BitsPerPixelBalanced,
			expected:     0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Bitrate(tt.width, tt.height, tt.fps, tt.bitsPerPixel)
			if got != tt.expected {
				t.Errorf("Bitrate() = %d, want %d", got, tt.expected)
			}
			if got < 0 {
				t.Errorf("Bitrate() = %d, must be non-negative", got)
			}
		})
	}
}

func TestAudioConfigFor(t *testing.T) {
	tests := []struct {
		name     string
		tier     QualityTier
		expected AudioConfig
	}{
		{"480p is mono 32k", Quality480p, AudioConfig{"32k", 1, 32000}},
		{"720p is stereo 64k", Quality720p, AudioConfig{"64k", 2, 64000}},
		{"1080p is stereo 128k", Quality1080p, AudioConfig{"128k", 2, 128000}},
		{"auto falls through to default", QualityAuto, AudioConfig{"128k", 2, 128000}},
		{"unknown tier falls through to default", QualityTier("weird"), AudioConfig{"128k", 2, 128000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AudioConfigFor(tt.tier)
			if got != tt.expected {
				t.Errorf("AudioConfigFor(%q) = %+v, want %+v", tt.tier, got, tt.expected)
			}
		})
	}
}

func TestCodecPreferencesByFrameRate(t *testing.T) {
	low := CodecPreferences(15)
	if low[0] != CodecVP9 {
		t.Errorf("below 24 fps the low-framerate-tolerant codec must come first, got %q", low[0].Name)
	}
	high := CodecPreferences(30)
	if high[0] != CodecVP8 {
		t.Errorf("at or above 24 fps the higher-compatibility codec must come first, got %q", high[0].Name)
	}
	boundary := CodecPreferences(24)
	if boundary[0] != CodecVP8 {
		t.Errorf("24 fps counts as high frame rate, got %q", boundary[0].Name)
	}
	for _, prefs := range [][]Codec{low, high} {
		if prefs[len(prefs)-1] != CodecBaseline {
			t.Error("preference list must end with the guaranteed baseline")
		}
	}
}

func TestSelectCodecFallsThrough(t *testing.T) {
	// Only the baseline is supported.
	got := SelectCodec(30, func(mime string) bool { return mime == CodecBaseline.MIME })
	if got != CodecBaseline {
		t.Errorf("SelectCodec fell through to %q, want baseline", got.Name)
	}

	// Nothing is supported: baseline is returned regardless.
	got = SelectCodec(30, func(string) bool { return false })
	if got != CodecBaseline {
		t.Errorf("SelectCodec with no support = %q, want baseline", got.Name)
	}

	// Nil probe takes the top preference.
	got = SelectCodec(10, nil)
	if got != CodecVP9 {
		t.Errorf("SelectCodec(10, nil) = %q, want vp9", got.Name)
	}
}

func TestQualityTierTargetSize(t *testing.T) {
	if _, _, ok := QualityAuto.TargetSize(); ok {
		t.Error("auto tier must not have a target size")
	}
	w, h, ok := Quality720p.TargetSize()
	if !ok || w != 1280 || h != 720 {
		t.Errorf("720p target = %dx%d (%v), want 1280x720", w, h, ok)
	}
}

func TestParseQualityTier(t *testing.T) {
	if ParseQualityTier("1080p") != Quality1080p {
		t.Error("failed to parse 1080p")
	}
	if ParseQualityTier("") != QualityAuto {
		t.Error("empty tier must default to auto")
	}
	if ParseQualityTier("nonsense") != QualityAuto {
		t.Error("unknown tier must default to auto")
	}
}
