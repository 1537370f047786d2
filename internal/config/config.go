package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/clipforge/capture/internal/encoding"
	"github.com/clipforge/capture/internal/logger"
)

// CaptureConfig holds the default capture parameters applied when a request
// leaves them unset
type CaptureConfig struct {
	FPS       int    `json:"fps" yaml:"fps"`
	Quality   string `json:"quality" yaml:"quality"`
	Preset    string `json:"preset" yaml:"preset"` // economy, balanced, premium
	OutputDir string `json:"output_dir" yaml:"output_dir"`
}

// BitsPerPixel maps the configured preset to the bitrate quality dial
func (c CaptureConfig) BitsPerPixel() float64 {
	switch c.Preset {
	case "economy":
		return encoding.BitsPerPixelEconomy
	case "premium":
		return encoding.BitsPerPixelPremium
	default:
		return encoding.BitsPerPixelBalanced
	}
}

// AudioConfig holds the default audio request settings
type AudioConfig struct {
	Microphone       bool   `json:"microphone" yaml:"microphone"`
	MicrophoneDevice string `json:"microphone_device,omitempty" yaml:"microphone_device,omitempty"`
	DesktopAudio     bool   `json:"desktop_audio" yaml:"desktop_audio"`
	Required         bool   `json:"required" yaml:"required"`
}

// DebugConfig configures the debug API server and timeline retention
type DebugConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	ListenAddr     string `json:"listen_addr" yaml:"listen_addr"`
	TimelineEvents int    `json:"timeline_events" yaml:"timeline_events"`
}

// Config represents the application configuration
type Config struct {
	Capture  CaptureConfig `json:"capture" yaml:"capture"`
	Audio    AudioConfig   `json:"audio" yaml:"audio"`
	Debug    DebugConfig   `json:"debug" yaml:"debug"`
	LogLevel string        `json:"log_level" yaml:"log_level"`
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// NewManager creates a new configuration manager. With an empty configFile
// the default path under the user config directory is used, and a missing
// file is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".config", "clipforge")
	actualConfigPath := filepath.Join(configDir, "config.yaml")
	if configFile != "" {
		actualConfigPath = configFile
	} else if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = getDefaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("quality", m.config.Capture.Quality).
		Int("fps", m.config.Capture.FPS).
		Msg("Config loaded")

	return m, nil
}

// getDefaults returns default configuration
func getDefaults() *Config {
	return &Config{
		Capture: CaptureConfig{
			FPS:       30,
			Quality:   string(encoding.QualityAuto),
			Preset:    "balanced",
			OutputDir: "",
		},
		Audio: AudioConfig{
			Microphone:   false,
			DesktopAudio: false,
		},
		Debug: DebugConfig{
			Enabled:        false,
			ListenAddr:     "127.0.0.1:8573",
			TimelineEvents: 2048,
		},
		LogLevel: "info",
	}
}

// load reads the configuration from disk
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	defaults := getDefaults()
	if cfg.Capture.FPS <= 0 {
		cfg.Capture.FPS = defaults.Capture.FPS
	}
	if cfg.Capture.Quality == "" {
		cfg.Capture.Quality = defaults.Capture.Quality
	}
	if cfg.Capture.Preset == "" {
		cfg.Capture.Preset = defaults.Capture.Preset
	}
	if cfg.Debug.ListenAddr == "" {
		cfg.Debug.ListenAddr = defaults.Debug.ListenAddr
	}
	if cfg.Debug.TimelineEvents <= 0 {
		cfg.Debug.TimelineEvents = defaults.Debug.TimelineEvents
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}

	m.mu.Lock()
	m.config = &cfg
	m.mu.Unlock()
	return nil
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	data, err := yaml.Marshal(m.config)
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.config
}

// Update applies fn to the configuration and persists the result
func (m *Manager) Update(fn func(*Config)) error {
	m.mu.Lock()
	fn(m.config)
	m.mu.Unlock()
	return m.Save()
}

// Path returns the configuration file path
func (m *Manager) Path() string {
	return m.configPath
}
