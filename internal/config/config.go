// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.yaml.in/yaml/v3"
)

// ConfigFilePath is the default location for the configuration file.
const ConfigFilePath = "/etc/doorbelld/config.yaml"

// Config represents the complete doorbelld configuration: every tunable
// named in §6 of the specification, grouped by the subsystem it configures.
type Config struct {
	Storage   StorageConfig   `yaml:"storage" koanf:"storage"`
	Audio     AudioConfig     `yaml:"audio" koanf:"audio"`
	Video     VideoConfig     `yaml:"video" koanf:"video"`
	Capture   CaptureConfig   `yaml:"capture" koanf:"capture"`
	Recorder  RecorderConfig  `yaml:"recorder" koanf:"recorder"`
	Retention RetentionConfig `yaml:"retention" koanf:"retention"`
	Streamer  StreamerConfig  `yaml:"streamer" koanf:"streamer"`
	Player    PlayerConfig    `yaml:"player" koanf:"player"`
	Button    ButtonConfig    `yaml:"button" koanf:"button"`
	Control   ControlConfig   `yaml:"control" koanf:"control"`
	Settings  SettingsConfig  `yaml:"settings" koanf:"settings"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat" koanf:"heartbeat"`
	Health    HealthConfig    `yaml:"health" koanf:"health"`
	Clock     ClockConfig     `yaml:"clock" koanf:"clock"`
	Device    DeviceConfig    `yaml:"device" koanf:"device"`
}

// StorageConfig locates the removable-storage directory layout (§6) and the
// local KV file.
type StorageConfig struct {
	VideoDir string `yaml:"video_dir" koanf:"video_dir"`
	AudioDir string `yaml:"audio_dir" koanf:"audio_dir"`
	KVPath   string `yaml:"kv_path" koanf:"kv_path"`
	LockDir  string `yaml:"lock_dir" koanf:"lock_dir"`
}

// AudioConfig configures the I2S capture source (C1).
type AudioConfig struct {
	Device     string  `yaml:"device" koanf:"device"` // e.g. "hw:0,0"
	SampleRate int     `yaml:"sample_rate" koanf:"sample_rate"`
	Channels   int     `yaml:"channels" koanf:"channels"`
	ALCGainDB  float64 `yaml:"alc_gain_db" koanf:"alc_gain_db"`
	ReadTimeout time.Duration `yaml:"read_timeout" koanf:"read_timeout"`
}

// VideoConfig configures the parallel-camera-interface capture source (C2).
type VideoConfig struct {
	Device string `yaml:"device" koanf:"device"`
	Width  int    `yaml:"width" koanf:"width"`
	Height int    `yaml:"height" koanf:"height"`
	FPS    int    `yaml:"fps" koanf:"fps"`
}

// CaptureConfig configures the capture engine's fan-out (C3).
type CaptureConfig struct {
	QueueDepth int `yaml:"queue_depth" koanf:"queue_depth"`
}

// RecorderConfig configures the MP4 segmenter (C4).
type RecorderConfig struct {
	SliceDuration time.Duration `yaml:"slice_duration" koanf:"slice_duration"`
	CacheSize     int           `yaml:"cache_size" koanf:"cache_size"` // write-behind buffer bytes
}

// RetentionConfig configures the reaper (C5).
type RetentionConfig struct {
	Hours         int           `yaml:"hours" koanf:"hours"`
	SweepInterval time.Duration `yaml:"sweep_interval" koanf:"sweep_interval"`
}

// StreamerConfig configures the live streamer (C6).
type StreamerConfig struct {
	Endpoint         string        `yaml:"endpoint" koanf:"endpoint"`
	VideoQueueDepth  int           `yaml:"video_queue_depth" koanf:"video_queue_depth"`
	AudioQueueDepth  int           `yaml:"audio_queue_depth" koanf:"audio_queue_depth"`
	ReconnectTimeout time.Duration `yaml:"reconnect_timeout" koanf:"reconnect_timeout"`
	ReconnectCeil    time.Duration `yaml:"reconnect_ceil" koanf:"reconnect_ceil"`
	WriteTimeout     time.Duration `yaml:"write_timeout" koanf:"write_timeout"`
	GraceWindow      time.Duration `yaml:"grace_window" koanf:"grace_window"`
	RateLimitBPS     int           `yaml:"rate_limit_bytes_per_sec" koanf:"rate_limit_bytes_per_sec"`
}

// PlayerConfig configures the audio player (C7).
type PlayerConfig struct {
	ChunkSize  int           `yaml:"chunk_size" koanf:"chunk_size"`
	WriteTimeout time.Duration `yaml:"write_timeout" koanf:"write_timeout"`
}

// ButtonConfig configures the debounced GPIO input (C8).
type ButtonConfig struct {
	Chip           string        `yaml:"chip" koanf:"chip"`
	Line           int           `yaml:"line" koanf:"line"`
	DebounceWindow time.Duration `yaml:"debounce_window" koanf:"debounce_window"`
}

// ControlConfig configures the MQTT control router (C9).
type ControlConfig struct {
	BrokerURL   string `yaml:"broker_url" koanf:"broker_url"`
	CAFile      string `yaml:"ca_file" koanf:"ca_file"`
	CertFile    string `yaml:"cert_file" koanf:"cert_file"`
	KeyFile     string `yaml:"key_file" koanf:"key_file"`
	Username    string `yaml:"username" koanf:"username"`
	Password    string `yaml:"password" koanf:"password"`
	AccessToken string `yaml:"access_token" koanf:"access_token"`
}

// SettingsConfig holds the chime settings (C10). Validate checks ChimeMin
// and ChimeMax, but the settings store does not read them: it enforces its
// own fixed range (settings.ChimeMin..settings.ChimeMax). DefaultChime seeds
// an empty store at startup.
type SettingsConfig struct {
	ChimeMin     int `yaml:"chime_min" koanf:"chime_min"`
	ChimeMax     int `yaml:"chime_max" koanf:"chime_max"`
	DefaultChime int `yaml:"default_chime" koanf:"default_chime"`
}

// HeartbeatConfig configures the periodic health reporter (C11).
type HeartbeatConfig struct {
	Interval  time.Duration `yaml:"interval" koanf:"interval"`
	FWVersion string        `yaml:"fw_version" koanf:"fw_version"`
}

// HealthConfig configures the local health/diagnostics HTTP surface.
type HealthConfig struct {
	Addr string `yaml:"addr" koanf:"addr"`
}

// ClockConfig configures startup NTP synchronization (§4.13 step 6).
type ClockConfig struct {
	Servers []string      `yaml:"servers" koanf:"servers"`
	Timeout time.Duration `yaml:"timeout" koanf:"timeout"`
}

// DeviceConfig holds compile-time identity defaults used when provisioning
// (C12) finds no stored identity in KV.
type DeviceConfig struct {
	DefaultID  string `yaml:"default_id" koanf:"default_id"`
	ModelName  string `yaml:"model_name" koanf:"model_name"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 - Config path is from administrator-controlled configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := *DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// atomicFile abstracts file operations used by Save for testability.
type atomicFile interface {
	Write([]byte) (int, error)
	Sync() error
	Chmod(os.FileMode) error
	Close() error
	Name() string
}

// atomicCreateTemp is the injectable temp-file creator used by Save.
type atomicCreateTemp func(dir, pattern string) (atomicFile, error)

func defaultCreateTemp(dir, pattern string) (atomicFile, error) {
	return os.CreateTemp(dir, pattern) // #nosec G304
}

// Save writes the configuration to a YAML file using a write-temp,
// fsync, rename sequence so a crash mid-write never corrupts the file
// on disk.
func (c *Config) Save(path string) error {
	return c.saveWith(path, defaultCreateTemp)
}

func (c *Config) saveWith(path string, createTemp atomicCreateTemp) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)

	tmpFile, err := createTemp(dir, ".config.*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp config file: %w", err)
	}

	// Config may carry MQTT credentials; restrict to owner+group.
	// #nosec G302 -- config file restricted to owner+group for security
	if err := tmpFile.Chmod(0640); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp config file: %w", err)
	}

	// #nosec G703 -- path is from CLI flag/config, not web request input
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp config file: %w", err)
	}

	success = true
	return nil
}

// Validate checks configuration for invalid values.
func (c *Config) Validate() error {
	if c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 48000 {
		return fmt.Errorf("audio.sample_rate must be in [8000,48000]")
	}
	if c.Audio.Channels != 1 && c.Audio.Channels != 2 {
		return fmt.Errorf("audio.channels must be 1 or 2")
	}
	if c.Capture.QueueDepth <= 0 {
		return fmt.Errorf("capture.queue_depth must be positive")
	}
	if c.Recorder.SliceDuration <= 0 {
		return fmt.Errorf("recorder.slice_duration must be positive")
	}
	if c.Retention.Hours <= 0 {
		return fmt.Errorf("retention.hours must be positive")
	}
	if c.Streamer.Endpoint == "" {
		return fmt.Errorf("streamer.endpoint must be set")
	}
	if c.Streamer.VideoQueueDepth <= 0 || c.Streamer.AudioQueueDepth <= 0 {
		return fmt.Errorf("streamer queue depths must be positive")
	}
	if c.Settings.ChimeMin <= 0 || c.Settings.ChimeMax < c.Settings.ChimeMin {
		return fmt.Errorf("settings.chime_min/chime_max must form a valid non-empty range")
	}
	if c.Settings.DefaultChime < c.Settings.ChimeMin || c.Settings.DefaultChime > c.Settings.ChimeMax {
		return fmt.Errorf("settings.default_chime must fall within [chime_min,chime_max]")
	}
	if c.Heartbeat.Interval <= 0 {
		return fmt.Errorf("heartbeat.interval must be positive")
	}
	if c.Button.Line < 0 {
		return fmt.Errorf("button.line must be non-negative")
	}
	if len(c.Clock.Servers) < 2 {
		return fmt.Errorf("clock.servers must list at least two stratum-1 peers")
	}
	return nil
}

// DefaultConfig returns a configuration with sensible defaults matching §5
// and §6 of the specification.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			VideoDir: "/media/doorbell/video",
			AudioDir: "/media/doorbell/audio",
			KVPath:   "/var/lib/doorbelld/doorbelld.db",
			LockDir:  "/var/run/doorbelld",
		},
		Audio: AudioConfig{
			Device:      "hw:0,0",
			SampleRate:  16000,
			Channels:    1,
			ALCGainDB:   0,
			ReadTimeout: 1 * time.Second,
		},
		Video: VideoConfig{
			Device: "/dev/video0",
			Width:  1280,
			Height: 720,
			FPS:    15,
		},
		Capture: CaptureConfig{
			QueueDepth: 64,
		},
		Recorder: RecorderConfig{
			SliceDuration: 10 * time.Minute,
			CacheSize:     16 * 1024,
		},
		Retention: RetentionConfig{
			Hours:         72,
			SweepInterval: 5 * time.Minute,
		},
		Streamer: StreamerConfig{
			Endpoint:         "wss://stream.local/live",
			VideoQueueDepth:  24,
			AudioQueueDepth:  50,
			ReconnectTimeout: 1 * time.Second,
			ReconnectCeil:    30 * time.Second,
			WriteTimeout:     2 * time.Second,
			GraceWindow:      2 * time.Second,
			RateLimitBPS:     2 * 1024 * 1024,
		},
		Player: PlayerConfig{
			ChunkSize:    2 * 1024,
			WriteTimeout: 1 * time.Second,
		},
		Button: ButtonConfig{
			Chip:           "gpiochip0",
			Line:           17,
			DebounceWindow: 50 * time.Millisecond,
		},
		Control: ControlConfig{
			BrokerURL: "tls://mqtt.local:8883",
		},
		Settings: SettingsConfig{
			ChimeMin:     1,
			ChimeMax:     4,
			DefaultChime: 1,
		},
		Heartbeat: HeartbeatConfig{
			Interval:  60 * time.Second,
			FWVersion: "dev",
		},
		Health: HealthConfig{
			Addr: "127.0.0.1:9998",
		},
		Clock: ClockConfig{
			Servers: []string{"time1.google.com", "time2.google.com"},
			Timeout: 30 * time.Second,
		},
		Device: DeviceConfig{
			DefaultID: "doorbell-unprovisioned",
			ModelName: "doorbelld-v1",
		},
	}
}
