package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// DefaultConfigPath is the path to the canonical gate defaults file.
const DefaultConfigPath = "config/gate.defaults.json"

// Defaults used when a field is not set by the file, the environment or a
// flag.
const (
	DefaultSerialPort          = "/dev/ttyUSB0"
	DefaultBaudRate            = 115200
	DefaultFrameRateHz         = 100
	DefaultPresenceThresholdCM = 100
	DefaultChangeThresholdCM   = 3
	DefaultPollInterval        = 5 * time.Millisecond
	DefaultListen              = ":8080"
	DefaultSensorStaleAfter    = 2 * time.Second
	DefaultNATSSubjectPrefix   = "gate"
	DefaultCalibrationWindow   = 1000
	DefaultDisplayWriteTimeout = 2 * time.Second
)

// GateConfig is the startup configuration of a gate. Every field is optional;
// the Get* methods supply defaults. Environment variables, when set, take
// precedence over the file.
type GateConfig struct {
	// Sensor
	SerialPort     *string `json:"serial_port,omitempty" env:"GATE_SERIAL_PORT"`
	BaudRate       *int    `json:"baud_rate,omitempty" env:"GATE_BAUD_RATE"`
	FrameRateHz    *int    `json:"frame_rate_hz,omitempty" env:"GATE_FRAME_RATE_HZ"`
	SkipSensorInit *bool   `json:"skip_sensor_init,omitempty" env:"GATE_SKIP_SENSOR_INIT"`

	// Timing
	PresenceThresholdCM *int    `json:"presence_threshold_cm,omitempty" env:"GATE_PRESENCE_THRESHOLD_CM"`
	ChangeThresholdCM   *int    `json:"change_threshold_cm,omitempty" env:"GATE_CHANGE_THRESHOLD_CM"`
	PollInterval        *string `json:"poll_interval,omitempty" env:"GATE_POLL_INTERVAL"` // duration string like "5ms"
	LogReadings         *bool   `json:"log_readings,omitempty" env:"GATE_LOG_READINGS"`

	// Network
	Listen              *string `json:"listen,omitempty" env:"GATE_LISTEN"`
	GRPCListen          *string `json:"grpc_listen,omitempty" env:"GATE_GRPC_LISTEN"`
	SensorStaleAfter    *string `json:"sensor_stale_after,omitempty" env:"GATE_SENSOR_STALE_AFTER"`
	DisplayWriteTimeout *string `json:"display_write_timeout,omitempty" env:"GATE_DISPLAY_WRITE_TIMEOUT"`
	NATSURL             *string `json:"nats_url,omitempty" env:"GATE_NATS_URL"`
	NATSSubjectPrefix   *string `json:"nats_subject_prefix,omitempty" env:"GATE_NATS_SUBJECT_PREFIX"`

	// Diagnostics
	CalibrationWindow *int `json:"calibration_window,omitempty" env:"GATE_CALIBRATION_WINDOW"`
}

// Helper functions to create pointers
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// EmptyGateConfig returns a GateConfig with all fields set to nil.
func EmptyGateConfig() *GateConfig {
	return &GateConfig{}
}

// DefaultGateConfig returns a GateConfig with every field set to its default.
func DefaultGateConfig() *GateConfig {
	return &GateConfig{
		SerialPort:          ptrString(DefaultSerialPort),
		BaudRate:            ptrInt(DefaultBaudRate),
		FrameRateHz:         ptrInt(DefaultFrameRateHz),
		SkipSensorInit:      ptrBool(false),
		PresenceThresholdCM: ptrInt(DefaultPresenceThresholdCM),
		ChangeThresholdCM:   ptrInt(DefaultChangeThresholdCM),
		PollInterval:        ptrString(DefaultPollInterval.String()),
		LogReadings:         ptrBool(true),
		Listen:              ptrString(DefaultListen),
		GRPCListen:          ptrString(""),
		SensorStaleAfter:    ptrString(DefaultSensorStaleAfter.String()),
		DisplayWriteTimeout: ptrString(DefaultDisplayWriteTimeout.String()),
		NATSURL:             ptrString(""),
		NATSSubjectPrefix:   ptrString(DefaultNATSSubjectPrefix),
		CalibrationWindow:   ptrInt(DefaultCalibrationWindow),
	}
}

// LoadGateConfig loads a GateConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file fall back to defaults, so partial
// configs are safe.
func LoadGateConfig(path string) (*GateConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyGateConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overlays GATE_* environment variables onto c. Unset variables
// leave the corresponding field untouched.
func (c *GateConfig) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *GateConfig) Validate() error {
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}
	if c.FrameRateHz != nil && (*c.FrameRateHz < 1 || *c.FrameRateHz > 1000) {
		return fmt.Errorf("frame_rate_hz must be between 1 and 1000, got %d", *c.FrameRateHz)
	}
	if c.PresenceThresholdCM != nil && *c.PresenceThresholdCM <= 0 {
		return fmt.Errorf("presence_threshold_cm must be positive, got %d", *c.PresenceThresholdCM)
	}
	if c.ChangeThresholdCM != nil && *c.ChangeThresholdCM <= 0 {
		return fmt.Errorf("change_threshold_cm must be positive, got %d", *c.ChangeThresholdCM)
	}
	if c.CalibrationWindow != nil && *c.CalibrationWindow <= 0 {
		return fmt.Errorf("calibration_window must be positive, got %d", *c.CalibrationWindow)
	}

	durations := []struct {
		name  string
		value *string
	}{
		{"poll_interval", c.PollInterval},
		{"sensor_stale_after", c.SensorStaleAfter},
		{"display_write_timeout", c.DisplayWriteTimeout},
	}
	for _, d := range durations {
		if d.value == nil || *d.value == "" {
			continue
		}
		v, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.value, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, *d.value)
		}
	}

	return nil
}

// GetSerialPort returns the serial_port value or the default.
func (c *GateConfig) GetSerialPort() string {
	if c.SerialPort == nil || *c.SerialPort == "" {
		return DefaultSerialPort
	}
	return *c.SerialPort
}

// GetBaudRate returns the baud_rate value or the default.
func (c *GateConfig) GetBaudRate() int {
	if c.BaudRate == nil {
		return DefaultBaudRate
	}
	return *c.BaudRate
}

// GetFrameRateHz returns the frame_rate_hz value or the default.
func (c *GateConfig) GetFrameRateHz() int {
	if c.FrameRateHz == nil {
		return DefaultFrameRateHz
	}
	return *c.FrameRateHz
}

// GetSkipSensorInit returns the skip_sensor_init value or the default.
func (c *GateConfig) GetSkipSensorInit() bool {
	if c.SkipSensorInit == nil {
		return false
	}
	return *c.SkipSensorInit
}

// GetPresenceThresholdCM returns the presence_threshold_cm value or the default.
func (c *GateConfig) GetPresenceThresholdCM() int {
	if c.PresenceThresholdCM == nil {
		return DefaultPresenceThresholdCM
	}
	return *c.PresenceThresholdCM
}

// GetChangeThresholdCM returns the change_threshold_cm value or the default.
func (c *GateConfig) GetChangeThresholdCM() int {
	if c.ChangeThresholdCM == nil {
		return DefaultChangeThresholdCM
	}
	return *c.ChangeThresholdCM
}

// GetPollInterval parses and returns the PollInterval as a time.Duration.
func (c *GateConfig) GetPollInterval() time.Duration {
	return parseDurationOr(c.PollInterval, DefaultPollInterval)
}

// GetLogReadings returns the log_readings value or the default.
func (c *GateConfig) GetLogReadings() bool {
	if c.LogReadings == nil {
		return true
	}
	return *c.LogReadings
}

// GetListen returns the HTTP listen address or the default.
func (c *GateConfig) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return DefaultListen
	}
	return *c.Listen
}

// GetGRPCListen returns the gRPC health listen address. Empty disables the
// health server.
func (c *GateConfig) GetGRPCListen() string {
	if c.GRPCListen == nil {
		return ""
	}
	return *c.GRPCListen
}

// GetSensorStaleAfter parses and returns the SensorStaleAfter as a time.Duration.
func (c *GateConfig) GetSensorStaleAfter() time.Duration {
	return parseDurationOr(c.SensorStaleAfter, DefaultSensorStaleAfter)
}

// GetDisplayWriteTimeout parses and returns the DisplayWriteTimeout as a time.Duration.
func (c *GateConfig) GetDisplayWriteTimeout() time.Duration {
	return parseDurationOr(c.DisplayWriteTimeout, DefaultDisplayWriteTimeout)
}

// GetNATSURL returns the NATS server URL. Empty disables publishing.
func (c *GateConfig) GetNATSURL() string {
	if c.NATSURL == nil {
		return ""
	}
	return *c.NATSURL
}

// GetNATSSubjectPrefix returns the nats_subject_prefix value or the default.
func (c *GateConfig) GetNATSSubjectPrefix() string {
	if c.NATSSubjectPrefix == nil || *c.NATSSubjectPrefix == "" {
		return DefaultNATSSubjectPrefix
	}
	return *c.NATSSubjectPrefix
}

// GetCalibrationWindow returns the calibration_window value or the default.
func (c *GateConfig) GetCalibrationWindow() int {
	if c.CalibrationWindow == nil {
		return DefaultCalibrationWindow
	}
	return *c.CalibrationWindow
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def // default on parse error
	}
	return d
}
