package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestEmptyGateConfigDefaults(t *testing.T) {
	cfg := EmptyGateConfig()

	if got := cfg.GetSerialPort(); got != DefaultSerialPort {
		t.Errorf("GetSerialPort() = %q, want %q", got, DefaultSerialPort)
	}
	if got := cfg.GetBaudRate(); got != 115200 {
		t.Errorf("GetBaudRate() = %d, want 115200", got)
	}
	if got := cfg.GetFrameRateHz(); got != 100 {
		t.Errorf("GetFrameRateHz() = %d, want 100", got)
	}
	if cfg.GetSkipSensorInit() {
		t.Error("GetSkipSensorInit() = true, want false")
	}
	if got := cfg.GetPresenceThresholdCM(); got != 100 {
		t.Errorf("GetPresenceThresholdCM() = %d, want 100", got)
	}
	if got := cfg.GetChangeThresholdCM(); got != 3 {
		t.Errorf("GetChangeThresholdCM() = %d, want 3", got)
	}
	if got := cfg.GetPollInterval(); got != 5*time.Millisecond {
		t.Errorf("GetPollInterval() = %v, want 5ms", got)
	}
	if !cfg.GetLogReadings() {
		t.Error("GetLogReadings() = false, want true")
	}
	if got := cfg.GetListen(); got != ":8080" {
		t.Errorf("GetListen() = %q, want :8080", got)
	}
	if got := cfg.GetGRPCListen(); got != "" {
		t.Errorf("GetGRPCListen() = %q, want empty", got)
	}
	if got := cfg.GetSensorStaleAfter(); got != 2*time.Second {
		t.Errorf("GetSensorStaleAfter() = %v, want 2s", got)
	}
	if got := cfg.GetDisplayWriteTimeout(); got != 2*time.Second {
		t.Errorf("GetDisplayWriteTimeout() = %v, want 2s", got)
	}
	if got := cfg.GetNATSURL(); got != "" {
		t.Errorf("GetNATSURL() = %q, want empty", got)
	}
	if got := cfg.GetNATSSubjectPrefix(); got != "gate" {
		t.Errorf("GetNATSSubjectPrefix() = %q, want gate", got)
	}
	if got := cfg.GetCalibrationWindow(); got != 1000 {
		t.Errorf("GetCalibrationWindow() = %d, want 1000", got)
	}
}

func TestDefaultGateConfigMatchesGetters(t *testing.T) {
	def := DefaultGateConfig()
	empty := EmptyGateConfig()

	if err := def.Validate(); err != nil {
		t.Fatalf("DefaultGateConfig().Validate() error = %v", err)
	}
	if def.GetPollInterval() != empty.GetPollInterval() {
		t.Errorf("poll interval mismatch: %v vs %v", def.GetPollInterval(), empty.GetPollInterval())
	}
	if def.GetPresenceThresholdCM() != empty.GetPresenceThresholdCM() {
		t.Errorf("presence threshold mismatch")
	}
	if def.GetSensorStaleAfter() != empty.GetSensorStaleAfter() {
		t.Errorf("stale after mismatch")
	}
}

func TestLoadGateConfig(t *testing.T) {
	path := writeConfig(t, "gate.json", `{
		"serial_port": "/dev/ttyAMA0",
		"presence_threshold_cm": 80,
		"poll_interval": "10ms",
		"log_readings": false,
		"nats_url": "nats://localhost:4222"
	}`)

	cfg, err := LoadGateConfig(path)
	if err != nil {
		t.Fatalf("LoadGateConfig() error = %v", err)
	}
	if got := cfg.GetSerialPort(); got != "/dev/ttyAMA0" {
		t.Errorf("GetSerialPort() = %q", got)
	}
	if got := cfg.GetPresenceThresholdCM(); got != 80 {
		t.Errorf("GetPresenceThresholdCM() = %d, want 80", got)
	}
	if got := cfg.GetPollInterval(); got != 10*time.Millisecond {
		t.Errorf("GetPollInterval() = %v, want 10ms", got)
	}
	if cfg.GetLogReadings() {
		t.Error("GetLogReadings() = true, want false")
	}
	if got := cfg.GetNATSURL(); got != "nats://localhost:4222" {
		t.Errorf("GetNATSURL() = %q", got)
	}
	// omitted fields fall back to defaults
	if got := cfg.GetChangeThresholdCM(); got != 3 {
		t.Errorf("GetChangeThresholdCM() = %d, want 3", got)
	}
}

func TestLoadGateConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "gate.yaml", `{}`, ".json extension"},
		{"bad json", "gate.json", `{`, "parse config JSON"},
		{"bad frame rate", "gate.json", `{"frame_rate_hz": 2000}`, "frame_rate_hz"},
		{"zero presence", "gate.json", `{"presence_threshold_cm": 0}`, "presence_threshold_cm"},
		{"negative change", "gate.json", `{"change_threshold_cm": -1}`, "change_threshold_cm"},
		{"bad duration", "gate.json", `{"poll_interval": "soon"}`, "poll_interval"},
		{"negative duration", "gate.json", `{"sensor_stale_after": "-1s"}`, "sensor_stale_after"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.body)
			_, err := LoadGateConfig(path)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadGateConfigMissingFile(t *testing.T) {
	_, err := LoadGateConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadGateConfigTooLarge(t *testing.T) {
	body := `{"serial_port": "` + strings.Repeat("x", 1024*1024) + `"}`
	path := writeConfig(t, "big.json", body)
	_, err := LoadGateConfig(path)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected too large error, got %v", err)
	}
}

func TestLoadDefaultsFile(t *testing.T) {
	cfg, err := LoadGateConfig(filepath.Join("..", "..", DefaultConfigPath))
	if err != nil {
		t.Fatalf("LoadGateConfig(defaults) error = %v", err)
	}
	if got := cfg.GetFrameRateHz(); got != DefaultFrameRateHz {
		t.Errorf("GetFrameRateHz() = %d, want %d", got, DefaultFrameRateHz)
	}
	if got := cfg.GetListen(); got != DefaultListen {
		t.Errorf("GetListen() = %q, want %q", got, DefaultListen)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("GATE_SERIAL_PORT", "/dev/ttyS1")
	t.Setenv("GATE_PRESENCE_THRESHOLD_CM", "120")
	t.Setenv("GATE_LOG_READINGS", "false")
	t.Setenv("GATE_POLL_INTERVAL", "20ms")

	cfg := EmptyGateConfig()
	cfg.Listen = ptrString(":9000")
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}

	if got := cfg.GetSerialPort(); got != "/dev/ttyS1" {
		t.Errorf("GetSerialPort() = %q", got)
	}
	if got := cfg.GetPresenceThresholdCM(); got != 120 {
		t.Errorf("GetPresenceThresholdCM() = %d, want 120", got)
	}
	if cfg.GetLogReadings() {
		t.Error("GetLogReadings() = true, want false")
	}
	if got := cfg.GetPollInterval(); got != 20*time.Millisecond {
		t.Errorf("GetPollInterval() = %v, want 20ms", got)
	}
	// unset variables leave file values alone
	if got := cfg.GetListen(); got != ":9000" {
		t.Errorf("GetListen() = %q, want :9000", got)
	}
	if cfg.NATSURL != nil {
		t.Errorf("NATSURL = %q, want nil", *cfg.NATSURL)
	}
}

func TestApplyEnvInvalid(t *testing.T) {
	t.Setenv("GATE_BAUD_RATE", "fast")
	if err := EmptyGateConfig().ApplyEnv(); err == nil {
		t.Error("expected error for non-numeric GATE_BAUD_RATE")
	}
}

func TestParseDurationOrFallsBack(t *testing.T) {
	if got := parseDurationOr(ptrString("nope"), time.Second); got != time.Second {
		t.Errorf("parseDurationOr() = %v, want 1s", got)
	}
	if got := parseDurationOr(nil, time.Second); got != time.Second {
		t.Errorf("parseDurationOr(nil) = %v, want 1s", got)
	}
}
