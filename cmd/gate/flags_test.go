package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/futureproathletes/timing-gates/internal/config"
)

// markSet returns a FlagSet on which the named flags count as set, the way
// flag.CommandLine would after parsing them.
func markSet(t *testing.T, names ...string) *flag.FlagSet {
	t.Helper()
	fset := flag.NewFlagSet("gate-test", flag.ContinueOnError)
	var args []string
	for _, name := range names {
		fset.String(name, "", "")
		args = append(args, "-"+name+"=x")
	}
	if err := fset.Parse(args); err != nil {
		t.Fatalf("failed to parse test flags: %v", err)
	}
	return fset
}

func restore[T any](t *testing.T, p *T) {
	old := *p
	t.Cleanup(func() { *p = old })
}

func TestFlagDefaults(t *testing.T) {
	if *listen != ":8080" {
		t.Errorf("listen default = %q, want :8080", *listen)
	}
	if *threshold != 100 {
		t.Errorf("threshold default = %d, want 100", *threshold)
	}
	if *changeThreshold != 3 {
		t.Errorf("change-threshold default = %d, want 3", *changeThreshold)
	}
	if *pollInterval != 5*time.Millisecond {
		t.Errorf("poll-interval default = %v, want 5ms", *pollInterval)
	}
	if *devMode {
		t.Error("dev should default to false")
	}
	if *natsURL != "" {
		t.Errorf("nats-url default = %q, want empty", *natsURL)
	}
}

func TestLoadConfig_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.json")
	body := `{"presence_threshold_cm": 90, "listen": ":7000", "change_threshold_cm": 5}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	restore(t, configPath)
	restore(t, threshold)
	*configPath = path
	*threshold = 120

	t.Setenv("GATE_PRESENCE_THRESHOLD_CM", "95")
	t.Setenv("GATE_LISTEN", ":7100")

	cfg, err := loadConfig(markSet(t, "threshold"))
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if got := cfg.GetPresenceThresholdCM(); got != 120 {
		t.Errorf("threshold = %d, want 120 from the flag", got)
	}
	if got := cfg.GetListen(); got != ":7100" {
		t.Errorf("listen = %q, want :7100 from the environment", got)
	}
	if got := cfg.GetChangeThresholdCM(); got != 5 {
		t.Errorf("change threshold = %d, want 5 from the file", got)
	}
	if got := cfg.GetFrameRateHz(); got != config.DefaultFrameRateHz {
		t.Errorf("frame rate = %d, want default %d", got, config.DefaultFrameRateHz)
	}
}

func TestLoadConfig_UnsetFlagsDoNotOverride(t *testing.T) {
	restore(t, configPath)
	restore(t, listen)
	*configPath = ""
	*listen = ":9999"

	cfg, err := loadConfig(markSet(t))
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if got := cfg.GetListen(); got != config.DefaultListen {
		t.Errorf("listen = %q, want %q", got, config.DefaultListen)
	}
}

func TestLoadConfig_InvalidFlagValue(t *testing.T) {
	restore(t, configPath)
	restore(t, frameRate)
	*configPath = ""
	*frameRate = 5000

	if _, err := loadConfig(markSet(t, "frame-rate")); err == nil {
		t.Error("expected error for frame rate above 1000 Hz")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	restore(t, configPath)
	*configPath = filepath.Join(t.TempDir(), "missing.json")

	if _, err := loadConfig(markSet(t)); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestApplyFlags(t *testing.T) {
	restore(t, quiet)
	restore(t, pollInterval)
	restore(t, natsURL)
	*quiet = true
	*pollInterval = 20 * time.Millisecond
	*natsURL = "nats://bus:4222"

	cfg := config.EmptyGateConfig()
	applyFlags(cfg, map[string]bool{"quiet": true, "poll-interval": true, "nats-url": true})

	if cfg.GetLogReadings() {
		t.Error("--quiet should disable reading logs")
	}
	if got := cfg.GetPollInterval(); got != 20*time.Millisecond {
		t.Errorf("poll interval = %v, want 20ms", got)
	}
	if got := cfg.GetNATSURL(); got != "nats://bus:4222" {
		t.Errorf("nats url = %q", got)
	}
	if cfg.Listen != nil {
		t.Error("unset flags must leave fields nil")
	}
}
