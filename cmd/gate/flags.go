package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/futureproathletes/timing-gates/internal/config"
)

var (
	devMode         = flag.Bool("dev", false, "Run against the built-in sensor simulator")
	configPath      = flag.String("config", "", "Path to a JSON config file (default "+config.DefaultConfigPath+" when present)")
	listen          = flag.String("listen", config.DefaultListen, "HTTP listen address")
	port            = flag.String("port", config.DefaultSerialPort, "Serial port of the rangefinder (ignored in dev mode)")
	baudRate        = flag.Int("baud", config.DefaultBaudRate, "Serial baud rate")
	frameRate       = flag.Int("frame-rate", config.DefaultFrameRateHz, "Sensor output rate in Hz")
	skipInit        = flag.Bool("skip-init", false, "Do not send configuration commands to the sensor at startup")
	threshold       = flag.Int("threshold", config.DefaultPresenceThresholdCM, "Presence threshold in cm; closer readings mean an athlete is in the gate")
	changeThreshold = flag.Int("change-threshold", config.DefaultChangeThresholdCM, "Smallest distance change in cm sent to displays")
	pollInterval    = flag.Duration("poll-interval", config.DefaultPollInterval, "Sensor polling interval")
	grpcListen      = flag.String("grpc-listen", "", "gRPC health listen address (disabled when empty)")
	natsURL         = flag.String("nats-url", "", "NATS server URL for publishing gate events (disabled when empty)")
	natsPrefix      = flag.String("nats-prefix", config.DefaultNATSSubjectPrefix, "NATS subject prefix")
	quiet           = flag.Bool("quiet", false, "Do not log every broadcast distance")
	showVersion     = flag.Bool("version", false, "Print the version and exit")
	listPorts       = flag.Bool("list-ports", false, "List serial ports and exit")
)

// loadConfig resolves the configuration: explicitly set flags win over
// GATE_* environment variables, which win over the config file.
func loadConfig(fset *flag.FlagSet) (*config.GateConfig, error) {
	cfg, err := loadConfigFile(*configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	set := make(map[string]bool)
	fset.Visit(func(f *flag.Flag) { set[f.Name] = true })
	applyFlags(cfg, set)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadConfigFile loads path, or the defaults file when path is empty and the
// defaults file exists.
func loadConfigFile(path string) (*config.GateConfig, error) {
	if path != "" {
		return config.LoadGateConfig(path)
	}
	if _, err := os.Stat(config.DefaultConfigPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return config.EmptyGateConfig(), nil
		}
		return nil, err
	}
	return config.LoadGateConfig(config.DefaultConfigPath)
}

func applyFlags(cfg *config.GateConfig, set map[string]bool) {
	if set["listen"] {
		cfg.Listen = listen
	}
	if set["port"] {
		cfg.SerialPort = port
	}
	if set["baud"] {
		cfg.BaudRate = baudRate
	}
	if set["frame-rate"] {
		cfg.FrameRateHz = frameRate
	}
	if set["skip-init"] {
		cfg.SkipSensorInit = skipInit
	}
	if set["threshold"] {
		cfg.PresenceThresholdCM = threshold
	}
	if set["change-threshold"] {
		cfg.ChangeThresholdCM = changeThreshold
	}
	if set["poll-interval"] {
		cfg.PollInterval = durationString(*pollInterval)
	}
	if set["grpc-listen"] {
		cfg.GRPCListen = grpcListen
	}
	if set["nats-url"] {
		cfg.NATSURL = natsURL
	}
	if set["nats-prefix"] {
		cfg.NATSSubjectPrefix = natsPrefix
	}
	if set["quiet"] {
		logReadings := !*quiet
		cfg.LogReadings = &logReadings
	}
}

func durationString(d time.Duration) *string {
	s := d.String()
	return &s
}
