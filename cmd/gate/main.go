package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/futureproathletes/timing-gates/internal/api"
	"github.com/futureproathletes/timing-gates/internal/broadcast"
	"github.com/futureproathletes/timing-gates/internal/calibrate"
	"github.com/futureproathletes/timing-gates/internal/config"
	"github.com/futureproathletes/timing-gates/internal/engine"
	"github.com/futureproathletes/timing-gates/internal/events"
	"github.com/futureproathletes/timing-gates/internal/gate"
	"github.com/futureproathletes/timing-gates/internal/health"
	"github.com/futureproathletes/timing-gates/internal/monitoring"
	"github.com/futureproathletes/timing-gates/internal/sampler"
	"github.com/futureproathletes/timing-gates/internal/sensor"
	"github.com/futureproathletes/timing-gates/internal/timeutil"
	"github.com/futureproathletes/timing-gates/internal/units"
	"github.com/futureproathletes/timing-gates/internal/version"
)

// simulatorFrameInterval paces the simulator at the sensor's default 100 Hz.
const simulatorFrameInterval = 10 * time.Millisecond

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("timing-gates", version.String())
		return
	}
	if *listPorts {
		ports, err := sensor.ListPorts()
		if err != nil {
			log.Fatalf("failed to list serial ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := loadConfig(flag.CommandLine)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	reg := prom.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(reg)

	dev, err := openSensor(cfg, metrics)
	if err != nil {
		log.Fatalf("failed to open sensor: %v", err)
	}
	defer dev.Close()

	if cfg.GetSkipSensorInit() {
		log.Print("skipping sensor initialisation")
	} else if err := dev.Initialise(cfg.GetFrameRateHz()); err != nil {
		log.Fatalf("failed to initialise sensor: %v", err)
	} else {
		log.Printf("initialised sensor at %d Hz", cfg.GetFrameRateHz())
	}

	uptime := timeutil.NewUptime(timeutil.RealClock{})
	smp := sampler.New(dev, uptime.Millis, cfg.GetChangeThresholdCM())
	session := gate.NewSession(cfg.GetPresenceThresholdCM())

	hello, err := broadcast.EncodeHello(broadcast.Hello{
		SessionID:           session.ID(),
		PresenceThresholdCM: cfg.GetPresenceThresholdCM(),
		ChangeThresholdCM:   smp.ChangeThreshold(),
		Unit:                units.Centimeters,
		Version:             version.String(),
	})
	if err != nil {
		log.Fatalf("failed to encode hello: %v", err)
	}
	hub := broadcast.NewHub(hello, broadcast.WithMetrics(metrics))
	defer hub.Close()

	window := calibrate.NewWindow(cfg.GetCalibrationWindow())
	loop := engine.New(smp, session, hub, engine.Options{
		Now:          uptime.Millis,
		PollInterval: cfg.GetPollInterval(),
		Metrics:      metrics,
		Recorder:     window,
		LogReadings:  cfg.GetLogReadings(),
	})
	monitor := health.NewMonitor(loop, cfg.GetSensorStaleAfter())

	if url := cfg.GetNATSURL(); url != "" {
		publisher, err := connectNATS(url, cfg.GetNATSSubjectPrefix(), hub, loop)
		if err != nil {
			// displays on the local network still work without the bus
			log.Printf("NATS publishing disabled: %v", err)
		} else {
			defer publisher.Close()
		}
	}

	log.Printf("gate session %s: presence below %d cm, change threshold %d cm",
		session.ID(), cfg.GetPresenceThresholdCM(), smp.ChangeThreshold())

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to decode frames from the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := dev.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("sensor monitor stopped: %v", err)
			stop()
		}
		log.Print("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("polling loop stopped: %v", err)
		}
		log.Print("polling loop terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = monitor.Run(ctx, nil)
	}()

	if addr := cfg.GetGRPCListen(); addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			log.Fatalf("failed to listen for gRPC health on %s: %v", addr, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("gRPC health listening on %s", lis.Addr())
			if err := health.Serve(ctx, lis, monitor); err != nil {
				log.Printf("gRPC health server: %v", err)
			}
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(api.Options{
			Gate:         loop,
			Hub:          hub,
			Health:       monitor,
			Gatherer:     reg,
			WriteTimeout: cfg.GetDisplayWriteTimeout(),
		}).ServeMux()

		dev.AttachAdminRoutes(mux)
		calibrate.AttachAdminRoutes(mux, window, cfg.GetPresenceThresholdCM())

		server := &http.Server{
			Addr:              cfg.GetListen(),
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("HTTP listening on %s", cfg.GetListen())
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// displays hold hijacked connections that Shutdown does not wait for
		hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// openSensor returns the simulator in dev mode and the serial sensor
// otherwise. Corrupt and dropped frames are counted by reason.
func openSensor(cfg *config.GateConfig, metrics *monitoring.Metrics) (sensor.Device, error) {
	onFrameError := func(err error) {
		reason := "header"
		switch {
		case errors.Is(err, sensor.ErrChecksum):
			reason = "checksum"
		case errors.Is(err, sensor.ErrBacklogOverflow):
			reason = "overflow"
		}
		metrics.IncFrameError(reason)
	}

	if *devMode {
		log.Print("dev mode: using the simulated sensor")
		d := sensor.NewSimulatedDriver(sensor.DefaultProfile, simulatorFrameInterval)
		d.OnFrameError = onFrameError
		return d, nil
	}

	d, err := sensor.Open(cfg.GetSerialPort(), sensor.PortOptions{BaudRate: cfg.GetBaudRate()})
	if err != nil {
		return nil, err
	}
	d.OnFrameError = onFrameError
	log.Printf("opened sensor on %s at %d baud", cfg.GetSerialPort(), cfg.GetBaudRate())
	return d, nil
}

// connectNATS joins a NATS publisher to the hub and routes remote reset
// commands to the loop.
func connectNATS(url, prefix string, hub *broadcast.Hub, loop *engine.Loop) (*events.NATSPublisher, error) {
	publisher, err := events.NewNATSPublisher(url, prefix)
	if err != nil {
		return nil, err
	}
	if _, err := hub.Join("nats "+url, publisher); err != nil {
		publisher.Close()
		return nil, err
	}
	err = publisher.SubscribeCommands(func(msg broadcast.ClientMessage) {
		if msg.Type == broadcast.TypeReset {
			loop.RequestReset()
		}
	})
	if err != nil {
		log.Printf("NATS commands disabled: %v", err)
	}
	log.Printf("publishing gate events to NATS under %s.*", prefix)
	return publisher, nil
}
