package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"github.com/Agrid-Dev/pvmocktat/cmd/app"
	"github.com/Agrid-Dev/pvmocktat/internal/archive"
	httpctrl "github.com/Agrid-Dev/pvmocktat/internal/controllers/http"
	kafkactrl "github.com/Agrid-Dev/pvmocktat/internal/controllers/kafka"
	modbusctrl "github.com/Agrid-Dev/pvmocktat/internal/controllers/modbus"
	mqttctrl "github.com/Agrid-Dev/pvmocktat/internal/controllers/mqtt"
	"github.com/Agrid-Dev/pvmocktat/internal/device"
	"github.com/Agrid-Dev/pvmocktat/internal/environment"
	"github.com/Agrid-Dev/pvmocktat/internal/metrics"
	"github.com/Agrid-Dev/pvmocktat/internal/mppt"
	"github.com/Agrid-Dev/pvmocktat/internal/recorder"
	"github.com/Agrid-Dev/pvmocktat/internal/report"
	"github.com/Agrid-Dev/pvmocktat/internal/simulator"
	"github.com/Agrid-Dev/pvmocktat/internal/weather"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to config file (.yaml/.yml/.json)")
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		klog.ErrorS(err, "Failed to load config", "path", configPath)
		os.Exit(1)
	}
	catalog, err := cfg.Catalog()
	if err != nil {
		klog.ErrorS(err, "Failed to load panel catalog")
		os.Exit(1)
	}
	simCfg, err := cfg.SimulatorConfig(catalog)
	if err != nil {
		klog.ErrorS(err, "Invalid simulation config")
		os.Exit(1)
	}
	env, err := cfg.InitialEnvironment()
	if err != nil {
		klog.ErrorS(err, "Invalid environment config")
		os.Exit(1)
	}

	var simOpts []simulator.Option
	var m *metrics.Metrics
	if cfg.Controllers.Metrics.Enabled {
		m = metrics.New(cfg.DeviceID)
		simOpts = append(simOpts, simulator.WithTickSink(m))
	}
	sim, err := simulator.New(simCfg, env, mppt.DefaultParams(), simOpts...)
	if err != nil {
		klog.ErrorS(err, "Failed to create simulator")
		os.Exit(1)
	}

	var reporters []recorder.Reporter
	if cfg.Recording.ReportDir != "" {
		reporters = append(reporters, report.PDFReporter{Dir: cfg.Recording.ReportDir})
	}
	var store *archive.Store
	if cfg.Recording.ArchivePath != "" {
		if store, err = archive.Open(cfg.Recording.ArchivePath); err != nil {
			klog.ErrorS(err, "Failed to open session archive", "path", cfg.Recording.ArchivePath)
			os.Exit(1)
		}
		defer store.Close()
		reporters = append(reporters, store)
	}
	rec := recorder.New(sim, recorder.WithReporters(reporters...))
	dev := device.New(cfg.DeviceID, sim, rec, catalog)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	klog.InfoS("Starting pvmocktat", "device", dev.ID, "setup", simCfg.Array, "panel", simCfg.Panel.Name,
		"algorithm", simCfg.Algorithm, "topology", simCfg.Topology, "tick", cfg.Simulation.TickInterval)

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				klog.ErrorS(err, "Component exited", "component", name)
				cancel()
			}
		}()
	}

	var poller *weather.Poller
	if wc := cfg.Weather; wc.Enabled {
		var opts []weather.ClientOption
		if wc.BaseURL != "" {
			opts = append(opts, weather.WithWeatherURL(wc.BaseURL))
		}
		if wc.GeocodeURL != "" {
			opts = append(opts, weather.WithGeocodeURL(wc.GeocodeURL))
		}
		poller = weather.NewPoller(weather.NewClient(opts...), dev.Sim, wc.Latitude, wc.Longitude, wc.Interval, nil)
		if wc.Location != "" {
			if _, _, err := poller.Locate(ctx, wc.Location); err != nil {
				klog.ErrorS(err, "Failed to resolve weather location, using coordinates", "location", wc.Location,
					"lat", wc.Latitude, "lon", wc.Longitude)
			}
		}
	}

	run("simulator", func(ctx context.Context) error {
		return dev.Sim.Run(ctx, cfg.Simulation.TickInterval)
	})

	if cfg.Controllers.HTTP.Enabled {
		svc := httpctrl.Services{Sim: dev.Sim, Recorder: dev.Recorder, Catalog: dev.Catalog, Metrics: m}
		if store != nil {
			svc.Archive = store
		}
		if poller != nil {
			svc.Weather = poller
		}
		srv := httpctrl.New(svc, cfg.Controllers.HTTP.Addr, dev.ID)
		klog.InfoS("HTTP controller listening", "addr", cfg.Controllers.HTTP.Addr)
		run("http", srv.Run)
	}

	if m != nil && cfg.Controllers.Metrics.Addr != "" {
		run("metrics", func(ctx context.Context) error {
			return serveMetrics(ctx, cfg.Controllers.Metrics.Addr, m)
		})
	}

	if mc := cfg.Controllers.MQTT; mc.Enabled {
		ctrl, err := mqttctrl.New(dev.Sim, mqttctrl.Config{
			DeviceID:        dev.ID,
			BrokerURL:       mc.BrokerURL,
			ClientID:        mc.ClientID,
			BaseTopic:       mc.BaseTopic,
			QoS:             mc.QoS,
			RetainSnapshot:  mc.RetainSnapshot,
			PublishInterval: mc.PublishInterval,
			Username:        mc.Username,
			Password:        mc.Password,
		})
		if err != nil {
			klog.ErrorS(err, "Invalid MQTT config")
			os.Exit(1)
		}
		dev.Sim.AddTickSink(ctrl)
		run("mqtt", ctrl.Run)
	}

	if mb := cfg.Controllers.Modbus; mb.Enabled {
		ctrl, err := modbusctrl.New(dev.Sim, modbusctrl.Config{DeviceID: dev.ID, Addr: mb.Addr, UnitID: mb.UnitID})
		if err != nil {
			klog.ErrorS(err, "Invalid Modbus config")
			os.Exit(1)
		}
		run("modbus", ctrl.Run)
	}

	if kc := cfg.Controllers.Kafka; kc.Enabled {
		pub, err := kafkactrl.New(kafkactrl.Config{
			DeviceID:  dev.ID,
			Brokers:   kc.Brokers,
			Topic:     kc.Topic,
			Every:     kc.Every,
			QueueSize: kc.QueueSize,
		})
		if err != nil {
			klog.ErrorS(err, "Invalid Kafka config")
			os.Exit(1)
		}
		dev.Sim.AddTickSink(pub)
		run("kafka", pub.Run)
	}

	if dc := cfg.Environment.DayCycle; dc.Enabled {
		cycle, err := environment.NewDayCycle(cfg.DayCycleParams(), nil)
		if err != nil {
			klog.ErrorS(err, "Invalid day cycle config")
			os.Exit(1)
		}
		run("day-cycle", func(ctx context.Context) error {
			return cycle.Run(ctx, dev.Sim, dc.UpdateInterval)
		})
	}

	if poller != nil {
		run("weather", poller.Run)
	}

	if cfg.Recording.Autostart {
		if _, err := dev.Recorder.Start(); err != nil {
			klog.ErrorS(err, "Failed to start recording")
		}
	}

	<-ctx.Done()
	klog.InfoS("Shutting down")
	wg.Wait()

	if dev.Recorder.Active() {
		stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if _, err := dev.Recorder.Stop(stopCtx); err != nil {
			klog.ErrorS(err, "Session reporters failed on shutdown")
		}
	}
}

func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
