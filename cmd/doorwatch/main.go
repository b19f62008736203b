package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"doorwatch/internal/api"
	"doorwatch/internal/bridge"
	"doorwatch/internal/config"
	"doorwatch/internal/dispatch"
	"doorwatch/internal/eventlog"
	"doorwatch/internal/logging"
	"doorwatch/internal/metrics"
	"doorwatch/internal/model"
	"doorwatch/internal/normalize"
	"doorwatch/internal/orchestrator"
	"doorwatch/internal/sink"
	"doorwatch/internal/state"
	"doorwatch/internal/storage"
	"doorwatch/internal/stream"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file (yaml or json)")
	streamURL := flag.String("url", "", "stream url override")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("doorwatch", version)
		return
	}

	var (
		mgr *config.Manager
		err error
	)
	if *configPath != "" {
		mgr, err = config.NewManager(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
			os.Exit(1)
		}
	} else {
		mgr = config.NewStaticManager(config.DefaultConfig())
	}
	cfg := mgr.Get()
	if *streamURL != "" {
		cfg.Stream.URL = *streamURL
	}

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("doorwatch starting", "version", version, "transport", cfg.Stream.Transport)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipeline := metrics.NewPipeline()
	log := eventlog.New(cfg.Log.Capacity)
	devices := state.New()
	norm := normalize.New(cfg.Templates)

	session := stream.NewSession(cfg.Stream, log, devices, norm, logger, pipeline)
	dispatcher := dispatch.New(session, cfg.Stream, logger, pipeline)

	if cfg.Bridge.Enabled {
		b := bridge.New(dispatcher, cfg.Bridge, logger)
		defer b.Stop()
		session.OnEvent(b.HandleEvent)
		logger.Info("door bridge enabled", "debounce", cfg.Bridge.Debounce, "auto_close", cfg.Bridge.AutoClose)
	}

	sinks := sink.Build(cfg.Sinks, logger)
	if len(sinks) > 0 {
		session.OnEvent(func(ev model.Event) {
			sink.FanOut(ctx, sinks, ev, logger)
		})
		defer func() {
			for _, s := range sinks {
				_ = s.Close()
			}
		}()
	}

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("storage init failed", "err", err)
		os.Exit(1)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			logger.Error("storage schema init failed", "err", err)
			os.Exit(1)
		}
		defer store.Close()
		session.OnEvent(func(ev model.Event) {
			if err := store.SaveEvent(ctx, ev); err != nil {
				logger.Warn("event persist failed", "event_id", ev.ID, "err", err)
			}
		})
	}

	var orch *orchestrator.Client
	if cfg.Orchestrator.BaseURL != "" {
		orch = orchestrator.New(cfg.Orchestrator, logger)
		if h, err := orch.Health(ctx); err != nil {
			logger.Warn("orchestrator unreachable", "base_url", cfg.Orchestrator.BaseURL, "err", err)
		} else {
			logger.Info("orchestrator reachable", "docker", h.Docker)
		}
	}

	broker := api.NewBroker(logger)
	session.OnEvent(broker.Publish)
	api.Start(ctx, mgr, log, devices, session, dispatcher, broker, orch, logger, version)

	if *configPath != "" {
		stop := make(chan struct{})
		defer close(stop)
		go mgr.Watch(5*time.Second,
			func(next *config.Config) {
				logger.Info("config reloaded", "path", mgr.Path())
			},
			func(err error) {
				logger.Warn("config reload failed", "err", err)
			},
			stop)
	}

	session.Start(ctx)
	if cfg.Stream.URL != "" {
		session.Connect(cfg.Stream.URL)
	} else {
		logger.Info("no stream url configured, waiting for /api/connect")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	logger.Info("shutting down", "signal", s.String())

	session.Disconnect(false)
	cancel()
}
