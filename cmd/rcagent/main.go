// rcagent - Remote configuration polling agent
//
// rcagent polls a control-plane endpoint for signed configuration targets,
// verifies content integrity, reconciles them against the applied set, and
// materializes product configs into a local spool directory.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"rcagent/internal/capability"
	"rcagent/internal/client"
	"rcagent/internal/config"
	"rcagent/internal/logging"
	"rcagent/internal/metrics"
	"rcagent/internal/poller"
	"rcagent/internal/product"
	"rcagent/internal/store"
	"rcagent/internal/transport"
	"rcagent/internal/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rcagent: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath   = flag.String("config", config.ConfigPath(), "configuration file (toml, json, or yaml)")
		agentURL     = flag.String("agent-url", "", "control-plane base URL (overrides config)")
		intervalMs   = flag.Int("interval-ms", 0, "poll interval in milliseconds (overrides config)")
		logLevel     = flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
		metricsAddr  = flag.String("metrics-addr", "", "Prometheus listen address (overrides config, implies enabled)")
		spoolDir     = flag.String("spool-dir", "", "spool directory for received configs (overrides config)")
		printVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *printVersion {
		fmt.Println("rcagent " + version.Version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *agentURL != "" {
		cfg.Agent.URL = *agentURL
	}
	if *intervalMs > 0 {
		cfg.Agent.PollIntervalMs = *intervalMs
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = *metricsAddr
	}
	if *spoolDir != "" {
		cfg.Sink.SpoolDir = *spoolDir
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	log, err := logging.New(&logging.Config{
		Level:     level,
		Format:    cfg.Logging.Format,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		Component: "rcagent",
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer log.Close()
	logging.SetDefault(log)

	log.Info("starting rcagent", "version", version.Version, "agent_url", cfg.Agent.URL, "poll_interval", cfg.Agent.PollInterval())

	var storeOpts []store.Option
	storeOpts = append(storeOpts, store.WithLogger(log.WithComponent("store").Logger))
	if cfg.History.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.History.Path), 0o755); err != nil {
			return fmt.Errorf("create history directory: %w", err)
		}
		hist, err := store.OpenHistory(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("open apply history: %w", err)
		}
		defer hist.Close()
		storeOpts = append(storeOpts, store.WithRecorder(hist))
		log.Info("apply history enabled", "path", cfg.History.Path)
	}

	registry := product.NewRegistry()
	sinks, err := registerSinks(registry, cfg, log)
	if err != nil {
		return err
	}

	tr := transport.NewHTTP(transport.Options{
		AgentURL:     cfg.Agent.URL,
		Endpoint:     cfg.Agent.Endpoint,
		Timeout:      cfg.Agent.Timeout(),
		ExtraHeaders: transport.ParseKeyValList(os.Getenv("RCAGENT_ADDITIONAL_HEADERS")),
	})

	cl := client.New(client.Options{
		Transport:     tr,
		Registry:      registry,
		Store:         store.New(storeOpts...),
		Logger:        log.WithComponent("client").Logger,
		LogPayloads:   cfg.Client.LogPayloads,
		SkipShutdown:  cfg.Client.SkipShutdown,
		Capabilities:  buildCapabilities(cfg.Capabilities),
		Service:       cfg.Identity.Service,
		Env:           cfg.Identity.Env,
		AppVersion:    cfg.Identity.AppVersion,
		ExtraServices: cfg.Identity.ExtraServices,
		Tags:          cfg.Identity.Tags,
	})
	cl.StartProducts(cfg.Sink.Products...)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		m = metrics.New(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
		log.Info("metrics endpoint listening", "addr", cfg.Metrics.Addr)
	}

	p := poller.New(cl, cfg.Agent.PollInterval(),
		poller.WithLogger(log.WithComponent("poller").Logger),
		poller.WithMetrics(m))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go watchConfig(ctx, *configPath, p, log.WithComponent("watcher"))

	p.Run(ctx)

	log.Info("shutting down")
	if !cl.SkipShutdown() {
		for _, s := range sinks {
			s.Stop()
		}
	}
	return nil
}

// registerSinks builds one file-sink pipeline per configured product, with an
// optional schema gate, and registers it.
func registerSinks(registry *product.Registry, cfg *config.Config, log *logging.Logger) ([]*product.Pipeline, error) {
	if len(cfg.Sink.Products) > 0 {
		if err := os.MkdirAll(cfg.Sink.SpoolDir, 0o755); err != nil {
			return nil, fmt.Errorf("create spool directory: %w", err)
		}
	}

	sinks := make([]*product.Pipeline, 0, len(cfg.Sink.Products))
	for _, name := range cfg.Sink.Products {
		sink := newFileSink(name, cfg.Sink.SpoolDir, log.WithComponent("sink").Logger)
		sinks = append(sinks, sink)

		var sub product.Subscriber = sink
		if schemaPath, ok := cfg.Sink.Schemas[name]; ok {
			doc, err := os.ReadFile(schemaPath)
			if err != nil {
				return nil, fmt.Errorf("read schema for product %s: %w", name, err)
			}
			schema, err := product.CompileSchema(schemaPath, doc)
			if err != nil {
				return nil, fmt.Errorf("schema for product %s: %w", name, err)
			}
			sub = product.WithSchema(sink, schema)
		}
		registry.Register(name, sub)
		log.Info("registered product", "product", name)
	}
	return sinks, nil
}

func buildCapabilities(cc config.CapabilityConfig) capability.Set {
	var set capability.Set
	if cc.SampleRate {
		set = set.Add(capability.TracingSampleRate)
	}
	if cc.LogsInjection {
		set = set.Add(capability.TracingLogsInjection)
	}
	if cc.HTTPHeaderTags {
		set = set.Add(capability.TracingHTTPHeaderTags)
	}
	if cc.CustomTags {
		set = set.Add(capability.TracingCustomTags)
	}
	if cc.TracingEnabled {
		set = set.Add(capability.TracingEnabled)
	}
	if cc.SampleRules {
		set = set.Add(capability.TracingSampleRules)
	}
	return set
}

// watchConfig reloads the poll interval when the configuration file changes.
// Other settings require a restart. Editors replace files rather than write
// in place, so the watch is on the directory and re-armed after rename.
func watchConfig(ctx context.Context, path string, p *poller.Poller, log *logging.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("config watch unavailable", "error", err)
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		log.Warn("config watch unavailable", "path", dir, "error", err)
		return
	}

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, func() {
				reloadInterval(path, p, log)
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn("config watch error", "error", err)
		}
	}
}

func reloadInterval(path string, p *poller.Poller, log *logging.Logger) {
	cfg, err := config.Load(path)
	if err != nil {
		log.Warn("config reload failed", "error", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		log.Warn("config reload rejected", "error", err)
		return
	}
	next := cfg.Agent.PollInterval()
	if next != p.Interval() {
		log.Info("poll interval updated", "interval", next)
		p.SetInterval(next)
	}
}
