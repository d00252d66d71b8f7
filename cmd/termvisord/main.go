package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aegntic/termvisor/internal/bridge"
	"github.com/aegntic/termvisor/internal/capability"
	"github.com/aegntic/termvisor/internal/config"
	"github.com/aegntic/termvisor/internal/integration"
	"github.com/aegntic/termvisor/internal/project"
	"github.com/aegntic/termvisor/internal/resource"
	"github.com/aegntic/termvisor/internal/terminal"
	"github.com/aegntic/termvisor/internal/watch"
	"github.com/aegntic/termvisor/internal/ws"
	"github.com/robfig/cron/v3"
)

func main() {
	devMode := flag.Bool("dev", false, "Development mode (serve frontend from filesystem)")
	configPath := flag.String("config", "", "Path to config file (defaults to ~/.config/termvisor/config.yaml)")
	port := flag.Int("port", 0, "Override server port")
	manifestDir := flag.String("capability-manifests", "", "Directory tree to scan for capability server manifests")
	flag.Parse()

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}

	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor := resource.NewMonitor(resource.Thresholds{
		MaxSessions:   cfg.Terminal.MaxTerminals,
		MaxMemoryMB:   float64(cfg.Resource.MaxMemoryMB),
		MaxCPUPercent: cfg.Resource.MaxCPUPercent,
	}, cfg.Resource.SampleInterval)

	pool := terminal.NewPool(terminal.Config{
		MaxTerminals:             cfg.Terminal.MaxTerminals,
		IdleTimeout:              cfg.Terminal.IdleTimeout,
		PreallocPoolSize:         cfg.Terminal.PreallocPoolSize,
		MaintenanceInterval:      cfg.Terminal.MaintenanceInterval,
		ScrollbackLines:          cfg.Terminal.ScrollbackLines,
		FreshnessWindow:          cfg.Terminal.FreshnessWindow,
		CreateTimeout:            cfg.Terminal.CreateTimeout,
		AttentionConfidenceFloor: cfg.Terminal.AttentionConfidenceFloor,
	}, monitor)
	monitor.SetCountsHook(pool.Counts)

	go monitor.Start(ctx)
	go pool.RunMaintenance(ctx)

	projectCache := project.NewCache(cfg.Project.CacheMemoryMB*1024*1024, cfg.Project.MaxProjectFiles)
	detector := project.NewDetector(projectCache, cfg.Project.MaxAnalysisTime, cfg.Project.MaxProjectFiles,
		cfg.Project.MinConfidenceForCache, cfg.Project.CacheServeConfidenceFloor)

	roots := cfg.Project.DiscoveryPaths
	if len(roots) == 0 {
		if home, err := os.UserHomeDir(); err == nil {
			roots = []string{home}
		}
	}
	if *manifestDir != "" {
		roots = append(roots, *manifestDir)
	}
	registry, err := capability.DiscoverManifests(roots)
	if err != nil {
		log.Printf("capability manifest discovery error: %v", err)
	}
	log.Printf("discovered %d capability server manifests", len(registry))

	manager := capability.NewManager(capability.Config{
		MaxConcurrentServers: cfg.Capability.MaxConcurrentServers,
		MaxServersPerProject: cfg.Capability.MaxServersPerProject,
		StartupTimeout:       cfg.Capability.StartupTimeout,
		ShutdownGrace:        cfg.Capability.ShutdownGrace,
		AutoRestart:          cfg.Capability.AutoRestart,
		MaxMemoryMB:          float64(cfg.Capability.MaxMemoryMB),
		MaxCPUPercent:        cfg.Capability.MaxCPUPercent,
		MaxFileDescriptors:   cfg.Capability.MaxFileDescriptors,
	}, registry)

	scheduler := cron.New()
	if _, err := project.StartPurgeJob(scheduler, projectCache, cfg.Project.PurgeInterval, cfg.Project.CacheTTL); err != nil {
		log.Printf("schedule project cache purge: %v", err)
	}
	healthSpec := ""
	if cfg.Capability.HealthCheckInterval > 0 {
		healthSpec = "@every " + cfg.Capability.HealthCheckInterval.String()
	}
	if _, err := capability.StartHealthCheck(scheduler, manager, healthSpec); err != nil {
		log.Printf("schedule capability health check: %v", err)
	}
	scheduler.Start()

	binder :=integration.NewBinder(detector, manager, cfg.Project.MinConfidenceForCache)

	prefixes := cfg.Bridge.CommandPrefixes
	if len(prefixes) == 0 {
		prefixes = bridge.DefaultPrefixes
	}
	callTimeout := cfg.Bridge.CallTimeout
	if callTimeout <= 0 {
		callTimeout = bridge.DefaultCallTimeout
	}
	nlBridge := bridge.NewBridge(prefixes, callTimeout)

	broadcaster := ws.NewBroadcaster(pool, 100*time.Millisecond, 30*time.Second, cfg.Server.MaxConnections)
	broadcaster.SetPrivacyFilter(cfg.Privacy.NewPrivacyFilter())
	broadcaster.SetHealthHook(func() []ws.SourceHealthPayload {
		return []ws.SourceHealthPayload{
			healthPayload("resource_monitor", monitor.Health()),
		}
	})

	watcher, err := watch.NewWatcher(watch.Config{
		DebounceWindow:   cfg.Watch.DebounceWindow,
		EventRateCap:     cfg.Watch.EventRateCap,
		SourceExtensions: cfg.Watch.SourceExtensions,
		ConfigFilenames:  cfg.Watch.ConfigFilenames,
	})
	if err != nil {
		log.Fatalf("failed to start filesystem watcher: %v", err)
	}
	for _, root := range roots {
		if err := watcher.Watch(root); err != nil {
			log.Printf("watch %s: %v", root, err)
		}
	}

	sub := watcher.Subscribe(256)
	go watcher.Run(ctx)
	go forwardFSEvents(ctx, sub, broadcaster, detector)

	frontendDir := ""
	if *devMode {
		exe, _ := os.Executable()
		frontendDir = filepath.Join(filepath.Dir(exe), "..", "..", "frontend")
		if _, err := os.Stat(frontendDir); os.IsNotExist(err) {
			cwd, _ := os.Getwd()
			frontendDir = filepath.Join(cwd, "..", "frontend")
		}
	}

	server := ws.NewServer(cfg, pool, broadcaster, frontendDir, *devMode, nil, cfg.Server.AllowedOrigins, cfg.Server.AuthToken)
	server.SetProjectDetector(detector)
	server.SetCapabilityManager(manager)
	server.SetBinder(binder)
	server.SetBridge(nlBridge)
	server.SetResourceMonitor(monitor)

	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGHUP {
				reloadConfig(cfgPath, cfg, broadcaster)
				continue
			}
			log.Println("Shutting down...")
			cancel()
			watcher.Unsubscribe(sub)
			pool.Stop()
			os.Exit(0)
		}
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// forwardFSEvents turns raw filesystem events into broadcast payloads and
// triggers project re-analysis on every non-burst, non-chmod change so
// connected clients see an updated Analysis without polling.
func forwardFSEvents(ctx context.Context, sub *watch.Subscriber, broadcaster *ws.Broadcaster, detector *project.Detector) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			broadcaster.BroadcastFSEvent(ws.FSEventPayload{
				Kind:    ev.Kind,
				Path:    ev.Path,
				IsDir:   ev.IsDir,
				Dropped: sub.Dropped(),
			})

			if ev.Kind == watch.KindBurst || ev.IsDir {
				continue
			}
			dir := filepath.Dir(ev.Path)
			analysis, err := detector.Analyze(dir)
			if err != nil {
				continue
			}
			broadcaster.BroadcastProjectAnalysis(ws.ProjectAnalysisPayload{Path: dir, Analysis: analysis})
		}
	}
}

// reloadConfig re-reads the config file on SIGHUP, logs what changed via
// config.Diff, and applies the one section that can be swapped live without
// a restart: the broadcaster's privacy filter. Everything else Diff reports
// (pool sizing, capability limits, bridge prefixes) requires a restart.
func reloadConfig(path string, cfg *config.Config, broadcaster *ws.Broadcaster) {
	fresh, err := config.LoadOrDefault(path)
	if err != nil {
		log.Printf("config reload failed: %v", err)
		return
	}

	changes := config.Diff(cfg, fresh)
	if len(changes) == 0 {
		log.Println("config reload: no changes")
		return
	}
	for _, change := range changes {
		log.Printf("config reload: %s", change)
	}

	cfg.Privacy = fresh.Privacy
	broadcaster.SetPrivacyFilter(cfg.Privacy.NewPrivacyFilter())
}

func healthPayload(component string, h *resource.ComponentHealth) ws.SourceHealthPayload {
	if h == nil {
		return ws.SourceHealthPayload{Component: component, Status: "unknown"}
	}
	status, lastErr, _ := h.SnapshotAndEmit()
	return ws.SourceHealthPayload{Component: component, Status: string(status), LastError: lastErr}
}
