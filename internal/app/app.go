package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hidden-walnuts/server/internal/config"
	"hidden-walnuts/server/internal/events"
	servernet "hidden-walnuts/server/internal/net"
	"hidden-walnuts/server/internal/net/ws"
	"hidden-walnuts/server/internal/npc"
	"hidden-walnuts/server/internal/observability"
	"hidden-walnuts/server/internal/sim"
	"hidden-walnuts/server/internal/species"
	"hidden-walnuts/server/internal/telemetry"
	"hidden-walnuts/server/internal/world"
	"hidden-walnuts/server/logging"
	"hidden-walnuts/server/logging/lifecycle"
	loggingSinks "hidden-walnuts/server/logging/sinks"
)

type Config struct {
	Server config.Server
	// Logger overrides the zap-backed operational logger.
	Logger telemetry.Logger
}

// Run wires the simulation and serves HTTP until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	srvCfg := cfg.Server
	logCfg := srvCfg.Logging()

	zapLogger, err := logging.NewZapLogger(logCfg.Zap)
	if err != nil {
		return fmt.Errorf("failed to construct zap logger: %w", err)
	}
	defer zapLogger.Sync()

	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapZap(zapLogger)
	}

	sinks, closeFiles, err := buildSinks(logCfg, zapLogger)
	if err != nil {
		return err
	}
	defer closeFiles()

	router := logging.NewRouter(nil, logCfg, sinks, zapLogger)
	defer func() {
		if cerr := router.Close(context.WithoutCancel(ctx)); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	obsCfg := observability.Config{
		EnablePprofTrace: srvCfg.EnablePprofTrace,
		OTelEndpoint:     srvCfg.OTelEndpoint,
		OTelEnabled:      srvCfg.OTelEnabled,
	}
	shutdownTracing, err := observability.Setup(ctx, obsCfg)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		if cerr := shutdownTracing(context.WithoutCancel(ctx)); cerr != nil {
			telemetryLogger.Printf("failed to flush traces: %v", cerr)
		}
	}()

	catalog, err := loadCatalog(srvCfg.CatalogPath)
	if err != nil {
		return err
	}
	npcCfg, spawnPoints, err := loadNPCConfig(srvCfg.NPCConfigPath)
	if err != nil {
		return err
	}

	counters := &telemetry.Counters{}
	gridOpts := world.DefaultGridOptions()
	gridOpts.WorldSize = srvCfg.WorldSize
	gridOpts.CellSize = srvCfg.CellSize
	pathfinder := world.NewPathfinder(ctx, world.DefaultHeightField(srvCfg.WorldSize), world.PathfinderOptions{
		Grid:         gridOpts,
		SearchBudget: srvCfg.PathSearchBudget,
		Seed:         srvCfg.Seed,
		Publisher:    router,
	})

	bus := events.NewBus()
	bus.OnPanic = func(name string, recovered any) {
		telemetryLogger.Printf("[events] handler for %s panicked: %v", name, recovered)
	}

	// The hub is the manager's entity sink, so it exists before the loop.
	var loop *sim.Loop
	hub := ws.NewHub(ws.HubConfig{
		Logger:    telemetryLogger,
		Metrics:   counters,
		Publisher: router,
		Tick:      func() uint64 { return loop.Tick() },
	})

	manager, err := npc.NewManager(npc.Options{
		Catalog:     catalog,
		Navigator:   pathfinder,
		Bus:         bus,
		Entities:    hub,
		Publisher:   router,
		Logger:      telemetryLogger,
		Metrics:     counters,
		Config:      npcCfg,
		SpawnPoints: spawnPoints,
		Seed:        srvCfg.Seed,
	})
	if err != nil {
		return fmt.Errorf("failed to construct npc manager: %w", err)
	}
	defer manager.Close()

	loop = sim.NewLoop(manager, sim.LoopConfig{
		TickRate:        srvCfg.TickRate,
		CatchupMaxTicks: srvCfg.CatchupMaxTicks,
		CommandCapacity: srvCfg.CommandCapacity,
		PerActorLimit:   srvCfg.PerActorCommandLimit,
		WarningStep:     srvCfg.CommandWarningStep,
	}, sim.Deps{
		Logger:    telemetryLogger,
		Metrics:   counters,
		Publisher: router,
		Bus:       bus,
	}, sim.LoopHooks{
		OnQueueWarning: func(length int) {
			telemetryLogger.Printf("[backpressure] command queue length=%d", length)
		},
	})

	wsHandler := ws.NewHandler(hub, loop, ws.HandlerConfig{
		Logger:    telemetryLogger,
		Publisher: router,
		Tick:      loop.Tick,
	})
	handler := servernet.NewHTTPHandler(servernet.HTTPHandlerConfig{
		Loop:       loop,
		Manager:    manager,
		WebSocket:  wsHandler,
		Viewers:    hub.Subscribers,
		Counters:   counters,
		Pathfinder: pathfinder,
		TickRate:   srvCfg.TickRate,
		ClientDir:  srvCfg.ClientDir,
		Logger:     telemetryLogger,
	})

	srv := &http.Server{Addr: srvCfg.Addr, Handler: observability.Mount(obsCfg, handler)}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		loop.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		hub.Run(groupCtx, srvCfg.BroadcastInterval)
		return nil
	})
	group.Go(func() error {
		telemetryLogger.Printf("server listening on %s", srv.Addr)
		lifecycle.ServerStarted(groupCtx, router, lifecycle.ServerStartedPayload{Addr: srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), srvCfg.ShutdownTimeout)
		defer cancel()
		hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	return group.Wait()
}

func loadCatalog(path string) (*species.Catalog, error) {
	if path == "" {
		catalog, err := species.Default()
		if err != nil {
			return nil, fmt.Errorf("failed to load embedded species catalog: %w", err)
		}
		return catalog, nil
	}
	catalog, err := species.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load species catalog: %w", err)
	}
	return catalog, nil
}

func loadNPCConfig(path string) (npc.Config, []npc.SpawnPoint, error) {
	if path == "" {
		cfg, points, err := npc.Defaults()
		if err != nil {
			return npc.Config{}, nil, fmt.Errorf("failed to load embedded npc config: %w", err)
		}
		return cfg, points, nil
	}
	cfg, points, err := npc.LoadFile(path)
	if err != nil {
		return npc.Config{}, nil, fmt.Errorf("failed to load npc config: %w", err)
	}
	return cfg, points, nil
}

// buildSinks constructs the sinks named in cfg. The returned func closes any
// files opened for them and must run after the router is closed.
func buildSinks(cfg logging.Config, zapLogger *zap.Logger) ([]logging.NamedSink, func(), error) {
	var (
		sinks []logging.NamedSink
		files []*os.File
	)
	closeFiles := func() {
		for _, f := range files {
			f.Close()
		}
	}
	for _, name := range cfg.EnabledSinks {
		switch name {
		case logging.SinkConsole:
			sinks = append(sinks, logging.NamedSink{Name: name, Sink: loggingSinks.NewConsoleSink(os.Stdout, cfg.Console)})
		case logging.SinkJSON:
			out := os.Stdout
			if cfg.JSON.FilePath != "" {
				f, err := os.OpenFile(cfg.JSON.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					closeFiles()
					return nil, nil, fmt.Errorf("failed to open json log %s: %w", cfg.JSON.FilePath, err)
				}
				files = append(files, f)
				out = f
			}
			sinks = append(sinks, logging.NamedSink{Name: name, Sink: loggingSinks.NewJSON(out, cfg.JSON.FlushInterval)})
		case logging.SinkZap:
			sinks = append(sinks, logging.NamedSink{Name: name, Sink: loggingSinks.NewZap(zapLogger)})
		case logging.SinkArchive:
			sinks = append(sinks, logging.NamedSink{Name: name, Sink: loggingSinks.NewArchive(cfg.Archive)})
		case logging.SinkMemory:
			sinks = append(sinks, logging.NamedSink{Name: name, Sink: loggingSinks.NewMemorySink(0)})
		default:
			closeFiles()
			return nil, nil, fmt.Errorf("unknown log sink %q", name)
		}
	}
	return sinks, closeFiles, nil
}
