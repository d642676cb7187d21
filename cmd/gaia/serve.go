package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gaia-runtime/gaia/pkg/cognition"
	"github.com/gaia-runtime/gaia/pkg/config"
	"github.com/gaia-runtime/gaia/pkg/coreservice"
	"github.com/gaia-runtime/gaia/pkg/embedders"
	"github.com/gaia-runtime/gaia/pkg/fabric"
	"github.com/gaia-runtime/gaia/pkg/gateway"
	"github.com/gaia-runtime/gaia/pkg/heartbeat"
	"github.com/gaia-runtime/gaia/pkg/httpclient"
	"github.com/gaia-runtime/gaia/pkg/intent"
	"github.com/gaia-runtime/gaia/pkg/llms"
	"github.com/gaia-runtime/gaia/pkg/observability"
	"github.com/gaia-runtime/gaia/pkg/observer"
	"github.com/gaia-runtime/gaia/pkg/probe"
	"github.com/gaia-runtime/gaia/pkg/prompt"
	"github.com/gaia-runtime/gaia/pkg/session"
	"github.com/gaia-runtime/gaia/pkg/study"
	"github.com/gaia-runtime/gaia/pkg/vector"
)

const shutdownTimeout = 30 * time.Second

// ServeCmd starts one of the four GAIA services.
type ServeCmd struct {
	Service string `arg:"" help:"Service to run." enum:"core,web,study,fabric"`
}

// service is what each builder hands back to the shared run loop.
type service struct {
	addr    string
	router  chi.Router
	start   []func(ctx context.Context)
	cleanup []func(ctx context.Context)
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader := config.NewLoader(cli.Config, config.WithOnChange(func(*config.Config) {
		slog.Info("configuration changed on disk; restart to apply")
	}))
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	go func() {
		if err := loader.Watch(ctx); err != nil {
			slog.Warn("config watch unavailable", "error", err)
		}
	}()

	obs := observability.NewManager(cfg.Observability)
	if err := obs.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}

	var svc *service
	switch c.Service {
	case "core":
		svc, err = buildCore(cfg)
	case "web":
		svc, err = buildWeb(cfg)
	case "study":
		svc, err = buildStudy(cfg)
	case "fabric":
		svc, err = buildFabric(cfg)
	default:
		err = fmt.Errorf("unknown service %q", c.Service)
	}
	if err != nil {
		return err
	}
	svc.cleanup = append(svc.cleanup, func(ctx context.Context) {
		if err := obs.Shutdown(ctx); err != nil {
			slog.Warn("observability shutdown failed", "error", err)
		}
	})

	if cfg.Observability.Metrics.Enabled {
		svc.router.Handle("/metrics", obs.MetricsHandler())
	}

	for _, start := range svc.start {
		go start(ctx)
	}

	return runHTTP(ctx, cancel, c.Service, svc)
}

// runHTTP serves the router until SIGINT/SIGTERM, then drains with a
// bounded shutdown.
func runHTTP(ctx context.Context, cancel context.CancelFunc, name string, svc *service) error {
	server := &http.Server{
		Addr:              svc.addr,
		Handler:           svc.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	slog.Info("service listening", "service", name, "addr", svc.addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	case runErr = <-errCh:
		slog.Error("server error", "error", runErr)
	}
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown failed", "error", err)
	}
	for _, cleanup := range svc.cleanup {
		cleanup(shutdownCtx)
	}
	return runErr
}

// slogNotifier publishes turn lifecycle events to the process log. The
// fabric hub carries them to websocket clients in deployments where the
// fabric service runs; core stays functional without it.
type slogNotifier struct{}

func (slogNotifier) Notify(category string, payload any) {
	slog.Debug("notification", "category", category, "payload", payload)
}

// readerFactory adapts the vector factory to the orchestrator's
// retriever interface.
type readerFactory struct {
	factory *vector.Factory
}

func (f readerFactory) Reader(name string) cognition.Retriever {
	return f.factory.Reader(name)
}

func buildModels(cfg *config.Config) (*llms.Registry, error) {
	registry := llms.NewRegistry()
	for role, mc := range cfg.Models {
		var provider llms.Provider
		switch mc.Type {
		case "ollama":
			provider = llms.NewOllamaProvider(llms.OllamaConfig{
				Host:     mc.Host,
				Model:    mc.Model,
				TimeoutS: mc.Timeout,
				Thinking: mc.Thinking,
			}, cfg.Constraints)
		case "openai":
			provider = llms.NewOpenAIProvider(llms.OpenAIConfig{
				Host:     mc.Host,
				Model:    mc.Model,
				APIKey:   mc.APIKey,
				TimeoutS: mc.Timeout,
			}, cfg.Constraints)
		default:
			return nil, fmt.Errorf("model %q: unknown provider type %q", role, mc.Type)
		}
		registry.Register(llms.ModelRole(role), provider)
	}
	return registry, nil
}

func buildEmbedder(cfg *config.Config) (embedders.Embedder, error) {
	return embedders.NewFromConfig(embedders.Config{
		Type:      cfg.Embedder.Type,
		Model:     cfg.Embedder.Model,
		Host:      cfg.Embedder.Host,
		Dimension: cfg.Embedder.Dimension,
		TimeoutS:  cfg.Embedder.Timeout,
	})
}

func buildCore(cfg *config.Config) (*service, error) {
	registry, err := buildModels(cfg)
	if err != nil {
		return nil, err
	}
	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	factory := vector.NewFactory(cfg.Vector.Root, embedder)
	collections := make(map[string]probe.Searcher, len(cfg.Vector.KnowledgeBases))
	for kb := range cfg.Vector.KnowledgeBases {
		collections[kb] = factory.Reader(kb)
	}
	prober := probe.New(cfg.Probe, collections)

	lite, err := registry.GetOr(llms.RoleLite)
	if err != nil {
		return nil, fmt.Errorf("no lite model available: %w", err)
	}
	classifier := intent.New(cfg.Intent, lite, embedder)

	store, err := session.Open(cfg.Session.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	builder, err := prompt.New(cfg.Prompt, store)
	if err != nil {
		return nil, fmt.Errorf("failed to build prompt builder: %w", err)
	}

	obsModel, err := registry.GetOr(llms.RoleObserver)
	if err != nil {
		return nil, fmt.Errorf("no observer model available: %w", err)
	}
	watcher := observer.New(cfg.Observer, obsModel)

	var tools cognition.ToolRouter
	if cfg.MCP.Command != "" {
		router, err := cognition.NewMCPToolRouter(cfg.MCP)
		if err != nil {
			return nil, fmt.Errorf("failed to start tool router: %w", err)
		}
		tools = router
	}

	orch, err := cognition.New(cfg.Cognition, cognition.Collaborators{
		Models:    registry,
		Prober:    prober,
		Intents:   classifier,
		Prompts:   builder,
		Observers: watcher,
		History:   store,
		Readers:   readerFactory{factory},
		Tools:     tools,
		Notifier:  slogNotifier{},
	})
	if err != nil {
		return nil, err
	}

	sleep := coreservice.NewSleepState()
	srv := coreservice.NewServer(orch, registry, sleep)

	svc := &service{
		addr:    cfg.Services.Core.Addr(),
		router:  srv.Router(),
		cleanup: []func(ctx context.Context){func(context.Context) { _ = store.Close() }},
	}

	if cfg.Heartbeat.Enabled {
		seeds, err := heartbeat.NewSeedStore(cfg.Heartbeat.Root)
		if err != nil {
			return nil, fmt.Errorf("failed to open seed store: %w", err)
		}
		prime, err := registry.GetOr(llms.RolePrime)
		if err != nil {
			return nil, fmt.Errorf("no prime model available: %w", err)
		}
		var states heartbeat.LiteStateManager
		if host := cfg.Models["lite"].Host; host != "" {
			states = llms.NewSlotStateManager(host, httpclient.New())
		} else {
			slog.Warn("lite model host not configured; state baking and interviews disabled")
		}
		temporal, err := heartbeat.NewTemporalTasks(filepath.Join(cfg.Heartbeat.Root, "temporal"), lite, prime, states)
		if err != nil {
			return nil, fmt.Errorf("failed to set up temporal tasks: %w", err)
		}
		sched := heartbeat.NewScheduler(cfg.Heartbeat.Config, seeds, lite, orch, sleep, temporal, slogNotifier{})
		svc.start = append(svc.start, sched.Run)
		svc.cleanup = append(svc.cleanup, func(context.Context) { sched.Stop() })
	}

	return svc, nil
}

func buildWeb(cfg *config.Config) (*service, error) {
	client := httpclient.New()
	gw := gateway.NewServer(cfg.Gateway, client)
	return &service{
		addr:   cfg.Services.Web.Addr(),
		router: gw.Router(),
	}, nil
}

func buildStudy(cfg *config.Config) (*service, error) {
	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	indexer := study.NewIndexer(cfg.Vector.Root, embedder, cfg.Vector.KnowledgeBases)

	adapters, err := study.NewAdapterStore(cfg.Study.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to open adapter store: %w", err)
	}

	if len(cfg.Study.TrainCommand) == 0 {
		return nil, fmt.Errorf("study.train_command is required for the study service")
	}
	trainer, err := study.NewCommandTrainer(cfg.Study.TrainCommand, filepath.Join(cfg.Study.Root, "training"))
	if err != nil {
		return nil, err
	}
	mode := study.NewStudyMode(trainer, adapters, cfg.Study.Governance)

	srv := study.NewServer(indexer, mode)
	svc := &service{
		addr:   cfg.Services.Study.Addr(),
		router: srv.Router(),
	}

	if cfg.Study.WatchDocs {
		watcher := study.NewWatcher(indexer)
		svc.start = append(svc.start, func(ctx context.Context) {
			if err := watcher.Run(ctx); err != nil {
				slog.Warn("document watcher stopped", "error", err)
			}
		})
	}

	return svc, nil
}

func buildFabric(cfg *config.Config) (*service, error) {
	client := httpclient.New()
	hub := fabric.NewHub()

	coordinator := fabric.NewHandoffCoordinator(cfg.Fabric.Handoff, client, &fabric.SMIStats{}, hub)
	inspector := &fabric.DockerInspector{ComposeFile: cfg.Fabric.ComposeFile}
	monitor := fabric.NewContainerMonitor(cfg.Fabric.Services, client, inspector)

	srv := fabric.NewServer(coordinator, monitor, hub)
	return &service{
		addr:   cfg.Services.Fabric.Addr(),
		router: srv.Router(),
	}, nil
}
