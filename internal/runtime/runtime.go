package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/loqalabs/open-transcribe/internal/bus"
	"github.com/loqalabs/open-transcribe/internal/capability"
	"github.com/loqalabs/open-transcribe/internal/config"
	"github.com/loqalabs/open-transcribe/internal/discovery"
	"github.com/loqalabs/open-transcribe/internal/events"
	"github.com/loqalabs/open-transcribe/internal/gateway"
	"github.com/loqalabs/open-transcribe/internal/history"
	"github.com/loqalabs/open-transcribe/internal/natsserver"
	"github.com/loqalabs/open-transcribe/internal/stt"
	"github.com/loqalabs/open-transcribe/internal/transcribe"
	"github.com/nats-io/nats.go"
)

const pruneInterval = time.Hour

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	model    stt.Model
	service  *transcribe.Service
	store    *history.Store
	embedded *natsserver.EmbeddedServer
	bus      *bus.Client
	registry *capability.Registry
	events   *events.Publisher
	gateway  *gateway.Gateway
	busSub   *nats.Subscription
	mdns     *discovery.Advertiser
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings up every component, serves until ctx is cancelled and then
// shuts down in reverse order. A model that fails to load is fatal.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	defer r.shutdown()

	for _, warning := range r.cfg.Warnings() {
		r.logger.Warn("configuration warning", slog.String("warning", warning))
	}

	if err := r.startEngine(); err != nil {
		return err
	}

	r.store, err = history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}

	if r.cfg.Bus.Enabled {
		if err := r.startBus(ctx); err != nil {
			return err
		}
	}

	r.events = events.NewPublisher(r.cfg, r.bus, r.logger)
	r.gateway = gateway.New(r.service, gateway.Options{
		Store:        r.store,
		Publisher:    r.events,
		NodeID:       r.cfg.Node.ID,
		MaxBodyBytes: r.cfg.HTTP.MaxBodyBytes,
	}, r.logger)

	if r.bus != nil {
		r.busSub, err = r.gateway.ServeBus(ctx, r.bus, r.cfg.Bus.RequestSubject)
		if err != nil {
			return err
		}
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	r.httpServer = &http.Server{
		Handler:           r.routes(metricsHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()
	go func() {
		defer r.wg.Done()
		r.store.RunPruner(ctx, pruneInterval)
	}()

	port := listener.Addr().(*net.TCPAddr).Port
	r.mdns, err = discovery.Advertise(r.cfg.Discovery, r.cfg.Node.ID, port, map[string]string{
		"node_id":  r.cfg.Node.ID,
		"engine":   r.model.Name(),
		"language": r.cfg.Whisper.Language,
		"api":      "/api/v1",
	}, r.logger)
	if err != nil {
		r.logger.Warn("mdns advertisement failed", slog.String("error", err.Error()))
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", listener.Addr().String()),
		slog.String("engine", r.model.Name()),
		slog.String("language", r.cfg.Whisper.Language),
	)

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
	return nil
}

func (r *Runtime) startEngine() error {
	model, err := stt.NewModel(r.cfg.Whisper)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	r.model = model
	// A request may not grow past the sample count of a maximum-size 16-bit body.
	r.service = transcribe.NewService(model, stt.ParamsFromConfig(r.cfg.Whisper), r.logger,
		transcribe.WithMaxSamples(r.cfg.HTTP.MaxBodyBytes/2))
	r.logger.Info("engine ready",
		slog.String("engine", model.Name()),
		slog.String("model_path", r.cfg.Whisper.ModelPath),
		slog.Int("threads", r.cfg.Whisper.NumThreads),
		slog.Int("audio_context", r.cfg.Whisper.AudioContext),
	)
	return nil
}

func (r *Runtime) startBus(ctx context.Context) error {
	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.cfg.HTTP.Bind, r.logger)
	if err != nil {
		return err
	}
	r.embedded = embedded
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}

	r.bus, err = bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger)
	if err != nil {
		return err
	}

	local := []capability.Capability{{
		Name: "transcribe",
		Attributes: map[string]string{
			"engine":   r.model.Name(),
			"language": r.cfg.Whisper.Language,
			"subject":  busCfg.RequestSubject,
		},
	}}
	r.registry, err = capability.NewRegistry(ctx, r.cfg.Node, r.bus, local, r.service.QueueDepth, r.logger)
	if err != nil {
		return fmt.Errorf("start capability registry: %w", err)
	}
	return nil
}

// shutdown releases components in reverse start order. Nil components are
// skipped so it is safe after a partial start.
func (r *Runtime) shutdown() {
	r.mdns.Shutdown()
	if r.busSub != nil {
		_ = r.busSub.Drain()
	}
	if r.gateway != nil {
		r.gateway.Wait()
	}
	if r.registry != nil {
		r.registry.Close()
	}
	if r.service != nil {
		r.service.Close()
	}
	if r.model != nil {
		if err := r.model.Close(); err != nil {
			r.logger.Warn("model close error", slog.String("error", err.Error()))
		}
	}
	if r.events != nil {
		if err := r.events.Close(); err != nil {
			r.logger.Warn("event publisher close error", slog.String("error", err.Error()))
		}
	}
	if r.bus != nil {
		r.bus.Close()
	}
	r.embedded.Shutdown()
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("history close error", slog.String("error", err.Error()))
		}
	}
	if r.tracerClose != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.tracerClose(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) routes(metricsHandler http.Handler) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", r.handleHealth)
	router.Get("/readyz", r.handleReady)
	if metricsHandler != nil {
		router.Method(http.MethodGet, "/metrics", metricsHandler)
	}
	router.Get("/api/v1/nodes", r.handleNodes)
	if r.gateway != nil {
		r.gateway.Mount(router)
	}
	return router
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (r.bus == nil || r.bus.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleNodes(w http.ResponseWriter, _ *http.Request) {
	nodes := []capability.NodeInfo{}
	if r.registry != nil {
		nodes = r.registry.Nodes(nil)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(nodes)
}
