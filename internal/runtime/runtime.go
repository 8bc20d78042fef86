package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/auralabs/aura-core/internal/archiver"
	"github.com/auralabs/aura-core/internal/bus"
	"github.com/auralabs/aura-core/internal/capability"
	"github.com/auralabs/aura-core/internal/config"
	"github.com/auralabs/aura-core/internal/eventstore"
	"github.com/auralabs/aura-core/internal/natsserver"
	"github.com/auralabs/aura-core/internal/speech"
	"github.com/auralabs/aura-core/internal/stt"
)

// Runtime wires the gateway together: telemetry, bus, transcript
// store, recognition service, archiver, capability registry and the
// HTTP surface.
type Runtime struct {
	cfg            config.Config
	logger         *slog.Logger
	httpServer     *http.Server
	telemetryClose func(context.Context) error
	embedded       *natsserver.EmbeddedServer
	busClient      *bus.Client
	store          *eventstore.Store
	recognizer     stt.Recognizer
	asr            *stt.Service
	arch           *archiver.Service
	registry       *capability.Registry
	speechClient   *speech.Client
	ready          atomic.Bool
	wg             sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	r.embedded = embedded

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect bus: %w", err)
	}
	r.busClient = busClient

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open transcript store: %w", err)
	}
	r.store = store

	speechClient, err := speech.FromConfig(r.cfg.Cloud, r.logger)
	if err != nil {
		return fmt.Errorf("failed to build speech client: %w", err)
	}
	r.speechClient = speechClient

	recognizer, err := stt.NewRecognizer(r.cfg.ASR, r.cfg.Cloud, r.logger)
	if err != nil {
		return fmt.Errorf("failed to build recognizer: %w", err)
	}
	r.recognizer = recognizer

	r.asr = stt.NewService(ctx, r.cfg.ASR, busClient, recognizer, r.logger)
	if err := r.asr.Start(); err != nil {
		return fmt.Errorf("failed to start asr service: %w", err)
	}

	r.arch = archiver.NewService(ctx, r.cfg.EventStore, busClient, store, r.logger)
	if err := r.arch.Start(); err != nil {
		return fmt.Errorf("failed to start archiver: %w", err)
	}

	registry, err := capability.NewRegistry(ctx, r.cfg.Node, busClient, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start capability registry: %w", err)
	}
	r.registry = registry

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/v1/speech:syncrecognize", r.handleSyncRecognize)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("gateway started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("gateway stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	r.registry.Close()
	r.arch.Close()
	r.asr.Close()
	if err := r.store.Close(); err != nil {
		r.logger.Error("transcript store close error", slog.String("error", err.Error()))
	}
	r.busClient.Close()
	r.embedded.Shutdown()

	if r.telemetryClose != nil {
		if err := r.telemetryClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.componentsHealthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) componentsHealthy() bool {
	if r.busClient != nil && !r.busClient.Healthy() {
		return false
	}
	if r.asr != nil && !r.asr.Healthy() {
		return false
	}
	if r.arch != nil && !r.arch.Healthy() {
		return false
	}
	return true
}
