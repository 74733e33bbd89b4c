package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-speech/internal/bridge"
	"github.com/loqalabs/loqa-speech/internal/bus"
	"github.com/loqalabs/loqa-speech/internal/capability"
	"github.com/loqalabs/loqa-speech/internal/config"
	"github.com/loqalabs/loqa-speech/internal/dispatch"
	"github.com/loqalabs/loqa-speech/internal/events"
	"github.com/loqalabs/loqa-speech/internal/eventstore"
	"github.com/loqalabs/loqa-speech/internal/natsserver"
	"github.com/loqalabs/loqa-speech/internal/protocol"
	"github.com/loqalabs/loqa-speech/internal/stt"
	"github.com/loqalabs/loqa-speech/internal/tts"
)

const pruneInterval = time.Hour

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	metricsSrv  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	addr        atomic.Value
	wg          sync.WaitGroup

	embedded *natsserver.EmbeddedServer
	bus      *bus.Client
	store    *eventstore.Store
	recorder *eventstore.Recorder
	bridge   *bridge.Service
	registry *capability.Registry
	stt      *stt.Session
	tts      *tts.Session
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Addr returns the HTTP listen address once the runtime is serving.
func (r *Runtime) Addr() string {
	addr, _ := r.addr.Load().(string)
	return addr
}

// Ready reports whether every started component is serving.
func (r *Runtime) Ready() bool {
	if !r.ready.Load() {
		return false
	}
	if !r.bus.Healthy() || !r.bridge.Healthy() {
		return false
	}
	return r.registry == nil || r.registry.Healthy()
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.startServices(ctx); err != nil {
		r.stopServices()
		r.closeTelemetry()
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		r.stopServices()
		r.closeTelemetry()
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	r.addr.Store(listener.Addr().String())
	r.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if bind := r.cfg.Telemetry.PrometheusBind; bind != "" && metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsSrv = &http.Server{Addr: bind, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	if r.store != nil {
		r.wg.Add(1)
		go r.runPrune(ctx)
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", r.Addr()))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	r.stopServices()
	r.closeTelemetry()
	return nil
}

func (r *Runtime) startServices(ctx context.Context) error {
	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded bus: %w", err)
	}
	r.embedded = embedded
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}

	client, err := bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return err
	}
	r.bus = client

	if r.cfg.EventStore.Enabled {
		store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "event-store")))
		if err != nil {
			return fmt.Errorf("open event store: %w", err)
		}
		r.store = store
		r.recorder = eventstore.NewRecorder(store, 0, r.logger)
	}

	var (
		channels []*dispatch.Channel
		streams  []bridge.Stream
	)
	if r.cfg.STT.Enabled {
		eng, err := newRecognitionEngine(r.cfg.STT, r.logger)
		if err != nil {
			return fmt.Errorf("build recognition engine: %w", err)
		}
		states, results := events.NewSink(), events.NewSink()
		r.stt = stt.NewSession(eng, states, results, r.logger)
		channels = append(channels, dispatch.NewRecognitionChannel(r.stt, r.logger))
		streams = append(streams,
			bridge.Stream{Channel: protocol.ChannelSTT, Name: protocol.StreamStates, Sink: states},
			bridge.Stream{Channel: protocol.ChannelSTT, Name: protocol.StreamResults, Sink: results},
		)
	}
	if r.cfg.TTS.Enabled {
		eng, err := newSynthesisEngine(r.cfg.TTS, r.logger)
		if err != nil {
			return fmt.Errorf("build synthesis engine: %w", err)
		}
		states := events.NewSink()
		r.tts = tts.NewSession(eng, states, r.logger)
		channels = append(channels, dispatch.NewSynthesisChannel(r.tts, r.logger))
		streams = append(streams, bridge.Stream{Channel: protocol.ChannelTTS, Name: protocol.StreamStates, Sink: states})
	}

	if r.cfg.Node.ID != "" {
		registry, err := capability.NewRegistry(ctx, r.cfg.Node, r.bus, r.probe, r.logger)
		if err != nil {
			return fmt.Errorf("start capability registry: %w", err)
		}
		r.registry = registry
		for _, ch := range channels {
			ch.Observe(r.refreshOn("setLanguage", "setVoice", "dispose"))
		}
	}

	var recorder bridge.Recorder
	if r.recorder != nil {
		recorder = r.recorder
	}
	r.bridge = bridge.NewService(ctx, r.cfg.Bridge, r.bus, channels, streams, recorder, r.logger)
	if err := r.bridge.Start(); err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}

	return nil
}

// probe reports the local engines as announced capabilities.
func (r *Runtime) probe() []capability.Capability {
	var caps []capability.Capability
	if r.stt != nil {
		caps = append(caps, r.describe(capability.NameSTT, r.cfg.STT.Mode, r.stt))
	}
	if r.tts != nil {
		caps = append(caps, r.describe(capability.NameTTS, r.cfg.TTS.Mode, r.tts))
	}
	return caps
}

type languageSession interface {
	IsSupported() bool
	Language() (string, error)
	Languages() ([]string, error)
}

func (r *Runtime) describe(name, mode string, s languageSession) capability.Capability {
	supported := s.IsSupported()
	langs, err := s.Languages()
	if err != nil {
		r.logger.Warn("failed to list languages", slog.String("capability", name), slog.String("error", err.Error()))
	}
	c := capability.Speech(name, mode, supported, langs)
	if supported {
		if lang, err := s.Language(); err == nil {
			c.Attributes[capability.AttrLanguage] = lang
		}
	}
	return c
}

// refreshOn re-announces capabilities after any of methods succeeds.
func (r *Runtime) refreshOn(methods ...string) dispatch.Observer {
	return func(method string) {
		if !slices.Contains(methods, method) {
			return
		}
		if err := r.registry.Refresh(); err != nil {
			r.logger.Warn("failed to refresh capabilities", slog.String("method", method), slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) stopServices() {
	if r.registry != nil {
		r.registry.Close()
	}
	if r.bridge != nil {
		r.bridge.Close()
	}
	if r.stt != nil {
		r.stt.Dispose()
	}
	if r.tts != nil {
		r.tts.Dispose()
	}
	if r.recorder != nil {
		r.recorder.Close()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}
	r.bus.Close()
	r.embedded.Shutdown()
}

func (r *Runtime) closeTelemetry() {
	if r.tracerClose == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tracerClose(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}

func (r *Runtime) runPrune(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Prune(ctx); err != nil {
				r.logger.Warn("event store prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
