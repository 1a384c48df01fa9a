// Package app wires the components together and owns their lifecycles.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"lectern/internal/api"
	"lectern/internal/broadcast"
	"lectern/internal/classroom"
	"lectern/internal/config"
	"lectern/internal/database"
	"lectern/internal/lifecycle"
	"lectern/internal/metrics"
	"lectern/internal/provider"
	"lectern/internal/router"
	ws "lectern/internal/websocket"
	"lectern/pkg/interfaces"
)

// Application holds every long-lived component, constructed in dependency
// order and torn down in reverse.
type Application struct {
	cfg        *config.Config
	repo       *database.Manager
	registry   *ws.Registry
	directory  *classroom.Directory
	sessions   *lifecycle.Manager
	reaper     *lifecycle.Reaper
	httpServer *http.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option overrides a default component before wiring.
type Option func(*options)

type options struct {
	translator  interfaces.Translator
	synthesizer interfaces.SpeechSynthesizer
}

// WithTranslator replaces the built-in static translator.
func WithTranslator(t interfaces.Translator) Option {
	return func(o *options) { o.translator = t }
}

// WithSynthesizer replaces the built-in static synthesizer.
func WithSynthesizer(s interfaces.SpeechSynthesizer) Option {
	return func(o *options) { o.synthesizer = s }
}

// New constructs the full application from configuration.
func New(cfg *config.Config, opts ...Option) (*Application, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.translator == nil {
		o.translator = provider.NewStatic()
	}
	if o.synthesizer == nil {
		o.synthesizer = provider.NewStatic()
	}

	repo, err := database.NewManager(cfg.Database.Path, cfg.Database.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session repository: %w", err)
	}

	m := metrics.New()

	registry := ws.NewRegistry(cfg.Broadcast.FallbackLanguage)
	directory := classroom.NewDirectory(cfg.Classroom.CodeTTL, cfg.Classroom.CleanupInterval, m)
	sessions := lifecycle.NewManager(repo)
	reaper := lifecycle.NewReaper(sessions, m, lifecycle.ReaperConfig{
		Interval:              cfg.Reaper.Interval,
		EmptyPresenterTimeout: cfg.Reaper.EmptyPresenterTimeout,
		AbandonedGrace:        cfg.Reaper.AbandonedGrace,
		StaleThreshold:        cfg.Reaper.StaleThreshold,
	})

	orchestrator := broadcast.NewOrchestrator(o.translator, o.synthesizer, repo, m, broadcast.Config{
		MaxDeliveryAttempts: cfg.Broadcast.MaxDeliveryAttempts,
		AuditEnabled:        cfg.Broadcast.AuditEnabled,
	})

	msgRouter := router.NewRouter(registry, directory, sessions, orchestrator, m, router.Config{
		CloseGrace:       cfg.WebSocket.CloseGrace,
		RejoinWindow:     cfg.Reaper.RejoinWindow,
		AuditTranscripts: cfg.Broadcast.AuditEnabled,
	})

	wsHandler := ws.NewHandler(registry, msgRouter, m, ws.HandlerConfig{
		ReadLimit:   cfg.WebSocket.ReadLimit,
		PingPeriod:  cfg.WebSocket.PingPeriod,
		ReadTimeout: cfg.WebSocket.ReadTimeout,
		WriteWait:   cfg.WebSocket.WriteTimeout,
		SendBuffer:  cfg.WebSocket.SendBuffer,
	})

	app := &Application{
		cfg:       cfg,
		repo:      repo,
		registry:  registry,
		directory: directory,
		sessions:  sessions,
		reaper:    reaper,
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel

	server := api.NewServer(baseCtx, cfg.Mode, wsHandler, registry, directory, repo)
	app.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      server.Engine(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	app.startBackground(baseCtx)
	return app, nil
}

func (a *Application) startBackground(ctx context.Context) {
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.directory.Run(ctx)
	}()
	go func() {
		defer a.wg.Done()
		a.reaper.Run(ctx)
	}()
}

// Run serves HTTP until the listener fails or Stop is called.
func (a *Application) Run() error {
	log.Info().Str("module", "app").Str("addr", a.httpServer.Addr).Msg("server listening")
	if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Stop shuts the application down in reverse dependency order: stop
// accepting traffic, stop the background loops, then close the repository.
func (a *Application) Stop(ctx context.Context) error {
	log.Info().Str("module", "app").Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Str("module", "app").Msg("http shutdown incomplete")
	}

	a.cancel()
	a.wg.Wait()

	if err := a.repo.Close(); err != nil {
		return fmt.Errorf("failed to close session repository: %w", err)
	}

	log.Info().Str("module", "app").Msg("shutdown complete")
	return nil
}
