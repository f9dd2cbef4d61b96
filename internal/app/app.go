package app

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ringflash/internal/config"
)

// App owns the ring engine's services for one serve run.
type App struct {
	cfg      *config.Config
	services *Services

	ctx      context.Context
	cancel   context.CancelCauseFunc
	done     <-chan struct{}
	stopOnce sync.Once
}

// New wires every service without connecting anything.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	services, err := NewServices(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, services: services}, nil
}

// Services exposes the wired services.
func (a *App) Services() *Services {
	return a.services
}

// Run starts the services, blocks until ctx ends or a background service
// fails, then stops. The failure is returned; a plain shutdown returns nil.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		a.Stop()
		return err
	}
	err := a.Wait()
	a.Stop()
	return err
}

// Start connects the backend, triggers and API.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancelCause(ctx)
	a.done = a.ctx.Done()

	fail := func(err error) {
		log.Error().Err(err).Msg("Background service failed, shutting down")
		a.cancel(err)
	}
	if err := a.services.Start(a.ctx, fail); err != nil {
		return err
	}

	log.Info().
		Str("transport", a.cfg.Transport.Kind).
		Bool("api", a.cfg.API.Enabled).
		Bool("mqtt", a.cfg.MQTT.Enabled).
		Dur("cooldown", a.cfg.Ring.Cooldown.Duration()).
		Msg("ringflash started")
	return nil
}

// Wait blocks until the run ends and returns the failure that ended it, if any.
func (a *App) Wait() error {
	if a.done == nil {
		return nil
	}
	<-a.done

	cause := context.Cause(a.ctx)
	if errors.Is(cause, context.Canceled) {
		return nil
	}
	return cause
}

// Stop releases every service. Safe to call more than once.
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		log.Info().Msg("Shutting down")
		if a.cancel != nil {
			a.cancel(nil)
		}
		a.services.Close()
	})
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() context.Context {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
		log.Warn().Msg("Received shutdown signal")
	}()
	return ctx
}
