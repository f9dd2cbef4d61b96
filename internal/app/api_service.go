package app

import (
	"context"
	"net/http"

	"github.com/dokzlo13/ringflash/internal/api"
	"github.com/dokzlo13/ringflash/internal/config"
)

// APIService serves the HTTP API when enabled.
type APIService struct {
	cfg    *config.Config
	server *api.Server
}

// NewAPIService wires the handlers to the ring engine.
func NewAPIService(cfg *config.Config, s *Services) *APIService {
	return &APIService{
		cfg: cfg,
		server: api.New(api.Deps{
			Flasher: s.Flash,
			Chimer:  s.Chime,
			Ringer:  s.Orchestrator,
			Bus:     s.Bus,
			Runs:    s.Ledger,
			Ready:   s.Ready,
		}),
	}
}

// Handler returns the routed handler.
func (a *APIService) Handler() http.Handler {
	return a.server.Router(a.cfg.API.RequestTimeout.Duration())
}

// Start serves in the background until ctx is cancelled. A listener error is fatal.
func (a *APIService) Start(ctx context.Context, onFatalError func(error)) {
	if !a.cfg.API.Enabled {
		return
	}

	srv := &http.Server{Addr: a.cfg.API.Addr(), Handler: a.Handler()}
	go func() {
		if err := api.Run(ctx, srv, a.cfg.ShutdownTimeout.Duration()); err != nil {
			onFatalError(err)
		}
	}()
}
