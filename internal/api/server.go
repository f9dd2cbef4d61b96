// Package api exposes flash, chime and ring operations over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ringflash/internal/capability"
	"github.com/dokzlo13/ringflash/internal/chime"
	"github.com/dokzlo13/ringflash/internal/eventbus"
	"github.com/dokzlo13/ringflash/internal/flash"
	"github.com/dokzlo13/ringflash/internal/ledger"
	"github.com/dokzlo13/ringflash/internal/ring"
	"github.com/dokzlo13/ringflash/internal/targets"
)

// Source tags rings requested over HTTP.
const Source = "api"

const defaultRequestTimeout = 60 * time.Second

// Flasher runs flashes and previews their targets.
type Flasher interface {
	Flash(ctx context.Context, req flash.Request) (*flash.Report, error)
	Resolve(ctx context.Context, in targets.Input) (capability.TargetSet, error)
}

// Chimer runs chimes.
type Chimer interface {
	Chime(ctx context.Context, req chime.Request) (*chime.Report, error)
}

// Ringer runs rings synchronously.
type Ringer interface {
	Ring(ctx context.Context, p ring.Params) ring.Outcome
	Guard() *ring.Guard
}

// RunLister lists recorded runs.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]*ledger.Entry, error)
}

// Publisher queues asynchronous ring requests.
type Publisher interface {
	Publish(ev eventbus.Event) int
}

// Deps are the services behind the handlers. Runs and Ready may be nil.
type Deps struct {
	Flasher Flasher
	Chimer  Chimer
	Ringer  Ringer
	Bus     Publisher
	Runs    RunLister
	Ready   func(ctx context.Context) error
}

// Server holds the handlers.
type Server struct {
	deps Deps
}

// New creates a Server.
func New(deps Deps) *Server {
	return &Server{deps: deps}
}

// Router builds the routing tree.
func (s *Server) Router(requestTimeout time.Duration) http.Handler {
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(recoverJSON)
	r.Use(requestLogger)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", s.health)
	r.Get("/readyz", s.ready)

	r.Route("/api", func(api chi.Router) {
		api.Post("/flash", s.flash)
		api.Post("/chime", s.chime)
		api.Post("/ring", s.ring)
		api.Post("/services/{alias}", s.service)
		api.Get("/resolve", s.resolve)
		api.Get("/runs", s.runs)
		api.Get("/guard", s.guard)
	})
	return r
}

// Run serves on addr until ctx is cancelled, then shuts down within
// shutdownTimeout.
func Run(ctx context.Context, server *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
