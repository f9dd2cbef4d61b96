package app

import (
	"context"
	"fmt"

	"github.com/amimof/huego"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ringflash/internal/config"
	"github.com/dokzlo13/ringflash/internal/device"
	"github.com/dokzlo13/ringflash/internal/discovery"
	"github.com/dokzlo13/ringflash/internal/homeassistant"
	"github.com/dokzlo13/ringflash/internal/hue"
)

// TransportService owns the device backend selected by transport.kind.
type TransportService struct {
	cfg *config.Config

	// Transport is the rate-limited, timeout-bounded backend every sequencer uses.
	Transport *device.Limited

	// HomeAssistant is nil for the hue transport.
	HomeAssistant *homeassistant.Client
	bridge        *huego.Bridge
}

// NewTransportService builds the backend without connecting. An empty Home
// Assistant URL is discovered over mDNS when enabled.
func NewTransportService(ctx context.Context, cfg *config.Config) (*TransportService, error) {
	s := &TransportService{cfg: cfg}

	var backend device.Transport
	switch cfg.Transport.Kind {
	case config.TransportHomeAssistant:
		url := cfg.HomeAssistant.URL
		if url == "" {
			inst, err := discovery.Discover(ctx, discovery.DefaultTimeout)
			if err != nil {
				return nil, fmt.Errorf("home assistant discovery: %w", err)
			}
			url = inst.URL
		}
		s.HomeAssistant = homeassistant.NewClient(url, cfg.HomeAssistant.Token, cfg.HomeAssistant.Timeout.Duration())
		backend = s.HomeAssistant
	case config.TransportHue:
		s.bridge = hue.Connect(cfg.Hue.Bridge, cfg.Hue.Token)
		backend = hue.NewTransport(s.bridge, hue.NewGroupCache(cfg.Hue.CacheTTL.Duration()))
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}

	s.Transport = device.NewLimited(backend, cfg.Transport.CommandTimeout.Duration(), cfg.Transport.RateLimitRPS)
	return s, nil
}

// Start verifies the backend is reachable.
func (s *TransportService) Start(ctx context.Context) error {
	if err := s.Ready(ctx); err != nil {
		return err
	}
	log.Info().Str("kind", s.cfg.Transport.Kind).Msg("Device transport connected")
	return nil
}

// Ready probes the backend.
func (s *TransportService) Ready(ctx context.Context) error {
	if s.HomeAssistant != nil {
		return s.HomeAssistant.Connect(ctx)
	}
	if s.bridge != nil {
		if _, err := s.bridge.GetConfig(); err != nil {
			return fmt.Errorf("%w: hue bridge: %v", device.ErrTransport, err)
		}
	}
	return nil
}

// Watcher returns a doorbell event watcher, or nil when the backend cannot
// stream events.
func (s *TransportService) Watcher() *homeassistant.Watcher {
	if s.HomeAssistant == nil || len(s.cfg.HomeAssistant.EventEntities) == 0 {
		return nil
	}
	return homeassistant.NewWatcher(s.HomeAssistant, s.cfg.HomeAssistant.EventEntities, homeassistant.WatcherConfig{
		MinBackoff:  s.cfg.HomeAssistant.MinRetryBackoff.Duration(),
		MaxBackoff:  s.cfg.HomeAssistant.MaxRetryBackoff.Duration(),
		Multiplier:  s.cfg.HomeAssistant.RetryMultiplier,
		ReadTimeout: homeassistant.DefaultWatcherConfig().ReadTimeout,
	})
}

// Close releases the backend.
func (s *TransportService) Close() {
	if s.HomeAssistant != nil {
		s.HomeAssistant.Close()
	}
}
