package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ringflash/internal/chime"
	"github.com/dokzlo13/ringflash/internal/color"
	"github.com/dokzlo13/ringflash/internal/config"
	"github.com/dokzlo13/ringflash/internal/db"
	"github.com/dokzlo13/ringflash/internal/eventbus"
	"github.com/dokzlo13/ringflash/internal/flash"
	"github.com/dokzlo13/ringflash/internal/ledger"
	"github.com/dokzlo13/ringflash/internal/metrics"
	"github.com/dokzlo13/ringflash/internal/ring"
	"github.com/dokzlo13/ringflash/internal/script"
	"github.com/dokzlo13/ringflash/internal/targets"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger
	Bus    *eventbus.Bus

	// Device backend
	Devices *TransportService

	// Ring engine
	Flash        *flash.Sequencer
	Chime        *chime.Sequencer
	Orchestrator *ring.Orchestrator
	Filter       *script.Filter
	Metrics      *metrics.Client

	// Triggers and surfaces
	Triggers *TriggerService
	API      *APIService
}

// NewServices creates all services with proper dependency injection.
// Nothing is connected until Start.
func NewServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.Ledger = ledger.New(database.DB)

	s.Devices, err = NewTransportService(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	// Static config groups win over backend groups of the same name
	normalizer := targets.NewNormalizer(targets.Chain{
		targets.StaticGroups(cfg.Groups),
		s.Devices.Transport,
	})

	s.Flash = flash.New(s.Devices.Transport, normalizer, flashOptions(cfg))
	s.Chime = chime.New(s.Devices.Transport, normalizer, chimeOptions(cfg))

	guard := ring.NewGuard(cfg.Ring.Cooldown.Duration(), time.Now)
	s.Orchestrator = ring.NewOrchestrator(guard, s.Flash, s.Chime, ring.Options{
		FlashEnabled: cfg.Ring.GetFlashEnabled(),
		ChimeEnabled: cfg.Ring.GetChimeEnabled(),
	})
	s.Orchestrator.AddRecorder(s.Ledger)

	if cfg.Influx.Enabled {
		s.Metrics, err = metrics.Connect(cfg.Influx)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Orchestrator.AddRecorder(s.Metrics)
	}

	if cfg.Ring.FilterScript != "" {
		s.Filter, err = script.Load(cfg.Ring.FilterScript)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Orchestrator.AddFilter(s.Filter)
		log.Info().Str("script", cfg.Ring.FilterScript).Msg("Loaded ring filter script")
	}

	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())
	s.Orchestrator.AddRecorder(busRecorder{bus: s.Bus})
	s.Triggers = NewTriggerService(cfg, s.Bus, s.Orchestrator, s.Devices)
	s.API = NewAPIService(cfg, s)

	return s, nil
}

func flashOptions(cfg *config.Config) flash.Options {
	fc := cfg.Flash
	brightness := color.Percent(fc.BrightnessPct)
	if fc.Brightness > 0 {
		brightness = color.Raw(fc.Brightness)
	}

	var col any
	if fc.Color != "" {
		col = fc.Color
	}

	return flash.Options{
		DefaultTargets:  fc.Targets,
		Flashes:         fc.Flashes,
		On:              fc.On.Duration(),
		Off:             fc.Off.Duration(),
		Brightness:      brightness,
		Color:           col,
		Restore:         fc.GetRestore(),
		RestoreSettle:   fc.RestoreSettle.Duration(),
		Refresh:         fc.Refresh != nil && *fc.Refresh,
		RefreshDelay:    fc.RefreshDelay.Duration(),
		SuppressWhileOn: fc.SuppressWhileOn,
	}
}

func chimeOptions(cfg *config.Config) chime.Options {
	cc := cfg.Chime
	return chime.Options{
		DefaultPlayers: cc.Players,
		MediaURL:       cc.MediaURL,
		MediaType:      cc.MediaType,
		Volume:         cc.Volume,
		Duration:       cc.Duration.Duration(),
		Stagger:        cc.Stagger.Duration(),
		SnapshotDomain: cc.SnapshotDomain,
		WithGroup:      cc.GetWithGroup(),
	}
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a background service cannot recover.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	if err := s.Devices.Start(ctx); err != nil {
		return err
	}

	if err := s.Triggers.Start(ctx, onFatalError); err != nil {
		return err
	}

	go s.runLedgerCleanup(ctx)
	s.API.Start(ctx, onFatalError)

	return nil
}

// Ready reports whether the device backend answers.
func (s *Services) Ready(ctx context.Context) error {
	return s.Devices.Ready(ctx)
}

// runLedgerCleanup periodically drops ledger rows past the retention window.
func (s *Services) runLedgerCleanup(ctx context.Context) {
	retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour
	interval := s.cfg.Ledger.CleanupInterval.Duration()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.Ledger.DeleteOlderThan(ctx, retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}

// busRecorder announces every outcome so late consumers (MQTT status) see it
// without the orchestrator knowing about them.
type busRecorder struct {
	bus *eventbus.Bus
}

func (r busRecorder) RecordRun(_ context.Context, out ring.Outcome) {
	r.bus.Publish(eventbus.Event{
		Type:   eventbus.EventRunFinished,
		Source: out.Source,
		Data:   map[string]any{"outcome": out},
	})
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Triggers != nil {
		s.Triggers.Close()
	}
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		s.Bus.Close(ctx)
	}
	if s.Metrics != nil {
		s.Metrics.Close()
	}
	if s.Filter != nil {
		s.Filter.Close()
	}
	if s.Devices != nil {
		s.Devices.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
