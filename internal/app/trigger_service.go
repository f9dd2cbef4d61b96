package app

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ringflash/internal/config"
	"github.com/dokzlo13/ringflash/internal/eventbus"
	"github.com/dokzlo13/ringflash/internal/homeassistant"
	"github.com/dokzlo13/ringflash/internal/mqtt"
	"github.com/dokzlo13/ringflash/internal/ring"
)

// SourceHomeAssistant tags rings triggered by Home Assistant doorbell events.
const SourceHomeAssistant = "homeassistant"

// TriggerService turns doorbell presses into rings. Every trigger goes
// through the event bus so a slow ring never blocks a websocket or MQTT reader.
type TriggerService struct {
	cfg          *config.Config
	bus          *eventbus.Bus
	orchestrator *ring.Orchestrator
	devices      *TransportService

	mqtt   *mqtt.Client
	status *mqtt.StatusPublisher
}

// NewTriggerService creates a new TriggerService.
func NewTriggerService(cfg *config.Config, bus *eventbus.Bus, orchestrator *ring.Orchestrator, devices *TransportService) *TriggerService {
	return &TriggerService{
		cfg:          cfg,
		bus:          bus,
		orchestrator: orchestrator,
		devices:      devices,
	}
}

// Start registers bus handlers, then starts the event sources.
func (s *TriggerService) Start(ctx context.Context, onFatalError func(error)) error {
	s.subscribe(ctx)

	if w := s.devices.Watcher(); w != nil {
		go func() {
			err := w.Run(ctx, s.onDoorbellState)
			if errors.Is(err, homeassistant.ErrAuth) {
				onFatalError(err)
			}
		}()
		log.Info().Strs("entities", s.cfg.HomeAssistant.EventEntities).Msg("Watching Home Assistant doorbell events")
	}

	if s.cfg.MQTT.Enabled {
		client, err := mqtt.Connect(s.cfg.MQTT)
		if err != nil {
			return err
		}
		s.mqtt = client

		if err := mqtt.NewTrigger(s.bus, s.cfg.MQTT.Topic, s.cfg.MQTT.QoS).Start(client); err != nil {
			return err
		}
		if s.cfg.MQTT.StatusTopic != "" {
			s.status = mqtt.NewStatusPublisher(client, s.cfg.MQTT.StatusTopic)
		}
	}

	return nil
}

func (s *TriggerService) subscribe(ctx context.Context) {
	s.bus.Subscribe(eventbus.EventDoorbell, func(ev eventbus.Event) {
		s.orchestrator.HandleEvent(ctx, ring.EventFromAttributes(ev.Data), ring.Params{Source: ev.Source})
	})

	s.bus.Subscribe(eventbus.EventRing, func(ev eventbus.Event) {
		p, _ := ev.Data["params"].(ring.Params)
		if p.Source == "" {
			p.Source = ev.Source
		}
		s.orchestrator.Ring(ctx, p)
	})

	s.bus.Subscribe(eventbus.EventRunFinished, func(ev eventbus.Event) {
		if s.status == nil {
			return
		}
		out, ok := ev.Data["outcome"].(ring.Outcome)
		if !ok {
			return
		}
		if err := s.status.PublishOutcome(out); err != nil {
			log.Warn().Err(err).Str("run_id", out.RunID).Msg("Failed to publish ring status")
		}
	})
}

// onDoorbellState forwards an event entity update. The attributes carry the
// event_type and event_data the ring filter inspects.
func (s *TriggerService) onDoorbellState(entityID, state string, attrs map[string]any) {
	log.Debug().Str("entity", entityID).Str("state", state).Msg("Doorbell event entity changed")
	if s.bus.Publish(eventbus.Event{Type: eventbus.EventDoorbell, Source: SourceHomeAssistant, Data: attrs}) == 0 {
		log.Warn().Str("entity", entityID).Msg("Doorbell event not delivered")
	}
}

// Close disconnects MQTT.
func (s *TriggerService) Close() {
	if s.mqtt != nil {
		s.mqtt.Close()
	}
}
