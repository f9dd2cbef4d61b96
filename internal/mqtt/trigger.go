package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ringflash/internal/eventbus"
	"github.com/dokzlo13/ringflash/internal/ring"
)

// Source tags events that arrived over MQTT.
const Source = "mqtt"

// ErrPayload is returned for messages that are neither a doorbell event
// object nor a plain ring keyword.
var ErrPayload = errors.New("unrecognized doorbell payload")

// ringWords are plain payloads that request a ring without filtering.
var ringWords = map[string]bool{
	"ring": true, "ding": true, "on": true, "pressed": true, "press": true, "1": true, "true": true,
}

// Subscriber is the subscribe half of Client.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler MessageHandler) error
}

// Publisher is the publish half of Client.
type Publisher interface {
	Publish(topic string, retained bool, payload []byte) error
}

// Bus is where triggers are published.
type Bus interface {
	Publish(ev eventbus.Event) int
}

// Trigger forwards doorbell messages to the bus.
type Trigger struct {
	bus   Bus
	topic string
	qos   byte
}

// NewTrigger creates a Trigger for topic.
func NewTrigger(bus Bus, topic string, qos byte) *Trigger {
	return &Trigger{bus: bus, topic: topic, qos: qos}
}

// Start subscribes the trigger.
func (t *Trigger) Start(sub Subscriber) error {
	if err := sub.Subscribe(t.topic, t.qos, t.Handle); err != nil {
		return err
	}
	log.Info().Str("topic", t.topic).Msg("MQTT doorbell trigger subscribed")
	return nil
}

// Handle converts one payload. A JSON object is a doorbell event that must
// still pass the ring filter; a ring keyword asks for an unconditional ring.
func (t *Trigger) Handle(topic string, payload []byte) error {
	ev, err := Decode(payload)
	if err != nil {
		return fmt.Errorf("topic %s: %w", topic, err)
	}
	ev.Source = Source

	if t.bus.Publish(ev) == 0 {
		log.Warn().Str("topic", topic).Str("event_type", string(ev.Type)).Msg("Doorbell message not delivered")
	}
	return nil
}

// Decode parses a doorbell payload into a bus event.
func Decode(payload []byte) (eventbus.Event, error) {
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "{") {
		var attrs map[string]any
		if err := json.Unmarshal([]byte(trimmed), &attrs); err != nil {
			return eventbus.Event{}, fmt.Errorf("%w: %w", ErrPayload, err)
		}
		// a bare event object is accepted as well as HA-style attributes
		if _, ok := attrs["event_data"]; !ok {
			if _, typed := attrs["event_type"]; typed {
				attrs = map[string]any{"event_type": attrs["event_type"], "event_data": attrs}
			}
		}
		return eventbus.Event{Type: eventbus.EventDoorbell, Data: attrs}, nil
	}

	if ringWords[strings.ToLower(strings.Trim(trimmed, `"`))] {
		return eventbus.Event{Type: eventbus.EventRing}, nil
	}
	return eventbus.Event{}, ErrPayload
}

// StatusPublisher publishes every ring outcome as a retained JSON message.
type StatusPublisher struct {
	pub   Publisher
	topic string
}

// NewStatusPublisher creates a StatusPublisher writing to topic.
func NewStatusPublisher(pub Publisher, topic string) *StatusPublisher {
	return &StatusPublisher{pub: pub, topic: topic}
}

type status struct {
	RunID      string `json:"run_id"`
	Source     string `json:"source"`
	Status     string `json:"status"`
	SkipReason string `json:"skip_reason,omitempty"`
	StartedAt  string `json:"started_at"`
	DurationMS int64  `json:"duration_ms"`
	FlashError string `json:"flash_error,omitempty"`
	ChimeError string `json:"chime_error,omitempty"`
}

// PublishOutcome encodes out and publishes it.
func (p *StatusPublisher) PublishOutcome(out ring.Outcome) error {
	st := status{
		RunID:      out.RunID,
		Source:     out.Source,
		Status:     string(out.Status),
		SkipReason: out.SkipReason,
		StartedAt:  out.StartedAt.UTC().Format(time.RFC3339Nano),
		DurationMS: out.Duration().Milliseconds(),
	}
	if out.FlashErr != nil {
		st.FlashError = out.FlashErr.Error()
	}
	if out.ChimeErr != nil {
		st.ChimeError = out.ChimeErr.Error()
	}

	payload, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return p.pub.Publish(p.topic, true, payload)
}
