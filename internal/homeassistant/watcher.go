package homeassistant

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ErrAuth is returned when Home Assistant rejects the access token.
var ErrAuth = errors.New("home assistant authentication failed")

// WatcherConfig controls websocket reconnection.
type WatcherConfig struct {
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	Multiplier  float64
	ReadTimeout time.Duration
}

// DefaultWatcherConfig returns the default reconnect policy.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		MinBackoff:  time.Second,
		MaxBackoff:  time.Minute,
		Multiplier:  2.0,
		ReadTimeout: 120 * time.Second,
	}
}

// StateHandler receives the new attributes of a watched entity.
type StateHandler func(entityID, state string, attrs map[string]any)

// Watcher follows state_changed events for a set of entities over the
// Home Assistant websocket API.
type Watcher struct {
	baseURL  string
	token    string
	entities map[string]struct{}
	config   WatcherConfig
	dialer   *websocket.Dialer
}

// NewWatcher creates a watcher for the given entities.
func NewWatcher(client *Client, entities []string, config WatcherConfig) *Watcher {
	set := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		set[e] = struct{}{}
	}
	if config.MinBackoff == 0 {
		config = DefaultWatcherConfig()
	}
	return &Watcher{
		baseURL:  client.BaseURL(),
		token:    client.Token(),
		entities: set,
		config:   config,
		dialer:   websocket.DefaultDialer,
	}
}

// Run keeps a session open until ctx is cancelled, reconnecting with
// exponential backoff. Only a rejected token stops it early.
func (w *Watcher) Run(ctx context.Context, handler StateHandler) error {
	backoff := w.config.MinBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}

		connected, err := w.session(ctx, handler)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrAuth) {
			log.Error().Err(err).Msg("Home Assistant websocket rejected token")
			return err
		}
		if connected {
			backoff = w.config.MinBackoff
		}

		log.Warn().Err(err).Dur("backoff", backoff).Msg("Home Assistant websocket disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * w.config.Multiplier)
		if backoff > w.config.MaxBackoff {
			backoff = w.config.MaxBackoff
		}
	}
}

type wsMessage struct {
	ID      int    `json:"id"`
	Type    string `json:"type"`
	Success *bool  `json:"success"`
	Message string `json:"message"`
	Event   struct {
		EventType string `json:"event_type"`
		Data      struct {
			EntityID string `json:"entity_id"`
			NewState *struct {
				State      string         `json:"state"`
				Attributes map[string]any `json:"attributes"`
			} `json:"new_state"`
		} `json:"data"`
	} `json:"event"`
}

// session runs a single connection. connected reports whether the
// subscription was established before the session ended.
func (w *Watcher) session(ctx context.Context, handler StateHandler) (connected bool, err error) {
	wsURL, err := websocketURL(w.baseURL + "/api/websocket")
	if err != nil {
		return false, err
	}

	conn, _, err := w.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return false, err
	}
	if msg.Type != "auth_required" {
		return false, fmt.Errorf("unexpected greeting %q", msg.Type)
	}

	if err := conn.WriteJSON(map[string]any{"type": "auth", "access_token": w.token}); err != nil {
		return false, err
	}
	msg = wsMessage{}
	if err := conn.ReadJSON(&msg); err != nil {
		return false, err
	}
	if msg.Type != "auth_ok" {
		return false, fmt.Errorf("%w: %s", ErrAuth, msg.Message)
	}

	subscribe := map[string]any{"id": 1, "type": "subscribe_events", "event_type": "state_changed"}
	if err := conn.WriteJSON(subscribe); err != nil {
		return false, err
	}

	log.Info().Str("url", wsURL).Int("entities", len(w.entities)).Msg("Subscribed to Home Assistant state changes")

	for {
		if err := conn.SetReadDeadline(time.Now().Add(w.config.ReadTimeout)); err != nil {
			return true, err
		}
		msg = wsMessage{}
		if err := conn.ReadJSON(&msg); err != nil {
			return true, err
		}

		switch msg.Type {
		case "result":
			if msg.Success != nil && !*msg.Success {
				return true, fmt.Errorf("subscription rejected: %s", msg.Message)
			}
		case "event":
			w.dispatch(msg, handler)
		}
	}
}

func (w *Watcher) dispatch(msg wsMessage, handler StateHandler) {
	data := msg.Event.Data
	if msg.Event.EventType != "state_changed" || data.NewState == nil {
		return
	}
	if _, ok := w.entities[data.EntityID]; !ok {
		return
	}

	log.Debug().Str("entity", data.EntityID).Str("state", data.NewState.State).Msg("Watched entity changed")
	handler(data.EntityID, data.NewState.State, data.NewState.Attributes)
}

func websocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}
