package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/ringflash/internal/color"
	"github.com/dokzlo13/ringflash/internal/config"
	"github.com/dokzlo13/ringflash/internal/eventbus"
	"github.com/dokzlo13/ringflash/internal/ring"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.HomeAssistant.URL = "http://127.0.0.1:1"
	cfg.HomeAssistant.Token = "token"
	return cfg
}

func TestNewServicesWiresWithoutConnecting(t *testing.T) {
	s, err := NewServices(context.Background(), testConfig())
	require.NoError(t, err)
	defer s.Close()

	assert.NotNil(t, s.Devices.HomeAssistant)
	assert.NotNil(t, s.Orchestrator)
	assert.Nil(t, s.Filter)
	assert.Nil(t, s.Metrics)
	st := s.Orchestrator.Guard().State()
	assert.False(t, st.Held)
	assert.Equal(t, 4*time.Second, st.Cooldown)
}

func TestFlashOptionsBrightness(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, color.Percent(50), flashOptions(cfg).Brightness)

	cfg.Flash.Brightness = 200
	assert.Equal(t, color.Raw(200), flashOptions(cfg).Brightness)

	cfg.Flash.Color = "blue"
	assert.Equal(t, "blue", flashOptions(cfg).Color)
}

func TestBusRecorderPublishesOutcome(t *testing.T) {
	bus := eventbus.NewWithConfig(1, 4)
	defer bus.Close(context.Background())

	got := make(chan ring.Outcome, 1)
	bus.Subscribe(eventbus.EventRunFinished, func(ev eventbus.Event) {
		got <- ev.Data["outcome"].(ring.Outcome)
	})

	busRecorder{bus: bus}.RecordRun(context.Background(), ring.Outcome{RunID: "r1", Source: "test", Status: ring.StatusCompleted})

	select {
	case out := <-got:
		assert.Equal(t, "r1", out.RunID)
	case <-time.After(time.Second):
		t.Fatal("outcome not delivered")
	}
}
