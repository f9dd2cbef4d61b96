package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/ringflash/internal/capability"
	"github.com/dokzlo13/ringflash/internal/chime"
	"github.com/dokzlo13/ringflash/internal/color"
	"github.com/dokzlo13/ringflash/internal/eventbus"
	"github.com/dokzlo13/ringflash/internal/flash"
	"github.com/dokzlo13/ringflash/internal/ledger"
	"github.com/dokzlo13/ringflash/internal/ring"
	"github.com/dokzlo13/ringflash/internal/targets"
)

type fakeFlasher struct {
	mu   sync.Mutex
	reqs []flash.Request
	err  error
	set  capability.TargetSet
}

func (f *fakeFlasher) Flash(_ context.Context, req flash.Request) (*flash.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return &flash.Report{Targets: []string{"light.a"}, Pulses: req.Flashes}, f.err
}

func (f *fakeFlasher) Resolve(_ context.Context, in targets.Input) (capability.TargetSet, error) {
	return f.set, nil
}

type fakeChimer struct {
	reqs []chime.Request
	err  error
}

func (c *fakeChimer) Chime(_ context.Context, req chime.Request) (*chime.Report, error) {
	c.reqs = append(c.reqs, req)
	return &chime.Report{Players: []string{"media_player.k"}, Duration: req.Duration}, c.err
}

type fakeBus struct {
	events []eventbus.Event
	queued int
}

func (b *fakeBus) Publish(ev eventbus.Event) int {
	b.events = append(b.events, ev)
	return b.queued
}

type fakeRuns struct {
	limit int
}

func (r *fakeRuns) Recent(_ context.Context, limit int) ([]*ledger.Entry, error) {
	r.limit = limit
	return []*ledger.Entry{{ID: 1, RunID: "r1", EventType: ledger.EventRunCompleted}}, nil
}

type fixture struct {
	flasher *fakeFlasher
	chimer  *fakeChimer
	bus     *fakeBus
	runs    *fakeRuns
	handler http.Handler
}

func newFixture() *fixture {
	f := &fixture{
		flasher: &fakeFlasher{},
		chimer:  &fakeChimer{},
		bus:     &fakeBus{queued: 1},
		runs:    &fakeRuns{},
	}
	guard := ring.NewGuard(4*time.Second, time.Now)
	orch := ring.NewOrchestrator(guard, f.flasher, f.chimer, ring.Options{FlashEnabled: true, ChimeEnabled: true})
	f.handler = New(Deps{
		Flasher: f.flasher,
		Chimer:  f.chimer,
		Ringer:  orch,
		Bus:     f.bus,
		Runs:    f.runs,
	}).Router(time.Second)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestHealth(t *testing.T) {
	f := newFixture()
	rec, body := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])

	rec, _ = f.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFlashEndpoint(t *testing.T) {
	f := newFixture()
	rec, body := f.do(t, http.MethodPost, "/api/flash", `{"targets":"light.a, light.b","flashes":2,"on_ms":100,"brightness_pct":50,"color":"blue"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["pulses"])

	require.Len(t, f.flasher.reqs, 1)
	req := f.flasher.reqs[0]
	assert.Equal(t, []string{"light.a", "light.b"}, req.Targets.Items())
	assert.Equal(t, 2, req.Flashes)
	assert.Equal(t, 100*time.Millisecond, req.On)
	assert.Equal(t, color.Percent(50), req.Brightness)
	assert.Equal(t, "blue", req.Color)
}

func TestFlashEndpointErrors(t *testing.T) {
	f := newFixture()
	f.flasher.err = flash.ErrNoUsableTargets
	rec, body := f.do(t, http.MethodPost, "/api/flash", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "no_usable_targets", body["error"].(map[string]any)["code"])
	assert.NotNil(t, body["report"])

	f.flasher.err = flash.ErrSuppressed
	rec, _ = f.do(t, http.MethodPost, "/api/flash", "{}")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/api/flash", "{broken")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFlashMixedTargetListIsCoerced(t *testing.T) {
	f := newFixture()
	rec, _ := f.do(t, http.MethodPost, "/api/flash", `{"targets":["light.a", 5, {"entity_id":"switch.b"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, f.flasher.reqs, 1)
	req := f.flasher.reqs[0]
	assert.False(t, req.Targets.IsEmpty())
	assert.Equal(t, []string{"light.a", "5", "switch.b"}, req.Targets.Items())
}

func TestInvalidTargetsRejected(t *testing.T) {
	f := newFixture()

	rec, body := f.do(t, http.MethodPost, "/api/flash", `{"targets":["light.a", {"name":"shelf"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_targets", body["error"].(map[string]any)["code"])
	assert.Empty(t, f.flasher.reqs, "defaults must not be flashed instead")

	rec, _ = f.do(t, http.MethodPost, "/api/chime", `{"players":{"name":"kitchen"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.chimer.reqs)

	rec, _ = f.do(t, http.MethodPost, "/api/ring", `{"flash_targets":[{"area":"hall"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.bus.events)
}

func TestRingAcceptsLegacyGuardSeconds(t *testing.T) {
	f := newFixture()
	rec, _ := f.do(t, http.MethodPost, "/api/services/doorbell_ring", `{"guard_seconds":10,"flash_repeats":1}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, f.bus.events, 1)
	p := f.bus.events[0].Data["params"].(ring.Params)
	assert.Equal(t, 1, p.Flash.Flashes)
}

func TestLegacyFlashAlias(t *testing.T) {
	f := newFixture()
	rec, _ := f.do(t, http.MethodPost, "/api/services/shelves_flash", `{"repeats":4,"on_time_ms":300,"brightness_pct":50}`)
	require.Equal(t, http.StatusOK, rec.Code)

	req := f.flasher.reqs[0]
	assert.Equal(t, 4, req.Flashes)
	assert.Equal(t, 300*time.Millisecond, req.On)
	assert.Equal(t, 300*time.Millisecond, req.Off)
	assert.True(t, req.Targets.IsEmpty())
}

func TestChimeEndpoint(t *testing.T) {
	f := newFixture()
	rec, body := f.do(t, http.MethodPost, "/api/services/sonos_doorbell_chime", `{"players":["media_player.k"],"chime_url":"http://x/ding.mp3","chime_vol":0.7,"chime_len":"00:00:05"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(5000), body["duration_ms"])

	req := f.chimer.reqs[0]
	assert.Equal(t, "http://x/ding.mp3", req.MediaURL)
	require.NotNil(t, req.Volume)
	assert.Equal(t, 0.7, *req.Volume)
	assert.Equal(t, 5*time.Second, req.Duration)
}

func TestChimeInvalidDurationFallsBack(t *testing.T) {
	f := newFixture()
	rec, _ := f.do(t, http.MethodPost, "/api/chime", `{"duration":"soon"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, chime.DefaultFallback, f.chimer.reqs[0].Duration)
}

func TestChimeNoPlayers(t *testing.T) {
	f := newFixture()
	f.chimer.err = chime.ErrNoPlayers
	rec, _ := f.do(t, http.MethodPost, "/api/chime", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRingQueued(t *testing.T) {
	f := newFixture()
	rec, body := f.do(t, http.MethodPost, "/api/ring", `{"flash_enabled":false,"flash_repeats":2}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "queued", body["status"])

	require.Len(t, f.bus.events, 1)
	ev := f.bus.events[0]
	assert.Equal(t, eventbus.EventRing, ev.Type)
	p, ok := ev.Data["params"].(ring.Params)
	require.True(t, ok)
	assert.Equal(t, Source, p.Source)
	require.NotNil(t, p.FlashEnabled)
	assert.False(t, *p.FlashEnabled)
	assert.Equal(t, 2, p.Flash.Flashes)
}

func TestRingNotQueued(t *testing.T) {
	f := newFixture()
	f.bus.queued = 0
	rec, _ := f.do(t, http.MethodPost, "/api/ring", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRingWaitThenCooldown(t *testing.T) {
	f := newFixture()
	rec, body := f.do(t, http.MethodPost, "/api/ring?wait=true", `{"chime":{"duration":2}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", body["status"])
	assert.NotNil(t, body["flash"])
	assert.NotNil(t, body["chime"])
	assert.Equal(t, 2*time.Second, f.chimer.reqs[0].Duration)

	rec, body = f.do(t, http.MethodPost, "/api/services/doorbell_ring?wait=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "skipped", body["status"])
	assert.Equal(t, "cooldown", body["skip_reason"])

	rec, body = f.do(t, http.MethodGet, "/api/guard", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["held"])
	assert.Equal(t, float64(4000), body["cooldown_ms"])
	assert.Greater(t, body["remaining_ms"].(float64), float64(0))
	assert.NotEmpty(t, body["last_run"])
}

func TestUnknownAlias(t *testing.T) {
	f := newFixture()
	rec, _ := f.do(t, http.MethodPost, "/api/services/make_coffee", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResolveEndpoint(t *testing.T) {
	f := newFixture()
	f.flasher.set = capability.TargetSet{
		Targets: []capability.Target{
			{Ref: "light.a", Tier: capability.TierColor, Encoding: color.EncodingRGBW},
			{Ref: "switch.b", Tier: capability.TierSwitch},
		},
		Missing: []string{"light.gone"},
	}

	rec, body := f.do(t, http.MethodGet, "/api/resolve?targets=light.a,switch.b,light.gone", "")
	require.Equal(t, http.StatusOK, rec.Code)

	list := body["targets"].([]any)
	require.Len(t, list, 2)
	assert.Equal(t, map[string]any{"id": "light.a", "tier": "color_light", "encoding": "rgbw"}, list[0])
	assert.Equal(t, map[string]any{"id": "switch.b", "tier": "switch"}, list[1])
	assert.Equal(t, []any{"light.gone"}, body["missing"])
	assert.Equal(t, []any{}, body["unsupported"])
}

func TestRunsEndpoint(t *testing.T) {
	f := newFixture()
	rec, body := f.do(t, http.MethodGet, "/api/runs?limit=10000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxRunsLimit, f.runs.limit)
	assert.Len(t, body["runs"], 1)

	rec, _ = f.do(t, http.MethodGet, "/api/runs?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
